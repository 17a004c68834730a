package extract

import (
	"fmt"
	"regexp"
	"strings"

	"manifold/internal/store"
)

const ruleConfidence = 0.55

// wordSpan matches up to four words (letters, digits, apostrophes,
// hyphens), non-greedily, stopping at a clause boundary (a conjunction or
// sentence punctuation) instead of swallowing the rest of the sentence.
const wordSpan = `([A-Za-z0-9'\-]+(?:\s[A-Za-z0-9'\-]+){0,3}?)(?:\s+(?:and|but|because|so)\b|[.,;!?]|\s*$)`

var (
	// English patterns. Captured groups feed directly into entity names.
	enLikes    = regexp.MustCompile(`(?i)\bI\s+(?:really\s+)?(?:love|like|enjoy)\s+` + wordSpan)
	enDislikes = regexp.MustCompile(`(?i)\bI\s+(?:really\s+)?(?:hate|dislike|don't like|do not like|can't stand)\s+` + wordSpan)
	enLivesIn  = regexp.MustCompile(`(?i)\bI\s+live\s+in\s+` + wordSpan)
	enFrom     = regexp.MustCompile(`(?i)\bI(?:'m| am)\s+from\s+` + wordSpan)
	enParentOf = regexp.MustCompile(`(?i)\bmy\s+(son|daughter|child)(?:,?\s+is\s+named|\s+named|,?\s+called)?\s+([A-Z][a-zA-Z\-]{1,30})`)
	enSVO      = regexp.MustCompile(`(?i)\bI\s+(went to|visited|ran|painted|met|saw)\s+` + wordSpan)

	// Chinese patterns, kept separate since there is no whitespace tokenization.
	zhLikes    = regexp.MustCompile(`我(?:很|非常)?喜欢([\p{Han}a-zA-Z0-9]{1,20})`)
	zhDislikes = regexp.MustCompile(`我(?:很|非常)?(?:不喜欢|讨厌)([\p{Han}a-zA-Z0-9]{1,20})`)
	zhLivesIn  = regexp.MustCompile(`我住在([\p{Han}a-zA-Z0-9]{1,20})`)
	zhFrom     = regexp.MustCompile(`我来自([\p{Han}a-zA-Z0-9]{1,20})`)
	zhParentOf = regexp.MustCompile(`我(?:的)?(儿子|女儿)(?:叫|名叫)?([\p{Han}]{1,10})`)

	trimPunct = regexp.MustCompile(`[.,!?。，！？\s]+$`)
)

func cleanSpan(s string) string {
	s = strings.TrimSpace(s)
	s = trimPunct.ReplaceAllString(s, "")
	return s
}

func slugFragment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prevUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r > 127: // keep non-ASCII (CJK) runes as-is, they slug fine
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// applyRules runs the deterministic locale-aware pattern set over text and
// returns candidate entities/relations anchored on the user entity, each at
// ruleConfidence. This is the first of the two extraction passes described
// in the extraction algorithm; results are merged with the oracle pass
// afterward.
func applyRules(text string) ([]IREntity, []IRRelation) {
	var entities []IREntity
	var relations []IRRelation

	addPreference := func(span string, relType store.RelationType) {
		span = cleanSpan(span)
		if span == "" {
			return
		}
		id := "preference_" + slugFragment(span)
		entities = append(entities, IREntity{ID: id, Name: span, Type: store.EntityPreference, Confidence: ruleConfidence})
		relations = append(relations, IRRelation{SourceID: store.UserEntityID, TargetID: id, Type: relType, Confidence: ruleConfidence})
	}
	addLocation := func(span string, relType store.RelationType) {
		span = cleanSpan(span)
		if span == "" {
			return
		}
		id := "location_" + slugFragment(span)
		entities = append(entities, IREntity{ID: id, Name: span, Type: store.EntityLocation, Confidence: ruleConfidence})
		relations = append(relations, IRRelation{SourceID: store.UserEntityID, TargetID: id, Type: relType, Confidence: ruleConfidence})
	}

	for _, m := range enLikes.FindAllStringSubmatch(text, -1) {
		addPreference(m[1], store.RelLikes)
	}
	for _, m := range zhLikes.FindAllStringSubmatch(text, -1) {
		addPreference(m[1], store.RelLikes)
	}
	for _, m := range enDislikes.FindAllStringSubmatch(text, -1) {
		addPreference(m[1], store.RelDislikes)
	}
	for _, m := range zhDislikes.FindAllStringSubmatch(text, -1) {
		addPreference(m[1], store.RelDislikes)
	}
	for _, m := range enLivesIn.FindAllStringSubmatch(text, -1) {
		addLocation(m[1], store.RelLivesIn)
	}
	for _, m := range zhLivesIn.FindAllStringSubmatch(text, -1) {
		addLocation(m[1], store.RelLivesIn)
	}
	for _, m := range enFrom.FindAllStringSubmatch(text, -1) {
		addLocation(m[1], store.RelFrom)
	}
	for _, m := range zhFrom.FindAllStringSubmatch(text, -1) {
		addLocation(m[1], store.RelFrom)
	}
	for _, m := range enParentOf.FindAllStringSubmatch(text, -1) {
		name := cleanSpan(m[2])
		if name == "" {
			continue
		}
		id := "person_" + slugFragment(name)
		entities = append(entities, IREntity{ID: id, Name: name, Type: store.EntityPerson, Confidence: ruleConfidence,
			Attributes: map[string]any{"role": strings.ToLower(m[1])}})
		relations = append(relations, IRRelation{SourceID: store.UserEntityID, TargetID: id, Type: store.RelParentOf, Confidence: ruleConfidence})
	}
	for _, m := range zhParentOf.FindAllStringSubmatch(text, -1) {
		name := cleanSpan(m[2])
		if name == "" {
			continue
		}
		id := "person_" + slugFragment(name)
		entities = append(entities, IREntity{ID: id, Name: name, Type: store.EntityPerson, Confidence: ruleConfidence,
			Attributes: map[string]any{"role": m[1]}})
		relations = append(relations, IRRelation{SourceID: store.UserEntityID, TargetID: id, Type: store.RelParentOf, Confidence: ruleConfidence})
	}
	for _, m := range enSVO.FindAllStringSubmatch(text, -1) {
		verb := strings.ToLower(m[1])
		obj := cleanSpan(m[2])
		if obj == "" {
			continue
		}
		id := "event_" + slugFragment(verb) + "_" + slugFragment(obj)
		entities = append(entities, IREntity{ID: id, Name: fmt.Sprintf("%s %s", verb, obj), Type: store.EntityEvent, Confidence: ruleConfidence})
		relations = append(relations, IRRelation{SourceID: store.UserEntityID, TargetID: id, Type: store.RelRelatedTo,
			Confidence: ruleConfidence, Desc: verb})
	}

	return entities, relations
}
