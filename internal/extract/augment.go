package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"manifold/internal/store"
)

var (
	isoDate    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	isoDateRange = regexp.MustCompile(`(?i)\bfrom\s+(\d{4}-\d{2}-\d{2})\s+to\s+(\d{4}-\d{2}-\d{2})\b`)
	zhDateRange  = regexp.MustCompile(`从(\d{4}-\d{2}-\d{2})到(\d{4}-\d{2}-\d{2})`)

	// Duration: "<number> hours|minutes|days|weeks" / "<中文数字>个?小时|分钟|天|周"
	enDuration = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(seconds?|minutes?|hours?|days?|weeks?)\b`)
	zhDuration = regexp.MustCompile(`([〇零一二两三四五六七八九十百千万]+|\d+(?:\.\d+)?)\s*个?(秒|分钟|小时|天|周|星期)`)

	// Cost: "$50", "50 dollars", "50元", "50块", "CNY 50"
	enCost = regexp.MustCompile(`(?i)\$\s?(\d+(?:\.\d+)?)|(\d+(?:\.\d+)?)\s*(dollars?|usd|cny|yuan|rmb)`)
	zhCost = regexp.MustCompile(`([〇零一二两三四五六七八九十百千万]+|\d+(?:\.\d+)?)\s*(元|块|人民币)`)

	// Distance/percentage/temperature quantities.
	enDistance = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(km|kilometers?|公里|千米)`)
	enPercent  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	enTemp     = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*°?\s*(c|celsius|摄氏度)`)
)

const unitSecond = 1
const unitMinute = 60
const unitHour = 3600
const unitDay = 24 * unitHour
const unitWeek = 7 * unitDay

func durationUnitSeconds(unit string) int {
	switch strings.ToLower(unit) {
	case "second", "seconds", "秒":
		return unitSecond
	case "minute", "minutes", "分钟":
		return unitMinute
	case "hour", "hours", "小时":
		return unitHour
	case "day", "days", "天":
		return unitDay
	case "week", "weeks", "周", "星期":
		return unitWeek
	default:
		return 0
	}
}

func numericValue(s string) (float64, bool) {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, true
	}
	if n, ok := parseChineseNumber(s); ok {
		return float64(n), true
	}
	return 0, false
}

// augmentStructuredFacts applies regex-based temporal and quantity
// extraction over text, producing TimeExpression/TimeRange/Duration/
// Quantity entities and their associated relations anchored on the user
// entity. This is the structured-fact augmentation step: it runs after
// the rule and oracle passes are merged and adds facts neither pass
// reliably produces (exact dates, durations in seconds, costs in a
// canonical currency).
func augmentStructuredFacts(text string) ([]IREntity, []IRRelation) {
	var entities []IREntity
	var relations []IRRelation

	addTimeExpr := func(iso string) {
		id := "time_" + slugFragment(iso)
		entities = append(entities, IREntity{ID: id, Name: iso, Type: store.EntityTimeExpr, Confidence: 0.9,
			Attributes: map[string]any{"iso8601": iso}})
		relations = append(relations, IRRelation{SourceID: store.UserEntityID, TargetID: id, Type: store.RelHappenedAt, Confidence: 0.9})
	}
	addTimeRange := func(start, end string) {
		id := "timerange_" + slugFragment(start) + "_" + slugFragment(end)
		entities = append(entities, IREntity{ID: id, Name: fmt.Sprintf("%s to %s", start, end), Type: store.EntityTimeExpr,
			Confidence: 0.9, Attributes: map[string]any{"start": start, "end": end}})
		relations = append(relations, IRRelation{SourceID: store.UserEntityID, TargetID: id, Type: store.RelHappenedBetween, Confidence: 0.9})
	}
	addDuration := func(raw string, seconds int) {
		id := fmt.Sprintf("duration_%d", seconds)
		entities = append(entities, IREntity{ID: id, Name: raw, Type: store.EntityDuration, Confidence: 0.85,
			Attributes: map[string]any{"seconds": seconds}})
		relations = append(relations, IRRelation{SourceID: store.UserEntityID, TargetID: id, Type: store.RelLasted, Confidence: 0.85})
	}
	addQuantity := func(raw string, value float64, unit string, relType store.RelationType) {
		id := fmt.Sprintf("quantity_%s_%s", slugFragment(fmt.Sprintf("%v", value)), slugFragment(unit))
		entities = append(entities, IREntity{ID: id, Name: raw, Type: store.EntityQuantity, Confidence: 0.85,
			Attributes: map[string]any{"value": value, "unit": unit}})
		relations = append(relations, IRRelation{SourceID: store.UserEntityID, TargetID: id, Type: relType, Confidence: 0.85})
	}

	rangeMatched := make(map[string]bool)
	for _, m := range isoDateRange.FindAllStringSubmatch(text, -1) {
		addTimeRange(m[1], m[2])
		rangeMatched[m[1]] = true
		rangeMatched[m[2]] = true
	}
	for _, m := range zhDateRange.FindAllStringSubmatch(text, -1) {
		addTimeRange(m[1], m[2])
		rangeMatched[m[1]] = true
		rangeMatched[m[2]] = true
	}
	for _, m := range isoDate.FindAllString(text, -1) {
		if !rangeMatched[m] {
			addTimeExpr(m)
		}
	}

	for _, m := range enDuration.FindAllStringSubmatch(text, -1) {
		n, ok := numericValue(m[1])
		unit := durationUnitSeconds(m[2])
		if ok && unit > 0 {
			addDuration(strings.TrimSpace(m[0]), int(n*float64(unit)))
		}
	}
	for _, m := range zhDuration.FindAllStringSubmatch(text, -1) {
		n, ok := numericValue(m[1])
		unit := durationUnitSeconds(m[2])
		if ok && unit > 0 {
			addDuration(strings.TrimSpace(m[0]), int(n*float64(unit)))
		}
	}

	for _, m := range enCost.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimSpace(m[0])
		var valStr string
		if m[1] != "" {
			valStr = m[1]
		} else {
			valStr = m[2]
		}
		if n, ok := numericValue(valStr); ok {
			addQuantity(raw, n, "CNY", store.RelCost)
		}
	}
	for _, m := range zhCost.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimSpace(m[0])
		if n, ok := numericValue(m[1]); ok {
			addQuantity(raw, n, "CNY", store.RelCost)
		}
	}
	for _, m := range enDistance.FindAllStringSubmatch(text, -1) {
		if n, ok := numericValue(m[1]); ok {
			addQuantity(strings.TrimSpace(m[0]), n, "km", store.RelRelatedTo)
		}
	}
	for _, m := range enPercent.FindAllStringSubmatch(text, -1) {
		if n, ok := numericValue(m[1]); ok {
			addQuantity(strings.TrimSpace(m[0]), n, "%", store.RelRelatedTo)
		}
	}
	for _, m := range enTemp.FindAllStringSubmatch(text, -1) {
		if n, ok := numericValue(m[1]); ok {
			addQuantity(strings.TrimSpace(m[0]), n, "°C", store.RelRelatedTo)
		}
	}

	return entities, relations
}
