package retrieve

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"manifold/internal/observability"
	"manifold/internal/oracle"
)

// maxQueryEntities bounds how many canonical tokens query entity
// extraction returns, per §4.4.1 ("1-3 canonical tokens").
const maxQueryEntities = 3

var (
	quotedSpan  = regexp.MustCompile(`"([^"]{1,64})"|“([^”]{1,64})”`)
	hanRun      = regexp.MustCompile(`\p{Han}{2,8}`)
	capitalized = regexp.MustCompile(`\b[A-Z][a-zA-Z]{2,}\b`)
)

var entityStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "why": true, "how": true,
}

// coastalGazetteer backs §4.4.1's semantic expansion. When the query
// mentions "海边/seaside", graphBranch appends a second copy of each
// already-traversed LIVES_IN fact whose target id is in this set. It adds
// no anchors of its own: a query that names no matching entity gets no
// coastal facts.
var coastalGazetteer = map[string]bool{
	"qingdao": true, "dalian": true, "xiamen": true, "sanya": true,
	"miami": true, "barcelona": true, "sydney": true, "santorini": true,
	"青岛": true, "大连": true, "厦门": true, "三亚": true,
}

var seasideTrigger = regexp.MustCompile(`(?i)海边|seaside|coastal|beach`)

// extractQueryEntitiesTool is the bounded oracle fallback schema used when
// the deterministic pass finds nothing to anchor a traversal on.
var extractQueryEntitiesTool = oracle.ToolSchema{
	Name:        "emit_query_entities",
	Description: "Emit up to 3 canonical entity names mentioned in the query.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entities": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	},
}

const queryEntityOracleTimeout = 500 * time.Millisecond

// ExtractQueryEntities implements §4.4.1's deterministic-first, oracle-
// fallback query entity extraction: quoted spans, capitalized English
// tokens, and Chinese 2-8 char runs, stop-words stripped; when that yields
// nothing and a provider is available, one bounded oracle call asks for a
// JSON array of entity names instead.
func ExtractQueryEntities(ctx context.Context, p oracle.Provider, model, query string) []string {
	found := deterministicQueryEntities(query)
	if len(found) > 0 {
		return found
	}
	if p == nil {
		return nil
	}
	return oracleQueryEntities(ctx, p, model, query)
}

func deterministicQueryEntities(query string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" || len(out) >= maxQueryEntities {
			return
		}
		key := strings.ToLower(tok)
		if seen[key] || entityStopwords[key] {
			return
		}
		seen[key] = true
		out = append(out, tok)
	}

	for _, m := range quotedSpan.FindAllStringSubmatch(query, -1) {
		if m[1] != "" {
			add(m[1])
		} else if m[2] != "" {
			add(m[2])
		}
	}
	for _, tok := range capitalized.FindAllString(query, -1) {
		add(tok)
	}
	for _, tok := range hanRun.FindAllString(query, -1) {
		add(tok)
	}
	return out
}

func oracleQueryEntities(ctx context.Context, p oracle.Provider, model, query string) []string {
	log := observability.LoggerWithTrace(ctx)
	cctx, cancel := context.WithTimeout(ctx, queryEntityOracleTimeout)
	defer cancel()

	msgs := []oracle.Message{
		{Role: "system", Content: "Extract up to 3 canonical entity names (people, places, things) mentioned in the user's message. Call emit_query_entities."},
		{Role: "user", Content: query},
	}
	resp, err := p.Chat(cctx, msgs, []oracle.ToolSchema{extractQueryEntitiesTool}, model)
	if err != nil {
		log.Debug().Err(err).Msg("query entity oracle fallback failed")
		return nil
	}
	for _, tc := range resp.ToolCalls {
		if tc.Name != "emit_query_entities" {
			continue
		}
		var payload struct {
			Entities []string `json:"entities"`
		}
		if err := json.Unmarshal(tc.Args, &payload); err != nil {
			continue
		}
		if len(payload.Entities) > maxQueryEntities {
			payload.Entities = payload.Entities[:maxQueryEntities]
		}
		return payload.Entities
	}
	return nil
}

// WantsSemanticExpansion reports whether the query mentions 海边, seaside,
// coastal or beach, which makes graphBranch repeat the coastal LIVES_IN
// facts it already traversed (§4.4.1).
func WantsSemanticExpansion(query string) bool {
	return seasideTrigger.MatchString(query)
}

// IsCoastalCity reports whether name is in the small coastal-city
// gazetteer used by semantic location expansion.
func IsCoastalCity(name string) bool {
	return coastalGazetteer[strings.ToLower(strings.TrimSpace(name))]
}
