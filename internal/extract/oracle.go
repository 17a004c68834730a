package extract

import (
	"context"
	"encoding/json"
	"time"

	"manifold/internal/observability"
	"manifold/internal/oracle"
	"manifold/internal/store"
)

// oracleExtractTimeout bounds the oracle extractor call so a slow or
// unreachable backend never blocks a turn past it; a miss here just means
// the IR falls back to whatever the rule extractor produced.
const oracleExtractTimeout = 800 * time.Millisecond

var extractTool = oracle.ToolSchema{
	Name:        "emit_extraction",
	Description: "Emit entities and relations found in the message as structured facts.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{"type": "string"},
						"type": map[string]any{"type": "string"},
					},
					"required": []string{"name", "type"},
				},
			},
			"relations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"source": map[string]any{"type": "string"},
						"target": map[string]any{"type": "string"},
						"type":   map[string]any{"type": "string"},
						"desc":   map[string]any{"type": "string"},
					},
					"required": []string{"source", "target", "type"},
				},
			},
		},
	},
}

type oracleEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type oracleRelation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
	Desc   string `json:"desc"`
}

type oracleExtraction struct {
	Entities  []oracleEntity   `json:"entities"`
	Relations []oracleRelation `json:"relations"`
}

const oracleExtractConfidence = 0.8

// applyOracle asks the configured generation oracle to extract entities and
// relations from text, within a bounded timeout. Any failure (timeout,
// malformed tool call, provider error) degrades to an empty result rather
// than failing the turn — the rule pass already covers the minimum bar.
func applyOracle(ctx context.Context, p oracle.Provider, model, text string) ([]IREntity, []IRRelation) {
	if p == nil {
		return nil, nil
	}
	log := observability.LoggerWithTrace(ctx)

	cctx, cancel := context.WithTimeout(ctx, oracleExtractTimeout)
	defer cancel()

	msgs := []oracle.Message{
		{Role: "system", Content: "Extract entities and relations about the user from the message. Call emit_extraction exactly once."},
		{Role: "user", Content: text},
	}
	reply, err := p.Chat(cctx, msgs, []oracle.ToolSchema{extractTool}, model)
	if err != nil {
		log.Debug().Err(err).Msg("oracle extractor call failed, continuing with rule-only extraction")
		return nil, nil
	}
	var tc *oracle.ToolCall
	for i := range reply.ToolCalls {
		if reply.ToolCalls[i].Name == extractTool.Name {
			tc = &reply.ToolCalls[i]
			break
		}
	}
	if tc == nil {
		return nil, nil
	}
	var parsed oracleExtraction
	if err := json.Unmarshal(tc.Args, &parsed); err != nil {
		log.Debug().Err(err).Msg("oracle extraction payload did not parse")
		return nil, nil
	}
	return convertOracleExtraction(parsed)
}

func convertOracleExtraction(parsed oracleExtraction) ([]IREntity, []IRRelation) {
	var entities []IREntity
	ids := make(map[string]string) // name -> id
	for _, e := range parsed.Entities {
		if e.Name == "" {
			continue
		}
		et := store.EntityType(e.Type)
		if !store.AllowedEntityTypes[et] {
			et = store.EntityOther
		}
		id := string(et) + "_" + slugFragment(e.Name)
		ids[e.Name] = id
		entities = append(entities, IREntity{ID: id, Name: e.Name, Type: et, Confidence: oracleExtractConfidence})
	}

	resolve := func(token string) string {
		if token == "user" || token == "我" {
			return store.UserEntityID
		}
		if id, ok := ids[token]; ok {
			return id
		}
		id := string(store.EntityOther) + "_" + slugFragment(token)
		entities = append(entities, IREntity{ID: id, Name: token, Type: store.EntityOther, Confidence: oracleExtractConfidence})
		ids[token] = id
		return id
	}

	var relations []IRRelation
	for _, r := range parsed.Relations {
		if r.Source == "" || r.Target == "" {
			continue
		}
		rt := store.RelationType(r.Type)
		if !store.AllowedRelationTypes[rt] {
			rt = MapRelationToken(r.Type)
		}
		relations = append(relations, IRRelation{
			SourceID: resolve(r.Source), TargetID: resolve(r.Target),
			Type: rt, Confidence: oracleExtractConfidence, Desc: r.Desc,
		})
	}
	return entities, relations
}
