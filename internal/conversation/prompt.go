package conversation

import (
	"fmt"
	"strings"

	"manifold/internal/oracle"
	"manifold/internal/retrieve"
	"manifold/internal/store"
)

// personaHints gives the reply generation oracle a tone directive per
// affinity state (§4.1 step 5: "persona hint by affinity state").
var personaHints = map[string]string{
	"stranger":     "Be polite, helpful, and a little formal. You don't know this person well yet.",
	"acquaintance": "Be friendly and warm, but not overly familiar.",
	"friend":       "Be warm, casual, and personable, like a friend catching up.",
	"close_friend": "Be warm, affectionate, and chatty, like a close friend.",
	"best_friend":  "Be deeply warm, playful, and affectionate, like someone's closest confidant.",
}

// buildPrompt assembles the message list §4.1 step 5 describes: a persona
// hint system message, the last N turns, graph facts, and top-K memories.
func buildPrompt(req Request, recentTurns []store.Turn, retrieval retrieve.Result, facts []store.Fact, affinityState string) []oracle.Message {
	var sys strings.Builder
	sys.WriteString("You are a companion assistant with long-term memory of this user.\n")
	hint, ok := personaHints[affinityState]
	if !ok {
		hint = personaHints["friend"]
	}
	sys.WriteString(hint)
	sys.WriteString("\n")

	if len(retrieval.Candidates) > 0 {
		sys.WriteString("\nRelevant memories:\n")
		for _, c := range retrieval.Candidates {
			fmt.Fprintf(&sys, "- %s\n", c.Memory.Content)
		}
	}
	if len(facts) > 0 {
		sys.WriteString("\nKnown facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&sys, "- %s %s %s\n", f.Entity, f.Relation, f.Target)
		}
	}

	msgs := []oracle.Message{{Role: "system", Content: sys.String()}}
	for i := len(recentTurns) - 1; i >= 0; i-- {
		t := recentTurns[i]
		role := "user"
		if t.Role == store.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, oracle.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, oracle.Message{Role: "user", Content: req.Text})
	return msgs
}
