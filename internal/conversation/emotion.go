package conversation

import (
	"regexp"
	"strings"
)

// EmotionTag is the cheap per-turn signal §4.1 step 2 feeds into affinity
// and tone selection: a valence in [-1, 1] and a primary label from a
// small fixed set.
type EmotionTag struct {
	Valence float64
	Label   string // "positive" | "negative" | "neutral"
}

var (
	positiveWords = []string{
		"love", "great", "happy", "glad", "awesome", "thanks", "thank you",
		"excited", "wonderful", "nice", "good", "appreciate",
		"喜欢", "高兴", "开心", "谢谢", "太好了", "感谢",
	}
	negativeWords = []string{
		"hate", "sad", "angry", "annoyed", "terrible", "awful", "upset",
		"frustrated", "worried", "bad", "worst", "disappointed",
		"讨厌", "难过", "生气", "烦", "糟糕", "失望",
	}
)

// TagEmotion classifies text by keyword heuristics, matching the cheap
// "no model call" bar §4.1 sets for this step.
func TagEmotion(text string) EmotionTag {
	lower := strings.ToLower(text)
	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		v := float64(pos) / float64(pos+neg+1)
		return EmotionTag{Valence: clampValence(v), Label: "positive"}
	case neg > pos:
		v := -float64(neg) / float64(pos+neg+1)
		return EmotionTag{Valence: clampValence(v), Label: "negative"}
	default:
		return EmotionTag{Valence: 0, Label: "neutral"}
	}
}

func clampValence(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// messageClass is the closed set of short-circuit categories §4.1 step 3
// checks before ever calling O.generate.
type messageClass string

const (
	classGreeting messageClass = "greeting"
	classAck      messageClass = "ack"
	classFarewell messageClass = "farewell"
)

const greetingCacheMaxLen = 20

var (
	greetingRe = regexp.MustCompile(`(?i)^(hi|hello|hey|yo|good morning|good evening|你好|嗨|早上好|晚上好)[!.,]?$`)
	ackRe      = regexp.MustCompile(`(?i)^(ok|okay|thanks|thank you|got it|sure|cool|好的|谢谢|嗯|收到)([!.,]?\s*(ok|okay|thanks|thank you|got it|sure|cool|好的|谢谢|嗯|收到))*[!.,]?$`)
	farewellRe = regexp.MustCompile(`(?i)^(bye|goodbye|see you|later|再见|拜拜|回聊)[!.,]?$`)
)

// classifyShortCircuit reports whether text matches one of the closed
// greeting/ack/farewell classes, bounded to short inputs per §4.1 step 3.
func classifyShortCircuit(text string) (messageClass, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 || len(trimmed) > greetingCacheMaxLen {
		return "", false
	}
	switch {
	case greetingRe.MatchString(trimmed):
		return classGreeting, true
	case ackRe.MatchString(trimmed):
		return classAck, true
	case farewellRe.MatchString(trimmed):
		return classFarewell, true
	default:
		return "", false
	}
}

// greetingTemplates holds the closed template set keyed by (message_class,
// affinity_state), looked up in O(1) with no O.generate call.
var greetingTemplates = map[messageClass]map[string]string{
	classGreeting: {
		"stranger": "Hello! How can I help you today?",
		"acquaintance": "Hey again, good to hear from you.",
		"friend": "Hi there! Good to see you.",
		"close_friend": "Hey you! How's it going?",
		"best_friend": "Heeey! I was just thinking about you.",
	},
	classAck: {
		"stranger": "Got it.",
		"acquaintance": "Sounds good.",
		"friend": "Sounds good!",
		"close_friend": "You got it.",
		"best_friend": "Always got your back.",
	},
	classFarewell: {
		"stranger": "Goodbye.",
		"acquaintance": "Take care!",
		"friend": "See you soon!",
		"close_friend": "Bye for now, talk soon!",
		"best_friend": "Miss you already, bye!",
	},
}

func templateFor(class messageClass, affinityState string) (string, bool) {
	byState, ok := greetingTemplates[class]
	if !ok {
		return "", false
	}
	t, ok := byState[affinityState]
	return t, ok
}
