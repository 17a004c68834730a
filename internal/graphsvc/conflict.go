// Package graphsvc layers conflict detection and a decay-job runner on top
// of the store.Graph adapter: the parts of §4.5 that are policy rather than
// storage mechanics (merge-on-write and effective-weight decay already live
// in internal/store, grounded on postgres_graph.go/memory_graph.go).
package graphsvc

import (
	"regexp"
	"strings"
	"time"

	"manifold/internal/store"
)

// oppositePairs are the polarity indicators checked in both directions:
// (a in content1, b in content2) or (b in content1, a in content2).
var oppositePairs = [][2]string{
	{"喜欢", "讨厌"}, {"喜欢", "不喜欢"}, {"爱", "恨"},
	{"想要", "不想要"}, {"需要", "不需要"}, {"是", "不是"}, {"有", "没有"},
	{"like", "dislike"}, {"like", "hate"}, {"love", "hate"},
	{"want", "don't want"}, {"want", "do not want"},
	{"have", "don't have"}, {"have", "do not have"},
}

var topicTrigger = regexp.MustCompile(`(喜欢|不喜欢|讨厌|爱|恨|想要|不想要|需要|不需要|来自|住在|生活在|工作在|工作于|在)\s*([^\n，。！？!?;；,]{1,24})`)
var hanRun = regexp.MustCompile(`[\p{Han}]{2,8}`)
var enToken = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_\-]{2,24}`)

var zhStopwords = map[string]bool{
	"这个": true, "那个": true, "这些": true, "那些": true, "真的": true, "其实": true,
	"感觉": true, "可能": true, "应该": true, "今天": true, "昨天": true, "明天": true,
	"最近": true, "一直": true, "有点": true, "非常": true, "特别": true, "因为": true,
	"所以": true, "但是": true, "而且": true, "并且": true, "同时": true, "如果": true,
	"的话": true, "我们": true, "你们": true, "他们": true, "她们": true, "它们": true,
	"自己": true, "以及": true, "我": true, "你": true, "他": true, "她": true,
	"它": true, "人": true, "东西": true,
}

// Conflict is a detected opposite-polarity, same-topic pair of memories,
// ready for a resolution decision.
type Conflict struct {
	OldMemory     store.Memory
	NewMemory     store.Memory
	OppositePair  [2]string
	CommonTopics  []string
	Confidence    float64
	TimeDiffDays  float64
}

// Detect checks two same-user memories for conflict per §4.5.4: an
// opposite-pair indicator present across both contents, plus a non-empty
// topic intersection. Returns ok=false when no conflict is found.
func Detect(m1, m2 store.Memory) (Conflict, bool) {
	c1 := strings.ToLower(m1.Content)
	c2 := strings.ToLower(m2.Content)

	var pair [2]string
	found := false
	for _, p := range oppositePairs {
		if (strings.Contains(c1, p[0]) && strings.Contains(c2, p[1])) ||
			(strings.Contains(c1, p[1]) && strings.Contains(c2, p[0])) {
			pair = p
			found = true
			break
		}
	}
	if !found {
		return Conflict{}, false
	}

	topics1 := extractTopics(c1)
	topics2 := extractTopics(c2)
	common := intersect(topics1, topics2)
	if len(common) == 0 {
		return Conflict{}, false
	}

	older, newer := m1, m2
	if m1.CreatedAt.After(m2.CreatedAt) {
		older, newer = m2, m1
	}
	diffDays := newer.CreatedAt.Sub(older.CreatedAt).Hours() / 24
	if diffDays < 0 {
		diffDays = 0
	}

	overlap := float64(len(common)) / float64(maxInt(len(topics1), len(topics2), 1))
	confidence := clamp(0.75+overlap*0.25, 0, 1)

	return Conflict{
		OldMemory:    older,
		NewMemory:    newer,
		OppositePair: pair,
		CommonTopics: common,
		Confidence:   confidence,
		TimeDiffDays: diffDays,
	}, true
}

// extractTopics pulls candidate topic tokens from text: trigger-word
// objects, bare Han runs, and English 3+ char tokens, minus stopwords.
func extractTopics(text string) map[string]bool {
	topics := map[string]bool{}
	for _, m := range topicTrigger.FindAllStringSubmatch(text, -1) {
		obj := strings.TrimSpace(m[2])
		obj = strings.Map(func(r rune) rune {
			switch r {
			case ' ', '"', '\'', '“', '”', '‘', '’':
				return -1
			}
			return r
		}, obj)
		if obj != "" && !zhStopwords[obj] && len([]rune(obj)) <= 24 {
			topics[obj] = true
		}
	}
	for _, t := range hanRun.FindAllString(text, -1) {
		if !zhStopwords[t] {
			topics[t] = true
		}
	}
	for _, t := range enToken.FindAllString(text, -1) {
		tl := strings.ToLower(t)
		if tl != "like" && tl != "dislike" {
			topics[tl] = true
		}
	}
	return topics
}

func intersect(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if b[k] {
			out = append(out, k)
		}
	}
	return out
}

func maxInt(a, b, c int) int {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Evidence renders a short operator-facing justification for a
// ConflictRecord: the opposite-pair words and the overlapping topics that
// triggered detection, per original_source's evidence_reasoner.py intent
// (carried here only as diagnostic text, not a new external API).
func (c Conflict) Evidence() string {
	return "opposite pair (" + c.OppositePair[0] + "/" + c.OppositePair[1] +
		") over topics: " + strings.Join(c.CommonTopics, ", ")
}

// Resolution is the outcome of applying §4.5.4's two resolution policies.
type Resolution int

const (
	// ResolveSupersede marks OldMemory deprecated and keeps NewMemory,
	// chosen when the two memories are at least a day apart.
	ResolveSupersede Resolution = iota
	// ResolveClarify asks the user rather than silently picking a side,
	// chosen when the memories are too close in time to trust recency.
	ResolveClarify
)

const supersedeThresholdDays = 1.0

// Resolve applies the time-supersede-or-clarify policy from §4.5.4.
func (c Conflict) Resolve() Resolution {
	if c.TimeDiffDays >= supersedeThresholdDays {
		return ResolveSupersede
	}
	return ResolveClarify
}

// Record builds the ConflictRecord for persistence, leaving Resolution
// unresolved if the caller chooses to clarify rather than supersede; the
// caller stamps DetectedAt, ID, and (if superseding) DeprecatingMemID.
func (c Conflict) Record(userID string, now time.Time) store.ConflictRecord {
	topic := ""
	if len(c.CommonTopics) > 0 {
		topic = c.CommonTopics[0]
	}
	rec := store.ConflictRecord{
		UserID:      userID,
		MemoryOldID: c.OldMemory.ID,
		MemoryNewID: c.NewMemory.ID,
		Topic:       topic,
		Evidence:    c.Evidence(),
		DetectedAt:  now,
		Resolution:  store.ConflictUnresolved,
	}
	if c.Resolve() == ResolveSupersede {
		rec.Resolution = store.ConflictSupersededByNewer
		rec.DeprecatingMemID = c.NewMemory.ID
	}
	return rec
}
