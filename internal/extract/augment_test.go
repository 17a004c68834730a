package extract

import (
	"testing"

	"manifold/internal/store"
)

func TestAugmentStructuredFacts_ISODate(t *testing.T) {
	entities, relations := augmentStructuredFacts("We met on 2024-03-15 for coffee.")
	if len(entities) != 1 || entities[0].Type != store.EntityTimeExpr {
		t.Fatalf("expected one TimeExpression entity, got %+v", entities)
	}
	if len(relations) != 1 || relations[0].Type != store.RelHappenedAt {
		t.Fatalf("expected one HAPPENED_AT relation, got %+v", relations)
	}
}

func TestAugmentStructuredFacts_DateRangeSuppressesBareDates(t *testing.T) {
	entities, relations := augmentStructuredFacts("I traveled from 2024-01-01 to 2024-01-10.")
	var ranges, bare int
	for _, r := range relations {
		switch r.Type {
		case store.RelHappenedBetween:
			ranges++
		case store.RelHappenedAt:
			bare++
		}
	}
	if ranges != 1 || bare != 0 {
		t.Fatalf("expected 1 range relation and 0 bare date relations, got ranges=%d bare=%d", ranges, bare)
	}
	_ = entities
}

func TestAugmentStructuredFacts_DurationEnglish(t *testing.T) {
	_, relations := augmentStructuredFacts("The meeting lasted 2 hours.")
	found := false
	for _, r := range relations {
		if r.Type == store.RelLasted {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a LASTED relation, got %+v", relations)
	}
}

func TestAugmentStructuredFacts_DurationChinese(t *testing.T) {
	entities, relations := augmentStructuredFacts("会议持续了三个小时")
	var found bool
	for i, r := range relations {
		if r.Type == store.RelLasted {
			found = true
			seconds, _ := entities[i].Attributes["seconds"].(int)
			if seconds != 3*3600 {
				t.Fatalf("expected 3 hours in seconds (10800), got %d", seconds)
			}
		}
	}
	if !found {
		t.Fatalf("expected a LASTED relation, got %+v", relations)
	}
}

func TestAugmentStructuredFacts_CostChinese(t *testing.T) {
	_, relations := augmentStructuredFacts("这顿饭花了三百块")
	found := false
	for _, r := range relations {
		if r.Type == store.RelCost {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a COST relation, got %+v", relations)
	}
}

func TestParseChineseNumber(t *testing.T) {
	cases := map[string]int{
		"三":     3,
		"十五":    15,
		"三十":    30,
		"三百二十":  320,
		"一千二百":  1200,
		"一万两千":  12000,
	}
	for input, want := range cases {
		got, ok := parseChineseNumber(input)
		if !ok {
			t.Fatalf("parseChineseNumber(%q): expected ok", input)
		}
		if got != want {
			t.Fatalf("parseChineseNumber(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestParseEnglishNumberWords(t *testing.T) {
	got, ok := parseEnglishNumberWords("three hundred and five")
	if !ok || got != 305 {
		t.Fatalf("expected 305, got %d ok=%v", got, ok)
	}
}
