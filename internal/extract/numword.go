package extract

import "strings"

// Chinese digit and unit maps, ported from the number-normalization helper
// this system's conversational backend used before distillation: a single
// digit/unit table drives parsing of both cardinal counts ("三百块") and
// the magnitude words that show up inside duration and cost phrases.
var zhDigits = map[rune]int{
	'零': 0, '〇': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

var zhSmallUnits = map[rune]int{
	'十': 10, '百': 100, '千': 1000,
}

var zhLargeUnits = map[rune]int{
	'万': 10000, '萬': 10000, '亿': 100000000,
}

var enOnes = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var enTens = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// parseChineseNumber parses a run of Chinese numeral characters (no mixed
// Arabic digits) into an integer, handling the small-unit/large-unit
// positional grouping (三千二百 -> 3200, 一万两千 -> 12000).
func parseChineseNumber(s string) (int, bool) {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0, false
	}
	total := 0
	section := 0 // accumulates the part below the current large unit
	current := 0 // pending digit awaiting a small unit
	sawAny := false
	for _, r := range runes {
		switch {
		case r == '十' && current == 0:
			// leading 十 means "ten" (十五 = 15) rather than 0*10
			section += 10
			sawAny = true
		case zhDigits[r] != 0 || r == '零' || r == '〇':
			current = zhDigits[r]
			sawAny = true
		case zhSmallUnits[r] != 0:
			if current == 0 {
				current = 1
			}
			section += current * zhSmallUnits[r]
			current = 0
			sawAny = true
		case zhLargeUnits[r] != 0:
			section += current
			total += section * zhLargeUnits[r]
			section = 0
			current = 0
			sawAny = true
		default:
			return 0, false
		}
	}
	total += section + current
	return total, sawAny
}

// parseEnglishNumberWords parses space-joined English number words
// ("three hundred" / "twenty five") into an integer.
func parseEnglishNumberWords(s string) (int, bool) {
	words := strings.Fields(strings.ToLower(s))
	if len(words) == 0 {
		return 0, false
	}
	total := 0
	current := 0
	sawAny := false
	for _, w := range words {
		switch {
		case w == "hundred":
			if current == 0 {
				current = 1
			}
			current *= 100
			sawAny = true
		case enOnes[w] != 0 || w == "zero":
			current += enOnes[w]
			sawAny = true
		case enTens[w] != 0:
			current += enTens[w]
			sawAny = true
		case w == "and":
			// skip filler ("three hundred and five")
		default:
			return 0, false
		}
	}
	total += current
	return total, sawAny
}
