package extract

import "testing"

func TestIsQuestion(t *testing.T) {
	cases := map[string]bool{
		"Where do you live?":        true,
		"What's your favorite food": true,
		"I live in Austin.":         false,
		"我住在北京":                    false,
		"你喜欢什么运动吗":                 true,
		"今天天气怎么样":                  true,
		"I had a great day today":   false,
	}
	for input, want := range cases {
		if got := IsQuestion(input); got != want {
			t.Errorf("IsQuestion(%q) = %v, want %v", input, got, want)
		}
	}
}
