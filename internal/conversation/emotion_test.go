package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagEmotion_Positive(t *testing.T) {
	tag := TagEmotion("thanks so much, I'm so happy and glad!")
	assert.Equal(t, "positive", tag.Label)
	assert.Greater(t, tag.Valence, 0.0)
}

func TestTagEmotion_Negative(t *testing.T) {
	tag := TagEmotion("I'm so upset and angry, this is terrible")
	assert.Equal(t, "negative", tag.Label)
	assert.Less(t, tag.Valence, 0.0)
}

func TestTagEmotion_Neutral(t *testing.T) {
	tag := TagEmotion("the train leaves at noon")
	assert.Equal(t, "neutral", tag.Label)
	assert.Equal(t, 0.0, tag.Valence)
}

func TestClassifyShortCircuit_Greeting(t *testing.T) {
	class, ok := classifyShortCircuit("hello!")
	assert.True(t, ok)
	assert.Equal(t, classGreeting, class)
}

func TestClassifyShortCircuit_Ack(t *testing.T) {
	class, ok := classifyShortCircuit("ok thanks")
	assert.True(t, ok)
	assert.Equal(t, classAck, class)
}

func TestClassifyShortCircuit_Farewell(t *testing.T) {
	class, ok := classifyShortCircuit("bye")
	assert.True(t, ok)
	assert.Equal(t, classFarewell, class)
}

func TestClassifyShortCircuit_TooLong(t *testing.T) {
	_, ok := classifyShortCircuit("hello, I wanted to tell you about my day and ask a question")
	assert.False(t, ok)
}

func TestClassifyShortCircuit_NoMatch(t *testing.T) {
	_, ok := classifyShortCircuit("what time is it")
	assert.False(t, ok)
}

func TestTemplateFor_AllStatesCovered(t *testing.T) {
	for _, class := range []messageClass{classGreeting, classAck, classFarewell} {
		for _, state := range []string{"stranger", "acquaintance", "friend", "close_friend", "best_friend"} {
			tmpl, ok := templateFor(class, state)
			assert.True(t, ok, "missing template for %s/%s", class, state)
			assert.NotEmpty(t, tmpl)
		}
	}
}

func TestTemplateFor_UnknownState(t *testing.T) {
	_, ok := templateFor(classGreeting, "nonexistent")
	assert.False(t, ok)
}
