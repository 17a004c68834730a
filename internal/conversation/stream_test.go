package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manifold/internal/oracle"
	"manifold/internal/testhelpers"
)

func drainStream(events chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestStreamTurn_EmitsDeltasThenDone(t *testing.T) {
	provider := &testhelpers.FakeProvider{StreamDeltas: []string{"Hi ", "there", "!"}}
	svc := newTestService(t, provider)

	events := make(chan StreamEvent, 16)
	svc.StreamTurn(context.Background(), Request{UserID: "u1", SessionID: "s1", Text: "how are you doing today"}, events)
	got := drainStream(events)

	require.NotEmpty(t, got)
	var textEvents []string
	var sawPending, sawDone bool
	for _, e := range got {
		switch e.Kind {
		case EventText:
			textEvents = append(textEvents, e.Text)
		case EventMemoryPending:
			sawPending = true
		case EventDone:
			sawDone = true
			require.NotNil(t, e.Reply)
			assert.Equal(t, "Hi there!", e.Reply.Text)
		}
	}
	assert.Equal(t, []string{"Hi ", "there", "!"}, textEvents)
	assert.True(t, sawPending)
	assert.True(t, sawDone, "stream must end with a done event")
}

func TestStreamTurn_GreetingShortCircuitSkipsGenerationEvents(t *testing.T) {
	svc := newTestService(t, &testhelpers.FakeProvider{Err: assertErr("stream should not be invoked for a greeting")})
	events := make(chan StreamEvent, 8)
	svc.StreamTurn(context.Background(), Request{UserID: "u1", SessionID: "s1", Text: "hey"}, events)
	got := drainStream(events)

	require.Len(t, got, 2)
	assert.Equal(t, EventText, got[0].Kind)
	assert.Equal(t, EventDone, got[1].Kind)
	assert.Empty(t, got[1].Reply.MemoryID, "greeting short-circuit has no memory to report")
}

func TestStreamTurn_ProviderErrorDegradesToTextEvent(t *testing.T) {
	svc := newTestService(t, &testhelpers.FakeProvider{Err: assertErr("boom")})
	events := make(chan StreamEvent, 8)
	svc.StreamTurn(context.Background(), Request{UserID: "u1", SessionID: "s1", Text: "what's the capital of France"}, events)
	got := drainStream(events)

	var sawDone bool
	for _, e := range got {
		if e.Kind == EventError {
			t.Fatalf("expected graceful degradation, not an error event: %v", e.Err)
		}
		if e.Kind == EventDone {
			sawDone = true
		}
	}
	assert.True(t, sawDone)
}

func TestDeltaCollector_AccumulatesFullText(t *testing.T) {
	events := make(chan StreamEvent, 8)
	c := &deltaCollector{events: events}
	c.OnDelta("a")
	c.OnDelta("b")
	c.OnToolCall(oracle.ToolCall{})
	assert.Equal(t, "ab", c.buf.String())
}
