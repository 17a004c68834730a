package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"manifold/internal/oracle"
)

// FakeProvider is a simple generation oracle for tests. It can be
// configured with a fixed response or a streaming sequence.
type FakeProvider struct {
	Resp oracle.Message
	Err  error

	// For streaming tests
	StreamDeltas []string
}

func (f *FakeProvider) Chat(ctx context.Context, msgs []oracle.Message, tools []oracle.ToolSchema, model string) (oracle.Message, error) {
	if f.Err != nil {
		return oracle.Message{}, f.Err
	}
	return f.Resp, nil
}

func (f *FakeProvider) ChatStream(ctx context.Context, msgs []oracle.Message, tools []oracle.ToolSchema, model string, h oracle.StreamHandler) error {
	if f.Err != nil {
		return f.Err
	}
	for _, d := range f.StreamDeltas {
		h.OnDelta(d)
	}
	return nil
}

// NewTestServer returns an httptest.Server for the given handler func.
func NewTestServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}

// WaitGroupDoneOnce returns a function that will call wg.Done() only once; useful for
// tests that need to ensure a WaitGroup is decremented a single time from multiple places.
func WaitGroupDoneOnce(wg *sync.WaitGroup) func() {
	once := sync.Once{}
	return func() { once.Do(wg.Done) }
}
