package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"manifold/internal/config"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// embedText calls the configured embedding endpoint and returns one
// embedding per input string.
func embedText(ctx context.Context, cfg config.EmbeddingConfig, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs")
	}
	reqBody, _ := json.Marshal(embedReq{Model: cfg.Model, Input: inputs})
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	url := cfg.BaseURL + cfg.Path

	attempt := func() ([][]float32, error) {
		req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if cfg.APIHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		} else if cfg.APIHeader != "" {
			req.Header.Set(cfg.APIHeader, cfg.APIKey)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err // network errors are retried
		}
		defer resp.Body.Close()
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read embedding response: %w", err)
		}
		if resp.StatusCode/100 == 5 {
			return nil, fmt.Errorf("embeddings error: %s: %s", resp.Status, string(bodyBytes))
		}
		if resp.StatusCode/100 != 2 {
			return nil, backoff.Permanent(fmt.Errorf("embeddings error: %s: %s", resp.Status, string(bodyBytes)))
		}
		var er embedResp
		if err := json.Unmarshal(bodyBytes, &er); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("parse embedding response: %w", err))
		}
		if len(er.Data) != len(inputs) {
			return nil, backoff.Permanent(fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(inputs)))
		}
		out := make([][]float32, len(er.Data))
		for i := range er.Data {
			out[i] = er.Data[i].Embedding
		}
		return out, nil
	}

	return backoff.Retry(cctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
}

// httpEmbedder is the production Embedder: one HTTP request per chunk
// against a configured embedding server.
type httpEmbedder struct {
	cfg config.EmbeddingConfig
	dim int
}

// NewHTTPEmbedder wires the embedding oracle onto an HTTP endpoint. Requests
// are sent one text at a time (matching the teacher's batch size of 1) to
// avoid batch-inference instability on some self-hosted servers.
func NewHTTPEmbedder(cfg config.EmbeddingConfig, dim int) Embedder {
	return &httpEmbedder{cfg: cfg, dim: dim}
}

func (e *httpEmbedder) Name() string   { return e.cfg.Model }
func (e *httpEmbedder) Dimension() int { return e.dim }

func (e *httpEmbedder) Ping(ctx context.Context) error {
	_, err := embedText(ctx, e.cfg, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}

func (e *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out [][]float32
	for _, t := range texts {
		v, err := embedText(ctx, e.cfg, []string{t})
		if err != nil {
			return out, err
		}
		out = append(out, v...)
	}
	return out, nil
}

// deterministicEmbedder hashes byte 3-grams into a fixed-size vector. Used in
// tests and the zero-dependency fallback so retrieval logic is exercisable
// without a live embedding server.
type deterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint64
}

func NewDeterministicEmbedder(dim int, normalize bool, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, normalize: normalize, seed: seed}
}

func (d *deterministicEmbedder) Name() string   { return "deterministic" }
func (d *deterministicEmbedder) Dimension() int { return d.dim }
func (d *deterministicEmbedder) Ping(context.Context) error { return nil }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		addGram(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(d.seed, b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
