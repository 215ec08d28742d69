package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeEmbeddingServer(t *testing.T, dims []int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]interface{}, len(dims))
		for i, d := range dims {
			data[i] = map[string]interface{}{"index": i, "embedding": make([]float32, d)}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func TestEmbed_DimensionMismatchRejected(t *testing.T) {
	srv := fakeEmbeddingServer(t, []int{768})
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m", EmbeddingDim: 1536})
	_, err := p.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatal("expected a dimension mismatch error")
	}
}

func TestEmbed_MatchingDimensionAccepted(t *testing.T) {
	srv := fakeEmbeddingServer(t, []int{768})
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m", EmbeddingDim: 768})
	vecs, err := p.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 768 {
		t.Errorf("got %d vectors, first len %d", len(vecs), len(vecs[0]))
	}
}

func TestEmbed_DimensionCheckDisabledWhenZero(t *testing.T) {
	srv := fakeEmbeddingServer(t, []int{42})
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m"})
	if _, err := p.Embed(context.Background(), []string{"hello"}); err != nil {
		t.Errorf("unexpected error with EmbeddingDim unset: %v", err)
	}
}
