package match

import (
	"context"
	"encoding/json"
	"testing"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/llm"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return [][]float32{f.vec}, nil
}

type fakeJudge struct {
	content string
}

func (f *fakeJudge) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: f.content}, nil
}

func (f *fakeJudge) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

type fakeIndex struct {
	candidates []core.MatchCandidate
	err        error
}

func (f *fakeIndex) KNNProducts(ctx context.Context, vec []float32, k int) ([]core.MatchCandidate, error) {
	return f.candidates, f.err
}

func TestMatch_NoCandidatesRoutesToReject(t *testing.T) {
	m := New(&fakeEmbedder{vec: []float32{0.1, 0.2}}, &fakeJudge{}, "judge-model", &fakeIndex{}, Config{})

	out, err := m.Match(context.Background(), "Widget", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Route != RouteReject {
		t.Errorf("got route %q, want %q", out.Route, RouteReject)
	}
}

func TestMatch_LowConfidenceVerdictRoutesToReject(t *testing.T) {
	verdicts := []map[string]interface{}{{"product_id": 42, "confidence": 0.3, "reasoning": "weak match"}}
	body, _ := json.Marshal(verdicts)

	idx := &fakeIndex{candidates: []core.MatchCandidate{{ProductID: 42, Score: 0.5}}}
	m := New(&fakeEmbedder{vec: []float32{0.1}}, &fakeJudge{content: string(body)}, "judge-model", idx, Config{})

	out, err := m.Match(context.Background(), "Widget", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Route != RouteReject {
		t.Errorf("got route %q, want %q", out.Route, RouteReject)
	}
}

func TestMatch_HighConfidenceVerdictRoutesToAutoLink(t *testing.T) {
	verdicts := []map[string]interface{}{{"product_id": 42, "confidence": 0.95, "reasoning": "strong match"}}
	body, _ := json.Marshal(verdicts)

	idx := &fakeIndex{candidates: []core.MatchCandidate{{ProductID: 42, Score: 0.9}}}
	m := New(&fakeEmbedder{vec: []float32{0.1}}, &fakeJudge{content: string(body)}, "judge-model", idx, Config{})

	out, err := m.Match(context.Background(), "Widget", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Route != RouteAutoLink {
		t.Errorf("got route %q, want %q", out.Route, RouteAutoLink)
	}
	if out.ProductID != 42 {
		t.Errorf("got product id %d, want 42", out.ProductID)
	}
}

func TestMatch_MidConfidenceVerdictRoutesToReview(t *testing.T) {
	verdicts := []map[string]interface{}{{"product_id": 7, "confidence": 0.8, "reasoning": "plausible match"}}
	body, _ := json.Marshal(verdicts)

	idx := &fakeIndex{candidates: []core.MatchCandidate{{ProductID: 7, Score: 0.8}}}
	m := New(&fakeEmbedder{vec: []float32{0.1}}, &fakeJudge{content: string(body)}, "judge-model", idx, Config{})

	out, err := m.Match(context.Background(), "Widget", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Route != RouteReview {
		t.Errorf("got route %q, want %q", out.Route, RouteReview)
	}
}

func TestMatch_EmbeddingFailureWrapsKind(t *testing.T) {
	m := New(&fakeEmbedder{err: context.DeadlineExceeded}, &fakeJudge{}, "judge-model", &fakeIndex{}, Config{EmbedMaxRetries: 0})

	_, err := m.Match(context.Background(), "Widget", "", "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if core.Kind(err) != core.KindEmbeddingFailed {
		t.Errorf("got kind %q, want %q", core.Kind(err), core.KindEmbeddingFailed)
	}
}
