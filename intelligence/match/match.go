// Package match implements the optional Matcher stage: it embeds a
// supplier item, runs KNN against the canonical-product vector index,
// asks the LLM to adjudicate the candidates, and routes the result to
// auto-link, human review, or rejection (spec §4.10).
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/llm"
)

// Index is the vector-search side of the Matcher, backed by *store.Store.
type Index interface {
	KNNProducts(ctx context.Context, vec []float32, k int) ([]core.MatchCandidate, error)
}

// Config controls routing thresholds and retry behavior (spec §6.4, §4.10).
type Config struct {
	TopK             int
	AutoThreshold    float64
	ReviewThreshold  float64
	EmbedMaxRetries  int
	EmbedBackoffBase time.Duration
}

// Matcher ties an embedding provider, a vector index, and an adjudicating
// chat provider together.
type Matcher struct {
	embedder llm.Provider
	judge    llm.Provider
	judgeModel string
	index    Index
	cfg      Config
}

func New(embedder, judge llm.Provider, judgeModel string, index Index, cfg Config) *Matcher {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.AutoThreshold <= 0 {
		cfg.AutoThreshold = 0.90
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = 0.70
	}
	if cfg.EmbedMaxRetries <= 0 {
		cfg.EmbedMaxRetries = 3
	}
	if cfg.EmbedBackoffBase <= 0 {
		cfg.EmbedBackoffBase = 500 * time.Millisecond
	}
	return &Matcher{embedder: embedder, judge: judge, judgeModel: judgeModel, index: index, cfg: cfg}
}

// Route is the routing outcome for one supplier item (spec §4.10 step 4).
type Route string

const (
	RouteAutoLink Route = "auto_link"
	RouteReview   Route = "review"
	RouteReject   Route = "reject"
)

// Outcome carries the decision plus whatever backing data the caller needs
// to persist it.
type Outcome struct {
	Route      Route
	ProductID  int64
	Confidence float64
}

// itemText builds the stable embedding input: name + description +
// category leaf (spec §4.10 step 1).
func itemText(name, description, categoryLeaf string) string {
	parts := []string{name}
	if description != "" {
		parts = append(parts, description)
	}
	if categoryLeaf != "" {
		parts = append(parts, categoryLeaf)
	}
	return strings.Join(parts, " | ")
}

// Match runs the full pipeline for one supplier item.
func (m *Matcher) Match(ctx context.Context, name, description, categoryLeaf string) (Outcome, error) {
	vec, err := m.embedWithRetry(ctx, itemText(name, description, categoryLeaf))
	if err != nil {
		return Outcome{}, core.WrapKind(core.KindEmbeddingFailed, err)
	}

	candidates, err := m.index.KNNProducts(ctx, vec, m.cfg.TopK)
	if err != nil {
		return Outcome{}, core.WrapKind(core.KindEmbeddingFailed, fmt.Errorf("knn query: %w", err))
	}
	if len(candidates) == 0 {
		return Outcome{Route: RouteReject}, nil
	}

	verdicts, err := m.adjudicate(ctx, name, description, candidates)
	if err != nil {
		// Demote to review at the best candidate's similarity score
		// (spec §4.10 "Failure handling").
		best := candidates[0]
		return Outcome{Route: RouteReview, ProductID: best.ProductID, Confidence: best.Score}, nil
	}

	best := verdicts[0]
	switch {
	case best.Confidence >= m.cfg.AutoThreshold:
		return Outcome{Route: RouteAutoLink, ProductID: best.ProductID, Confidence: best.Confidence}, nil
	case best.Confidence >= m.cfg.ReviewThreshold:
		return Outcome{Route: RouteReview, ProductID: best.ProductID, Confidence: best.Confidence}, nil
	default:
		return Outcome{Route: RouteReject, ProductID: best.ProductID, Confidence: best.Confidence}, nil
	}
}

func (m *Matcher) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.EmbedMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.cfg.EmbedBackoffBase * time.Duration(1<<(attempt-1))):
			}
		}
		vecs, err := m.embedder.Embed(ctx, []string{text})
		if err == nil && len(vecs) > 0 {
			return vecs[0], nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", core.ErrRetriesExhausted, lastErr)
}

const adjudicatePrompt = `You compare a supplier-provided catalog item against candidate canonical products and decide which candidate (if any) it matches. Return a JSON array ordered by descending confidence; each element has {product_id, confidence, reasoning}. confidence is a float in [0,1].`

type verdict struct {
	ProductID  int64   `json:"product_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (m *Matcher) adjudicate(ctx context.Context, name, description string, candidates []core.MatchCandidate) ([]verdict, error) {
	payload := struct {
		Item       map[string]string      `json:"item"`
		Candidates []core.MatchCandidate `json:"candidates"`
	}{
		Item:       map[string]string{"name": name, "description": description},
		Candidates: candidates,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := m.judge.Chat(ctx, llm.ChatRequest{
		Model: m.judgeModel,
		Messages: []llm.Message{
			{Role: "system", Content: adjudicatePrompt},
			{Role: "user", Content: string(body)},
		},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, core.WrapKind(core.KindAdjudicationFailed, err)
	}

	var verdicts []verdict
	if err := json.Unmarshal([]byte(resp.Content), &verdicts); err != nil {
		return nil, core.WrapKind(core.KindAdjudicationFailed, fmt.Errorf("unmarshalling verdicts: %w", err))
	}
	if len(verdicts) == 0 {
		return nil, core.WrapKind(core.KindAdjudicationFailed, fmt.Errorf("empty verdict list"))
	}
	return verdicts, nil
}
