// Package extract runs the LLM Extractor stage: for each chunk, prompts
// the chat provider for a JSON array of product rows, validates every
// element, and classifies failures into ParsingLogs (spec §4.5, §7).
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/intelligence/grid"
	"github.com/supplyetl/core/llm"
)

const systemPrompt = `You extract product rows from a Markdown price list. Return JSON only; each element has fields {name, description?, price_opt?, price_rrc, category_path?}. Omit rows that are headers, separators, or summaries. Prices are decimals with a dot. Category path is root-to-leaf strings.`

// Config controls concurrency and retry behavior (spec §6.4).
type Config struct {
	Temperature    float64
	Concurrency    int
	MaxRetries     int
	ChunkTimeout   time.Duration
	RequestsPerSec float64 // outbound rate limit across all concurrent workers
}

// Extractor runs chunks through an llm.Provider.
type Extractor struct {
	provider llm.Provider
	model    string
	cfg      Config
	limiter  *rate.Limiter
}

func New(provider llm.Provider, model string, cfg Config) *Extractor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 2
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = 60 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = float64(cfg.Concurrency)
	}
	return &Extractor{
		provider: provider,
		model:    model,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(rps), max(1, cfg.Concurrency)),
	}
}

// Result is one chunk's extraction outcome.
type Result struct {
	ChunkID  int
	Products []core.ExtractedProduct
	Logs     []core.ParsingLog
	Err      error // set if the chunk was abandoned after retries (spec §7 ExtractionTimeout/ExtractionMalformed escalation)
}

// ExtractAll runs every chunk with bounded concurrency (errgroup.SetLimit)
// and per-worker rate limiting, using errgroup in place of the teacher's
// WaitGroup+semaphore fan-out and honoring ctx cancellation.
func (x *Extractor) ExtractAll(ctx context.Context, jobID int64, chunks []core.Chunk) []Result {
	results := make([]Result, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.Concurrency)

	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			results[i] = x.extractChunk(gctx, jobID, c)
			return nil
		})
	}
	_ = g.Wait() // per-chunk errors are carried in Result, not propagated

	return results
}

// extractChunk retries with a shortened context (half the rows, keeping
// the earlier half) on timeout or malformed output, up to MaxRetries
// times, per spec §4.5/§7.
func (x *Extractor) extractChunk(ctx context.Context, jobID int64, c core.Chunk) Result {
	attemptChunk := c
	var lastErr error

	for attempt := 0; attempt <= x.cfg.MaxRetries; attempt++ {
		if err := x.limiter.Wait(ctx); err != nil {
			return Result{ChunkID: c.ID, Err: err}
		}

		products, logs, err := x.tryExtract(ctx, jobID, attemptChunk)
		if err == nil {
			return Result{ChunkID: c.ID, Products: products, Logs: logs}
		}
		lastErr = err

		attemptChunk = shortenChunk(attemptChunk)
		if len(attemptChunk.Rows) == 0 {
			break
		}
	}

	return Result{
		ChunkID: c.ID,
		Err:     core.WrapKind(classifyFailure(lastErr), fmt.Errorf("%w: %v", core.ErrRetriesExhausted, lastErr)),
		Logs: []core.ParsingLog{{
			JobID:   jobID,
			ChunkID: c.ID,
			Kind:    classifyFailure(lastErr),
			Message: lastErr.Error(),
		}},
	}
}

// shortenChunk halves the row window, keeping the earlier half, for the
// next retry attempt.
func shortenChunk(c core.Chunk) core.Chunk {
	half := len(c.Rows) / 2
	if half == 0 {
		return core.Chunk{ID: c.ID, Header: c.Header}
	}
	return core.Chunk{ID: c.ID, Start: c.Start, End: c.Start + half, Header: c.Header, Rows: c.Rows[:half]}
}

func classifyFailure(err error) core.ErrorKind {
	if err == nil {
		return core.KindUnexpected
	}
	if strings.Contains(err.Error(), "deadline") || strings.Contains(err.Error(), "timeout") {
		return core.KindExtractionTimeout
	}
	return core.KindExtractionMalformed
}

func (x *Extractor) tryExtract(ctx context.Context, jobID int64, c core.Chunk) ([]core.ExtractedProduct, []core.ParsingLog, error) {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.ChunkTimeout)
	defer cancel()

	table := grid.RenderMarkdown(core.NormalizedGrid{Header: c.Header, Rows: c.Rows})
	userMsg := "Header: " + strings.Join(c.Header, " | ") + "\n\n" + table

	resp, err := x.provider.Chat(ctx, llm.ChatRequest{
		Model: x.model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMsg},
		},
		Temperature:    x.cfg.Temperature,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("chat request: %w", err)
	}

	jsonStr, err := extractJSONArray(resp.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("extracting JSON array: %w", err)
	}

	var rawElements []json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &rawElements); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling product array: %w", err)
	}

	var products []core.ExtractedProduct
	var logs []core.ParsingLog
	for i, elem := range rawElements {
		var raw rawProductRow
		if err := json.Unmarshal(elem, &raw); err != nil {
			// Isolate a single malformed element rather than failing the
			// whole chunk (spec §4.5/§7): one bad row becomes a log, not an
			// ExtractionMalformed retry.
			logs = append(logs, core.ParsingLog{
				JobID:     jobID,
				ChunkID:   c.ID,
				RowNumber: c.Start + i,
				Kind:      core.KindRowSchemaInvalid,
				Message:   fmt.Sprintf("malformed row: %v", err),
				RawRow:    map[string]string{"raw": string(elem)},
			})
			continue
		}

		p, logKind, msg := validateRow(raw, c.ID, i)
		if logKind != "" {
			logs = append(logs, core.ParsingLog{
				JobID:     jobID,
				ChunkID:   c.ID,
				RowNumber: c.Start + i,
				Kind:      logKind,
				Message:   msg,
				RawRow:    raw.asMap(),
			})
			continue
		}
		products = append(products, p)
	}

	return products, logs, nil
}

// rawProductRow mirrors the LLM's prompt-contract JSON shape before
// validation (spec §4.5).
type rawProductRow struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	PriceOpt     *string  `json:"price_opt"`
	PriceRRC     string   `json:"price_rrc"`
	CategoryPath []string `json:"category_path"`
}

func (r rawProductRow) asMap() map[string]string {
	m := map[string]string{"name": r.Name, "description": r.Description, "price_rrc": r.PriceRRC}
	if r.PriceOpt != nil {
		m["price_opt"] = *r.PriceOpt
	}
	if len(r.CategoryPath) > 0 {
		m["category_path"] = strings.Join(r.CategoryPath, " > ")
	}
	return m
}

// validateRow implements the per-row handling in spec §4.5/§7: rows
// failing schema, missing a name, or carrying an unparseable price are
// classified and returned as a ParsingLog instead of a product.
func validateRow(r rawProductRow, chunkID, rowIdx int) (core.ExtractedProduct, core.ErrorKind, string) {
	if strings.TrimSpace(r.Name) == "" {
		return core.ExtractedProduct{}, core.KindRowNameMissing, "row has no name"
	}

	retail, err := parseDecimal(r.PriceRRC, true)
	if err != nil {
		return core.ExtractedProduct{}, core.KindRowPriceInvalid, fmt.Sprintf("invalid price_rrc %q: %v", r.PriceRRC, err)
	}

	var wholesale *core.Decimal
	if r.PriceOpt != nil && strings.TrimSpace(*r.PriceOpt) != "" {
		w, err := parseDecimal(*r.PriceOpt, false)
		if err != nil {
			return core.ExtractedProduct{}, core.KindRowPriceInvalid, fmt.Sprintf("invalid price_opt %q: %v", *r.PriceOpt, err)
		}
		wholesale = &w
	}

	return core.ExtractedProduct{
		Name:            strings.TrimSpace(r.Name),
		Description:     strings.TrimSpace(r.Description),
		WholesalePrice:  wholesale,
		RetailPrice:     retail,
		CategoryPath:    r.CategoryPath,
		RawSource:       r.asMap(),
		ChunkID:         chunkID,
		RowIndexInChunk: rowIdx,
	}, "", ""
}

// parseDecimal parses a dotted-decimal price string into hundredths
// (spec §8's exact-decimal roundtrip invariant). A missing or non-positive
// retail price is never persisted (spec §3), so requirePositive is set for
// price_rrc; price_opt (wholesale) only needs to be non-negative.
func parseDecimal(s string, requirePositive bool) (core.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if requirePositive && f <= 0 {
		return 0, fmt.Errorf("non-positive price")
	}
	if f < 0 {
		return 0, fmt.Errorf("negative price")
	}
	return core.Decimal(int64(f*100 + 0.5)), nil
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSONArray adapts the teacher's object-extraction helper to
// arrays: strips markdown fences and finds the outermost [...] span.
func extractJSONArray(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "[") {
		return raw, nil
	}

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON array found in response")
}
