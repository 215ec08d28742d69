package extract

import (
	"context"
	"testing"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/llm"
)

func TestValidateRow_NonPositiveRetailPriceRejected(t *testing.T) {
	cases := []string{"0", "-5.00", "0.00"}
	for _, price := range cases {
		r := rawProductRow{Name: "Widget", PriceRRC: price}
		_, kind, _ := validateRow(r, 1, 0)
		if kind != core.KindRowPriceInvalid {
			t.Errorf("price_rrc=%q: got kind %q, want %q", price, kind, core.KindRowPriceInvalid)
		}
	}
}

func TestValidateRow_ZeroWholesalePriceAccepted(t *testing.T) {
	zero := "0"
	r := rawProductRow{Name: "Widget", PriceRRC: "10.00", PriceOpt: &zero}
	p, kind, msg := validateRow(r, 1, 0)
	if kind != "" {
		t.Fatalf("unexpected rejection: kind=%q msg=%q", kind, msg)
	}
	if p.WholesalePrice == nil || *p.WholesalePrice != 0 {
		t.Errorf("expected zero wholesale price, got %v", p.WholesalePrice)
	}
}

func TestValidateRow_PositiveRetailPriceAccepted(t *testing.T) {
	r := rawProductRow{Name: "Widget", PriceRRC: "19.99"}
	p, kind, _ := validateRow(r, 1, 0)
	if kind != "" {
		t.Fatalf("unexpected rejection kind %q", kind)
	}
	if p.RetailPrice != 1999 {
		t.Errorf("got RetailPrice %d, want 1999", p.RetailPrice)
	}
}

// fakeChatProvider returns a fixed chat response regardless of request.
type fakeChatProvider struct {
	content string
}

func (f *fakeChatProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: f.content}, nil
}

func (f *fakeChatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func TestTryExtract_IsolatesMalformedRowFromChunk(t *testing.T) {
	// One well-formed row, one schema-broken row (price_rrc as a nested
	// object instead of a string) in the same chunk.
	content := `[{"name":"Good Widget","price_rrc":"10.00"},{"name":"Bad Widget","price_rrc":{"nope":true}}]`
	x := New(&fakeChatProvider{content: content}, "test-model", Config{})

	products, logs, err := x.tryExtract(context.Background(), 1, core.Chunk{ID: 1, Header: []string{"name", "price_rrc"}})
	if err != nil {
		t.Fatalf("unexpected chunk-level error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1 (the well-formed row)", len(products))
	}
	if products[0].Name != "Good Widget" {
		t.Errorf("got product %q, want Good Widget", products[0].Name)
	}

	var found bool
	for _, l := range logs {
		if l.Kind == core.KindRowSchemaInvalid {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a KindRowSchemaInvalid log for the malformed row, got %+v", logs)
	}
}

func TestTryExtract_AllRowsMalformedYieldsNoProductsButNoChunkError(t *testing.T) {
	content := `[{"price_rrc":123},{"price_rrc":false}]`
	x := New(&fakeChatProvider{content: content}, "test-model", Config{})

	products, logs, err := x.tryExtract(context.Background(), 1, core.Chunk{ID: 2})
	if err != nil {
		t.Fatalf("unexpected chunk-level error: %v", err)
	}
	if len(products) != 0 {
		t.Errorf("got %d products, want 0", len(products))
	}
	if len(logs) != 2 {
		t.Errorf("got %d logs, want 2", len(logs))
	}
	for _, l := range logs {
		if l.Kind != core.KindRowSchemaInvalid {
			t.Errorf("got log kind %q, want %q", l.Kind, core.KindRowSchemaInvalid)
		}
	}
}
