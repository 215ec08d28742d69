package intelligence

import (
	"context"
	"database/sql"
	"testing"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/intelligence/dedup"
	"github.com/supplyetl/core/intelligence/match"
	"github.com/supplyetl/core/llm"
)

// fakeEngineStore satisfies Store with just enough behavior to observe
// what runMatching records; everything outside that path is unused.
type fakeEngineStore struct {
	auditEvents []core.AuditEvent
	reviews     []core.MatchReview
	linked      map[int64]int64
}

func newFakeEngineStore() *fakeEngineStore {
	return &fakeEngineStore{linked: map[int64]int64{}}
}

func (f *fakeEngineStore) RunBatch(ctx context.Context, fn func(*sql.Tx) error) error { return nil }
func (f *fakeEngineStore) UpsertSupplierItem(ctx context.Context, tx *sql.Tx, item core.SupplierItem) (int64, bool, error) {
	return 0, false, nil
}
func (f *fakeEngineStore) InsertPriceHistory(ctx context.Context, tx *sql.Tx, ph core.PriceHistory) error {
	return nil
}
func (f *fakeEngineStore) InsertParsingLog(ctx context.Context, log core.ParsingLog) error { return nil }
func (f *fakeEngineStore) InsertCategoryReview(ctx context.Context, r core.CategoryReview) (int64, error) {
	return 0, nil
}
func (f *fakeEngineStore) UpsertItemEmbedding(ctx context.Context, itemID int64, vec []float32) error {
	return nil
}
func (f *fakeEngineStore) InsertMatchReview(ctx context.Context, r core.MatchReview) (int64, error) {
	f.reviews = append(f.reviews, r)
	return int64(len(f.reviews)), nil
}
func (f *fakeEngineStore) LinkCanonicalProduct(ctx context.Context, supplierItemID, productID int64) error {
	f.linked[supplierItemID] = productID
	return nil
}
func (f *fakeEngineStore) InsertAuditEvent(ctx context.Context, e core.AuditEvent) error {
	f.auditEvents = append(f.auditEvents, e)
	return nil
}

type noopProvider struct{}

func (noopProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{}, nil
}
func (noopProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{0.1}}, nil
}

// emptyIndex always reports no KNN candidates, forcing match.RouteReject.
type emptyIndex struct{}

func (emptyIndex) KNNProducts(ctx context.Context, vec []float32, k int) ([]core.MatchCandidate, error) {
	return nil, nil
}

func TestRunMatching_RejectRouteRecordsAuditEvent(t *testing.T) {
	st := newFakeEngineStore()
	matcher := match.New(noopProvider{}, noopProvider{}, "judge-model", emptyIndex{}, match.Config{})
	e := &Engine{Store: st, Matcher: matcher}

	groups := []dedup.Group{{Product: core.ExtractedProduct{Name: "Widget"}}}
	e.runMatching(context.Background(), groups, []int64{101})

	if len(st.auditEvents) != 1 {
		t.Fatalf("got %d audit events, want 1", len(st.auditEvents))
	}
	ev := st.auditEvents[0]
	if ev.Action != "match_reject" || ev.EntityID != 101 || ev.EntityKind != "supplier_item" {
		t.Errorf("unexpected audit event: %+v", ev)
	}
	if len(st.linked) != 0 {
		t.Errorf("expected no canonical link for a rejected match, got %v", st.linked)
	}
}
