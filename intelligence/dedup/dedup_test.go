package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"

	core "github.com/supplyetl/core"
)

func i64(v int64) *int64 { return &v }

func TestFingerprint_NameNormalization(t *testing.T) {
	p1 := core.ExtractedProduct{Name: "Acme Widget!!", RetailPrice: 1999}
	p2 := core.ExtractedProduct{Name: "  acme   widget", RetailPrice: 1999}
	require.Equal(t, Fingerprint(p1, i64(1)), Fingerprint(p2, i64(1)))
}

func TestFingerprint_PriceToleranceBucketing(t *testing.T) {
	// within 1% of each other should collapse to the same bucket.
	p1 := core.ExtractedProduct{Name: "widget", RetailPrice: 10000}
	p2 := core.ExtractedProduct{Name: "widget", RetailPrice: 10005}
	require.Equal(t, Fingerprint(p1, nil), Fingerprint(p2, nil))
}

func TestFingerprint_DifferentCategorySeparates(t *testing.T) {
	p := core.ExtractedProduct{Name: "widget", RetailPrice: 1000}
	require.NotEqual(t, Fingerprint(p, i64(1)), Fingerprint(p, i64(2)))
}

func TestDedupe_CollapsesAndCountsDuplicates(t *testing.T) {
	products := []core.ExtractedProduct{
		{Name: "Widget", RetailPrice: 1000, RawSource: map[string]string{"row": "1"}},
		{Name: "widget", RetailPrice: 999, RawSource: map[string]string{"sku": "W-1"}},
		{Name: "Gadget", RetailPrice: 500},
	}
	cats := []*int64{i64(1), i64(1), i64(2)}

	groups := Dedupe(products, cats)
	require.Len(t, groups, 2)

	widget := groups[0]
	require.Equal(t, core.Decimal(999), widget.Product.RetailPrice, "keeps the lowest retail price")
	require.Equal(t, 1, widget.DuplicatesRemoved)
	require.Equal(t, "1", widget.Product.RawSource["row"])
	require.Equal(t, "W-1", widget.Product.RawSource["sku"])
}

func TestDedupe_Idempotent(t *testing.T) {
	products := []core.ExtractedProduct{
		{Name: "Widget", RetailPrice: 1000},
		{Name: "widget", RetailPrice: 1000},
	}
	cats := []*int64{i64(1), i64(1)}

	first := Dedupe(products, cats)
	require.Len(t, first, 1)

	again := make([]core.ExtractedProduct, len(first))
	catsAgain := make([]*int64, len(first))
	for i, g := range first {
		again[i] = g.Product
		catsAgain[i] = g.CategoryID
	}
	second := Dedupe(again, catsAgain)
	require.Len(t, second, 1)
	require.Equal(t, first[0].Product.Name, second[0].Product.Name)
	require.Equal(t, 0, second[0].DuplicatesRemoved)
}

func TestDedupe_EmptyInput(t *testing.T) {
	require.Empty(t, Dedupe(nil, nil))
}
