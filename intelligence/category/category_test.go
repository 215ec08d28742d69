package category

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	core "github.com/supplyetl/core"
)

func fixedLoader(cats []core.Category, calls *int) Loader {
	return func(ctx context.Context, supplierID int64) ([]core.Category, error) {
		*calls++
		return cats, nil
	}
}

func TestResolve_ExactMatchClearsThreshold(t *testing.T) {
	var calls int
	cats := []core.Category{{ID: 1, Name: "Beverages"}, {ID: 2, Name: "Snacks"}}
	n := New(fixedLoader(cats, &calls), Config{})

	res, err := n.Resolve(context.Background(), 1, []string{"Grocery", "Beverages"})
	require.NoError(t, err)
	require.NotNil(t, res.CategoryID)
	require.Equal(t, int64(1), *res.CategoryID)
	require.Nil(t, res.Review)
}

func TestResolve_BelowThresholdProducesReview(t *testing.T) {
	var calls int
	cats := []core.Category{{ID: 1, Name: "Beverages"}}
	n := New(fixedLoader(cats, &calls), Config{FuzzyThreshold: 95})

	res, err := n.Resolve(context.Background(), 1, []string{"Completely Unrelated Thing"})
	require.NoError(t, err)
	require.Nil(t, res.CategoryID)
	require.NotNil(t, res.Review)
	require.Equal(t, core.ReviewPending, res.Review.Status)
}

func TestResolve_EmptyPathIsNoOp(t *testing.T) {
	var calls int
	n := New(fixedLoader(nil, &calls), Config{})
	res, err := n.Resolve(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, Resolution{}, res)
	require.Zero(t, calls, "should not touch the loader for an empty path")
}

func TestTaxonomy_CachedWithinTTL(t *testing.T) {
	var calls int
	n := New(fixedLoader([]core.Category{{ID: 1, Name: "A"}}, &calls), Config{CacheTTL: time.Hour})

	_, err := n.Resolve(context.Background(), 1, []string{"A"})
	require.NoError(t, err)
	_, err = n.Resolve(context.Background(), 1, []string{"A"})
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second Resolve should hit the cache")
}

func TestInvalidate_ForcesReload(t *testing.T) {
	var calls int
	n := New(fixedLoader([]core.Category{{ID: 1, Name: "A"}}, &calls), Config{CacheTTL: time.Hour})

	_, _ = n.Resolve(context.Background(), 1, []string{"A"})
	n.Invalidate(1)
	_, _ = n.Resolve(context.Background(), 1, []string{"A"})
	require.Equal(t, 2, calls)
}

func TestResolve_TieBrokenByLowestID(t *testing.T) {
	var calls int
	// Two identically-named categories; the normalizer should deterministically
	// prefer the lower id rather than whichever the loader lists first.
	cats := []core.Category{{ID: 5, Name: "Snacks"}, {ID: 2, Name: "Snacks"}}
	n := New(fixedLoader(cats, &calls), Config{})

	res, err := n.Resolve(context.Background(), 1, []string{"Snacks"})
	require.NoError(t, err)
	require.NotNil(t, res.CategoryID)
	require.Equal(t, int64(2), *res.CategoryID)
}
