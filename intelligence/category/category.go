// Package category implements the Category Normalizer: it resolves an
// ExtractedProduct's category path to an existing Category id via
// token-set fuzzy matching, or defers the product to human review (spec
// §4.6).
package category

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hbollon/go-edlib"

	core "github.com/supplyetl/core"
)

// Loader fetches the active category set for a supplier scope. Backed by
// *store.Store in production.
type Loader func(ctx context.Context, supplierID int64) ([]core.Category, error)

// Config controls the match threshold and taxonomy cache TTL (spec §6.4).
type Config struct {
	FuzzyThreshold float64
	CacheTTL       time.Duration
}

// Normalizer resolves category paths against a TTL-cached, per-supplier
// taxonomy snapshot.
type Normalizer struct {
	load Loader
	cfg  Config

	mu    sync.RWMutex
	cache map[int64]cacheEntry
}

type cacheEntry struct {
	categories []core.Category
	loadedAt   time.Time
}

func New(load Loader, cfg Config) *Normalizer {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = 85
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Normalizer{load: load, cfg: cfg, cache: map[int64]cacheEntry{}}
}

// Invalidate drops the cached taxonomy for a supplier, forcing a reload on
// the next Resolve call (spec §4.6 "invalidated whenever any category row
// changes").
func (n *Normalizer) Invalidate(supplierID int64) {
	n.mu.Lock()
	delete(n.cache, supplierID)
	n.mu.Unlock()
}

func (n *Normalizer) taxonomy(ctx context.Context, supplierID int64) ([]core.Category, error) {
	n.mu.RLock()
	entry, ok := n.cache[supplierID]
	n.mu.RUnlock()
	if ok && time.Since(entry.loadedAt) < n.cfg.CacheTTL {
		return entry.categories, nil
	}

	cats, err := n.load(ctx, supplierID)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.cache[supplierID] = cacheEntry{categories: cats, loadedAt: time.Now()}
	n.mu.Unlock()
	return cats, nil
}

// Resolution is the outcome of resolving one product's category path.
type Resolution struct {
	CategoryID *int64 // set only when the match clears the threshold
	Review     *core.CategoryReview
}

// Resolve implements the per-product algorithm in spec §4.6.
func (n *Normalizer) Resolve(ctx context.Context, supplierID int64, categoryPath []string) (Resolution, error) {
	if len(categoryPath) == 0 {
		return Resolution{}, nil
	}

	leaf := normalize(categoryPath[len(categoryPath)-1])

	cats, err := n.taxonomy(ctx, supplierID)
	if err != nil {
		return Resolution{}, err
	}

	var bestID *int64
	var bestScore float64 = -1

	for _, c := range cats {
		score := tokenSetScore(leaf, normalize(c.Name))
		if score > bestScore || (score == bestScore && bestID != nil && c.ID < *bestID) {
			bestScore = score
			id := c.ID
			bestID = &id
		}
	}

	if bestID != nil && bestScore >= n.cfg.FuzzyThreshold {
		return Resolution{CategoryID: bestID}, nil
	}

	return Resolution{
		Review: &core.CategoryReview{
			ProposedPath:        categoryPath,
			BestMatchCategoryID: bestID,
			BestMatchScore:      bestScore,
			Status:              core.ReviewPending,
		},
	}, nil
}

var punctRe = regexp.MustCompile(`[^\w\s]`)
var spaceRe = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	s = strings.ToLower(s)
	s = punctRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// tokenSetScore reimplements fuzzywuzzy's token_set_ratio shape on top of
// go-edlib's string-similarity primitives: split both strings into token
// sets, take the sorted intersection and the two sorted remainders, and
// score the best pairing among (intersection+remainder1 vs
// intersection+remainder2), (intersection vs intersection+remainder1),
// (intersection vs intersection+remainder2) using Sorensen-Dice
// similarity, scaled to 0-100.
func tokenSetScore(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)

	inter, onlyA, onlyB := splitTokens(tokensA, tokensB)

	interStr := strings.Join(inter, " ")
	combinedA := strings.TrimSpace(interStr + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(interStr + " " + strings.Join(onlyB, " "))

	best := similarity(interStr, combinedA)
	if s := similarity(interStr, combinedB); s > best {
		best = s
	}
	if s := similarity(combinedA, combinedB); s > best {
		best = s
	}
	return best
}

func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	score, err := edlib.StringsSimilarity(a, b, edlib.SorensenDice)
	if err != nil {
		return 0
	}
	return float64(score) * 100
}

func tokenSet(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func splitTokens(a, b []string) (inter, onlyA, onlyB []string) {
	bSet := map[string]bool{}
	for _, t := range b {
		bSet[t] = true
	}
	aSet := map[string]bool{}
	for _, t := range a {
		aSet[t] = true
	}

	for t := range aSet {
		if bSet[t] {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range bSet {
		if !aSet[t] {
			onlyB = append(onlyB, t)
		}
	}

	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)
	return
}
