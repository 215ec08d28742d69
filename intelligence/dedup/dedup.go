// Package dedup implements the Deduplicator: within one job's extracted
// products, it computes a price-bucketed fingerprint per product and
// collapses products that share one (spec §4.7).
package dedup

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	core "github.com/supplyetl/core"
)

var punctRe = regexp.MustCompile(`[^\w\s]`)

// Fingerprint computes the hash described in spec §4.7: lowercase,
// punctuation-stripped name, joined with the wholesale/retail price
// buckets and the category id (or empty), hashed with xxhash for speed.
func Fingerprint(p core.ExtractedProduct, categoryID *int64) uint64 {
	name := strings.ToLower(punctRe.ReplaceAllString(p.Name, ""))
	name = strings.Join(strings.Fields(name), " ")

	wholesaleBucket := ""
	if p.WholesalePrice != nil {
		wholesaleBucket = bucket(*p.WholesalePrice)
	}
	retailBucket := bucket(p.RetailPrice)

	catPart := ""
	if categoryID != nil {
		catPart = fmt.Sprintf("%d", *categoryID)
	}

	key := strings.Join([]string{name, wholesaleBucket, retailBucket, catPart}, "|")
	return xxhash.Sum64String(key)
}

// bucket quantizes a Decimal (hundredths) onto a logarithmic grid with
// roughly 1% spacing and returns the nearest rung, so prices that round to
// the same rung collapse to the same bucket string (spec §4.7's worked
// example: $100.00 and $100.05 collide). Two prices less than 1% apart that
// lie on either side of the midpoint between two rungs still land on
// adjacent rungs and do not collide. The grid step is fixed (ln(1.01) in
// log-space), not derived from the input price itself, so it can't
// self-cancel back to "always equal to the input".
func bucket(d core.Decimal) string {
	price := float64(d) / 100
	if price <= 0 {
		return "0.00"
	}
	const logStep = 0.00995033085 // ln(1.01): one bucket per ~1% of price
	rung := math.Round(math.Log(price) / logStep)
	bucketed := math.Exp(rung * logStep)
	return fmt.Sprintf("%.2f", bucketed)
}

// Group is one fingerprint's surviving product plus the count of
// duplicates collapsed into it.
type Group struct {
	Fingerprint       uint64
	Product           core.ExtractedProduct
	CategoryID        *int64
	DuplicatesRemoved int
}

// Dedupe collapses products sharing a fingerprint: keeps the first
// occurrence's name/description, keeps the lowest retail price, and
// unions the raw-data maps (spec §4.7). Idempotent: running it twice on
// its own output leaves the set unchanged, since every surviving group has
// exactly one member per fingerprint.
func Dedupe(products []core.ExtractedProduct, categoryIDs []*int64) []Group {
	order := []uint64{}
	groups := map[uint64]*Group{}

	for i, p := range products {
		var catID *int64
		if i < len(categoryIDs) {
			catID = categoryIDs[i]
		}
		fp := Fingerprint(p, catID)

		g, ok := groups[fp]
		if !ok {
			merged := p
			groups[fp] = &Group{Fingerprint: fp, Product: merged, CategoryID: catID}
			order = append(order, fp)
			continue
		}

		g.DuplicatesRemoved++
		if p.RetailPrice < g.Product.RetailPrice {
			g.Product.RetailPrice = p.RetailPrice
		}
		g.Product.RawSource = unionMaps(g.Product.RawSource, p.RawSource)
	}

	out := make([]Group, 0, len(order))
	for _, fp := range order {
		out = append(out, *groups[fp])
	}
	return out
}

func unionMaps(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}
