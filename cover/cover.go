// Package cover picks, for one tile, the minimal ordered set of assets
// needed to cover its area. Exact minimum tile cover is NP-hard; the
// greedy residual-area heuristic is good enough because catalogs are
// highly redundant and tiles are small.
package cover

import (
	"sort"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"

	"github.com/geoquilt/quilt/catalog"
	"github.com/geoquilt/quilt/overlay"
	"github.com/geoquilt/quilt/tiling"
)

// SortKey names one preference field and its direction.
type SortKey struct {
	Field      string `validate:"required" json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

type Options struct {
	// SortKeys order candidates by preference, most significant first.
	// Default: finest scale first, then most recent year.
	SortKeys []SortKey `validate:"required,min=1,dive" default:"[{\"field\":\"scale\"},{\"field\":\"year\",\"descending\":true}]"`
	// Epsilon is the residual area treated as fully covered, in the
	// squared units of the coordinate reference system (square degrees
	// for geographic coordinates).
	Epsilon float64 `validate:"gt=0" default:"0.0001"`
}

func NewOptions() (Options, error) {
	var opts Options
	if err := defaults.Set(&opts); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

func (o Options) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(o)
}

// KeyFields returns the preference fields every asset must carry.
func (o Options) KeyFields() []string {
	fields := make([]string, len(o.SortKeys))
	for i, key := range o.SortKeys {
		fields[i] = key.Field
	}
	return fields
}

// Selection is the ordered result for one tile. Covered is false when
// the candidate pool ran out before the tile was fully covered, which is
// expected at catalog edges and coastlines.
type Selection struct {
	Assets  []catalog.Asset
	Covered bool
}

// Select runs the greedy cover for one tile. Each iteration re-ranks the
// pool by preference with the fraction of the remaining uncovered region
// as tie-break, pops the winner and subtracts its intersection from the
// remaining region. An empty candidate set yields an empty selection,
// not an error.
func Select(tile geom.Polygon, candidates []tiling.Candidate, opts Options) (Selection, error) {
	pool := dedupeGroups(candidates, opts.SortKeys)
	remaining := geom.MultiPolygon{tile}

	var selection Selection
	for len(pool) > 0 {
		fractions, err := overlay.IntersectionFractions(remaining, intersections(pool))
		if err != nil {
			return selection, err
		}

		top := 0
		for i := 1; i < len(pool); i++ {
			if less(pool[i], pool[top], fractions[i], fractions[top], opts.SortKeys) {
				top = i
			}
		}
		selection.Assets = append(selection.Assets, pool[top].Asset)
		winner := pool[top].Intersection
		pool = append(pool[:top], pool[top+1:]...)

		remaining, err = overlay.Difference(remaining, winner)
		if err != nil {
			return selection, err
		}
		if overlay.Covered(remaining, opts.Epsilon) {
			selection.Covered = true
			break
		}
	}
	return selection, nil
}

// dedupeGroups keeps only the most-preferred candidate per group.
// Candidates without a group don't compete.
func dedupeGroups(candidates []tiling.Candidate, keys []SortKey) []tiling.Candidate {
	sorted := make([]tiling.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j], sorted[i].Fraction, sorted[j].Fraction, keys)
	})

	seen := make(map[string]struct{}, len(sorted))
	deduped := sorted[:0]
	for _, candidate := range sorted {
		group := candidate.Asset.Group
		if group != "" {
			if _, dupe := seen[group]; dupe {
				continue
			}
			seen[group] = struct{}{}
		}
		deduped = append(deduped, candidate)
	}
	return deduped
}

// less is the deterministic total order: preference keys first, then
// intersection fraction descending, then asset id as final tie-break.
func less(a, b tiling.Candidate, fractionA, fractionB float64, keys []SortKey) bool {
	for _, key := range keys {
		valueA, valueB := a.Asset.Keys[key.Field], b.Asset.Keys[key.Field]
		if valueA != valueB {
			if key.Descending {
				return valueA > valueB
			}
			return valueA < valueB
		}
	}
	if fractionA != fractionB {
		return fractionA > fractionB
	}
	return a.Asset.ID < b.Asset.ID
}

func intersections(candidates []tiling.Candidate) []geom.MultiPolygon {
	geoms := make([]geom.MultiPolygon, len(candidates))
	for i := range candidates {
		geoms[i] = candidates[i].Intersection
	}
	return geoms
}
