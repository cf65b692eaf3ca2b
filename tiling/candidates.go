package tiling

import (
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"

	"github.com/geoquilt/quilt/catalog"
	"github.com/geoquilt/quilt/overlay"
)

// Candidate is an asset that actually intersects a tile. The exact
// intersection geometry is kept, the selector subtracts it from the
// remaining uncovered region.
type Candidate struct {
	Asset        catalog.Asset
	Intersection geom.MultiPolygon
	// Fraction of the full tile area covered by the intersection
	Fraction float64
}

// CandidatesFor gathers the assets intersecting the tile: bounding box
// pre-filter through the catalog, then exact polygon intersection.
// Assets that only touch the tile's bounding box are discarded.
func CandidatesFor(tile *slippy.Tile, cat *catalog.Catalog) ([]Candidate, error) {
	tilePolygon := geom.MultiPolygon{TilePolygon(tile)}
	tileArea := overlay.Area(tilePolygon)

	var candidates []Candidate
	for _, asset := range cat.Query(TileExtent(tile)) {
		intersection, err := overlay.Intersection(tilePolygon, geom.MultiPolygon{asset.Footprint})
		if err != nil {
			return nil, fmt.Errorf("intersecting asset %v with tile %v/%v/%v: %w",
				asset.ID, tile.Z, tile.X, tile.Y, err)
		}
		area := overlay.Area(intersection)
		if area <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Asset:        asset,
			Intersection: intersection,
			Fraction:     area / tileArea,
		})
	}
	return candidates, nil
}
