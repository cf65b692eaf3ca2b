// Package catalog holds the cleaned, immutable collection of candidate
// raster assets the mosaic is derived from. The catalog only does coarse
// bounding box queries; exact intersections are for the tiling package.
package catalog

import (
	"encoding/json"
	"math"

	"github.com/go-spatial/geom"

	"github.com/geoquilt/quilt/overlay"
)

// Asset is one candidate raster footprint with its preference keys.
// Assets sharing a Group are vintages of the same geographic cell and
// compete with each other before the cover computation.
type Asset struct {
	ID        string
	Footprint geom.Polygon
	// Keys holds the preference fields, e.g. scale and year
	Keys    map[string]float64
	Group   string
	Payload json.RawMessage
}

type Catalog struct {
	assets   []Asset
	extents  []geom.Extent
	extent   geom.Extent
	rejected int
}

// Load validates the given asset records and indexes the survivors.
// Records with a degenerate footprint or incomplete preference keys are
// rejected; the count is available through Rejected.
func Load(assets []Asset, keyFields []string) *Catalog {
	c := &Catalog{}
	for _, asset := range assets {
		extent, ok := validate(asset, keyFields)
		if !ok {
			c.rejected++
			continue
		}
		if len(c.assets) == 0 {
			c.extent = extent
		} else {
			c.extent = expand(c.extent, extent)
		}
		c.assets = append(c.assets, asset)
		c.extents = append(c.extents, extent)
	}
	return c
}

func (c *Catalog) Len() int {
	return len(c.assets)
}

func (c *Catalog) Rejected() int {
	return c.rejected
}

func (c *Catalog) Assets() []Asset {
	return c.assets
}

// Extent is the minimum bounding rectangle of all loaded footprints.
func (c *Catalog) Extent() geom.Extent {
	return c.extent
}

// Query returns the assets whose footprint bounding box overlaps bbox,
// a coarse pre-filter before exact polygon intersection.
func (c *Catalog) Query(bbox geom.Extent) []Asset {
	var hits []Asset
	for i := range c.assets {
		if overlaps(c.extents[i], bbox) {
			hits = append(hits, c.assets[i])
		}
	}
	return hits
}

func validate(asset Asset, keyFields []string) (geom.Extent, bool) {
	var extent geom.Extent
	if asset.ID == "" {
		return extent, false
	}
	if len(asset.Footprint) == 0 || len(asset.Footprint[0]) < 3 {
		return extent, false
	}
	if overlay.Shoelace(asset.Footprint[0]) <= 0 {
		return extent, false
	}
	for _, field := range keyFields {
		value, ok := asset.Keys[field]
		if !ok || math.IsNaN(value) {
			return extent, false
		}
	}
	return footprintExtent(asset.Footprint), true
}

func footprintExtent(footprint geom.Polygon) geom.Extent {
	outer := footprint[0]
	extent := geom.Extent{outer[0][0], outer[0][1], outer[0][0], outer[0][1]}
	for _, pt := range outer[1:] {
		extent[0] = math.Min(extent[0], pt[0])
		extent[1] = math.Min(extent[1], pt[1])
		extent[2] = math.Max(extent[2], pt[0])
		extent[3] = math.Max(extent[3], pt[1])
	}
	return extent
}

func expand(a, b geom.Extent) geom.Extent {
	return geom.Extent{
		math.Min(a.MinX(), b.MinX()),
		math.Min(a.MinY(), b.MinY()),
		math.Max(a.MaxX(), b.MaxX()),
		math.Max(a.MaxY(), b.MaxY()),
	}
}

func overlaps(a, b geom.Extent) bool {
	return a.MinX() <= b.MaxX() && b.MinX() <= a.MaxX() &&
		a.MinY() <= b.MaxY() && b.MinY() <= a.MaxY()
}
