// Package overlay provides the planar polygon primitives the cover
// computation runs on: boolean intersection and difference, area and
// batched intersection fractions. Coordinates are geographic degrees,
// so areas (and the coverage epsilon) are in square degrees.
package overlay

import (
	"math"

	"github.com/engelsjk/polygol"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
)

// https://en.wikipedia.org/wiki/Shoelace_formula
func Shoelace(pts [][2]float64) float64 {
	sum := 0.
	if len(pts) == 0 {
		return 0.
	}

	p0 := pts[len(pts)-1]
	for _, p1 := range pts {
		sum += p0[1]*p1[0] - p0[0]*p1[1]
		p0 = p1
	}
	return math.Abs(sum / 2)
}

// Area returns the area of a (multi)polygon, holes subtracted.
func Area(mp geom.MultiPolygon) float64 {
	area := 0.
	for _, p := range mp {
		for ringIdx, ring := range p {
			if ringIdx == 0 {
				area += Shoelace(ring)
			} else {
				area -= Shoelace(ring)
			}
		}
	}
	return area
}

// Intersection returns the boolean AND of two (multi)polygons.
// The result is empty (len 0) if they don't overlap.
func Intersection(a, b geom.MultiPolygon) (geom.MultiPolygon, error) {
	res, err := polygol.Intersection(toPolygol(a), toPolygol(b))
	if err != nil {
		return nil, err
	}
	return fromPolygol(res), nil
}

// Difference returns a minus b, possibly multi-part.
func Difference(a, b geom.MultiPolygon) (geom.MultiPolygon, error) {
	res, err := polygol.Difference(toPolygol(a), toPolygol(b))
	if err != nil {
		return nil, err
	}
	return fromPolygol(res), nil
}

// IntersectionFractions returns, for every candidate, the area of its
// intersection with region as a fraction of the region's area.
// Batched because the selector calls this on every iteration.
func IntersectionFractions(region geom.MultiPolygon, candidates []geom.MultiPolygon) ([]float64, error) {
	fractions := make([]float64, len(candidates))
	regionArea := Area(region)
	if regionArea == 0 {
		return fractions, nil
	}
	regionGeom := toPolygol(region)
	for i := range candidates {
		intersection, err := polygol.Intersection(regionGeom, toPolygol(candidates[i]))
		if err != nil {
			return nil, err
		}
		fractions[i] = Area(fromPolygol(intersection)) / regionArea
	}
	return fractions, nil
}

// Covered reports whether the remaining area is small enough to call the
// region fully covered. Epsilon keeps floating-point residue from the
// repeated differences from looping forever.
func Covered(remaining geom.MultiPolygon, epsilon float64) bool {
	return Area(remaining)-epsilon < 0
}

// toPolygol closes the rings, polygol follows the GeoJSON convention.
func toPolygol(mp geom.MultiPolygon) polygol.Geom {
	g := make(polygol.Geom, len(mp))
	for i, p := range mp {
		g[i] = make([][][]float64, len(p))
		for r, ring := range p {
			closed := len(ring) > 0 && ring[0] == ring[len(ring)-1]
			n := len(ring)
			if !closed {
				n++
			}
			g[i][r] = make([][]float64, n)
			for v, pt := range ring {
				g[i][r][v] = []float64{pt[0], pt[1]}
			}
			if !closed && len(ring) > 0 {
				g[i][r][n-1] = []float64{ring[0][0], ring[0][1]}
			}
		}
	}
	return g
}

// fromPolygol opens the rings again: "the last point in the linear ring
// will not match the first point" for a geom.Polygon.
func fromPolygol(g polygol.Geom) geom.MultiPolygon {
	mp := make(geom.MultiPolygon, 0, len(g))
	for _, p := range g {
		polygon := make(geom.Polygon, 0, len(p))
		for _, ring := range p {
			if len(ring) > 1 {
				first, last := ring[0], ring[len(ring)-1]
				if first[0] == last[0] && first[1] == last[1] {
					ring = ring[:len(ring)-1]
				}
			}
			if len(ring) < 3 {
				continue
			}
			newRing := make([][2]float64, len(ring))
			for v, pt := range ring {
				newRing[v] = [2]float64{pt[0], pt[1]}
			}
			polygon = append(polygon, newRing)
		}
		if len(polygon) > 0 {
			mp = append(mp, polygon)
		}
	}
	return mp
}

func WktMustEncode(g geom.Geometry, maxLen uint) string {
	if maxLen == 0 {
		return wkt.MustEncode(g)
	}
	return truncate.StringWithTail(wkt.MustEncode(g), maxLen, "...")
}
