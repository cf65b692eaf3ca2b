// Package tiling implements the WebMercatorQuad tile pyramid over
// geographic coordinates: tile bounds, quadkeys, tile enumeration for an
// extent and per-tile candidate gathering.
package tiling

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"

	"github.com/geoquilt/quilt/mathhelp"
)

// Web Mercator is only defined up to this latitude
const latLimit = 85.0511287798066

// TileExtent returns the geographic bounds of a tile.
func TileExtent(tile *slippy.Tile) geom.Extent {
	n := float64(mathhelp.Pow2(tile.Z))
	minLon := float64(tile.X)/n*360 - 180
	maxLon := float64(tile.X+1)/n*360 - 180
	maxLat := yToLat(float64(tile.Y), n)
	minLat := yToLat(float64(tile.Y+1), n)
	return geom.Extent{minLon, minLat, maxLon, maxLat}
}

// TilePolygon returns the tile's geographic bounds as a single-ring polygon.
func TilePolygon(tile *slippy.Tile) geom.Polygon {
	extent := TileExtent(tile)
	return geom.Polygon{{
		{extent.MinX(), extent.MinY()},
		{extent.MaxX(), extent.MinY()},
		{extent.MaxX(), extent.MaxY()},
		{extent.MinX(), extent.MaxY()},
	}}
}

// FromNative returns the tile at the given zoom containing the geographic
// point. Points outside the pyramid are clamped onto its edge tiles.
func FromNative(zoom uint, pt geom.Point) *slippy.Tile {
	n := mathhelp.Pow2(zoom)
	nf := float64(n)

	x := int(math.Floor((pt.X() + 180) / 360 * nf))
	x = mathhelp.Clamp(x, 0, int(n)-1)

	lat := mathhelp.Clamp(pt.Y(), -latLimit, latLimit)
	latRad := lat * math.Pi / 180
	y := int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * nf))
	y = mathhelp.Clamp(y, 0, int(n)-1)

	return slippy.NewTile(zoom, uint(x), uint(y))
}

func yToLat(y, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180 / math.Pi
}

// Quadkey encodes the tile as a base-4 path, one digit per zoom level.
func Quadkey(tile *slippy.Tile) string {
	digits := make([]byte, tile.Z)
	for i := uint(0); i < tile.Z; i++ {
		digit := byte('0')
		mask := uint(1) << (tile.Z - i - 1)
		if tile.X&mask != 0 {
			digit++
		}
		if tile.Y&mask != 0 {
			digit += 2
		}
		digits[i] = digit
	}
	return string(digits)
}

func FromQuadkey(quadkey string) (*slippy.Tile, error) {
	var x, y uint
	zoom := uint(len(quadkey))
	for i, digit := range []byte(quadkey) {
		mask := uint(1) << (zoom - uint(i) - 1)
		switch digit {
		case '0':
		case '1':
			x |= mask
		case '2':
			y |= mask
		case '3':
			x |= mask
			y |= mask
		default:
			return nil, fmt.Errorf("invalid quadkey %q", quadkey)
		}
	}
	return slippy.NewTile(zoom, x, y), nil
}

// Iterator enumerates every tile at a zoom level whose bounds overlap an
// extent, row by row. It is finite and restartable.
type Iterator struct {
	zoom                   uint
	minX, maxX, minY, maxY uint
	x, y                   uint
	done                   bool
}

func NewIterator(extent geom.Extent, zoom uint) *Iterator {
	topLeft := FromNative(zoom, geom.Point{extent.MinX(), extent.MaxY()})
	bottomRight := FromNative(zoom, geom.Point{extent.MaxX(), extent.MinY()})
	it := &Iterator{
		zoom: zoom,
		minX: topLeft.X, maxX: bottomRight.X,
		minY: topLeft.Y, maxY: bottomRight.Y,
	}
	it.Reset()
	return it
}

func (it *Iterator) Reset() {
	it.x = it.minX
	it.y = it.minY
	it.done = false
}

func (it *Iterator) Count() uint {
	return (it.maxX - it.minX + 1) * (it.maxY - it.minY + 1)
}

func (it *Iterator) Next() (*slippy.Tile, bool) {
	if it.done {
		return nil, false
	}
	tile := slippy.NewTile(it.zoom, it.x, it.y)
	if it.x < it.maxX {
		it.x++
	} else if it.y < it.maxY {
		it.x = it.minX
		it.y++
	} else {
		it.done = true
	}
	return tile, true
}
