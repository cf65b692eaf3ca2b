package tiling

import (
	"math"

	"github.com/geoquilt/quilt/mathhelp"
)

const (
	// TileSize is the pixel size used for resolution calculations
	TileSize = 512

	earthRadius        = 6378137.0
	earthCircumference = 2 * math.Pi * earthRadius

	maxPixelZoom = 24
)

// Resolution returns the Web Mercator ground resolution in meters per
// pixel at the equator for the given zoom.
func Resolution(zoom uint) float64 {
	return earthCircumference / float64(TileSize*mathhelp.Pow2(zoom))
}

// ZoomForPixelSize returns the deepest zoom whose resolution is at least
// as fine as the given pixel size in meters.
func ZoomForPixelSize(pixelSize float64) uint {
	for zoom := uint(0); zoom < maxPixelZoom; zoom++ {
		if pixelSize > Resolution(zoom) {
			if zoom == 0 {
				return 0
			}
			return zoom - 1
		}
	}
	return maxPixelZoom - 1
}

// GroundResolution returns the scanned map's ground sample distance in
// meters per pixel, from its map scale and scan resolution in DPI.
// Ref: https://gis.stackexchange.com/a/85322
func GroundResolution(scale, dpi float64) float64 {
	return 0.0254 / dpi * scale
}

// DefaultMaxZoom derives a catalog-wide maxzoom: the 75th percentile of
// the per-asset zoom levels.
func DefaultMaxZoom(zooms []uint) uint {
	values := make([]float64, len(zooms))
	for i, zoom := range zooms {
		values[i] = float64(zoom)
	}
	return uint(math.Round(mathhelp.Percentile(values, 0.75)))
}

// DefaultMinZoom is 5 levels above maxzoom, clamped at 0.
func DefaultMinZoom(maxzoom uint) uint {
	if maxzoom < 5 {
		return 0
	}
	return maxzoom - 5
}
