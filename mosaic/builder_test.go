package mosaic

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoquilt/quilt/catalog"
	"github.com/geoquilt/quilt/cover"
)

func buildAsset(id string, minX, minY, maxX, maxY float64) catalog.Asset {
	return catalog.Asset{
		ID: id,
		Footprint: geom.Polygon{{
			{minX, minY},
			{maxX, minY},
			{maxX, maxY},
			{minX, maxY},
		}},
		Keys:    map[string]float64{"scale": 24000, "year": 1950},
		Payload: json.RawMessage(`{"url":"s3://bucket/` + id + `.tif"}`),
	}
}

func buildOptions(t *testing.T) BuildOptions {
	t.Helper()
	selector, err := cover.NewOptions()
	require.NoError(t, err)
	return BuildOptions{
		Minzoom:  1,
		Maxzoom:  3,
		Workers:  2,
		Name:     "test mosaic",
		Selector: selector,
	}
}

func TestBuild(t *testing.T) {
	// one asset per western and eastern hemisphere, northern half only
	cat := catalog.Load([]catalog.Asset{
		buildAsset("a", -180, 0, 0, 86),
		buildAsset("b", 0, 0, 180, 86),
	}, []string{"scale", "year"})
	require.Equal(t, 2, cat.Len())

	doc, stats, err := Build(context.Background(), cat, buildOptions(t))
	require.NoError(t, err)

	assert.Equal(t, "0.0.2", doc.Schema)
	assert.Equal(t, "1.0.0", doc.Version)
	assert.Equal(t, "test mosaic", doc.Name)
	assert.Equal(t, uint(1), doc.Minzoom)
	assert.Equal(t, uint(3), doc.Maxzoom)
	assert.Equal(t, uint(1), doc.QuadkeyZoom)
	assert.Equal(t, []float64{-180, 0, 180, 86}, doc.Bounds)
	assert.Equal(t, []float64{0, 43, 1}, doc.Center)

	// the two northern tiles carry one payload each, the southern ones
	// intersect nothing and are left out
	require.Equal(t, 2, doc.Tiles.Len())
	west, ok := doc.Tiles.Get("0")
	require.True(t, ok)
	assert.Equal(t, []string{`{"url":"s3://bucket/a.tif"}`}, west)
	east, ok := doc.Tiles.Get("1")
	require.True(t, ok)
	assert.Equal(t, []string{`{"url":"s3://bucket/b.tif"}`}, east)

	assert.Equal(t, Stats{
		Tiles:          2,
		EmptyTiles:     2,
		PartialTiles:   0,
		DistinctAssets: 2,
	}, stats)
}

func TestBuildDeterministic(t *testing.T) {
	cat := catalog.Load([]catalog.Asset{
		buildAsset("a", -180, 0, 0, 86),
		buildAsset("b", -90, 0, 90, 86),
		buildAsset("c", 0, 0, 180, 86),
	}, []string{"scale", "year"})

	first, _, err := Build(context.Background(), cat, buildOptions(t))
	require.NoError(t, err)
	second, _, err := Build(context.Background(), cat, buildOptions(t))
	require.NoError(t, err)

	firstData, err := json.Marshal(first)
	require.NoError(t, err)
	secondData, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstData, secondData)
}

func TestBuildPartialCoverage(t *testing.T) {
	// a single asset that covers only part of its tile
	cat := catalog.Load([]catalog.Asset{
		buildAsset("a", -180, 40, -90, 80),
	}, []string{"scale", "year"})

	doc, stats, err := Build(context.Background(), cat, buildOptions(t))
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Tiles.Len())
	assert.Equal(t, uint(1), stats.Tiles)
	assert.Equal(t, uint(1), stats.PartialTiles)
}

func TestBuildEmptyCatalog(t *testing.T) {
	cat := catalog.Load(nil, []string{"scale", "year"})
	_, _, err := Build(context.Background(), cat, buildOptions(t))
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestBuildZoomBounds(t *testing.T) {
	cat := catalog.Load([]catalog.Asset{buildAsset("a", -180, 0, 0, 86)}, []string{"scale", "year"})

	opts := buildOptions(t)
	opts.Minzoom, opts.Maxzoom = 4, 2
	_, _, err := Build(context.Background(), cat, opts)
	assert.ErrorIs(t, err, ErrZoomBounds)

	opts = buildOptions(t)
	quadkeyZoom := uint(5)
	opts.QuadkeyZoom = &quadkeyZoom
	_, _, err = Build(context.Background(), cat, opts)
	assert.ErrorIs(t, err, ErrZoomBounds)
}

func TestBuildCancelled(t *testing.T) {
	cat := catalog.Load([]catalog.Asset{buildAsset("a", -180, 0, 0, 86)}, []string{"scale", "year"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Build(ctx, cat, buildOptions(t))
	assert.ErrorIs(t, err, context.Canceled)
}
