package mosaicdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/geoquilt/quilt/mosaic"
)

func testDocument() *mosaic.MosaicJSON {
	tiles := orderedmap.New[string, []string](3)
	tiles.Set("00", []string{`{"url":"s3://bucket/a.tif"}`, `{"url":"s3://bucket/b.tif"}`})
	tiles.Set("01", []string{`{"url":"s3://bucket/b.tif"}`})
	tiles.Set("02", []string{`{"url":"s3://bucket/c.tif"}`})
	return &mosaic.MosaicJSON{
		Schema:      "0.0.2",
		Name:        "test",
		Description: "round trip",
		Version:     "1.0.0",
		Attribution: "nobody",
		Minzoom:     2,
		Maxzoom:     4,
		QuadkeyZoom: 2,
		Bounds:      []float64{-180, 0, 0, 85},
		Center:      []float64{-90, 42.5, 2},
		Tiles:       tiles,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "mosaic.db"), 0)
	require.NoError(t, err)
	defer db.Close()

	doc := testDocument()
	require.NoError(t, db.Write(doc))

	got, err := db.Read()
	require.NoError(t, err)

	wantData, err := doc.MarshalJSON()
	require.NoError(t, err)
	gotData, err := got.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(wantData), string(gotData))
}

func TestWriteSmallPages(t *testing.T) {
	// pagesize below the tile count forces multiple transactions
	db, err := Open(filepath.Join(t.TempDir(), "mosaic.db"), 2)
	require.NoError(t, err)
	defer db.Close()

	doc := testDocument()
	require.NoError(t, db.Write(doc))

	got, err := db.Read()
	require.NoError(t, err)
	assert.Equal(t, doc.Tiles.Len(), got.Tiles.Len())
	assets, ok := got.Tiles.Get("02")
	require.True(t, ok)
	assert.Equal(t, []string{`{"url":"s3://bucket/c.tif"}`}, assets)
}

func TestWriteOverwrites(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "mosaic.db"), 0)
	require.NoError(t, err)
	defer db.Close()

	doc := testDocument()
	require.NoError(t, db.Write(doc))

	doc.Name = "renamed"
	doc.Tiles.Set("00", []string{`{"url":"s3://bucket/d.tif"}`})
	require.NoError(t, db.Write(doc))

	got, err := db.Read()
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assets, ok := got.Tiles.Get("00")
	require.True(t, ok)
	assert.Equal(t, []string{`{"url":"s3://bucket/d.tif"}`}, assets)
}
