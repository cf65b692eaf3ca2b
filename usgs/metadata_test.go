package usgs

import (
	"strings"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metadataCSV = `Series,Scale,Imprint Year,Date On Map,Woodland Tint,Orthophoto,Cell ID,Scanner Resolution,W Long,S Lat,E Long,N Lat,Download Product S3
HTMC,25000,1979,1975,Y,,63532,600,-149.875,61.25,-149.75,61.375,https://prd-tnm.s3.amazonaws.com/StagedProducts/Maps/HistoricalTopo/PDF/AK/25000/AK_Anchorage%20A-7_353597_1979_25000_geo.pdf
HTMC,62500,,1954,N,,18156,600,-105.125,39.625,-105,39.75,https://prd-tnm.s3.amazonaws.com/StagedProducts/Maps/HistoricalTopo/PDF/CO/62500/CO_Morrison_450546_1954_62500_geo.pdf
US Topo,24000,2019,2019,,,18156,,-105.125,39.625,-105,39.75,https://prd-tnm.s3.amazonaws.com/StagedProducts/Maps/USTopo/PDF/CO/CO_Morrison_2019.pdf
`

func TestReadMetadata(t *testing.T) {
	records, err := ReadMetadata(strings.NewReader(metadataCSV))
	require.NoError(t, err)
	require.Len(t, records, 2)

	anchorage := records[0]
	assert.Equal(t, 25000.0, anchorage.Scale)
	assert.Equal(t, 1979.0, anchorage.Year)
	assert.Equal(t, "Y", anchorage.WoodlandTint)
	assert.Equal(t, "63532", anchorage.CellID)
	assert.Equal(t, 600.0, anchorage.ScannerResolution)
	assert.Equal(t,
		"StagedProducts/Maps/HistoricalTopo/GeoTIFF/AK/AK_Anchorage A-7_353597_1979_25000_geo.tif",
		anchorage.S3Key)
	assert.Equal(t, -149.875, anchorage.WLong)
	assert.Equal(t, 61.25, anchorage.SLat)
	assert.Equal(t, -149.75, anchorage.ELong)
	assert.Equal(t, 61.375, anchorage.NLat)

	// no imprint year, falls back to the date on the map
	assert.Equal(t, 1954.0, records[1].Year)
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{
			name:   "trailing digit stays attached",
			header: "Download Product S3",
			want:   "download_product_s3",
		},
		{
			name:   "plain words",
			header: "Imprint Year",
			want:   "imprint_year",
		},
		{
			name:   "surrounding whitespace",
			header: " Cell ID ",
			want:   "cell_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeHeader(tt.header))
		})
	}
}

func TestReadMetadataMissingColumn(t *testing.T) {
	_, err := ReadMetadata(strings.NewReader("Series,Scale\nHTMC,24000\n"))
	assert.ErrorContains(t, err, "download_product_s3")

	_, err = ReadMetadata(strings.NewReader("Series,Scale,Download Product S3\nHTMC,24000,x\n"))
	assert.ErrorContains(t, err, "cell_id")
}

func TestTIFKey(t *testing.T) {
	key, err := TIFKey("https://prd-tnm.s3.amazonaws.com/StagedProducts/Maps/HistoricalTopo/PDF/CO/62500/CO_Morrison_450546_1954_62500_geo.pdf")
	require.NoError(t, err)
	assert.Equal(t, "StagedProducts/Maps/HistoricalTopo/GeoTIFF/CO/CO_Morrison_450546_1954_62500_geo.tif", key)

	_, err = TIFKey("https://prd-tnm.s3.amazonaws.com/nope.pdf")
	assert.Error(t, err)
}

func TestReadS3List(t *testing.T) {
	list := `StagedProducts/Maps/HistoricalTopo/GeoTIFF/CO/CO_Morrison_450546_1954_62500_geo.tif
StagedProducts/Maps/HistoricalTopo/GeoTIFF/CO/readme.txt

StagedProducts/Maps/HistoricalTopo/GeoTIFF/AK/AK_Anchorage A-7_353597_1979_25000_geo.tif
`
	keys, err := ReadS3List(strings.NewReader(list))
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, "StagedProducts/Maps/HistoricalTopo/GeoTIFF/CO/CO_Morrison_450546_1954_62500_geo.tif")
}

func ptr[T any](v T) *T { return &v }

func TestFilterKeep(t *testing.T) {
	rec := Record{
		Scale:        62500,
		Year:         1954,
		WoodlandTint: "N",
		S3Key:        "StagedProducts/Maps/HistoricalTopo/GeoTIFF/CO/CO_Morrison_450546_1954_62500_geo.tif",
		WLong:        -105.125,
		SLat:         39.625,
		ELong:        -105,
		NLat:         39.75,
	}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{
			name:   "empty filter keeps",
			filter: Filter{AllowOrthophoto: true},
			want:   true,
		},
		{
			name:   "scale window keeps",
			filter: Filter{MinScale: ptr(24000.0), MaxScale: ptr(62500.0), AllowOrthophoto: true},
			want:   true,
		},
		{
			name:   "too coarse",
			filter: Filter{MaxScale: ptr(25000.0), AllowOrthophoto: true},
			want:   false,
		},
		{
			name:   "too old",
			filter: Filter{MinYear: ptr(1960.0), AllowOrthophoto: true},
			want:   false,
		},
		{
			name:   "woodland tint required",
			filter: Filter{WoodlandTint: ptr(true), AllowOrthophoto: true},
			want:   false,
		},
		{
			name:   "woodland tint excluded",
			filter: Filter{WoodlandTint: ptr(false), AllowOrthophoto: true},
			want:   true,
		},
		{
			name:   "outside bbox",
			filter: Filter{Extent: &geom.Extent{0, 0, 10, 10}, AllowOrthophoto: true},
			want:   false,
		},
		{
			name:   "inside bbox",
			filter: Filter{Extent: &geom.Extent{-106, 39, -104, 40}, AllowOrthophoto: true},
			want:   true,
		},
		{
			name:   "not on s3",
			filter: Filter{Exists: map[string]struct{}{"other.tif": {}}, AllowOrthophoto: true},
			want:   false,
		},
		{
			name:   "on s3",
			filter: Filter{Exists: map[string]struct{}{rec.S3Key: {}}, AllowOrthophoto: true},
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Keep(rec))
		})
	}
}

func TestFilterOrthophoto(t *testing.T) {
	ortho := Record{Scale: 24000, Year: 1970, Orthophoto: "Y"}
	assert.False(t, Filter{}.Keep(ortho))
	assert.True(t, Filter{AllowOrthophoto: true}.Keep(ortho))
}

func TestApply(t *testing.T) {
	records := []Record{
		{Scale: 24000, Year: 1950},
		{Scale: 250000, Year: 1950},
		{Scale: 24000, Year: 1990},
	}
	kept := Apply(records, Filter{MaxScale: ptr(63360.0), MaxYear: ptr(1960.0), AllowOrthophoto: true})
	require.Len(t, kept, 1)
	assert.Equal(t, 24000.0, kept[0].Scale)
}

func TestRecordAsset(t *testing.T) {
	rec := Record{
		Scale:  62500,
		Year:   1954,
		CellID: "18156",
		S3Key:  "StagedProducts/Maps/HistoricalTopo/GeoTIFF/CO/CO_Morrison_450546_1954_62500_geo.tif",
		WLong:  -105.125,
		SLat:   39.625,
		ELong:  -105,
		NLat:   39.75,
	}
	asset := rec.Asset()
	assert.Equal(t, rec.S3Key, asset.ID)
	assert.Equal(t, geom.Polygon{{
		{-105.125, 39.625},
		{-105, 39.625},
		{-105, 39.75},
		{-105.125, 39.75},
	}}, asset.Footprint)
	assert.Equal(t, map[string]float64{"scale": 62500, "year": 1954}, asset.Keys)
	assert.Equal(t, "18156", asset.Group)
	assert.JSONEq(t,
		`{"url":"s3://prd-tnm/StagedProducts/Maps/HistoricalTopo/GeoTIFF/CO/CO_Morrison_450546_1954_62500_geo.tif","map_bounds":[-105.125,39.625,-105,39.75]}`,
		string(asset.Payload))
}
