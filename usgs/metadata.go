// Package usgs loads the USGS historical topographic map bulk metadata
// dump and turns it into catalog assets. This is the collaborator layer
// in front of the cover computation: plain record filtering, nothing
// geometric beyond footprint boxes.
package usgs

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"

	"github.com/geoquilt/quilt/catalog"
)

// Only the historical series is available as GeoTIFF, newer maps are
// GeoPDF only.
const historicalSeries = "HTMC"

const s3Bucket = "prd-tnm"

// Record is one row of the bulk metadata dump that survived the series
// filter, with the derived fields already in place.
type Record struct {
	Scale float64
	// Year is the imprint year, falling back to the date on the map
	Year              float64
	ScannerResolution float64
	WoodlandTint      string
	Orthophoto        string
	CellID            string
	// S3Key is the GeoTIFF object key reconstructed from the GeoPDF
	// download URL, empty if the URL was malformed
	S3Key                  string
	WLong, SLat, ELong, NLat float64
}

// ReadMetadata parses the bulk metadata CSV. Header names are
// normalized to snake case. Only HTMC records are returned.
func ReadMetadata(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading metadata header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[normalizeHeader(name)] = i
	}
	for _, required := range []string{"series", "scale", "download_product_s3", "cell_id", "w_long", "s_lat", "e_long", "n_lat"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("metadata is missing column %q", required)
		}
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading metadata row: %w", err)
		}
		field := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if field("series") != historicalSeries {
			continue
		}

		year := parseFloat(field("imprint_year"))
		if math.IsNaN(year) {
			year = parseFloat(field("date_on_map"))
		}
		key, _ := TIFKey(field("download_product_s3"))

		records = append(records, Record{
			Scale:             parseFloat(field("scale")),
			Year:              year,
			ScannerResolution: parseFloat(field("scanner_resolution")),
			WoodlandTint:      field("woodland_tint"),
			Orthophoto:        field("orthophoto"),
			CellID:            field("cell_id"),
			S3Key:             key,
			WLong:             parseFloat(field("w_long")),
			SLat:              parseFloat(field("s_lat")),
			ELong:             parseFloat(field("e_long")),
			NLat:              parseFloat(field("n_lat")),
		})
	}
	return records, nil
}

// normalizeHeader maps a CSV header name to its column key. Plain
// lowercase-and-underscore, so "Download Product S3" keeps its trailing
// digit as "download_product_s3".
func normalizeHeader(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func parseFloat(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// TIFKey reconstructs the S3 GeoTIFF object key from the HTTP GeoPDF
// download URL. The bucket is not part of the key. The scale directory
// is skipped, GeoTIFFs are not organized by scale.
func TIFKey(downloadURL string) (string, error) {
	unescaped, err := url.PathUnescape(downloadURL)
	if err != nil {
		return "", fmt.Errorf("unescaping download url %q: %w", downloadURL, err)
	}
	parts := strings.Split(unescaped, "/")
	if len(parts) < 10 {
		return "", fmt.Errorf("unexpected download url %q", downloadURL)
	}
	return strings.Join(parts[3:6], "/") + "/GeoTIFF/" + parts[7] + "/" +
		strings.Replace(parts[9], ".pdf", ".tif", 1), nil
}

// ReadS3List reads a listing of object keys, keeping only GeoTIFFs.
func ReadS3List(r io.Reader) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasSuffix(line, ".tif") {
			keys[line] = struct{}{}
		}
	}
	return keys, scanner.Err()
}

// Filter holds the business rules applied before the catalog is built.
// Nil pointer fields are not applied.
type Filter struct {
	MinScale, MaxScale *float64
	MinYear, MaxYear   *float64
	WoodlandTint       *bool
	AllowOrthophoto    bool
	Extent             *geom.Extent
	// Exists restricts to GeoTIFFs known to be on S3
	Exists map[string]struct{}
}

func (f Filter) Keep(rec Record) bool {
	if f.MinScale != nil && !(rec.Scale >= *f.MinScale) {
		return false
	}
	if f.MaxScale != nil && !(rec.Scale <= *f.MaxScale) {
		return false
	}
	if f.MinYear != nil && !(rec.Year >= *f.MinYear) {
		return false
	}
	if f.MaxYear != nil && !(rec.Year <= *f.MaxYear) {
		return false
	}
	if f.WoodlandTint != nil {
		if *f.WoodlandTint && rec.WoodlandTint != "Y" {
			return false
		}
		if !*f.WoodlandTint && rec.WoodlandTint != "N" {
			return false
		}
	}
	if !f.AllowOrthophoto && rec.Orthophoto != "" {
		return false
	}
	if f.Extent != nil {
		if rec.WLong > f.Extent.MaxX() || rec.ELong < f.Extent.MinX() ||
			rec.SLat > f.Extent.MaxY() || rec.NLat < f.Extent.MinY() {
			return false
		}
	}
	if f.Exists != nil {
		if _, ok := f.Exists[rec.S3Key]; !ok {
			return false
		}
	}
	return true
}

func Apply(records []Record, filter Filter) []Record {
	var kept []Record
	for _, rec := range records {
		if filter.Keep(rec) {
			kept = append(kept, rec)
		}
	}
	return kept
}

type payload struct {
	URL       string     `json:"url"`
	MapBounds [4]float64 `json:"map_bounds"`
}

// Asset turns the record into a catalog asset. The payload is what the
// index consumer gets back per asset: the S3 url and the map's bounds.
func (rec Record) Asset() catalog.Asset {
	bounds := [4]float64{rec.WLong, rec.SLat, rec.ELong, rec.NLat}
	raw, _ := json.Marshal(payload{
		URL:       "s3://" + s3Bucket + "/" + rec.S3Key,
		MapBounds: bounds,
	})
	return catalog.Asset{
		ID: rec.S3Key,
		Footprint: geom.Polygon{{
			{rec.WLong, rec.SLat},
			{rec.ELong, rec.SLat},
			{rec.ELong, rec.NLat},
			{rec.WLong, rec.NLat},
		}},
		Keys:    map[string]float64{"scale": rec.Scale, "year": rec.Year},
		Group:   rec.CellID,
		Payload: raw,
	}
}

func Assets(records []Record) []catalog.Asset {
	assets := make([]catalog.Asset, len(records))
	for i, rec := range records {
		assets[i] = rec.Asset()
	}
	return assets
}
