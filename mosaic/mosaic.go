// Package mosaic assembles per-tile cover selections into a MosaicJSON
// document, the portable index consumers resolve tiles against.
// See https://github.com/developmentseed/mosaicjson-spec
package mosaic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom/slippy"
	"github.com/perimeterx/marshmallow"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/geoquilt/quilt/tiling"
)

// MosaicJSON is the index document, schema version 0.0.2: global zoom
// bounds, the quadkey zoom the cover was computed at, and a mapping from
// quadkey to the ordered asset list for that tile.
type MosaicJSON struct {
	Schema      string    `validate:"required" default:"0.0.2" json:"mosaicjson"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Version     string    `validate:"required" default:"1.0.0" json:"version"`
	Attribution string    `json:"attribution,omitempty"`
	Minzoom     uint      `validate:"max=30" json:"minzoom"`
	Maxzoom     uint      `validate:"gtefield=Minzoom,max=30" json:"maxzoom"`
	QuadkeyZoom uint      `validate:"gtefield=Minzoom,ltefield=Maxzoom" json:"quadkey_zoom"`
	Bounds      []float64 `validate:"required,len=4" json:"bounds"`
	Center      []float64 `validate:"required,len=3" json:"center"`
	// Tiles is keyed by quadkey, in ascending quadkey order so the
	// marshalled document is deterministic
	Tiles *orderedmap.OrderedMap[string, []string] `validate:"required" json:"-"`
}

func (m *MosaicJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MosaicJSON                                               // not a pointer, because it would cause recursion to this function
		SpecialTiles *orderedmap.OrderedMap[string, []string] `json:"tiles"`
	}{
		MosaicJSON:   *m,
		SpecialTiles: m.Tiles,
	})
}

// UnmarshalJSON tolerates unknown keys, MosaicJSON documents in the wild
// carry extensions.
func (m *MosaicJSON) UnmarshalJSON(data []byte) error {
	err := defaults.Set(m)
	if err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, m, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawTiles, ok := specials["tiles"]
	if !ok {
		return fmt.Errorf(`missing key "tiles"`)
	}
	m.Tiles, err = unmarshalTiles(rawTiles)
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(m)
}

func unmarshalTiles(rawTiles interface{}) (*orderedmap.OrderedMap[string, []string], error) {
	rawTilesMap, ok := rawTiles.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`"tiles" should be an object`)
	}
	quadkeys := maps.Keys(rawTilesMap)
	slices.Sort(quadkeys)

	tiles := orderedmap.New[string, []string](len(rawTilesMap))
	for _, quadkey := range quadkeys {
		rawAssets, ok := rawTilesMap[quadkey].([]interface{})
		if !ok {
			return nil, fmt.Errorf(`tile %q should hold an array`, quadkey)
		}
		assets := make([]string, len(rawAssets))
		for i, rawAsset := range rawAssets {
			assets[i], ok = rawAsset.(string)
			if !ok {
				return nil, fmt.Errorf(`tile %q should hold strings`, quadkey)
			}
		}
		tiles.Set(quadkey, assets)
	}
	return tiles, nil
}

func Read(data []byte) (*MosaicJSON, error) {
	var m MosaicJSON
	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AssetsForTile resolves the ordered asset list for a tile at any zoom
// within the document's bounds. Above the quadkey zoom the containing
// ancestor tile is looked up, below it the descendants are merged in
// quadkey order.
func (m *MosaicJSON) AssetsForTile(tile *slippy.Tile) []string {
	quadkey := tiling.Quadkey(tile)
	if tile.Z >= m.QuadkeyZoom {
		assets, _ := m.Tiles.Get(quadkey[:m.QuadkeyZoom])
		return assets
	}

	var assets []string
	seen := make(map[string]struct{})
	for pair := m.Tiles.Oldest(); pair != nil; pair = pair.Next() {
		if !strings.HasPrefix(pair.Key, quadkey) {
			continue
		}
		for _, asset := range pair.Value {
			if _, dupe := seen[asset]; dupe {
				continue
			}
			seen[asset] = struct{}{}
			assets = append(assets, asset)
		}
	}
	return assets
}
