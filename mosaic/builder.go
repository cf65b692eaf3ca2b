package mosaic

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-spatial/geom/slippy"
	"github.com/umpc/go-sortedmap"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/geoquilt/quilt/catalog"
	"github.com/geoquilt/quilt/cover"
	"github.com/geoquilt/quilt/overlay"
	"github.com/geoquilt/quilt/tiling"
)

var (
	ErrEmptyCatalog  = errors.New("catalog has no valid assets")
	ErrZoomBounds    = errors.New("inconsistent zoom bounds")
	ErrDuplicateTile = errors.New("duplicate tile key")
)

type BuildOptions struct {
	Minzoom uint
	Maxzoom uint
	// QuadkeyZoom is the zoom the cover runs at; nil means minzoom
	QuadkeyZoom *uint
	// Workers is the number of parallel tile selections, default NumCPU
	Workers     int
	Name        string
	Attribution string
	Selector    cover.Options
}

type Stats struct {
	// Tiles with at least one selected asset
	Tiles uint
	// Tiles without any intersecting asset, left out of the document
	EmptyTiles uint
	// Tiles whose candidate pool ran out before full coverage
	PartialTiles   uint
	DistinctAssets int
}

type tileResult struct {
	quadkey string
	ids     []string
	assets  []string
	covered bool
	err     error
}

// Build runs the cover selection for every tile at the quadkey zoom and
// assembles the MosaicJSON document. Tiles are independent and are
// selected by a worker pool; a single collector merges the results in
// quadkey order. Cancelling the context stops before further tiles are
// handed out.
//
//nolint:funlen
func Build(ctx context.Context, cat *catalog.Catalog, opts BuildOptions) (*MosaicJSON, Stats, error) {
	var stats Stats
	if cat.Len() == 0 {
		return nil, stats, ErrEmptyCatalog
	}
	if opts.Minzoom > opts.Maxzoom {
		return nil, stats, fmt.Errorf("%w: minzoom %d > maxzoom %d", ErrZoomBounds, opts.Minzoom, opts.Maxzoom)
	}
	quadkeyZoom := opts.Minzoom
	if opts.QuadkeyZoom != nil {
		quadkeyZoom = *opts.QuadkeyZoom
	}
	if quadkeyZoom < opts.Minzoom || quadkeyZoom > opts.Maxzoom {
		return nil, stats, fmt.Errorf("%w: quadkey zoom %d outside [%d,%d]", ErrZoomBounds, quadkeyZoom, opts.Minzoom, opts.Maxzoom)
	}
	if err := opts.Selector.Validate(); err != nil {
		return nil, stats, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	extent := cat.Extent()
	it := tiling.NewIterator(extent, quadkeyZoom)

	jobs := make(chan *slippy.Tile)
	results := make(chan tileResult)

	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range jobs {
				results <- selectTile(tile, cat, opts.Selector)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for {
			tile, ok := it.Next()
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- tile:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	// single writer: merge in quadkey order, guard against duplicates
	sorted := sortedmap.New(int(it.Count()), func(i, j interface{}) bool {
		return i.(tileResult).quadkey < j.(tileResult).quadkey
	})
	var buildErr error
	for result := range results {
		if result.err != nil {
			if buildErr == nil {
				buildErr = result.err
			}
			continue
		}
		if !sorted.Insert(result.quadkey, result) && buildErr == nil {
			buildErr = fmt.Errorf("%w: %s", ErrDuplicateTile, result.quadkey)
		}
	}
	if buildErr != nil {
		return nil, stats, buildErr
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	tiles := orderedmap.New[string, []string](sorted.Len())
	distinct := make(map[string]struct{})
	for _, key := range sorted.Keys() {
		value, _ := sorted.Get(key)
		result := value.(tileResult)
		if len(result.assets) == 0 {
			stats.EmptyTiles++
			continue
		}
		tiles.Set(result.quadkey, result.assets)
		stats.Tiles++
		if !result.covered {
			stats.PartialTiles++
		}
		for _, id := range result.ids {
			distinct[id] = struct{}{}
		}
	}
	stats.DistinctAssets = len(distinct)

	doc := &MosaicJSON{
		Name:        opts.Name,
		Attribution: opts.Attribution,
		Minzoom:     opts.Minzoom,
		Maxzoom:     opts.Maxzoom,
		QuadkeyZoom: quadkeyZoom,
		Bounds:      []float64{extent.MinX(), extent.MinY(), extent.MaxX(), extent.MaxY()},
		Center: []float64{
			(extent.MinX() + extent.MaxX()) / 2,
			(extent.MinY() + extent.MaxY()) / 2,
			float64(opts.Minzoom),
		},
		Tiles: tiles,
	}
	if err := defaults.Set(doc); err != nil {
		return nil, stats, err
	}
	return doc, stats, nil
}

func selectTile(tile *slippy.Tile, cat *catalog.Catalog, opts cover.Options) tileResult {
	result := tileResult{quadkey: tiling.Quadkey(tile)}

	candidates, err := tiling.CandidatesFor(tile, cat)
	if err != nil {
		result.err = tileError(tile, result.quadkey, err)
		return result
	}
	selection, err := cover.Select(tiling.TilePolygon(tile), candidates, opts)
	if err != nil {
		result.err = tileError(tile, result.quadkey, err)
		return result
	}

	result.covered = selection.Covered
	for _, asset := range selection.Assets {
		result.ids = append(result.ids, asset.ID)
		result.assets = append(result.assets, string(asset.Payload))
	}
	return result
}

func tileError(tile *slippy.Tile, quadkey string, err error) error {
	return fmt.Errorf("tile %s (%s): %w", quadkey, overlay.WktMustEncode(tiling.TilePolygon(tile), 80), err)
}
