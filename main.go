package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-spatial/geom"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/geoquilt/quilt/catalog"
	"github.com/geoquilt/quilt/cover"
	"github.com/geoquilt/quilt/mosaic"
	"github.com/geoquilt/quilt/mosaicdb"
	"github.com/geoquilt/quilt/tiling"
	"github.com/geoquilt/quilt/usgs"
)

const METAPATH string = `metaPath`
const S3LISTPATH string = `s3ListPath`
const MINSCALE string = `minScale`
const MAXSCALE string = `maxScale`
const MINYEAR string = `minYear`
const MAXYEAR string = `maxYear`
const WOODLANDTINT string = `woodlandTint`
const NOWOODLANDTINT string = `noWoodlandTint`
const ALLOWORTHOPHOTO string = `allowOrthophoto`
const BBOX string = `bbox`
const MINZOOM string = `minzoom`
const MAXZOOM string = `maxzoom`
const QUADKEYZOOM string = `quadkeyZoom`
const EPSILON string = `epsilon`
const WORKERS string = `workers`
const NAME string = `name`
const ATTRIBUTION string = `attribution`
const OUTPUT string = `output`
const SQLITE string = `sqlite`
const PAGESIZE string = `pagesize`

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "quilt"
	app.Usage = "Derives a MosaicJSON index over the USGS historical topo catalog"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     METAPATH,
			Aliases:  []string{"m"},
			Usage:    "Path to csv file of USGS bulk metadata dump from S3",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(METAPATH)},
		},
		&cli.StringFlag{
			Name:     S3LISTPATH,
			Usage:    "Path to txt file of list of s3 GeoTIFF files",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(S3LISTPATH)},
		},
		&cli.Float64Flag{
			Name:    MINSCALE,
			Usage:   "Minimum map scale, inclusive",
			EnvVars: []string{strcase.ToScreamingSnake(MINSCALE)},
		},
		&cli.Float64Flag{
			Name:    MAXSCALE,
			Usage:   "Maximum map scale, inclusive",
			EnvVars: []string{strcase.ToScreamingSnake(MAXSCALE)},
		},
		&cli.Float64Flag{
			Name:    MINYEAR,
			Usage:   "Minimum map year, inclusive",
			EnvVars: []string{strcase.ToScreamingSnake(MINYEAR)},
		},
		&cli.Float64Flag{
			Name:    MAXYEAR,
			Usage:   "Maximum map year, inclusive",
			EnvVars: []string{strcase.ToScreamingSnake(MAXYEAR)},
		},
		&cli.BoolFlag{
			Name:    WOODLANDTINT,
			Usage:   "Keep only maps with woodland tint",
			EnvVars: []string{strcase.ToScreamingSnake(WOODLANDTINT)},
		},
		&cli.BoolFlag{
			Name:    NOWOODLANDTINT,
			Usage:   "Keep only maps without woodland tint",
			EnvVars: []string{strcase.ToScreamingSnake(NOWOODLANDTINT)},
		},
		&cli.BoolFlag{
			Name:    ALLOWORTHOPHOTO,
			Usage:   "Allow orthophoto",
			EnvVars: []string{strcase.ToScreamingSnake(ALLOWORTHOPHOTO)},
		},
		&cli.StringFlag{
			Name:    BBOX,
			Usage:   `Bounding box for mosaic. Must be of format "minx,miny,maxx,maxy"`,
			EnvVars: []string{strcase.ToScreamingSnake(BBOX)},
		},
		&cli.UintFlag{
			Name:    MINZOOM,
			Aliases: []string{"z"},
			Usage:   "Force mosaic minzoom. Default: maxzoom - 5",
			EnvVars: []string{strcase.ToScreamingSnake(MINZOOM)},
		},
		&cli.UintFlag{
			Name:    MAXZOOM,
			Aliases: []string{"Z"},
			Usage:   "Force mosaic maxzoom. Default: 75th percentile of the asset scan resolutions",
			EnvVars: []string{strcase.ToScreamingSnake(MAXZOOM)},
		},
		&cli.UintFlag{
			Name:    QUADKEYZOOM,
			Usage:   "Force mosaic quadkey zoom. Default: minzoom",
			EnvVars: []string{strcase.ToScreamingSnake(QUADKEYZOOM)},
		},
		&cli.Float64Flag{
			Name:    EPSILON,
			Usage:   "Residual area (in square degrees) below which a tile counts as fully covered",
			Value:   1e-4,
			EnvVars: []string{strcase.ToScreamingSnake(EPSILON)},
		},
		&cli.IntFlag{
			Name:    WORKERS,
			Usage:   "Number of parallel tile selections. Default: number of CPUs",
			EnvVars: []string{strcase.ToScreamingSnake(WORKERS)},
		},
		&cli.StringFlag{
			Name:    NAME,
			Usage:   "Mosaic name recorded in the document",
			Value:   "usgs-topo",
			EnvVars: []string{strcase.ToScreamingSnake(NAME)},
		},
		&cli.StringFlag{
			Name:    ATTRIBUTION,
			Usage:   "Attribution recorded in the document",
			Value:   "USGS Historical Topographic Map Collection",
			EnvVars: []string{strcase.ToScreamingSnake(ATTRIBUTION)},
		},
		&cli.StringFlag{
			Name:    OUTPUT,
			Aliases: []string{"o"},
			Usage:   "Write the MosaicJSON document to this file instead of stdout",
			EnvVars: []string{strcase.ToScreamingSnake(OUTPUT)},
		},
		&cli.StringFlag{
			Name:    SQLITE,
			Usage:   "Also persist the mosaic into this SQLite database",
			EnvVars: []string{strcase.ToScreamingSnake(SQLITE)},
		},
		&cli.IntFlag{
			Name:    PAGESIZE,
			Aliases: []string{"p"},
			Usage:   "Page Size, how many tiles are written per transaction to the SQLite database",
			Value:   1000,
			EnvVars: []string{strcase.ToScreamingSnake(PAGESIZE)},
		},
	}

	app.Action = func(c *cli.Context) error {
		records, err := loadRecords(c)
		if err != nil {
			return err
		}
		log.Printf("  metadata records after filtering: %d", len(records))

		selectorOpts, err := cover.NewOptions()
		if err != nil {
			return err
		}
		selectorOpts.Epsilon = c.Float64(EPSILON)

		cat := catalog.Load(usgs.Assets(records), selectorOpts.KeyFields())
		if cat.Rejected() > 0 {
			log.Printf("  rejected %d invalid records", cat.Rejected())
		}

		buildOpts, err := zoomBounds(c, records)
		if err != nil {
			return err
		}
		buildOpts.Workers = c.Int(WORKERS)
		buildOpts.Name = c.String(NAME)
		buildOpts.Attribution = c.String(ATTRIBUTION)
		buildOpts.Selector = selectorOpts

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		log.Println("=== start covering ===")
		doc, stats, err := mosaic.Build(ctx, cat, buildOpts)
		if err != nil {
			return err
		}
		log.Printf("             tiles: %d", stats.Tiles)
		log.Printf("       empty tiles: %d", stats.EmptyTiles)
		log.Printf("     partial tiles: %d", stats.PartialTiles)
		log.Printf("   distinct assets: %d", stats.DistinctAssets)
		log.Println("=== done covering ===")

		return writeMosaic(c, doc)
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func loadRecords(c *cli.Context) ([]usgs.Record, error) {
	metaFile, err := os.Open(c.String(METAPATH))
	if err != nil {
		return nil, fmt.Errorf("error opening metadata csv: %w", err)
	}
	defer metaFile.Close()
	records, err := usgs.ReadMetadata(metaFile)
	if err != nil {
		return nil, err
	}
	log.Printf("  metadata records: %d", len(records))

	filter, err := recordFilter(c)
	if err != nil {
		return nil, err
	}
	return usgs.Apply(records, filter), nil
}

//nolint:cyclop
func recordFilter(c *cli.Context) (usgs.Filter, error) {
	var filter usgs.Filter
	if c.IsSet(MINSCALE) {
		minScale := c.Float64(MINSCALE)
		filter.MinScale = &minScale
	}
	if c.IsSet(MAXSCALE) {
		maxScale := c.Float64(MAXSCALE)
		filter.MaxScale = &maxScale
	}
	if c.IsSet(MINYEAR) {
		minYear := c.Float64(MINYEAR)
		filter.MinYear = &minYear
	}
	if c.IsSet(MAXYEAR) {
		maxYear := c.Float64(MAXYEAR)
		filter.MaxYear = &maxYear
	}
	if c.Bool(WOODLANDTINT) && c.Bool(NOWOODLANDTINT) {
		return filter, fmt.Errorf("--%s and --%s are mutually exclusive", WOODLANDTINT, NOWOODLANDTINT)
	}
	if c.Bool(WOODLANDTINT) || c.Bool(NOWOODLANDTINT) {
		woodlandTint := c.Bool(WOODLANDTINT)
		filter.WoodlandTint = &woodlandTint
	}
	filter.AllowOrthophoto = c.Bool(ALLOWORTHOPHOTO)

	if c.IsSet(BBOX) {
		extent, err := parseBbox(c.String(BBOX))
		if err != nil {
			return filter, err
		}
		filter.Extent = extent
	}
	if c.IsSet(S3LISTPATH) {
		listFile, err := os.Open(c.String(S3LISTPATH))
		if err != nil {
			return filter, fmt.Errorf("error opening s3 list: %w", err)
		}
		defer listFile.Close()
		filter.Exists, err = usgs.ReadS3List(listFile)
		if err != nil {
			return filter, err
		}
	}
	return filter, nil
}

func parseBbox(s string) (*geom.Extent, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 comma-separated values, got %q", s)
	}
	var extent geom.Extent
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox value %q: %w", part, err)
		}
		extent[i] = value
	}
	return &extent, nil
}

// zoomBounds resolves the zoom configuration: explicit flags win, the
// maxzoom default is the 75th percentile of the per-asset zoom levels
// derived from map scale and scan resolution.
func zoomBounds(c *cli.Context, records []usgs.Record) (mosaic.BuildOptions, error) {
	var opts mosaic.BuildOptions
	if c.IsSet(MAXZOOM) {
		opts.Maxzoom = c.Uint(MAXZOOM)
	} else {
		var zooms []uint
		for _, rec := range records {
			if rec.Scale > 0 && rec.ScannerResolution > 0 {
				zooms = append(zooms, tiling.ZoomForPixelSize(tiling.GroundResolution(rec.Scale, rec.ScannerResolution)))
			}
		}
		if len(zooms) == 0 {
			return opts, fmt.Errorf("cannot derive maxzoom, no records with scale and scanner resolution")
		}
		opts.Maxzoom = tiling.DefaultMaxZoom(zooms)
	}
	if c.IsSet(MINZOOM) {
		opts.Minzoom = c.Uint(MINZOOM)
	} else {
		opts.Minzoom = tiling.DefaultMinZoom(opts.Maxzoom)
	}
	if c.IsSet(QUADKEYZOOM) {
		quadkeyZoom := c.Uint(QUADKEYZOOM)
		opts.QuadkeyZoom = &quadkeyZoom
	}
	return opts, nil
}

func writeMosaic(c *cli.Context, doc *mosaic.MosaicJSON) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if c.IsSet(OUTPUT) {
		if err = os.WriteFile(c.String(OUTPUT), data, 0o644); err != nil {
			return err
		}
	} else {
		fmt.Println(string(data))
	}

	if c.IsSet(SQLITE) {
		db, err := mosaicdb.Open(c.String(SQLITE), c.Int(PAGESIZE))
		if err != nil {
			return err
		}
		defer db.Close()
		if err = db.Write(doc); err != nil {
			return err
		}
		log.Printf("  mosaic written to %s", c.String(SQLITE))
	}
	return nil
}
