// Package mosaicdb persists a MosaicJSON document in an SQLite database,
// a metadata key/value table plus a quadkey-indexed tiles table, for
// consumers that want point lookups without holding the whole document.
package mosaicdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	// sqlite driver
	_ "github.com/mattn/go-sqlite3"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/geoquilt/quilt/mosaic"
)

const (
	createMetadataSQL = `CREATE TABLE IF NOT EXISTS mosaicjson_metadata (key TEXT PRIMARY KEY, value TEXT);`
	createTilesSQL    = `CREATE TABLE IF NOT EXISTS mosaicjson_tiles (quadkey TEXT PRIMARY KEY, assets TEXT);`
	insertMetadataSQL = `INSERT OR REPLACE INTO mosaicjson_metadata(key, value) VALUES(?, ?);`
	insertTileSQL     = `INSERT OR REPLACE INTO mosaicjson_tiles(quadkey, assets) VALUES(?, ?);`
)

type DB struct {
	handle   *sql.DB
	pagesize int
}

// Open opens (or creates) a mosaic database. Pagesize is the number of
// tiles written per transaction.
func Open(file string, pagesize int) (*DB, error) {
	handle, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, fmt.Errorf("opening mosaic database: %w", err)
	}
	if pagesize <= 0 {
		pagesize = 1000
	}
	return &DB{handle: handle, pagesize: pagesize}, nil
}

func (db *DB) Close() error {
	return db.handle.Close()
}

func (db *DB) Write(m *mosaic.MosaicJSON) error {
	for _, query := range []string{createMetadataSQL, createTilesSQL} {
		if _, err := db.handle.Exec(query); err != nil {
			return fmt.Errorf("creating mosaic tables: %w", err)
		}
	}
	if err := db.writeMetadata(m); err != nil {
		return err
	}
	return db.writeTiles(m.Tiles)
}

func (db *DB) writeMetadata(m *mosaic.MosaicJSON) error {
	bounds, err := json.Marshal(m.Bounds)
	if err != nil {
		return err
	}
	center, err := json.Marshal(m.Center)
	if err != nil {
		return err
	}
	pairs := [][2]string{
		{"mosaicjson", m.Schema},
		{"name", m.Name},
		{"description", m.Description},
		{"version", m.Version},
		{"attribution", m.Attribution},
		{"minzoom", strconv.FormatUint(uint64(m.Minzoom), 10)},
		{"maxzoom", strconv.FormatUint(uint64(m.Maxzoom), 10)},
		{"quadkey_zoom", strconv.FormatUint(uint64(m.QuadkeyZoom), 10)},
		{"bounds", string(bounds)},
		{"center", string(center)},
	}

	tx, err := db.handle.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	stmt, err := tx.Prepare(insertMetadataSQL)
	if err != nil {
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	for _, pair := range pairs {
		if _, err = stmt.Exec(pair[0], pair[1]); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("writing metadata %q: %w", pair[0], err)
		}
	}
	stmt.Close()
	return tx.Commit()
}

func (db *DB) writeTiles(tiles *orderedmap.OrderedMap[string, []string]) error {
	page := make([][2]string, 0, db.pagesize)
	for pair := tiles.Oldest(); pair != nil; pair = pair.Next() {
		assets, err := json.Marshal(pair.Value)
		if err != nil {
			return err
		}
		page = append(page, [2]string{pair.Key, string(assets)})
		if len(page) == db.pagesize {
			if err := db.writeTilePage(page); err != nil {
				return err
			}
			page = page[:0]
		}
	}
	if len(page) > 0 {
		return db.writeTilePage(page)
	}
	return nil
}

func (db *DB) writeTilePage(page [][2]string) error {
	tx, err := db.handle.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	stmt, err := tx.Prepare(insertTileSQL)
	if err != nil {
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	for _, row := range page {
		if _, err = stmt.Exec(row[0], row[1]); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("writing tile %q: %w", row[0], err)
		}
	}
	stmt.Close()
	return tx.Commit()
}

// Read loads the whole document back out of the database.
func (db *DB) Read() (*mosaic.MosaicJSON, error) {
	rows, err := db.handle.Query(`SELECT key, value FROM mosaicjson_metadata;`)
	if err != nil {
		return nil, fmt.Errorf("reading mosaic metadata: %w", err)
	}
	metadata := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err = rows.Scan(&key, &value); err != nil {
			rows.Close()
			return nil, err
		}
		metadata[key] = value
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	m := &mosaic.MosaicJSON{
		Schema:      metadata["mosaicjson"],
		Name:        metadata["name"],
		Description: metadata["description"],
		Version:     metadata["version"],
		Attribution: metadata["attribution"],
	}
	for key, target := range map[string]*uint{
		"minzoom": &m.Minzoom, "maxzoom": &m.Maxzoom, "quadkey_zoom": &m.QuadkeyZoom,
	} {
		parsed, err := strconv.ParseUint(metadata[key], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", key, metadata[key], err)
		}
		*target = uint(parsed)
	}
	if err = json.Unmarshal([]byte(metadata["bounds"]), &m.Bounds); err != nil {
		return nil, fmt.Errorf("invalid bounds: %w", err)
	}
	if err = json.Unmarshal([]byte(metadata["center"]), &m.Center); err != nil {
		return nil, fmt.Errorf("invalid center: %w", err)
	}

	m.Tiles, err = db.readTiles()
	return m, err
}

func (db *DB) readTiles() (*orderedmap.OrderedMap[string, []string], error) {
	rows, err := db.handle.Query(`SELECT quadkey, assets FROM mosaicjson_tiles ORDER BY quadkey;`)
	if err != nil {
		return nil, fmt.Errorf("reading mosaic tiles: %w", err)
	}
	defer rows.Close()

	tiles := orderedmap.New[string, []string]()
	for rows.Next() {
		var quadkey, rawAssets string
		if err = rows.Scan(&quadkey, &rawAssets); err != nil {
			return nil, err
		}
		var assets []string
		if err = json.Unmarshal([]byte(rawAssets), &assets); err != nil {
			return nil, fmt.Errorf("invalid assets for tile %q: %w", quadkey, err)
		}
		tiles.Set(quadkey, assets)
	}
	return tiles, rows.Err()
}
