// Package search provides a SQLite-backed secondary index over OrderedMap
// entries: a (collection, key) -> value CID mapping plus whatever
// structured attributes the caller extracts from the value, queryable by
// exact collection/kind match, attribute filters, or a LIKE-based text
// search. It is not part of the canonical DAG — store.Store keeps it in
// sync from the outside, indexing after every successful Upsert/Remove and
// tolerating loss (a full reindex from the map's Scan rebuilds it exactly).
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	_ "github.com/mattn/go-sqlite3"
)

// Index is a SQLite-backed secondary index over entries of one or more
// OrderedMap collections.
type Index struct {
	db *sql.DB
	mu sync.RWMutex
}

// Entry is the metadata recorded for one indexed (collection, key) pair.
type Entry struct {
	Collection string         `json:"collection"`
	Key        string         `json:"key"`
	Kind       string         `json:"kind"`
	Data       map[string]any `json:"data"`
	SearchText string         `json:"search_text"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Result is one row of a Query, including the value CID it was indexed
// under.
type Result struct {
	Value      cid.Cid
	Collection string
	Key        string
	Kind       string
	Data       map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Query selects indexed entries. FullText, when set, runs a LIKE search
// over SearchText instead of a structured scan; Filters apply only to the
// structured scan path.
type Query struct {
	Collection string
	Kind       string
	Filters    map[string]any
	FullText   string
	SortBy     string
	SortDesc   bool
	Limit      int
	Offset     int
}

// Open opens (creating if absent) a SQLite database at path and ensures its
// schema exists.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("search: open %s: %w", path, err)
	}
	idx := &Index{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("search: init schema: %w", err)
	}
	return idx, nil
}

func (idx *Index) initSchema() error {
	const schemaSQL = `
	CREATE TABLE IF NOT EXISTS entries (
		value_cid TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		kind TEXT NOT NULL,
		data TEXT NOT NULL,
		search_text TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(collection, key)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_collection ON entries(collection);
	CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_collection_kind ON entries(collection, kind);
	CREATE INDEX IF NOT EXISTS idx_entries_search_text ON entries(search_text);

	CREATE TABLE IF NOT EXISTS entry_attributes (
		value_cid TEXT NOT NULL,
		attribute_name TEXT NOT NULL,
		attribute_value TEXT NOT NULL,
		value_type TEXT NOT NULL,
		PRIMARY KEY (value_cid, attribute_name),
		FOREIGN KEY (value_cid) REFERENCES entries(value_cid) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_attr_name_value ON entry_attributes(attribute_name, attribute_value);

	CREATE TRIGGER IF NOT EXISTS update_entries_timestamp
		AFTER UPDATE ON entries
	BEGIN
		UPDATE entries SET updated_at = CURRENT_TIMESTAMP WHERE value_cid = NEW.value_cid;
	END;

	CREATE VIEW IF NOT EXISTS collection_stats AS
	SELECT
		collection,
		COUNT(*) AS entry_count,
		COUNT(DISTINCT kind) AS kind_count,
		MIN(created_at) AS first_entry,
		MAX(updated_at) AS last_updated
	FROM entries
	GROUP BY collection;
	`
	_, err := idx.db.Exec(schemaSQL)
	return err
}

// Index records or replaces metadata for value in the index.
func (idx *Index) Index(ctx context.Context, value cid.Cid, e Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("search: marshal entry data: %w", err)
	}
	_, err = idx.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO entries
		(value_cid, collection, key, kind, data, search_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, value.String(), e.Collection, e.Key, e.Kind, string(dataJSON), e.SearchText, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("search: index entry: %w", err)
	}
	return idx.indexAttributes(ctx, value.String(), e.Data)
}

func (idx *Index) indexAttributes(ctx context.Context, valueCID string, data map[string]any) error {
	if _, err := idx.db.ExecContext(ctx, "DELETE FROM entry_attributes WHERE value_cid = ?", valueCID); err != nil {
		return err
	}
	for name, value := range data {
		valStr, valType := attributeValue(value)
		if _, err := idx.db.ExecContext(ctx, `
			INSERT INTO entry_attributes (value_cid, attribute_name, attribute_value, value_type)
			VALUES (?, ?, ?, ?)
		`, valueCID, name, valStr, valType); err != nil {
			return err
		}
	}
	return nil
}

func attributeValue(v any) (string, string) {
	switch val := v.(type) {
	case string:
		return val, "string"
	case bool:
		return fmt.Sprintf("%t", val), "bool"
	case float64:
		return fmt.Sprintf("%g", val), "number"
	case int64:
		return fmt.Sprintf("%d", val), "number"
	case nil:
		return "", "null"
	default:
		data, _ := json.Marshal(val)
		return string(data), "json"
	}
}

// Delete removes value's indexed entry and attributes.
func (idx *Index) Delete(ctx context.Context, value cid.Cid) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.db.ExecContext(ctx, "DELETE FROM entries WHERE value_cid = ?", value.String())
	return err
}

// Query runs q and returns matching entries.
func (idx *Index) Query(ctx context.Context, q Query) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if q.FullText != "" {
		return idx.queryText(ctx, q)
	}
	return idx.queryStructured(ctx, q)
}

func (idx *Index) queryText(ctx context.Context, q Query) ([]Result, error) {
	query := `
		SELECT value_cid, collection, key, kind, data, created_at, updated_at
		FROM entries
		WHERE search_text LIKE ?
	`
	args := []any{"%" + q.FullText + "%"}
	if q.Collection != "" {
		query += " AND collection = ?"
		args = append(args, q.Collection)
	}
	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, q.Kind)
	}
	query += orderAndPage(q)
	return idx.run(ctx, query, args...)
}

func (idx *Index) queryStructured(ctx context.Context, q Query) ([]Result, error) {
	query := "SELECT value_cid, collection, key, kind, data, created_at, updated_at FROM entries WHERE 1=1"
	var args []any
	if q.Collection != "" {
		query += " AND collection = ?"
		args = append(args, q.Collection)
	}
	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, q.Kind)
	}
	for attr, value := range q.Filters {
		query += " AND value_cid IN (SELECT value_cid FROM entry_attributes WHERE attribute_name = ? AND attribute_value = ?)"
		args = append(args, attr, fmt.Sprintf("%v", value))
	}
	query += orderAndPage(q)
	return idx.run(ctx, query, args...)
}

func orderAndPage(q Query) string {
	out := ""
	if q.SortBy != "" {
		order := "ASC"
		if q.SortDesc {
			order = "DESC"
		}
		out += fmt.Sprintf(" ORDER BY %s %s", q.SortBy, order)
	} else {
		out += " ORDER BY created_at DESC"
	}
	if q.Limit > 0 {
		out += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			out += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}
	return out
}

func (idx *Index) run(ctx context.Context, query string, args ...any) ([]Result, error) {
	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var valueCID, dataJSON string
		if err := rows.Scan(&valueCID, &r.Collection, &r.Key, &r.Kind, &dataJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Value, err = cid.Parse(valueCID)
		if err != nil {
			return nil, fmt.Errorf("search: invalid cid in results: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &r.Data); err != nil {
			return nil, fmt.Errorf("search: invalid data json in results: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CollectionStats reports entry and distinct-kind counts for collection.
func (idx *Index) CollectionStats(ctx context.Context, collection string) (count, kinds int, err error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	row := idx.db.QueryRowContext(ctx, `
		SELECT entry_count, kind_count FROM collection_stats WHERE collection = ?
	`, collection)
	if err := row.Scan(&count, &kinds); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return count, kinds, nil
}

// Close releases the underlying SQLite connection.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.db.Close()
}
