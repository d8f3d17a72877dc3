package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	cerr "github.com/codescope/codescope/internal/errors"
)

// FileRecord maps an indexed file to its content hash and chunk ids.
// The record is written as the last step when processing a file, so a crash
// before the write safely re-processes the file on the next run.
type FileRecord struct {
	FilePath      string
	ContentHash   string
	ChunkIDs      []string
	LastIndexedAt time.Time
}

// Sidecar is the per-collection metadata store backed by SQLite, located at
// {root}/{collection}/sidecar.db.
type Sidecar struct {
	mu   sync.Mutex
	root string
	dbs  map[string]*sql.DB
}

// NewSidecar creates the sidecar manager. Databases open lazily.
func NewSidecar(root string) *Sidecar {
	return &Sidecar{
		root: root,
		dbs:  make(map[string]*sql.DB),
	}
}

func (s *Sidecar) dbPath(collection string) string {
	return filepath.Join(s.root, collection, "sidecar.db")
}

const sidecarSchema = `
CREATE TABLE IF NOT EXISTS files (
	file_path       TEXT PRIMARY KEY,
	content_hash    TEXT NOT NULL,
	chunk_ids       TEXT NOT NULL,
	last_indexed_at TIMESTAMP NOT NULL
);
`

// db opens or returns the database for a collection.
func (s *Sidecar) db(collection string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[collection]; ok {
		return db, nil
	}

	path := s.dbPath(collection)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "create sidecar directory", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "open sidecar database", err)
	}
	// One writer at a time; the collection writer serialises access anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sidecarSchema); err != nil {
		_ = db.Close()
		return nil, cerr.Wrap(cerr.KindCorruption, "initialise sidecar schema", err)
	}

	s.dbs[collection] = db
	return db, nil
}

// GetFile returns the record for a path, or nil when the file is unknown.
func (s *Sidecar) GetFile(ctx context.Context, collection, path string) (*FileRecord, error) {
	db, err := s.db(collection)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT file_path, content_hash, chunk_ids, last_indexed_at FROM files WHERE file_path = ?`, path)

	var rec FileRecord
	var chunkIDs string
	if err := row.Scan(&rec.FilePath, &rec.ContentHash, &chunkIDs, &rec.LastIndexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, cerr.Wrap(cerr.KindCorruption, "read sidecar record", err)
	}
	if err := json.Unmarshal([]byte(chunkIDs), &rec.ChunkIDs); err != nil {
		return nil, cerr.Wrap(cerr.KindCorruption, "decode sidecar chunk ids", err)
	}
	return &rec, nil
}

// PutFile upserts the record for a path.
func (s *Sidecar) PutFile(ctx context.Context, collection string, rec *FileRecord) error {
	db, err := s.db(collection)
	if err != nil {
		return err
	}

	chunkIDs, err := json.Marshal(rec.ChunkIDs)
	if err != nil {
		return cerr.Wrap(cerr.KindInternal, "encode sidecar chunk ids", err)
	}
	if rec.LastIndexedAt.IsZero() {
		rec.LastIndexedAt = time.Now().UTC()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO files (file_path, content_hash, chunk_ids, last_indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			chunk_ids = excluded.chunk_ids,
			last_indexed_at = excluded.last_indexed_at`,
		rec.FilePath, rec.ContentHash, string(chunkIDs), rec.LastIndexedAt)
	if err != nil {
		return cerr.Wrap(cerr.KindInternal, "write sidecar record", err)
	}
	return nil
}

// DeleteFile removes the record for a path.
func (s *Sidecar) DeleteFile(ctx context.Context, collection, path string) error {
	db, err := s.db(collection)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM files WHERE file_path = ?`, path); err != nil {
		return cerr.Wrap(cerr.KindInternal, "delete sidecar record", err)
	}
	return nil
}

// AllFiles returns every record in the collection, ordered by path.
func (s *Sidecar) AllFiles(ctx context.Context, collection string) ([]*FileRecord, error) {
	db, err := s.db(collection)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT file_path, content_hash, chunk_ids, last_indexed_at FROM files ORDER BY file_path`)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindCorruption, "scan sidecar", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		var rec FileRecord
		var chunkIDs string
		if err := rows.Scan(&rec.FilePath, &rec.ContentHash, &chunkIDs, &rec.LastIndexedAt); err != nil {
			return nil, cerr.Wrap(cerr.KindCorruption, "read sidecar row", err)
		}
		if err := json.Unmarshal([]byte(chunkIDs), &rec.ChunkIDs); err != nil {
			return nil, cerr.Wrap(cerr.KindCorruption, "decode sidecar chunk ids", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.Wrap(cerr.KindCorruption, "iterate sidecar", err)
	}
	return records, nil
}

// LastIndexedAt returns the most recent index time across the collection.
func (s *Sidecar) LastIndexedAt(ctx context.Context, collection string) (time.Time, error) {
	db, err := s.db(collection)
	if err != nil {
		return time.Time{}, err
	}

	var last time.Time
	row := db.QueryRowContext(ctx,
		`SELECT last_indexed_at FROM files ORDER BY last_indexed_at DESC LIMIT 1`)
	if err := row.Scan(&last); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, cerr.Wrap(cerr.KindCorruption, "read sidecar timestamp", err)
	}
	return last, nil
}

// Clear closes and removes the collection's sidecar database.
func (s *Sidecar) Clear(ctx context.Context, collection string) error {
	s.mu.Lock()
	if db, ok := s.dbs[collection]; ok {
		_ = db.Close()
		delete(s.dbs, collection)
	}
	s.mu.Unlock()

	path := s.dbPath(collection)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return cerr.Wrap(cerr.KindInternal, "remove sidecar database", err)
		}
	}
	return nil
}

// Rebuild drops a corrupted sidecar so it can be repopulated from the
// vector store's source of truth.
func (s *Sidecar) Rebuild(ctx context.Context, collection string) error {
	return s.Clear(ctx, collection)
}

// Close closes every open database.
func (s *Sidecar) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.dbs = make(map[string]*sql.DB)
	return firstErr
}
