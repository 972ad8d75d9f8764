package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kiku/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// immediate transactions take the write lock up front, so concurrent
	// appends wait on busy_timeout instead of failing on lock upgrade
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS namespaces (
		name TEXT PRIMARY KEY,
		dimensions INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		namespace TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		chunk TEXT NOT NULL,
		embedding BLOB NOT NULL,
		ingest_id TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, ordinal),
		FOREIGN KEY (namespace) REFERENCES namespaces(name)
	);

	CREATE TABLE IF NOT EXISTS ingested_files (
		namespace TEXT NOT NULL,
		file_id TEXT NOT NULL,
		path TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL,
		ingest_id TEXT,
		PRIMARY KEY (namespace, file_id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// LoadNamespace implements Storage.
func (s *SQLiteStorage) LoadNamespace(ctx context.Context, namespace string) (*NamespaceData, error) {
	data := &NamespaceData{Namespace: namespace}
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT dimensions, created_at FROM namespaces WHERE name = ?`, namespace,
	).Scan(&data.Dimensions, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrNamespaceNotFound, namespace)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read namespace: %w", err)
	}
	data.CreatedAt = time.Unix(0, createdAt).UTC()
	if data.Dimensions <= 0 {
		return nil, corruptf(namespace, "recorded dimension %d", data.Dimensions)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ordinal, chunk, embedding FROM entries WHERE namespace = ? ORDER BY ordinal`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ordinal int
		var chunk string
		var blob []byte
		if err := rows.Scan(&ordinal, &chunk, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if want := len(data.Chunks); ordinal != want {
			return nil, corruptf(namespace, "ordinal %d found where %d expected", ordinal, want)
		}
		vec, err := DecodeVector(blob, data.Dimensions)
		if err != nil {
			return nil, corruptf(namespace, "ordinal %d: %v", ordinal, err)
		}
		data.Vectors = append(data.Vectors, vec)
		data.Chunks = append(data.Chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return data, nil
}

// AppendEntries implements Storage.
func (s *SQLiteStorage) AppendEntries(ctx context.Context, namespace string, batch *Batch) error {
	if err := batch.validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	var dims int
	err = tx.QueryRowContext(ctx, `SELECT dimensions FROM namespaces WHERE name = ?`, namespace).Scan(&dims)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO namespaces (name, dimensions, created_at) VALUES (?, ?, ?)`,
			namespace, batch.Dimensions, now,
		); err != nil {
			return fmt.Errorf("failed to create namespace: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read namespace: %w", err)
	case dims != batch.Dimensions:
		return fmt.Errorf("%w: namespace %s has dimension %d, batch has %d", models.ErrDimensionMismatch, namespace, dims, batch.Dimensions)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE namespace = ?`, namespace).Scan(&count); err != nil {
		return fmt.Errorf("failed to count entries: %w", err)
	}
	if count != batch.StartOrdinal {
		return corruptf(namespace, "store holds %d entries, writer expected %d", count, batch.StartOrdinal)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (namespace, ordinal, chunk, embedding, ingest_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range batch.Chunks {
		if _, err := stmt.ExecContext(ctx,
			namespace, batch.StartOrdinal+i, chunk, EncodeVector(batch.Vectors[i]), batch.IngestID, now,
		); err != nil {
			return fmt.Errorf("failed to insert entry %d: %w", batch.StartOrdinal+i, err)
		}
	}

	if f := batch.File; f != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO ingested_files (namespace, file_id, path, mtime, size, ingest_id)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			namespace, f.FileID, f.Path, f.ModTime.UnixNano(), f.Size, batch.IngestID,
		); err != nil {
			return fmt.Errorf("failed to record ingested file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entries: %w", err)
	}
	return nil
}

// ListNamespaces implements Storage.
func (s *SQLiteStorage) ListNamespaces(ctx context.Context) ([]models.NamespaceInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.name, n.dimensions, n.created_at, COUNT(e.ordinal)
		 FROM namespaces n LEFT JOIN entries e ON e.namespace = n.name
		 GROUP BY n.name, n.dimensions, n.created_at
		 ORDER BY n.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NamespaceInfo
	for rows.Next() {
		var info models.NamespaceInfo
		var createdAt int64
		if err := rows.Scan(&info.Name, &info.Dimensions, &createdAt, &info.Chunks); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// GetFileRecord implements Storage.
func (s *SQLiteStorage) GetFileRecord(ctx context.Context, namespace, fileID string) (*FileRecord, error) {
	var rec FileRecord
	var mtime int64
	var ingestID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, path, mtime, size, ingest_id FROM ingested_files
		 WHERE namespace = ? AND file_id = ?`, namespace, fileID,
	).Scan(&rec.FileID, &rec.Path, &mtime, &rec.Size, &ingestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.ModTime = time.Unix(0, mtime)
	rec.IngestID = ingestID.String
	return &rec, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
