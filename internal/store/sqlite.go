package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite stores datasets in a SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens the database at dbPath and runs migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Wait on locks instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLite{
		db:   db,
		path: dbPath,
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Read returns the blob stored under key.
func (s *SQLite) Read(ctx context.Context, key string) ([]byte, error) {
	rec, err := s.Datasets().Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, unavailable("read", key, err)
	}
	return rec.Blob, nil
}

// Write replaces the blob stored under key with a new revision.
func (s *SQLite) Write(ctx context.Context, key string, blob []byte) error {
	if _, err := s.Datasets().Put(ctx, key, blob); err != nil {
		return unavailable("write", key, err)
	}
	return nil
}

// DatasetRecord is a stored dataset blob with its metadata.
type DatasetRecord struct {
	Key       string
	Revision  string
	Blob      []byte
	Size      int
	UpdatedAt time.Time
}

// Revision describes one saved revision of a dataset.
type Revision struct {
	Key      string    `json:"key"`
	Revision string    `json:"revision"`
	Size     int       `json:"size"`
	SavedAt  time.Time `json:"saved_at"`
}

// DatasetRepository provides access to stored datasets.
type DatasetRepository struct {
	db *sql.DB
}

// Datasets returns the dataset repository for this store.
func (s *SQLite) Datasets() *DatasetRepository {
	return &DatasetRepository{db: s.db}
}

// Get retrieves the dataset stored under key.
func (r *DatasetRepository) Get(ctx context.Context, key string) (*DatasetRecord, error) {
	rec := &DatasetRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT key, revision, blob, size, updated_at FROM datasets WHERE key = ?`,
		key,
	).Scan(&rec.Key, &rec.Revision, &rec.Blob, &rec.Size, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put replaces the dataset stored under key and records a new revision.
// The upsert and the revision row are written in one transaction.
func (r *DatasetRepository) Put(ctx context.Context, key string, blob []byte) (string, error) {
	revision := uuid.New().String()
	now := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (key, revision, blob, size, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   revision = excluded.revision,
		   blob = excluded.blob,
		   size = excluded.size,
		   updated_at = excluded.updated_at`,
		key, revision, blob, len(blob), now,
	)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dataset_revisions (key, revision, size, saved_at) VALUES (?, ?, ?, ?)`,
		key, revision, len(blob), now,
	)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return revision, nil
}

// Delete removes the dataset stored under key.
func (r *DatasetRepository) Delete(ctx context.Context, key string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM datasets WHERE key = ?`, key)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Revisions returns the saved revisions of key, newest first.
func (r *DatasetRepository) Revisions(ctx context.Context, key string) ([]*Revision, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, revision, size, saved_at FROM dataset_revisions WHERE key = ? ORDER BY id DESC`,
		key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revisions []*Revision
	for rows.Next() {
		rev := &Revision{}
		if err := rows.Scan(&rev.Key, &rev.Revision, &rev.Size, &rev.SavedAt); err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}

	return revisions, rows.Err()
}
