package store

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketDatasets = []byte("datasets")

// Bolt stores datasets in a bbolt database file.
type Bolt struct {
	db *bbolt.DB
}

// NewBolt opens the bbolt database at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDatasets); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketDatasets, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

// Read returns the blob stored under key.
func (b *Bolt) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("read", key, err)
	}

	var blob []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDatasets).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		// data is only valid for the life of the transaction
		blob = append([]byte(nil), data...)
		return nil
	})
	if err == ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, unavailable("read", key, err)
	}
	return blob, nil
}

// Write replaces the blob stored under key in a single transaction.
func (b *Bolt) Write(ctx context.Context, key string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return unavailable("write", key, err)
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDatasets).Put([]byte(key), blob)
	})
	if err != nil {
		return unavailable("write", key, err)
	}
	return nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}
