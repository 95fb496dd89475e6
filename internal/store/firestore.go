package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig configures the Firestore backend.
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// Firestore stores each dataset as a document holding the blob. Documents are
// limited to 1 MiB, so this backend suits small vocabularies or compact
// embeddings. Set FIRESTORE_EMULATOR_HOST to use the local emulator.
type Firestore struct {
	client     *firestore.Client
	collection string
}

type firestoreDataset struct {
	Blob      []byte    `firestore:"blob"`
	Size      int       `firestore:"size"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestore connects to the configured project.
func NewFirestore(ctx context.Context, cfg FirestoreConfig) (*Firestore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore storage requires a project_id")
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "models"
	}

	return &Firestore{client: client, collection: collection}, nil
}

// Read returns the blob of the document for key.
func (f *Firestore) Read(ctx context.Context, key string) ([]byte, error) {
	snap, err := f.client.Collection(f.collection).Doc(key).Get(ctx)
	if err != nil {
		if isFirestoreNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, unavailable("read", key, err)
	}

	var doc firestoreDataset
	if err := snap.DataTo(&doc); err != nil {
		return nil, unavailable("read", key, err)
	}
	return doc.Blob, nil
}

// Write replaces the document for key.
func (f *Firestore) Write(ctx context.Context, key string, blob []byte) error {
	_, err := f.client.Collection(f.collection).Doc(key).Set(ctx, firestoreDataset{
		Blob:      blob,
		Size:      len(blob),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return unavailable("write", key, err)
	}
	return nil
}

// Close closes the client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

func isFirestoreNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
