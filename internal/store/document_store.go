package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DocumentStore keeps JSON documents grouped by collection in SQLite.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Insert marshals doc and stores it under a generated id.
func (s *DocumentStore) Insert(ctx context.Context, collection string, doc any) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, collection, body) VALUES (?, ?, ?)
	`, id, collection, string(body))
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	return id, nil
}

// Get returns the stored JSON body, or nil when the document does not exist.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND id = ?
	`, collection, id).Scan(&body)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return json.RawMessage(body), nil
}

// Count returns the number of documents in collection.
func (s *DocumentStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE collection = ?
	`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}
