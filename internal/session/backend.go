package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound reports that no session exists for the given ID.
var ErrNotFound = errors.New("session not found")

// ErrStorageUnavailable flags backend I/O failures. Callers test for it
// with errors.Is to distinguish a broken backend from a missing session.
var ErrStorageUnavailable = errors.New("session storage unavailable")

// Backend stores whole session records keyed by ID. Implementations must
// be safe for concurrent use and atomic per record: a concurrent Put and
// Delete on one ID never exposes a partially written session. Returned
// sessions are copies the caller may mutate freely. Expiry and quota
// policy live in Store; backends only persist.
type Backend interface {
	// Put inserts or replaces the record for sess.ID.
	Put(ctx context.Context, sess Session) error

	// Get returns the session with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (Session, error)

	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// Scan returns a snapshot of all stored sessions in no particular order.
	Scan(ctx context.Context) ([]Session, error)

	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// storageErr marks err as a storage failure, keeping both the sentinel and
// the cause in the chain for errors.Is.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// encodeBlobs serializes the free-form session fields for storage.
func encodeBlobs(sess Session) (metaJSON, ctxJSON []byte, err error) {
	if metaJSON, err = json.Marshal(sess.Metadata); err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	if ctxJSON, err = json.Marshal(sess.Context); err != nil {
		return nil, nil, fmt.Errorf("encode context: %w", err)
	}
	return metaJSON, ctxJSON, nil
}

// decodeBlobs restores the free-form session fields from storage.
func decodeBlobs(sess *Session, metaJSON, ctxJSON []byte) error {
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &sess.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &sess.Context); err != nil {
			return fmt.Errorf("decode context: %w", err)
		}
	}
	return nil
}
