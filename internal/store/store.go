// Package store defines the persistent document store boundary. The core
// depends only on this contract; any revisioned key-value or document
// database can sit behind it. Two backends ship with the repo: an in-memory
// store for tests and single-process runs, and a SQLite store for durable
// deployments.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get and Delete when the document does not exist.
var ErrNotFound = errors.New("document not found")

// ConflictError reports an optimistic-concurrency failure: the caller's
// expected revision no longer matches the stored one. The caller must
// re-read and retry.
type ConflictError struct {
	Collection string
	ID         string
	Expected   int64
	Actual     int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict on %s/%s: expected %d, have %d",
		e.Collection, e.ID, e.Expected, e.Actual)
}

// Document is a stored record with its revision. Data is an opaque JSON blob;
// callers own encoding and decoding.
type Document struct {
	Collection string
	ID         string
	Revision   int64
	Data       []byte
}

// ChangeOp distinguishes the kinds of change events emitted by Watch.
type ChangeOp string

const (
	OpPut    ChangeOp = "put"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is one entry in a collection's change feed. Token increases
// monotonically within a collection and doubles as the resume token: a
// watcher restarted with the last token it processed sees every later event
// exactly once.
type ChangeEvent struct {
	Token      int64
	Collection string
	ID         string
	Op         ChangeOp
	Revision   int64
}

// AnyRevision disables the optimistic-concurrency check on Put and Delete.
const AnyRevision int64 = -1

// Store is the document store contract.
type Store interface {
	// Get returns the current document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Put writes the document and returns the new revision. When
	// expectedRevision >= 0 the write fails with *ConflictError unless the
	// stored revision matches; 0 means "must not exist yet". Pass
	// AnyRevision to skip the check. Writes are atomic: readers observe
	// either the previous or the new document in full.
	Put(ctx context.Context, collection, id string, data []byte, expectedRevision int64) (int64, error)

	// Delete removes the document, with the same revision semantics as Put.
	Delete(ctx context.Context, collection, id string, expectedRevision int64) error

	// Watch returns an infinite change feed for a collection starting after
	// resumeToken (0 = from the beginning of retained history). The channel
	// closes when ctx is done.
	Watch(ctx context.Context, collection string, resumeToken int64) (<-chan ChangeEvent, error)

	// Close releases backend resources.
	Close() error
}
