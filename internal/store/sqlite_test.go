package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLitePutGetDelete(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rev, err := s.Put(ctx, "profiles", "u1", []byte(`{"x":1}`), 0)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if rev != 1 {
		t.Errorf("first Put revision = %d, want 1", rev)
	}

	doc, err := s.Get(ctx, "profiles", "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if doc.Revision != 1 || string(doc.Data) != `{"x":1}` {
		t.Errorf("Get() = rev %d data %s", doc.Revision, doc.Data)
	}

	var conflict *ConflictError
	if _, err := s.Put(ctx, "profiles", "u1", []byte(`{}`), 9); !errors.As(err, &conflict) {
		t.Errorf("stale Put() error = %v, want *ConflictError", err)
	}

	if err := s.Delete(ctx, "profiles", "u1", 1); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := s.Get(ctx, "profiles", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteCollectionsIsolated(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "profiles", "u1", []byte(`{}`), 0); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if _, err := s.Get(ctx, "recommendation_sets", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-collection Get() = %v, want ErrNotFound", err)
	}
}

func TestSQLiteWatch(t *testing.T) {
	s := newTestSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Put(ctx, "profiles", "u1", []byte(`{}`), 0); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	ch, err := s.Watch(ctx, "profiles", 0)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	if err := s.Delete(ctx, "profiles", "u1", AnyRevision); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	events := collectEvents(t, ch, 2)
	if events[0].Op != OpPut || events[0].ID != "u1" {
		t.Errorf("event[0] = %+v", events[0])
	}
	if events[1].Op != OpDelete || events[1].Token <= events[0].Token {
		t.Errorf("event[1] = %+v", events[1])
	}
}
