package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLite is a durable Store backed by a single SQLite database. Documents
// live in one table keyed by (collection, id); every write also appends to a
// changelog table whose rowid serves as the watch resume token. Watchers
// poll the changelog, which keeps the implementation free of connection
// affinity issues.
type SQLite struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLite opens (or creates) the database and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so watch polling can read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLite{db: db, pollInterval: 200 * time.Millisecond}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logrus.WithField("path", path).Info("sqlite store opened")
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			revision   INTEGER NOT NULL,
			data       BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE TABLE IF NOT EXISTS changelog (
			token      INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			op         TEXT NOT NULL,
			revision   INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changelog_coll ON changelog(collection, token)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, collection, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT revision, data FROM documents WHERE collection = ? AND id = ?`, collection, id)

	doc := Document{Collection: collection, ID: id}
	if err := row.Scan(&doc.Revision, &doc.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Put implements Store. The revision check, write, and changelog append run
// in one transaction so readers never observe a torn update.
func (s *SQLite) Put(ctx context.Context, collection, id string, data []byte, expectedRevision int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT revision FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&current)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		current = 0
	} else if err != nil {
		return 0, fmt.Errorf("read revision %s/%s: %w", collection, id, err)
	}

	if expectedRevision != AnyRevision && current != expectedRevision {
		return 0, &ConflictError{Collection: collection, ID: id, Expected: expectedRevision, Actual: current}
	}

	newRev := current + 1
	now := time.Now().Unix()
	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET revision = ?, data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
			newRev, data, now, collection, id)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, revision, data, updated_at) VALUES (?, ?, ?, ?, ?)`,
			collection, id, newRev, data, now)
	}
	if err != nil {
		return 0, fmt.Errorf("write %s/%s: %w", collection, id, err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO changelog (collection, id, op, revision, created_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(OpPut), newRev, now); err != nil {
		return 0, fmt.Errorf("append changelog %s/%s: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit put %s/%s: %w", collection, id, err)
	}
	return newRev, nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, collection, id string, expectedRevision int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT revision FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read revision %s/%s: %w", collection, id, err)
	}
	if expectedRevision != AnyRevision && current != expectedRevision {
		return &ConflictError{Collection: collection, ID: id, Expected: expectedRevision, Actual: current}
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO changelog (collection, id, op, revision, created_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(OpDelete), current, time.Now().Unix()); err != nil {
		return fmt.Errorf("append changelog %s/%s: %w", collection, id, err)
	}

	return tx.Commit()
}

// Watch implements Store by polling the changelog past the resume token.
func (s *SQLite) Watch(ctx context.Context, collection string, resumeToken int64) (<-chan ChangeEvent, error) {
	out := make(chan ChangeEvent, 256)

	go func() {
		defer close(out)
		last := resumeToken
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			events, err := s.readChanges(ctx, collection, last)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logrus.WithError(err).Warn("changelog poll failed")
			}
			for _, ev := range events {
				select {
				case out <- ev:
					last = ev.Token
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *SQLite) readChanges(ctx context.Context, collection string, after int64) ([]ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, id, op, revision FROM changelog
		 WHERE collection = ? AND token > ? ORDER BY token ASC LIMIT 500`,
		collection, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ChangeEvent
	for rows.Next() {
		ev := ChangeEvent{Collection: collection}
		var op string
		if err := rows.Scan(&ev.Token, &ev.ID, &op, &ev.Revision); err != nil {
			return events, err
		}
		ev.Op = ChangeOp(op)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
