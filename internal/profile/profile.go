// Package profile implements the user profile store on top of the generic
// document store. Profiles are validated on every write, replaced as whole
// records, and carry a monotonically increasing revision per user.
package profile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/strategy-advisor/internal/model"
	"github.com/yourorg/strategy-advisor/internal/store"
)

// Collection is the document collection holding user profiles.
const Collection = "user_profiles"

// Store persists user profiles.
type Store struct {
	backend store.Store
	log     *logrus.Entry
}

// NewStore wraps a document store handle. The handle is passed in, not
// constructed here; its lifecycle belongs to the process entry point.
func NewStore(backend store.Store) *Store {
	return &Store{
		backend: backend,
		log:     logrus.WithField("component", "profile_store"),
	}
}

// Get returns the current profile for the user, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (model.UserProfile, error) {
	doc, err := s.backend.Get(ctx, Collection, userID)
	if err != nil {
		return model.UserProfile{}, err
	}

	var p model.UserProfile
	if err := json.Unmarshal(doc.Data, &p); err != nil {
		return model.UserProfile{}, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	p.Revision = doc.Revision
	return p, nil
}

// Put validates and writes the profile as a full-record replacement,
// returning the new revision. The profile's Revision field is used as the
// expected revision: 0 for a brand-new profile, the revision last read
// otherwise. A *store.ConflictError means another writer got there first;
// re-read and retry. A *model.ValidationError means the record was rejected
// before any state mutation.
func (s *Store) Put(ctx context.Context, p model.UserProfile) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encode profile %s: %w", p.UserID, err)
	}

	rev, err := s.backend.Put(ctx, Collection, p.UserID, data, p.Revision)
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":  p.UserID,
		"revision": rev,
	}).Debug("profile stored")
	return rev, nil
}

// Delete removes the user's profile unconditionally.
func (s *Store) Delete(ctx context.Context, userID string) error {
	return s.backend.Delete(ctx, Collection, userID, store.AnyRevision)
}

// Event is one profile change, as seen by the recompute engine.
type Event struct {
	Token    int64
	UserID   string
	Revision int64
	Deleted  bool
}

// Watch returns the profile change feed starting after resumeToken.
func (s *Store) Watch(ctx context.Context, resumeToken int64) (<-chan Event, error) {
	raw, err := s.backend.Watch(ctx, Collection, resumeToken)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for ev := range raw {
			out <- Event{
				Token:    ev.Token,
				UserID:   ev.ID,
				Revision: ev.Revision,
				Deleted:  ev.Op == store.OpDelete,
			}
		}
	}()
	return out, nil
}
