package engine

import (
	"hash/fnv"
	"sync"
)

// depKey identifies one (instrument, feature) dependency.
func depKey(instrument, feature string) string {
	return instrument + "|" + feature
}

// depIndex is the reverse dependency index: (instrument, feature) -> users
// whose cached recommendation set depends on it. It exists so a signal
// update recomputes only the affected users, not everyone. Keys are spread
// over locked buckets so concurrent signal arrivals for different
// instruments do not contend, and concurrent arrivals for the same
// instrument serialize on the same bucket (no lost updates).
type depIndex struct {
	buckets [64]depBucket

	// userKeys remembers each user's registered keys so a re-registration
	// can remove the old ones first.
	userMu   sync.Mutex
	userKeys map[string][]string
}

type depBucket struct {
	mu    sync.Mutex
	users map[string]map[string]struct{} // key -> set of user IDs
}

func newDepIndex() *depIndex {
	idx := &depIndex{userKeys: make(map[string][]string)}
	for i := range idx.buckets {
		idx.buckets[i].users = make(map[string]map[string]struct{})
	}
	return idx
}

func (idx *depIndex) bucket(key string) *depBucket {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &idx.buckets[h.Sum32()%uint32(len(idx.buckets))]
}

// Register replaces the user's dependency keys with the given set.
func (idx *depIndex) Register(userID string, keys []string) {
	idx.userMu.Lock()
	old := idx.userKeys[userID]
	idx.userKeys[userID] = keys
	idx.userMu.Unlock()

	for _, key := range old {
		b := idx.bucket(key)
		b.mu.Lock()
		if set, ok := b.users[key]; ok {
			delete(set, userID)
			if len(set) == 0 {
				delete(b.users, key)
			}
		}
		b.mu.Unlock()
	}
	for _, key := range keys {
		b := idx.bucket(key)
		b.mu.Lock()
		set, ok := b.users[key]
		if !ok {
			set = make(map[string]struct{})
			b.users[key] = set
		}
		set[userID] = struct{}{}
		b.mu.Unlock()
	}
}

// RemoveUser drops every registration for the user.
func (idx *depIndex) RemoveUser(userID string) {
	idx.Register(userID, nil)
	idx.userMu.Lock()
	delete(idx.userKeys, userID)
	idx.userMu.Unlock()
}

// Affected returns the union of users depending on any of the keys.
func (idx *depIndex) Affected(keys []string) map[string]struct{} {
	affected := make(map[string]struct{})
	for _, key := range keys {
		b := idx.bucket(key)
		b.mu.Lock()
		for userID := range b.users[key] {
			affected[userID] = struct{}{}
		}
		b.mu.Unlock()
	}
	return affected
}
