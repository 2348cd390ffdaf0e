package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It keeps full change history per collection
// so watchers can resume from any token; history is bounded per collection to
// keep memory use flat in long runs.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	maxHistory  int
}

type memCollection struct {
	docs     map[string]Document
	nextTok  int64
	history  []ChangeEvent
	watchers map[chan ChangeEvent]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]*memCollection),
		maxHistory:  10000,
	}
}

func (m *Memory) collection(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{
			docs:     make(map[string]Document),
			watchers: make(map[chan ChangeEvent]struct{}),
		}
		m.collections[name] = c
	}
	return c
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	// Copy the blob so callers cannot mutate stored state.
	data := make([]byte, len(doc.Data))
	copy(data, doc.Data)
	doc.Data = data
	return doc, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, collection, id string, data []byte, expectedRevision int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	current, exists := c.docs[id]

	if expectedRevision != AnyRevision {
		actual := int64(0)
		if exists {
			actual = current.Revision
		}
		if actual != expectedRevision {
			return 0, &ConflictError{Collection: collection, ID: id, Expected: expectedRevision, Actual: actual}
		}
	}

	newRev := int64(1)
	if exists {
		newRev = current.Revision + 1
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	c.docs[id] = Document{Collection: collection, ID: id, Revision: newRev, Data: stored}

	c.emit(ChangeEvent{Collection: collection, ID: id, Op: OpPut, Revision: newRev}, m.maxHistory)
	return newRev, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, collection, id string, expectedRevision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return ErrNotFound
	}
	current, exists := c.docs[id]
	if !exists {
		return ErrNotFound
	}
	if expectedRevision != AnyRevision && current.Revision != expectedRevision {
		return &ConflictError{Collection: collection, ID: id, Expected: expectedRevision, Actual: current.Revision}
	}

	delete(c.docs, id)
	c.emit(ChangeEvent{Collection: collection, ID: id, Op: OpDelete, Revision: current.Revision}, m.maxHistory)
	return nil
}

// emit appends the event to history and fans it out to live watchers.
// Callers hold the store lock.
func (c *memCollection) emit(ev ChangeEvent, maxHistory int) {
	c.nextTok++
	ev.Token = c.nextTok
	c.history = append(c.history, ev)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	for ch := range c.watchers {
		select {
		case ch <- ev:
		default:
			// Watcher is not keeping up; it will catch the event on its
			// next resume rather than block every writer.
		}
	}
}

// Watch implements Store.
func (m *Memory) Watch(ctx context.Context, collection string, resumeToken int64) (<-chan ChangeEvent, error) {
	m.mu.Lock()
	c := m.collection(collection)

	// Replay retained history past the resume token before going live.
	var backlog []ChangeEvent
	for _, ev := range c.history {
		if ev.Token > resumeToken {
			backlog = append(backlog, ev)
		}
	}

	live := make(chan ChangeEvent, 256)
	c.watchers[live] = struct{}{}
	m.mu.Unlock()

	out := make(chan ChangeEvent, 256)
	go func() {
		defer func() {
			m.mu.Lock()
			delete(c.watchers, live)
			m.mu.Unlock()
			close(out)
		}()

		last := resumeToken
		for _, ev := range backlog {
			select {
			case out <- ev:
				last = ev.Token
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case ev := <-live:
				if ev.Token <= last {
					continue // already replayed from backlog
				}
				select {
				case out <- ev:
					last = ev.Token
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
