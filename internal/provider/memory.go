package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Provider. Collections keep insertion order and every write
// pushes a fresh snapshot to the collection's subscribers.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memCollection
	now         func() time.Time
	newID       func() string
	closed      bool
}

type memCollection struct {
	order []string
	docs  map[string]Fields
	subs  map[*Stream]struct{}
}

// MemoryOption configures a Memory provider.
type MemoryOption func(*Memory)

// WithClock sets the clock used to resolve ServerTimestamp.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithIDGenerator sets the function that assigns document identifiers.
func WithIDGenerator(newID func() string) MemoryOption {
	return func(m *Memory) { m.newID = newID }
}

// NewMemory returns an empty in-memory provider.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		collections: make(map[string]*memCollection),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) collection(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{
			docs: make(map[string]Fields),
			subs: make(map[*Stream]struct{}),
		}
		m.collections[name] = c
	}
	return c
}

// Subscribe registers a stream and immediately delivers the current snapshot.
func (m *Memory) Subscribe(ctx context.Context, collection string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	var stream *Stream
	stream = NewStream(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.collections[collection]; ok {
			delete(c.subs, stream)
		}
	})
	c := m.collection(collection)
	c.subs[stream] = struct{}{}
	stream.Publish(m.snapshotLocked(c))

	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-stream.Done():
		}
	}()
	return stream, nil
}

func (m *Memory) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	c := m.collection(collection)
	var out []Document
	for _, id := range c.order {
		doc := Document{ID: id, Fields: copyFields(c.docs[id])}
		if Matches(doc, filters) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	return m.insertLocked(collection, fields), nil
}

// InsertUnique inserts fields unless a document already holds value in field.
// The check and the insert happen under one lock.
func (m *Memory) InsertUnique(ctx context.Context, collection, field, value string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}

	c := m.collection(collection)
	for _, id := range c.order {
		if c.docs[id].String(field) == value {
			return "", fmt.Errorf("%s %s=%q: %w", collection, field, value, ErrConflict)
		}
	}
	return m.insertLocked(collection, fields), nil
}

func (m *Memory) insertLocked(collection string, fields Fields) string {
	c := m.collection(collection)
	id := m.newID()
	for {
		if _, taken := c.docs[id]; !taken {
			break
		}
		id = m.newID()
	}
	c.docs[id] = m.resolve(fields)
	c.order = append(c.order, id)
	m.notifyLocked(c)
	return id
}

func (m *Memory) UpsertMerge(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	c := m.collection(collection)
	existing, ok := c.docs[id]
	if !ok {
		existing = Fields{}
		c.order = append(c.order, id)
	}
	for k, v := range m.resolve(fields) {
		existing[k] = v
	}
	c.docs[id] = existing
	m.notifyLocked(c)
	return nil
}

// Delete removes a document. Deleting an absent document is not an error.
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	c := m.collection(collection)
	if _, ok := c.docs[id]; !ok {
		return nil
	}
	delete(c.docs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	m.notifyLocked(c)
	return nil
}

// Close ends every subscription. Later calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var streams []*Stream
	for _, c := range m.collections {
		for s := range c.subs {
			streams = append(streams, s)
		}
	}
	m.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	return nil
}

func (m *Memory) resolve(fields Fields) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if IsServerTimestamp(v) {
			v = m.now()
		}
		out[k] = v
	}
	return out
}

func (m *Memory) snapshotLocked(c *memCollection) Snapshot {
	docs := make([]Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, Document{ID: id, Fields: copyFields(c.docs[id])})
	}
	return Snapshot{Docs: docs, ReadAt: m.now()}
}

func (m *Memory) notifyLocked(c *memCollection) {
	if len(c.subs) == 0 {
		return
	}
	snap := m.snapshotLocked(c)
	for s := range c.subs {
		s.Publish(snap)
	}
}

func copyFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
