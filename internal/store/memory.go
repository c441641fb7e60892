package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps documents in a map. It is the default for development
// and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, doc NewDocument) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := newDocument(doc, s.now())

	s.mu.Lock()
	s.docs[d.ID] = d
	s.mu.Unlock()

	return d.clone(), nil
}

func (s *MemoryStore) Read(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, notFound(id)
	}
	return d.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch Patch) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, notFound(id)
	}
	patch.apply(d, s.now())
	return d.clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	return page(docs, opts), nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
