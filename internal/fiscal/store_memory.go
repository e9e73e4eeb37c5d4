package fiscal

import (
	"context"

	"keel/internal/scoped"
	id "keel/pkg/domain"
)

// Store persists fiscal documents under tenant scoping.
type Store interface {
	Create(ctx context.Context, doc *Document) error
	Update(ctx context.Context, doc *Document) error
	Get(ctx context.Context, docID id.DocumentID) (*Document, error)
	List(ctx context.Context) ([]*Document, error)
}

// InMemory is the memory-backed document store.
type InMemory struct {
	docs *scoped.Memory[*Document]
}

func NewInMemory() *InMemory {
	return &InMemory{docs: scoped.NewMemory[*Document]()}
}

func (s *InMemory) Create(ctx context.Context, doc *Document) error {
	return s.docs.Create(ctx, doc)
}

func (s *InMemory) Update(ctx context.Context, doc *Document) error {
	return s.docs.Update(ctx, doc)
}

func (s *InMemory) Get(ctx context.Context, docID id.DocumentID) (*Document, error) {
	return s.docs.Get(ctx, docID.String())
}

func (s *InMemory) List(ctx context.Context) ([]*Document, error) {
	return s.docs.List(ctx)
}
