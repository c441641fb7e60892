// Package store persists MDX documents. The render pipeline only reads a
// document's content; everything else belongs to the storage layer.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
)

// DefaultLimit is the page size of List when none is given.
const DefaultLimit = 100

// Document is a stored MDX source with its metadata.
type Document struct {
	ID        string         `json:"id" msgpack:"id" yaml:"id"`
	Title     string         `json:"title" msgpack:"title" yaml:"title"`
	Content   string         `json:"content" msgpack:"content" yaml:"content"`
	Metadata  map[string]any `json:"metadata" msgpack:"metadata" yaml:"metadata"`
	CreatedAt time.Time      `json:"createdAt" msgpack:"created_at" yaml:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt" msgpack:"updated_at" yaml:"updatedAt"`
}

// NewDocument is a document before it has an id and timestamps.
type NewDocument struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Patch is a partial update. Nil fields keep their current value;
// Metadata replaces the whole map when set.
type Patch struct {
	Title    *string        `json:"title,omitempty"`
	Content  *string        `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListOptions page through documents, newest first.
type ListOptions struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize applies the default limit and clamps negative values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Store is the document storage contract.
type Store interface {
	Create(ctx context.Context, doc NewDocument) (*Document, error)
	// Read fails with an error matching errors.ErrNotFound for unknown ids.
	Read(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, id string, patch Patch) (*Document, error)
	// Delete of an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*Document, error)
	Close() error
}

func newDocument(doc NewDocument, now time.Time) *Document {
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Document{
		ID:        uuid.NewString(),
		Title:     doc.Title,
		Content:   doc.Content,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p Patch) apply(doc *Document, now time.Time) {
	if p.Title != nil {
		doc.Title = *p.Title
	}
	if p.Content != nil {
		doc.Content = *p.Content
	}
	if p.Metadata != nil {
		doc.Metadata = p.Metadata
	}
	doc.UpdatedAt = now
}

func (d *Document) clone() *Document {
	out := *d
	out.Metadata = make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

func notFound(id string) error {
	return mdxerrors.NotFound("document", id)
}

// page sorts docs newest first and returns the requested window.
func page(docs []*Document, opts ListOptions) []*Document {
	opts = opts.Normalize()
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	if opts.Offset >= len(docs) {
		return []*Document{}
	}
	window := docs[opts.Offset:]
	if opts.Limit < len(window) {
		window = window[:opts.Limit]
	}
	out := make([]*Document, 0, len(window))
	for _, d := range window {
		out = append(out, d.clone())
	}
	return out
}
