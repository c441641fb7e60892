package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/mdxflow/internal/compress"
	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
)

// tick returns a clock advancing one second per call.
func tick() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newMemory() *MemoryStore {
	s := NewMemoryStore()
	s.now = tick()
	return s
}

func ptr[T any](v T) *T { return &v }

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	created, err := s.Create(ctx, NewDocument{Title: "Intro", Content: "# Intro"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Intro", created.Title)
	assert.NotNil(t, created.Metadata)
	assert.True(t, created.CreatedAt.Equal(created.UpdatedAt))

	read, err := s.Read(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Intro", read.Content)

	updated, err := s.Update(ctx, created.ID, Patch{
		Content:  ptr("# Intro\n\nMore"),
		Metadata: map[string]any{"tag": "guide"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Intro", updated.Title)
	assert.Equal(t, "# Intro\n\nMore", updated.Content)
	assert.Equal(t, map[string]any{"tag": "guide"}, updated.Metadata)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	replaced, err := s.Update(ctx, created.ID, Patch{Metadata: map[string]any{"draft": "yes"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"draft": "yes"}, replaced.Metadata)

	_, err = s.Read(ctx, "missing")
	assert.True(t, mdxerrors.IsNotFound(err))
	assert.ErrorContains(t, err, "document with id missing not found")

	_, err = s.Update(ctx, "missing", Patch{Title: ptr("x")})
	assert.True(t, mdxerrors.IsNotFound(err))

	require.NoError(t, s.Delete(ctx, created.ID))
	require.NoError(t, s.Delete(ctx, created.ID))
	_, err = s.Read(ctx, created.ID)
	assert.True(t, mdxerrors.IsNotFound(err))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, newMemory())
}

func TestFileStore(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "docs.db"), compress.Zstd, nil)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newMemory()
	d, err := s.Create(ctx, NewDocument{Title: "a", Metadata: map[string]any{"k": "v"}})
	require.NoError(t, err)

	d.Title = "changed"
	d.Metadata["k"] = "changed"

	again, err := s.Read(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Title)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestListOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	s := newMemory()
	for _, title := range []string{"one", "two", "three", "four"} {
		_, err := s.Create(ctx, NewDocument{Title: title})
		require.NoError(t, err)
	}

	titles := func(docs []*Document) []string {
		out := make([]string, len(docs))
		for i, d := range docs {
			out[i] = d.Title
		}
		return out
	}

	tests := []struct {
		name     string
		opts     ListOptions
		expected []string
	}{
		{"defaults", ListOptions{}, []string{"four", "three", "two", "one"}},
		{"limit", ListOptions{Limit: 2}, []string{"four", "three"}},
		{"offset", ListOptions{Limit: 2, Offset: 2}, []string{"two", "one"}},
		{"past end", ListOptions{Offset: 10}, []string{}},
		{"negative offset", ListOptions{Limit: 1, Offset: -3}, []string{"four"}},
		{"max limit", ListOptions{Limit: math.MaxInt, Offset: 1}, []string{"three", "two", "one"}},
		{"max limit past end", ListOptions{Limit: math.MaxInt, Offset: 4}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.List(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, titles(docs))
		})
	}
}

func TestWritesAfterLargeList(t *testing.T) {
	ctx := context.Background()
	file, err := OpenFileStore(filepath.Join(t.TempDir(), "docs.db"), compress.None, nil)
	require.NoError(t, err)
	defer file.Close()

	stores := map[string]Store{"memory": newMemory(), "file": file}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			first, err := s.Create(ctx, NewDocument{Title: "first"})
			require.NoError(t, err)
			_, err = s.List(ctx, ListOptions{Limit: math.MaxInt, Offset: 1})
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() {
				_, err := s.Create(ctx, NewDocument{Title: "second"})
				if err == nil {
					err = s.Delete(ctx, first.ID)
				}
				done <- err
			}()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("write blocked after List")
			}
		})
	}
}

func TestListOptionsNormalize(t *testing.T) {
	assert.Equal(t, ListOptions{Limit: DefaultLimit}, ListOptions{}.Normalize())
	assert.Equal(t, ListOptions{Limit: 5, Offset: 3}, ListOptions{Limit: 5, Offset: 3}.Normalize())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newMemory()

	_, err := s.Create(ctx, NewDocument{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.List(ctx, ListOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Len())
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	for _, alg := range []compress.Algorithm{compress.None, compress.Gzip, compress.Zstd, compress.LZ4} {
		t.Run(string(alg), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "docs.db")
			s, err := OpenFileStore(path, alg, nil)
			require.NoError(t, err)

			d, err := s.Create(ctx, NewDocument{
				Title:    "Persisted",
				Content:  "<Callout>\nkept\n</Callout>",
				Metadata: map[string]any{"author": "ada"},
			})
			require.NoError(t, err)
			require.NoError(t, s.Close())

			reopened, err := OpenFileStore(path, alg, nil)
			require.NoError(t, err)
			got, err := reopened.Read(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, d.Title, got.Title)
			assert.Equal(t, d.Content, got.Content)
			assert.Equal(t, "ada", got.Metadata["author"])
			assert.True(t, d.CreatedAt.Equal(got.CreatedAt))
		})
	}
}

func TestFileStoreRejectsWrongCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	s, err := OpenFileStore(path, compress.Zstd, nil)
	require.NoError(t, err)
	_, err = s.Create(context.Background(), NewDocument{Title: "x"})
	require.NoError(t, err)

	_, err = OpenFileStore(path, compress.Gzip, nil)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "", compress.None, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open("file", filepath.Join(t.TempDir(), "d.db"), compress.Gzip, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open("file", "", compress.None, nil)
	assert.Error(t, err)
	_, err = Open("d1", "", compress.None, nil)
	assert.Error(t, err)
}
