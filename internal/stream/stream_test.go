package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/mdxflow/internal/node"
)

// gate returns a boundary that resolves to content once release is closed.
func gate(fallback, content string, release <-chan struct{}) *node.Pending {
	return node.Suspense(context.Background(), node.NewText(fallback), func(ctx context.Context) (node.Node, error) {
		<-release
		return node.NewText(content), nil
	})
}

func collect(t *testing.T, r *Renderer, ctx context.Context, root node.Node) ([]Chunk, error) {
	t.Helper()
	var chunks []Chunk
	err := r.Stream(ctx, root, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	return chunks, err
}

func TestStreamWithoutBoundaries(t *testing.T) {
	chunks, err := collect(t, New(Options{}), context.Background(), node.El("p", nil, node.NewText("static")))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "<p>static</p>", string(chunks[0].HTML))
	assert.NotContains(t, string(chunks[0].HTML), SwapFunction)
}

func TestStreamEmitsInCompletionOrder(t *testing.T) {
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	root := node.Frag(
		gate("loading A", "content A", releaseA),
		gate("loading B", "content B", releaseB),
	)

	var chunks []Chunk
	err := New(Options{}).Stream(context.Background(), root, func(c Chunk) error {
		chunks = append(chunks, c)
		if c.Seq == 0 {
			close(releaseB)
		}
		if c.Seq == 1 {
			close(releaseA)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	first := string(chunks[0].HTML)
	assert.True(t, strings.HasPrefix(first, "<script>function mdxSwap(id)"))
	assert.Equal(t, 1, strings.Count(first, "function mdxSwap"))
	assert.Contains(t, first, `<template id="mdx-b:0"></template>loading A<!--/mdx-b:0-->`)
	assert.Contains(t, first, `<template id="mdx-b:1"></template>loading B<!--/mdx-b:1-->`)

	assert.Equal(t, "mdx-b:1", chunks[1].BoundaryID)
	assert.Equal(t, StateResolved, chunks[1].State)
	assert.Equal(t, `<template data-mdx-target="mdx-b:1">content B</template><script>mdxSwap("mdx-b:1")</script>`, string(chunks[1].HTML))

	assert.Equal(t, "mdx-b:0", chunks[2].BoundaryID)
	assert.Equal(t, 2, chunks[2].Seq)
	assert.NotContains(t, string(chunks[2].HTML), "function mdxSwap")
}

func TestStreamFailedBoundary(t *testing.T) {
	root := node.Frag(
		node.NewText("before "),
		node.Later(node.Rejected(errors.New("fetch <failed>")), node.NewText("wait")),
		node.NewText(" after"),
	)

	chunks, err := collect(t, New(Options{}), context.Background(), root)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Contains(t, string(chunks[0].HTML), "before <template id=\"mdx-b:0\"></template>wait<!--/mdx-b:0--> after")
	assert.Equal(t, StateFailed, chunks[1].State)
	failed := string(chunks[1].HTML)
	assert.Contains(t, failed, `data-mdx-state="failed"`)
	assert.Contains(t, failed, `data-mdx-error="true"`)
	assert.Contains(t, failed, "fetch &lt;failed&gt;")
}

func TestStreamNestedBoundaries(t *testing.T) {
	inner := node.Later(node.Resolved(node.NewText("inner done")), node.NewText("inner loading"))
	outer := node.Later(node.Resolved(node.El("div", nil, node.NewText("outer "), inner)), node.NewText("outer loading"))

	chunks, err := collect(t, New(Options{}), context.Background(), outer)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "mdx-b:0", chunks[1].BoundaryID)
	assert.Contains(t, string(chunks[1].HTML), `<div>outer <template id="mdx-b:1"></template>inner loading<!--/mdx-b:1--></div>`)
	assert.Equal(t, "mdx-b:1", chunks[2].BoundaryID)
	assert.Contains(t, string(chunks[2].HTML), "inner done")
}

func TestStreamBoundaryTimeout(t *testing.T) {
	never := make(chan struct{})
	defer close(never)

	r := New(Options{BoundaryTimeout: 20 * time.Millisecond})
	chunks, err := collect(t, r, context.Background(), gate("slow", "never", never))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, StateFailed, chunks[1].State)
	assert.Contains(t, string(chunks[1].HTML), "did not resolve within 20ms")
}

func TestStreamStopsOnCancel(t *testing.T) {
	never := make(chan struct{})
	defer close(never)

	ctx, cancel := context.WithCancel(context.Background())
	var chunks []Chunk
	err := New(Options{}).Stream(ctx, gate("slow", "never", never), func(c Chunk) error {
		chunks = append(chunks, c)
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, chunks, 1)
}

func TestStreamEmitError(t *testing.T) {
	sink := errors.New("client went away")
	err := New(Options{}).Stream(context.Background(), node.NewText("x"), func(c Chunk) error {
		return sink
	})
	assert.ErrorIs(t, err, sink)
}

func TestRenderToString(t *testing.T) {
	release := make(chan struct{})
	close(release)

	root := node.Frag(
		gate("loading", "resolved", release),
		node.NewText(" | "),
		node.Later(node.Rejected(errors.New("boom")), node.NewText("x")),
		node.NewText(" | "),
		node.Later(node.Resolved(node.Later(node.Resolved(node.NewText("deep")), nil)), nil),
	)

	out, err := RenderToString(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "resolved | "))
	assert.Contains(t, out, "Error: boom")
	assert.True(t, strings.HasSuffix(out, " | deep"))
	assert.NotContains(t, out, "<template")
}

func TestRenderToStringTimeout(t *testing.T) {
	never := make(chan struct{})
	defer close(never)

	r := New(Options{BoundaryTimeout: 10 * time.Millisecond})
	out, err := r.RenderToString(context.Background(), gate("slow", "never", never))
	require.NoError(t, err)
	assert.Contains(t, out, `data-mdx-error="true"`)
	assert.Contains(t, out, "[ERR_BOUNDARY_TIMEOUT] boundary did not resolve within 10ms")
	assert.NotContains(t, out, "context deadline exceeded")
}

func TestWriteToFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	root := node.Later(node.Resolved(node.NewText("LATE-MARK")), node.NewText("EARLY-MARK"))

	require.NoError(t, New(Options{}).WriteTo(context.Background(), rec, root))
	assert.True(t, rec.Flushed)
	body := rec.Body.String()
	early, late := strings.Index(body, "EARLY-MARK"), strings.Index(body, "LATE-MARK")
	require.GreaterOrEqual(t, early, 0)
	require.GreaterOrEqual(t, late, 0)
	assert.Less(t, early, late)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "resolving", StateResolving.String())
	assert.Equal(t, "unknown", State(9).String())
}
