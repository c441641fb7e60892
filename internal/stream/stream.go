// Package stream serializes render trees progressively.
//
// The first chunk contains the whole document with every suspense
// boundary shown as its fallback, wrapped in placeholder markers. Each
// boundary later produces exactly one chunk, in completion order, that
// replaces its placeholder: the resolved markup, or error markup if the
// boundary failed. Boundaries found inside resolved content are given
// fresh ids and streamed the same way.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/logging"
	"github.com/conneroisu/mdxflow/internal/node"
)

// State is the lifecycle of a suspense boundary.
type State int

const (
	StateUnresolved State = iota
	StateResolving
	StateResolved
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultIDPrefix prefixes boundary ids.
const DefaultIDPrefix = "mdx-b"

// SwapFunction is the name of the client function that applies chunks.
const SwapFunction = "mdxSwap"

// swapScript moves a resolved template into its placeholder and removes
// the fallback up to the end marker.
const swapScript = `<script>function ` + SwapFunction + `(id){` +
	`var t=document.querySelector('template[data-mdx-target="'+id+'"]'),p=document.getElementById(id);` +
	`if(!t||!p)return;var e=p.nextSibling,m='/'+id;` +
	`while(e&&!(e.nodeType===8&&e.data===m)){var n=e.nextSibling;e.parentNode.removeChild(e);e=n}` +
	`if(e)e.parentNode.removeChild(e);p.parentNode.replaceChild(t.content,p);t.remove()}</script>`

// Chunk is one unit of streamed output. Seq 0 is the initial document;
// later chunks each settle one boundary.
type Chunk struct {
	Seq        int
	BoundaryID string
	State      State
	HTML       []byte
}

// Options configure a Renderer.
type Options struct {
	// IDPrefix prefixes boundary ids; ids are IDPrefix:N.
	IDPrefix string
	// BoundaryTimeout fails boundaries that take longer. Zero disables it.
	BoundaryTimeout time.Duration
	Logger          logging.Logger
}

// Renderer streams render trees.
type Renderer struct {
	opts   Options
	logger logging.Logger
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	if opts.IDPrefix == "" {
		opts.IDPrefix = DefaultIDPrefix
	}
	return &Renderer{
		opts:   opts,
		logger: logging.OrNop(opts.Logger).WithComponent("stream"),
	}
}

type boundary struct {
	id      string
	pending *node.Pending
	state   State
}

type settled struct {
	b      *boundary
	result node.Node
	err    error
}

// session is the state of one Stream call.
type session struct {
	r        *Renderer
	next     int
	inflight int
	results  chan settled
	done     chan struct{}
	wg       sync.WaitGroup
}

// Stream renders root and calls emit for every chunk. It returns when
// every boundary has been emitted, when emit fails, or when ctx ends.
func (r *Renderer) Stream(ctx context.Context, root node.Node, emit func(Chunk) error) error {
	s := &session{
		r:       r,
		results: make(chan settled),
		done:    make(chan struct{}),
	}
	defer func() {
		close(s.done)
		s.wg.Wait()
	}()

	var body bytes.Buffer
	if err := node.WriteHTML(&body, root, s.placeholder); err != nil {
		return err
	}

	first := body.Bytes()
	if s.inflight > 0 {
		first = append([]byte(swapScript), first...)
	}
	if err := emit(Chunk{Seq: 0, State: StateResolved, HTML: first}); err != nil {
		return err
	}

	seq := 1
	for s.inflight > 0 {
		var res settled
		select {
		case res = <-s.results:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.inflight--

		chunk := Chunk{Seq: seq, BoundaryID: res.b.id}
		if res.err != nil {
			res.b.state = StateFailed
			chunk.State = StateFailed
			chunk.HTML = failedChunk(res.b.id, res.err)
			r.logger.Warn(ctx, res.err, "Suspense boundary failed", "boundary", res.b.id)
		} else {
			var content bytes.Buffer
			if err := node.WriteHTML(&content, res.result, s.placeholder); err != nil {
				return err
			}
			res.b.state = StateResolved
			chunk.State = StateResolved
			chunk.HTML = resolvedChunk(res.b.id, content.Bytes())
		}

		if err := emit(chunk); err != nil {
			return err
		}
		seq++
	}
	return nil
}

// placeholder writes the boundary markers and fallback, and starts
// watching the boundary.
func (s *session) placeholder(w io.Writer, p *node.Pending) error {
	id := s.r.opts.IDPrefix + ":" + strconv.Itoa(s.next)
	s.next++

	if _, err := fmt.Fprintf(w, `<template id="%s"></template>`, id); err != nil {
		return err
	}
	if err := node.WriteHTML(w, p.Fallback, node.WriteFallback); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "<!--/%s-->", id); err != nil {
		return err
	}

	b := &boundary{id: id, pending: p, state: StateUnresolved}
	s.inflight++
	s.wg.Add(1)
	go s.watch(b)
	return nil
}

func (s *session) watch(b *boundary) {
	defer s.wg.Done()
	b.state = StateResolving

	var timeout <-chan time.Time
	if s.r.opts.BoundaryTimeout > 0 {
		timer := time.NewTimer(s.r.opts.BoundaryTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	res := settled{b: b}
	select {
	case <-b.pending.Handle.Done():
		res.result, res.err = b.pending.Handle.Result()
	case <-timeout:
		res.err = s.r.timeoutError()
	case <-s.done:
		return
	}

	select {
	case s.results <- res:
	case <-s.done:
	}
}

func (r *Renderer) timeoutError() error {
	return mdxerrors.NewRenderError(mdxerrors.ErrCodeBoundaryTimeout,
		fmt.Sprintf("boundary did not resolve within %s", r.opts.BoundaryTimeout), nil)
}

func resolvedChunk(id string, content []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<template data-mdx-target="%s">`, id)
	b.Write(content)
	fmt.Fprintf(&b, `</template><script>%s(%q)</script>`, SwapFunction, id)
	return b.Bytes()
}

func failedChunk(id string, err error) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<template data-mdx-target="%s" data-mdx-state="failed">`, id)
	b.WriteString(node.ErrorHTML("", err.Error()))
	fmt.Fprintf(&b, `</template><script>%s(%q)</script>`, SwapFunction, id)
	return b.Bytes()
}

// WriteTo streams root into w, flushing after every chunk when w
// supports it.
func (r *Renderer) WriteTo(ctx context.Context, w io.Writer, root node.Node) error {
	flusher, _ := w.(http.Flusher)
	return r.Stream(ctx, root, func(c Chunk) error {
		if _, err := w.Write(c.HTML); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
}

// RenderToString waits for every boundary and returns the complete
// markup with resolved content inline. Failed boundaries render as error
// markup.
func (r *Renderer) RenderToString(ctx context.Context, root node.Node) (string, error) {
	var buf bytes.Buffer
	var inline node.PendingFunc
	inline = func(w io.Writer, p *node.Pending) error {
		awaitCtx := ctx
		if r.opts.BoundaryTimeout > 0 {
			var cancel context.CancelFunc
			awaitCtx, cancel = context.WithTimeout(ctx, r.opts.BoundaryTimeout)
			defer cancel()
		}

		result, err := p.Handle.Await(awaitCtx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(awaitCtx.Err(), context.DeadlineExceeded) {
				err = r.timeoutError()
			}
			r.logger.Warn(ctx, err, "Suspense boundary failed")
			_, werr := io.WriteString(w, node.ErrorHTML("", err.Error()))
			return werr
		}
		return node.WriteHTML(w, result, inline)
	}

	if err := node.WriteHTML(&buf, root, inline); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToString renders root with default options.
func RenderToString(ctx context.Context, root node.Node) (string, error) {
	return New(Options{}).RenderToString(ctx, root)
}
