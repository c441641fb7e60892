// Package compress wraps the supported content codings behind streaming
// readers and writers, and negotiates them for HTTP responses.
package compress

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a content coding.
type Algorithm string

const (
	None   Algorithm = "identity"
	Gzip   Algorithm = "gzip"
	Zstd   Algorithm = "zstd"
	Brotli Algorithm = "br"
	LZ4    Algorithm = "lz4"
)

// HTTPAlgorithms are the codings offered to browsers, most preferred
// first. LZ4 has no registered HTTP coding.
var HTTPAlgorithms = []Algorithm{Brotli, Zstd, Gzip}

// Parse returns the algorithm for name. The empty string and "none" map
// to None.
func Parse(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "identity":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "br", "brotli":
		return Brotli, nil
	case "lz4":
		return LZ4, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// Flusher is implemented by every writer NewWriter returns.
type Flusher interface {
	Flush() error
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
func (nopWriteCloser) Flush() error { return nil }

// NewWriter returns a writer compressing into w. Closing it finishes the
// stream but does not close w.
func NewWriter(w io.Writer, alg Algorithm) (io.WriteCloser, error) {
	switch alg {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w)
	case Brotli:
		return brotli.NewWriter(w), nil
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", alg)
	}
}

// NewReader returns a reader decompressing r.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case Brotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", alg)
	}
}

// Negotiate picks the coding for an Accept-Encoding header from offered,
// honouring q-values. Ties keep the order of offered. It returns None
// when nothing acceptable is offered.
func Negotiate(acceptEncoding string, offered ...Algorithm) Algorithm {
	if len(offered) == 0 {
		offered = HTTPAlgorithms
	}

	weights := make(map[string]float64)
	wildcard := -1.0
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		q := 1.0
		if k, v, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(k) == "q" {
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				q = parsed
			}
		}
		if name == "*" {
			wildcard = q
			continue
		}
		weights[name] = q
	}

	best, bestQ := None, 0.0
	for _, alg := range offered {
		q, ok := weights[string(alg)]
		if !ok {
			q = wildcard
		}
		if q > bestQ {
			best, bestQ = alg, q
		}
	}
	return best
}
