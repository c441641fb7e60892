package compress

import (
	"io"
	"net/http"
)

// Middleware compresses responses using the coding negotiated from the
// request. Flushes reach the client, so streamed pages keep streaming.
func Middleware(offered ...Algorithm) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead || r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}
			alg := Negotiate(r.Header.Get("Accept-Encoding"), offered...)
			w.Header().Add("Vary", "Accept-Encoding")
			if alg == None {
				next.ServeHTTP(w, r)
				return
			}

			ew := &encodingWriter{ResponseWriter: w, alg: alg}
			defer ew.Close()
			next.ServeHTTP(ew, r)
		})
	}
}

type encodingWriter struct {
	http.ResponseWriter
	alg         Algorithm
	enc         io.WriteCloser
	wroteHeader bool
	passthrough bool
}

func (w *encodingWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	if code < http.StatusOK || code == http.StatusNoContent || code == http.StatusNotModified {
		w.passthrough = true
	} else {
		h := w.Header()
		h.Del("Content-Length")
		h.Set("Content-Encoding", string(w.alg))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *encodingWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.passthrough {
		return w.ResponseWriter.Write(p)
	}
	if w.enc == nil {
		enc, err := NewWriter(w.ResponseWriter, w.alg)
		if err != nil {
			return 0, err
		}
		w.enc = enc
	}
	return w.enc.Write(p)
}

// Flush pushes buffered compressed bytes to the client.
func (w *encodingWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.enc.(Flusher); ok {
		_ = f.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Close finishes the compressed stream.
func (w *encodingWriter) Close() error {
	if w.enc == nil {
		return nil
	}
	return w.enc.Close()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *encodingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
