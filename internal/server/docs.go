package server

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/a-h/templ"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/mdx"
	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/store"
	"github.com/conneroisu/mdxflow/internal/websocket"
)

// storeError maps a store failure to a JSON response.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if mdxerrors.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Document not found")
		return
	}
	s.logger.Error(r.Context(), err, "Storage operation failed", "path", r.URL.Path)
	writeError(w, mdxerrors.HTTPStatus(err), "Internal Server Error")
}

func (s *Server) documentChanged(ctx context.Context, id string) {
	if err := s.hub.Broadcast(websocket.UpdateMessage{Type: websocket.MessageDocumentUpdated, Target: id}); err != nil {
		s.logger.Debug(ctx, "Document change not broadcast", "id", id, "error", err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", store.DefaultLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	docs, err := s.store.List(r.Context(), store.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body store.NewDocument
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Title == "" || body.Content == "" {
		writeError(w, http.StatusBadRequest, "Title and content are required")
		return
	}

	doc, err := s.store.Create(r.Context(), body)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Read(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleReplaceDocument requires both title and content. Metadata is
// replaced when present and kept otherwise.
func (s *Server) handleReplaceDocument(w http.ResponseWriter, r *http.Request) {
	var body store.NewDocument
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Title == "" || body.Content == "" {
		writeError(w, http.StatusBadRequest, "Title and content are required")
		return
	}
	s.updateDocument(w, r, store.Patch{Title: &body.Title, Content: &body.Content, Metadata: body.Metadata})
}

func (s *Server) handlePatchDocument(w http.ResponseWriter, r *http.Request) {
	var patch store.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.updateDocument(w, r, patch)
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request, patch store.Patch) {
	id := r.PathValue("id")
	doc, err := s.store.Update(r.Context(), id, patch)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	s.documentChanged(r.Context(), id)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return
	}
	s.documentChanged(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) documentRequest(doc *store.Document) mdx.Request {
	return mdx.Request{
		Source:  mdx.Text(doc.Content),
		Props:   node.Props(doc.Metadata),
		Hydrate: s.config.Render.Hydrate,
	}
}

// handleRenderDocument returns the rendered document fragment.
func (s *Server) handleRenderDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Read(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, s.engine.Render(r.Context(), s.documentRequest(doc)))
}

// handleDocumentPage streams a full page for the document.
func (s *Server) handleDocumentPage(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Read(r.Context(), r.PathValue("id"))
	if err != nil {
		if mdxerrors.IsNotFound(err) {
			http.Error(w, "Document not found", http.StatusNotFound)
			return
		}
		s.storeError(w, r, err)
		return
	}

	req := s.documentRequest(doc)
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return s.engine.Stream(ctx, w, req)
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := Layout(doc.Title, doc.ID, body).Render(r.Context(), w); err != nil {
		s.logger.Warn(r.Context(), err, "Page stream aborted", "id", doc.ID)
	}
}
