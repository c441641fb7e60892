package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/conneroisu/mdxflow/internal/auth"
	"github.com/conneroisu/mdxflow/internal/mdx"
	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/version"
)

// RenderRequest is the body of the render endpoints.
type RenderRequest struct {
	Source string         `json:"source"`
	Props  map[string]any `json:"props,omitempty"`
	// Hydrate overrides render.hydrate from the config.
	Hydrate *bool `json:"hydrate,omitempty"`
}

// ComponentSummary describes one registry entry.
type ComponentSummary struct {
	Name    string    `json:"name"`
	Source  string    `json:"source"`
	LastMod time.Time `json:"lastModified"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"version":    version.GetShortVersion(),
		"build_info": version.GetBuildInfo(),
		"checks": map[string]any{
			"registry":  map[string]any{"status": "healthy", "components": s.registry.Count()},
			"websocket": map[string]any{"status": "healthy", "clients": s.hub.Clients()},
			"storage":   map[string]any{"status": "healthy", "driver": s.config.Storage.Driver},
			"auth":      map[string]any{"enabled": s.gate.Enabled()},
		},
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/api/docs", http.StatusFound)
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	all := s.registry.GetAll()
	out := make([]ComponentSummary, 0, len(all))
	for _, info := range all {
		out = append(out, ComponentSummary{Name: info.Name, Source: info.Source, LastMod: info.LastMod})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) renderRequest(r *http.Request, body RenderRequest) mdx.Request {
	if principal, ok := auth.Principal(r.Context()); ok {
		s.logger.Debug(r.Context(), "Render requested", "principal", principal, "bytes", len(body.Source))
	}
	hydrate := s.config.Render.Hydrate
	if body.Hydrate != nil {
		hydrate = *body.Hydrate
	}
	return mdx.Request{
		Source:  mdx.Text(body.Source),
		Props:   node.Props(body.Props),
		Hydrate: hydrate,
	}
}

// handleRender returns the complete markup. Compilation failures are
// part of the markup, so the status is 200 whenever the body parsed.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var body RenderRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := s.engine.Render(r.Context(), s.renderRequest(r, body))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

// handleRenderStream writes the markup as it resolves.
func (s *Server) handleRenderStream(w http.ResponseWriter, r *http.Request) {
	var body RenderRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := s.engine.Stream(r.Context(), w, s.renderRequest(r, body)); err != nil {
		s.logger.Warn(r.Context(), err, "Stream aborted")
	}
}
