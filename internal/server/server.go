// Package server exposes the render pipeline over HTTP: the render API,
// streamed document pages, document CRUD and live reload.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/conneroisu/mdxflow/internal/auth"
	"github.com/conneroisu/mdxflow/internal/components"
	"github.com/conneroisu/mdxflow/internal/compiler"
	"github.com/conneroisu/mdxflow/internal/compress"
	"github.com/conneroisu/mdxflow/internal/config"
	"github.com/conneroisu/mdxflow/internal/logging"
	"github.com/conneroisu/mdxflow/internal/mdx"
	"github.com/conneroisu/mdxflow/internal/middleware"
	"github.com/conneroisu/mdxflow/internal/registry"
	"github.com/conneroisu/mdxflow/internal/store"
	"github.com/conneroisu/mdxflow/internal/stream"
	"github.com/conneroisu/mdxflow/internal/watcher"
	"github.com/conneroisu/mdxflow/internal/websocket"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 4 << 20

// Server serves rendered MDX with live reload.
type Server struct {
	config   *config.Config
	engine   *mdx.Engine
	store    store.Store
	registry *registry.ComponentRegistry
	scanners []*components.Scanner
	watcher  *watcher.FileWatcher
	hub      *websocket.Hub
	gate     *auth.Gate
	logger   logging.Logger

	handler      http.Handler
	serverMutex  sync.Mutex
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// Dependencies are the collaborators a Server does not build itself.
type Dependencies struct {
	Store  store.Store
	Logger logging.Logger
	// Registry defaults to a fresh registry.
	Registry *registry.ComponentRegistry
	// Validator overrides the static tokens from the auth config.
	Validator auth.Validator
}

// New builds a server from cfg. Component directories are scanned
// immediately; missing directories are skipped with a warning.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config cannot be nil")
	}
	if deps.Store == nil {
		return nil, errors.New("server: store cannot be nil")
	}
	logger := logging.OrNop(deps.Logger).WithComponent("server")

	reg := deps.Registry
	if reg == nil {
		reg = registry.NewComponentRegistry()
	}
	if cfg.Components.Builtins {
		components.RegisterBuiltins(reg)
	}

	s := &Server{
		config:   cfg,
		store:    deps.Store,
		registry: reg,
		logger:   logger,
	}

	scanners, err := components.LoadDirs(reg, cfg.Components.Dirs, logger)
	if err != nil {
		return nil, err
	}
	s.scanners = scanners

	options := []mdx.Option{
		mdx.WithRegistry(reg),
		mdx.WithLogger(deps.Logger),
		mdx.WithStrict(cfg.Render.Strict),
		mdx.WithStreamOptions(stream.Options{BoundaryTimeout: cfg.Render.BoundaryTimeout}),
	}
	if cfg.Render.CacheSize > 0 {
		options = append(options, mdx.WithCache(compiler.NewCache(cfg.Render.CacheSize, cfg.Render.CacheTTL)))
	}
	engine, err := mdx.New(cfg.Compiler, options...)
	if err != nil {
		return nil, fmt.Errorf("creating render engine: %w", err)
	}
	s.engine = engine

	validator := deps.Validator
	if validator == nil && cfg.Auth.Enabled {
		validator = auth.StaticTokens(cfg.Auth.Tokens)
	}
	s.gate = auth.NewGate(validator, deps.Logger)
	s.hub = websocket.NewHub(deps.Logger, cfg.Server.AllowedOrigins...)

	algorithms, err := httpAlgorithms(cfg.Render.Compression)
	if err != nil {
		return nil, err
	}
	chain := middleware.NewMiddlewareChain(middleware.MiddlewareDependencies{Config: cfg, Logger: deps.Logger})
	if len(algorithms) > 0 {
		chain.AddMiddleware(compress.Middleware(algorithms...))
	}
	s.handler = chain.Apply(s.routes())

	return s, nil
}

func httpAlgorithms(names []string) ([]compress.Algorithm, error) {
	algorithms := make([]compress.Algorithm, 0, len(names))
	for _, name := range names {
		alg, err := compress.Parse(name)
		if err != nil {
			return nil, err
		}
		if alg == compress.LZ4 {
			return nil, fmt.Errorf("compression %q is not an HTTP content coding", name)
		}
		if alg != compress.None {
			algorithms = append(algorithms, alg)
		}
	}
	return algorithms, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", s.hub)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/components", s.handleComponents)
	api.HandleFunc("POST /api/render", s.handleRender)
	api.HandleFunc("POST /api/render/stream", s.handleRenderStream)
	api.HandleFunc("GET /api/docs", s.handleListDocuments)
	api.HandleFunc("POST /api/docs", s.handleCreateDocument)
	api.HandleFunc("GET /api/docs/{id}", s.handleGetDocument)
	api.HandleFunc("PUT /api/docs/{id}", s.handleReplaceDocument)
	api.HandleFunc("PATCH /api/docs/{id}", s.handlePatchDocument)
	api.HandleFunc("DELETE /api/docs/{id}", s.handleDeleteDocument)
	api.HandleFunc("GET /api/docs/{id}/render", s.handleRenderDocument)
	api.HandleFunc("GET /docs/{id}", s.handleDocumentPage)
	mux.Handle("/api/", s.gate.Middleware(api))
	mux.Handle("/docs/", s.gate.Middleware(api))

	mux.HandleFunc("GET /{$}", s.handleIndex)
	return mux
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Engine returns the render engine.
func (s *Server) Engine() *mdx.Engine {
	return s.engine
}

// Registry returns the component registry.
func (s *Server) Registry() *registry.ComponentRegistry {
	return s.registry
}

// Start watches the component directories, if configured, and serves
// until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s.config.Components.Watch && len(s.scanners) > 0 {
		if err := s.startWatcher(ctx); err != nil {
			return err
		}
		events := s.registry.Watch()
		defer s.registry.UnWatch(events)
		go s.relayComponentEvents(ctx, events)
	}

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:    s.config.Server.Addr(),
		Handler: s.handler,
	}
	srv := s.httpServer
	s.serverMutex.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

func (s *Server) startWatcher(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(watcher.DefaultDelay, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoTempFilter)
	fw.AddFilter(watcher.MDXFilter)
	fw.AddHandler(s.handleFileChanges)

	for _, scanner := range s.scanners {
		if err := fw.AddRecursive(scanner.Dir()); err != nil {
			_ = fw.Stop()
			return fmt.Errorf("watching %s: %w", scanner.Dir(), err)
		}
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}
	s.watcher = fw
	return nil
}

// handleFileChanges rescans changed components and tells browsers.
func (s *Server) handleFileChanges(ctx context.Context, events []watcher.ChangeEvent) error {
	var errs []error
	for _, scanner := range s.scanners {
		names, err := scanner.HandleChanges(ctx, events)
		if err != nil {
			errs = append(errs, err)
			_ = s.hub.Broadcast(websocket.UpdateMessage{Type: websocket.MessageError, Content: err.Error()})
		}
		for _, name := range names {
			s.logger.Info(ctx, "Component changed", "component", name)
		}
	}
	return errors.Join(errs...)
}

// relayComponentEvents tells browsers about recompiled or removed
// components until events is closed. Components resolved for the first
// time do not trigger a reload.
func (s *Server) relayComponentEvents(ctx context.Context, events <-chan registry.ComponentEvent) {
	for event := range events {
		if event.Type == registry.EventTypeAdded {
			continue
		}
		msg := websocket.UpdateMessage{
			Type:    websocket.MessageComponentUpdated,
			Target:  event.Component.Name,
			Content: event.Type.String(),
		}
		if err := s.hub.Broadcast(msg); err != nil {
			s.logger.Debug(ctx, "Component change not broadcast", "component", event.Component.Name, "error", err.Error())
		}
	}
}

// Shutdown stops the watcher, disconnects live reload clients, drains
// the HTTP server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		var errs []error
		if s.watcher != nil {
			errs = append(errs, s.watcher.Stop())
		}
		errs = append(errs, s.hub.Shutdown(ctx))

		s.serverMutex.Lock()
		srv := s.httpServer
		s.serverMutex.Unlock()
		if srv != nil {
			errs = append(errs, srv.Shutdown(ctx))
		}
		errs = append(errs, s.store.Close())
		shutdownErr = errors.Join(errs...)
	})
	return shutdownErr
}
