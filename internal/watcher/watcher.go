// Package watcher reports debounced file changes under component
// directories so MDX components can be recompiled while the server runs.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/mdxflow/internal/logging"
)

// DefaultDelay is the debounce window used when none is given.
const DefaultDelay = 100 * time.Millisecond

// EventType classifies a change.
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

var eventTypeNames = map[EventType]string{
	EventTypeCreated:  "created",
	EventTypeModified: "modified",
	EventTypeDeleted:  "deleted",
	EventTypeRenamed:  "renamed",
}

func (e EventType) String() string {
	if name, ok := eventTypeNames[e]; ok {
		return name
	}
	return "unknown"
}

// ChangeEvent is one file change. ModTime and Size are zero when the file
// is gone.
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// Gone reports whether the file no longer exists at Path.
func (e ChangeEvent) Gone() bool {
	return e.Type == EventTypeDeleted || e.Type == EventTypeRenamed
}

// ChangeHandler handles one debounced batch of events.
type ChangeHandler func(ctx context.Context, events []ChangeEvent) error

// FileWatcher feeds fsnotify events through filters and a Debouncer and
// hands each batch to every registered handler.
type FileWatcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	logger    logging.Logger

	mu       sync.RWMutex
	filters  []FileFilter
	handlers []ChangeHandler

	done     chan struct{}
	stopOnce sync.Once
}

// NewFileWatcher creates a watcher. A delay of zero means DefaultDelay.
func NewFileWatcher(delay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		fs:        w,
		debouncer: NewDebouncer(delay),
		logger:    logging.OrNop(logger).WithComponent("watcher"),
		done:      make(chan struct{}),
	}, nil
}

// AddFilter adds a filter. A change is reported only if every filter
// accepts its path.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mu.Lock()
	fw.filters = append(fw.filters, filter)
	fw.mu.Unlock()
}

// AddHandler adds a handler for debounced batches.
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mu.Lock()
	fw.handlers = append(fw.handlers, handler)
	fw.mu.Unlock()
}

// AddPath watches a single directory.
func (fw *FileWatcher) AddPath(path string) error {
	abs, err := absPath(path)
	if err != nil {
		return err
	}
	return fw.fs.Add(abs)
}

// AddRecursive watches root and every directory below it, skipping hidden
// directories.
func (fw *FileWatcher) AddRecursive(root string) error {
	abs, err := absPath(root)
	if err != nil {
		return err
	}
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case !d.IsDir():
			return nil
		case path != abs && strings.HasPrefix(d.Name(), "."):
			return filepath.SkipDir
		}
		return fw.fs.Add(path)
	})
}

// WatchList returns the watched directories, sorted.
func (fw *FileWatcher) WatchList() []string {
	list := fw.fs.WatchList()
	slices.Sort(list)
	return list
}

func absPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("invalid path: empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return abs, nil
}

// Start begins delivering changes. It returns immediately; delivery stops
// when ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	go fw.debouncer.Start(ctx)
	go func() {
		defer cancel()
		fw.run(ctx)
	}()
	return nil
}

// Stop closes the underlying watcher. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.done)
		err = fw.fs.Close()
	})
	return err
}

func (fw *FileWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.fs.Events:
			if !ok {
				return
			}
			fw.observe(ctx, event)
		case err, ok := <-fw.fs.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		case batch := <-fw.debouncer.Output():
			fw.dispatch(ctx, batch)
		}
	}
}

func (fw *FileWatcher) observe(ctx context.Context, event fsnotify.Event) {
	info, statErr := os.Stat(event.Name)
	if statErr == nil && info.IsDir() {
		// New directories are watched so nested components are picked up.
		if event.Has(fsnotify.Create) {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Cannot watch new directory", "path", event.Name)
			}
		}
		return
	}
	if !fw.accept(event.Name) {
		return
	}

	change := ChangeEvent{Type: eventTypeOf(event.Op), Path: event.Name}
	if statErr == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
	}
	fw.debouncer.Add(change)
}

func (fw *FileWatcher) accept(path string) bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	for _, filter := range fw.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

func (fw *FileWatcher) dispatch(ctx context.Context, batch []ChangeEvent) {
	fw.mu.RLock()
	handlers := slices.Clone(fw.handlers)
	fw.mu.RUnlock()

	for _, handle := range handlers {
		if err := handle(ctx, batch); err != nil {
			fw.logger.Error(ctx, err, "File watcher handler failed", "events", len(batch))
		}
	}
}

func eventTypeOf(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}
