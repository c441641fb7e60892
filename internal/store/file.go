package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/conneroisu/mdxflow/internal/compress"
	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/logging"
)

// snapshotVersion guards the on-disk layout.
const snapshotVersion = 1

type snapshot struct {
	Version   int         `msgpack:"v"`
	Documents []*Document `msgpack:"documents"`
}

// FileStore is a MemoryStore persisted to a single compressed msgpack
// snapshot. Every mutation rewrites the snapshot through a temporary file
// and a rename, so readers never observe a partial file.
type FileStore struct {
	mem    *MemoryStore
	path   string
	alg    compress.Algorithm
	logger logging.Logger

	// serializes snapshot writes
	writeMu sync.Mutex
}

// OpenFileStore loads the snapshot at path, or starts empty when the file
// does not exist yet.
func OpenFileStore(path string, alg compress.Algorithm, logger logging.Logger) (*FileStore, error) {
	s := &FileStore{
		mem:    NewMemoryStore(),
		path:   path,
		alg:    alg,
		logger: logging.OrNop(logger).WithComponent("store").With("path", path),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	r, err := compress.NewReader(f, s.alg)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer r.Close()

	var snap snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("snapshot %s has version %d, want %d", s.path, snap.Version, snapshotVersion)
	}

	s.mem.mu.Lock()
	for _, d := range snap.Documents {
		if d.Metadata == nil {
			d.Metadata = map[string]any{}
		}
		d.CreatedAt = d.CreatedAt.UTC()
		d.UpdatedAt = d.UpdatedAt.UTC()
		s.mem.docs[d.ID] = d
	}
	s.mem.mu.Unlock()

	s.logger.Debug(context.Background(), "Loaded snapshot", "documents", len(snap.Documents))
	return nil
}

// persist writes the snapshot, reporting failures as storage errors.
func (s *FileStore) persist() error {
	if err := s.writeSnapshot(); err != nil {
		return mdxerrors.NewStorageError(mdxerrors.ErrCodeSnapshot, "persisting documents", err).
			WithContext("path", s.path)
	}
	return nil
}

func (s *FileStore) writeSnapshot() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mem.mu.RLock()
	snap := snapshot{Version: snapshotVersion, Documents: make([]*Document, 0, len(s.mem.docs))}
	for _, d := range s.mem.docs {
		snap.Documents = append(snap.Documents, d.clone())
	}
	s.mem.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.encode(tmp, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) encode(f *os.File, snap snapshot) error {
	w, err := compress.NewWriter(f, s.alg)
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(w).Encode(&snap); err != nil {
		w.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return f.Sync()
}

func (s *FileStore) Create(ctx context.Context, doc NewDocument) (*Document, error) {
	d, err := s.mem.Create(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *FileStore) Read(ctx context.Context, id string) (*Document, error) {
	return s.mem.Read(ctx, id)
}

func (s *FileStore) Update(ctx context.Context, id string, patch Patch) (*Document, error) {
	d, err := s.mem.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := s.mem.Delete(ctx, id); err != nil {
		return err
	}
	return s.persist()
}

func (s *FileStore) List(ctx context.Context, opts ListOptions) ([]*Document, error) {
	return s.mem.List(ctx, opts)
}

// Close writes a final snapshot.
func (s *FileStore) Close() error {
	return s.persist()
}

// Open returns the store configured by driver: "memory" or "file".
func Open(driver, path string, alg compress.Algorithm, logger logging.Logger) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		if path == "" {
			return nil, errors.New("file store requires a path")
		}
		return OpenFileStore(path, alg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
