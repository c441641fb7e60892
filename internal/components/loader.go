package components

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/mdxflow/internal/compiler"
	"github.com/conneroisu/mdxflow/internal/ir"
	"github.com/conneroisu/mdxflow/internal/logging"
	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
	"github.com/conneroisu/mdxflow/internal/sandbox"
	"github.com/conneroisu/mdxflow/internal/watcher"
)

// Extension is the file extension of MDX components.
const Extension = ".mdx"

// MaxDepth bounds how deeply file components may render each other.
const MaxDepth = 32

// FileComponent is an MDX file used as a component. Frontmatter values
// are default props, and the component's children are available to the
// document as {children}.
type FileComponent struct {
	Name string
	Path string
	Hash string

	tpl *ir.Template
}

// DisplayName implements registry.Named.
func (f *FileComponent) DisplayName() string {
	return f.Name
}

// Template returns the compiled document.
func (f *FileComponent) Template() *ir.Template {
	return f.tpl
}

type depthKey struct{}

// Render executes the document with props over the frontmatter defaults.
func (f *FileComponent) Render(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= MaxDepth {
		return nil, fmt.Errorf("component nesting exceeds %d", MaxDepth)
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	merged := make(node.Props, len(f.tpl.Frontmatter)+len(props)+1)
	for k, v := range f.tpl.Frontmatter {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}
	merged["children"] = children

	return sandbox.Instantiate(ctx, f.tpl, sandbox.Runtime{
		Registry: registry.FromContext(ctx),
		Props:    merged,
	}), nil
}

// Scanner discovers MDX components in a directory and registers them.
// It also serves as the registry loader for names not yet scanned.
type Scanner struct {
	registry *registry.ComponentRegistry
	compiler *compiler.Compiler
	dir      string
	logger   logging.Logger

	mu     sync.RWMutex
	hashes map[string]string
}

// NewScanner creates a scanner for dir registering into reg.
func NewScanner(reg *registry.ComponentRegistry, dir string, logger logging.Logger) (*Scanner, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving component directory: %w", err)
	}
	logger = logging.OrNop(logger).WithComponent("components")

	c, err := compiler.New(compiler.Options{
		Remark: []string{compiler.RemarkGFM, compiler.RemarkFrontmatter},
		Rehype: []string{compiler.RehypeSlug},
	}, compiler.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &Scanner{
		registry: reg,
		compiler: c,
		dir:      abs,
		logger:   logger,
		hashes:   make(map[string]string),
	}, nil
}

// Dir returns the scanned directory.
func (s *Scanner) Dir() string {
	return s.dir
}

// ScanDirectory registers every MDX file under the directory. Files
// that fail to compile are reported together; the rest are registered.
func (s *Scanner) ScanDirectory() error {
	var files []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, Extension) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, file := range files {
		if _, err := s.ScanFile(file); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScanFile compiles and registers one file. Unchanged files are skipped.
func (s *Scanner) ScanFile(path string) (*FileComponent, error) {
	cleanPath, err := s.validatePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	name := ComponentName(cleanPath)
	if name == "" {
		return nil, fmt.Errorf("no component name for %s", cleanPath)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("getting file info for %s: %w", cleanPath, err)
	}
	content, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", cleanPath, err)
	}
	hash := fmt.Sprintf("%x", crc32.ChecksumIEEE(content))

	s.mu.RLock()
	previous := s.hashes[cleanPath]
	s.mu.RUnlock()
	if previous == hash {
		if existing, ok := s.registry.Lookup(name); ok {
			if fc, ok := existing.Component.(*FileComponent); ok && fc.Hash == hash {
				return fc, nil
			}
		}
	}

	tpl, err := s.compiler.Compile(string(content))
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", cleanPath, err)
	}

	fc := &FileComponent{Name: name, Path: cleanPath, Hash: hash, tpl: tpl}
	s.registry.RegisterInfo(&registry.ComponentInfo{
		Name:      name,
		Component: fc,
		Source:    cleanPath,
		LastMod:   info.ModTime(),
	})

	s.mu.Lock()
	s.hashes[cleanPath] = hash
	s.mu.Unlock()

	s.logger.Debug(context.Background(), "Registered MDX component", "name", name, "path", cleanPath)
	return fc, nil
}

// RemoveFile unregisters the component defined by path.
func (s *Scanner) RemoveFile(path string) {
	cleanPath := filepath.Clean(path)
	if abs, err := filepath.Abs(cleanPath); err == nil {
		cleanPath = abs
	}

	s.mu.Lock()
	delete(s.hashes, cleanPath)
	s.mu.Unlock()

	name := ComponentName(cleanPath)
	if info, ok := s.registry.Lookup(name); ok && info.Source == cleanPath {
		s.registry.Remove(name)
	}
}

// Load implements registry.Loader by scanning the file whose name maps
// to name.
func (s *Scanner) Load(ctx context.Context, name string) (registry.Component, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		if ComponentName(e.Name()) == name {
			return s.ScanFile(filepath.Join(s.dir, e.Name()))
		}
	}
	return nil, &registry.NotFoundError{Name: name}
}

// validatePath cleans path and ensures it stays inside the directory.
func (s *Scanner) validatePath(path string) (string, error) {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	rel, err := filepath.Rel(s.dir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", path, s.dir)
	}
	return absPath, nil
}

// ComponentName derives a component name from a file name:
// info-box.mdx becomes InfoBox. It returns "" when the result would not
// start with a letter.
func ComponentName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	words := strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	})

	// Casers are stateful, so each call gets its own.
	caser := cases.Title(language.Und, cases.NoLower)
	var b strings.Builder
	for _, w := range words {
		b.WriteString(caser.String(w))
	}
	name := b.String()
	if name == "" || !unicode.IsLetter([]rune(name)[0]) {
		return ""
	}
	return name
}

// HandleChanges applies a batch of watcher events: changed files are
// rescanned and removed files unregistered. It returns the names of the
// affected components.
func (s *Scanner) HandleChanges(ctx context.Context, events []watcher.ChangeEvent) ([]string, error) {
	var errs []error
	var names []string
	for _, e := range events {
		if _, err := s.validatePath(e.Path); err != nil {
			continue
		}
		if e.Gone() {
			s.RemoveFile(e.Path)
			names = append(names, ComponentName(e.Path))
			continue
		}
		fc, err := s.ScanFile(e.Path)
		if err != nil {
			s.logger.Warn(ctx, err, "Cannot rescan component", "path", e.Path)
			errs = append(errs, err)
			continue
		}
		names = append(names, fc.Name)
	}
	return names, errors.Join(errs...)
}

// LoadDirs scans each directory into reg and installs the scanners as
// reg's loader, tried in order. Directories that do not exist are
// skipped; files that fail to compile are logged and left out.
func LoadDirs(reg *registry.ComponentRegistry, dirs []string, logger logging.Logger) ([]*Scanner, error) {
	logger = logging.OrNop(logger)
	ctx := context.Background()

	var scanners []*Scanner
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			logger.Warn(ctx, err, "Skipping component directory", "dir", dir)
			continue
		}
		s, err := NewScanner(reg, dir, logger)
		if err != nil {
			return nil, err
		}
		if err := s.ScanDirectory(); err != nil {
			logger.Warn(ctx, err, "Some components failed to compile", "dir", dir)
		}
		scanners = append(scanners, s)
	}
	if len(scanners) == 0 {
		return nil, nil
	}

	reg.SetLoader(registry.LoaderFunc(func(ctx context.Context, name string) (registry.Component, error) {
		for _, s := range scanners {
			if c, err := s.Load(ctx, name); err == nil && c != nil {
				return c, nil
			}
		}
		return nil, &registry.NotFoundError{Name: name}
	}))
	return scanners, nil
}
