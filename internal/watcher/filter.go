package watcher

import (
	"path/filepath"
	"strings"
)

// FileFilter reports whether a changed file is of interest.
type FileFilter func(path string) bool

// MDXFilter keeps .mdx files.
func MDXFilter(path string) bool {
	return filepath.Ext(path) == ".mdx"
}

// NoHiddenFilter drops dotfiles such as editor swap files.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

var tempSuffixes = []string{"~", ".swp", ".bak"}

// NoTempFilter drops editor backup files.
func NoTempFilter(path string) bool {
	base := filepath.Base(path)
	for _, suffix := range tempSuffixes {
		if strings.HasSuffix(base, suffix) {
			return false
		}
	}
	return true
}
