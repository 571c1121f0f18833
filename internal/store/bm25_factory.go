package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend selects the keyword index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite is the default: FTS5 with WAL mode, safe for
	// concurrent multi-process access.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve is single-process (BoltDB exclusive lock) and kept
	// for existing indexes built with it.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25Index creates a BM25 index at basePath using the named backend.
// The storage extension is appended per backend (.db for SQLite, .bleve
// for Bleve). An empty basePath yields an in-memory index; an empty
// backend selects SQLite.
func NewBM25Index(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch backend {
	case string(BM25BackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteBM25Index(path, config)

	case string(BM25BackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveBM25Index(path, config)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend reports which backend built the index at basePath, or
// "" when none exists. Lets an opened partition keep the backend it was
// built with rather than the configured default.
func DetectBM25Backend(basePath string) BM25Backend {
	if fileExists(basePath + ".db") {
		return BM25BackendSQLite
	}
	if dirExists(basePath + ".bleve") {
		return BM25BackendBleve
	}
	return ""
}

// BM25IndexPath returns the on-disk path for a backend under dir.
func BM25IndexPath(dir string, backend string) string {
	basePath := filepath.Join(dir, "bm25")
	if backend == string(BM25BackendBleve) {
		return basePath + ".bleve"
	}
	return basePath + ".db"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
