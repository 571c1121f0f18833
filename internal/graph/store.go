package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists one partition's symbols and call edges in SQLite. The
// callee side of an edge is a bare name resolved against the symbols
// table at query time, so re-indexing one file never leaves dangling
// references into another.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// StoreStats reports row counts for one graph database.
type StoreStats struct {
	FileCount   int
	SymbolCount int
	EdgeCount   int
}

// NewStore opens or creates the graph database at path. An empty path
// yields an in-memory store. A database failing the integrity check is
// removed and recreated empty.
func NewStore(path string) (*Store, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}

		if validErr := validateGraphDB(path); validErr != nil {
			slog.Warn("graph store corrupted, clearing",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("graph store corrupted at %s and cannot remove: %w (validation: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}

		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func validateGraphDB(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		path          TEXT PRIMARY KEY,
		content_hash  TEXT NOT NULL DEFAULT '',
		language      TEXT NOT NULL DEFAULT '',
		indexed_at    INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS symbols (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		kind        TEXT NOT NULL DEFAULT '',
		file_path   TEXT NOT NULL,
		start_line  INTEGER NOT NULL DEFAULT 0,
		end_line    INTEGER NOT NULL DEFAULT 0,
		signature   TEXT NOT NULL DEFAULT '',
		container   TEXT NOT NULL DEFAULT '',
		language    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
	CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path);
	CREATE INDEX IF NOT EXISTS idx_symbols_kind ON symbols(kind);

	CREATE TABLE IF NOT EXISTS edges (
		caller_id    TEXT NOT NULL,
		callee_name  TEXT NOT NULL,
		file_path    TEXT NOT NULL,
		line         INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_edges_caller ON edges(caller_id);
	CREATE INDEX IF NOT EXISTS idx_edges_callee ON edges(callee_name);
	CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(file_path);

	CREATE TABLE IF NOT EXISTS state (
		key    TEXT PRIMARY KEY,
		value  TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func graphTimeToDB(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func graphTimeFromDB(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// ReplaceFiles swaps in the symbols and edges for a batch of files in one
// transaction. Existing rows for each file are removed first, so a
// re-parse never leaves stale symbols behind.
func (s *Store) ReplaceFiles(ctx context.Context, batch []*FileGraph) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delEdges, err := tx.PrepareContext(ctx, `DELETE FROM edges WHERE file_path = ?`)
	if err != nil {
		return fmt.Errorf("prepare edge delete: %w", err)
	}
	defer delEdges.Close()

	delSymbols, err := tx.PrepareContext(ctx, `DELETE FROM symbols WHERE file_path = ?`)
	if err != nil {
		return fmt.Errorf("prepare symbol delete: %w", err)
	}
	defer delSymbols.Close()

	insFile, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO files (path, content_hash, language, indexed_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare file insert: %w", err)
	}
	defer insFile.Close()

	insSymbol, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO symbols
		(id, name, kind, file_path, start_line, end_line, signature, container, language)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare symbol insert: %w", err)
	}
	defer insSymbol.Close()

	insEdge, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (caller_id, callee_name, file_path, line)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer insEdge.Close()

	for _, fg := range batch {
		path := fg.File.Path
		if _, err := delEdges.ExecContext(ctx, path); err != nil {
			return fmt.Errorf("delete edges %s: %w", path, err)
		}
		if _, err := delSymbols.ExecContext(ctx, path); err != nil {
			return fmt.Errorf("delete symbols %s: %w", path, err)
		}
		if _, err := insFile.ExecContext(ctx, path, fg.File.ContentHash,
			fg.File.Language, graphTimeToDB(fg.File.IndexedAt)); err != nil {
			return fmt.Errorf("save file %s: %w", path, err)
		}
		for _, sym := range fg.Symbols {
			if _, err := insSymbol.ExecContext(ctx, sym.ID, sym.Name, sym.Kind,
				sym.FilePath, sym.StartLine, sym.EndLine, sym.Signature,
				sym.Container, sym.Language); err != nil {
				return fmt.Errorf("save symbol %s: %w", sym.ID, err)
			}
		}
		for _, edge := range fg.Edges {
			if _, err := insEdge.ExecContext(ctx, edge.CallerID, edge.Callee,
				edge.FilePath, edge.Line); err != nil {
				return fmt.Errorf("save edge %s: %w", edge.CallerID, err)
			}
		}
	}

	return tx.Commit()
}

// DeleteFile removes a file's record, symbols, and edges.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("delete edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("delete symbols: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}

	return tx.Commit()
}

// GetFileByPath returns the record for path, or nil when untracked.
func (s *Store) GetFileByPath(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var f FileRecord
	var indexedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT path, content_hash, language, indexed_at
		FROM files WHERE path = ?`, path).
		Scan(&f.Path, &f.ContentHash, &f.Language, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", path, err)
	}
	f.IndexedAt = graphTimeFromDB(indexedAt)
	return &f, nil
}

// ListFiles returns every tracked file ordered by path.
func (s *Store) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, content_hash, language, indexed_at
		FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		var f FileRecord
		var indexedAt int64
		if err := rows.Scan(&f.Path, &f.ContentHash, &f.Language, &indexedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.IndexedAt = graphTimeFromDB(indexedAt)
		files = append(files, &f)
	}
	return files, rows.Err()
}

// QuerySymbols returns symbols matching the query, ordered by name. Glob
// matching is case-sensitive; substring matching is case-insensitive for
// ASCII, which fits identifier search.
func (s *Store) QuerySymbols(ctx context.Context, q SymbolQuery) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var conds []string
	var args []any
	if q.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.Name != "" {
		if q.Glob {
			conds = append(conds, "name GLOB ?")
			args = append(args, q.Name)
		} else {
			conds = append(conds, "name LIKE '%' || ? || '%'")
			args = append(args, q.Name)
		}
	}
	if q.Language != "" {
		conds = append(conds, "language = ?")
		args = append(args, q.Language)
	}
	if len(q.Scopes) > 0 {
		// Scope prefixes match at path boundaries, so "api" never
		// captures "api_v2/".
		var scopeConds []string
		for _, scope := range q.Scopes {
			scope = strings.TrimSuffix(scope, "/")
			scopeConds = append(scopeConds, "(file_path = ? OR file_path LIKE ? || '/%')")
			args = append(args, scope, scope)
		}
		conds = append(conds, "("+strings.Join(scopeConds, " OR ")+")")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultASTResults
	}
	args = append(args, limit)

	query := `SELECT id, name, kind, file_path, start_line, end_line, signature, container FROM symbols`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY name, file_path, start_line LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []*Symbol
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.ID, &sym.Name, &sym.Kind, &sym.FilePath,
			&sym.StartLine, &sym.EndLine, &sym.Signature, &sym.Container); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, &sym)
	}
	return symbols, rows.Err()
}

// Callers walks caller edges outward from name, up to maxDepth edges
// away. Each symbol appears once at its shallowest depth; the origin name
// is excluded even when a cycle reaches it again.
func (s *Store) Callers(ctx context.Context, name string, maxDepth, limit int) ([]*TraversalNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	query := `
		WITH RECURSIVE walk(id, name, kind, file_path, start_line, depth) AS (
			SELECT s.id, s.name, s.kind, s.file_path, s.start_line, 1
			FROM edges e
			JOIN symbols s ON s.id = e.caller_id
			WHERE e.callee_name = ?
			UNION
			SELECT s.id, s.name, s.kind, s.file_path, s.start_line, w.depth + 1
			FROM walk w
			JOIN edges e ON e.callee_name = w.name
			JOIN symbols s ON s.id = e.caller_id
			WHERE w.depth < ?
		)
		SELECT id, name, kind, file_path, start_line, MIN(depth) AS depth
		FROM walk
		WHERE name <> ?
		GROUP BY id
		ORDER BY depth, name, id
		LIMIT ?
	`
	return s.scanTraversal(ctx, query, name, maxDepth, name, limit)
}

// Dependencies walks callee edges outward from name, up to maxDepth edges
// away. Only callees defined in the partition appear; calls into external
// code have no definition to resolve against.
func (s *Store) Dependencies(ctx context.Context, name string, maxDepth, limit int) ([]*TraversalNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	query := `
		WITH RECURSIVE walk(id, name, kind, file_path, start_line, depth) AS (
			SELECT s.id, s.name, s.kind, s.file_path, s.start_line, 1
			FROM symbols src
			JOIN edges e ON e.caller_id = src.id
			JOIN symbols s ON s.name = e.callee_name
			WHERE src.name = ?
			UNION
			SELECT s.id, s.name, s.kind, s.file_path, s.start_line, w.depth + 1
			FROM walk w
			JOIN edges e ON e.caller_id = w.id
			JOIN symbols s ON s.name = e.callee_name
			WHERE w.depth < ?
		)
		SELECT id, name, kind, file_path, start_line, MIN(depth) AS depth
		FROM walk
		WHERE name <> ?
		GROUP BY id
		ORDER BY depth, name, id
		LIMIT ?
	`
	return s.scanTraversal(ctx, query, name, maxDepth, name, limit)
}

func (s *Store) scanTraversal(ctx context.Context, query string, args ...any) ([]*TraversalNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("traverse graph: %w", err)
	}
	defer rows.Close()

	var nodes []*TraversalNode
	for rows.Next() {
		var n TraversalNode
		if err := rows.Scan(&n.ID, &n.Name, &n.Kind, &n.FilePath, &n.StartLine, &n.Depth); err != nil {
			return nil, fmt.Errorf("scan traversal node: %w", err)
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// CallPaths enumerates call chains from one name to another, shortest
// first. Breadth first search over the name graph keeps paths in length
// order; cycles are skipped within a path, and expansion stops after a
// fixed number of queue pops so a dense graph cannot run away.
func (s *Store) CallPaths(ctx context.Context, from, to string, maxDepth, maxPaths int) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	type state struct {
		name string
		path []string
	}
	queue := []state{{name: from, path: []string{from}}}
	var paths [][]string

	for expansions := 0; len(queue) > 0 && len(paths) < maxPaths && expansions < maxPathExpansions; expansions++ {
		cur := queue[0]
		queue = queue[1:]

		// len(path)-1 edges used so far.
		if len(cur.path)-1 >= maxDepth {
			continue
		}

		callees, err := s.callees(ctx, cur.name)
		if err != nil {
			return nil, err
		}
		for _, callee := range callees {
			if callee == to {
				paths = append(paths, appendPath(cur.path, callee))
				if len(paths) >= maxPaths {
					break
				}
				continue
			}
			if slices.Contains(cur.path, callee) {
				continue
			}
			queue = append(queue, state{name: callee, path: appendPath(cur.path, callee)})
		}
	}
	return paths, nil
}

// callees returns the distinct names called by symbols named name, in
// name order so search expansion stays deterministic. Callers hold the
// read lock.
func (s *Store) callees(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT e.callee_name
		FROM edges e
		JOIN symbols s ON s.id = e.caller_id
		WHERE s.name = ?
		ORDER BY e.callee_name`, name)
	if err != nil {
		return nil, fmt.Errorf("query callees: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var callee string
		if err := rows.Scan(&callee); err != nil {
			return nil, fmt.Errorf("scan callee: %w", err)
		}
		names = append(names, callee)
	}
	return names, rows.Err()
}

func appendPath(path []string, name string) []string {
	p := make([]string, 0, len(path)+1)
	p = append(p, path...)
	return append(p, name)
}

// Clear drops every row ahead of a force rebuild. The database file and
// schema stay in place.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"edges", "symbols", "files", "state"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// GetState returns the value for key, or "" when unset.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a key-value pair, replacing any previous value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Stats returns row counts for files, symbols, and edges.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	stats := &StoreStats{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&stats.FileCount); err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols`).Scan(&stats.SymbolCount); err != nil {
		return nil, fmt.Errorf("count symbols: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&stats.EdgeCount); err != nil {
		return nil, fmt.Errorf("count edges: %w", err)
	}
	return stats, nil
}

// Close checkpoints and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
