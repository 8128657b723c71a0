// Package cache implements the persistent result cache: a size-bounded,
// content-addressed store of finished enhancement outputs.
//
// Entries are JPEG-compressed (lossy, high quality) files laid out as one
// directory tree per document/section, named by page index and config
// hash. A sqlite index mirrors the tree (path, size, mtime per entry) so
// trim decisions never require a directory walk; the index is rebuilt by
// scanning on open.
//
// All cache failures are best-effort: reads and writes log at Warn and
// return nil rather than propagating, so callers proceed without cache
// benefit instead of failing the page.
package cache

import (
	"database/sql"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Cache tuning constants.
const (
	// DefaultLimit is the hard cap on total cache size.
	DefaultLimit = int64(3) << 30 // 3 GiB

	// trimTarget is the fraction of the cap trim shrinks to, leaving
	// headroom so trim does not fire on every write near the cap.
	trimTarget = 0.90

	// DefaultTrimInterval debounces trim passes.
	DefaultTrimInterval = 10 * time.Minute

	// jpegQuality balances space and fidelity for stored entries.
	jpegQuality = 92
)

// Key addresses one cache entry. Hash must fold every parameter that
// affects pixel output; identical keys always address the same stored
// bytes.
type Key struct {
	Doc     string
	Section string
	Page    int
	Hash    string
}

// Entry describes a stored cache file.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLimit overrides the size cap in bytes.
func WithLimit(bytes int64) Option {
	return func(s *Store) {
		if bytes > 0 {
			s.limit = bytes
		}
	}
}

// WithTrimInterval overrides the trim debounce interval.
func WithTrimInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Store is the on-disk result cache. Safe for concurrent use.
type Store struct {
	dir      string
	limit    int64
	interval time.Duration

	mu       sync.Mutex
	db       *sql.DB
	lastTrim time.Time
}

// Open opens (or creates) a cache rooted at dir and reconciles the sqlite
// index with the files actually present.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("cache: open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		dir:      dir,
		limit:    DefaultLimit,
		interval: DefaultTrimInterval,
		db:       db,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.rescan(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS entries (
  path  TEXT PRIMARY KEY,
  size  INTEGER NOT NULL,
  mtime INTEGER NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("cache: migrate index: %w", err)
	}
	return nil
}

// rescan rebuilds the index from the directory tree: files found on disk
// are upserted, rows without a backing file are dropped.
func (s *Store) rescan() error {
	seen := make(map[string]bool)

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".jpg") {
			return nil //nolint:nilerr // unreadable subtrees are skipped, not fatal
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return nil //nolint:nilerr
		}
		seen[rel] = true
		_, err = s.db.Exec(
			`INSERT INTO entries(path, size, mtime) VALUES(?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET size=excluded.size, mtime=excluded.mtime;`,
			rel, info.Size(), info.ModTime().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: rescan: %w", err)
	}

	rows, err := s.db.Query(`SELECT path FROM entries;`)
	if err != nil {
		return fmt.Errorf("cache: rescan: %w", err)
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return fmt.Errorf("cache: rescan: %w", err)
		}
		if !seen[p] {
			stale = append(stale, p)
		}
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("cache: rescan: %w", err)
	}
	for _, p := range stale {
		_, _ = s.db.Exec(`DELETE FROM entries WHERE path=?;`, p)
	}
	return nil
}

// sanitize makes an identifier safe as a single path element.
func sanitize(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
}

// relPath returns the entry path for key, relative to the cache root.
func relPath(key Key) string {
	return filepath.Join(sanitize(key.Doc), sanitize(key.Section),
		fmt.Sprintf("%d_%s.jpg", key.Page, key.Hash))
}

// Get returns the decoded entry for key, or nil when the entry is missing
// or unreadable. A stale index row for a vanished file is dropped on the
// way out.
func (s *Store) Get(key Key) *image.RGBA {
	rel := relPath(key)
	path := filepath.Join(s.dir, rel)

	f, err := os.Open(path) //nolint:gosec // path derives from sanitized key
	if err != nil {
		if !os.IsNotExist(err) {
			slogger().Warn("cache: read failed", "path", rel, "error", err)
		}
		s.mu.Lock()
		_, _ = s.db.Exec(`DELETE FROM entries WHERE path=?;`, rel)
		s.mu.Unlock()
		return nil
	}
	defer func() {
		_ = f.Close()
	}()

	img, err := jpeg.Decode(f)
	if err != nil {
		slogger().Warn("cache: decode failed", "path", rel, "error", err)
		return nil
	}

	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba
}

// Put stores an enhanced page under key. Best-effort: on any I/O failure
// it logs at Warn and returns nil without raising to the caller.
func (s *Store) Put(key Key, img image.Image) *Entry {
	rel := relPath(key)
	path := filepath.Join(s.dir, rel)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slogger().Warn("cache: write failed", "path", rel, "error", err)
		return nil
	}

	// Write-and-rename so a crash mid-encode never leaves a truncated
	// entry behind.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		slogger().Warn("cache: write failed", "path", rel, "error", err)
		return nil
	}
	tmpName := tmp.Name()

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		slogger().Warn("cache: encode failed", "path", rel, "error", err)
		return nil
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		slogger().Warn("cache: write failed", "path", rel, "error", err)
		return nil
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		slogger().Warn("cache: write failed", "path", rel, "error", err)
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		slogger().Warn("cache: write failed", "path", rel, "error", err)
		return nil
	}

	s.mu.Lock()
	_, err = s.db.Exec(
		`INSERT INTO entries(path, size, mtime) VALUES(?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET size=excluded.size, mtime=excluded.mtime;`,
		rel, info.Size(), info.ModTime().Unix())
	s.mu.Unlock()
	if err != nil {
		slogger().Warn("cache: index update failed", "path", rel, "error", err)
	}

	return &Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()}
}

// EvictChapter removes every entry of one document section.
func (s *Store) EvictChapter(doc, section string) error {
	rel := filepath.Join(sanitize(doc), sanitize(section))

	if err := os.RemoveAll(filepath.Join(s.dir, rel)); err != nil {
		return fmt.Errorf("cache: evict chapter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM entries WHERE path LIKE ?;`,
		rel+string(filepath.Separator)+"%")
	if err != nil {
		return fmt.Errorf("cache: evict chapter: %w", err)
	}
	return nil
}

// Size returns the total bytes accounted by the index.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeLocked()
}

func (s *Store) sizeLocked() int64 {
	var total sql.NullInt64
	row := s.db.QueryRow(`SELECT SUM(size) FROM entries;`)
	if err := row.Scan(&total); err != nil {
		return 0
	}
	return total.Int64
}

// Len returns the number of indexed entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM entries;`)
	if err := row.Scan(&n); err != nil {
		return 0
	}
	return n
}

// Trim enforces the size cap. It is debounced (at most one pass per trim
// interval) and only acts when total size exceeds the cap, deleting
// least-recently-modified entries until usage drops to 90% of the cap.
func (s *Store) Trim() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastTrim) < s.interval {
		return
	}
	s.lastTrim = time.Now()
	s.trimLocked()
}

func (s *Store) trimLocked() {
	total := s.sizeLocked()
	if total <= s.limit {
		return
	}
	target := int64(float64(s.limit) * trimTarget)

	rows, err := s.db.Query(`SELECT path, size FROM entries ORDER BY mtime ASC;`)
	if err != nil {
		slogger().Warn("cache: trim query failed", "error", err)
		return
	}

	type victim struct {
		path string
		size int64
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.path, &v.size); err != nil {
			break
		}
		victims = append(victims, v)
		total -= v.size
		if total <= target {
			break
		}
	}
	_ = rows.Close()

	removed := 0
	var freed int64
	for _, v := range victims {
		if err := os.Remove(filepath.Join(s.dir, v.path)); err != nil && !os.IsNotExist(err) {
			slogger().Warn("cache: trim delete failed", "path", v.path, "error", err)
			continue
		}
		_, _ = s.db.Exec(`DELETE FROM entries WHERE path=?;`, v.path)
		removed++
		freed += v.size
	}

	slogger().Info("cache: trimmed", "entries", removed, "freed", freed)
}

// Close releases the index database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
