// Package cache provides a content-addressed, time-boxed result cache for
// expensive external lookups (places scraping, trend collection, research
// reports). Entries live one-per-file under a cache directory, gzip
// compressed, and are keyed by Key(subject, qualifier, kind).
//
// Reads are self-healing: an entry that is expired, unreadable, or
// structurally invalid is deleted as part of the read and reported as a
// miss. Only writes surface errors to the caller.
package cache

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"
)

const (
	entrySuffix   = ".json.gz"
	schemaVersion = "1.1"

	// DefaultTTL matches the research workflow's freshness window.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxEntries bounds the cache directory size.
	DefaultMaxEntries = 100
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// entry is the on-disk wrapper around a cached payload.
type entry struct {
	Data          json.RawMessage `json:"data"`
	CachedAt      time.Time       `json:"cached_at"`
	CacheKey      string          `json:"cache_key"`
	SchemaVersion string          `json:"version"`
}

// valid reports whether the decoded wrapper carries all required fields.
// Entries missing any of them are treated as corrupt.
func (e *entry) valid() bool {
	return len(e.Data) > 0 && !e.CachedAt.IsZero() && e.CacheKey != ""
}

// Stats summarizes the state of the cache directory without mutating it.
type Stats struct {
	Count        int   `json:"count"`
	ValidCount   int   `json:"valid_count"`
	ExpiredCount int   `json:"expired_count"`
	TotalSize    int64 `json:"total_size"`
}

// Entry describes one cached item for listings.
type Entry struct {
	Key      string    `json:"key"`
	CachedAt time.Time `json:"cached_at"`
	Size     int64     `json:"size"`
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithTTL overrides the default entry time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(c *ResultCache) { c.ttl = ttl }
}

// WithMaxEntries overrides the default capacity bound.
func WithMaxEntries(n int) Option {
	return func(c *ResultCache) { c.maxEntries = n }
}

// ResultCache is a file-backed cache of computed results. It is safe for
// concurrent readers; writes follow the temp-file-then-rename pattern so a
// concurrent reader never observes a torn entry.
type ResultCache struct {
	dir        string
	ttl        time.Duration
	maxEntries int
}

// New creates a cache rooted at dir, creating the directory if needed.
// Expired entries left over from previous runs are swept on construction.
func New(dir string, opts ...Option) (*ResultCache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("cache: init directory %s: %w", dir, err)
	}
	c := &ResultCache{dir: dir, ttl: DefaultTTL, maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(c)
	}
	c.sweepExpired()
	return c, nil
}

func (c *ResultCache) entryPath(key string) string {
	return filepath.Join(c.dir, key+entrySuffix)
}

// Get returns the payload stored under key, decoded into out, and reports
// whether a usable entry was found. Expired or corrupt entries are deleted
// during the read and reported as a miss; Get never returns an error for a
// bad entry.
func (c *ResultCache) Get(key string, out any) bool {
	e, ok := c.read(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		_ = os.Remove(c.entryPath(key))
		return false
	}
	return true
}

// GetValidated behaves like Get but additionally checks that the cached
// payload's embedded subject metadata matches the caller's current request.
// A structural hit whose metadata disagrees is a miss, not a corruption:
// the entry is left in place for the request it actually belongs to. This
// guards against key-normalization edge cases colliding across subjects.
func (c *ResultCache) GetValidated(key, subject, qualifier string, out any) bool {
	e, ok := c.read(key)
	if !ok {
		return false
	}
	var meta struct {
		Metadata struct {
			Subject   string `json:"subject"`
			Qualifier string `json:"qualifier"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(e.Data, &meta); err != nil {
		_ = os.Remove(c.entryPath(key))
		return false
	}
	if normalizeSegment(meta.Metadata.Subject) != normalizeSegment(subject) ||
		normalizeSegment(meta.Metadata.Qualifier) != normalizeSegment(qualifier) {
		return false
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		_ = os.Remove(c.entryPath(key))
		return false
	}
	return true
}

// read loads and validates the wrapper for key, deleting the backing file
// on expiry or corruption.
func (c *ResultCache) read(key string) (*entry, bool) {
	path := c.entryPath(key)
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = os.Remove(path)
		return nil, false
	}
	defer zr.Close()

	var e entry
	if err := json.NewDecoder(zr).Decode(&e); err != nil {
		_ = os.Remove(path)
		return nil, false
	}
	if !e.valid() {
		_ = os.Remove(path)
		return nil, false
	}
	if timeNow().Sub(e.CachedAt) > c.ttl {
		_ = os.Remove(path)
		return nil, false
	}
	return &e, true
}

// Put stores payload under key, wrapped with the cache metadata, then
// enforces the capacity bound. A failed write leaves no partial entry
// behind.
func (c *ResultCache) Put(key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache: encode payload for %s: %w", key, err)
	}
	e := entry{
		Data:          data,
		CachedAt:      timeNow(),
		CacheKey:      key,
		SchemaVersion: schemaVersion,
	}

	path := c.entryPath(key)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cache: create temp entry: %w", err)
	}
	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(&e); err != nil {
		zw.Close()
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: encode entry %s: %w", key, err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: flush entry %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: close entry %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: atomic rename %s: %w", path, err)
	}

	c.enforceBound()
	return nil
}

// Invalidate deletes the entry stored under key. With an empty key it
// deletes every entry.
func (c *ResultCache) Invalidate(key string) error {
	if key == "" {
		return c.InvalidatePattern("*")
	}
	if err := os.Remove(c.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: invalidate %s: %w", key, err)
	}
	return nil
}

// InvalidatePattern deletes every entry whose key matches the given glob
// pattern (e.g. "a1b2*").
func (c *ResultCache) InvalidatePattern(pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("cache: bad pattern %q: %w", pattern, err)
	}
	for _, name := range c.entryNames() {
		key := name[:len(name)-len(entrySuffix)]
		if g.Match(key) {
			_ = os.Remove(filepath.Join(c.dir, name))
		}
	}
	return nil
}

// Stats derives cache statistics from the directory contents.
func (c *ResultCache) Stats() Stats {
	var s Stats
	now := timeNow()
	for _, name := range c.entryNames() {
		info, err := os.Stat(filepath.Join(c.dir, name))
		if err != nil {
			continue
		}
		s.Count++
		s.TotalSize += info.Size()
		if now.Sub(info.ModTime()) > c.ttl {
			s.ExpiredCount++
		} else {
			s.ValidCount++
		}
	}
	return s
}

// List returns metadata for every decodable entry, most recent first.
func (c *ResultCache) List() []Entry {
	var out []Entry
	for _, name := range c.entryNames() {
		path := filepath.Join(c.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		key := name[:len(name)-len(entrySuffix)]
		e, ok := c.read(key)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: e.CacheKey, CachedAt: e.CachedAt, Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CachedAt.After(out[j].CachedAt) })
	return out
}

// entryNames lists the cache files in the directory, ignoring anything
// that is not a cache entry.
func (c *ResultCache) entryNames() []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".gz" {
			continue
		}
		names = append(names, de.Name())
	}
	return names
}

// sweepExpired removes entries whose file modification time exceeds the
// TTL. Runs once at construction.
func (c *ResultCache) sweepExpired() {
	now := timeNow()
	for _, name := range c.entryNames() {
		path := filepath.Join(c.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > c.ttl {
			_ = os.Remove(path)
		}
	}
}

// enforceBound deletes the least-recently-modified entries until the
// directory is back within the capacity bound.
func (c *ResultCache) enforceBound() {
	names := c.entryNames()
	if len(names) <= c.maxEntries {
		return
	}
	type aged struct {
		path string
		mod  time.Time
	}
	files := make([]aged, 0, len(names))
	for _, name := range names {
		path := filepath.Join(c.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, aged{path: path, mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for len(files) > c.maxEntries {
		_ = os.Remove(files[0].path)
		files = files[1:]
	}
}
