// Package cache persists fetched indicator data as one JSON file per
// (indicator, group) pair and decides whether a cached entry is still
// fresh enough to skip a remote fetch.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/pkg/models"
)

// DefaultValidity is the age up to which a cache entry is served without
// refetching.
const DefaultValidity = 30 * 24 * time.Hour

// ErrNotFound is returned when no readable cache entry exists.
var ErrNotFound = errors.New("cache entry not found")

// Store is the on-disk indicator cache. It holds no locks: distinct keys
// map to distinct files and same-key writes are last-write-wins through
// an atomic rename.
type Store struct {
	dir      string
	validity time.Duration
	clock    infra.Clock
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for validity checks.
func WithClock(c infra.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store rooted at dir. A non-positive validity uses
// DefaultValidity.
func New(dir string, validity time.Duration, opts ...Option) *Store {
	if validity <= 0 {
		validity = DefaultValidity
	}
	s := &Store{dir: dir, validity: validity}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = infra.OrReal(s.clock)
	s.logger = infra.OrDefault(s.logger).With("component", "cache")
	return s
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Validity returns the freshness window.
func (s *Store) Validity() time.Duration { return s.validity }

// Path returns the file path for (code, group).
func (s *Store) Path(code, group string) string {
	return filepath.Join(s.dir, fileName(code, group))
}

func fileName(code, group string) string {
	clean := strings.NewReplacer("/", "_", "\\", "_")
	return clean.Replace(code) + "_" + clean.Replace(group) + ".json"
}

// Read loads the entry for (code, group). A missing file and a file that
// cannot be parsed both report ErrNotFound; the latter is logged.
func (s *Store) Read(code, group string) (*models.CacheEntry, error) {
	path := s.Path(code, group)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat cache %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", path, err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("corrupt cache entry ignored", "path", path, "error", err)
		return nil, ErrNotFound
	}
	entry.ModTime = info.ModTime()
	return &entry, nil
}

// IsValid reports whether entry is at most Validity old. The boundary is
// inclusive.
func (s *Store) IsValid(entry *models.CacheEntry) bool {
	if entry == nil || entry.ModTime.IsZero() {
		return false
	}
	return s.clock.Now().Sub(entry.ModTime) <= s.validity
}

// Fresh returns the entry for (code, group) when it exists and is valid.
func (s *Store) Fresh(code, group string) (*models.CacheEntry, bool) {
	entry, err := s.Read(code, group)
	if err != nil || !s.IsValid(entry) {
		return nil, false
	}
	return entry, true
}

// Write stores entry for (code, group). The file is written to a
// temporary name in the same directory, synced and renamed into place, so
// readers never see a partial file.
func (s *Store) Write(code, group string, entry *models.CacheEntry) error {
	if entry == nil {
		return errors.New("cache: nil entry")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	path := s.Path(code, group)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("setting cache file mode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming cache file into place: %w", err)
	}
	s.logger.Debug("cache written", "path", path, "records", len(entry.Observations))
	return nil
}

// --- administration ---

// Key identifies one cached (indicator, group) pair.
type Key struct {
	Indicator string    `json:"indicator"`
	Group     string    `json:"group"`
	ModTime   time.Time `json:"mod_time"`
}

// FileInfo describes one cache file.
type FileInfo struct {
	Name    string    `json:"name"`
	ModTime time.Time `json:"mod_time"`
}

// Status summarizes the cache directory.
type Status struct {
	Dir    string    `json:"dir"`
	Count  int       `json:"count"`
	Newest *FileInfo `json:"newest,omitempty"`
	Oldest *FileInfo `json:"oldest,omitempty"`
}

// files returns the cache files sorted by name. A missing directory is an
// empty cache.
func (s *Store) files() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache: %w", err)
	}
	var out []FileInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: name, ModTime: info.ModTime()})
	}
	return out, nil
}

// List returns the cached keys. Group codes never contain underscores, so
// the file name is split at its last underscore.
func (s *Store) List() ([]Key, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(files))
	for _, f := range files {
		base := strings.TrimSuffix(f.Name, ".json")
		i := strings.LastIndex(base, "_")
		if i <= 0 || i == len(base)-1 {
			continue
		}
		keys = append(keys, Key{Indicator: base[:i], Group: base[i+1:], ModTime: f.ModTime})
	}
	return keys, nil
}

// Status reports the number of cache files and the newest and oldest.
func (s *Store) Status() (Status, error) {
	st := Status{Dir: s.dir}
	files, err := s.files()
	if err != nil {
		return st, err
	}
	st.Count = len(files)
	if len(files) == 0 {
		return st, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.Before(files[j].ModTime) })
	oldest, newest := files[0], files[len(files)-1]
	st.Oldest = &oldest
	st.Newest = &newest
	return st, nil
}

// Clear removes every cache file and recreates the empty directory.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("recreating cache directory: %w", err)
	}
	s.logger.Info("cache cleared", "dir", s.dir)
	return nil
}

// CountryObservations returns the cached observations of one country for
// (code, group), ordered by date. country matches the country name
// case-insensitively, or its ISO2 or ISO3 code.
func (s *Store) CountryObservations(code, group, country string) ([]models.Observation, error) {
	entry, err := s.Read(code, group)
	if err != nil {
		return nil, err
	}
	want := strings.ToUpper(strings.TrimSpace(country))
	var out []models.Observation
	for _, o := range entry.Observations {
		if strings.ToUpper(o.Country.Value) == want ||
			strings.ToUpper(o.Country.ID) == want ||
			strings.ToUpper(o.CountryISO3) == want {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
