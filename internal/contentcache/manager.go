package contentcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	manifestName = ".manifest.json"
	bytesPerMB   = 1 << 20

	// DefaultMaxBytes is the cache budget when none is configured.
	DefaultMaxBytes int64 = 500 * bytesPerMB

	downloadTimeout = 5 * time.Minute
)

// plainID matches content ids usable verbatim as a file name.
var plainID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

var (
	// ErrDownloadFailed covers network and HTTP status failures.
	ErrDownloadFailed = errors.New("contentcache: download failed")

	// ErrFilesystem covers local read, write and delete failures.
	ErrFilesystem = errors.New("contentcache: filesystem error")
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats summarises the cache for the kiosk UI.
type Stats struct {
	ItemCount   int     `json:"itemCount"`
	TotalSizeMB float64 `json:"totalSizeMB"`
	MaxSizeMB   float64 `json:"maxSizeMB"`
}

// Manager owns the cache directory and its manifest.
//
// Manifest mutations are serialised by mu. Downloads run outside the lock,
// and concurrent downloads of one content ID share a single transfer.
type Manager struct {
	dir          string
	manifestPath string
	client       *http.Client
	logger       Logger
	now          func() time.Time

	mu       sync.Mutex
	manifest *manifest
	maxBytes int64

	group singleflight.Group
}

// New opens (creating if needed) the cache at dir with a budget of
// maxBytes. A corrupt manifest is logged and discarded. logger may be nil.
func New(dir string, maxBytes int64, logger Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating cache dir: %v", ErrFilesystem, err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	dir = filepath.Clean(dir)
	m := &Manager{
		dir:          dir,
		manifestPath: filepath.Join(dir, manifestName),
		client: &http.Client{
			Timeout: downloadTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:   logger,
		now:      time.Now,
		maxBytes: maxBytes,
	}

	if m.logger == nil {
		m.logger = noopLogger{}
	}

	man, err := loadManifest(m.manifestPath)
	if err != nil {
		m.logger.Warn("starting with an empty cache manifest", "error", err)
	}
	for id, e := range man.Entries {
		if !m.owns(e.FilePath) {
			delete(man.Entries, id)
			m.logger.Warn("dropping manifest entry outside the cache directory", "content_id", id, "path", e.FilePath)
		}
	}
	m.manifest = man
	return m, nil
}

// Dir returns the cache directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Download caches url under id and returns the local path. An already
// cached file is returned at once. Any failure returns url unchanged.
func (m *Manager) Download(ctx context.Context, id, url, mimeType string) string {
	if id == "" {
		return url
	}
	if p, ok := m.CachedPath(id); ok {
		return p
	}

	v, err, shared := m.group.Do(id, func() (any, error) {
		if p, ok := m.CachedPath(id); ok {
			return p, nil
		}
		return m.download(ctx, id, url, mimeType)
	})
	if err != nil {
		m.logger.Warn("caching content failed", "content_id", id, "error", err)
		return url
	}
	if shared {
		m.logger.Debug("joined in-flight download", "content_id", id)
	}
	return v.(string)
}

func (m *Manager) download(ctx context.Context, id, url, mimeType string) (string, error) {
	dest := filepath.Join(m.dir, fileStem(id)+"."+extensionFor(url, mimeType))

	size, err := m.fetch(ctx, url, dest)
	if err != nil {
		return "", err
	}

	now := m.now()
	m.mu.Lock()
	m.manifest.Entries[id] = &Entry{
		ContentID:    id,
		FilePath:     dest,
		Size:         size,
		MimeType:     mimeType,
		LastAccessed: now,
		DownloadedAt: now,
	}
	m.saveLocked()
	m.enforceLocked()
	_, kept := m.manifest.Entries[id]
	m.mu.Unlock()

	if !kept {
		return "", fmt.Errorf("%w: %d bytes exceeds the cache budget", ErrDownloadFailed, size)
	}
	m.logger.Info("content cached", "content_id", id, "size_mb", roundMB(size))
	return dest, nil
}

// CachedPath returns the local path of id and refreshes its access time.
// An entry whose file has vanished is dropped.
func (m *Manager) CachedPath(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.manifest.Entries[id]
	if !ok {
		return "", false
	}
	if _, err := os.Stat(e.FilePath); err != nil {
		delete(m.manifest.Entries, id)
		m.saveLocked()
		m.logger.Debug("dropped cache entry with missing file", "content_id", id)
		return "", false
	}

	e.LastAccessed = m.now()
	m.saveLocked()
	return e.FilePath, true
}

// EnforceMaxSize evicts least recently accessed entries until the cache
// fits its budget.
func (m *Manager) EnforceMaxSize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforceLocked()
}

func (m *Manager) enforceLocked() {
	total := m.manifest.totalSize()
	if total <= m.maxBytes {
		return
	}

	entries := make([]*Entry, 0, len(m.manifest.Entries))
	for _, e := range m.manifest.Entries {
		entries = append(entries, e)
	}
	slices.SortStableFunc(entries, func(a, b *Entry) int {
		return a.LastAccessed.Compare(b.LastAccessed)
	})

	for _, e := range entries {
		if total <= m.maxBytes {
			break
		}
		if err := m.removeFile(e); err != nil {
			m.logger.Error("evicting cache entry failed", "content_id", e.ContentID, "error", err)
			continue
		}
		total -= e.Size
		delete(m.manifest.Entries, e.ContentID)
		m.logger.Info("evicted cache entry", "content_id", e.ContentID)
	}
	m.saveLocked()
}

// SetMaxSize changes the budget and evicts immediately if needed.
func (m *Manager) SetMaxSize(maxBytes int64) {
	if maxBytes <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxBytes = maxBytes
	m.enforceLocked()
}

// Remove deletes one entry and its file.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.manifest.Entries[id]
	if !ok {
		return
	}
	if err := m.removeFile(e); err != nil {
		m.logger.Warn("removing cached file failed", "content_id", id, "error", err)
	}
	delete(m.manifest.Entries, id)
	m.saveLocked()
}

// Clear deletes every cached file and resets the manifest.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.manifest.Entries {
		if err := m.removeFile(e); err != nil {
			m.logger.Warn("removing cached file failed", "content_id", id, "error", err)
		}
	}
	m.manifest = emptyManifest()
	m.saveLocked()
	m.logger.Info("cache cleared")
}

// Stats returns the entry count and sizes in MB rounded to two decimals.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		ItemCount:   len(m.manifest.Entries),
		TotalSizeMB: roundMB(m.manifest.totalSize()),
		MaxSizeMB:   roundMB(m.maxBytes),
	}
}

// Entries returns a snapshot of the manifest.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.manifest.Entries))
	for _, e := range m.manifest.Entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return a.LastAccessed.Compare(b.LastAccessed) })
	return out
}

// fileStem maps a content id to a file name in the cache directory. Ids
// that are not plain tokens are hashed so they cannot name a path.
func fileStem(id string) string {
	if plainID.MatchString(id) {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	return "id-" + hex.EncodeToString(sum[:16])
}

// owns reports whether path is a media file directly inside the cache
// directory.
func (m *Manager) owns(path string) bool {
	rel, err := filepath.Rel(m.dir, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	if filepath.Base(rel) != rel {
		return false
	}
	return rel != manifestName && rel != manifestName+".tmp"
}

// removeFile deletes the file of e. A missing file is not an error.
func (m *Manager) removeFile(e *Entry) error {
	if !m.owns(e.FilePath) {
		return fmt.Errorf("%w: %s is outside the cache directory", ErrFilesystem, e.FilePath)
	}
	if err := os.Remove(e.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrFilesystem, err)
	}
	return nil
}

func (m *Manager) saveLocked() {
	if err := m.manifest.save(m.manifestPath); err != nil {
		m.logger.Error("saving cache manifest failed", "error", err)
	}
}

func roundMB(n int64) float64 {
	return math.Round(float64(n)/bytesPerMB*100) / 100
}
