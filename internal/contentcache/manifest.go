package contentcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const manifestVersion = 1

// Entry describes one cached media file.
type Entry struct {
	ContentID    string    `json:"contentId"`
	FilePath     string    `json:"filePath"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimeType"`
	LastAccessed time.Time `json:"lastAccessed"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

type manifest struct {
	Version int               `json:"version"`
	Entries map[string]*Entry `json:"entries"`
}

func emptyManifest() *manifest {
	return &manifest{Version: manifestVersion, Entries: make(map[string]*Entry)}
}

// loadManifest reads path. A missing or unreadable manifest yields an
// empty one together with the reason, which callers log.
func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return emptyManifest(), nil
	}
	if err != nil {
		return emptyManifest(), fmt.Errorf("reading manifest: %w", err)
	}

	m := emptyManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return emptyManifest(), fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]*Entry)
	}
	return m, nil
}

// save writes the manifest atomically via a temp file and rename.
func (m *manifest) save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing manifest: %v", ErrFilesystem, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: replacing manifest: %v", ErrFilesystem, err)
	}
	return nil
}

func (m *manifest) totalSize() int64 {
	var n int64
	for _, e := range m.Entries {
		n += e.Size
	}
	return n
}
