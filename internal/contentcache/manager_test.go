package contentcache

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestManager(t *testing.T, maxBytes int64) *Manager {
	t.Helper()
	m, err := New(t.TempDir(), maxBytes, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/media/poster", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("png-bytes")) //nolint:errcheck // Test server
	})
	mux.HandleFunc("/media/clip.mp4", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("mp4-bytes")) //nolint:errcheck // Test server
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/media/clip.mp4", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/missing", http.NotFound)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return string(data)
}

func assertGone(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s still exists (stat err = %v)", path, err)
	}
}

func assertExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("%s missing: %v", path, err)
	}
}

func hasEntry(m *Manager, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.manifest.Entries[id]
	return ok
}

func TestDownload_CachesFile(t *testing.T) {
	ts := mediaServer(t)
	m := newTestManager(t, 0)

	p := m.Download(context.Background(), "c1", ts.URL+"/media/poster", "image/png")
	if want := filepath.Join(m.Dir(), "c1.png"); p != want {
		t.Fatalf("Download() = %q, want %q", p, want)
	}
	if got := readFile(t, p); got != "png-bytes" {
		t.Errorf("cached content = %q, want png-bytes", got)
	}

	cached, ok := m.CachedPath("c1")
	if !ok || cached != p {
		t.Errorf("CachedPath() = %q, %v; want %q, true", cached, ok, p)
	}

	if again := m.Download(context.Background(), "c1", "http://unreachable.invalid/x", "image/png"); again != p {
		t.Errorf("second Download() = %q, want cached %q", again, p)
	}
}

func TestDownload_FailureReturnsURL(t *testing.T) {
	ts := mediaServer(t)

	tests := []struct {
		name string
		path string
	}{
		{"not found", "/missing"},
		{"redirect loop", "/loop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, 0)
			src := ts.URL + tt.path

			if got := m.Download(context.Background(), "c1", src, "video/mp4"); got != src {
				t.Errorf("Download() = %q, want original url", got)
			}
			if n := m.Stats().ItemCount; n != 0 {
				t.Errorf("ItemCount = %d, want 0", n)
			}
			assertGone(t, filepath.Join(m.Dir(), "c1.mp4"))
		})
	}
}

func TestDownload_FollowsRedirect(t *testing.T) {
	ts := mediaServer(t)
	m := newTestManager(t, 0)

	p := m.Download(context.Background(), "c2", ts.URL+"/old", "video/mp4")
	if want := filepath.Join(m.Dir(), "c2.mp4"); p != want {
		t.Fatalf("Download() = %q, want %q", p, want)
	}
	if got := readFile(t, p); got != "mp4-bytes" {
		t.Errorf("cached content = %q, want mp4-bytes", got)
	}
}

func TestDownload_ConcurrentCallsShareOneTransfer(t *testing.T) {
	var hits atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		w.Write([]byte("shared")) //nolint:errcheck // Test server
	}))
	defer ts.Close()

	m := newTestManager(t, 0)
	const callers = 5
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Go(func() {
			results[i] = m.Download(context.Background(), "c3", ts.URL+"/video.webm", "")
		})
	}

	<-started
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
	want := filepath.Join(m.Dir(), "c3.webm")
	for i, r := range results {
		if r != want {
			t.Errorf("caller %d got %q, want %q", i, r, want)
		}
	}
}

func TestDownload_IDCannotEscapeCacheDir(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("payload")) //nolint:errcheck // Test server
	}))
	defer ts.Close()

	dataDir := t.TempDir()
	credential := filepath.Join(dataDir, "credential.json")
	if err := os.WriteFile(credential, []byte(`{"deviceToken":"t"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := New(filepath.Join(dataDir, "content-cache"), 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, id := range []string{"../credential", "a/b", "..", "/etc/passwd", ".hidden", "manifest"} {
		p := m.Download(context.Background(), id, ts.URL+"/x.json", "")
		if filepath.Dir(p) != m.Dir() {
			t.Errorf("Download(%q) = %q, want a file directly in %s", id, p, m.Dir())
		}
		if readFile(t, p) != "payload" {
			t.Errorf("Download(%q) did not store the payload", id)
		}
	}
	if got := readFile(t, credential); !strings.Contains(got, "deviceToken") {
		t.Errorf("credential overwritten: %q", got)
	}

	m.Remove("../credential")
	m.Clear()
	assertExists(t, credential)
	assertExists(t, filepath.Join(m.Dir(), manifestName))
}

func TestNew_DropsEntriesOutsideCacheDir(t *testing.T) {
	dataDir := t.TempDir()
	outside := filepath.Join(dataDir, "device-id")
	if err := os.WriteFile(outside, []byte("kiosk-1"), 0o600); err != nil {
		t.Fatal(err)
	}
	cacheDir := filepath.Join(dataDir, "content-cache")
	m, err := New(cacheDir, 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.mu.Lock()
	m.manifest.Entries["evil"] = &Entry{ContentID: "evil", FilePath: outside, Size: 7}
	m.saveLocked()
	m.mu.Unlock()

	reopened, err := New(cacheDir, 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if hasEntry(reopened, "evil") {
		t.Error("entry pointing outside the cache survived reload")
	}
	reopened.Clear()
	assertExists(t, outside)
}

func TestCachedPath_SelfHeals(t *testing.T) {
	ts := mediaServer(t)
	m := newTestManager(t, 0)

	p := m.Download(context.Background(), "c1", ts.URL+"/media/poster", "image/png")
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.CachedPath("c1"); ok {
		t.Error("CachedPath() ok = true for deleted file")
	}
	if n := m.Stats().ItemCount; n != 0 {
		t.Errorf("ItemCount = %d, want 0", n)
	}
}

// seedEntry creates a sparse file of size bytes and records it.
func seedEntry(t *testing.T, m *Manager, id string, size int64, accessed time.Time) string {
	t.Helper()
	p := filepath.Join(m.Dir(), id+".bin")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	record(m, &Entry{ContentID: id, FilePath: p, Size: size, LastAccessed: accessed, DownloadedAt: accessed})
	return p
}

// seedStuckEntry records an entry whose path is a non-empty directory, so
// deleting it fails.
func seedStuckEntry(t *testing.T, m *Manager, id string, size int64, accessed time.Time) string {
	t.Helper()
	p := filepath.Join(m.Dir(), id+".bin")
	if err := os.MkdirAll(filepath.Join(p, "pinned"), 0o755); err != nil {
		t.Fatal(err)
	}
	record(m, &Entry{ContentID: id, FilePath: p, Size: size, LastAccessed: accessed, DownloadedAt: accessed})
	return p
}

func record(m *Manager, e *Entry) {
	m.mu.Lock()
	m.manifest.Entries[e.ContentID] = e
	m.mu.Unlock()
}

func TestEnforceMaxSize_EvictsLeastRecentlyUsed(t *testing.T) {
	m := newTestManager(t, 100*bytesPerMB)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := seedEntry(t, m, "older", 60*bytesPerMB, base)
	newer := seedEntry(t, m, "newer", 60*bytesPerMB, base.Add(time.Minute))

	m.EnforceMaxSize()

	assertGone(t, older)
	assertExists(t, newer)

	stats := m.Stats()
	if stats.ItemCount != 1 {
		t.Errorf("ItemCount = %d, want 1", stats.ItemCount)
	}
	if math.Abs(stats.TotalSizeMB-60) > 0.001 {
		t.Errorf("TotalSizeMB = %v, want 60", stats.TotalSizeMB)
	}
	if math.Abs(stats.MaxSizeMB-100) > 0.001 {
		t.Errorf("MaxSizeMB = %v, want 100", stats.MaxSizeMB)
	}
}

func TestEnforceMaxSize_ContinuesPastFailedDelete(t *testing.T) {
	m := newTestManager(t, 100*bytesPerMB)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stuck := seedStuckEntry(t, m, "stuck", 60*bytesPerMB, base)
	a := seedEntry(t, m, "a", 60*bytesPerMB, base.Add(time.Minute))
	b := seedEntry(t, m, "b", 60*bytesPerMB, base.Add(2*time.Minute))

	m.EnforceMaxSize()

	assertExists(t, stuck)
	if !hasEntry(m, "stuck") {
		t.Error("undeletable entry dropped from manifest")
	}
	assertGone(t, a)
	assertGone(t, b)
	if hasEntry(m, "a") || hasEntry(m, "b") {
		t.Error("sweep stopped at the failed delete")
	}
}

func TestSetMaxSize_EvictsImmediately(t *testing.T) {
	m := newTestManager(t, 0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedEntry(t, m, "a", 3*bytesPerMB, base)
	seedEntry(t, m, "b", 3*bytesPerMB, base.Add(time.Second))

	m.SetMaxSize(4 * bytesPerMB)

	entries := m.Entries()
	if len(entries) != 1 || entries[0].ContentID != "b" {
		t.Fatalf("Entries() = %+v, want only b", entries)
	}
}

func TestRemoveAndClear(t *testing.T) {
	m := newTestManager(t, 0)
	now := time.Now()
	pa := seedEntry(t, m, "a", 10, now)
	pb := seedEntry(t, m, "b", 10, now)

	m.Remove("a")
	m.Remove("unknown")
	assertGone(t, pa)
	if n := m.Stats().ItemCount; n != 1 {
		t.Errorf("ItemCount after Remove = %d, want 1", n)
	}

	m.Clear()
	assertGone(t, pb)
	if n := m.Stats().ItemCount; n != 0 {
		t.Errorf("ItemCount after Clear = %d, want 0", n)
	}
}

func TestClear_ToleratesFailedDelete(t *testing.T) {
	m := newTestManager(t, 0)
	now := time.Now()
	seedStuckEntry(t, m, "stuck", 10, now)
	p := seedEntry(t, m, "a", 10, now)

	m.Clear()

	assertGone(t, p)
	if n := m.Stats().ItemCount; n != 0 {
		t.Errorf("ItemCount = %d, want 0", n)
	}

	reopened, err := New(m.Dir(), 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if n := reopened.Stats().ItemCount; n != 0 {
		t.Errorf("persisted ItemCount = %d, want 0", n)
	}
}

func TestManifest_PersistsAcrossRestart(t *testing.T) {
	ts := mediaServer(t)
	dir := t.TempDir()

	m, err := New(dir, 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p := m.Download(context.Background(), "c1", ts.URL+"/media/poster", "image/png")

	reopened, err := New(dir, 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, ok := reopened.CachedPath("c1")
	if !ok || got != p {
		t.Errorf("CachedPath() after reopen = %q, %v; want %q, true", got, ok, p)
	}
}

func TestManifest_CorruptStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, manifestName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := New(dir, 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if n := m.Stats().ItemCount; n != 0 {
		t.Errorf("ItemCount = %d, want 0", n)
	}
}

func TestFileStem(t *testing.T) {
	tests := []struct {
		id     string
		hashed bool
	}{
		{"c1", false},
		{"content_42-a", false},
		{"../credential", true},
		{"a/b", true},
		{"..", true},
		{"", true},
		{"with.dot", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := fileStem(tt.id)
			if tt.hashed != (got != tt.id) {
				t.Errorf("fileStem(%q) = %q, hashed want %v", tt.id, got, tt.hashed)
			}
			if strings.ContainsAny(got, `/\.`) {
				t.Errorf("fileStem(%q) = %q contains a path character", tt.id, got)
			}
		})
	}
	if fileStem("../a") == fileStem("../b") {
		t.Error("distinct ids hashed to the same stem")
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		url, mime, want string
	}{
		{"http://cdn/x/photo.jpeg?sig=1", "image/png", "jpeg"},
		{"http://cdn/x/asset", "image/jpeg", "jpg"},
		{"http://cdn/x/asset", "image/svg+xml", "svg"},
		{"http://cdn/x/asset", "video/ogg", "ogv"},
		{"http://cdn/x/asset", "application/pdf", "bin"},
		{"::not a url", "", "bin"},
	}
	for _, tt := range tests {
		t.Run(tt.url+"|"+tt.mime, func(t *testing.T) {
			if got := extensionFor(tt.url, tt.mime); got != tt.want {
				t.Errorf("extensionFor(%q, %q) = %q, want %q", tt.url, tt.mime, got, tt.want)
			}
		})
	}
}

func TestRewriteLocalhost(t *testing.T) {
	for in, want := range map[string]string{
		"http://localhost:3000/a": "127.0.0.1:3000",
		"http://localhost/a":      "127.0.0.1",
		"http://cdn.example/a":    "cdn.example",
	} {
		u, err := url.Parse(in)
		if err != nil {
			t.Fatal(err)
		}
		rewriteLocalhost(u)
		if u.Host != want {
			t.Errorf("rewriteLocalhost(%s) host = %q, want %q", in, u.Host, want)
		}
	}
}

func TestWatch_PrunesExternallyRemovedFiles(t *testing.T) {
	m := newTestManager(t, 0)
	p := seedEntry(t, m, "c1", 10, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hasEntry(m, "c1") {
		if time.Now().After(deadline) {
			t.Fatal("entry not pruned after external delete")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}
