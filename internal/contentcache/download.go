package contentcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
)

// maxRedirects bounds how many 301/302 hops a download follows.
const maxRedirects = 5

var mimeExtensions = map[string]string{
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
	"video/mp4":     "mp4",
	"video/webm":    "webm",
	"video/ogg":     "ogv",
}

// extensionFor picks the file extension from the URL path, then the MIME
// type, then falls back to "bin".
func extensionFor(rawURL, mimeType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" {
			return ext
		}
	}
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return "bin"
}

// rewriteLocalhost pins localhost to IPv4 so a server bound only to
// 127.0.0.1 is reachable.
func rewriteLocalhost(u *url.URL) {
	if u.Hostname() != "localhost" {
		return
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort("127.0.0.1", port)
		return
	}
	u.Host = "127.0.0.1"
}

// fetch streams rawURL into dest, following up to maxRedirects redirects.
// On any failure the partial file is removed.
func (m *Manager) fetch(ctx context.Context, rawURL, dest string) (int64, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing url: %v", ErrDownloadFailed, err)
	}

	for hop := 0; ; hop++ {
		rewriteLocalhost(target)

		n, next, err := m.fetchOnce(ctx, target, dest)
		if err != nil {
			os.Remove(dest) //nolint:errcheck // Partial file may not exist
			return 0, err
		}
		if next == nil {
			return n, nil
		}
		os.Remove(dest) //nolint:errcheck // Nothing was written for a redirect
		if hop >= maxRedirects {
			return 0, fmt.Errorf("%w: too many redirects", ErrDownloadFailed)
		}
		target = next
	}
}

// fetchOnce performs one GET. It returns the redirect target when the
// server answers 301 or 302 with a Location header.
func (m *Manager) fetchOnce(ctx context.Context, target *url.URL, dest string) (int64, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: building request: %v", ErrDownloadFailed, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return 0, nil, fmt.Errorf("%w: HTTP %d without location", ErrDownloadFailed, resp.StatusCode)
		}
		next, err := target.Parse(loc)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: bad redirect location: %v", ErrDownloadFailed, err)
		}
		return 0, next, nil
	case http.StatusOK:
	default:
		return 0, nil, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: creating %s: %v", ErrFilesystem, dest, err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return 0, nil, fmt.Errorf("%w: writing %s: %v", ErrDownloadFailed, dest, err)
	}
	return n, nil, nil
}
