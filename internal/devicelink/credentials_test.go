package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/pairing"
)

func TestCredentialStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "credential.json")
	store := NewCredentialStore(path)

	c, err := store.Load()
	if err != nil || c != nil {
		t.Fatalf("Load() on empty store = %+v, %v; want nil, nil", c, err)
	}

	if err := store.Save(&Credential{DeviceToken: "jwt", DeviceIdentifier: "kiosk-x"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("credential mode = %o, want 600", perm)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var onDisk map[string]string
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("credential is not JSON: %v", err)
	}
	if len(onDisk) != 2 || onDisk["deviceToken"] != "jwt" || onDisk["deviceIdentifier"] != "kiosk-x" {
		t.Errorf("credential on disk = %s", raw)
	}

	c, err = store.Load()
	if err != nil || c == nil || c.DeviceIdentifier != "kiosk-x" {
		t.Fatalf("Load() = %+v, %v", c, err)
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if c, err := store.Load(); err != nil || c != nil {
		t.Errorf("Load() after Delete = %+v, %v; want nil, nil", c, err)
	}
}

func TestCredentialStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCredentialStore(path).Load(); err == nil {
		t.Error("Load() of a corrupt file should fail")
	}
}

func TestCredentialStore_SaveFailsOverDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	if err := os.MkdirAll(filepath.Join(path, "x"), 0o700); err != nil {
		t.Fatal(err)
	}

	store := NewCredentialStore(path)
	if err := store.Save(&Credential{DeviceToken: "jwt"}); err == nil {
		t.Fatal("Save() over a directory should fail")
	}
	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(&Credential{DeviceToken: "jwt"}); err != nil {
		t.Fatalf("Save() after the directory is gone error = %v", err)
	}
}

func TestLoadOrCreateIdentifier(t *testing.T) {
	pattern := regexp.MustCompile(`^kiosk-aabbccddeeff-[0-9a-f]{8}$`)

	path := filepath.Join(t.TempDir(), "device-id")
	id, err := loadOrCreateIdentifier(path, func() string { return "aa:bb:cc:dd:ee:ff" })
	if err != nil {
		t.Fatalf("loadOrCreateIdentifier() error = %v", err)
	}
	if !pattern.MatchString(id) {
		t.Errorf("identifier = %q, want match %s", id, pattern)
	}

	again, err := loadOrCreateIdentifier(path, func() string { return "11:22:33:44:55:66" })
	if err != nil {
		t.Fatalf("loadOrCreateIdentifier() error = %v", err)
	}
	if again != id {
		t.Errorf("persisted identifier not reused: %q then %q", id, again)
	}
}

func TestLoadOrCreateIdentifier_NoHardwareAddress(t *testing.T) {
	id, err := loadOrCreateIdentifier(filepath.Join(t.TempDir(), "device-id"), func() string { return "" })
	if err != nil {
		t.Fatalf("loadOrCreateIdentifier() error = %v", err)
	}
	if !regexp.MustCompile(`^kiosk-unknown-[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("identifier = %q", id)
	}
}

func TestLoadOrCreateIdentifier_KeepsCustomValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-id")
	if err := os.WriteFile(path, []byte("lobby-screen-1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	id, err := loadOrCreateIdentifier(path, func() string { return "aa:bb" })
	if err != nil {
		t.Fatalf("loadOrCreateIdentifier() error = %v", err)
	}
	if id != "lobby-screen-1" {
		t.Errorf("identifier = %q, want lobby-screen-1", id)
	}
}

func pairingAPI(t *testing.T, pendingPolls int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/devices/pairing/request", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"code":"ABC234","expiresInSeconds":300,"pairingUrl":"http://web/pair?code=ABC234"}`)) //nolint:errcheck // Test server
	})
	mux.HandleFunc("GET /api/v1/devices/pairing/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.PathValue("code") {
		case "ABC234":
			if polls.Add(1) <= pendingPolls {
				w.Write([]byte(`{"status":"pending"}`)) //nolint:errcheck // Test server
				return
			}
			w.Write([]byte(`{"status":"paired","deviceToken":"jwt-1","displayId":"d-1","organizationId":"org-1"}`)) //nolint:errcheck // Test server
		case "BOOM22":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"code":"internal_error","message":"database down"}}`)) //nolint:errcheck // Test server
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"not_found","message":"Invalid or expired pairing code"}}`)) //nolint:errcheck // Test server
		}
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, &polls
}

func TestPairingClient_RequestAndWait(t *testing.T) {
	ts, polls := pairingAPI(t, 2)
	c := NewPairingClient(ts.URL + "/api/v1/")
	ctx := context.Background()

	code, err := c.RequestCode(ctx, "kiosk-x", "Lobby", map[string]any{"os": "linux"})
	if err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	if code.Code != "ABC234" || code.ExpiresInSeconds != 300 {
		t.Errorf("RequestCode() = %+v", code)
	}

	st, err := c.WaitForPairing(ctx, code.Code, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("WaitForPairing() error = %v", err)
	}
	if st.Status != pairing.StatusPaired || st.DeviceToken != "jwt-1" {
		t.Errorf("WaitForPairing() = %+v", st)
	}
	if n := polls.Load(); n != 3 {
		t.Errorf("polls = %d, want 3", n)
	}
}

func TestPairingClient_Errors(t *testing.T) {
	ts, _ := pairingAPI(t, 0)
	c := NewPairingClient(ts.URL + "/api/v1")
	ctx := context.Background()

	if _, err := c.CheckStatus(ctx, "ZZZ999"); !errors.Is(err, ErrCodeGone) {
		t.Errorf("CheckStatus(unknown) error = %v, want ErrCodeGone", err)
	}
	if _, err := c.WaitForPairing(ctx, "ZZZ999", 10*time.Millisecond, nil); !errors.Is(err, ErrCodeGone) {
		t.Errorf("WaitForPairing(unknown) error = %v, want ErrCodeGone", err)
	}

	_, err := c.CheckStatus(ctx, "BOOM22")
	if err == nil || !strings.Contains(err.Error(), "database down") {
		t.Errorf("CheckStatus(server error) error = %v, want server message", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := c.WaitForPairing(cctx, "BOOM22", 10*time.Millisecond, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForPairing() error = %v, want context.DeadlineExceeded", err)
	}
}
