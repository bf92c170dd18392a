package pairing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Trivenidigital/Vizora-sub012/internal/display"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/database"
	"github.com/Trivenidigital/Vizora-sub012/migrations"
)

func newSQLiteRegistry(t *testing.T) *display.Registry {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "fleet.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return display.NewRegistry(display.NewSQLiteRepository(db.DB))
}

// runPairingScenario drives request, poll, complete, poll, poll.
func runPairingScenario(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	registry := newSQLiteRegistry(t)
	svc := NewService(store, registry, Config{
		WebURL:       "http://localhost:3001",
		DeviceSecret: testSecret,
	})

	code, err := svc.RequestCode(ctx, "d1", "", nil)
	if err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}

	status, err := svc.CheckStatus(ctx, code.Code)
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if status.Status != StatusPending {
		t.Fatalf("first poll Status = %q, want pending", status.Status)
	}

	completed, err := svc.Complete(ctx, "org-1", "user-1", code.Code, "Front Desk")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	status, err = svc.CheckStatus(ctx, code.Code)
	if err != nil {
		t.Fatalf("CheckStatus() after Complete() error = %v", err)
	}
	if status.Status != StatusPaired {
		t.Fatalf("poll Status = %q, want paired", status.Status)
	}
	if status.DeviceToken == "" {
		t.Error("paired response has an empty device token")
	}
	if status.DisplayID != completed.Display.ID || status.OrganizationID != "org-1" {
		t.Errorf("paired response = %+v", status)
	}

	if _, err := svc.CheckStatus(ctx, code.Code); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("third poll error = %v, want ErrCodeNotFound", err)
	}

	d, err := registry.FindByIdentifier(ctx, "d1")
	if err != nil {
		t.Fatalf("FindByIdentifier() error = %v", err)
	}
	if d.Status != display.StatusPairing || d.Nickname != "Front Desk" {
		t.Errorf("registry display = %+v", d)
	}

	if _, err := svc.RequestCode(ctx, "d1", "", nil); !errors.Is(err, ErrAlreadyPaired) {
		t.Errorf("RequestCode() for paired device error = %v, want ErrAlreadyPaired", err)
	}
}

func TestPairingScenario_MemoryStore(t *testing.T) {
	runPairingScenario(t, NewMemoryStore())
}

// redisTestClient connects to FLEETD_TEST_REDIS_ADDR or skips.
func redisTestClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("FLEETD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLEETD_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup

	// Keys from earlier runs would collide with generated codes.
	iter := client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(context.Background()) {
		client.Del(context.Background(), iter.Val())
	}
	return client
}

func TestPairingScenario_RedisStore(t *testing.T) {
	runPairingScenario(t, NewRedisStore(redisTestClient(t)))
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(redisTestClient(t))

	now := time.Now().UTC()
	req := &Request{
		Code:             "RDS234",
		DeviceIdentifier: "kiosk-r",
		Nickname:         "Redis",
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Minute),
	}

	ok, err := store.Create(ctx, req)
	if err != nil || !ok {
		t.Fatalf("Create() = %v, %v; want true, nil", ok, err)
	}
	if ok, _ := store.Create(ctx, req); ok {
		t.Error("Create() on a live code = true, want collision")
	}

	got, err := store.Get(ctx, "RDS234")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DeviceIdentifier != "kiosk-r" {
		t.Errorf("DeviceIdentifier = %q", got.DeviceIdentifier)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() returned %d, want 1", len(list))
	}

	if removed, _ := store.Delete(ctx, "RDS234"); !removed {
		t.Error("first Delete() = false")
	}
	if removed, _ := store.Delete(ctx, "RDS234"); removed {
		t.Error("second Delete() = true")
	}
	if _, err := store.Get(ctx, "RDS234"); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrCodeNotFound", err)
	}
}

func TestRedisTTL(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"default code lifetime", DefaultCodeTTL, DefaultCodeTTL + redisExpiryGrace},
		{"already expired", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{CreatedAt: now, ExpiresAt: now.Add(tt.ttl)}
			if got := redisTTL(req); got != tt.want {
				t.Errorf("redisTTL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedisStore_ExpiredThenNotFound(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(NewRedisStore(redisTestClient(t)), newMockRegistry(), Config{
		WebURL:       "http://localhost:3001",
		DeviceSecret: testSecret,
	})
	svc.now = clock.Now

	code, err := svc.RequestCode(ctx, "kiosk-exp", "", nil)
	if err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}

	clock.Advance(DefaultCodeTTL + time.Second)

	if _, err := svc.CheckStatus(ctx, code.Code); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("first poll after expiry error = %v, want ErrCodeExpired", err)
	}
	if _, err := svc.CheckStatus(ctx, code.Code); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("second poll error = %v, want ErrCodeNotFound", err)
	}
}
