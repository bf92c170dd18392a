package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/display"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/influxdb"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/mqtt"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockRegistry records what the service writes.
type mockRegistry struct {
	mu          sync.Mutex
	displays    map[string]*display.Display
	heartbeats  map[string]time.Time
	impressions []display.Impression
}

func newMockRegistry(ids ...string) *mockRegistry {
	m := &mockRegistry{
		displays:   make(map[string]*display.Display),
		heartbeats: make(map[string]time.Time),
	}
	for _, id := range ids {
		m.displays[id] = &display.Display{ID: id, OrganizationID: "org-1", Status: display.StatusPairing}
	}
	return m
}

func (m *mockRegistry) Get(_ context.Context, id string) (*display.Display, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.displays[id]
	if !ok {
		return nil, display.ErrNotFound
	}
	return d.Clone(), nil
}

func (m *mockRegistry) SetStatus(_ context.Context, id string, status display.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.displays[id]
	if !ok {
		return display.ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *mockRegistry) RecordHeartbeat(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.displays[id]
	if !ok {
		return display.ErrNotFound
	}
	d.Status = display.StatusOnline
	m.heartbeats[id] = at
	return nil
}

func (m *mockRegistry) RecordImpression(_ context.Context, imp *display.Impression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.displays[imp.DisplayID]; !ok {
		return display.ErrNotFound
	}
	m.impressions = append(m.impressions, *imp)
	return nil
}

func (m *mockRegistry) status(id string) display.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displays[id].Status
}

type fakeMetrics struct {
	mu          sync.Mutex
	heartbeats  []influxdb.HeartbeatMetrics
	impressions []string
	errors      []string
}

func (f *fakeMetrics) WriteHeartbeat(_, _ string, m influxdb.HeartbeatMetrics, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, m)
}

func (f *fakeMetrics) WriteImpression(_, _, contentID string, _ int, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.impressions = append(f.impressions, contentID)
}

func (f *fakeMetrics) WriteContentError(_, _, _, errorType string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errorType)
}

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (f *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, payload: data, retained: retained})
	return nil
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.topic
	}
	return out
}

func newTestService(t *testing.T, ids ...string) (*Service, *mockRegistry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	reg := newMockRegistry(ids...)
	svc := NewService(store, reg, 15*time.Second)
	svc.now = clock.Now
	return svc, reg, clock
}

var testIdentity = Identity{DisplayID: "d1", OrganizationID: "org-1"}

func TestConnectedDisconnected(t *testing.T) {
	svc, reg, _ := newTestService(t, "d1")
	pub := &fakePublisher{}
	svc.SetPublisher(pub, mqtt.NewTopics("fleet"))

	var events []protocol.StatusEvent
	var orgs []string
	svc.OnStatus(func(org string, ev protocol.StatusEvent) {
		orgs = append(orgs, org)
		events = append(events, ev)
	})

	ctx := context.Background()
	if err := svc.Connected(ctx, testIdentity, "conn-1"); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}
	if got := reg.status("d1"); got != display.StatusOnline {
		t.Errorf("registry status = %s, want online", got)
	}
	rec, err := svc.store.GetStatus(ctx, "d1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if rec.Status != StatusOnline || rec.ConnectionID != "conn-1" || rec.OrganizationID != "org-1" {
		t.Errorf("status record = %+v", rec)
	}

	if err := svc.Disconnected(ctx, testIdentity); err != nil {
		t.Fatalf("Disconnected() error = %v", err)
	}
	if got := reg.status("d1"); got != display.StatusOffline {
		t.Errorf("registry status = %s, want offline", got)
	}
	rec, _ = svc.store.GetStatus(ctx, "d1")
	if rec.Status != StatusOffline || rec.ConnectionID != "" || rec.LastHeartbeat.IsZero() {
		t.Errorf("status record after disconnect = %+v", rec)
	}

	if len(events) != 2 || events[0].Status != StatusOnline || events[1].Status != StatusOffline {
		t.Fatalf("events = %+v", events)
	}
	if orgs[0] != "org-1" || events[0].DeviceID != "d1" {
		t.Errorf("event routed to %q for %q", orgs[0], events[0].DeviceID)
	}

	topics := pub.topics()
	if len(topics) != 2 || topics[0] != "fleet/display/d1/status" {
		t.Errorf("published topics = %v", topics)
	}
	if !pub.messages[0].retained {
		t.Error("status should be published retained")
	}
}

func TestConnected_UnregisteredDisplay(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.Connected(context.Background(), Identity{DisplayID: "ghost"}, "c"); err != nil {
		t.Errorf("Connected() error = %v, want nil for unregistered display", err)
	}
}

func TestProcessHeartbeat(t *testing.T) {
	svc, reg, clock := newTestService(t, "d1")
	metrics := &fakeMetrics{}
	svc.SetMetricsWriter(metrics)
	ctx := context.Background()

	if err := svc.Connected(ctx, testIdentity, "conn-1"); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}
	if delivered, err := svc.SendCommand(ctx, "d1", protocol.Command{Type: "reload"}); err != nil || delivered {
		t.Fatalf("SendCommand() = %v, %v; want queued", delivered, err)
	}

	hb := protocol.Heartbeat{
		Timestamp:      clock.Now(),
		Metrics:        protocol.Metrics{CPUUsage: 42, MemoryUsage: 61.5, StorageUsed: 1 << 20},
		CurrentContent: &protocol.CurrentContent{ContentID: "c-1"},
	}
	ack, err := svc.ProcessHeartbeat(ctx, testIdentity, hb)
	if err != nil {
		t.Fatalf("ProcessHeartbeat() error = %v", err)
	}

	if !ack.Success || ack.NextHeartbeatIn != 15000 {
		t.Errorf("ack = %+v", ack)
	}
	if len(ack.Commands) != 1 || ack.Commands[0].Type != "reload" {
		t.Errorf("ack.Commands = %+v, want [reload]", ack.Commands)
	}

	again, err := svc.ProcessHeartbeat(ctx, testIdentity, hb)
	if err != nil {
		t.Fatalf("ProcessHeartbeat() error = %v", err)
	}
	if again.Commands == nil || len(again.Commands) != 0 {
		t.Errorf("second ack.Commands = %v, want empty non-nil", again.Commands)
	}

	rec, _ := svc.store.GetStatus(ctx, "d1")
	if rec.ConnectionID != "conn-1" || rec.Metrics == nil || rec.Metrics.CPUUsage != 42 {
		t.Errorf("status record = %+v", rec)
	}
	if _, ok := reg.heartbeats["d1"]; !ok {
		t.Error("registry heartbeat not recorded")
	}
	if len(metrics.heartbeats) != 2 || metrics.heartbeats[0].MemoryUsage != 61.5 {
		t.Errorf("metrics = %+v", metrics.heartbeats)
	}
}

func TestProcessHeartbeat_ZeroTimestampUsesNow(t *testing.T) {
	svc, _, clock := newTestService(t, "d1")
	ctx := context.Background()

	if _, err := svc.ProcessHeartbeat(ctx, testIdentity, protocol.Heartbeat{}); err != nil {
		t.Fatalf("ProcessHeartbeat() error = %v", err)
	}
	rec, err := svc.store.LatestHeartbeat(ctx, "d1")
	if err != nil {
		t.Fatalf("LatestHeartbeat() error = %v", err)
	}
	if !rec.Timestamp.Equal(clock.Now()) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, clock.Now())
	}
}

func TestDeviceStatus(t *testing.T) {
	svc, _, clock := newTestService(t, "d1")
	ctx := context.Background()

	if got := svc.DeviceStatus(ctx, "d1"); got.Status != StatusOffline || got.LastSeen != nil {
		t.Errorf("DeviceStatus() with no heartbeat = %+v, want offline without lastSeen", got)
	}

	hb := protocol.Heartbeat{Timestamp: clock.Now(), Metrics: protocol.Metrics{CPUUsage: 50}}
	if _, err := svc.ProcessHeartbeat(ctx, testIdentity, hb); err != nil {
		t.Fatalf("ProcessHeartbeat() error = %v", err)
	}

	clock.Advance(30 * time.Second)
	got := svc.DeviceStatus(ctx, "d1")
	if got.Status != StatusOnline || got.LastSeen == nil || got.Metrics.CPUUsage != 50 {
		t.Errorf("DeviceStatus() recent = %+v, want online", got)
	}

	clock.Advance(61 * time.Second)
	got = svc.DeviceStatus(ctx, "d1")
	if got.Status != StatusOffline || got.LastSeen == nil {
		t.Errorf("DeviceStatus() stale = %+v, want offline with lastSeen", got)
	}
}

func TestLogImpression(t *testing.T) {
	svc, reg, _ := newTestService(t, "d1")
	metrics := &fakeMetrics{}
	svc.SetMetricsWriter(metrics)
	ctx := context.Background()

	duration := 30
	if err := svc.LogImpression(ctx, testIdentity, protocol.Impression{ContentID: "c-1", Duration: &duration}); err != nil {
		t.Fatalf("LogImpression() error = %v", err)
	}
	if err := svc.LogImpression(ctx, Identity{DisplayID: "ghost"}, protocol.Impression{ContentID: "c-1"}); err != nil {
		t.Fatalf("LogImpression() for unregistered display error = %v", err)
	}

	if len(reg.impressions) != 1 || reg.impressions[0].ContentID != "c-1" || *reg.impressions[0].Duration != 30 {
		t.Errorf("registry impressions = %+v, want one for c-1", reg.impressions)
	}

	stats, err := svc.DeviceStats(ctx, "d1")
	if err != nil {
		t.Fatalf("DeviceStats() error = %v", err)
	}
	if stats.Impressions != 1 {
		t.Errorf("Impressions = %d, want 1", stats.Impressions)
	}
	if len(metrics.impressions) != 2 {
		t.Errorf("metrics impressions = %v, want 2", metrics.impressions)
	}

	err = svc.LogImpression(ctx, testIdentity, protocol.Impression{})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("LogImpression() without contentId error = %v, want ErrInvalid", err)
	}
}

func TestLogError_AndStats(t *testing.T) {
	svc, _, _ := newTestService(t, "d1")
	pub := &fakePublisher{}
	svc.SetPublisher(pub, mqtt.NewTopics("fleet"))
	ctx := context.Background()

	for _, typ := range []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7"} {
		if err := svc.LogError(ctx, testIdentity, protocol.ContentError{ContentID: "c", ErrorType: typ}); err != nil {
			t.Fatalf("LogError() error = %v", err)
		}
	}

	stats, err := svc.DeviceStats(ctx, "d1")
	if err != nil {
		t.Fatalf("DeviceStats() error = %v", err)
	}
	if stats.Errors != 7 {
		t.Errorf("Errors = %d, want 7", stats.Errors)
	}
	if len(stats.RecentErrors) != 5 || stats.RecentErrors[0].ErrorType != "e3" {
		t.Errorf("RecentErrors = %+v, want e3..e7", stats.RecentErrors)
	}
	if got := pub.topics(); len(got) != 7 || got[0] != "fleet/display/d1/event" {
		t.Errorf("published = %v", got)
	}
}

func TestSendCommand(t *testing.T) {
	svc, _, _ := newTestService(t, "d1")
	ctx := context.Background()

	var live []protocol.Command
	svc.SetDeliverer(func(displayID string, cmd protocol.Command) bool {
		if displayID != "d1" {
			return false
		}
		live = append(live, cmd)
		return true
	})

	delivered, err := svc.SendCommand(ctx, "d1", protocol.Command{Type: "reload"})
	if err != nil || !delivered {
		t.Fatalf("SendCommand() connected = %v, %v; want true, nil", delivered, err)
	}
	if len(live) != 1 || live[0].Timestamp.IsZero() {
		t.Errorf("live commands = %+v, want one stamped command", live)
	}

	delivered, err = svc.SendCommand(ctx, "d2", protocol.Command{Type: "reload"})
	if err != nil || delivered {
		t.Fatalf("SendCommand() offline = %v, %v; want false, nil", delivered, err)
	}
	queued, _ := svc.store.DrainCommands(ctx, "d2")
	if len(queued) != 1 {
		t.Errorf("queued = %+v, want one command", queued)
	}

	if _, err := svc.SendCommand(ctx, "d1", protocol.Command{Type: "  "}); !errors.Is(err, ErrInvalid) {
		t.Errorf("SendCommand() blank type error = %v, want ErrInvalid", err)
	}
}

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.topic = topic
	f.handler = handler
	return nil
}

func TestSubscribeCommands(t *testing.T) {
	svc, _, _ := newTestService(t, "d1")
	sub := &fakeSubscriber{}
	topics := mqtt.NewTopics("fleet")

	if err := svc.SubscribeCommands(sub, topics); err != nil {
		t.Fatalf("SubscribeCommands() error = %v", err)
	}
	if sub.topic != "fleet/display/+/command" {
		t.Errorf("subscribed to %q", sub.topic)
	}

	if err := sub.handler("fleet/display/d1/command", []byte(`{"type":"clear_cache"}`)); err != nil {
		t.Fatalf("handler() error = %v", err)
	}
	cmds, _ := svc.store.DrainCommands(context.Background(), "d1")
	if len(cmds) != 1 || cmds[0].Type != "clear_cache" {
		t.Errorf("queued = %+v", cmds)
	}

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"bad json", "fleet/display/d1/command", "{"},
		{"missing type", "fleet/display/d1/command", `{"payload":{}}`},
		{"wrong kind", "fleet/display/d1/status", `{"type":"reload"}`},
		{"foreign topic", "other/d1", `{"type":"reload"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sub.handler(tt.topic, []byte(tt.payload))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("handler() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestNewService_DefaultInterval(t *testing.T) {
	svc := NewService(NewMemoryStore(), newMockRegistry(), 0)
	if got := svc.HeartbeatInterval(); got != 15*time.Second {
		t.Errorf("HeartbeatInterval() = %v, want 15s", got)
	}
	if !strings.HasPrefix(svc.topics.Prefix(), "fleet") {
		t.Errorf("default topic prefix = %q", svc.topics.Prefix())
	}
}
