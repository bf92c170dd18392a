package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// fakeGateway is a minimal realtime endpoint.
type fakeGateway struct {
	token      string
	intervalMs int
	ackCmds    []protocol.Command
	rejectWith string // error event message sent instead of config

	connects   atomic.Int32
	heartbeats chan protocol.Heartbeat
	notified   chan *protocol.Frame

	mu    sync.Mutex
	conns []*gatewayConn
}

type gatewayConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *gatewayConn) send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteJSON(v) //nolint:errcheck // Test server
}

func newFakeGateway(t *testing.T, token string) (*fakeGateway, *httptest.Server) {
	t.Helper()
	g := &fakeGateway{
		token:      token,
		intervalMs: protocol.DefaultHeartbeatIntervalMs,
		heartbeats: make(chan protocol.Heartbeat, 64),
		notified:   make(chan *protocol.Frame, 64),
	}
	ts := httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(func() {
		g.closeAll()
		ts.Close()
	})
	return g, ts
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+g.token || r.URL.Query().Get("token") != g.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.connects.Add(1)
	gc := &gatewayConn{conn: conn}
	g.mu.Lock()
	g.conns = append(g.conns, gc)
	g.mu.Unlock()

	if g.rejectWith != "" {
		gc.send(protocol.NewEvent(protocol.EventError, protocol.ErrorEvent{Code: "AUTH", Message: g.rejectWith}))
		time.Sleep(50 * time.Millisecond)
		conn.Close()
		return
	}

	cfg := protocol.DefaultConfigEvent()
	cfg.HeartbeatInterval = g.intervalMs
	gc.send(protocol.NewEvent(protocol.EventConfig, cfg))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		switch frame.Method {
		case protocol.MethodHeartbeat:
			var hb protocol.Heartbeat
			frame.DecodeParams(&hb) //nolint:errcheck // Test server
			g.heartbeats <- hb
			gc.send(protocol.NewOKResponse(frame.ID, protocol.HeartbeatAck{
				Success:         true,
				NextHeartbeatIn: g.intervalMs,
				Commands:        g.ackCmds,
			}))
		default:
			g.notified <- frame
			gc.send(protocol.NewOKResponse(frame.ID, protocol.Ack{Success: true}))
		}
	}
}

// push sends an event to every connected display.
func (g *fakeGateway) push(ev *protocol.EventFrame) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.send(ev)
	}
}

func (g *fakeGateway) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.conn.Close()
	}
	g.conns = nil
}

type staticMetrics struct{}

func (staticMetrics) Sample(context.Context) (protocol.Metrics, error) {
	return protocol.Metrics{CPUUsage: 12.5, MemoryUsage: 40, StorageUsed: 1024}, nil
}

type commandLog struct {
	mu   sync.Mutex
	seen []string
}

func (c *commandLog) handler(cmdType string) Handler {
	return func(_ context.Context, _ map[string]any) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.seen = append(c.seen, cmdType)
		return nil
	}
}

func (c *commandLog) has(cmdType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.seen {
		if s == cmdType {
			return true
		}
	}
	return false
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/realtime"
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type linkFixture struct {
	link  *Link
	store *CredentialStore
	cmds  *commandLog
	done  chan error
}

// startLink runs a link against url; setup hooks run before Run starts.
func startLink(t *testing.T, url string, cred *Credential, setup ...func(*Link)) *linkFixture {
	t.Helper()
	store := NewCredentialStore(filepath.Join(t.TempDir(), "credential.json"))
	if cred != nil {
		if err := store.Save(cred); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	cmds := &commandLog{}
	d := NewDispatcher(nil)
	for _, typ := range []string{"reload", "clear_cache"} {
		d.Register(typ, cmds.handler(typ))
	}

	link, err := New(Options{
		URL:         url,
		Credentials: store,
		Dispatcher:  d,
		Metrics:     staticMetrics{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	link.initialBackoff = 10 * time.Millisecond
	link.maxBackoff = 50 * time.Millisecond
	for _, fn := range setup {
		fn(link)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &linkFixture{link: link, store: store, cmds: cmds, done: make(chan error, 1)}
	go func() { f.done <- link.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	return f
}

func nextHeartbeat(t *testing.T, g *fakeGateway) protocol.Heartbeat {
	t.Helper()
	select {
	case hb := <-g.heartbeats:
		return hb
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
		return protocol.Heartbeat{}
	}
}

func TestNew_Validation(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "c.json"))
	d := NewDispatcher(nil)

	invalid := []struct {
		name string
		opts Options
	}{
		{"http scheme", Options{URL: "http://fleet/realtime", Credentials: store, Dispatcher: d}},
		{"no credential store", Options{URL: "ws://fleet/realtime", Dispatcher: d}},
		{"no dispatcher", Options{URL: "ws://fleet/realtime", Credentials: store}},
	}
	for _, tt := range invalid {
		if _, err := New(tt.opts); err == nil {
			t.Errorf("New(%s) error = nil", tt.name)
		}
	}

	l, err := New(Options{URL: "ws://fleet/realtime", Credentials: store, Dispatcher: d})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := l.HeartbeatInterval(); got != 15*time.Second {
		t.Errorf("HeartbeatInterval() = %v, want 15s", got)
	}
	if l.Credential() != nil {
		t.Error("Credential() should be nil with an empty store")
	}
}

func TestLink_HeartbeatOnConnectCarriesMetrics(t *testing.T) {
	g, ts := newFakeGateway(t, "tok-1")
	f := startLink(t, wsURL(ts), &Credential{DeviceToken: "tok-1", DeviceIdentifier: "kiosk-a"})
	f.link.SetCurrentContent(&protocol.CurrentContent{ContentID: "c-9"})

	hb := nextHeartbeat(t, g)
	if hb.Metrics.CPUUsage != 12.5 || hb.Metrics.StorageUsed != 1024 {
		t.Errorf("heartbeat metrics = %+v", hb.Metrics)
	}
	if hb.Status != "online" {
		t.Errorf("heartbeat status = %q, want online", hb.Status)
	}
	if !f.link.Connected() {
		t.Error("Connected() = false after a heartbeat")
	}
}

func TestLink_ConfigEventAdjustsInterval(t *testing.T) {
	g, ts := newFakeGateway(t, "tok-1")
	g.intervalMs = 40

	var cacheSize atomic.Int64
	f := startLink(t, wsURL(ts), &Credential{DeviceToken: "tok-1"}, func(l *Link) {
		l.OnConfig(func(cfg protocol.ConfigEvent) { cacheSize.Store(cfg.CacheSize) })
	})

	for range 3 {
		nextHeartbeat(t, g)
	}
	if got := f.link.HeartbeatInterval(); got != 40*time.Millisecond {
		t.Errorf("HeartbeatInterval() = %v, want 40ms", got)
	}
	if got := cacheSize.Load(); got != int64(protocol.DefaultCacheSizeBytes) {
		t.Errorf("config cache size = %d, want %d", got, protocol.DefaultCacheSizeBytes)
	}
}

func TestLink_AckCommandsAreDispatched(t *testing.T) {
	g, ts := newFakeGateway(t, "tok-1")
	g.ackCmds = []protocol.Command{{Type: "reload"}, {Type: "self_destruct"}}

	f := startLink(t, wsURL(ts), &Credential{DeviceToken: "tok-1"})
	nextHeartbeat(t, g)

	waitFor(t, 2*time.Second, "reload dispatch", func() bool { return f.cmds.has("reload") })
}

func TestLink_InlineCommandIsDispatched(t *testing.T) {
	g, ts := newFakeGateway(t, "tok-1")
	f := startLink(t, wsURL(ts), &Credential{DeviceToken: "tok-1"})
	nextHeartbeat(t, g)

	g.push(protocol.NewEvent(protocol.EventCommand, protocol.Command{Type: "clear_cache"}))

	waitFor(t, 2*time.Second, "clear_cache dispatch", func() bool { return f.cmds.has("clear_cache") })
}

func TestLink_TelemetryForwardedWhileConnected(t *testing.T) {
	g, ts := newFakeGateway(t, "tok-1")
	f := startLink(t, wsURL(ts), &Credential{DeviceToken: "tok-1"})
	nextHeartbeat(t, g)

	f.link.LogImpression(protocol.Impression{ContentID: "c-1"})
	f.link.LogError(protocol.ContentError{ContentID: "c-2", ErrorType: "decode"})

	methods := map[string]json.RawMessage{}
	for range 2 {
		select {
		case fr := <-g.notified:
			methods[fr.Method] = fr.Params
		case <-time.After(2 * time.Second):
			t.Fatal("notification not received")
		}
	}
	if _, ok := methods[protocol.MethodContentImpression]; !ok {
		t.Fatalf("no %s notification in %v", protocol.MethodContentImpression, methods)
	}
	raw, ok := methods[protocol.MethodContentError]
	if !ok {
		t.Fatalf("no %s notification in %v", protocol.MethodContentError, methods)
	}

	var ce protocol.ContentError
	if err := json.Unmarshal(raw, &ce); err != nil {
		t.Fatalf("decoding content error: %v", err)
	}
	if ce.ErrorType != "decode" || ce.Timestamp.IsZero() {
		t.Errorf("content error = %+v, want decode with a timestamp", ce)
	}
}

func TestLink_DisconnectedIsQuiet(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "c.json"))
	l, err := New(Options{URL: "ws://127.0.0.1:1/realtime", Credentials: store, Dispatcher: NewDispatcher(nil)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := l.SendHeartbeat(context.Background()); err != nil {
		t.Errorf("SendHeartbeat() while disconnected error = %v", err)
	}
	l.LogImpression(protocol.Impression{ContentID: "c"})
	l.LogError(protocol.ContentError{ContentID: "c", ErrorType: "x"})
	if l.Connected() {
		t.Error("Connected() = true without Run")
	}
}

func TestLink_ReconnectsAfterDrop(t *testing.T) {
	g, ts := newFakeGateway(t, "tok-1")
	startLink(t, wsURL(ts), &Credential{DeviceToken: "tok-1"})
	nextHeartbeat(t, g)

	g.closeAll()

	waitFor(t, 3*time.Second, "reconnect", func() bool { return g.connects.Load() >= 2 })
	nextHeartbeat(t, g)
}

func TestLink_RejectedHandshakeRequiresPairing(t *testing.T) {
	g, ts := newFakeGateway(t, "tok-good")
	required := make(chan struct{}, 1)
	f := startLink(t, wsURL(ts), &Credential{DeviceToken: "tok-stale"}, func(l *Link) {
		l.OnPairingRequired(func() { required <- struct{}{} })
	})

	select {
	case <-required:
	case <-time.After(2 * time.Second):
		t.Fatal("OnPairingRequired not called")
	}
	if f.link.Credential() != nil {
		t.Error("rejected credential still held")
	}
	if stored, err := f.store.Load(); err != nil || stored != nil {
		t.Errorf("stored credential after rejection = %+v, %v; want nil, nil", stored, err)
	}

	// No reconnect attempts until a new credential arrives.
	time.Sleep(100 * time.Millisecond)
	if n := g.connects.Load(); n != 0 {
		t.Errorf("connects without a credential = %d, want 0", n)
	}

	if err := f.link.Connect(&Credential{DeviceToken: "tok-good", DeviceIdentifier: "kiosk-a"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	nextHeartbeat(t, g)

	stored, err := f.store.Load()
	if err != nil || stored == nil || stored.DeviceToken != "tok-good" {
		t.Errorf("stored credential = %+v, %v; want tok-good", stored, err)
	}
}

func TestLink_UnauthorizedErrorEventRequiresPairing(t *testing.T) {
	g, ts := newFakeGateway(t, "tok-1")
	g.rejectWith = "Unauthorized: invalid token"
	required := make(chan struct{}, 1)
	f := startLink(t, wsURL(ts), &Credential{DeviceToken: "tok-1"}, func(l *Link) {
		l.OnPairingRequired(func() { required <- struct{}{} })
	})

	select {
	case <-required:
	case <-time.After(2 * time.Second):
		t.Fatal("OnPairingRequired not called")
	}
	if f.link.Credential() != nil {
		t.Error("rejected credential still held")
	}
	if n := g.connects.Load(); n != 1 {
		t.Errorf("connects = %d, want 1", n)
	}
}

func TestLink_UnpairClosesLink(t *testing.T) {
	g, ts := newFakeGateway(t, "tok-1")
	f := startLink(t, wsURL(ts), &Credential{DeviceToken: "tok-1"})
	nextHeartbeat(t, g)

	f.link.Unpair()

	waitFor(t, 2*time.Second, "disconnect", func() bool { return !f.link.Connected() })
	if stored, err := f.store.Load(); err != nil || stored != nil {
		t.Errorf("stored credential after Unpair = %+v, %v; want nil, nil", stored, err)
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		ev   protocol.ErrorEvent
		want bool
	}{
		{protocol.ErrorEvent{Code: protocol.ErrCodeUnauthorized}, true},
		{protocol.ErrorEvent{Message: "Invalid token"}, true},
		{protocol.ErrorEvent{Message: "request unauthorized"}, true},
		{protocol.ErrorEvent{Code: "INTERNAL", Message: "boom"}, false},
	}
	for _, tt := range tests {
		if got := isAuthFailure(tt.ev); got != tt.want {
			t.Errorf("isAuthFailure(%+v) = %v, want %v", tt.ev, got, tt.want)
		}
	}
}

func TestDispatcher(t *testing.T) {
	d := NewDispatcher(nil)
	var ran atomic.Bool
	d.Register("reload", func(context.Context, map[string]any) error {
		ran.Store(true)
		return nil
	})
	d.Register("update", func(context.Context, map[string]any) error {
		return errors.New("not supported")
	})
	d.Register("explode", func(context.Context, map[string]any) error {
		panic("boom")
	})

	ctx := context.Background()
	if !d.Dispatch(ctx, protocol.Command{Type: "reload"}) || !ran.Load() {
		t.Error("reload not dispatched")
	}
	if !d.Dispatch(ctx, protocol.Command{Type: "update"}) {
		t.Error("failing handler should still count as handled")
	}
	if !d.Dispatch(ctx, protocol.Command{Type: "explode"}) {
		t.Error("panicking handler should be recovered and count as handled")
	}
	if d.Dispatch(ctx, protocol.Command{Type: "nope"}) {
		t.Error("unknown command reported as handled")
	}
	if got, want := d.Types(), []string{"explode", "reload", "update"}; !slices.Equal(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}
