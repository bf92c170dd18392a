package devicelink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

const (
	initialBackoff  = time.Second
	maxBackoff      = 5 * time.Second
	requestTimeout  = 10 * time.Second
	writeTimeout    = 10 * time.Second
	handshakeLimit  = 15 * time.Second
	defaultInterval = time.Duration(protocol.DefaultHeartbeatIntervalMs) * time.Millisecond
)

// Logger is the logging interface used by the link.
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

// MetricsSource samples resource usage for heartbeats.
type MetricsSource interface {
	Sample(ctx context.Context) (protocol.Metrics, error)
}

// Options configures a Link.
type Options struct {
	// URL is the realtime endpoint, e.g. ws://fleet.example.com/api/v1/realtime.
	URL               string
	Credentials       *CredentialStore
	Dispatcher        *Dispatcher
	Metrics           MetricsSource // optional
	HeartbeatInterval time.Duration
	Logger            Logger
}

// Link maintains the realtime connection to fleetd.
type Link struct {
	url        *url.URL
	creds      *CredentialStore
	dispatcher *Dispatcher
	metrics    MetricsSource
	logger     Logger
	dialer     *websocket.Dialer

	initialBackoff time.Duration
	maxBackoff     time.Duration

	nextID     atomic.Uint64
	credSignal chan struct{}
	intervalCh chan time.Duration

	mu              sync.Mutex
	credential      *Credential
	sess            *session
	interval        time.Duration
	current         *protocol.CurrentContent
	pairingRequired func()
	onConfig        func(protocol.ConfigEvent)

	handlers sync.WaitGroup
}

// session is one established websocket.
type session struct {
	conn    *websocket.Conn
	done    chan struct{}
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.Frame
}

// New creates a link. The stored credential, if any, is loaded eagerly.
func New(opts Options) (*Link, error) {
	if opts.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("realtime url must be ws:// or wss://, got %q", opts.URL)
	}

	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	cred, err := opts.Credentials.Load()
	if err != nil {
		logger.Warn("ignoring unreadable credential", "error", err)
	}

	return &Link{
		url:            u,
		creds:          opts.Credentials,
		dispatcher:     opts.Dispatcher,
		metrics:        opts.Metrics,
		logger:         logger,
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeLimit, Proxy: http.ProxyFromEnvironment},
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		credSignal:     make(chan struct{}, 1),
		intervalCh:     make(chan time.Duration, 1),
		credential:     cred,
		interval:       interval,
	}, nil
}

// OnPairingRequired registers fn to run whenever the credential is dropped.
func (l *Link) OnPairingRequired(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pairingRequired = fn
}

// OnConfig registers fn to receive the server config event.
func (l *Link) OnConfig(fn func(protocol.ConfigEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConfig = fn
}

// Credential returns the credential in use, or nil while unpaired.
func (l *Link) Credential() *Credential {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.credential == nil {
		return nil
	}
	c := *l.credential
	return &c
}

// Connected reports whether a websocket is currently established.
func (l *Link) Connected() bool {
	return l.currentSession() != nil
}

// HeartbeatInterval returns the active heartbeat interval.
func (l *Link) HeartbeatInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// SetHeartbeatInterval changes the interval; a running heartbeat picks it up
// on its next tick.
func (l *Link) SetHeartbeatInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.interval = d
	l.mu.Unlock()

	select {
	case l.intervalCh <- d:
	default:
		select {
		case <-l.intervalCh:
		default:
		}
		l.intervalCh <- d
	}
}

// SetCurrentContent records what is on screen for the next heartbeat.
func (l *Link) SetCurrentContent(cc *protocol.CurrentContent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = cc
}

// Connect stores cred and (re)connects with it.
func (l *Link) Connect(cred *Credential) error {
	if cred == nil || cred.DeviceToken == "" {
		return fmt.Errorf("credential has no device token")
	}
	if err := l.creds.Save(cred); err != nil {
		return err
	}

	l.mu.Lock()
	l.credential = cred
	sess := l.sess
	l.mu.Unlock()

	if sess != nil {
		sess.conn.Close()
	}
	select {
	case l.credSignal <- struct{}{}:
	default:
	}
	return nil
}

// Unpair drops the credential, closes the link and fires OnPairingRequired.
func (l *Link) Unpair() {
	if err := l.creds.Delete(); err != nil {
		l.logger.Error("failed to delete credential", "error", err)
	}

	l.mu.Lock()
	l.credential = nil
	sess := l.sess
	fn := l.pairingRequired
	l.mu.Unlock()

	if sess != nil {
		sess.conn.Close()
	}
	if fn != nil {
		fn()
	}
}

// Run keeps the link up until ctx is cancelled. While no credential is
// stored it waits for Connect.
func (l *Link) Run(ctx context.Context) error {
	defer l.handlers.Wait()

	backoff := l.initialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		cred := l.Credential()
		if cred == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-l.credSignal:
				backoff = l.initialBackoff
				continue
			}
		}

		connected, err := l.runSession(ctx, cred)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			l.logger.Warn("credential rejected, pairing required")
			l.dropCredential(cred)
			backoff = l.initialBackoff
			continue
		}
		if err != nil {
			l.logger.Warn("realtime link down", "error", err, "retry_in", backoff)
		}
		if connected {
			backoff = l.initialBackoff
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.credSignal:
			backoff = l.initialBackoff
			continue
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// dropCredential clears cred unless Connect already replaced it.
func (l *Link) dropCredential(cred *Credential) {
	l.mu.Lock()
	stale := l.credential != nil && l.credential.DeviceToken == cred.DeviceToken
	l.mu.Unlock()
	if stale {
		l.Unpair()
	}
}

// runSession dials with cred and serves the connection until it drops.
func (l *Link) runSession(ctx context.Context, cred *Credential) (bool, error) {
	u := *l.url
	q := u.Query()
	q.Set("token", cred.DeviceToken)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.DeviceToken)

	conn, resp, err := l.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, ErrUnauthorized
		}
		return false, fmt.Errorf("dialing realtime: %w", err)
	}

	sess := &session{
		conn:    conn,
		done:    make(chan struct{}),
		pending: make(map[string]chan *protocol.Frame),
	}
	l.mu.Lock()
	l.sess = sess
	l.mu.Unlock()
	l.logger.Info("realtime link connected", "device", cred.DeviceIdentifier)

	sessCtx, cancel := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Go(func() { l.heartbeatLoop(sessCtx) })

	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	err = l.readLoop(sessCtx, sess)

	cancel()
	l.mu.Lock()
	if l.sess == sess {
		l.sess = nil
	}
	l.mu.Unlock()
	close(sess.done)
	hb.Wait()
	l.logger.Info("realtime link disconnected")

	return true, err
}

func (l *Link) currentSession() *session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess
}

func (l *Link) readLoop(ctx context.Context, sess *session) error {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			l.logger.Debug("discarding malformed frame", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameTypeResponse:
			sess.resolve(frame)
		case protocol.FrameTypeEvent:
			if err := l.handleEvent(ctx, frame); err != nil {
				return err
			}
		}
	}
}

func (l *Link) handleEvent(ctx context.Context, frame *protocol.Frame) error {
	switch frame.Event {
	case protocol.EventCommand:
		var cmd protocol.Command
		if err := frame.DecodePayload(&cmd); err != nil {
			l.logger.Warn("discarding malformed command", "error", err)
			return nil
		}
		l.dispatch(ctx, cmd)

	case protocol.EventConfig:
		var cfg protocol.ConfigEvent
		if err := frame.DecodePayload(&cfg); err != nil {
			l.logger.Warn("discarding malformed config", "error", err)
			return nil
		}
		if cfg.HeartbeatInterval > 0 {
			l.SetHeartbeatInterval(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
		}
		l.mu.Lock()
		fn := l.onConfig
		l.mu.Unlock()
		if fn != nil {
			fn(cfg)
		}

	case protocol.EventError:
		var ev protocol.ErrorEvent
		if err := frame.DecodePayload(&ev); err != nil {
			return nil
		}
		l.logger.Warn("server error event", "code", ev.Code, "message", ev.Message)
		if isAuthFailure(ev) {
			return ErrUnauthorized
		}
	}
	return nil
}

func isAuthFailure(ev protocol.ErrorEvent) bool {
	if ev.Code == protocol.ErrCodeUnauthorized {
		return true
	}
	msg := strings.ToLower(ev.Message)
	return strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid token")
}

// dispatch runs a command off the read loop so slow handlers never stall it.
func (l *Link) dispatch(ctx context.Context, cmd protocol.Command) {
	l.handlers.Go(func() { l.dispatcher.Dispatch(ctx, cmd) })
}

func (l *Link) heartbeatLoop(ctx context.Context) {
	if err := l.SendHeartbeat(ctx); err != nil {
		l.logger.Debug("heartbeat failed", "error", err)
	}

	ticker := time.NewTicker(l.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-l.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			if err := l.SendHeartbeat(ctx); err != nil {
				l.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

// SendHeartbeat sends one heartbeat and dispatches the commands in its ack.
// It is a no-op while disconnected.
func (l *Link) SendHeartbeat(ctx context.Context) error {
	sess := l.currentSession()
	if sess == nil {
		return nil
	}

	hb := protocol.Heartbeat{
		Timestamp: time.Now().UTC(),
		Status:    "online",
	}
	if l.metrics != nil {
		m, err := l.metrics.Sample(ctx)
		if err != nil {
			l.logger.Debug("partial metrics sample", "error", err)
		}
		hb.Metrics = m
	}
	l.mu.Lock()
	hb.CurrentContent = l.current
	l.mu.Unlock()

	frame, err := l.request(ctx, sess, protocol.MethodHeartbeat, hb)
	if err != nil {
		return err
	}

	var ack protocol.HeartbeatAck
	if err := frame.DecodePayload(&ack); err != nil {
		return fmt.Errorf("decoding heartbeat ack: %w", err)
	}
	for _, cmd := range ack.Commands {
		l.dispatch(ctx, cmd)
	}
	return nil
}

// LogImpression reports a playback. Dropped silently while disconnected.
func (l *Link) LogImpression(imp protocol.Impression) {
	l.notify(protocol.MethodContentImpression, imp)
}

// LogError reports a content failure. Dropped silently while disconnected.
func (l *Link) LogError(ce protocol.ContentError) {
	if ce.Timestamp.IsZero() {
		ce.Timestamp = time.Now().UTC()
	}
	l.notify(protocol.MethodContentError, ce)
}

func (l *Link) notify(method string, params any) {
	sess := l.currentSession()
	if sess == nil {
		return
	}
	req, err := protocol.NewRequest(l.newID(), method, params)
	if err != nil {
		l.logger.Debug("encoding notification", "method", method, "error", err)
		return
	}
	if err := sess.write(req); err != nil {
		l.logger.Debug("sending notification", "method", method, "error", err)
	}
}

// request sends a request frame and waits for its response.
func (l *Link) request(ctx context.Context, sess *session, method string, params any) (*protocol.Frame, error) {
	id := l.newID()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", method, err)
	}

	ch := make(chan *protocol.Frame, 1)
	sess.mu.Lock()
	sess.pending[id] = ch
	sess.mu.Unlock()
	defer func() {
		sess.mu.Lock()
		delete(sess.pending, id)
		sess.mu.Unlock()
	}()

	if err := sess.write(req); err != nil {
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case frame := <-ch:
		if !frame.OK {
			if frame.Error != nil {
				return nil, fmt.Errorf("%s rejected: %s: %s", method, frame.Error.Code, frame.Error.Message)
			}
			return nil, fmt.Errorf("%s rejected", method)
		}
		return frame, nil
	case <-sess.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%s: no response within %s", method, requestTimeout)
	}
}

func (l *Link) newID() string {
	return strconv.FormatUint(l.nextID.Add(1), 10)
}

func (s *session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *session) resolve(frame *protocol.Frame) {
	s.mu.Lock()
	ch, ok := s.pending[frame.ID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- frame:
	default:
	}
}
