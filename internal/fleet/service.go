package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/display"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/influxdb"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/mqtt"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// Logger defines the logging interface used by the Service.
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

// Registry is the subset of the display registry the fleet service writes to.
type Registry interface {
	Get(ctx context.Context, id string) (*display.Display, error)
	SetStatus(ctx context.Context, id string, status display.Status) error
	RecordHeartbeat(ctx context.Context, id string, at time.Time) error
	RecordImpression(ctx context.Context, imp *display.Impression) error
}

// MetricsWriter receives time series points. *influxdb.Client implements it.
type MetricsWriter interface {
	WriteHeartbeat(displayID, organizationID string, m influxdb.HeartbeatMetrics, at time.Time)
	WriteImpression(displayID, organizationID, contentID string, durationSec int, at time.Time)
	WriteContentError(displayID, organizationID, contentID, errorType string, at time.Time)
}

// Publisher sends JSON to a message bus topic. *mqtt.Client implements it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// StatusListener is told about every connect and disconnect.
type StatusListener func(organizationID string, ev protocol.StatusEvent)

// Deliverer pushes a command to a display over its live connection and
// reports whether the display was connected.
type Deliverer func(displayID string, cmd protocol.Command) bool

// Identity names a connected display.
type Identity struct {
	DisplayID      string
	OrganizationID string
}

// Service processes everything a connected display reports and routes
// commands to it.
type Service struct {
	store    Store
	registry Registry
	interval time.Duration
	logger   Logger
	now      func() time.Time

	mu        sync.RWMutex
	metrics   MetricsWriter
	publisher Publisher
	topics    mqtt.Topics
	listeners []StatusListener
	deliver   Deliverer
}

// NewService creates a fleet service. heartbeatInterval is advertised to
// displays in every heartbeat ack.
func NewService(store Store, registry Registry, heartbeatInterval time.Duration) *Service {
	if heartbeatInterval <= 0 {
		heartbeatInterval = protocol.DefaultHeartbeatIntervalMs * time.Millisecond
	}
	return &Service{
		store:    store,
		registry: registry,
		interval: heartbeatInterval,
		logger:   noopLogger{},
		now:      time.Now,
		topics:   mqtt.NewTopics(""),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetricsWriter enables time series output.
func (s *Service) SetMetricsWriter(w MetricsWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = w
}

// SetPublisher enables status, heartbeat and event publishing on the bus.
func (s *Service) SetPublisher(p Publisher, topics mqtt.Topics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
	s.topics = topics
}

// OnStatus registers a listener for connect and disconnect transitions.
func (s *Service) OnStatus(l StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SetDeliverer installs the live push path used by SendCommand.
func (s *Service) SetDeliverer(d Deliverer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = d
}

// HeartbeatInterval is the interval advertised to displays.
func (s *Service) HeartbeatInterval() time.Duration {
	return s.interval
}

// Connected marks the display online after its realtime link authenticated.
func (s *Service) Connected(ctx context.Context, id Identity, connectionID string) error {
	now := s.now()
	err := s.store.SetStatus(ctx, id.DisplayID, StatusRecord{
		Status:         StatusOnline,
		LastHeartbeat:  now,
		ConnectionID:   connectionID,
		OrganizationID: id.OrganizationID,
	})
	if err != nil {
		return fmt.Errorf("marking %s online: %w", id.DisplayID, err)
	}
	s.setRegistryStatus(ctx, id.DisplayID, display.StatusOnline)
	s.emitStatus(id, StatusOnline, now)
	return nil
}

// Disconnected marks the display offline. The last heartbeat time is kept.
func (s *Service) Disconnected(ctx context.Context, id Identity) error {
	now := s.now()
	rec := StatusRecord{OrganizationID: id.OrganizationID}
	if prev, err := s.store.GetStatus(ctx, id.DisplayID); err == nil {
		rec = *prev
	}
	rec.Status = StatusOffline
	rec.ConnectionID = ""

	if err := s.store.SetStatus(ctx, id.DisplayID, rec); err != nil {
		return fmt.Errorf("marking %s offline: %w", id.DisplayID, err)
	}
	s.setRegistryStatus(ctx, id.DisplayID, display.StatusOffline)
	s.emitStatus(id, StatusOffline, now)
	return nil
}

// ProcessHeartbeat records a heartbeat and returns the ack, draining any
// queued commands into it.
func (s *Service) ProcessHeartbeat(ctx context.Context, id Identity, hb protocol.Heartbeat) (*protocol.HeartbeatAck, error) {
	now := s.now()
	at := hb.Timestamp
	if at.IsZero() {
		at = now
	}

	metrics := hb.Metrics
	err := s.store.SetStatus(ctx, id.DisplayID, StatusRecord{
		Status:         StatusOnline,
		LastHeartbeat:  now,
		OrganizationID: id.OrganizationID,
		ConnectionID:   s.connectionID(ctx, id.DisplayID),
		Metrics:        &metrics,
		CurrentContent: hb.CurrentContent,
	})
	if err != nil {
		return nil, fmt.Errorf("storing status: %w", err)
	}

	rec := HeartbeatRecord{
		DisplayID:      id.DisplayID,
		Timestamp:      at,
		Metrics:        hb.Metrics,
		CurrentContent: hb.CurrentContent,
	}
	if err := s.store.SaveHeartbeat(ctx, id.DisplayID, rec); err != nil {
		s.logger.Warn("storing heartbeat failed", "display_id", id.DisplayID, "error", err)
	}

	if err := s.registry.RecordHeartbeat(ctx, id.DisplayID, now); err != nil && !errors.Is(err, display.ErrNotFound) {
		s.logger.Warn("recording heartbeat in registry failed", "display_id", id.DisplayID, "error", err)
	}

	metricsWriter, publisher, topics := s.sinks()
	if metricsWriter != nil {
		metricsWriter.WriteHeartbeat(id.DisplayID, id.OrganizationID, influxdb.HeartbeatMetrics{
			CPUUsage:    hb.Metrics.CPUUsage,
			MemoryUsage: hb.Metrics.MemoryUsage,
			StorageUsed: hb.Metrics.StorageUsed,
		}, at)
	}
	if publisher != nil {
		if err := publisher.PublishJSON(topics.DisplayHeartbeat(id.DisplayID), rec, false); err != nil {
			s.logger.Debug("publishing heartbeat failed", "display_id", id.DisplayID, "error", err)
		}
	}

	cmds, err := s.store.DrainCommands(ctx, id.DisplayID)
	if err != nil {
		return nil, fmt.Errorf("draining commands: %w", err)
	}

	return &protocol.HeartbeatAck{
		Success:         true,
		NextHeartbeatIn: int(s.interval / time.Millisecond),
		Commands:        cmds,
		Timestamp:       now,
	}, nil
}

// LogImpression counts a playback and persists it when the display is
// registered. Store and metrics failures are logged, not returned.
func (s *Service) LogImpression(ctx context.Context, id Identity, imp protocol.Impression) error {
	if strings.TrimSpace(imp.ContentID) == "" {
		return fmt.Errorf("%w: contentId is required", ErrInvalid)
	}
	now := s.now()

	if _, err := s.store.IncrImpressions(ctx, id.DisplayID, now); err != nil {
		s.logger.Warn("counting impression failed", "display_id", id.DisplayID, "error", err)
	}

	err := s.registry.RecordImpression(ctx, &display.Impression{
		DisplayID:            id.DisplayID,
		ContentID:            imp.ContentID,
		PlaylistID:           imp.PlaylistID,
		Duration:             imp.Duration,
		CompletionPercentage: imp.CompletionPercentage,
	})
	switch {
	case errors.Is(err, display.ErrNotFound):
		s.logger.Debug("impression from unregistered display", "display_id", id.DisplayID)
	case err != nil:
		s.logger.Warn("persisting impression failed", "display_id", id.DisplayID, "error", err)
	}

	metricsWriter, publisher, topics := s.sinks()
	if metricsWriter != nil {
		duration := 0
		if imp.Duration != nil {
			duration = *imp.Duration
		}
		metricsWriter.WriteImpression(id.DisplayID, id.OrganizationID, imp.ContentID, duration, now)
	}
	if publisher != nil {
		event := map[string]any{"type": protocol.MethodContentImpression, "impression": imp, "timestamp": now}
		if err := publisher.PublishJSON(topics.DisplayEvent(id.DisplayID), event, false); err != nil {
			s.logger.Debug("publishing impression failed", "display_id", id.DisplayID, "error", err)
		}
	}
	return nil
}

// LogError appends a content error to the display's recent error ring.
func (s *Service) LogError(ctx context.Context, id Identity, ce protocol.ContentError) error {
	now := s.now()
	rec := ErrorRecord{
		DisplayID:    id.DisplayID,
		ContentID:    ce.ContentID,
		ErrorType:    ce.ErrorType,
		ErrorMessage: ce.ErrorMessage,
		Timestamp:    now,
	}
	if err := s.store.AppendError(ctx, id.DisplayID, rec); err != nil {
		return fmt.Errorf("storing content error: %w", err)
	}

	metricsWriter, publisher, topics := s.sinks()
	if metricsWriter != nil {
		metricsWriter.WriteContentError(id.DisplayID, id.OrganizationID, ce.ContentID, ce.ErrorType, now)
	}
	if publisher != nil {
		event := map[string]any{"type": protocol.MethodContentError, "error": rec}
		if err := publisher.PublishJSON(topics.DisplayEvent(id.DisplayID), event, false); err != nil {
			s.logger.Debug("publishing content error failed", "display_id", id.DisplayID, "error", err)
		}
	}
	return nil
}

// SendCommand pushes cmd over the live connection when the display is
// connected, and otherwise queues it for the next heartbeat. It reports
// whether the command was delivered live.
func (s *Service) SendCommand(ctx context.Context, displayID string, cmd protocol.Command) (bool, error) {
	if strings.TrimSpace(cmd.Type) == "" {
		return false, fmt.Errorf("%w: command type is required", ErrInvalid)
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = s.now()
	}

	s.mu.RLock()
	deliver := s.deliver
	s.mu.RUnlock()

	if deliver != nil && deliver(displayID, cmd) {
		s.logger.Info("command delivered", "display_id", displayID, "type", cmd.Type)
		return true, nil
	}

	if err := s.store.PushCommand(ctx, displayID, cmd); err != nil {
		return false, fmt.Errorf("queueing command: %w", err)
	}
	s.logger.Info("command queued", "display_id", displayID, "type", cmd.Type)
	return false, nil
}

// DeviceStatus derives online/offline from the latest heartbeat: online
// when it is younger than OnlineWindow. Store failures yield StatusUnknown.
func (s *Service) DeviceStatus(ctx context.Context, displayID string) *DeviceStatus {
	rec, err := s.store.LatestHeartbeat(ctx, displayID)
	if errors.Is(err, ErrNotFound) {
		return &DeviceStatus{Status: StatusOffline}
	}
	if err != nil {
		return &DeviceStatus{Status: StatusUnknown, Error: err.Error()}
	}

	status := StatusOffline
	if s.now().Sub(rec.Timestamp) < OnlineWindow {
		status = StatusOnline
	}
	lastSeen := rec.Timestamp
	metrics := rec.Metrics
	return &DeviceStatus{
		Status:         status,
		LastSeen:       &lastSeen,
		Metrics:        &metrics,
		CurrentContent: rec.CurrentContent,
	}
}

// DeviceStats returns today's impression count and the most recent errors.
func (s *Service) DeviceStats(ctx context.Context, displayID string) (*DeviceStats, error) {
	n, err := s.store.Impressions(ctx, displayID, s.now())
	if err != nil {
		return nil, err
	}
	errs, err := s.store.RecentErrors(ctx, displayID)
	if err != nil {
		return nil, err
	}

	recent := errs
	if len(recent) > recentErrorsShown {
		recent = recent[len(recent)-recentErrorsShown:]
	}
	return &DeviceStats{
		Impressions:  n,
		Errors:       len(errs),
		RecentErrors: recent,
	}, nil
}

func (s *Service) connectionID(ctx context.Context, displayID string) string {
	prev, err := s.store.GetStatus(ctx, displayID)
	if err != nil {
		return ""
	}
	return prev.ConnectionID
}

func (s *Service) setRegistryStatus(ctx context.Context, displayID string, status display.Status) {
	err := s.registry.SetStatus(ctx, displayID, status)
	if err != nil && !errors.Is(err, display.ErrNotFound) {
		s.logger.Warn("updating registry status failed", "display_id", displayID, "status", status, "error", err)
	}
}

func (s *Service) emitStatus(id Identity, status string, at time.Time) {
	ev := protocol.StatusEvent{DeviceID: id.DisplayID, Status: status, Timestamp: at}

	s.mu.RLock()
	listeners := make([]StatusListener, len(s.listeners))
	copy(listeners, s.listeners)
	publisher, topics := s.publisher, s.topics
	s.mu.RUnlock()

	for _, l := range listeners {
		l(id.OrganizationID, ev)
	}
	if publisher != nil {
		if err := publisher.PublishJSON(topics.DisplayStatus(id.DisplayID), ev, true); err != nil {
			s.logger.Debug("publishing status failed", "display_id", id.DisplayID, "error", err)
		}
	}
	s.logger.Info("display status changed", "display_id", id.DisplayID, "status", status)
}

func (s *Service) sinks() (MetricsWriter, Publisher, mqtt.Topics) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics, s.publisher, s.topics
}
