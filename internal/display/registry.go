package display

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the durable record of paired displays.
//
// Unlike a read-mostly device catalogue, the registry is deliberately
// uncached: pairing polls must observe a credential the moment Complete
// has written it, so every read goes to the repository.
//
// All public methods are safe for concurrent use.
type Registry struct {
	repo   Repository
	logger Logger
	now    func() time.Time
}

// NewRegistry creates a registry backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Get retrieves a display by ID.
func (r *Registry) Get(ctx context.Context, id string) (*Display, error) {
	return r.repo.GetByID(ctx, id)
}

// FindByIdentifier retrieves a display by its device identifier.
func (r *Registry) FindByIdentifier(ctx context.Context, deviceIdentifier string) (*Display, error) {
	return r.repo.GetByDeviceIdentifier(ctx, deviceIdentifier)
}

// List returns the displays owned by an organisation.
func (r *Registry) List(ctx context.Context, organizationID string) ([]Display, error) {
	return r.repo.ListByOrganization(ctx, organizationID)
}

// Register validates and persists a new display, assigning an ID if unset.
func (r *Registry) Register(ctx context.Context, d *Display) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Nickname == "" {
		d.Nickname = DefaultNickname
	}
	if d.Status == "" {
		d.Status = StatusOffline
	}
	if err := d.Validate(); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, d); err != nil {
		return fmt.Errorf("creating display: %w", err)
	}

	r.logger.Info("display registered",
		"display_id", d.ID,
		"device_identifier", d.DeviceIdentifier,
		"organization_id", d.OrganizationID,
	)
	return nil
}

// Update validates and persists changes to an existing display.
// The write has completed when Update returns.
func (r *Registry) Update(ctx context.Context, d *Display) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, d); err != nil {
		return fmt.Errorf("updating display: %w", err)
	}
	r.logger.Debug("display updated", "display_id", d.ID, "status", d.Status)
	return nil
}

// SetStatus changes a display's status without touching its heartbeat.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	if err := r.repo.UpdateStatus(ctx, id, status, nil); err != nil {
		return fmt.Errorf("setting display status: %w", err)
	}
	r.logger.Debug("display status changed", "display_id", id, "status", status)
	return nil
}

// RecordHeartbeat marks a display online and stamps its last heartbeat.
func (r *Registry) RecordHeartbeat(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = r.now()
	}
	if err := r.repo.UpdateStatus(ctx, id, StatusOnline, &at); err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	return nil
}

// Delete removes a display.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting display: %w", err)
	}
	r.logger.Info("display deleted", "display_id", id)
	return nil
}

// RecordImpression stores an impression for an existing display. The
// organisation is taken from the display record. Returns ErrNotFound when
// the display is unknown.
func (r *Registry) RecordImpression(ctx context.Context, imp *Impression) error {
	d, err := r.repo.GetByID(ctx, imp.DisplayID)
	if err != nil {
		return err
	}
	if imp.ContentID == "" {
		return fmt.Errorf("%w: content id is required", ErrInvalid)
	}
	imp.OrganizationID = d.OrganizationID
	if err := r.repo.RecordImpression(ctx, imp); err != nil {
		return fmt.Errorf("recording impression: %w", err)
	}
	return nil
}

// ImpressionsSince counts a display's impressions at or after since.
func (r *Registry) ImpressionsSince(ctx context.Context, displayID string, since time.Time) (int, error) {
	return r.repo.CountImpressions(ctx, displayID, since)
}
