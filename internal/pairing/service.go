package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Trivenidigital/Vizora-sub012/internal/auth"
	"github.com/Trivenidigital/Vizora-sub012/internal/display"
)

const (
	// DefaultCodeTTL is how long a pairing code stays valid.
	DefaultCodeTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired requests are removed.
	DefaultSweepInterval = 60 * time.Second

	// DefaultTokenTTL is the validity of a minted device credential.
	DefaultTokenTTL = 365 * 24 * time.Hour
)

// Registry is the subset of the display registry the service needs.
type Registry interface {
	FindByIdentifier(ctx context.Context, deviceIdentifier string) (*display.Display, error)
	Register(ctx context.Context, d *display.Display) error
	Update(ctx context.Context, d *display.Display) error
}

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

// Config configures a Service.
type Config struct {
	// WebURL is the dashboard base used to build pairing links.
	WebURL string

	// DeviceSecret signs device credentials.
	DeviceSecret string

	CodeTTL       time.Duration
	SweepInterval time.Duration
	TokenTTL      time.Duration
}

// Service issues pairing codes and turns completed pairings into device
// credentials.
//
// A request is removed on the happy path only when CheckStatus observes the
// credential, never by Complete, so a device polling while the operator
// completes cannot see its own code vanish.
type Service struct {
	store    Store
	registry Registry
	cfg      Config
	logger   Logger

	now      func() time.Time
	generate func() (string, error)
	renderQR func(string) (string, error)
}

// NewService creates a pairing service.
func NewService(store Store, registry Registry, cfg Config) *Service {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	cfg.WebURL = strings.TrimRight(cfg.WebURL, "/")

	return &Service{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
		generate: generateCode,
		renderQR: renderQR,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// PairingURL returns the dashboard link an operator opens for code.
func (s *Service) PairingURL(code string) string {
	return fmt.Sprintf("%s/dashboard/devices/pair?code=%s", s.cfg.WebURL, code)
}

// RequestCode issues a fresh code for an unpaired device.
func (s *Service) RequestCode(ctx context.Context, deviceIdentifier, nickname string, metadata map[string]any) (*CodeResponse, error) {
	deviceIdentifier = strings.TrimSpace(deviceIdentifier)
	if deviceIdentifier == "" {
		return nil, fmt.Errorf("%w: device identifier is required", ErrInvalidRequest)
	}

	existing, err := s.registry.FindByIdentifier(ctx, deviceIdentifier)
	switch {
	case err == nil && existing.IsPaired():
		return nil, ErrAlreadyPaired
	case err != nil && !errors.Is(err, display.ErrNotFound):
		return nil, fmt.Errorf("looking up device: %w", err)
	}

	if nickname == "" {
		nickname = display.DefaultNickname
	}

	now := s.now()
	req := &Request{
		DeviceIdentifier: deviceIdentifier,
		Nickname:         nickname,
		Metadata:         metadata,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.CodeTTL),
	}

	created := false
	for attempt := 0; attempt <= maxCodeRetries && !created; attempt++ {
		code, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("generating code: %w", err)
		}
		req.Code = code
		req.QRCode = s.qrFor(code)

		created, err = s.store.Create(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("storing pairing request: %w", err)
		}
	}
	if !created {
		s.logger.Error("pairing code space exhausted", "device_identifier", deviceIdentifier)
		return nil, ErrCodeGenerationExhausted
	}

	s.logger.Info("pairing code issued", "code", req.Code, "device_identifier", deviceIdentifier)

	return &CodeResponse{
		Code:             req.Code,
		QRCode:           req.QRCode,
		ExpiresAt:        req.ExpiresAt,
		ExpiresInSeconds: int(s.cfg.CodeTTL / time.Second),
		PairingURL:       s.PairingURL(req.Code),
	}, nil
}

// qrFor renders the pairing link; failure only omits the image.
func (s *Service) qrFor(code string) string {
	qr, err := s.renderQR(s.PairingURL(code))
	if err != nil {
		s.logger.Warn("qr code rendering failed", "code", code, "error", err)
		return ""
	}
	return qr
}

// CheckStatus resolves a polled code against the registry.
//
// Once the device's credential is visible, the request is deleted and the
// paired response returned; only the caller whose delete succeeded gets it.
func (s *Service) CheckStatus(ctx context.Context, code string) (*StatusResponse, error) {
	req, err := s.liveRequest(ctx, code)
	if err != nil {
		return nil, err
	}

	d, err := s.registry.FindByIdentifier(ctx, req.DeviceIdentifier)
	if err != nil && !errors.Is(err, display.ErrNotFound) {
		return nil, fmt.Errorf("looking up device: %w", err)
	}

	if d == nil || !d.IsPaired() {
		expiresAt := req.ExpiresAt
		return &StatusResponse{Status: StatusPending, ExpiresAt: &expiresAt}, nil
	}

	removed, err := s.store.Delete(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("consuming pairing request: %w", err)
	}
	if !removed {
		return nil, ErrCodeNotFound
	}

	s.logger.Info("pairing observed by device", "code", req.Code, "display_id", d.ID)

	return &StatusResponse{
		Status:         StatusPaired,
		DeviceToken:    d.Credential,
		DisplayID:      d.ID,
		OrganizationID: d.OrganizationID,
	}, nil
}

// Complete binds the device behind code to an organisation and issues its
// credential. The registry write has finished when Complete returns.
func (s *Service) Complete(ctx context.Context, organizationID, userID, code, nickname string) (*CompleteResponse, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization is required", ErrInvalidRequest)
	}

	req, err := s.liveRequest(ctx, code)
	if err != nil {
		return nil, err
	}

	d, err := s.registry.FindByIdentifier(ctx, req.DeviceIdentifier)
	isNew := false
	switch {
	case errors.Is(err, display.ErrNotFound):
		isNew = true
		d = &display.Display{
			ID:               uuid.NewString(),
			DeviceIdentifier: req.DeviceIdentifier,
			Metadata:         req.Metadata,
		}
	case err != nil:
		return nil, fmt.Errorf("looking up device: %w", err)
	}

	switch {
	case nickname != "":
		d.Nickname = nickname
	case req.Nickname != "":
		d.Nickname = req.Nickname
	default:
		d.Nickname = display.DefaultNickname
	}

	token, err := auth.GenerateDeviceToken(auth.DeviceIdentity{
		DisplayID:        d.ID,
		DeviceIdentifier: d.DeviceIdentifier,
		OrganizationID:   organizationID,
	}, s.cfg.DeviceSecret, s.cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("minting device credential: %w", err)
	}

	now := s.now()
	d.OrganizationID = organizationID
	d.Credential = token
	d.PairedAt = &now
	d.Status = display.StatusPairing

	if isNew {
		err = s.registry.Register(ctx, d)
	} else {
		err = s.registry.Update(ctx, d)
	}
	if err != nil {
		return nil, fmt.Errorf("saving paired display: %w", err)
	}

	s.logger.Info("pairing completed",
		"code", req.Code,
		"display_id", d.ID,
		"organization_id", organizationID,
		"user_id", userID,
	)

	return &CompleteResponse{
		Success: true,
		Display: DisplaySummary{
			ID:               d.ID,
			Nickname:         d.Nickname,
			DeviceIdentifier: d.DeviceIdentifier,
			Status:           d.Status,
		},
	}, nil
}

// ActivePairings lists unexpired requests. Codes are not bound to an
// organisation until completion, so every live code is visible to every
// authenticated operator; device identifiers are withheld.
func (s *Service) ActivePairings(ctx context.Context, _ string) ([]Summary, error) {
	reqs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pairing requests: %w", err)
	}

	now := s.now()
	out := make([]Summary, 0, len(reqs))
	for i := range reqs {
		if reqs[i].Expired(now) {
			continue
		}
		out = append(out, Summary{
			Code:      reqs[i].Code,
			Nickname:  reqs[i].Nickname,
			CreatedAt: reqs[i].CreatedAt,
			ExpiresAt: reqs[i].ExpiresAt,
		})
	}
	return out, nil
}

// Sweep removes expired requests once.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.Sweep(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping pairing requests: %w", err)
	}
	if n > 0 {
		s.logger.Debug("expired pairing codes removed", "count", n)
	}
	return n, nil
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("pairing sweep failed", "error", err)
			}
		}
	}
}

// liveRequest loads code and enforces expiry, deleting an expired request.
func (s *Service) liveRequest(ctx context.Context, code string) (*Request, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !ValidCode(code) {
		return nil, ErrCodeNotFound
	}

	req, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	if req.Expired(s.now()) {
		if _, err := s.store.Delete(ctx, code); err != nil {
			s.logger.Warn("failed to delete expired pairing code", "code", code, "error", err)
		}
		return nil, ErrCodeExpired
	}
	return req, nil
}
