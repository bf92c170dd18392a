package display

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines persistence operations for displays and their impressions.
type Repository interface {
	// GetByID returns ErrNotFound if the display does not exist.
	GetByID(ctx context.Context, id string) (*Display, error)

	// GetByDeviceIdentifier returns ErrNotFound if no display carries the identifier.
	GetByDeviceIdentifier(ctx context.Context, deviceIdentifier string) (*Display, error)

	// ListByOrganization returns the organisation's displays ordered by nickname.
	ListByOrganization(ctx context.Context, organizationID string) ([]Display, error)

	// Create returns ErrExists on an ID or device identifier collision.
	Create(ctx context.Context, d *Display) error

	// Update returns ErrNotFound if the display does not exist.
	Update(ctx context.Context, d *Display) error

	// UpdateStatus sets status and, when lastHeartbeat is non-nil, the heartbeat timestamp.
	UpdateStatus(ctx context.Context, id string, status Status, lastHeartbeat *time.Time) error

	// Delete returns ErrNotFound if the display does not exist.
	Delete(ctx context.Context, id string) error

	// RecordImpression appends a playback record.
	RecordImpression(ctx context.Context, imp *Impression) error

	// CountImpressions counts a display's impressions since the given time.
	CountImpressions(ctx context.Context, displayID string, since time.Time) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT id, device_identifier, organization_id, nickname, status, credential,
		paired_at, last_heartbeat, current_playlist_id, metadata, created_at, updated_at
	FROM displays`

// GetByID retrieves a display by its ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Display, error) {
	return r.getOne(ctx, selectColumns+" WHERE id = ?", id)
}

// GetByDeviceIdentifier retrieves a display by its hardware-derived identifier.
func (r *SQLiteRepository) GetByDeviceIdentifier(ctx context.Context, deviceIdentifier string) (*Display, error) {
	return r.getOne(ctx, selectColumns+" WHERE device_identifier = ?", deviceIdentifier)
}

// ListByOrganization retrieves all displays owned by an organisation.
func (r *SQLiteRepository) ListByOrganization(ctx context.Context, organizationID string) ([]Display, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" WHERE organization_id = ? ORDER BY nickname", organizationID)
	if err != nil {
		return nil, fmt.Errorf("querying displays: %w", err)
	}
	defer rows.Close()

	displays := []Display{}
	for rows.Next() {
		d, err := scanDisplay(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning display: %w", err)
		}
		displays = append(displays, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating displays: %w", err)
	}
	return displays, nil
}

// Create inserts a new display.
func (r *SQLiteRepository) Create(ctx context.Context, d *Display) error {
	metadataJSON, err := marshalMetadata(d.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO displays (
			id, device_identifier, organization_id, nickname, status, credential,
			paired_at, last_heartbeat, current_playlist_id, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.DeviceIdentifier,
		nullableString(d.OrganizationID),
		d.Nickname,
		string(d.Status),
		nullableString(d.Credential),
		nullableTime(d.PairedAt),
		nullableTime(d.LastHeartbeat),
		nullableString(d.CurrentPlaylistID),
		metadataJSON,
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting display: %w", err)
	}
	return nil
}

// Update overwrites every mutable column of an existing display.
func (r *SQLiteRepository) Update(ctx context.Context, d *Display) error {
	metadataJSON, err := marshalMetadata(d.Metadata)
	if err != nil {
		return err
	}

	d.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE displays SET
			device_identifier = ?, organization_id = ?, nickname = ?, status = ?,
			credential = ?, paired_at = ?, last_heartbeat = ?, current_playlist_id = ?,
			metadata = ?, updated_at = ?
		WHERE id = ?`,
		d.DeviceIdentifier,
		nullableString(d.OrganizationID),
		d.Nickname,
		string(d.Status),
		nullableString(d.Credential),
		nullableTime(d.PairedAt),
		nullableTime(d.LastHeartbeat),
		nullableString(d.CurrentPlaylistID),
		metadataJSON,
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("updating display: %w", err)
	}
	return requireAffected(result)
}

// UpdateStatus is the hot path for connect, disconnect and heartbeat.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, lastHeartbeat *time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var (
		result sql.Result
		err    error
	)
	if lastHeartbeat != nil {
		result, err = r.db.ExecContext(ctx,
			"UPDATE displays SET status = ?, last_heartbeat = ?, updated_at = ? WHERE id = ?",
			string(status), lastHeartbeat.UTC().Format(time.RFC3339), now, id)
	} else {
		result, err = r.db.ExecContext(ctx,
			"UPDATE displays SET status = ?, updated_at = ? WHERE id = ?",
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("updating display status: %w", err)
	}
	return requireAffected(result)
}

// Delete removes a display by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM displays WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting display: %w", err)
	}
	return requireAffected(result)
}

// RecordImpression inserts a content impression row.
func (r *SQLiteRepository) RecordImpression(ctx context.Context, imp *Impression) error {
	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO content_impressions (
			organization_id, display_id, content_id, playlist_id, duration,
			completion_percentage, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		imp.OrganizationID,
		imp.DisplayID,
		imp.ContentID,
		imp.PlaylistID,
		imp.Duration,
		imp.CompletionPercentage,
		imp.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting impression: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		imp.ID = id
	}
	return nil
}

// CountImpressions counts impressions recorded for a display at or after since.
func (r *SQLiteRepository) CountImpressions(ctx context.Context, displayID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM content_impressions WHERE display_id = ? AND created_at >= ?",
		displayID, since.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting impressions: %w", err)
	}
	return count, nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, query string, arg string) (*Display, error) {
	d, err := scanDisplay(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying display: %w", err)
	}
	return d, nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDisplay(scanner rowScanner) (*Display, error) {
	var d Display
	var organizationID, credential, playlistID sql.NullString
	var pairedAt, lastHeartbeat sql.NullString
	var status, metadataJSON, createdAt, updatedAt string

	if err := scanner.Scan(
		&d.ID,
		&d.DeviceIdentifier,
		&organizationID,
		&d.Nickname,
		&status,
		&credential,
		&pairedAt,
		&lastHeartbeat,
		&playlistID,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.OrganizationID = organizationID.String
	d.Credential = credential.String
	d.CurrentPlaylistID = playlistID.String
	d.PairedAt = parseNullableTime(pairedAt)
	d.LastHeartbeat = parseNullableTime(lastHeartbeat)

	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &d.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}

	return &d, nil
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshalling metadata: %w", err)
	}
	return string(b), nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullableTime stores optional timestamps as RFC3339 strings.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
