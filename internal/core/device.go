package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/platform"
)

// DeviceService is the registry surface: enrollment, check-in, and the reads
// the target resolver depends on.
type DeviceService struct {
	db DB
}

func NewDeviceService(db DB) *DeviceService {
	return &DeviceService{db: db}
}

const deviceColumns = `id, alias, model, os_version, push_token, installed_versions, battery_percent, network_type, last_seen, enrolled_at, updated_at`

func scanDevice(row interface{ Scan(dest ...any) error }) (model.Device, error) {
	var d model.Device
	err := row.Scan(&d.ID, &d.Alias, &d.Model, &d.OSVersion, &d.PushToken,
		&d.InstalledVersions, &d.BatteryPercent, &d.NetworkType,
		&d.LastSeen, &d.EnrolledAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	return d, nil
}

// Enroll registers a device. The device supplies its stable ID; an alias is
// generated when the caller does not provide one. Re-enrolling an existing
// ID refreshes the device row instead of failing.
func (s *DeviceService) Enroll(ctx context.Context, d *model.Device) error {
	if d.ID == "" {
		return fmt.Errorf("device_id is required: %w", ErrInvalidArgument)
	}
	if d.Alias == "" {
		d.Alias = platform.NewAlias("dev_")
	}
	if len(d.InstalledVersions) == 0 {
		d.InstalledVersions = json.RawMessage(`{}`)
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO devices (id, alias, model, os_version, push_token, installed_versions, enrolled_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		   model = EXCLUDED.model, os_version = EXCLUDED.os_version,
		   push_token = EXCLUDED.push_token, updated_at = now()`,
		d.ID, d.Alias, d.Model, d.OSVersion, d.PushToken, d.InstalledVersions,
	)
	if err != nil {
		return fmt.Errorf("enroll device %s: %w", d.ID, err)
	}
	return nil
}

func (s *DeviceService) GetByID(ctx context.Context, id string) (*model.Device, error) {
	row := s.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}
	return &d, nil
}

// List returns devices ordered by ID. With onlineOnly set, only devices seen
// within the online window are returned.
func (s *DeviceService) List(ctx context.Context, onlineOnly bool, limit int, cursor string) ([]model.Device, bool, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	args := []any{}
	argIdx := 1

	where := ""
	if onlineOnly {
		where = fmt.Sprintf(` WHERE last_seen IS NOT NULL AND last_seen > now() - $%d::interval`, argIdx)
		args = append(args, model.OnlineWindow.String())
		argIdx++
	}
	if cursor != "" {
		if where == "" {
			where = fmt.Sprintf(` WHERE id > $%d`, argIdx)
		} else {
			where += fmt.Sprintf(` AND id > $%d`, argIdx)
		}
		args = append(args, cursor)
		argIdx++
	}

	query += where + ` ORDER BY id` + fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate devices: %w", err)
	}

	hasMore := len(devices) > limit
	if hasMore {
		devices = devices[:limit]
	}
	return devices, hasMore, nil
}

// ResolveAliases maps aliases to device IDs. Aliases with no matching device
// are returned separately, never silently dropped.
func (s *DeviceService) ResolveAliases(ctx context.Context, aliases []string) (ids []string, unresolved []string, err error) {
	if len(aliases) == 0 {
		return nil, nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT alias, id FROM devices WHERE alias = ANY($1)`, aliases)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve aliases: %w", err)
	}
	defer rows.Close()

	found := make(map[string]string, len(aliases))
	for rows.Next() {
		var alias, id string
		if err := rows.Scan(&alias, &id); err != nil {
			return nil, nil, fmt.Errorf("scan alias row: %w", err)
		}
		found[alias] = id
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate alias rows: %w", err)
	}

	seen := make(map[string]bool, len(aliases))
	for _, alias := range aliases {
		if seen[alias] {
			continue
		}
		seen[alias] = true
		if id, ok := found[alias]; ok {
			ids = append(ids, id)
		} else {
			unresolved = append(unresolved, alias)
		}
	}
	return ids, unresolved, nil
}

// ListByAliases loads the device rows behind a set of aliases. Aliases with
// no matching device come back in unresolved.
func (s *DeviceService) ListByAliases(ctx context.Context, aliases []string) ([]model.Device, []string, error) {
	if len(aliases) == 0 {
		return nil, nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE alias = ANY($1) ORDER BY id`, aliases)
	if err != nil {
		return nil, nil, fmt.Errorf("list devices by alias: %w", err)
	}
	defer rows.Close()

	found := make(map[string]model.Device, len(aliases))
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan device: %w", err)
		}
		found[d.Alias] = d
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate devices: %w", err)
	}

	var devices []model.Device
	var unresolved []string
	seen := make(map[string]bool, len(aliases))
	for _, alias := range aliases {
		if seen[alias] {
			continue
		}
		seen[alias] = true
		if d, ok := found[alias]; ok {
			devices = append(devices, d)
		} else {
			unresolved = append(unresolved, alias)
		}
	}
	return devices, unresolved, nil
}

// Checkin records an agent heartbeat: reachability, posture, and the
// installed version map the manifest check compares against.
func (s *DeviceService) Checkin(ctx context.Context, id string, installedVersions json.RawMessage, batteryPercent *int, networkType *string) error {
	if len(installedVersions) == 0 {
		installedVersions = json.RawMessage(`{}`)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE devices SET installed_versions = $1, battery_percent = $2, network_type = $3,
		 last_seen = now(), updated_at = now() WHERE id = $4`,
		installedVersions, batteryPercent, networkType, id,
	)
	if err != nil {
		return fmt.Errorf("checkin device %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}

// Rename sets a device's alias.
func (s *DeviceService) Rename(ctx context.Context, id, alias string) error {
	if alias == "" {
		return fmt.Errorf("alias is required: %w", ErrInvalidArgument)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE devices SET alias = $1, updated_at = now() WHERE id = $2`, alias, id)
	if err != nil {
		return fmt.Errorf("rename device %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}
