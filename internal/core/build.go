package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/platform"
)

// ArtifactURLer produces a time-limited download URL for a stored artifact
// key. Implemented by the S3 artifact store; nil disables URL generation.
type ArtifactURLer interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// BuildService owns the build lifecycle: draft on upload, promotion to
// current, rollout percentage adjustment, and rollback. Promotion and
// rollback are serialized per package so exactly one build per package is
// current at any time.
type BuildService struct {
	db   DB
	urls ArtifactURLer

	// one mutex per package name; TryLock failure means another promotion
	// or rollback for the same package is in flight
	packageLocks sync.Map
}

func NewBuildService(db DB, urls ArtifactURLer) *BuildService {
	return &BuildService{db: db, urls: urls}
}

// lockPackage acquires the single-writer lock for a package. It returns an
// unlock function, or ErrConflict if another caller holds the lock.
func (s *BuildService) lockPackage(packageName string) (func(), error) {
	mu, _ := s.packageLocks.LoadOrStore(packageName, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	if !m.TryLock() {
		return nil, fmt.Errorf("promotion in flight for package %s: %w", packageName, ErrConflict)
	}
	return m.Unlock, nil
}

const buildColumns = `id, package_name, version_code, version_name, checksum, signer_fingerprint, file_size, artifact_key, rollout_percent, wifi_only, must_install, release_notes, state, created_at, updated_at`

func scanBuild(row interface{ Scan(dest ...any) error }) (model.Build, error) {
	var b model.Build
	err := row.Scan(&b.ID, &b.PackageName, &b.VersionCode, &b.VersionName, &b.Checksum,
		&b.SignerFingerprint, &b.FileSize, &b.ArtifactKey, &b.RolloutPercent,
		&b.WifiOnly, &b.MustInstall, &b.ReleaseNotes, &b.State, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	return b, nil
}

// Create inserts a new build in the draft state. Version codes must be
// strictly increasing per package.
func (s *BuildService) Create(ctx context.Context, b *model.Build) error {
	if b.VersionCode <= 0 {
		return fmt.Errorf("version_code must be positive: %w", ErrInvalidArgument)
	}

	var maxVersion *int64
	err := s.db.QueryRow(ctx,
		"SELECT MAX(version_code) FROM builds WHERE package_name = $1", b.PackageName,
	).Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("check existing versions for %s: %w", b.PackageName, err)
	}
	if maxVersion != nil && b.VersionCode <= *maxVersion {
		return fmt.Errorf("version_code %d not above existing %d for %s: %w",
			b.VersionCode, *maxVersion, b.PackageName, ErrInvalidArgument)
	}

	if b.ID == "" {
		b.ID = platform.NewID()
	}
	b.State = model.BuildStateDraft

	_, err = s.db.Exec(ctx,
		`INSERT INTO builds (id, package_name, version_code, version_name, checksum, signer_fingerprint, file_size, artifact_key, rollout_percent, wifi_only, must_install, release_notes, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())`,
		b.ID, b.PackageName, b.VersionCode, b.VersionName, b.Checksum, b.SignerFingerprint,
		b.FileSize, b.ArtifactKey, b.RolloutPercent, b.WifiOnly, b.MustInstall, b.ReleaseNotes, b.State,
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	return nil
}

func (s *BuildService) GetByID(ctx context.Context, id string) (*model.Build, error) {
	row := s.db.QueryRow(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = $1`, id)
	b, err := scanBuild(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get build %s: %w", id, err)
	}
	return &b, nil
}

// List returns builds, optionally restricted to one package, newest first.
func (s *BuildService) List(ctx context.Context, packageName string, limit int, cursor string) ([]model.Build, bool, error) {
	query := `SELECT ` + buildColumns + ` FROM builds`
	args := []any{}
	argIdx := 1

	if packageName != "" {
		query += fmt.Sprintf(` WHERE package_name = $%d`, argIdx)
		args = append(args, packageName)
		argIdx++
	}
	if cursor != "" {
		if packageName != "" {
			query += fmt.Sprintf(` AND id > $%d`, argIdx)
		} else {
			query += fmt.Sprintf(` WHERE id > $%d`, argIdx)
		}
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var builds []model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate builds: %w", err)
	}

	hasMore := len(builds) > limit
	if hasMore {
		builds = builds[:limit]
	}
	return builds, hasMore, nil
}

// Promote makes the build the current one for its package at the given
// rollout percentage, superseding any previous current build. Returns the
// superseded build's ID for audit, or nil if there was none.
func (s *BuildService) Promote(ctx context.Context, buildID string, rolloutPercent int, wifiOnly, mustInstall bool) (*string, error) {
	if rolloutPercent < 0 || rolloutPercent > 100 {
		return nil, fmt.Errorf("rollout_percent %d outside [0,100]: %w", rolloutPercent, ErrInvalidArgument)
	}

	b, err := s.GetByID(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if b.State != model.BuildStateDraft && b.State != model.BuildStateSuperseded {
		return nil, fmt.Errorf("build %s is %s, promotion requires draft or superseded: %w",
			buildID, b.State, ErrPreconditionFailed)
	}

	unlock, err := s.lockPackage(b.PackageName)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var priorID *string
	err = s.db.QueryRow(ctx,
		`UPDATE builds SET state = $1, updated_at = now()
		 WHERE package_name = $2 AND state = $3 RETURNING id`,
		model.BuildStateSuperseded, b.PackageName, model.BuildStateCurrent,
	).Scan(&priorID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("supersede current build for %s: %w", b.PackageName, err)
	}

	_, err = s.db.Exec(ctx,
		`UPDATE builds SET state = $1, rollout_percent = $2, wifi_only = $3, must_install = $4, updated_at = now()
		 WHERE id = $5`,
		model.BuildStateCurrent, rolloutPercent, wifiOnly, mustInstall, buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("promote build %s: %w", buildID, err)
	}

	return priorID, nil
}

// AdjustRollout changes the rollout percentage of the current build in
// place. Returns the old and new percentages.
func (s *BuildService) AdjustRollout(ctx context.Context, buildID string, newPercent int) (oldPercent, applied int, err error) {
	if newPercent < 0 || newPercent > 100 {
		return 0, 0, fmt.Errorf("rollout_percent %d outside [0,100]: %w", newPercent, ErrInvalidArgument)
	}

	err = s.db.QueryRow(ctx,
		`UPDATE builds AS b SET rollout_percent = $1, updated_at = now()
		 FROM (SELECT id, rollout_percent FROM builds WHERE id = $2 AND state = $3) AS prev
		 WHERE b.id = prev.id
		 RETURNING prev.rollout_percent`,
		newPercent, buildID, model.BuildStateCurrent,
	).Scan(&oldPercent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, fmt.Errorf("build %s is not current: %w", buildID, ErrPreconditionFailed)
		}
		return 0, 0, fmt.Errorf("adjust rollout for build %s: %w", buildID, err)
	}
	return oldPercent, newPercent, nil
}

// RollbackResult describes a completed rollback for audit and for surfacing
// the downgrade warning to the caller.
type RollbackResult struct {
	RolledBack *model.Build `json:"rolled_back"`
	Restored   *model.Build `json:"restored"`
	// DowngradeWarning is set when force_downgrade was not requested and the
	// restored version code is below the rolled-back one. Rollback proceeds
	// regardless; the flag only affects install-time behavior on devices.
	DowngradeWarning bool `json:"downgrade_warning"`
}

// Rollback retires the current build for a package and restores the most
// recently superseded one.
func (s *BuildService) Rollback(ctx context.Context, packageName string, forceDowngrade bool) (*RollbackResult, error) {
	unlock, err := s.lockPackage(packageName)
	if err != nil {
		return nil, err
	}
	defer unlock()

	row := s.db.QueryRow(ctx,
		`SELECT `+buildColumns+` FROM builds WHERE package_name = $1 AND state = $2`,
		packageName, model.BuildStateCurrent,
	)
	current, err := scanBuild(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no current build for package %s: %w", packageName, ErrNotFound)
		}
		return nil, fmt.Errorf("get current build for %s: %w", packageName, err)
	}

	row = s.db.QueryRow(ctx,
		`SELECT `+buildColumns+` FROM builds
		 WHERE package_name = $1 AND state = $2
		 ORDER BY version_code DESC LIMIT 1`,
		packageName, model.BuildStateSuperseded,
	)
	target, err := scanBuild(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("package %s: %w", packageName, ErrNoPriorBuild)
		}
		return nil, fmt.Errorf("find rollback target for %s: %w", packageName, err)
	}

	_, err = s.db.Exec(ctx,
		`UPDATE builds SET state = $1, updated_at = now() WHERE id = $2`,
		model.BuildStateRolledBack, current.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("retire build %s: %w", current.ID, err)
	}

	_, err = s.db.Exec(ctx,
		`UPDATE builds SET state = $1, updated_at = now() WHERE id = $2`,
		model.BuildStateCurrent, target.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("restore build %s: %w", target.ID, err)
	}

	current.State = model.BuildStateRolledBack
	target.State = model.BuildStateCurrent

	return &RollbackResult{
		RolledBack:       &current,
		Restored:         &target,
		DowngradeWarning: !forceDowngrade && target.VersionCode < current.VersionCode,
	}, nil
}

// Manifest decision reasons, surfaced for observability.
const (
	ManifestNoCurrentBuild = "no_current_build"
	ManifestUpToDate       = "up_to_date"
	ManifestNotEligible    = "not_eligible"
	ManifestEligible       = "eligible"
)

// CheckManifest decides whether a device should receive an update for a
// package. A nil manifest means no update (HTTP 304 at the edge). The
// decision reads rollout state but never mutates it; the returned reason is
// for the caller's log line.
func (s *BuildService) CheckManifest(ctx context.Context, deviceID, packageName string, currentVersionCode int64) (*model.Manifest, string, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+buildColumns+` FROM builds WHERE package_name = $1 AND state = $2`,
		packageName, model.BuildStateCurrent,
	)
	b, err := scanBuild(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ManifestNoCurrentBuild, nil
		}
		return nil, "", fmt.Errorf("get current build for %s: %w", packageName, err)
	}

	if currentVersionCode >= b.VersionCode {
		return nil, ManifestUpToDate, nil
	}
	if !platform.Eligible(deviceID, b.RolloutPercent) {
		return nil, ManifestNotEligible, nil
	}

	m := &model.Manifest{
		BuildID:           b.ID,
		PackageName:       b.PackageName,
		VersionCode:       b.VersionCode,
		VersionName:       b.VersionName,
		Checksum:          b.Checksum,
		SignerFingerprint: b.SignerFingerprint,
		FileSize:          b.FileSize,
		WifiOnly:          b.WifiOnly,
		MustInstall:       b.MustInstall,
		RolloutPercent:    b.RolloutPercent,
		ReleaseNotes:      b.ReleaseNotes,
	}
	if s.urls != nil && b.ArtifactKey != "" {
		url, err := s.urls.PresignDownload(ctx, b.ArtifactKey)
		if err != nil {
			return nil, "", fmt.Errorf("presign artifact %s: %w", b.ArtifactKey, err)
		}
		m.DownloadURL = url
	}
	return m, ManifestEligible, nil
}
