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

// ExecutionService persists executions, their per-device result rows, and
// the device status reports the poll loop consumes. All result transitions
// go through conditional updates so a terminal status is never overwritten.
type ExecutionService struct {
	db DB
}

func NewExecutionService(db DB) *ExecutionService {
	return &ExecutionService{db: db}
}

const executionColumns = `id, mode, target, payload, dry_run, status, total_targets, sent_count, acked_count, error_count, created_by, created_at, finished_at`

func scanExecution(row interface{ Scan(dest ...any) error }) (model.Execution, error) {
	var e model.Execution
	var target json.RawMessage
	err := row.Scan(&e.ID, &e.Mode, &target, &e.Payload, &e.DryRun, &e.Status,
		&e.TotalTargets, &e.SentCount, &e.AckedCount, &e.ErrorCount,
		&e.CreatedBy, &e.CreatedAt, &e.FinishedAt)
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(target, &e.Target); err != nil {
		return e, fmt.Errorf("decode target spec: %w", err)
	}
	return e, nil
}

func (s *ExecutionService) Create(ctx context.Context, e *model.Execution) error {
	if e.ID == "" {
		e.ID = platform.NewID()
	}
	if e.Status == "" {
		e.Status = model.ExecStatusPending
	}

	target, err := json.Marshal(e.Target)
	if err != nil {
		return fmt.Errorf("encode target spec: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO executions (id, mode, target, payload, dry_run, status, total_targets, sent_count, acked_count, error_count, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, $8, now())`,
		e.ID, e.Mode, target, e.Payload, e.DryRun, e.Status, e.TotalTargets, e.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *ExecutionService) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return &e, nil
}

func (s *ExecutionService) List(ctx context.Context, limit int, cursor string) ([]model.Execution, bool, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	args := []any{}
	argIdx := 1

	if cursor != "" {
		query += fmt.Sprintf(` WHERE id > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id` + fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate executions: %w", err)
	}

	hasMore := len(executions) > limit
	if hasMore {
		executions = executions[:limit]
	}
	return executions, hasMore, nil
}

// SetStatus moves the execution's lifecycle state. Terminal states also
// stamp finished_at.
func (s *ExecutionService) SetStatus(ctx context.Context, id, status string) error {
	var err error
	if status == model.ExecStatusCompleted || status == model.ExecStatusCancelled {
		_, err = s.db.Exec(ctx,
			`UPDATE executions SET status = $1, finished_at = now() WHERE id = $2`, status, id)
	} else {
		_, err = s.db.Exec(ctx,
			`UPDATE executions SET status = $1 WHERE id = $2`, status, id)
	}
	if err != nil {
		return fmt.Errorf("set execution %s status to %s: %w", id, status, err)
	}
	return nil
}

// UpdateCounters flushes an aggregate counter snapshot onto the execution row.
func (s *ExecutionService) UpdateCounters(ctx context.Context, id string, total, sent, acked, errorCount int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE executions SET total_targets = $1, sent_count = $2, acked_count = $3, error_count = $4 WHERE id = $5`,
		total, sent, acked, errorCount, id,
	)
	if err != nil {
		return fmt.Errorf("update counters for execution %s: %w", id, err)
	}
	return nil
}

// InsertResults creates the pending result rows for every targeted device.
func (s *ExecutionService) InsertResults(ctx context.Context, execID string, results []model.DeviceResult) error {
	for _, r := range results {
		_, err := s.db.Exec(ctx,
			`INSERT INTO device_results (execution_id, device_id, alias, status, detail, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())`,
			execID, r.DeviceID, r.Alias, model.ResultPending, r.Detail,
		)
		if err != nil {
			return fmt.Errorf("insert result for device %s: %w", r.DeviceID, err)
		}
	}
	return nil
}

// resultTerminalGuard excludes rows already in a terminal status from an
// update, so the first terminal transition wins and re-delivery is a no-op.
const resultTerminalGuard = `status NOT IN ('completed', 'failed', 'timeout', 'cancelled')`

// TransitionResult applies one status update to a device result. It reports
// whether the row actually changed; false means the device was already
// terminal (or unknown) and the caller must not count the transition.
func (s *ExecutionService) TransitionResult(ctx context.Context, execID, deviceID, status, detail string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE device_results SET status = $1, detail = $2, updated_at = now()
		 WHERE execution_id = $3 AND device_id = $4 AND `+resultTerminalGuard,
		status, detail, execID, deviceID,
	)
	if err != nil {
		return false, fmt.Errorf("transition result %s/%s to %s: %w", execID, deviceID, status, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SweepNonTerminal force-transitions every non-terminal result row, used at
// execution timeout and cancellation. Returns the device IDs swept.
func (s *ExecutionService) SweepNonTerminal(ctx context.Context, execID, status, detail string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE device_results SET status = $1, detail = $2, updated_at = now()
		 WHERE execution_id = $3 AND `+resultTerminalGuard+`
		 RETURNING device_id`,
		status, detail, execID,
	)
	if err != nil {
		return nil, fmt.Errorf("sweep results for execution %s: %w", execID, err)
	}
	defer rows.Close()

	var swept []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan swept device: %w", err)
		}
		swept = append(swept, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swept devices: %w", err)
	}
	return swept, nil
}

func (s *ExecutionService) ListResults(ctx context.Context, execID string) ([]model.DeviceResult, error) {
	rows, err := s.db.Query(ctx,
		`SELECT execution_id, device_id, alias, status, detail, updated_at
		 FROM device_results WHERE execution_id = $1 ORDER BY device_id`, execID)
	if err != nil {
		return nil, fmt.Errorf("list results for execution %s: %w", execID, err)
	}
	defer rows.Close()

	var results []model.DeviceResult
	for rows.Next() {
		var r model.DeviceResult
		if err := rows.Scan(&r.ExecutionID, &r.DeviceID, &r.Alias, &r.Status, &r.Detail, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan device result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device results: %w", err)
	}
	return results, nil
}

// StatusReport is one device-reported status observation for an execution,
// written by the agent callback or check-in and consumed by the poll loop.
type StatusReport struct {
	ExecutionID string `json:"execution_id"`
	DeviceID    string `json:"device_id"`
	Status      string `json:"status"`
	Detail      string `json:"detail"`
}

// InsertStatusReport records a device's status observation. Duplicates are
// fine; the aggregator is idempotent.
func (s *ExecutionService) InsertStatusReport(ctx context.Context, r StatusReport) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO device_status_reports (execution_id, device_id, status, detail, reported_at)
		 VALUES ($1, $2, $3, $4, now())`,
		r.ExecutionID, r.DeviceID, r.Status, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert status report %s/%s: %w", r.ExecutionID, r.DeviceID, err)
	}
	return nil
}

// LatestStatusReports returns the most recent report per device for an
// execution.
func (s *ExecutionService) LatestStatusReports(ctx context.Context, execID string) ([]StatusReport, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT ON (device_id) execution_id, device_id, status, detail
		 FROM device_status_reports
		 WHERE execution_id = $1
		 ORDER BY device_id, reported_at DESC`, execID)
	if err != nil {
		return nil, fmt.Errorf("fetch status reports for execution %s: %w", execID, err)
	}
	defer rows.Close()

	var reports []StatusReport
	for rows.Next() {
		var r StatusReport
		if err := rows.Scan(&r.ExecutionID, &r.DeviceID, &r.Status, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan status report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status reports: %w", err)
	}
	return reports, nil
}
