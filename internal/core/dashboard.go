package core

import (
	"context"
	"fmt"
)

// DashboardStats holds aggregate fleet counts.
type DashboardStats struct {
	Devices           int           `json:"devices"`
	DevicesOnline     int           `json:"devices_online"`
	Builds            int           `json:"builds"`
	CurrentBuilds     int           `json:"current_builds"`
	Executions        int           `json:"executions"`
	ExecutionsRunning int           `json:"executions_running"`
	ResultsByStatus   []StatusCount `json:"results_by_status"`
}

// StatusCount holds a count grouped by status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// DashboardService queries aggregate stats.
type DashboardService struct {
	db DB
}

func NewDashboardService(db DB) *DashboardService {
	return &DashboardService{db: db}
}

// Stats returns aggregate counts using a single query with CTEs.
func (s *DashboardService) Stats(ctx context.Context) (*DashboardStats, error) {
	const countsQuery = `
		WITH device_count AS (
			SELECT count(*) AS c FROM devices
		), device_online AS (
			SELECT count(*) AS c FROM devices WHERE last_seen > now() - interval '10 minutes'
		), build_count AS (
			SELECT count(*) AS c FROM builds
		), build_current AS (
			SELECT count(*) AS c FROM builds WHERE state = 'current'
		), execution_count AS (
			SELECT count(*) AS c FROM executions
		), execution_running AS (
			SELECT count(*) AS c FROM executions WHERE status = 'running'
		)
		SELECT
			(SELECT c FROM device_count),
			(SELECT c FROM device_online),
			(SELECT c FROM build_count),
			(SELECT c FROM build_current),
			(SELECT c FROM execution_count),
			(SELECT c FROM execution_running)`

	stats := &DashboardStats{}
	err := s.db.QueryRow(ctx, countsQuery).Scan(
		&stats.Devices, &stats.DevicesOnline,
		&stats.Builds, &stats.CurrentBuilds,
		&stats.Executions, &stats.ExecutionsRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("dashboard counts: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT status, count(*) FROM device_results GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("results by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ResultsByStatus = append(stats.ResultsByStatus, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	return stats, nil
}
