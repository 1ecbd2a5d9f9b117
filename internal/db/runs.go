package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/laneguard/internal/aggregate"
	"github.com/banshee-data/laneguard/internal/engine"
	"github.com/banshee-data/laneguard/internal/tracking"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
	RunFailed    RunStatus = "failed"
)

// Run is one row of the runs table.
type Run struct {
	ID             string     `json:"run_id"`
	Source         string     `json:"source"`
	StreetName     string     `json:"street_name"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Status         RunStatus  `json:"status"`
	FrameCount     int        `json:"frame_count"`
	UniqueTotal    int        `json:"unique_total"`
	ViolationTotal int        `json:"violation_total"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ConfigJSON     string     `json:"-"`
}

// Location returns the run's record metadata.
func (r *Run) Location() aggregate.Location {
	return aggregate.Location{StreetName: r.StreetName, Latitude: r.Latitude, Longitude: r.Longitude}
}

const timeLayout = time.RFC3339Nano

// CreateRun inserts r with status running. StartedAt defaults to now.
func (db *DB) CreateRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		return errors.New("run id required")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	r.Status = RunRunning
	if r.ConfigJSON == "" {
		r.ConfigJSON = "{}"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (run_id, source, street_name, latitude, longitude, status, started_at, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.StreetName, r.Latitude, r.Longitude, string(r.Status),
		r.StartedAt.Format(timeLayout), r.ConfigJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun records the final status and totals of a run.
func (db *DB) FinishRun(ctx context.Context, id string, status RunStatus, stats engine.RunStats, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, frame_count = ?, unique_total = ?, violation_total = ?, error = ?, finished_at = ?
		WHERE run_id = ?`,
		string(status), stats.Frames, stats.UniqueVehicles, stats.Violations, msg,
		time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `run_id, source, street_name, latitude, longitude, status, frame_count,
	unique_total, violation_total, error, started_at, finished_at, config_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (Run, error) {
	var (
		r        Run
		status   string
		started  string
		finished sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Source, &r.StreetName, &r.Latitude, &r.Longitude, &status,
		&r.FrameCount, &r.UniqueTotal, &r.ViolationTotal, &r.Error, &started, &finished, &r.ConfigJSON); err != nil {
		return Run{}, err
	}
	r.Status = RunStatus(status)
	var err error
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
	}
	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: bad finished_at: %w", r.ID, err)
		}
		r.FinishedAt = &t
	}
	return r, nil
}

// GetRun loads one run or returns ErrRunNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recently started runs first. limit <= 0 means
// no limit.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run with its records and violations.
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// InsertResults stores frame records and violation events in one
// transaction. Re-inserting a frame replaces it.
func (db *DB) InsertResults(ctx context.Context, results []engine.FrameResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	recStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO frame_records (run_id, frame_index, timestamp, ts_unix, current_in_roi,
			violation_total, unique_total, hour_of_day, day_of_week)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer recStmt.Close()

	vStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO violations (run_id, vehicle_id, frame_index, from_lane, to_lane, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer vStmt.Close()

	for _, res := range results {
		r := res.Record
		ts := float64(r.Timestamp.UnixNano()) / 1e9
		if _, err := recStmt.ExecContext(ctx, res.RunID, r.Frame, r.Timestamp.Format(timeLayout), ts,
			r.CurrentInROI, r.ViolationTotal, r.UniqueVehicleTotal, r.HourOfDay, r.DayOfWeek); err != nil {
			return fmt.Errorf("insert frame %d: %w", r.Frame, err)
		}
		for _, v := range res.Violations {
			if _, err := vStmt.ExecContext(ctx, v.RunID, int64(v.VehicleID), v.Frame, v.FromLane, v.ToLane,
				v.Timestamp.Format(timeLayout)); err != nil {
				return fmt.Errorf("insert violation for vehicle %d: %w", v.VehicleID, err)
			}
		}
	}
	return tx.Commit()
}

// FrameRecords returns a run's records in frame order, with the run's
// location metadata filled in.
func (db *DB) FrameRecords(ctx context.Context, runID string) ([]aggregate.FrameRecord, error) {
	run, err := db.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT frame_index, timestamp, current_in_roi, violation_total, unique_total, hour_of_day, day_of_week
		FROM frame_records WHERE run_id = ? ORDER BY frame_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []aggregate.FrameRecord{}
	for rows.Next() {
		var (
			r  aggregate.FrameRecord
			ts string
		)
		if err := rows.Scan(&r.Frame, &ts, &r.CurrentInROI, &r.ViolationTotal, &r.UniqueVehicleTotal,
			&r.HourOfDay, &r.DayOfWeek); err != nil {
			return nil, err
		}
		if r.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("frame %d: bad timestamp: %w", r.Frame, err)
		}
		r.StreetName = run.StreetName
		r.Latitude = run.Latitude
		r.Longitude = run.Longitude
		records = append(records, r)
	}
	return records, rows.Err()
}

// Violations returns a run's violation events in frame order.
func (db *DB) Violations(ctx context.Context, runID string) ([]engine.ViolationEvent, error) {
	if _, err := db.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT vehicle_id, frame_index, from_lane, to_lane, timestamp
		FROM violations WHERE run_id = ? ORDER BY frame_index, vehicle_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []engine.ViolationEvent{}
	for rows.Next() {
		var (
			v  engine.ViolationEvent
			id int64
			ts string
		)
		if err := rows.Scan(&id, &v.Frame, &v.FromLane, &v.ToLane, &ts); err != nil {
			return nil, err
		}
		v.RunID = runID
		v.VehicleID = tracking.VehicleID(id)
		if v.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("violation at frame %d: bad timestamp: %w", v.Frame, err)
		}
		events = append(events, v)
	}
	return events, rows.Err()
}
