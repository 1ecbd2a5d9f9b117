package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laneguard/internal/aggregate"
	"github.com/banshee-data/laneguard/internal/engine"
	"github.com/banshee-data/laneguard/internal/tracking"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "laneguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestRun(t *testing.T, db *DB, id string, started time.Time) *Run {
	t.Helper()
	r := &Run{
		ID:         id,
		Source:     "detections.jsonl",
		StreetName: "Olaya Road",
		Latitude:   24.7136,
		Longitude:  46.6753,
		StartedAt:  started,
		ConfigJSON: `{"street_name":"Olaya Road"}`,
	}
	require.NoError(t, db.CreateRun(context.Background(), r))
	return r
}

// testResults builds n frame results. Every even frame after the first
// carries one violation by vehicle 100+frame.
func testResults(runID string, n int) []engine.FrameResult {
	start := time.Date(2023, 1, 1, 8, 0, 0, 0, time.UTC)
	out := make([]engine.FrameResult, n)
	for i := range out {
		ts := start.Add(time.Duration(i) * 2 * time.Minute)
		out[i] = engine.FrameResult{
			RunID: runID,
			Record: aggregate.FrameRecord{
				Frame:              i,
				Timestamp:          ts,
				CurrentInROI:       i % 3,
				ViolationTotal:     i / 2,
				HourOfDay:          ts.Hour(),
				DayOfWeek:          ts.Weekday().String(),
				UniqueVehicleTotal: i + 1,
			},
		}
		if i > 0 && i%2 == 0 {
			out[i].Violations = []engine.ViolationEvent{{
				RunID:     runID,
				VehicleID: tracking.VehicleID(100 + i),
				Frame:     i,
				FromLane:  1,
				ToLane:    2,
				Timestamp: ts,
			}}
		}
	}
	return out
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	createTestRun(t, db, "run-a", started)

	got, err := db.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, got.Status)
	assert.Equal(t, started, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	assert.Equal(t, "Olaya Road", got.Location().StreetName)

	stats := engine.RunStats{Frames: 10, UniqueVehicles: 4, Violations: 1}
	require.NoError(t, db.FinishRun(ctx, "run-a", RunAborted, stats, context.Canceled))

	got, err = db.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, RunAborted, got.Status)
	assert.Equal(t, 10, got.FrameCount)
	assert.Equal(t, 4, got.UniqueTotal)
	assert.Equal(t, 1, got.ViolationTotal)
	assert.Equal(t, context.Canceled.Error(), got.Error)
	require.NotNil(t, got.FinishedAt)

	assert.ErrorIs(t, db.FinishRun(ctx, "missing", RunCompleted, stats, nil), ErrRunNotFound)
}

func TestGetRun_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetRun(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestListRuns_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	createTestRun(t, db, "old", base)
	createTestRun(t, db, "new", base.Add(time.Hour))
	createTestRun(t, db, "mid", base.Add(30*time.Minute))

	runs, err := db.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	runs, err = db.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestInsertResultsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestRun(t, db, "run-b", time.Now().UTC())

	in := testResults("run-b", 6)
	require.NoError(t, db.InsertResults(ctx, in))

	records, err := db.FrameRecords(ctx, "run-b")
	require.NoError(t, err)
	want := make([]aggregate.FrameRecord, len(in))
	for i, r := range in {
		want[i] = r.Record
		want[i].StreetName = "Olaya Road"
		want[i].Latitude = 24.7136
		want[i].Longitude = 46.6753
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	events, err := db.Violations(ctx, "run-b")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, tracking.VehicleID(102), events[0].VehicleID)
	assert.Equal(t, 4, events[1].Frame)
	assert.Equal(t, in[4].Violations[0], events[1])

	// Re-inserting is idempotent.
	require.NoError(t, db.InsertResults(ctx, in))
	records, err = db.FrameRecords(ctx, "run-b")
	require.NoError(t, err)
	assert.Len(t, records, 6)
	events, err = db.Violations(ctx, "run-b")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestInsertResults_UnknownRunRejected(t *testing.T) {
	db := newTestDB(t)
	err := db.InsertResults(context.Background(), testResults("ghost", 1))
	assert.Error(t, err)
}

func TestFrameRecords_UnknownRun(t *testing.T) {
	db := newTestDB(t)
	_, err := db.FrameRecords(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = db.Violations(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestDeleteRunCascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestRun(t, db, "run-c", time.Now().UTC())
	require.NoError(t, db.InsertResults(ctx, testResults("run-c", 4)))

	require.NoError(t, db.DeleteRun(ctx, "run-c"))
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM frame_records`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM violations`).Scan(&n))
	assert.Zero(t, n)
	assert.ErrorIs(t, db.DeleteRun(ctx, "run-c"), ErrRunNotFound)
}

func TestRecordSink_BatchesAndFlushes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestRun(t, db, "run-d", time.Now().UTC())
	sink := NewRecordSink(db, 4)

	in := testResults("run-d", 6)
	for _, r := range in[:5] {
		require.NoError(t, sink.Handle(ctx, r))
	}
	records, err := db.FrameRecords(ctx, "run-d")
	require.NoError(t, err)
	assert.Len(t, records, 4, "first batch written once full")

	// A cancelled context does not lose buffered frames.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, sink.Handle(cctx, in[5]))
	require.NoError(t, sink.Flush())

	records, err = db.FrameRecords(ctx, "run-d")
	require.NoError(t, err)
	assert.Len(t, records, 6)
	require.NoError(t, sink.Flush())
}

func TestBackup(t *testing.T) {
	db := newTestDB(t)
	createTestRun(t, db, "run-e", time.Now().UTC())
	dest := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, db.Backup(context.Background(), dest))

	cp, err := OpenDB(dest)
	require.NoError(t, err)
	defer cp.Close()
	var n int
	require.NoError(t, cp.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	createTestRun(t, db, "run-f", time.Now().UTC())
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "laneguard-backup-")
	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
}
