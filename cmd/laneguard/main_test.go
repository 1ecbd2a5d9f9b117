package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laneguard/internal/config"
	"github.com/banshee-data/laneguard/internal/db"
	"github.com/banshee-data/laneguard/internal/detect"
	"github.com/banshee-data/laneguard/internal/export"
	"github.com/banshee-data/laneguard/internal/monitoring"
)

const fixture = "testdata/olaya_sample.jsonl"

func init() {
	monitoring.SetLogger(nil)
}

// cancelAfter yields n empty frames, then cancels the run.
type cancelAfter struct {
	n, seen int
	cancel  context.CancelFunc
}

func (c *cancelAfter) Next(ctx context.Context) (detect.Frame, error) {
	if c.seen == c.n {
		c.cancel()
		return detect.Frame{}, ctx.Err()
	}
	c.seen++
	return detect.Frame{Index: c.seen - 1}, nil
}

func (c *cancelAfter) Close() error { return nil }

func TestRunProcess(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "lg.db")
	csvPath := filepath.Join(dir, "out.csv")
	jsonPath := filepath.Join(dir, "out.json")

	var out bytes.Buffer
	err := runProcess(context.Background(), []string{
		"-input", fixture, "-db", dbPath, "-csv", csvPath, "-json", jsonPath,
	}, &out)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "completed")
	assert.Contains(t, got, "frames:           5")
	assert.Contains(t, got, "unique vehicles:  3")
	assert.Contains(t, got, "violations:       1")
	assert.Contains(t, got, "malformed: 1")
	assert.Contains(t, got, "33.33")

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := export.ReadCSV(f, nil)
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "2023-01-01 08:08:00", records[4].Timestamp.Format(export.TimestampLayout))
	assert.Equal(t, 1, records[2].ViolationTotal)
	assert.Equal(t, 3, records[4].UniqueVehicleTotal)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 5)

	database, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer database.Close()
	runs, err := database.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.RunCompleted, runs[0].Status)
	assert.Equal(t, fixture, runs[0].Source)
	assert.Equal(t, "Olaya Road", runs[0].StreetName)
	assert.Contains(t, runs[0].ConfigJSON, "boundaries")

	violations, err := database.Violations(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, 2, violations[0].Frame)
	assert.Equal(t, 2, violations[0].FromLane)
	assert.Equal(t, 3, violations[0].ToLane)
}

func TestRunProcess_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorContains(t, runProcess(context.Background(), []string{"-db", ""}, &out), "-input is required")
	assert.Error(t, runProcess(context.Background(), []string{"-input", "missing.jsonl", "-db", ""}, &out))
	assert.Error(t, runProcess(context.Background(), []string{"-input", fixture, "-config", "config.txt", "-db", ""}, &out))
}

func TestRunProcess_Aborted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lg.db")
	ctx, cancel := context.WithCancel(context.Background())

	database, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer database.Close()

	src := &cancelAfter{n: 2, cancel: cancel}
	var out bytes.Buffer
	stats, err := runJob{
		cfg:        &config.RunConfig{},
		source:     src,
		sourceName: "scripted",
		database:   database,
	}.execute(ctx, &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, stats.Frames)
	assert.Contains(t, out.String(), "aborted")

	runs, err := database.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.RunAborted, runs[0].Status)
	assert.Equal(t, 2, runs[0].FrameCount)

	records, err := database.FrameRecords(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRunDetectRemote(t *testing.T) {
	framesDir := t.TempDir()
	for _, name := range []string{"f000.jpg", "f001.jpg", "f002.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(framesDir, name), []byte("jpeg"), 0o644))
	}

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		x := 600
		if n == 3 {
			x = 900
		}
		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{{"id": 7, "box": []int{x - 20, 880, x + 20, 920}, "class": "car", "conf": 0.9}},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := runDetectRemote(context.Background(), []string{
		"-frames", framesDir, "-endpoint", srv.URL, "-db", "", "-retries", "0",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "frames:           3")
	assert.Contains(t, out.String(), "unique vehicles:  1")
	assert.Contains(t, out.String(), "violations:       1")
	assert.Contains(t, out.String(), "100.00")

	assert.ErrorContains(t, runDetectRemote(context.Background(), []string{"-frames", framesDir}, &out), "required")
}

func TestSummaryAndPlot(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "lg.db")
	var out bytes.Buffer
	require.NoError(t, runProcess(context.Background(), []string{"-input", fixture, "-db", dbPath}, &out))

	out.Reset()
	require.NoError(t, runSummary(context.Background(), []string{"-db", dbPath}, &out))
	assert.Contains(t, out.String(), "total vehicles:   3")
	assert.Contains(t, out.String(), "violation %:      33.33")

	out.Reset()
	require.NoError(t, runSummary(context.Background(), []string{"-db", dbPath, "-days", "Mon"}, &out))
	assert.Contains(t, out.String(), "records:          0")
	assert.Contains(t, out.String(), "n/a")

	assert.Error(t, runSummary(context.Background(), []string{"-db", dbPath, "-hour-min", "30"}, &out))
	assert.Error(t, runSummary(context.Background(), []string{"-db", dbPath, "-run", "missing"}, &out))

	pngPath := filepath.Join(dir, "chart.png")
	out.Reset()
	require.NoError(t, runPlot(context.Background(), []string{"-db", dbPath, "-out", pngPath}, &out))
	data, err := os.ReadFile(pngPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	emptyPath := filepath.Join(dir, "empty.png")
	assert.Error(t, runPlot(context.Background(), []string{"-db", dbPath, "-out", emptyPath, "-days", "Mon"}, &out))
	_, err = os.Stat(emptyPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRunMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lg.db")
	var out bytes.Buffer
	require.NoError(t, runMigrate([]string{"-db", dbPath, "up"}, &out))
	out.Reset()
	require.NoError(t, runMigrate([]string{"-db", dbPath, "status"}, &out))
	assert.Contains(t, strings.ToLower(out.String()), "version")
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "Olaya Road", cfg.GetStreetName())

	_, err = loadConfig("nope.json")
	assert.Error(t, err)
}

func TestEnvOr(t *testing.T) {
	t.Setenv("LANEGUARD_TEST_VALUE", "x")
	assert.Equal(t, "x", envOr("LANEGUARD_TEST_VALUE", "y"))
	assert.Equal(t, "y", envOr("LANEGUARD_TEST_UNSET", "y"))
}
