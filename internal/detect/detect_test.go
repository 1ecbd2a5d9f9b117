package detect

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laneguard/internal/lanes"
)

func TestBoundingBoxCenter(t *testing.T) {
	b := BoundingBox{X1: 300, Y1: 900, X2: 500, Y2: 1100}
	assert.Equal(t, lanes.Point{X: 400, Y: 1000}, b.Center())
}

func TestObservationValidate(t *testing.T) {
	ok := Observation{ID: 1, Box: BoundingBox{0, 0, 10, 10}, Confidence: 0.5}
	assert.NoError(t, ok.Validate())

	cases := map[string]Observation{
		"nan box":  {ID: 1, Box: BoundingBox{math.NaN(), 0, 10, 10}, Confidence: 0.5},
		"inf box":  {ID: 1, Box: BoundingBox{0, 0, math.Inf(1), 10}, Confidence: 0.5},
		"conf > 1": {ID: 1, Box: BoundingBox{0, 0, 10, 10}, Confidence: 1.2},
		"conf < 0": {ID: 1, Box: BoundingBox{0, 0, 10, 10}, Confidence: -0.1},
		"conf nan": {ID: 1, Box: BoundingBox{0, 0, 10, 10}, Confidence: math.NaN()},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, o.Validate(), ErrMalformed)
		})
	}
}

const replayFixture = `{"frame": 0, "detections": [{"id": 7, "box": [300, 900, 500, 1100], "class": "car", "conf": 0.9}]}

{"detections": [{"id": 7, "box": [600, 900, 800, 1100], "class": "car", "conf": 0.8}, {"box": [1, 2, 3, 4]}]}
not json
{"frame": 10, "detections": []}
`

func TestReplaySource(t *testing.T) {
	ctx := context.Background()
	src := NewReplaySource(strings.NewReader(replayFixture), "fixture")

	f, err := src.Next(ctx)
	require.NoError(t, err)
	want := Frame{Index: 0, Observations: []Observation{
		{ID: 7, Box: BoundingBox{300, 900, 500, 1100}, Class: "car", Confidence: 0.9},
	}}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("frame 0 mismatch (-want +got):\n%s", diff)
	}

	// Blank line skipped; missing "frame" is numbered sequentially; the
	// detection without an id is rejected.
	f, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Index)
	assert.Len(t, f.Observations, 1)
	assert.Equal(t, 1, f.Rejected)

	_, err = src.Next(ctx)
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 2, fe.Index)

	f, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, f.Index)
	assert.Empty(t, f.Observations)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Close())
}

func TestReplaySource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReplaySource(strings.NewReader(replayFixture), "x").Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplaySource_RejectsIncompleteBoxes(t *testing.T) {
	const in = `{"frame": 0, "detections": [` +
		`{"id": 1, "box": [400, null, 500, 950], "class": "car", "conf": 0.9}, ` +
		`{"id": 2, "box": [400, 900, 500], "class": "car", "conf": 0.9}, ` +
		`{"id": 3, "box": null, "class": "car", "conf": 0.9}, ` +
		`{"id": 4, "box": [400, 900, 500, 950], "class": "car", "conf": 0.9}]}`

	f, err := NewReplaySource(strings.NewReader(in), "nulls").Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.Rejected)
	require.Len(t, f.Observations, 1)
	assert.EqualValues(t, 4, f.Observations[0].ID)
	assert.Equal(t, BoundingBox{X1: 400, Y1: 900, X2: 500, Y2: 950}, f.Observations[0].Box)
}

func TestReplayWriterRoundTrip(t *testing.T) {
	frames := []Frame{
		{Index: 3, Observations: []Observation{{ID: 1, Box: BoundingBox{1, 2, 3, 4}, Class: "bus", Confidence: 0.4}}},
		{Index: 4, Observations: []Observation{}},
	}
	var buf bytes.Buffer
	w := NewReplayWriter(&buf)
	for _, f := range frames {
		require.NoError(t, w.Write(f))
	}

	src := NewReplaySource(&buf, "buf")
	for _, want := range frames {
		got, err := src.Next(context.Background())
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestOpenReplay_Missing(t *testing.T) {
	_, err := OpenReplay(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}

func writeFrames(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o600))
	}
	return dir
}

func TestListFrames(t *testing.T) {
	dir := writeFrames(t, "f002.jpg", "f001.JPG", "notes.txt", "f003.png")
	got, err := ListFrames(dir)
	require.NoError(t, err)
	var names []string
	for _, p := range got {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"f001.JPG", "f002.jpg", "f003.png"}, names)

	_, err = ListFrames(writeFrames(t, "readme.md"))
	assert.Error(t, err)
}

func TestRemoteDetector(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "/api/detect", r.URL.Path)
		if n == 2 {
			http.Error(w, "model unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if string(body) == "f001.jpg" {
			_, _ = w.Write([]byte(`{"detections":[{"id":5,"box":[10,10,30,30],"class":"car","conf":0.7}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"detections":[]}`))
	}))
	defer srv.Close()

	frames, err := ListFrames(writeFrames(t, "f001.jpg", "f002.jpg", "f003.jpg"))
	require.NoError(t, err)
	d := NewRemoteDetector(srv.URL+"/api/detect", frames)
	defer d.Close()
	ctx := context.Background()

	f, err := d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Index)
	require.Len(t, f.Observations, 1)
	assert.EqualValues(t, 5, f.Observations[0].ID)

	_, err = d.Next(ctx)
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Index)
	assert.Contains(t, fe.Error(), "503")

	f, err = d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Index)
	assert.Empty(t, f.Observations)

	_, err = d.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMockSource(t *testing.T) {
	boom := errors.New("boom")
	m := &MockSource{
		Frames: []Frame{{Index: 0}, {Index: 1}},
		Errs:   map[int]error{1: boom},
	}
	ctx := context.Background()
	_, err := m.Next(ctx)
	require.NoError(t, err)
	_, err = m.Next(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = m.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}

func olayaLayout(t *testing.T) *lanes.Layout {
	t.Helper()
	l, err := lanes.NewLayoutWithSpan(
		lanes.ROI{Min: lanes.Point{X: 250, Y: 200}, Max: lanes.Point{X: 1670, Y: 1000}},
		[]lanes.Boundary{
			{Bottom: lanes.Point{X: 370, Y: 1000}, Top: lanes.Point{X: 860, Y: 250}},
			{Bottom: lanes.Point{X: 697, Y: 1000}, Top: lanes.Point{X: 955, Y: 250}},
			{Bottom: lanes.Point{X: 1050, Y: 1000}, Top: lanes.Point{X: 1050, Y: 250}},
			{Bottom: lanes.Point{X: 1415, Y: 1000}, Top: lanes.Point{X: 1140, Y: 250}},
		},
		lanes.Span{Top: 250, Bottom: 1000},
	)
	require.NoError(t, err)
	return l
}

func TestSyntheticSource(t *testing.T) {
	layout := olayaLayout(t)
	cfg := DefaultSyntheticConfig(layout)
	cfg.Frames = 200
	cfg.SwitchProb = 0

	src, err := NewSyntheticSource(cfg)
	require.NoError(t, err)

	lanesByID := map[int64]int{}
	frames := 0
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, frames, f.Index)
		for _, o := range f.Observations {
			require.NoError(t, o.Validate())
			c := o.Box.Center()
			require.True(t, layout.Contains(c), "centre %v outside ROI", c)
			lane := layout.Classify(c)
			if prev, ok := lanesByID[int64(o.ID)]; ok {
				assert.Equal(t, prev, lane, "vehicle %d changed lane without switching", o.ID)
			}
			lanesByID[int64(o.ID)] = lane
		}
		frames++
	}
	assert.Equal(t, 200, frames)
	assert.NotEmpty(t, lanesByID)
}

func TestSyntheticSource_Deterministic(t *testing.T) {
	cfg := DefaultSyntheticConfig(olayaLayout(t))
	cfg.Frames = 50
	cfg.SwitchProb = 0.2

	run := func() []Frame {
		src, err := NewSyntheticSource(cfg)
		require.NoError(t, err)
		var out []Frame
		for {
			f, err := src.Next(context.Background())
			if err != nil {
				return out
			}
			out = append(out, f)
		}
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("same seed produced different traffic (-first +second):\n%s", diff)
	}

	_, err := NewSyntheticSource(SyntheticConfig{})
	assert.Error(t, err)
}
