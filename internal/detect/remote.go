package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultDetectTimeout bounds one detection request.
const DefaultDetectTimeout = 5 * time.Second

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// ListFrames returns the image files in dir in lexical order. Frames are
// expected to be named so that lexical order is playback order
// (frame_000001.jpg, ...).
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("no frame images in %s", dir)
	}
	return out, nil
}

type detectResponse struct {
	Detections []wireDetection `json:"detections"`
}

// RemoteDetector sends frame images to an HTTP detection+tracking service
// and decodes the tracked boxes it returns. The service receives the raw
// image as the request body and answers with {"detections": [...]}.
type RemoteDetector struct {
	client   *resty.Client
	endpoint string
	frames   []string
	pos      int
}

// RemoteOption customises a RemoteDetector.
type RemoteOption func(*RemoteDetector)

// WithTimeout overrides DefaultDetectTimeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *RemoteDetector) { r.client.SetTimeout(d) }
}

// WithRetries retries failed requests count times before reporting a frame
// error.
func WithRetries(count int) RemoteOption {
	return func(r *RemoteDetector) {
		r.client.SetRetryCount(count).SetRetryWaitTime(200 * time.Millisecond)
	}
}

// NewRemoteDetector prepares a detector posting each file in frames to
// endpoint, e.g. http://detector:8080/api/detect.
func NewRemoteDetector(endpoint string, frames []string, opts ...RemoteOption) *RemoteDetector {
	r := &RemoteDetector{
		client:   resty.New().SetTimeout(DefaultDetectTimeout),
		endpoint: endpoint,
		frames:   frames,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Next detects the next frame image. Request or decode failures are
// reported as *FrameError so the run can carry on.
func (r *RemoteDetector) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if r.pos >= len(r.frames) {
		return Frame{}, io.EOF
	}
	idx := r.pos
	path := r.frames[idx]
	r.pos++

	img, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, &FrameError{Index: idx, Err: err}
	}
	ctype := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	var body detectResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", ctype).
		SetHeader("X-Frame-Index", fmt.Sprint(idx)).
		SetBody(img).
		SetResult(&body).
		Post(r.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		return Frame{}, &FrameError{Index: idx, Err: fmt.Errorf("request failed: %w", err)}
	}
	if resp.IsError() {
		return Frame{}, &FrameError{Index: idx, Err: fmt.Errorf("detector returned %s: %s", resp.Status(), strings.TrimSpace(resp.String()))}
	}

	obs, rejected := decodeDetections(body.Detections)
	return Frame{Index: idx, Observations: obs, Rejected: rejected}, nil
}

// Close releases idle connections.
func (r *RemoteDetector) Close() error {
	r.client.GetClient().CloseIdleConnections()
	return nil
}

// MockSource replays an in-memory frame list. Errs, keyed by position,
// makes that position return a *FrameError instead.
type MockSource struct {
	Frames []Frame
	Errs   map[int]error
	pos    int
	closed bool
}

// Next returns the next scripted frame.
func (m *MockSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if m.closed {
		return Frame{}, errors.New("mock source closed")
	}
	if m.pos >= len(m.Frames) {
		return Frame{}, io.EOF
	}
	i := m.pos
	m.pos++
	if err, ok := m.Errs[i]; ok {
		return Frame{}, &FrameError{Index: m.Frames[i].Index, Err: err}
	}
	return m.Frames[i], nil
}

// Close marks the source closed.
func (m *MockSource) Close() error {
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockSource) Closed() bool { return m.closed }
