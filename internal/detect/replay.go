package detect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// maxLineBytes bounds a single JSON-lines record.
const maxLineBytes = 16 * 1024 * 1024

// ReplaySource reads recorded detector output, one JSON object per line:
//
//	{"frame": 0, "detections": [{"id": 1, "box": [10, 20, 50, 80], "class": "car", "conf": 0.9}]}
//
// Lines without a "frame" field are numbered sequentially. A line that
// fails to decode yields a *FrameError for that frame.
type ReplaySource struct {
	name    string
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
	next    int
}

// NewReplaySource wraps r. name is used in error messages.
func NewReplaySource(r io.Reader, name string) *ReplaySource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	s := &ReplaySource{name: name, scanner: sc}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenReplay opens a JSON-lines detection file.
func OpenReplay(path string) (*ReplaySource, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open detections file: %w", err)
	}
	return NewReplaySource(f, filepath.Base(path)), nil
}

// Next returns the next frame.
func (s *ReplaySource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Frame{}, fmt.Errorf("%s: read failed after line %d: %w", s.name, s.line, err)
			}
			return Frame{}, io.EOF
		}
		s.line++
		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var wf wireFrame
		if err := json.Unmarshal(raw, &wf); err != nil {
			idx := s.next
			s.next++
			return Frame{}, &FrameError{Index: idx, Err: fmt.Errorf("%s line %d: %w", s.name, s.line, err)}
		}

		idx := s.next
		if wf.Frame != nil {
			idx = *wf.Frame
		}
		s.next = idx + 1

		obs, rejected := decodeDetections(wf.Detections)
		return Frame{Index: idx, Observations: obs, Rejected: rejected}, nil
	}
}

// Close closes the underlying reader if it is closable.
func (s *ReplaySource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ReplayWriter records frames in the format ReplaySource reads.
type ReplayWriter struct {
	enc *json.Encoder
}

// NewReplayWriter writes JSON lines to w.
func NewReplayWriter(w io.Writer) *ReplayWriter {
	return &ReplayWriter{enc: json.NewEncoder(w)}
}

// Write appends one frame.
func (w *ReplayWriter) Write(f Frame) error {
	idx := f.Index
	return w.enc.Encode(wireFrame{Frame: &idx, Detections: encodeDetections(f.Observations)})
}
