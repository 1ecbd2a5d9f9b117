package db

import (
	"context"

	"github.com/banshee-data/laneguard/internal/engine"
)

// DefaultBatchSize is the number of frames RecordSink buffers per
// transaction.
const DefaultBatchSize = 200

// RecordSink persists engine results in batches. It implements
// engine.Sink and engine.Flusher.
type RecordSink struct {
	db        *DB
	batchSize int
	pending   []engine.FrameResult
}

// NewRecordSink creates a sink writing to db. batchSize <= 0 selects
// DefaultBatchSize.
func NewRecordSink(db *DB, batchSize int) *RecordSink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RecordSink{db: db, batchSize: batchSize}
}

// Handle buffers res and writes the batch once full. Writes are not
// cancelled with ctx so that delivered frames are kept on abort.
func (s *RecordSink) Handle(ctx context.Context, res engine.FrameResult) error {
	s.pending = append(s.pending, res)
	if len(s.pending) < s.batchSize {
		return nil
	}
	return s.write(context.WithoutCancel(ctx))
}

// Flush writes any buffered results.
func (s *RecordSink) Flush() error {
	return s.write(context.Background())
}

func (s *RecordSink) write(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.db.InsertResults(ctx, s.pending); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}
