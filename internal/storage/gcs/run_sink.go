package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// ObjectWriter uploads one object.
type ObjectWriter interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// RunSink collects a run's records as JSON Lines and uploads them as a
// single object when closed.
type RunSink struct {
	mu     sync.Mutex
	store  ObjectWriter
	object string
	buf    bytes.Buffer
	count  int
	closed bool
	logger *zap.Logger
}

// NewRunSink uploads to <prefix>/<runID>/records.jsonl.
func NewRunSink(store ObjectWriter, prefix, runID string, logger *zap.Logger) (*RunSink, error) {
	if store == nil {
		return nil, fmt.Errorf("object writer is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunSink{
		store:  store,
		object: path.Join(strings.Trim(prefix, "/"), runID, "records.jsonl"),
		logger: logger,
	}, nil
}

// Object returns the destination object name.
func (s *RunSink) Object() string { return s.object }

// Write buffers record.
func (s *RunSink) Write(_ context.Context, record crawler.Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.GlobalID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("gcs sink closed")
	}
	s.buf.Write(line)
	s.buf.WriteByte('\n')
	s.count++
	return nil
}

// Close uploads the buffered records. Nothing is uploaded for an empty run.
func (s *RunSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.count == 0 {
		return nil
	}
	uri, err := s.store.PutObject(ctx, s.object, "application/x-ndjson", bytes.NewReader(s.buf.Bytes()))
	if err != nil {
		return fmt.Errorf("upload %s: %w", s.object, err)
	}
	s.logger.Info("run records uploaded", zap.String("uri", uri), zap.Int("records", s.count))
	return nil
}
