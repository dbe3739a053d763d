package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/shortontech/trafficgate/internal/event"
)

// LogSink appends decisions as NDJSON to LOG_PATH, or to stdout when
// LOG_PATH is "stdout".
type LogSink struct {
	dst string

	mu sync.Mutex
	f  *os.File
	w  io.Writer
}

func NewLogSink() *LogSink {
	return &LogSink{dst: getEnvOr("LOG_PATH", "ndjson.log")}
}

func (s *LogSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dst == "stdout" {
		s.w = os.Stdout
		return nil
	}
	f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log sink %s: %w", s.dst, err)
	}
	s.f = f
	s.w = f
	return nil
}

func (s *LogSink) Enqueue(e event.Decision) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("log sink not started")
	}
	_, err = s.w.Write(b)
	return err
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w = nil
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *LogSink) Name() string { return "log" }
