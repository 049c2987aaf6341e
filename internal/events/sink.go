package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/comigor/chatvault/internal/logger"
)

// Sink receives events. Emit must not block for long and never reports
// failure: a lost event must not fail the operation it describes.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	if len(live) == 1 {
		return live[0]
	}
	return SinkFunc(func(e Event) {
		for _, s := range live {
			s.Emit(e)
		}
	})
}

// WithRun stamps every event passing through with runID and, when unset, the
// current time. A nil sink is treated as Discard.
func WithRun(s Sink, runID string) Sink {
	if s == nil {
		s = Discard
	}
	return SinkFunc(func(e Event) {
		if e.RunID == "" {
			e.RunID = runID
		}
		if e.Time.IsZero() {
			e.Time = time.Now().UTC()
		}
		s.Emit(e)
	})
}

// LogSink writes events to the global logger.
type LogSink struct{}

func (LogSink) Emit(e Event) {
	attrs := []any{"kind", string(e.Kind)}
	if e.RunID != "" {
		attrs = append(attrs, "run_id", e.RunID)
	}
	switch e.Kind {
	case IngestParsingConversations:
		attrs = append(attrs, "processed", e.Processed)
	case IngestComplete:
		attrs = append(attrs, "total", e.Total, "earliest_year", e.EarliestYear, "latest_year", e.LatestYear)
	case EnrichPass1Complete:
		attrs = append(attrs, "labels", len(e.Labels))
	case EnrichBatchSubmitted:
		attrs = append(attrs, "job_id", e.JobID)
	case EnrichPolling:
		attrs = append(attrs, "elapsed_seconds", e.ElapsedSeconds)
	case EnrichComplete:
		attrs = append(attrs, "assigned", e.AssignedCount)
	}

	level := slog.LevelInfo
	if e.IsError() {
		level = slog.LevelError
		attrs = append(attrs, "message", e.Message)
	}
	logger.L.Log(context.Background(), level, "progress", attrs...)
}

// WriterSink writes one JSON object per line to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Emit(e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		logger.L.Warn("marshal event", "kind", e.Kind, "error", err)
		return
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		logger.L.Warn("write event", "kind", e.Kind, "error", err)
	}
}
