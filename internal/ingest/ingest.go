// Package ingest runs one archive through the pipeline: merge shards, decode
// records, linearize and normalize each one, and upsert it into the store.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/chatvault/internal/archive"
	"github.com/comigor/chatvault/internal/config"
	"github.com/comigor/chatvault/internal/events"
	"github.com/comigor/chatvault/internal/export"
	"github.com/comigor/chatvault/internal/history"
	"github.com/comigor/chatvault/internal/logger"
	"github.com/comigor/chatvault/internal/metrics"
)

// Store is the write side of history.Store used by ingestion.
type Store interface {
	Batch(ctx context.Context, fn func(w history.Writer) error) error
}

// Summary describes a finished run.
type Summary struct {
	RunID        string
	Total        int
	Skipped      int
	EarliestYear int
	LatestYear   int
	Duration     time.Duration
}

// Ingester imports export archives into a Store.
type Ingester struct {
	store         Store
	sink          events.Sink
	progressEvery int
	batchSize     int
}

// New returns an Ingester. A nil sink discards events.
func New(store Store, sink events.Sink, cfg config.IngestConfig) *Ingester {
	if sink == nil {
		sink = events.Discard
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 50
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Ingester{
		store:         store,
		sink:          sink,
		progressEvery: cfg.ProgressEvery,
		batchSize:     cfg.BatchSize,
	}
}

// Run ingests the archive at path. Malformed records are skipped; only an
// unreadable archive, a store failure or cancellation end the run early.
func (i *Ingester) Run(ctx context.Context, path string) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}
	sink := events.WithRun(i.sink, sum.RunID)
	log := logger.L.With("run_id", sum.RunID, "path", path)

	sink.Emit(events.Started())
	err := i.run(ctx, path, sink, &sum)
	sum.Duration = time.Since(start)

	if err != nil {
		log.Error("ingestion failed", "error", err, "processed", sum.Total)
		sink.Emit(events.IngestFailed(err))
		metrics.RecordIngest("error", sum.Duration)
		return sum, err
	}

	log.Info("ingestion complete",
		"total", sum.Total,
		"skipped", sum.Skipped,
		"earliest_year", sum.EarliestYear,
		"latest_year", sum.LatestYear,
		"duration", sum.Duration,
	)
	sink.Emit(events.IngestDone(sum.Total, sum.EarliestYear, sum.LatestYear))
	metrics.RecordIngest("ok", sum.Duration)
	return sum, nil
}

func (i *Ingester) run(ctx context.Context, path string, sink events.Sink, sum *Summary) error {
	sink.Emit(events.ExtractingArchive())
	data, err := archive.ReadConversations(path)
	if err != nil {
		return err
	}

	sink.Emit(events.ParsingConversations(0))
	dec := export.NewDecoder(bytes.NewReader(data))
	pending := make([]history.Conversation, 0, i.batchSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var decErr *export.DecodeError
			if !errors.As(err, &decErr) {
				return err
			}
			logger.L.Warn("skipping malformed conversation", "index", decErr.Index, "error", decErr.Err)
			metrics.DecodeErrors.Inc()
			sum.Skipped++
			continue
		}

		conv := export.Normalize(raw)
		sum.trackYear(conv)
		pending = append(pending, conv)
		sum.Total++

		if len(pending) >= i.batchSize {
			if err := i.flush(ctx, pending); err != nil {
				return err
			}
			pending = pending[:0]
		}
		if sum.Total%i.progressEvery == 0 {
			sink.Emit(events.ParsingConversations(sum.Total))
		}
	}

	sink.Emit(events.BuildingIndex())
	return i.flush(ctx, pending)
}

func (i *Ingester) flush(ctx context.Context, batch []history.Conversation) error {
	if len(batch) == 0 {
		return nil
	}
	err := i.store.Batch(ctx, func(w history.Writer) error {
		for idx := range batch {
			if err := w.Upsert(ctx, &batch[idx]); err != nil {
				return fmt.Errorf("upsert %s: %w", batch[idx].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.ConversationsIngested.Add(float64(len(batch)))
	return nil
}

func (s *Summary) trackYear(c history.Conversation) {
	if c.CreatedAt == nil {
		return
	}
	year := c.Created().Year()
	if s.EarliestYear == 0 || year < s.EarliestYear {
		s.EarliestYear = year
	}
	if year > s.LatestYear {
		s.LatestYear = year
	}
}
