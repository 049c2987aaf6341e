// Package history persists normalized conversations in SQLite.
// All writes go through Batch so that ingestion and enrichment reconciliation
// never interleave inside one logical write.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/comigor/chatvault/internal/logger"
)

// Writer is the write surface available inside a Batch.
type Writer interface {
	Upsert(ctx context.Context, c *Conversation) error
	UpdateEnrichment(ctx context.Context, e Enrichment) (bool, error)
}

// Store is the conversation database handle. It is safe for concurrent use;
// writers are serialized by an exclusive lock held for a whole batch.
type Store struct {
	mu  sync.Mutex
	db  *gorm.DB
	raw *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	raw, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows a single writer; one pooled connection keeps transactions simple.
	raw.SetMaxOpenConns(1)

	db, err := gorm.Open(gormsqlite.Dialector{Conn: raw}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("opening gorm: %w", err)
	}
	if err := db.AutoMigrate(&Conversation{}); err != nil {
		raw.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	logger.L.Debug("conversation store opened", "path", path)
	return &Store{db: db, raw: raw}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.raw.Close()
}

// Batch runs fn inside one transaction while holding the store's write lock.
// If fn returns an error the transaction is rolled back.
func (s *Store) Batch(ctx context.Context, fn func(w Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(txWriter{tx: tx})
	})
}

// Upsert inserts or replaces a single conversation in its own batch.
func (s *Store) Upsert(ctx context.Context, c *Conversation) error {
	return s.Batch(ctx, func(w Writer) error { return w.Upsert(ctx, c) })
}

// UpdateEnrichment applies one enrichment in its own batch. It reports whether
// a row with that ID existed.
func (s *Store) UpdateEnrichment(ctx context.Context, e Enrichment) (bool, error) {
	var found bool
	err := s.Batch(ctx, func(w Writer) error {
		var err error
		found, err = w.UpdateEnrichment(ctx, e)
		return err
	})
	return found, err
}

// ListAll returns every conversation ordered by creation time (unknown times
// first), then by ID for a stable order.
func (s *Store) ListAll(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one conversation by ID.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Count returns the number of stored conversations.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Conversation{}).Count(&n).Error
	return n, err
}

type txWriter struct {
	tx *gorm.DB
}

// ingestColumns are replaced on re-ingest. Enrichment columns are left alone so
// that re-importing an archive does not wipe earlier classification results.
var ingestColumns = []string{
	"title", "created_at", "updated_at", "message_count", "has_images",
	"has_code", "token_estimate", "full_text", "group_id",
}

func (w txWriter) Upsert(ctx context.Context, c *Conversation) error {
	return w.tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(ingestColumns),
	}).Create(c).Error
}

func (w txWriter) UpdateEnrichment(ctx context.Context, e Enrichment) (bool, error) {
	res := w.tx.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", e.ID).
		Updates(map[string]any{
			"label":        e.Label,
			"summary":      e.Summary,
			"instructions": e.Instructions,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
