package storage

import (
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/logging"
	"github.com/sjawhar/newscast/internal/session"
)

// Journal records finished questions in the database and, when a writer is
// configured, in the daily transcript.
type Journal struct {
	store  *SQLiteStore
	writer *Writer
	log    *zap.Logger
}

func NewJournal(store *SQLiteStore, writer *Writer, logger *zap.Logger) *Journal {
	return &Journal{store: store, writer: writer, log: logging.OrNop(logger).Named("journal")}
}

// RecordCycle stores the cycle. A transcript failure is logged, not returned,
// so the database row stays the source of truth.
func (j *Journal) RecordCycle(c session.CycleRecord) error {
	if err := j.store.RecordCycle(c); err != nil {
		return err
	}
	if j.writer == nil {
		return nil
	}
	if err := j.writer.Append(c); err != nil {
		j.log.Warn("append transcript", zap.String("cycle_id", c.ID), zap.Error(err))
	}
	return nil
}

func (j *Journal) SaveBriefPosition(briefID string, position time.Duration) error {
	return j.store.SaveBriefPosition(briefID, position)
}
