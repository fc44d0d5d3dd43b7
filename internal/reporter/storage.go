package reporter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const sinkStorage = "storage"

// StorageReporter writes terminal statuses into the processing_jobs table
// of the system of record.
type StorageReporter struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorageReporter creates a new StorageReporter instance
func NewStorageReporter(db *sqlx.DB, logger *slog.Logger) *StorageReporter {
	return &StorageReporter{
		db:     db,
		logger: logger,
	}
}

// Report implements Reporter
func (s *StorageReporter) Report(ctx context.Context, update Update) error {
	query := `
		UPDATE processing_jobs
		SET status = $1,
			error_message = $2,
			started_at = COALESCE($3, started_at),
			completed_at = $4,
			updated_at = NOW()
		WHERE id = $5
	`

	var errorMsg sql.NullString
	if update.ErrorMessage != "" {
		errorMsg = sql.NullString{String: update.ErrorMessage, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		update.Status,
		errorMsg,
		update.StartedAt,
		update.CompletedAt,
		update.JobID,
	)
	if err != nil {
		return &ReportingError{Sink: sinkStorage, JobID: update.JobID, Err: fmt.Errorf("failed to update job status: %w", err)}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &ReportingError{Sink: sinkStorage, JobID: update.JobID, Err: fmt.Errorf("failed to get rows affected: %w", err)}
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job status update - no rows affected (job record may not exist)",
			slog.String("job_id", update.JobID),
		)
		return nil
	}

	s.logger.Debug("Job status stored",
		slog.String("job_id", update.JobID),
		slog.String("status", update.Status),
	)
	return nil
}
