// Package repository is the durable audit gateway for completed
// verifications. Writes are append-only and idempotent per session id.
package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/face-verify/internal/logging"
)

// ErrNotFound is returned when no record exists for the session id.
var ErrNotFound = errors.New("repository: verification not found")

// VerificationRecord is one persisted verification decision.
type VerificationRecord struct {
	ID              uint      `gorm:"primaryKey"`
	SessionID       string    `gorm:"column:session_id;uniqueIndex;size:64"`
	UserID          string    `gorm:"column:user_id;size:64;index"`
	Passed          bool      `gorm:"column:passed"`
	Score           float64   `gorm:"column:score"`
	RequiredScore   float64   `gorm:"column:required_score"`
	Confidence      string    `gorm:"column:confidence;size:16"`
	SelfieQuality   float64   `gorm:"column:selfie_quality"`
	DocumentQuality float64   `gorm:"column:document_quality"`
	DocumentType    string    `gorm:"column:document_type;size:16"`
	DeviceInfo      string    `gorm:"column:device_info;size:256"`
	Detail          string    `gorm:"column:detail;type:text"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// Stats aggregates the stored verification history.
type Stats struct {
	Total    int64   `json:"total"`
	Passed   int64   `json:"passed"`
	Failed   int64   `json:"failed"`
	AvgScore float64 `json:"avgScore"`
}

// VerificationRepository provides persistence APIs for verification records.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("verification_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationRecord{})
}

// Save persists a completed verification. Safe to retry: a second save with
// the same session id does not create a duplicate row.
func (r *VerificationRepository) Save(ctx context.Context, rec *VerificationRecord) error {
	return r.executeWithRetry(ctx, "repository.save", rec.SessionID, func() error {
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}},
				DoNothing: true,
			}).
			Create(rec).Error
	})
}

// FindBySessionID retrieves the record for one session.
func (r *VerificationRepository) FindBySessionID(ctx context.Context, sessionID string) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := r.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListRecent returns the newest records first.
func (r *VerificationRepository) ListRecent(ctx context.Context, limit int) ([]*VerificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []*VerificationRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// AggregateStats computes totals over the stored history.
func (r *VerificationRepository) AggregateStats(ctx context.Context) (*Stats, error) {
	var s Stats
	row := r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN passed THEN 1 ELSE 0 END), 0) AS passed, COALESCE(AVG(score), 0) AS avg_score").
		Row()
	if err := row.Scan(&s.Total, &s.Passed, &s.AvgScore); err != nil {
		return nil, err
	}
	s.Failed = s.Total - s.Passed
	return &s, nil
}

// executeWithRetry runs fn with exponential backoff on transient failures.
func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
