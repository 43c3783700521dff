package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-login/internal/retry"
)

// RecognitionLog represents a persisted recognition request.
type RecognitionLog struct {
	ID             uint      `gorm:"primaryKey"`
	RequestID      string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Subject        string    `gorm:"column:subject;size:128"`
	IdentityID     string    `gorm:"column:identity_id;size:128"`
	BestIdentityID string    `gorm:"column:best_identity_id;size:128"`
	Score          float64   `gorm:"column:score"`
	Threshold      float64   `gorm:"column:threshold"`
	Matched        bool      `gorm:"column:matched"`
	SHA1Hash       string    `gorm:"column:sha1_hash;index;size:40"`
	LatencyMs      int64     `gorm:"column:latency_ms"`
	Details        string    `gorm:"column:details;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (RecognitionLog) TableName() string {
	return "recognition_logs"
}

// MetricsAggregation holds raw aggregates over recognition logs.
type MetricsAggregation struct {
	TotalCount       int64   `gorm:"column:total_count"`
	MatchedCount     int64   `gorm:"column:matched_count"`
	AverageScore     float64 `gorm:"column:average_score"`
	AverageLatencyMs float64 `gorm:"column:average_latency_ms"`
}

// RecognitionRepository provides persistence APIs for recognition logs.
type RecognitionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// NewRecognitionRepository creates a new repository instance.
func NewRecognitionRepository(db *gorm.DB, logger *zap.Logger) *RecognitionRepository {
	return &RecognitionRepository{db: db, logger: logger.Named("recognition_repository"), retry: retry.DefaultPolicy()}
}

// AutoMigrate ensures the schema is available.
func (r *RecognitionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&RecognitionLog{})
}

// SaveLog persists a recognition log entry.
func (r *RecognitionRepository) SaveLog(ctx context.Context, log *RecognitionLog) error {
	return r.retry.Do(ctx, r.logger, "repository.save_recognition", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves a recognition log by its request id.
func (r *RecognitionRepository) FindByRequestID(ctx context.Context, requestID string) (*RecognitionLog, error) {
	var log RecognitionLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// maxDuplicates caps the rows returned by FindDuplicatesByHash.
const maxDuplicates = 100

// FindDuplicatesByHash returns other recognitions of the same image bytes,
// oldest first. An empty hash matches nothing.
func (r *RecognitionRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*RecognitionLog, error) {
	if hash == "" {
		return nil, nil
	}
	var logs []*RecognitionLog
	err := r.db.WithContext(ctx).
		Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
		Order("created_at, id").
		Limit(maxDuplicates).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals and averages over all recognition logs.
func (r *RecognitionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&RecognitionLog{}).
		Select("COUNT(*) AS total_count, " +
			"COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS matched_count, " +
			"COALESCE(AVG(score), 0) AS average_score, " +
			"COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
