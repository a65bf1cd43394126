package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/featurescope/internal/retry"
)

// ErrNotFound is returned when no batch matches the lookup.
var ErrNotFound = errors.New("batch not found")

// BatchLog records one processed upload.
type BatchLog struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	BatchID         string    `gorm:"column:batch_id;uniqueIndex;size:64" json:"batch_id"`
	Username        string    `gorm:"column:username;index;size:64" json:"username"`
	Archive         string    `gorm:"column:archive;size:255" json:"archive"`
	ImagesProcessed int       `gorm:"column:images_processed" json:"images_processed"`
	ImagesFailed    int       `gorm:"column:images_failed" json:"images_failed"`
	ResultPath      string    `gorm:"column:result_path;size:1024" json:"result_path"`
	ProcessingMs    int64     `gorm:"column:processing_ms" json:"processing_ms"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (BatchLog) TableName() string {
	return "batch_logs"
}

// MetricsAggregation is the raw aggregate over batch logs.
type MetricsAggregation struct {
	TotalBatches        int64
	TotalImages         int64
	FailedImages        int64
	AverageProcessingMs float64
}

// BatchRepository persists batch logs through GORM.
type BatchRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewBatchRepository creates a new repository instance.
func NewBatchRepository(db *gorm.DB, logger *zap.Logger) *BatchRepository {
	return &BatchRepository{
		db:     db,
		logger: logger.Named("batch_repository"),
		policy: retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *BatchRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&BatchLog{})
	})
}

// SaveLog persists a batch log entry.
func (r *BatchRepository) SaveLog(ctx context.Context, log *BatchLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.BatchID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByBatchIDAndUser retrieves a batch log owned by username.
func (r *BatchRepository) FindByBatchIDAndUser(ctx context.Context, batchID, username string) (*BatchLog, error) {
	var log BatchLog
	err := r.executeWithRetry(ctx, "repository.find_batch", batchID, func() error {
		err := r.db.WithContext(ctx).First(&log, "batch_id = ? AND username = ?", batchID, username).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}, ErrNotFound)
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarizes batches for username, or for everyone when
// username is empty.
func (r *BatchRepository) AggregateMetrics(ctx context.Context, username string) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		query := r.db.WithContext(ctx).Model(&BatchLog{}).Select(
			"COUNT(*) AS total_batches, " +
				"COALESCE(SUM(images_processed), 0) AS total_images, " +
				"COALESCE(SUM(images_failed), 0) AS failed_images, " +
				"COALESCE(AVG(processing_ms), 0) AS average_processing_ms")
		if username != "" {
			query = query.Where("username = ?", username)
		}
		return query.Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// executeWithRetry runs fn under the repository retry policy. Errors listed in
// expected are normal outcomes and skip retrying and error logging.
func (r *BatchRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error, expected ...error) error {
	return retry.Do(ctx, r.logger, r.policy.Expecting(expected...), operation, requestID, fn)
}
