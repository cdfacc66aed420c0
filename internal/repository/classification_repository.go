package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GoosieGav/PestHub/internal/logging"
)

// ClassificationLog is one classification attempt made through the gateway.
type ClassificationLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Subject    string    `gorm:"column:subject;size:128"`
	Filename   string    `gorm:"column:filename;size:255"`
	SHA1Hash   string    `gorm:"column:sha1_hash;size:40;index"`
	Success    bool      `gorm:"column:success"`
	ErrorKind  string    `gorm:"column:error_kind;size:32"`
	IsPest     bool      `gorm:"column:is_pest"`
	IsNew      bool      `gorm:"column:is_new"`
	ClassName  string    `gorm:"column:class_name;size:128;index"`
	Confidence string    `gorm:"column:confidence;size:32"`
	Message    string    `gorm:"column:message;type:text"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (ClassificationLog) TableName() string {
	return "classification_logs"
}

// SummaryAggregation is the raw aggregate over all logs.
type SummaryAggregation struct {
	TotalCount       int64
	SuccessCount     int64
	PestCount        int64
	NewPestCount     int64
	AverageLatencyMs float64
}

// ClassCount is how often a class was identified.
type ClassCount struct {
	ClassName string `json:"class_name"`
	Count     int64  `json:"count"`
}

// ClassificationRepository persists classification logs.
type ClassificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClassificationRepository creates a repository with the default retry
// policy.
func NewClassificationRepository(db *gorm.DB, logger *zap.Logger) *ClassificationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassificationRepository{
		db:             db,
		logger:         logger.Named("classification_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ClassificationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&ClassificationLog{})
	})
}

// SaveLog persists a classification log entry.
func (r *ClassificationRepository) SaveLog(ctx context.Context, log *ClassificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the log for a request.
func (r *ClassificationRepository) FindByRequestID(ctx context.Context, requestID string) (*ClassificationLog, error) {
	var log ClassificationLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindByHash returns earlier logs for the same image bytes, newest first.
func (r *ClassificationRepository) FindByHash(ctx context.Context, hash, excludeRequestID string) ([]*ClassificationLog, error) {
	var logs []*ClassificationLog
	err := r.executeWithRetry(ctx, "repository.find_by_hash", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateSummary computes totals over every stored log.
func (r *ClassificationRepository) AggregateSummary(ctx context.Context) (*SummaryAggregation, error) {
	var agg SummaryAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_summary", "", func() error {
		return r.db.WithContext(ctx).Model(&ClassificationLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(SUM(CASE WHEN success AND is_pest THEN 1 ELSE 0 END), 0) AS pest_count, " +
				"COALESCE(SUM(CASE WHEN success AND is_new THEN 1 ELSE 0 END), 0) AS new_pest_count, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// TopClasses returns the most frequently identified pest classes.
func (r *ClassificationRepository) TopClasses(ctx context.Context, limit int) ([]ClassCount, error) {
	if limit <= 0 {
		limit = 5
	}
	var counts []ClassCount
	err := r.executeWithRetry(ctx, "repository.top_classes", "", func() error {
		return r.db.WithContext(ctx).Model(&ClassificationLog{}).
			Select("class_name, COUNT(*) AS count").
			Where("success AND is_pest AND class_name <> ''").
			Group("class_name").
			Order("count DESC, class_name ASC").
			Limit(limit).
			Scan(&counts).Error
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *ClassificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
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

		if !logging.IsTransient(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}
