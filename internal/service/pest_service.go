// Package service holds the gateway's business logic: it fronts the
// classification client with history persistence and a search cache.
package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GoosieGav/PestHub/internal/cache"
	"github.com/GoosieGav/PestHub/internal/classifier"
	"github.com/GoosieGav/PestHub/internal/logging"
	"github.com/GoosieGav/PestHub/internal/pests"
	"github.com/GoosieGav/PestHub/internal/repository"
)

// DefaultSearchTTL is how long a successful search answer stays cached.
const DefaultSearchTTL = 10 * time.Minute

// Classifier is the part of the classification client the service uses.
type Classifier interface {
	ClassifyImage(ctx context.Context, img classifier.Image) classifier.Result[classifier.ClassificationResult]
	SearchPest(ctx context.Context, query string) classifier.Result[classifier.SearchResult]
	GetPestDetails(ctx context.Context, name string) classifier.Result[classifier.PestDetails]
}

// HistoryRepository defines the persistence operations needed by the service.
type HistoryRepository interface {
	SaveLog(ctx context.Context, log *repository.ClassificationLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.ClassificationLog, error)
	FindByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.ClassificationLog, error)
	AggregateSummary(ctx context.Context) (*repository.SummaryAggregation, error)
	TopClasses(ctx context.Context, limit int) ([]repository.ClassCount, error)
}

// Recorder receives business events, typically metrics.
type Recorder interface {
	ObserveVerdict(isPest bool)
	ObserveSearchCache(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveVerdict(bool)     {}
func (nopRecorder) ObserveSearchCache(bool) {}

// Option customizes a PestService.
type Option func(*PestService)

// WithSearchTTL overrides DefaultSearchTTL.
func WithSearchTTL(ttl time.Duration) Option {
	return func(s *PestService) {
		if ttl > 0 {
			s.searchTTL = ttl
		}
	}
}

// WithRecorder registers an event recorder.
func WithRecorder(r Recorder) Option {
	return func(s *PestService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// PestService encapsulates the gateway flows.
type PestService struct {
	client         Classifier
	catalog        *pests.Catalog
	history        HistoryRepository
	cache          cache.Cache
	recorder       Recorder
	logger         *zap.Logger
	searchTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Classification is the outcome of one gateway classification.
type Classification struct {
	RequestID string
	// PestID is the encyclopedia id matching the identified class, if any.
	PestID string
	Result classifier.Result[classifier.ClassificationResult]
}

// DuplicateReport lists earlier classifications of the same image bytes.
type DuplicateReport struct {
	Request    *repository.ClassificationLog   `json:"request"`
	Duplicates []*repository.ClassificationLog `json:"duplicates"`
}

// New constructs the service. store may be nil to disable search caching.
func New(client Classifier, catalog *pests.Catalog, history HistoryRepository, store cache.Cache, logger *zap.Logger, opts ...Option) *PestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog = pests.Default()
	}
	s := &PestService{
		client:         client,
		catalog:        catalog,
		history:        history,
		cache:          store,
		recorder:       nopRecorder{},
		logger:         logger.Named("pest_service"),
		searchTTL:      DefaultSearchTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the encyclopedia the service resolves pest ids against.
func (s *PestService) Catalog() *pests.Catalog { return s.catalog }

// Classify forwards img to the backend exactly once and records the
// attempt. A history write failure is logged and does not hide the verdict.
func (s *PestService) Classify(ctx context.Context, subject string, img classifier.Image) *Classification {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "service.classify", requestID)

	start := time.Now()
	res := s.client.ClassifyImage(ctx, img)
	latency := time.Since(start)

	out := &Classification{RequestID: requestID, Result: res}

	hash := sha1.Sum(img.Data)
	entry := &repository.ClassificationLog{
		RequestID: requestID,
		Subject:   subject,
		Filename:  img.Filename,
		SHA1Hash:  hex.EncodeToString(hash[:]),
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if data, ok := res.Data(); ok {
		entry.Success = true
		entry.IsPest = data.IsPest
		entry.IsNew = data.IsNew
		entry.ClassName = data.ClassName
		entry.Confidence = string(data.Confidence)
		entry.Message = data.Message
		if id, found := s.catalog.IDForClassName(data.ClassName); found && data.IsPest {
			out.PestID = id
		}
		s.recorder.ObserveVerdict(data.IsPest)
	} else if cerr := res.Err(); cerr != nil {
		entry.ErrorKind = string(cerr.Kind)
		entry.Message = cerr.Message
	}

	if s.history != nil {
		// The caller may already be gone; the attempt is still worth keeping.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.history.SaveLog(saveCtx, entry); err != nil {
			opLogger.Warn("failed to persist classification log", zap.Error(err))
		}
	}
	return out
}

// Search queries the backend, serving repeated queries from cache.
// Failures are never cached.
func (s *PestService) Search(ctx context.Context, query string) classifier.Result[classifier.SearchResult] {
	key := searchKey(query)
	if key == "" || s.cache == nil {
		return s.client.SearchPest(ctx, query)
	}

	opLogger := logging.WithOperation(s.logger, "service.search", "")
	if cached, err := s.cacheGet(ctx, "cache.get.search", key); err == nil {
		var payload classifier.SearchResult
		if err := json.Unmarshal([]byte(cached), &payload); err == nil {
			s.recorder.ObserveSearchCache(true)
			return classifier.Succeed(payload)
		}
		opLogger.Warn("failed to decode cached search result", zap.String("key", key))
	} else if !errors.Is(err, cache.ErrMiss) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}
	s.recorder.ObserveSearchCache(false)

	res := s.client.SearchPest(ctx, query)
	data, ok := res.Data()
	if !ok {
		return res
	}
	serialized, err := json.Marshal(data)
	if err != nil {
		opLogger.Warn("failed to serialize search result", zap.Error(err))
		return res
	}
	if err := s.withCacheRetry(ctx, "", "cache.set.search", func() error {
		return s.cache.Set(ctx, key, string(serialized), s.searchTTL)
	}); err != nil {
		opLogger.Warn("failed to cache search result", zap.Error(err))
	}
	return res
}

// Details proxies the backend details page for name.
func (s *PestService) Details(ctx context.Context, name string) classifier.Result[classifier.PestDetails] {
	return s.client.GetPestDetails(ctx, name)
}

// GetLog returns the stored log of a classification request.
func (s *PestService) GetLog(ctx context.Context, requestID string) (*repository.ClassificationLog, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.FindByRequestID(ctx, requestID)
}

// GetDuplicateReport lists earlier classifications of the same image.
func (s *PestService) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	log, err := s.GetLog(ctx, requestID)
	if err != nil {
		return nil, err
	}
	duplicates, err := s.history.FindByHash(ctx, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}
	return &DuplicateReport{Request: log, Duplicates: duplicates}, nil
}

// searchKey normalizes a query: case-folded, whitespace collapsed.
func searchKey(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if normalized == "" {
		return ""
	}
	return "search:" + normalized
}

func (s *PestService) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if s.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransient(err) || attempt == s.retryAttempts-1 {
			if !errors.Is(err, cache.ErrMiss) {
				opLogger.Error("cache operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (s *PestService) cacheGet(ctx context.Context, operation, key string) (string, error) {
	var result string
	err := s.withCacheRetry(ctx, "", operation, func() error {
		value, err := s.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
