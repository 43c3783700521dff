package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-login/internal/biometric"
	"github.com/example/face-login/internal/extractor"
	"github.com/example/face-login/internal/logging"
	"github.com/example/face-login/internal/metrics"
	"github.com/example/face-login/internal/repository"
	"github.com/example/face-login/internal/retry"
)

const (
	processingMarker = "processing"
	processingTTL    = time.Minute
	resultTTL        = 5 * time.Minute
)

// RecognitionRepository defines the persistence operations needed by the use case.
type RecognitionRepository interface {
	SaveLog(ctx context.Context, log *repository.RecognitionLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.RecognitionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.RecognitionLog, error)
}

// Matcher scores probes against enrolled templates.
type Matcher interface {
	Match(probe biometric.Embedding, threshold float64) (biometric.MatchResult, error)
	TopK(probe biometric.Embedding, k int) ([]biometric.Candidate, error)
}

// IdentityLookup resolves display names for matched identities.
type IdentityLookup interface {
	GetIdentity(id string) (biometric.Identity, error)
}

// Recognition is the outcome of one Recognize call.
type Recognition struct {
	RequestID   string
	Result      biometric.MatchResult
	DisplayName string
	Box         *extractor.FaceBox
}

// EmbeddingMatch is the outcome of matching a caller-supplied embedding.
type EmbeddingMatch struct {
	Result     biometric.MatchResult
	Candidates []biometric.Candidate
}

// Summary represents aggregated recognition insights.
type Summary struct {
	TotalRequests    int64   `json:"total_requests"`
	MatchedRequests  int64   `json:"matched_requests"`
	MatchRate        float64 `json:"match_rate"`
	AverageScore     float64 `json:"average_score"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// RecognitionUseCase encapsulates business logic for the Recognize flow.
type RecognitionUseCase struct {
	repo       RecognitionRepository
	cache      Cache
	extractor  extractor.Client
	matcher    Matcher
	identities IdentityLookup
	metrics    metrics.Recorder
	logger     *zap.Logger
	threshold  float64
	retry      retry.Policy
}

type cachedRecognition struct {
	RequestID      string    `json:"request_id"`
	Subject        string    `json:"subject"`
	IdentityID     string    `json:"identity_id"`
	BestIdentityID string    `json:"best_identity_id"`
	Score          float64   `json:"score"`
	Threshold      float64   `json:"threshold"`
	Matched        bool      `json:"matched"`
	Hash           string    `json:"sha1_hash"`
	LatencyMs      int64     `json:"latency_ms"`
	Details        string    `json:"details"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecognitionDeps groups the collaborators of RecognitionUseCase.
type RecognitionDeps struct {
	Repo       RecognitionRepository
	Cache      Cache
	Extractor  extractor.Client
	Matcher    Matcher
	Identities IdentityLookup
	Metrics    metrics.Recorder
}

// NewRecognitionUseCase constructs a new use case instance.
func NewRecognitionUseCase(deps RecognitionDeps, threshold float64, logger *zap.Logger) *RecognitionUseCase {
	if deps.Cache == nil {
		deps.Cache = NopCache{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	return &RecognitionUseCase{
		repo:       deps.Repo,
		cache:      deps.Cache,
		extractor:  deps.Extractor,
		matcher:    deps.Matcher,
		identities: deps.Identities,
		metrics:    deps.Metrics,
		logger:     logger.Named("recognition_usecase"),
		threshold:  threshold,
		retry:      retry.DefaultPolicy(),
	}
}

// Threshold returns the default decision threshold.
func (uc *RecognitionUseCase) Threshold() float64 {
	return uc.threshold
}

// Recognize extracts the probe embedding from image, matches it and records
// the outcome. subject is the authenticated caller, if any.
func (uc *RecognitionUseCase) Recognize(ctx context.Context, subject string, image []byte) (*Recognition, error) {
	started := time.Now()
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.recognize", requestID)

	if len(image) == 0 {
		uc.metrics.IncRecognition(metrics.OutcomeInvalid)
		return nil, biometric.NewValidationError("image", "no image provided")
	}

	cacheKey := recognitionCacheKey(requestID)
	if err := uc.retry.Do(ctx, uc.logger, "cache.set.processing", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, processingTTL)
	}); err != nil {
		uc.metrics.IncRecognition(metrics.OutcomeError)
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	extractStarted := time.Now()
	extraction, err := uc.extractor.Extract(ctx, image)
	uc.metrics.ObserveExtractionDuration(time.Since(extractStarted))
	if err != nil {
		var noFace *biometric.NoFaceDetectedError
		if errors.As(err, &noFace) {
			uc.metrics.IncRecognition(metrics.OutcomeNoFace)
			opLogger.Info("no face detected in probe")
			return nil, err
		}
		uc.metrics.IncRecognition(outcomeFor(err))
		wrapped := logging.NewOperationError("usecase.extract_probe", requestID, err)
		opLogger.Error("feature extraction failed", zap.Error(wrapped))
		return nil, wrapped
	}

	result, err := uc.matcher.Match(extraction.Embedding, uc.threshold)
	if err != nil {
		uc.metrics.IncRecognition(outcomeFor(err))
		opLogger.Warn("probe rejected by matcher", zap.Error(err))
		return nil, err
	}
	uc.metrics.ObserveMatchScore(result.Score)
	if result.Matched {
		uc.metrics.IncRecognition(metrics.OutcomeMatched)
	} else {
		uc.metrics.IncRecognition(metrics.OutcomeUnmatched)
	}

	hash := sha1.Sum(image)
	hashHex := hex.EncodeToString(hash[:])
	log := &repository.RecognitionLog{
		RequestID:      requestID,
		Subject:        subject,
		IdentityID:     result.IdentityID,
		BestIdentityID: result.BestIdentityID,
		Score:          result.Score,
		Threshold:      result.Threshold,
		Matched:        result.Matched,
		SHA1Hash:       hashHex,
		LatencyMs:      time.Since(started).Milliseconds(),
		CreatedAt:      result.ProbedAt,
	}
	log.Details = fmt.Sprintf("matched:%t score:%f faces:%d hash:%s", result.Matched, result.Score, extraction.Faces, hashHex)
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist recognition log", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(toCached(log))
	if err != nil {
		opLogger.Error("failed to serialize recognition result", zap.Error(err))
		return nil, err
	}
	if err := uc.retry.Do(ctx, uc.logger, "cache.set.result", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache recognition result", zap.Error(err))
		return nil, err
	}

	recognition := &Recognition{RequestID: requestID, Result: result, Box: extraction.Box}
	if result.Matched && uc.identities != nil {
		if identity, err := uc.identities.GetIdentity(result.IdentityID); err == nil {
			recognition.DisplayName = identity.DisplayName
		}
	}

	opLogger.Info("recognition completed",
		zap.Bool("matched", result.Matched),
		zap.String("identity_id", result.IdentityID),
		zap.Float64("score", result.Score),
	)
	return recognition, nil
}

// MatchEmbedding matches a caller-supplied embedding. A nil threshold uses
// the configured default; topK > 0 also returns ranked candidates.
func (uc *RecognitionUseCase) MatchEmbedding(ctx context.Context, probe biometric.Embedding, threshold *float64, topK int) (*EmbeddingMatch, error) {
	t := uc.threshold
	if threshold != nil {
		t = *threshold
	}
	result, err := uc.matcher.Match(probe, t)
	if err != nil {
		return nil, err
	}
	out := &EmbeddingMatch{Result: result}
	if topK > 0 {
		out.Candidates, err = uc.matcher.TopK(probe, topK)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetRecognition retrieves a cached recognition outcome or loads it from
// persistence. A request still being processed or unknown yields NotFoundError.
func (uc *RecognitionUseCase) GetRecognition(ctx context.Context, requestID string) (*repository.RecognitionLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_recognition", requestID)

	var (
		cached string
		hit    bool
	)
	err := uc.retry.Do(ctx, uc.logger, "cache.get.result", requestID, func() error {
		value, err := uc.cache.Get(ctx, recognitionCacheKey(requestID))
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		cached, hit = value, true
		return nil
	})
	if err != nil {
		opLogger.Warn("failed to read cache", zap.Error(err))
	} else if hit && cached != processingMarker {
		var payload cachedRecognition
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else {
			return fromCached(payload), nil
		}
	}

	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &biometric.NotFoundError{Kind: "recognition", ID: requestID}
		}
		return nil, logging.NewOperationError("usecase.find_recognition", requestID, err)
	}
	return log, nil
}

// DuplicateReport lists earlier or later recognitions of the same image bytes.
type DuplicateReport struct {
	Request    *repository.RecognitionLog
	Duplicates []*repository.RecognitionLog
}

// GetDuplicateReport finds recognitions whose image hash matches requestID's.
func (uc *RecognitionUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	log, err := uc.GetRecognition(ctx, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.find_duplicates", requestID, err)
	}
	return &DuplicateReport{Request: log, Duplicates: duplicates}, nil
}

// Summary aggregates recognition metrics from persisted logs.
func (uc *RecognitionUseCase) Summary(ctx context.Context) (*Summary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, logging.NewOperationError("usecase.summary", "", err)
	}

	summary := &Summary{
		TotalRequests:    aggregation.TotalCount,
		MatchedRequests:  aggregation.MatchedCount,
		AverageScore:     aggregation.AverageScore,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}
	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}
	return summary, nil
}

func recognitionCacheKey(requestID string) string {
	return fmt.Sprintf("recognition:%s", requestID)
}

func toCached(log *repository.RecognitionLog) cachedRecognition {
	return cachedRecognition{
		RequestID:      log.RequestID,
		Subject:        log.Subject,
		IdentityID:     log.IdentityID,
		BestIdentityID: log.BestIdentityID,
		Score:          log.Score,
		Threshold:      log.Threshold,
		Matched:        log.Matched,
		Hash:           log.SHA1Hash,
		LatencyMs:      log.LatencyMs,
		Details:        log.Details,
		CreatedAt:      log.CreatedAt,
	}
}

func fromCached(c cachedRecognition) *repository.RecognitionLog {
	return &repository.RecognitionLog{
		RequestID:      c.RequestID,
		Subject:        c.Subject,
		IdentityID:     c.IdentityID,
		BestIdentityID: c.BestIdentityID,
		Score:          c.Score,
		Threshold:      c.Threshold,
		Matched:        c.Matched,
		SHA1Hash:       c.Hash,
		LatencyMs:      c.LatencyMs,
		Details:        c.Details,
		CreatedAt:      c.CreatedAt,
	}
}
