package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/face-login/internal/biometric"
	"github.com/example/face-login/internal/extractor"
	"github.com/example/face-login/internal/repository"
	"github.com/example/face-login/internal/store"
)

type stubRepository struct {
	savedLogs []*repository.RecognitionLog
	saveErr   error
	findLog   *repository.RecognitionLog
	findErr   error
	findCalls int
	agg       *repository.MetricsAggregation
	dupes     []*repository.RecognitionLog
	dupesErr  error
	dupeHash  string
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.RecognitionLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestID(ctx context.Context, requestID string) (*repository.RecognitionLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, errors.New("not found")
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.agg == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.agg, nil
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.RecognitionLog, error) {
	s.dupeHash = hash
	if s.dupesErr != nil {
		return nil, s.dupesErr
	}
	var out []*repository.RecognitionLog
	for _, log := range s.dupes {
		if log.RequestID != excludeRequestID {
			out = append(out, log)
		}
	}
	return out, nil
}

type stubCache struct {
	setErrs []error
	setKeys []string
	values  map[string]string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key], _ = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	return NopCache{}.Get(ctx, key)
}

// stubExtractor returns results in order; a nil embedding means "no face".
type stubExtractor struct {
	embeddings []biometric.Embedding
	err        error
	calls      int
}

func (s *stubExtractor) Extract(ctx context.Context, image []byte) (*extractor.Result, error) {
	defer func() { s.calls++ }()
	if s.err != nil {
		return nil, s.err
	}
	emb := s.embeddings[s.calls%len(s.embeddings)]
	if emb == nil {
		return nil, &biometric.NoFaceDetectedError{}
	}
	return &extractor.Result{Embedding: emb, Faces: 1, Box: &extractor.FaceBox{Width: 10, Height: 10}}, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(3, nil, zap.NewNop())
	require.NoError(t, err)
	return s
}
