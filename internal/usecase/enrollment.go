package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-login/internal/biometric"
	"github.com/example/face-login/internal/extractor"
	"github.com/example/face-login/internal/logging"
	"github.com/example/face-login/internal/metrics"
)

// TemplateStore is the subset of the store used for enrollment.
type TemplateStore interface {
	EnsureIdentity(ctx context.Context, id, displayName string) (biometric.Identity, error)
	AddTemplate(ctx context.Context, identityID string, embedding biometric.Embedding) (biometric.Template, error)
	Dimension() int
}

// EnrollRequest carries the images captured on the Register page.
type EnrollRequest struct {
	IdentityID  string
	DisplayName string
	Images      [][]byte
}

// Enrollment is the outcome of a successful enrollment.
type Enrollment struct {
	Identity  biometric.Identity
	Templates []biometric.Template
}

// EnrollmentUseCase extracts embeddings and appends them as templates.
type EnrollmentUseCase struct {
	store     TemplateStore
	extractor extractor.Client
	metrics   metrics.Recorder
	logger    *zap.Logger
	maxImages int
}

// NewEnrollmentUseCase constructs a new enrollment use case.
func NewEnrollmentUseCase(store TemplateStore, client extractor.Client, recorder metrics.Recorder, maxImages int, logger *zap.Logger) *EnrollmentUseCase {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &EnrollmentUseCase{
		store:     store,
		extractor: client,
		metrics:   recorder,
		logger:    logger.Named("enrollment_usecase"),
		maxImages: maxImages,
	}
}

// Enroll extracts an embedding from every image and only then writes the
// templates, so a failed extraction never mutates the store.
func (uc *EnrollmentUseCase) Enroll(ctx context.Context, req EnrollRequest) (*Enrollment, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll", "").With(zap.String("identity_id", req.IdentityID))

	if err := uc.validateRequest(req.IdentityID, len(req.Images)); err != nil {
		uc.metrics.IncEnrollment(metrics.OutcomeInvalid)
		return nil, err
	}

	embeddings := make([]biometric.Embedding, 0, len(req.Images))
	for i, img := range req.Images {
		if len(img) == 0 {
			uc.metrics.IncEnrollment(metrics.OutcomeInvalid)
			return nil, biometric.NewValidationError("images", "image %d is empty", i+1)
		}
		started := time.Now()
		res, err := uc.extractor.Extract(ctx, img)
		uc.metrics.ObserveExtractionDuration(time.Since(started))
		if err != nil {
			var noFace *biometric.NoFaceDetectedError
			if errors.As(err, &noFace) {
				uc.metrics.IncEnrollment(metrics.OutcomeNoFace)
				opLogger.Info("no face detected during enrollment", zap.Int("image", i))
				return nil, &biometric.NoFaceDetectedError{Index: i}
			}
			uc.metrics.IncEnrollment(outcomeFor(err))
			opLogger.Error("feature extraction failed", zap.Error(err), zap.Int("image", i))
			return nil, err
		}
		embeddings = append(embeddings, res.Embedding)
	}

	return uc.persist(ctx, opLogger, req.IdentityID, req.DisplayName, embeddings)
}

// EnrollEmbeddings stores precomputed embeddings without calling the extractor.
func (uc *EnrollmentUseCase) EnrollEmbeddings(ctx context.Context, identityID, displayName string, embeddings []biometric.Embedding) (*Enrollment, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll_embeddings", "").With(zap.String("identity_id", identityID))
	if err := uc.validateRequest(identityID, len(embeddings)); err != nil {
		uc.metrics.IncEnrollment(metrics.OutcomeInvalid)
		return nil, err
	}
	return uc.persist(ctx, opLogger, identityID, displayName, embeddings)
}

func (uc *EnrollmentUseCase) validateRequest(identityID string, count int) error {
	if strings.TrimSpace(identityID) == "" {
		return biometric.NewValidationError("username", "is required")
	}
	if len(strings.TrimSpace(identityID)) > biometric.MaxIdentityIDLength {
		return biometric.NewValidationError("username", "must be at most %d bytes", biometric.MaxIdentityIDLength)
	}
	if count == 0 {
		return biometric.NewValidationError("images", "at least one image is required")
	}
	if uc.maxImages > 0 && count > uc.maxImages {
		return biometric.NewValidationError("images", "at most %d images per request, got %d", uc.maxImages, count)
	}
	return nil
}

func (uc *EnrollmentUseCase) persist(ctx context.Context, opLogger *zap.Logger, identityID, displayName string, embeddings []biometric.Embedding) (*Enrollment, error) {
	dim := uc.store.Dimension()
	for i, emb := range embeddings {
		if err := emb.Validate(dim); err != nil {
			uc.metrics.IncEnrollment(metrics.OutcomeInvalid)
			var vErr *biometric.ValidationError
			if errors.As(err, &vErr) {
				return nil, biometric.NewValidationError("embeddings", "item %d: %s", i+1, vErr.Reason)
			}
			return nil, err
		}
	}

	identity, err := uc.store.EnsureIdentity(ctx, identityID, displayName)
	if err != nil {
		uc.metrics.IncEnrollment(outcomeFor(err))
		opLogger.Error("failed to create identity", zap.Error(err))
		return nil, err
	}

	enrollment := &Enrollment{Identity: identity, Templates: make([]biometric.Template, 0, len(embeddings))}
	for _, emb := range embeddings {
		tmpl, err := uc.store.AddTemplate(ctx, identity.ID, emb)
		if err != nil {
			uc.metrics.AddTemplatesStored(len(enrollment.Templates))
			uc.metrics.IncEnrollment(outcomeFor(err))
			opLogger.Error("failed to store template", zap.Error(err), zap.Int("stored", len(enrollment.Templates)))
			return nil, err
		}
		enrollment.Templates = append(enrollment.Templates, tmpl)
	}

	uc.metrics.AddTemplatesStored(len(enrollment.Templates))
	uc.metrics.IncEnrollment(metrics.OutcomeSuccess)
	opLogger.Info("enrollment stored", zap.Int("templates", len(enrollment.Templates)))
	return enrollment, nil
}

func outcomeFor(err error) string {
	var vErr *biometric.ValidationError
	if errors.As(err, &vErr) {
		return metrics.OutcomeInvalid
	}
	return metrics.OutcomeError
}
