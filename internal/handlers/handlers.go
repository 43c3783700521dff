package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-login/internal/auth"
	"github.com/example/face-login/internal/biometric"
	"github.com/example/face-login/internal/grpcclient"
	"github.com/example/face-login/internal/middleware"
	"github.com/example/face-login/internal/repository"
	"github.com/example/face-login/internal/store"
	"github.com/example/face-login/internal/usecase"
)

// MaxUploadSize is the default per-image upload limit.
const MaxUploadSize = 5 << 20

// Enroller runs the Register flow.
type Enroller interface {
	Enroll(ctx context.Context, req usecase.EnrollRequest) (*usecase.Enrollment, error)
	EnrollEmbeddings(ctx context.Context, identityID, displayName string, embeddings []biometric.Embedding) (*usecase.Enrollment, error)
}

// Recognizer runs the Recognize flow and serves its history.
type Recognizer interface {
	Recognize(ctx context.Context, subject string, image []byte) (*usecase.Recognition, error)
	MatchEmbedding(ctx context.Context, probe biometric.Embedding, threshold *float64, topK int) (*usecase.EmbeddingMatch, error)
	GetRecognition(ctx context.Context, requestID string) (*repository.RecognitionLog, error)
	GetDuplicateReport(ctx context.Context, requestID string) (*usecase.DuplicateReport, error)
	Summary(ctx context.Context) (*usecase.Summary, error)
	Threshold() float64
}

// Catalog is the read side of the template store.
type Catalog interface {
	GetIdentity(id string) (biometric.Identity, error)
	ListIdentities() []biometric.Identity
	ListTemplates(identityID string) []biometric.Template
	Stats() store.Stats
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck is one named dependency probed by /ready.
type ReadinessCheck struct {
	Name   string
	Pinger Pinger
}

// Deps groups everything the routes need.
type Deps struct {
	Enrollment  Enroller
	Recognition Recognizer
	Catalog     Catalog
	Readiness   []ReadinessCheck
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Auth guards every route except health, readiness and metrics when set.
	Auth      gin.HandlerFunc
	RateLimit gin.HandlerFunc
	// MaxUploadSize limits each image; zero means MaxUploadSize.
	MaxUploadSize int64
	// MaxImages bounds the images accepted by one register request.
	MaxImages int
	Logger    *zap.Logger
}

type handler struct {
	deps   Deps
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Deps) {
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = MaxUploadSize
	}
	if deps.MaxImages <= 0 {
		deps.MaxImages = 1
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handler{deps: deps, logger: deps.Logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", h.ready)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	guarded := []gin.HandlerFunc{}
	if deps.Auth != nil {
		guarded = append(guarded, deps.Auth)
	}

	capture := append([]gin.HandlerFunc{}, guarded...)
	if deps.RateLimit != nil {
		capture = append(capture, deps.RateLimit)
	}
	router.POST("/register", append(capture, h.register)...)
	router.POST("/recognize", append(capture, h.recognize)...)

	api := router.Group("/api/v1", guarded...)
	api.GET("/identities", h.listIdentities)
	api.GET("/identities/:id", h.getIdentity)
	api.GET("/identities/:id/templates", h.listTemplates)
	api.POST("/identities/:id/templates", h.addTemplates)
	api.POST("/match", h.match)
	api.GET("/recognitions/:id", h.getRecognition)
	api.GET("/recognitions/:id/duplicates", h.getDuplicates)
	api.GET("/stats", h.stats)
}

func (h *handler) ready(c *gin.Context) {
	checks := gin.H{}
	status := http.StatusOK
	for _, check := range h.deps.Readiness {
		if err := check.Pinger.Ping(c.Request.Context()); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", check.Name), zap.Error(err))
			checks[check.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[check.Name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

type registerRequest struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Image       string   `json:"image"`
	Images      []string `json:"images"`
}

func (h *handler) register(c *gin.Context) {
	limit := h.bodyLimit(h.deps.MaxImages)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	var req usecase.EnrollRequest
	switch {
	case isMultipart(c):
		form, err := c.MultipartForm()
		if err != nil {
			h.writeError(c, bodyError(err))
			return
		}
		req.IdentityID = firstValue(form.Value["username"])
		req.DisplayName = firstValue(form.Value["display_name"])
		files := append(form.File["image"], form.File["images"]...)
		for _, fh := range files {
			data, err := readFormFile(fh, h.deps.MaxUploadSize)
			if err != nil {
				h.writeError(c, err)
				return
			}
			req.Images = append(req.Images, data)
		}
	case isJSON(c):
		var body registerRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			h.writeError(c, bodyError(err))
			return
		}
		values := body.Images
		if body.Image != "" {
			values = append([]string{body.Image}, values...)
		}
		images, err := decodeImages("image", values, h.deps.MaxUploadSize)
		if err != nil {
			h.writeError(c, err)
			return
		}
		req.IdentityID = body.Username
		req.DisplayName = body.DisplayName
		req.Images = images
	default:
		h.writeError(c, errUnsupportedContent)
		return
	}

	req.IdentityID = strings.TrimSpace(req.IdentityID)
	if req.DisplayName == "" {
		req.DisplayName = req.IdentityID
	}

	enrollment, err := h.deps.Enrollment.Enroll(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "Face saved!",
		"identity_id": enrollment.Identity.ID,
		"name":        enrollment.Identity.DisplayName,
		"templates":   len(enrollment.Templates),
	})
}

type recognizeRequest struct {
	Image string `json:"image"`
}

func (h *handler) recognize(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.bodyLimit(1))

	var image []byte
	switch {
	case isMultipart(c):
		fh, err := c.FormFile("image")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				h.writeError(c, biometric.NewValidationError("image", "image file is required"))
				return
			}
			h.writeError(c, bodyError(err))
			return
		}
		image, err = readFormFile(fh, h.deps.MaxUploadSize)
		if err != nil {
			h.writeError(c, err)
			return
		}
	case isJSON(c):
		var body recognizeRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			h.writeError(c, bodyError(err))
			return
		}
		images, err := decodeImages("image", []string{body.Image}, h.deps.MaxUploadSize)
		if err != nil {
			h.writeError(c, err)
			return
		}
		image = images[0]
	default:
		h.writeError(c, errUnsupportedContent)
		return
	}

	subject, _ := auth.GetSubject(c.Request.Context())
	recognition, err := h.deps.Recognition.Recognize(c.Request.Context(), subject, image)
	if err != nil {
		var noFace *biometric.NoFaceDetectedError
		if errors.As(err, &noFace) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"name":     "Unknown",
				"matched":  false,
				"score":    0.0,
				"face_box": nil,
				"error":    err.Error(),
			})
			return
		}
		h.writeError(c, err)
		return
	}

	result := recognition.Result
	name := "Unknown"
	if result.Matched {
		name = recognition.DisplayName
		if name == "" {
			name = result.IdentityID
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id":  recognition.RequestID,
		"name":        name,
		"identity_id": result.IdentityID,
		"matched":     result.Matched,
		"score":       result.Score,
		"threshold":   result.Threshold,
		"face_box":    recognition.Box,
	})
}

func (h *handler) bodyLimit(images int) int64 {
	// base64 inflates by 4/3; leave room for form fields and JSON framing.
	return h.deps.MaxUploadSize*int64(images)*4/3 + 64<<10
}

func (h *handler) writeError(c *gin.Context, err error) {
	var (
		validation *biometric.ValidationError
		noFace     *biometric.NoFaceDetectedError
		notFound   *biometric.NotFoundError
		tooLarge   *http.MaxBytesError
	)
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.As(err, &validation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.As(err, &noFace):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &notFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, errUploadTooLarge), errors.As(err, &tooLarge):
		status, message = http.StatusRequestEntityTooLarge, errUploadTooLarge.Error()
	case errors.Is(err, errUnsupportedContent):
		status, message = http.StatusUnsupportedMediaType, "only JPEG, PNG and WebP images are accepted"
	case errors.Is(err, grpcclient.ErrExtractorUnavailable):
		status, message = http.StatusServiceUnavailable, "feature extractor unavailable, retry later"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.GetRequestID(c)),
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// bodyError maps request decoding failures onto the upload and validation errors.
func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errUploadTooLarge
	}
	return biometric.NewValidationError("body", "%v", err)
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

func isJSON(c *gin.Context) bool {
	ct := c.ContentType()
	return ct == "" || ct == gin.MIMEJSON
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
