package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/face-login/internal/biometric"
	"github.com/example/face-login/internal/repository"
)

type identityResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	Templates   int       `json:"templates"`
}

type templateResponse struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	CapturedAt time.Time `json:"captured_at"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

type matchResponse struct {
	Matched        bool                `json:"matched"`
	IdentityID     string              `json:"identity_id,omitempty"`
	BestIdentityID string              `json:"best_identity_id,omitempty"`
	Score          float64             `json:"score"`
	Threshold      float64             `json:"threshold"`
	ProbedAt       time.Time           `json:"probed_at"`
	Candidates     []candidateResponse `json:"candidates,omitempty"`
}

type candidateResponse struct {
	IdentityID string  `json:"identity_id"`
	Score      float64 `json:"score"`
}

func (h *handler) toIdentity(identity biometric.Identity) identityResponse {
	return identityResponse{
		ID:          identity.ID,
		DisplayName: identity.DisplayName,
		CreatedAt:   identity.CreatedAt,
		Templates:   len(h.deps.Catalog.ListTemplates(identity.ID)),
	}
}

func (h *handler) listIdentities(c *gin.Context) {
	identities := h.deps.Catalog.ListIdentities()
	out := make([]identityResponse, 0, len(identities))
	for _, identity := range identities {
		out = append(out, h.toIdentity(identity))
	}
	c.JSON(http.StatusOK, gin.H{"identities": out})
}

func (h *handler) getIdentity(c *gin.Context) {
	identity, err := h.deps.Catalog.GetIdentity(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toIdentity(identity))
}

// listTemplates omits embeddings unless ?embeddings=true.
func (h *handler) listTemplates(c *gin.Context) {
	withEmbeddings := c.Query("embeddings") == "true"
	templates := h.deps.Catalog.ListTemplates(c.Param("id"))
	out := make([]templateResponse, 0, len(templates))
	for _, tmpl := range templates {
		resp := templateResponse{ID: tmpl.ID, IdentityID: tmpl.IdentityID, CapturedAt: tmpl.CapturedAt}
		if withEmbeddings {
			resp.Embedding = tmpl.Embedding
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, gin.H{"templates": out})
}

type addTemplatesRequest struct {
	DisplayName string      `json:"display_name"`
	Embedding   []float32   `json:"embedding"`
	Embeddings  [][]float32 `json:"embeddings"`
}

func (h *handler) addTemplates(c *gin.Context) {
	var body addTemplatesRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, bodyError(err))
		return
	}
	embeddings := make([]biometric.Embedding, 0, len(body.Embeddings)+1)
	if body.Embedding != nil {
		embeddings = append(embeddings, body.Embedding)
	}
	for _, e := range body.Embeddings {
		embeddings = append(embeddings, e)
	}

	id := c.Param("id")
	displayName := body.DisplayName
	if displayName == "" {
		displayName = id
	}
	enrollment, err := h.deps.Enrollment.EnrollEmbeddings(c.Request.Context(), id, displayName, embeddings)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]templateResponse, 0, len(enrollment.Templates))
	for _, tmpl := range enrollment.Templates {
		out = append(out, templateResponse{ID: tmpl.ID, IdentityID: tmpl.IdentityID, CapturedAt: tmpl.CapturedAt})
	}
	c.JSON(http.StatusCreated, gin.H{"identity_id": enrollment.Identity.ID, "templates": out})
}

type matchRequest struct {
	Embedding []float32 `json:"embedding"`
	Threshold *float64  `json:"threshold"`
	TopK      int       `json:"top_k"`
}

func (h *handler) match(c *gin.Context) {
	var body matchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, bodyError(err))
		return
	}
	if body.TopK < 0 {
		h.writeError(c, biometric.NewValidationError("top_k", "must not be negative"))
		return
	}

	match, err := h.deps.Recognition.MatchEmbedding(c.Request.Context(), body.Embedding, body.Threshold, body.TopK)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := matchResponse{
		Matched:        match.Result.Matched,
		IdentityID:     match.Result.IdentityID,
		BestIdentityID: match.Result.BestIdentityID,
		Score:          match.Result.Score,
		Threshold:      match.Result.Threshold,
		ProbedAt:       match.Result.ProbedAt,
	}
	for _, cand := range match.Candidates {
		resp.Candidates = append(resp.Candidates, candidateResponse{IdentityID: cand.IdentityID, Score: cand.Score})
	}
	c.JSON(http.StatusOK, resp)
}

func toRecognition(log *repository.RecognitionLog) gin.H {
	return gin.H{
		"request_id":       log.RequestID,
		"subject":          log.Subject,
		"identity_id":      log.IdentityID,
		"best_identity_id": log.BestIdentityID,
		"matched":          log.Matched,
		"score":            log.Score,
		"threshold":        log.Threshold,
		"latency_ms":       log.LatencyMs,
		"details":          log.Details,
		"created_at":       log.CreatedAt,
	}
}

func (h *handler) getRecognition(c *gin.Context) {
	log, err := h.deps.Recognition.GetRecognition(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecognition(log))
}

func (h *handler) getDuplicates(c *gin.Context) {
	report, err := h.deps.Recognition.GetDuplicateReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	duplicates := make([]gin.H, 0, len(report.Duplicates))
	for _, log := range report.Duplicates {
		duplicates = append(duplicates, toRecognition(log))
	}
	c.JSON(http.StatusOK, gin.H{
		"request":    toRecognition(report.Request),
		"duplicates": duplicates,
	})
}

func (h *handler) stats(c *gin.Context) {
	summary, err := h.deps.Recognition.Summary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"store":        h.deps.Catalog.Stats(),
		"recognitions": summary,
		"threshold":    h.deps.Recognition.Threshold(),
	})
}
