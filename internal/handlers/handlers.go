// Package handlers wires the verification flow to the Gin router.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/face-verify/internal/ensemble"
	"github.com/example/face-verify/internal/imaging"
	"github.com/example/face-verify/internal/quality"
	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/session"
)

// MaxUploadSize bounds a single capture upload.
const MaxUploadSize = 8 << 20

// VerificationService is the use case surface the handlers depend on.
type VerificationService interface {
	StartSession(ctx context.Context) (*session.VerificationSession, error)
	GetSession(ctx context.Context, id string) (*session.VerificationSession, error)
	SubmitSelfie(ctx context.Context, id string, imageBytes []byte) (*session.VerificationSession, *quality.Assessment, error)
	SubmitDocument(ctx context.Context, id string, imageBytes []byte, docType session.DocumentType) (*session.VerificationSession, *quality.Assessment, error)
	Verify(ctx context.Context, id, deviceInfo string) (*ensemble.VerificationResult, error)
	ResetSession(ctx context.Context, id string) error
	GoToStep(ctx context.Context, id string, step session.Step) (*session.VerificationSession, error)
	GetResult(ctx context.Context, sessionID string) (*repository.VerificationRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*repository.VerificationRecord, error)
	GetStats(ctx context.Context) (*repository.Stats, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc VerificationService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	if authMiddleware != nil {
		api.Use(authMiddleware)
	}

	api.POST("/sessions", func(c *gin.Context) {
		s, err := svc.StartSession(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sessionResponse(s))
	})

	api.GET("/sessions/:id", func(c *gin.Context) {
		s, err := svc.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sessionResponse(s))
	})

	api.POST("/sessions/:id/selfie", func(c *gin.Context) {
		data, ok := readUpload(c)
		if !ok {
			return
		}
		s, assessment, err := svc.SubmitSelfie(c.Request.Context(), c.Param("id"), data)
		if err != nil {
			respondCaptureError(c, assessment, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session": sessionResponse(s),
			"quality": assessment,
		})
	})

	api.POST("/sessions/:id/document", func(c *gin.Context) {
		docType := session.DocumentType(c.PostForm("document_type"))
		if !docType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "document_type must be one of CNH, RG, RNE, PASSPORT"})
			return
		}
		data, ok := readUpload(c)
		if !ok {
			return
		}
		s, assessment, err := svc.SubmitDocument(c.Request.Context(), c.Param("id"), data, docType)
		if err != nil {
			respondCaptureError(c, assessment, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session": sessionResponse(s),
			"quality": assessment,
		})
	})

	api.POST("/sessions/:id/verify", func(c *gin.Context) {
		result, err := svc.Verify(c.Request.Context(), c.Param("id"), c.Request.UserAgent())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.POST("/sessions/:id/reset", func(c *gin.Context) {
		if err := svc.ResetSession(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	})

	api.POST("/sessions/:id/step", func(c *gin.Context) {
		var body struct {
			Step session.Step `json:"step" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "step is required"})
			return
		}
		s, err := svc.GoToStep(c.Request.Context(), c.Param("id"), body.Step)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sessionResponse(s))
	})

	api.GET("/verifications/:id", func(c *gin.Context) {
		rec, err := svc.GetResult(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	api.GET("/verifications", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		recs, err := svc.ListRecent(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"verifications": recs})
	})

	api.GET("/stats", func(c *gin.Context) {
		stats, err := svc.GetStats(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})
}

// sessionResponse strips raw image bytes from API responses; clients only
// need the step bookkeeping and the outcome.
func sessionResponse(s *session.VerificationSession) gin.H {
	resp := gin.H{
		"id":        s.ID,
		"startedAt": s.StartedAt,
		"status":    s.Status,
		"step":      s.Step,
	}
	if s.CompletedAt != nil {
		resp["completedAt"] = s.CompletedAt
	}
	if s.SelfieTimestamp != nil {
		resp["selfieTimestamp"] = s.SelfieTimestamp
	}
	if s.DocumentTimestamp != nil {
		resp["documentTimestamp"] = s.DocumentTimestamp
		resp["documentType"] = s.DocumentType
	}
	if s.SimilarityScore != nil {
		resp["similarityScore"] = s.SimilarityScore
	}
	if s.Result != nil {
		resp["result"] = s.Result
	}
	return resp
}

func readUpload(c *gin.Context) ([]byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}
	if ct := file.Header.Get("Content-Type"); !allowedContentType(ct) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image content type"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	if len(data) > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}
	return data, true
}

func allowedContentType(ct string) bool {
	switch ct {
	case "image/jpeg", "image/png", "image/bmp":
		return true
	}
	return false
}

// respondCaptureError folds the quality assessment into the response for a
// rejected capture; the remaining errors map as usual.
func respondCaptureError(c *gin.Context, assessment *quality.Assessment, err error) {
	if errors.Is(err, quality.ErrCaptureRejected) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "capture rejected, please try again",
			"quality": assessment,
		})
		return
	}
	respondError(c, err)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, session.ErrAlreadyCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "verification already completed"})
	case errors.Is(err, session.ErrAlreadyProcessing):
		c.JSON(http.StatusConflict, gin.H{"error": "verification already processing"})
	case errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid step order"})
	case errors.Is(err, ensemble.ErrScoringUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scoring unavailable, please retry verification"})
	case errors.Is(err, imaging.ErrUnsupportedImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported or corrupt image"})
	default:
		// Detail stays server-side; gin's logger picks it up from the context.
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
