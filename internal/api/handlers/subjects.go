package handlers

import (
	"errors"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattend/internal/auth"
	"github.com/your-org/faceattend/internal/match"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/pkg/dto"
)

type SubjectHandler struct {
	registry *match.Registry
	db       *storage.PostgresStore
	minio    *storage.MinIOStore

	// EmbedFn extracts a single-face embedding from image bytes.
	EmbedFn func(imageData []byte) ([]float32, image.Rectangle, error)
}

func NewSubjectHandler(registry *match.Registry, db *storage.PostgresStore, minio *storage.MinIOStore) *SubjectHandler {
	return &SubjectHandler{registry: registry, db: db, minio: minio}
}

// Enroll registers a subject from sample photos. Photos that fail face
// extraction are skipped; the enrollment fails only if none survive.
func (h *SubjectHandler) Enroll(c *gin.Context) {
	var req dto.EnrollSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	samples := make([][]float32, 0, len(req.Images))
	for i, encoded := range req.Images {
		data, err := decodeBase64Image(encoded)
		if err != nil {
			slog.Warn("skip enrollment image", "subject", req.ID, "index", i, "error", err)
			samples = append(samples, nil)
			continue
		}
		embedding, _, err := h.EmbedFn(data)
		if err != nil {
			slog.Warn("skip enrollment image", "subject", req.ID, "index", i, "error", err)
			samples = append(samples, nil)
			continue
		}
		samples = append(samples, embedding)

		if _, err := h.minio.PutEnrollmentImage(c.Request.Context(), models.RegistrySubjects, req.ID, i, data); err != nil {
			slog.Warn("archive enrollment image", "subject", req.ID, "error", err)
		}
	}

	if _, err := h.registry.Enroll(c.Request.Context(), req.ID, models.RoleSubject, samples); err != nil {
		if errors.Is(err, match.ErrNoValidSample) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no usable face in any image"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sub := &models.Subject{
		ID:         req.ID,
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
		Registered: true,
	}
	if err := h.db.UpsertSubject(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logActivity(c, "enroll_subject", req.ID)

	c.JSON(http.StatusCreated, dto.SubjectResponse{
		ID:         sub.ID,
		Name:       sub.Name,
		Email:      sub.Email,
		Department: sub.Department,
		Registered: sub.Registered,
		CreatedAt:  sub.CreatedAt.Format(time.RFC3339),
	})
}

func (h *SubjectHandler) List(c *gin.Context) {
	subjects, err := h.db.ListSubjects(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.SubjectResponse, 0, len(subjects))
	for _, sub := range subjects {
		resp = append(resp, dto.SubjectResponse{
			ID:         sub.ID,
			Name:       sub.Name,
			Email:      sub.Email,
			Department: sub.Department,
			Registered: sub.Registered,
			CreatedAt:  sub.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"subjects": resp, "total": len(resp)})
}

func (h *SubjectHandler) Get(c *gin.Context) {
	sub, err := h.db.GetSubject(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
		return
	}

	c.JSON(http.StatusOK, dto.SubjectResponse{
		ID:         sub.ID,
		Name:       sub.Name,
		Email:      sub.Email,
		Department: sub.Department,
		Registered: sub.Registered,
		CreatedAt:  sub.CreatedAt.Format(time.RFC3339),
	})
}

// Delete revokes a subject: embedding, directory row, archived photos.
func (h *SubjectHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := h.registry.Revoke(ctx, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.db.DeleteSubject(ctx, id); err != nil {
		slog.Warn("delete subject row", "subject", id, "error", err)
	}
	if err := h.minio.DeleteIdentityImages(ctx, models.RegistrySubjects, id); err != nil {
		slog.Warn("delete subject images", "subject", id, "error", err)
	}

	h.logActivity(c, "revoke_subject", id)

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *SubjectHandler) logActivity(c *gin.Context, action, targetID string) {
	actorID := "unknown"
	if claims, ok := auth.SessionClaims(c); ok {
		actorID = claims.ActorID
	}
	entry := &models.ActivityEntry{ActorID: actorID, Action: action, TargetID: targetID}
	if err := h.db.LogActivity(c.Request.Context(), entry); err != nil {
		slog.Warn("log activity", "action", action, "error", err)
	}
}
