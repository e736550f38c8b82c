package handlers

import (
	"errors"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattend/internal/auth"
	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/match"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
	"github.com/your-org/faceattend/internal/session"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/pkg/dto"
)

// AdminHandler covers the privileged-actor lifecycle: enrollment (with the
// bootstrap rule), face login, session maintenance, and account management.
type AdminHandler struct {
	gate      *session.Gate
	authority *session.Authority
	registry  *match.Registry
	db        *storage.PostgresStore
	minio     *storage.MinIOStore
	live      *liveness.Engine
	cfg       config.Config

	EmbedFn func(imageData []byte) ([]float32, image.Rectangle, error)
	// RegionFn scopes the login liveness texture analysis to the detected
	// face. Optional.
	RegionFn func(img image.Image) (image.Rectangle, bool)
}

func NewAdminHandler(
	gate *session.Gate,
	authority *session.Authority,
	registry *match.Registry,
	db *storage.PostgresStore,
	minio *storage.MinIOStore,
	live *liveness.Engine,
	cfg config.Config,
) *AdminHandler {
	return &AdminHandler{
		gate:      gate,
		authority: authority,
		registry:  registry,
		db:        db,
		minio:     minio,
		live:      live,
		cfg:       cfg,
	}
}

// Enroll registers a privileged actor. The first enrollment into an empty
// registry needs no token and is forced to super_admin; after that a
// super_admin session is required.
func (h *AdminHandler) Enroll(c *gin.Context) {
	var req dto.EnrollAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token := auth.TokenFromRequest(c)

	// Early rejection before the embedding work; the authorization that
	// counts happens atomically inside EnrollAdmin below.
	if _, _, err := h.gate.AuthorizeEnroll(token); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, session.ErrInsufficientPrivilege) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
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
			samples = append(samples, nil)
			continue
		}
		embedding, _, err := h.EmbedFn(data)
		if err != nil {
			slog.Warn("skip admin enrollment image", "admin", req.ID, "index", i, "error", err)
			samples = append(samples, nil)
			continue
		}
		samples = append(samples, embedding)

		if _, err := h.minio.PutEnrollmentImage(c.Request.Context(), models.RegistryAdmins, req.ID, i, data); err != nil {
			slog.Warn("archive admin enrollment image", "admin", req.ID, "error", err)
		}
	}

	ident, claims, bootstrap, err := h.gate.EnrollAdmin(c.Request.Context(),
		token, req.ID, models.Role(req.Role), samples)
	if err != nil {
		switch {
		case errors.Is(err, match.ErrNoValidSample):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no usable face in any image"})
		case errors.Is(err, session.ErrInsufficientPrivilege):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrExpired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	adm := &models.Admin{
		ID:         req.ID,
		Name:       req.Name,
		Email:      req.Email,
		Role:       ident.Role,
		Active:     true,
		Registered: true,
	}
	if err := h.db.UpsertAdmin(c.Request.Context(), adm); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	actorID := claims.ActorID
	if bootstrap {
		actorID = "bootstrap"
	}
	h.logActivity(c, actorID, "enroll_admin", req.ID)

	c.JSON(http.StatusCreated, dto.AdminResponse{
		ID:         adm.ID,
		Name:       adm.Name,
		Email:      adm.Email,
		Role:       string(adm.Role),
		Active:     adm.Active,
		Registered: adm.Registered,
		CreatedAt:  adm.CreatedAt.Format(time.RFC3339),
	})
}

// Status reports whether any admin is enrolled yet, so a setup client knows
// when the bootstrap enrollment is still open.
func (h *AdminHandler) Status(c *gin.Context) {
	count := h.registry.Count()
	c.JSON(http.StatusOK, gin.H{
		"admin_exists":   count > 0,
		"bootstrap_open": count == 0,
	})
}

// Authenticate logs an admin in by face and mints a session token.
func (h *AdminHandler) Authenticate(c *gin.Context) {
	var req dto.AuthenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The same spoof gate as an attendance mark guards the login: a printed
	// photo must not mint a privileged session.
	if h.cfg.Liveness.Enabled {
		frames := decodeFrames(req.SpoofFrames)
		verdict, ok := passesLiveness(h.live, h.RegionFn, frames, req.EARValues)
		if !ok {
			observability.LivenessChecks.WithLabelValues("spoof").Inc()
			c.JSON(http.StatusForbidden, gin.H{
				"error":  "liveness check failed",
				"reason": verdict.Reason,
			})
			return
		}
		observability.LivenessChecks.WithLabelValues("real").Inc()
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	imageData, err := decodeBase64Image(req.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	probe, _, err := h.EmbedFn(imageData)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	sess, m, err := h.gate.Authenticate(probe, h.cfg.Vision.AdminTolerance)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInactive):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, match.ErrNoMatch), errors.Is(err, match.ErrEmptyRegistry):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "face not recognized"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	h.logActivity(c, m.ID, "login", "")

	c.JSON(http.StatusOK, dto.SessionResponse{
		Token:     sess.Token,
		ActorID:   sess.Claims.ActorID,
		Role:      string(sess.Claims.Role),
		ExpiresIn: sess.ExpiresIn.Seconds(),
	})
}

// Validate reports whether the caller's token is still good and how long it
// has left.
func (h *AdminHandler) Validate(c *gin.Context) {
	claims, remaining, err := h.authority.Validate(auth.TokenFromRequest(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.SessionStatusResponse{Valid: "invalid"})
		return
	}
	c.JSON(http.StatusOK, dto.SessionStatusResponse{
		Valid:            "valid",
		ActorID:          claims.ActorID,
		Role:             string(claims.Role),
		RemainingSeconds: remaining.Seconds(),
	})
}

// Extend resets the session inactivity window.
func (h *AdminHandler) Extend(c *gin.Context) {
	ttl, err := h.authority.Extend(auth.TokenFromRequest(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "extended", "expires_in_seconds": ttl.Seconds()})
}

// Logout invalidates the session. Always succeeds.
func (h *AdminHandler) Logout(c *gin.Context) {
	h.authority.Invalidate(auth.TokenFromRequest(c))
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (h *AdminHandler) List(c *gin.Context) {
	admins, err := h.db.ListAdmins(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.AdminResponse, 0, len(admins))
	for _, adm := range admins {
		resp = append(resp, dto.AdminResponse{
			ID:         adm.ID,
			Name:       adm.Name,
			Email:      adm.Email,
			Role:       string(adm.Role),
			Active:     adm.Active,
			Registered: adm.Registered,
			CreatedAt:  adm.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"admins": resp, "total": len(resp)})
}

// SetActive enables or disables an admin account. Requires super_admin.
// Deactivated admins still match by face but cannot log in.
func (h *AdminHandler) SetActive(c *gin.Context) {
	claims, err := h.authority.RequireRole(auth.TokenFromRequest(c), models.RoleSuperAdmin)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, session.ErrInsufficientPrivilege) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	var req dto.SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()

	if err := h.db.SetAdminActive(ctx, id, *req.Active); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.SetActive(ctx, id, *req.Active); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	action := "deactivate_admin"
	if *req.Active {
		action = "activate_admin"
	}
	h.logActivity(c, claims.ActorID, action, id)

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// Activity lists recent privileged actions.
func (h *AdminHandler) Activity(c *gin.Context) {
	entries, err := h.db.ListActivity(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ActivityResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, dto.ActivityResponse{
			ID:        e.ID.String(),
			ActorID:   e.ActorID,
			Action:    e.Action,
			TargetID:  e.TargetID,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"entries": resp, "total": len(resp)})
}

func (h *AdminHandler) logActivity(c *gin.Context, actorID, action, targetID string) {
	entry := &models.ActivityEntry{ActorID: actorID, Action: action, TargetID: targetID}
	if err := h.db.LogActivity(c.Request.Context(), entry); err != nil {
		slog.Warn("log activity", "action", action, "error", err)
	}
}
