package handlers

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/match"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/internal/vision"
	"github.com/your-org/faceattend/pkg/dto"
)

// attendanceDirectory is the read side the handler needs from Postgres:
// name resolution for both kinds of enrolled people plus the query endpoints.
type attendanceDirectory interface {
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
	GetAdmin(ctx context.Context, id string) (*models.Admin, error)
	AttendanceForDate(ctx context.Context, date string) ([]storage.TodayEntry, error)
	AttendanceHistory(ctx context.Context, subjectID, from, to string) ([]models.AttendanceDay, error)
	AttendanceReport(ctx context.Context, from, to string) ([]storage.ReportEntry, error)
	AttendanceStatistics(ctx context.Context, from, to string) ([]storage.SubjectStats, error)
}

// snapshotArchive stores the verification image of a successful mark.
type snapshotArchive interface {
	PutMarkSnapshot(ctx context.Context, subjectID string, at time.Time, data []byte) (string, error)
}

// markPublisher fans the mark decision out to downstream consumers.
type markPublisher interface {
	PublishMark(ctx context.Context, action string, data interface{}) error
}

// AttendanceHandler drives the full mark flow: liveness, identification,
// day transition, then the side channels (snapshot, NATS, metrics).
type AttendanceHandler struct {
	engine   *attendance.Engine
	subjects *match.Registry
	admins   *match.Registry
	live     *liveness.Engine
	db       attendanceDirectory
	minio    snapshotArchive
	producer markPublisher
	cfg      config.Config

	// EmbedFn extracts a single-face embedding from image bytes.
	// Set after the vision pipeline is initialized.
	EmbedFn func(imageData []byte) ([]float32, image.Rectangle, error)
	// RegionFn locates the face in a decoded frame, scoping the liveness
	// texture analysis. Optional; nil analyzes whole frames.
	RegionFn func(img image.Image) (image.Rectangle, bool)
}

func NewAttendanceHandler(
	engine *attendance.Engine,
	subjects *match.Registry,
	admins *match.Registry,
	live *liveness.Engine,
	db attendanceDirectory,
	minio snapshotArchive,
	producer markPublisher,
	cfg config.Config,
) *AttendanceHandler {
	return &AttendanceHandler{
		engine:   engine,
		subjects: subjects,
		admins:   admins,
		live:     live,
		db:       db,
		minio:    minio,
		producer: producer,
		cfg:      cfg,
	}
}

// Mark handles one attendance attempt. The same endpoint punches in,
// punches out, or discards; the day state decides which.
func (h *AttendanceHandler) Mark(c *gin.Context) {
	var req dto.MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	imageData, err := decodeBase64Image(req.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

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

	embedding, _, err := h.EmbedFn(imageData)
	if err != nil {
		if errors.Is(err, vision.ErrNoFace) || errors.Is(err, vision.ErrMultipleFaces) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Joint search: admins punch in and out like anyone else.
	m, err := match.Identify(embedding, h.cfg.Vision.Tolerance, h.subjects, h.admins)
	if err != nil {
		observability.Identifications.WithLabelValues("rejected").Inc()
		if errors.Is(err, match.ErrNoMatch) || errors.Is(err, match.ErrEmptyRegistry) {
			c.JSON(http.StatusNotFound, gin.H{"error": "face not recognized"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	observability.Identifications.WithLabelValues("matched").Inc()
	observability.MatchDistance.Observe(m.Distance)

	decision, err := h.engine.Mark(c.Request.Context(), m.ID)
	if err != nil {
		switch {
		case errors.Is(err, attendance.ErrAlreadyComplete),
			errors.Is(err, attendance.ErrAlreadyPunchedIn):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "subject_id": m.ID})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	observability.AttendanceMarks.WithLabelValues(string(decision.Action)).Inc()

	name := h.resolveName(c.Request.Context(), m)

	// Snapshot and event publication are best-effort; the decision already
	// landed in the database.
	if _, err := h.minio.PutMarkSnapshot(c.Request.Context(), m.ID, decision.Time, imageData); err != nil {
		slog.Warn("archive mark snapshot", "error", err, "subject", m.ID)
	}

	event := models.AttendanceEvent{
		SubjectID:   m.ID,
		Name:        name,
		Action:      string(decision.Action),
		Time:        decision.Time,
		HoursWorked: decision.HoursWorked,
		Confidence:  m.Confidence,
	}
	if err := h.producer.PublishMark(c.Request.Context(), string(decision.Action), event); err != nil {
		slog.Warn("publish attendance event", "error", err, "subject", m.ID)
	}

	resp := dto.MarkResponse{
		Action:     string(decision.Action),
		SubjectID:  m.ID,
		Name:       name,
		Time:       decision.Time.Format(time.RFC3339),
		Confidence: m.Confidence,
	}
	if decision.Action == attendance.ActionPunchOut {
		hours := decision.HoursWorked
		resp.HoursWorked = &hours
	}
	c.JSON(http.StatusOK, resp)
}

// resolveName looks the matched identity's display name up in the registry
// it came from, falling back to the id.
func (h *AttendanceHandler) resolveName(ctx context.Context, m match.Match) string {
	if m.Kind == models.RegistryAdmins {
		if adm, err := h.db.GetAdmin(ctx, m.ID); err == nil && adm != nil {
			return adm.Name
		}
		return m.ID
	}
	if sub, err := h.db.GetSubject(ctx, m.ID); err == nil && sub != nil {
		return sub.Name
	}
	return m.ID
}

// Today lists every subject's state for the current date.
func (h *AttendanceHandler) Today(c *gin.Context) {
	date := time.Now().Format("2006-01-02")
	entries, err := h.db.AttendanceForDate(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.TodayEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := dto.TodayEntryResponse{
			SubjectID:   e.SubjectID,
			Name:        e.Name,
			PunchIn:     e.PunchIn.Format(time.RFC3339),
			HoursWorked: e.HoursWorked,
		}
		if e.PunchOut != nil {
			out := e.PunchOut.Format(time.RFC3339)
			item.PunchOut = &out
		}
		resp = append(resp, item)
	}

	c.JSON(http.StatusOK, gin.H{"date": date, "entries": resp, "total": len(resp)})
}

// History returns one subject's attendance over a date range
// (default: the last 30 days).
func (h *AttendanceHandler) History(c *gin.Context) {
	subjectID := c.Param("id")

	to := c.DefaultQuery("to", time.Now().Format("2006-01-02"))
	from := c.DefaultQuery("from", time.Now().AddDate(0, 0, -30).Format("2006-01-02"))

	days, err := h.db.AttendanceHistory(c.Request.Context(), subjectID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.HistoryEntryResponse, 0, len(days))
	for _, d := range days {
		item := dto.HistoryEntryResponse{
			Date:        d.Date,
			PunchIn:     d.PunchIn.Format(time.RFC3339),
			HoursWorked: d.HoursWorked,
		}
		if d.PunchOut != nil {
			out := d.PunchOut.Format(time.RFC3339)
			item.PunchOut = &out
		}
		resp = append(resp, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"subject_id": subjectID,
		"from":       from,
		"to":         to,
		"entries":    resp,
		"total":      len(resp),
	})
}

// Report lists every attendance row over a date range
// (default: the last 7 days).
func (h *AttendanceHandler) Report(c *gin.Context) {
	to := c.DefaultQuery("to", time.Now().Format("2006-01-02"))
	from := c.DefaultQuery("from", time.Now().AddDate(0, 0, -7).Format("2006-01-02"))

	entries, err := h.db.AttendanceReport(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "entries": entries, "total": len(entries)})
}

// Statistics aggregates completed days per subject over a date range
// (default: the current month).
func (h *AttendanceHandler) Statistics(c *gin.Context) {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	from := c.DefaultQuery("from", monthStart.Format("2006-01-02"))
	to := c.DefaultQuery("to", now.Format("2006-01-02"))

	stats, err := h.db.AttendanceStatistics(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StatisticsResponse, 0, len(stats))
	for _, st := range stats {
		resp = append(resp, dto.StatisticsResponse{
			SubjectID:    st.SubjectID,
			Name:         st.Name,
			DaysPresent:  st.DaysPresent,
			TotalHours:   st.TotalHours,
			AverageHours: st.AverageHours,
		})
	}

	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "subjects": resp, "total": len(resp)})
}
