package api

import (
	"image"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceattend/internal/api/handlers"
	"github.com/your-org/faceattend/internal/api/ws"
	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/auth"
	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/match"
	"github.com/your-org/faceattend/internal/queue"
	"github.com/your-org/faceattend/internal/session"
	"github.com/your-org/faceattend/internal/storage"
)

type RouterConfig struct {
	Cfg       config.Config
	DB        *storage.PostgresStore
	MinIO     *storage.MinIOStore
	Producer  *queue.Producer
	Hub       *ws.Hub
	Subjects  *match.Registry
	Admins    *match.Registry
	Authority *session.Authority
	Gate      *session.Gate
	Engine    *attendance.Engine
	Liveness  *liveness.Engine
	// EmbedFn extracts a single-face embedding from image bytes
	// (from the vision pipeline).
	EmbedFn func(imageData []byte) ([]float32, image.Rectangle, error)
	// RegionFn locates the face in a decoded frame for liveness scoping.
	RegionFn func(img image.Image) (image.Rectangle, bool)
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.Cfg.Server.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Attendance (the kiosk path — no session, the face is the credential)
	attH := handlers.NewAttendanceHandler(cfg.Engine, cfg.Subjects, cfg.Admins,
		cfg.Liveness, cfg.DB, cfg.MinIO, cfg.Producer, cfg.Cfg)
	attH.EmbedFn = cfg.EmbedFn
	attH.RegionFn = cfg.RegionFn
	v1.POST("/attendance/mark", attH.Mark)
	v1.GET("/attendance/today", attH.Today)
	v1.GET("/attendance/report", attH.Report)
	v1.GET("/attendance/statistics", attH.Statistics)

	// Admin identity and sessions (bootstrap-aware auth inside the handlers)
	adminH := handlers.NewAdminHandler(cfg.Gate, cfg.Authority, cfg.Admins,
		cfg.DB, cfg.MinIO, cfg.Liveness, cfg.Cfg)
	adminH.EmbedFn = cfg.EmbedFn
	adminH.RegionFn = cfg.RegionFn
	v1.POST("/admins", adminH.Enroll)
	v1.GET("/admins/status", adminH.Status)
	v1.POST("/admins/authenticate", adminH.Authenticate)
	v1.GET("/admins/session", adminH.Validate)
	v1.POST("/admins/session/extend", adminH.Extend)
	v1.POST("/admins/logout", adminH.Logout)
	v1.GET("/admins", adminH.List)
	v1.PATCH("/admins/:id/active", adminH.SetActive)
	v1.GET("/admins/activity", adminH.Activity)

	// Subject directory (requires an admin session)
	subjectH := handlers.NewSubjectHandler(cfg.Subjects, cfg.DB, cfg.MinIO)
	subjectH.EmbedFn = cfg.EmbedFn
	subjects := v1.Group("/subjects")
	subjects.Use(auth.RequireSession(cfg.Authority))
	subjects.POST("", subjectH.Enroll)
	subjects.GET("", subjectH.List)
	subjects.GET("/:id", subjectH.Get)
	subjects.DELETE("/:id", subjectH.Delete)
	subjects.GET("/:id/attendance", attH.History)

	return r
}
