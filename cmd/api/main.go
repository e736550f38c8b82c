package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceattend/internal/api"
	"github.com/your-org/faceattend/internal/api/ws"
	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/match"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
	"github.com/your-org/faceattend/internal/queue"
	"github.com/your-org/faceattend/internal/session"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/internal/vision"
	"github.com/your-org/faceattend/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting attendance API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStream(context.Background()); err != nil {
		slog.Warn("ensure nats stream", "error", err)
	}

	// Load enrolled identities into memory
	subjects, err := match.NewRegistry(context.Background(), models.RegistrySubjects, db)
	if err != nil {
		slog.Error("load subject registry", "error", err)
		os.Exit(1)
	}
	admins, err := match.NewRegistry(context.Background(), models.RegistryAdmins, db)
	if err != nil {
		slog.Error("load admin registry", "error", err)
		os.Exit(1)
	}
	slog.Info("registries loaded", "subjects", subjects.Count(), "admins", admins.Count())

	// Session authority and enrollment gate
	authority := session.NewAuthority(cfg.Session.TTL)
	gate := session.NewGate(authority, admins)

	// Core engines
	engine := attendance.NewEngine(db, cfg.Attendance.MinDuration)
	live := liveness.NewEngine(cfg.Liveness)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Fan attendance events out to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create attendance consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeMarks(ctx, "api-marks", func(ctx context.Context, msg jetstream.Msg) error {
		var event models.AttendanceEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			return err
		}

		resp := dto.MarkResponse{
			Action:     event.Action,
			SubjectID:  event.SubjectID,
			Name:       event.Name,
			Time:       event.Time.Format(time.RFC3339),
			Confidence: event.Confidence,
		}
		if event.HoursWorked > 0 {
			hours := event.HoursWorked
			resp.HoursWorked = &hours
		}

		hub.BroadcastMark(&dto.WSEvent{Type: "attendance_mark", Data: resp})
		return nil
	})
	if err != nil {
		slog.Warn("start attendance consumer", "error", err)
	}

	// Initialize ONNX Runtime for face detection and embedding
	var (
		embedFn  func([]byte) ([]float32, image.Rectangle, error)
		regionFn func(image.Image) (image.Rectangle, bool)
	)

	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Warn("onnx runtime init failed — face endpoints will be unavailable", "error", err)
	} else {
		pipeline, err := vision.NewPipeline(cfg.Vision)
		if err != nil {
			slog.Warn("vision pipeline init failed — face endpoints will be unavailable", "error", err)
		} else {
			embedFn = pipeline.EmbedSingleFace
			regionFn = pipeline.FaceRegion
			defer pipeline.Close()
			defer ort.DestroyEnvironment()
		}
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		Cfg:       *cfg,
		DB:        db,
		MinIO:     minioStore,
		Producer:  producer,
		Hub:       hub,
		Subjects:  subjects,
		Admins:    admins,
		Authority: authority,
		Gate:      gate,
		Engine:    engine,
		Liveness:  live,
		EmbedFn:   embedFn,
		RegionFn:  regionFn,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
