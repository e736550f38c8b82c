package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Vision     VisionConfig     `yaml:"vision"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Session    SessionConfig    `yaml:"session"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	// Tolerance is the maximum accepted Euclidean distance between a probe
	// embedding and a stored centroid for a positive subject match.
	Tolerance float64 `yaml:"tolerance"`
	// AdminTolerance gates privileged authentication; stricter than Tolerance.
	AdminTolerance float64 `yaml:"admin_tolerance"`
}

type LivenessConfig struct {
	Enabled bool `yaml:"enabled"`
	// QuickMode skips blink detection entirely.
	QuickMode bool `yaml:"quick_mode"`
	// MinFrames is the minimum sequence length required to run the full
	// check. Shorter sequences pass optimistically.
	MinFrames int `yaml:"min_frames"`
	// Stride subsamples the frame sequence for motion analysis.
	Stride               int     `yaml:"stride"`
	LaplacianThreshold   float64 `yaml:"laplacian_threshold"`
	SobelThreshold       float64 `yaml:"sobel_threshold"`
	MotionPixelThreshold int     `yaml:"motion_pixel_threshold"`
	DiffThreshold        uint8   `yaml:"diff_threshold"`
	BlinkEARThreshold    float64 `yaml:"blink_ear_threshold"`
}

type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type AttendanceConfig struct {
	// MinDuration is the shortest punch-in→punch-out gap that still counts
	// as a work day; anything shorter discards the record.
	MinDuration time.Duration `yaml:"min_duration"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{Liveness: LivenessConfig{Enabled: true, QuickMode: true}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.Tolerance == 0 {
		cfg.Vision.Tolerance = 0.6
	}
	if cfg.Vision.AdminTolerance == 0 {
		cfg.Vision.AdminTolerance = 0.5
	}
	if cfg.Liveness.MinFrames == 0 {
		cfg.Liveness.MinFrames = 5
	}
	if cfg.Liveness.Stride == 0 {
		cfg.Liveness.Stride = 1
	}
	if cfg.Liveness.LaplacianThreshold == 0 {
		cfg.Liveness.LaplacianThreshold = 100
	}
	if cfg.Liveness.SobelThreshold == 0 {
		cfg.Liveness.SobelThreshold = 500
	}
	if cfg.Liveness.MotionPixelThreshold == 0 {
		cfg.Liveness.MotionPixelThreshold = 1000
	}
	if cfg.Liveness.DiffThreshold == 0 {
		cfg.Liveness.DiffThreshold = 25
	}
	if cfg.Liveness.BlinkEARThreshold == 0 {
		cfg.Liveness.BlinkEARThreshold = 0.25
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 5 * time.Minute
	}
	if cfg.Attendance.MinDuration == 0 {
		cfg.Attendance.MinDuration = 20 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FA_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FA_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FA_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FA_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FA_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FA_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FA_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FA_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FA_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FA_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FA_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FA_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FA_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.Tolerance = f
		}
	}
	if v := os.Getenv("FA_ADMIN_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.AdminTolerance = f
		}
	}
	if v := os.Getenv("FA_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = d
		}
	}
	if v := os.Getenv("FA_MIN_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Attendance.MinDuration = d
		}
	}
	if v := os.Getenv("FA_LIVENESS_ENABLED"); v != "" {
		cfg.Liveness.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FA_LIVENESS_QUICK_MODE"); v != "" {
		cfg.Liveness.QuickMode = v == "true" || v == "1"
	}
}
