package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the gomedia services.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Storage  StorageConfig
	Media    MediaConfig
	Sanitize SanitizeConfig
	Quota    QuotaConfig
	Worker   WorkerConfig
	Auth     AuthConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host          string
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	MaxUploadSize int64
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// MaxConns must leave room for the job listener and one connection per
	// busy worker.
	MaxConns int32
	// LockConns sizes the separate pool that holds advisory locks.
	LockConns int32
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// Storage backend kinds.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// StorageConfig selects and parameterizes the attachment file store.
type StorageConfig struct {
	Kind        string
	PathPrefix  string
	RootDir     string
	PublicURL   string
	InlineTypes []string
	URLTTL      time.Duration
	MinIO       MinIOConfig
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// Bound is a named maximum box for a derivative.
type Bound struct {
	Name   string
	Width  int
	Height int
}

// MediaConfig drives derivative generation.
type MediaConfig struct {
	ImageBounds       []Bound
	PosterBound       Bound
	VideoBound        Bound
	FFmpegPath        string
	FFprobePath       string
	ToolTimeout       time.Duration
	PresetFile        string
	PresetName        string
	TempDir           string
	SharedDir         string
	RenderConcurrency int
	JPEGQuality       int
}

// SanitizeConfig drives the metadata sanitizer.
type SanitizeConfig struct {
	ExiftoolPath string
	Timeout      time.Duration
	Remove       []string
	Ignore       []string
}

// QuotaConfig bounds deferred work per user.
type QuotaConfig struct {
	MaxInProgress int
}

// WorkerConfig parameterizes the job worker pool.
type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	StuckAfter   time.Duration
	SweepEvery   time.Duration
	TempMaxAge   time.Duration
	Embedded     bool
	MetricsAddr  string
}

// AuthConfig groups authentication-related settings.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenTTL    time.Duration
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

var defaultRemoveTags = []string{
	"*:GPS*",
	"*:SerialNumber",
	"*:*SerialNumber",
	"*:OwnerName",
	"*:CameraOwnerName",
	"*:Artist",
	"*:Copyright",
	"*:*Location*",
	"*:City",
	"*:Country*",
	"*:UserComment",
	"XMP-*:*",
}

var defaultIgnoreTags = []string{
	"SourceFile",
	"ExifTool:*",
	"System:*",
	"File:*",
	"Composite:*",
	"ICC_Profile:*",
	"ICC-*:*",
	"IFD0:Orientation",
}

var defaultInlineTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"audio/mpeg",
	"audio/mp4",
	"audio/ogg",
	"video/mp4",
	"video/webm",
	"text/plain",
	"application/pdf",
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	bounds, err := ParseBounds(getString("GOMEDIA_IMAGE_BOUNDS", "thumbnails:525x175,thumbnails2:1050x350"))
	if err != nil {
		return Config{}, fmt.Errorf("GOMEDIA_IMAGE_BOUNDS: %w", err)
	}
	poster, err := parseBound(getString("GOMEDIA_POSTER_BOUND", "p1:1050x350"))
	if err != nil {
		return Config{}, fmt.Errorf("GOMEDIA_POSTER_BOUND: %w", err)
	}
	video, err := parseBound(getString("GOMEDIA_VIDEO_BOUND", "v1:1280x720"))
	if err != nil {
		return Config{}, fmt.Errorf("GOMEDIA_VIDEO_BOUND: %w", err)
	}

	tempDir := getString("GOMEDIA_TEMP_DIR", os.TempDir())

	cfg := Config{
		Server: ServerConfig{
			Host:          getString("GOMEDIA_API_HOST", "0.0.0.0"),
			Port:          getInt("GOMEDIA_API_PORT", 8080),
			ReadTimeout:   getDuration("GOMEDIA_API_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:  getDuration("GOMEDIA_API_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:   getDuration("GOMEDIA_API_IDLE_TIMEOUT", 60*time.Second),
			MaxUploadSize: int64(getInt("GOMEDIA_MAX_UPLOAD_MB", 200)) * 1024 * 1024,
		},
		Postgres: PostgresConfig{
			Host:      getString("POSTGRES_HOST", "localhost"),
			Port:      getInt("POSTGRES_PORT", 5432),
			User:      getString("POSTGRES_USER", "gomedia_app"),
			Password:  getString("POSTGRES_PASSWORD", "change-me"),
			Database:  getString("POSTGRES_DB", "gomedia"),
			SSLMode:   strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			MaxConns:  int32(getInt("POSTGRES_MAX_CONNS", 16)),
			LockConns: int32(getInt("POSTGRES_LOCK_CONNS", 4)),
		},
		Storage: StorageConfig{
			Kind:        strings.ToLower(getString("GOMEDIA_STORAGE", StorageLocal)),
			PathPrefix:  getString("GOMEDIA_STORAGE_PREFIX", "attachments/"),
			RootDir:     getString("GOMEDIA_STORAGE_ROOT", "./data"),
			PublicURL:   strings.TrimSuffix(getString("GOMEDIA_PUBLIC_URL", "http://localhost:8080/files"), "/"),
			InlineTypes: getList("GOMEDIA_INLINE_TYPES", defaultInlineTypes),
			URLTTL:      getDuration("GOMEDIA_URL_TTL", time.Hour),
			MinIO: MinIOConfig{
				Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
				AccessKeyID:     getString("MINIO_ROOT_USER", "gomedia"),
				SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
				Bucket:          getString("MINIO_BUCKET", "gomedia"),
				UseSSL:          getBool("MINIO_USE_SSL", false),
				Region:          getString("MINIO_REGION", ""),
			},
		},
		Media: MediaConfig{
			ImageBounds:       bounds,
			PosterBound:       poster,
			VideoBound:        video,
			FFmpegPath:        getString("GOMEDIA_FFMPEG", "ffmpeg"),
			FFprobePath:       getString("GOMEDIA_FFPROBE", "ffprobe"),
			ToolTimeout:       getDuration("GOMEDIA_TOOL_TIMEOUT", 5*time.Minute),
			PresetFile:        getString("GOMEDIA_PRESET_FILE", ""),
			PresetName:        getString("GOMEDIA_PRESET", "preview"),
			TempDir:           tempDir,
			SharedDir:         getString("GOMEDIA_SHARED_DIR", tempDir),
			RenderConcurrency: getInt("GOMEDIA_RENDER_CONCURRENCY", 2),
			JPEGQuality:       getInt("GOMEDIA_JPEG_QUALITY", 90),
		},
		Sanitize: SanitizeConfig{
			ExiftoolPath: getString("GOMEDIA_EXIFTOOL", "exiftool"),
			Timeout:      getDuration("GOMEDIA_EXIFTOOL_TIMEOUT", 30*time.Second),
			Remove:       getList("GOMEDIA_SANITIZE_REMOVE", defaultRemoveTags),
			Ignore:       getList("GOMEDIA_SANITIZE_IGNORE", defaultIgnoreTags),
		},
		Quota: QuotaConfig{
			MaxInProgress: getInt("GOMEDIA_MAX_IN_PROGRESS", 5),
		},
		Worker: WorkerConfig{
			Concurrency:  getInt("GOMEDIA_WORKERS", 2),
			PollInterval: getDuration("GOMEDIA_WORKER_POLL", 5*time.Second),
			MaxAttempts:  getInt("GOMEDIA_JOB_MAX_ATTEMPTS", 5),
			StuckAfter:   getDuration("GOMEDIA_JOB_STUCK_AFTER", 30*time.Minute),
			SweepEvery:   getDuration("GOMEDIA_SWEEP_EVERY", 10*time.Minute),
			TempMaxAge:   getDuration("GOMEDIA_TEMP_MAX_AGE", 24*time.Hour),
			Embedded:     getBool("GOMEDIA_EMBEDDED_WORKER", false),
			MetricsAddr:  getString("GOMEDIA_WORKER_METRICS_ADDR", ":9091"),
		},
		Auth: AuthConfig{
			AccessTokenSecret: getString("GOMEDIA_JWT_SECRET", "change-me-to-a-32-byte-secret"),
			AccessTokenTTL:    getDuration("GOMEDIA_AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("GOMEDIA_METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Kind {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.RootDir) == "" {
			errs = append(errs, errors.New("local storage requires GOMEDIA_STORAGE_ROOT"))
		}
	case StorageS3:
		if strings.TrimSpace(c.Storage.MinIO.Bucket) == "" {
			errs = append(errs, errors.New("s3 storage requires MINIO_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage kind %q", c.Storage.Kind))
	}
	if c.Media.RenderConcurrency < 1 {
		errs = append(errs, errors.New("render concurrency must be positive"))
	}
	if c.Media.ToolTimeout <= 0 {
		errs = append(errs, errors.New("tool timeout must be positive"))
	}
	if c.Quota.MaxInProgress < 0 {
		errs = append(errs, errors.New("max in-progress must not be negative"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker concurrency must be positive"))
	}
	if need := int32(c.Worker.Concurrency) + 2; c.Postgres.MaxConns < need {
		errs = append(errs, fmt.Errorf("POSTGRES_MAX_CONNS must be at least %d for %d workers", need, c.Worker.Concurrency))
	}
	if c.Postgres.LockConns < 1 {
		errs = append(errs, errors.New("POSTGRES_LOCK_CONNS must be positive"))
	}
	return errors.Join(errs...)
}

// ParseBounds parses a comma separated list of name:WxH entries.
func ParseBounds(raw string) ([]Bound, error) {
	var bounds []Bound
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		b, err := parseBound(item)
		if err != nil {
			return nil, err
		}
		bounds = append(bounds, b)
	}
	return bounds, nil
}

func parseBound(raw string) (Bound, error) {
	name, dims, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || name == "" {
		return Bound{}, fmt.Errorf("bound %q: expected name:WxH", raw)
	}
	ws, hs, ok := strings.Cut(strings.ToLower(dims), "x")
	if !ok {
		return Bound{}, fmt.Errorf("bound %q: expected name:WxH", raw)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return Bound{}, fmt.Errorf("bound %q: invalid width", raw)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return Bound{}, fmt.Errorf("bound %q: invalid height", raw)
	}
	return Bound{Name: name, Width: w, Height: h}, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
