package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Kepler server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Detector  DetectorConfig
	Queue     QueueConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// AuthConfig configures bearer token verification against the identity provider.
// Either PublicKeyPEM (RS256) or HMACSecret (HS256) must be set.
type AuthConfig struct {
	ProjectID    string
	Issuer       string
	Audience     string
	PublicKeyPEM string
	HMACSecret   string
}

type DetectorConfig struct {
	Backend          string
	InferenceTimeout time.Duration
	YOLO             YOLOConfig
	MockDelay        time.Duration
}

type YOLOConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	ConfidenceScale string
}

type QueueConfig struct {
	Backend           string
	Stream            string
	Group             string
	SQSQueueURL       string
	VisibilityTimeout time.Duration
	BatchSize         int
	WorkerEnabled     bool
	WorkerConcurrency int
}

type StorageConfig struct {
	Bucket         string
	Region         string
	Endpoint       string
	PublicBaseURL  string
	MaxUploadBytes int64
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

var validDetectorBackends = map[string]bool{
	"yolo": true,
	"mock": true,
}

var validConfidenceScales = map[string]bool{
	"fraction": true,
	"percent":  true,
}

// maxQueueBatch is the most messages one SQS receive can return.
const maxQueueBatch = 10

var validQueueBackends = map[string]bool{
	"redis": true,
	"sqs":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	publicKey, err := envFileOrString("AUTH_PUBLIC_KEY", "AUTH_PUBLIC_KEY_FILE")
	if err != nil {
		return nil, err
	}

	projectID := os.Getenv("AUTH_PROJECT_ID")
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("KEPLER_PORT", 8080),
			Env:  envString("KEPLER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			ProjectID:    projectID,
			Issuer:       envString("AUTH_ISSUER", defaultIssuer(projectID)),
			Audience:     envString("AUTH_AUDIENCE", projectID),
			PublicKeyPEM: publicKey,
			HMACSecret:   os.Getenv("AUTH_HMAC_SECRET"),
		},
		Detector: DetectorConfig{
			Backend:          envString("DETECTOR_BACKEND", "mock"),
			InferenceTimeout: envDurationSecs("DETECTOR_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			YOLO: YOLOConfig{
				BaseURL:         envString("YOLO_BASE_URL", "http://127.0.0.1:8000"),
				APIKey:          os.Getenv("YOLO_API_KEY"),
				Timeout:         envDuration("YOLO_TIMEOUT", 30*time.Second),
				ConfidenceScale: envString("YOLO_CONFIDENCE_SCALE", "fraction"),
			},
			MockDelay: envDuration("DETECTOR_MOCK_DELAY", 3*time.Second),
		},
		Queue: QueueConfig{
			Backend:           envString("QUEUE_BACKEND", "redis"),
			Stream:            envString("QUEUE_STREAM", "kepler:detection-jobs"),
			Group:             envString("QUEUE_GROUP", "kepler-workers"),
			SQSQueueURL:       os.Getenv("SQS_QUEUE_URL"),
			VisibilityTimeout: envDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
			BatchSize:         envInt("QUEUE_BATCH_SIZE", maxQueueBatch),
			WorkerEnabled:     envBool("WORKER_ENABLED", true),
			WorkerConcurrency: envInt("WORKER_CONCURRENCY", 4),
		},
		Storage: StorageConfig{
			Bucket:         os.Getenv("STORAGE_BUCKET"),
			Region:         envString("AWS_REGION", "us-east-1"),
			Endpoint:       os.Getenv("STORAGE_ENDPOINT"),
			PublicBaseURL:  strings.TrimRight(os.Getenv("STORAGE_PUBLIC_BASE_URL"), "/"),
			MaxUploadBytes: int64(envInt("STORAGE_MAX_UPLOAD_MB", 100)) << 20,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.PublicKeyPEM == "" && c.Auth.HMACSecret == "" {
		return fmt.Errorf("one of AUTH_PUBLIC_KEY, AUTH_PUBLIC_KEY_FILE or AUTH_HMAC_SECRET is required")
	}
	if c.Auth.PublicKeyPEM != "" && c.Auth.Audience == "" {
		return fmt.Errorf("AUTH_PROJECT_ID or AUTH_AUDIENCE is required when AUTH_PUBLIC_KEY is set")
	}

	if !validDetectorBackends[c.Detector.Backend] {
		return fmt.Errorf("DETECTOR_BACKEND must be one of yolo, mock; got %q", c.Detector.Backend)
	}
	if c.Detector.Backend == "yolo" &&
		!strings.HasPrefix(c.Detector.YOLO.BaseURL, "http://") && !strings.HasPrefix(c.Detector.YOLO.BaseURL, "https://") {
		return fmt.Errorf("YOLO_BASE_URL must start with http:// or https://, got %q", c.Detector.YOLO.BaseURL)
	}
	if !validConfidenceScales[c.Detector.YOLO.ConfidenceScale] {
		return fmt.Errorf("YOLO_CONFIDENCE_SCALE must be one of fraction, percent; got %q", c.Detector.YOLO.ConfidenceScale)
	}

	if !validQueueBackends[c.Queue.Backend] {
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, sqs; got %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "sqs" && c.Queue.SQSQueueURL == "" {
		return fmt.Errorf("SQS_QUEUE_URL is required when QUEUE_BACKEND is sqs")
	}
	if c.Queue.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Queue.WorkerConcurrency)
	}
	if c.Queue.BatchSize < 1 || c.Queue.BatchSize > maxQueueBatch {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be between 1 and %d, got %d", maxQueueBatch, c.Queue.BatchSize)
	}
	if c.Queue.WorkerEnabled {
		if worst := c.worstDeliveryTime(); worst >= c.Queue.VisibilityTimeout {
			return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT (%s) must exceed the worst-case delivery time %s "+
				"(QUEUE_BATCH_SIZE %d, WORKER_CONCURRENCY %d, DETECTOR_INFERENCE_TIMEOUT_SECS %s)",
				c.Queue.VisibilityTimeout, worst, c.Queue.BatchSize, c.Queue.WorkerConcurrency, c.Detector.InferenceTimeout)
		}
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required")
	}

	return nil
}

// worstDeliveryTime bounds how long a received delivery can go unacked: the
// last of a batch waits for ceil(batch/concurrency) rounds behind the jobs
// already running, then runs for one inference timeout itself.
func (c *Config) worstDeliveryTime() time.Duration {
	rounds := (c.Queue.BatchSize + c.Queue.WorkerConcurrency - 1) / c.Queue.WorkerConcurrency
	return time.Duration(rounds+1) * c.Detector.InferenceTimeout
}

func defaultIssuer(projectID string) string {
	if projectID == "" {
		return ""
	}
	return "https://securetoken.google.com/" + projectID
}

// envFileOrString returns the value of key, or the contents of the file named
// by fileKey when key is unset.
func envFileOrString(key, fileKey string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	path := os.Getenv(fileKey)
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", fileKey, err)
	}
	return string(b), nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
