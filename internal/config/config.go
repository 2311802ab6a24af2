// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all blobd server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Storage backend ("local", "s3" or "smb", default: "local")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage
	S3Endpoint       string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	S3ForcePathStyle bool

	// SMB storage (share must be pre-mounted at SMBMountPath)
	SMBServer    string
	SMBMountPath string

	// Base URL this server is reachable on, used for local public and
	// signed URLs.
	PublicBaseURL string

	// Overrides the URL prefix for public object URLs on any backend.
	StoragePublicURL string

	// Delivery strategy
	ProxyDownloads bool
	CDNBaseURL     string
	SignedURLs     bool
	SignedURLTTL   time.Duration

	// Secret for signing local download tokens. When empty and signed
	// URLs are enabled on the local backend, an ephemeral secret is
	// generated at startup.
	SigningSecret string

	// Uploads
	MaxUploadSize int64

	// Storage operation timeout (call phase only for streamed reads)
	StorageOpTimeout time.Duration

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string
}

// Load reads configuration from the environment with defaults, loading
// a .env file first when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		StorageBackend:   envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/blobd"),
		S3Endpoint:       envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:         envOr("S3_BUCKET", "blobd"),
		S3AccessKey:      envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:      envOr("S3_SECRET_KEY", ""),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3ForcePathStyle: envBool("S3_FORCE_PATH_STYLE", true),
		SMBServer:        envOr("SMB_SERVER", ""),
		SMBMountPath:     envOr("SMB_MOUNT_PATH", ""),
		PublicBaseURL:    envOr("PUBLIC_BASE_URL", "http://localhost:8080"),
		StoragePublicURL: envOr("STORAGE_PUBLIC_URL", ""),
		ProxyDownloads:   envBool("PROXY_DOWNLOADS", false),
		CDNBaseURL:       envOr("CDN_BASE_URL", ""),
		SignedURLs:       envBool("SIGNED_URLS", true),
		SignedURLTTL:     envDuration("SIGNED_URL_TTL", 300*time.Second),
		SigningSecret:    envOr("SIGNING_SECRET", ""),
		MaxUploadSize:    envInt64("MAX_UPLOAD_SIZE", 5242880),
		StorageOpTimeout: envDuration("STORAGE_OP_TIMEOUT", 30*time.Second),
		TLSCertFile:      envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:       envOr("TLS_KEY_FILE", ""),
	}

	switch cfg.StorageBackend {
	case "local", "s3", "smb":
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND must be \"local\", \"s3\" or \"smb\", got %q", cfg.StorageBackend)
	}

	if cfg.StorageBackend == "s3" {
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
		if cfg.S3Endpoint == "" {
			return nil, fmt.Errorf("S3_ENDPOINT is required for the s3 backend")
		}
		if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
			return nil, fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	}

	if cfg.StorageBackend == "smb" && cfg.SMBMountPath == "" {
		return nil, fmt.Errorf("SMB_MOUNT_PATH is required for the smb backend")
	}

	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", cfg.MaxUploadSize)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
