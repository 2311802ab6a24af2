package config

import (
	"testing"
	"time"
)

// clearEnv blanks the variables a test asserts on so ambient environment
// does not leak in. Empty values read as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
		"STORAGE_BACKEND", "LOCAL_STORAGE_PATH",
		"S3_ACCESS_KEY", "S3_SECRET_KEY",
		"SMB_SERVER", "SMB_MOUNT_PATH",
		"PROXY_DOWNLOADS", "CDN_BASE_URL", "SIGNED_URLS", "SIGNED_URL_TTL",
		"MAX_UPLOAD_SIZE", "STORAGE_OP_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

// --- Tests ---

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.StorageBackend != "local" {
		t.Errorf("StorageBackend = %q", cfg.StorageBackend)
	}
	if cfg.MaxUploadSize != 5242880 {
		t.Errorf("MaxUploadSize = %d", cfg.MaxUploadSize)
	}
	if cfg.SignedURLTTL != 300*time.Second {
		t.Errorf("SignedURLTTL = %v", cfg.SignedURLTTL)
	}
	if !cfg.SignedURLs {
		t.Error("SignedURLs should default to true")
	}
	if cfg.ProxyDownloads {
		t.Error("ProxyDownloads should default to false")
	}
	if cfg.StorageOpTimeout != 30*time.Second {
		t.Errorf("StorageOpTimeout = %v", cfg.StorageOpTimeout)
	}
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_ACCESS_KEY", "minioadmin")
	t.Setenv("S3_SECRET_KEY", "minioadmin")
	t.Setenv("PROXY_DOWNLOADS", "true")
	t.Setenv("CDN_BASE_URL", "https://cdn.example")
	t.Setenv("MAX_UPLOAD_SIZE", "1048576")
	t.Setenv("SIGNED_URL_TTL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q", cfg.StorageBackend)
	}
	if !cfg.ProxyDownloads {
		t.Error("ProxyDownloads not applied")
	}
	if cfg.CDNBaseURL != "https://cdn.example" {
		t.Errorf("CDNBaseURL = %q", cfg.CDNBaseURL)
	}
	if cfg.MaxUploadSize != 1048576 {
		t.Errorf("MaxUploadSize = %d", cfg.MaxUploadSize)
	}
	if cfg.SignedURLTTL != 2*time.Minute {
		t.Errorf("SignedURLTTL = %v", cfg.SignedURLTTL)
	}
}

// Durations accept a bare integer as seconds.
func TestDurationAsSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNED_URL_TTL", "45")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SignedURLTTL != 45*time.Second {
		t.Errorf("SignedURLTTL = %v, want 45s", cfg.SignedURLTTL)
	}
}

func TestInvalidBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "ftp")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestSMBRequiresMountPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "smb")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for smb backend without mount path")
	}
}

func TestS3CredentialsMustBePaired(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_ACCESS_KEY", "minioadmin")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for access key without secret key")
	}
}

func TestMaxUploadSizeMustBePositive(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_UPLOAD_SIZE", "-1")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative upload ceiling")
	}
}
