// blobd Server
//
// Features:
// - Tenant-scoped object upload, download, listing and deletion
// - Pluggable storage backends (S3-compatible, local filesystem, SMB share)
// - Proxy, CDN redirect, signed URL and public URL delivery
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sly67/blobd/internal/api"
	"github.com/sly67/blobd/internal/config"
	"github.com/sly67/blobd/internal/logging"
	"github.com/sly67/blobd/internal/metrics"
	"github.com/sly67/blobd/internal/storage"
	"github.com/sly67/blobd/internal/storage/local"
	s3storage "github.com/sly67/blobd/internal/storage/s3"
	"github.com/sly67/blobd/internal/storage/smb"
	"github.com/sly67/blobd/internal/urlsign"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("blobd server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("backend", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local and SMB signed URLs need an HMAC secret; S3 presigns with
	// its own credentials.
	var signer *urlsign.Signer
	if cfg.StorageBackend != "s3" && cfg.SignedURLs {
		secret := []byte(cfg.SigningSecret)
		if len(secret) == 0 {
			secret = make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				logging.Fatal("generating signing secret failed", zap.Error(err))
			}
			logging.Warn("SIGNING_SECRET not set, signed URLs will not survive a restart")
		}
		signer = urlsign.New(secret)
	}

	// Initialize storage backend
	backend, err := newBackend(ctx, cfg, signer)
	if err != nil {
		logging.Fatal("storage backend init failed", zap.Error(err))
	}
	defer backend.Close()
	logging.Info("storage backend initialized", zap.String("type", backend.Type()))

	store := storage.NewStore(backend, storage.Delivery{
		Proxy:        cfg.ProxyDownloads,
		CDNBaseURL:   cfg.CDNBaseURL,
		SignedURLs:   cfg.SignedURLs,
		SignedURLTTL: cfg.SignedURLTTL,
	}, cfg.MaxUploadSize)

	// Create API server
	srv := api.NewServer(store, signer)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}

// newBackend builds the storage backend selected by STORAGE_BACKEND.
func newBackend(ctx context.Context, cfg *config.Config, signer *urlsign.Signer) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "s3":
		return s3storage.New(ctx, s3storage.Config{
			Endpoint:       cfg.S3Endpoint,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Region:         cfg.S3Region,
			ForcePathStyle: cfg.S3ForcePathStyle,
			PublicBaseURL:  cfg.StoragePublicURL,
			OpTimeout:      cfg.StorageOpTimeout,
		})
	case "smb":
		return smb.New(smb.Config{
			Server:    cfg.SMBServer,
			MountPath: cfg.SMBMountPath,
			BaseURL:   cfg.PublicBaseURL,
			PublicURL: cfg.StoragePublicURL,
			Signer:    signer,
		})
	default:
		return local.New(local.Config{
			RootPath:  cfg.LocalStoragePath,
			BaseURL:   cfg.PublicBaseURL,
			PublicURL: cfg.StoragePublicURL,
			Signer:    signer,
		})
	}
}
