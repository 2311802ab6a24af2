// Package smb provides storage on an SMB/CIFS share. The share must be
// pre-mounted on the host (via mount.cifs or fstab); object I/O
// delegates to the local filesystem backend rooted at the mount path.
package smb

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sly67/blobd/internal/logging"
	"github.com/sly67/blobd/internal/storage"
	"github.com/sly67/blobd/internal/storage/local"
	"github.com/sly67/blobd/internal/urlsign"
)

// Config holds SMB backend settings. Server names the share for
// operators and logs; authentication happens when the OS mounts it.
type Config struct {
	Server    string
	MountPath string

	// BaseURL, PublicURL and Signer carry the same meaning as on the
	// local backend: signed and public URLs resolve to server routes.
	BaseURL   string
	PublicURL string
	Signer    *urlsign.Signer
}

// Backend serves objects from an SMB share through its mount point.
type Backend struct {
	*local.Backend
}

// New creates an SMB backend over the share mounted at cfg.MountPath.
func New(cfg Config) (*Backend, error) {
	if cfg.MountPath == "" {
		return nil, &storage.Error{Kind: storage.KindConfig, Op: "smb.New", Err: fmt.Errorf("mount path is required")}
	}

	lb, err := local.New(local.Config{
		RootPath:  cfg.MountPath,
		BaseURL:   cfg.BaseURL,
		PublicURL: cfg.PublicURL,
		Signer:    cfg.Signer,
	})
	if err != nil {
		return nil, &storage.Error{Kind: storage.KindConfig, Op: "smb.New", Err: fmt.Errorf("mount %s: %w", cfg.MountPath, err)}
	}

	logging.Debug("smb share configured",
		zap.String("server", cfg.Server),
		zap.String("mount_path", cfg.MountPath),
	)
	return &Backend{Backend: lb}, nil
}

// Type returns "smb".
func (b *Backend) Type() string { return "smb" }
