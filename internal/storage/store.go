package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/sly67/blobd/internal/metrics"
)

const (
	// DefaultMaxUploadSize is the upload ceiling: 5 MiB (5,242,880 bytes).
	DefaultMaxUploadSize = 5 * 1024 * 1024

	// DefaultSignedURLTTL bounds signed-URL validity.
	DefaultSignedURLTTL = 300 * time.Second
)

// Delivery selects how Get answers reads. Immutable for the lifetime of
// the Store; strategy choice never depends on per-request state.
type Delivery struct {
	// Proxy streams object bytes through this process, forwarding
	// conditional headers upstream.
	Proxy bool

	// CDNBaseURL, when set and Proxy is off, redirects reads to
	// {CDNBaseURL}/{key}.
	CDNBaseURL string

	// SignedURLs redirects reads to a time-limited signed URL when
	// neither Proxy nor CDNBaseURL applies.
	SignedURLs bool

	// SignedURLTTL is the signed-URL validity window. Zero means
	// DefaultSignedURLTTL.
	SignedURLTTL time.Duration
}

// Store layers tenant scoping, upload ingestion, and retrieval strategy
// over a Backend. Safe for concurrent use: all state is read-only after
// construction.
type Store struct {
	backend       Backend
	delivery      Delivery
	maxUploadSize int64
}

// NewStore creates a Store over backend. A non-positive maxUploadSize
// selects DefaultMaxUploadSize.
func NewStore(backend Backend, delivery Delivery, maxUploadSize int64) *Store {
	if delivery.SignedURLTTL <= 0 {
		delivery.SignedURLTTL = DefaultSignedURLTTL
	}
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &Store{
		backend:       backend,
		delivery:      delivery,
		maxUploadSize: maxUploadSize,
	}
}

// MaxUploadSize returns the upload ceiling in bytes.
func (s *Store) MaxUploadSize() int64 { return s.maxUploadSize }

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// List returns the filenames stored directly under the tenant's prefix.
// A tenant with no objects yields an empty slice, not an error. Ordering
// is backend-defined.
func (s *Store) List(ctx context.Context, t Tenant) ([]string, error) {
	return s.backend.List(ctx, PrefixFor(t))
}

// Exists probes for the object with a metadata-only request. A NotFound
// outcome resolves to false; every other failure propagates.
func (s *Store) Exists(ctx context.Context, t Tenant, filename string) (bool, error) {
	_, err := s.backend.Stat(ctx, KeyFor(t, filename))
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the object unconditionally. Deleting a filename that
// does not exist succeeds; a delete racing a concurrent read is an
// accepted last-writer-wins outcome.
func (s *Store) Delete(ctx context.Context, t Tenant, filename string) error {
	return s.backend.Delete(ctx, KeyFor(t, filename))
}

// Get answers a read for one object. The delivery configuration picks
// exactly one strategy, in fixed priority order: proxy streaming, CDN
// redirect, signed URL, public URL. Only proxy mode touches the backend
// for bytes; the redirect strategies compute a URL without checking that
// the object exists.
func (s *Store) Get(ctx context.Context, t Tenant, filename string, cond Conditional) (*Retrieval, error) {
	key := KeyFor(t, filename)
	switch {
	case s.delivery.Proxy:
		content, err := s.backend.Open(ctx, key, cond)
		if err != nil {
			return nil, err
		}
		metrics.RecordRetrieval("proxy")
		return &Retrieval{Content: content}, nil

	case s.delivery.CDNBaseURL != "":
		metrics.RecordRetrieval("cdn")
		return &Retrieval{RedirectURL: strings.TrimSuffix(s.delivery.CDNBaseURL, "/") + "/" + key}, nil

	case s.delivery.SignedURLs:
		u, err := s.backend.SignedURL(ctx, key, s.delivery.SignedURLTTL)
		if err != nil {
			return nil, err
		}
		metrics.RecordRetrieval("signed")
		return &Retrieval{RedirectURL: u}, nil

	default:
		metrics.RecordRetrieval("public")
		return &Retrieval{RedirectURL: s.backend.PublicURL(key)}, nil
	}
}

// OpenKey streams the object stored under a full key, bypassing strategy
// selection. Signed-URL resolution reads through it once a token has been
// verified.
func (s *Store) OpenKey(ctx context.Context, key string, cond Conditional) (*Content, error) {
	return s.backend.Open(ctx, key, cond)
}

// Ingest consumes one upload and stores it under a generated filename,
// recording the declared MIME type as the object's content type. The
// size ceiling is enforced before anything reaches the backend: a
// rejected upload never leaves a partial object behind. Returns the
// stored object's metadata; callers usually want Filename, having
// supplied the tenant path themselves.
func (s *Store) Ingest(ctx context.Context, t Tenant, up Upload) (*ObjectInfo, error) {
	if up.DeclaredSize > s.maxUploadSize {
		return nil, &Error{Kind: KindPayloadTooLarge, Op: "ingest"}
	}

	// Read through a limiter one byte past the ceiling so an oversized
	// or unbounded stream is caught without buffering more than the
	// ceiling allows.
	buf, err := io.ReadAll(io.LimitReader(up.Body, s.maxUploadSize+1))
	if err != nil {
		return nil, &Error{Kind: KindUpstream, Op: "ingest", Err: err}
	}
	if int64(len(buf)) > s.maxUploadSize {
		return nil, &Error{Kind: KindPayloadTooLarge, Op: "ingest"}
	}

	contentType := up.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, filename := resolveUpload(up.MimeType)
	key := KeyFor(t, filename)

	info, err := s.backend.Put(ctx, key, bytes.NewReader(buf), int64(len(buf)), contentType)
	if err != nil {
		return nil, err
	}
	info.Filename = filename
	return info, nil
}
