// Package storage implements tenant-scoped object storage: key
// namespacing, upload ingestion, and the retrieval strategy that answers
// reads with proxy streaming, CDN redirects, signed URLs, or public URLs.
package storage

import (
	"context"
	"io"
	"time"
)

// Tenant is the three-level path objects are isolated under. The
// identifiers are opaque and caller-supplied; objects under one tenant
// are never addressable through another tenant's path.
type Tenant struct {
	Site     string
	Box      string
	Resource string
}

// Upload describes an incoming file during ingestion. It is transient:
// nothing retains it once Ingest returns.
type Upload struct {
	Body     io.Reader
	MimeType string

	// DeclaredSize is the byte count announced by the caller, or -1 when
	// unknown. Ingest rejects declared sizes over the ceiling before
	// reading the body.
	DeclaredSize int64
}

// ObjectInfo is provider metadata for a stored object. Objects are
// immutable after creation; an update is a delete plus a fresh ingest
// under a new generated filename.
type ObjectInfo struct {
	Key          string
	Filename     string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Conditional carries client cache-validation headers. In proxy mode the
// values are forwarded verbatim to the upstream read; the zero value is
// an unconditional full read.
type Conditional struct {
	IfNoneMatch       string
	IfMatch           string
	IfModifiedSince   string
	IfUnmodifiedSince string
	Range             string
}

// Content is a streamed read result. Status is 200 for a full body, 206
// for a range (ContentRange set), or 304 when a validator matched; the
// body is empty on 304. The caller owns Body and must close it; closing
// releases the upstream read handle.
type Content struct {
	Body         io.ReadCloser
	Status       int
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	ContentRange string
}

// Retrieval is the outcome of Get. Exactly one field is populated:
// Content when proxy streaming served the read, RedirectURL otherwise.
type Retrieval struct {
	Content     *Content
	RedirectURL string
}

// Backend is the raw-key contract storage providers implement (S3, local
// filesystem, SMB mount). Implementations must be safe for concurrent
// use and hold no mutable state beyond the client handle they own.
type Backend interface {
	// Open reads the object at key, honoring cond.
	Open(ctx context.Context, key string, cond Conditional) (*Content, error)

	// Stat probes object metadata without reading the body.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Put writes body under key with the given content type. A negative
	// size means unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*ObjectInfo, error)

	// Delete removes the object at key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// List returns the names of the immediate children under prefix,
	// never recursing into nested prefixes. A prefix with no objects
	// yields an empty slice.
	List(ctx context.Context, prefix string) ([]string, error)

	// SignedURL computes a time-limited read URL for key. Pure local
	// signing: no network round-trip, no existence check.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// PublicURL returns the unauthenticated URL for key, valid only when
	// the object is publicly readable.
	PublicURL(key string) string

	// Type returns the backend type identifier ("s3", "local", "smb").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
