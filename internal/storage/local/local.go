// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sly67/blobd/internal/storage"
	"github.com/sly67/blobd/internal/urlsign"
)

// Package-level compiled regex for Range header parsing.
var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath string

	// BaseURL is the address the blobd server is reachable on. Signed
	// and public URLs resolve back to the server's own routes.
	BaseURL string

	// PublicURL optionally overrides the prefix for public object URLs,
	// for deployments where a web server fronts the storage directory.
	PublicURL string

	Signer *urlsign.Signer
}

// Backend implements storage.Backend using the local filesystem.
type Backend struct {
	rootPath  string
	baseURL   string
	publicURL string
	signer    *urlsign.Signer
}

// New creates a new local filesystem backend, creating the root
// directory if it does not exist yet.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, &storage.Error{Kind: storage.KindConfig, Op: "local.New", Err: fmt.Errorf("root path is required")}
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, &storage.Error{Kind: storage.KindConfig, Op: "local.New", Err: fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)}
		}
		if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
			return nil, &storage.Error{Kind: storage.KindConfig, Op: "local.New", Err: fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)}
		}
	} else if !info.IsDir() {
		return nil, &storage.Error{Kind: storage.KindConfig, Op: "local.New", Err: fmt.Errorf("root path %s is not a directory", cfg.RootPath)}
	}

	return &Backend{
		rootPath:  cfg.RootPath,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
		signer:    cfg.Signer,
	}, nil
}

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(key))
}

// Open reads an object with conditional and range request support.
func (b *Backend) Open(_ context.Context, key string, cond storage.Conditional) (*storage.Content, error) {
	f, err := os.Open(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &storage.Error{Kind: storage.KindNotFound, Op: "open", Key: key, Err: err}
		}
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "open", Key: key, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "open", Key: key, Err: err}
	}

	totalSize := info.Size()
	modTime := info.ModTime()
	etag := etagFor(info)

	// Conditional evaluation order per RFC 7232 section 6.
	if cond.IfMatch != "" && !etagMatch(cond.IfMatch, etag) {
		f.Close()
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "open", Key: key, Status: http.StatusPreconditionFailed, Err: fmt.Errorf("precondition failed")}
	}
	if cond.IfUnmodifiedSince != "" {
		if t, err := http.ParseTime(cond.IfUnmodifiedSince); err == nil && modTime.Truncate(time.Second).After(t) {
			f.Close()
			return nil, &storage.Error{Kind: storage.KindUpstream, Op: "open", Key: key, Status: http.StatusPreconditionFailed, Err: fmt.Errorf("precondition failed")}
		}
	}
	if cond.IfNoneMatch != "" && etagMatch(cond.IfNoneMatch, etag) {
		f.Close()
		return &storage.Content{
			Body:         http.NoBody,
			Status:       http.StatusNotModified,
			ETag:         etag,
			LastModified: modTime,
		}, nil
	}
	if cond.IfNoneMatch == "" && cond.IfModifiedSince != "" {
		if t, err := http.ParseTime(cond.IfModifiedSince); err == nil && !modTime.Truncate(time.Second).After(t) {
			f.Close()
			return &storage.Content{
				Body:         http.NoBody,
				Status:       http.StatusNotModified,
				ETag:         etag,
				LastModified: modTime,
			}, nil
		}
	}

	offset, length, hasRange := parseRange(cond.Range, totalSize)
	if hasRange && offset >= totalSize {
		f.Close()
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "open", Key: key, Status: http.StatusRequestedRangeNotSatisfiable, Err: fmt.Errorf("range %q not satisfiable for size %d", cond.Range, totalSize)}
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, &storage.Error{Kind: storage.KindUpstream, Op: "open", Key: key, Err: fmt.Errorf("seek: %w", err)}
		}
	}

	content := &storage.Content{
		Body:         f,
		Status:       http.StatusOK,
		Size:         totalSize,
		ContentType:  contentTypeFor(key),
		ETag:         etag,
		LastModified: modTime,
	}
	if hasRange {
		content.Body = &limitedReadCloser{
			Reader: io.LimitReader(f, length),
			Closer: f,
		}
		content.Status = http.StatusPartialContent
		content.Size = length
		content.ContentRange = fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, totalSize)
	}
	return content, nil
}

// Stat returns object metadata without opening the content.
func (b *Backend) Stat(_ context.Context, key string) (*storage.ObjectInfo, error) {
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &storage.Error{Kind: storage.KindNotFound, Op: "stat", Key: key, Err: err}
		}
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "stat", Key: key, Err: err}
	}
	if info.IsDir() {
		return nil, &storage.Error{Kind: storage.KindNotFound, Op: "stat", Key: key, Err: fmt.Errorf("%s is a directory", key)}
	}
	return &storage.ObjectInfo{
		Key:          key,
		Filename:     path.Base(key),
		Size:         info.Size(),
		ContentType:  contentTypeFor(key),
		ETag:         etagFor(info),
		LastModified: info.ModTime(),
	}, nil
}

// Put writes an object atomically via a temp file and rename.
func (b *Backend) Put(_ context.Context, key string, body io.Reader, size int64, _ string) (*storage.ObjectInfo, error) {
	dst := b.fullPath(key)
	dir := filepath.Dir(dst)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "put", Key: key, Err: fmt.Errorf("create dirs: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, ".blobd-*.tmp")
	if err != nil {
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "put", Key: key, Err: fmt.Errorf("create temp: %w", err)}
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "put", Key: key, Err: fmt.Errorf("write: %w", err)}
	}
	if size >= 0 && written != size {
		tmp.Close()
		os.Remove(tmpName)
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "put", Key: key, Err: fmt.Errorf("wrote %d bytes, expected %d", written, size)}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "put", Key: key, Err: fmt.Errorf("close temp: %w", err)}
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "put", Key: key, Err: fmt.Errorf("rename temp: %w", err)}
	}

	info, err := os.Stat(dst)
	if err != nil {
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "put", Key: key, Err: fmt.Errorf("stat after write: %w", err)}
	}
	return &storage.ObjectInfo{
		Key:          key,
		Filename:     path.Base(key),
		Size:         info.Size(),
		ContentType:  contentTypeFor(key),
		ETag:         etagFor(info),
		LastModified: info.ModTime(),
	}, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (b *Backend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.fullPath(key))
	if err != nil && !os.IsNotExist(err) {
		return &storage.Error{Kind: storage.KindUpstream, Op: "delete", Key: key, Err: err}
	}
	return nil
}

// List returns the names of objects directly under prefix. A prefix
// that maps to no directory yields an empty list, not an error.
func (b *Backend) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(b.fullPath(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, &storage.Error{Kind: storage.KindUpstream, Op: "list", Key: prefix, Err: err}
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".tmp") && strings.HasPrefix(entry.Name(), ".blobd-") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// SignedURL returns a time-limited download URL backed by an HMAC token.
func (b *Backend) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if b.signer == nil {
		return "", &storage.Error{Kind: storage.KindConfig, Op: "signed_url", Key: key, Err: fmt.Errorf("no signing secret configured")}
	}
	token, err := b.signer.Sign(key, ttl)
	if err != nil {
		return "", &storage.Error{Kind: storage.KindUpstream, Op: "signed_url", Key: key, Err: err}
	}
	return b.baseURL + "/signed/" + token, nil
}

// PublicURL returns the unauthenticated URL for key.
func (b *Backend) PublicURL(key string) string {
	if b.publicURL != "" {
		return b.publicURL + "/" + key
	}
	return b.baseURL + "/public/" + key
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

func contentTypeFor(key string) string {
	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return ct
}

// etagFor derives a strong ETag from file metadata.
func etagFor(info os.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}

// etagMatch reports whether any entry in an If-Match or If-None-Match
// header value matches etag. A bare "*" matches anything.
func etagMatch(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func parseRange(rangeHeader string, totalSize int64) (offset, length int64, hasRange bool) {
	if rangeHeader == "" {
		return 0, totalSize, false
	}

	matches := rangeRegex.FindStringSubmatch(rangeHeader)
	if matches == nil {
		return 0, totalSize, false
	}

	startStr, endStr := matches[1], matches[2]
	if startStr == "" && endStr == "" {
		return 0, totalSize, false
	}

	if startStr == "" {
		suffix, _ := strconv.ParseInt(endStr, 10, 64)
		offset = totalSize - suffix
		if offset < 0 {
			offset = 0
		}
		return offset, totalSize - offset, true
	}

	offset, _ = strconv.ParseInt(startStr, 10, 64)
	if endStr != "" {
		end, _ := strconv.ParseInt(endStr, 10, 64)
		// A last byte before the first byte is invalid, and an invalid
		// range is ignored rather than unsatisfiable.
		if end < offset {
			return 0, totalSize, false
		}
		length = end - offset + 1
	} else {
		length = totalSize - offset
	}
	if offset+length > totalSize {
		length = totalSize - offset
	}
	return offset, length, true
}

// limitedReadCloser wraps a LimitReader with a separate Closer.
type limitedReadCloser struct {
	io.Reader
	io.Closer
}
