// Package api implements the blobd HTTP server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sly67/blobd/internal/logging"
	"github.com/sly67/blobd/internal/metrics"
	"github.com/sly67/blobd/internal/storage"
	"github.com/sly67/blobd/internal/urlsign"
)

// uploadEnvelopeSlack is the allowance for multipart framing overhead
// on top of the object size ceiling when bounding the request body.
const uploadEnvelopeSlack = 64 << 10

// Server is the HTTP server.
type Server struct {
	store  *storage.Store
	signer *urlsign.Signer
}

// NewServer creates the HTTP server. signer may be nil when the active
// backend does not use locally signed download URLs.
func NewServer(store *storage.Store, signer *urlsign.Signer) *Server {
	return &Server{store: store, signer: signer}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Object endpoints
	mux.HandleFunc("POST /api/v1/objects/{site}/{box}/{resource}", s.handleUpload)
	mux.HandleFunc("GET /api/v1/objects/{site}/{box}/{resource}", s.handleList)
	mux.HandleFunc("GET /api/v1/objects/{site}/{box}/{resource}/{filename}", s.handleGet)
	mux.HandleFunc("HEAD /api/v1/objects/{site}/{box}/{resource}/{filename}", s.handleExists)
	mux.HandleFunc("DELETE /api/v1/objects/{site}/{box}/{resource}/{filename}", s.handleDelete)

	// Direct download route local public URLs resolve to
	mux.HandleFunc("GET /public/{site}/{box}/{resource}/{filename}", s.handleDirect)

	// Signed download links issued by the local backend
	if s.signer != nil {
		mux.HandleFunc("GET /signed/{token}", s.handleSignedDownload)
	}

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// ─── Upload ─────────────────────────────────────────────────────────────────

type uploadResponse struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimetype"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFromRequest(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	maxSize := s.store.MaxUploadSize()

	// Check content length before reading anything
	if r.ContentLength > maxSize+uploadEnvelopeSlack {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: max %d bytes", maxSize))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+uploadEnvelopeSlack)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large: max %d bytes", maxSize))
			return
		}
		s.sendError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	info, err := s.store.Ingest(r.Context(), tenant, storage.Upload{
		Body:         file,
		MimeType:     header.Header.Get("Content-Type"),
		DeclaredSize: header.Size,
	})
	if err != nil {
		metrics.RecordUpload(0, false)
		s.sendStorageError(w, err)
		return
	}
	metrics.RecordUpload(info.Size, true)

	logging.Info("object uploaded",
		zap.String("site", tenant.Site),
		zap.String("box", tenant.Box),
		zap.String("resource", tenant.Resource),
		zap.String("filename", info.Filename),
		zap.Int64("size", info.Size),
		zap.String("mimetype", info.ContentType),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(uploadResponse{
		Filename: info.Filename,
		Size:     info.Size,
		MimeType: info.ContentType,
	})
}

// ─── Download ───────────────────────────────────────────────────────────────

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tenant, filename, err := objectFromRequest(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	ret, err := s.store.Get(r.Context(), tenant, filename, conditionalFromRequest(r))
	if err != nil {
		s.sendStorageError(w, err)
		return
	}

	if ret.RedirectURL != "" {
		http.Redirect(w, r, ret.RedirectURL, http.StatusFound)
		return
	}
	s.writeContent(w, r, ret.Content)
}

// handleDirect streams object content regardless of the configured
// delivery strategy. Public URLs on the local backend point here.
func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	tenant, filename, err := objectFromRequest(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	content, err := s.store.OpenKey(r.Context(), storage.KeyFor(tenant, filename), conditionalFromRequest(r))
	if err != nil {
		s.sendStorageError(w, err)
		return
	}
	s.writeContent(w, r, content)
}

func (s *Server) handleSignedDownload(w http.ResponseWriter, r *http.Request) {
	key, err := s.signer.Verify(r.PathValue("token"))
	if err != nil {
		s.sendError(w, http.StatusForbidden, "invalid or expired token")
		return
	}

	content, err := s.store.OpenKey(r.Context(), key, conditionalFromRequest(r))
	if err != nil {
		s.sendStorageError(w, err)
		return
	}
	s.writeContent(w, r, content)
}

// writeContent streams object content to the client, preserving the
// backend's conditional and range semantics.
func (s *Server) writeContent(w http.ResponseWriter, r *http.Request, content *storage.Content) {
	defer content.Body.Close()

	if content.ContentType != "" {
		w.Header().Set("Content-Type", content.ContentType)
	}
	if content.ETag != "" {
		w.Header().Set("ETag", content.ETag)
	}
	if !content.LastModified.IsZero() {
		w.Header().Set("Last-Modified", content.LastModified.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Accept-Ranges", "bytes")

	if content.Status == http.StatusNotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if content.Status == http.StatusPartialContent && content.ContentRange != "" {
		w.Header().Set("Content-Range", content.ContentRange)
	}
	if content.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(content.Size, 10))
	}
	w.WriteHeader(content.Status)

	n, err := io.Copy(w, content.Body)
	if err != nil {
		logging.Warn("content transfer error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	metrics.RecordDownload(n, err == nil)
}

// ─── Metadata ───────────────────────────────────────────────────────────────

type listResponse struct {
	Files []string `json:"files"`
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	tenant, filename, err := objectFromRequest(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := s.store.Exists(r.Context(), tenant, filename)
	if err != nil {
		s.sendStorageError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFromRequest(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	files, err := s.store.List(r.Context(), tenant)
	if err != nil {
		s.sendStorageError(w, err)
		return
	}
	if files == nil {
		files = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listResponse{Files: files})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenant, filename, err := objectFromRequest(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.Delete(r.Context(), tenant, filename); err != nil {
		s.sendStorageError(w, err)
		return
	}

	logging.Info("object deleted",
		zap.String("site", tenant.Site),
		zap.String("box", tenant.Box),
		zap.String("resource", tenant.Resource),
		zap.String("filename", filename),
	)
	w.WriteHeader(http.StatusNoContent)
}

// ─── Request parsing ────────────────────────────────────────────────────────

func tenantFromRequest(r *http.Request) (storage.Tenant, error) {
	t := storage.Tenant{
		Site:     r.PathValue("site"),
		Box:      r.PathValue("box"),
		Resource: r.PathValue("resource"),
	}
	if !validSegment(t.Site) || !validSegment(t.Box) || !validSegment(t.Resource) {
		return storage.Tenant{}, fmt.Errorf("invalid tenant path")
	}
	return t, nil
}

func objectFromRequest(r *http.Request) (storage.Tenant, string, error) {
	tenant, err := tenantFromRequest(r)
	if err != nil {
		return storage.Tenant{}, "", err
	}
	filename := r.PathValue("filename")
	if !validSegment(filename) {
		return storage.Tenant{}, "", fmt.Errorf("invalid filename")
	}
	return tenant, filename, nil
}

func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}

func conditionalFromRequest(r *http.Request) storage.Conditional {
	return storage.Conditional{
		IfNoneMatch:       r.Header.Get("If-None-Match"),
		IfMatch:           r.Header.Get("If-Match"),
		IfModifiedSince:   r.Header.Get("If-Modified-Since"),
		IfUnmodifiedSince: r.Header.Get("If-Unmodified-Since"),
		Range:             r.Header.Get("Range"),
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// sendStorageError maps storage errors onto HTTP status codes.
func (s *Server) sendStorageError(w http.ResponseWriter, err error) {
	var serr *storage.Error
	if !errors.As(err, &serr) {
		logging.Error("internal error", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch serr.Kind {
	case storage.KindNotFound:
		s.sendError(w, http.StatusNotFound, "object not found")
	case storage.KindPayloadTooLarge:
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: max %d bytes", s.store.MaxUploadSize()))
	case storage.KindTimeout:
		logging.Warn("storage timeout", zap.Error(serr))
		s.sendError(w, http.StatusGatewayTimeout, "storage timeout")
	case storage.KindConfig:
		logging.Error("storage misconfigured", zap.Error(serr))
		s.sendError(w, http.StatusInternalServerError, "storage misconfigured")
	default:
		if serr.Status == http.StatusPreconditionFailed {
			s.sendError(w, http.StatusPreconditionFailed, "precondition failed")
			return
		}
		if serr.Status == http.StatusRequestedRangeNotSatisfiable {
			s.sendError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
			return
		}
		logging.Error("storage error", zap.Error(serr))
		s.sendError(w, http.StatusBadGateway, "upstream storage error")
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error: message,
		Code:  code,
	})
}
