package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docgen/internal/ratelimit"
	"docgen/internal/util"
	"docgen/pkg/domain"
	"docgen/services/docgen/internal/app"
	"docgen/services/docgen/internal/extract"
)

// Error codes returned in the "code" field of error bodies.
const (
	codeValidation  = "validation_error"
	codeNotFound    = "not_found"
	codeNotReady    = "not_ready"
	codeRateLimit   = "rate_limited"
	codeUnavailable = "unavailable"
	codeInternal    = "internal_error"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiter guards POST /upload and POST /generate. Nil disables limiting.
	Limiter        ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
	// MaxUploadBytes caps a whole multipart body.
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the docgen service.
type Server struct {
	app            *app.App
	limiter        ratelimit.Limiter
	trusted        *util.TrustedProxies
	corsOrigins    []string
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trusted:        cfg.TrustedProxies,
		corsOrigins:    cfg.CORSOrigins,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(s.trusted, util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/info", s.handleInfo)
	s.mux.HandleFunc("/providers", s.handleProviders)
	s.mux.HandleFunc("/upload", s.handleUpload)
	s.mux.HandleFunc("/generate", s.handleGenerate)
	s.mux.HandleFunc("/status/", s.handleStatus)
	s.mux.HandleFunc("/download/", s.handleDownload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.app.Version(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Info())
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.app.Providers(r.Context())})
}

type fileResponse struct {
	Filename         string `json:"filename"`
	Format           string `json:"format"`
	SizeBytes        int64  `json:"size_bytes"`
	CharCount        int    `json:"char_count"`
	PageCount        int    `json:"page_count"`
	ExtractionMethod string `json:"extraction_method,omitempty"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
}

type uploadResponse struct {
	UploadID   string         `json:"upload_id"`
	Files      []fileResponse `json:"files"`
	TotalChars int            `json:"total_chars"`
	Timestamp  time.Time      `json:"timestamp"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, codeValidation, fmt.Sprintf("upload exceeds %d MB", s.maxUploadBytes>>20))
			return
		}
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var headers []*multipart.FileHeader
	headers = append(headers, r.MultipartForm.File["files"]...)
	headers = append(headers, r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		writeError(w, r, http.StatusBadRequest, codeValidation, "at least one file is required (field: files)")
		return
	}
	inputs := make([]extract.Input, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, fmt.Sprintf("could not read %s", fh.Filename))
			return
		}
		inputs = append(inputs, extract.Input{Filename: fh.Filename, Data: data})
	}

	up, err := s.app.Upload(r.Context(), inputs)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	resp := uploadResponse{
		UploadID:   up.ID,
		Files:      make([]fileResponse, len(up.Files)),
		TotalChars: up.TotalChars,
		Timestamp:  up.CreatedAt,
		ExpiresAt:  up.ExpiresAt,
	}
	for i, f := range up.Files {
		resp.Files[i] = toFileResponse(f)
	}
	writeJSON(w, http.StatusOK, resp)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func toFileResponse(f domain.FileResult) fileResponse {
	out := fileResponse{
		Filename:         f.Filename,
		Format:           f.Format,
		SizeBytes:        f.SizeBytes,
		CharCount:        f.CharCount,
		PageCount:        f.PageCount,
		ExtractionMethod: f.Method,
		Status:           string(f.Status),
	}
	if f.Error != nil {
		out.Error = f.Error.Message
		out.ErrorCode = f.Error.Code
	}
	return out
}

type generateRequest struct {
	UploadID    string   `json:"upload_id"`
	Prompt      string   `json:"prompt"`
	Title       string   `json:"title"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

type generateResponse struct {
	JobID     string    `json:"job_id"`
	UploadID  string    `json:"upload_id"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r) {
		return
	}
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}
	job, err := s.app.Generate(r.Context(), app.GenerateInput{
		UploadID:    req.UploadID,
		Prompt:      req.Prompt,
		Title:       req.Title,
		Provider:    req.Provider,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		JobID:     job.ID,
		UploadID:  job.UploadID,
		Status:    string(job.Status),
		Provider:  job.Provider,
		Model:     job.Params.Model,
		Timestamp: job.CreatedAt,
	})
}

type statusResponse struct {
	JobID          string     `json:"job_id"`
	UploadID       string     `json:"upload_id"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	Title          string     `json:"title"`
	Provider       string     `json:"provider"`
	Model          string     `json:"model,omitempty"`
	TokensInput    int        `json:"tokens_input,omitempty"`
	TokensOutput   int        `json:"tokens_output,omitempty"`
	Error          string     `json:"error,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	Retryable      *bool      `json:"retryable,omitempty"`
	DownloadURL    string     `json:"download_url,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id, ok := pathID(r.URL.Path, "/status/")
	if !ok {
		writeError(w, r, http.StatusNotFound, codeNotFound, "job not found")
		return
	}
	job, err := s.app.Status(id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	resp := statusResponse{
		JobID:          job.ID,
		UploadID:       job.UploadID,
		Status:         string(job.Status),
		Progress:       job.Progress,
		Title:          job.Title,
		Provider:       job.Provider,
		Model:          firstNonEmpty(job.ModelUsed, job.Params.Model),
		TokensInput:    job.InputTokens,
		TokensOutput:   job.OutputTokens,
		Timestamp:      job.CreatedAt,
		CompletionTime: job.CompletedAt,
	}
	if job.Error != nil {
		retryable := job.Error.Retryable
		resp.Error = job.Error.Message
		resp.ErrorCode = job.Error.Code
		resp.Retryable = &retryable
	}
	if job.Status == domain.JobCompleted {
		resp.DownloadURL = "/download/" + job.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id, ok := pathID(r.URL.Path, "/download/")
	if !ok {
		writeError(w, r, http.StatusNotFound, codeNotFound, "job not found")
		return
	}
	art, err := s.app.Download(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer art.Body.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
	if art.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, art.Body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("download interrupted", "job_id", id, "err", err)
	}
}

// pathID extracts the single path segment after prefix.
func pathID(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	d := s.limiter.Allow(r.Context(), util.RateLimitKey(r, s.trusted, r.URL.Path))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Allowed {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(d.RetryAfter)))
	writeError(w, r, http.StatusTooManyRequests, codeRateLimit, "too many requests, try again later")
	return false
}

// retrySeconds rounds up to whole seconds, never below one.
func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *app.ValidationError
	switch {
	case errors.Is(err, app.ErrFileTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, codeValidation, err.Error())
	case errors.As(err, &validationErr):
		writeError(w, r, http.StatusBadRequest, codeValidation, validationErr.Message)
	case errors.Is(err, app.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, app.ErrNotReady):
		writeError(w, r, http.StatusConflict, codeNotReady, err.Error())
	case errors.Is(err, app.ErrShuttingDown):
		w.Header().Set("Retry-After", "30")
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, map[string]string{
		"error":     msg,
		"code":      code,
		"requestId": util.RequestIDFromRequest(r),
	})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
