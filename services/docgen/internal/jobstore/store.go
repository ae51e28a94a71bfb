package jobstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docgen/pkg/domain"
)

var (
	// ErrNotFound covers both unknown and expired ids.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition rejects status changes outside the job state machine.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrNoContent means the upload has no successfully extracted file.
	ErrNoContent = errors.New("upload has no extracted text")
)

// allowed lists the legal job edges. Terminal states have no entry.
var allowed = map[domain.JobStatus][]domain.JobStatus{
	domain.JobPending:    {domain.JobGenerating},
	domain.JobGenerating: {domain.JobRendering, domain.JobFailed},
	domain.JobRendering:  {domain.JobCompleted, domain.JobFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to domain.JobStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Config sets retention windows and the clock.
type Config struct {
	UploadRetention time.Duration
	JobRetention    time.Duration
	Now             func() time.Time
}

// Store is the in-memory registry of uploads and jobs. All reads return
// copies so callers never share memory with the store.
type Store struct {
	mu      sync.RWMutex
	uploads map[string]domain.Upload
	jobs    map[string]domain.Job

	uploadTTL time.Duration
	jobTTL    time.Duration
	now       func() time.Time
}

// New builds an empty store. Zero retention values fall back to one hour for
// uploads and one day for jobs.
func New(cfg Config) *Store {
	if cfg.UploadRetention <= 0 {
		cfg.UploadRetention = time.Hour
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		uploads:   make(map[string]domain.Upload),
		jobs:      make(map[string]domain.Job),
		uploadTTL: cfg.UploadRetention,
		jobTTL:    cfg.JobRetention,
		now:       cfg.Now,
	}
}

func (s *Store) clock() time.Time { return s.now().UTC() }

// CreateUpload registers extraction results under a fresh id.
func (s *Store) CreateUpload(files []domain.FileResult) (domain.Upload, error) {
	now := s.clock()
	up := domain.Upload{
		Files:     cloneFiles(files),
		CreatedAt: now,
		ExpiresAt: now.Add(s.uploadTTL),
	}
	for _, f := range up.Files {
		up.TotalChars += f.CharCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	up.ID = s.newIDLocked()
	s.uploads[up.ID] = up
	return cloneUpload(up), nil
}

// GetUpload returns a copy of a live upload.
func (s *Store) GetUpload(id string) (domain.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	up, ok := s.uploads[id]
	if !ok || !s.clock().Before(up.ExpiresAt) {
		return domain.Upload{}, ErrNotFound
	}
	return cloneUpload(up), nil
}

// NewJob carries the caller-supplied fields of a job.
type NewJob struct {
	UploadID string
	Prompt   string
	Title    string
	Provider string
	Params   domain.GenerationParams
}

// CreateJob checks the upload and captures its text in one critical section,
// so a sweep cannot evict the upload between the check and the copy.
func (s *Store) CreateJob(in NewJob) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	up, ok := s.uploads[in.UploadID]
	if !ok || !now.Before(up.ExpiresAt) {
		return domain.Job{}, ErrNotFound
	}
	if up.ExtractedCount() == 0 {
		return domain.Job{}, ErrNoContent
	}
	job := domain.Job{
		ID:          s.newIDLocked(),
		UploadID:    up.ID,
		Prompt:      in.Prompt,
		Title:       in.Title,
		Provider:    in.Provider,
		Params:      in.Params,
		Status:      domain.JobPending,
		ContextText: CombinedText(up.Files),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

// GetJob returns a copy of a live job.
func (s *Store) GetJob(id string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok || jobExpired(job, s.clock()) {
		return domain.Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

// Transition is a requested job state change. Progress of zero keeps the
// current value; Usage fields are copied when non-zero.
type Transition struct {
	To           domain.JobStatus
	Progress     int
	Failure      *domain.Failure
	ArtifactKey  string
	ArtifactSize int64
	ModelUsed    string
	InputTokens  int
	OutputTokens int
}

// UpdateJob applies t when it follows a legal edge. A same-status transition
// only moves progress forward. Completed requires an artifact key and failed
// requires a failure; terminal states stamp CompletedAt and restart the
// retention window.
func (s *Store) UpdateJob(id string, t Transition) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	now := s.clock()
	if !ok || jobExpired(job, now) {
		return domain.Job{}, ErrNotFound
	}
	if t.To != job.Status && !CanTransition(job.Status, t.To) {
		return domain.Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, t.To)
	}
	if t.To == job.Status && job.Status.Terminal() {
		return domain.Job{}, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, job.Status)
	}
	switch t.To {
	case domain.JobCompleted:
		if strings.TrimSpace(t.ArtifactKey) == "" {
			return domain.Job{}, fmt.Errorf("%w: completed job requires an artifact", ErrInvalidTransition)
		}
		job.ArtifactKey = t.ArtifactKey
		job.ArtifactSize = t.ArtifactSize
		job.Progress = 100
	case domain.JobFailed:
		if t.Failure == nil {
			return domain.Job{}, fmt.Errorf("%w: failed job requires a failure", ErrInvalidTransition)
		}
		f := *t.Failure
		job.Error = &f
	}
	if t.Progress > job.Progress && t.Progress <= 100 {
		job.Progress = t.Progress
	}
	if t.ModelUsed != "" {
		job.ModelUsed = t.ModelUsed
	}
	if t.InputTokens > 0 {
		job.InputTokens = t.InputTokens
	}
	if t.OutputTokens > 0 {
		job.OutputTokens = t.OutputTokens
	}
	job.Status = t.To
	job.UpdatedAt = now
	if job.Status.Terminal() {
		done := now
		job.CompletedAt = &done
		job.ExpiresAt = now.Add(s.jobTTL)
		job.ContextText = ""
	}
	s.jobs[id] = job
	return cloneJob(job), nil
}

// SweepResult reports what a sweep evicted.
type SweepResult struct {
	Uploads      int
	Jobs         int
	ArtifactKeys []string
}

// SweepExpired evicts every expired upload and finished job. Artifact keys of evicted
// jobs are returned so the caller can delete the stored documents.
func (s *Store) SweepExpired() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var res SweepResult
	for id, up := range s.uploads {
		if !now.Before(up.ExpiresAt) {
			delete(s.uploads, id)
			res.Uploads++
		}
	}
	for id, job := range s.jobs {
		if jobExpired(job, now) {
			delete(s.jobs, id)
			res.Jobs++
			if job.ArtifactKey != "" {
				res.ArtifactKeys = append(res.ArtifactKeys, job.ArtifactKey)
			}
		}
	}
	return res
}

// Retention returns the upload and job retention windows.
func (s *Store) Retention() (upload, job time.Duration) {
	return s.uploadTTL, s.jobTTL
}

// Counts returns the number of stored uploads and jobs, expired or not.
func (s *Store) Counts() (uploads, jobs int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads), len(s.jobs)
}

// jobExpired reports whether a finished job is past retention. Retention
// starts at the terminal transition, so a running job never expires.
func jobExpired(job domain.Job, now time.Time) bool {
	return job.Status.Terminal() && !now.Before(job.ExpiresAt)
}

func (s *Store) newIDLocked() string {
	for {
		id := uuid.NewString()
		_, upTaken := s.uploads[id]
		_, jobTaken := s.jobs[id]
		if !upTaken && !jobTaken {
			return id
		}
	}
}

// CombinedText joins the text of successfully extracted files, each under a
// filename banner.
func CombinedText(files []domain.FileResult) string {
	var sb strings.Builder
	for _, f := range files {
		if !f.Extracted() {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("--- ")
		sb.WriteString(f.Filename)
		sb.WriteString(" ---\n")
		sb.WriteString(f.Text)
	}
	return sb.String()
}

func cloneFiles(files []domain.FileResult) []domain.FileResult {
	out := make([]domain.FileResult, len(files))
	copy(out, files)
	for i := range out {
		if out[i].Error != nil {
			f := *out[i].Error
			out[i].Error = &f
		}
	}
	return out
}

func cloneUpload(up domain.Upload) domain.Upload {
	up.Files = cloneFiles(up.Files)
	return up
}

func cloneJob(job domain.Job) domain.Job {
	if job.Error != nil {
		f := *job.Error
		job.Error = &f
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		job.CompletedAt = &t
	}
	return job
}
