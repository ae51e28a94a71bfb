package domain

import "time"

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobGenerating JobStatus = "generating"
	JobRendering  JobStatus = "rendering"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// FileStatus tracks a single uploaded file through extraction.
type FileStatus string

const (
	FileQueued     FileStatus = "queued"
	FileExtracting FileStatus = "extracting"
	FileExtracted  FileStatus = "extracted"
	FileFailed     FileStatus = "failed"
)

// Failure is a classified error recorded on a file or a job.
// Message is safe to show to API callers.
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type FileResult struct {
	Filename  string     `json:"filename"`
	Format    string     `json:"format"`
	SizeBytes int64      `json:"sizeBytes"`
	CharCount int        `json:"charCount"`
	PageCount int        `json:"pageCount,omitempty"`
	Method    string     `json:"method,omitempty"`
	Status    FileStatus `json:"status"`
	Text      string     `json:"-"`
	Error     *Failure   `json:"error,omitempty"`
}

// Upload is read-only once created.
type Upload struct {
	ID         string       `json:"id"`
	Files      []FileResult `json:"files"`
	TotalChars int          `json:"totalChars"`
	CreatedAt  time.Time    `json:"createdAt"`
	ExpiresAt  time.Time    `json:"expiresAt"`
}

// Extracted reports whether the file contributes text to generation.
func (f FileResult) Extracted() bool {
	return f.Error == nil && f.Text != ""
}

// ExtractedCount returns the number of files that produced text.
func (u Upload) ExtractedCount() int {
	n := 0
	for _, f := range u.Files {
		if f.Extracted() {
			n++
		}
	}
	return n
}

// GenerationParams are the model knobs forwarded to the AI provider.
type GenerationParams struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type Job struct {
	ID           string           `json:"id"`
	UploadID     string           `json:"uploadId"`
	Prompt       string           `json:"prompt"`
	Title        string           `json:"title"`
	Provider     string           `json:"provider"`
	Params       GenerationParams `json:"params"`
	Status       JobStatus        `json:"status"`
	Progress     int              `json:"progress"`
	Error        *Failure         `json:"error,omitempty"`
	ModelUsed    string           `json:"modelUsed,omitempty"`
	InputTokens  int              `json:"inputTokens,omitempty"`
	OutputTokens int              `json:"outputTokens,omitempty"`
	ArtifactKey  string           `json:"-"`
	ArtifactSize int64            `json:"artifactSize,omitempty"`
	ContextText  string           `json:"-"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
	// ExpiresAt is zero until the job reaches a terminal state.
	ExpiresAt time.Time `json:"expiresAt"`
}
