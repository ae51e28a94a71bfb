package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"docgen/internal/util"
	"docgen/pkg/ai"
	"docgen/pkg/domain"
	"docgen/pkg/events"
	"docgen/pkg/storage"
	"docgen/services/docgen/internal/extract"
	"docgen/services/docgen/internal/jobstore"
	"docgen/services/docgen/internal/render"
)

const (
	DefaultTitle       = "Generated Document"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048

	maxPromptRunes = 2000
	maxTitleRunes  = 200
	minMaxTokens   = 100
	maxMaxTokens   = 4096
	maxTemperature = 2.0
)

// Progress checkpoints reported while a job runs.
const (
	progressGenerating = 10
	progressRendering  = 70
	progressStoring    = 90
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Store      *jobstore.Store
	Extractor  *extract.Extractor
	Generators *ai.Registry
	Renderer   *render.Renderer
	Artifacts  storage.ArtifactStore
	Events     events.Publisher
	Logger     *slog.Logger

	MaxFileBytes      int64
	MaxFiles          int
	GenerationTimeout time.Duration
	Version           string
}

// App runs the upload -> extract -> generate -> render pipeline. Generation
// jobs run in their own goroutines; request paths never wait for them.
type App struct {
	store      *jobstore.Store
	extractor  *extract.Extractor
	generators *ai.Registry
	renderer   *render.Renderer
	artifacts  storage.ArtifactStore
	events     events.Publisher
	logger     *slog.Logger

	maxFileBytes int64
	maxFiles     int
	genTimeout   time.Duration
	version      string

	models *modelCache
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add in Generate against wg.Wait in Wait.
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// New constructs the application. Store, Extractor, Generators, Renderer and
// Artifacts are required.
func New(cfg Config) (*App, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("app: job store required")
	case cfg.Extractor == nil:
		return nil, errors.New("app: extractor required")
	case cfg.Generators == nil:
		return nil, errors.New("app: generator registry required")
	case cfg.Renderer == nil:
		return nil, errors.New("app: renderer required")
	case cfg.Artifacts == nil:
		return nil, errors.New("app: artifact store required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NoopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 50 << 20
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 2 * time.Minute
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		store:        cfg.Store,
		extractor:    cfg.Extractor,
		generators:   cfg.Generators,
		renderer:     cfg.Renderer,
		artifacts:    cfg.Artifacts,
		events:       cfg.Events,
		logger:       cfg.Logger,
		maxFileBytes: cfg.MaxFileBytes,
		maxFiles:     cfg.MaxFiles,
		genTimeout:   cfg.GenerationTimeout,
		version:      cfg.Version,
		models:       newModelCache(nil),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Upload extracts every file and registers the results as one upload. A file
// that fails extraction is recorded with its error; the upload still succeeds.
func (a *App) Upload(ctx context.Context, files []extract.Input) (domain.Upload, error) {
	if len(files) == 0 {
		return domain.Upload{}, invalid("files", "at least one file is required")
	}
	if len(files) > a.maxFiles {
		return domain.Upload{}, invalid("files", fmt.Sprintf("at most %d files per upload", a.maxFiles))
	}
	logger := util.LoggerFromContext(ctx)
	for _, f := range files {
		if strings.TrimSpace(f.Filename) == "" {
			return domain.Upload{}, invalid("files", "every file needs a filename")
		}
		if int64(len(f.Data)) > a.maxFileBytes {
			return domain.Upload{}, fmt.Errorf("%w: %s exceeds %d MB", ErrFileTooLarge, f.Filename, a.maxFileBytes>>20)
		}
		logger.Debug("file queued", "filename", f.Filename, "status", domain.FileQueued, "bytes", len(f.Data))
	}

	outcomes := a.extractor.ExtractBatch(ctx, files)
	results := make([]domain.FileResult, len(outcomes))
	for i, out := range outcomes {
		results[i] = fileResult(out)
		logger.Info("file extracted",
			"filename", out.Filename,
			"status", results[i].Status,
			"format", results[i].Format,
			"chars", results[i].CharCount,
			"method", results[i].Method,
		)
	}

	up, err := a.store.CreateUpload(results)
	if err != nil {
		return domain.Upload{}, fmt.Errorf("store upload: %w", err)
	}
	logger.Info("upload created", "upload_id", up.ID, "files", len(up.Files), "extracted", up.ExtractedCount(), "total_chars", up.TotalChars)
	return up, nil
}

func fileResult(out extract.Outcome) domain.FileResult {
	res := domain.FileResult{
		Filename:  out.Filename,
		Format:    string(out.Result.Format),
		SizeBytes: out.Size,
	}
	if out.Err != nil {
		res.Status = domain.FileFailed
		res.Error = extractionFailure(out.Err)
		return res
	}
	res.Status = domain.FileExtracted
	res.Text = out.Result.Text
	res.CharCount = out.Result.Chars
	res.PageCount = out.Result.Pages
	res.Method = out.Result.Method
	return res
}

func extractionFailure(err error) *domain.Failure {
	var extractErr *extract.Error
	if errors.As(err, &extractErr) {
		return &domain.Failure{Code: string(extractErr.Kind), Message: extractErr.Message()}
	}
	return &domain.Failure{Code: string(extract.KindCorruptInput), Message: "file could not be read"}
}

// GenerateInput is a generation request. Nil pointers take defaults.
type GenerateInput struct {
	UploadID    string
	Prompt      string
	Title       string
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Generate validates in, creates a pending job bound to the upload and
// dispatches it exactly once. The job runs after Generate returns.
func (a *App) Generate(ctx context.Context, in GenerateInput) (domain.Job, error) {
	newJob, gen, err := a.validateGenerate(in)
	if err != nil {
		return domain.Job{}, err
	}
	if err := a.track(); err != nil {
		return domain.Job{}, err
	}
	job, err := a.store.CreateJob(newJob)
	if err != nil {
		a.wg.Done()
	}
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		return domain.Job{}, fmt.Errorf("%w: upload %s", ErrNotFound, newJob.UploadID)
	case errors.Is(err, jobstore.ErrNoContent):
		return domain.Job{}, invalid("upload_id", "upload has no successfully extracted files")
	case err != nil:
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	logger := util.LoggerFromContext(ctx).With("job_id", job.ID, "upload_id", job.UploadID, "provider", job.Provider)
	logger.Info("job created", "model", job.Params.Model)

	go a.run(util.ContextWithLogger(a.ctx, logger), job, gen)
	return job, nil
}

// track reserves a slot in the drain group for a job about to be created.
func (a *App) track() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draining {
		return ErrShuttingDown
	}
	a.wg.Add(1)
	return nil
}

func (a *App) validateGenerate(in GenerateInput) (jobstore.NewJob, ai.Generator, error) {
	uploadID := strings.TrimSpace(in.UploadID)
	if uploadID == "" {
		return jobstore.NewJob{}, nil, invalid("upload_id", "upload_id is required")
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return jobstore.NewJob{}, nil, invalid("prompt", "prompt is required")
	}
	if utf8.RuneCountInString(prompt) > maxPromptRunes {
		return jobstore.NewJob{}, nil, invalid("prompt", fmt.Sprintf("prompt must be at most %d characters", maxPromptRunes))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return jobstore.NewJob{}, nil, invalid("title", fmt.Sprintf("title must be at most %d characters", maxTitleRunes))
	}
	temperature := DefaultTemperature
	if in.Temperature != nil {
		temperature = *in.Temperature
	}
	if temperature < 0 || temperature > maxTemperature {
		return jobstore.NewJob{}, nil, invalid("temperature", "temperature must be between 0 and 2")
	}
	maxTokens := DefaultMaxTokens
	if in.MaxTokens != nil {
		maxTokens = *in.MaxTokens
	}
	if maxTokens < minMaxTokens || maxTokens > maxMaxTokens {
		return jobstore.NewJob{}, nil, invalid("max_tokens", fmt.Sprintf("max_tokens must be between %d and %d", minMaxTokens, maxMaxTokens))
	}
	gen, err := a.generators.Get(in.Provider)
	if err != nil {
		return jobstore.NewJob{}, nil, invalid("provider", fmt.Sprintf("provider %q is not configured", in.Provider))
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = gen.DefaultModel()
	}
	return jobstore.NewJob{
		UploadID: uploadID,
		Prompt:   prompt,
		Title:    title,
		Provider: gen.Provider(),
		Params: domain.GenerationParams{
			Model:       model,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		},
	}, gen, nil
}

// run drives one job through generating -> rendering -> completed, or to
// failed at the first stage that errors.
func (a *App) run(ctx context.Context, job domain.Job, gen ai.Generator) {
	defer a.wg.Done()
	logger := util.LoggerFromContext(ctx)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panic", "panic", rec)
			a.fail(ctx, job.ID, &domain.Failure{Code: "internal_error", Message: "document generation failed unexpectedly"})
		}
	}()

	if _, err := a.store.UpdateJob(job.ID, jobstore.Transition{To: domain.JobGenerating, Progress: progressGenerating}); err != nil {
		logger.Error("job transition failed", "to", domain.JobGenerating, "err", err)
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, a.genTimeout)
	res, err := gen.Generate(genCtx, ai.Request{
		Model:        job.Params.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt(job.ContextText, job.Prompt),
		Temperature:  job.Params.Temperature,
		MaxTokens:    job.Params.MaxTokens,
	})
	cancel()
	if err != nil {
		logger.Warn("generation failed", "err", err)
		a.fail(ctx, job.ID, generationFailure(job.Provider, err))
		return
	}

	if _, err := a.store.UpdateJob(job.ID, jobstore.Transition{
		To:           domain.JobRendering,
		Progress:     progressRendering,
		ModelUsed:    firstNonEmpty(res.Model, job.Params.Model),
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
	}); err != nil {
		logger.Error("job transition failed", "to", domain.JobRendering, "err", err)
		return
	}

	pdf, report, err := a.renderer.Render(render.Document{
		Title:   job.Title,
		Body:    res.Text,
		Author:  "docgen",
		Subject: job.Prompt,
		Created: job.CreatedAt,
	})
	if err != nil {
		logger.Error("render failed", "err", err)
		a.fail(ctx, job.ID, &domain.Failure{Code: "render_failed", Message: "the generated text could not be rendered"})
		return
	}
	if report.Truncated || report.PlainFallback {
		logger.Warn("render degraded", "truncated", report.Truncated, "plain_fallback", report.PlainFallback)
	}

	if _, err := a.store.UpdateJob(job.ID, jobstore.Transition{To: domain.JobRendering, Progress: progressStoring}); err != nil {
		logger.Error("job progress update failed", "err", err)
		return
	}
	key := artifactKey(job.ID)
	if err := a.artifacts.Put(ctx, key, bytes.NewReader(pdf), int64(len(pdf)), "application/pdf"); err != nil {
		logger.Error("store artifact failed", "key", key, "err", err)
		a.fail(ctx, job.ID, &domain.Failure{Code: "storage_failed", Message: "the rendered document could not be stored"})
		return
	}

	done, err := a.store.UpdateJob(job.ID, jobstore.Transition{
		To:           domain.JobCompleted,
		ArtifactKey:  key,
		ArtifactSize: int64(len(pdf)),
	})
	if err != nil {
		logger.Error("job transition failed", "to", domain.JobCompleted, "err", err)
		if delErr := a.artifacts.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			logger.Warn("delete orphaned artifact failed", "key", key, "err", delErr)
		}
		return
	}
	logger.Info("job completed",
		"pages", report.Pages,
		"bytes", len(pdf),
		"input_tokens", done.InputTokens,
		"output_tokens", done.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	a.publish(ctx, done)
}

func (a *App) fail(ctx context.Context, jobID string, failure *domain.Failure) {
	logger := util.LoggerFromContext(ctx)
	job, err := a.store.UpdateJob(jobID, jobstore.Transition{To: domain.JobFailed, Failure: failure})
	if err != nil {
		logger.Error("job transition failed", "to", domain.JobFailed, "err", err)
		return
	}
	logger.Info("job failed", "code", failure.Code, "retryable", failure.Retryable)
	a.publish(ctx, job)
}

func (a *App) publish(ctx context.Context, job domain.Job) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	ev := events.JobEventFrom(job)
	if err := a.events.Publish(pubCtx, ev); err != nil {
		util.LoggerFromContext(ctx).Warn("publish job event failed", "type", ev.Type, "err", err)
	}
}

// generationFailure keeps the adapter's classification.
func generationFailure(provider string, err error) *domain.Failure {
	var aiErr *ai.Error
	if errors.As(err, &aiErr) {
		return &domain.Failure{Code: string(aiErr.Kind), Message: aiErr.Message(), Retryable: aiErr.Retryable()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e := &ai.Error{Kind: ai.KindTimeout, Provider: provider}
		return &domain.Failure{Code: string(e.Kind), Message: e.Message(), Retryable: true}
	}
	e := &ai.Error{Kind: ai.KindUpstreamFailure, Provider: provider}
	return &domain.Failure{Code: string(e.Kind), Message: e.Message()}
}

// Status returns a snapshot of the job. Polling never advances it.
func (a *App) Status(id string) (domain.Job, error) {
	job, err := a.store.GetJob(strings.TrimSpace(id))
	if errors.Is(err, jobstore.ErrNotFound) {
		return domain.Job{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return job, err
}

// Artifact is an open rendered document. Callers close Body.
type Artifact struct {
	Body     io.ReadCloser
	Size     int64
	Filename string
}

// Download opens the rendered document of a completed job.
func (a *App) Download(ctx context.Context, id string) (Artifact, error) {
	job, err := a.Status(id)
	if err != nil {
		return Artifact{}, err
	}
	if job.Status != domain.JobCompleted {
		return Artifact{}, fmt.Errorf("%w: job is %s", ErrNotReady, job.Status)
	}
	body, size, err := a.artifacts.Open(ctx, job.ArtifactKey)
	if errors.Is(err, storage.ErrNotFound) {
		return Artifact{}, fmt.Errorf("%w: document for job %s", ErrNotFound, job.ID)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	return Artifact{Body: body, Size: size, Filename: DownloadName(job.ID)}, nil
}

// DownloadName is the attachment filename offered for a job's document.
func DownloadName(jobID string) string {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return "generated_" + short + ".pdf"
}

func artifactKey(jobID string) string {
	return "jobs/" + jobID + ".pdf"
}

// Info describes the service for /api/info.
type Info struct {
	Name                   string   `json:"name"`
	Version                string   `json:"version"`
	Description            string   `json:"description"`
	SupportedFormats       []string `json:"supported_formats"`
	ModelsAvailable        []string `json:"models_available"`
	DefaultProvider        string   `json:"default_provider"`
	MaxFileSizeMB          int64    `json:"max_file_size_mb"`
	MaxFilesPerUpload      int      `json:"max_files_per_upload"`
	UploadRetentionSeconds int64    `json:"upload_retention_seconds"`
	JobRetentionSeconds    int64    `json:"job_retention_seconds"`
}

func (a *App) Info() Info {
	var models []string
	for _, name := range a.generators.Names() {
		if gen, err := a.generators.Get(name); err == nil {
			models = append(models, gen.DefaultModel())
		}
	}
	uploadTTL, jobTTL := a.store.Retention()
	return Info{
		Name:                   "DocGen",
		Version:                a.version,
		Description:            "AI-powered document generator",
		SupportedFormats:       extract.SupportedExtensions(),
		ModelsAvailable:        models,
		DefaultProvider:        a.generators.Default(),
		MaxFileSizeMB:          a.maxFileBytes >> 20,
		MaxFilesPerUpload:      a.maxFiles,
		UploadRetentionSeconds: int64(uploadTTL / time.Second),
		JobRetentionSeconds:    int64(jobTTL / time.Second),
	}
}

// Providers lists configured providers in registration order. Providers
// that can enumerate their models have the listed ones merged ahead of the
// built-in catalog.
func (a *App) Providers(ctx context.Context) []ProviderInfo {
	names := a.generators.Names()
	out := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		gen, err := a.generators.Get(name)
		if err != nil {
			continue
		}
		var listed []Model
		if lister, ok := gen.(ai.ModelLister); ok {
			listed = a.models.models(ctx, name, lister, a.logger)
		}
		out = append(out, describeProvider(gen, name == a.generators.Default(), listed))
	}
	return out
}

// Version reports the service version.
func (a *App) Version() string { return a.version }

// Wait blocks until every dispatched job has finished. Generate fails with
// ErrShuttingDown while Wait is draining. When ctx ends first, running jobs
// are cancelled, the app stays closed and ctx's error is returned.
func (a *App) Wait(ctx context.Context) error {
	a.mu.Lock()
	a.draining = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.mu.Lock()
		a.draining = false
		a.mu.Unlock()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-done
		return ctx.Err()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
