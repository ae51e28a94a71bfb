package jobstore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"docgen/pkg/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(Config{
		UploadRetention: time.Hour,
		JobRetention:    24 * time.Hour,
		Now:             clock.Now,
	}), clock
}

func helloFiles() []domain.FileResult {
	return []domain.FileResult{{Filename: "a.txt", Format: "txt", CharCount: 11, Text: "Hello world", Status: domain.FileExtracted}}
}

func TestCreateUploadAssignsUniqueIDs(t *testing.T) {
	store, _ := newTestStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		up, err := store.CreateUpload(helloFiles())
		if err != nil {
			t.Fatalf("create upload: %v", err)
		}
		if seen[up.ID] {
			t.Fatalf("duplicate upload id %s", up.ID)
		}
		seen[up.ID] = true
	}
}

func TestCreateUploadComputesTotalsAndExpiry(t *testing.T) {
	store, clock := newTestStore(t)
	files := append(helloFiles(), domain.FileResult{
		Filename: "x.exe",
		Status:   domain.FileFailed,
		Error:    &domain.Failure{Code: "unsupported_format", Message: "unsupported"},
	})
	up, err := store.CreateUpload(files)
	if err != nil {
		t.Fatalf("create upload: %v", err)
	}
	if up.TotalChars != 11 {
		t.Fatalf("total chars = %d, want 11", up.TotalChars)
	}
	if !up.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("expires at = %v", up.ExpiresAt)
	}
	if !up.ExpiresAt.After(up.CreatedAt) {
		t.Fatal("expiry must be after creation")
	}
}

func TestGetUploadReturnsCopies(t *testing.T) {
	store, _ := newTestStore(t)
	files := append(helloFiles(), domain.FileResult{Filename: "bad.pdf", Error: &domain.Failure{Code: "corrupt_input"}})
	up, _ := store.CreateUpload(files)

	first, err := store.GetUpload(up.ID)
	if err != nil {
		t.Fatalf("get upload: %v", err)
	}
	first.Files[0].Text = "mutated"
	first.Files[1].Error.Code = "mutated"

	second, _ := store.GetUpload(up.ID)
	if second.Files[0].Text != "Hello world" || second.Files[1].Error.Code != "corrupt_input" {
		t.Fatalf("store state leaked through a read: %+v", second.Files)
	}
	files[0].Text = "caller mutation"
	third, _ := store.GetUpload(up.ID)
	if third.Files[0].Text != "Hello world" {
		t.Fatal("store shares memory with CreateUpload input")
	}
}

func TestExpiredUploadIsNotFound(t *testing.T) {
	store, clock := newTestStore(t)
	up, _ := store.CreateUpload(helloFiles())
	clock.Advance(time.Hour)

	if _, err := store.GetUpload(up.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get expired upload err = %v, want ErrNotFound", err)
	}
	if _, err := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "p"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("create job err = %v, want ErrNotFound", err)
	}
	if _, jobs := store.Counts(); jobs != 0 {
		t.Fatalf("jobs = %d, want none created", jobs)
	}
}

func TestCreateJobUnknownUpload(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.CreateJob(NewJob{UploadID: "nonexistent", Prompt: "p"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateJobRequiresExtractedText(t *testing.T) {
	store, _ := newTestStore(t)
	up, _ := store.CreateUpload([]domain.FileResult{{Filename: "a.xyz", Error: &domain.Failure{Code: "unsupported_format"}}})
	if _, err := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "p"}); !errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
}

func TestCreateJobRejectsEmptyText(t *testing.T) {
	store, _ := newTestStore(t)
	up, _ := store.CreateUpload([]domain.FileResult{{Filename: "empty.txt", Format: "txt", Status: domain.FileExtracted}})
	if _, err := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "p"}); !errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
}

func TestRunningJobNeverExpires(t *testing.T) {
	store, clock := newTestStore(t)
	up, _ := store.CreateUpload(helloFiles())
	job, _ := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "p"})
	if !job.ExpiresAt.IsZero() {
		t.Fatalf("pending job expires at %v, want zero", job.ExpiresAt)
	}
	if _, err := store.UpdateJob(job.ID, Transition{To: domain.JobGenerating, Progress: 10}); err != nil {
		t.Fatalf("pending -> generating: %v", err)
	}

	clock.Advance(72 * time.Hour)
	res := store.SweepExpired()
	if res.Uploads != 1 || res.Jobs != 0 {
		t.Fatalf("sweep = %+v, want only the upload evicted", res)
	}
	if got, err := store.GetJob(job.ID); err != nil || got.Status != domain.JobGenerating {
		t.Fatalf("get running job = %+v, %v", got, err)
	}
	if _, err := store.UpdateJob(job.ID, Transition{To: domain.JobRendering, Progress: 70}); err != nil {
		t.Fatalf("generating -> rendering: %v", err)
	}
	done, err := store.UpdateJob(job.ID, Transition{To: domain.JobCompleted, ArtifactKey: "jobs/a.pdf"})
	if err != nil {
		t.Fatalf("rendering -> completed: %v", err)
	}
	if !done.ExpiresAt.Equal(clock.Now().Add(24 * time.Hour)) {
		t.Fatalf("expires at = %v, want completion + retention", done.ExpiresAt)
	}
}

func TestJobOutlivesUpload(t *testing.T) {
	store, clock := newTestStore(t)
	up, _ := store.CreateUpload(helloFiles())
	job, err := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "summarize"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != domain.JobPending || job.ContextText != "--- a.txt ---\nHello world" {
		t.Fatalf("unexpected job: %+v", job)
	}

	clock.Advance(2 * time.Hour)
	res := store.SweepExpired()
	if res.Uploads != 1 || res.Jobs != 0 {
		t.Fatalf("sweep = %+v, want one upload evicted", res)
	}
	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("job should survive its upload: %v", err)
	}
	if got.ContextText == "" {
		t.Fatal("job lost its captured text")
	}
}

func TestJobTransitions(t *testing.T) {
	all := []domain.JobStatus{domain.JobPending, domain.JobGenerating, domain.JobRendering, domain.JobCompleted, domain.JobFailed}
	legal := map[[2]domain.JobStatus]bool{
		{domain.JobPending, domain.JobGenerating}:   true,
		{domain.JobGenerating, domain.JobRendering}: true,
		{domain.JobGenerating, domain.JobFailed}:    true,
		{domain.JobRendering, domain.JobCompleted}:  true,
		{domain.JobRendering, domain.JobFailed}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != legal[[2]domain.JobStatus{from, to}] {
				t.Fatalf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestUpdateJobHappyPath(t *testing.T) {
	store, clock := newTestStore(t)
	up, _ := store.CreateUpload(helloFiles())
	job, _ := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "p"})

	steps := []Transition{
		{To: domain.JobGenerating, Progress: 10},
		{To: domain.JobGenerating, Progress: 20},
		{To: domain.JobRendering, Progress: 70, ModelUsed: "m", InputTokens: 4, OutputTokens: 9},
		{To: domain.JobRendering, Progress: 90},
		{To: domain.JobCompleted, ArtifactKey: "jobs/x.pdf", ArtifactSize: 1024},
	}
	for _, step := range steps {
		clock.Advance(time.Second)
		if _, err := store.UpdateJob(job.ID, step); err != nil {
			t.Fatalf("transition to %s: %v", step.To, err)
		}
	}
	got, _ := store.GetJob(job.ID)
	if got.Status != domain.JobCompleted || got.Progress != 100 || got.ArtifactKey != "jobs/x.pdf" {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(clock.Now()) {
		t.Fatalf("completed at = %v", got.CompletedAt)
	}
	if got.ModelUsed != "m" || got.OutputTokens != 9 {
		t.Fatalf("usage not recorded: %+v", got)
	}
	if !got.ExpiresAt.Equal(clock.Now().Add(24 * time.Hour)) {
		t.Fatalf("retention should restart at completion, expires %v", got.ExpiresAt)
	}
}

func TestUpdateJobRejectsIllegalEdges(t *testing.T) {
	store, _ := newTestStore(t)
	up, _ := store.CreateUpload(helloFiles())
	job, _ := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "p"})

	if _, err := store.UpdateJob(job.ID, Transition{To: domain.JobRendering}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> rendering err = %v, want ErrInvalidTransition", err)
	}
	if _, err := store.UpdateJob(job.ID, Transition{To: domain.JobCompleted, ArtifactKey: "k"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed err = %v", err)
	}
	if _, err := store.UpdateJob(job.ID, Transition{To: domain.JobGenerating}); err != nil {
		t.Fatalf("pending -> generating: %v", err)
	}
	if _, err := store.UpdateJob(job.ID, Transition{To: domain.JobFailed}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("failed without failure err = %v", err)
	}
	fail := &domain.Failure{Code: "rate_limited", Message: "slow down", Retryable: true}
	if _, err := store.UpdateJob(job.ID, Transition{To: domain.JobFailed, Failure: fail}); err != nil {
		t.Fatalf("generating -> failed: %v", err)
	}
	fail.Code = "mutated"

	for _, to := range []domain.JobStatus{domain.JobFailed, domain.JobGenerating, domain.JobRendering, domain.JobCompleted} {
		if _, err := store.UpdateJob(job.ID, Transition{To: to, ArtifactKey: "k", Failure: fail}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("failed -> %s err = %v, want ErrInvalidTransition", to, err)
		}
	}
	got, _ := store.GetJob(job.ID)
	if got.Error == nil || got.Error.Code != "rate_limited" || !got.Error.Retryable {
		t.Fatalf("failure not preserved verbatim: %+v", got.Error)
	}
	if got.ArtifactKey != "" {
		t.Fatal("failed job must not carry an artifact")
	}
}

func TestCompletedRequiresArtifact(t *testing.T) {
	store, _ := newTestStore(t)
	up, _ := store.CreateUpload(helloFiles())
	job, _ := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "p"})
	_, _ = store.UpdateJob(job.ID, Transition{To: domain.JobGenerating})
	_, _ = store.UpdateJob(job.ID, Transition{To: domain.JobRendering})
	if _, err := store.UpdateJob(job.ID, Transition{To: domain.JobCompleted}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestSweepExpiredReturnsArtifactKeys(t *testing.T) {
	store, clock := newTestStore(t)
	up, _ := store.CreateUpload(helloFiles())
	job, _ := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "p"})
	_, _ = store.UpdateJob(job.ID, Transition{To: domain.JobGenerating})
	_, _ = store.UpdateJob(job.ID, Transition{To: domain.JobRendering})
	_, _ = store.UpdateJob(job.ID, Transition{To: domain.JobCompleted, ArtifactKey: "jobs/a.pdf"})

	clock.Advance(23 * time.Hour)
	if res := store.SweepExpired(); res.Jobs != 0 {
		t.Fatalf("job evicted early: %+v", res)
	}
	clock.Advance(time.Hour)
	res := store.SweepExpired()
	if res.Jobs != 1 || len(res.ArtifactKeys) != 1 || res.ArtifactKeys[0] != "jobs/a.pdf" {
		t.Fatalf("sweep = %+v", res)
	}
	if _, err := store.GetJob(job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get swept job err = %v", err)
	}
	if uploads, jobs := store.Counts(); uploads != 0 || jobs != 0 {
		t.Fatalf("counts = %d/%d, want empty store", uploads, jobs)
	}
}

func TestConcurrentReadsDuringUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	up, _ := store.CreateUpload(helloFiles())
	job, _ := store.CreateJob(NewJob{UploadID: up.ID, Prompt: "p"})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := store.GetJob(job.ID)
				if err != nil {
					t.Errorf("get job: %v", err)
					return
				}
				if (got.Status == domain.JobCompleted) != (got.ArtifactKey != "") {
					t.Errorf("artifact presence out of sync with status: %+v", got)
					return
				}
			}
		}()
	}
	for p := 11; p < 70; p++ {
		_, _ = store.UpdateJob(job.ID, Transition{To: domain.JobGenerating, Progress: p})
	}
	_, _ = store.UpdateJob(job.ID, Transition{To: domain.JobRendering, Progress: 70})
	_, _ = store.UpdateJob(job.ID, Transition{To: domain.JobCompleted, ArtifactKey: "k"})
	close(stop)
	wg.Wait()
}

func TestCombinedTextSkipsFailedFiles(t *testing.T) {
	files := []domain.FileResult{
		{Filename: "a.txt", Text: "alpha"},
		{Filename: "b.pdf", Error: &domain.Failure{Code: "corrupt_input"}},
		{Filename: "c.docx", Text: "gamma"},
		{Filename: "d.txt"},
	}
	want := "--- a.txt ---\nalpha\n\n--- c.docx ---\ngamma"
	if got := CombinedText(files); got != want {
		t.Fatalf("combined = %q, want %q", got, want)
	}
	if n := (domain.Upload{Files: files}).ExtractedCount(); n != 2 {
		t.Fatalf("extracted count = %d, want 2 to match combined sections", n)
	}
}
