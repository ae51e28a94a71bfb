package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docgen/pkg/ai"
	"docgen/pkg/storage"
	"docgen/services/docgen/internal/app"
	"docgen/services/docgen/internal/extract"
	"docgen/services/docgen/internal/jobstore"
	"docgen/services/docgen/internal/render"
)

type stubGenerator struct {
	gate chan struct{}
}

func (g *stubGenerator) Provider() string     { return "gemini" }
func (g *stubGenerator) DefaultModel() string { return "gemini-2.5-flash" }

func (g *stubGenerator) Generate(ctx context.Context, req ai.Request) (ai.Result, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return ai.Result{}, ctx.Err()
		}
	}
	return ai.Result{Text: "OVERVIEW\n\nA short document.", Model: req.Model, InputTokens: 10, OutputTokens: 5}, nil
}

func newTestApp(t *testing.T, gen ai.Generator) *app.App {
	t.Helper()
	artifacts, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	registry, err := ai.NewRegistry("", gen)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(app.Config{
		Store:      jobstore.New(jobstore.Config{}),
		Extractor:  extract.New(extract.Config{TempDir: t.TempDir(), Logger: logger}),
		Generators: registry,
		Renderer:   render.New(render.Config{}),
		Artifacts:  artifacts,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func waitJobs(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("wait for jobs: %v", err)
	}
}

type namedFile struct {
	name string
	data string
}

func multipartBody(t *testing.T, field string, files ...namedFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(f.data)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return body, mw.FormDataContentType()
}

func decode(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(payload)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestUploadGenerateDownloadFlow(t *testing.T) {
	appCore := newTestApp(t, &stubGenerator{})
	srv := httptest.NewServer(New(Config{App: appCore}).Router())
	defer srv.Close()

	body, contentType := multipartBody(t, "files", namedFile{"hello.txt", "Hello world"})
	resp, err := http.Post(srv.URL+"/upload", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d, want 200", resp.StatusCode)
	}
	var up uploadResponse
	decode(t, resp.Body, &up)
	if up.UploadID == "" || len(up.Files) != 1 || up.Files[0].CharCount != 11 || up.TotalChars != 11 {
		t.Fatalf("upload response = %+v", up)
	}

	genResp := postJSON(t, srv.URL+"/generate", map[string]any{"upload_id": up.UploadID, "prompt": "Summarize"})
	defer genResp.Body.Close()
	if genResp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d, want 200", genResp.StatusCode)
	}
	var gen generateResponse
	decode(t, genResp.Body, &gen)
	if gen.JobID == "" || gen.UploadID != up.UploadID || gen.Status != "pending" {
		t.Fatalf("generate response = %+v", gen)
	}
	waitJobs(t, appCore)

	statusResp, err := http.Get(srv.URL + "/status/" + gen.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer statusResp.Body.Close()
	var st statusResponse
	decode(t, statusResp.Body, &st)
	if st.Status != "completed" || st.Progress != 100 || st.CompletionTime == nil {
		t.Fatalf("status response = %+v", st)
	}
	if st.Error != "" || st.DownloadURL != "/download/"+gen.JobID {
		t.Fatalf("status response = %+v", st)
	}

	dl, err := http.Get(srv.URL + "/download/" + gen.JobID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, want 200", dl.StatusCode)
	}
	if ct := dl.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content-type = %q, want application/pdf", ct)
	}
	if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, "generated_") {
		t.Fatalf("content-disposition = %q", cd)
	}
	pdf, _ := io.ReadAll(dl.Body)
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("download body is not a PDF")
	}
}

func TestGenerateUnknownUploadReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(New(Config{App: newTestApp(t, &stubGenerator{})}).Router())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/generate", map[string]any{"upload_id": "missing", "prompt": "Summarize"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp.Body, &body)
	if body["code"] != codeNotFound {
		t.Fatalf("code = %q, want %q", body["code"], codeNotFound)
	}
	if body["requestId"] == "" || body["requestId"] != resp.Header.Get("X-Request-Id") {
		t.Fatalf("requestId = %q, header = %q", body["requestId"], resp.Header.Get("X-Request-Id"))
	}
}

func TestUploadReportsUnsupportedFile(t *testing.T) {
	srv := httptest.NewServer(New(Config{App: newTestApp(t, &stubGenerator{})}).Router())
	defer srv.Close()

	body, contentType := multipartBody(t, "file", namedFile{"diagram.xyz", "???"})
	resp, err := http.Post(srv.URL+"/upload", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var up uploadResponse
	decode(t, resp.Body, &up)
	if len(up.Files) != 1 || up.Files[0].ErrorCode != "unsupported_format" || up.Files[0].Status != "failed" {
		t.Fatalf("files = %+v", up.Files)
	}
}

func TestUploadValidation(t *testing.T) {
	srv := httptest.NewServer(New(Config{App: newTestApp(t, &stubGenerator{}), MaxUploadBytes: 1024}).Router())
	defer srv.Close()

	empty, contentType := multipartBody(t, "files")
	resp, err := http.Post(srv.URL+"/upload", contentType, empty)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("no files status = %d, want 400", resp.StatusCode)
	}

	big, contentType := multipartBody(t, "files", namedFile{"big.txt", strings.Repeat("x", 4096)})
	resp, err = http.Post(srv.URL+"/upload", contentType, big)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized status = %d, want 413", resp.StatusCode)
	}
	var errBody map[string]string
	decode(t, resp.Body, &errBody)
	if errBody["code"] != codeValidation {
		t.Fatalf("code = %q, want %q", errBody["code"], codeValidation)
	}
}

func TestGenerateRejectsInvalidRequest(t *testing.T) {
	srv := httptest.NewServer(New(Config{App: newTestApp(t, &stubGenerator{})}).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/generate", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/generate", map[string]any{"upload_id": "u", "prompt": "x", "temperature": 3})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("temperature status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp.Body, &body)
	if body["code"] != codeValidation || !strings.Contains(body["error"], "temperature") {
		t.Fatalf("error body = %v", body)
	}
}

func TestDownloadBeforeCompletionReturnsConflict(t *testing.T) {
	gen := &stubGenerator{gate: make(chan struct{})}
	appCore := newTestApp(t, gen)
	srv := httptest.NewServer(New(Config{App: appCore}).Router())
	defer srv.Close()

	body, contentType := multipartBody(t, "files", namedFile{"a.txt", "some text"})
	resp, err := http.Post(srv.URL+"/upload", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var up uploadResponse
	decode(t, resp.Body, &up)
	resp.Body.Close()

	genResp := postJSON(t, srv.URL+"/generate", map[string]any{"upload_id": up.UploadID, "prompt": "Summarize"})
	var genBody generateResponse
	decode(t, genResp.Body, &genBody)
	genResp.Body.Close()

	dl, err := http.Get(srv.URL + "/download/" + genBody.JobID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	var errBody map[string]string
	decode(t, dl.Body, &errBody)
	dl.Body.Close()
	if dl.StatusCode != http.StatusConflict || errBody["code"] != codeNotReady {
		t.Fatalf("download = %d %v, want 409 not_ready", dl.StatusCode, errBody)
	}
	close(gen.gate)
	waitJobs(t, appCore)
}

func TestGenerateWhileDrainingReturnsUnavailable(t *testing.T) {
	gen := &stubGenerator{gate: make(chan struct{})}
	appCore := newTestApp(t, gen)
	srv := httptest.NewServer(New(Config{App: appCore}).Router())
	defer srv.Close()

	body, contentType := multipartBody(t, "files", namedFile{"a.txt", "some text"})
	resp, err := http.Post(srv.URL+"/upload", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var up uploadResponse
	decode(t, resp.Body, &up)
	resp.Body.Close()

	first := postJSON(t, srv.URL+"/generate", map[string]any{"upload_id": up.UploadID, "prompt": "Summarize"})
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first generate status = %d, want 200", first.StatusCode)
	}

	drained := make(chan error, 1)
	go func() { drained <- appCore.Wait(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := postJSON(t, srv.URL+"/generate", map[string]any{"upload_id": up.UploadID, "prompt": "Summarize"})
		var errBody map[string]string
		if resp.StatusCode != http.StatusOK {
			decode(t, resp.Body, &errBody)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusServiceUnavailable {
			if errBody["code"] != codeUnavailable || resp.Header.Get("Retry-After") == "" {
				t.Fatalf("draining response = %v, headers %v", errBody, resp.Header)
			}
			break
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("generate status = %d %v, want 200 or 503", resp.StatusCode, errBody)
		}
		if time.Now().After(deadline) {
			t.Fatalf("generate still accepted while draining")
		}
		time.Sleep(time.Millisecond)
	}

	close(gen.gate)
	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("jobs did not drain")
	}
}

func TestStatusUnknownJob(t *testing.T) {
	srv := httptest.NewServer(New(Config{App: newTestApp(t, &stubGenerator{})}).Router())
	defer srv.Close()

	for _, path := range []string{"/status/nope", "/status/", "/status/a/b", "/download/nope"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestServiceInfoEndpoints(t *testing.T) {
	srv := httptest.NewServer(New(Config{App: newTestApp(t, &stubGenerator{})}).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var health map[string]any
	decode(t, resp.Body, &health)
	resp.Body.Close()
	if health["status"] != "healthy" || health["version"] == "" {
		t.Fatalf("health = %v", health)
	}

	resp, err = http.Get(srv.URL + "/api/info")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	var info app.Info
	decode(t, resp.Body, &info)
	resp.Body.Close()
	if info.Name != "DocGen" || info.MaxFileSizeMB != 50 || len(info.SupportedFormats) == 0 {
		t.Fatalf("info = %+v", info)
	}

	resp, err = http.Get(srv.URL + "/providers")
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	var providers struct {
		Providers []app.ProviderInfo `json:"providers"`
	}
	decode(t, resp.Body, &providers)
	resp.Body.Close()
	if len(providers.Providers) != 1 || providers.Providers[0].ID != "gemini" || providers.Providers[0].Default != "gemini-2.5-flash" {
		t.Fatalf("providers = %+v", providers.Providers)
	}

	resp, err = http.Get(srv.URL + "/upload")
	if err != nil {
		t.Fatalf("get upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /upload status = %d, want 405", resp.StatusCode)
	}
}
