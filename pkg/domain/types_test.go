package domain

import "testing"

func TestJobStatusTerminal(t *testing.T) {
	cases := map[JobStatus]bool{
		JobPending:    false,
		JobGenerating: false,
		JobRendering:  false,
		JobCompleted:  true,
		JobFailed:     true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestUploadExtractedCount(t *testing.T) {
	u := Upload{Files: []FileResult{
		{Filename: "a.txt", Text: "alpha"},
		{Filename: "b.exe", Error: &Failure{Code: "unsupported_format"}},
		{Filename: "c.pdf", Text: "gamma"},
		{Filename: "empty.txt"},
	}}
	if got := u.ExtractedCount(); got != 2 {
		t.Fatalf("ExtractedCount() = %d, want 2", got)
	}
}
