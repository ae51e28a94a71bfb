package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{
		"":         "",
		"/":        "",
		" docgen ": "docgen/",
		"/docgen/": "docgen/",
		"a/b/":     "a/b/",
	}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMinioObjectName(t *testing.T) {
	m := &MinioStore{bucket: "docs", prefix: normalizePrefix("/docgen/")}
	got, err := m.objectName("/jobs/../abc.pdf")
	if err != nil {
		t.Fatalf("object name: %v", err)
	}
	if got != "docgen/jobs/abc.pdf" {
		t.Fatalf("object name = %q, want %q", got, "docgen/jobs/abc.pdf")
	}
	if _, err := m.objectName("/../"); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestIsNoSuchKey(t *testing.T) {
	if !isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}) {
		t.Fatalf("NoSuchKey response not recognised")
	}
	if isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied"}) {
		t.Fatalf("AccessDenied treated as missing key")
	}
	if isNoSuchKey(errors.New("dial tcp: refused")) {
		t.Fatalf("transport error treated as missing key")
	}
}
