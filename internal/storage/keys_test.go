package storage

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

func TestObjectKeys(t *testing.T) {
	id := uuid.MustParse("0b9f3a43-8d4e-4d3c-9d1a-3f7f0a0c1e2b")

	photo := ProfilePhotoKey(id, ".png")
	if !strings.HasPrefix(photo, "profile-photos/"+id.String()+"/") || !strings.HasSuffix(photo, ".png") {
		t.Fatalf("unexpected photo key %q", photo)
	}
	pdf := ResumePDFKey(id)
	if !strings.HasPrefix(pdf, "generated-resumes/"+id.String()+"/") || !strings.HasSuffix(pdf, ".pdf") {
		t.Fatalf("unexpected pdf key %q", pdf)
	}
	for _, prefix := range ProfilePrefixes(id) {
		if !strings.HasPrefix(photo, prefix) && !strings.HasPrefix(pdf, prefix) {
			t.Fatalf("prefix %q covers no key", prefix)
		}
	}
}

func TestPDFFilename(t *testing.T) {
	cases := map[string]string{
		"Backend Engineer": "Backend_Engineer.pdf",
		"  ":               "resume.pdf",
		"C.V. 2024!":       "C_V__2024.pdf",
		"简历":               "resume.pdf",
	}
	for in, want := range cases {
		if got := PDFFilename(in); got != want {
			t.Fatalf("PDFFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAttachmentDisposition(t *testing.T) {
	if got := AttachmentDisposition("cv.pdf"); got != "attachment; filename=cv.pdf" {
		t.Fatalf("unexpected disposition %q", got)
	}
}

func TestIsNoSuchKey(t *testing.T) {
	if IsNoSuchKey(nil) {
		t.Fatalf("nil is not a missing key")
	}
	if !IsNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}) {
		t.Fatalf("expected NoSuchKey to match")
	}
	if IsNoSuchKey(errors.New("connection refused")) {
		t.Fatalf("transport error must not match")
	}
	if !IsNoSuchBucket(minio.ErrorResponse{Code: "NoSuchBucket"}) {
		t.Fatalf("expected NoSuchBucket to match")
	}
}
