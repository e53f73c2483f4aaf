package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/camptocamp/shared-config-manager/internal/metrics"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("writing tar content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return buf.Bytes()
}

func TestFetch_ExtractsTarballOnSuccess(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"app.conf": "host=backend\n"})

	var gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Scm-Secret")
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	client := New(srv.URL, "s3cr3t", 3, 10*time.Millisecond, metrics.New(), logr.Discard())

	if err := client.Fetch(context.Background(), "app1", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSecret != "s3cr3t" {
		t.Errorf("expected X-Scm-Secret header to be sent, got %q", gotSecret)
	}

	out, err := os.ReadFile(filepath.Join(dir, "app.conf"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(out) != "host=backend\n" {
		t.Errorf("unexpected extracted content: %q", out)
	}
}

func TestFetch_RetriesOnFailureThenGivesUp(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	client := New(srv.URL, "s3cr3t", 3, time.Millisecond, metrics.New(), logr.Discard())

	err := client.Fetch(context.Background(), "app1", dir)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts (RETRY_NUMBER=3), got %d", attempts)
	}
}

func TestFetch_SucceedsAfterTransientFailure(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"app.conf": "ok\n"})

	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	client := New(srv.URL, "s3cr3t", 3, time.Millisecond, metrics.New(), logr.Discard())

	if err := client.Fetch(context.Background(), "app1", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
}
