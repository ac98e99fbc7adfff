package syncer

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/config"
	"github.com/urlwarden/urlwarden-go/internal/db"
)

func testFetcher(cfg config.Sync) *Fetcher {
	f := NewFetcher(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	f.backoff = time.Millisecond
	return f
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "198.51.100.1\n")
	}))
	defer srv.Close()

	f := testFetcher(config.Sync{RetryAttempts: 3, HTTPTimeoutMS: 2000})
	data, err := f.Fetch(context.Background(), &db.ThreatIntelSource{Name: "flaky", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(string(data), "198.51.100.1") {
		t.Fatalf("unexpected body %q", data)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("server hit %d times, want 3", got)
	}
}

func TestFetchDoesNotRetryPermanentErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFetcher(config.Sync{RetryAttempts: 3, HTTPTimeoutMS: 2000})
	if _, err := f.Fetch(context.Background(), &db.ThreatIntelSource{Name: "gone", URL: srv.URL}); err == nil {
		t.Fatal("expected error for 404")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("server hit %d times, want 1 (no retries on 4xx)", got)
	}
}

func TestFetchEnforcesBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 2048))
	}))
	defer srv.Close()

	f := testFetcher(config.Sync{RetryAttempts: 1, HTTPTimeoutMS: 2000, MaxBodyBytes: 1024})
	if _, err := f.Fetch(context.Background(), &db.ThreatIntelSource{Name: "big", URL: srv.URL}); err == nil {
		t.Fatal("expected error for oversized feed")
	}
}

func TestFetchSendsAuthHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	t.Setenv("TEST_FEED_KEY", "secret-token")
	f := testFetcher(config.Sync{RetryAttempts: 1, HTTPTimeoutMS: 2000})
	src := &db.ThreatIntelSource{Name: "auth", URL: srv.URL, RequiresAuth: true, AuthEnv: "TEST_FEED_KEY"}
	if _, err := f.Fetch(context.Background(), src); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != "Bearer secret-token" {
		t.Fatalf("Authorization = %q", got)
	}
}
