package collect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
)

func TestCollectorIPHostTarget(t *testing.T) {
	allowLoopback(t)

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "<html><body>storefront</body></html>")
	}))
	defer server.Close()

	target, err := canonical.Parse(server.URL + "/landing")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !target.IsIPHost() {
		t.Fatalf("httptest URL should be an IP host, got %q", target.Host)
	}

	collector := NewCollector(slog.Default(), "127.0.0.1:1", time.Minute)
	ev := collector.Collect(context.Background(), target, nil)

	if ev.HTTP == nil || ev.HTTP.StatusCode != http.StatusOK {
		t.Fatalf("http evidence = %+v", ev.HTTP)
	}
	if ev.DNS == nil || len(ev.DNS.A) != 1 || ev.DNS.A[0] != "127.0.0.1" {
		t.Errorf("dns evidence for IP host = %+v", ev.DNS)
	}
	if ev.ResolvedIP != "127.0.0.1" {
		t.Errorf("resolved ip = %q", ev.ResolvedIP)
	}
	if ev.Whois != nil {
		t.Error("whois should be skipped for IP hosts")
	}
	if ev.TLS != nil {
		t.Error("tls should be skipped for plain http")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d", hits.Load())
	}
}

func TestCollectorReusesCachedEvidence(t *testing.T) {
	allowLoopback(t)

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	target, err := canonical.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	collector := NewCollector(slog.Default(), "127.0.0.1:1", time.Minute)
	first := collector.Collect(context.Background(), target, nil)
	second := collector.Collect(context.Background(), target, nil)

	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1 (second collect served from cache)", hits.Load())
	}
	if first.HTTP == nil || second.HTTP == nil {
		t.Fatal("both collects should carry http evidence")
	}
	if first.HTTP != second.HTTP {
		t.Error("cached snapshot should be reused")
	}
	if collector.CacheSize() == 0 {
		t.Error("cache should hold the snapshot")
	}
}

func TestCollectorKeepsSeededEvidence(t *testing.T) {
	allowLoopback(t)

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	target, err := canonical.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	seeded := &HTTPSnapshot{StatusCode: http.StatusOK, CollectedAt: time.Now()}
	collector := NewCollector(slog.Default(), "127.0.0.1:1", time.Minute)
	ev := collector.Collect(context.Background(), target, &Evidence{HTTP: seeded, ResolvedIP: "127.0.0.1"})

	if hits.Load() != 0 {
		t.Errorf("server hits = %d, probe evidence should be kept", hits.Load())
	}
	if ev.HTTP != seeded {
		t.Error("seeded snapshot replaced")
	}
	if ev.ResolvedIP != "127.0.0.1" {
		t.Errorf("resolved ip = %q", ev.ResolvedIP)
	}
}

func TestCollectorRecordsDiagnostics(t *testing.T) {
	// Resolver at a dead loopback port: DNS fails, no HTTP server either.
	allowLoopback(t)

	target, err := canonical.Parse("http://127.0.0.1:9/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	collector := NewCollector(slog.Default(), "127.0.0.1:9", 100*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ev := collector.Collect(ctx, target, nil)
	if ev.HTTP != nil {
		t.Errorf("http evidence = %+v, want none", ev.HTTP)
	}
	if len(ev.Diagnostics) == 0 {
		t.Error("failures should surface as diagnostics")
	}
}
