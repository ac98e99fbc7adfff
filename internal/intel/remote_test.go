package intel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/urlwarden/urlwarden-go/internal/db"
)

func querySource(name, url, authEnv string) db.ThreatIntelSource {
	return db.ThreatIntelSource{
		Name:               name,
		Type:               db.SourceQueryAPI,
		URL:                url,
		DefaultWeight:      16,
		Reliability:        0.8,
		RequiresAuth:       true,
		AuthEnv:            authEnv,
		RateLimitPerMinute: 600,
	}
}

func TestNewRemoteSourceRequiresKey(t *testing.T) {
	src := querySource("AlienVault OTX", "https://otx.example", "INTEL_TEST_KEY_THAT_IS_UNSET")
	if r := NewRemoteSource(slog.Default(), src); r != nil {
		t.Error("source without its API key should be disabled")
	}

	t.Setenv("INTEL_TEST_OTX_KEY", "k")
	src.AuthEnv = "INTEL_TEST_OTX_KEY"
	if r := NewRemoteSource(slog.Default(), src); r == nil {
		t.Error("source with key should be enabled")
	}
}

func TestNewRemoteSourceUnknownVendor(t *testing.T) {
	t.Setenv("INTEL_TEST_KEY", "k")
	src := querySource("Mystery Feed", "https://x.example", "INTEL_TEST_KEY")
	if r := NewRemoteSource(slog.Default(), src); r != nil {
		t.Error("unknown vendor should be refused")
	}
}

func TestOTXQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-OTX-API-KEY") != "otx-key" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/domain/evil.example/general" {
			http.Error(w, "wrong path "+r.URL.Path, http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"pulse_info":{"count":3,"pulses":[{"tags":["phishing"]}]}}`)
	}))
	defer server.Close()

	t.Setenv("INTEL_TEST_OTX_KEY", "otx-key")
	remote := NewRemoteSource(slog.Default(), querySource("AlienVault OTX", server.URL, "INTEL_TEST_OTX_KEY"))

	matches, err := remote.Query(context.Background(), parseURL(t, "https://login.evil.example/verify"), "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	m := matches[0]
	if m.Strategy != StrategyDomain {
		t.Errorf("strategy = %s", m.Strategy)
	}
	if m.Confidence != 65 {
		t.Errorf("confidence = %d, want 65 (50 + 5×3)", m.Confidence)
	}
	if m.ThreatType != "phishing" {
		t.Errorf("threat = %q", m.ThreatType)
	}
	// 16 × 0.9 × 0.8 × 0.65 = 7.488
	if m.Score != 7.49 {
		t.Errorf("score = %v, want 7.49", m.Score)
	}
}

func TestAbuseIPDBQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ipAddress"); got != "203.0.113.7" {
			http.Error(w, "wrong ip "+got, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"data":{"abuseConfidenceScore":75}}`)
	}))
	defer server.Close()

	t.Setenv("INTEL_TEST_ABUSE_KEY", "abuse-key")
	remote := NewRemoteSource(slog.Default(), querySource("AbuseIPDB", server.URL, "INTEL_TEST_ABUSE_KEY"))

	matches, err := remote.Query(context.Background(), parseURL(t, "https://evil.example/"), "203.0.113.7")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].Strategy != StrategyIP || matches[0].Confidence != 75 {
		t.Errorf("matches = %+v", matches)
	}

	// No resolved IP means nothing to ask.
	matches, err = remote.Query(context.Background(), parseURL(t, "https://evil.example/"), "")
	if err != nil || matches != nil {
		t.Errorf("ip-less query = %v, %v; want no matches, no error", matches, err)
	}
}

func TestVirusTotalQuery(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		fmt.Fprint(w, `{"data":{"attributes":{"last_analysis_stats":{"malicious":4,"suspicious":2}}}}`)
	}))
	defer server.Close()

	t.Setenv("INTEL_TEST_VT_KEY", "vt-key")
	remote := NewRemoteSource(slog.Default(), querySource("VirusTotal", server.URL, "INTEL_TEST_VT_KEY"))

	matches, err := remote.Query(context.Background(), parseURL(t, "https://evil.example/pay"), "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if matches[0].Strategy != StrategyExact || matches[0].Confidence != 50 {
		t.Errorf("match = %+v, want exact with confidence 50 (4×10 + 2×5)", matches[0])
	}
	if gotPath.Load().(string) == "/" {
		t.Error("url id missing from request path")
	}
}

func TestVirusTotalNotFoundIsClean(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	t.Setenv("INTEL_TEST_VT_KEY", "vt-key")
	remote := NewRemoteSource(slog.Default(), querySource("VirusTotal", server.URL, "INTEL_TEST_VT_KEY"))

	matches, err := remote.Query(context.Background(), parseURL(t, "https://unseen.example/"), "")
	if err != nil {
		t.Errorf("404 should not be an error: %v", err)
	}
	if matches != nil {
		t.Errorf("matches = %+v, want none", matches)
	}
}

func TestURLScanQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total":2,"results":[{}]}`)
	}))
	defer server.Close()

	t.Setenv("INTEL_TEST_SCAN_KEY", "scan-key")
	remote := NewRemoteSource(slog.Default(), querySource("URLScan.io", server.URL, "INTEL_TEST_SCAN_KEY"))

	matches, err := remote.Query(context.Background(), parseURL(t, "https://evil.example/"), "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].Confidence != 60 {
		t.Errorf("matches = %+v, want one with confidence 60 (40 + 10×2)", matches)
	}
}

func TestRemoteBreakerFailsFast(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	t.Setenv("INTEL_TEST_OTX_KEY", "k")
	remote := NewRemoteSource(slog.Default(), querySource("AlienVault OTX", server.URL, "INTEL_TEST_OTX_KEY"))
	target := parseURL(t, "https://evil.example/")

	for i := 0; i < 3; i++ {
		if _, err := remote.Query(context.Background(), target, ""); err == nil {
			t.Fatalf("call %d should error", i+1)
		}
	}
	if _, err := remote.Query(context.Background(), target, ""); err != nil {
		t.Errorf("open breaker should fail fast without error, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3 (breaker open afterwards)", hits.Load())
	}
}
