package intel

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/collect"
	"github.com/urlwarden/urlwarden-go/internal/db"
)

const (
	remoteTimeout     = 2 * time.Second
	remoteMaxResponse = 1 << 20
)

// RemoteSource is a live query API (type=query_api in the source catalogue)
// consulted during a scan. Remote lookups are strictly fail-open: rate
// exhaustion, open breakers and errors all degrade to "no matches".
type RemoteSource struct {
	name        string
	kind        string
	baseURL     string
	apiKey      string
	weight      int
	reliability float64
	limiter     *rate.Limiter
	breaker     *collect.CircuitBreaker
	client      *http.Client
	logger      *slog.Logger
}

func remoteKind(name string) string {
	switch {
	case strings.Contains(strings.ToLower(name), "otx"):
		return "otx"
	case strings.Contains(strings.ToLower(name), "abuseipdb"):
		return "abuseipdb"
	case strings.Contains(strings.ToLower(name), "virustotal"):
		return "virustotal"
	case strings.Contains(strings.ToLower(name), "urlscan"):
		return "urlscan"
	}
	return ""
}

// NewRemoteSource builds a client for a query_api source. Returns nil when
// the source's API key is not configured or the vendor is unknown; callers
// treat nil as "source disabled".
func NewRemoteSource(logger *slog.Logger, src db.ThreatIntelSource) *RemoteSource {
	kind := remoteKind(src.Name)
	if kind == "" {
		logger.Warn("remote intel: unknown query api", "source", src.Name)
		return nil
	}

	apiKey := ""
	if src.AuthEnv != "" {
		apiKey = os.Getenv(src.AuthEnv)
	}
	if src.RequiresAuth && apiKey == "" {
		return nil
	}

	limit := rate.Inf
	burst := 1
	if src.RateLimitPerMinute > 0 {
		limit = rate.Limit(float64(src.RateLimitPerMinute) / 60.0)
		if burst = src.RateLimitPerMinute / 6; burst < 1 {
			burst = 1
		}
	}

	return &RemoteSource{
		name:        src.Name,
		kind:        kind,
		baseURL:     strings.TrimRight(src.URL, "/"),
		apiKey:      apiKey,
		weight:      src.DefaultWeight,
		reliability: src.Reliability,
		limiter:     rate.NewLimiter(limit, burst),
		breaker:     collect.NewCircuitBreaker(3, time.Minute),
		client:      &http.Client{Timeout: remoteTimeout},
		logger:      logger,
	}
}

func (r *RemoteSource) Name() string { return r.name }

type remoteHit struct {
	matched    bool
	strategy   Strategy
	value      string
	confidence int
	threatType string
}

// Query consults the vendor for the target. A nil error with no matches is
// the common case; errors are returned only for the engine to log.
func (r *RemoteSource) Query(ctx context.Context, target *canonical.URL, resolvedIP string) ([]Match, error) {
	if !r.breaker.Allow() {
		return nil, nil
	}
	if !r.limiter.Allow() {
		return nil, nil
	}

	var (
		hit remoteHit
		err error
	)
	switch r.kind {
	case "otx":
		hit, err = r.queryOTX(ctx, target)
	case "abuseipdb":
		hit, err = r.queryAbuseIPDB(ctx, resolvedIP)
	case "virustotal":
		hit, err = r.queryVirusTotal(ctx, target)
	case "urlscan":
		hit, err = r.queryURLScan(ctx, target)
	}
	if err != nil {
		r.breaker.RecordFailure()
		return nil, err
	}
	r.breaker.RecordSuccess()

	if !hit.matched {
		return nil, nil
	}

	score := float64(r.weight) *
		strategyMultiplier[hit.strategy] *
		r.reliability *
		(float64(hit.confidence) / 100)

	return []Match{{
		Strategy:      hit.strategy,
		IndicatorType: string(hit.strategy),
		ValueHash:     canonical.HashValue(hit.value),
		ThreatType:    hit.threatType,
		Confidence:    hit.confidence,
		SourceName:    r.name,
		Reliability:   r.reliability,
		Score:         math.Round(score*100) / 100,
	}}, nil
}

func (r *RemoteSource) queryOTX(ctx context.Context, target *canonical.URL) (remoteHit, error) {
	domain := target.RegistrableDomain
	if domain == "" {
		return remoteHit{}, nil
	}
	body, status, err := r.get(ctx, fmt.Sprintf("%s/domain/%s/general", r.baseURL, url.PathEscape(domain)),
		map[string]string{"X-OTX-API-KEY": r.apiKey})
	if err != nil {
		return remoteHit{}, err
	}
	if status != http.StatusOK {
		return remoteHit{}, fmt.Errorf("otx: status %d", status)
	}
	count := int(gjson.GetBytes(body, "pulse_info.count").Int())
	if count == 0 {
		return remoteHit{}, nil
	}
	threat := gjson.GetBytes(body, "pulse_info.pulses.0.tags.0").String()
	if threat == "" {
		threat = "osint_pulse"
	}
	return remoteHit{
		matched:    true,
		strategy:   StrategyDomain,
		value:      domain,
		confidence: clamp100(50 + 5*count),
		threatType: threat,
	}, nil
}

func (r *RemoteSource) queryAbuseIPDB(ctx context.Context, resolvedIP string) (remoteHit, error) {
	if resolvedIP == "" {
		return remoteHit{}, nil
	}
	q := url.Values{"ipAddress": {resolvedIP}, "maxAgeInDays": {"90"}}
	body, status, err := r.get(ctx, r.baseURL+"?"+q.Encode(),
		map[string]string{"Key": r.apiKey, "Accept": "application/json"})
	if err != nil {
		return remoteHit{}, err
	}
	if status != http.StatusOK {
		return remoteHit{}, fmt.Errorf("abuseipdb: status %d", status)
	}
	confidence := int(gjson.GetBytes(body, "data.abuseConfidenceScore").Int())
	if confidence <= 0 {
		return remoteHit{}, nil
	}
	return remoteHit{
		matched:    true,
		strategy:   StrategyIP,
		value:      resolvedIP,
		confidence: clamp100(confidence),
		threatType: "abusive_ip",
	}, nil
}

func (r *RemoteSource) queryVirusTotal(ctx context.Context, target *canonical.URL) (remoteHit, error) {
	id := base64.RawURLEncoding.EncodeToString([]byte(target.String()))
	body, status, err := r.get(ctx, r.baseURL+"/"+id,
		map[string]string{"x-apikey": r.apiKey})
	if err != nil {
		return remoteHit{}, err
	}
	if status == http.StatusNotFound {
		// Never submitted to VT; not a failure.
		return remoteHit{}, nil
	}
	if status != http.StatusOK {
		return remoteHit{}, fmt.Errorf("virustotal: status %d", status)
	}
	malicious := int(gjson.GetBytes(body, "data.attributes.last_analysis_stats.malicious").Int())
	suspicious := int(gjson.GetBytes(body, "data.attributes.last_analysis_stats.suspicious").Int())
	if malicious+suspicious == 0 {
		return remoteHit{}, nil
	}
	return remoteHit{
		matched:    true,
		strategy:   StrategyExact,
		value:      target.String(),
		confidence: clamp100(10*malicious + 5*suspicious),
		threatType: "av_flagged",
	}, nil
}

func (r *RemoteSource) queryURLScan(ctx context.Context, target *canonical.URL) (remoteHit, error) {
	domain := target.RegistrableDomain
	if domain == "" {
		return remoteHit{}, nil
	}
	q := url.Values{"q": {fmt.Sprintf("page.domain:%s AND verdicts.malicious:true", domain)}}
	body, status, err := r.get(ctx, r.baseURL+"?"+q.Encode(),
		map[string]string{"API-Key": r.apiKey})
	if err != nil {
		return remoteHit{}, err
	}
	if status != http.StatusOK {
		return remoteHit{}, fmt.Errorf("urlscan: status %d", status)
	}
	total := int(gjson.GetBytes(body, "total").Int())
	if total == 0 {
		return remoteHit{}, nil
	}
	return remoteHit{
		matched:    true,
		strategy:   StrategyDomain,
		value:      domain,
		confidence: clamp100(40 + 10*total),
		threatType: "malicious_scan_verdict",
	}, nil
}

func (r *RemoteSource) get(ctx context.Context, rawurl string, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("remote intel: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("remote intel: %s: %w", r.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, remoteMaxResponse))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("remote intel: read %s response: %w", r.name, err)
	}
	return body, resp.StatusCode, nil
}

func clamp100(v int) int {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}
