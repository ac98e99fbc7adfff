package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/config"
	"github.com/urlwarden/urlwarden-go/internal/db"
)

// errPermanent wraps failures that retrying cannot fix (4xx, auth).
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// Fetcher downloads feed bodies with bounded size, retries with exponential
// backoff on transient failures, and honors Retry-After on 429.
type Fetcher struct {
	logger   *slog.Logger
	client   *http.Client
	attempts int
	maxBody  int64
	backoff  time.Duration
}

// NewFetcher builds the feed fetcher from the sync settings.
func NewFetcher(logger *slog.Logger, cfg config.Sync) *Fetcher {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 100 << 20
	}
	return &Fetcher{
		logger:   logger,
		client:   &http.Client{Timeout: cfg.HTTPTimeout()},
		attempts: attempts,
		maxBody:  maxBody,
		backoff:  time.Second,
	}
}

// Fetch downloads the source's feed URL.
func (f *Fetcher) Fetch(ctx context.Context, src *db.ThreatIntelSource) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		data, retryAfter, err := f.fetchOnce(ctx, src)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var perm errPermanent
		if errors.As(err, &perm) {
			return nil, err
		}
		if attempt == f.attempts {
			break
		}

		backoff := f.backoff * time.Duration(1<<uint(attempt-1))
		if retryAfter > backoff {
			backoff = retryAfter
		}
		f.logger.Warn("sync fetch: retrying",
			"source", src.Name, "attempt", attempt, "backoff", backoff, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", src.Name, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, src *db.ThreatIntelSource) (data []byte, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, 0, errPermanent{err}
	}
	req.Header.Set("User-Agent", "urlwarden/1.0")
	if src.RequiresAuth && src.AuthEnv != "" {
		if key := os.Getenv(src.AuthEnv); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, retryAfter, fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= 500:
		return nil, 0, fmt.Errorf("server error %d", resp.StatusCode)
	default:
		return nil, 0, errPermanent{fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, 0, err
	}
	if int64(len(body)) > f.maxBody {
		return nil, 0, errPermanent{fmt.Errorf("feed exceeds %d byte cap", f.maxBody)}
	}
	return body, 0, nil
}
