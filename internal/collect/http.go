package collect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	maxRedirects = 5
	maxBodyBytes = 2 << 20

	scanUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// HTTPClient fetches a capped snapshot of the target page. Every hop goes
// through the guarded dialer, redirects stop after maxRedirects, non-http(s)
// redirect targets are refused, and the body is truncated at maxBodyBytes.
type HTTPClient struct {
	logger    *slog.Logger
	transport *http.Transport
	timeout   time.Duration
}

func NewHTTPClient(logger *slog.Logger, timeout time.Duration) *HTTPClient {
	dialer := &net.Dialer{Timeout: timeout}
	return &HTTPClient{
		logger: logger,
		transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return guardedDial(ctx, dialer, network, addr)
			},
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			// Certificate problems are recorded by the TLS collector;
			// the snapshot fetch should still see the page.
			TLSClientConfig: insecureTLSConfig(),
		},
		timeout: timeout,
	}
}

// Fetch GETs rawurl and returns the snapshot. HTTP error statuses are part
// of the snapshot, not errors; only transport failures return an error.
func (c *HTTPClient) Fetch(ctx context.Context, rawurl string) (*HTTPSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var hops []Hop
	client := &http.Client{
		Transport: c.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("refusing redirect to %s scheme", req.URL.Scheme)
			}
			if len(via) > maxRedirects {
				return http.ErrUseLastResponse
			}
			hops = append(hops, Hop{URL: req.URL.String(), Status: req.Response.StatusCode})
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("http: build request: %w", err)
	}
	req.Header.Set("User-Agent", scanUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: get %s: %w", rawurl, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil && len(body) == 0 {
		return nil, fmt.Errorf("http: read body: %w", err)
	}
	truncated := false
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
		truncated = true
	}

	sniffLen := len(body)
	if sniffLen > 512 {
		sniffLen = 512
	}

	return &HTTPSnapshot{
		StatusCode:    resp.StatusCode,
		FinalURL:      resp.Request.URL.String(),
		Redirects:     hops,
		Headers:       resp.Header,
		ContentType:   resp.Header.Get("Content-Type"),
		SniffedType:   http.DetectContentType(body[:sniffLen]),
		Body:          body,
		BodyTruncated: truncated,
		CollectedAt:   time.Now().UTC(),
	}, nil
}
