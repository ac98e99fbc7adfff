package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func adminProbe(token string) (http.Handler, *int) {
	hits := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ })
	return RequireAdmin(token)(next), &hits
}

func TestRequireAdminAcceptsBearerToken(t *testing.T) {
	h, hits := adminProbe("s3cret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || *hits != 1 {
		t.Fatalf("status = %d, hits = %d", rec.Code, *hits)
	}
}

func TestRequireAdminRejectsBadToken(t *testing.T) {
	h, hits := adminProbe("s3cret")
	for _, header := range []string{"", "Bearer wrong", "s3cret"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
	if *hits != 0 {
		t.Fatalf("handler ran %d times", *hits)
	}
}

func TestRequireAdminDisabledWithoutToken(t *testing.T) {
	h, hits := adminProbe("")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || *hits != 0 {
		t.Fatalf("status = %d, hits = %d, want 403 and 0", rec.Code, *hits)
	}
}
