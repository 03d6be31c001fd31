package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/healthz", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSGrantsListedOrigin(t *testing.T) {
	called := false
	rec := httptest.NewRecorder()
	CORS([]string{"https://console.example"})(okHandler(&called)).
		ServeHTTP(rec, corsRequest(http.MethodGet, "https://console.example"))

	if !called {
		t.Fatalf("expected handler to run")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("expected allow-methods header")
	}
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	rec := httptest.NewRecorder()
	CORS([]string{"https://console.example"})(okHandler(nil)).
		ServeHTTP(rec, corsRequest(http.MethodGet, "https://evil.example"))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin header, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("request itself should still pass through, got %d", rec.Code)
	}
}

func TestCORSWildcardEchoesAnyOrigin(t *testing.T) {
	rec := httptest.NewRecorder()
	CORS([]string{"*"})(okHandler(nil)).
		ServeHTTP(rec, corsRequest(http.MethodGet, "https://anywhere.example"))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
}

func TestCORSShortCircuitsPreflight(t *testing.T) {
	called := false
	req := corsRequest(http.MethodOptions, "https://console.example")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	CORS([]string{"https://console.example"})(okHandler(&called)).ServeHTTP(rec, req)

	if called {
		t.Fatalf("preflight must not reach the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
