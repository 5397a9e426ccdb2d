package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newOriginEngine(allowed ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	mgr := NewManager()
	mgr.Add(Origin(allowed...))
	r := gin.New()
	r.Use(mgr.Use())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func doGet(r *gin.Engine, origin string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestOriginAllowsListedAndNonBrowser(t *testing.T) {
	r := newOriginEngine("https://app.example.com")

	if code := doGet(r, ""); code != http.StatusOK {
		t.Fatalf("no-origin request rejected: %d", code)
	}
	if code := doGet(r, "https://app.example.com"); code != http.StatusOK {
		t.Fatalf("allowed origin rejected: %d", code)
	}
	if code := doGet(r, "HTTPS://APP.EXAMPLE.COM"); code != http.StatusOK {
		t.Fatalf("origin match is case sensitive: %d", code)
	}
}

func TestOriginRejectsUnlisted(t *testing.T) {
	r := newOriginEngine("https://app.example.com")
	if code := doGet(r, "https://evil.example.com"); code != http.StatusForbidden {
		t.Fatalf("unlisted origin got %d, want 403", code)
	}
}

func TestOriginEmptyAllowListAcceptsAll(t *testing.T) {
	r := newOriginEngine()
	if code := doGet(r, "https://anything.example.com"); code != http.StatusOK {
		t.Fatalf("dev default rejected an origin: %d", code)
	}
}
