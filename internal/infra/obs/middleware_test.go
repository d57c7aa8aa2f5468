package obs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestID_GeneratedAndRetrievable(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var fromCtx string
	router := gin.New()
	router.Use(Middleware{}.RequestID())
	router.GET("/", func(c *gin.Context) {
		fromCtx = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if fromCtx == "" {
		t.Fatalf("request id missing from the request context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != fromCtx {
		t.Fatalf("response header %q does not match context id %q", got, fromCtx)
	}
}

func TestRequestID_InboundHeaderWins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var fromCtx string
	router := gin.New()
	router.Use(Middleware{}.RequestID())
	router.GET("/", func(c *gin.Context) {
		fromCtx = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-777")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if fromCtx != "req-777" {
		t.Fatalf("inbound id not propagated, got %q", fromCtx)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-777" {
		t.Fatalf("inbound id not echoed, got %q", got)
	}
}

func TestRequestIDFromContext_MissingIsEmpty(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("bare context returned %q", got)
	}
}
