package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	recorder := httptest.NewRecorder()

	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatalf("expected panic, got nil")
		}
		err, ok := recovered.(error)
		if !ok {
			t.Fatalf("expected error panic, got %T", recovered)
		}
		if !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler, got %v", err)
		}
		if err != http.ErrAbortHandler {
			t.Fatalf("expected exact ErrAbortHandler sentinel, got %v", err)
		}
	}()

	engine.ServeHTTP(recorder, req)
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	recorder := httptest.NewRecorder()

	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestGinLogrusLoggerPropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	var seen string
	engine.GET("/healthz", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "cafebabe")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)

	if seen != "cafebabe" {
		t.Fatalf("request id in context = %q, want cafebabe", seen)
	}
	if got := recorder.Header().Get(RequestIDHeader); got != "cafebabe" {
		t.Fatalf("response %s = %q", RequestIDHeader, got)
	}
}

func TestGenerateRequestIDLength(t *testing.T) {
	if id := GenerateRequestID(); len(id) != 8 {
		t.Fatalf("GenerateRequestID() = %q, want 8 chars", id)
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	got := maskSensitiveQuery("code=abc&state=xyz&access_token=t")
	if got != "access_token=%2A%2A%2A&code=%2A%2A%2A&state=xyz" {
		t.Fatalf("maskSensitiveQuery() = %q", got)
	}
}
