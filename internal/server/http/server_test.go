package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satguru/tiffin/internal/config"
)

func TestHealthWithoutDatabase(t *testing.T) {
	e := NewEcho(Params{Config: config.Config{}, Logger: zaptest.NewLogger(t)})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "{\"status\":\"ok\"}\n" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}
