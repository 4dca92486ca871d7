package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"request_id": GetRequestID(r.Context())})
})

func TestAuth(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		headers map[string]string
		want    int
	}{
		{"disabled", "", nil, http.StatusOK},
		{"missing key", "secret", nil, http.StatusUnauthorized},
		{"wrong key", "secret", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header key", "secret", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer token", "secret", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			Auth(tt.key)(ok).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	RequestID(ok).ServeHTTP(rr, req)
	assert.Equal(t, "req-1", rr.Header().Get("X-Request-ID"))
	assert.Contains(t, rr.Body.String(), "req-1")

	rr = httptest.NewRecorder()
	RequestID(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rr := httptest.NewRecorder()
	Recovery(zerolog.Nop())(panicking).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rr.Body.String())
}

func TestLoggerStoresRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		log.Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	})
	rr := httptest.NewRecorder()
	RequestID(Logger(log)(inner)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Contains(t, buf.String(), "inside")
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"request_id"`)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	req.Header.Set("Origin", "https://reports.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()

	CORS()(ok).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}
