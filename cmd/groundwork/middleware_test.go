package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/config"
	"github.com/BaSui01/groundwork/internal/metrics"
	"github.com/BaSui01/groundwork/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Empty(t, w.Header().Get("X-XSS-Protection"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	})
	h := RequestID()(inner)

	t.Run("keeps client id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "abc-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	})

	t.Run("replaces oversized id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", strings.Repeat("x", 200))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.True(t, strings.HasPrefix(seen, "req-"))
		assert.Len(t, seen, len("req-")+32)
	})
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	w := httptest.NewRecorder()
	Recovery(zap.NewNop())(panicking).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INTERNAL_ERROR"`)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/anchors", "/api/v1/anchors"},
		{"/api/v1/diagnostics/stream", "/api/v1/diagnostics/stream"},
		{"/api/v1/assistants/a1/chat", "/api/v1/assistants/:id/chat"},
		{"/api/v1/assistants/support-bot/retrieve", "/api/v1/assistants/:id/retrieve"},
		{"/api/v1/anchors/zk-rollup", "/api/v1/anchors/:slug"},
		{"/api/v1/anchors/zk-rollup/stage", "/api/v1/anchors/:slug/stage"},
		{"/api/v1/diagnostics/grounding-logs/3f2b8c1e-9d4a-4b7e-8c2f-1a2b3c4d5e6f", "/api/v1/diagnostics/grounding-logs/:id"},
		{"/unknown/12345", "/unknown/:id"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.in))
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, zap.NewNop())
	h := MetricsMiddleware(collector)(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/assistants/a1/chat", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/assistants/a2/chat", nil))

	n, err := testutil.GatherAndCount(reg, "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "both requests share the normalized route label")
}

func TestOTelTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var traceID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, _ = types.TraceID(r.Context())
		w.WriteHeader(http.StatusBadGateway)
	})
	OTelTracing()(inner).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/api/v1/assistants/a1/chat", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /api/v1/assistants/:id/chat", spans[0].Name)
	assert.Equal(t, spans[0].SpanContext.TraceID().String(), traceID)
	assert.Equal(t, "Error", spans[0].Status.Code.String())
}

// =============================================================================
// 🔐 鉴权测试
// =============================================================================

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthenticate_Disabled(t *testing.T) {
	h := Authenticate(nil, config.JWTConfig{}, zap.NewNop())(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/anchors", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticate_APIKey(t *testing.T) {
	h := Authenticate([]string{"k1", "k2"}, config.JWTConfig{}, zap.NewNop())(okHandler())

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"valid key", "/api/v1/anchors", "k2", http.StatusOK},
		{"wrong key", "/api/v1/anchors", "nope", http.StatusUnauthorized},
		{"missing key", "/api/v1/anchors", "", http.StatusUnauthorized},
		{"public path", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				r.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthenticate_JWT(t *testing.T) {
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "groundwork"}

	var user, tenant string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ = types.UserID(r.Context())
		tenant, _ = types.TenantID(r.Context())
	})
	h := Authenticate(nil, cfg, zap.NewNop())(inner)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"valid", signToken(t, "s3cret", jwt.MapClaims{"sub": "u1", "tenant_id": "t1", "iss": "groundwork", "exp": exp}), http.StatusOK},
		{"bad signature", signToken(t, "other", jwt.MapClaims{"sub": "u1", "iss": "groundwork", "exp": exp}), http.StatusUnauthorized},
		{"wrong issuer", signToken(t, "s3cret", jwt.MapClaims{"sub": "u1", "iss": "evil", "exp": exp}), http.StatusUnauthorized},
		{"no expiry", signToken(t, "s3cret", jwt.MapClaims{"sub": "u1", "iss": "groundwork"}), http.StatusUnauthorized},
		{"expired", signToken(t, "s3cret", jwt.MapClaims{"sub": "u1", "iss": "groundwork", "exp": time.Now().Add(-time.Minute).Unix()}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, tenant = "", ""
			r := httptest.NewRequest(http.MethodGet, "/api/v1/anchors", nil)
			r.Header.Set("Authorization", "Bearer "+tt.token)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "u1", user)
				assert.Equal(t, "t1", tenant)
			}
		})
	}
}

func TestAuthenticate_RejectsNoneAlgorithm(t *testing.T) {
	h := Authenticate(nil, config.JWTConfig{Secret: "s3cret"}, zap.NewNop())(okHandler())
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/anchors", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// =============================================================================
// 🚦 限流与跨域测试
// =============================================================================

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimiter(ctx, 1, 2)(okHandler())

	codes := make([]int, 0, 3)
	for range 3 {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 其他 IP 独立计数
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	h := RateLimiter(context.Background(), 0, 0)(okHandler())
	for range 10 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler())

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed preflight", http.MethodOptions, "https://app.example.com", http.StatusNoContent, "https://app.example.com"},
		{"denied preflight", http.MethodOptions, "https://evil.example.com", http.StatusForbidden, ""},
		{"allowed request", http.MethodGet, "https://app.example.com", http.StatusOK, "https://app.example.com"},
		{"foreign request passes without headers", http.MethodGet, "https://evil.example.com", http.StatusOK, ""},
		{"same origin", http.MethodGet, "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/api/v1/anchors", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
