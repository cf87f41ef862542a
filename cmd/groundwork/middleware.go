package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/groundwork/api/handlers"
	"github.com/BaSui01/groundwork/config"
	"github.com/BaSui01/groundwork/internal/metrics"
	"github.com/BaSui01/groundwork/types"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// publicPaths 无需鉴权
var publicPaths = []string{"/health", "/healthz", "/ready", "/version"}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					writeJSONError(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 注入请求 ID，保留客户端提供的 X-Request-ID
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
		})
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "req-" + hex.EncodeToString(b)
}

// SecurityHeaders 通用安全响应头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", "default-src 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			reqID, _ := types.RequestID(r.Context())
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Int("bytes", rw.Size),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", reqID),
			}
			if rw.StatusCode >= http.StatusInternalServerError {
				logger.Warn("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}

// =============================================================================
// 📈 指标与追踪
// =============================================================================

// pathSegmentPattern 匹配 UUID、长 hex 与纯数字 ID
var pathSegmentPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$`,
)

// normalizePath 控制指标 path 标签基数：
//
//	/api/v1/assistants/a1/chat                 -> /api/v1/assistants/:id/chat
//	/api/v1/anchors/zk-rollup/stage            -> /api/v1/anchors/:slug/stage
//	/api/v1/diagnostics/grounding-logs/<uuid>  -> /api/v1/diagnostics/grounding-logs/:id
func normalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/ready", "/version", "/metrics",
		"/api/v1/anchors", "/api/v1/diagnostics/grounding-logs", "/api/v1/diagnostics/stream",
		"/api/v1/diagnostics/drift":
		return path
	}

	segments := strings.Split(path, "/")
	for i := range segments {
		if i == 0 || segments[i] == "" {
			continue
		}
		switch segments[i-1] {
		case "assistants", "grounding-logs":
			segments[i] = ":id"
			continue
		case "anchors":
			segments[i] = ":slug"
			continue
		}
		if pathSegmentPattern.MatchString(segments[i]) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// MetricsMiddleware 记录 HTTP 请求指标
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			collector.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), rw.StatusCode,
				time.Since(start), int64(rw.Size))
		})
	}
}

// OTelTracing 为每个请求创建 server span，并把 trace ID 写入上下文
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			route := normalizePath(r.URL.Path)
			ctx, span := otel.Tracer("groundwork/http").Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = types.WithTraceID(ctx, sc.TraceID().String())
			}

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}

// =============================================================================
// 🔐 鉴权
// =============================================================================

// Authenticate 接受 X-API-Key 或 Bearer JWT；两者都未配置时放行
func Authenticate(apiKeys []string, jwtCfg config.JWTConfig, logger *zap.Logger) Middleware {
	skip := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		skip[p] = struct{}{}
	}
	verifyJWT := newJWTVerifier(jwtCfg)

	return func(next http.Handler) http.Handler {
		if len(apiKeys) == 0 && verifyJWT == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if key := r.Header.Get("X-API-Key"); key != "" && validAPIKey(apiKeys, key) {
				next.ServeHTTP(w, r)
				return
			}

			if auth := r.Header.Get("Authorization"); verifyJWT != nil && strings.HasPrefix(auth, "Bearer ") {
				ctx, err := verifyJWT(r.Context(), strings.TrimPrefix(auth, "Bearer "))
				if err == nil {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				logger.Debug("JWT validation failed", zap.Error(err))
				writeJSONError(w, http.StatusUnauthorized, types.ErrAuthentication, "invalid or expired token")
				return
			}

			writeJSONError(w, http.StatusUnauthorized, types.ErrUnauthorized, "missing or invalid credentials")
		})
	}
}

func validAPIKey(keys []string, key string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

type jwtVerifier func(ctx context.Context, token string) (context.Context, error)

// newJWTVerifier 只接受 HS256；未配置密钥时返回 nil
func newJWTVerifier(cfg config.JWTConfig) jwtVerifier {
	if !cfg.Enabled() {
		return nil
	}
	secret := []byte(cfg.Secret)
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(ctx context.Context, tokenStr string) (context.Context, error) {
		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil {
			return ctx, err
		}
		if !token.Valid {
			return ctx, fmt.Errorf("token is not valid")
		}
		if sub, _ := claims.GetSubject(); sub != "" {
			ctx = types.WithUserID(ctx, sub)
		}
		if tenant, ok := claims["tenant_id"].(string); ok && tenant != "" {
			ctx = types.WithTenantID(ctx, tenant)
		}
		return ctx, nil
	}
}

// =============================================================================
// 🚦 限流与跨域
// =============================================================================

// RateLimiter 基于 IP 的令牌桶限流；ctx 结束时停止清理协程
func RateLimiter(ctx context.Context, rps float64, burst int) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			v, ok := visitors[ip]
			if !ok {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), max(burst, 1))}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()

			if !v.limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, types.ErrRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS 跨域中间件；未配置来源时不设置任何 CORS 头
func CORS(allowedOrigins []string) Middleware {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, allowed := originSet[origin]
			if origin != "" && allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, X-Request-ID")
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions && origin != "" {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":false,"error":{"code":%q,"message":%q}}`, code, message)
}
