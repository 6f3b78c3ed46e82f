package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"coinfort/crypto"
	"coinfort/observability"
	"coinfort/observability/logging"
	"coinfort/storage/journal"
)

const (
	headerRequestID = "X-Request-ID"

	defaultClockSkew   = 2 * time.Minute
	limiterIdleTimeout = 5 * time.Minute
)

type contextKey string

const requestInfoKey contextKey = "coinfort.request"

// requestInfo travels down the middleware chain so that the outer layers can
// see what the inner ones learned about the caller.
type requestInfo struct {
	id        string
	principal common.Address
}

func infoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey).(*requestInfo)
	return info
}

// callerFrom returns the authenticated principal of the request.
func callerFrom(ctx context.Context) (common.Address, bool) {
	info := infoFrom(ctx)
	if info == nil || info.principal == (common.Address{}) {
		return common.Address{}, false
	}
	return info.principal, true
}

func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), requestInfoKey, &requestInfo{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe records metrics, logs and an audit row for every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/events" {
			// Hijacked websocket connections cannot be wrapped.
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		observability.API().Observe(route, r.Method, recorder.status, duration)

		info := infoFrom(r.Context())
		var principal, requestID string
		if info != nil {
			requestID = info.id
			if info.principal != (common.Address{}) {
				principal = info.principal.Hex()
			}
		}
		s.logger.Debug("request served",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", recorder.status),
			slog.Duration("duration", duration))
		if s.journal == nil || r.Method == http.MethodGet {
			return
		}
		entry := journal.AuditEntry{
			RequestID: requestID,
			Principal: principal,
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    recorder.status,
			Duration:  duration,
		}
		if err := s.journal.InsertAudit(context.WithoutCancel(r.Context()), entry); err != nil {
			s.logger.Warn("audit write failed", slog.String("request_id", requestID), slog.Any("error", err))
		}
	})
}

type authenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	return &authenticator{
		secret:    append([]byte(nil), cfg.Secret...),
		issuer:    strings.TrimSpace(cfg.Issuer),
		clockSkew: skew,
	}
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// principal validates the token and returns its subject.
func (a *authenticator) principal(tokenString string) (common.Address, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return common.Address{}, err
	}
	addr, err := crypto.ParseAddress(subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("subject: %w", err)
	}
	return addr, nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeProblem(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		principal, err := s.auth.principal(tokenString)
		if err != nil {
			s.logger.Debug("token validation failed",
				logging.MaskField("token", tokenString),
				slog.Any("error", err))
			writeProblem(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		if info := infoFrom(r.Context()); info != nil {
			info.principal = principal
		}
		next.ServeHTTP(w, r)
	})
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	limit    rate.Limit
	burst    int
	trusted  bool
	mu       sync.Mutex
	visitors map[string]*limiterEntry
	clockNow func() time.Time
}

func newRateLimiter(cfg RateLimit) *rateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		trusted:  cfg.TrustProxyHeaders,
		visitors: make(map[string]*limiterEntry),
		clockNow: time.Now,
	}
}

func (l *rateLimiter) allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clockNow()
	for key, entry := range l.visitors {
		if now.Sub(entry.lastSeen) > limiterIdleTimeout {
			delete(l.visitors, key)
		}
	}
	entry, ok := l.visitors[id]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(s.limiter.clientID(r)) {
			observability.API().RecordThrottle("client")
			writeProblem(w, http.StatusTooManyRequests, "throttled", http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID keys the limiter. Forwarding headers are client supplied, so they
// are ignored unless the limiter was told a proxy sets them.
func (l *rateLimiter) clientID(r *http.Request) string {
	if l.trusted {
		if parsed := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); parsed != nil {
			return parsed.String()
		}
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if parsed := net.ParseIP(first); parsed != nil {
				return parsed.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
