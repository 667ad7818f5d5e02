package server

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTokenCost is the bcrypt cost used by HashToken.
	DefaultTokenCost = 12
	MinTokenCost     = 10
)

var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenMismatch = errors.New("token does not match")
	ErrInvalidHash   = errors.New("invalid token hash format")
)

// HashToken returns the bcrypt hash to put in API_TOKEN_HASH.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), DefaultTokenCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken compares token against a bcrypt hash.
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return ErrInvalidHash
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return ErrTokenMismatch
	}
	return nil
}

// TokenAuth requires "Authorization: Bearer <token>" matching a bcrypt
// hash. Accepted tokens are remembered by digest so bcrypt runs once per
// token rather than once per request. Repeated failures from one client
// are answered with 429.
type TokenAuth struct {
	hash    string
	limiter *RateLimiter
	logger  *zap.Logger

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

func NewTokenAuth(hash string, limiter *RateLimiter, logger *zap.Logger) (*TokenAuth, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, ErrInvalidHash
	}
	if limiter == nil {
		limiter = NewRateLimiter(5, 15*time.Minute, 15*time.Minute)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenAuth{
		hash:     hash,
		limiter:  limiter,
		logger:   logger,
		verified: make(map[[sha256.Size]byte]struct{}),
	}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ok, wait := a.limiter.Allow(ip); !ok {
			a.logger.Warn("auth rate limit exceeded", zap.String("ip", ip), zap.Duration("retry_after", wait))
			w.Header().Set("Retry-After", retryAfter(wait))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Status: statusError, Message: "too many failed attempts"})
			return
		}

		token, ok := bearerToken(r)
		if !ok || !a.check(token) {
			a.limiter.RecordFailure(ip)
			a.logger.Info("rejected unauthenticated request",
				zap.String("path", r.URL.Path),
				zap.String("ip", ip),
				zap.Int("failures", a.limiter.Failures(ip)))
			w.Header().Set("WWW-Authenticate", `Bearer realm="diffusion_backend"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Status: statusError, Message: "unauthorized"})
			return
		}
		a.limiter.Reset(ip)
		next.ServeHTTP(w, r)
	})
}

func (a *TokenAuth) check(token string) bool {
	digest := sha256.Sum256([]byte(token))
	a.mu.RLock()
	_, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return true
	}
	if VerifyToken(token, a.hash) != nil {
		return false
	}
	a.mu.Lock()
	a.verified[digest] = struct{}{}
	a.mu.Unlock()
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func retryAfter(d time.Duration) string {
	return fmt.Sprint(int(math.Ceil(d.Seconds())))
}

type attemptRecord struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts failed attempts per client. After max failures inside
// window the client is blocked for block.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	block  time.Duration
	now    func() time.Time
	byIP   map[string]attemptRecord
}

func NewRateLimiter(max int, window, block time.Duration) *RateLimiter {
	return &RateLimiter{
		max:    max,
		window: window,
		block:  block,
		now:    time.Now,
		byIP:   make(map[string]attemptRecord),
	}
}

// Allow reports whether ip may try again and, if not, for how long it waits.
func (l *RateLimiter) Allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byIP[ip]
	now := l.now()
	if !ok || !now.Before(rec.resetAt) {
		return true, 0
	}
	if rec.count >= l.max {
		return false, rec.resetAt.Sub(now)
	}
	return true, 0
}

func (l *RateLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.byIP[ip]
	if !ok || !now.Before(rec.resetAt) {
		l.byIP[ip] = attemptRecord{count: 1, resetAt: now.Add(l.window)}
		return
	}
	rec.count++
	if rec.count == l.max {
		rec.resetAt = now.Add(l.block)
	}
	l.byIP[ip] = rec
}

func (l *RateLimiter) Reset(ip string) {
	l.mu.Lock()
	delete(l.byIP, ip)
	l.mu.Unlock()
}

// Failures returns the failure count inside the current window.
func (l *RateLimiter) Failures(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byIP[ip]
	if !ok || !l.now().Before(rec.resetAt) {
		return 0
	}
	return rec.count
}

// Cleanup drops expired records and returns how many were removed.
func (l *RateLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for ip, rec := range l.byIP {
		if !now.Before(rec.resetAt) {
			delete(l.byIP, ip)
			removed++
		}
	}
	return removed
}
