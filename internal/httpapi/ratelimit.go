package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxIdleBuckets bounds each limiter before full, idle buckets are dropped.
const maxIdleBuckets = 10000

type RateLimitConfig struct {
	IPPerMinute     int
	IPBurst         int
	ClinicPerMinute int
	ClinicBurst     int
}

// RateLimiter throttles per client address and per clinic. Authenticated
// calls are charged to the clinic in their token; anonymous calls (login,
// public bookings) to the clinic they name.
type RateLimiter struct {
	byIP     *tokenLimiter
	byClinic *tokenLimiter
	auth     *Authenticator
}

func NewRateLimiter(cfg RateLimitConfig, auth *Authenticator) *RateLimiter {
	return &RateLimiter{
		byIP:     newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		byClinic: newTokenLimiter(cfg.ClinicPerMinute, cfg.ClinicBurst),
		auth:     auth,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := clientIP(r); ip != "" {
			if wait, ok := l.byIP.take(ip); !ok {
				tooManyRequests(w, requestIDFromRequest(r), wait)
				return
			}
		}
		if clinicID := l.clinicKey(r); clinicID != "" {
			if wait, ok := l.byClinic.take(clinicID); !ok {
				tooManyRequests(w, requestIDFromRequest(r), wait)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// clinicKey prefers the verified token claim. Request fields are only read
// when no valid token is present.
func (l *RateLimiter) clinicKey(r *http.Request) string {
	if l.auth != nil {
		if token := bearerToken(r.Header.Get("Authorization")); token != "" {
			if claims, err := l.auth.Parse(token); err == nil {
				return claims.ClinicID
			}
		}
	}
	return anonymousClinicID(r)
}

func tooManyRequests(w http.ResponseWriter, requestID string, wait time.Duration) {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, requestID, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

type tokenLimiter struct {
	mu       sync.Mutex
	perSec   float64
	capacity float64
	now      func() time.Time
	buckets  map[string]*bucket
}

type bucket struct {
	tokens  float64
	updated time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &tokenLimiter{
		perSec:   float64(perMinute) / 60,
		capacity: float64(burst),
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

// take spends one token for key. When none is left it returns how long until
// the next token refills.
func (l *tokenLimiter) take(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxIdleBuckets {
			l.evictFull(now)
		}
		b = &bucket{tokens: l.capacity, updated: now}
		l.buckets[key] = b
	}
	b.tokens = l.refill(b, now)
	b.updated = now
	if b.tokens < 1 {
		missing := 1 - b.tokens
		return time.Duration(missing / l.perSec * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

func (l *tokenLimiter) refill(b *bucket, now time.Time) float64 {
	return min(l.capacity, b.tokens+now.Sub(b.updated).Seconds()*l.perSec)
}

// evictFull drops buckets that have refilled completely; forgetting them
// changes nothing for the next request.
func (l *tokenLimiter) evictFull(now time.Time) {
	for key, b := range l.buckets {
		if l.refill(b, now) >= l.capacity {
			delete(l.buckets, key)
		}
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// anonymousClinicID reads clinic_id from the query string, or from a JSON
// body which is restored for the handler.
func anonymousClinicID(r *http.Request) string {
	if clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id")); clinicID != "" {
		return clinicID
	}
	if r.Body == nil || !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return ""
	}
	body, err := readBody(r)
	if err != nil {
		return ""
	}
	var payload struct {
		ClinicID string `json:"clinic_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.ClinicID)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
