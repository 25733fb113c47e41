package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blocknetdx/eth-payment-processor/internal/metrics"
)

// AuthAttemptLimiter locks a client out once it has failed authentication
// maxFailures times within window. Keys are "<scope>:<client ip>".
type AuthAttemptLimiter struct {
	mu          sync.Mutex
	now         func() time.Time
	clients     map[string]*lockout
	maxFailures int
	window      time.Duration
	lockFor     time.Duration
	nextSweep   time.Time
}

type lockout struct {
	failures []time.Time
	until    time.Time
}

// recent drops failures older than the window.
func (l *lockout) recent(now time.Time, window time.Duration) {
	kept := l.failures[:0]
	for _, at := range l.failures {
		if now.Sub(at) <= window {
			kept = append(kept, at)
		}
	}
	l.failures = kept
}

func NewAuthAttemptLimiter(maxFailures int, window, lockFor time.Duration) *AuthAttemptLimiter {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if lockFor <= 0 {
		lockFor = 15 * time.Minute
	}
	return &AuthAttemptLimiter{
		now:         time.Now,
		clients:     make(map[string]*lockout),
		maxFailures: maxFailures,
		window:      window,
		lockFor:     lockFor,
	}
}

func (l *AuthAttemptLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)
	c, ok := l.clients[key]
	return !ok || !now.Before(c.until)
}

func (l *AuthAttemptLimiter) registerFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		c = &lockout{}
		l.clients[key] = c
	}
	c.recent(now, l.window)
	c.failures = append(c.failures, now)
	if len(c.failures) < l.maxFailures {
		return
	}

	c.failures = nil
	c.until = now.Add(l.lockFor)
	scope, _, _ := strings.Cut(key, ":")
	metrics.AuthLockouts.WithLabelValues(scope).Inc()
	log.Warn().Str("client", key).Time("until", c.until).Msg("client locked out after repeated auth failures")
}

func (l *AuthAttemptLimiter) registerSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, key)
}

// sweepLocked forgets clients that are neither locked out nor have recent
// failures. It runs at most once per window.
func (l *AuthAttemptLimiter) sweepLocked(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for key, c := range l.clients {
		c.recent(now, l.window)
		if len(c.failures) == 0 && !now.Before(c.until) {
			delete(l.clients, key)
		}
	}
	l.nextSweep = now.Add(l.window)
}

func clientIPKey(r *http.Request, scope string) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return scope + ":" + host
}
