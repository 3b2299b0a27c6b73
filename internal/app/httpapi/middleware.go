package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
)

type ctxKey int

const ctxSessionKey ctxKey = iota

// Credential maps a bearer token to the session it grants.
type Credential struct {
	AccountID  string
	Name       string
	Privileged bool
}

// sessionFromContext returns the request's session. Requests without a token
// carry the zero session: anonymous and unprivileged.
func sessionFromContext(ctx context.Context) session.Session {
	if sess, ok := ctx.Value(ctxSessionKey).(session.Session); ok {
		return sess
	}
	return session.Session{}
}

// withAuth resolves the Authorization header against the credential set. A
// missing header yields an anonymous session; a token that matches nothing
// is rejected outright.
func withAuth(next http.Handler, credentials map[string]Credential) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		cred, ok := credentials[token]
		if !ok {
			writeErrorCode(w, http.StatusUnauthorized, "INVALID_TOKEN", "invalid bearer token")
			return
		}

		sess := session.Session{
			ActorID:    cred.AccountID,
			ActorName:  cred.Name,
			Privileged: cred.Privileged,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxSessionKey, sess)))
	})
}

// withRateLimit applies a per-caller token bucket. Callers are keyed by
// bearer token when present, remote IP otherwise.
func withRateLimit(next http.Handler, rps rate.Limit, burst int) http.Handler {
	if rps <= 0 {
		return next
	}

	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters[key]; ok {
			return l
		}
		l := rate.NewLimiter(rps, burst)
		limiters[key] = l
		return l
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Authorization"))
		if key == "" {
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			} else {
				key = r.RemoteAddr
			}
		}
		if !limiterFor(key).Allow() {
			writeErrorCode(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
