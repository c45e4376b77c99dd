package handler

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// requestLogger logs every request with its wall-clock duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

// rateLimit applies the distributed token bucket to every request. The
// limiter fails closed, so a store outage turns into 429s, never a bypass.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.limitKey(r)
		allowed, err := h.Limiter.Consume(r.Context(), key, 1)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Rate limiter error")
		}
		if !allowed {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitKey buckets authenticated callers by user id and everyone else by
// source address. Anonymous client ids are caller-chosen and therefore not
// trusted as rate-limit keys.
func (h *Handler) limitKey(r *http.Request) string {
	if user, err := h.Resolver.Resolve(r); err == nil && !user.IsAnonymous {
		return "user:" + user.ID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
