package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/huyvnnb/tanin/internal/core/port"
	"github.com/huyvnnb/tanin/internal/core/service"
	"github.com/huyvnnb/tanin/internal/identity"
)

type Handler struct {
	Session  *service.SessionService
	Limiter  port.RateLimiter
	Resolver *identity.Resolver
}

func NewHandler(session *service.SessionService, limiter port.RateLimiter, resolver *identity.Resolver) *Handler {
	return &Handler{
		Session:  session,
		Limiter:  limiter,
		Resolver: resolver,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(h.rateLimit)

	r.Get("/healthz", h.Health)
	r.Get("/session/anonymous", h.AnonymousSession)
	r.Get("/webrtc/config", h.WebRTCConfig)
	r.Get("/ws", h.ServeWS)

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// AnonymousSession hands out a fresh client id for anonymous participants
// to present in X-Client-ID.
func (h *Handler) AnonymousSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"client_id": uuid.New().String(),
	})
}

func (h *Handler) WebRTCConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"iceServers": []map[string]string{
			{"urls": "stun:stun.l.google.com:19302"},
			{"urls": "stun:stun1.l.google.com:19302"},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error writing response")
	}
}
