// internal/handlers/server.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/arena"
	"github.com/sergioBarril/smashbot/internal/auth"
	"github.com/sergioBarril/smashbot/internal/confirmation"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/ladder"
	"github.com/sergioBarril/smashbot/internal/matchmaking"
	"github.com/sergioBarril/smashbot/internal/middleware"
	"github.com/sergioBarril/smashbot/internal/notify"
	"github.com/sergioBarril/smashbot/internal/ranked"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/sirupsen/logrus"
)

// authCookie is the cookie browsers carry the token in.
const authCookie = "auth_token"

// TierAssigner changes a player's tier.
type TierAssigner interface {
	SetPlayerTier(ctx context.Context, playerID uuid.UUID, tierID *uuid.UUID) error
}

// Server holds every engine component the HTTP surface drives.
type Server struct {
	Matcher *matchmaking.Matcher
	Confirm *confirmation.Coordinator
	Arenas  *arena.Manager
	Ranked  *ranked.Engine
	Store   store.Queries
	Ladder  *ladder.Ladder
	Notify  *notify.Hub
	Tiers   TierAssigner
	Signer  *auth.Signer
	Log     logrus.FieldLogger
	// AllowedOrigins restricts browser origins; empty allows any http(s) origin.
	AllowedOrigins []string
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(s.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/tiers", s.listTiers)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/ws", s.notificationStream)

		r.Route("/search", func(r chi.Router) {
			r.Post("/", s.submitSearch)
			r.Get("/{mode}", s.listSearches)
			r.Delete("/{mode}", s.cancelSearch)
		})

		r.Route("/arenas/{arenaID}", func(r chi.Router) {
			r.Get("/", s.getArena)
			r.Post("/accept", s.accept)
			r.Post("/decline", s.decline)
			r.Post("/early-cancel", s.earlyCancel)
			r.Post("/done", s.done)
			r.Post("/resume", s.resume)

			r.Get("/set", s.currentSet)
			r.Post("/pick", s.pick)
			r.Post("/stage", s.stage)
			r.Post("/vote", s.vote)
			r.Post("/remake", s.remake)
			r.Post("/rematch", s.rematch)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/tokens", s.issueToken)
			r.Get("/channels", s.listChannels)
			r.Put("/players/{playerID}/tier", s.setPlayerTier)
			r.Post("/arenas/close-all", s.closeAll)
			r.Post("/arenas/{arenaID}/close", s.forceClose)
			r.Post("/arenas/{arenaID}/retry-allocation", s.retryAllocation)
		})
	})
	return r
}

func (s *Server) origins() []string {
	if len(s.AllowedOrigins) == 0 {
		return []string{"https://*", "http://*"}
	}
	return s.AllowedOrigins
}

type identityKey struct{}

// authenticate accepts a bearer token or the auth cookie.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		} else if c, err := r.Cookie(authCookie); err == nil {
			token = c.Value
		}
		if token == "" {
			http.Error(w, "missing auth token", http.StatusUnauthorized)
			return
		}
		id, err := s.Signer.Authenticate(token)
		if err != nil {
			s.Log.WithError(err).WithField("remote", r.RemoteAddr).Debug("rejected token")
			http.Error(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identity(r).Admin {
			http.Error(w, "admin only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identity(r *http.Request) auth.Identity {
	id, _ := r.Context().Value(identityKey{}).(auth.Identity)
	return id
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errcode.New(errcode.Invalid, "invalid %s", name)
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return errcode.Wrap(errcode.Invalid, err, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    errcode.Code `json:"code,omitempty"`
	Message string       `json:"message"`
	Tiers   []string     `json:"tiers,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errcode.HTTPStatus(err)
	body := errorBody{Code: errcode.CodeOf(err), Message: err.Error()}
	var coded *errcode.Error
	if errors.As(err, &coded) {
		for _, t := range coded.Tiers {
			body.Tiers = append(body.Tiers, t.Name)
		}
	}
	if status >= http.StatusInternalServerError {
		s.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		if body.Code == "" {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) listTiers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Ladder.All())
}
