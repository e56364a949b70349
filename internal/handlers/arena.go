// internal/handlers/arena.go
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/models"
)

// playerAction is the shape of every endpoint that acts on one arena on
// behalf of the caller and has nothing to return.
type playerAction func(ctx context.Context, arenaID, playerID uuid.UUID) error

func (s *Server) act(fn playerAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		arenaID, err := uuidParam(r, "arenaID")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := fn(r.Context(), arenaID, identity(r).PlayerID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) getArena(w http.ResponseWriter, r *http.Request) {
	arenaID, err := uuidParam(r, "arenaID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.Store.GetArena(r.Context(), arenaID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if id := identity(r); !id.Admin && !a.HasPlayer(id.PlayerID) {
		s.writeError(w, r, errcode.New(errcode.NotParticipant, "not your arena"))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	s.act(s.Confirm.Accept)(w, r)
}

func (s *Server) decline(w http.ResponseWriter, r *http.Request) {
	s.act(s.Confirm.Decline)(w, r)
}

func (s *Server) earlyCancel(w http.ResponseWriter, r *http.Request) {
	s.act(s.Confirm.EarlyCancel)(w, r)
}

type doneResponse struct {
	Closing bool `json:"closing"`
}

func (s *Server) done(w http.ResponseWriter, r *http.Request) {
	arenaID, err := uuidParam(r, "arenaID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	closing, err := s.Arenas.Done(r.Context(), arenaID, identity(r).PlayerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doneResponse{Closing: closing})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.act(s.Arenas.Resume)(w, r)
}

func (s *Server) currentSet(w http.ResponseWriter, r *http.Request) {
	arenaID, err := uuidParam(r, "arenaID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	set, err := s.Ranked.CurrentSet(r.Context(), arenaID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

type choiceRequest struct {
	Value string `json:"value"`
}

// choice adapts the ranked signal methods, which all take one free-text value.
func (s *Server) choice(fn func(ctx context.Context, arenaID, playerID uuid.UUID, value string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req choiceRequest
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Value == "" {
			s.writeError(w, r, errcode.New(errcode.Invalid, "value is required"))
			return
		}
		s.act(func(ctx context.Context, arenaID, playerID uuid.UUID) error {
			return fn(ctx, arenaID, playerID, req.Value)
		})(w, r)
	}
}

func (s *Server) pick(w http.ResponseWriter, r *http.Request) {
	s.choice(s.Ranked.Pick)(w, r)
}

func (s *Server) stage(w http.ResponseWriter, r *http.Request) {
	s.choice(s.Ranked.Stage)(w, r)
}

func (s *Server) vote(w http.ResponseWriter, r *http.Request) {
	s.choice(s.Ranked.Vote)(w, r)
}

func (s *Server) remake(w http.ResponseWriter, r *http.Request) {
	s.act(s.Ranked.Remake)(w, r)
}

type rematchRequest struct {
	Format string `json:"format,omitempty"`
}

func (s *Server) rematch(w http.ResponseWriter, r *http.Request) {
	arenaID, err := uuidParam(r, "arenaID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req rematchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var format models.SetFormat
	if req.Format != "" {
		if format, err = models.ParseSetFormat(req.Format); err != nil {
			s.writeError(w, r, errcode.Wrap(errcode.Invalid, err, "rematch"))
			return
		}
	}
	set, err := s.Ranked.Rematch(r.Context(), arenaID, identity(r).PlayerID, format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, set)
}
