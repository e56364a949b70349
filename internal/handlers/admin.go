// internal/handlers/admin.go
package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/auth"
	"github.com/sergioBarril/smashbot/internal/errcode"
)

type tokenRequest struct {
	PlayerID uuid.UUID `json:"player_id"`
	Admin    bool      `json:"admin"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// issueToken mints a token for a player. The chat front end calls this once
// per player it relays for.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.PlayerID == uuid.Nil {
		s.writeError(w, r, errcode.New(errcode.Invalid, "player_id is required"))
		return
	}
	token, err := s.Signer.CreateJWT(auth.Identity{PlayerID: req.PlayerID, Admin: req.Admin})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Arenas.Channels())
}

type tierRequest struct {
	TierID *uuid.UUID `json:"tier_id"`
}

func (s *Server) setPlayerTier(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuidParam(r, "playerID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req tierRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.TierID != nil {
		if _, ok := s.Ladder.Get(*req.TierID); !ok {
			s.writeError(w, r, errcode.New(errcode.Invalid, "unknown tier %s", *req.TierID))
			return
		}
	}
	if err := s.Tiers.SetPlayerTier(r.Context(), playerID, req.TierID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type closeRequest struct {
	Reason string `json:"reason"`
}

func (r closeRequest) reason() string {
	if r.Reason == "" {
		return "closed by an admin"
	}
	return r.Reason
}

func (s *Server) forceClose(w http.ResponseWriter, r *http.Request) {
	arenaID, err := uuidParam(r, "arenaID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req closeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Arenas.ForceClose(r.Context(), arenaID, req.reason()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type closeAllResponse struct {
	Closed int `json:"closed"`
}

func (s *Server) closeAll(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.Arenas.CancelAll(r.Context(), req.reason())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closeAllResponse{Closed: n})
}

func (s *Server) retryAllocation(w http.ResponseWriter, r *http.Request) {
	arenaID, err := uuidParam(r, "arenaID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Confirm.RetryAllocation(r.Context(), arenaID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
