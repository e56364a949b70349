// internal/handlers/search.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/matchmaking"
	"github.com/sergioBarril/smashbot/internal/models"
)

type searchRequest struct {
	Mode     string     `json:"mode"`
	FromTier *uuid.UUID `json:"from_tier,omitempty"`
	// FromChannel names the tier channel the search was typed in.
	FromChannel string `json:"from_channel,omitempty"`
}

type searchResponse struct {
	Arena   *models.Arena `json:"arena"`
	Matched bool          `json:"matched"`
	Updated bool          `json:"updated"`
	Added   []models.Tier `json:"added,omitempty"`
	Removed []models.Tier `json:"removed,omitempty"`
}

func parseMode(s string) (models.Mode, error) {
	m := models.Mode(strings.ToUpper(s))
	if !m.Valid() {
		return "", errcode.New(errcode.Invalid, "unknown mode %q", s)
	}
	return m, nil
}

func (s *Server) submitSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from := req.FromTier
	if from == nil && req.FromChannel != "" {
		if t, ok := s.Ladder.ByChannel(req.FromChannel); ok {
			from = &t.ID
		}
	}

	res, err := s.Matcher.Submit(r.Context(), matchmaking.SearchRequest{
		PlayerID: identity(r).PlayerID,
		Mode:     mode,
		FromTier: from,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Matched && !res.Updated {
		status = http.StatusCreated
	}
	writeJSON(w, status, searchResponse{
		Arena:   res.Arena,
		Matched: res.Matched,
		Updated: res.Updated,
		Added:   res.Added,
		Removed: res.Removed,
	})
}

func (s *Server) cancelSearch(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(chi.URLParam(r, "mode"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cancelled, err := s.Matcher.Cancel(r.Context(), identity(r).PlayerID, mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

func (s *Server) listSearches(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(chi.URLParam(r, "mode"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.Matcher.Searching(r.Context(), mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []*models.Arena{}
	}
	writeJSON(w, http.StatusOK, rows)
}
