package settlement

import (
	"errors"
	"net/http"

	"fx-arena/internal/httputil"
	"fx-arena/internal/store"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Settle runs final settlement. Re-settling a completed competition
// returns the stored result with a 200, not an error.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request, competitionID string) {
	res, err := h.svc.Settle(r.Context(), competitionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			httputil.WriteError(w, http.StatusNotFound, "competition not found")
		case errors.Is(err, ErrCompetitionNotActive):
			httputil.WriteError(w, http.StatusConflict, err.Error())
		default:
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// Leaderboard returns live standings without touching stored state.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request, competitionID string) {
	standings, err := h.svc.Preview(r.Context(), competitionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "competition not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"standings": standings})
}
