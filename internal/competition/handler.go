package competition

import (
	"errors"
	"net/http"
	"time"

	"fx-arena/internal/httputil"
	"fx-arena/internal/model"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type prizeTierRequest struct {
	Rank       int   `json:"rank"`
	PercentBps int64 `json:"percent_bps"`
}

type createCompetitionRequest struct {
	Name                    string             `json:"name"`
	RankingMethod           string             `json:"ranking_method"`
	TieBreaker1             string             `json:"tie_breaker_1"`
	TieBreaker2             *string            `json:"tie_breaker_2"`
	MinimumTrades           int                `json:"minimum_trades"`
	MinimumWinRate          *string            `json:"minimum_win_rate"`
	DisqualifyOnLiquidation bool               `json:"disqualify_on_liquidation"`
	PrizeDistribution       []prizeTierRequest `json:"prize_distribution"`
	PrizePoolCents          int64              `json:"prize_pool_cents"`
	PlatformFeeBps          int64              `json:"platform_fee_bps"`
	StartingCapital         string             `json:"starting_capital"`
	MarginCallThreshold     string             `json:"margin_call_threshold"`
	MaxOpenPositions        int                `json:"max_open_positions"`
	MaxPositionSize         string             `json:"max_position_size"`
	StartsAt                time.Time          `json:"starts_at"`
	EndsAt                  time.Time          `json:"ends_at"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCompetitionRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	capital, err := decimal.NewFromString(req.StartingCapital)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid starting_capital")
		return
	}
	stopout, err := decimal.NewFromString(req.MarginCallThreshold)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid margin_call_threshold")
		return
	}
	maxSize, err := decimal.NewFromString(req.MaxPositionSize)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid max_position_size")
		return
	}
	var minWinRate *decimal.Decimal
	if req.MinimumWinRate != nil {
		wr, err := decimal.NewFromString(*req.MinimumWinRate)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid minimum_win_rate")
			return
		}
		minWinRate = &wr
	}
	var tb2 *types.TieBreaker
	if req.TieBreaker2 != nil {
		t := types.TieBreaker(*req.TieBreaker2)
		tb2 = &t
	}
	tiers := make([]model.PrizeTier, 0, len(req.PrizeDistribution))
	for _, t := range req.PrizeDistribution {
		tiers = append(tiers, model.PrizeTier{Rank: t.Rank, PercentBps: t.PercentBps})
	}
	c, err := h.svc.Create(r.Context(), model.Competition{
		Name:                    req.Name,
		RankingMethod:           types.RankingMethod(req.RankingMethod),
		TieBreaker1:             types.TieBreaker(req.TieBreaker1),
		TieBreaker2:             tb2,
		MinimumTrades:           req.MinimumTrades,
		MinimumWinRate:          minWinRate,
		DisqualifyOnLiquidation: req.DisqualifyOnLiquidation,
		PrizeDistribution:       tiers,
		PrizePoolCents:          req.PrizePoolCents,
		PlatformFeeBps:          req.PlatformFeeBps,
		StartingCapital:         capital,
		MarginCallThreshold:     stopout,
		MaxOpenPositions:        req.MaxOpenPositions,
		MaxPositionSize:         maxSize,
		StartsAt:                req.StartsAt,
		EndsAt:                  req.EndsAt,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrUnknownCompetition) {
			httputil.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := types.CompetitionStatus(r.URL.Query().Get("status"))
	items, err := h.svc.List(r.Context(), status)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"competitions": items})
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.Activate(r.Context(), id); err != nil {
		httputil.WriteError(w, statusForLifecycle(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		httputil.WriteError(w, statusForLifecycle(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Enter(w http.ResponseWriter, r *http.Request, competitionID, userID string) {
	p, err := h.svc.Enter(r.Context(), competitionID, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownCompetition):
			httputil.WriteError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrNotJoinable):
			httputil.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrAlreadyEntered):
			httputil.WriteError(w, http.StatusConflict, err.Error())
		default:
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func statusForLifecycle(err error) int {
	switch {
	case errors.Is(err, ErrUnknownCompetition):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidStatus):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
