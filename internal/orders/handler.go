package orders

import (
	"errors"
	"net/http"
	"strings"

	"fx-arena/internal/httputil"
	"fx-arena/internal/ledger"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc    *Service
	ledger *ledger.Ledger
	quotes ledger.QuoteSource
}

func NewHandler(svc *Service, l *ledger.Ledger, quotes ledger.QuoteSource) *Handler {
	return &Handler{svc: svc, ledger: l, quotes: quotes}
}

type placeOrderRequest struct {
	ParticipantID string `json:"participant_id"`
	CompetitionID string `json:"competition_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	Leverage      string `json:"leverage"`
	LimitPrice    string `json:"limit_price"`
	TakeProfit    string `json:"take_profit"`
	StopLoss      string `json:"stop_loss"`
}

func parseDecimal(raw, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, errors.New("invalid " + field)
	}
	return d, nil
}

func parseOptionalDecimal(raw, field string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := parseDecimal(raw, field)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	qty, err := parseDecimal(req.Quantity, "quantity")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	lev, err := parseDecimal(req.Leverage, "leverage")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseOptionalDecimal(req.LimitPrice, "limit_price")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	tp, err := parseOptionalDecimal(req.TakeProfit, "take_profit")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	sl, err := parseOptionalDecimal(req.StopLoss, "stop_loss")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.PlaceOrder(r.Context(), PlaceOrderRequest{
		ParticipantID: req.ParticipantID,
		CompetitionID: req.CompetitionID,
		Symbol:        strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:          types.Side(req.Side),
		OrderType:     types.OrderType(req.Type),
		Quantity:      qty,
		Leverage:      lev,
		LimitPrice:    limit,
		TakeProfit:    tp,
		StopLoss:      sl,
	})
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, participantID, positionID string) {
	trade, err := h.svc.ClosePosition(r.Context(), participantID, positionID)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trade)
}

type protectiveRequest struct {
	TakeProfit string `json:"take_profit"`
	StopLoss   string `json:"stop_loss"`
}

func (h *Handler) SetProtective(w http.ResponseWriter, r *http.Request, participantID, positionID string) {
	var req protectiveRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	tp, err := parseOptionalDecimal(req.TakeProfit, "take_profit")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	sl, err := parseOptionalDecimal(req.StopLoss, "stop_loss")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.svc.SetProtectiveLevels(r.Context(), participantID, positionID, tp, sl)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pos)
}

func (h *Handler) CancelLimit(w http.ResponseWriter, r *http.Request, participantID, orderID string) {
	if err := h.svc.CancelLimitOrder(participantID, orderID); err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) OpenPositions(w http.ResponseWriter, r *http.Request, participantID string) {
	positions, err := h.ledger.OpenPositions(participantID)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (h *Handler) PendingLimits(w http.ResponseWriter, r *http.Request, participantID string) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"orders": h.svc.PendingLimitOrders(participantID)})
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request, participantID string) {
	m, err := h.ledger.ComputeMetrics(participantID, h.quotes)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnknownParticipant), errors.Is(err, ledger.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCompetitionNotActive), errors.Is(err, ledger.ErrParticipantLiquidated):
		return http.StatusForbidden
	case errors.Is(err, ErrInsufficientMargin),
		errors.Is(err, ErrPositionLimitExceeded),
		errors.Is(err, ErrPositionSizeExceeded),
		errors.Is(err, ErrInvalidLimitDistance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoQuote):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrPositionAlreadyClosed):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
