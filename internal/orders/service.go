package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fx-arena/internal/ledger"
	"fx-arena/internal/margin"
	"fx-arena/internal/metrics"
	"fx-arena/internal/model"
	"fx-arena/internal/pricefeed"
	"fx-arena/internal/store"
	"fx-arena/internal/types"
	"fx-arena/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service validates and executes orders and drives protective-order
// triggers off the tick stream. Validation and monitoring share the
// margin package, so the two paths can never disagree about risk.
type Service struct {
	store        store.Store
	ledger       *ledger.Ledger
	quotes       ledger.QuoteSource
	log          *logger.Logger
	defaults     margin.Thresholds
	minLimitPips decimal.Decimal

	mu      sync.Mutex
	pending map[string]*model.LimitOrder
}

func NewService(st store.Store, l *ledger.Ledger, quotes ledger.QuoteSource, log *logger.Logger, defaults margin.Thresholds, minLimitPips decimal.Decimal) *Service {
	if defaults.Validate() != nil {
		defaults = margin.DefaultThresholds()
	}
	if minLimitPips.LessThanOrEqual(decimal.Zero) {
		minLimitPips = decimal.NewFromInt(10)
	}
	return &Service{
		store:        st,
		ledger:       l,
		quotes:       quotes,
		log:          log,
		defaults:     defaults,
		minLimitPips: minLimitPips,
		pending:      make(map[string]*model.LimitOrder),
	}
}

type PlaceOrderRequest struct {
	ParticipantID string           `json:"participant_id"`
	CompetitionID string           `json:"competition_id"`
	Symbol        string           `json:"symbol"`
	Side          types.Side       `json:"side"`
	OrderType     types.OrderType  `json:"order_type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Leverage      decimal.Decimal  `json:"leverage"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	TakeProfit    *decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss      *decimal.Decimal `json:"stop_loss,omitempty"`
}

// PlaceOrderResult carries either the opened position (market fill) or
// the pending limit order.
type PlaceOrderResult struct {
	Position   *model.Position   `json:"position,omitempty"`
	LimitOrder *model.LimitOrder `json:"limit_order,omitempty"`
}

func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if err := validateRequest(req); err != nil {
		return PlaceOrderResult{}, err
	}

	comp, err := s.store.GetCompetition(ctx, req.CompetitionID)
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("load competition: %w", err)
	}
	if comp.Status != types.CompetitionStatusActive {
		reject("competition_not_active")
		return PlaceOrderResult{}, ErrCompetitionNotActive
	}

	participant, err := s.ledger.Participant(req.ParticipantID)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if participant.CompetitionID != comp.ID {
		return PlaceOrderResult{}, fmt.Errorf("%w: participant not in competition", ErrValidation)
	}
	if participant.Status == types.ParticipantStatusLiquidated {
		reject("participant_liquidated")
		return PlaceOrderResult{}, ledger.ErrParticipantLiquidated
	}

	tick, ok := s.quotes.Snapshot(req.Symbol)
	if !ok {
		return PlaceOrderResult{}, ErrNoQuote
	}

	if req.OrderType == types.OrderTypeLimit {
		lo, err := s.placeLimit(req, tick)
		if err != nil {
			return PlaceOrderResult{}, err
		}
		return PlaceOrderResult{LimitOrder: lo}, nil
	}

	entry := tick.Ask
	if req.Side == types.SideShort {
		entry = tick.Bid
	}
	pos, err := s.open(ctx, comp, req, entry)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	return PlaceOrderResult{Position: pos}, nil
}

func validateRequest(req PlaceOrderRequest) error {
	if req.ParticipantID == "" || req.CompetitionID == "" || req.Symbol == "" {
		return fmt.Errorf("%w: missing participant, competition or symbol", ErrValidation)
	}
	if req.Side != types.SideLong && req.Side != types.SideShort {
		return fmt.Errorf("%w: invalid side", ErrValidation)
	}
	if req.OrderType != types.OrderTypeMarket && req.OrderType != types.OrderTypeLimit {
		return fmt.Errorf("%w: invalid order type", ErrValidation)
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: invalid quantity", ErrValidation)
	}
	if req.Leverage.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: invalid leverage", ErrValidation)
	}
	if req.OrderType == types.OrderTypeLimit && (req.LimitPrice == nil || req.LimitPrice.LessThanOrEqual(decimal.Zero)) {
		return fmt.Errorf("%w: limit price required", ErrValidation)
	}
	if req.TakeProfit != nil && req.TakeProfit.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: invalid take profit", ErrValidation)
	}
	if req.StopLoss != nil && req.StopLoss.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: invalid stop loss", ErrValidation)
	}
	return nil
}

// open runs every risk check and books the position. No check mutates
// state, so a failed order never partially applies.
func (s *Service) open(ctx context.Context, comp *model.Competition, req PlaceOrderRequest, entry decimal.Decimal) (*model.Position, error) {
	open, err := s.ledger.OpenPositions(req.ParticipantID)
	if err != nil {
		return nil, err
	}
	if comp.MaxOpenPositions > 0 && len(open) >= comp.MaxOpenPositions {
		reject("position_limit")
		return nil, ErrPositionLimitExceeded
	}

	value := margin.PositionValue(req.Quantity, entry)
	if comp.MaxPositionSize.GreaterThan(decimal.Zero) && value.GreaterThan(comp.MaxPositionSize.Mul(req.Leverage)) {
		reject("position_size")
		return nil, ErrPositionSizeExceeded
	}

	required := margin.RequiredMargin(value, req.Leverage)
	mt, err := s.ledger.ComputeMetrics(req.ParticipantID, s.quotes)
	if err != nil {
		return nil, err
	}
	stopout := s.defaults.WithStopout(comp.MarginCallThreshold).Liquidation
	if mt.Level.Below(stopout) {
		reject("margin_level")
		return nil, ErrInsufficientMargin
	}
	projected := margin.ProjectedLevel(mt.Equity, mt.UsedMargin, required)
	if projected.Below(stopout) {
		reject("insufficient_margin")
		return nil, ErrInsufficientMargin
	}

	pos := &model.Position{
		ID:            uuid.NewString(),
		ParticipantID: req.ParticipantID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		EntryPrice:    entry,
		Leverage:      req.Leverage,
		TakeProfit:    req.TakeProfit,
		StopLoss:      req.StopLoss,
		Margin:        required,
		OpenedAt:      time.Now().UTC(),
		Status:        types.PositionStatusOpen,
	}
	if err := s.ledger.Open(ctx, pos); err != nil {
		return nil, err
	}
	metrics.PositionsOpened.WithLabelValues(string(req.Side)).Inc()
	s.log.Infow("position opened",
		"position_id", pos.ID,
		"participant_id", req.ParticipantID,
		"symbol", req.Symbol,
		"side", req.Side,
		"quantity", req.Quantity,
		"entry", entry,
	)
	return pos, nil
}

// placeLimit accepts a limit order when it sits at least the minimum pip
// distance away from the current mid.
func (s *Service) placeLimit(req PlaceOrderRequest, tick pricefeed.Tick) (*model.LimitOrder, error) {
	minDistance := pricefeed.PipSize(req.Symbol).Mul(s.minLimitPips)
	if req.LimitPrice.Sub(tick.Mid).Abs().LessThan(minDistance) {
		reject("limit_distance")
		return nil, ErrInvalidLimitDistance
	}

	lo := &model.LimitOrder{
		ID:            uuid.NewString(),
		ParticipantID: req.ParticipantID,
		CompetitionID: req.CompetitionID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Leverage:      req.Leverage,
		LimitPrice:    *req.LimitPrice,
		TakeProfit:    req.TakeProfit,
		StopLoss:      req.StopLoss,
		Status:        types.LimitOrderStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	s.mu.Lock()
	s.pending[lo.ID] = lo
	s.mu.Unlock()
	return lo, nil
}

// CancelLimitOrder removes a pending limit order.
func (s *Service) CancelLimitOrder(participantID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, ok := s.pending[orderID]
	if !ok || lo.ParticipantID != participantID {
		return fmt.Errorf("%w: limit order not found", ErrValidation)
	}
	lo.Status = types.LimitOrderStatusCancelled
	delete(s.pending, orderID)
	return nil
}

// PendingLimitOrders returns the participant's pending limit orders.
func (s *Service) PendingLimitOrders(participantID string) []*model.LimitOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.LimitOrder
	for _, lo := range s.pending {
		if lo.ParticipantID == participantID {
			cp := *lo
			out = append(out, &cp)
		}
	}
	return out
}

// ClosePosition closes one open position at the current quote. A manual
// close racing a TP/SL trigger or a stopout resolves to exactly one
// close; the loser gets ErrPositionAlreadyClosed.
func (s *Service) ClosePosition(ctx context.Context, participantID, positionID string) (*model.TradeRecord, error) {
	open, err := s.ledger.OpenPositions(participantID)
	if err != nil {
		return nil, err
	}
	var pos *model.Position
	for i := range open {
		if open[i].ID == positionID {
			pos = &open[i]
			break
		}
	}
	if pos == nil {
		return nil, ledger.ErrPositionAlreadyClosed
	}
	tick, ok := s.quotes.Snapshot(pos.Symbol)
	if !ok {
		return nil, ErrNoQuote
	}
	exit := tick.Bid
	if pos.Side == types.SideShort {
		exit = tick.Ask
	}
	trade, err := s.ledger.Close(ctx, participantID, positionID, exit, types.PositionStatusClosed)
	if err != nil {
		return nil, err
	}
	metrics.PositionsClosed.WithLabelValues("manual").Inc()
	return trade, nil
}

// SetProtectiveLevels amends a position's TP/SL.
func (s *Service) SetProtectiveLevels(ctx context.Context, participantID, positionID string, tp, sl *decimal.Decimal) (model.Position, error) {
	if tp != nil && tp.LessThanOrEqual(decimal.Zero) {
		return model.Position{}, fmt.Errorf("%w: invalid take profit", ErrValidation)
	}
	if sl != nil && sl.LessThanOrEqual(decimal.Zero) {
		return model.Position{}, fmt.Errorf("%w: invalid stop loss", ErrValidation)
	}
	return s.ledger.SetProtectiveLevels(ctx, participantID, positionID, tp, sl)
}

// Run consumes the tick stream, filling crossed limit orders and firing
// protective closes, until the context is cancelled.
func (s *Service) Run(ctx context.Context, ticks <-chan pricefeed.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			s.OnTick(ctx, tick)
		}
	}
}

// OnTick fills crossed limit orders, then evaluates TP/SL for every
// open position on the tick's symbol.
func (s *Service) OnTick(ctx context.Context, tick pricefeed.Tick) {
	s.fillCrossedLimits(ctx, tick)
	s.triggerProtective(ctx, tick)
}

func (s *Service) fillCrossedLimits(ctx context.Context, tick pricefeed.Tick) {
	s.mu.Lock()
	var crossed []*model.LimitOrder
	for _, lo := range s.pending {
		if lo.Symbol != tick.Symbol {
			continue
		}
		if limitCrossed(lo, tick) {
			crossed = append(crossed, lo)
		}
	}
	for _, lo := range crossed {
		delete(s.pending, lo.ID)
	}
	s.mu.Unlock()

	for _, lo := range crossed {
		comp, err := s.store.GetCompetition(ctx, lo.CompetitionID)
		if err != nil {
			lo.Status = types.LimitOrderStatusCancelled
			s.log.Errorw("limit order cancelled, competition lookup failed",
				"order_id", lo.ID, "competition_id", lo.CompetitionID, "error", err)
			continue
		}
		if comp.Status != types.CompetitionStatusActive {
			lo.Status = types.LimitOrderStatusCancelled
			s.log.Infow("limit order cancelled, competition no longer active",
				"order_id", lo.ID, "competition_id", lo.CompetitionID)
			continue
		}
		entry := tick.Ask
		if lo.Side == types.SideShort {
			entry = tick.Bid
		}
		req := PlaceOrderRequest{
			ParticipantID: lo.ParticipantID,
			CompetitionID: lo.CompetitionID,
			Symbol:        lo.Symbol,
			Side:          lo.Side,
			OrderType:     types.OrderTypeMarket,
			Quantity:      lo.Quantity,
			Leverage:      lo.Leverage,
			TakeProfit:    lo.TakeProfit,
			StopLoss:      lo.StopLoss,
		}
		if _, err := s.open(ctx, comp, req, entry); err != nil {
			lo.Status = types.LimitOrderStatusCancelled
			s.log.Infow("limit order cancelled at fill",
				"order_id", lo.ID, "participant_id", lo.ParticipantID, "error", err)
			continue
		}
		lo.Status = types.LimitOrderStatusFilled
		s.log.Infow("limit order filled",
			"order_id", lo.ID, "participant_id", lo.ParticipantID,
			"symbol", lo.Symbol, "price", entry)
	}
}

// limitCrossed reports whether the tick reached the order's price: a buy
// fills once the ask falls to the limit, a sell once the bid rises to it.
func limitCrossed(lo *model.LimitOrder, tick pricefeed.Tick) bool {
	if lo.Side == types.SideLong {
		return tick.Ask.LessThanOrEqual(lo.LimitPrice)
	}
	return tick.Bid.GreaterThanOrEqual(lo.LimitPrice)
}

func (s *Service) triggerProtective(ctx context.Context, tick pricefeed.Tick) {
	for _, id := range s.ledger.ParticipantIDs() {
		if !s.ledger.HasExposure(id, tick.Symbol) {
			continue
		}
		open, err := s.ledger.OpenPositions(id)
		if err != nil {
			continue
		}
		for i := range open {
			pos := &open[i]
			if pos.Symbol != tick.Symbol {
				continue
			}
			cause, exit, hit := protectiveTrigger(pos, tick)
			if !hit {
				continue
			}
			if _, err := s.ledger.Close(ctx, id, pos.ID, exit, types.PositionStatusClosed); err != nil {
				continue
			}
			metrics.PositionsClosed.WithLabelValues(cause).Inc()
			s.log.Infow("protective order fired",
				"position_id", pos.ID,
				"participant_id", id,
				"cause", cause,
				"exit", exit,
			)
		}
	}
}

// protectiveTrigger evaluates TP/SL against the close side of the quote:
// longs close at bid, shorts at ask. When one tick crosses both levels
// the stop loss wins.
func protectiveTrigger(pos *model.Position, tick pricefeed.Tick) (cause string, exit decimal.Decimal, hit bool) {
	mark := tick.Bid
	if pos.Side == types.SideShort {
		mark = tick.Ask
	}
	slHit := false
	tpHit := false
	if pos.Side == types.SideLong {
		slHit = pos.StopLoss != nil && mark.LessThanOrEqual(*pos.StopLoss)
		tpHit = pos.TakeProfit != nil && mark.GreaterThanOrEqual(*pos.TakeProfit)
	} else {
		slHit = pos.StopLoss != nil && mark.GreaterThanOrEqual(*pos.StopLoss)
		tpHit = pos.TakeProfit != nil && mark.LessThanOrEqual(*pos.TakeProfit)
	}
	switch {
	case slHit:
		return "stop_loss", mark, true
	case tpHit:
		return "take_profit", mark, true
	default:
		return "", decimal.Zero, false
	}
}

func reject(reason string) {
	metrics.OrdersRejected.WithLabelValues(reason).Inc()
}
