package orders

import "errors"

var (
	ErrInsufficientMargin    = errors.New("insufficient margin for this order")
	ErrPositionLimitExceeded = errors.New("max open positions reached")
	ErrPositionSizeExceeded  = errors.New("position size exceeds competition limit")
	ErrInvalidLimitDistance  = errors.New("limit price too close to current market")
	ErrCompetitionNotActive  = errors.New("competition is not active")
	ErrNoQuote               = errors.New("no quote available for symbol")
	ErrValidation            = errors.New("invalid order request")
)
