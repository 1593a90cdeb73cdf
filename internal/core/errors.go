package core

import "errors"

// Terminal rejection kinds. Every operation either applies in full or fails
// with exactly one of these and mutates nothing.
var (
	ErrUnauthorized     = errors.New("caller is not the owner")
	ErrMarketNotFound   = errors.New("market not found")
	ErrDuplicateMarket  = errors.New("market id already exists")
	ErrInvalidState     = errors.New("market is not in the required status")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrMarketExpired    = errors.New("market deadline has passed")
	ErrAlreadyBet       = errors.New("caller already has a bet on this market")
	ErrBetNotFound      = errors.New("no bet for caller on this market")
	ErrAlreadyClaimed   = errors.New("reward already claimed")
	ErrNotAWinner       = errors.New("bet is not on the winning side")
)

// ErrorCode maps a rejection to a stable label used in metrics, outbound
// rejection events, and HTTP status mapping.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrMarketNotFound):
		return "market_not_found"
	case errors.Is(err, ErrDuplicateMarket):
		return "duplicate_market"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrMarketExpired):
		return "market_expired"
	case errors.Is(err, ErrAlreadyBet):
		return "already_bet"
	case errors.Is(err, ErrBetNotFound):
		return "bet_not_found"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrNotAWinner):
		return "not_a_winner"
	default:
		return "internal"
	}
}
