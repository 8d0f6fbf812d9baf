package domain

import "errors"

// Engine errors. Every failure is fatal to the current transaction: the
// sequencer rolls all component state back and the caller decides whether
// to retry (typically after relaying a fresher round).
var (
	// Oracle authentication.
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidAggregator = errors.New("invalid aggregator")
	ErrFutureTimestamp   = errors.New("timestamp is in the future")
	ErrStaleRound        = errors.New("round older than stored round")
	ErrNoRound           = errors.New("no round pushed")
	ErrAlreadyRegistered = errors.New("feed already registered")

	// Staleness.
	ErrPriceTooOld = errors.New("price too old")

	// Configuration validity.
	ErrInvalidPayoutMultiplier = errors.New("invalid payout multiplier")
	ErrMinDurationOverMax      = errors.New("min duration over max")
	ErrInvalidFeeFraction      = errors.New("invalid fee fraction")
	ErrDecimalsMismatch        = errors.New("aggregator decimals must be 8")
	ErrInvalidReserveFraction  = errors.New("invalid reserve fraction")

	// Trade validity.
	ErrAggregatorNotEnabled    = errors.New("aggregator not enabled")
	ErrDurationOutOfBounds     = errors.New("duration out of bounds")
	ErrDepositTooSmall         = errors.New("deposit too small")
	ErrReserveFractionTooGreat = errors.New("reserve fraction too great")
	ErrPriceUnacceptable       = errors.New("price outside acceptable bound")

	// Position lifecycle.
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionNotOpen  = errors.New("option is not open")
	ErrOptionNotExpired = errors.New("option has not expired")

	// Access control.
	ErrUnauthorized  = errors.New("unauthorized caller")
	ErrPaused        = errors.New("paused")
	ErrAlreadyPaused = errors.New("already paused")
	ErrNotPaused     = errors.New("not paused")

	// Token / vault.
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientShares    = errors.New("insufficient shares")

	// Infrastructure.
	ErrNotFound     = errors.New("not found")
	ErrLockHeld     = errors.New("lock already held")
	ErrWSDisconnect = errors.New("websocket disconnected")
)
