package piggy

import "errors"

var (
	ErrAlreadyExists      = errors.New("piggy: position already exists")
	ErrNotFound           = errors.New("piggy: position not found")
	ErrNotOpen            = errors.New("piggy: position not open")
	ErrNotSettled         = errors.New("piggy: position not settled")
	ErrUnauthorized       = errors.New("piggy: unauthorized")
	ErrNotYetExpired      = errors.New("piggy: not yet expired")
	ErrAlreadyExpired     = errors.New("piggy: already expired")
	ErrInsufficientLocked = errors.New("piggy: amount exceeds locked payout")
	ErrTransferFailed     = errors.New("piggy: collateral transfer failed")
	ErrInvalidTerms       = errors.New("piggy: invalid terms")
	ErrInvalidRecipient   = errors.New("piggy: invalid recipient")
	ErrReentrantCall      = errors.New("piggy: reentrant call")
	ErrNotConfigured      = errors.New("piggy: engine not configured")
	ErrNoSettlementValue  = errors.New("piggy: settlement value unavailable")
	ErrCustodyShortfall   = errors.New("piggy: custody balance below locked collateral")
)

// ErrClosed is returned when creating at a fingerprint that has been retired.
var ErrClosed error = closedError{}

// closedError reports a create against a retired fingerprint. It also matches
// ErrAlreadyExists so callers that only care about "pick a fresh nonce" need a
// single check.
type closedError struct{}

func (closedError) Error() string { return "piggy: fingerprint closed" }

func (closedError) Is(target error) bool { return target == ErrAlreadyExists }
