package domain

import "fmt"

// ValidationError is bad caller input, rejected before the ledger is touched.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError is an idempotency collision: the row or slot already exists.
// Callers treat it as a recoverable no-op, not a failure.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// NotFoundError is a missing entity referenced by id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Entity, e.ID) }

// InvalidStateError is a lifecycle transition attempted from the wrong state.
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string { return e.Msg }

// InsufficientFundsError is a buy that cannot be satisfied even after
// clamping to the available cash balance.
type InsufficientFundsError struct {
	ModelID   string
	Requested float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("model %s: insufficient funds: requested $%.2f, available $%.2f",
		e.ModelID, e.Requested, e.Available)
}

// InsufficientSharesError is a sell against a side with no shares to sell.
type InsufficientSharesError struct {
	ModelID string
	Side    ActionType
	Held    float64
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("model %s: insufficient shares for %s: held %.4f", e.ModelID, e.Side, e.Held)
}

// AdapterError is a failed or timed-out external decision call. Code is one
// of the ErrCode* constants.
type AdapterError struct {
	ModelID string
	Code    string
	Msg     string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adapter %s [%s]: %s: %v", e.ModelID, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("adapter %s [%s]: %s", e.ModelID, e.Code, e.Msg)
}

func (e *AdapterError) Unwrap() error { return e.Err }
