package lifecycle

import "errors"

var (
	// ErrBusy means another transition for this reservation is in flight.
	ErrBusy = errors.New("another request is in progress")
	// ErrInvalidTransition means the operation is not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	// ErrNoReservation means the operation needs a reservation that does
	// not exist yet.
	ErrNoReservation = errors.New("no reservation has been created")
	// ErrIncomplete means the booking lacks a table, date, time or party
	// size.
	ErrIncomplete = errors.New("booking is incomplete")
	// ErrInvalidCode means the verification code is malformed.
	ErrInvalidCode = errors.New("verification code must be 4 to 6 digits")
	// ErrProofNotAllowed means proof of payment cannot be attached now.
	ErrProofNotAllowed = errors.New("proof of payment cannot be submitted now")
	// ErrSuperseded means the state moved on (by poll or push) while the
	// request was in flight, so its result was dropped.
	ErrSuperseded = errors.New("reservation state changed during the request")
)
