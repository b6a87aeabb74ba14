package model

import "time"

// ReservationInterval is an existing reservation on a table as reported by
// the server's reservations feed for a date.  It is input to the
// availability engine only and is never mutated client-side.
type ReservationInterval struct {
	TableID ID        `json:"tableId"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// OrderLine is one pre-ordered menu item sent along with a reservation.
type OrderLine struct {
	MenuID int64   `json:"id"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Qty    int     `json:"qty"`
	Note   *string `json:"note,omitempty"`
}

// NewReservation is the payload for creating a reservation.
type NewReservation struct {
	TableID   ID          `json:"tableId"`
	Date      string      `json:"date"`
	Time      string      `json:"time"`
	PartySize int         `json:"people"`
	Items     []OrderLine `json:"items,omitempty"`
}

// CreatedReservation is the server answer to NewReservation.
type CreatedReservation struct {
	ReservationID int64   `json:"reservationId"`
	DepositAmount float64 `json:"depositAmount"`
	OrderTotal    float64 `json:"orderTotal"`
}

// VerifyOutcome is the result of a successful code verification.  It is
// either VerifiedConfirmed or VerifiedAwaitingPayment.
type VerifyOutcome interface {
	verifyOutcome()
}

// VerifiedConfirmed means the reservation was confirmed outright because
// nothing is payable.
type VerifiedConfirmed struct{}

// VerifiedAwaitingPayment carries the payment the guest must settle.
type VerifiedAwaitingPayment struct {
	Payment PaymentRow
}

func (VerifiedConfirmed) verifyOutcome()       {}
func (VerifiedAwaitingPayment) verifyOutcome() {}

// DefaultDeposit is the flat deposit charged when no menu items are
// pre-ordered.
const DefaultDeposit = 100

// Totals is a display-only estimate of what the guest will pay once the
// verification code is accepted.
type Totals struct {
	ItemsTotal float64 `json:"itemsTotal"`
	Deposit    float64 `json:"deposit"`
	Grand      float64 `json:"grand"`
}

// EstimateTotals sums the order lines.  With no payable items the flat
// deposit applies instead.
func EstimateTotals(lines []OrderLine) Totals {
	var items float64
	for _, l := range lines {
		items += l.Price * float64(l.Qty)
	}
	if items > 0 {
		return Totals{ItemsTotal: items, Grand: items}
	}
	return Totals{Deposit: DefaultDeposit, Grand: DefaultDeposit}
}
