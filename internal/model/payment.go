package model

import "time"

// PaymentStatus is the server-side status of a payment row.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSubmitted PaymentStatus = "SUBMITTED"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentExpired   PaymentStatus = "EXPIRED"
	PaymentCanceled  PaymentStatus = "CANCELED"
)

// PaymentRow is the client cache of a server-owned payment.  It is created
// by the server when the reservation enters AWAITING_PAYMENT and is updated
// by slip upload and server-side confirmation.
type PaymentRow struct {
	ID        int64         `json:"id"`
	Amount    float64       `json:"amount"`
	Status    PaymentStatus `json:"status"`
	QRPayload string        `json:"qrDataUrl,omitempty"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
	SlipImage *string       `json:"slipImage,omitempty"`
}

// HasSlip reports whether proof of payment is already attached.
func (p PaymentRow) HasSlip() bool {
	return p.SlipImage != nil && *p.SlipImage != ""
}

// Merge overlays the populated fields of next onto p.  A row with a
// different id replaces p wholesale; it is a new payment issued after a
// fresh verification code.  A PAID row is immutable.  An EXPIRED row only
// takes a slip when none is attached yet, and a move to PAID, so a late
// payment still confirms.
func (p PaymentRow) Merge(next PaymentRow) PaymentRow {
	if next.ID != 0 && p.ID != 0 && next.ID != p.ID {
		return next
	}
	switch p.Status {
	case PaymentPaid:
		return p
	case PaymentExpired:
		if next.SlipImage != nil && !p.HasSlip() {
			s := *next.SlipImage
			p.SlipImage = &s
			if next.Status == PaymentSubmitted {
				p.Status = PaymentSubmitted
			}
		}
		if next.Status == PaymentPaid {
			p.Status = PaymentPaid
		}
		return p
	}
	if next.ID != 0 {
		p.ID = next.ID
	}
	if next.Amount != 0 {
		p.Amount = next.Amount
	}
	if next.Status != "" {
		p.Status = next.Status
	}
	if next.QRPayload != "" {
		p.QRPayload = next.QRPayload
	}
	if next.ExpiresAt != nil {
		t := *next.ExpiresAt
		p.ExpiresAt = &t
	}
	if next.SlipImage != nil {
		s := *next.SlipImage
		p.SlipImage = &s
	}
	return p
}

// Equal reports whether p and o carry the same values.
func (p PaymentRow) Equal(o PaymentRow) bool {
	if p.ID != o.ID || p.Amount != o.Amount || p.Status != o.Status || p.QRPayload != o.QRPayload {
		return false
	}
	switch {
	case p.ExpiresAt == nil || o.ExpiresAt == nil:
		if p.ExpiresAt != o.ExpiresAt {
			return false
		}
	case !p.ExpiresAt.Equal(*o.ExpiresAt):
		return false
	}
	switch {
	case p.SlipImage == nil || o.SlipImage == nil:
		return p.SlipImage == o.SlipImage
	default:
		return *p.SlipImage == *o.SlipImage
	}
}

// Remaining returns max(0, ExpiresAt-now) truncated to whole seconds.  A row
// without an expiry reports zero.
func (p PaymentRow) Remaining(now time.Time) time.Duration {
	if p.ExpiresAt == nil {
		return 0
	}
	d := p.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second)
}
