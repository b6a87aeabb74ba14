package model

import "time"

// LifecycleStatus is the state of a single reservation attempt as tracked by
// the booking session.  The same values are mirrored into the stored draft so
// that a returning page can resume where it left off.
type LifecycleStatus string

const (
	StatusInit            LifecycleStatus = "INIT"
	StatusCreated         LifecycleStatus = "CREATED"
	StatusOTPSent         LifecycleStatus = "OTP_SENT"
	StatusAwaitingPayment LifecycleStatus = "AWAITING_PAYMENT"
	StatusConfirmed       LifecycleStatus = "CONFIRMED"
	StatusCanceled        LifecycleStatus = "CANCELED"
	// StatusExpired is soft: a new verification code re-enters the flow.
	StatusExpired LifecycleStatus = "EXPIRED"
)

// Terminal reports whether no further transition is expected from s.
func (s LifecycleStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusCanceled
}

// DefaultTerminalStatuses is the set used by ClearIfTerminal when the caller
// does not supply one.
var DefaultTerminalStatuses = []LifecycleStatus{StatusConfirmed, StatusCanceled, StatusExpired}

// DateLayout is the calendar-date format used for BookingDraft.Date and for
// every upstream date parameter.
const DateLayout = "2006-01-02"

// ClockLayout is the wall-clock format used for BookingDraft.Time.
const ClockLayout = "15:04"

// BookingDraft is the working copy of an in-progress booking for one browser
// profile.  It is stored as a single JSON record and fully replaced on every
// write.
//
// Fields:
//
//	Date: requested calendar date (YYYY-MM-DD).
//	Time: requested clock time (HH:MM), optional.
//	PartySize: number of guests.
//	TableID: selected table, empty until chosen.
//	TableName: display cache for the selected table.
//	ReservationID: server reservation id once created.
//	OwnerIdentity: user id the draft belongs to; nil means guest.
//	SavedAt: unix milliseconds of the last write.
//	Status: mirrored lifecycle status, when known.
//	Payment: cached payment snapshot, when awaiting payment.
type BookingDraft struct {
	Date          string          `json:"date,omitempty"`
	Time          string          `json:"time,omitempty"`
	PartySize     int             `json:"people,omitempty"`
	TableID       ID              `json:"tableId,omitempty"`
	TableName     string          `json:"tableName,omitempty"`
	ReservationID *int64          `json:"reservationId,omitempty"`
	OwnerIdentity *int64          `json:"ownerUserId"`
	SavedAt       int64           `json:"savedAt"`
	Status        LifecycleStatus `json:"status,omitempty"`
	Payment       *PaymentRow     `json:"payment,omitempty"`
}

// SavedTime converts SavedAt to a time.Time.
func (d BookingDraft) SavedTime() time.Time {
	return time.UnixMilli(d.SavedAt)
}

// DraftPatch is a partial BookingDraft.  Nil fields leave the stored value
// untouched.  ClearPayment drops a cached payment left by an earlier
// attempt.  Owner is never bound from JSON; it is set only by code that
// needs to override the active identity explicitly.
type DraftPatch struct {
	Date          *string          `json:"date,omitempty"`
	Time          *string          `json:"time,omitempty"`
	PartySize     *int             `json:"people,omitempty"`
	TableID       *ID              `json:"tableId,omitempty"`
	TableName     *string          `json:"tableName,omitempty"`
	ReservationID *int64           `json:"reservationId,omitempty"`
	Status        *LifecycleStatus `json:"status,omitempty"`
	Payment       *PaymentRow      `json:"payment,omitempty"`
	ClearPayment  bool             `json:"-"`
	Owner         *OwnerOverride   `json:"-"`
}

// OwnerOverride carries an explicit owner for DraftPatch; ID may be nil to
// force a guest-owned draft.
type OwnerOverride struct {
	ID *int64
}

// Apply merges p over d and returns the result.  d is not modified.
func (p DraftPatch) Apply(d BookingDraft) BookingDraft {
	if p.Date != nil {
		d.Date = *p.Date
	}
	if p.Time != nil {
		d.Time = *p.Time
	}
	if p.PartySize != nil {
		d.PartySize = *p.PartySize
	}
	if p.TableID != nil {
		d.TableID = *p.TableID
	}
	if p.TableName != nil {
		d.TableName = *p.TableName
	}
	if p.ReservationID != nil {
		id := *p.ReservationID
		d.ReservationID = &id
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.ClearPayment {
		d.Payment = nil
	}
	if p.Payment != nil {
		row := *p.Payment
		d.Payment = &row
	}
	return d
}

// SameIdentity compares two nullable identities; two nils are equal.
func SameIdentity(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Ptr returns a pointer to v.  Handy for building patches.
func Ptr[T any](v T) *T { return &v }
