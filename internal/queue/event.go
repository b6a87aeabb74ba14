// Package queue receives the restaurant's real-time events (table,
// reservation and payment changes) from the message broker.  This
// subsystem only subscribes; it never publishes to the broker.
package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iliyamo/table-booking-session/internal/model"
)

// Event names as emitted by the restaurant backend.
const (
	TableCreated        = "table:created"
	TableUpdated        = "table:updated"
	TableDeleted        = "table:deleted"
	TableStatusUpdated  = "table:status_updated"
	TablePositionsSaved = "table:positions_saved"

	ReservationCreated   = "reservation:created"
	ReservationUpdated   = "reservation:updated"
	ReservationConfirmed = "reservation:confirmed"
	ReservationExpired   = "reservation:expired"
	ReservationCanceled  = "reservation:canceled"

	PaymentUpdated   = "payment:updated"
	PaymentConfirmed = "payment:confirmed"
	PaymentSucceeded = "payment:succeeded"
)

// Event is the broker envelope: {"event": "...", "data": {...}}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Topic returns the part of the name before the colon ("table",
// "reservation", "payment").
func (e Event) Topic() string {
	topic, _, _ := strings.Cut(e.Name, ":")
	return topic
}

// Decode parses an envelope.  fallbackName is used when the body does not
// name the event itself (the AMQP routing key or the NATS subject).
func Decode(body []byte, fallbackName string) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Name == "" {
		ev.Name = fallbackName
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("decode event: no event name")
	}
	return ev, nil
}

// ReservationPayload is the data of reservation:* events.
type ReservationPayload struct {
	ReservationID int64                 `json:"reservationId"`
	ID            int64                 `json:"id"`
	Status        model.LifecycleStatus `json:"status"`
	TableID       model.ID              `json:"tableId"`
	Date          string                `json:"date"`
}

// Reservation returns the reservation id and the status the event implies.
func (e Event) Reservation() (ReservationPayload, error) {
	var p ReservationPayload
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return p, fmt.Errorf("decode %s: %w", e.Name, err)
		}
	}
	if p.ReservationID == 0 {
		p.ReservationID = p.ID
	}
	switch e.Name {
	case ReservationConfirmed:
		p.Status = model.StatusConfirmed
	case ReservationExpired:
		p.Status = model.StatusExpired
	case ReservationCanceled:
		p.Status = model.StatusCanceled
	}
	return p, nil
}

// PaymentPayload is the data of payment:* events.  The payment row is
// either nested under "payment" or inlined.
type PaymentPayload struct {
	ReservationID int64            `json:"reservationId"`
	Payment       model.PaymentRow
}

// Payment decodes a payment:* event.  payment:confirmed and
// payment:succeeded imply PAID even when the row omits the status.
func (e Event) Payment() (PaymentPayload, error) {
	var wire struct {
		ReservationID int64             `json:"reservationId"`
		Payment       *model.PaymentRow `json:"payment"`
	}
	var out PaymentPayload
	if err := json.Unmarshal(e.Data, &wire); err != nil {
		return out, fmt.Errorf("decode %s: %w", e.Name, err)
	}
	out.ReservationID = wire.ReservationID
	if wire.Payment != nil {
		out.Payment = *wire.Payment
	} else if err := json.Unmarshal(e.Data, &out.Payment); err != nil {
		return out, fmt.Errorf("decode %s: %w", e.Name, err)
	}
	if e.Name == PaymentConfirmed || e.Name == PaymentSucceeded {
		out.Payment.Status = model.PaymentPaid
	}
	return out, nil
}
