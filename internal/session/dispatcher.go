package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/queue"
)

// Dispatcher routes real-time events: catalog invalidation for table and
// reservation changes, lifecycle merges for reservation and payment status.
type Dispatcher struct {
	sessions *Manager
	catalog  *Catalog
	log      *zap.Logger
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(sessions *Manager, catalog *Catalog, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{sessions: sessions, catalog: catalog, log: log}
}

// Handle is a queue.Handler.
func (d *Dispatcher) Handle(ctx context.Context, ev queue.Event) error {
	switch ev.Topic() {
	case "table":
		d.catalog.InvalidateTables()
		return nil
	case "reservation":
		return d.reservation(ctx, ev)
	case "payment":
		return d.payment(ctx, ev)
	}
	d.log.Debug("ignoring event", zap.String("event", ev.Name))
	return nil
}

func (d *Dispatcher) reservation(ctx context.Context, ev queue.Event) error {
	p, err := ev.Reservation()
	if err != nil {
		return err
	}
	d.catalog.InvalidateReservations(p.Date)
	if p.ReservationID == 0 {
		return nil
	}
	switch ev.Name {
	case queue.ReservationConfirmed, queue.ReservationExpired, queue.ReservationCanceled:
	default:
		return nil
	}
	d.sessions.Each(func(s *Session) {
		if s.Lifecycle.ApplyReservation(ctx, p.ReservationID, p.Status) {
			d.log.Info("reservation status pushed",
				zap.String("profile", s.Profile),
				zap.Int64("reservation_id", p.ReservationID),
				zap.String("status", string(p.Status)),
			)
		}
	})
	return nil
}

func (d *Dispatcher) payment(ctx context.Context, ev queue.Event) error {
	if ev.Name == queue.PaymentSucceeded {
		d.catalog.InvalidateReservations("")
	}
	p, err := ev.Payment()
	if err != nil {
		return err
	}
	if p.Payment.ID == 0 {
		return fmt.Errorf("%s: payment without id", ev.Name)
	}
	d.sessions.Each(func(s *Session) {
		if p.ReservationID != 0 {
			if rid := s.Lifecycle.Snapshot().ReservationID; rid == nil || *rid != p.ReservationID {
				return
			}
		}
		if s.Lifecycle.ApplyPayment(ctx, p.Payment) {
			d.log.Info("payment update pushed",
				zap.String("profile", s.Profile),
				zap.Int64("payment_id", p.Payment.ID),
				zap.String("status", string(p.Payment.Status)),
			)
		}
	})
	return nil
}
