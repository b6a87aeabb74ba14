// Package availability classifies tables as selectable or not for a
// requested date, time and party size.  The result is advisory: the
// reservation service re-validates when the reservation is created.
package availability

import (
	"fmt"
	"time"

	"github.com/iliyamo/table-booking-session/internal/model"
)

// DefaultDuration is the assumed length of a booking when the caller does
// not give one.
const DefaultDuration = 60 * time.Minute

// Request is what the guest asked for.  Time is optional; without it only
// capacity filtering applies.
type Request struct {
	Date      string
	Time      string
	PartySize int
	Duration  time.Duration
}

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether w and o share any instant.  Touching windows do
// not overlap.
func (w Window) Overlaps(o Window) bool {
	return o.Start.Before(w.End) && w.Start.Before(o.End)
}

// Engine holds the defaults used when a Request leaves them out.  The zero
// value uses DefaultDuration and UTC.
type Engine struct {
	Duration time.Duration
	Location *time.Location
}

// Window returns the requested interval.  ok is false when req carries no
// time.
func (e Engine) Window(req Request) (w Window, ok bool, err error) {
	if req.Time == "" {
		return Window{}, false, nil
	}
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(model.DateLayout+" "+model.ClockLayout, req.Date+" "+req.Time, loc)
	if err != nil {
		return Window{}, false, fmt.Errorf("parse requested time %q %q: %w", req.Date, req.Time, err)
	}
	d := req.Duration
	if d <= 0 {
		d = e.Duration
	}
	if d <= 0 {
		d = DefaultDuration
	}
	return Window{Start: start, End: start.Add(d)}, true, nil
}

// Compute classifies every table.  Reservations without a table id are
// ignored.  The input order of tables is kept.
func (e Engine) Compute(req Request, tables []model.Table, booked []model.ReservationInterval) ([]model.TableAvailability, error) {
	want, timed, err := e.Window(req)
	if err != nil {
		return nil, err
	}

	busy := make(map[model.ID]bool)
	if timed {
		for _, r := range booked {
			if r.TableID == "" {
				continue
			}
			if want.Overlaps(Window{Start: r.Start, End: r.End}) {
				busy[r.TableID] = true
			}
		}
	}

	out := make([]model.TableAvailability, 0, len(tables))
	for _, t := range tables {
		v := model.TableAvailability{
			Table:        t,
			ServerActive: t.Active,
			Busy:         busy[t.ID],
			NotEnough:    req.PartySize > 0 && t.Seats < req.PartySize,
		}
		v.Active = v.Selectable()
		switch {
		case !v.ServerActive:
			v.Reason = model.ReasonClosed
		case v.Busy:
			v.Reason = model.ReasonBusy
		case v.NotEnough:
			v.Reason = model.ReasonNotEnough
		}
		out = append(out, v)
	}
	return out, nil
}

// Selectable filters views down to the tables that can be chosen.
func Selectable(views []model.TableAvailability) []model.TableAvailability {
	var out []model.TableAvailability
	for _, v := range views {
		if v.Selectable() {
			out = append(out, v)
		}
	}
	return out
}
