package session

import "github.com/iliyamo/table-booking-session/internal/lifecycle"

func lifecycleBooking() lifecycle.Booking {
	return lifecycle.Booking{TableID: "7", TableName: "T7", Date: "2026-10-20", Time: "18:00", PartySize: 2}
}
