package model

// Table is a bookable table as listed by the table inventory service.  X and
// Y locate the table on the floor-plan canvas.
//
// Fields:
//
//	ID: table identifier.
//	Name: display label.
//	Seats: seating capacity; zero means unknown.
//	Active: server-declared open/closed flag.
//	X, Y: canvas position in pixels.
//	TableTypeID: table type identifier.
//	TableTypeName: table type label.
//	AdditionalInfo: free-form notes.
type Table struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	Seats          int    `json:"seats"`
	Active         bool   `json:"active"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	TableTypeID    ID     `json:"tableTypeId,omitempty"`
	TableTypeName  string `json:"tableTypeName,omitempty"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

// GridSize is the floor-plan grid the tables are laid out on.
type GridSize struct {
	ID   int64 `json:"id,omitempty"`
	Rows int   `json:"rows"`
	Cols int   `json:"cols"`
}

// TableAvailability is the derived, never persisted availability view of a
// table for one requested window.  Active is the effective display flag:
// ServerActive and not Busy and not NotEnough.
type TableAvailability struct {
	Table
	ServerActive bool   `json:"serverActive"`
	Busy         bool   `json:"busy"`
	NotEnough    bool   `json:"notEnough"`
	Reason       string `json:"reason,omitempty"`
}

// Selectable reports whether the table may be chosen.
func (t TableAvailability) Selectable() bool {
	return t.ServerActive && !t.Busy && !t.NotEnough
}

// Reasons shown next to a table that cannot be selected.
const (
	ReasonBusy      = "busy"
	ReasonNotEnough = "not_enough_seats"
	ReasonClosed    = "closed"
)
