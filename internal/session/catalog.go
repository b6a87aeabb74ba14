package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/model"
)

// CatalogSource is the upstream data the catalog caches.
type CatalogSource interface {
	ListTables(ctx context.Context) ([]model.Table, error)
	GetGrid(ctx context.Context) (model.GridSize, error)
	ListReservations(ctx context.Context, date string) ([]model.ReservationInterval, error)
}

// Catalog caches the table inventory, the floor-plan grid and the existing
// reservations per date.  Entries live until a real-time event invalidates
// them, so every availability check after a change sees fresh data.
type Catalog struct {
	src CatalogSource
	log *zap.Logger

	mu       sync.Mutex
	tables   []model.Table
	grid     *model.GridSize
	booked   map[string][]model.ReservationInterval
	tablesOK bool
}

// NewCatalog returns an empty catalog over src.
func NewCatalog(src CatalogSource, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{src: src, log: log, booked: make(map[string][]model.ReservationInterval)}
}

// Tables returns the table inventory.
func (c *Catalog) Tables(ctx context.Context) ([]model.Table, error) {
	c.mu.Lock()
	if c.tablesOK {
		out := append([]model.Table(nil), c.tables...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	tables, err := c.src.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tables, c.tablesOK = tables, true
	c.mu.Unlock()
	return append([]model.Table(nil), tables...), nil
}

// Grid returns the floor-plan dimensions.
func (c *Catalog) Grid(ctx context.Context) (model.GridSize, error) {
	c.mu.Lock()
	if c.grid != nil {
		g := *c.grid
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	g, err := c.src.GetGrid(ctx)
	if err != nil {
		return model.GridSize{}, err
	}
	c.mu.Lock()
	c.grid = &g
	c.mu.Unlock()
	return g, nil
}

// Reservations returns the existing reservations for date.
func (c *Catalog) Reservations(ctx context.Context, date string) ([]model.ReservationInterval, error) {
	c.mu.Lock()
	if rows, ok := c.booked[date]; ok {
		c.mu.Unlock()
		return rows, nil
	}
	c.mu.Unlock()

	rows, err := c.src.ListReservations(ctx, date)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.booked[date] = rows
	c.mu.Unlock()
	return rows, nil
}

// InvalidateTables drops the cached inventory and grid.
func (c *Catalog) InvalidateTables() {
	c.mu.Lock()
	c.tables, c.tablesOK, c.grid = nil, false, nil
	c.mu.Unlock()
	c.log.Debug("catalog: tables invalidated")
}

// InvalidateReservations drops the reservations cached for date, or for
// every date when date is empty.
func (c *Catalog) InvalidateReservations(date string) {
	c.mu.Lock()
	if date == "" {
		c.booked = make(map[string][]model.ReservationInterval)
	} else {
		delete(c.booked, date)
	}
	c.mu.Unlock()
	c.log.Debug("catalog: reservations invalidated", zap.String("date", date))
}
