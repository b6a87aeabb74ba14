package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/table-booking-session/internal/changefeed"
	"github.com/iliyamo/table-booking-session/internal/lifecycle"
	"github.com/iliyamo/table-booking-session/internal/model"
	"github.com/iliyamo/table-booking-session/internal/queue"
	"github.com/iliyamo/table-booking-session/internal/repository"
	"github.com/iliyamo/table-booking-session/internal/upstream"
)

type fakeUpstream struct {
	mu          sync.Mutex
	tables      []model.Table
	booked      map[string][]model.ReservationInterval
	tableCalls  int
	bookedCalls int
	payment     model.PaymentRow
	creates     int64
	confirm     bool
	// when set, CreateReservation signals entered and waits on gate
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeUpstream) ListTables(context.Context) ([]model.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tableCalls++
	return f.tables, nil
}

func (f *fakeUpstream) GetGrid(context.Context) (model.GridSize, error) {
	return model.GridSize{Rows: 8, Cols: 12}, nil
}

func (f *fakeUpstream) ListReservations(_ context.Context, date string) ([]model.ReservationInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookedCalls++
	return f.booked[date], nil
}

func (f *fakeUpstream) CreateReservation(context.Context, model.NewReservation) (model.CreatedReservation, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return model.CreatedReservation{ReservationID: 90 + f.creates}, nil
}

func (f *fakeUpstream) RequestCode(context.Context, int64) (string, error) { return "", nil }

func (f *fakeUpstream) VerifyCode(context.Context, int64, string) (model.VerifyOutcome, error) {
	if f.confirm {
		return model.VerifiedConfirmed{}, nil
	}
	return model.VerifiedAwaitingPayment{Payment: f.payment}, nil
}

func (f *fakeUpstream) GetPayment(context.Context, int64) (model.PaymentRow, error) {
	return f.payment, nil
}

func (f *fakeUpstream) SubmitProof(context.Context, int64, upstream.Proof) (model.PaymentRow, error) {
	return f.payment, nil
}

func newManager(t *testing.T, svc *fakeUpstream) (*Manager, *repository.MemoryKV) {
	t.Helper()
	kv := repository.NewMemoryKV()
	m := NewManager(Config{Location: time.UTC}, kv, changefeed.NewLocalBus(), svc, nil)
	m.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
	return m, kv
}

func TestManager_GetReturnsSameSession(t *testing.T) {
	m, _ := newManager(t, &fakeUpstream{})
	a := m.Get("p1")
	assert.Same(t, a, m.Get("p1"))
	assert.NotSame(t, a, m.Get("p2"))
	assert.Equal(t, 2, m.Len())
}

func TestManager_Sweep(t *testing.T) {
	m, _ := newManager(t, &fakeUpstream{})
	m.Get("idle")
	m.now = func() time.Time { return time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC) }
	watched := m.Get("watched")
	detach := watched.Lifecycle.Attach(context.Background())
	defer detach()

	m.now = func() time.Time { return time.Date(2026, 10, 18, 11, 0, 0, 0, time.UTC) }
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestSynchronizer_LoginAdoptsGuestDraft(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &fakeUpstream{})
	s := m.Get("p1")

	_, err := s.Drafts.Write(ctx, model.DraftPatch{Date: model.Ptr("2026-10-20"), PartySize: model.Ptr(3)})
	require.NoError(t, err)
	assert.Equal(t, Indicators{HasDraft: true, PartySize: 3}, s.Sync.Indicators())

	var seen []Indicators
	s.Sync.Subscribe(func(in Indicators) { seen = append(seen, in) })

	id := int64(42)
	s.Identity.Set(&id, "tok")

	d := s.Drafts.Read(ctx)
	require.NotNil(t, d)
	require.NotNil(t, d.OwnerIdentity)
	assert.Equal(t, int64(42), *d.OwnerIdentity)
	assert.Empty(t, seen, "adoption does not change the indicators")
}

func TestSynchronizer_OtherTabWriteUpdatesIndicators(t *testing.T) {
	ctx := context.Background()
	bus := changefeed.NewLocalBus()
	kv := repository.NewMemoryKV()
	now := func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }

	// two instances sharing the KV and the bus stand in for two tabs served
	// by different processes
	a := NewManager(Config{Location: time.UTC}, kv, bus, &fakeUpstream{}, nil)
	b := NewManager(Config{Location: time.UTC}, kv, bus, &fakeUpstream{}, nil)
	a.now, b.now = now, now

	sb := b.Get("p1")
	_, err := a.Get("p1").Drafts.Write(ctx, model.DraftPatch{PartySize: model.Ptr(5), TableName: model.Ptr("T9")})
	require.NoError(t, err)

	assert.Equal(t, Indicators{HasDraft: true, PartySize: 5, TableName: "T9"}, sb.Sync.Indicators())

	require.NoError(t, a.Get("p1").Drafts.Clear(ctx))
	assert.Equal(t, Indicators{}, sb.Sync.Indicators())
}

func TestSynchronizer_SwitchingUserResetsLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &fakeUpstream{})
	s := m.Get("p1")

	alice := int64(42)
	s.Identity.Set(&alice, "a")
	_, err := s.Lifecycle.Create(ctx, lifecycleBooking())
	require.NoError(t, err)
	require.Equal(t, model.StatusCreated, s.Lifecycle.State().Status())

	bob := int64(7)
	s.Identity.Set(&bob, "b")
	assert.Equal(t, model.StatusInit, s.Lifecycle.State().Status())
	assert.Nil(t, s.Drafts.Read(ctx))
}

func TestSynchronizer_ResumesLifecycleFromDraft(t *testing.T) {
	ctx := context.Background()
	m, kv := newManager(t, &fakeUpstream{})
	_, err := m.Get("p1").Lifecycle.Create(ctx, lifecycleBooking())
	require.NoError(t, err)

	// a fresh instance only has the stored draft
	other := NewManager(Config{Location: time.UTC}, kv, changefeed.NewLocalBus(), &fakeUpstream{}, nil)
	other.now = m.now
	s := other.Get("p1")
	in := s.Sync.Resync(ctx)

	assert.Equal(t, model.StatusCreated, in.Status)
	snap := s.Lifecycle.Snapshot()
	assert.Equal(t, model.StatusCreated, snap.Status)
	require.NotNil(t, snap.ReservationID)
	assert.Equal(t, int64(91), *snap.ReservationID)
}

func TestSynchronizer_SwitchingUserMidCallDropsResult(t *testing.T) {
	ctx := context.Background()
	svc := &fakeUpstream{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	m, _ := newManager(t, svc)
	s := m.Get("p1")

	alice := int64(42)
	s.Identity.Set(&alice, "a")
	done := make(chan error, 1)
	go func() {
		_, err := s.Lifecycle.Create(ctx, lifecycleBooking())
		done <- err
	}()
	<-svc.entered

	bob := int64(7)
	s.Identity.Set(&bob, "b")
	close(svc.gate)

	assert.ErrorIs(t, <-done, lifecycle.ErrSuperseded)
	assert.Equal(t, model.StatusInit, s.Lifecycle.State().Status())
	assert.Nil(t, s.Drafts.Read(ctx))
	assert.Equal(t, Indicators{}, s.Sync.Indicators())

	// the new user starts a fresh attempt
	svc.gate = nil
	snap, err := s.Lifecycle.Create(ctx, lifecycleBooking())
	require.NoError(t, err)
	assert.Equal(t, int64(92), *snap.ReservationID)
	d := s.Drafts.Read(ctx)
	require.NotNil(t, d)
	require.NotNil(t, d.OwnerIdentity)
	assert.Equal(t, bob, *d.OwnerIdentity)
}

func TestSynchronizer_SecondBookingAfterConfirmed(t *testing.T) {
	ctx := context.Background()
	svc := &fakeUpstream{confirm: true}
	m, _ := newManager(t, svc)
	s := m.Get("p1")

	_, err := s.Lifecycle.Create(ctx, lifecycleBooking())
	require.NoError(t, err)
	_, err = s.Lifecycle.RequestCode(ctx)
	require.NoError(t, err)
	snap, err := s.Lifecycle.Verify(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, snap.Status)
	assert.Nil(t, s.Drafts.Read(ctx))

	_, err = s.Drafts.Write(ctx, model.DraftPatch{Date: model.Ptr("2026-10-21"), PartySize: model.Ptr(4)})
	require.NoError(t, err)
	next := lifecycleBooking()
	next.Date, next.PartySize = "2026-10-21", 4

	snap, err = s.Lifecycle.Create(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, snap.Status)
	assert.Equal(t, int64(92), *snap.ReservationID)

	d := s.Drafts.Read(ctx)
	require.NotNil(t, d)
	require.NotNil(t, d.ReservationID)
	assert.Equal(t, int64(92), *d.ReservationID)
	assert.Equal(t, model.StatusCreated, d.Status)
	assert.Nil(t, d.Payment)
	assert.Equal(t, model.StatusCreated, s.Sync.Indicators().Status)
}

func TestSynchronizer_InstancesFollowEachOther(t *testing.T) {
	ctx := context.Background()
	bus := changefeed.NewLocalBus()
	kv := repository.NewMemoryKV()
	now := func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
	exp := time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)
	svc := &fakeUpstream{payment: model.PaymentRow{ID: 5, Amount: 350, Status: model.PaymentPending, ExpiresAt: &exp}}

	a := NewManager(Config{Location: time.UTC}, kv, bus, svc, nil)
	b := NewManager(Config{Location: time.UTC}, kv, bus, svc, nil)
	a.now, b.now = now, now
	sa, sb := a.Get("p1"), b.Get("p1")

	_, err := sa.Lifecycle.Create(ctx, lifecycleBooking())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, sb.Lifecycle.State().Status())

	_, err = sa.Lifecycle.RequestCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOTPSent, sb.Lifecycle.State().Status())

	// either instance carries on from where the other left off
	snap, err := sb.Lifecycle.Verify(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingPayment, snap.Status)
	assert.Equal(t, model.StatusAwaitingPayment, sa.Lifecycle.State().Status())

	// a late resync of the older step does not move either back
	sa.Sync.Resync(ctx)
	sb.Sync.Resync(ctx)
	assert.Equal(t, model.StatusAwaitingPayment, sa.Lifecycle.State().Status())
	assert.Equal(t, model.StatusAwaitingPayment, sb.Lifecycle.State().Status())
	assert.False(t, sa.Lifecycle.Restore(&model.BookingDraft{ReservationID: snap.ReservationID, Status: model.StatusCreated}))
}

func TestCatalog_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	src := &fakeUpstream{
		tables: []model.Table{{ID: "1", Seats: 4, Active: true}},
		booked: map[string][]model.ReservationInterval{"2026-10-18": {{TableID: "1"}}},
	}
	c := NewCatalog(src, nil)

	for i := 0; i < 3; i++ {
		_, err := c.Tables(ctx)
		require.NoError(t, err)
		_, err = c.Reservations(ctx, "2026-10-18")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.tableCalls)
	assert.Equal(t, 1, src.bookedCalls)

	c.InvalidateTables()
	c.InvalidateReservations("2026-10-18")
	_, _ = c.Tables(ctx)
	_, _ = c.Reservations(ctx, "2026-10-18")
	assert.Equal(t, 2, src.tableCalls)
	assert.Equal(t, 2, src.bookedCalls)

	grid, err := c.Grid(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, grid.Cols)
}

func TestDispatcher_PaymentPushConfirms(t *testing.T) {
	ctx := context.Background()
	exp := time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)
	svc := &fakeUpstream{payment: model.PaymentRow{ID: 5, Amount: 350, Status: model.PaymentPending, ExpiresAt: &exp}}
	m, _ := newManager(t, svc)
	catalog := NewCatalog(svc, nil)
	d := NewDispatcher(m, catalog, nil)

	s := m.Get("p1")
	_, err := s.Lifecycle.Create(ctx, lifecycleBooking())
	require.NoError(t, err)
	_, err = s.Lifecycle.RequestCode(ctx)
	require.NoError(t, err)
	_, err = s.Lifecycle.Verify(ctx, "123456")
	require.NoError(t, err)
	bystander := m.Get("p2")

	ev, err := queue.Decode([]byte(`{"event":"payment:confirmed","data":{"reservationId":91,"payment":{"id":5}}}`), "")
	require.NoError(t, err)
	require.NoError(t, d.Handle(ctx, ev))
	require.NoError(t, d.Handle(ctx, ev))

	assert.Equal(t, model.StatusConfirmed, s.Lifecycle.State().Status())
	assert.Equal(t, model.StatusInit, bystander.Lifecycle.State().Status())
	assert.Nil(t, s.Drafts.Read(ctx))
}

func TestDispatcher_ReservationEvents(t *testing.T) {
	ctx := context.Background()
	svc := &fakeUpstream{booked: map[string][]model.ReservationInterval{}}
	m, _ := newManager(t, svc)
	catalog := NewCatalog(svc, nil)
	d := NewDispatcher(m, catalog, nil)

	s := m.Get("p1")
	_, err := s.Lifecycle.Create(ctx, lifecycleBooking())
	require.NoError(t, err)
	_, err = catalog.Reservations(ctx, "2026-10-20")
	require.NoError(t, err)

	require.NoError(t, d.Handle(ctx, queue.Event{Name: queue.ReservationCanceled, Data: []byte(`{"id":91,"date":"2026-10-20"}`)}))
	assert.Equal(t, model.StatusCanceled, s.Lifecycle.State().Status())

	_, err = catalog.Reservations(ctx, "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.bookedCalls)

	require.NoError(t, d.Handle(ctx, queue.Event{Name: queue.TableUpdated}))
	_, err = catalog.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.tableCalls)
}
