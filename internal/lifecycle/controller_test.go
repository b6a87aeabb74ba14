package lifecycle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/table-booking-session/internal/model"
	"github.com/iliyamo/table-booking-session/internal/upstream"
)

type fakeServices struct {
	mu       sync.Mutex
	create   func(model.NewReservation) (model.CreatedReservation, error)
	verify   func(code string) (model.VerifyOutcome, error)
	payment  model.PaymentRow
	proof    model.PaymentRow
	codes    []string
	requests int
	polls    int
	gate     chan struct{}
}

func (f *fakeServices) CreateReservation(_ context.Context, req model.NewReservation) (model.CreatedReservation, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.create != nil {
		return f.create(req)
	}
	return model.CreatedReservation{ReservationID: 91, DepositAmount: 100}, nil
}

func (f *fakeServices) RequestCode(context.Context, int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return "https://mail.test/preview/1", nil
}

func (f *fakeServices) VerifyCode(_ context.Context, _ int64, code string) (model.VerifyOutcome, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.mu.Unlock()
	if f.verify != nil {
		return f.verify(code)
	}
	return model.VerifiedConfirmed{}, nil
}

func (f *fakeServices) GetPayment(context.Context, int64) (model.PaymentRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.payment, nil
}

func (f *fakeServices) SubmitProof(_ context.Context, _ int64, p upstream.Proof) (model.PaymentRow, error) {
	return f.proof, nil
}

func (f *fakeServices) setPayment(p model.PaymentRow) {
	f.mu.Lock()
	f.payment = p
	f.mu.Unlock()
}

type fakeDrafts struct {
	mu      sync.Mutex
	patches []model.DraftPatch
	clears  [][]model.LifecycleStatus
}

func (f *fakeDrafts) Write(_ context.Context, p model.DraftPatch) (model.BookingDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, p)
	return model.BookingDraft{}, nil
}

func (f *fakeDrafts) ClearIfTerminal(_ context.Context, statuses ...model.LifecycleStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears = append(f.clears, statuses)
	return true, nil
}

func (f *fakeDrafts) statuses() []model.LifecycleStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LifecycleStatus
	for _, p := range f.patches {
		if p.Status != nil {
			out = append(out, *p.Status)
		}
	}
	return out
}

func (f *fakeDrafts) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clears)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var booking = Booking{TableID: "7", TableName: "T7", Date: "2026-10-20", Time: "18:00", PartySize: 2}

func newController(t *testing.T, svc *fakeServices) (*Controller, *fakeDrafts, *clock) {
	t.Helper()
	drafts := &fakeDrafts{}
	clk := &clock{t: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)}
	c := New(svc, drafts,
		WithClock(clk.Now),
		WithConfig(Config{PollInterval: 10 * time.Millisecond, Tick: 5 * time.Millisecond}),
	)
	return c, drafts, clk
}

func pending(clk *clock) model.PaymentRow {
	exp := clk.Now().Add(15 * time.Minute)
	return model.PaymentRow{ID: 5, Amount: 350, Status: model.PaymentPending, QRPayload: "data:image/png;base64,AAA", ExpiresAt: &exp}
}

// toAwaitingPayment drives c from Init to AwaitingPayment.
func toAwaitingPayment(t *testing.T, c *Controller, svc *fakeServices, clk *clock) {
	t.Helper()
	svc.verify = func(string) (model.VerifyOutcome, error) {
		return model.VerifiedAwaitingPayment{Payment: pending(clk)}, nil
	}
	ctx := context.Background()
	_, err := c.Create(ctx, booking)
	require.NoError(t, err)
	_, err = c.RequestCode(ctx)
	require.NoError(t, err)
	snap, err := c.Verify(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, model.StatusAwaitingPayment, snap.Status)
}

func TestController_ConfirmedWithoutPayment(t *testing.T) {
	ctx := context.Background()
	svc := &fakeServices{}
	c, drafts, _ := newController(t, svc)

	snap, err := c.Create(ctx, booking)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, snap.Status)
	require.NotNil(t, snap.ReservationID)
	assert.Equal(t, int64(91), *snap.ReservationID)
	assert.Equal(t, 100.0, snap.Deposit)

	snap, err = c.RequestCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOTPSent, snap.Status)
	assert.Equal(t, "https://mail.test/preview/1", snap.PreviewHandle)

	snap, err = c.Verify(ctx, " 12-34 56 ")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, snap.Status)
	assert.Equal(t, []string{"123456"}, svc.codes)

	assert.Equal(t, []model.LifecycleStatus{model.StatusCreated, model.StatusOTPSent, model.StatusConfirmed}, drafts.statuses())
	require.Equal(t, 1, drafts.clearCount())
	assert.Equal(t, []model.LifecycleStatus{model.StatusConfirmed}, drafts.clears[0])

	first := drafts.patches[0]
	require.NotNil(t, first.ReservationID)
	assert.Equal(t, int64(91), *first.ReservationID)
	assert.Equal(t, "T7", *first.TableName)
}

func TestController_CreateFailureStaysInit(t *testing.T) {
	svc := &fakeServices{create: func(model.NewReservation) (model.CreatedReservation, error) {
		return model.CreatedReservation{}, &upstream.Error{Op: "create reservation", Kind: upstream.ErrConflict, Status: 409}
	}}
	c, drafts, _ := newController(t, svc)

	snap, err := c.Create(context.Background(), booking)
	assert.ErrorIs(t, err, upstream.ErrConflict)
	assert.Equal(t, model.StatusInit, snap.Status)
	assert.Empty(t, drafts.patches)

	// the slot is released
	svc.create = nil
	_, err = c.Create(context.Background(), booking)
	assert.NoError(t, err)
}

func TestController_CreateNeedsCompleteBooking(t *testing.T) {
	c, _, _ := newController(t, &fakeServices{})
	b := booking
	b.Time = ""
	_, err := c.Create(context.Background(), b)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestController_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newController(t, &fakeServices{})

	_, err := c.RequestCode(ctx)
	assert.ErrorIs(t, err, ErrNoReservation)
	_, err = c.Verify(ctx, "1234")
	assert.ErrorIs(t, err, ErrNoReservation)

	_, err = c.Create(ctx, booking)
	require.NoError(t, err)
	_, err = c.Verify(ctx, "1234")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = c.Create(ctx, booking)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.StatusCreated, c.State().Status())
}

func TestController_CodeFormat(t *testing.T) {
	ctx := context.Background()
	svc := &fakeServices{}
	c, _, _ := newController(t, svc)
	_, err := c.Create(ctx, booking)
	require.NoError(t, err)
	_, err = c.RequestCode(ctx)
	require.NoError(t, err)

	for _, code := range []string{"", "123", "1234567", "abcd"} {
		_, err := c.Verify(ctx, code)
		assert.ErrorIs(t, err, ErrInvalidCode, code)
	}
	assert.Equal(t, model.StatusOTPSent, c.State().Status())
	assert.Empty(t, svc.codes)
}

func TestController_SecondCallWhileInFlightIsBusy(t *testing.T) {
	svc := &fakeServices{gate: make(chan struct{})}
	c, _, _ := newController(t, svc)

	done := make(chan error, 1)
	go func() {
		_, err := c.Create(context.Background(), booking)
		done <- err
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.inFlight
	}, time.Second, time.Millisecond)

	_, err := c.Create(context.Background(), booking)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.Reset(), ErrBusy)

	close(svc.gate)
	require.NoError(t, <-done)
	assert.Equal(t, model.StatusCreated, c.State().Status())
}

func TestController_PaidAppliedTwiceConfirmsOnce(t *testing.T) {
	ctx := context.Background()
	svc := &fakeServices{}
	c, drafts, clk := newController(t, svc)
	toAwaitingPayment(t, c, svc, clk)

	var confirmations int
	unsub := c.Subscribe(func(s Snapshot) {
		if s.Status == model.StatusConfirmed {
			confirmations++
		}
	})
	defer unsub()

	paid := pending(clk)
	paid.Status = model.PaymentPaid
	assert.True(t, c.ApplyPayment(ctx, paid))
	assert.False(t, c.ApplyPayment(ctx, paid))

	assert.Equal(t, model.StatusConfirmed, c.State().Status())
	assert.Equal(t, 1, confirmations)
	assert.Equal(t, 1, drafts.clearCount())
}

func TestController_PollerConfirms(t *testing.T) {
	svc := &fakeServices{}
	c, drafts, clk := newController(t, svc)
	toAwaitingPayment(t, c, svc, clk)
	assert.False(t, c.Snapshot().Polling)

	row := pending(clk)
	svc.setPayment(row)
	detach := c.Attach(upstream.WithBearer(context.Background(), "tok"))
	defer detach()
	assert.True(t, c.Snapshot().Polling)

	row.Status = model.PaymentPaid
	svc.setPayment(row)

	require.Eventually(t, func() bool {
		return c.State().Status() == model.StatusConfirmed
	}, time.Second, 5*time.Millisecond)
	assert.False(t, c.Snapshot().Polling)
	require.Eventually(t, func() bool { return drafts.clearCount() == 1 }, time.Second, 5*time.Millisecond)

	// a late push for the same fact changes nothing
	assert.False(t, c.ApplyPayment(context.Background(), row))
}

func TestController_DetachStopsPolling(t *testing.T) {
	svc := &fakeServices{}
	c, _, clk := newController(t, svc)
	toAwaitingPayment(t, c, svc, clk)
	svc.setPayment(pending(clk))

	detach := c.Attach(context.Background())
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.polls > 0
	}, time.Second, 5*time.Millisecond)

	detach()
	detach()
	assert.Equal(t, 0, c.Views())
	assert.False(t, c.Snapshot().Polling)
}

func TestController_ExpiryIsSoft(t *testing.T) {
	ctx := context.Background()
	svc := &fakeServices{}
	c, drafts, clk := newController(t, svc)
	toAwaitingPayment(t, c, svc, clk)

	snap := c.Snapshot()
	assert.True(t, snap.CanSubmitProof)
	assert.False(t, snap.CanRequestNewCode)
	assert.Equal(t, 900, snap.RemainingSeconds)
	_, err := c.RequestCode(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// the countdown reaching zero changes no state
	clk.Advance(16 * time.Minute)
	snap = c.Snapshot()
	assert.Equal(t, model.StatusAwaitingPayment, snap.Status)
	assert.Equal(t, 0, snap.RemainingSeconds)
	assert.False(t, snap.CanSubmitProof)
	assert.True(t, snap.CanRequestNewCode)

	expired := pending(clk)
	expired.Status = model.PaymentExpired
	assert.True(t, c.ApplyPayment(ctx, expired))
	assert.Equal(t, model.StatusExpired, c.State().Status())
	assert.Contains(t, drafts.statuses(), model.StatusExpired)

	snap, err = c.RequestCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOTPSent, snap.Status)
	assert.Equal(t, 2, svc.requests)
	require.NotNil(t, snap.Payment)
	assert.Equal(t, int64(5), snap.Payment.ID)
}

func TestController_SubmitProof(t *testing.T) {
	ctx := context.Background()
	svc := &fakeServices{}
	c, _, clk := newController(t, svc)

	_, err := c.SubmitProof(ctx, upstream.Proof{Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrProofNotAllowed)

	toAwaitingPayment(t, c, svc, clk)
	slip := "/uploads/slip-5.png"
	svc.proof = model.PaymentRow{ID: 5, Status: model.PaymentSubmitted, SlipImage: &slip}

	snap, err := c.SubmitProof(ctx, upstream.Proof{Filename: "slip.png", Body: strings.NewReader("x")})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingPayment, snap.Status)
	require.NotNil(t, snap.Payment)
	assert.Equal(t, model.PaymentSubmitted, snap.Payment.Status)
	assert.Equal(t, 350.0, snap.Payment.Amount)
	assert.False(t, snap.CanSubmitProof)

	_, err = c.SubmitProof(ctx, upstream.Proof{Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrProofNotAllowed)
}

func TestController_ForeignPaymentIgnored(t *testing.T) {
	svc := &fakeServices{}
	c, _, clk := newController(t, svc)
	toAwaitingPayment(t, c, svc, clk)

	assert.False(t, c.ApplyPayment(context.Background(), model.PaymentRow{ID: 6, Status: model.PaymentPaid}))
	assert.Equal(t, model.StatusAwaitingPayment, c.State().Status())
}

func TestController_ServerCancellation(t *testing.T) {
	ctx := context.Background()
	svc := &fakeServices{}
	c, drafts, clk := newController(t, svc)
	toAwaitingPayment(t, c, svc, clk)

	assert.False(t, c.ApplyReservation(ctx, 92, model.StatusCanceled))
	assert.True(t, c.ApplyReservation(ctx, 91, model.StatusCanceled))
	assert.Equal(t, model.StatusCanceled, c.State().Status())
	assert.Equal(t, model.StatusCanceled, drafts.statuses()[len(drafts.statuses())-1])
	assert.Zero(t, drafts.clearCount())

	paid := pending(clk)
	paid.Status = model.PaymentPaid
	assert.False(t, c.ApplyPayment(ctx, paid))
	assert.False(t, c.ApplyReservation(ctx, 91, model.StatusConfirmed))
	assert.Equal(t, model.StatusCanceled, c.State().Status())
}

func TestController_ResultDroppedWhenStateMovedOn(t *testing.T) {
	ctx := context.Background()
	svc := &fakeServices{}
	c, _, _ := newController(t, svc)
	_, err := c.Create(ctx, booking)
	require.NoError(t, err)
	_, err = c.RequestCode(ctx)
	require.NoError(t, err)

	svc.gate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.Verify(ctx, "123456")
		done <- err
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.inFlight
	}, time.Second, time.Millisecond)

	assert.True(t, c.ApplyReservation(ctx, 91, model.StatusCanceled))
	close(svc.gate)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, model.StatusCanceled, c.State().Status())
}

func TestController_Restore(t *testing.T) {
	svc := &fakeServices{}
	c, _, clk := newController(t, svc)
	row := pending(clk)
	rid := int64(91)

	assert.False(t, c.Restore(nil))
	assert.False(t, c.Restore(&model.BookingDraft{Date: "2026-10-20"}))

	ok := c.Restore(&model.BookingDraft{ReservationID: &rid, Status: model.StatusAwaitingPayment, Payment: &row})
	require.True(t, ok)
	snap := c.Snapshot()
	assert.Equal(t, model.StatusAwaitingPayment, snap.Status)
	assert.True(t, snap.CanSubmitProof)

	// an older step never moves the state back
	assert.False(t, c.Restore(&model.BookingDraft{ReservationID: &rid, Status: model.StatusCreated}))

	require.NoError(t, c.Reset())
	assert.True(t, c.Restore(&model.BookingDraft{ReservationID: &rid}))
	assert.Equal(t, model.StatusCreated, c.State().Status())
}

func TestController_RestoreFollowsLaterSteps(t *testing.T) {
	clk := &clock{t: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)}
	row := pending(clk)
	fresh := pending(clk)
	fresh.ID = 6
	expired := row
	expired.Status = model.PaymentExpired

	cases := []struct {
		name string
		cur  State
		next State
		want bool
	}{
		{"fresh takes anything", Init{}, OTPSent{ReservationID: 91}, true},
		{"created to code sent", Created{ReservationID: 91}, OTPSent{ReservationID: 91}, true},
		{"code sent to awaiting payment", OTPSent{ReservationID: 91}, AwaitingPayment{ReservationID: 91, Payment: row}, true},
		{"awaiting payment back to created", AwaitingPayment{ReservationID: 91, Payment: row}, Created{ReservationID: 91}, false},
		{"awaiting payment to new code", AwaitingPayment{ReservationID: 91, Payment: row}, OTPSent{ReservationID: 91, Payment: &row}, true},
		{"awaiting payment to stale code sent", AwaitingPayment{ReservationID: 91, Payment: row}, OTPSent{ReservationID: 91}, false},
		{"new code to old payment", OTPSent{ReservationID: 91, Payment: &row}, AwaitingPayment{ReservationID: 91, Payment: row}, false},
		{"new code to fresh payment", OTPSent{ReservationID: 91, Payment: &row}, AwaitingPayment{ReservationID: 91, Payment: fresh}, true},
		{"expired to new code", Expired{ReservationID: 91, Payment: &expired}, OTPSent{ReservationID: 91, Payment: &expired}, true},
		{"expired to fresh payment", Expired{ReservationID: 91, Payment: &expired}, AwaitingPayment{ReservationID: 91, Payment: fresh}, true},
		{"expired back to old payment", Expired{ReservationID: 91, Payment: &expired}, AwaitingPayment{ReservationID: 91, Payment: row}, false},
		{"to confirmed", AwaitingPayment{ReservationID: 91, Payment: row}, Confirmed{ReservationID: 91}, true},
		{"never past canceled", Canceled{ReservationID: 91}, Confirmed{ReservationID: 91}, false},
		{"other reservation while open", Created{ReservationID: 91}, Created{ReservationID: 92}, false},
		{"new reservation after canceled", Canceled{ReservationID: 91}, Created{ReservationID: 92}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, follows(tc.cur, tc.next))
		})
	}
}

func TestController_RestoreSkippedWhileInFlight(t *testing.T) {
	svc := &fakeServices{gate: make(chan struct{})}
	c, _, _ := newController(t, svc)
	rid := int64(91)

	done := make(chan error, 1)
	go func() {
		_, err := c.Create(context.Background(), booking)
		done <- err
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.inFlight
	}, time.Second, time.Millisecond)

	assert.False(t, c.Restore(&model.BookingDraft{ReservationID: &rid, Status: model.StatusOTPSent}))
	close(svc.gate)
	require.NoError(t, <-done)
	assert.Equal(t, model.StatusCreated, c.State().Status())
}

func TestController_AbandonSupersedesInFlightCall(t *testing.T) {
	svc := &fakeServices{gate: make(chan struct{})}
	c, drafts, _ := newController(t, svc)

	done := make(chan error, 1)
	go func() {
		_, err := c.Create(context.Background(), booking)
		done <- err
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.inFlight
	}, time.Second, time.Millisecond)

	c.Abandon()
	close(svc.gate)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, model.StatusInit, c.State().Status())
	assert.Empty(t, drafts.patches)

	// the slot is free again
	svc.gate = nil
	_, err := c.Create(context.Background(), booking)
	assert.NoError(t, err)
}

func TestController_NewAttemptAfterFinished(t *testing.T) {
	ctx := context.Background()
	ids := []int64{91, 92, 93}
	var n int
	svc := &fakeServices{create: func(model.NewReservation) (model.CreatedReservation, error) {
		id := ids[n]
		n++
		return model.CreatedReservation{ReservationID: id}, nil
	}}
	c, drafts, clk := newController(t, svc)

	// confirmed outright
	_, err := c.Create(ctx, booking)
	require.NoError(t, err)
	_, err = c.RequestCode(ctx)
	require.NoError(t, err)
	snap, err := c.Verify(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, snap.Status)

	snap, err = c.Create(ctx, booking)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, snap.Status)
	require.NotNil(t, snap.ReservationID)
	assert.Equal(t, int64(92), *snap.ReservationID)

	// canceled by the server while awaiting payment
	toAwaitingPaymentFrom(t, c, svc, clk)
	require.True(t, c.ApplyReservation(ctx, 92, model.StatusCanceled))

	snap, err = c.Create(ctx, booking)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, snap.Status)
	assert.Nil(t, snap.Payment)
	assert.Equal(t, int64(93), *snap.ReservationID)

	last := drafts.patches[len(drafts.patches)-1]
	assert.True(t, last.ClearPayment)
	assert.Equal(t, int64(93), *last.ReservationID)
}

// toAwaitingPaymentFrom drives c from Created to AwaitingPayment.
func toAwaitingPaymentFrom(t *testing.T, c *Controller, svc *fakeServices, clk *clock) {
	t.Helper()
	svc.verify = func(string) (model.VerifyOutcome, error) {
		return model.VerifiedAwaitingPayment{Payment: pending(clk)}, nil
	}
	ctx := context.Background()
	_, err := c.RequestCode(ctx)
	require.NoError(t, err)
	snap, err := c.Verify(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, model.StatusAwaitingPayment, snap.Status)
}
