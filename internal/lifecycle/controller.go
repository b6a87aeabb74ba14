// Package lifecycle drives one reservation attempt from creation through
// code verification and payment to a terminal state.
//
// User-initiated transitions (create, request code, verify, submit proof)
// are strictly sequential: a second one while the first is in flight fails
// with ErrBusy.  Payment updates arrive from two producers, the poller and
// the real-time channel, and both feed the same idempotent merge, so the
// confirmation side effects run once no matter who delivers PAID first.
package lifecycle

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/model"
	"github.com/iliyamo/table-booking-session/internal/upstream"
)

// Services is the part of the upstream API the controller calls.
type Services interface {
	CreateReservation(ctx context.Context, req model.NewReservation) (model.CreatedReservation, error)
	RequestCode(ctx context.Context, reservationID int64) (string, error)
	VerifyCode(ctx context.Context, reservationID int64, code string) (model.VerifyOutcome, error)
	GetPayment(ctx context.Context, paymentID int64) (model.PaymentRow, error)
	SubmitProof(ctx context.Context, paymentID int64, proof upstream.Proof) (model.PaymentRow, error)
}

// Drafts is where the controller mirrors its progress so a returning page
// can resume.
type Drafts interface {
	Write(ctx context.Context, patch model.DraftPatch) (model.BookingDraft, error)
	ClearIfTerminal(ctx context.Context, statuses ...model.LifecycleStatus) (bool, error)
}

// Config tunes the controller.  Zero fields take the defaults.
type Config struct {
	PollInterval  time.Duration // default 4s
	Tick          time.Duration // default 1s
	MinCodeLength int           // default 4
	MaxCodeLength int           // default 6
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 4 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.MinCodeLength <= 0 {
		c.MinCodeLength = 4
	}
	if c.MaxCodeLength < c.MinCodeLength {
		c.MaxCodeLength = 6
	}
	return c
}

// Booking is what is needed to create a reservation.
type Booking struct {
	TableID   model.ID
	TableName string
	Date      string
	Time      string
	PartySize int
	Items     []model.OrderLine
}

// Controller is the lifecycle state machine of one browser profile.
type Controller struct {
	svc    Services
	drafts Drafts
	cfg    Config
	now    func() time.Time
	log    *zap.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	inFlight  bool
	views     int
	watchBase context.Context
	stopWatch context.CancelFunc
	nextSub   int
	subs      map[int]func(Snapshot)
}

// Option customises a Controller.
type Option func(*Controller)

func WithConfig(cfg Config) Option         { return func(c *Controller) { c.cfg = cfg.withDefaults() } }
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }
func WithLogger(l *zap.Logger) Option       { return func(c *Controller) { c.log = l } }

// New returns a Controller in Init.
func New(svc Services, drafts Drafts, opts ...Option) *Controller {
	c := &Controller{
		svc:    svc,
		drafts: drafts,
		cfg:    Config{}.withDefaults(),
		now:    time.Now,
		log:    zap.NewNop(),
		state:  Init{},
		subs:   make(map[int]func(Snapshot)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current read model.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change and, while
// a payment is open and a view is attached, on every countdown tick.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Create asks the server to create a reservation.  It starts from Init or
// from a finished (confirmed or canceled) attempt.  On failure the
// controller keeps its state.
func (c *Controller) Create(ctx context.Context, b Booking) (Snapshot, error) {
	if b.TableID == "" || b.Date == "" || b.Time == "" || b.PartySize <= 0 {
		return c.Snapshot(), ErrIncomplete
	}
	gen, _, err := c.begin(func(s State) error {
		if _, ok := s.(Init); ok || s.Status().Terminal() {
			return nil
		}
		return ErrInvalidTransition
	})
	if err != nil {
		return c.Snapshot(), err
	}

	res, err := c.svc.CreateReservation(ctx, model.NewReservation{
		TableID:   b.TableID,
		Date:      b.Date,
		Time:      b.Time,
		PartySize: b.PartySize,
		Items:     b.Items,
	})
	if err != nil {
		return c.abort(err)
	}

	next := Created{ReservationID: res.ReservationID, Deposit: res.DepositAmount, OrderTotal: res.OrderTotal}
	snap, err := c.finish(gen, next)
	if err != nil {
		return snap, err
	}
	c.log.Info("reservation created", zap.Int64("reservation_id", res.ReservationID))
	c.mirror(ctx, model.DraftPatch{
		Date:          &b.Date,
		Time:          &b.Time,
		PartySize:     &b.PartySize,
		TableID:       &b.TableID,
		TableName:     nonEmpty(b.TableName),
		ReservationID: &res.ReservationID,
		Status:        model.Ptr(model.StatusCreated),
		ClearPayment:  true,
	})
	return snap, nil
}

// RequestCode asks for a verification code.  It may be repeated, and from
// AwaitingPayment it is allowed once the payment window has elapsed.
func (c *Controller) RequestCode(ctx context.Context) (Snapshot, error) {
	gen, prev, err := c.begin(func(s State) error {
		switch s.(type) {
		case Init:
			return ErrNoReservation
		case Created, OTPSent, Expired:
			return nil
		case AwaitingPayment:
			if c.canRequestNewCodeLocked() {
				return nil
			}
		}
		return ErrInvalidTransition
	})
	if err != nil {
		return c.Snapshot(), err
	}

	rid := reservationOf(prev)
	handle, err := c.svc.RequestCode(ctx, rid)
	if err != nil {
		return c.abort(err)
	}

	snap, err := c.finish(gen, OTPSent{ReservationID: rid, PreviewHandle: handle, Payment: paymentOf(prev)})
	if err != nil {
		return snap, err
	}
	c.log.Info("verification code requested", zap.Int64("reservation_id", rid))
	c.mirror(ctx, model.DraftPatch{Status: model.Ptr(model.StatusOTPSent)})
	return snap, nil
}

// Verify submits the code the guest typed.  Non-digits are ignored.
func (c *Controller) Verify(ctx context.Context, code string) (Snapshot, error) {
	code = digitsOnly(code)
	if len(code) < c.cfg.MinCodeLength || len(code) > c.cfg.MaxCodeLength {
		return c.Snapshot(), ErrInvalidCode
	}
	gen, prev, err := c.begin(func(s State) error {
		switch s.(type) {
		case Init:
			return ErrNoReservation
		case OTPSent:
			return nil
		}
		return ErrInvalidTransition
	})
	if err != nil {
		return c.Snapshot(), err
	}

	rid := reservationOf(prev)
	out, err := c.svc.VerifyCode(ctx, rid, code)
	if err != nil {
		return c.abort(err)
	}

	var next State
	switch v := out.(type) {
	case model.VerifiedAwaitingPayment:
		if v.Payment.Status == model.PaymentPaid {
			p := v.Payment
			next = Confirmed{ReservationID: rid, Payment: &p}
		} else {
			next = AwaitingPayment{ReservationID: rid, Payment: v.Payment}
		}
	default:
		next = Confirmed{ReservationID: rid}
	}

	snap, err := c.finish(gen, next)
	if err != nil {
		return snap, err
	}
	c.effects(ctx, prev, next)
	return snap, nil
}

// SubmitProof uploads proof of payment and merges the returned payment.
func (c *Controller) SubmitProof(ctx context.Context, proof upstream.Proof) (Snapshot, error) {
	_, prev, err := c.begin(func(State) error {
		if !c.canSubmitProofLocked() {
			return ErrProofNotAllowed
		}
		return nil
	})
	if err != nil {
		return c.Snapshot(), err
	}

	row, err := c.svc.SubmitProof(ctx, paymentOf(prev).ID, proof)
	if err != nil {
		return c.abort(err)
	}
	c.release()
	c.ApplyPayment(ctx, row)
	return c.Snapshot(), nil
}

// ApplyPayment merges a payment update from the poller or the real-time
// channel.  It reports whether anything changed.  Updates for a payment the
// controller does not hold, and updates after a terminal state, are ignored.
func (c *Controller) ApplyPayment(ctx context.Context, row model.PaymentRow) bool {
	c.mu.Lock()
	prev := c.state
	next, ok := mergePayment(prev, row)
	if !ok {
		c.mu.Unlock()
		return false
	}
	snap, subs := c.setLocked(next)
	c.mu.Unlock()

	c.publish(snap, subs)
	c.effects(context.WithoutCancel(ctx), prev, next)
	return true
}

// ApplyReservation applies a server-side reservation status change pushed
// over the real-time channel.
func (c *Controller) ApplyReservation(ctx context.Context, reservationID int64, status model.LifecycleStatus) bool {
	c.mu.Lock()
	prev := c.state
	if reservationID == 0 || reservationOf(prev) != reservationID || prev.Status().Terminal() {
		c.mu.Unlock()
		return false
	}
	var next State
	switch status {
	case model.StatusCanceled:
		next = Canceled{ReservationID: reservationID}
	case model.StatusConfirmed:
		next = Confirmed{ReservationID: reservationID, Payment: paymentOf(prev)}
	case model.StatusExpired:
		if _, ok := prev.(AwaitingPayment); ok {
			next = Expired{ReservationID: reservationID, Payment: paymentOf(prev)}
		}
	}
	if next == nil {
		c.mu.Unlock()
		return false
	}
	snap, subs := c.setLocked(next)
	c.mu.Unlock()

	c.publish(snap, subs)
	c.effects(context.WithoutCancel(ctx), prev, next)
	return true
}

// Restore brings the controller in line with a stored draft, which another
// tab or instance may have moved on.  A fresh controller takes the draft as
// is.  Otherwise the draft is followed only when it is a later step of the
// same reservation, or a new reservation after this one finished; a draft
// that lags behind the controller is ignored.
func (c *Controller) Restore(d *model.BookingDraft) bool {
	if d == nil || d.ReservationID == nil {
		return false
	}
	next := stateFromDraft(*d.ReservationID, d)

	c.mu.Lock()
	if c.inFlight || !follows(c.state, next) {
		c.mu.Unlock()
		return false
	}
	prev := c.state
	snap, subs := c.setLocked(next)
	c.mu.Unlock()
	c.publish(snap, subs)
	c.log.Debug("lifecycle restored",
		zap.Int64("reservation_id", *d.ReservationID),
		zap.String("from", string(prev.Status())),
		zap.String("status", string(next.Status())),
	)
	return true
}

func stateFromDraft(rid int64, d *model.BookingDraft) State {
	switch d.Status {
	case model.StatusOTPSent:
		return OTPSent{ReservationID: rid, Payment: d.Payment}
	case model.StatusAwaitingPayment:
		if d.Payment == nil {
			return OTPSent{ReservationID: rid}
		}
		return AwaitingPayment{ReservationID: rid, Payment: *d.Payment}
	case model.StatusExpired:
		return Expired{ReservationID: rid, Payment: d.Payment}
	case model.StatusConfirmed:
		return Confirmed{ReservationID: rid, Payment: d.Payment}
	case model.StatusCanceled:
		return Canceled{ReservationID: rid}
	}
	return Created{ReservationID: rid}
}

// follows reports whether next is ahead of cur.  The draft is written right
// after every local transition, so it is at most one step behind; the
// payment id tells the two apart where the lifecycle loops through a new
// code.
func follows(cur, next State) bool {
	if _, fresh := cur.(Init); fresh {
		return true
	}
	if reservationOf(cur) != reservationOf(next) {
		return cur.Status().Terminal()
	}
	if cur.Status().Terminal() || cur.Status() == next.Status() {
		return false
	}
	if next.Status().Terminal() {
		return true
	}
	nextPay := paymentID(paymentOf(next))
	switch v := cur.(type) {
	case Created:
		return true
	case OTPSent:
		// a payment equal to the one carried from the elapsed window is stale
		return v.Payment == nil || nextPay != v.Payment.ID
	case AwaitingPayment:
		switch next.(type) {
		case OTPSent, Expired:
			return nextPay == v.Payment.ID
		}
	case Expired:
		switch next.(type) {
		case OTPSent:
			return v.Payment == nil || nextPay == v.Payment.ID
		case AwaitingPayment:
			return v.Payment == nil || nextPay != v.Payment.ID
		}
	}
	return false
}

func paymentID(p *model.PaymentRow) int64 {
	if p == nil {
		return 0
	}
	return p.ID
}

// Reset abandons the current attempt and returns to Init.  It fails with
// ErrBusy while a call is in flight.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	snap, subs := c.setLocked(Init{})
	c.mu.Unlock()
	c.publish(snap, subs)
	return nil
}

// Abandon returns to Init even while a call is in flight.  The pending call
// then finishes with ErrSuperseded and writes nothing to the draft.  It is
// used when a different user takes over the profile.
func (c *Controller) Abandon() {
	c.mu.Lock()
	c.gen++
	snap, subs := c.setLocked(Init{})
	c.mu.Unlock()
	c.publish(snap, subs)
}

// begin claims the in-flight slot after check accepts the current state.
func (c *Controller) begin(check func(State) error) (uint64, State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return 0, nil, ErrBusy
	}
	if err := check(c.state); err != nil {
		return 0, nil, err
	}
	c.inFlight = true
	return c.gen, c.state, nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// abort releases the slot and returns err unchanged with the untouched
// state.
func (c *Controller) abort(err error) (Snapshot, error) {
	c.release()
	c.log.Debug("lifecycle call failed", zap.Error(err))
	return c.Snapshot(), err
}

// finish applies next unless the state moved on while the call was in
// flight.
func (c *Controller) finish(gen uint64, next State) (Snapshot, error) {
	c.mu.Lock()
	c.inFlight = false
	if c.gen != gen {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.log.Info("dropping stale result", zap.String("would_be", string(next.Status())), zap.String("status", string(snap.Status)))
		return snap, ErrSuperseded
	}
	snap, subs := c.setLocked(next)
	c.mu.Unlock()
	c.publish(snap, subs)
	return snap, nil
}

// setLocked installs next, starts or stops the payment watch accordingly and
// returns what to publish.  The generation only moves when the status does,
// so payment field merges do not invalidate in-flight user calls.
func (c *Controller) setLocked(next State) (Snapshot, []func(Snapshot)) {
	if next.Status() != c.state.Status() {
		c.gen++
	}
	c.state = next
	_, paying := next.(AwaitingPayment)
	switch {
	case paying && c.views > 0 && c.stopWatch == nil:
		c.startWatchLocked()
	case !paying && c.stopWatch != nil:
		c.stopWatch()
		c.stopWatch = nil
	}
	return c.snapshotLocked(), c.subsLocked()
}

func (c *Controller) subsLocked() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}

func (c *Controller) publish(snap Snapshot, subs []func(Snapshot)) {
	for _, fn := range subs {
		fn(snap)
	}
}

// effects mirrors a transition into the draft.  It runs once per
// transition, outside the lock.
func (c *Controller) effects(ctx context.Context, prev, next State) {
	switch n := next.(type) {
	case Confirmed:
		c.log.Info("reservation confirmed", zap.Int64("reservation_id", n.ReservationID))
		c.mirror(ctx, model.DraftPatch{Status: model.Ptr(model.StatusConfirmed), Payment: n.Payment})
		if _, err := c.drafts.ClearIfTerminal(ctx, model.StatusConfirmed); err != nil {
			c.log.Warn("clear confirmed draft failed", zap.Error(err))
		}
	case Canceled:
		c.log.Info("reservation canceled", zap.Int64("reservation_id", n.ReservationID))
		c.mirror(ctx, model.DraftPatch{Status: model.Ptr(model.StatusCanceled)})
	case Expired:
		if _, was := prev.(Expired); !was {
			c.log.Info("payment window elapsed", zap.Int64("reservation_id", n.ReservationID))
		}
		c.mirror(ctx, model.DraftPatch{Status: model.Ptr(model.StatusExpired), Payment: n.Payment})
	case AwaitingPayment:
		p := n.Payment
		c.mirror(ctx, model.DraftPatch{Status: model.Ptr(model.StatusAwaitingPayment), Payment: &p})
	}
}

func (c *Controller) mirror(ctx context.Context, patch model.DraftPatch) {
	if c.drafts == nil {
		return
	}
	if _, err := c.drafts.Write(ctx, patch); err != nil {
		c.log.Warn("mirror to draft failed", zap.Error(err))
	}
}

// mergePayment is the single merge both payment producers go through.
func mergePayment(s State, row model.PaymentRow) (State, bool) {
	switch v := s.(type) {
	case AwaitingPayment:
		if row.ID != 0 && row.ID != v.Payment.ID {
			return s, false
		}
		merged := v.Payment.Merge(row)
		switch merged.Status {
		case model.PaymentPaid:
			return Confirmed{ReservationID: v.ReservationID, Payment: &merged}, true
		case model.PaymentExpired:
			return Expired{ReservationID: v.ReservationID, Payment: &merged}, true
		}
		if merged.Equal(v.Payment) {
			return s, false
		}
		return AwaitingPayment{ReservationID: v.ReservationID, Payment: merged}, true
	case Expired:
		if v.Payment == nil || (row.ID != 0 && row.ID != v.Payment.ID) {
			return s, false
		}
		merged := v.Payment.Merge(row)
		if merged.Status == model.PaymentPaid {
			return Confirmed{ReservationID: v.ReservationID, Payment: &merged}, true
		}
		if merged.Equal(*v.Payment) {
			return s, false
		}
		return Expired{ReservationID: v.ReservationID, Payment: &merged}, true
	case OTPSent:
		// a late payment for the previous window still confirms
		if v.Payment != nil && row.ID == v.Payment.ID && row.Status == model.PaymentPaid {
			merged := v.Payment.Merge(row)
			return Confirmed{ReservationID: v.ReservationID, Payment: &merged}, true
		}
	}
	return s, false
}

func (c *Controller) snapshotLocked() Snapshot {
	now := c.now()
	snap := Snapshot{
		Status:            c.state.Status(),
		CanSubmitProof:    c.canSubmitProofLocked(),
		CanRequestNewCode: c.canRequestNewCodeLocked(),
		Polling:           c.stopWatch != nil,
	}
	if rid := reservationOf(c.state); rid != 0 {
		snap.ReservationID = &rid
	}
	switch v := c.state.(type) {
	case Created:
		snap.Deposit, snap.OrderTotal = v.Deposit, v.OrderTotal
	case OTPSent:
		snap.PreviewHandle = v.PreviewHandle
	}
	if p := paymentOf(c.state); p != nil {
		cp := *p
		snap.Payment = &cp
		snap.RemainingSeconds = int(p.Remaining(now) / time.Second)
	}
	return snap
}

// canSubmitProofLocked: a pending or expired payment with no slip whose
// countdown has not reached zero.
func (c *Controller) canSubmitProofLocked() bool {
	var p *model.PaymentRow
	switch v := c.state.(type) {
	case AwaitingPayment:
		p = &v.Payment
	case Expired:
		p = v.Payment
	}
	if p == nil || p.HasSlip() {
		return false
	}
	if p.Status != model.PaymentPending && p.Status != model.PaymentExpired {
		return false
	}
	return p.ExpiresAt == nil || p.Remaining(c.now()) > 0
}

func (c *Controller) canRequestNewCodeLocked() bool {
	switch v := c.state.(type) {
	case Created, OTPSent, Expired:
		return true
	case AwaitingPayment:
		if v.Payment.Status == model.PaymentExpired {
			return true
		}
		return v.Payment.ExpiresAt != nil && v.Payment.Remaining(c.now()) == 0
	}
	return false
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
