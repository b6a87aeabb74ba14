package lifecycle

import "github.com/iliyamo/table-booking-session/internal/model"

// State is one lifecycle state.  Each variant carries exactly the data that
// is known in that state.
type State interface {
	Status() model.LifecycleStatus
}

// Init means nothing has been created on the server yet.
type Init struct{}

// Created holds a reservation the guest has not verified yet.
type Created struct {
	ReservationID int64
	Deposit       float64
	OrderTotal    float64
}

// OTPSent means a verification code is on its way.  Payment is the previous
// payment, when the code was requested again after it expired.
type OTPSent struct {
	ReservationID int64
	PreviewHandle string
	Payment       *model.PaymentRow
}

// AwaitingPayment means the code was accepted and a payment is open.
type AwaitingPayment struct {
	ReservationID int64
	Payment       model.PaymentRow
}

// Confirmed is terminal.
type Confirmed struct {
	ReservationID int64
	Payment       *model.PaymentRow
}

// Canceled is terminal.
type Canceled struct {
	ReservationID int64
}

// Expired means the payment window elapsed.  Requesting a new code leaves it.
type Expired struct {
	ReservationID int64
	Payment       *model.PaymentRow
}

func (Init) Status() model.LifecycleStatus            { return model.StatusInit }
func (Created) Status() model.LifecycleStatus         { return model.StatusCreated }
func (OTPSent) Status() model.LifecycleStatus         { return model.StatusOTPSent }
func (AwaitingPayment) Status() model.LifecycleStatus { return model.StatusAwaitingPayment }
func (Confirmed) Status() model.LifecycleStatus       { return model.StatusConfirmed }
func (Canceled) Status() model.LifecycleStatus        { return model.StatusCanceled }
func (Expired) Status() model.LifecycleStatus         { return model.StatusExpired }

// reservationOf returns the reservation id carried by s, or 0.
func reservationOf(s State) int64 {
	switch v := s.(type) {
	case Created:
		return v.ReservationID
	case OTPSent:
		return v.ReservationID
	case AwaitingPayment:
		return v.ReservationID
	case Confirmed:
		return v.ReservationID
	case Canceled:
		return v.ReservationID
	case Expired:
		return v.ReservationID
	}
	return 0
}

// paymentOf returns the payment carried by s, or nil.
func paymentOf(s State) *model.PaymentRow {
	switch v := s.(type) {
	case OTPSent:
		return v.Payment
	case AwaitingPayment:
		p := v.Payment
		return &p
	case Confirmed:
		return v.Payment
	case Expired:
		return v.Payment
	}
	return nil
}

// Snapshot is the read model of a controller at one instant.
type Snapshot struct {
	Status            model.LifecycleStatus `json:"status"`
	ReservationID     *int64                `json:"reservationId,omitempty"`
	Deposit           float64               `json:"depositAmount,omitempty"`
	OrderTotal        float64               `json:"orderTotal,omitempty"`
	PreviewHandle     string                `json:"previewUrl,omitempty"`
	Payment           *model.PaymentRow     `json:"payment,omitempty"`
	RemainingSeconds  int                   `json:"expiresIn"`
	CanSubmitProof    bool                  `json:"canUploadSlip"`
	CanRequestNewCode bool                  `json:"canRequestNewCode"`
	Polling           bool                  `json:"polling"`
}
