// Package upstream talks to the restaurant's reservation, payment and table
// services.  It only moves data; deciding what a response means for the
// booking session is left to the callers.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/model"
)

// Services is the set of upstream operations the booking session consumes.
type Services interface {
	CreateReservation(ctx context.Context, req model.NewReservation) (model.CreatedReservation, error)
	RequestCode(ctx context.Context, reservationID int64) (previewHandle string, err error)
	VerifyCode(ctx context.Context, reservationID int64, code string) (model.VerifyOutcome, error)
	GetPayment(ctx context.Context, paymentID int64) (model.PaymentRow, error)
	SubmitProof(ctx context.Context, paymentID int64, proof Proof) (model.PaymentRow, error)
	ListReservations(ctx context.Context, date string) ([]model.ReservationInterval, error)
	ListTables(ctx context.Context) ([]model.Table, error)
	GetGrid(ctx context.Context) (model.GridSize, error)
}

// Proof is an uploaded proof-of-payment image.
type Proof struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Client is the HTTP implementation of Services.
type Client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

// NewClient returns a Client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

func (c *Client) CreateReservation(ctx context.Context, req model.NewReservation) (model.CreatedReservation, error) {
	var out model.CreatedReservation
	err := c.doJSON(ctx, "create reservation", http.MethodPost, "/reservations", req, &out)
	return out, err
}

func (c *Client) RequestCode(ctx context.Context, reservationID int64) (string, error) {
	var out struct {
		PreviewURL string `json:"previewUrl"`
	}
	path := "/reservations/" + strconv.FormatInt(reservationID, 10) + "/request-otp"
	if err := c.doJSON(ctx, "request code", http.MethodPost, path, struct{}{}, &out); err != nil {
		return "", err
	}
	return out.PreviewURL, nil
}

func (c *Client) VerifyCode(ctx context.Context, reservationID int64, code string) (model.VerifyOutcome, error) {
	var out struct {
		Status  model.LifecycleStatus `json:"status"`
		Payment *model.PaymentRow     `json:"payment"`
	}
	path := "/reservations/" + strconv.FormatInt(reservationID, 10) + "/verify-otp"
	body := map[string]string{"code": code}
	if err := c.doJSON(ctx, "verify code", http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	switch out.Status {
	case model.StatusConfirmed:
		return model.VerifiedConfirmed{}, nil
	case model.StatusAwaitingPayment:
		if out.Payment == nil {
			return nil, &Error{Op: "verify code", Kind: ErrTransient, Message: "awaiting payment without payment"}
		}
		return model.VerifiedAwaitingPayment{Payment: *out.Payment}, nil
	default:
		return nil, &Error{Op: "verify code", Kind: ErrTransient, Message: fmt.Sprintf("unexpected status %q", out.Status)}
	}
}

func (c *Client) GetPayment(ctx context.Context, paymentID int64) (model.PaymentRow, error) {
	var out model.PaymentRow
	err := c.doJSON(ctx, "get payment", http.MethodGet, "/payment/"+strconv.FormatInt(paymentID, 10), nil, &out)
	return out, err
}

func (c *Client) SubmitProof(ctx context.Context, paymentID int64, proof Proof) (model.PaymentRow, error) {
	const op = "submit proof"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := proof.Filename
	if name == "" {
		name = "slip"
	}
	part, err := mw.CreateFormFile("slip", name)
	if err != nil {
		return model.PaymentRow{}, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := io.Copy(part, proof.Body); err != nil {
		return model.PaymentRow{}, fmt.Errorf("%s: read slip: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return model.PaymentRow{}, fmt.Errorf("%s: %w", op, err)
	}

	var out struct {
		Payment model.PaymentRow `json:"payment"`
	}
	path := "/payment/" + strconv.FormatInt(paymentID, 10) + "/slip"
	if err := c.do(ctx, op, http.MethodPost, path, &buf, mw.FormDataContentType(), &out); err != nil {
		return model.PaymentRow{}, err
	}
	return out.Payment, nil
}

func (c *Client) ListReservations(ctx context.Context, date string) ([]model.ReservationInterval, error) {
	var out struct {
		Data []model.ReservationInterval `json:"data"`
	}
	q := url.Values{"date": {date}, "includeCanceled": {"0"}}
	if err := c.doJSON(ctx, "list reservations", http.MethodGet, "/reservation?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) ListTables(ctx context.Context) ([]model.Table, error) {
	var out []model.Table
	err := c.doJSON(ctx, "list tables", http.MethodGet, "/tables", nil, &out)
	return out, err
}

func (c *Client) GetGrid(ctx context.Context) (model.GridSize, error) {
	var out model.GridSize
	err := c.doJSON(ctx, "get grid", http.MethodGet, "/grid", nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, body, contentType, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := BearerFrom(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("upstream call failed", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Kind: ErrTransient, Message: err.Error()}
	}
	defer resp.Body.Close()
	c.log.Debug("upstream call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &Error{Op: op, Kind: ErrTransient, Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode >= 300 {
		return &Error{Op: op, Kind: kindFor(resp.StatusCode), Status: resp.StatusCode, Message: serverMessage(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, Kind: ErrTransient, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// serverMessage pulls {"message": ...} (or {"error": ...}) out of an error
// body.
func serverMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// IsRetryable reports whether err is worth retrying on user request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
