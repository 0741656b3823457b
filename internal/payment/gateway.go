// Package payment is the payment collaborator boundary.  Gateway issues
// VNPAY-style redirect URLs whose query parameters are signed with
// HMAC-SHA512 and verifies the signed callback the provider sends back.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/ticket-reservation/internal/clock"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

const (
	protocolVersion = "2.1.0"
	dateLayout      = "20060102150405"
	successCode     = "00"

	paramHash     = "vnp_SecureHash"
	paramHashType = "vnp_SecureHashType"
)

var (
	// ErrInvalidSignature means the callback was not signed with our secret.
	ErrInvalidSignature = errors.New("payment callback signature mismatch")
	// ErrMalformedCallback means a required callback field is missing or
	// unparsable.
	ErrMalformedCallback = errors.New("malformed payment callback")
)

// Config holds the merchant settings.
type Config struct {
	BaseURL      string // provider checkout endpoint
	Secret       string // HMAC key shared with the provider
	MerchantCode string
	ReturnURL    string // default callback target
	Currency     string // default "VND"
	Locale       string // default "vn"
}

// Gateway implements reservation.PaymentGateway.
type Gateway struct {
	cfg   Config
	clock clock.Clock
}

// New validates cfg and returns a Gateway.
func New(cfg Config, clk clock.Clock) (*Gateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("payment: base url required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("payment: secret required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "VND"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Gateway{cfg: cfg, clock: clk}, nil
}

// PaymentURL builds the signed checkout URL for a pending reservation.
// The amount is sent in minor units.
func (g *Gateway) PaymentURL(_ context.Context, req reservation.PaymentRequest) (string, error) {
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = g.cfg.ReturnURL
	}
	if returnURL == "" {
		return "", errors.New("payment: return url required")
	}

	params := url.Values{}
	params.Set("vnp_Version", protocolVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", g.cfg.MerchantCode)
	params.Set("vnp_Amount", minorUnits(req.Amount))
	params.Set("vnp_CurrCode", g.cfg.Currency)
	params.Set("vnp_TxnRef", strconv.FormatUint(req.ReservationID, 10))
	params.Set("vnp_OrderInfo", req.Description)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", g.cfg.Locale)
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_CreateDate", g.clock.Now().UTC().Format(dateLayout))
	if !req.ExpiresAt.IsZero() {
		params.Set("vnp_ExpireDate", req.ExpiresAt.UTC().Format(dateLayout))
	}

	query := params.Encode()
	return g.cfg.BaseURL + "?" + query + "&" + paramHash + "=" + g.sign(query), nil
}

// Callback is a verified provider response.
type Callback struct {
	ReservationID  uint64
	TransactionRef string
	Amount         decimal.Decimal
	ResponseCode   string
}

// Succeeded reports whether the provider captured the payment.
func (c Callback) Succeeded() bool { return c.ResponseCode == successCode }

// VerifyCallback checks the signature over every vnp_ parameter except
// the hash fields and extracts the reservation and transaction refs.
func (g *Gateway) VerifyCallback(params url.Values) (Callback, error) {
	got := params.Get(paramHash)
	if got == "" {
		return Callback{}, fmt.Errorf("%w: missing %s", ErrMalformedCallback, paramHash)
	}
	signed := url.Values{}
	for k, v := range params {
		if k == paramHash || k == paramHashType || !strings.HasPrefix(k, "vnp_") {
			continue
		}
		signed[k] = v
	}
	want := g.sign(signed.Encode())
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return Callback{}, ErrInvalidSignature
	}

	id, err := strconv.ParseUint(params.Get("vnp_TxnRef"), 10, 64)
	if err != nil || id == 0 {
		return Callback{}, fmt.Errorf("%w: vnp_TxnRef", ErrMalformedCallback)
	}
	cb := Callback{
		ReservationID:  id,
		TransactionRef: params.Get("vnp_TransactionNo"),
		ResponseCode:   params.Get("vnp_ResponseCode"),
	}
	if raw := params.Get("vnp_Amount"); raw != "" {
		minor, err := decimal.NewFromString(raw)
		if err != nil {
			return Callback{}, fmt.Errorf("%w: vnp_Amount", ErrMalformedCallback)
		}
		cb.Amount = minor.Shift(-2)
	}
	if cb.Succeeded() && cb.TransactionRef == "" {
		return Callback{}, fmt.Errorf("%w: vnp_TransactionNo", ErrMalformedCallback)
	}
	return cb, nil
}

// Sign exposes the signature over an encoded query, for building test
// callbacks.
func (g *Gateway) Sign(params url.Values) string { return g.sign(params.Encode()) }

func (g *Gateway) sign(query string) string {
	mac := hmac.New(sha512.New, []byte(g.cfg.Secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func minorUnits(amount decimal.Decimal) string {
	return amount.Shift(2).Round(0).StringFixed(0)
}

var _ reservation.PaymentGateway = (*Gateway)(nil)
