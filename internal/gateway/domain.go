package gateway

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidConfig  = errors.New("gateway_invalid_config")
	ErrEmptyPageURL   = errors.New("gateway_empty_page_url")
	ErrVerifyRejected = errors.New("gateway_verify_rejected")
)

// SentinelFailureCode marks a charge that never reached the gateway
// (transport failure, timeout, unreadable response). It is reserved and
// never produced by the gateway itself.
const SentinelFailureCode = -1

// Amount is a monetary value in minor currency units (agorot/cents).
// It marshals on the wire as a decimal with up to two fraction digits,
// trailing zeros trimmed ("100", "100.5", "100.25").
type Amount int64

func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	units := v / 100
	rem := v % 100
	switch {
	case rem == 0:
		return sign + strconv.FormatInt(units, 10)
	case rem%10 == 0:
		return fmt.Sprintf("%s%d.%d", sign, units, rem/10)
	default:
		return fmt.Sprintf("%s%d.%02d", sign, units, rem)
	}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// GatewayError carries the gateway's own rejection of a payment page request.
type GatewayError struct {
	Code        int
	Description string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway_rejected code=%d description=%q", e.Code, e.Description)
}

// PaymentPageRequest describes a hosted tokenization page to create.
type PaymentPageRequest struct {
	UserID       string
	Amount       int64 // minor units
	CoinID       int
	ReturnValue  string
	SuccessURL   string
	FailedURL    string
	WebhookURL   string
	CustomFields []string
}

// VerifiedTransaction is the gateway's authoritative record of a completed
// low-profile transaction, fetched server-to-server.
type VerifiedTransaction struct {
	ResponseCode       int
	Token              string
	ApproveNumber      string
	CardType           string
	Last4              string
	CardValidityMonth  string
	CardValidityYear   string
	DealResponse       string
	ReturnValue        string
	InternalDealNumber string
	ErrorText          string
	Raw                string
}

// Verified reports whether the gateway confirmed the transaction.
func (t *VerifiedTransaction) Verified() bool {
	return t != nil && t.ResponseCode == 0
}

// ChargeRequest describes a direct charge against a stored token.
type ChargeRequest struct {
	Token   string
	Amount  int64 // minor units
	CoinID  int
	OrderID string
}

// ChargeResult is the gateway's answer to a token charge. ResponseCode 0 means
// approved; SentinelFailureCode means the request never completed.
type ChargeResult struct {
	ResponseCode       int
	Description        string
	ApproveNumber      string
	InternalDealNumber string
	DealResponse       string
	Raw                string
}

// Succeeded reports whether the gateway approved the charge.
func (r ChargeResult) Succeeded() bool {
	return r.ResponseCode == 0
}

// TransportFailure reports whether the result is the synthetic one produced
// when the gateway could not be reached at all.
func (r ChargeResult) TransportFailure() bool {
	return r.ResponseCode == SentinelFailureCode
}
