package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/funderhq/payments/internal/config"
	"github.com/funderhq/payments/internal/metrics"
	"go.uber.org/zap"
)

const (
	operationCreateTokenOnly = "CreateTokenOnly"
	operationChargeToken     = "4"

	maxCustomFields      = 25
	maxCustomFieldLength = 50
)

// Client talks to the card gateway's low-profile API.
type Client struct {
	cfg     config.GatewayConfig
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewClient builds a gateway client with a bounded request timeout.
func NewClient(cfg config.GatewayConfig, log *zap.Logger, m *metrics.Metrics) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		log:     log.Named("gateway.client"),
		metrics: m,
	}
}

type paymentPagePayload struct {
	TerminalNumber    string   `json:"TerminalNumber"`
	ApiName           string   `json:"ApiName"`
	Operation         string   `json:"Operation"`
	Amount            Amount   `json:"Amount"`
	ISOCoinId         int      `json:"ISOCoinId"`
	ReturnValue       string   `json:"ReturnValue"`
	SuccessRedirectUrl string  `json:"SuccessRedirectUrl,omitempty"`
	FailedRedirectUrl string   `json:"FailedRedirectUrl,omitempty"`
	WebHookUrl        string   `json:"WebHookUrl"`
	CustomFields      []string `json:"CustomFields,omitempty"`
	APIPassword       string   `json:"APIPassword"`
}

type paymentPageResponse struct {
	ResponseCode int    `json:"ResponseCode"`
	Description  string `json:"Description"`
	Url          string `json:"Url"`
	LowProfileId string `json:"LowProfileId"`
}

// CreatePaymentPage asks the gateway for a hosted tokenization page and
// returns its URL.
func (c *Client) CreatePaymentPage(ctx context.Context, req PaymentPageRequest) (string, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" || strings.TrimSpace(c.cfg.TerminalNumber) == "" {
		return "", ErrInvalidConfig
	}

	fields := req.CustomFields
	if len(fields) > maxCustomFields {
		fields = fields[:maxCustomFields]
	}
	trimmed := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > maxCustomFieldLength {
			f = f[:maxCustomFieldLength]
		}
		trimmed = append(trimmed, f)
	}

	payload := paymentPagePayload{
		TerminalNumber:     c.cfg.TerminalNumber,
		ApiName:            c.cfg.APIName,
		Operation:          operationCreateTokenOnly,
		Amount:             Amount(req.Amount),
		ISOCoinId:          req.CoinID,
		ReturnValue:        req.ReturnValue,
		SuccessRedirectUrl: req.SuccessURL,
		FailedRedirectUrl:  req.FailedURL,
		WebHookUrl:         c.webhookURL(req.WebhookURL),
		CustomFields:       trimmed,
		APIPassword:        c.cfg.APIPassword,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	start := time.Now()
	raw, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.PaymentPage), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	})
	c.metrics.ObserveGatewayLatency("create_payment_page", time.Since(start))
	if err != nil {
		return "", err
	}

	var resp paymentPageResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode payment page response: %w", err)
	}
	if resp.ResponseCode != 0 {
		return "", &GatewayError{Code: resp.ResponseCode, Description: resp.Description}
	}
	if strings.TrimSpace(resp.Url) == "" {
		return "", ErrEmptyPageURL
	}
	return resp.Url, nil
}

// VerifyByReference fetches the authoritative transaction record for a
// low-profile id, server to server. The caller inspects ResponseCode; a
// gateway-side rejection is data, not an error.
func (c *Client) VerifyByReference(ctx context.Context, lowProfileID string) (*VerifiedTransaction, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" || strings.TrimSpace(c.cfg.TerminalNumber) == "" {
		return nil, ErrInvalidConfig
	}

	values := url.Values{}
	values.Set("TerminalNumber", c.cfg.TerminalNumber)
	values.Set("UserName", c.cfg.APIName)
	values.Set("LowProfileId", lowProfileID)
	values.Set("APIPassword", c.cfg.APIPassword)
	encoded := values.Encode()

	start := time.Now()
	raw, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.VerifyPath), strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return httpReq, nil
	})
	c.metrics.ObserveGatewayLatency("verify_by_reference", time.Since(start))
	if err != nil {
		return nil, err
	}

	fields := parseQueryBody(string(raw))
	tx := &VerifiedTransaction{
		ResponseCode:       atoiDefault(fields["responsecode"], SentinelFailureCode),
		Token:              fields["token"],
		ApproveNumber:      fields["approvenumber"],
		CardType:           fields["cardtype"],
		Last4:              fields["l4digit"],
		CardValidityMonth:  fields["cardvaliditymonth"],
		CardValidityYear:   fields["cardvalidityyear"],
		DealResponse:       fields["dealresponse"],
		ReturnValue:        fields["returnvalue"],
		InternalDealNumber: fields["internaldealnumber"],
		ErrorText:          fields["errortext"],
		Raw:                string(raw),
	}
	return tx, nil
}

// ChargeToken charges a stored token. It never returns an error: a request
// that cannot complete yields a synthetic result carrying SentinelFailureCode
// so callers always record an outcome.
func (c *Client) ChargeToken(ctx context.Context, req ChargeRequest) ChargeResult {
	values := url.Values{}
	values.Set("TerminalNumber", c.cfg.TerminalNumber)
	values.Set("UserName", c.cfg.APIName)
	values.Set("Operation", operationChargeToken)
	values.Set("Token", req.Token)
	values.Set("Sum", Amount(req.Amount).String())
	values.Set("CoinID", strconv.Itoa(req.CoinID))
	values.Set("Order", req.OrderID)
	values.Set("APIPassword", c.cfg.APIPassword)
	encoded := values.Encode()

	start := time.Now()
	raw, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.ChargePath), strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return httpReq, nil
	})
	c.metrics.ObserveGatewayLatency("charge_token", time.Since(start))
	if err != nil {
		c.log.Warn("charge request failed in transport",
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
		return ChargeResult{
			ResponseCode: SentinelFailureCode,
			Description:  err.Error(),
		}
	}

	fields := parseQueryBody(string(raw))
	return ChargeResult{
		ResponseCode:       atoiDefault(fields["responsecode"], SentinelFailureCode),
		Description:        fields["description"],
		ApproveNumber:      fields["approvenumber"],
		InternalDealNumber: fields["internaldealnumber"],
		DealResponse:       fields["dealresponse"],
		Raw:                string(raw),
	}
}

// doWithRetry performs the request, retrying transport errors and 5xx up to
// the configured attempt count with linear backoff.
func (c *Client) doWithRetry(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	attempts := c.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * 200 * time.Millisecond):
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("gateway returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}
		return body, nil
	}
	return nil, lastErr
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) webhookURL(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return c.cfg.CallbackURL
}

// parseQueryBody parses the gateway's query-string response body into a map
// keyed by lowercased field name.
func parseQueryBody(body string) map[string]string {
	fields := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(body), "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		fields[key] = value
	}
	return fields
}

func atoiDefault(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}
