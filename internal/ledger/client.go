package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/funderhq/payments/internal/config"
	"go.uber.org/zap"
)

// TokenRegistration is sent to the ledger when a new verified token is stored.
type TokenRegistration struct {
	UserID        string `json:"userId"`
	Token         string `json:"token"`
	CardType      string `json:"cardType,omitempty"`
	Last4Digits   string `json:"last4Digits,omitempty"`
	MonthlyAmount *int64 `json:"monthlyAmount,omitempty"`
	Status        string `json:"status"`
	RegisteredAt  string `json:"registeredAt"`
}

// EligibleUser is one entry of the ledger's billing eligibility feed.
type EligibleUser struct {
	UserID        string `json:"userId"`
	Token         string `json:"token"`
	MonthlyAmount int64  `json:"monthlyAmount"`
	IsEligible    bool   `json:"isEligible"`
	Reason        string `json:"reason,omitempty"`
}

// BillingOutcome reports a charge result back to the ledger.
type BillingOutcome struct {
	UserID             string `json:"userId"`
	Token              string `json:"token"`
	OrderID            string `json:"orderId"`
	Amount             int64  `json:"amount"`
	CoinID             int    `json:"coinId"`
	ResponseCode       int    `json:"responseCode"`
	Description        string `json:"description,omitempty"`
	ApproveNumber      string `json:"approveNumber,omitempty"`
	InternalDealNumber string `json:"internalDealNumber,omitempty"`
	BilledAt           string `json:"billedAt"`
}

// Client talks to the external ledger API. Every operation is best-effort:
// transport and decode failures are logged and reported as a failure
// indicator, never as an error that could abort the caller's flow.
type Client struct {
	cfg  config.LedgerConfig
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg config.LedgerConfig, log *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log.Named("ledger.client"),
	}
}

// NotifyTokenRegistered tells the ledger a verified token was stored.
func (c *Client) NotifyTokenRegistered(ctx context.Context, reg TokenRegistration) bool {
	return c.post(ctx, c.cfg.TokenRegisteredPath, reg, "notify token registered")
}

// EligibleUsers fetches the users currently eligible for a monthly charge.
// Any failure yields nil so the reconciler simply bills nothing this run.
func (c *Client) EligibleUsers(ctx context.Context) []EligibleUser {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		c.log.Warn("ledger base url not configured")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.cfg.EligiblePath), nil)
	if err != nil {
		c.log.Warn("build eligibility request", zap.Error(err))
		return nil
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("fetch eligibility feed", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.log.Warn("eligibility feed rejected", zap.Int("status", resp.StatusCode))
		return nil
	}

	var users []EligibleUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		c.log.Warn("decode eligibility feed", zap.Error(err))
		return nil
	}
	return users
}

// NotifyBillingSuccess reports an approved charge to the ledger.
func (c *Client) NotifyBillingSuccess(ctx context.Context, outcome BillingOutcome) bool {
	return c.post(ctx, c.cfg.BillingSuccessPath, outcome, "notify billing success")
}

// NotifyBillingFailed reports a declined or failed charge to the ledger.
func (c *Client) NotifyBillingFailed(ctx context.Context, outcome BillingOutcome) bool {
	return c.post(ctx, c.cfg.BillingFailedPath, outcome, "notify billing failed")
}

func (c *Client) post(ctx context.Context, path string, payload any, op string) bool {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		c.log.Warn("ledger base url not configured", zap.String("op", op))
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("encode ledger payload", zap.String("op", op), zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		c.log.Warn("build ledger request", zap.String("op", op), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("ledger request failed", zap.String("op", op), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.log.Warn("ledger request rejected", zap.String("op", op), zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
