package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/funderhq/payments/internal/billing"
	"github.com/funderhq/payments/internal/callback"
	"github.com/funderhq/payments/internal/config"
	"github.com/funderhq/payments/internal/gateway"
	tokendomain "github.com/funderhq/payments/internal/token/domain"
	"github.com/funderhq/payments/internal/token/repository"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var memdbSeq int64

type fakePageCreator struct {
	url      string
	err      error
	requests []gateway.PaymentPageRequest
}

func (f *fakePageCreator) CreatePaymentPage(ctx context.Context, req gateway.PaymentPageRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeVerifier struct {
	err   error
	hooks []callback.Webhook
}

func (f *fakeVerifier) Process(ctx context.Context, hook callback.Webhook) error {
	f.hooks = append(f.hooks, hook)
	return f.err
}

type fakeBilling struct {
	result gateway.ChargeResult
	err    error
	tokens []*tokendomain.PaymentToken
	orders []string
}

func (f *fakeBilling) Charge(ctx context.Context, token *tokendomain.PaymentToken, amount int64, coinID int, orderID string) (gateway.ChargeResult, error) {
	f.tokens = append(f.tokens, token)
	f.orders = append(f.orders, orderID)
	if f.err != nil {
		return gateway.ChargeResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeBilling) Reconcile(ctx context.Context) (billing.Stats, error) {
	return billing.Stats{}, nil
}

type testEnv struct {
	server   *Server
	conn     *gorm.DB
	repo     tokendomain.Repository
	node     *snowflake.Node
	gateway  *fakePageCreator
	verifier *fakeVerifier
	billing  *fakeBilling
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:memdb_server_%d?mode=memory&cache=shared", atomic.AddInt64(&memdbSeq, 1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&tokendomain.PaymentToken{}, &tokendomain.BillingHistory{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	env := &testEnv{
		conn:     conn,
		repo:     repository.Provide(),
		node:     node,
		gateway:  &fakePageCreator{url: "https://pay.example/lp/abc"},
		verifier: &fakeVerifier{},
		billing:  &fakeBilling{result: gateway.ChargeResult{ResponseCode: 0, ApproveNumber: "77"}},
	}

	cfg := config.Config{
		HTTPAddr: ":0",
		Gateway: config.GatewayConfig{
			SuccessURL: "https://app.example/billing/ok",
			FailedURL:  "https://app.example/billing/failed",
		},
	}

	env.server = &Server{
		engine:     NewEngine(zap.NewNop()),
		cfg:        cfg,
		db:         conn,
		log:        zap.NewNop(),
		repo:       env.repo,
		gateway:    env.gateway,
		verifier:   env.verifier,
		billingSvc: env.billing,
		holder:     config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	}
	env.server.registerRoutes()
	return env
}

func (e *testEnv) seedToken(t *testing.T, userID, token string, active bool) *tokendomain.PaymentToken {
	t.Helper()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	item := &tokendomain.PaymentToken{
		ID:            e.node.Generate(),
		UserID:        userID,
		Token:         token,
		ApproveNumber: "123",
		IsActive:      active,
		IsVerified:    true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.repo.Insert(context.Background(), e.conn, item); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return item
}

func (e *testEnv) doJSON(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.engine.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.server.engine.ServeHTTP(rec, req)
	return rec
}

func TestInitPaymentReturnsPage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(http.MethodPost, "/api/payments/init", map[string]any{
		"userId":   "u1",
		"amount":   15050,
		"metadata": map[string]string{"plan": "monthly"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp initPaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PageURL != "https://pay.example/lp/abc" {
		t.Fatalf("pageUrl = %q", resp.PageURL)
	}
	if !strings.Contains(resp.IframeHTML, resp.PageURL) {
		t.Fatalf("iframe does not embed page url: %q", resp.IframeHTML)
	}
	ret, _ := resp.Payload["ReturnValue"].(string)
	if !strings.HasPrefix(ret, "ORDER-u1-150.50-") {
		t.Fatalf("payload ReturnValue = %q", ret)
	}
	if _, leaked := resp.Payload["APIPassword"]; leaked {
		t.Fatalf("payload must not echo the api password")
	}

	if len(env.gateway.requests) != 1 {
		t.Fatalf("gateway requests = %d", len(env.gateway.requests))
	}
	req := env.gateway.requests[0]
	if req.Amount != 15050 || req.UserID != "u1" {
		t.Fatalf("unexpected gateway request %+v", req)
	}
	if len(req.CustomFields) != 2 || req.CustomFields[0] != "u1" || req.CustomFields[1] != "monthly" {
		t.Fatalf("custom fields = %v", req.CustomFields)
	}
	if req.SuccessURL != "https://app.example/billing/ok" {
		t.Fatalf("success url not defaulted: %q", req.SuccessURL)
	}
	if req.CoinID != config.DefaultBillingConfig().DefaultCoinID {
		t.Fatalf("coin id not defaulted: %d", req.CoinID)
	}
}

func TestInitPaymentValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing user", map[string]any{"amount": 100}},
		{"zero amount", map[string]any{"userId": "u1", "amount": 0}},
		{"negative amount", map[string]any{"userId": "u1", "amount": -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.doJSON(http.MethodPost, "/api/payments/init", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if len(env.gateway.requests) != 0 {
				t.Fatalf("gateway called on invalid input")
			}
		})
	}
}

func TestInitPaymentGatewayRejection(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.err = &gateway.GatewayError{Code: 33, Description: "terminal blocked"}

	rec := env.doJSON(http.MethodPost, "/api/payments/init", map[string]any{
		"userId": "u1",
		"amount": 100,
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestCallbackAlwaysAcks(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("ResponseCode", "0")
	form.Set("Token", "tok-1")
	form.Set("lowprofilecode", "lp-9")
	form.Set("ReturnValue", "ORDER-u1-150.50-20260201030000")

	rec := env.doForm("/api/payments/callback", form)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(env.verifier.hooks) != 1 {
		t.Fatalf("verifier calls = %d", len(env.verifier.hooks))
	}
	hook := env.verifier.hooks[0]
	if hook.ResponseCode != 0 || hook.Token != "tok-1" || hook.LowProfileID != "lp-9" {
		t.Fatalf("unexpected hook %+v", hook)
	}
	if hook.ReturnValue != "ORDER-u1-150.50-20260201030000" {
		t.Fatalf("return value = %q", hook.ReturnValue)
	}
}

func TestCallbackAcksOnProcessingError(t *testing.T) {
	env := newTestEnv(t)
	env.verifier.err = errors.New("db down")

	form := url.Values{}
	form.Set("ResponseCode", "0")
	form.Set("Token", "tok-1")
	form.Set("LowProfileId", "lp-9")

	rec := env.doForm("/api/payments/callback", form)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChargeByTokenID(t *testing.T) {
	env := newTestEnv(t)
	tok := env.seedToken(t, "u1", "tok-1", true)

	rec := env.doJSON(http.MethodPost, "/api/billing/charge", map[string]any{
		"tokenId": tok.ID.String(),
		"amount":  5000,
		"orderId": "order-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp chargeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Succeeded || resp.ApproveNumber != "77" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(env.billing.tokens) != 1 || env.billing.tokens[0].ID != tok.ID {
		t.Fatalf("charge did not target the token")
	}
	if env.billing.orders[0] != "order-1" {
		t.Fatalf("order id = %q", env.billing.orders[0])
	}
}

func TestChargeResolvesActiveTokenByUser(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1", "tok-old", false)
	tok := env.seedToken(t, "u1", "tok-new", true)

	rec := env.doJSON(http.MethodPost, "/api/billing/charge", map[string]any{
		"userId": "u1",
		"amount": 5000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.billing.tokens) != 1 || env.billing.tokens[0].ID != tok.ID {
		t.Fatalf("charge did not resolve the active token")
	}
}

func TestChargeUnknownTokenIDFallsBackToUserToken(t *testing.T) {
	env := newTestEnv(t)
	tok := env.seedToken(t, "u1", "tok-1", true)
	staleID := env.node.Generate().String() // never stored

	rec := env.doJSON(http.MethodPost, "/api/billing/charge", map[string]any{
		"tokenId": staleID,
		"userId":  "u1",
		"amount":  5000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.billing.tokens) != 1 || env.billing.tokens[0].ID != tok.ID {
		t.Fatalf("charge did not fall back to the user's active token")
	}
}

func TestChargeUnknownTokenIDWithoutUserIs404(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1", "tok-1", true)
	staleID := env.node.Generate().String()

	rec := env.doJSON(http.MethodPost, "/api/billing/charge", map[string]any{
		"tokenId": staleID,
		"amount":  5000,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.billing.tokens) != 0 {
		t.Fatalf("charge attempted without a token")
	}
}

func TestChargeUnknownUserIs404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(http.MethodPost, "/api/billing/charge", map[string]any{
		"userId": "ghost",
		"amount": 5000,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.billing.tokens) != 0 {
		t.Fatalf("charge attempted without a token")
	}
}

func TestChargeValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(http.MethodPost, "/api/billing/charge", map[string]any{"amount": 100})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing ids: status = %d", rec.Code)
	}

	rec = env.doJSON(http.MethodPost, "/api/billing/charge", map[string]any{"userId": "u1", "amount": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero amount: status = %d", rec.Code)
	}
}

func TestChargeDuplicateOrderIsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1", "tok-1", true)
	env.billing.err = tokendomain.ErrDuplicateOrder

	rec := env.doJSON(http.MethodPost, "/api/billing/charge", map[string]any{
		"userId": "u1",
		"amount": 5000,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestListTokensOmitsRawToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1", "raw-secret-token", true)

	rec := env.doJSON(http.MethodGet, "/api/billing/tokens?userId=u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if strings.Contains(body, "raw-secret-token") {
		t.Fatalf("raw token leaked: %s", body)
	}
	if !strings.Contains(body, `"approve_number":"123"`) {
		t.Fatalf("token listing missing fields: %s", body)
	}
}

func TestListTokensWithoutUserIDListsAll(t *testing.T) {
	env := newTestEnv(t)
	env.seedToken(t, "u1", "tok-1", true)
	env.seedToken(t, "u2", "tok-2", true)

	rec := env.doJSON(http.MethodGet, "/api/billing/tokens", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"user_id":"u1"`) || !strings.Contains(body, `"user_id":"u2"`) {
		t.Fatalf("unfiltered listing missing users: %s", body)
	}

	rec = env.doJSON(http.MethodGet, "/api/billing/tokens?userId=u2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"user_id":"u1"`) {
		t.Fatalf("filter leaked other users: %s", rec.Body.String())
	}
}

func TestListHistory(t *testing.T) {
	env := newTestEnv(t)
	tok := env.seedToken(t, "u1", "tok-1", true)

	row := &tokendomain.BillingHistory{
		ID:          env.node.Generate(),
		UserID:      "u1",
		TokenID:     tok.ID,
		OrderID:     "order-1",
		Amount:      5000,
		Succeeded:   true,
		AttemptedAt: time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC),
		RawRequest:  `{"token":"raw-secret-token"}`,
	}
	if err := env.repo.InsertHistory(context.Background(), env.conn, row); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	rec := env.doJSON(http.MethodGet, "/api/billing/history?userId=u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"order-1"`) {
		t.Fatalf("history missing order: %s", body)
	}
	if strings.Contains(body, "raw-secret-token") {
		t.Fatalf("raw request leaked: %s", body)
	}
}

func TestListHistoryWithoutUserIDListsAll(t *testing.T) {
	env := newTestEnv(t)
	for i, userID := range []string{"u1", "u2"} {
		tok := env.seedToken(t, userID, fmt.Sprintf("tok-%d", i+1), true)
		row := &tokendomain.BillingHistory{
			ID:          env.node.Generate(),
			UserID:      userID,
			TokenID:     tok.ID,
			OrderID:     fmt.Sprintf("order-%d", i+1),
			Amount:      5000,
			Succeeded:   true,
			AttemptedAt: time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC),
		}
		if err := env.repo.InsertHistory(context.Background(), env.conn, row); err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}

	rec := env.doJSON(http.MethodGet, "/api/billing/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"order-1"`) || !strings.Contains(body, `"order-2"`) {
		t.Fatalf("unfiltered history missing rows: %s", body)
	}
}

func TestUpdateMonthlyAmount(t *testing.T) {
	env := newTestEnv(t)
	tok := env.seedToken(t, "u1", "tok-1", true)

	rec := env.doJSON(http.MethodPatch, "/api/billing/tokens/"+tok.ID.String()+"/monthly-amount", map[string]any{
		"monthlyAmount": 7000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	updated, err := env.repo.FindByID(context.Background(), env.conn, tok.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if updated.MonthlyAmount == nil || *updated.MonthlyAmount != 7000 {
		t.Fatalf("monthly amount not stored: %+v", updated.MonthlyAmount)
	}
}

func TestUpdateMonthlyAmountUnknownTokenIs404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(http.MethodPatch, "/api/billing/tokens/123456789/monthly-amount", map[string]any{
		"monthlyAmount": 7000,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateMonthlyAmountRejectsNonPositive(t *testing.T) {
	env := newTestEnv(t)
	tok := env.seedToken(t, "u1", "tok-1", true)

	rec := env.doJSON(http.MethodPatch, "/api/billing/tokens/"+tok.ID.String()+"/monthly-amount", map[string]any{
		"monthlyAmount": 0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
