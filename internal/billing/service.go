package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/funderhq/payments/internal/clock"
	"github.com/funderhq/payments/internal/config"
	"github.com/funderhq/payments/internal/gateway"
	"github.com/funderhq/payments/internal/ledger"
	"github.com/funderhq/payments/internal/metrics"
	"github.com/funderhq/payments/internal/token/domain"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service charges stored tokens idempotently and reconciles monthly billing
// against the ledger's eligibility feed.
type Service interface {
	Charge(ctx context.Context, token *domain.PaymentToken, amount int64, coinID int, orderID string) (gateway.ChargeResult, error)
	Reconcile(ctx context.Context) (Stats, error)
}

// Stats summarizes one reconciliation run.
type Stats struct {
	Billed  int
	Skipped int
}

type tokenCharger interface {
	ChargeToken(ctx context.Context, req gateway.ChargeRequest) gateway.ChargeResult
}

type ledgerAPI interface {
	EligibleUsers(ctx context.Context) []ledger.EligibleUser
	NotifyBillingSuccess(ctx context.Context, outcome ledger.BillingOutcome) bool
	NotifyBillingFailed(ctx context.Context, outcome ledger.BillingOutcome) bool
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Gateway *gateway.Client
	Ledger  *ledger.Client
	Holder  *config.BillingConfigHolder
	Metrics *metrics.Metrics
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	gateway tokenCharger
	ledger  ledgerAPI
	holder  *config.BillingConfigHolder
	metrics *metrics.Metrics
}

func NewService(p Params) Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("billing.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
		ledger:  p.Ledger,
		holder:  p.Holder,
		metrics: p.Metrics,
	}
}

// chargeAudit is the request payload persisted alongside the attempt. The
// gateway password never lands in storage.
type chargeAudit struct {
	Token   string `json:"token"`
	Sum     string `json:"sum"`
	CoinID  int    `json:"coinId"`
	OrderID string `json:"orderId"`
}

// Charge runs one charge attempt end to end: gateway call, unconditional
// history record, exactly one ledger notification. The order id is the
// idempotency key; redelivering one returns the recorded outcome instead of
// charging twice.
func (s *service) Charge(ctx context.Context, token *domain.PaymentToken, amount int64, coinID int, orderID string) (gateway.ChargeResult, error) {
	if token == nil {
		return gateway.ChargeResult{}, domain.ErrNotFound
	}
	if amount <= 0 {
		return gateway.ChargeResult{}, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	if strings.TrimSpace(orderID) == "" {
		orderID = fmt.Sprintf("%s-%d-%s", token.UserID, now.UnixNano(), uuid.NewString()[:8])
	}
	if coinID <= 0 {
		coinID = token.CoinID
	}
	if coinID <= 0 {
		coinID = s.holder.Get().DefaultCoinID
	}

	s.metrics.IncChargeAttempted()

	result := s.gateway.ChargeToken(ctx, gateway.ChargeRequest{
		Token:   token.Token,
		Amount:  amount,
		CoinID:  coinID,
		OrderID: orderID,
	})

	audit, _ := json.Marshal(chargeAudit{
		Token:   token.Token,
		Sum:     gateway.Amount(amount).String(),
		CoinID:  coinID,
		OrderID: orderID,
	})

	row := &domain.BillingHistory{
		ID:                 s.genID.Generate(),
		UserID:             token.UserID,
		TokenID:            token.ID,
		OrderID:            orderID,
		Amount:             amount,
		CoinID:             coinID,
		ResponseCode:       result.ResponseCode,
		Description:        result.Description,
		ApproveNumber:      result.ApproveNumber,
		InternalDealNumber: result.InternalDealNumber,
		DealResponse:       result.DealResponse,
		Succeeded:          result.Succeeded(),
		AttemptedAt:        now,
		RawRequest:         string(audit),
		RawResponse:        result.Raw,
	}
	if result.ResponseCode != 0 && !result.TransportFailure() {
		row.Error = result.Description
	}

	if err := s.repo.InsertHistory(ctx, s.db, row); err != nil {
		if err == domain.ErrDuplicateOrder {
			existing, findErr := s.repo.FindHistoryByOrderID(ctx, s.db, orderID)
			if findErr != nil {
				return gateway.ChargeResult{}, findErr
			}
			if existing != nil {
				s.log.Info("charge already processed",
					zap.String("order_id", orderID),
					zap.Bool("succeeded", existing.Succeeded),
				)
				s.metrics.IncChargeOutcome(metrics.ChargeOutcomeDuplicate)
				return gateway.ChargeResult{
					ResponseCode:       existing.ResponseCode,
					Description:        existing.Description,
					ApproveNumber:      existing.ApproveNumber,
					InternalDealNumber: existing.InternalDealNumber,
					DealResponse:       existing.DealResponse,
				}, nil
			}
		}
		s.metrics.IncChargeOutcome(metrics.ChargeOutcomeError)
		return result, err
	}

	outcome := ledger.BillingOutcome{
		UserID:             token.UserID,
		Token:              token.Token,
		OrderID:            orderID,
		Amount:             amount,
		CoinID:             coinID,
		ResponseCode:       result.ResponseCode,
		Description:        result.Description,
		ApproveNumber:      result.ApproveNumber,
		InternalDealNumber: result.InternalDealNumber,
		BilledAt:           now.Format(time.RFC3339),
	}
	if result.Succeeded() {
		s.log.Info("charge succeeded",
			zap.String("user_id", token.UserID),
			zap.String("order_id", orderID),
			zap.Int64("amount", amount),
		)
		s.metrics.IncChargeOutcome(metrics.ChargeOutcomeSucceeded)
		if !s.ledger.NotifyBillingSuccess(ctx, outcome) {
			s.log.Warn("billing success notification failed", zap.String("order_id", orderID))
		}
	} else {
		s.log.Warn("charge failed",
			zap.String("user_id", token.UserID),
			zap.String("order_id", orderID),
			zap.Int("response_code", result.ResponseCode),
			zap.String("description", result.Description),
		)
		if result.TransportFailure() {
			s.metrics.IncChargeOutcome(metrics.ChargeOutcomeError)
		} else {
			s.metrics.IncChargeOutcome(metrics.ChargeOutcomeDeclined)
		}
		if !s.ledger.NotifyBillingFailed(ctx, outcome) {
			s.log.Warn("billing failure notification failed", zap.String("order_id", orderID))
		}
	}

	return result, nil
}
