package callback

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/funderhq/payments/internal/clock"
	"github.com/funderhq/payments/internal/gateway"
	"github.com/funderhq/payments/internal/ledger"
	"github.com/funderhq/payments/internal/metrics"
	"github.com/funderhq/payments/internal/orderref"
	"github.com/funderhq/payments/internal/token/domain"
	"github.com/funderhq/payments/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAlreadyVerified reports a webhook for a token that was stored and
// verified earlier. Callers treat it as success.
var ErrAlreadyVerified = errors.New("token_already_verified")

// Webhook is the gateway's callback as received, before any trust is placed
// in it. Form carries the raw fields for legacy identity fallbacks.
type Webhook struct {
	ResponseCode int
	Token        string
	LowProfileID string
	ReturnValue  string
	Form         url.Values
}

// Verifier drives the webhook state machine: shape check, server-to-server
// verification, idempotent store, ledger notification.
type Verifier interface {
	Process(ctx context.Context, hook Webhook) error
}

type gatewayVerifier interface {
	VerifyByReference(ctx context.Context, lowProfileID string) (*gateway.VerifiedTransaction, error)
}

type ledgerNotifier interface {
	NotifyTokenRegistered(ctx context.Context, reg ledger.TokenRegistration) bool
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
	Metrics *metrics.Metrics
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	gateway gatewayVerifier
	ledger  ledgerNotifier
	metrics *metrics.Metrics
}

func NewService(p Params) Verifier {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("callback.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
		ledger:  p.Ledger,
		metrics: p.Metrics,
	}
}

func (s *service) Process(ctx context.Context, hook Webhook) error {
	s.metrics.IncWebhookReceived()

	// Step 1: the webhook itself is untrusted input. A malformed or failed
	// callback is dropped without any side effect.
	if hook.ResponseCode != 0 || strings.TrimSpace(hook.Token) == "" || strings.TrimSpace(hook.LowProfileID) == "" {
		s.log.Warn("webhook dropped on shape",
			zap.Int("response_code", hook.ResponseCode),
			zap.Bool("has_token", hook.Token != ""),
			zap.Bool("has_low_profile_id", hook.LowProfileID != ""),
		)
		s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeRejectedShape)
		return nil
	}

	userID, refAmount := s.extractIdentity(hook)
	if userID == "" {
		s.log.Warn("webhook dropped, no user identity",
			zap.String("return_value", hook.ReturnValue),
		)
		s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeRejectedShape)
		return nil
	}

	// Step 2: nothing from the webhook body is trusted until the gateway's
	// own query endpoint confirms the transaction.
	verified, err := s.gateway.VerifyByReference(ctx, hook.LowProfileID)
	if err != nil {
		s.log.Warn("webhook verification call failed",
			zap.String("user_id", userID),
			zap.String("low_profile_id", hook.LowProfileID),
			zap.Error(err),
		)
		s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeRejectedVerify)
		return nil
	}
	if !verified.Verified() || strings.TrimSpace(verified.Token) == "" {
		s.log.Warn("webhook rejected by gateway verification",
			zap.String("user_id", userID),
			zap.Int("verified_code", verified.ResponseCode),
			zap.String("error_text", verified.ErrorText),
		)
		s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeRejectedVerify)
		return nil
	}

	// Step 3: idempotency against webhook redelivery.
	existing, err := s.repo.FindByUserAndToken(ctx, s.db, userID, verified.Token)
	if err != nil {
		s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeError)
		return err
	}
	if existing != nil && existing.IsVerified {
		s.log.Info("webhook for already verified token",
			zap.String("user_id", userID),
			zap.Int64("token_id", int64(existing.ID)),
		)
		s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeAlreadyProcessed)
		return ErrAlreadyVerified
	}

	now := s.clock.Now()

	// Step 4: store or repair, using only verified fields.
	if existing != nil {
		existing.ApproveNumber = verified.ApproveNumber
		if refAmount != nil {
			existing.MonthlyAmount = refAmount
		}
		existing.IsVerified = true
		existing.IsActive = true
		existing.UpdatedAt = now
		if err := s.repo.Update(ctx, s.db, existing); err != nil {
			s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeError)
			return err
		}
		s.log.Info("existing token re-verified",
			zap.String("user_id", userID),
			zap.Int64("token_id", int64(existing.ID)),
		)
		s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeProcessed)
		return nil
	}

	record := &domain.PaymentToken{
		ID:            s.genID.Generate(),
		UserID:        userID,
		Token:         verified.Token,
		ApproveNumber: verified.ApproveNumber,
		MonthlyAmount: refAmount,
		IsActive:      true,
		IsVerified:    true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		// A concurrent redelivery can race past the step-3 lookup; the
		// (user_id, token) unique constraint is the arbiter then.
		if db.IsDuplicateKeyErr(err) {
			s.log.Info("concurrent webhook delivery lost the insert race",
				zap.String("user_id", userID),
			)
			s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeAlreadyProcessed)
			return ErrAlreadyVerified
		}
		s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeError)
		return err
	}

	s.log.Info("payment token registered",
		zap.String("user_id", userID),
		zap.Int64("token_id", int64(record.ID)),
		zap.String("card_type", verified.CardType),
	)
	s.metrics.IncWebhookOutcome(metrics.WebhookOutcomeProcessed)

	// Step 5: the ledger hears about new tokens once, best-effort.
	if ok := s.ledger.NotifyTokenRegistered(ctx, ledger.TokenRegistration{
		UserID:        userID,
		Token:         verified.Token,
		CardType:      verified.CardType,
		Last4Digits:   verified.Last4,
		MonthlyAmount: refAmount,
		Status:        "active",
		RegisteredAt:  now.Format(time.RFC3339),
	}); !ok {
		s.log.Warn("ledger registration notification failed",
			zap.String("user_id", userID),
			zap.Int64("token_id", int64(record.ID)),
		)
	}
	return nil
}

// extractIdentity recovers the user id (and optional amount) from the order
// reference, falling back to the legacy form fields older payment pages sent.
func (s *service) extractIdentity(hook Webhook) (string, *int64) {
	if ref, ok := orderref.Parse(hook.ReturnValue); ok {
		return ref.UserID, ref.Amount
	}
	for _, key := range []string{"JParams[UserId]", "UserId", "CustomFields[1]"} {
		if v := formValue(hook.Form, key); v != "" {
			return v, nil
		}
	}
	return "", nil
}

func formValue(form url.Values, key string) string {
	if form == nil {
		return ""
	}
	if v := strings.TrimSpace(form.Get(key)); v != "" {
		return v
	}
	for k, vs := range form {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			if v := strings.TrimSpace(vs[0]); v != "" {
				return v
			}
		}
	}
	return ""
}
