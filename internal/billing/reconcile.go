package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reconcile runs one eligibility-driven billing pass: fetch the ledger's
// feed, charge every locally stored billable token the feed approves, skip
// the rest. One failing token never aborts the loop.
func (s *service) Reconcile(ctx context.Context) (Stats, error) {
	s.metrics.IncReconcileRun()

	eligible := s.ledger.EligibleUsers(ctx)
	if len(eligible) == 0 {
		s.log.Info("reconcile: no eligible users")
		return Stats{}, nil
	}

	byKey := make(map[string]int64, len(eligible))
	for _, e := range eligible {
		if !e.IsEligible || e.UserID == "" || e.Token == "" {
			continue
		}
		byKey[e.UserID+"|"+e.Token] = e.MonthlyAmount
	}

	tokens, err := s.repo.ListBillableTokens(ctx, s.db)
	if err != nil {
		return Stats{}, err
	}

	defaults := s.holder.Get()
	var stats Stats
	for i := range tokens {
		if err := ctx.Err(); err != nil {
			s.finishReconcile(stats)
			return stats, err
		}

		token := &tokens[i]
		externalAmount, ok := byKey[token.UserID+"|"+token.Token]
		if !ok {
			stats.Skipped++
			continue
		}

		// The ledger's amount wins whenever it carries one; the stored
		// monthly amount and the configured default back it up.
		amount := externalAmount
		if amount <= 0 && token.MonthlyAmount != nil {
			amount = *token.MonthlyAmount
		}
		if amount <= 0 {
			amount = defaults.DefaultMonthlyAmount
		}
		if amount <= 0 {
			stats.Skipped++
			continue
		}

		coinID := token.CoinID
		if coinID <= 0 {
			coinID = defaults.DefaultCoinID
		}

		orderID := fmt.Sprintf("%s-%d-%s", token.UserID, s.clock.Now().UnixNano(), uuid.NewString()[:8])
		result, err := s.Charge(ctx, token, amount, coinID, orderID)
		if err != nil {
			s.log.Error("reconcile: charge errored",
				zap.String("user_id", token.UserID),
				zap.Int64("token_id", int64(token.ID)),
				zap.Error(err),
			)
			stats.Skipped++
			continue
		}
		if result.Succeeded() {
			stats.Billed++
		} else {
			stats.Skipped++
		}
	}

	s.finishReconcile(stats)
	return stats, nil
}

func (s *service) finishReconcile(stats Stats) {
	s.metrics.AddReconcileBilled(stats.Billed)
	s.metrics.AddReconcileSkipped(stats.Skipped)
	s.log.Info("reconcile complete",
		zap.Int("billed", stats.Billed),
		zap.Int("skipped", stats.Skipped),
	)
}
