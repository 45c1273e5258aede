package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/funderhq/payments/internal/token/domain"
	"github.com/funderhq/payments/pkg/db"
	"gorm.io/gorm"
)

const historyListLimit = 200

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.PaymentToken, error) {
	var item domain.PaymentToken
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, token, approve_number,
			monthly_amount, coin_id, is_active, is_verified, created_at, updated_at
		 FROM payment_tokens
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindActiveByUser(ctx context.Context, conn *gorm.DB, userID string) (*domain.PaymentToken, error) {
	var item domain.PaymentToken
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, token, approve_number,
			monthly_amount, coin_id, is_active, is_verified, created_at, updated_at
		 FROM payment_tokens
		 WHERE user_id = ? AND is_active = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
		true,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByUserAndToken(ctx context.Context, conn *gorm.DB, userID, token string) (*domain.PaymentToken, error) {
	var item domain.PaymentToken
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, token, approve_number,
			monthly_amount, coin_id, is_active, is_verified, created_at, updated_at
		 FROM payment_tokens
		 WHERE user_id = ? AND token = ?
		 LIMIT 1`,
		userID,
		token,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, token *domain.PaymentToken) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payment_tokens (
			id, user_id, token, approve_number,
			monthly_amount, coin_id, is_active, is_verified, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID,
		token.UserID,
		token.Token,
		token.ApproveNumber,
		token.MonthlyAmount,
		token.CoinID,
		token.IsActive,
		token.IsVerified,
		token.CreatedAt,
		token.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, token *domain.PaymentToken) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payment_tokens
		 SET approve_number = ?, monthly_amount = ?,
			coin_id = ?, is_active = ?, is_verified = ?, updated_at = ?
		 WHERE id = ?`,
		token.ApproveNumber,
		token.MonthlyAmount,
		token.CoinID,
		token.IsActive,
		token.IsVerified,
		token.UpdatedAt,
		token.ID,
	).Error
}

// ListByUser returns the user's tokens, newest first. An empty userID lists
// every token.
func (r *repo) ListByUser(ctx context.Context, conn *gorm.DB, userID string) ([]domain.PaymentToken, error) {
	query := `SELECT id, user_id, token, approve_number,
			monthly_amount, coin_id, is_active, is_verified, created_at, updated_at
		 FROM payment_tokens`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	var items []domain.PaymentToken
	err := conn.WithContext(ctx).Raw(query, args...).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListBillableTokens(ctx context.Context, conn *gorm.DB) ([]domain.PaymentToken, error) {
	var items []domain.PaymentToken
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, token, approve_number,
			monthly_amount, coin_id, is_active, is_verified, created_at, updated_at
		 FROM payment_tokens
		 WHERE is_active = ? AND monthly_amount IS NOT NULL AND monthly_amount > 0
		 ORDER BY created_at ASC`,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateMonthlyAmount(ctx context.Context, conn *gorm.DB, id snowflake.ID, amount int64, updatedAt time.Time) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_tokens
		 SET monthly_amount = ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) InsertHistory(ctx context.Context, conn *gorm.DB, row *domain.BillingHistory) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO billing_histories (
			id, user_id, token_id, order_id, amount, coin_id, response_code,
			description, approve_number, internal_deal_number, deal_response,
			succeeded, attempted_at, raw_request, raw_response, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.UserID,
		row.TokenID,
		row.OrderID,
		row.Amount,
		row.CoinID,
		row.ResponseCode,
		row.Description,
		row.ApproveNumber,
		row.InternalDealNumber,
		row.DealResponse,
		row.Succeeded,
		row.AttemptedAt,
		row.RawRequest,
		row.RawResponse,
		row.Error,
	).Error
	if err != nil && db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateOrder
	}
	return err
}

func (r *repo) FindHistoryByOrderID(ctx context.Context, conn *gorm.DB, orderID string) (*domain.BillingHistory, error) {
	var item domain.BillingHistory
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, token_id, order_id, amount, coin_id, response_code,
			description, approve_number, internal_deal_number, deal_response,
			succeeded, attempted_at, raw_request, raw_response, error
		 FROM billing_histories
		 WHERE order_id = ?
		 LIMIT 1`,
		orderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// ListHistory returns recent billing attempts, newest first. An empty userID
// lists across all users.
func (r *repo) ListHistory(ctx context.Context, conn *gorm.DB, userID string) ([]domain.BillingHistory, error) {
	query := `SELECT id, user_id, token_id, order_id, amount, coin_id, response_code,
			description, approve_number, internal_deal_number, deal_response,
			succeeded, attempted_at, raw_request, raw_response, error
		 FROM billing_histories`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY attempted_at DESC LIMIT ?`
	args = append(args, historyListLimit)

	var items []domain.BillingHistory
	err := conn.WithContext(ctx).Raw(query, args...).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
