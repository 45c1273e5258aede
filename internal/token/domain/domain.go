package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("token_not_found")
	ErrDuplicateOrder = errors.New("duplicate_order")
	ErrInvalidAmount  = errors.New("invalid_amount")
)

// PaymentToken is a verified gateway token for one user's card. Tokens are
// deactivated, never hard-deleted, so history rows keep their parent. Card
// metadata (brand, last4) is relayed to the ledger at registration time and
// never stored here.
type PaymentToken struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID        string       `json:"user_id" gorm:"type:text;not null;index;uniqueIndex:ux_payment_tokens_user_token"`
	Token         string       `json:"-" gorm:"type:text;not null;uniqueIndex:ux_payment_tokens_user_token"`
	ApproveNumber string       `json:"approve_number" gorm:"type:text"`
	MonthlyAmount *int64       `json:"monthly_amount"`
	CoinID        int          `json:"coin_id" gorm:"not null;default:0"`
	IsActive      bool         `json:"is_active" gorm:"not null;default:false"`
	IsVerified    bool         `json:"is_verified" gorm:"not null;default:false"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null"`
}

func (PaymentToken) TableName() string { return "payment_tokens" }

// BillingHistory is the immutable record of one charge attempt. OrderID is
// globally unique; inserting a duplicate reports ErrDuplicateOrder.
type BillingHistory struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID             string       `json:"user_id" gorm:"type:text;not null;index"`
	TokenID            snowflake.ID `json:"token_id" gorm:"not null;index"`
	OrderID            string       `json:"order_id" gorm:"type:text;not null;uniqueIndex"`
	Amount             int64        `json:"amount" gorm:"not null"`
	CoinID             int          `json:"coin_id" gorm:"not null;default:0"`
	ResponseCode       int          `json:"response_code" gorm:"not null"`
	Description        string       `json:"description" gorm:"type:text"`
	ApproveNumber      string       `json:"approve_number" gorm:"type:text"`
	InternalDealNumber string       `json:"internal_deal_number" gorm:"type:text"`
	DealResponse       string       `json:"deal_response" gorm:"type:text"`
	Succeeded          bool         `json:"succeeded" gorm:"not null"`
	AttemptedAt        time.Time    `json:"attempted_at" gorm:"not null"`
	RawRequest         string       `json:"-" gorm:"type:text"`
	RawResponse        string       `json:"-" gorm:"type:text"`
	Error              string       `json:"error" gorm:"type:text"`
}

func (BillingHistory) TableName() string { return "billing_histories" }

// Repository is the persistence surface for tokens and charge history.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentToken, error)
	FindActiveByUser(ctx context.Context, db *gorm.DB, userID string) (*PaymentToken, error)
	FindByUserAndToken(ctx context.Context, db *gorm.DB, userID, token string) (*PaymentToken, error)
	Insert(ctx context.Context, db *gorm.DB, token *PaymentToken) error
	Update(ctx context.Context, db *gorm.DB, token *PaymentToken) error
	ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]PaymentToken, error)
	ListBillableTokens(ctx context.Context, db *gorm.DB) ([]PaymentToken, error)
	UpdateMonthlyAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, updatedAt time.Time) error

	InsertHistory(ctx context.Context, db *gorm.DB, row *BillingHistory) error
	FindHistoryByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*BillingHistory, error)
	ListHistory(ctx context.Context, db *gorm.DB, userID string) ([]BillingHistory, error)
}
