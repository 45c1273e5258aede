package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	tokendomain "github.com/funderhq/payments/internal/token/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type chargeRequest struct {
	TokenID string `json:"tokenId"`
	UserID  string `json:"userId"`
	Amount  int64  `json:"amount"`
	CoinID  int    `json:"coinId"`
	OrderID string `json:"orderId"`
}

type chargeResponse struct {
	OrderID            string `json:"orderId,omitempty"`
	Succeeded          bool   `json:"succeeded"`
	ResponseCode       int    `json:"responseCode"`
	Description        string `json:"description,omitempty"`
	ApproveNumber      string `json:"approveNumber,omitempty"`
	InternalDealNumber string `json:"internalDealNumber,omitempty"`
}

func (s *Server) chargeToken(c *gin.Context) {
	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}

	req.TokenID = strings.TrimSpace(req.TokenID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.TokenID == "" && req.UserID == "" {
		AbortWithError(c, newValidationError("tokenId", "required", "either tokenId or userId is required"))
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "positive", "amount must be a positive number of minor units"))
		return
	}

	token, err := s.resolveToken(c, req.TokenID, req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if token == nil {
		AbortWithError(c, tokendomain.ErrNotFound)
		return
	}

	result, err := s.billingSvc.Charge(c.Request.Context(), token, req.Amount, req.CoinID, req.OrderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, chargeResponse{
		OrderID:            req.OrderID,
		Succeeded:          result.Succeeded(),
		ResponseCode:       result.ResponseCode,
		Description:        result.Description,
		ApproveNumber:      result.ApproveNumber,
		InternalDealNumber: result.InternalDealNumber,
	})
}

func (s *Server) resolveToken(c *gin.Context, tokenID, userID string) (*tokendomain.PaymentToken, error) {
	if tokenID != "" {
		id, err := snowflake.ParseString(tokenID)
		if err != nil {
			return nil, newValidationError("tokenId", "invalid", "tokenId must be a numeric id")
		}
		token, err := s.repo.FindByID(c.Request.Context(), s.db, id)
		if err != nil {
			return nil, err
		}
		// An unknown id still resolves through the user's newest active
		// token when the caller supplied one.
		if token == nil && userID != "" {
			return s.repo.FindActiveByUser(c.Request.Context(), s.db, userID)
		}
		return token, nil
	}
	return s.repo.FindActiveByUser(c.Request.Context(), s.db, userID)
}

func (s *Server) listTokens(c *gin.Context) {
	// userId is an optional filter; without it every token is listed.
	userID := strings.TrimSpace(c.Query("userId"))

	tokens, err := s.repo.ListByUser(c.Request.Context(), s.db, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if tokens == nil {
		tokens = []tokendomain.PaymentToken{}
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *Server) listHistory(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))

	rows, err := s.repo.ListHistory(c.Request.Context(), s.db, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if rows == nil {
		rows = []tokendomain.BillingHistory{}
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

type monthlyAmountRequest struct {
	MonthlyAmount int64 `json:"monthlyAmount"`
}

func (s *Server) updateMonthlyAmount(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid", "token id must be a numeric id"))
		return
	}

	var req monthlyAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}
	if req.MonthlyAmount <= 0 {
		AbortWithError(c, newValidationError("monthlyAmount", "positive", "monthlyAmount must be a positive number of minor units"))
		return
	}

	if err := s.repo.UpdateMonthlyAmount(c.Request.Context(), s.db, id, req.MonthlyAmount, time.Now().UTC()); err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("monthly amount updated",
		zap.Int64("token_id", int64(id)),
		zap.Int64("monthly_amount", req.MonthlyAmount),
	)
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
