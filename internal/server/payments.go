package server

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/funderhq/payments/internal/callback"
	"github.com/funderhq/payments/internal/gateway"
	"github.com/funderhq/payments/internal/orderref"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type initPaymentRequest struct {
	UserID             string            `json:"userId"`
	Amount             int64             `json:"amount"`
	CoinID             int               `json:"coinId"`
	SuccessRedirectURL string            `json:"successRedirectUrl"`
	ErrorRedirectURL   string            `json:"errorRedirectUrl"`
	Metadata           map[string]string `json:"metadata"`
}

type initPaymentResponse struct {
	PageURL    string `json:"pageUrl"`
	IframeHTML string `json:"iframeHtml"`
	Payload    gin.H  `json:"payload"`
}

func (s *Server) initPayment(c *gin.Context) {
	var req initPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		AbortWithError(c, newValidationError("userId", "required", "userId is required"))
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "positive", "amount must be a positive number of minor units"))
		return
	}

	coinID := req.CoinID
	if coinID <= 0 {
		coinID = s.holder.Get().DefaultCoinID
	}
	successURL := req.SuccessRedirectURL
	if successURL == "" {
		successURL = s.cfg.Gateway.SuccessURL
	}
	failedURL := req.ErrorRedirectURL
	if failedURL == "" {
		failedURL = s.cfg.Gateway.FailedURL
	}

	ref := orderref.Encode(req.UserID, req.Amount, time.Now().UTC())
	fields := customFields(req.UserID, req.Metadata)
	pageURL, err := s.gateway.CreatePaymentPage(c.Request.Context(), gateway.PaymentPageRequest{
		UserID:       req.UserID,
		Amount:       req.Amount,
		CoinID:       coinID,
		ReturnValue:  ref,
		SuccessURL:   successURL,
		FailedURL:    failedURL,
		CustomFields: fields,
	})
	if err != nil {
		s.log.Error("payment page creation failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, initPaymentResponse{
		PageURL:    pageURL,
		IframeHTML: fmt.Sprintf(`<iframe src="%s" width="100%%" height="600" frameborder="0"></iframe>`, pageURL),
		// The request as sent to the gateway, minus the API password.
		Payload: gin.H{
			"TerminalNumber":     s.cfg.Gateway.TerminalNumber,
			"ApiName":            s.cfg.Gateway.APIName,
			"Operation":          "CreateTokenOnly",
			"Amount":             gateway.Amount(req.Amount).String(),
			"ISOCoinId":          coinID,
			"ReturnValue":        ref,
			"SuccessRedirectUrl": successURL,
			"FailedRedirectUrl":  failedURL,
			"WebHookUrl":         s.cfg.Gateway.CallbackURL,
			"CustomFields":       fields,
		},
	})
}

// customFields places the user id first so legacy consumers reading
// CustomFields[1] keep working, then metadata values in key order.
func customFields(userID string, metadata map[string]string) []string {
	fields := []string{userID}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, metadata[k])
	}
	return fields
}

// paymentCallback receives the gateway's webhook. The response is always 200:
// the gateway retries non-200 responses and every drop case is final, so a
// retry would never change the outcome.
func (s *Server) paymentCallback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		s.log.Warn("callback form parse failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	form := c.Request.Form
	hook := callback.Webhook{
		ResponseCode: atoiOr(form.Get("ResponseCode"), -1),
		Token:        form.Get("Token"),
		LowProfileID: firstFormValue(form, "lowprofilecode", "LowProfileId", "LowProfileCode"),
		ReturnValue:  form.Get("ReturnValue"),
		Form:         form,
	}

	if err := s.verifier.Process(c.Request.Context(), hook); err != nil && err != callback.ErrAlreadyVerified {
		s.log.Error("callback processing failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func atoiOr(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

func firstFormValue(form map[string][]string, keys ...string) string {
	for _, key := range keys {
		for k, vs := range form {
			if strings.EqualFold(k, key) && len(vs) > 0 && strings.TrimSpace(vs[0]) != "" {
				return strings.TrimSpace(vs[0])
			}
		}
	}
	return ""
}
