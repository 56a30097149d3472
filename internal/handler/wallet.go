package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"resellerpay/internal/model"
	"resellerpay/internal/service"
	"resellerpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const signatureHeader = "Stripe-Signature"

// maxWebhookBody caps how much of a webhook request is read.
const maxWebhookBody = 64 << 10

// walletOwner resolves the wallet a request targets and checks the caller
// may act on it. An empty raw id means the caller's own wallet.
func (h *Handler) walletOwner(c *gin.Context, raw string) (int64, bool) {
	p := h.principal(c)
	userID := p.ID
	if raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.ParamError(c, "userId must be a positive integer")
			return 0, false
		}
		userID = id
	}
	if !p.CanActFor(userID) {
		response.Fail(c, http.StatusForbidden, response.CodeForbidden, "cannot access another user's wallet")
		return 0, false
	}
	return userID, true
}

type CreatePaymentIntentRequest struct {
	Amount        decimal.Decimal `json:"amount" binding:"required,gt=0"`
	PaymentMethod string          `json:"paymentMethod" binding:"required"`
}

// CreatePaymentIntent POST /wallet/create-payment-intent?userId=
//
// Funding is a guarded operation: an unverified employee gets 202 and the
// intent is opened once the employee ID is confirmed.
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	userID, ok := h.walletOwner(c, c.Query("userId"))
	if !ok {
		return
	}
	var body CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	req := &service.CreateIntentRequest{
		UserID:        userID,
		Amount:        body.Amount,
		PaymentMethod: body.PaymentMethod,
	}
	if err := h.svc.Payments.Validate(req); err != nil {
		h.fail(c, err)
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		response.ServerError(c, "internal server error")
		return
	}

	result, err := h.svc.Gate.RequireVerification(c.Request.Context(), h.principal(c), &model.PendingAction{
		OperationType:    model.OperationAddFunds,
		OperationDetails: fmt.Sprintf("Add %s to wallet of user %d", body.Amount.StringFixed(2), userID),
		Payload:          payload,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	gated(c, result, result.Result)
}

type ConfirmPaymentRequest struct {
	TransactionID   string `json:"transactionId" binding:"required"`
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

// ConfirmPayment POST /wallet/confirm-payment
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "transactionId and paymentIntentId are required")
		return
	}

	result, err := h.svc.Payments.ConfirmPaymentAs(c.Request.Context(), h.principal(c), req.TransactionID, req.PaymentIntentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// Webhook POST /wallet/webhook
//
// Unauthenticated; the gateway signature is the credential. Anything but a
// bad signature answers 5xx so the gateway retries delivery.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ParamError(c, "unreadable body")
		return
	}

	if err := h.svc.Payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader(signatureHeader)); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"received": true})
}

// GetPermission GET /wallet/permissions/:userId
func (h *Handler) GetPermission(c *gin.Context) {
	userID, ok := h.walletOwner(c, c.Param("userId"))
	if !ok {
		return
	}

	perm, err := h.svc.Policy.GetPermission(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, perm)
}

// SetPermission PUT /wallet/permissions/:userId
func (h *Handler) SetPermission(c *gin.Context) {
	userID, ok := h.walletOwner(c, c.Param("userId"))
	if !ok {
		return
	}
	var req service.SetPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	perm, err := h.svc.Policy.SetPermission(c.Request.Context(), h.principal(c), userID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, perm)
}

// FundingCheck GET /wallet/funding-check/:userId?amount=
func (h *Handler) FundingCheck(c *gin.Context) {
	userID, ok := h.walletOwner(c, c.Param("userId"))
	if !ok {
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || !amount.IsPositive() {
		response.ParamError(c, "amount must be a positive number")
		return
	}

	decision, err := h.svc.Policy.CanRequestFunding(c.Request.Context(), nil, userID, amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, decision)
}

// ListTransactions GET /wallet/transactions/:userId
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := h.walletOwner(c, c.Param("userId"))
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	list, total, err := h.svc.Payments.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetBalance GET /wallet/balance/:userId
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := h.walletOwner(c, c.Param("userId"))
	if !ok {
		return
	}

	balance, err := h.svc.Ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, balance)
}

// ListLedger GET /wallet/ledger/:userId
func (h *Handler) ListLedger(c *gin.Context) {
	userID, ok := h.walletOwner(c, c.Param("userId"))
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	entries, total, err := h.svc.Ledger.ListEntries(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
