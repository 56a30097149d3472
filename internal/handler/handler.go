package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"resellerpay/internal/model"
	"resellerpay/internal/service"
	"resellerpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler serves the HTTP API on top of the service graph.
type Handler struct {
	svc    *service.Services
	db     *gorm.DB
	rdb    *redis.Client
	logger *slog.Logger
}

func NewHandler(svc *service.Services, db *gorm.DB, rdb *redis.Client, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		db:     db,
		rdb:    rdb,
		logger: logger,
	}
}

// statusOf maps a service error kind to the HTTP status and business code.
func statusOf(kind service.Kind) (int, int) {
	switch kind {
	case service.KindVerificationFailed:
		return http.StatusForbidden, response.CodeVerificationFailed
	case service.KindPermissionDenied:
		return http.StatusForbidden, response.CodePermissionDenied
	case service.KindLimitExceeded:
		return http.StatusUnprocessableEntity, response.CodeLimitExceeded
	case service.KindGatewayError:
		return http.StatusBadGateway, response.CodeGatewayError
	case service.KindConfirmationMismatch:
		return http.StatusConflict, response.CodeConfirmationMismatch
	case service.KindIntegrityAlarm:
		return http.StatusConflict, response.CodePaymentNotConfirmed
	case service.KindAlreadyProcessed:
		return http.StatusOK, response.CodeAlreadyProcessed
	case service.KindInvalidInput:
		return http.StatusBadRequest, response.CodeParamError
	case service.KindNotFound:
		return http.StatusNotFound, response.CodeNotFound
	case service.KindForbidden:
		return http.StatusForbidden, response.CodeForbidden
	case service.KindConflict:
		return http.StatusConflict, response.CodeConflict
	case service.KindUnauthenticated:
		return http.StatusUnauthorized, response.CodeUnauthorized
	default:
		return http.StatusInternalServerError, response.CodeServerError
	}
}

// fail writes err as a response. Only the classified message reaches the
// client; the full chain goes to the log.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status, code := statusOf(kind)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			"path", c.FullPath(), "request_id", c.GetString(ctxRequestID), "error", err)
	} else {
		h.logger.InfoContext(c.Request.Context(), "request rejected",
			"path", c.FullPath(), "request_id", c.GetString(ctxRequestID), "kind", string(kind))
	}
	response.Fail(c, status, code, service.MessageOf(err))
}

// principal returns the authenticated caller. AuthMiddleware guarantees it
// on every route that calls this.
func (h *Handler) principal(c *gin.Context) model.Principal {
	p, _ := principalFrom(c)
	return p
}

// gated writes the outcome of a guarded operation: 202 while it waits for
// employee verification, otherwise the operation's own result.
func gated(c *gin.Context, result *service.GateResult, data interface{}) {
	if result.VerificationRequired {
		response.Accepted(c, response.CodeVerificationRequired, "employee verification required", result)
		return
	}
	response.Success(c, data)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// ============================================================
// Auth
// ============================================================

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.svc.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// Logout POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	if err := h.svc.Auth.Logout(c.Request.Context(), h.principal(c)); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"loggedOut": true})
}

type VerifyEmployeeRequest struct {
	EmployeeID string `json:"employeeId" binding:"required"`
}

// VerifyEmployeeID POST /auth/verify-employee-id
//
// On success the session is verified and the parked operation, if any, runs.
func (h *Handler) VerifyEmployeeID(c *gin.Context) {
	var req VerifyEmployeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "employeeId is required")
		return
	}

	result, err := h.svc.Gate.OnVerified(c.Request.Context(), h.principal(c), req.EmployeeID, tokenExpiryFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"verified":  true,
		"operation": result,
	})
}

type GuardedRequest struct {
	OperationType    string          `json:"operationType" binding:"required"`
	OperationDetails string          `json:"operationDetails"`
	Payload          json.RawMessage `json:"payload"`
}

// Guarded POST /auth/guarded
//
// Entry point for guarded operations other than wallet funding.
func (h *Handler) Guarded(c *gin.Context) {
	var req GuardedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.svc.Gate.RequireVerification(c.Request.Context(), h.principal(c), &model.PendingAction{
		OperationType:    req.OperationType,
		OperationDetails: req.OperationDetails,
		Payload:          req.Payload,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	gated(c, result, result)
}

// Verification GET /auth/verification
func (h *Handler) Verification(c *gin.Context) {
	session, err := h.svc.Gate.Session(c.Request.Context(), h.principal(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"verified":      session.Verified(),
		"pendingAction": session.PendingAction,
	})
}

// CancelVerification POST /auth/cancel-verification
func (h *Handler) CancelVerification(c *gin.Context) {
	dropped, err := h.svc.Gate.OnCancelled(c.Request.Context(), h.principal(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"cancelled": dropped})
}

// ============================================================
// Health
// ============================================================

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{"mysql": "ok", "redis": "ok"}
	healthy := true

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		status["mysql"] = err.Error()
		healthy = false
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		status["redis"] = err.Error()
		healthy = false
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": status})
}
