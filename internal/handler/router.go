package handler

import (
	"log/slog"
	"reflect"
	"sync"

	"resellerpay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SetupRouter builds the engine with every route mounted.
func SetupRouter(svc *service.Services, db *gorm.DB, rdb *redis.Client, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	registerValidators()

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(logger))
	r.Use(RecoveryMiddleware(logger))
	r.Use(CORSMiddleware())

	h := NewHandler(svc, db, rdb, logger)
	authed := AuthMiddleware(svc.Auth)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/logout", authed, h.Logout)
		authGroup.POST("/verify-employee-id", authed, h.VerifyEmployeeID)
		authGroup.POST("/guarded", authed, h.Guarded)
		authGroup.GET("/verification", authed, h.Verification)
		authGroup.POST("/cancel-verification", authed, h.CancelVerification)
	}

	wallet := r.Group("/wallet")
	{
		wallet.POST("/webhook", h.Webhook)

		private := wallet.Group("", authed)
		private.POST("/create-payment-intent", h.CreatePaymentIntent)
		private.POST("/confirm-payment", h.ConfirmPayment)
		private.GET("/permissions/:userId", h.GetPermission)
		private.PUT("/permissions/:userId", h.SetPermission)
		private.GET("/funding-check/:userId", h.FundingCheck)
		private.GET("/transactions/:userId", h.ListTransactions)
		private.GET("/balance/:userId", h.GetBalance)
		private.GET("/ledger/:userId", h.ListLedger)
	}

	r.GET("/health", h.Health)

	return r
}

var validatorsOnce sync.Once

// registerValidators teaches gin's validator to compare decimal amounts.
func registerValidators() {
	validatorsOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
		}
	})
}

func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}
