package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
)

// Business codes, returned next to the HTTP status so clients can tell
// failures with the same status apart.
const (
	CodeVerificationFailed   = 1001
	CodeVerificationRequired = 1002
	CodePermissionDenied     = 1003
	CodeLimitExceeded        = 1004
	CodeGatewayError         = 1005
	CodeConfirmationMismatch = 1006
	CodePaymentNotConfirmed  = 1007
	CodeAlreadyProcessed     = 1008
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Accepted reports a request that was taken but not carried out yet.
func Accepted(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func Fail(c *gin.Context, status, code int, message string) {
	c.JSON(status, Response{
		Code:    code,
		Message: message,
	})
}

// Abort is Fail for middleware that must stop the chain.
func Abort(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeServerError, message)
}
