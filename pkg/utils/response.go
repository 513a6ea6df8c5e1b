package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every API reply is wrapped in.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *AppError   `json:"error,omitempty"`
}

var statusByCode = map[string]int{
	ErrCodeValidation:          http.StatusBadRequest,
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeCanceled:            http.StatusRequestTimeout,
	ErrCodeInfeasible:          http.StatusUnprocessableEntity,
	ErrCodeChangeCapInfeasible: http.StatusUnprocessableEntity,
	ErrCodeUpstream:            http.StatusBadGateway,
	ErrCodeSolverTimeout:       http.StatusGatewayTimeout,
	ErrCodeSolverFailure:       http.StatusInternalServerError,
	ErrCodeInternal:            http.StatusInternalServerError,
}

// StatusFor returns the HTTP status an error code is served with. Unknown
// codes are internal errors.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// SendError writes err under the status of its code.
func SendError(c *gin.Context, err *AppError) {
	c.JSON(StatusFor(err.Code), Response{
		Success: false,
		Error:   err,
	})
}

func SendValidationError(c *gin.Context, message string, details string) {
	SendError(c, NewAppError(ErrCodeValidation, message, details))
}
