package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kazsia/rainyday-new-sub001/internal/admin"
	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/gateway"
)

// errorStatus maps a service error to a status code and the message the
// caller sees. Unclassified errors are not echoed.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrOrderNotFound),
		errors.Is(err, core.ErrPaymentNotFound),
		errors.Is(err, core.ErrCustomerNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, core.ErrInvalidOrder),
		errors.Is(err, admin.ErrInvalidValue):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrActivePayment),
		errors.Is(err, core.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, admin.ErrSelfRoleChange):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, admin.ErrLastAdmin),
		errors.Is(err, admin.ErrGuestCustomer):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, core.ErrCompensationFailed):
		return http.StatusInternalServerError, core.ErrCompensationFailed.Error()
	case errors.Is(err, core.ErrReverted):
		return http.StatusInternalServerError, core.ErrReverted.Error()
	case errors.Is(err, gateway.ErrNoPaymentRoute):
		return http.StatusBadGateway, "payment provider unavailable, try again later"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}
