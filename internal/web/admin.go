package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kazsia/rainyday-new-sub001/internal/admin"
	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
)

// AdminHeader carries the calling administrator's customer id. Session
// handling sits in front of this service and sets it.
const AdminHeader = "X-Admin-ID"

const actorKey = "admin_actor"

// requireAdmin resolves the caller and rejects anyone who is not an active
// administrator.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(AdminHeader)
		if id == "" || s.deps.Directory == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		caller, err := s.deps.Directory.GetCustomer(c.Request.Context(), id)
		if err != nil || caller.Role != core.RoleAdmin || caller.Status != core.CustomerActive {
			s.logger.Warn("admin access refused", "admin_id", id, "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "forbidden"})
			return
		}
		c.Set(actorKey, admin.Actor{AdminID: caller.ID, IP: c.ClientIP()})
		c.Next()
	}
}

func actor(c *gin.Context) admin.Actor {
	a, _ := c.Get(actorKey)
	act, _ := a.(admin.Actor)
	return act
}

type valueRequest struct {
	Status  string          `json:"status"`
	Role    string          `json:"role"`
	Balance decimal.Decimal `json:"balance"`
}

func bindValue(c *gin.Context) (valueRequest, bool) {
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return req, false
	}
	return req, true
}

// Customer handlers

func (s *Server) handleCustomerStatus(c *gin.Context) {
	req, ok := bindValue(c)
	if !ok {
		return
	}
	cust, err := s.deps.Admin.UpdateCustomerStatus(c.Request.Context(), actor(c), c.Param("id"), req.Status)
	s.writeCustomer(c, cust, err)
}

func (s *Server) handleCustomerRole(c *gin.Context) {
	req, ok := bindValue(c)
	if !ok {
		return
	}
	cust, err := s.deps.Admin.UpdateCustomerRole(c.Request.Context(), actor(c), c.Param("id"), req.Role)
	s.writeCustomer(c, cust, err)
}

func (s *Server) handleCustomerBalance(c *gin.Context) {
	req, ok := bindValue(c)
	if !ok {
		return
	}
	cust, err := s.deps.Admin.UpdateCustomerBalance(c.Request.Context(), actor(c), c.Param("id"), req.Balance)
	s.writeCustomer(c, cust, err)
}

func (s *Server) handleCustomerBan(c *gin.Context) {
	cust, err := s.deps.Admin.BanCustomer(c.Request.Context(), actor(c), c.Param("id"))
	s.writeCustomer(c, cust, err)
}

func (s *Server) handleCustomerUnban(c *gin.Context) {
	cust, err := s.deps.Admin.UnbanCustomer(c.Request.Context(), actor(c), c.Param("id"))
	s.writeCustomer(c, cust, err)
}

func (s *Server) writeCustomer(c *gin.Context, cust *core.Customer, err error) {
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    cust,
	})
}

// Order overrides

func (s *Server) handleOrderStatus(c *gin.Context) {
	req, ok := bindValue(c)
	if !ok {
		return
	}
	res, err := s.deps.Admin.UpdateOrderStatus(c.Request.Context(), actor(c), c.Param("id"), core.OrderStatus(req.Status))
	s.writeResult(c, res, err)
}

func (s *Server) handleMarkPaid(c *gin.Context) {
	res, err := s.deps.Admin.MarkOrderAsPaid(c.Request.Context(), actor(c), c.Param("id"))
	s.writeResult(c, res, err)
}

func (s *Server) writeResult(c *gin.Context, res orders.Result, err error) {
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"changed": res.Changed,
		"data":    res.Order,
	})
}

func (s *Server) handleRetrigger(c *gin.Context) {
	out, err := s.deps.Admin.RetriggerDelivery(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": out.Message,
		"data":    out.Assets,
	})
}

// Read-only views

func (s *Server) handleAccessLog(c *gin.Context) {
	entries, err := s.deps.Records.ListAccessLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}

func (s *Server) handleAdminActions(c *gin.Context) {
	actions, err := s.deps.Records.ListAdminActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    actions,
		"count":   len(actions),
	})
}
