package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/delivery"
	"github.com/kazsia/rainyday-new-sub001/internal/gateway"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
)

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request.Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Order handlers

type lineItemRequest struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createOrderRequest struct {
	Email        string            `json:"email"`
	Currency     string            `json:"currency"`
	Total        decimal.Decimal   `json:"total"`
	Items        []lineItemRequest `json:"items"`
	CustomFields map[string]string `json:"custom_fields"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	in := orders.NewOrder{
		Email:        req.Email,
		Currency:     req.Currency,
		Total:        req.Total,
		CustomFields: req.CustomFields,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, core.LineItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	order, err := s.deps.Orders.CreateOrder(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    order,
	})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.deps.Orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    order,
	})
}

type startPaymentRequest struct {
	PayCurrency string `json:"pay_currency"`
	Network     string `json:"network"`
}

func (s *Server) handleStartPayment(c *gin.Context) {
	var req startPaymentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	if req.PayCurrency == "" {
		req.PayCurrency = s.opts.DefaultPayCurrency
	}
	if req.Network == "" {
		req.Network = s.opts.DefaultNetwork
	}

	orderID := c.Param("id")
	details, payment, err := s.deps.Payments.StartPayment(c.Request.Context(), gateway.StartRequest{
		OrderID:     orderID,
		PayCurrency: req.PayCurrency,
		Network:     req.Network,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	if s.deps.Watcher != nil && payment.TrackID != "" {
		deadline := payment.ExpiresAt
		if deadline.IsZero() {
			deadline = s.now().Add(s.opts.WatchWindow)
		}
		s.deps.Watcher.Start(orderID, deadline)
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"payment": payment,
			"details": details,
		},
	})
}

func (s *Server) handlePaymentStatus(c *gin.Context) {
	order, err := s.deps.Payments.Poll(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	var payment *core.Payment
	if n := len(order.Payments); n > 0 {
		payment = &order.Payments[n-1]
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"order_id": order.ID,
			"status":   order.Status,
			"payment":  payment,
		},
	})
}

// Provider callback. The provider retries on non-2xx, so only failures that
// a redelivery could fix answer 5xx.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := s.deps.Payments.HandleWebhook(c.Request.Context(), gateway.WebhookRequest{
		Body:      body,
		Signature: c.GetHeader(s.deps.Payments.SignatureHeader()),
		IPAddress: c.ClientIP(),
	})
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	case errors.Is(err, gateway.ErrInvalidPayload):
		badRequest(c, "invalid payload")
		return
	case errors.Is(err, core.ErrPaymentNotFound):
		// Acknowledged so the provider stops redelivering; the event is logged.
		c.String(http.StatusOK, "ok")
		return
	default:
		s.logger.Error("webhook failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
		return
	}

	if res.Duplicate {
		c.Header("X-Webhook-Duplicate", "true")
	}
	c.String(http.StatusOK, "ok")
}

// Delivery handlers

func (s *Server) handleDeliveryCheck(c *gin.Context) {
	out := s.deps.Delivery.Access(c.Request.Context(), delivery.Request{
		OrderID:   c.Param("orderId"),
		Token:     c.Query("token"),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if !out.Granted {
		writeDenial(c, out)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    orderSummary(out.Order),
	})
}

type revealRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleDeliveryReveal(c *gin.Context) {
	var req revealRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	if req.Token == "" {
		req.Token = c.Query("token")
	}

	out := s.deps.Delivery.Access(c.Request.Context(), delivery.Request{
		OrderID:   c.Param("orderId"),
		Token:     req.Token,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Consume:   true,
	})
	if !out.Granted {
		writeDenial(c, out)
		return
	}

	data := orderSummary(out.Order)
	data["assets"] = out.Assets
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// orderSummary is what a delivery caller may see of the order.
func orderSummary(o *core.Order) gin.H {
	if o == nil {
		return gin.H{}
	}
	return gin.H{
		"order_id": o.ID,
		"human_id": o.HumanID,
		"status":   o.Status,
		"items":    o.Items,
	}
}

var denialStatus = map[string]int{
	delivery.ReasonRateLimited:      http.StatusTooManyRequests,
	delivery.ReasonBotDetected:      http.StatusForbidden,
	delivery.ReasonTokenExpired:     http.StatusGone,
	delivery.ReasonTokenAlreadyUsed: http.StatusGone,
	delivery.ReasonInvalidToken:     http.StatusUnauthorized,
	delivery.ReasonOrderNotFound:    http.StatusNotFound,
	delivery.ReasonEmailMismatch:    http.StatusForbidden,
	delivery.ReasonOrderNotReady:    http.StatusConflict,
	delivery.ReasonUnavailable:      http.StatusServiceUnavailable,
}

func writeDenial(c *gin.Context, out delivery.Outcome) {
	status, ok := denialStatus[out.Reason]
	if !ok {
		status = http.StatusForbidden
	}
	if out.RetryAfter > 0 {
		secs := int((out.RetryAfter + time.Second - 1) / time.Second)
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   out.Reason,
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}
