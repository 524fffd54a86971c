package billing

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/convodock/convodock/internal/idgen"
	"github.com/convodock/convodock/internal/pagination"
	"github.com/convodock/convodock/internal/tenant"
)

// Handler provides HTTP endpoints for billing operations.
type Handler struct {
	engine  *Engine
	store   Store
	tenants tenant.Store
}

// NewHandler creates a new billing handler.
func NewHandler(engine *Engine, store Store, tenants tenant.Store) *Handler {
	return &Handler{engine: engine, store: store, tenants: tenants}
}

// RegisterRoutes sets up tenant-facing billing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/billing/dunning/stats", h.GetDunningStats)
	r.GET("/billing/dunning", h.ListByDunningStatus)
	r.GET("/billing/subscriptions/:id", h.GetSubscription)
	r.GET("/billing/subscriptions/:id/dunning", h.GetDunningDetail)
	r.POST("/billing/subscriptions/:id/retry", h.RetryPayment)
	r.PUT("/billing/tenants/:id/payment-method", h.UpdatePaymentMethod)
}

// RegisterAdminRoutes sets up admin-only billing routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/billing/subscriptions", h.CreateSubscription)
	r.POST("/billing/subscriptions/:id/payment-failed", h.ReportFailedPayment)
	r.POST("/billing/dunning/process", h.ProcessQueue)
}

// GetDunningStats handles GET /v1/billing/dunning/stats
func (h *Handler) GetDunningStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// ListByDunningStatus handles GET /v1/billing/dunning?status=scheduled
func (h *Handler) ListByDunningStatus(c *gin.Context) {
	status := DunningStatus(c.Query("status"))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "status must be one of: active, scheduled, grace_period, recovered, failed, canceled",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	// Fetch one extra row to compute the next-page cursor.
	subs, err := h.store.ListByDunningStatus(c.Request.Context(), status, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(subs, limit, func(s *Subscription) (time.Time, string) {
		return s.CreatedAt, s.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": page,
		"count":         len(page),
		"next_cursor":   next,
		"has_more":      hasMore,
	})
}

// GetSubscription handles GET /v1/billing/subscriptions/:id
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// GetDunningDetail handles GET /v1/billing/subscriptions/:id/dunning
func (h *Handler) GetDunningDetail(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	if sub.Dunning == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_dunning",
			"message": "Subscription has no dunning record",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription_id": sub.ID,
		"dunning":         sub.Dunning,
	})
}

// RetryPayment handles POST /v1/billing/subscriptions/:id/retry
func (h *Handler) RetryPayment(c *gin.Context) {
	sub, err := h.engine.RetryPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// ProcessQueue handles POST /v1/admin/billing/dunning/process
func (h *Handler) ProcessQueue(c *gin.Context) {
	result, err := h.engine.ProcessQueue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": result})
}

// UpdatePaymentMethodRequest is the request body for updating a tenant's
// default payment method.
type UpdatePaymentMethodRequest struct {
	PaymentMethodID string `json:"paymentMethodId" binding:"required"`
	Brand           string `json:"brand"`
	Last4           string `json:"last4"`
}

// UpdatePaymentMethod handles PUT /v1/billing/tenants/:id/payment-method
func (h *Handler) UpdatePaymentMethod(c *gin.Context) {
	var req UpdatePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "paymentMethodId is required",
		})
		return
	}

	t, err := h.tenants.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	t.SetDefaultPaymentMethod(tenant.PaymentMethod{
		ID:    req.PaymentMethodID,
		Brand: req.Brand,
		Last4: req.Last4,
	})

	if err := h.tenants.Update(c.Request.Context(), t); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// CreateSubscriptionRequest is the request body for creating a subscription.
type CreateSubscriptionRequest struct {
	TenantID    string `json:"tenantId" binding:"required"`
	PlanID      string `json:"planId" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"required"`
	Currency    string `json:"currency"`
}

// CreateSubscription handles POST /v1/admin/billing/subscriptions
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "tenantId, planId and amountCents are required",
		})
		return
	}

	if _, err := h.tenants.Get(c.Request.Context(), req.TenantID); err != nil {
		h.renderError(c, err)
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	now := time.Now()
	sub := &Subscription{
		ID:               idgen.WithPrefix("sub_"),
		TenantID:         req.TenantID,
		PlanID:           req.PlanID,
		Status:           SubscriptionActive,
		AmountCents:      req.AmountCents,
		Currency:         currency,
		CurrentPeriodEnd: now.AddDate(0, 1, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// ReportFailedPaymentRequest is the request body for reporting a failed
// renewal payment (normally driven by the payment processor's webhook relay).
type ReportFailedPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ErrorMessage    string `json:"errorMessage"`
}

// ReportFailedPayment handles POST /v1/admin/billing/subscriptions/:id/payment-failed
func (h *Handler) ReportFailedPayment(c *gin.Context) {
	var req ReportFailedPaymentRequest
	_ = c.ShouldBindJSON(&req)

	sub, err := h.engine.ProcessFailedPayment(c.Request.Context(), c.Param("id"), req.PaymentIntentID, req.ErrorMessage)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// renderError maps domain errors to HTTP responses.
func (h *Handler) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, tenant.ErrTenantNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrNoDunningRecord):
		status = http.StatusNotFound
		code = "no_dunning"
	case errors.Is(err, ErrInvalidDunningState):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrNoPaymentMethod):
		status = http.StatusUnprocessableEntity
		code = "no_payment_method"
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
