package tenant

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/convodock/convodock/internal/idgen"
	"github.com/convodock/convodock/internal/validation"
)

// Handler provides HTTP endpoints for tenant operations.
type Handler struct {
	store Store
}

// NewHandler creates a new tenant handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up public tenant routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id", h.GetTenant)
}

// RegisterAdminRoutes sets up admin-only tenant routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants", h.CreateTenant)
	r.GET("/tenants", h.ListTenants)
	r.PATCH("/tenants/:id", h.UpdateTenant)
}

// CreateTenantRequest is the request body for creating a tenant.
type CreateTenantRequest struct {
	Name         string `json:"name" binding:"required"`
	Slug         string `json:"slug" binding:"required"`
	Plan         string `json:"plan"`
	ContactEmail string `json:"contactEmail" binding:"required"`
}

// CreateTenant handles POST /v1/admin/tenants
func (h *Handler) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name, slug and contactEmail are required",
		})
		return
	}

	plan := Plan(req.Plan)
	if req.Plan == "" {
		plan = PlanFree
	}
	if !ValidPlan(plan) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_plan",
			"message": "Unknown plan: " + req.Plan,
		})
		return
	}

	slug := validation.SanitizeSlug(req.Slug)
	if errs := validation.Validate(
		validation.ValidSlug("slug", slug),
		validation.ValidEmail("contactEmail", req.ContactEmail),
		validation.MaxLength("name", req.Name, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
		})
		return
	}

	now := time.Now()
	t := &Tenant{
		ID:           idgen.WithPrefix("ten_"),
		Name:         req.Name,
		Slug:         slug,
		Plan:         plan,
		ContactEmail: req.ContactEmail,
		Status:       StatusActive,
		Settings:     DefaultSettingsForPlan(plan),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.store.Create(c.Request.Context(), t); err != nil {
		if err == ErrSlugTaken {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "slug_taken",
				"message": "A tenant with this slug already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tenant": t})
}

// GetTenant handles GET /v1/tenants/:id
func (h *Handler) GetTenant(c *gin.Context) {
	id := c.Param("id")

	t, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if err == ErrTenantNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Tenant not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// ListTenants handles GET /v1/admin/tenants
func (h *Handler) ListTenants(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	tenants, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

// UpdateTenantRequest is the request body for updating a tenant.
type UpdateTenantRequest struct {
	Name         *string `json:"name"`
	Plan         *string `json:"plan"`
	Status       *string `json:"status"`
	ContactEmail *string `json:"contactEmail"`
}

// UpdateTenant handles PATCH /v1/admin/tenants/:id
func (h *Handler) UpdateTenant(c *gin.Context) {
	id := c.Param("id")

	var req UpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Malformed request body",
		})
		return
	}

	t, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if err == ErrTenantNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Tenant not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.ContactEmail != nil {
		t.ContactEmail = *req.ContactEmail
	}
	if req.Plan != nil {
		plan := Plan(*req.Plan)
		if !ValidPlan(plan) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_plan",
				"message": "Unknown plan: " + *req.Plan,
			})
			return
		}
		t.Plan = plan
		t.Settings = DefaultSettingsForPlan(plan)
	}
	if req.Status != nil {
		switch Status(*req.Status) {
		case StatusActive, StatusSuspended, StatusCancelled:
			t.Status = Status(*req.Status)
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_status",
				"message": "Unknown status: " + *req.Status,
			})
			return
		}
	}
	t.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}
