package chatbot

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/convodock/convodock/internal/tenant"
)

// Handler provides HTTP endpoints for chatbot management.
type Handler struct {
	svc *Service
}

// NewHandler creates a chatbot handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up chatbot routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/chatbots", h.CreateChatbot)
	r.GET("/tenants/:id/chatbots", h.ListChatbots)
	r.GET("/tenants/:id/chatbots/:botId", h.GetChatbot)
	r.PATCH("/tenants/:id/chatbots/:botId", h.UpdateChatbot)
	r.POST("/tenants/:id/chatbots/:botId/publish", h.PublishChatbot)
	r.POST("/tenants/:id/chatbots/:botId/archive", h.ArchiveChatbot)
	r.DELETE("/tenants/:id/chatbots/:botId", h.DeleteChatbot)
}

// CreateChatbotRequest for creating a chatbot.
type CreateChatbotRequest struct {
	Name         string    `json:"name" binding:"required"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"systemPrompt"`
	Greeting     string    `json:"greeting"`
	Settings     *Settings `json:"settings"`
}

// CreateChatbot handles POST /tenants/:id/chatbots
func (h *Handler) CreateChatbot(c *gin.Context) {
	var req CreateChatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	bot, err := h.svc.Create(c.Request.Context(), c.Param("id"), CreateParams{
		Name:         req.Name,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		Greeting:     req.Greeting,
		Settings:     req.Settings,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"chatbot": bot})
}

// ListChatbots handles GET /tenants/:id/chatbots
func (h *Handler) ListChatbots(c *gin.Context) {
	bots, err := h.svc.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	if bots == nil {
		bots = []*Chatbot{}
	}
	c.JSON(http.StatusOK, gin.H{"chatbots": bots, "count": len(bots)})
}

// GetChatbot handles GET /tenants/:id/chatbots/:botId
func (h *Handler) GetChatbot(c *gin.Context) {
	bot, err := h.svc.Get(c.Request.Context(), c.Param("id"), c.Param("botId"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatbot": bot})
}

// UpdateChatbotRequest for modifying a chatbot. Absent fields are unchanged.
type UpdateChatbotRequest struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	SystemPrompt *string   `json:"systemPrompt"`
	Greeting     *string   `json:"greeting"`
	Settings     *Settings `json:"settings"`
}

// UpdateChatbot handles PATCH /tenants/:id/chatbots/:botId
func (h *Handler) UpdateChatbot(c *gin.Context) {
	var req UpdateChatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	bot, err := h.svc.Update(c.Request.Context(), c.Param("id"), c.Param("botId"), UpdateParams{
		Name:         req.Name,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		Greeting:     req.Greeting,
		Settings:     req.Settings,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatbot": bot})
}

// PublishChatbot handles POST /tenants/:id/chatbots/:botId/publish
func (h *Handler) PublishChatbot(c *gin.Context) {
	bot, err := h.svc.Publish(c.Request.Context(), c.Param("id"), c.Param("botId"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatbot": bot})
}

// ArchiveChatbot handles POST /tenants/:id/chatbots/:botId/archive
func (h *Handler) ArchiveChatbot(c *gin.Context) {
	bot, err := h.svc.Archive(c.Request.Context(), c.Param("id"), c.Param("botId"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatbot": bot})
}

// DeleteChatbot handles DELETE /tenants/:id/chatbots/:botId
func (h *Handler) DeleteChatbot(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), c.Param("botId")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrChatbotNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Chatbot not found",
		})
	case errors.Is(err, tenant.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Tenant not found",
		})
	case errors.Is(err, tenant.ErrMaxChatbots):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "plan_limit",
			"message": "Chatbot limit reached for the tenant's plan",
		})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
