package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service, secret []byte) {
	h := &Handler{svc: svc}
	r.POST("/auth/login", h.Login)
	r.POST("/auth/register", OptionalAuth(secret), h.Register)
}

type LoginRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.ID, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

type RegisterRequest struct {
	ID       string  `json:"id" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Role     *string `json:"role,omitempty"` // defaults to user
}

func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	role := RoleUser
	if req.Role != nil && *req.Role != "" {
		role = *req.Role
	}

	err := h.svc.Register(c.Request.Context(), req.ID, req.Password, role, CallerRole(c))
	switch {
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, ErrAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Account already exists"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register account"})
	default:
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	}
}
