package books

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"office-library-backend/internal/library/colleagues"
)

type Handler struct {
	svc    *Service
	roster *colleagues.Service
}

// RegisterRoutes wires the catalog endpoints. The combined list stays open
// for the kiosk; all catalog mutations go through the admin group.
func RegisterRoutes(r, admin gin.IRoutes, svc *Service, roster *colleagues.Service) {
	h := &Handler{svc: svc, roster: roster}

	r.GET("/books", h.List)

	admin.POST("/books", h.Create)
	admin.PATCH("/books/:id", h.Update)
	admin.DELETE("/books/:id", h.Delete)
}

// List returns every book with its loan state plus the full roster, the one
// payload the kiosk needs to render.
func (h *Handler) List(c *gin.Context) {
	views, err := h.svc.ListWithState(c.Request.Context())
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Failed to fetch books."))
		return
	}
	roster, err := h.roster.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch colleagues."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": views, "colleagues": roster})
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: title, author"})
		return
	}
	view, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Failed to create book."))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"book": view})
}

func (h *Handler) Update(c *gin.Context) {
	var req UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	view, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Failed to update book."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"book": view})
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Failed to delete book."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func errBody(err error, generic string) gin.H {
	if api, ok := err.(*APIError); ok {
		return gin.H{"error": api.Message}
	}
	return gin.H{"error": generic}
}
