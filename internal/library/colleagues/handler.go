package colleagues

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

// RegisterRoutes wires the roster endpoints. Reads and kiosk-driven creation
// stay open; edits and deletes go through the admin group.
func RegisterRoutes(r, admin gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.GET("/colleagues", h.List)
	r.POST("/colleagues", h.Create)

	admin.PATCH("/colleagues/:id", h.Update)
	admin.DELETE("/colleagues/:id", h.Delete)
}

func (h *Handler) List(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context())
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Failed to fetch colleagues."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"colleagues": items})
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateColleagueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: name, email"})
		return
	}
	res, created, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Failed to create colleague."))
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"colleague": res})
}

func (h *Handler) Update(c *gin.Context) {
	var req UpdateColleagueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	res, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Failed to update colleague."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"colleague": res})
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Failed to delete colleague."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// errBody keeps store failures behind a generic message; domain errors pass
// their own text through.
func errBody(err error, generic string) gin.H {
	if api, ok := err.(*APIError); ok {
		return gin.H{"error": api.Message}
	}
	return gin.H{"error": generic}
}
