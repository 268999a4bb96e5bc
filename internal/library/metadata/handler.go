package metadata

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/metadata/search", h.Search)
}

func (h *Handler) Search(c *gin.Context) {
	results, err := h.svc.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		msg := "Problem contacting Google Books. Check your connection and try again."
		if api, ok := err.(*APIError); ok {
			msg = api.Message
		}
		c.JSON(toHTTPStatus(err), gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
