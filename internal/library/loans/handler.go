package loans

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/borrow", h.Borrow)
	r.POST("/return", h.Return)
	r.GET("/loans", h.List)
}

func (h *Handler) Borrow(c *gin.Context) {
	var req LoanActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing bookId or colleagueId"})
		return
	}
	view, err := h.svc.Borrow(c.Request.Context(), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Unexpected error while borrowing book."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"book": view})
}

func (h *Handler) Return(c *gin.Context) {
	var req LoanActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing bookId or colleagueId"})
		return
	}
	view, err := h.svc.Return(c.Request.Context(), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Unexpected error while returning book."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"book": view})
}

func (h *Handler) List(c *gin.Context) {
	f := LoanFilter{
		Limit:  atoiDef(c.Query("limit"), 50),
		Offset: atoiDef(c.Query("offset"), 0),
	}
	if v := c.Query("bookId"); v != "" {
		f.BookID = &v
	}
	if v := c.Query("colleagueId"); v != "" {
		f.ColleagueID = &v
	}
	if v := c.Query("returned"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Returned = &b
		}
	}
	items, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err, "Failed to fetch loans."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"loans": items})
}

func atoiDef(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func errBody(err error, generic string) gin.H {
	if api, ok := err.(*APIError); ok {
		return gin.H{"error": api.Message}
	}
	return gin.H{"error": generic}
}
