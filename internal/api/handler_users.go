package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/mw"
)

// ListUsers handles GET /api/users.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetMe handles GET /api/me.
func (h *Handler) GetMe(c *gin.Context) {
	me, err := h.store.Me(c.Request.Context(), mw.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve caller"})
		return
	}
	c.JSON(http.StatusOK, me)
}
