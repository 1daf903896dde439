package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/mw"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
)

// Realtime handles GET /api/realtime?table=...&filter=... by upgrading to a
// WebSocket change feed. Notification feeds are limited to the caller's own rows.
func (h *Handler) Realtime(c *gin.Context) {
	topic := realtime.Topic{Table: c.Query("table"), Filter: c.Query("filter")}
	if err := topic.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch topic.Table {
	case realtime.TableRooms:
	case realtime.TableNotifications:
		if topic.Filter != "recipient_id=eq."+mw.UserID(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "notification feed must be filtered to the caller"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown table " + topic.Table})
		return
	}

	if err := h.hub.ServeWS(c.Writer, c.Request, topic); err != nil {
		log.Warn().Err(err).Str("topic", topic.String()).Msg("realtime subscription rejected")
	}
}
