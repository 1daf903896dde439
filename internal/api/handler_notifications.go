package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/mw"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/store"
)

// MaxNotifications is the most notifications returned by one listing.
const MaxNotifications = 50

type notificationRequest struct {
	ID               string                 `json:"id"`
	RoomID           string                 `json:"room_id" binding:"required"`
	SenderID         string                 `json:"sender_id" binding:"required"`
	RecipientID      string                 `json:"recipient_id" binding:"required"`
	NotificationType model.NotificationType `json:"notification_type" binding:"required"`
	Message          string                 `json:"message" binding:"required"`
}

func validNotificationType(t model.NotificationType) bool {
	return t == model.NotificationWorkFinished || t == model.NotificationCleaningComplete
}

// CreateNotifications handles POST /api/notifications. The body is an array
// inserted as one batch; every row must be sent by the caller.
func (h *Handler) CreateNotifications(c *gin.Context) {
	var reqs []notificationRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	userID := mw.UserID(c)
	ns := make([]model.Notification, 0, len(reqs))
	for _, r := range reqs {
		if r.RoomID == "" || r.RecipientID == "" || r.Message == "" || !validNotificationType(r.NotificationType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if r.SenderID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "sender must be the caller"})
			return
		}
		ns = append(ns, model.Notification{
			ID:               r.ID,
			RoomID:           r.RoomID,
			SenderID:         r.SenderID,
			RecipientID:      r.RecipientID,
			NotificationType: r.NotificationType,
			Message:          r.Message,
		})
	}

	if err := h.store.InsertNotifications(c.Request.Context(), ns); err != nil {
		log.Error().Err(err).Int("count", len(ns)).Msg("notification insert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create notifications"})
		return
	}

	if h.push != nil {
		for _, n := range ns {
			h.push.Dispatch(n)
		}
	}
	c.JSON(http.StatusCreated, ns)
}

// ListNotifications handles GET /api/notifications.
func (h *Handler) ListNotifications(c *gin.Context) {
	limit := MaxNotifications
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, MaxNotifications)
	}

	ns, err := h.store.ListNotifications(c.Request.Context(), mw.UserID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve notifications"})
		return
	}
	c.JSON(http.StatusOK, ns)
}

// MarkRead handles POST /api/notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	err := h.store.MarkRead(c.Request.Context(), mw.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllRead handles POST /api/notifications/read_all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	n, err := h.store.MarkAllRead(c.Request.Context(), mw.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
