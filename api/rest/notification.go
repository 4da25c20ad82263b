package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/whisprlabs/whispr/server/feed"
	mw "github.com/whisprlabs/whispr/server/middleware"
	"github.com/whisprlabs/whispr/server/model"
	"gorm.io/gorm"
)

// NotificationHandler handles inbox REST endpoints. Friend-request entries
// are managed by the social endpoints only: they cannot be marked read or
// deleted here.
type NotificationHandler struct {
	db   *gorm.DB
	feed *feed.Publisher
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(db *gorm.DB, pub *feed.Publisher) *NotificationHandler {
	return &NotificationHandler{db: db, feed: pub}
}

// List handles GET /api/notifications. Newest first; ?unread=true filters to
// unread entries and ?limit caps the page size.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := mw.GetUserID(c)

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	q := h.db.Where("to_user_id = ?", userID)
	if c.Query("unread") == "true" {
		q = q.Where("is_read = ?", false)
	}

	var notifications []model.Notification
	if err := q.Order("created_at DESC").Limit(limit).Find(&notifications).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// UnreadCount handles GET /api/notifications/unread-count.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID := mw.GetUserID(c)

	var count int64
	if err := h.db.Model(&model.Notification{}).
		Where("to_user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkRead handles PUT /api/notifications/:id/read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := mw.GetUserID(c)
	notifID := c.Param("id")

	var n model.Notification
	if err := h.db.Where("id = ? AND to_user_id = ?", notifID, userID).First(&n).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	if n.Type == model.NotifFriendRequest {
		c.JSON(http.StatusConflict, gin.H{"error": "friend requests must be accepted or denied"})
		return
	}
	if n.IsRead {
		c.JSON(http.StatusOK, gin.H{"message": "already read"})
		return
	}

	n.IsRead = true
	if err := h.db.Model(&n).Update("is_read", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.feed.Notification(c.Request.Context(), feed.OpUpdate, &n)
	c.JSON(http.StatusOK, gin.H{"message": "read"})
}

// MarkAllRead handles PUT /api/notifications/read-all. Friend requests are
// skipped; they stay unread until resolved.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := mw.GetUserID(c)

	res := h.db.Model(&model.Notification{}).
		Where("to_user_id = ? AND is_read = ? AND type <> ?", userID, false, model.NotifFriendRequest).
		Update("is_read", true)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": res.RowsAffected})
}

// Delete handles DELETE /api/notifications/:id.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID := mw.GetUserID(c)
	notifID := c.Param("id")

	var n model.Notification
	if err := h.db.Where("id = ? AND to_user_id = ?", notifID, userID).First(&n).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	if n.Type == model.NotifFriendRequest {
		c.JSON(http.StatusConflict, gin.H{"error": "friend requests must be accepted or denied"})
		return
	}
	if err := h.db.Delete(&n).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.feed.Notification(c.Request.Context(), feed.OpDelete, &n)
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
