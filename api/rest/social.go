package rest

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/whisprlabs/whispr/server/feed"
	mw "github.com/whisprlabs/whispr/server/middleware"
	"github.com/whisprlabs/whispr/server/model"
	"github.com/whisprlabs/whispr/server/presence"
	"gorm.io/gorm"
)

// SocialHandler handles user search and friendship REST endpoints.
type SocialHandler struct {
	db       *gorm.DB
	presence *presence.Manager
	feed     *feed.Publisher
}

// NewSocialHandler creates a new SocialHandler.
func NewSocialHandler(db *gorm.DB, pm *presence.Manager, pub *feed.Publisher) *SocialHandler {
	return &SocialHandler{db: db, presence: pm, feed: pub}
}

// Search handles GET /api/social/search?q=. The query is treated as a user
// ID when it parses as a canonical UUID, otherwise as an exact username
// match (case-insensitive). Searching for yourself is rejected.
func (h *SocialHandler) Search(c *gin.Context) {
	userID := mw.GetUserID(c)
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}

	var profile model.Profile
	var err error
	if isUUID(q) {
		err = h.db.Where("id = ?", q).First(&profile).Error
	} else {
		err = h.db.Where("LOWER(username) = LOWER(?)", q).First(&profile).Error
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if profile.ID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot add yourself"})
		return
	}

	profile.OnlineStatus = h.presence.Status(c.Request.Context(), profile.ID)
	c.JSON(http.StatusOK, gin.H{
		"profile":      profile,
		"relationship": h.relationship(userID, profile.ID),
	})
}

// relationship classifies how userID relates to otherID: friend, a pending
// request in either direction, or none.
func (h *SocialHandler) relationship(userID, otherID string) string {
	if h.edgeExists(userID, otherID) {
		return "friend"
	}
	var count int64
	h.db.Model(&model.Notification{}).
		Where("from_user_id = ? AND to_user_id = ? AND type = ?", userID, otherID, model.NotifFriendRequest).
		Count(&count)
	if count > 0 {
		return "pending_outgoing"
	}
	h.db.Model(&model.Notification{}).
		Where("from_user_id = ? AND to_user_id = ? AND type = ?", otherID, userID, model.NotifFriendRequest).
		Count(&count)
	if count > 0 {
		return "pending_incoming"
	}
	return "none"
}

// edgeExists reports whether any friendship edge connects the two users.
// Accept writes both directions in one transaction, but a single directed
// edge must still count as friends rather than admit a new request.
func (h *SocialHandler) edgeExists(userID, otherID string) bool {
	var count int64
	h.db.Model(&model.Friendship{}).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			userID, otherID, otherID, userID).
		Count(&count)
	return count > 0
}

type friendRequestBody struct {
	UserID string `json:"user_id" binding:"required"`
}

// SendFriendRequest handles POST /api/social/friends/request. The request
// lives as a friend_request notification in the target's inbox until it is
// accepted or denied.
func (h *SocialHandler) SendFriendRequest(c *gin.Context) {
	userID := mw.GetUserID(c)

	var req friendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !isUUID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if req.UserID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot add yourself"})
		return
	}

	var target model.Profile
	if err := h.db.Where("id = ?", req.UserID).First(&target).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if h.edgeExists(userID, req.UserID) {
		c.JSON(http.StatusConflict, gin.H{"error": "already friends"})
		return
	}
	var count int64
	h.db.Model(&model.Notification{}).
		Where("type = ? AND ((from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?))",
			model.NotifFriendRequest, userID, req.UserID, req.UserID, userID).
		Count(&count)
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "request already pending"})
		return
	}

	var sender model.Profile
	if err := h.db.Where("id = ?", userID).First(&sender).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	n := model.Notification{
		FromUserID:      userID,
		ToUserID:        req.UserID,
		Type:            model.NotifFriendRequest,
		Message:         fmt.Sprintf("%s sent you a friend request", sender.Username),
		RelatedEntityID: userID,
	}
	if err := h.db.Create(&n).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.feed.Notification(c.Request.Context(), feed.OpInsert, &n)
	c.JSON(http.StatusCreated, gin.H{"notification_id": n.ID})
}

// AcceptFriendRequest handles POST /api/social/friends/accept/:id, where id
// is the friend_request notification. Both friendship directions and the
// notification removal commit in one transaction; a half-accepted friendship
// would make the relation one-directional.
func (h *SocialHandler) AcceptFriendRequest(c *gin.Context) {
	userID := mw.GetUserID(c)
	notifID := c.Param("id")

	var n model.Notification
	if err := h.db.Where("id = ? AND to_user_id = ? AND type = ?",
		notifID, userID, model.NotifFriendRequest).First(&n).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model.Friendship{UserID: userID, FriendID: n.FromUserID}).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.Friendship{UserID: n.FromUserID, FriendID: userID}).Error; err != nil {
			return err
		}
		return tx.Delete(&n).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Already friends, but the stale request still has to go.
			h.db.Delete(&n)
			h.feed.Notification(c.Request.Context(), feed.OpDelete, &n)
			c.JSON(http.StatusConflict, gin.H{"error": "already friends"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.feed.Notification(c.Request.Context(), feed.OpDelete, &n)
	c.JSON(http.StatusOK, gin.H{"message": "accepted"})
}

// DenyFriendRequest handles POST /api/social/friends/deny/:id. Denying
// removes the notification without creating any friendship rows.
func (h *SocialHandler) DenyFriendRequest(c *gin.Context) {
	userID := mw.GetUserID(c)
	notifID := c.Param("id")

	var n model.Notification
	if err := h.db.Where("id = ? AND to_user_id = ? AND type = ?",
		notifID, userID, model.NotifFriendRequest).First(&n).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	if err := h.db.Delete(&n).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.feed.Notification(c.Request.Context(), feed.OpDelete, &n)
	c.JSON(http.StatusOK, gin.H{"message": "denied"})
}

// ListFriends handles GET /api/social/friends. Each entry carries the
// friend's profile projection and their live presence status.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	userID := mw.GetUserID(c)

	var edges []model.Friendship
	if err := h.db.Where("user_id = ?", userID).Find(&edges).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	friendIDs := make([]string, len(edges))
	for i, e := range edges {
		friendIDs[i] = e.FriendID
	}

	var profiles []model.Profile
	if len(friendIDs) > 0 {
		if err := h.db.Where("id IN ?", friendIDs).Order("username").Find(&profiles).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	statuses := h.presence.Statuses(c.Request.Context(), friendIDs)

	type FriendInfo struct {
		model.ProfileRef
		OnlineStatus string `json:"online_status"`
	}
	result := make([]FriendInfo, len(profiles))
	for i, p := range profiles {
		result[i] = FriendInfo{
			ProfileRef:   p.Ref(),
			OnlineStatus: statuses[p.ID],
		}
	}
	c.JSON(http.StatusOK, gin.H{"friends": result})
}

// Unfriend handles DELETE /api/social/friends/:id. Both directed edges go
// in one transaction so the relation cannot end up one-sided.
func (h *SocialHandler) Unfriend(c *gin.Context) {
	userID := mw.GetUserID(c)
	friendID := c.Param("id")
	if !isUUID(friendID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var edge model.Friendship
	if err := h.db.Where("user_id = ? AND friend_id = ?", userID, friendID).
		First(&edge).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not friends"})
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND friend_id = ?", userID, friendID).
			Delete(&model.Friendship{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND friend_id = ?", friendID, userID).
			Delete(&model.Friendship{}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}
