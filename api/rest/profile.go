package rest

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/whisprlabs/whispr/server/config"
	"github.com/whisprlabs/whispr/server/feed"
	mw "github.com/whisprlabs/whispr/server/middleware"
	"github.com/whisprlabs/whispr/server/model"
	"github.com/whisprlabs/whispr/server/presence"
	"github.com/whisprlabs/whispr/server/storage"
	"gorm.io/gorm"
)

const maxAvatarBytes = 5 << 20

// ProfileHandler handles profile REST endpoints.
type ProfileHandler struct {
	db       *gorm.DB
	presence *presence.Manager
	store    storage.Store
	storeCfg config.StorageConfig
	feed     *feed.Publisher
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(db *gorm.DB, pm *presence.Manager, store storage.Store, storeCfg config.StorageConfig, pub *feed.Publisher) *ProfileHandler {
	return &ProfileHandler{db: db, presence: pm, store: store, storeCfg: storeCfg, feed: pub}
}

// Me handles GET /api/profiles/me.
func (h *ProfileHandler) Me(c *gin.Context) {
	userID := mw.GetUserID(c)

	var profile model.Profile
	if err := h.db.Where("id = ?", userID).First(&profile).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	profile.OnlineStatus = h.presence.Status(c.Request.Context(), profile.ID)
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

// Get handles GET /api/profiles/:id. Viewing another user's profile drops a
// profile_view notification in their inbox.
func (h *ProfileHandler) Get(c *gin.Context) {
	viewerID := mw.GetUserID(c)
	targetID := c.Param("id")
	if !isUUID(targetID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
		return
	}

	var profile model.Profile
	if err := h.db.Where("id = ?", targetID).First(&profile).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	profile.OnlineStatus = h.presence.Status(c.Request.Context(), profile.ID)

	if viewerID != targetID {
		h.recordProfileView(c, viewerID, targetID)
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (h *ProfileHandler) recordProfileView(c *gin.Context, viewerID, targetID string) {
	var viewer model.Profile
	if err := h.db.Where("id = ?", viewerID).First(&viewer).Error; err != nil {
		return
	}
	n := model.Notification{
		FromUserID: viewerID,
		ToUserID:   targetID,
		Type:       model.NotifProfileView,
		Message:    fmt.Sprintf("%s viewed your profile", viewer.Username),
	}
	if err := h.db.Create(&n).Error; err != nil {
		return
	}
	h.feed.Notification(c.Request.Context(), feed.OpInsert, &n)
}

type profileUpdateRequest struct {
	DisplayName           *string `json:"display_name" binding:"omitempty,max=64"`
	ProfileImage          *string `json:"profile_image" binding:"omitempty,max=512"`
	ThemeColor            *string `json:"theme_color" binding:"omitempty,max=16"`
	Bio                   *string `json:"bio" binding:"omitempty,max=2000"`
	PublicStatus          *string `json:"public_status" binding:"omitempty,max=128"`
	ChatBubbleColor       *string `json:"chat_bubble_color" binding:"omitempty,max=16"`
	DefaultChatBackground *string `json:"default_chat_background" binding:"omitempty,max=512"`
}

// Update handles PUT /api/profiles/me. Only the fields present in the body
// are touched.
func (h *ProfileHandler) Update(c *gin.Context) {
	userID := mw.GetUserID(c)

	var req profileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.ProfileImage != nil {
		updates["profile_image"] = *req.ProfileImage
	}
	if req.ThemeColor != nil {
		updates["theme_color"] = *req.ThemeColor
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.PublicStatus != nil {
		updates["public_status"] = *req.PublicStatus
	}
	if req.ChatBubbleColor != nil {
		updates["chat_bubble_color"] = *req.ChatBubbleColor
	}
	if req.DefaultChatBackground != nil {
		updates["default_chat_background"] = *req.DefaultChatBackground
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	res := h.db.Model(&model.Profile{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	var profile model.Profile
	h.db.Where("id = ?", userID).First(&profile)
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

// UploadAvatar handles POST /api/profiles/me/avatar. The file is stored in
// the avatar bucket and the profile image URL updated to point at it.
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	userID := mw.GetUserID(c)

	file, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing avatar file"})
		return
	}
	if file.Size > maxAvatarBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "avatar too large"})
		return
	}
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar must be an image"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer src.Close()

	object := userID + filepath.Ext(file.Filename)
	url, err := h.store.Put(c.Request.Context(), h.storeCfg.AvatarBucket, object, src, file.Size, contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	if err := h.db.Model(&model.Profile{}).Where("id = ?", userID).
		Update("profile_image", url).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile_image": url})
}

type statusRequest struct {
	OnlineStatus string `json:"online_status" binding:"required"`
}

// SetStatus handles PUT /api/profiles/me/status. The chosen status is
// mirrored to the presence hash so friend listings pick it up immediately.
func (h *ProfileHandler) SetStatus(c *gin.Context) {
	userID := mw.GetUserID(c)

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !model.ValidOnlineStatus(req.OnlineStatus) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid online status"})
		return
	}

	if err := h.db.Model(&model.Profile{}).Where("id = ?", userID).
		Update("online_status", req.OnlineStatus).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err := h.presence.SetStatus(c.Request.Context(), userID, req.OnlineStatus); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online_status": req.OnlineStatus})
}
