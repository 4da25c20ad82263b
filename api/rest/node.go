package rest

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/whisprlabs/whispr/server/config"
	mw "github.com/whisprlabs/whispr/server/middleware"
	"github.com/whisprlabs/whispr/server/model"
	"github.com/whisprlabs/whispr/server/storage"
	"gorm.io/gorm"
)

const maxIconBytes = 2 << 20

// NodeHandler handles community node and channel REST endpoints.
type NodeHandler struct {
	db       *gorm.DB
	store    storage.Store
	storeCfg config.StorageConfig
}

// NewNodeHandler creates a new NodeHandler.
func NewNodeHandler(db *gorm.DB, store storage.Store, storeCfg config.StorageConfig) *NodeHandler {
	return &NodeHandler{db: db, store: store, storeCfg: storeCfg}
}

// List handles GET /api/nodes. Every node is browsable; joined marks the
// caller's memberships.
func (h *NodeHandler) List(c *gin.Context) {
	userID := mw.GetUserID(c)

	var nodes []model.Node
	if err := h.db.Order("name").Find(&nodes).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	var memberships []model.NodeMember
	h.db.Where("user_id = ?", userID).Find(&memberships)
	joined := make(map[string]bool, len(memberships))
	for _, m := range memberships {
		joined[m.NodeID] = true
	}

	type NodeInfo struct {
		model.Node
		Joined bool `json:"joined"`
	}
	result := make([]NodeInfo, len(nodes))
	for i, n := range nodes {
		result[i] = NodeInfo{Node: n, Joined: joined[n.ID]}
	}
	c.JSON(http.StatusOK, gin.H{"nodes": result})
}

// Get handles GET /api/nodes/:id with channels and member count.
func (h *NodeHandler) Get(c *gin.Context) {
	nodeID := c.Param("id")

	var node model.Node
	if err := h.db.Where("id = ?", nodeID).First(&node).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}

	var channels []model.Channel
	h.db.Where("node_id = ?", nodeID).Order("created_at").Find(&channels)

	var memberCount int64
	h.db.Model(&model.NodeMember{}).Where("node_id = ?", nodeID).Count(&memberCount)

	c.JSON(http.StatusOK, gin.H{
		"node":         node,
		"channels":     channels,
		"member_count": memberCount,
	})
}

type nodeCreateRequest struct {
	Name        string `json:"name" binding:"required,min=2,max=64"`
	Description string `json:"description" binding:"omitempty,max=2000"`
}

// Create handles POST /api/nodes. The creator becomes the owner and a
// default text channel is opened, all in one transaction.
func (h *NodeHandler) Create(c *gin.Context) {
	userID := mw.GetUserID(c)

	var req nodeCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	node := model.Node{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     userID,
	}
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&node).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.NodeMember{
			NodeID: node.ID,
			UserID: userID,
			Role:   model.NodeRoleOwner,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&model.Channel{
			NodeID: node.ID,
			Name:   "general",
			Kind:   model.ChannelText,
		}).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "node name already taken"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"node": node})
}

type nodeUpdateRequest struct {
	Description *string `json:"description" binding:"omitempty,max=2000"`
}

// Update handles PUT /api/nodes/:id. Owner only.
func (h *NodeHandler) Update(c *gin.Context) {
	node, ok := h.requireOwner(c)
	if !ok {
		return
	}

	var req nodeUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Description == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if err := h.db.Model(node).Update("description", *req.Description).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node})
}

// Delete handles DELETE /api/nodes/:id. Owner only; removes channels and
// memberships with the node.
func (h *NodeHandler) Delete(c *gin.Context) {
	node, ok := h.requireOwner(c)
	if !ok {
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("node_id = ?", node.ID).Delete(&model.Channel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("node_id = ?", node.ID).Delete(&model.NodeMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(node).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// Join handles POST /api/nodes/:id/join.
func (h *NodeHandler) Join(c *gin.Context) {
	userID := mw.GetUserID(c)
	nodeID := c.Param("id")

	var node model.Node
	if err := h.db.Where("id = ?", nodeID).First(&node).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}

	member := model.NodeMember{NodeID: nodeID, UserID: userID, Role: model.NodeRoleMember}
	if err := h.db.Create(&member).Error; err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "already a member"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "joined"})
}

// Leave handles POST /api/nodes/:id/leave. The owner cannot leave; they must
// delete the node instead.
func (h *NodeHandler) Leave(c *gin.Context) {
	userID := mw.GetUserID(c)
	nodeID := c.Param("id")

	var member model.NodeMember
	if err := h.db.Where("node_id = ? AND user_id = ?", nodeID, userID).
		First(&member).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not a member"})
		return
	}
	if member.Role == model.NodeRoleOwner {
		c.JSON(http.StatusConflict, gin.H{"error": "owner cannot leave, delete the node instead"})
		return
	}

	if err := h.db.Delete(&member).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left"})
}

// Kick handles DELETE /api/nodes/:id/members/:user_id. Owner only.
func (h *NodeHandler) Kick(c *gin.Context) {
	node, ok := h.requireOwner(c)
	if !ok {
		return
	}
	targetID := c.Param("user_id")
	if targetID == node.OwnerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot kick the owner"})
		return
	}

	res := h.db.Where("node_id = ? AND user_id = ?", node.ID, targetID).
		Delete(&model.NodeMember{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not a member"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "kicked"})
}

// UploadIcon handles POST /api/nodes/:id/icon. Owner only.
func (h *NodeHandler) UploadIcon(c *gin.Context) {
	node, ok := h.requireOwner(c)
	if !ok {
		return
	}

	file, err := c.FormFile("icon")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing icon file"})
		return
	}
	if file.Size > maxIconBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "icon too large"})
		return
	}
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "icon must be an image"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer src.Close()

	object := node.ID + filepath.Ext(file.Filename)
	url, err := h.store.Put(c.Request.Context(), h.storeCfg.NodeIconBucket, object, src, file.Size, contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	if err := h.db.Model(node).Update("icon_url", url).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"icon_url": url})
}

type channelCreateRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64"`
	Kind string `json:"kind" binding:"omitempty,oneof=text voice"`
}

// CreateChannel handles POST /api/nodes/:id/channels. Owner only.
func (h *NodeHandler) CreateChannel(c *gin.Context) {
	node, ok := h.requireOwner(c)
	if !ok {
		return
	}

	var req channelCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = model.ChannelText
	}

	channel := model.Channel{NodeID: node.ID, Name: req.Name, Kind: kind}
	if err := h.db.Create(&channel).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"channel": channel})
}

// DeleteChannel handles DELETE /api/nodes/:id/channels/:channel_id. Owner
// only.
func (h *NodeHandler) DeleteChannel(c *gin.Context) {
	node, ok := h.requireOwner(c)
	if !ok {
		return
	}

	res := h.db.Where("id = ? AND node_id = ?", c.Param("channel_id"), node.ID).
		Delete(&model.Channel{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// requireOwner loads the node from :id and rejects callers who do not own
// it. Writes the error response itself when returning ok=false.
func (h *NodeHandler) requireOwner(c *gin.Context) (*model.Node, bool) {
	userID := mw.GetUserID(c)
	nodeID := c.Param("id")

	var node model.Node
	if err := h.db.Where("id = ?", nodeID).First(&node).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return nil, false
	}
	if node.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "owner only"})
		return nil, false
	}
	return &node, true
}
