package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/whisprlabs/whispr/server/chat"
	mw "github.com/whisprlabs/whispr/server/middleware"
)

// MessageHandler handles direct-message REST endpoints. A chat session is
// identified by its two participants; the other participant's user ID is
// the path parameter.
type MessageHandler struct {
	svc *chat.Service
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// History handles GET /api/chats/:user_id/messages. Messages come back
// oldest first with both participants' profile projections attached.
func (h *MessageHandler) History(c *gin.Context) {
	userID := mw.GetUserID(c)
	otherID := c.Param("user_id")
	if !isUUID(otherID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	sessionID, views, err := h.svc.History(userID, otherID)
	if err != nil {
		if errors.Is(err, chat.ErrParticipantGone) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat_session_id": sessionID,
		"messages":        views,
	})
}

type sendMessageRequest struct {
	Content  string `json:"content"`
	ClientID string `json:"client_id" binding:"omitempty,max=36"`
}

// Send handles POST /api/chats/:user_id/messages. Whitespace-only content is
// a silent no-op. A retried send carrying the same client_id returns the
// already-stored message without emitting fresh events.
func (h *MessageHandler) Send(c *gin.Context) {
	userID := mw.GetUserID(c)
	otherID := c.Param("user_id")
	if !isUUID(otherID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, created, err := h.svc.Send(c.Request.Context(), userID, otherID, req.ClientID, req.Content)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		c.Status(http.StatusNoContent)
	case errors.Is(err, chat.ErrSelfMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrParticipantGone):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	case created:
		c.JSON(http.StatusCreated, gin.H{"message": view})
	default:
		c.JSON(http.StatusOK, gin.H{"message": view})
	}
}
