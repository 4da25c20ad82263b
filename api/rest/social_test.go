package rest_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whisprlabs/whispr/server/model"
)

// sendRequest sends a friend request from token to targetID and returns the
// created notification ID.
func sendRequest(t *testing.T, h *harness, token, targetID string) string {
	t.Helper()
	w := h.postJSON("/api/social/friends/request", map[string]string{"user_id": targetID}, auth(token)...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["notification_id"].(string)
}

// befriend runs the full request/accept flow between two users.
func befriend(t *testing.T, h *harness, aliceToken, bobToken, bobID string) {
	t.Helper()
	notifID := sendRequest(t, h, aliceToken, bobID)
	w := h.postJSON("/api/social/friends/accept/"+notifID, nil, auth(bobToken)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSearchByUsername(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")
	bobID, _ := h.signup(t, "bob")

	w := h.getJSON("/api/social/search?q=BOB", auth(aliceToken)...)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	profile := resp["profile"].(map[string]interface{})
	assert.Equal(t, bobID, profile["id"])
	assert.Equal(t, "none", resp["relationship"])
}

func TestSearchByID(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")
	bobID, _ := h.signup(t, "bob")

	w := h.getJSON("/api/social/search?q="+bobID, auth(aliceToken)...)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode(t, w)["profile"].(map[string]interface{})
	assert.Equal(t, "bob", profile["username"])
}

func TestSearchSelf(t *testing.T) {
	h := newHarness(t)
	aliceID, aliceToken := h.signup(t, "alice")

	assert.Equal(t, http.StatusBadRequest,
		h.getJSON("/api/social/search?q=alice", auth(aliceToken)...).Code)
	assert.Equal(t, http.StatusBadRequest,
		h.getJSON("/api/social/search?q="+aliceID, auth(aliceToken)...).Code)
}

func TestSearchNotFound(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")

	w := h.getJSON("/api/social/search?q=ghost", auth(aliceToken)...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchMalformedUUIDTreatedAsUsername(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")

	// Right shape but invalid version nibble: not a UUID, looked up as a
	// username and not found.
	q := "12345678-1234-0234-8234-123456789012"
	w := h.getJSON("/api/social/search?q="+q, auth(aliceToken)...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendFriendRequest(t *testing.T) {
	h := newHarness(t)
	aliceID, aliceToken := h.signup(t, "alice")
	bobID, _ := h.signup(t, "bob")

	notifID := sendRequest(t, h, aliceToken, bobID)

	var n model.Notification
	require.NoError(t, h.db.Where("id = ?", notifID).First(&n).Error)
	assert.Equal(t, model.NotifFriendRequest, n.Type)
	assert.Equal(t, aliceID, n.FromUserID)
	assert.Equal(t, bobID, n.ToUserID)
	assert.False(t, n.IsRead)
}

func TestSendFriendRequestToSelf(t *testing.T) {
	h := newHarness(t)
	aliceID, aliceToken := h.signup(t, "alice")

	w := h.postJSON("/api/social/friends/request", map[string]string{"user_id": aliceID}, auth(aliceToken)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendFriendRequestUnknownUser(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")

	w := h.postJSON("/api/social/friends/request",
		map[string]string{"user_id": "7f000000-0000-4000-8000-000000000001"}, auth(aliceToken)...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendFriendRequestInvalidID(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")

	w := h.postJSON("/api/social/friends/request",
		map[string]string{"user_id": "not-a-uuid"}, auth(aliceToken)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendFriendRequestDuplicate(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")
	bobID, _ := h.signup(t, "bob")

	sendRequest(t, h, aliceToken, bobID)
	w := h.postJSON("/api/social/friends/request", map[string]string{"user_id": bobID}, auth(aliceToken)...)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSendFriendRequestReverseAlreadyPending(t *testing.T) {
	h := newHarness(t)
	aliceID, aliceToken := h.signup(t, "alice")
	bobID, bobToken := h.signup(t, "bob")

	sendRequest(t, h, aliceToken, bobID)
	// Bob asking Alice while her request is pending is the same conflict.
	w := h.postJSON("/api/social/friends/request", map[string]string{"user_id": aliceID}, auth(bobToken)...)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSendFriendRequestAlreadyFriends(t *testing.T) {
	h := newHarness(t)
	aliceID, aliceToken := h.signup(t, "alice")
	bobID, bobToken := h.signup(t, "bob")
	befriend(t, h, aliceToken, bobToken, bobID)

	w := h.postJSON("/api/social/friends/request", map[string]string{"user_id": bobID}, auth(aliceToken)...)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = h.postJSON("/api/social/friends/request", map[string]string{"user_id": aliceID}, auth(bobToken)...)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSendFriendRequestSingleDirectedEdge(t *testing.T) {
	h := newHarness(t)
	aliceID, aliceToken := h.signup(t, "alice")
	bobID, bobToken := h.signup(t, "bob")

	// One leftover directed edge (e.g. an interrupted accept) still counts
	// as friends, whichever side asks.
	require.NoError(t, h.db.Create(&model.Friendship{UserID: bobID, FriendID: aliceID}).Error)

	w := h.postJSON("/api/social/friends/request", map[string]string{"user_id": bobID}, auth(aliceToken)...)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	w = h.postJSON("/api/social/friends/request", map[string]string{"user_id": aliceID}, auth(bobToken)...)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	var count int64
	h.db.Model(&model.Notification{}).Count(&count)
	assert.Equal(t, int64(0), count)

	// Search classifies the pair as friends from both sides too.
	w = h.getJSON("/api/social/search?q="+bobID, auth(aliceToken)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "friend", decode(t, w)["relationship"])
	w = h.getJSON("/api/social/search?q="+aliceID, auth(bobToken)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "friend", decode(t, w)["relationship"])
}

func TestAcceptFriendRequest(t *testing.T) {
	h := newHarness(t)
	aliceID, aliceToken := h.signup(t, "alice")
	bobID, bobToken := h.signup(t, "bob")

	notifID := sendRequest(t, h, aliceToken, bobID)
	w := h.postJSON("/api/social/friends/accept/"+notifID, nil, auth(bobToken)...)
	require.Equal(t, http.StatusOK, w.Code)

	// Both directed edges exist.
	var count int64
	h.db.Model(&model.Friendship{}).Where("user_id = ? AND friend_id = ?", aliceID, bobID).Count(&count)
	assert.Equal(t, int64(1), count)
	h.db.Model(&model.Friendship{}).Where("user_id = ? AND friend_id = ?", bobID, aliceID).Count(&count)
	assert.Equal(t, int64(1), count)

	// The request notification is gone.
	h.db.Model(&model.Notification{}).Where("id = ?", notifID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestAcceptOnlyRecipientCan(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")
	bobID, _ := h.signup(t, "bob")

	notifID := sendRequest(t, h, aliceToken, bobID)
	// Alice (the sender) cannot accept her own request.
	w := h.postJSON("/api/social/friends/accept/"+notifID, nil, auth(aliceToken)...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDenyFriendRequest(t *testing.T) {
	h := newHarness(t)
	aliceID, aliceToken := h.signup(t, "alice")
	bobID, bobToken := h.signup(t, "bob")

	notifID := sendRequest(t, h, aliceToken, bobID)
	w := h.postJSON("/api/social/friends/deny/"+notifID, nil, auth(bobToken)...)
	require.Equal(t, http.StatusOK, w.Code)

	// No friendship formed, notification removed.
	var count int64
	h.db.Model(&model.Friendship{}).Where("user_id = ?", aliceID).Count(&count)
	assert.Equal(t, int64(0), count)
	h.db.Model(&model.Notification{}).Where("id = ?", notifID).Count(&count)
	assert.Equal(t, int64(0), count)

	// And a new request can be sent afterwards.
	sendRequest(t, h, aliceToken, bobID)
}

func TestListFriends(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")
	bobID, bobToken := h.signup(t, "bob")

	befriend(t, h, aliceToken, bobToken, bobID)

	w := h.getJSON("/api/social/friends", auth(aliceToken)...)
	require.Equal(t, http.StatusOK, w.Code)
	friends := decode(t, w)["friends"].([]interface{})
	require.Len(t, friends, 1)
	friend := friends[0].(map[string]interface{})
	assert.Equal(t, bobID, friend["id"])
	assert.Equal(t, "offline", friend["online_status"])
}

func TestRelationshipAfterAccept(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")
	bobID, bobToken := h.signup(t, "bob")

	befriend(t, h, aliceToken, bobToken, bobID)

	w := h.getJSON("/api/social/search?q=bob", auth(aliceToken)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "friend", decode(t, w)["relationship"])
}

func TestUnfriend(t *testing.T) {
	h := newHarness(t)
	aliceID, aliceToken := h.signup(t, "alice")
	bobID, bobToken := h.signup(t, "bob")

	befriend(t, h, aliceToken, bobToken, bobID)

	w := h.delete("/api/social/friends/"+bobID, auth(aliceToken)...)
	require.Equal(t, http.StatusOK, w.Code)

	// Both directions removed.
	var count int64
	h.db.Model(&model.Friendship{}).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			aliceID, bobID, bobID, aliceID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestUnfriendNotFriends(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup(t, "alice")
	bobID, _ := h.signup(t, "bob")

	w := h.delete("/api/social/friends/"+bobID, auth(aliceToken)...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
