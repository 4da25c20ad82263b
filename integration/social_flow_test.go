package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full lifecycle: two users sign up, find each other, become friends, and
// exchange direct messages, with the inbox tracking every step.
func TestFriendshipAndMessagingFlow(t *testing.T) {
	ts := NewTestServer(t)

	aliceName := UniqueID("alice")
	bobName := UniqueID("bob")
	aliceToken, aliceID := ts.Signup(t, aliceName)
	bobToken, bobID := ts.Signup(t, bobName)

	// Alice finds Bob by username.
	resp := ts.Get(t, "/api/social/search?q="+bobName, aliceToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found struct {
		Profile struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"profile"`
		Relationship string `json:"relationship"`
	}
	ReadJSON(t, resp, &found)
	assert.Equal(t, bobID, found.Profile.ID)
	assert.Equal(t, "none", found.Relationship)

	// Alice sends a friend request.
	resp = ts.PostJSON(t, "/api/social/friends/request", map[string]string{"user_id": bobID}, aliceToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		NotificationID string `json:"notification_id"`
	}
	ReadJSON(t, resp, &created)
	require.NotEmpty(t, created.NotificationID)

	// Bob sees it in his inbox.
	resp = ts.Get(t, "/api/notifications/unread-count", bobToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var unread struct {
		Count int64 `json:"count"`
	}
	ReadJSON(t, resp, &unread)
	assert.Equal(t, int64(1), unread.Count)

	// A friend request can only leave the inbox by accept or deny.
	resp = ts.Put(t, "/api/notifications/"+created.NotificationID+"/read", nil, bobToken)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Bob accepts.
	resp = ts.PostJSON(t, "/api/social/friends/accept/"+created.NotificationID, nil, bobToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Both sides now list each other as friends.
	for _, tok := range []string{aliceToken, bobToken} {
		resp = ts.Get(t, "/api/social/friends", tok)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var friends struct {
			Friends []map[string]interface{} `json:"friends"`
		}
		ReadJSON(t, resp, &friends)
		require.Len(t, friends.Friends, 1)
	}

	// Alice messages Bob.
	resp = ts.PostJSON(t, fmt.Sprintf("/api/chats/%s/messages", bobID), map[string]string{
		"client_id": "flow-1",
		"content":   "hey bob",
	}, aliceToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent struct {
		Message struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"message"`
	}
	ReadJSON(t, resp, &sent)
	assert.Equal(t, "hey bob", sent.Message.Content)

	// Bob sees the same conversation.
	resp = ts.Get(t, fmt.Sprintf("/api/chats/%s/messages", aliceID), bobToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	ReadJSON(t, resp, &history)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, sent.Message.ID, history.Messages[0].ID)

	// And a new_message notification landed in his inbox.
	resp = ts.Get(t, "/api/notifications?unread=true", bobToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inbox struct {
		Notifications []struct {
			Type string `json:"type"`
		} `json:"notifications"`
	}
	ReadJSON(t, resp, &inbox)
	types := make([]string, 0, len(inbox.Notifications))
	for _, n := range inbox.Notifications {
		types = append(types, n.Type)
	}
	assert.Contains(t, types, "new_message")
}

func TestUnfriendRestoresCleanSlate(t *testing.T) {
	ts := NewTestServer(t)

	aliceToken, _ := ts.Signup(t, UniqueID("alice"))
	bobToken, bobID := ts.Signup(t, UniqueID("bob"))

	resp := ts.PostJSON(t, "/api/social/friends/request", map[string]string{"user_id": bobID}, aliceToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		NotificationID string `json:"notification_id"`
	}
	ReadJSON(t, resp, &created)

	resp = ts.PostJSON(t, "/api/social/friends/accept/"+created.NotificationID, nil, bobToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Delete(t, "/api/social/friends/"+bobID, aliceToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	for _, tok := range []string{aliceToken, bobToken} {
		resp = ts.Get(t, "/api/social/friends", tok)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var friends struct {
			Friends []map[string]interface{} `json:"friends"`
		}
		ReadJSON(t, resp, &friends)
		assert.Empty(t, friends.Friends)
	}
}

func TestAuthSessionLifecycle(t *testing.T) {
	ts := NewTestServer(t)

	name := UniqueID("carol")
	token, _ := ts.Signup(t, name)

	// Authenticated endpoint works.
	resp := ts.Get(t, "/api/profiles/me", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Refresh rotates the session.
	resp = ts.PostJSON(t, "/api/auth/refresh", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refreshed struct {
		Token string `json:"token"`
	}
	ReadJSON(t, resp, &refreshed)
	require.NotEmpty(t, refreshed.Token)

	// The old token no longer works; the new one does.
	resp = ts.Get(t, "/api/profiles/me", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	resp = ts.Get(t, "/api/profiles/me", refreshed.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Logout invalidates.
	resp = ts.PostJSON(t, "/api/auth/logout", nil, refreshed.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = ts.Get(t, "/api/profiles/me", refreshed.Token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
