package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/whisprlabs/whispr/server/cache"
	"github.com/whisprlabs/whispr/server/chat"
	"github.com/whisprlabs/whispr/server/config"
	"github.com/whisprlabs/whispr/server/feed"
	"github.com/whisprlabs/whispr/server/model"
	"github.com/whisprlabs/whispr/server/presence"
	"github.com/whisprlabs/whispr/server/testutil"
)

type chatFixture struct {
	db    *gorm.DB
	h     *ChatHandlers
	pm    *presence.Manager
	ps    cache.PubSub
	alice string
	bob   string
}

func setupChatHandlers(t *testing.T) *chatFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)

	pub := feed.NewPublisher(ps, zap.NewNop())
	svc := chat.NewService(db, c, pub, config.ChatConfig{MaxMessageRunes: 2000, HistoryCacheSize: 50})
	pm := presence.NewManager(c, zap.NewNop())
	h := NewChatHandlers(db, svc, ps, pm, zap.NewNop())

	f := &chatFixture{db: db, h: h, pm: pm, ps: ps}
	f.alice = seedUser(t, db, "alice")
	f.bob = seedUser(t, db, "bob")
	return f
}

func seedUser(t *testing.T, db *gorm.DB, username string) string {
	t.Helper()
	u := &model.User{Username: username, Email: username + "@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(u).Error)
	require.NoError(t, db.Create(&model.Profile{ID: u.ID, Username: username}).Error)
	return u.ID
}

// readPacket waits for the next packet on the session's send channel.
func readPacket(t *testing.T, s *Session) *Packet {
	t.Helper()
	select {
	case data := <-s.SendChan:
		var pkt Packet
		require.NoError(t, json.Unmarshal(data, &pkt))
		return &pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

// expectNoPacket asserts nothing arrives on the session within the window.
func expectNoPacket(t *testing.T, s *Session) {
	t.Helper()
	select {
	case data := <-s.SendChan:
		t.Fatalf("unexpected packet: %s", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func rawPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestMessageSend_AckAndPersist(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)

	err := f.h.MessageSend(context.Background(), s, rawPayload(t, map[string]string{
		"user_id":   f.bob,
		"client_id": "c-1",
		"content":   "hello bob",
	}))
	require.NoError(t, err)

	pkt := readPacket(t, s)
	assert.Equal(t, "message_ack", pkt.Type)

	var ack struct {
		ClientID string           `json:"client_id"`
		Message  chat.MessageView `json:"message"`
	}
	require.NoError(t, json.Unmarshal(pkt.Payload, &ack))
	assert.Equal(t, "c-1", ack.ClientID)
	assert.Equal(t, "hello bob", ack.Message.Content)
	assert.Equal(t, "alice", ack.Message.Sender.Username)

	var count int64
	f.db.Model(&model.Message{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestMessageSend_WhitespaceIsSilentNoop(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)

	err := f.h.MessageSend(context.Background(), s, rawPayload(t, map[string]string{
		"user_id": f.bob,
		"content": "   \n\t ",
	}))
	require.NoError(t, err)
	expectNoPacket(t, s)

	var count int64
	f.db.Model(&model.Message{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestMessageSend_SelfReturnsError(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)

	err := f.h.MessageSend(context.Background(), s, rawPayload(t, map[string]string{
		"user_id": f.alice,
		"content": "hi me",
	}))
	require.NoError(t, err)

	pkt := readPacket(t, s)
	assert.Equal(t, "error", pkt.Type)

	var ep errorPayload
	require.NoError(t, json.Unmarshal(pkt.Payload, &ep))
	assert.Equal(t, "message_send", ep.Request)
}

func TestSubscribe_ReceivesRecentThenLiveEvents(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)
	ctx := context.Background()

	require.NoError(t, f.h.Subscribe(ctx, s, rawPayload(t, map[string]string{"user_id": f.bob})))

	pkt := readPacket(t, s)
	require.Equal(t, "subscribed", pkt.Type)

	var sub struct {
		ChatSessionID string             `json:"chat_session_id"`
		Recent        []chat.MessageView `json:"recent"`
	}
	require.NoError(t, json.Unmarshal(pkt.Payload, &sub))
	assert.Equal(t, chat.SessionID(f.alice, f.bob), sub.ChatSessionID)
	assert.Empty(t, sub.Recent)

	// A message sent through the service reaches the subscriber as feed events.
	bobSess := newTestSession(f.bob)
	require.NoError(t, f.h.MessageSend(ctx, bobSess, rawPayload(t, map[string]string{
		"user_id": f.alice,
		"content": "hi alice",
	})))

	pkt = readPacket(t, s)
	assert.Equal(t, "chat_event", pkt.Type)

	var ev feed.Event
	require.NoError(t, json.Unmarshal(pkt.Payload, &ev))
	assert.Equal(t, feed.OpInsert, ev.Op)
	assert.Equal(t, feed.TableMessages, ev.Table)
}

func TestSubscribe_BySessionID(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)
	ctx := context.Background()

	// Resubscribe path: the client presents a session id from an earlier ack.
	sessionID := chat.SessionID(f.alice, f.bob)
	require.NoError(t, f.h.Subscribe(ctx, s, rawPayload(t, map[string]string{"chat_session_id": sessionID})))

	pkt := readPacket(t, s)
	require.Equal(t, "subscribed", pkt.Type)

	var sub struct {
		ChatSessionID string `json:"chat_session_id"`
	}
	require.NoError(t, json.Unmarshal(pkt.Payload, &sub))
	assert.Equal(t, sessionID, sub.ChatSessionID)

	require.NoError(t, f.h.Unsubscribe(ctx, s, rawPayload(t, map[string]string{"chat_session_id": sessionID})))
	assert.Equal(t, "unsubscribed", readPacket(t, s).Type)
}

func TestSubscribe_ForeignSessionRejected(t *testing.T) {
	f := setupChatHandlers(t)
	carol := seedUser(t, f.db, "carol")
	s := newTestSession(carol)
	ctx := context.Background()

	// Carol naming Alice and Bob's conversation is not a participant.
	foreign := chat.SessionID(f.alice, f.bob)
	require.NoError(t, f.h.Subscribe(ctx, s, rawPayload(t, map[string]string{"chat_session_id": foreign})))
	assert.Equal(t, "error", readPacket(t, s).Type)

	require.NoError(t, f.ps.Publish(ctx, feed.ChatChannel(foreign), `{"table":"messages","op":"INSERT"}`))
	expectNoPacket(t, s)
}

func TestSubscribe_InvalidTargets(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)
	ctx := context.Background()

	require.NoError(t, f.h.Subscribe(ctx, s, rawPayload(t, map[string]string{"user_id": ""})))
	assert.Equal(t, "error", readPacket(t, s).Type)

	require.NoError(t, f.h.Subscribe(ctx, s, rawPayload(t, map[string]string{"user_id": f.alice})))
	assert.Equal(t, "error", readPacket(t, s).Type)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)
	ctx := context.Background()

	require.NoError(t, f.h.Subscribe(ctx, s, rawPayload(t, map[string]string{"user_id": f.bob})))
	require.Equal(t, "subscribed", readPacket(t, s).Type)

	require.NoError(t, f.h.Unsubscribe(ctx, s, rawPayload(t, map[string]string{"user_id": f.bob})))
	require.Equal(t, "unsubscribed", readPacket(t, s).Type)

	sessionID := chat.SessionID(f.alice, f.bob)
	require.NoError(t, f.ps.Publish(ctx, feed.ChatChannel(sessionID), `{"table":"messages","op":"INSERT"}`))
	expectNoPacket(t, s)
}

func TestUnsubscribe_NotSubscribed(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)

	require.NoError(t, f.h.Unsubscribe(context.Background(), s, rawPayload(t, map[string]string{"user_id": f.bob})))
	assert.Equal(t, "error", readPacket(t, s).Type)
}

func TestSessionClose_StopsDelivery(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)
	ctx := context.Background()

	require.NoError(t, f.h.Subscribe(ctx, s, rawPayload(t, map[string]string{"user_id": f.bob})))
	require.Equal(t, "subscribed", readPacket(t, s).Type)

	s.Close()

	sessionID := chat.SessionID(f.alice, f.bob)
	require.NoError(t, f.ps.Publish(ctx, feed.ChatChannel(sessionID), `{"table":"messages","op":"INSERT"}`))
	expectNoPacket(t, s)
}

func TestPresenceSet_PersistsAndAcks(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)
	ctx := context.Background()

	require.NoError(t, f.h.PresenceSet(ctx, s, rawPayload(t, map[string]string{"online_status": model.StatusAway})))

	pkt := readPacket(t, s)
	require.Equal(t, "presence_ack", pkt.Type)

	var profile model.Profile
	require.NoError(t, f.db.First(&profile, "id = ?", f.alice).Error)
	assert.Equal(t, model.StatusAway, profile.OnlineStatus)

	assert.Equal(t, model.StatusAway, f.pm.Status(ctx, f.alice))
}

func TestPresenceSet_InvalidStatus(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)

	require.NoError(t, f.h.PresenceSet(context.Background(), s, rawPayload(t, map[string]string{"online_status": "invisible"})))
	assert.Equal(t, "error", readPacket(t, s).Type)
}

func TestPing_Pong(t *testing.T) {
	f := setupChatHandlers(t)
	s := newTestSession(f.alice)

	require.NoError(t, f.h.Ping(context.Background(), s, rawPayload(t, map[string]int64{"client_ts": 123})))

	pkt := readPacket(t, s)
	require.Equal(t, "pong", pkt.Type)

	var pong map[string]int64
	require.NoError(t, json.Unmarshal(pkt.Payload, &pong))
	assert.Equal(t, int64(123), pong["client_ts"])
	assert.NotZero(t, pong["server_ts"])
}
