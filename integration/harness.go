package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/whisprlabs/whispr/server/api/rest"
	"github.com/whisprlabs/whispr/server/api/sse"
	apows "github.com/whisprlabs/whispr/server/api/ws"
	"github.com/whisprlabs/whispr/server/audit"
	"github.com/whisprlabs/whispr/server/cache"
	"github.com/whisprlabs/whispr/server/chat"
	"github.com/whisprlabs/whispr/server/config"
	"github.com/whisprlabs/whispr/server/feed"
	"github.com/whisprlabs/whispr/server/mailer"
	mw "github.com/whisprlabs/whispr/server/middleware"
	"github.com/whisprlabs/whispr/server/presence"
	"github.com/whisprlabs/whispr/server/storage"
	"github.com/whisprlabs/whispr/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with all subsystems wired together.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Presence *presence.Manager
	Store    *storage.MemoryStore
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws
	Sec      config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTL:         72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}
	storeCfg := config.StorageConfig{AvatarBucket: "avatars", NodeIconBucket: "node-icons"}
	mailCfg := config.MailConfig{FromAddress: "no-reply@whispr.test", ResetTTL: 30 * time.Minute}
	chatCfg := config.ChatConfig{MaxMessageRunes: 2000, HistoryCacheSize: 50}

	// ---- Services ----
	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(nil) })

	pub := feed.NewPublisher(pubsub, logger)
	pm := presence.NewManager(c, logger)
	t.Cleanup(pm.CloseAll)

	store := storage.NewMemoryStore()
	mail := mailer.New(mailCfg, logger)
	chatSvc := chat.NewService(db, c, pub, chatCfg)

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	chatWS := apows.NewChatHandlers(db, chatSvc, pubsub, pm, logger)
	chatWS.Register(wsRouter)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes (mirrors main.go) ----
	authH := apirest.NewAuthHandler(db, c, sec, mailCfg, mail, auditSvc)
	profileH := apirest.NewProfileHandler(db, pm, store, storeCfg, pub)
	socialH := apirest.NewSocialHandler(db, pm, pub)
	notifH := apirest.NewNotificationHandler(db, pub)
	msgH := apirest.NewMessageHandler(chatSvc)
	nodeH := apirest.NewNodeHandler(db, store, storeCfg)

	api := r.Group("/api")
	{
		api.POST("/auth/signup", authH.Signup)
		api.POST("/auth/login", authH.Login)
		api.POST("/auth/password-reset", authH.RequestPasswordReset)
		api.POST("/auth/password-reset/confirm", authH.ConfirmPasswordReset)

		authed := api.Group("", mw.Auth(sec, c))
		authed.POST("/auth/logout", authH.Logout)
		authed.POST("/auth/refresh", authH.Refresh)

		authed.GET("/profiles/me", profileH.Me)
		authed.PUT("/profiles/me", profileH.Update)
		authed.POST("/profiles/me/avatar", profileH.UploadAvatar)
		authed.PUT("/profiles/me/status", profileH.SetStatus)
		authed.GET("/profiles/:id", profileH.Get)

		authed.GET("/social/search", socialH.Search)
		authed.GET("/social/friends", socialH.ListFriends)
		authed.POST("/social/friends/request", socialH.SendFriendRequest)
		authed.POST("/social/friends/accept/:id", socialH.AcceptFriendRequest)
		authed.POST("/social/friends/deny/:id", socialH.DenyFriendRequest)
		authed.DELETE("/social/friends/:id", socialH.Unfriend)

		authed.GET("/notifications", notifH.List)
		authed.GET("/notifications/unread-count", notifH.UnreadCount)
		authed.PUT("/notifications/read-all", notifH.MarkAllRead)
		authed.PUT("/notifications/:id/read", notifH.MarkRead)
		authed.DELETE("/notifications/:id", notifH.Delete)

		authed.GET("/chats/:user_id/messages", msgH.History)
		authed.POST("/chats/:user_id/messages", msgH.Send)

		authed.GET("/nodes", nodeH.List)
		authed.POST("/nodes", nodeH.Create)
		authed.GET("/nodes/:id", nodeH.Get)
		authed.PUT("/nodes/:id", nodeH.Update)
		authed.DELETE("/nodes/:id", nodeH.Delete)
		authed.POST("/nodes/:id/join", nodeH.Join)
		authed.POST("/nodes/:id/leave", nodeH.Leave)
		authed.DELETE("/nodes/:id/members/:user_id", nodeH.Kick)
		authed.POST("/nodes/:id/icon", nodeH.UploadIcon)
		authed.POST("/nodes/:id/channels", nodeH.CreateChannel)
		authed.DELETE("/nodes/:id/channels/:channel_id", nodeH.DeleteChannel)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(c, sec, pm, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, sec, logger)
	r.GET("/sse", sseH.ServeSSE)

	// ---- Start server ----
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	url := server.URL
	wsURL := "ws" + url[len("http"):] + "/ws"

	return &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Presence: pm,
		Store:    store,
		Server:   server,
		URL:      url,
		WSURL:    wsURL,
		Sec:      sec,
	}
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest("POST", ts.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest("PUT", ts.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Delete sends a DELETE request with optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("DELETE", ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// Signup registers a user and returns the session token and user ID.
func (ts *TestServer) Signup(t *testing.T, username string) (token, userID string) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/signup", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	return result["token"].(string), result["user_id"].(string)
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// Uses a background readLoop so a receive timeout never corrupts the
// connection state.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the test server's WS endpoint with the given JWT token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	url := ts.WSURL + "?token=" + token
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a JSON message packet to the WebSocket.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	pkt := map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(payloadJSON),
	}
	data, err := json.Marshal(pkt)
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one message from the WebSocket with a timeout, returning an
// error instead of failing the test on timeout/read failure.
func (wc *WSClient) RecvAny(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt map[string]interface{}
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		return pkt, nil
	case <-time.After(timeout):
		return nil, &timeoutError{}
	}
}

// timeoutError implements net.Error for timeout detection in callers.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "read timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// RecvType reads messages until one with the given type is found (within timeout).
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt["type"] == msgType {
			return pkt
		}
	}
	wc.t.Fatalf("timed out waiting for message type %q", msgType)
	return nil
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// PayloadMap extracts the payload from a received WS packet as a map.
func PayloadMap(t *testing.T, pkt map[string]interface{}) map[string]interface{} {
	t.Helper()
	p := pkt["payload"]
	if p == nil {
		return map[string]interface{}{}
	}
	switch v := p.(type) {
	case map[string]interface{}:
		return v
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
}

// UniqueID returns a short unique string suitable for usernames.
var testCounter uint64

func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
