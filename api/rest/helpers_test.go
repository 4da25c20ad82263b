package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/whisprlabs/whispr/server/api/rest"
	"github.com/whisprlabs/whispr/server/audit"
	"github.com/whisprlabs/whispr/server/cache"
	"github.com/whisprlabs/whispr/server/chat"
	"github.com/whisprlabs/whispr/server/config"
	"github.com/whisprlabs/whispr/server/feed"
	mw "github.com/whisprlabs/whispr/server/middleware"
	"github.com/whisprlabs/whispr/server/presence"
	"github.com/whisprlabs/whispr/server/storage"
	"github.com/whisprlabs/whispr/server/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeMailer records reset mails instead of sending them.
type fakeMailer struct {
	sent []string // token per call
}

func (m *fakeMailer) SendPasswordReset(ctx context.Context, toEmail, username, token string) error {
	m.sent = append(m.sent, token)
	return nil
}

// harness wires every handler against in-memory backends.
type harness struct {
	router   *gin.Engine
	db       *gorm.DB
	cache    cache.Cache
	pubsub   cache.PubSub
	presence *presence.Manager
	store    *storage.MemoryStore
	mailer   *fakeMailer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTL: 72 * time.Hour}
	mail := config.MailConfig{FromAddress: "no-reply@test", ResetBaseURL: "http://test/reset", ResetTTL: 30 * time.Minute}
	storeCfg := config.StorageConfig{AvatarBucket: "avatars", NodeIconBucket: "node-icons"}
	chatCfg := config.ChatConfig{MaxMessageRunes: 2000, HistoryCacheSize: 50}

	aud := audit.New(db, logger)
	t.Cleanup(func() { aud.Stop(context.Background()) })

	pub := feed.NewPublisher(ps, logger)
	pm := presence.NewManager(c, logger)
	store := storage.NewMemoryStore()
	fm := &fakeMailer{}

	authH := rest.NewAuthHandler(db, c, sec, mail, fm, aud)
	profileH := rest.NewProfileHandler(db, pm, store, storeCfg, pub)
	socialH := rest.NewSocialHandler(db, pm, pub)
	notifH := rest.NewNotificationHandler(db, pub)
	chatSvc := chat.NewService(db, c, pub, chatCfg)
	msgH := rest.NewMessageHandler(chatSvc)
	nodeH := rest.NewNodeHandler(db, store, storeCfg)

	r := gin.New()
	api := r.Group("/api")
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

	return &harness{
		router:   r,
		db:       db,
		cache:    c,
		pubsub:   ps,
		presence: pm,
		store:    store,
		mailer:   fm,
	}
}

func (h *harness) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) postJSON(path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	return h.do(http.MethodPost, path, body, headers...)
}

func (h *harness) getJSON(path string, headers ...string) *httptest.ResponseRecorder {
	return h.do(http.MethodGet, path, nil, headers...)
}

func (h *harness) putJSON(path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	return h.do(http.MethodPut, path, body, headers...)
}

func (h *harness) delete(path string, headers ...string) *httptest.ResponseRecorder {
	return h.do(http.MethodDelete, path, nil, headers...)
}

// uploadFile posts a single-file multipart form.
func (h *harness) uploadFile(path, field, filename, contentType string, data []byte, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	fh := make(map[string][]string)
	fh["Content-Disposition"] = []string{`form-data; name="` + field + `"; filename="` + filename + `"`}
	fh["Content-Type"] = []string{contentType}
	part, _ := mpw.CreatePart(fh)
	part.Write(data)
	mpw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// signup registers a user and returns (userID, bearer token).
func (h *harness) signup(t *testing.T, username string) (string, string) {
	t.Helper()
	w := h.postJSON("/api/auth/signup", map[string]string{
		"username": username,
		"email":    username + "@test.dev",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, "signup %s: %s", username, w.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["user_id"].(string), resp["token"].(string)
}

func auth(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
