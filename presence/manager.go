package presence

import (
	"context"
	"sync"

	"github.com/whisprlabs/whispr/server/cache"
	"github.com/whisprlabs/whispr/server/model"
	"go.uber.org/zap"
)

// presenceKey is the cache hash holding userID → online status.
const presenceKey = "presence"

// Client is a connected realtime client that can receive raw frames.
type Client interface {
	UserID() string
	SendRaw(data []byte) bool
	Close()
}

// Manager maintains the registry of connected realtime clients and mirrors
// their online status into the cache so REST handlers can read it without
// touching connection state.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]Client // userID → client
	cache   cache.Cache
	logger  *zap.Logger
}

// NewManager creates a Manager.
func NewManager(c cache.Cache, logger *zap.Logger) *Manager {
	return &Manager{
		clients: make(map[string]Client),
		cache:   c,
		logger:  logger,
	}
}

// Register adds a client and marks the user online. If a previous client
// exists for the same user, it is closed first (duplicate login / reconnect).
func (m *Manager) Register(ctx context.Context, c Client) {
	m.mu.Lock()
	if old, ok := m.clients[c.UserID()]; ok {
		old.Close()
		m.logger.Info("duplicate client displaced", zap.String("user_id", c.UserID()))
	}
	m.clients[c.UserID()] = c
	m.mu.Unlock()

	if err := m.cache.HSet(ctx, presenceKey, c.UserID(), model.StatusOnline); err != nil {
		m.logger.Warn("presence update failed", zap.String("user_id", c.UserID()), zap.Error(err))
	}
	m.logger.Info("client registered", zap.String("user_id", c.UserID()))
}

// Unregister removes a client and marks the user offline, but only if the
// given client still owns the registration. A displaced connection's deferred
// cleanup must not knock the replacement offline.
func (m *Manager) Unregister(ctx context.Context, c Client) {
	m.mu.Lock()
	current, ok := m.clients[c.UserID()]
	if !ok || current != c {
		m.mu.Unlock()
		return
	}
	delete(m.clients, c.UserID())
	m.mu.Unlock()

	if err := m.cache.HSet(ctx, presenceKey, c.UserID(), model.StatusOffline); err != nil {
		m.logger.Warn("presence update failed", zap.String("user_id", c.UserID()), zap.Error(err))
	}
	m.logger.Info("client unregistered", zap.String("user_id", c.UserID()))
}

// Get returns the connected client for a user, or nil.
func (m *Manager) Get(userID string) Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[userID]
}

// IsOnline reports whether a user currently has a connected client.
func (m *Manager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[userID]
	return ok
}

// Count returns the number of connected clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// SetStatus records a user-chosen online status (online, away, dnd, offline)
// in the presence hash. Invalid values are rejected by the caller.
func (m *Manager) SetStatus(ctx context.Context, userID, status string) error {
	return m.cache.HSet(ctx, presenceKey, userID, status)
}

// Status returns a user's current status. Users with no recorded status are
// offline.
func (m *Manager) Status(ctx context.Context, userID string) string {
	v, err := m.cache.HGet(ctx, presenceKey, userID)
	if err != nil || v == "" {
		return model.StatusOffline
	}
	return v
}

// Statuses returns the status for each given user in one pass over the
// presence hash.
func (m *Manager) Statuses(ctx context.Context, userIDs []string) map[string]string {
	out := make(map[string]string, len(userIDs))
	all, err := m.cache.HGetAll(ctx, presenceKey)
	if err != nil {
		m.logger.Warn("presence read failed", zap.Error(err))
		all = nil
	}
	for _, id := range userIDs {
		if s, ok := all[id]; ok && s != "" {
			out[id] = s
		} else {
			out[id] = model.StatusOffline
		}
	}
	return out
}

// Send delivers a raw frame to a user's client if connected. Returns false
// when the user is offline or the client's buffer is full.
func (m *Manager) Send(userID string, data []byte) bool {
	c := m.Get(userID)
	if c == nil {
		return false
	}
	if !c.SendRaw(data) {
		m.logger.Warn("frame dropped for slow client", zap.String("user_id", userID))
		return false
	}
	return true
}

// CloseAll closes every connected client. Used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	m.logger.Info("closing all clients", zap.Int("count", len(clients)))
	for _, c := range clients {
		c.Close()
	}
}
