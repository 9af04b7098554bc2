package client

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/waconnect/waconnect-go/internal/webhook"
	"go.uber.org/zap"
)

// SessionManager manages the set of live WhatsApp sessions and their
// on-disk credential directories.
type SessionManager struct {
	sessions   map[string]*WAClient
	mu         sync.RWMutex
	logger     *zap.SugaredLogger
	dataDir    string
	dispatcher *webhook.Dispatcher
}

// NewSessionManager creates a new session manager.
func NewSessionManager(logger *zap.SugaredLogger) *SessionManager {
	dataDir := os.Getenv("SESSION_DIR")
	if dataDir == "" {
		dataDir = "./sessions"
	}
	os.MkdirAll(dataDir, 0755)

	return &SessionManager{
		sessions: make(map[string]*WAClient),
		logger:   logger,
		dataDir:  dataDir,
	}
}

// SetDispatcher wires a webhook dispatcher into every session created
// from this point forward. Sessions created before this call keep
// firing into a nil dispatcher (a no-op).
func (sm *SessionManager) SetDispatcher(d *webhook.Dispatcher) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.dispatcher = d
}

// CreateSession creates and connects a new WhatsApp session.
func (sm *SessionManager) CreateSession(sessionID string) (*WAClient, error) {
	sm.mu.Lock()
	if _, exists := sm.sessions[sessionID]; exists {
		sm.mu.Unlock()
		return nil, ErrSessionExists
	}
	dispatcher := sm.dispatcher
	client := NewWAClient(sessionID, sm.logger, sm.dataDir, dispatcher)
	sm.sessions[sessionID] = client
	sm.mu.Unlock()

	go func() {
		if err := client.Connect(); err != nil {
			sm.logger.Errorf("failed to connect session %s: %v", sessionID, err)
		}
	}()

	return client, nil
}

// GetSession returns a session by ID.
func (sm *SessionManager) GetSession(sessionID string) (*WAClient, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	client, exists := sm.sessions[sessionID]
	return client, exists
}

// DeleteSession disconnects and removes a session, wiping its
// credential directory.
func (sm *SessionManager) DeleteSession(sessionID string) error {
	sm.mu.Lock()
	client, exists := sm.sessions[sessionID]
	if !exists {
		sm.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	client.Disconnect()

	sessionPath := filepath.Join(sm.dataDir, sessionID)
	os.RemoveAll(sessionPath)

	return nil
}

// GetAllSessions returns all active sessions.
func (sm *SessionManager) GetAllSessions() []*WAClient {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*WAClient, 0, len(sm.sessions))
	for _, client := range sm.sessions {
		sessions = append(sessions, client)
	}
	return sessions
}

// GetStats returns session statistics.
func (sm *SessionManager) GetStats() SessionStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	stats := SessionStats{
		Total: len(sm.sessions),
	}

	for _, client := range sm.sessions {
		switch client.GetStatus() {
		case StatusReady:
			stats.Ready++
			stats.Active++
		case StatusConnecting, StatusQRReady:
			stats.Initializing++
		case StatusDisconnected:
			// not counted as active
		}
	}

	return stats
}

// LoadPersistedSessions restores sessions whose credential files
// survived a restart.
func (sm *SessionManager) LoadPersistedSessions() error {
	entries, err := os.ReadDir(sm.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		sessionID := entry.Name()
		credsPath := filepath.Join(sm.dataDir, sessionID, "creds.json")

		if _, err := os.Stat(credsPath); err == nil {
			sm.logger.Infof("loading persisted session: %s", sessionID)
			sm.CreateSession(sessionID)
		}
	}

	return nil
}

// DisconnectAll disconnects every active session.
func (sm *SessionManager) DisconnectAll() {
	sm.mu.RLock()
	clients := make([]*WAClient, 0, len(sm.sessions))
	for _, client := range sm.sessions {
		clients = append(clients, client)
	}
	sm.mu.RUnlock()

	for _, client := range clients {
		client.Disconnect()
	}
}

// SessionStats holds aggregate session statistics.
type SessionStats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Ready        int `json:"ready"`
	Initializing int `json:"initializing"`
}
