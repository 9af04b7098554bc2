package client

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/waconnect/waconnect-go/internal/core"
	"github.com/waconnect/waconnect-go/internal/webhook"
	"go.uber.org/zap"
)

// SessionStatus mirrors core.SessionPhaseKind at the API surface, using
// the vocabulary the REST handlers and dashboard already speak.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "INITIALIZING"
	StatusConnecting   SessionStatus = "CONNECTING"
	StatusQRReady      SessionStatus = "QR_READY"
	StatusReady        SessionStatus = "READY"
	StatusDisconnected SessionStatus = "DISCONNECTED"
)

// Common errors
var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrNotConnected    = errors.New("not connected")
)

// WAClient wraps a core.Session with the REST-facing status/QR/stats
// bookkeeping the dashboard and API handlers read.
type WAClient struct {
	ID               string
	status           SessionStatus
	phoneNumber      string
	qrCode           string
	qrCodeBase64     string
	connectedAt      *time.Time
	lastActivityAt   time.Time
	messagesSent     int
	messagesReceived int

	mu      sync.RWMutex
	logger  *zap.SugaredLogger
	dataDir string

	session    *core.Session
	qrGen      *core.QRGenerator
	dispatcher *webhook.Dispatcher
	cancelCtx  context.CancelFunc
}

// Message represents an inbound WhatsApp message surfaced to webhook
// subscribers.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"isFromMe"`
}

// NewWAClient creates a new WhatsApp client session.
func NewWAClient(sessionID string, logger *zap.SugaredLogger, dataDir string, dispatcher *webhook.Dispatcher) *WAClient {
	return &WAClient{
		ID:             sessionID,
		status:         StatusInitializing,
		lastActivityAt: time.Now(),
		logger:         logger,
		dataDir:        dataDir,
		qrGen:          core.NewQRGenerator(),
		dispatcher:     dispatcher,
	}
}

func (c *WAClient) credsPath() string {
	return filepath.Join(c.dataDir, c.ID, "creds.json")
}

func (c *WAClient) loadAuthInfo() *core.AuthInfo {
	raw, err := os.ReadFile(c.credsPath())
	if err != nil {
		return nil
	}
	auth, err := core.LoadAuthInfoFromBase64(string(raw))
	if err != nil {
		c.logger.Warnw("discarding unreadable credentials", "session", c.ID, "error", err)
		return nil
	}
	return auth
}

func (c *WAClient) saveAuthInfo(auth *core.AuthInfo) {
	encoded, err := auth.SaveToBase64()
	if err != nil {
		c.logger.Warnw("failed to serialize credentials", "session", c.ID, "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.credsPath()), 0755); err != nil {
		c.logger.Warnw("failed to create session dir", "session", c.ID, "error", err)
		return
	}
	if err := os.WriteFile(c.credsPath(), []byte(encoded), 0600); err != nil {
		c.logger.Warnw("failed to persist credentials", "session", c.ID, "error", err)
	}
}

func (c *WAClient) fire(event string, data interface{}) {
	if c.dispatcher != nil {
		c.dispatcher.Dispatch(event, data)
	}
}

// Connect establishes the WhatsApp Web session, restoring persisted
// credentials when available and falling back to the QR handshake.
func (c *WAClient) Connect() error {
	c.mu.Lock()
	c.status = StatusConnecting
	c.mu.Unlock()

	c.logger.Infof("connecting session %s...", c.ID)

	auth := c.loadAuthInfo()

	c.session = core.NewSession(core.Config{
		Logger:        c.logger,
		AutoReconnect: true,
		OnReadyForPhoneAuthentication: func(ref, publicKeyBase64, clientID string) {
			qrData := core.GenerateWhatsAppQR(ref, publicKeyBase64, clientID)

			c.mu.Lock()
			c.status = StatusQRReady
			c.qrCode = qrData
			if b64, err := c.qrGen.GenerateBase64(qrData); err == nil {
				c.qrCodeBase64 = b64
			}
			c.lastActivityAt = time.Now()
			c.mu.Unlock()

			c.logger.Infof("QR ready for session %s", c.ID)
			c.fire(webhook.EventSessionQRReady, map[string]string{"sessionId": c.ID, "qr": qrData})
		},
		OnUnexpectedDisconnect: func(err error) {
			c.mu.Lock()
			c.status = StatusDisconnected
			c.mu.Unlock()
			c.logger.Warnf("session %s disconnected: %v", c.ID, err)
			c.fire(webhook.EventSessionDisconnected, map[string]string{"sessionId": c.ID, "reason": err.Error()})
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelCtx = cancel

	go func() {
		meta, _, _, _, err := c.session.Connect(ctx, auth, 0)
		if err != nil {
			c.logger.Errorf("connection failed for %s: %v", c.ID, err)
			c.mu.Lock()
			c.status = StatusDisconnected
			c.mu.Unlock()
			return
		}

		now := time.Now()
		c.mu.Lock()
		c.status = StatusReady
		c.phoneNumber = meta.ID
		c.connectedAt = &now
		c.lastActivityAt = now
		c.mu.Unlock()

		c.logger.Infof("session %s connected as %s", c.ID, meta.ID)
		c.fire(webhook.EventSessionConnected, map[string]string{"sessionId": c.ID, "phoneNumber": meta.ID})

		if info := c.session.AuthInfo(); info != nil {
			c.saveAuthInfo(info)
		}
	}()

	return nil
}

// Disconnect closes the WhatsApp connection.
func (c *WAClient) Disconnect() {
	c.mu.Lock()
	session := c.session
	cancel := c.cancelCtx
	c.status = StatusDisconnected
	c.qrCode = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		_ = session.Close()
	}
	c.logger.Infof("session %s disconnected", c.ID)
}

// GetStatus returns the current session status.
func (c *WAClient) GetStatus() SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// GetQRCode returns the current QR payload (the raw ref/public-key
// string that goes into the QR, not an image).
func (c *WAClient) GetQRCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qrCode
}

// GetQRCodeBase64 returns the current QR code rendered as a base64 PNG,
// or "" if no QR has been generated yet (or generation failed).
func (c *WAClient) GetQRCodeBase64() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qrCodeBase64
}

// GetQRCodeSVG renders the current QR payload as an SVG string, or ""
// if no QR has been generated yet.
func (c *WAClient) GetQRCodeSVG() (string, error) {
	c.mu.RLock()
	qr := c.qrCode
	c.mu.RUnlock()
	if qr == "" {
		return "", nil
	}
	return c.qrGen.GenerateSVG(qr)
}

// GetPhoneNumber returns the connected phone JID.
func (c *WAClient) GetPhoneNumber() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phoneNumber
}

// GetSession returns a snapshot of session info.
func (c *WAClient) GetSession() SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return SessionInfo{
		ID:               c.ID,
		Status:           c.status,
		PhoneNumber:      c.phoneNumber,
		ConnectedAt:      c.connectedAt,
		LastActivityAt:   c.lastActivityAt,
		MessagesSent:     c.messagesSent,
		MessagesReceived: c.messagesReceived,
	}
}

// outboundMessageTag is the node tag used to wrap outgoing text sends
// before handing them to the Frame Codec.
const outboundMessageTag = "action"

// SendText sends a text message through the live session's encrypted
// frame pump.
func (c *WAClient) SendText(to, text string) (*MessageResult, error) {
	c.mu.Lock()
	session := c.session
	status := c.status
	c.mu.Unlock()

	if status != StatusReady || session == nil {
		return nil, ErrNotConnected
	}

	body, err := json.Marshal(map[string]string{"to": to, "body": text})
	if err != nil {
		return nil, err
	}

	node := &core.BinaryNode{
		Tag:      outboundMessageTag,
		Attrs:    map[string]string{"type": "relay", "epoch": "0"},
		AttrKeys: []string{"type", "epoch"},
		Data:     body,
	}

	tag, err := session.SendNode(context.Background(), node)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.messagesSent++
	c.lastActivityAt = time.Now()
	c.mu.Unlock()

	c.fire(webhook.EventMessageSent, map[string]string{"sessionId": c.ID, "to": to, "tag": tag})

	return &MessageResult{
		MessageID: tag,
		Timestamp: time.Now(),
	}, nil
}

// SessionInfo holds session information for API responses.
type SessionInfo struct {
	ID               string        `json:"id"`
	Status           SessionStatus `json:"status"`
	PhoneNumber      string        `json:"phoneNumber,omitempty"`
	ConnectedAt      *time.Time    `json:"connectedAt,omitempty"`
	LastActivityAt   time.Time     `json:"lastActivityAt"`
	MessagesSent     int           `json:"messagesSent"`
	MessagesReceived int           `json:"messagesReceived"`
}

// MessageResult holds the result of sending a message.
type MessageResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}
