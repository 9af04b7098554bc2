// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WhatsApp Web session endpoint.
const (
	WAWebSocketURL = "wss://web.whatsapp.com/ws"
	WAOrigin       = "https://web.whatsapp.com"
)

const (
	keepAliveInterval = 20 * time.Second
	keepAliveStale    = 25 * time.Second
	initialBackoff    = 1 * time.Second
	maxBackoffDefault = 30 * time.Second
)

// Config configures a Session (the Connection Supervisor).
type Config struct {
	Endpoint           string
	Origin             string
	Version            []int
	BrowserDescription []string

	Logger *zap.SugaredLogger

	Decoder BinaryDecoder
	Encoder BinaryEncoder

	AutoReconnect     bool
	MaxBackoff        time.Duration
	DefaultTimeout    time.Duration
	KeepAliveInterval time.Duration
	KeepAliveStale    time.Duration

	OnReadyForPhoneAuthentication func(ref, publicKeyBase64, clientID string)
	OnUnexpectedDisconnect        func(error)
}

func (c *Config) setDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = WAWebSocketURL
	}
	if c.Origin == "" {
		c.Origin = WAOrigin
	}
	if len(c.Version) == 0 {
		c.Version = []int{0, 4, 2080}
	}
	if len(c.BrowserDescription) == 0 {
		c.BrowserDescription = []string{"WAConnect", "Chrome", "10.0"}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Decoder == nil {
		codec := NewBinaryCodec()
		c.Decoder = codec
	}
	if c.Encoder == nil {
		codec := NewBinaryCodec()
		c.Encoder = codec
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = maxBackoffDefault
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = keepAliveInterval
	}
	if c.KeepAliveStale <= 0 {
		c.KeepAliveStale = keepAliveStale
	}
}

// Chat, Contact and UnreadMessage are the post-validation data-load
// results of receiveChatsAndContacts.
type Chat struct {
	JID    string
	Unread int
	Last   bool
	Raw    *BinaryNode
}

type Contact struct {
	JID  string
	Name string
	Raw  *BinaryNode
}

type UnreadMessage struct {
	ChatJID string
	Raw     *BinaryNode
}

// Session is the Connection Supervisor: it owns the WebSocket,
// composes the Session State Machine and the Correlation Registry,
// and drives the keep-alive/reconnect subsystem. It is modeled as a
// single struct composing the three concerns via plain fields, rather
// than as separate objects wired together.
type Session struct {
	config Config
	logger *zap.SugaredLogger

	mu       sync.Mutex
	ws       *websocket.Conn
	phase    SessionPhase
	auth     *AuthInfo
	curve    CurveKeys
	lastSeen time.Time
	live     bool

	registry *Registry
	tagSeq   atomic.Uint64

	keepAliveStop chan struct{}
	keepAliveDone chan struct{}

	readCancel context.CancelFunc

	closed        bool
	reconnectStop chan struct{}
}

// NewSession constructs a Session ready to Connect.
func NewSession(config Config) *Session {
	config.setDefaults()
	return &Session{
		config:   config,
		logger:   config.Logger,
		registry: NewRegistry(),
		phase:    SessionPhase{Kind: PhaseDisconnected},
	}
}

func (s *Session) setPhase(p SessionPhase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Phase returns the current SessionPhase.
func (s *Session) Phase() SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// AuthInfo returns a copy of the credentials currently held by this
// session, or nil before a session has begun.
func (s *Session) AuthInfo() *AuthInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auth == nil {
		return nil
	}
	copyInfo := *s.auth
	return &copyInfo
}

func (s *Session) isLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Connect composes ConnectSlim with receiveChatsAndContacts, bounding
// the whole composed operation — handshake and data load alike — by
// timeout so a stalled chats/contacts load cannot hang the caller
// indefinitely.
func (s *Session) Connect(ctx context.Context, auth *AuthInfo, timeout time.Duration) (UserMetaData, []Chat, []Contact, []UnreadMessage, error) {
	if timeout <= 0 {
		timeout = s.config.DefaultTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	meta, err := s.ConnectSlim(connectCtx, auth, timeout)
	if err != nil {
		return UserMetaData{}, nil, nil, nil, err
	}

	chats, contacts, unread, err := s.receiveChatsAndContacts(connectCtx)
	if err != nil {
		return meta, nil, nil, nil, err
	}
	return meta, chats, contacts, unread, nil
}

// ConnectSlim opens the WebSocket, drives the Session State Machine to
// Live, and starts the keep-alive ticker. Any failure during this
// window closes the socket and surfaces the original error.
func (s *Session) ConnectSlim(ctx context.Context, auth *AuthInfo, timeout time.Duration) (UserMetaData, error) {
	if s.isLive() {
		return UserMetaData{}, &AlreadyConnectedError{}
	}
	if timeout <= 0 {
		timeout = s.config.DefaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.setPhase(SessionPhase{Kind: PhaseOpening})

	opts := &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Origin": {s.config.Origin}},
	}
	ws, _, err := websocket.Dial(connectCtx, s.config.Endpoint, opts)
	if err != nil {
		s.setPhase(SessionPhase{Kind: PhaseDisconnected})
		return UserMetaData{}, &TransportClosedError{Cause: err.Error()}
	}

	s.mu.Lock()
	s.ws = ws
	if auth != nil {
		s.auth = auth
	} else if s.auth == nil {
		s.auth = &AuthInfo{}
	}
	s.lastSeen = time.Now()
	s.mu.Unlock()

	readerCtx, cancelReader := context.WithCancel(context.Background())
	s.mu.Lock()
	s.readCancel = cancelReader
	s.mu.Unlock()
	go s.readLoop(readerCtx)

	meta, err := s.authenticate(connectCtx)
	if err != nil {
		cancelReader()
		ws.Close(websocket.StatusAbnormalClosure, "authentication failed")
		s.setPhase(SessionPhase{Kind: PhaseDisconnected})
		return UserMetaData{}, err
	}

	s.mu.Lock()
	s.live = true
	s.mu.Unlock()
	s.setPhase(SessionPhase{Kind: PhaseLive, Since: time.Now()})
	s.startKeepAlive()

	return meta, nil
}

// nextTag returns a correlation tag of the form "<unix-ms>.--<counter>".
func (s *Session) nextTag() string {
	n := s.tagSeq.Add(1)
	return fmt.Sprintf("%d.--%d", time.Now().UnixMilli(), n)
}

// sendJSON writes a plaintext handshake frame "tag,json".
func (s *Session) sendJSON(ctx context.Context, tag string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return &UnexpectedError{Inner: err}
	}

	frame := append([]byte(tag+","), body...)

	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return &TransportClosedError{Cause: "not connected"}
	}
	if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return &TransportClosedError{Cause: err.Error()}
	}
	return nil
}

// sendEncrypted writes an outbound encrypted frame through the Frame
// Codec.
func (s *Session) sendEncrypted(ctx context.Context, tag string, node *BinaryNode) error {
	s.mu.Lock()
	encKey, macKey := s.auth.EncKey, s.auth.MacKey
	ws := s.ws
	s.mu.Unlock()

	if len(encKey) != 32 || len(macKey) != 32 {
		return &UnexpectedError{Inner: errors.New("encKey/macKey not populated")}
	}

	payload := s.config.Encoder.Encode(node)
	frame, err := EncryptFrame(tag, payload, encKey, macKey)
	if err != nil {
		return &UnexpectedError{Inner: err}
	}
	if ws == nil {
		return &TransportClosedError{Cause: "not connected"}
	}
	return ws.Write(ctx, websocket.MessageBinary, frame)
}

// SendNode assigns a fresh correlation tag and writes node through the
// encrypted frame pump. Callers outside this package use this instead
// of sendEncrypted, since only a live Session (encKey/macKey populated)
// can send anything.
func (s *Session) SendNode(ctx context.Context, node *BinaryNode) (string, error) {
	if !s.isLive() {
		return "", &TransportClosedError{Cause: "session not live"}
	}
	tag := s.nextTag()
	if err := s.sendEncrypted(ctx, tag, node); err != nil {
		return "", err
	}
	return tag, nil
}

// authenticate drives the handshake to completion.
func (s *Session) authenticate(ctx context.Context) (UserMetaData, error) {
	s.mu.Lock()
	auth := s.auth
	s.mu.Unlock()

	if auth.ClientID == "" {
		id, err := GenerateClientID()
		if err != nil {
			return UserMetaData{}, &UnexpectedError{Inner: err}
		}
		s.mu.Lock()
		s.auth.ClientID = id
		auth = s.auth
		s.mu.Unlock()
	}

	s.setPhase(SessionPhase{Kind: PhaseAwaitingInit})

	initTag := s.nextTag()
	initMsg := []interface{}{
		"admin", "init",
		s.config.Version,
		s.config.BrowserDescription,
		auth.ClientID,
		true,
	}
	if err := s.sendJSON(ctx, initTag, initMsg); err != nil {
		return UserMetaData{}, err
	}

	initResp, err := s.registry.AwaitTag(ctx, initTag, 0)
	if err != nil {
		return UserMetaData{}, err
	}
	if err := checkStatusOK(initResp); err != nil {
		return UserMetaData{}, err
	}

	restoring := auth.IsRestorable()

	if restoring {
		s.setPhase(SessionPhase{Kind: PhaseAwaitingLoginAck})
		loginMsg := []interface{}{
			"admin", "login",
			auth.ClientToken, auth.ServerToken, auth.ClientID, "takeover",
		}
		if err := s.sendJSON(ctx, "s1", loginMsg); err != nil {
			return UserMetaData{}, err
		}
	} else {
		keys, err := NewCurveKeys()
		if err != nil {
			return UserMetaData{}, &UnexpectedError{Inner: err}
		}
		s.mu.Lock()
		s.curve = keys
		s.mu.Unlock()

		ref := extractRef(initResp)
		pubB64 := base64.StdEncoding.EncodeToString(keys.Public[:])
		s.setPhase(SessionPhase{Kind: PhaseAwaitingQRScan, Ref: ref, OurPublic: pubB64})
		if s.config.OnReadyForPhoneAuthentication != nil {
			s.config.OnReadyForPhoneAuthentication(ref, pubB64, auth.ClientID)
		}
	}

	secondResp, err := s.registry.AwaitTag(ctx, "s1", 0)
	if err != nil {
		return UserMetaData{}, err
	}

	validationPayload, err := s.handleSecondMessage(ctx, secondResp)
	if err != nil {
		return UserMetaData{}, err
	}

	s.setPhase(SessionPhase{Kind: PhaseAwaitingValidation})
	return s.validate(validationPayload)
}

// handleSecondMessage branches on a status field, a challenge shape,
// or passes the payload through as the validation message.
func (s *Session) handleSecondMessage(ctx context.Context, payload interface{}) (map[string]interface{}, error) {
	arr, ok := payload.([]interface{})
	if !ok {
		if m, ok := payload.(map[string]interface{}); ok {
			if err := checkStatusOK(m); err != nil {
				return nil, err
			}
			return m, nil
		}
		return nil, &MalformedError{Reason: "unexpected second-message shape"}
	}

	if len(arr) >= 2 {
		if m, ok := arr[1].(map[string]interface{}); ok {
			if _, hasStatus := m["status"]; hasStatus {
				if err := checkStatusOK(m); err != nil {
					return nil, err
				}
				return m, nil
			}
			if challenge, ok := m["challenge"].(string); ok {
				if err := s.handleChallenge(ctx, challenge); err != nil {
					return nil, err
				}
				thirdResp, err := s.registry.AwaitTag(ctx, "s2", 0)
				if err != nil {
					return nil, err
				}
				return s.handleSecondMessage(ctx, thirdResp)
			}
			return m, nil
		}
	}
	return nil, &MalformedError{Reason: "unexpected second-message shape"}
}

// handleChallenge signs the server's challenge and sends the response.
func (s *Session) handleChallenge(ctx context.Context, challengeB64 string) error {
	s.setPhase(SessionPhase{Kind: PhaseAwaitingChallengeAck})

	s.mu.Lock()
	auth := s.auth
	s.mu.Unlock()

	sigB64, err := computeChallengeResponse(challengeB64, auth.MacKey)
	if err != nil {
		return err
	}

	tag := s.nextTag()
	msg := []interface{}{"admin", "challenge", sigB64, auth.ServerToken, auth.ClientID}
	if err := s.sendJSON(ctx, tag, msg); err != nil {
		return err
	}

	resp, err := s.registry.AwaitTag(ctx, tag, 0)
	if err != nil {
		return err
	}
	return checkStatusOK(resp)
}

// validate runs the validation algorithm against the decoded
// validation payload and stores the derived credentials into AuthInfo.
func (s *Session) validate(payload map[string]interface{}) (UserMetaData, error) {
	s.mu.Lock()
	keys := s.curve
	s.mu.Unlock()

	result, err := validatePayload(payload, keys)
	if err != nil {
		return UserMetaData{}, err
	}

	if result.Rekeyed {
		s.mu.Lock()
		s.auth.EncKey = result.EncKey
		s.auth.MacKey = result.MacKey
		s.auth.ClientToken = result.ClientToken
		s.auth.ServerToken = result.ServerToken
		s.mu.Unlock()
	}

	return result.Meta, nil
}

// checkStatusOK maps a decoded payload's "status" field to the typed
// handshake errors (401 unpaired, 429 denied).
func checkStatusOK(payload interface{}) error {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	status, ok := m["status"]
	if !ok {
		return nil
	}

	code := toInt(status)
	switch code {
	case 200:
		return nil
	case 401:
		return &UnpairedError{}
	case 429:
		return &DeniedError{}
	default:
		return &StatusError{Code: code, Payload: payload}
	}
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func extractRef(payload interface{}) string {
	if m, ok := payload.(map[string]interface{}); ok {
		return stringField(m, "ref")
	}
	return ""
}

// readLoop continuously receives frames, routing heartbeat ticks to
// lastSeen and everything else through the Frame Codec and Registry.
func (s *Session) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		ws := s.ws
		s.mu.Unlock()
		if ws == nil {
			return
		}

		_, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.handleTransportClosed(err)
			return
		}

		s.handleInboundFrame(data)
	}
}

func (s *Session) handleInboundFrame(data []byte) {
	if len(data) > 0 && data[0] == '!' && isAllDigits(data[1:]) {
		ms, err := strconv.ParseInt(string(data[1:]), 10, 64)
		if err == nil {
			s.mu.Lock()
			s.lastSeen = time.UnixMilli(ms)
			s.mu.Unlock()
		}
		return
	}

	s.mu.Lock()
	macKey, encKey := s.auth.MacKey, s.auth.EncKey
	s.mu.Unlock()

	tag, payload, err := DecryptFrame(data, macKey, encKey, s.config.Decoder)
	if err != nil {
		if err == ErrUndecodable {
			if !s.isLive() {
				// During the handshake every frame must decode; surface it
				// by dispatching the raw bytes so the awaiting tag observes
				// a malformed payload instead of hanging forever.
				s.registry.Dispatch(tag, nil)
				return
			}
			s.logger.Warnw("dropping undecodable frame", "tag", tag)
			return
		}
		s.logger.Warnw("frame decode error", "error", err)
		return
	}

	if raw, ok := payload.([]byte); ok {
		var arr []interface{}
		if err := json.Unmarshal(raw, &arr); err == nil {
			s.registry.Dispatch(tag, arr)
			return
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err == nil {
			s.registry.Dispatch(tag, obj)
			return
		}
		s.registry.Dispatch(tag, raw)
		return
	}

	s.registry.Dispatch(tag, payload)
}

func isAllDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (s *Session) handleTransportClosed(err error) {
	s.stopKeepAlive()
	s.registry.CloseWithErr(&TransportClosedError{Cause: err.Error()})

	wasLive := s.isLive()
	s.mu.Lock()
	s.live = false
	s.ws = nil
	s.readCancel = nil
	s.mu.Unlock()
	s.setPhase(SessionPhase{Kind: PhaseDisconnected})

	if !wasLive {
		return
	}

	if s.config.AutoReconnect {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		go s.reconnectLoop()
		return
	}
	if s.config.OnUnexpectedDisconnect != nil {
		s.config.OnUnexpectedDisconnect(&TransportClosedError{Cause: err.Error()})
	}
}

// startKeepAlive launches the keep-alive ticker: on each tick, if
// lastSeen is stale by more than the configured threshold treat the
// connection as lost, otherwise transmit "?,,".
func (s *Session) startKeepAlive() {
	s.mu.Lock()
	s.keepAliveStop = make(chan struct{})
	s.keepAliveDone = make(chan struct{})
	stop := s.keepAliveStop
	done := s.keepAliveDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.config.KeepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				stale := time.Since(s.lastSeen) > s.config.KeepAliveStale
				ws := s.ws
				s.mu.Unlock()

				if stale {
					s.logger.Warnw("keep-alive stale, closing connection")
					if ws != nil {
						ws.Close(websocket.StatusNormalClosure, "keep-alive timeout")
					}
					s.handleTransportClosed(errors.New("lost connection"))
					return
				}

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if ws != nil {
					_ = ws.Write(ctx, websocket.MessageText, []byte("?,,"))
				}
				cancel()
			}
		}
	}()
}

func (s *Session) stopKeepAlive() {
	s.mu.Lock()
	stop := s.keepAliveStop
	s.keepAliveStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
}

// reconnectLoop repeatedly calls Connect(nil, 25s) with exponential
// backoff capped at config.MaxBackoff, so an automatic reconnect
// re-runs the full post-auth pull (chats, contacts, unread messages)
// exactly like a fresh connect, rather than only re-establishing the
// encrypted frame pump (see DESIGN.md). stop is closed by Close() to
// halt the loop whether it's mid-backoff or about to dial again.
func (s *Session) reconnectLoop() {
	stop := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.reconnectStop = stop
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.reconnectStop == stop {
			s.reconnectStop = nil
		}
		s.mu.Unlock()
	}()

	backoff := initialBackoff
	attempt := 0

	for {
		select {
		case <-stop:
			return
		default:
		}

		attempt++
		s.setPhase(SessionPhase{Kind: PhaseReconnecting, Attempt: attempt})

		_, _, _, _, err := s.Connect(context.Background(), nil, 25*time.Second)
		if err == nil {
			return
		}

		s.logger.Warnw("reconnect attempt failed", "attempt", attempt, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		}

		backoff *= 2
		if backoff > s.config.MaxBackoff {
			backoff = s.config.MaxBackoff
		}
	}
}

// awaitStructural registers a temporary structural handler at path,
// delivering the first matching node (or ctx's error) and then
// deregistering itself. Used by receiveChatsAndContacts for its
// one-shot structural awaits.
func (s *Session) awaitStructural(ctx context.Context, path HandlerPath) (*BinaryNode, error) {
	ch := make(chan *BinaryNode, 1)
	var once sync.Once

	s.registry.RegisterHandler(path, func(node *BinaryNode) {
		once.Do(func() {
			select {
			case ch <- node:
			default:
			}
		})
	})
	defer s.registry.DeregisterHandler(path)

	select {
	case node := <-ch:
		return node, nil
	case <-ctx.Done():
		return nil, ErrCancelled
	}
}

// receiveChatsAndContacts implements the post-validation data load.
func (s *Session) receiveChatsAndContacts(ctx context.Context) ([]Chat, []Contact, []UnreadMessage, error) {
	var mu sync.Mutex
	var chats []Chat
	var contacts []Contact
	var unread []UnreadMessage
	pendingUnread := make(map[string]int)

	lastSeenDone := make(chan struct{})
	var lastSeenOnce sync.Once

	addLastPath := HandlerPath{Function: "action", AttrKey: "add", AttrVal: "last"}
	addBeforePath := HandlerPath{Function: "action", AttrKey: "add", AttrVal: "before"}
	addUnreadPath := HandlerPath{Function: "action", AttrKey: "add", AttrVal: "unread"}

	forward := func(node *BinaryNode) {
		mu.Lock()
		defer mu.Unlock()

		for _, child := range node.Children {
			chatJID := child.Attrs["jid"]
			remaining, ok := pendingUnread[chatJID]
			if !ok || remaining <= 0 {
				continue
			}
			pendingUnread[chatJID] = remaining - 1
			unread = append(unread, UnreadMessage{ChatJID: chatJID, Raw: child})
		}
	}

	s.registry.RegisterHandler(addBeforePath, forward)
	s.registry.RegisterHandler(addUnreadPath, forward)
	s.registry.RegisterHandler(addLastPath, func(node *BinaryNode) {
		forward(node)
		for _, child := range node.Children {
			if child.Attrs["last"] == "true" {
				lastSeenOnce.Do(func() { close(lastSeenDone) })
			}
		}
	})
	defer func() {
		s.registry.DeregisterHandler(addLastPath)
		s.registry.DeregisterHandler(addBeforePath)
		s.registry.DeregisterHandler(addUnreadPath)
	}()

	var wg sync.WaitGroup
	var chatsErr, contactsErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		node, err := s.awaitStructural(ctx, HandlerPath{Function: "response", AttrKey: "type", AttrVal: "chat"})
		if err != nil {
			chatsErr = err
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, child := range node.Children {
			count, werr := strconv.Atoi(child.Attrs["count"])
			if werr != nil {
				s.logger.Warnw("unparseable chat unread count", "jid", child.Attrs["jid"], "raw", child.Attrs["count"])
				count = 0
			}
			chat := Chat{JID: child.Attrs["jid"], Unread: count, Raw: child}
			chats = append(chats, chat)
			if count > 0 {
				pendingUnread[chat.JID] = count
			}
		}
	}()

	go func() {
		defer wg.Done()
		node, err := s.awaitStructural(ctx, HandlerPath{Function: "response", AttrKey: "type", AttrVal: "contacts"})
		if err != nil {
			contactsErr = err
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, child := range node.Children {
			contacts = append(contacts, Contact{
				JID:  child.Attrs["jid"],
				Name: child.Attrs["name"],
				Raw:  child,
			})
		}
	}()

	wg.Wait()
	if chatsErr != nil {
		return nil, nil, nil, chatsErr
	}
	if contactsErr != nil {
		return nil, nil, nil, contactsErr
	}

	select {
	case <-lastSeenDone:
	case <-ctx.Done():
		return nil, nil, nil, ErrCancelled
	}

	mu.Lock()
	defer mu.Unlock()
	return chats, contacts, unread, nil
}

// Close tears down the socket and any in-flight handshake/keep-alive
// state, draining pending awaiters with ErrCancelled. It also halts
// an in-progress reconnectLoop, whether it's mid-backoff or between
// attempts, so a closed session never re-dials behind the caller's
// back.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	reconnectStop := s.reconnectStop
	s.reconnectStop = nil
	s.mu.Unlock()
	if reconnectStop != nil {
		close(reconnectStop)
	}

	s.stopKeepAlive()
	s.registry.Close()

	s.mu.Lock()
	ws := s.ws
	s.ws = nil
	s.live = false
	if s.readCancel != nil {
		s.readCancel()
		s.readCancel = nil
	}
	s.mu.Unlock()

	s.setPhase(SessionPhase{Kind: PhaseDisconnected})

	if ws == nil {
		return nil
	}
	return ws.Close(websocket.StatusNormalClosure, "closing")
}
