package core

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakeWAServer accepts websocket connections and drives each one
// through the fresh-session handshake: admin/init gets a ref back,
// then "s1" gets a validation payload with no secret (no rekeying),
// matching the same shape TestValidatePayloadFreshSessionNoSecret
// exercises directly against validatePayload.
func fakeWAServer(t *testing.T) (endpoint string, close func()) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()

		_, initFrame, err := conn.Read(ctx)
		if err != nil {
			return
		}
		initTag := frameTag(t, initFrame)

		writeFrame(t, ctx, conn, initTag, map[string]interface{}{
			"ref":    "1@fake-ref",
			"status": 200,
		})

		writeFrame(t, ctx, conn, "s1", []interface{}{
			"action",
			map[string]interface{}{
				"connected": true,
				"wid":       "15551234567@c.us",
				"pushname":  "Fake User",
			},
		})

		// Keep the connection open so the client's keep-alive ticker
		// (or test-driven abrupt close) controls when it ends.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))

	endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")
	return endpoint, srv.Close
}

func frameTag(t *testing.T, frame []byte) string {
	t.Helper()
	idx := bytes.IndexByte(frame, ',')
	if idx < 0 {
		t.Fatalf("frame %q missing tag separator", frame)
	}
	return string(frame[:idx])
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, tag string, v interface{}) {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame body: %v", err)
	}
	frame := append([]byte(tag+","), body...)
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestSessionHandshakeReachesLive(t *testing.T) {
	endpoint, closeServer := fakeWAServer(t)
	defer closeServer()

	s := NewSession(Config{Endpoint: endpoint})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	meta, err := s.ConnectSlim(ctx, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("ConnectSlim: %v", err)
	}
	defer s.Close()

	if meta.ID != "15551234567@s.whatsapp.net" {
		t.Errorf("expected rewritten JID, got %q", meta.ID)
	}
	if meta.Name != "Fake User" {
		t.Errorf("expected pushname to carry through, got %q", meta.Name)
	}
	if s.Phase().Kind != PhaseLive {
		t.Errorf("expected phase Live after a successful handshake, got %v", s.Phase().Kind)
	}
}

// TestSessionKeepAliveTimeoutTriggersDisconnect drives boundary
// scenario 6: a stale keep-alive window closes the transport and
// surfaces OnUnexpectedDisconnect instead of hanging.
func TestSessionKeepAliveTimeoutTriggersDisconnect(t *testing.T) {
	endpoint, closeServer := fakeWAServer(t)
	defer closeServer()

	disconnected := make(chan error, 1)

	s := NewSession(Config{
		Endpoint:          endpoint,
		KeepAliveInterval: 20 * time.Millisecond,
		KeepAliveStale:    10 * time.Millisecond,
		OnUnexpectedDisconnect: func(err error) {
			disconnected <- err
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.ConnectSlim(ctx, nil, 5*time.Second); err != nil {
		t.Fatalf("ConnectSlim: %v", err)
	}
	defer s.Close()

	select {
	case err := <-disconnected:
		if _, ok := err.(*TransportClosedError); !ok {
			t.Errorf("expected *TransportClosedError, got %v (%T)", err, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for keep-alive staleness to trigger a disconnect")
	}

	if s.Phase().Kind != PhaseDisconnected {
		t.Errorf("expected phase Disconnected after keep-alive timeout, got %v", s.Phase().Kind)
	}
}

// TestSessionReconnectsAfterTransportLoss exercises reconnectLoop end
// to end: after the transport drops, AutoReconnect drives a fresh
// Connect against a second accepted connection and reaches Live again.
func TestSessionReconnectsAfterTransportLoss(t *testing.T) {
	endpoint, closeServer := fakeWAServer(t)
	defer closeServer()

	dropped := make(chan struct{}, 1)

	s := NewSession(Config{
		Endpoint:          endpoint,
		AutoReconnect:     true,
		KeepAliveInterval: 20 * time.Millisecond,
		KeepAliveStale:    10 * time.Millisecond,
		OnUnexpectedDisconnect: func(error) {
			dropped <- struct{}{}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.ConnectSlim(ctx, nil, 5*time.Second); err != nil {
		t.Fatalf("ConnectSlim: %v", err)
	}
	defer s.Close()

	firstSince := s.Phase().Since

	select {
	case <-dropped:
		t.Fatal("OnUnexpectedDisconnect should not fire while AutoReconnect handles the drop")
	case <-time.After(300 * time.Millisecond):
	}

	// The transient Reconnecting phase can come and go faster than any
	// poll interval against a local fake server, so rather than catch
	// it mid-flight, confirm a second, later handshake actually
	// happened: Phase is Live again with a Since strictly after the
	// first one.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p := s.Phase()
		if p.Kind == PhaseLive && p.Since.After(firstSince) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for reconnect to reach Live again, last phase %v", s.Phase().Kind)
}
