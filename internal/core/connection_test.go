package core

import (
	"strings"
	"testing"
)

func TestConfigSetDefaults(t *testing.T) {
	var c Config
	c.setDefaults()

	if c.Endpoint != WAWebSocketURL {
		t.Errorf("expected default endpoint %q, got %q", WAWebSocketURL, c.Endpoint)
	}
	if c.Origin != WAOrigin {
		t.Errorf("expected default origin %q, got %q", WAOrigin, c.Origin)
	}
	if c.Logger == nil {
		t.Error("expected a no-op logger to be installed by default")
	}
	if c.Decoder == nil || c.Encoder == nil {
		t.Error("expected default binary codec to be installed")
	}
	if c.MaxBackoff != maxBackoffDefault {
		t.Errorf("expected default max backoff %v, got %v", maxBackoffDefault, c.MaxBackoff)
	}
	if c.KeepAliveInterval != keepAliveInterval {
		t.Errorf("expected default keep-alive interval %v, got %v", keepAliveInterval, c.KeepAliveInterval)
	}
	if c.KeepAliveStale != keepAliveStale {
		t.Errorf("expected default keep-alive stale threshold %v, got %v", keepAliveStale, c.KeepAliveStale)
	}
}

func TestNextTagFormat(t *testing.T) {
	s := NewSession(Config{})

	tag1 := s.nextTag()
	tag2 := s.nextTag()

	if tag1 == tag2 {
		t.Error("successive tags must differ")
	}
	if !strings.Contains(tag1, ".--") {
		t.Errorf("expected tag to contain the \".--\" separator, got %q", tag1)
	}
}

func TestCheckStatusOK(t *testing.T) {
	cases := []struct {
		name    string
		payload interface{}
		wantErr bool
	}{
		{"no status field", map[string]interface{}{}, false},
		{"status 200", map[string]interface{}{"status": float64(200)}, false},
		{"status 401", map[string]interface{}{"status": float64(401)}, true},
		{"status 429", map[string]interface{}{"status": float64(429)}, true},
		{"status other", map[string]interface{}{"status": float64(500)}, true},
		{"non-map payload", []interface{}{"a"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkStatusOK(tc.payload)
			if (err != nil) != tc.wantErr {
				t.Errorf("checkStatusOK(%v) error = %v, wantErr %v", tc.payload, err, tc.wantErr)
			}
		})
	}
}

func TestCheckStatusOKErrorTypes(t *testing.T) {
	err := checkStatusOK(map[string]interface{}{"status": float64(401)})
	if _, ok := err.(*UnpairedError); !ok {
		t.Errorf("expected *UnpairedError for status 401, got %T", err)
	}

	err = checkStatusOK(map[string]interface{}{"status": float64(429)})
	if _, ok := err.(*DeniedError); !ok {
		t.Errorf("expected *DeniedError for status 429, got %T", err)
	}
}

func TestToInt(t *testing.T) {
	cases := []struct {
		in   interface{}
		want int
	}{
		{float64(200), 200},
		{42, 42},
		{"7", 7},
		{"not a number", 0},
		{nil, 0},
	}
	for _, tc := range cases {
		if got := toInt(tc.in); got != tc.want {
			t.Errorf("toInt(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestExtractRef(t *testing.T) {
	ref := extractRef(map[string]interface{}{"ref": "abc123"})
	if ref != "abc123" {
		t.Errorf("expected ref \"abc123\", got %q", ref)
	}
	if extractRef([]interface{}{"a"}) != "" {
		t.Error("expected empty ref for a non-map payload")
	}
}

func TestIsAllDigits(t *testing.T) {
	cases := map[string]bool{
		"12345": true,
		"":      false,
		"12a45": false,
		"0":     true,
	}
	for in, want := range cases {
		if got := isAllDigits([]byte(in)); got != want {
			t.Errorf("isAllDigits(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSessionPhaseTransitionsAreVisible(t *testing.T) {
	s := NewSession(Config{})
	if s.Phase().Kind != PhaseDisconnected {
		t.Errorf("expected initial phase Disconnected, got %v", s.Phase().Kind)
	}

	s.setPhase(SessionPhase{Kind: PhaseAwaitingQRScan, Ref: "r1"})
	got := s.Phase()
	if got.Kind != PhaseAwaitingQRScan || got.Ref != "r1" {
		t.Errorf("phase not updated correctly: %+v", got)
	}
}

func TestSessionAuthInfoCopiesNotAlias(t *testing.T) {
	s := NewSession(Config{})
	s.auth = &AuthInfo{ClientID: "abc"}

	copyInfo := s.AuthInfo()
	copyInfo.ClientID = "mutated"

	if s.auth.ClientID != "abc" {
		t.Error("AuthInfo() should return a copy, not the live pointer")
	}
}
