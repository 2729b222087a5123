package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lumenlock/lumenlock/internal/ledger"
	"github.com/lumenlock/lumenlock/internal/strkey"
)

func mustDecode(t *testing.T, key string) ed25519.PublicKey {
	t.Helper()
	pub, err := strkey.Decode(key)
	if err != nil {
		t.Fatalf("decode %s: %v", key, err)
	}
	return pub
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"freighter", KindFreighter},
		{"albedo", KindAlbedo},
		{"xbull", KindXBull},
		{"local", KindLocal},
		{"metamask", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		if got := ParseKind(tt.in); got != tt.want {
			t.Errorf("ParseKind(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLocalAdapter_RequestAccess(t *testing.T) {
	a, err := NewLocalAdapter(testNetwork)
	if err != nil {
		t.Fatalf("NewLocalAdapter failed: %v", err)
	}

	pk, err := a.RequestAccess(context.Background())
	if err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}
	if !strkey.IsValid(pk) {
		t.Errorf("expected a valid strkey address, got %s", pk)
	}
	if net, _ := a.Network(context.Background()); net != testNetwork {
		t.Errorf("expected network %q, got %q", testNetwork, net)
	}
}

func TestLocalAdapter_SignTransaction(t *testing.T) {
	a, _ := NewLocalAdapter(testNetwork)

	env := &ledger.Envelope{Source: a.Address(), Sequence: 7, Network: testNetwork}
	signed, err := a.SignTransaction(context.Background(), env)
	if err != nil {
		t.Fatalf("SignTransaction failed: %v", err)
	}
	if len(signed.Signatures) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(signed.Signatures))
	}

	digest, _ := env.SigningPayload()
	pub := mustDecode(t, a.Address())
	if !ed25519.Verify(pub, digest, signed.Signatures[0].Bytes) {
		t.Error("envelope signature does not verify")
	}
}

// scriptedBridge answers bridge requests from a fixed script.
type scriptedBridge struct {
	responses map[string]BridgeResponse
	requests  []BridgeRequest
	err       error
}

func (s *scriptedBridge) Request(ctx context.Context, req BridgeRequest) (BridgeResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return BridgeResponse{}, s.err
	}
	return s.responses[req.Method], nil
}

func TestBridgeAdapter_RequestAccess(t *testing.T) {
	bridge := &scriptedBridge{responses: map[string]BridgeResponse{
		"request_access": {Result: json.RawMessage(`{"public_key": "GDEMO"}`)},
	}}
	a := NewBridgeAdapter(KindFreighter, bridge)

	pk, err := a.RequestAccess(context.Background())
	if err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}
	if pk != "GDEMO" {
		t.Errorf("expected GDEMO, got %s", pk)
	}
	if bridge.requests[0].Wallet != KindFreighter {
		t.Errorf("request must carry the provider kind")
	}
}

func TestBridgeAdapter_ErrorMapping(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"not_installed", ErrNotInstalled},
		{"user_rejected", ErrUserRejected},
		{"timeout", ErrTimeout},
	}
	for _, tt := range tests {
		bridge := &scriptedBridge{responses: map[string]BridgeResponse{
			"request_access": {Error: tt.code},
		}}
		a := NewBridgeAdapter(KindAlbedo, bridge)
		if _, err := a.RequestAccess(context.Background()); !errors.Is(err, tt.want) {
			t.Errorf("code %s: expected %v, got %v", tt.code, tt.want, err)
		}
	}
}

func TestBridgeAdapter_SignPayloadRoundTrip(t *testing.T) {
	sig := base64.StdEncoding.EncodeToString([]byte("raw-signature"))
	bridge := &scriptedBridge{responses: map[string]BridgeResponse{
		"sign_payload": {Result: json.RawMessage(`{"signature": "` + sig + `"}`)},
	}}
	a := NewBridgeAdapter(KindXBull, bridge)

	got, err := a.SignPayload(context.Background(), []byte("challenge"))
	if err != nil {
		t.Fatalf("SignPayload failed: %v", err)
	}
	if string(got) != "raw-signature" {
		t.Errorf("expected decoded signature bytes, got %q", got)
	}

	var params struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(bridge.requests[0].Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.Payload != base64.StdEncoding.EncodeToString([]byte("challenge")) {
		t.Error("payload must be base64 encoded on the wire")
	}
}

func TestBridgeAdapter_RejectsUnsignedResult(t *testing.T) {
	bridge := &scriptedBridge{responses: map[string]BridgeResponse{
		"sign_transaction": {Result: json.RawMessage(`{"envelope": {"source": "G", "sequence": 1, "network": "n", "operations": [], "created_at": "0001-01-01T00:00:00Z"}}`)},
	}}
	a := NewBridgeAdapter(KindFreighter, bridge)

	env := &ledger.Envelope{Source: "G", Sequence: 1, Network: "n"}
	if _, err := a.SignTransaction(context.Background(), env); !errors.Is(err, ErrUserRejected) {
		t.Errorf("expected ErrUserRejected for unsigned result, got %v", err)
	}
}
