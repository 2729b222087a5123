package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumenlock/lumenlock/internal/ledger"
)

// BridgeRequest is a capability call forwarded to a browser-side provider.
type BridgeRequest struct {
	ID     string          `json:"id"`
	Wallet Kind            `json:"wallet"`
	Method string          `json:"method"` // request_access, sign_payload, sign_transaction, get_network
	Params json.RawMessage `json:"params,omitempty"`
}

// BridgeResponse is the browser's reply to a BridgeRequest.
type BridgeResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"` // not_installed, user_rejected, timeout, or free text
}

// Requester delivers a bridge request to the browser and waits for the
// matching response. Implementations must honor ctx cancellation.
type Requester interface {
	Request(ctx context.Context, req BridgeRequest) (BridgeResponse, error)
}

// BridgeAdapter reaches a real extension wallet by relaying capability
// calls through the browser session. One instance per provider kind.
type BridgeAdapter struct {
	kind   Kind
	bridge Requester
}

// NewBridgeAdapter creates an adapter for the given provider kind.
func NewBridgeAdapter(kind Kind, bridge Requester) *BridgeAdapter {
	return &BridgeAdapter{kind: kind, bridge: bridge}
}

func (a *BridgeAdapter) Kind() Kind { return a.kind }

func (a *BridgeAdapter) RequestAccess(ctx context.Context) (string, error) {
	res, err := a.call(ctx, "request_access", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return "", fmt.Errorf("decode request_access result: %w", err)
	}
	if out.PublicKey == "" {
		return "", fmt.Errorf("%w: provider returned no public key", ErrUserRejected)
	}
	return out.PublicKey, nil
}

func (a *BridgeAdapter) SignPayload(ctx context.Context, payload []byte) ([]byte, error) {
	params, _ := json.Marshal(map[string]string{
		"payload": base64.StdEncoding.EncodeToString(payload),
	})
	res, err := a.call(ctx, "sign_payload", params)
	if err != nil {
		return nil, err
	}
	var out struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("decode sign_payload result: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return sig, nil
}

func (a *BridgeAdapter) SignTransaction(ctx context.Context, env *ledger.Envelope) (*ledger.Envelope, error) {
	params, err := json.Marshal(map[string]any{"envelope": env})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	res, err := a.call(ctx, "sign_transaction", params)
	if err != nil {
		return nil, err
	}
	var out struct {
		Envelope *ledger.Envelope `json:"envelope"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("decode sign_transaction result: %w", err)
	}
	if out.Envelope == nil || !out.Envelope.Signed() {
		return nil, fmt.Errorf("%w: provider returned an unsigned envelope", ErrUserRejected)
	}
	return out.Envelope, nil
}

func (a *BridgeAdapter) Network(ctx context.Context) (string, error) {
	res, err := a.call(ctx, "get_network", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Network string `json:"network"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return "", fmt.Errorf("decode get_network result: %w", err)
	}
	return out.Network, nil
}

func (a *BridgeAdapter) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	res, err := a.bridge.Request(ctx, BridgeRequest{
		Wallet: a.kind,
		Method: method,
		Params: params,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	if res.Error != "" {
		return nil, mapBridgeError(res.Error)
	}
	return res.Result, nil
}

// mapBridgeError translates browser-side error codes into the wallet
// error taxonomy.
func mapBridgeError(code string) error {
	switch code {
	case "not_installed":
		return ErrNotInstalled
	case "user_rejected":
		return ErrUserRejected
	case "timeout":
		return ErrTimeout
	default:
		return fmt.Errorf("wallet: provider error: %s", code)
	}
}
