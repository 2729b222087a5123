package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient talks to a horizon-style REST submission endpoint.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type accountResponse struct {
	Sequence uint64 `json:"sequence"`
}

type submitResponse struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// SequenceFor fetches the account's current sequence number.
func (c *HTTPClient) SequenceFor(ctx context.Context, account string) (uint64, error) {
	var out accountResponse
	if err := c.get(ctx, "/accounts/"+account, &out); err != nil {
		return 0, err
	}
	return out.Sequence, nil
}

// Submit posts a signed envelope to the network.
func (c *HTTPClient) Submit(ctx context.Context, env *Envelope) (*SubmitResult, error) {
	if !env.Signed() {
		return nil, fmt.Errorf("%w: envelope is unsigned", ErrRejected)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, classify(resp)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	return &SubmitResult{Hash: out.Hash, Status: TxStatus(out.Status)}, nil
}

// TransactionStatus fetches the confirmation state for a submission hash.
func (c *HTTPClient) TransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	var out submitResponse
	if err := c.get(ctx, "/transactions/"+hash, &out); err != nil {
		return "", err
	}
	switch s := TxStatus(out.Status); s {
	case TxPending, TxConfirmed, TxFailed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrRejected, out.Status)
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return classify(resp)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// classify maps a rejection response onto the package error taxonomy.
func classify(resp *http.Response) error {
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrNetworkUnavailable, resp.StatusCode)
	}

	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch body.Code {
	case "tx_bad_seq":
		return ErrSequenceConflict
	case "tx_insufficient_balance":
		return ErrInsufficientFunds
	default:
		if body.Detail != "" {
			return fmt.Errorf("%w: %s", ErrRejected, body.Detail)
		}
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
}
