// Package ledger models transaction envelopes and the network submission
// endpoint for a Stellar-style ledger.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Submission errors, classified per the network's rejection codes.
var (
	ErrSequenceConflict   = errors.New("ledger: account sequence has advanced")
	ErrInsufficientFunds  = errors.New("ledger: insufficient funds")
	ErrNetworkUnavailable = errors.New("ledger: network unavailable")
	ErrRejected           = errors.New("ledger: transaction rejected")
	ErrTimeout            = errors.New("ledger: operation timed out")
	ErrNotFound           = errors.New("ledger: transaction not found")
)

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Operation is a single ledger operation inside an envelope.
type Operation struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Signature is a decoration on an envelope: who signed and the raw bytes.
type Signature struct {
	PublicKey string `json:"public_key"`
	Bytes     []byte `json:"bytes"`
}

// Envelope is a transaction envelope. An envelope without signatures is
// unsigned; SigningPayload is what wallets sign.
type Envelope struct {
	Source     string      `json:"source"`
	Sequence   uint64      `json:"sequence"`
	Network    string      `json:"network"`
	Operations []Operation `json:"operations"`
	Memo       string      `json:"memo,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	Signatures []Signature `json:"signatures,omitempty"`
}

// SigningPayload returns the bytes a wallet must sign: the SHA-256 of the
// network passphrase hash concatenated with the canonical envelope body.
func (e *Envelope) SigningPayload() ([]byte, error) {
	body := *e
	body.Signatures = nil

	raw, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope body: %w", err)
	}

	networkID := sha256.Sum256([]byte(e.Network))
	digest := sha256.Sum256(append(networkID[:], raw...))
	return digest[:], nil
}

// Signed reports whether the envelope carries at least one signature.
func (e *Envelope) Signed() bool {
	return len(e.Signatures) > 0
}

// SubmitResult is the network's acknowledgement of a submission.
type SubmitResult struct {
	Hash   string   `json:"hash"`
	Status TxStatus `json:"status"`
}

// Client is the network submission endpoint consumed by the orchestrator.
type Client interface {
	// SequenceFor returns the current sequence number for an account.
	SequenceFor(ctx context.Context, account string) (uint64, error)
	// Submit sends a signed envelope. Errors are classified into the
	// package taxonomy (ErrSequenceConflict, ErrInsufficientFunds, ...).
	Submit(ctx context.Context, env *Envelope) (*SubmitResult, error)
	// TransactionStatus reports the confirmation state for a submission hash.
	TransactionStatus(ctx context.Context, hash string) (TxStatus, error)
}
