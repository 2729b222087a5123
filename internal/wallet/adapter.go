// Package wallet abstracts browser wallet providers behind a fixed
// capability set and owns the single wallet session state machine.
package wallet

import (
	"context"
	"errors"

	"github.com/lumenlock/lumenlock/internal/ledger"
)

// Wallet errors, surfaced directly to callers. They usually require user
// action (install the extension, approve the prompt) and are never retried
// automatically.
var (
	ErrNotInstalled     = errors.New("wallet: provider not installed")
	ErrUserRejected     = errors.New("wallet: user rejected the request")
	ErrNetworkMismatch  = errors.New("wallet: provider is on a different network")
	ErrTimeout          = errors.New("wallet: request timed out")
	ErrNotConnected     = errors.New("wallet: no wallet connected")
	ErrAlreadyConnected = errors.New("wallet: a wallet is already connected")
	ErrUnknownProvider  = errors.New("wallet: unknown provider")
)

// Kind identifies a wallet provider.
type Kind string

const (
	KindFreighter Kind = "freighter"
	KindAlbedo    Kind = "albedo"
	KindXBull     Kind = "xbull"
	KindLocal     Kind = "local" // in-process demo signer
	KindUnknown   Kind = "unknown"
)

// ParseKind maps a provider name onto a Kind, defaulting to KindUnknown.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindFreighter, KindAlbedo, KindXBull, KindLocal:
		return Kind(s)
	default:
		return KindUnknown
	}
}

// Adapter is the capability set every wallet provider implements.
// Calls may fail with ErrNotInstalled, ErrUserRejected, or ErrTimeout;
// adapters perform no retries, callers decide retry policy.
type Adapter interface {
	// Kind identifies the provider behind this adapter.
	Kind() Kind
	// RequestAccess asks the provider for its account public key. This is
	// user-interactive in real providers.
	RequestAccess(ctx context.Context) (publicKey string, err error)
	// SignPayload asks the provider to sign arbitrary challenge bytes.
	SignPayload(ctx context.Context, payload []byte) (signature []byte, err error)
	// SignTransaction asks the provider to sign a transaction envelope and
	// returns the envelope with the signature attached.
	SignTransaction(ctx context.Context, env *ledger.Envelope) (*ledger.Envelope, error)
	// Network returns the network passphrase the provider is configured for.
	Network(ctx context.Context) (string, error)
}
