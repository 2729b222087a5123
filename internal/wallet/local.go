package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/lumenlock/lumenlock/internal/ledger"
	"github.com/lumenlock/lumenlock/internal/strkey"
)

// LocalAdapter holds an in-process ed25519 keypair and approves every
// request immediately. It backs demo mode and tests; real providers go
// through BridgeAdapter.
type LocalAdapter struct {
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	address string
	network string
}

// NewLocalAdapter generates a fresh keypair for the given network.
func NewLocalAdapter(network string) (*LocalAdapter, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return newLocalAdapter(pub, priv, network)
}

// NewLocalAdapterFromKey wraps an existing private key.
func NewLocalAdapterFromKey(priv ed25519.PrivateKey, network string) (*LocalAdapter, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("derive public key from private key")
	}
	return newLocalAdapter(pub, priv, network)
}

func newLocalAdapter(pub ed25519.PublicKey, priv ed25519.PrivateKey, network string) (*LocalAdapter, error) {
	address, err := strkey.Encode(pub)
	if err != nil {
		return nil, err
	}
	return &LocalAdapter{pub: pub, priv: priv, address: address, network: network}, nil
}

func (a *LocalAdapter) Kind() Kind { return KindLocal }

// Address returns the adapter's strkey-encoded public key.
func (a *LocalAdapter) Address() string { return a.address }

func (a *LocalAdapter) RequestAccess(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return a.address, nil
}

func (a *LocalAdapter) SignPayload(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ed25519.Sign(a.priv, payload), nil
}

func (a *LocalAdapter) SignTransaction(ctx context.Context, env *ledger.Envelope) (*ledger.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := env.SigningPayload()
	if err != nil {
		return nil, err
	}

	signed := *env
	signed.Signatures = append(signed.Signatures[:len(signed.Signatures):len(signed.Signatures)], ledger.Signature{
		PublicKey: a.address,
		Bytes:     ed25519.Sign(a.priv, digest),
	})
	return &signed, nil
}

func (a *LocalAdapter) Network(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return a.network, nil
}
