// Package auth binds a connected wallet's public key to an authenticated
// session via a signed challenge.
//
// Flow:
//  1. Client requests a challenge for its public key
//  2. Wallet signs the challenge message
//  3. Verify consumes the nonce, checks the ed25519 signature, and issues
//     a session token bound to the key
//
// A nonce is single-use; a failed signature is fatal for the attempt and
// never retried, since it may indicate tampering.
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lumenlock/lumenlock/internal/idgen"
	"github.com/lumenlock/lumenlock/internal/strkey"
)

var (
	ErrInvalidSignature = errors.New("auth: signature verification failed")
	ErrExpiredChallenge = errors.New("auth: challenge expired")
	ErrReplayedNonce    = errors.New("auth: challenge nonce already used")
	ErrInvalidToken     = errors.New("auth: invalid session token")
	ErrSessionRevoked   = errors.New("auth: session revoked")
)

const (
	DefaultChallengeTTL = 5 * time.Minute
	DefaultSessionTTL   = time.Hour

	tokenAudience = "lumenlock:session"
)

// Challenge is a one-time value the wallet signs to prove key control.
type Challenge struct {
	PublicKey string    `json:"public_key"`
	Nonce     string    `json:"nonce"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is an issued auth session.
type Session struct {
	PublicKey string    `json:"public_key"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists single-use nonces and the active session per public key.
type Store interface {
	// PutNonce records a challenge nonce with its expiry.
	PutNonce(ctx context.Context, publicKey, nonce string, expiresAt time.Time) error
	// ConsumeNonce removes the nonce and returns its recorded expiry.
	// ok is false when the nonce was never issued or already consumed.
	ConsumeNonce(ctx context.Context, publicKey, nonce string) (expiresAt time.Time, ok bool, err error)
	// SetActive records tokenID as the single active session for the key,
	// replacing any prior session.
	SetActive(ctx context.Context, publicKey, tokenID string, ttl time.Duration) error
	// ActiveTokenID returns the active session's token ID, or "" when none.
	ActiveTokenID(ctx context.Context, publicKey string) (string, error)
	// Revoke clears the active session for the key.
	Revoke(ctx context.Context, publicKey string) error
}

// ChallengeMessage returns the exact bytes the wallet signs for a nonce.
func ChallengeMessage(nonce string) []byte {
	return []byte("lumenlock auth " + nonce)
}

// Binder issues and verifies challenges and owns auth sessions.
type Binder struct {
	store        Store
	secret       []byte
	challengeTTL time.Duration
	sessionTTL   time.Duration
	logger       *slog.Logger
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithChallengeTTL overrides the challenge lifetime.
func WithChallengeTTL(d time.Duration) BinderOption {
	return func(b *Binder) { b.challengeTTL = d }
}

// WithSessionTTL overrides the session token lifetime.
func WithSessionTTL(d time.Duration) BinderOption {
	return func(b *Binder) { b.sessionTTL = d }
}

// NewBinder creates a session binder signing tokens with secret.
func NewBinder(store Store, secret string, logger *slog.Logger, opts ...BinderOption) *Binder {
	b := &Binder{
		store:        store,
		secret:       []byte(secret),
		challengeTTL: DefaultChallengeTTL,
		sessionTTL:   DefaultSessionTTL,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Challenge issues a fresh single-use challenge for the public key.
func (b *Binder) Challenge(ctx context.Context, publicKey string) (*Challenge, error) {
	if _, err := strkey.Decode(publicKey); err != nil {
		return nil, err
	}

	now := time.Now()
	ch := &Challenge{
		PublicKey: publicKey,
		Nonce:     idgen.Hex(32),
		IssuedAt:  now,
		ExpiresAt: now.Add(b.challengeTTL),
	}

	if err := b.store.PutNonce(ctx, publicKey, ch.Nonce, ch.ExpiresAt); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return ch, nil
}

// Verify consumes the challenge and, when the signature checks out against
// the claimed public key, issues a session token. Re-authentication
// replaces any prior session for the same key.
func (b *Binder) Verify(ctx context.Context, publicKey, nonce string, signature []byte) (*Session, error) {
	pub, err := strkey.Decode(publicKey)
	if err != nil {
		return nil, err
	}

	expiresAt, ok, err := b.store.ConsumeNonce(ctx, publicKey, nonce)
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	if !ok {
		return nil, ErrReplayedNonce
	}
	if time.Now().After(expiresAt) {
		return nil, ErrExpiredChallenge
	}

	if !ed25519.Verify(pub, ChallengeMessage(nonce), signature) {
		// Fatal for this attempt: may indicate tampering, never retried.
		b.logger.Warn("challenge signature rejected", "public_key", publicKey)
		return nil, ErrInvalidSignature
	}

	return b.issue(ctx, publicKey)
}

func (b *Binder) issue(ctx context.Context, publicKey string) (*Session, error) {
	now := time.Now()
	expiresAt := now.Add(b.sessionTTL)
	tokenID := uuid.NewString()

	claims := jwt.RegisteredClaims{
		Subject:   publicKey,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        tokenID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	if err := b.store.SetActive(ctx, publicKey, tokenID, b.sessionTTL); err != nil {
		return nil, fmt.Errorf("record active session: %w", err)
	}

	b.logger.Info("auth session issued", "public_key", publicKey, "expires_at", expiresAt)
	return &Session{PublicKey: publicKey, Token: token, ExpiresAt: expiresAt}, nil
}

// Validate parses a session token and checks it is still the active
// session for its subject. Returns the bound public key.
func (b *Binder) Validate(ctx context.Context, token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.secret, nil
	}, jwt.WithAudience(tokenAudience), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	active, err := b.store.ActiveTokenID(ctx, claims.Subject)
	if err != nil {
		return "", fmt.Errorf("look up active session: %w", err)
	}
	if active == "" || active != claims.ID {
		return "", ErrSessionRevoked
	}

	return claims.Subject, nil
}

// Invalidate revokes the active session for a public key. Wired to the
// connection manager's disconnect hook.
func (b *Binder) Invalidate(ctx context.Context, publicKey string) error {
	return b.store.Revoke(ctx, publicKey)
}

// nonceKey joins a public key and nonce into one store key.
func nonceKey(publicKey, nonce string) string {
	return publicKey + ":" + nonce
}
