package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/lumenlock/lumenlock/internal/strkey"
)

type testKey struct {
	address string
	priv    ed25519.PrivateKey
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	address, err := strkey.Encode(pub)
	if err != nil {
		t.Fatalf("encode key: %v", err)
	}
	return testKey{address: address, priv: priv}
}

func (k testKey) sign(nonce string) []byte {
	return ed25519.Sign(k.priv, ChallengeMessage(nonce))
}

func newTestBinder(opts ...BinderOption) *Binder {
	return NewBinder(NewMemoryStore(), "test-secret", slog.Default(), opts...)
}

func TestVerify_HappyPath(t *testing.T) {
	// Scenario: connect, authenticate, expect a session valid for 1 hour
	// bound to the wallet's public key.
	binder := newTestBinder()
	key := newTestKey(t)
	ctx := context.Background()

	ch, err := binder.Challenge(ctx, key.address)
	if err != nil {
		t.Fatalf("Challenge failed: %v", err)
	}
	if ch.Nonce == "" {
		t.Fatal("expected a nonce")
	}

	sess, err := binder.Verify(ctx, key.address, ch.Nonce, key.sign(ch.Nonce))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if sess.PublicKey != key.address {
		t.Errorf("session bound to %s, want %s", sess.PublicKey, key.address)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl < 59*time.Minute || ttl > 61*time.Minute {
		t.Errorf("expected ~1h session, got %s", ttl)
	}

	got, err := binder.Validate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got != key.address {
		t.Errorf("Validate returned %s, want %s", got, key.address)
	}
}

func TestVerify_NonceSingleUse(t *testing.T) {
	binder := newTestBinder()
	key := newTestKey(t)
	ctx := context.Background()

	ch, err := binder.Challenge(ctx, key.address)
	if err != nil {
		t.Fatalf("Challenge failed: %v", err)
	}
	sig := key.sign(ch.Nonce)

	if _, err := binder.Verify(ctx, key.address, ch.Nonce, sig); err != nil {
		t.Fatalf("first Verify failed: %v", err)
	}
	if _, err := binder.Verify(ctx, key.address, ch.Nonce, sig); !errors.Is(err, ErrReplayedNonce) {
		t.Errorf("expected ErrReplayedNonce on second use, got %v", err)
	}
}

func TestVerify_UnissuedNonce(t *testing.T) {
	binder := newTestBinder()
	key := newTestKey(t)

	if _, err := binder.Verify(context.Background(), key.address, "deadbeef", key.sign("deadbeef")); !errors.Is(err, ErrReplayedNonce) {
		t.Errorf("expected ErrReplayedNonce for unissued nonce, got %v", err)
	}
}

func TestVerify_ExpiredChallenge(t *testing.T) {
	binder := newTestBinder(WithChallengeTTL(-time.Second))
	key := newTestKey(t)
	ctx := context.Background()

	ch, err := binder.Challenge(ctx, key.address)
	if err != nil {
		t.Fatalf("Challenge failed: %v", err)
	}
	if _, err := binder.Verify(ctx, key.address, ch.Nonce, key.sign(ch.Nonce)); !errors.Is(err, ErrExpiredChallenge) {
		t.Errorf("expected ErrExpiredChallenge, got %v", err)
	}
}

func TestVerify_WrongSigner(t *testing.T) {
	binder := newTestBinder()
	alice := newTestKey(t)
	mallory := newTestKey(t)
	ctx := context.Background()

	ch, err := binder.Challenge(ctx, alice.address)
	if err != nil {
		t.Fatalf("Challenge failed: %v", err)
	}

	// Mallory signs Alice's challenge.
	if _, err := binder.Verify(ctx, alice.address, ch.Nonce, mallory.sign(ch.Nonce)); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}

	// A failed signature consumes the nonce: no second chance.
	if _, err := binder.Verify(ctx, alice.address, ch.Nonce, alice.sign(ch.Nonce)); !errors.Is(err, ErrReplayedNonce) {
		t.Errorf("expected ErrReplayedNonce after failed attempt, got %v", err)
	}
}

func TestVerify_GarbageSignature(t *testing.T) {
	binder := newTestBinder()
	key := newTestKey(t)
	ctx := context.Background()

	ch, _ := binder.Challenge(ctx, key.address)
	if _, err := binder.Verify(ctx, key.address, ch.Nonce, []byte("not a signature")); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestChallenge_RejectsMalformedKey(t *testing.T) {
	binder := newTestBinder()
	if _, err := binder.Challenge(context.Background(), "G_ALICE"); err == nil {
		t.Error("expected error for malformed public key")
	}
}

func TestReauthentication_ReplacesSession(t *testing.T) {
	binder := newTestBinder()
	key := newTestKey(t)
	ctx := context.Background()

	ch1, _ := binder.Challenge(ctx, key.address)
	first, err := binder.Verify(ctx, key.address, ch1.Nonce, key.sign(ch1.Nonce))
	if err != nil {
		t.Fatalf("first Verify failed: %v", err)
	}

	ch2, _ := binder.Challenge(ctx, key.address)
	second, err := binder.Verify(ctx, key.address, ch2.Nonce, key.sign(ch2.Nonce))
	if err != nil {
		t.Fatalf("second Verify failed: %v", err)
	}

	// Only the newest session is valid.
	if _, err := binder.Validate(ctx, first.Token); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("expected first session revoked, got %v", err)
	}
	if _, err := binder.Validate(ctx, second.Token); err != nil {
		t.Errorf("expected second session valid, got %v", err)
	}
}

func TestInvalidate_RevokesSession(t *testing.T) {
	binder := newTestBinder()
	key := newTestKey(t)
	ctx := context.Background()

	ch, _ := binder.Challenge(ctx, key.address)
	sess, err := binder.Verify(ctx, key.address, ch.Nonce, key.sign(ch.Nonce))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if err := binder.Invalidate(ctx, key.address); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := binder.Validate(ctx, sess.Token); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestValidate_RejectsForgedToken(t *testing.T) {
	binder := newTestBinder()
	forger := NewBinder(NewMemoryStore(), "other-secret", slog.Default())
	key := newTestKey(t)
	ctx := context.Background()

	ch, _ := forger.Challenge(ctx, key.address)
	sess, err := forger.Verify(ctx, key.address, ch.Nonce, key.sign(ch.Nonce))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if _, err := binder.Validate(ctx, sess.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for token signed with another secret, got %v", err)
	}
}

func TestValidate_RejectsGarbage(t *testing.T) {
	binder := newTestBinder()
	if _, err := binder.Validate(context.Background(), "not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
