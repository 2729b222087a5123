package strkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	key, err := Encode(pub)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(key, "G") {
		t.Errorf("expected key to start with G, got %s", key)
	}

	got, err := Decode(key)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !pub.Equal(got) {
		t.Error("decoded key does not match original")
	}
}

func TestEncode_RejectsShortKey(t *testing.T) {
	if _, err := Encode(ed25519.PublicKey([]byte{1, 2, 3})); err == nil {
		t.Error("expected error for short key")
	}
}

func TestDecode_RejectsCorruption(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	key, _ := Encode(pub)

	// Flip a character in the middle of the key.
	corrupted := []byte(key)
	if corrupted[20] == 'A' {
		corrupted[20] = 'B'
	} else {
		corrupted[20] = 'A'
	}

	if _, err := Decode(string(corrupted)); err == nil {
		t.Error("expected error for corrupted key")
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "not-base32!", "G_ALICE", "GAAAA"} {
		if IsValid(key) {
			t.Errorf("expected %q to be invalid", key)
		}
	}
}
