// Package strkey encodes and decodes ledger account keys.
//
// An account key is the base32 encoding of a version byte, the raw 32-byte
// ed25519 public key, and a CRC16-XModem checksum. Public account keys use
// version byte 6<<3, which makes every encoded key start with 'G'.
package strkey

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidKey      = errors.New("strkey: invalid account key")
	ErrInvalidChecksum = errors.New("strkey: checksum mismatch")
)

// VersionAccount is the version byte for public account keys ("G...").
const VersionAccount byte = 6 << 3

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Encode returns the strkey form of a raw ed25519 public key.
func Encode(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: want %d key bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(pub))
	}

	raw := make([]byte, 0, 1+ed25519.PublicKeySize+2)
	raw = append(raw, VersionAccount)
	raw = append(raw, pub...)
	raw = binary.LittleEndian.AppendUint16(raw, checksum(raw))

	return b32.EncodeToString(raw), nil
}

// Decode parses a strkey-encoded account key back into the raw public key.
func Decode(key string) (ed25519.PublicKey, error) {
	raw, err := b32.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 1+ed25519.PublicKeySize+2 {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, 1+ed25519.PublicKeySize+2, len(raw))
	}
	if raw[0] != VersionAccount {
		return nil, fmt.Errorf("%w: unexpected version byte 0x%02x", ErrInvalidKey, raw[0])
	}

	payload := raw[:len(raw)-2]
	want := binary.LittleEndian.Uint16(raw[len(raw)-2:])
	if checksum(payload) != want {
		return nil, ErrInvalidChecksum
	}

	return ed25519.PublicKey(bytes.Clone(payload[1:])), nil
}

// IsValid reports whether key decodes to a well-formed account key.
func IsValid(key string) bool {
	_, err := Decode(key)
	return err == nil
}

// checksum computes CRC16-XModem (poly 0x1021, initial value 0).
func checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
