package core

import (
	"crypto/ed25519"
	"crypto/subtle"
)

// DeriveVK returns the verifying key embedded in an Ed25519 signing key.
func DeriveVK(sk ed25519.PrivateKey) ed25519.PublicKey {
	return sk.Public().(ed25519.PublicKey)
}

// Sign signs message with sk, returning the 64-byte signature.
func Sign(sk ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(sk, message)
}

// VerifySignature reports whether signature is a valid Ed25519 signature of
// message under vk.
func VerifySignature(vk ed25519.PublicKey, message, signature []byte) bool {
	if len(vk) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(vk, message, signature)
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information about where they first differ.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
