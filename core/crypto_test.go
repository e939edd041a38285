package core

import (
	"crypto/ed25519"
	"testing"

	"github.com/dominionrnd/crypto-licensing/test"
)

func TestSignAndVerify(t *testing.T) {
	vk, sk, err := ed25519.GenerateKey(nil)
	test.AssertNotError(t, err, "generating key")

	msg := []byte("canonical license bytes")
	sig := Sign(sk, msg)
	test.Assert(t, VerifySignature(vk, msg, sig), "expected signature to verify")

	sig[0] ^= 0xFF
	test.Assert(t, !VerifySignature(vk, msg, sig), "expected a tampered signature to fail")
}

func TestDeriveVK(t *testing.T) {
	vk, sk, err := ed25519.GenerateKey(nil)
	test.AssertNotError(t, err, "generating key")
	test.AssertByteEquals(t, DeriveVK(sk), vk)
}

func TestVerifySignatureRejectsWrongKeyLength(t *testing.T) {
	test.Assert(t, !VerifySignature([]byte("too short"), []byte("msg"), []byte("sig")), "expected rejection of a malformed vk")
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte("abc")
	b := []byte("abc")
	c := []byte("abd")
	test.Assert(t, ConstantTimeEqual(a, b), "expected equal byte slices to compare equal")
	test.Assert(t, !ConstantTimeEqual(a, c), "expected differing byte slices to compare unequal")
	test.Assert(t, !ConstantTimeEqual(a, []byte("ab")), "expected differing lengths to compare unequal")
}
