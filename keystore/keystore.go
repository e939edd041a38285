// Package keystore manages author and agent Ed25519 keypairs at rest:
// password-based derivation, ChaCha20-Poly1305 encryption of the signing
// key, and the offline vk_signature sanity check, grounded on the
// scrypt/AEAD-wrap pattern GoPassKeeper's keychain uses for its own
// key-encryption key (there Argon2id + AES-256-GCM over a DEK; here
// scrypt + ChaCha20-Poly1305 directly over the Ed25519 seed, per the
// engine's fixed KDF and AEAD choice).
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/metrics"
)

const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// Derive computes the 32-byte symmetric key scrypt derives from a
// (username, password, salt) triple. Username comparison is
// case-insensitive, so it is lower-cased before mixing into the KDF input;
// password is mixed byte-exact.
func Derive(username, password string, salt []byte) ([]byte, error) {
	input := []byte(strings.ToLower(username) + password)
	key, err := scrypt.Key(input, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, lerr.IOErrorf("deriving key: %s", err)
	}
	return key, nil
}

// Create builds a new EncryptedKeypair. If seed is nil, 32 bytes are drawn
// from the OS CSPRNG; otherwise seed is used verbatim as the Ed25519 seed,
// making key generation deterministic for testing and recovery scenarios.
func Create(seed []byte, username, password string) (core.EncryptedKeypair, error) {
	if seed == nil {
		seed = make([]byte, core.SeedLen)
		if _, err := rand.Read(seed); err != nil {
			return core.EncryptedKeypair{}, lerr.IOErrorf("reading random seed: %s", err)
		}
	}
	if len(seed) != core.SeedLen {
		return core.EncryptedKeypair{}, lerr.MalformedRecordError("seed must be %d bytes, got %d", core.SeedLen, len(seed))
	}

	sk := ed25519.NewKeyFromSeed(seed)
	vk := core.DeriveVK(sk)
	vkSignature := core.Sign(sk, vk)

	salt := make([]byte, core.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return core.EncryptedKeypair{}, lerr.IOErrorf("reading random salt: %s", err)
	}

	key, err := Derive(username, password, salt)
	if err != nil {
		return core.EncryptedKeypair{}, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return core.EncryptedKeypair{}, lerr.IOErrorf("constructing AEAD cipher: %s", err)
	}
	ciphertext := aead.Seal(nil, salt, seed, nil)

	return core.EncryptedKeypair{
		VK:          []byte(vk),
		Salt:        salt,
		Ciphertext:  ciphertext,
		VKSignature: vkSignature,
	}, nil
}

// Open decrypts an EncryptedKeypair with the given credentials, returning
// the plaintext keypair. It fails with BadCredentials whenever AEAD
// authentication fails or the decrypted seed does not re-derive the stored
// vk — the two checks are deliberately collapsed into one error kind so a
// caller probing credential candidates cannot distinguish "wrong password"
// from "tampered file" by error type alone. scope may be nil, in which case
// nothing is reported; on success it is credited with one KeyStore.Opens.
func Open(k core.EncryptedKeypair, username, password string, scope metrics.Scope) (core.PlaintextKeypair, error) {
	if scope == nil {
		scope = metrics.NewNoopScope()
	}
	if len(k.Salt) != core.SaltLen {
		return core.PlaintextKeypair{}, lerr.CorruptRecordError("salt must be %d bytes, got %d", core.SaltLen, len(k.Salt))
	}
	if len(k.VK) != core.VKLen {
		return core.PlaintextKeypair{}, lerr.CorruptRecordError("vk must be %d bytes, got %d", core.VKLen, len(k.VK))
	}

	key, err := Derive(username, password, k.Salt)
	if err != nil {
		return core.PlaintextKeypair{}, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return core.PlaintextKeypair{}, lerr.IOErrorf("constructing AEAD cipher: %s", err)
	}

	seed, err := aead.Open(nil, k.Salt, k.Ciphertext, nil)
	if err != nil {
		return core.PlaintextKeypair{}, lerr.BadCredentialsError("decryption failed")
	}
	if len(seed) != core.SeedLen {
		return core.PlaintextKeypair{}, lerr.BadCredentialsError("decrypted seed has unexpected length")
	}

	sk := ed25519.NewKeyFromSeed(seed)
	vk := core.DeriveVK(sk)
	if !core.ConstantTimeEqual(vk, k.VK) {
		return core.PlaintextKeypair{}, lerr.BadCredentialsError("decrypted key does not match stored vk")
	}

	scope.Inc("KeyStore.Opens", 1)
	return core.PlaintextKeypair{VK: vk, SK: sk}, nil
}
