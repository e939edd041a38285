// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package core defines the data model shared by every component of the
// license authority engine: keypairs, license records, and the recursive
// grant mapping they carry.
package core

import (
	"crypto/ed25519"
	"fmt"
	"regexp"
	"strings"
)

// VKLen and SKLen are the Ed25519 key sizes in bytes.
const (
	VKLen    = ed25519.PublicKeySize
	SKLen    = ed25519.PrivateKeySize // includes the embedded public key
	SeedLen  = ed25519.SeedSize
	SaltLen  = 12
	MaxDepth = 16 // DependencyTooDeep cap, see design notes
)

// PlaintextKeypair is an Ed25519 keypair held only in memory or in
// explicitly-permitted files.
type PlaintextKeypair struct {
	VK ed25519.PublicKey
	SK ed25519.PrivateKey
}

// EncryptedKeypair is the at-rest representation of a keypair: the signing
// key is encrypted under a password-derived key, and the verifying key
// carries a self-signature enabling an offline sanity check.
type EncryptedKeypair struct {
	VK          []byte `json:"vk"`           // 32 bytes, base64 on the wire
	Salt        []byte `json:"salt"`         // 12 bytes, doubles as the AEAD nonce
	Ciphertext  []byte `json:"ciphertext"`   // encrypted SK seed + 16-byte tag
	VKSignature []byte `json:"vk_signature"` // sign(SK, VK), 64 bytes
}

// Author identifies a license's issuing vendor.
type Author struct {
	Name    string `json:"name,omitempty"`
	Domain  string `json:"domain"`
	Product string `json:"product"`
	Service string `json:"service"`
	Pubkey  []byte `json:"pubkey"`
}

// Client identifies a license's recipient agent. A License with no Client is
// a bearer license.
type Client struct {
	Name   string `json:"name,omitempty"`
	Pubkey []byte `json:"pubkey"`
}

// Timespan binds a license to a validity window.
type Timespan struct {
	Start  string `json:"start"`  // RFC3339
	Length int64  `json:"length"` // seconds
}

// Grant is a recursive {string -> scalar|Grant} capability mapping. Scalars
// are numbers, strings, or booleans; map values are nested Grants.
type Grant map[string]interface{}

// License is the unsigned license record. Dependencies are owned by value:
// they are full SignedLicense records embedded in this License's canonical
// bytes, so any tampering with a dependency invalidates the parent's
// signature transitively.
type License struct {
	Author       Author         `json:"author"`
	Client       *Client        `json:"client,omitempty"`
	Dependencies []SignedLicense `json:"dependencies,omitempty"`
	Grant        map[string]Grant `json:"grant"`
	Machine      *string        `json:"machine,omitempty"` // UUID string
	Timespan     *Timespan      `json:"timespan,omitempty"`
}

// SignedLicense pairs a License with the Ed25519 signature its author
// produced over the License's canonical bytes.
type SignedLicense struct {
	License   License `json:"license"`
	Signature []byte  `json:"signature"`
}

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ServiceSlug computes the default `service` name for a product: lower-case,
// with runs of non-alphanumeric characters collapsed to a single hyphen, and
// leading/trailing hyphens trimmed.
func ServiceSlug(product string) string {
	slug := slugNonAlnum.ReplaceAllString(strings.ToLower(product), "-")
	return strings.Trim(slug, "-")
}

// String is a human-readable identifier for an Author, used in log lines.
func (a Author) String() string {
	return fmt.Sprintf("%s.crypto-licensing._domainkey.%s", a.Service, a.Domain)
}
