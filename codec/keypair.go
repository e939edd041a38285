package codec

import (
	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
)

func encryptedKeypairToValue(k core.EncryptedKeypair) map[string]value {
	return map[string]value{
		"vk":           k.VK,
		"salt":         k.Salt,
		"ciphertext":   k.Ciphertext,
		"vk_signature": k.VKSignature,
	}
}

func valueToEncryptedKeypair(v value) (core.EncryptedKeypair, error) {
	obj, err := asObject(v)
	if err != nil {
		return core.EncryptedKeypair{}, err
	}
	c := newConsumer(obj)
	var k core.EncryptedKeypair
	if k.VK, err = c.requireBytes("vk"); err != nil {
		return core.EncryptedKeypair{}, err
	}
	if k.Salt, err = c.requireBytes("salt"); err != nil {
		return core.EncryptedKeypair{}, err
	}
	if k.Ciphertext, err = c.requireBytes("ciphertext"); err != nil {
		return core.EncryptedKeypair{}, err
	}
	if k.VKSignature, err = c.requireBytes("vk_signature"); err != nil {
		return core.EncryptedKeypair{}, err
	}
	if err := c.finish(); err != nil {
		return core.EncryptedKeypair{}, err
	}
	return k, nil
}

// EncodeEncryptedKeypair returns the canonical byte form of an
// EncryptedKeypair, the contents of a *.crypto-keypair file.
func EncodeEncryptedKeypair(k core.EncryptedKeypair) ([]byte, error) {
	return marshalTree(encryptedKeypairToValue(k))
}

// DecodeEncryptedKeypair parses canonical keypair bytes into an
// EncryptedKeypair.
func DecodeEncryptedKeypair(data []byte) (core.EncryptedKeypair, error) {
	tree, err := parse(data)
	if err != nil {
		return core.EncryptedKeypair{}, err
	}
	k, err := valueToEncryptedKeypair(tree)
	if err != nil {
		return core.EncryptedKeypair{}, lerr.CorruptRecordError("%s", err)
	}
	return k, nil
}
