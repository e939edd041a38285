package codec

import (
	"testing"

	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/test"
)

func sampleEncryptedKeypair() core.EncryptedKeypair {
	return core.EncryptedKeypair{
		VK:          []byte("01234567890123456789012345678901"),
		Salt:        []byte("abcdefghijkl"),
		Ciphertext:  []byte("0123456789012345678901234567890123456789012345"),
		VKSignature: []byte("abcdefghijabcdefghijabcdefghijabcdefghijabcdefghijabcdefghijab"),
	}
}

func TestEncryptedKeypairRoundTrip(t *testing.T) {
	k := sampleEncryptedKeypair()
	data, err := EncodeEncryptedKeypair(k)
	test.AssertNotError(t, err, "EncodeEncryptedKeypair failed")

	decoded, err := DecodeEncryptedKeypair(data)
	test.AssertNotError(t, err, "DecodeEncryptedKeypair failed")
	test.AssertByteEquals(t, decoded.VK, k.VK)
	test.AssertByteEquals(t, decoded.Salt, k.Salt)
	test.AssertByteEquals(t, decoded.Ciphertext, k.Ciphertext)
	test.AssertByteEquals(t, decoded.VKSignature, k.VKSignature)
}

func TestEncryptedKeypairCanonicalBytesAreSorted(t *testing.T) {
	k := sampleEncryptedKeypair()
	data, err := EncodeEncryptedKeypair(k)
	test.AssertNotError(t, err, "EncodeEncryptedKeypair failed")
	test.AssertEquals(t, string(data[:2]), `{"`)
	// "ciphertext" sorts before "salt", "vk", and "vk_signature".
	test.Assert(t, len(data) > 0 && data[2] == 'c', "expected ciphertext to be the first key in sorted order")
}

func TestDecodeEncryptedKeypairRejectsMissingField(t *testing.T) {
	_, err := DecodeEncryptedKeypair([]byte(`{"vk":"MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE"}`))
	test.AssertError(t, err, "expected an error for a missing required field")
	test.Assert(t, lerr.Is(err, lerr.CorruptRecord), "expected CorruptRecord")
}

func TestDecodeEncryptedKeypairRejectsUnrecognizedField(t *testing.T) {
	k := sampleEncryptedKeypair()
	data, err := EncodeEncryptedKeypair(k)
	test.AssertNotError(t, err, "EncodeEncryptedKeypair failed")

	tree, err := parse(data)
	test.AssertNotError(t, err, "parse failed")
	obj := tree.(map[string]value)
	obj["extra"] = "surprise"
	tampered, err := marshalTree(obj)
	test.AssertNotError(t, err, "marshalTree failed")

	_, err = DecodeEncryptedKeypair(tampered)
	test.AssertError(t, err, "expected an error for an unrecognized field")
}
