package codec

import (
	"testing"

	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/test"
)

func sampleLicense() core.License {
	return core.License{
		Author: core.Author{
			Domain:  "awesome-py-app.dominionrnd.com",
			Product: "AwesomePyApp",
			Service: "awesome-py-app",
			Pubkey:  []byte("01234567890123456789012345678901"),
		},
		Grant: map[string]core.Grant{
			"awesome-py-app": {"License": "ebyzJLMp...20c3"},
		},
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	lic := sampleLicense()
	b1, err := EncodeLicense(lic)
	test.AssertNotError(t, err, "EncodeLicense failed")

	decoded, err := DecodeLicense(b1)
	test.AssertNotError(t, err, "DecodeLicense failed")

	b2, err := EncodeLicense(decoded)
	test.AssertNotError(t, err, "re-EncodeLicense failed")

	// encode(decode(b)) == b whenever b was already canonical.
	test.AssertByteEquals(t, b1, b2)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	lic := sampleLicense()
	b1, err := EncodeLicense(lic)
	test.AssertNotError(t, err, "EncodeLicense failed")

	// encode(decode(encode(x))) == encode(x) unconditionally.
	canon, err := Canonicalize(b1)
	test.AssertNotError(t, err, "Canonicalize failed")
	test.AssertByteEquals(t, b1, canon)
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	in := []byte(`{"b":1,"a":2}`)
	out, err := Canonicalize(in)
	test.AssertNotError(t, err, "Canonicalize failed")
	test.AssertEquals(t, string(out), `{"a":2,"b":1}`)
}

func TestCanonicalizeNestedSort(t *testing.T) {
	in := []byte(`{"z":{"y":1,"x":2},"a":3}`)
	out, err := Canonicalize(in)
	test.AssertNotError(t, err, "Canonicalize failed")
	test.AssertEquals(t, string(out), `{"a":3,"z":{"x":2,"y":1}}`)
}

func TestCanonicalizeRejectsDuplicateKeys(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1,"a":2}`))
	test.AssertError(t, err, "expected an error for duplicate keys")
	test.Assert(t, lerr.Is(err, lerr.CorruptRecord), "expected CorruptRecord")
}

func TestCanonicalizeRejectsTrailingBytes(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1} garbage`))
	test.AssertError(t, err, "expected an error for trailing bytes")
}

func TestCanonicalizeRejectsNonUTF8(t *testing.T) {
	_, err := Canonicalize([]byte("{\"a\":\"\xff\xfe\"}"))
	test.AssertError(t, err, "expected an error for non-UTF-8 input")
}

func TestCanonicalizeNoWhitespace(t *testing.T) {
	in := []byte(`{  "a" :  1 , "b": [1, 2,   3]  }`)
	out, err := Canonicalize(in)
	test.AssertNotError(t, err, "Canonicalize failed")
	test.AssertEquals(t, string(out), `{"a":1,"b":[1,2,3]}`)
}

func TestCanonicalizeIntegersHaveNoTrailingDotZero(t *testing.T) {
	out, err := Canonicalize([]byte(`{"n":5}`))
	test.AssertNotError(t, err, "Canonicalize failed")
	test.AssertEquals(t, string(out), `{"n":5}`)
}

func TestCanonicalizeNormalizesWholeNumberFloats(t *testing.T) {
	out, err := Canonicalize([]byte(`{"n":5.0}`))
	test.AssertNotError(t, err, "Canonicalize failed")
	test.AssertEquals(t, string(out), `{"n":5}`)
}

func TestCanonicalizePreservesFractionalFloats(t *testing.T) {
	out, err := Canonicalize([]byte(`{"n":5.25}`))
	test.AssertNotError(t, err, "Canonicalize failed")
	test.AssertEquals(t, string(out), `{"n":5.25}`)
}

func TestDecodeLicenseRejectsUnrecognizedField(t *testing.T) {
	lic := sampleLicense()
	b, err := EncodeLicense(lic)
	test.AssertNotError(t, err, "EncodeLicense failed")

	tree, err := parse(b)
	test.AssertNotError(t, err, "parse failed")
	obj := tree.(map[string]value)
	obj["unexpected_field"] = "surprise"
	tampered, err := marshalTree(obj)
	test.AssertNotError(t, err, "marshalTree failed")

	_, err = DecodeLicense(tampered)
	test.AssertError(t, err, "expected an error for an unrecognized field")
}

func TestDecodeSignedLicenseWithDependencies(t *testing.T) {
	dep := core.SignedLicense{
		License:   sampleLicense(),
		Signature: []byte("0123456789012345678901234567890123456789012345678901234567890a"),
	}
	parent := core.License{
		Author: core.Author{
			Domain:  "dominionrnd.com",
			Product: "CryptoLicensingServer",
			Service: "crypto-licensing-server",
			Pubkey:  []byte("abcdefghijabcdefghijabcdefghijab"),
		},
		Dependencies: []core.SignedLicense{dep},
		Grant: map[string]core.Grant{
			"crypto-licensing-server": {"Seats": "10"},
		},
	}
	signed := core.SignedLicense{
		License:   parent,
		Signature: []byte("abcdefghijabcdefghijabcdefghijabcdefghijabcdefghijabcdefghijab"),
	}

	b, err := EncodeSignedLicense(signed)
	test.AssertNotError(t, err, "EncodeSignedLicense failed")

	decoded, err := DecodeSignedLicense(b)
	test.AssertNotError(t, err, "DecodeSignedLicense failed")
	test.AssertEquals(t, len(decoded.License.Dependencies), 1)
	test.AssertEquals(t, decoded.License.Dependencies[0].License.Author.Service, "awesome-py-app")
}
