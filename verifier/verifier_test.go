package verifier

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/dominionrnd/crypto-licensing/codec"
	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/test"
)

type fakeResolver struct {
	byName map[string][]byte
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{byName: make(map[string][]byte)}
}

func (f *fakeResolver) set(service, domain string, vk []byte) {
	f.byName[service+"\x00"+domain] = vk
}

func (f *fakeResolver) Resolve(ctx context.Context, service, domain string) ([]byte, error) {
	vk, ok := f.byName[service+"\x00"+domain]
	if !ok {
		return nil, lerr.NoRecordError("no record for %s.%s", service, domain)
	}
	return vk, nil
}

func issueLeaf(t *testing.T, service, domain string, grant core.Grant, ts *core.Timespan, machine *string) (core.SignedLicense, ed25519.PublicKey) {
	t.Helper()
	vk, sk, err := ed25519.GenerateKey(nil)
	test.AssertNotError(t, err, "generating key")

	lic := core.License{
		Author: core.Author{
			Domain:  domain,
			Product: service,
			Service: service,
			Pubkey:  []byte(vk),
		},
		Grant:    map[string]core.Grant{service: grant},
		Timespan: ts,
		Machine:  machine,
	}
	canonical, err := codec.EncodeLicense(lic)
	test.AssertNotError(t, err, "EncodeLicense failed")
	sig := core.Sign(sk, canonical)
	return core.SignedLicense{License: lic, Signature: sig}, vk
}

func TestVerifyLeafSucceeds(t *testing.T) {
	signed, vk := issueLeaf(t, "acme", "acme.example.com", core.Grant{"seats": "10"}, nil, nil)
	resolver := newFakeResolver()
	resolver.set("acme", "acme.example.com", vk)

	res, err := VerifySigned(context.Background(), signed, Options{Resolver: resolver})
	test.AssertNotError(t, err, "VerifySigned failed")
	test.AssertEquals(t, res.Grant["acme"]["seats"], "10")
}

func TestVerifyBadSignature(t *testing.T) {
	signed, vk := issueLeaf(t, "acme", "acme.example.com", core.Grant{"seats": "10"}, nil, nil)
	signed.Signature[0] ^= 0xFF
	resolver := newFakeResolver()
	resolver.set("acme", "acme.example.com", vk)

	_, err := VerifySigned(context.Background(), signed, Options{Resolver: resolver})
	test.Assert(t, lerr.Is(err, lerr.BadSignature), "expected BadSignature")
}

func TestVerifyNotAuthoritative(t *testing.T) {
	signed, _ := issueLeaf(t, "acme", "acme.example.com", core.Grant{"seats": "10"}, nil, nil)
	other, _, _ := ed25519.GenerateKey(nil)
	resolver := newFakeResolver()
	resolver.set("acme", "acme.example.com", other)

	_, err := VerifySigned(context.Background(), signed, Options{Resolver: resolver})
	test.Assert(t, lerr.Is(err, lerr.NotAuthoritative), "expected NotAuthoritative")
}

func TestVerifyTimeWindow(t *testing.T) {
	fc := clock.NewFake()
	fc.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ts := &core.Timespan{Start: "2026-01-01T00:00:00Z", Length: 3600}
	signed, vk := issueLeaf(t, "acme", "acme.example.com", core.Grant{"seats": "10"}, ts, nil)
	resolver := newFakeResolver()
	resolver.set("acme", "acme.example.com", vk)

	_, err := VerifySigned(context.Background(), signed, Options{Resolver: resolver, Clock: fc})
	test.AssertNotError(t, err, "expected success within the timespan")

	fc.Add(2 * time.Hour)
	_, err = VerifySigned(context.Background(), signed, Options{Resolver: resolver, Clock: fc})
	test.Assert(t, lerr.Is(err, lerr.Expired), "expected Expired after the window closes")
}

func TestVerifyNotYetValid(t *testing.T) {
	fc := clock.NewFake()
	fc.Set(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	ts := &core.Timespan{Start: "2030-01-01T00:00:00Z", Length: 3600}
	signed, vk := issueLeaf(t, "acme", "acme.example.com", core.Grant{"seats": "10"}, ts, nil)
	resolver := newFakeResolver()
	resolver.set("acme", "acme.example.com", vk)

	_, err := VerifySigned(context.Background(), signed, Options{Resolver: resolver, Clock: fc})
	test.Assert(t, lerr.Is(err, lerr.NotYetValid), "expected NotYetValid")
}

func TestVerifyMachineMismatch(t *testing.T) {
	want := "11111111-1111-1111-1111-111111111111"
	signed, vk := issueLeaf(t, "acme", "acme.example.com", core.Grant{"seats": "10"}, nil, &want)
	resolver := newFakeResolver()
	resolver.set("acme", "acme.example.com", vk)

	_, err := VerifySigned(context.Background(), signed, Options{Resolver: resolver, Machine: "other-machine"})
	test.Assert(t, lerr.Is(err, lerr.WrongMachine), "expected WrongMachine")

	_, err = VerifySigned(context.Background(), signed, Options{Resolver: resolver, Machine: want})
	test.AssertNotError(t, err, "expected success when the machine-id matches")
}

func TestVerifyDependencyChain(t *testing.T) {
	dep, depVK := issueLeaf(t, "crypto-licensing", "vendorb.example.com", core.Grant{"seats": "50"}, nil, nil)

	vk, sk, err := ed25519.GenerateKey(nil)
	test.AssertNotError(t, err, "generating parent key")
	lic := core.License{
		Author: core.Author{
			Domain:  "vendora.example.com",
			Product: "CryptoLicensingServer",
			Service: "crypto-licensing-server",
			Pubkey:  []byte(vk),
		},
		Dependencies: []core.SignedLicense{dep},
		Grant: map[string]core.Grant{
			"crypto-licensing-server": {"tier": "pro"},
			"crypto-licensing":        {"override": map[string]interface{}{"seats": "5"}},
		},
	}
	canonical, err := codec.EncodeLicense(lic)
	test.AssertNotError(t, err, "EncodeLicense failed")
	parent := core.SignedLicense{License: lic, Signature: core.Sign(sk, canonical)}

	resolver := newFakeResolver()
	resolver.set("crypto-licensing-server", "vendora.example.com", vk)
	resolver.set("crypto-licensing", "vendorb.example.com", depVK)

	res, err := VerifySigned(context.Background(), parent, Options{Resolver: resolver})
	test.AssertNotError(t, err, "VerifySigned failed")
	test.AssertEquals(t, res.Grant["crypto-licensing"]["seats"], "5")
	test.AssertEquals(t, res.Grant["crypto-licensing-server"]["tier"], "pro")
}

func TestVerifyDependencyMismatchFailsAuthority(t *testing.T) {
	dep, _ := issueLeaf(t, "crypto-licensing", "vendorb.example.com", core.Grant{"seats": "50"}, nil, nil)
	wrongVK, _, _ := ed25519.GenerateKey(nil)

	vk, sk, err := ed25519.GenerateKey(nil)
	test.AssertNotError(t, err, "generating parent key")
	lic := core.License{
		Author: core.Author{
			Domain:  "vendora.example.com",
			Product: "CryptoLicensingServer",
			Service: "crypto-licensing-server",
			Pubkey:  []byte(vk),
		},
		Dependencies: []core.SignedLicense{dep},
		Grant: map[string]core.Grant{
			"crypto-licensing-server": {},
			"crypto-licensing":        {},
		},
	}
	canonical, err := codec.EncodeLicense(lic)
	test.AssertNotError(t, err, "EncodeLicense failed")
	parent := core.SignedLicense{License: lic, Signature: core.Sign(sk, canonical)}

	resolver := newFakeResolver()
	resolver.set("crypto-licensing-server", "vendora.example.com", vk)
	resolver.set("crypto-licensing", "vendorb.example.com", wrongVK)

	_, err = VerifySigned(context.Background(), parent, Options{Resolver: resolver})
	test.Assert(t, lerr.Is(err, lerr.NotAuthoritative), "expected NotAuthoritative on dependency DNS mismatch")
}

func TestVerifyUnauthorizedRefinement(t *testing.T) {
	vk, sk, err := ed25519.GenerateKey(nil)
	test.AssertNotError(t, err, "generating key")
	lic := core.License{
		Author: core.Author{
			Domain:  "vendora.example.com",
			Product: "Acme",
			Service: "acme",
			Pubkey:  []byte(vk),
		},
		Grant: map[string]core.Grant{
			"acme":    {},
			"phantom": {},
		},
	}
	canonical, err := codec.EncodeLicense(lic)
	test.AssertNotError(t, err, "EncodeLicense failed")
	signed := core.SignedLicense{License: lic, Signature: core.Sign(sk, canonical)}

	resolver := newFakeResolver()
	resolver.set("acme", "vendora.example.com", vk)

	_, err = VerifySigned(context.Background(), signed, Options{Resolver: resolver})
	test.Assert(t, lerr.Is(err, lerr.UnauthorizedRefinement), "expected UnauthorizedRefinement for a grant key with no matching dependency")
}

func TestVerifyDependencyTooDeep(t *testing.T) {
	resolver := newFakeResolver()

	current, vk := issueLeaf(t, "svc0", "v0.example.com", core.Grant{"x": "1"}, nil, nil)
	resolver.set("svc0", "v0.example.com", vk)
	childService := "svc0"

	for i := 1; i <= core.MaxDepth+1; i++ {
		service := fmt.Sprintf("svc%d", i)
		domain := fmt.Sprintf("v%d.example.com", i)
		vk, sk, err := ed25519.GenerateKey(nil)
		test.AssertNotError(t, err, "generating key")
		lic := core.License{
			Author: core.Author{
				Domain:  domain,
				Product: service,
				Service: service,
				Pubkey:  []byte(vk),
			},
			Dependencies: []core.SignedLicense{current},
			Grant: map[string]core.Grant{
				service:       {},
				childService:  {},
			},
		}
		canonical, err := codec.EncodeLicense(lic)
		test.AssertNotError(t, err, "EncodeLicense failed")
		current = core.SignedLicense{License: lic, Signature: core.Sign(sk, canonical)}
		resolver.set(service, domain, vk)
		childService = service
	}

	_, err := VerifySigned(context.Background(), current, Options{Resolver: resolver})
	test.Assert(t, lerr.Is(err, lerr.DependencyTooDeep), "expected DependencyTooDeep beyond the recursion cap")
}
