// Package issuer builds and signs new license records, modeled on the
// precondition-then-assemble-then-sign shape of
// ca/certificate-authority.go's IssueCertificate: a sequence of named
// checks that fail fast with a classified error, followed by one assembly
// and signing step.
package issuer

import (
	"context"

	"github.com/dominionrnd/crypto-licensing/codec"
	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/verifier"
)

// Options carries the optional fields of a new license plus the
// verification context needed to check its dependencies.
type Options struct {
	Client       *core.Client
	Dependencies []core.SignedLicense
	Machine      *string
	Timespan     *core.Timespan

	// NoConfirm stands in for the out-of-scope interactive confirmation
	// collaborator: when Client is nil (a bearer license), issuance
	// requires the caller to have already obtained confirmation and set
	// this true.
	NoConfirm bool
	Confirmer core.InteractiveConfirmer

	// VerifyOptions is passed through to Verifier when checking each
	// dependency in isolation (precondition 3).
	VerifyOptions verifier.Options
}

// Issue builds and signs a new license under authorKeypair for authorInfo,
// carrying grants and the optional fields in opts.
//
// Preconditions, checked in order:
//  1. authorKeypair.VK must equal authorInfo.Pubkey.
//  2. grants must contain authorInfo.Service's own key; every other key
//     must name a dependency's (transitively reachable) author.service.
//  3. Every dependency must verify in isolation under opts.VerifyOptions.
//  4. When opts.Client is nil, either opts.NoConfirm must be set or
//     opts.Confirmer must grant interactive confirmation.
func Issue(ctx context.Context, authorKeypair core.PlaintextKeypair, authorInfo core.Author, grants map[string]core.Grant, opts Options) (core.SignedLicense, error) {
	if !core.ConstantTimeEqual(authorKeypair.VK, authorInfo.Pubkey) {
		return core.SignedLicense{}, lerr.BadCredentialsError("author keypair does not match author_info.pubkey")
	}

	if err := checkGrantKeys(authorInfo, grants, opts.Dependencies); err != nil {
		return core.SignedLicense{}, err
	}

	for _, dep := range opts.Dependencies {
		if _, err := verifier.VerifySigned(ctx, dep, opts.VerifyOptions); err != nil {
			return core.SignedLicense{}, err
		}
	}

	if opts.Client == nil {
		if err := confirmBearerIssuance(ctx, authorInfo, opts); err != nil {
			return core.SignedLicense{}, err
		}
	}

	lic := core.License{
		Author:       authorInfo,
		Client:       opts.Client,
		Dependencies: opts.Dependencies,
		Grant:        grants,
		Machine:      opts.Machine,
		Timespan:     opts.Timespan,
	}

	canonical, err := codec.EncodeLicense(lic)
	if err != nil {
		return core.SignedLicense{}, err
	}
	signature := core.Sign(authorKeypair.SK, canonical)

	return core.SignedLicense{License: lic, Signature: signature}, nil
}

// checkGrantKeys enforces precondition 2: grants must contain the
// author's own service, and every other key must be reachable as some
// dependency's author.service, however deep in the dependency tree.
func checkGrantKeys(authorInfo core.Author, grants map[string]core.Grant, dependencies []core.SignedLicense) error {
	if _, ok := grants[authorInfo.Service]; !ok {
		return lerr.MalformedRecordError("grants must include the author's own service %q", authorInfo.Service)
	}

	reachable := make(map[string]bool)
	var walk func(deps []core.SignedLicense)
	walk = func(deps []core.SignedLicense) {
		for _, d := range deps {
			reachable[d.License.Author.Service] = true
			walk(d.License.Dependencies)
		}
	}
	walk(dependencies)

	for svc := range grants {
		if svc == authorInfo.Service {
			continue
		}
		if !reachable[svc] {
			return lerr.MalformedRecordError("grant key %q does not name the author's own service or any dependency's service", svc)
		}
	}
	return nil
}

// confirmBearerIssuance satisfies precondition 4 for a bearer license (no
// client key): either the caller already passed an equivalent of
// --no-confirm, or the out-of-scope interactive confirmer grants it.
func confirmBearerIssuance(ctx context.Context, authorInfo core.Author, opts Options) error {
	if opts.NoConfirm {
		return nil
	}
	if opts.Confirmer == nil {
		return lerr.BadCredentialsError("issuing a bearer license requires --no-confirm or an interactive confirmer")
	}
	ok, err := opts.Confirmer.ConfirmBearerIssuance(ctx, authorInfo, opts.NoConfirm)
	if err != nil {
		return err
	}
	if !ok {
		return lerr.BadCredentialsError("bearer license issuance was not confirmed")
	}
	return nil
}
