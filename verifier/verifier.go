// Package verifier implements the recursive license verification state
// machine: signature check, DNS-published authority check, time window,
// machine binding, dependency closure, and grant refinement, modeled on
// the certificate issuance precondition chain in ca/certificate-authority.go
// (a linear sequence of named checks, each returning a classified error
// immediately on failure) generalized from a single CSR to a recursive
// license tree.
package verifier

import (
	"context"
	"time"

	"github.com/dominionrnd/crypto-licensing/codec"
	"github.com/dominionrnd/crypto-licensing/core"
	"github.com/dominionrnd/crypto-licensing/dnsresolver"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/grants"
)

// Result is the outcome of a successful top-level Verify call: the
// verified license tree (dependencies replaced by their own verified
// form) and the effective grant computed over it.
type Result struct {
	Signed core.SignedLicense
	Grant  map[string]core.Grant
}

// Verify decodes canonical signed-license bytes and verifies them.
func Verify(ctx context.Context, data []byte, opts Options) (Result, error) {
	signed, err := codec.DecodeSignedLicense(data)
	if err != nil {
		return Result{}, err
	}
	return VerifySigned(ctx, signed, opts)
}

// VerifySigned verifies an already-decoded SignedLicense tree.
func VerifySigned(ctx context.Context, signed core.SignedLicense, opts Options) (Result, error) {
	opts = withDefaults(opts)
	cache := dnsresolver.NewCache(opts.Resolver, opts.Log, opts.Scope)
	for sel, vk := range opts.Seeds {
		cache.Seed(sel.Service, sel.Domain, vk)
	}

	start := time.Now()
	verified, err := verifyNode(ctx, signed, opts, cache, 0)
	opts.Scope.TimingDuration("Verify.Latency", time.Since(start))
	if err != nil {
		opts.Scope.Inc("Verify.Failures", 1)
		return Result{}, err
	}
	opts.Scope.Inc("Verify.Successes", 1)

	grant, err := grants.Resolve(verified)
	if err != nil {
		return Result{}, err
	}
	return Result{Signed: verified, Grant: grant}, nil
}

// verifyNode runs steps 2-7 of the verification state machine for one
// license node, recursing depth-first left-to-right over its
// dependencies, and returns the node with its dependencies replaced by
// their own verified form.
func verifyNode(ctx context.Context, signed core.SignedLicense, opts Options, cache *dnsresolver.Cache, depth int) (core.SignedLicense, error) {
	if depth > core.MaxDepth {
		return core.SignedLicense{}, lerr.DependencyTooDeepError("dependency chain exceeds %d levels", core.MaxDepth)
	}
	select {
	case <-ctx.Done():
		return core.SignedLicense{}, lerr.CancelledError("verification cancelled")
	default:
	}

	lic := signed.License

	// 2. Signature.
	canonical, err := codec.EncodeLicense(lic)
	if err != nil {
		return core.SignedLicense{}, err
	}
	if !core.VerifySignature(lic.Author.Pubkey, canonical, signed.Signature) {
		return core.SignedLicense{}, lerr.BadSignatureError("signature does not verify for %s", lic.Author)
	}

	// 3. Authority.
	vk, err := cache.Resolve(ctx, lic.Author.Service, lic.Author.Domain, opts.DependenciesOkIfStale)
	if err != nil {
		return core.SignedLicense{}, err
	}
	if !core.ConstantTimeEqual(vk, lic.Author.Pubkey) {
		return core.SignedLicense{}, lerr.NotAuthoritativeError("DNS key for %s does not match the license's author pubkey", lic.Author)
	}

	// 4. Time window.
	if lic.Timespan != nil {
		if err := checkTimespan(*lic.Timespan, opts.Clock.Now()); err != nil {
			return core.SignedLicense{}, err
		}
	}

	// 5. Machine.
	if lic.Machine != nil {
		if opts.Machine == "" || *lic.Machine != opts.Machine {
			return core.SignedLicense{}, lerr.WrongMachineError("license is bound to machine %s", *lic.Machine)
		}
	}

	// 6. Dependencies.
	verifiedDeps := make([]core.SignedLicense, len(lic.Dependencies))
	for i, dep := range lic.Dependencies {
		vdep, err := verifyNode(ctx, dep, opts, cache, depth+1)
		if err != nil {
			return core.SignedLicense{}, err
		}
		verifiedDeps[i] = vdep
	}

	// 7. Grant refinement.
	if err := checkRefinement(lic, verifiedDeps); err != nil {
		return core.SignedLicense{}, err
	}

	verified := signed
	verified.License.Dependencies = verifiedDeps
	return verified, nil
}

func checkTimespan(ts core.Timespan, now time.Time) error {
	start, err := time.Parse(time.RFC3339, ts.Start)
	if err != nil {
		return lerr.MalformedRecordError("timespan.start %q is not RFC3339: %s", ts.Start, err)
	}
	end := start.Add(time.Duration(ts.Length) * time.Second)
	if now.Before(start) {
		return lerr.NotYetValidError("license is not valid until %s", start)
	}
	if !now.Before(end) {
		return lerr.ExpiredError("license expired at %s", end)
	}
	return nil
}

// checkRefinement enforces that every non-own grant key in lic either
// names a dependency's author.service (pass-through refinement) and, when
// it carries an "override" stanza, only narrows leaf paths that
// dependency's own verified grant actually contains.
func checkRefinement(lic core.License, verifiedDeps []core.SignedLicense) error {
	for svc, g := range lic.Grant {
		if svc == lic.Author.Service {
			continue
		}
		var dep *core.SignedLicense
		for i := range verifiedDeps {
			if verifiedDeps[i].License.Author.Service == svc {
				dep = &verifiedDeps[i]
				break
			}
		}
		if dep == nil {
			return lerr.UnauthorizedRefinementError("grant key %q has no corresponding dependency", svc)
		}

		override, ok := g["override"]
		if !ok {
			continue
		}
		depGrant, err := grants.Resolve(*dep)
		if err != nil {
			return err
		}
		for _, path := range grants.LeafPaths(override, "") {
			if !grants.ContainsPath(depGrant[svc], path) {
				return lerr.UnauthorizedRefinementError("override path %q is not granted by dependency %q", path, svc)
			}
		}
	}
	return nil
}
