package verifier

import (
	"github.com/jmhodges/clock"

	"github.com/dominionrnd/crypto-licensing/dnsresolver"
	"github.com/dominionrnd/crypto-licensing/log"
	"github.com/dominionrnd/crypto-licensing/metrics"
)

// selector is a (service, domain) pair, the key Seeds uses to pre-populate
// stale-fallback candidates in the per-call DNS cache.
type selector struct {
	Service, Domain string
}

// Options configures a single top-level Verify call.
type Options struct {
	// Machine is this host's machine-id. A license naming a different
	// machine fails WrongMachine; a license naming no machine ignores
	// this field entirely.
	Machine string

	// Clock supplies "now" for the time-window check. Defaults to
	// clock.Default(). The DNS retry backoff does not use it.
	Clock clock.Clock

	// DependenciesOkIfStale opts every license node's DNS authority lookup,
	// the root's as well as each dependency's, into the per-pass cache's
	// stale-fallback behavior (see
	// dnsresolver.Cache.Resolve) when DNS is transiently unreachable.
	DependenciesOkIfStale bool

	// Resolver is consulted for each author's DNS-published verifying
	// key. Required.
	Resolver dnsresolver.Resolver

	Log   log.Logger
	Scope metrics.Scope

	// Seeds supplies, per author, a verifying key known-good from an
	// earlier successful verification of the same canonical bytes — the
	// substrate DependenciesOkIfStale falls back to.
	Seeds map[selector][]byte
}

// Seed records that (service, domain) previously resolved to vk, for use
// with DependenciesOkIfStale.
func (o *Options) Seed(service, domain string, vk []byte) {
	if o.Seeds == nil {
		o.Seeds = make(map[selector][]byte)
	}
	o.Seeds[selector{service, domain}] = vk
}

func withDefaults(o Options) Options {
	if o.Clock == nil {
		o.Clock = clock.Default()
	}
	if o.Log == nil {
		o.Log = log.NewStdout("verifier")
	}
	if o.Scope == nil {
		o.Scope = metrics.NewNoopScope()
	}
	return o
}
