package dnsresolver

import (
	"context"
	"time"

	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/log"
	"github.com/dominionrnd/crypto-licensing/metrics"
)

// retryAttempts and the retryBase/retryMax/retryFactor backoff parameters
// implement the engine's retry policy for TransientDNS: 3 attempts, waiting
// 200ms after the first and 800ms after the second; 3.2s caps the backoff.
const (
	retryAttempts   = 3
	retryBase       = 200 * time.Millisecond
	retryMax        = 3200 * time.Millisecond
	retryFactor     = 4.0
	negativeResultTTL = 5 * time.Second
)

type cacheEntry struct {
	vk       []byte
	err      error
	cachedAt time.Time
}

// Cache wraps a Resolver with the per-top-level-verify-call cache described
// in the engine's concurrency model: populated in lookup order, scoped to
// the lifetime of a single Cache value, never shared across process
// lifetime or across unrelated verification passes.
type Cache struct {
	resolver Resolver
	entries  map[string]cacheEntry
	order    []string

	// known holds the last verifying key successfully resolved for a
	// selector across passes, seeded by the caller (see Seed). It is
	// never overwritten by a failed lookup, so it survives this pass's
	// negative results — it is what AuthorityUnreachable falls back to
	// when the caller opts in with allowStale.
	known map[string][]byte

	log   log.Logger
	scope metrics.Scope
	sleep func(time.Duration)
}

// NewCache constructs a fresh per-pass cache around resolver. Callers
// perform one NewCache per top-level Verify call.
func NewCache(resolver Resolver, logger log.Logger, scope metrics.Scope) *Cache {
	if logger == nil {
		logger = log.NewStdout("dnsresolver")
	}
	if scope == nil {
		scope = metrics.NewNoopScope()
	}
	return &Cache{
		resolver: resolver,
		entries:  make(map[string]cacheEntry),
		known:    make(map[string][]byte),
		log:      logger,
		scope:    scope,
		sleep:    time.Sleep,
	}
}

// Seed records a verifying key known-good from an earlier successful
// verification of the same canonical bytes, so a later pass may fall back
// to it via allowStale if DNS is unreachable this time. The per-pass cache
// itself is never persisted across process lifetime; Seed is how a caller
// that keeps its own longer-lived record of prior successes opts a
// particular selector into stale fallback for this pass.
func (c *Cache) Seed(service, domain string, vk []byte) {
	c.known[key(service, domain)] = vk
}

// Order returns the "service\x00domain" selector keys that completed a live
// lookup during this pass, in the order they resolved — the lookup-order
// contract the per-pass cache documents. Cache hits and failed lookups are
// not represented; a caller re-seeding a longer-lived cache of known-good
// keys for the next pass can range over this to do so in the same order
// this pass observed them.
func (c *Cache) Order() []string {
	order := make([]string, len(c.order))
	copy(order, c.order)
	return order
}

func key(service, domain string) string { return service + "\x00" + domain }

// Resolve returns the cached verifying key for (service, domain) if this
// pass has already looked it up; otherwise it queries the wrapped Resolver,
// retrying transient failures with exponential backoff, and caches the
// result (positive indefinitely for the pass, negative briefly).
//
// If allowStale is true and every retry attempt fails with TransientDNS, and
// a known-good verifying key was recorded for the same selector with Seed,
// that stale key is returned instead of the transient error.
func (c *Cache) Resolve(ctx context.Context, service, domain string, allowStale bool) ([]byte, error) {
	k := key(service, domain)
	if entry, ok := c.entries[k]; ok {
		if entry.err == nil {
			c.scope.Inc("DNS.CacheHits", 1)
			return entry.vk, nil
		}
		if time.Since(entry.cachedAt) < negativeResultTTL {
			c.scope.Inc("DNS.CacheHits", 1)
			return nil, entry.err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, lerr.CancelledError("dns lookup for %s.%s cancelled", service, domain)
		default:
		}

		vk, err := c.resolver.Resolve(ctx, service, domain)
		if err == nil {
			c.order = append(c.order, k)
			c.entries[k] = cacheEntry{vk: vk, cachedAt: time.Now()}
			c.known[k] = vk
			return vk, nil
		}
		lastErr = err
		if !lerr.Is(err, lerr.TransientDNS) {
			// Terminal error class: no retry.
			c.entries[k] = cacheEntry{err: err, cachedAt: time.Now()}
			return nil, err
		}
		if attempt < retryAttempts {
			c.sleep(core.RetryBackoff(attempt, retryBase, retryMax, retryFactor))
		}
	}

	if allowStale {
		if vk, ok := c.known[k]; ok {
			c.log.Warning("dns unreachable for %s.%s, falling back to stale cached result", service, domain)
			return vk, nil
		}
	}

	c.entries[k] = cacheEntry{err: lastErr, cachedAt: time.Now()}
	return nil, lastErr
}
