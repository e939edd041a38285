// Copyright 2015 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package dnsresolver resolves an author's Ed25519 verifying key from the
// DKIM-style TXT selector {service}.crypto-licensing._domainkey.{domain},
// the way a DNS-01 ACME validator resolves a challenge record: pick a
// server, exchange one query, parse the answer.
package dnsresolver

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/log"
	"github.com/dominionrnd/crypto-licensing/metrics"
)

// Resolver fetches an author's verifying key from DNS.
type Resolver interface {
	// Resolve returns the 32-byte verifying key published for (service,
	// domain), or a classified error (NoRecord, MalformedRecord,
	// UnsupportedKeyType, TransientDNS).
	Resolve(ctx context.Context, service, domain string) ([]byte, error)
}

// Impl is a Resolver backed by an external resolver: a dns.Client
// exchanging one query against a randomly chosen configured server.
type Impl struct {
	DNSClient *dns.Client
	Servers   []string

	log   log.Logger
	scope metrics.Scope

	// group collapses concurrent Resolve calls for the same selector
	// into a single network exchange.
	group singleflight.Group
}

// New constructs a DNS resolver that queries the given servers with the
// supplied dial timeout.
func New(dialTimeout time.Duration, servers []string, logger log.Logger, scope metrics.Scope) *Impl {
	client := new(dns.Client)
	client.DialTimeout = dialTimeout
	if logger == nil {
		logger = log.NewStdout("dnsresolver")
	}
	if scope == nil {
		scope = metrics.NewNoopScope()
	}
	return &Impl{
		DNSClient: client,
		Servers:   servers,
		log:       logger,
		scope:     scope,
	}
}

// selector builds the DKIM-style DNS name for (service, domain).
func selector(service, domain string) string {
	return fmt.Sprintf("%s.crypto-licensing._domainkey.%s", service, domain)
}

// exchangeOne performs a single DNS exchange with a randomly chosen
// configured server, setting the DNSSEC OK bit.
func (r *Impl) exchangeOne(hostname string, qtype uint16) (*dns.Msg, error) {
	if len(r.Servers) < 1 {
		return nil, fmt.Errorf("dnsresolver: not configured with at least one DNS server")
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(hostname), qtype)
	m.SetEdns0(4096, true)

	server := r.Servers[rand.Intn(len(r.Servers))]
	resp, _, err := r.DNSClient.Exchange(m, server)
	return resp, err
}

// lookupTXT returns every TXT string published at hostname.
func (r *Impl) lookupTXT(hostname string) ([]string, error) {
	resp, err := r.exchangeOne(hostname, dns.TypeTXT)
	if err != nil {
		return nil, lerr.TransientDNSError("TXT exchange for %s: %s", hostname, err)
	}
	if resp.Rcode == dns.RcodeNameError || resp.Rcode == dns.RcodeNXRrset {
		return nil, lerr.NoRecordError("no TXT record at %s", hostname)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, lerr.TransientDNSError("DNS failure %d-%s for TXT query at %s",
			resp.Rcode, dns.RcodeToString[resp.Rcode], hostname)
	}

	var txt []string
	for _, answer := range resp.Answer {
		if rec, ok := answer.(*dns.TXT); ok {
			txt = append(txt, strings.Join(rec.Txt, ""))
		}
	}
	if len(txt) == 0 {
		return nil, lerr.NoRecordError("no TXT record at %s", hostname)
	}
	return txt, nil
}

// parseDKIMRecord extracts the base64 "p=" verifying key from a
// "v=DKIM1; k=ed25519; p=..." token set, per the DKIM record shape in the
// engine's external interfaces.
func parseDKIMRecord(record string) ([]byte, error) {
	tokens := strings.Split(record, ";")
	values := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			return nil, lerr.MalformedRecordError("malformed DKIM token %q", tok)
		}
		values[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}

	if values["v"] != "DKIM1" {
		return nil, lerr.MalformedRecordError("missing or unsupported v= tag")
	}
	k, ok := values["k"]
	if !ok {
		return nil, lerr.MalformedRecordError("missing k= tag")
	}
	if k != "ed25519" {
		return nil, lerr.UnsupportedKeyTypeError("unsupported key type %q", k)
	}
	p, ok := values["p"]
	if !ok || p == "" {
		return nil, lerr.MalformedRecordError("missing p= tag")
	}

	vk, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		// DKIM base64 is conventionally unpadded in the wild; retry
		// without padding before giving up.
		vk, err = base64.RawStdEncoding.DecodeString(p)
		if err != nil {
			return nil, lerr.MalformedRecordError("p= is not valid base64: %s", err)
		}
	}
	if len(vk) != core.VKLen {
		return nil, lerr.MalformedRecordError("p= decodes to %d bytes, want %d", len(vk), core.VKLen)
	}
	return vk, nil
}

// Resolve implements Resolver. It does not consult or populate any cache;
// callers that want the per-verification-pass cache and retry/backoff
// policy of the engine's specification should go through Cache.Resolve
// instead.
func (r *Impl) Resolve(ctx context.Context, service, domain string) ([]byte, error) {
	name := selector(service, domain)
	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		start := time.Now()
		records, err := r.lookupTXT(name)
		r.scope.TimingDuration("DNS.Latency", time.Since(start))
		r.scope.Inc("DNS.Lookups", 1)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, rec := range records {
			vk, perr := parseDKIMRecord(rec)
			if perr == nil {
				return vk, nil
			}
			lastErr = perr
		}
		if lastErr == nil {
			lastErr = lerr.MalformedRecordError("no DKIM1/ed25519 TXT record at %s", name)
		}
		return nil, lastErr
	})
	if err != nil {
		r.log.Warning("dns lookup for %s failed: %s", name, err)
		return nil, err
	}
	return v.([]byte), nil
}
