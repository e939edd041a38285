// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// crypto-licensing is a thin command-line front end over the license
// authority engine, exercising the six operations named in the engine's
// external interfaces: create_keypair, load_keypair, issue_license,
// verify_license, enumerate_valid_licenses, resolve_grants. It is not
// itself part of the engine's core — a CLI front end is an external
// collaborator — it exists so the engine's operations are reachable as
// real subcommands rather than only as library calls.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmhodges/clock"

	"github.com/dominionrnd/crypto-licensing/cmd"
	"github.com/dominionrnd/crypto-licensing/codec"
	"github.com/dominionrnd/crypto-licensing/core"
	"github.com/dominionrnd/crypto-licensing/discovery"
	"github.com/dominionrnd/crypto-licensing/dnsresolver"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/grants"
	"github.com/dominionrnd/crypto-licensing/issuer"
	"github.com/dominionrnd/crypto-licensing/keystore"
	ll "github.com/dominionrnd/crypto-licensing/log"
	"github.com/dominionrnd/crypto-licensing/metrics"
	"github.com/dominionrnd/crypto-licensing/verifier"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(4)
	}

	op := os.Args[1]
	args := os.Args[2:]

	var code int
	switch op {
	case "create-keypair":
		code = createKeypair(args)
	case "load-keypair":
		code = loadKeypair(args)
	case "issue-license":
		code = issueLicense(args)
	case "verify-license":
		code = verifyLicense(args)
	case "enumerate-valid-licenses":
		code = enumerateValidLicenses(args)
	case "resolve-grants":
		code = resolveGrants(args)
	case "--version", "-version":
		fmt.Println(cmd.VersionString())
		code = 0
	default:
		usage()
		code = 4
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: crypto-licensing <operation> [flags]

operations:
  create-keypair            write a new *.crypto-keypair file
  load-keypair              try credential candidates against a keypair file
  issue-license             sign and write a new *.crypto-license file
  verify-license            verify a *.crypto-license file
  enumerate-valid-licenses  scan a search path for valid (keypair, license) pairs
  resolve-grants            print the effective grant of a verified license

every operation also takes "-config", naming a JSON or YAML file holding a
cmd.Config: discovery search path and credentials, DNS resolvers, the
machine-id override, syslog, and the debug server address.`)
}

// loadConfig reads -config, if given, into a cmd.Config, then performs the
// rest of the shared startup sequence every command in this package
// follows: build a Scope and Logger from its Syslog section via
// cmd.StatsAndLogging, and start the debug server when DebugAddr is set.
// A malformed or unreadable config file is a fatal startup error, not an
// operation result, so it goes through cmd.FailOnError rather than the
// engine's own exit-code mapping.
func loadConfig(configPath string) (cmd.Config, metrics.Scope, ll.Logger) {
	var c cmd.Config
	if configPath != "" {
		cmd.FailOnError(cmd.ReadConfigFile(configPath, &c), "reading config")
	}
	scope, logger := cmd.StatsAndLogging(c.Syslog)
	if c.DebugAddr != "" {
		go cmd.DebugServer(c.DebugAddr)
	}
	return c, scope, logger
}

// credentialCandidates builds the credential list a command tries against
// a keypair file: CRYPTO_LIC_USERNAME/CRYPTO_LIC_PASSWORD first (per the
// engine's environment contract), then the config file's Discovery.Credentials,
// then any -username/-password flags.
func credentialCandidates(c cmd.Config, username, password string) []keystore.Credential {
	var creds []keystore.Credential
	if envUser, envPass := os.Getenv("CRYPTO_LIC_USERNAME"), os.Getenv("CRYPTO_LIC_PASSWORD"); envUser != "" {
		creds = append(creds, keystore.Credential{Username: envUser, Password: envPass})
	}
	for _, cc := range c.Discovery.Credentials {
		creds = append(creds, keystore.Credential{Username: cc.Username, Password: string(cc.Password)})
	}
	if username != "" {
		creds = append(creds, keystore.Credential{Username: username, Password: password})
	}
	return creds
}

// resolveMachineID applies the precedence a command's -machine flag takes
// over the config's Machine.Override, which in turn takes over reading the
// host's own machine-id.
func resolveMachineID(c cmd.Config, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if c.Machine.Override != "" {
		return c.Machine.Override
	}
	return verifier.HostMachineID()
}

func createKeypair(args []string) int {
	fs := flag.NewFlagSet("create-keypair", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON or YAML config file")
	path := fs.String("out", "", "path to write the *.crypto-keypair file")
	username := fs.String("username", "", "username the keypair is encrypted under")
	password := fs.String("password", "", "password the keypair is encrypted under")
	seedHex := fs.String("seed", "", "64 hex characters of seed material (*.crypto-seed contents); random if omitted")
	fs.Parse(args)

	c, _, logger := loadConfig(*configPath)

	var seed []byte
	if *seedHex != "" {
		var err error
		seed, err = hex.DecodeString(strings.TrimSpace(*seedHex))
		if err != nil {
			logger.Err("decoding -seed: %s", err)
			return lerr.ExitCode(false, lerr.MalformedRecordError("seed is not valid hex: %s", err))
		}
	}

	encrypted, err := keystore.Create(seed, *username, *password)
	if err != nil {
		logger.Err("creating keypair: %s", err)
		return lerr.ExitCode(false, err)
	}

	if *path == "" {
		data, err := codec.EncodeEncryptedKeypair(encrypted)
		if err != nil {
			return lerr.ExitCode(false, err)
		}
		os.Stdout.Write(data)
		fmt.Println()
		return 0
	}

	searchPath := keystore.SearchPath(c.Discovery.SearchPath)
	if err := keystore.Save(encrypted, *path, searchPath, c.Discovery.ReverseSave); err != nil {
		logger.Err("saving keypair: %s", err)
		return lerr.ExitCode(false, err)
	}
	logger.Info("wrote %s", *path)
	return 0
}

func loadKeypair(args []string) int {
	fs := flag.NewFlagSet("load-keypair", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON or YAML config file")
	path := fs.String("in", "", "path to a *.crypto-keypair file")
	username := fs.String("username", "", "")
	password := fs.String("password", "", "")
	fs.Parse(args)

	c, scope, logger := loadConfig(*configPath)

	creds := credentialCandidates(c, *username, *password)
	kp, err := keystore.Load(*path, creds, scope)
	if err != nil {
		logger.Err("loading %s: %s", *path, err)
		return lerr.ExitCode(false, err)
	}
	fmt.Printf("vk: %x\n", []byte(kp.VK))
	return 0
}

func issueLicense(args []string) int {
	fs := flag.NewFlagSet("issue-license", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON or YAML config file")
	keypairPath := fs.String("keypair", "", "author's *.crypto-keypair file")
	username := fs.String("username", "", "")
	password := fs.String("password", "", "")
	domain := fs.String("domain", "", "author.domain")
	product := fs.String("product", "", "author.product")
	service := fs.String("service", "", "author.service (defaults to ServiceSlug(product))")
	authorName := fs.String("author-name", "", "")
	clientPubkeyHex := fs.String("client-pubkey", "", "hex-encoded client verifying key; omit for a bearer license")
	clientName := fs.String("client-name", "", "")
	grantJSON := fs.String("grant", "{}", "JSON object: {service: {capability...}}")
	var dependencyPaths multiFlag
	machine := fs.String("machine", "", "machine-id to bind the license to")
	noConfirm := fs.Bool("no-confirm", false, "confirm issuance of a bearer (clientless) license")
	out := fs.String("out", "", "path to write the *.crypto-license file; stdout if omitted")
	fs.Var(&dependencyPaths, "dependency", "path to a dependency *.crypto-license file (repeatable)")
	fs.Parse(args)

	c, scope, logger := loadConfig(*configPath)

	creds := credentialCandidates(c, *username, *password)
	kp, err := keystore.Load(*keypairPath, creds, scope)
	if err != nil {
		logger.Err("loading author keypair: %s", err)
		return lerr.ExitCode(false, err)
	}

	svc := *service
	if svc == "" {
		svc = core.ServiceSlug(*product)
	}
	authorInfo := core.Author{
		Name:    *authorName,
		Domain:  *domain,
		Product: *product,
		Service: svc,
		Pubkey:  []byte(kp.VK),
	}

	var grant map[string]core.Grant
	if err := json.Unmarshal([]byte(*grantJSON), &grant); err != nil {
		logger.Err("parsing -grant: %s", err)
		return lerr.ExitCode(false, lerr.MalformedRecordError("invalid -grant JSON: %s", err))
	}

	var deps []core.SignedLicense
	for _, p := range dependencyPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			logger.Err("reading dependency %s: %s", p, err)
			return lerr.ExitCode(false, lerr.IOErrorf("reading %s: %s", p, err))
		}
		dep, err := codec.DecodeSignedLicense(data)
		if err != nil {
			logger.Err("decoding dependency %s: %s", p, err)
			return lerr.ExitCode(false, err)
		}
		deps = append(deps, dep)
	}

	opts := issuer.Options{
		Dependencies: deps,
		NoConfirm:    *noConfirm,
		VerifyOptions: verifier.Options{
			Resolver: resolverFromConfig(c, logger, scope),
			Machine:  resolveMachineID(c, ""),
			Log:      logger,
			Scope:    scope,
		},
	}
	if *clientPubkeyHex != "" {
		vk, err := hex.DecodeString(*clientPubkeyHex)
		if err != nil {
			return lerr.ExitCode(false, lerr.MalformedRecordError("invalid -client-pubkey: %s", err))
		}
		opts.Client = &core.Client{Name: *clientName, Pubkey: vk}
	}
	if *machine != "" {
		opts.Machine = machine
	}

	signed, err := issuer.Issue(context.Background(), kp, authorInfo, grant, opts)
	if err != nil {
		logger.Err("issuing license: %s", err)
		return lerr.ExitCode(false, err)
	}

	data, err := codec.EncodeSignedLicense(signed)
	if err != nil {
		return lerr.ExitCode(false, err)
	}
	if *out == "" {
		os.Stdout.Write(data)
		fmt.Println()
		return 0
	}
	if err := os.WriteFile(*out, data, 0600); err != nil {
		logger.Err("writing %s: %s", *out, err)
		return lerr.ExitCode(false, lerr.IOErrorf("writing %s: %s", *out, err))
	}
	return 0
}

func verifyLicense(args []string) int {
	fs := flag.NewFlagSet("verify-license", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON or YAML config file")
	path := fs.String("in", "", "path to a *.crypto-license file")
	machine := fs.String("machine", "", "override the host machine-id")
	staleOk := fs.Bool("dependencies-ok-if-stale", false, "")
	fs.Parse(args)

	c, scope, logger := loadConfig(*configPath)

	data, err := os.ReadFile(*path)
	if err != nil {
		logger.Err("reading %s: %s", *path, err)
		return lerr.ExitCode(false, lerr.IOErrorf("reading %s: %s", *path, err))
	}

	result, err := verifier.Verify(context.Background(), data, verifier.Options{
		Resolver:              resolverFromConfig(c, logger, scope),
		Machine:               resolveMachineID(c, *machine),
		Clock:                 clock.Default(),
		DependenciesOkIfStale: *staleOk,
		Log:                   logger,
		Scope:                 scope,
	})
	if err != nil {
		logger.Err("verification failed: %s", err)
		return lerr.ExitCode(false, err)
	}

	enc, _ := json.MarshalIndent(result.Grant, "", "  ")
	fmt.Println(string(enc))
	return 0
}

func enumerateValidLicenses(args []string) int {
	fs := flag.NewFlagSet("enumerate-valid-licenses", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON or YAML config file")
	username := fs.String("username", "", "")
	password := fs.String("password", "", "")
	machine := fs.String("machine", "", "")
	var flagDirs multiFlag
	fs.Var(&flagDirs, "path", "search path directory, most-general first (repeatable)")
	fs.Parse(args)

	c, scope, logger := loadConfig(*configPath)

	searchDirs := append(multiFlag{}, c.Discovery.SearchPath...)
	searchDirs = append(searchDirs, flagDirs...)
	if len(searchDirs) == 0 {
		searchDirs = multiFlag{"."}
	}
	creds := credentialCandidates(c, *username, *password)

	results, err := discovery.Discover(context.Background(), keystore.SearchPath(searchDirs), creds, verifier.Options{
		Resolver: resolverFromConfig(c, logger, scope),
		Machine:  resolveMachineID(c, *machine),
		Clock:    clock.Default(),
		Log:      logger,
		Scope:    scope,
	})
	if err != nil {
		logger.Err("discovery: %s", err)
		return lerr.ExitCode(false, err)
	}

	found := false
	for _, r := range results {
		status := "no valid license"
		if r.License != nil {
			found = true
			status = fmt.Sprintf("license for service %s", r.License.Signed.License.Author.Service)
		}
		fmt.Printf("%s: %s\n", r.KeypairPath, status)
	}
	return lerr.ExitCode(found, nil)
}

func resolveGrants(args []string) int {
	fs := flag.NewFlagSet("resolve-grants", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON or YAML config file")
	path := fs.String("in", "", "path to a *.crypto-license file")
	machine := fs.String("machine", "", "")
	fs.Parse(args)

	c, scope, logger := loadConfig(*configPath)

	data, err := os.ReadFile(*path)
	if err != nil {
		return lerr.ExitCode(false, lerr.IOErrorf("reading %s: %s", *path, err))
	}

	result, err := verifier.Verify(context.Background(), data, verifier.Options{
		Resolver: resolverFromConfig(c, logger, scope),
		Machine:  resolveMachineID(c, *machine),
		Clock:    clock.Default(),
		Log:      logger,
		Scope:    scope,
	})
	if err != nil {
		logger.Err("verification failed: %s", err)
		return lerr.ExitCode(false, err)
	}

	regrant, err := grants.Resolve(result.Signed)
	if err != nil {
		return lerr.ExitCode(false, err)
	}
	enc, _ := json.MarshalIndent(regrant, "", "  ")
	fmt.Println(string(enc))
	return 0
}

// resolverFromConfig constructs the DNS resolver used by every subcommand
// that verifies, preferring the config's DNS.Resolvers/DialTimeout and
// falling back to a couple of well-known public resolvers with a dial
// timeout appropriate for an interactive CLI invocation when the config
// leaves DNS unset.
func resolverFromConfig(c cmd.Config, logger ll.Logger, scope metrics.Scope) dnsresolver.Resolver {
	servers := c.DNS.Resolvers
	if len(servers) == 0 {
		servers = []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	dialTimeout := c.DNS.DialTimeout.Duration
	if dialTimeout == 0 {
		dialTimeout = 2 * time.Second
	}
	return dnsresolver.New(dialTimeout, servers, logger, scope)
}

// multiFlag collects repeated -flag occurrences into a string slice.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }
