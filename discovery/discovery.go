// Package discovery enumerates candidate keypair and license files on
// disk and yields verified (keypair, license) pairs, trying credential
// candidates against each keypair file concurrently — one goroutine per
// candidate keypair file, coordinated with golang.org/x/sync/errgroup so
// the first hard I/O error aborts the whole scan.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dominionrnd/crypto-licensing/codec"
	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/keystore"
	"github.com/dominionrnd/crypto-licensing/verifier"
)

// Result pairs a successfully opened keypair with the first license found
// that verifies against it. License is nil when the keypair opened but no
// candidate license verified, so the caller may elect to issue one.
type Result struct {
	KeypairPath string
	Keypair     core.PlaintextKeypair
	License     *verifier.Result
}

// Discover walks searchPath (ordered most-general to most-specific, as
// keystore.SearchPath) for "*.crypto-keypair*" and "*.crypto-license*"
// files. For every keypair file that opens under one of credentials, the
// candidate license files are each tried against it in turn with
// Verifier; the first that verifies is returned. Keypairs that never open
// under any credential are silently omitted from the result.
func Discover(ctx context.Context, searchPath keystore.SearchPath, credentials []keystore.Credential, verifyOpts verifier.Options) ([]Result, error) {
	keypairPaths, licensePaths, err := scan(searchPath)
	if err != nil {
		return nil, err
	}

	slots := make([]*Result, len(keypairPaths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range keypairPaths {
		i, path := i, path
		g.Go(func() error {
			kp, err := keystore.Load(path, credentials, verifyOpts.Scope)
			if err != nil {
				if lerr.Is(err, lerr.IOError) {
					return err
				}
				// No candidate opened this file; it contributes nothing,
				// not a scan failure.
				return nil
			}
			lic := findLicenseFor(gctx, kp, licensePaths, verifyOpts)
			slots[i] = &Result{KeypairPath: path, Keypair: kp, License: lic}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// findLicenseFor tries each candidate license path, in search-path order,
// against an opened keypair: a license naming a Client must match kp.VK; a
// bearer license (no Client) is eligible for any keypair. The first
// license that also passes full Verifier validation is returned.
func findLicenseFor(ctx context.Context, kp core.PlaintextKeypair, licensePaths []string, verifyOpts verifier.Options) *verifier.Result {
	for _, path := range licensePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signed, err := codec.DecodeSignedLicense(data)
		if err != nil {
			continue
		}
		if signed.License.Client != nil && !core.ConstantTimeEqual(signed.License.Client.Pubkey, kp.VK) {
			continue
		}
		result, err := verifier.VerifySigned(ctx, signed, verifyOpts)
		if err != nil {
			continue
		}
		return &result
	}
	return nil
}

// scan collects every keypair and license candidate path across
// searchPath, in directory-then-filename order, so the result is
// deterministic regardless of the concurrency Discover applies afterward.
func scan(searchPath keystore.SearchPath) (keypairs, licenses []string, err error) {
	for _, dir := range searchPath {
		kp, err := globSorted(dir, "*.crypto-keypair*")
		if err != nil {
			return nil, nil, err
		}
		keypairs = append(keypairs, kp...)

		lic, err := globSorted(dir, "*.crypto-license*")
		if err != nil {
			return nil, nil, err
		}
		licenses = append(licenses, lic...)
	}
	return keypairs, licenses, nil
}

func globSorted(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, lerr.IOErrorf("scanning %s for %s: %s", dir, pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}
