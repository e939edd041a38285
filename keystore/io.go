package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/dominionrnd/crypto-licensing/codec"
	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
	"github.com/dominionrnd/crypto-licensing/metrics"
)

// Credential is one (username, password) candidate tried against a keypair
// file in declaration order.
type Credential struct {
	Username string
	Password string
}

// SearchPath lists candidate directories ordered most-general to
// most-specific (e.g. a system config directory first, the process working
// directory last), mirroring Discovery's configured search path.
type SearchPath []string

// Load reads the EncryptedKeypair at path and attempts each credential
// candidate in order, returning the first successful decryption. If no
// candidate succeeds, the last BadCredentials error is returned. scope is
// passed through to Open and may be nil.
func Load(path string, candidates []Credential, scope metrics.Scope) (core.PlaintextKeypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return core.PlaintextKeypair{}, lerr.NoRecordError("no keypair at %s", path)
		}
		return core.PlaintextKeypair{}, lerr.IOErrorf("reading %s: %s", path, err)
	}

	encrypted, err := codec.DecodeEncryptedKeypair(data)
	if err != nil {
		return core.PlaintextKeypair{}, err
	}

	if len(candidates) == 0 {
		return core.PlaintextKeypair{}, lerr.BadCredentialsError("no credential candidates supplied")
	}

	var lastErr error
	for _, c := range candidates {
		kp, err := Open(encrypted, c.Username, c.Password, scope)
		if err == nil {
			return kp, nil
		}
		lastErr = err
	}
	return core.PlaintextKeypair{}, lastErr
}

// resolveSavePath chooses the destination directory for a relative path
// when a search path is supplied: reverseSave picks the most specific
// (last) entry, the default picks the most general (first) entry.
func resolveSavePath(path string, searchPath SearchPath, reverseSave bool) string {
	if filepath.IsAbs(path) || len(searchPath) == 0 {
		return path
	}
	var dir string
	if reverseSave {
		dir = searchPath[len(searchPath)-1]
	} else {
		dir = searchPath[0]
	}
	return filepath.Join(dir, path)
}

// Save persists an EncryptedKeypair to disk. It refuses to overwrite an
// existing file (FileExists) and avoids partial writes by writing to a
// sibling temporary file and renaming atomically over the destination.
func Save(k core.EncryptedKeypair, path string, searchPath SearchPath, reverseSave bool) error {
	dest := resolveSavePath(path, searchPath, reverseSave)

	if _, err := os.Stat(dest); err == nil {
		return lerr.FileExistsError("%s already exists", dest)
	} else if !os.IsNotExist(err) {
		return lerr.IOErrorf("checking %s: %s", dest, err)
	}

	data, err := codec.EncodeEncryptedKeypair(k)
	if err != nil {
		return err
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return lerr.IOErrorf("generating temp file suffix: %s", err)
	}
	tmp := dest + ".tmp-" + hex.EncodeToString(suffix)

	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return lerr.IOErrorf("creating %s: %s", dir, err)
		}
	}

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return lerr.IOErrorf("writing %s: %s", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return lerr.IOErrorf("renaming %s to %s: %s", tmp, dest, err)
	}
	return nil
}
