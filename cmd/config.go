// Copyright 2015 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"strings"
	"time"
)

// Config stores the configuration parameters a crypto-licensing command
// needs. For simplicity we lump them all into one struct and use
// encoding/json (or YAML, via ReadConfigFile) to read it from a file.
//
// Note: NO DEFAULTS are provided.
type Config struct {
	Discovery struct {
		// SearchPath lists directories to scan for keypair and license
		// files, ordered most-general to most-specific.
		SearchPath []string

		// Credentials lists username/password pairs tried, in order,
		// against every keypair file found on SearchPath.
		Credentials []CredentialConfig

		// ReverseSave writes newly created keypairs to the most specific
		// (last) entry of SearchPath instead of the most general (first).
		ReverseSave bool
	}

	DNS struct {
		Resolvers   []string
		DialTimeout ConfigDuration
	}

	Machine struct {
		// Override, if non-empty, replaces the host machine-id reading.
		Override string
	}

	Syslog SyslogConfig

	Statsd StatsdConfig

	DebugAddr string
}

// CredentialConfig is a username/password pair read from a config file.
type CredentialConfig struct {
	Username string
	Password ConfigSecret
}

// SyslogConfig defines the config for syslogging.
type SyslogConfig struct {
	Network     string
	Server      string
	StdoutLevel *int
}

// StatsdConfig defines the config for Statsd.
type StatsdConfig struct {
	Server string
	Prefix string
}

// ConfigDuration is just an alias for time.Duration that can be read from
// a duration string (e.g. "5s") in YAML as well as JSON, and is written back
// to JSON as that string.
type ConfigDuration struct {
	time.Duration
}

// ErrDurationMustBeString is returned when a non-string value is
// presented to be deserialized as a ConfigDuration
var ErrDurationMustBeString = errors.New("cannot JSON unmarshal something other than a string into a ConfigDuration")

// UnmarshalJSON parses a string into a ConfigDuration using
// time.ParseDuration.  If the input does not unmarshal as a
// string, then UnmarshalJSON returns ErrDurationMustBeString.
func (d *ConfigDuration) UnmarshalJSON(b []byte) error {
	s := ""
	err := json.Unmarshal(b, &s)
	if err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return ErrDurationMustBeString
		}
		return err
	}
	dd, err := time.ParseDuration(s)
	d.Duration = dd
	return err
}

// MarshalJSON returns the string form of the duration, as a byte array.
func (d ConfigDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalYAML uses the same format as JSON, but is called by the YAML
// parser (vs. the JSON parser).
func (d *ConfigDuration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	d.Duration = dur
	return nil
}

// A ConfigSecret represents a string-valued config field. It may be specified
// directly in the config or, if it starts with the string "secret:", its
// contents are read from the filename that comes after "secret:", with
// trailing newlines removed.
type ConfigSecret string

var errSecretMustBeString = errors.New("cannot JSON unmarshal something other than a string into a ConfigSecret")

const secretPrefix = "secret:"

// UnmarshalJSON unmarshals a ConfigSecret
func (d *ConfigSecret) UnmarshalJSON(b []byte) error {
	s := ""
	err := json.Unmarshal(b, &s)
	if err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return errSecretMustBeString
		}
		return err
	}
	if !strings.HasPrefix(s, secretPrefix) {
		*d = ConfigSecret(s)
		return nil
	}
	contents, err := ioutil.ReadFile(s[len(secretPrefix):])
	if err != nil {
		return err
	}
	*d = ConfigSecret(strings.TrimRight(string(contents), "\n"))
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON's secret: file-indirection behavior
// for YAML-sourced config.
func (d *ConfigSecret) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if !strings.HasPrefix(s, secretPrefix) {
		*d = ConfigSecret(s)
		return nil
	}
	contents, err := ioutil.ReadFile(s[len(secretPrefix):])
	if err != nil {
		return err
	}
	*d = ConfigSecret(strings.TrimRight(string(contents), "\n"))
	return nil
}
