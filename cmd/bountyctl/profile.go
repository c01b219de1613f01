package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	envProfile    = "WHISTLE_PROFILE"
	envServer     = "WHISTLE_SERVER"
	envToken      = "WHISTLE_TOKEN"
	envIdentity   = "WHISTLE_IDENTITY"
	defaultServer = "http://127.0.0.1:8080"
	defaultPass   = "WHISTLE_KEYSTORE_PASS"
	defaultTTL    = time.Hour
)

// profile is the operator's bountyctl configuration, stored as TOML.
type profile struct {
	Server        string `toml:"server"`
	Token         string `toml:"token"`
	Identity      string `toml:"identity"`
	Keystore      string `toml:"keystore"`
	PassphraseEnv string `toml:"passphraseEnv"`
	HMACSecret    string `toml:"hmacSecret"`
	Issuer        string `toml:"issuer"`
	Audience      string `toml:"audience"`
	TokenTTL      string `toml:"tokenTTL"`
}

func defaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".whistle", "profile.toml")
}

// loadProfile reads path over the defaults. An explicit path must exist; the
// default location is optional.
func loadProfile(path string, lookup func(string) (string, bool)) (profile, error) {
	p := profile{Server: defaultServer, PassphraseEnv: defaultPass}
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		if value, ok := lookup(envProfile); ok && strings.TrimSpace(value) != "" {
			path, explicit = value, true
		} else {
			path = defaultProfilePath()
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &p); err != nil {
			if !explicit && errors.Is(err, os.ErrNotExist) {
				err = nil
			} else {
				return profile{}, fmt.Errorf("read profile %s: %w", path, err)
			}
		}
	}
	if value, ok := lookup(envServer); ok && strings.TrimSpace(value) != "" {
		p.Server = strings.TrimSpace(value)
	}
	if value, ok := lookup(envToken); ok && strings.TrimSpace(value) != "" {
		p.Token = strings.TrimSpace(value)
	}
	if value, ok := lookup(envIdentity); ok && strings.TrimSpace(value) != "" {
		p.Identity = strings.TrimSpace(value)
	}
	p.Server = strings.TrimRight(p.Server, "/")
	if _, err := p.tokenTTL(); err != nil {
		return profile{}, err
	}
	return p, nil
}

func (p profile) tokenTTL() (time.Duration, error) {
	if strings.TrimSpace(p.TokenTTL) == "" {
		return defaultTTL, nil
	}
	ttl, err := time.ParseDuration(p.TokenTTL)
	if err != nil || ttl <= 0 {
		return 0, fmt.Errorf("tokenTTL must be a positive duration, got %q", p.TokenTTL)
	}
	return ttl, nil
}
