package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"whistlechain/cmd/internal/passphrase"
	"whistlechain/crypto"
	"whistlechain/gateway/config"
)

func (c *cli) passphrase() *passphrase.Source {
	return passphrase.NewSource(c.prof.PassphraseEnv).WithLookup(c.lookup)
}

func (c *cli) runKeygen(args []string) int {
	fs := c.flags("keygen")
	out := fs.String("out", c.prof.Keystore, "keystore output path")
	light := fs.Bool("light", false, "use the light scrypt cost (development only)")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		return c.failf("-out is required when the profile has no keystore")
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return c.failf("keystore %s already exists; pass -force to overwrite", path)
	}
	pass, err := c.passphrase().Get()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(err)
	}
	save := crypto.SaveToKeystore
	if *light {
		save = crypto.SaveToKeystoreLight
	}
	if err := save(path, key, pass); err != nil {
		return c.failf("write keystore: %v", err)
	}
	fmt.Fprintln(c.stdout, key.PubKey().Identity().String())
	return 0
}

func (c *cli) runWhoami(args []string) int {
	fs := c.flags("whoami")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := c.keystoreIdentity()
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, id)
	return 0
}

func (c *cli) keystoreIdentity() (string, error) {
	path := strings.TrimSpace(c.prof.Keystore)
	if path == "" {
		return "", errors.New("profile has no keystore configured")
	}
	pass, err := c.passphrase().Get()
	if err != nil {
		return "", err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return "", fmt.Errorf("unlock keystore: %w", err)
	}
	return key.PubKey().Identity().String(), nil
}

// runToken mints an HS256 bearer token the gateway accepts. The subject is
// the caller identity.
func (c *cli) runToken(args []string) int {
	fs := c.flags("token")
	sub := fs.String("sub", c.prof.Identity, "token subject; defaults to the profile identity or keystore")
	ttlFlag := fs.Duration("ttl", 0, "token lifetime (default from profile)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	secret := strings.TrimSpace(c.prof.HMACSecret)
	if value, ok := c.lookup(config.EnvHMACSecret); ok && strings.TrimSpace(value) != "" {
		secret = strings.TrimSpace(value)
	}
	if secret == "" {
		return c.failf("no signing secret; set hmacSecret in the profile or %s", config.EnvHMACSecret)
	}
	subject := strings.TrimSpace(*sub)
	if subject == "" {
		id, err := c.keystoreIdentity()
		if err != nil {
			return c.failf("no subject: %v", err)
		}
		subject = id
	}
	ttl := *ttlFlag
	if ttl <= 0 {
		var err error
		if ttl, err = c.prof.tokenTTL(); err != nil {
			return c.fail(err)
		}
	}
	signed, err := mintToken(secret, subject, c.prof.Issuer, c.prof.Audience, ttl, time.Now())
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, signed)
	return 0
}

func mintToken(secret, subject, issuer, audience string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
