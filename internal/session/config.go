package session

import (
	sha256lib "crypto/sha256"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/hkdf"
)

// devDefaultSecret is the fixed master secret used outside production
// (spec.md §6: only NODE_ENV=production enforces a real, high-entropy
// secret). It is intentionally a recognizable placeholder so it is obvious
// in logs/diffs if it ever leaks into a production deployment by mistake.
const devDefaultSecret = "development-only-session-secret-do-not-use-in-prod"

// Method selects the session-creation strategy a Config uses (spec.md §3
// "sessionConfig.method"). The "advanced" method (rotating refresh tokens)
// is named by spec.md as an Open Question left for a future revision; this
// core implements only "essential", and rejects "advanced" explicitly at
// session-creation time rather than at config-validation time, so a
// deployment can carry the setting around without crashing until it
// actually tries to use it (see DESIGN.md, Open Questions).
type Method string

const (
	MethodEssential Method = "essential"
	MethodAdvanced  Method = "advanced"
)

// Config is the session core's configuration, bindable from the environment
// via github.com/caarlos0/env (see cmd/server for wiring). Secrets are
// supplied as a single high-entropy master secret and split into
// independent purpose-scoped keys with DeriveKeys, rather than requiring
// three separately-managed secrets.
type Config struct {
	Method Method `env:"SESSION_METHOD" envDefault:"essential"`

	// NodeEnv gates how strictly Validate checks MasterSecret (spec.md §6):
	// only "production" requires a real, high-entropy secret.
	NodeEnv string `env:"NODE_ENV" envDefault:"development"`

	// MasterSecret seeds DeriveKeys. Must be at least 32 bytes in
	// production; left empty in any other environment, it defaults to a
	// fixed development string.
	MasterSecret string `env:"SESSION_SECRET_KEY"`

	// DisableCSRFProtection turns off the Kernel Resolver's anti-CSRF check
	// entirely (spec.md §6 DANGEROUSLY_DISABLE_CSRF_PROTECTION). Named
	// loudly on purpose: this should only ever be set for local tooling.
	DisableCSRFProtection bool `env:"DANGEROUSLY_DISABLE_CSRF_PROTECTION" envDefault:"false"`

	// PublicDataKeysToSync lists the publicData keys the Public-Data
	// Propagator (C7) mirrors across a user's other live sessions
	// (spec.md §4.7, P8). Keys not in this list are left alone on sibling
	// sessions even when the caller's own session changes them.
	PublicDataKeysToSync []string `env:"SESSION_PUBLIC_DATA_SYNC_KEYS" envSeparator:","`

	// CookieDomain, when set, is attached to every session cookie.
	CookieDomain string `env:"SESSION_COOKIE_DOMAIN"`
	// CookieSameSite is one of "Lax", "Strict", "None".
	CookieSameSite string `env:"SESSION_COOKIE_SAME_SITE" envDefault:"Lax"`
	// CookieSecure sets the Secure attribute; its env default is true in
	// every environment.
	CookieSecure bool `env:"SESSION_COOKIE_SECURE" envDefault:"true"`

	// AnonSessionExpiryMinutes bounds anonymous JWT lifetime.
	AnonSessionExpiryMinutes int `env:"SESSION_ANONYMOUS_EXPIRY_MINUTES" envDefault:"43200"`
	// IdleExpiryMinutes is the rolling idle timeout for authenticated
	// sessions (spec.md §4.4 "rolling expiry").
	IdleExpiryMinutes int `env:"SESSION_IDLE_EXPIRY_MINUTES" envDefault:"10080"`

	// CalculateJWTPayload is carried on the config but not read by Engine:
	// the anonymous JWT payload always holds the kernel's full PublicData,
	// whether or not this is set.
	CalculateJWTPayload func(PublicData) PublicData `env:"-"`
}

// IdleExpiry returns the configured rolling idle expiry as a Duration.
func (c *Config) IdleExpiry() time.Duration {
	return time.Duration(c.IdleExpiryMinutes) * time.Minute
}

// AnonExpiry returns the configured anonymous-session expiry as a Duration.
func (c *Config) AnonExpiry() time.Duration {
	return time.Duration(c.AnonSessionExpiryMinutes) * time.Minute
}

// Validate checks the config for the fail-fast invariants spec.md §7
// assigns to ErrCodeInvalidConfig. Secret strictness is environment-gated
// (spec.md §6): only NODE_ENV=production demands a real, >=32-byte master
// secret; anywhere else an unset MasterSecret is filled in with a fixed
// development default. When SESSION_SECRET_KEY is unset, a set legacy
// SECRET_SESSION_KEY environment variable is rejected with an explicit
// rename error rather than silently ignored; when both are set, the legacy
// one is not consulted.
func (c *Config) Validate() error {
	if legacy := os.Getenv("SECRET_SESSION_KEY"); legacy != "" && c.MasterSecret == "" {
		return fmt.Errorf("session: SECRET_SESSION_KEY was renamed to SESSION_SECRET_KEY; set SESSION_SECRET_KEY instead")
	}

	if c.NodeEnv == "production" {
		if len(c.MasterSecret) < 32 {
			return fmt.Errorf("session: SESSION_SECRET_KEY must be at least 32 bytes in production, got %d", len(c.MasterSecret))
		}
	} else if c.MasterSecret == "" {
		c.MasterSecret = devDefaultSecret
	}

	switch c.CookieSameSite {
	case "Lax", "Strict", "None":
	default:
		return fmt.Errorf("session: invalid SESSION_COOKIE_SAME_SITE %q", c.CookieSameSite)
	}
	return nil
}

// derivedKeys holds the three independent keys split out of one master
// secret.
type derivedKeys struct {
	sessionTokenKey []byte
	jwtKey          []byte
	csrfKey         []byte
}

// DeriveKeys splits Config.MasterSecret into three independent 32-byte keys
// via HKDF-SHA256, one per purpose, so that compromising the derivation for
// one does not weaken another. Grounded on swfrench-simple-session's
// deriveKeys (session.go), which uses the same hkdf.Extract/Expand pattern
// to split one secret across multiple "info" labels.
func (c *Config) DeriveKeys() (*derivedKeys, error) {
	ikm := []byte(c.MasterSecret)
	salt := []byte("sessioncore-v0-salt")
	extracted := hkdf.Extract(sha256lib.New, ikm, salt)

	expand := func(info string) ([]byte, error) {
		r := hkdf.Expand(sha256lib.New, extracted, []byte(info))
		out := make([]byte, 32)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, fmt.Errorf("derive key %q: %w", info, err)
		}
		return out, nil
	}

	sessionKey, err := expand("sessioncore.session-token.v0")
	if err != nil {
		return nil, err
	}
	jwtKey, err := expand("sessioncore.anonymous-jwt.v0")
	if err != nil {
		return nil, err
	}
	csrfKey, err := expand("sessioncore.csrf-token.v0")
	if err != nil {
		return nil, err
	}
	return &derivedKeys{sessionTokenKey: sessionKey, jwtKey: jwtKey, csrfKey: csrfKey}, nil
}
