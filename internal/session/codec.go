package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenVersion tags every opaque session token this package mints, so a
// future incompatible encoding can coexist with tokens issued under this
// one. Grounded on swfrench-simple-session/internal/token/v0's "v0" prefix
// convention.
const tokenVersion = "v0"

const tokenSeparator = ";"

// newRandomToken returns a cryptographically random token with nBytes of
// entropy, hex-encoded. nBytes is entropy, not output-string length (an
// Open Question spec.md leaves implicit; see DESIGN.md).
func newRandomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// newHandle mints a fresh session handle, tagged with a type suffix so a
// handle alone (e.g. logged by an intermediary) reveals which codec path
// produced it without exposing any secret material (spec.md §3).
func newHandle(anonymous bool) (string, error) {
	raw, err := newRandomToken(16)
	if err != nil {
		return "", err
	}
	if anonymous {
		return raw + handleSuffixAnonymousJWT, nil
	}
	return raw + handleSuffixOpaque, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// hashedPublicDataOf returns the sha256 hex digest of data's canonical JSON
// encoding, the fingerprint embedded in every opaque session token so the
// Kernel Resolver can detect a stale public-data cookie without a store
// round trip (spec.md §4.4 step g / P5).
func hashedPublicDataOf(data PublicData) (string, error) {
	canonical, err := data.canonicalJSON()
	if err != nil {
		return "", fmt.Errorf("session: hash public data: %w", err)
	}
	return sha256Hex(canonical), nil
}

// encodeSessionToken builds the opaque session-token wire value for an
// already-known nonce: base64(handle;nonce;sha256HexOfJSONPublicData;v0),
// per spec.md §4.1/§6. Re-encoding with the same nonce (e.g. after a
// publicData change or a rolling-expiry refresh) leaves the token's
// authentication half untouched while refreshing the embedded public-data
// fingerprint.
func encodeSessionToken(handle string, nonce string, publicData PublicData) (string, error) {
	hashedPublicData, err := hashedPublicDataOf(publicData)
	if err != nil {
		return "", err
	}
	raw := strings.Join([]string{handle, nonce, hashedPublicData, tokenVersion}, tokenSeparator)
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// newSessionToken mints a brand-new nonce and encodes it into a session
// token. Only the sha256 of the nonce is ever persisted (hashedSessionToken
// on the Record), so a leaked store row cannot be replayed as a live
// cookie.
func newSessionToken(handle string, publicData PublicData) (token string, hashedSecret string, err error) {
	nonce, err := newRandomToken(32)
	if err != nil {
		return "", "", err
	}
	token, err = encodeSessionToken(handle, nonce, publicData)
	if err != nil {
		return "", "", err
	}
	return token, sha256Hex(nonce), nil
}

// parseSessionToken splits a session-token cookie value back into its
// handle, nonce and embedded public-data hash, without validating the nonce
// against a store.
func parseSessionToken(token string) (handle string, nonce string, hashedPublicData string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", "", MalformedTokenErr("session token is not valid base64")
	}
	parts := strings.Split(string(raw), tokenSeparator)
	if len(parts) != 4 || parts[3] != tokenVersion {
		return "", "", "", MalformedTokenErr("unrecognized session token shape or version")
	}
	return parts[0], parts[1], parts[2], nil
}

// anonClaims is the JWT claim set for anonymous sessions. The session
// payload is nested under a "blitzjs" namespace to avoid colliding with
// registered JWT claim names, matching the wire shape spec.md §6 documents.
type anonClaims struct {
	jwt.RegisteredClaims
	Blitzjs AnonymousSessionPayload `json:"blitzjs"`
}

// newAnonymousJWT signs an anonymous session payload, HS256, expiring after
// ttl.
func newAnonymousJWT(payload AnonymousSessionPayload, key []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := anonClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Blitzjs: payload,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("session: sign anonymous jwt: %w", err)
	}
	return signed, nil
}

// parseAnonymousJWT verifies and decodes an anonymous session JWT. It
// rejects any token not signed with HMAC, defending against the classic
// "alg": "none" / RS256-to-HS256 substitution attack (grounded on the
// teacher's internal/auth/jwt.go ValidateToken).
func parseAnonymousJWT(raw string, key []byte) (*AnonymousSessionPayload, error) {
	var claims anonClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, MalformedTokenErr(err.Error())
	}
	if !token.Valid {
		return nil, MalformedTokenErr("anonymous jwt failed validation")
	}
	return &claims.Blitzjs, nil
}

// newPublicDataToken base64-encodes PublicData's canonical JSON for the
// non-httponly sPublicDataToken cookie, letting frontend code read basic
// session shape (e.g. current role) without a round trip. It is not signed:
// anything in PublicData is, by definition, already safe for the client to
// see and is never trusted as an authentication credential on its own.
func newPublicDataToken(data PublicData) (string, error) {
	canonical, err := data.canonicalJSON()
	if err != nil {
		return "", fmt.Errorf("session: encode public data token: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(canonical)), nil
}

// parsePublicDataToken decodes a sPublicDataToken cookie value. Included for
// symmetry with newPublicDataToken and exercised only by this package's
// tests; the core itself always derives PublicData from the authoritative
// store/JWT, never from this cookie.
func parsePublicDataToken(token string) (PublicData, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, MalformedTokenErr("public data token is not valid base64")
	}
	var data PublicData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, MalformedTokenErr("public data token is not valid json")
	}
	return data, nil
}

// newAntiCSRFToken mints a random anti-CSRF token, independent of both the
// session token and the JWT signing key.
func newAntiCSRFToken() (string, error) {
	return newRandomToken(24)
}
