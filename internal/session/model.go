// Package session implements the session authentication core: issuing,
// validating, refreshing and revoking HTTP session credentials for both
// anonymous and authenticated users, plus CSRF enforcement on
// state-changing requests.
//
// The package is deliberately framework-agnostic: it reads and writes plain
// net/http.Header values rather than depending on any particular router. See
// internal/ginsession for a Gin adapter, and cmd/server for a worked example.
package session

import (
	"encoding/json"
	"time"
)

// Handle type-tag suffixes (spec.md §3: "handle ... string of form
// <opaque32>-<typeTag>").
const (
	handleSuffixOpaque       = "-opaque-token-simple"
	handleSuffixAnonymousJWT = "-anonymous-jwt"
)

// PublicData is the client-visible portion of a session. It is modeled as a
// plain map (rather than a fixed struct) because spec.md §3 allows arbitrary
// additional keys; UserID, Role and Roles get typed accessors since they
// carry protocol meaning.
type PublicData map[string]interface{}

// NewPublicData returns an empty, anonymous PublicData (userId: nil).
func NewPublicData() PublicData {
	return PublicData{"userId": nil}
}

// UserID returns the userId key, or nil if absent/anonymous.
func (d PublicData) UserID() *string {
	v, ok := d["userId"]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		return &t
	case *string:
		return t
	default:
		return nil
	}
}

// SetUserID sets or clears the userId key.
func (d PublicData) SetUserID(userID *string) {
	if userID == nil {
		d["userId"] = nil
		return
	}
	d["userId"] = *userID
}

// Role returns the "role" key (empty string if unset).
func (d PublicData) Role() string {
	v, _ := d["role"].(string)
	return v
}

// Roles returns the "roles" key. Handles both []string and []interface{}
// (the latter is what json.Unmarshal into map[string]interface{} produces).
func (d PublicData) Roles() []string {
	switch v := d["roles"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ValidateRoleInvariant enforces spec.md §3: role and roles are mutually
// exclusive.
func (d PublicData) ValidateRoleInvariant() bool {
	_, hasRole := d["role"]
	_, hasRoles := d["roles"]
	return !(hasRole && hasRoles)
}

// Clone returns a shallow copy of d.
func (d PublicData) Clone() PublicData {
	out := make(PublicData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a new PublicData with the receiver as the base and other's
// keys overwriting it ("new winning", spec.md §4.5).
func (d PublicData) Merge(other PublicData) PublicData {
	out := d.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (d PublicData) canonicalJSON() (string, error) {
	b, err := json.Marshal(map[string]interface{}(d))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PrivateData is an opaque, server-only JSON blob.
type PrivateData map[string]interface{}

// Clone returns a shallow copy of d.
func (d PrivateData) Clone() PrivateData {
	out := make(PrivateData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a new PrivateData with other's keys overwriting the
// receiver's.
func (d PrivateData) Merge(other PrivateData) PrivateData {
	out := d.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Record is the persisted shape of a session (spec.md §3 "Session record").
type Record struct {
	Handle             string     `json:"handle"`
	UserID             *string    `json:"userId"`
	ExpiresAt          *time.Time `json:"expiresAt"`
	HashedSessionToken string     `json:"hashedSessionToken,omitempty"`
	AntiCSRFToken      string     `json:"antiCSRFToken"`
	PublicData         string     `json:"publicData"`
	PrivateData        string     `json:"privateData"`
}

// Expired reports whether the record's ExpiresAt is in the past relative to
// now. A record with no ExpiresAt never expires.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// DecodePublicData JSON-decodes the record's PublicData column.
func (r *Record) DecodePublicData() (PublicData, error) {
	if r.PublicData == "" {
		return PublicData{}, nil
	}
	var d PublicData
	if err := json.Unmarshal([]byte(r.PublicData), &d); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodePrivateData JSON-decodes the record's PrivateData column.
func (r *Record) DecodePrivateData() (PrivateData, error) {
	if r.PrivateData == "" {
		return PrivateData{}, nil
	}
	var d PrivateData
	if err := json.Unmarshal([]byte(r.PrivateData), &d); err != nil {
		return nil, err
	}
	return d, nil
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Kind distinguishes the two kernel variants (spec.md §3 "Session Kernel").
type Kind int

const (
	// Anonymous kernels have a nil UserID in PublicData.
	Anonymous Kind = iota
	// Authenticated kernels have a non-nil UserID in PublicData.
	Authenticated
)

func (k Kind) String() string {
	if k == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// AnonymousSessionPayload is the body carried inside the anonymous JWT,
// under the "blitzjs" claim namespace (spec.md §3/§6).
type AnonymousSessionPayload struct {
	IsAnonymous   bool       `json:"isAnonymous"`
	Handle        string     `json:"handle"`
	PublicData    PublicData `json:"publicData"`
	AntiCSRFToken string     `json:"antiCSRFToken"`
}

// Kernel is the in-memory, per-request distillation of a session (spec.md
// §3). It is a tagged union: Kind selects which of the variant-specific
// fields are meaningful, avoiding an inheritance hierarchy per spec.md §9.
type Kernel struct {
	Kind          Kind
	Handle        string
	PublicData    PublicData
	AntiCSRFToken string

	// Anonymous-only.
	JWTPayload            *AnonymousSessionPayload
	AnonymousSessionToken string

	// Authenticated-only.
	SessionToken string

	// justCreated marks a kernel minted by the Kernel Factory in this
	// request (as opposed to one resolved from an existing credential), so
	// WriteKernel knows to set the session-created signalling header
	// (spec.md §4.5, §6, P1).
	justCreated bool
}

// IsAnonymous reports whether this kernel is the anonymous variant.
func (k *Kernel) IsAnonymous() bool { return k.Kind == Anonymous }

// UserID returns the kernel's userId, which is always nil for anonymous
// kernels and always non-nil for authenticated ones (spec.md §3 invariant).
func (k *Kernel) UserID() *string {
	if k == nil || k.PublicData == nil {
		return nil
	}
	return k.PublicData.UserID()
}
