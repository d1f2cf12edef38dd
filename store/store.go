// Package store defines the persistence contract (C1) that the access-token,
// refresh-token and claims managers are built against, the token-validity
// predicate (C7), and the shared data model.
//
// Implementations MAY return expired entries from their getters; only an
// absent record is reported as "not found" (a nil record with a nil error).
// The core treats every returned record as possibly stale and re-checks it
// with Valid before trusting it.
package store

import (
	"context"
	"time"
)

// Metadata is the free-form token metadata bag described by RFC 7662 §2.2,
// plus the library's own "valid: false" sentinel. Once stored, the "scope"
// key — if present — is always a []string, never a space-delimited string.
type Metadata map[string]any

// Clone returns a shallow copy of m. Callers that mutate a metadata map
// obtained from the store should clone it first so they never mutate a
// value another goroutine might be holding.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Subject returns the "sub" claim, if any.
func (m Metadata) Subject() (string, bool) {
	sub, ok := m["sub"].(string)
	return sub, ok && sub != ""
}

// ClientID returns the "client_id" claim, if any.
func (m Metadata) ClientID() (string, bool) {
	cid, ok := m["client_id"].(string)
	return cid, ok && cid != ""
}

// Scopes returns the normalized scope set, if any.
func (m Metadata) Scopes() []string {
	switch v := m["scope"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// AccessTokenRecord is a persisted access token and its metadata.
type AccessTokenRecord struct {
	Token     string
	Issuer    string
	TokenType string
	Metadata  Metadata
	UpdatedAt time.Time
}

// RefreshTokenRecord is a persisted refresh token and its metadata. Refresh
// tokens carry no token_type.
type RefreshTokenRecord struct {
	Token     string
	Issuer    string
	Metadata  Metadata
	UpdatedAt time.Time
}

// ClaimsRecord is the (issuer, subject)-keyed row holding the latest ID
// token and the latest userinfo claims bundle. Either half, or both, may be
// present. UpdatedAt reflects only the Claims half; it is the zero time when
// only an ID token has ever been stored.
type ClaimsRecord struct {
	IDToken   string // compact JWS, empty if never registered
	Claims    map[string]any
	UpdatedAt time.Time
}

// HasIDToken reports whether r carries an ID token.
func (r *ClaimsRecord) HasIDToken() bool { return r != nil && r.IDToken != "" }

// HasClaims reports whether r carries a userinfo claims bundle.
func (r *ClaimsRecord) HasClaims() bool { return r != nil && r.Claims != nil }

// Store is the persistence contract (C1). Getters return (nil, nil) — not an
// error — when a record is absent. Only genuine storage failures are
// returned as errors, typically wrapped in *oautherr.InsertError or
// *oautherr.MultipleResultsError.
//
// PutClaims and PutIDToken must preserve the other half of a ClaimsRecord:
// writing claims must not erase a previously registered ID token, and vice
// versa.
type Store interface {
	// GetAccessToken returns the record for at, or nil if none exists.
	GetAccessToken(ctx context.Context, at string) (*AccessTokenRecord, error)
	// GetAccessTokensForSubject returns every access token stored for
	// (iss, sub), regardless of validity.
	GetAccessTokensForSubject(ctx context.Context, iss, sub string) ([]*AccessTokenRecord, error)
	// GetAccessTokensClientCredentials returns every access token stored
	// for (iss, clientID) that carries no subject (client-credentials
	// flow records).
	GetAccessTokensClientCredentials(ctx context.Context, iss, clientID string) ([]*AccessTokenRecord, error)
	// PutAccessToken writes or overwrites the record for at, stamping
	// UpdatedAt with the current time, and returns the metadata as stored
	// (after scope normalization).
	PutAccessToken(ctx context.Context, at, tokenType string, metadata Metadata, iss string) (Metadata, error)
	// DeleteAccessToken removes the record for at. Deleting an absent
	// token is not an error.
	DeleteAccessToken(ctx context.Context, at string) error

	// GetRefreshToken returns the record for rt, or nil if none exists.
	GetRefreshToken(ctx context.Context, rt string) (*RefreshTokenRecord, error)
	// GetRefreshTokensForSubject returns every refresh token stored for
	// (iss, sub).
	GetRefreshTokensForSubject(ctx context.Context, iss, sub string) ([]*RefreshTokenRecord, error)
	// GetRefreshTokensClientCredentials returns every refresh token
	// stored for (iss, clientID) that carries no subject.
	GetRefreshTokensClientCredentials(ctx context.Context, iss, clientID string) ([]*RefreshTokenRecord, error)
	// PutRefreshToken writes or overwrites the record for rt.
	PutRefreshToken(ctx context.Context, rt string, metadata Metadata, iss string) (Metadata, error)
	// DeleteRefreshToken removes the record for rt.
	DeleteRefreshToken(ctx context.Context, rt string) error

	// GetClaims returns the claims half of the (iss, sub) row, or nil if
	// no claims have ever been stored for that pair (an ID token alone
	// does not count).
	GetClaims(ctx context.Context, iss, sub string) (*ClaimsRecord, error)
	// PutClaims overwrites the claims half of the (iss, sub) row without
	// disturbing any previously stored ID token.
	PutClaims(ctx context.Context, iss, sub string, claims map[string]any) error
	// GetIDToken returns the ID token half of the (iss, sub) row, or ""
	// if none has been registered.
	GetIDToken(ctx context.Context, iss, sub string) (string, error)
	// PutIDToken overwrites the ID token half of the (iss, sub) row
	// without disturbing any previously stored claims.
	PutIDToken(ctx context.Context, iss, sub, idToken string) error
}

// Lifecycle is implemented by stores that own background resources (an
// eviction sweep, an open database handle) and must be started and stopped
// around the process lifetime.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
