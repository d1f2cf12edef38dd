package oauth2tokenmanager

import (
	"context"

	"github.com/tanguilp/oauth2-token-manager/store"
)

// resolveOptions returns the first element of overrides if given, else
// m.DefaultOptions.
func (m *Manager) resolveOptions(overrides []store.Options) store.Options {
	if len(overrides) > 0 {
		return overrides[0].WithDefaults()
	}
	return m.DefaultOptions
}

// RegisterAccessToken registers an access token for iss.
func (m *Manager) RegisterAccessToken(ctx context.Context, at, tokenType string, metadata store.Metadata, iss string, opts ...store.Options) (store.Metadata, error) {
	return m.AccessTokens.Register(ctx, at, tokenType, metadata, iss, m.ClientConfig, m.resolveOptions(opts))
}

// IntrospectAccessToken returns at's metadata, freshness-gated by time since
func (m *Manager) IntrospectAccessToken(ctx context.Context, at, iss string, opts ...store.Options) (store.Metadata, error) {
	return m.AccessTokens.Introspect(ctx, at, iss, m.ClientConfig, m.resolveOptions(opts))
}

// GetAccessToken returns a valid access token for (iss, sub), acquiring one
// via refresh if no cached token satisfies scopes.
func (m *Manager) GetAccessToken(ctx context.Context, iss, sub string, scopes []string, opts ...store.Options) (token, tokenType string, err error) {
	return m.AccessTokens.Get(ctx, iss, sub, false, m.ClientConfig, scopes, m.resolveOptions(opts))
}

// GetAccessTokenClientCredentials is GetAccessToken for client-credentials
// records (no subject), keyed by clientID instead.
func (m *Manager) GetAccessTokenClientCredentials(ctx context.Context, iss, clientID string, scopes []string, opts ...store.Options) (token, tokenType string, err error) {
	return m.AccessTokens.Get(ctx, iss, clientID, true, m.ClientConfig, scopes, m.resolveOptions(opts))
}

// DeleteAccessToken removes at, optionally revoking it in the background.
func (m *Manager) DeleteAccessToken(ctx context.Context, at, iss string, opts ...store.Options) error {
	return m.AccessTokens.Delete(ctx, at, iss, m.ClientConfig, m.resolveOptions(opts))
}

// DeleteAllAccessTokensForSubject deletes every access token stored for
// (iss, sub), concurrently.
func (m *Manager) DeleteAllAccessTokensForSubject(ctx context.Context, iss, sub string, opts ...store.Options) error {
	return m.AccessTokens.DeleteAll(ctx, iss, sub, false, m.ClientConfig, m.resolveOptions(opts))
}

// DeleteAllAccessTokensClientCredentials is DeleteAllAccessTokensForSubject
// for client-credentials records.
func (m *Manager) DeleteAllAccessTokensClientCredentials(ctx context.Context, iss, clientID string, opts ...store.Options) error {
	return m.AccessTokens.DeleteAll(ctx, iss, clientID, true, m.ClientConfig, m.resolveOptions(opts))
}

// RevokeAccessToken posts at to the revocation endpoint per RFC 7009.
func (m *Manager) RevokeAccessToken(ctx context.Context, at, iss string, opts ...store.Options) error {
	return m.AccessTokens.Revoke(ctx, at, iss, m.ClientConfig, m.resolveOptions(opts))
}

// RegisterRefreshToken registers a refresh token for iss.
func (m *Manager) RegisterRefreshToken(ctx context.Context, rt string, metadata store.Metadata, iss string) (store.Metadata, error) {
	return m.RefreshTokens.Register(ctx, rt, metadata, iss)
}

// IntrospectRefreshToken returns rt's metadata, freshness-gated by time since
func (m *Manager) IntrospectRefreshToken(ctx context.Context, rt, iss string, opts ...store.Options) (store.Metadata, error) {
	return m.RefreshTokens.Introspect(ctx, rt, iss, m.ClientConfig, m.resolveOptions(opts))
}

// DeleteRefreshToken removes rt, optionally revoking it in the background.
func (m *Manager) DeleteRefreshToken(ctx context.Context, rt, iss string, opts ...store.Options) error {
	return m.RefreshTokens.Delete(ctx, rt, iss, m.ClientConfig, m.resolveOptions(opts))
}

// DeleteAllRefreshTokensForSubject deletes every refresh token stored for
// (iss, sub), concurrently.
func (m *Manager) DeleteAllRefreshTokensForSubject(ctx context.Context, iss, sub string, opts ...store.Options) error {
	return m.RefreshTokens.DeleteAll(ctx, iss, sub, false, m.ClientConfig, m.resolveOptions(opts))
}

// DeleteAllRefreshTokensClientCredentials is
// DeleteAllRefreshTokensForSubject for client-credentials records.
func (m *Manager) DeleteAllRefreshTokensClientCredentials(ctx context.Context, iss, clientID string, opts ...store.Options) error {
	return m.RefreshTokens.DeleteAll(ctx, iss, clientID, true, m.ClientConfig, m.resolveOptions(opts))
}

// RevokeRefreshToken posts rt to the revocation endpoint per RFC 7009.
func (m *Manager) RevokeRefreshToken(ctx context.Context, rt, iss string, opts ...store.Options) error {
	return m.RefreshTokens.Revoke(ctx, rt, iss, m.ClientConfig, m.resolveOptions(opts))
}

// RequestAccessToken performs a refresh-grant exchange directly, bypassing
// AccessToken.Get's cache check. Most callers want GetAccessToken instead.
func (m *Manager) RequestAccessToken(ctx context.Context, iss, sub string, scopes []string, opts ...store.Options) (token, tokenType string, metadata store.Metadata, err error) {
	return m.RefreshTokens.RequestAccessToken(ctx, iss, sub, false, m.ClientConfig, scopes, m.resolveOptions(opts))
}

// RegisterIDToken stores idToken for the subject extracted from its
// unverified payload.
func (m *Manager) RegisterIDToken(ctx context.Context, iss, idToken string) error {
	return m.Claims.RegisterIDToken(ctx, iss, idToken)
}

// GetIDToken is a pure store read of the latest ID token for (iss, sub).
func (m *Manager) GetIDToken(ctx context.Context, iss, sub string) (string, error) {
	return m.Claims.GetIDToken(ctx, iss, sub)
}

// GetClaims returns the merged ID-token/userinfo claims view for (iss, sub),
// for the subject's current access token.
func (m *Manager) GetClaims(ctx context.Context, iss, sub string, opts ...store.Options) (map[string]any, error) {
	return m.Claims.GetClaims(ctx, iss, sub, m.ClientConfig, m.resolveOptions(opts))
}
