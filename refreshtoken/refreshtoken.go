// Package refreshtoken implements the RefreshToken manager (C5): register,
// introspect, delete, revoke, and the refresh-grant exchange that produces a
// new access token from a stored refresh token.
package refreshtoken

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tanguilp/oauth2-token-manager/clientauth"
	"github.com/tanguilp/oauth2-token-manager/endpoint"
	"github.com/tanguilp/oauth2-token-manager/internal/logger"
	"github.com/tanguilp/oauth2-token-manager/oautherr"
	"github.com/tanguilp/oauth2-token-manager/store"
	"github.com/tanguilp/oauth2-token-manager/store/memory"
)

// AccessRegistrar is the AccessToken manager (C4), consumed here only
// through this interface to avoid an import cycle. A successful refresh
// grant registers its new access token through it.
type AccessRegistrar interface {
	Register(ctx context.Context, at, tokenType string, metadata store.Metadata, iss string, clientConf clientauth.Config, opts store.Options) (store.Metadata, error)
}

// IDTokenHandler is the Claims manager (C6), consumed here only through this
// interface. A refresh-grant response carrying an id_token is verified and
// handed to it.
type IDTokenHandler interface {
	// VerifyIDToken checks the signature, issuer and audience of a compact
	// JWS ID token and returns its claims. A verification failure here is
	// fatal to the whole refresh-grant call.
	VerifyIDToken(ctx context.Context, iss string, clientConf clientauth.Config, idToken string) (map[string]any, error)
	RegisterIDToken(ctx context.Context, iss, idToken string) error
}

// Manager implements C5.
type Manager struct {
	Store        store.Store
	Endpoints    *endpoint.Resolver
	AccessTokens AccessRegistrar
	IDTokens     IDTokenHandler
}

// Register stores rt, normalizing its scope.
func (m *Manager) Register(
	ctx context.Context,
	rt string,
	metadata store.Metadata,
	iss string,
) (store.Metadata, error) {
	return m.Store.PutRefreshToken(ctx, rt, memory.NormalizeScope(metadata), iss)
}

// Introspect returns rt's metadata, from cache if fresh enough, otherwise via
// a network call. Does not persist the result.
func (m *Manager) Introspect(
	ctx context.Context,
	rt, iss string,
	clientConf clientauth.Config,
	opts store.Options,
) (store.Metadata, error) {
	opts = opts.WithDefaults()
	rec, err := m.Store.GetRefreshToken(ctx, rt)
	if err != nil {
		return nil, err
	}
	if rec != nil && time.Since(rec.UpdatedAt) < opts.MinIntrospectInterval {
		return rec.Metadata.Clone(), nil
	}
	return m.doIntrospect(ctx, rt, iss, clientConf, opts)
}

func (m *Manager) doIntrospect(
	ctx context.Context,
	rt, iss string,
	clientConf clientauth.Config,
	opts store.Options,
) (store.Metadata, error) {
	client, err := m.Endpoints.HTTPClient(ctx, iss, endpoint.KindIntrospection, clientConf, opts.ServerMetadata)
	if err != nil {
		return nil, err
	}
	introspectionURL, err := m.Endpoints.URL(ctx, iss, endpoint.KindIntrospection, opts.ServerMetadata)
	if err != nil {
		return nil, err
	}

	form := url.Values{"token": {rt}, "token_type_hint": {"refresh_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, introspectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointIntrospection, Reason: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Warnf("introspection request failed for token digest %s: %v", digest(rt), err)
		return nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointIntrospection, Reason: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &oautherr.HTTPStatusError{Endpoint: oautherr.EndpointIntrospection, Status: resp.StatusCode}
	}
	var metadata store.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointIntrospection, Reason: err}
	}
	return memory.NormalizeScope(metadata), nil
}

// Delete removes rt from the store, optionally spawning a best-effort
// background revocation.
func (m *Manager) Delete(
	ctx context.Context,
	rt, iss string,
	clientConf clientauth.Config,
	opts store.Options,
) error {
	opts = opts.WithDefaults()
	if err := m.Store.DeleteRefreshToken(ctx, rt); err != nil {
		return err
	}
	if opts.RevokeOnDelete {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.Revoke(bgCtx, rt, iss, clientConf, opts); err != nil {
				logger.Warnf("background revocation failed for token digest %s: %v", digest(rt), err)
			}
		}()
	}
	return nil
}

// DeleteAll deletes every refresh token stored for (iss, subjectOrClientID),
// concurrently, joining errors.
func (m *Manager) DeleteAll(
	ctx context.Context,
	iss, subjectOrClientID string,
	clientCredentials bool,
	clientConf clientauth.Config,
	opts store.Options,
) error {
	var records []*store.RefreshTokenRecord
	var err error
	if clientCredentials {
		records, err = m.Store.GetRefreshTokensClientCredentials(ctx, iss, subjectOrClientID)
	} else {
		records, err = m.Store.GetRefreshTokensForSubject(ctx, iss, subjectOrClientID)
	}
	if err != nil {
		return err
	}

	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	for _, rec := range records {
		token := rec.Token
		g.Go(func() error {
			if err := m.Delete(ctx, token, iss, clientConf, opts); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("delete %s: %w", digest(token), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("delete_all: %d of %d deletions failed: %w", len(errs), len(records), errors.Join(errs...))
	}
	return nil
}

// Revoke posts rt to the revocation endpoint per RFC 7009.
func (m *Manager) Revoke(
	ctx context.Context,
	rt, iss string,
	clientConf clientauth.Config,
	opts store.Options,
) error {
	client, err := m.Endpoints.HTTPClient(ctx, iss, endpoint.KindRevocation, clientConf, opts.ServerMetadata)
	if err != nil {
		return err
	}
	revocationURL, err := m.Endpoints.URL(ctx, iss, endpoint.KindRevocation, opts.ServerMetadata)
	if err != nil {
		return err
	}

	form := url.Values{"token": {rt}, "token_type_hint": {"refresh_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointRevocation, Reason: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointRevocation, Reason: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &oautherr.HTTPStatusError{Endpoint: oautherr.EndpointRevocation, Status: resp.StatusCode}
	}
	return nil
}

// tokenResponse is the token-endpoint JSON response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    *int64 `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
}

// RequestAccessToken performs the refresh-grant exchange described in
// It selects a stored refresh token whose scope set is a superset of
// scopes, exchanges it at the token endpoint, handles rotation and an
// optional ID token, and registers the resulting access token through
// AccessTokens.
func (m *Manager) RequestAccessToken(
	ctx context.Context,
	iss, subjectOrClientID string,
	clientCredentials bool,
	clientConf clientauth.Config,
	scopes []string,
	opts store.Options,
) (token, tokenType string, metadata store.Metadata, err error) {
	opts = opts.WithDefaults()

	var candidates []*store.RefreshTokenRecord
	if clientCredentials {
		candidates, err = m.Store.GetRefreshTokensClientCredentials(ctx, iss, subjectOrClientID)
	} else {
		candidates, err = m.Store.GetRefreshTokensForSubject(ctx, iss, subjectOrClientID)
	}
	if err != nil {
		return "", "", nil, err
	}

	var chosen *store.RefreshTokenRecord
	for _, rec := range candidates {
		if !store.Valid(rec.Metadata) {
			continue
		}
		if len(scopes) > 0 && !scopeSuperset(rec.Metadata.Scopes(), scopes) {
			continue
		}
		chosen = rec
		break
	}
	if chosen == nil {
		return "", "", nil, oautherr.ErrNoSuitableRefreshTokenFound
	}

	client, err := m.Endpoints.HTTPClient(ctx, iss, endpoint.KindToken, clientConf, opts.ServerMetadata)
	if err != nil {
		return "", "", nil, err
	}
	tokenURL, err := m.Endpoints.URL(ctx, iss, endpoint.KindToken, opts.ServerMetadata)
	if err != nil {
		return "", "", nil, err
	}

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {chosen.Token}}
	if len(scopes) > 0 {
		form.Set("scope", memory.JoinScope(scopes))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointToken, Reason: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", "", nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointToken, Reason: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", nil, &oautherr.HTTPStatusError{Endpoint: oautherr.EndpointToken, Status: resp.StatusCode}
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointToken, Reason: err}
	}
	if body.AccessToken == "" || body.TokenType == "" {
		return "", "", nil, oautherr.ErrIllegalTokenEndpointResponse
	}

	// Rotation is mandatory when the server offers a new refresh token: the
	// consumed one is deleted (with revoke-on-delete semantics) and the new
	// one inherits the consumed token's identifying metadata.
	if body.RefreshToken != "" {
		newMetadata := projectRefreshTokenMetadata(chosen.Metadata)
		if _, err := m.Register(ctx, body.RefreshToken, newMetadata, iss); err != nil {
			return "", "", nil, err
		}
		if err := m.Delete(ctx, chosen.Token, iss, clientConf, opts); err != nil {
			return "", "", nil, err
		}
	}

	// An ID-token verification failure is fatal to the whole call.
	if body.IDToken != "" {
		if m.IDTokens == nil {
			return "", "", nil, fmt.Errorf("refreshtoken: id_token present in response but no ID-token handler configured")
		}
		if _, err := m.IDTokens.VerifyIDToken(ctx, iss, clientConf, body.IDToken); err != nil {
			return "", "", nil, err
		}
		if err := m.IDTokens.RegisterIDToken(ctx, iss, body.IDToken); err != nil {
			return "", "", nil, err
		}
	}

	atMetadata := projectAccessTokenMetadata(chosen.Metadata, body, scopes)
	if m.AccessTokens != nil {
		if stored, err := m.AccessTokens.Register(ctx, body.AccessToken, body.TokenType, atMetadata, iss, clientConf, opts); err == nil {
			atMetadata = stored
		} else {
			return "", "", nil, err
		}
	}

	return body.AccessToken, body.TokenType, atMetadata, nil
}

// projectRefreshTokenMetadata carries the identifying fields of a consumed
// refresh token's metadata over to its rotated replacement.
func projectRefreshTokenMetadata(consumed store.Metadata) store.Metadata {
	out := store.Metadata{}
	for _, k := range []string{"client_id", "username", "sub", "aud", "iss", "scope"} {
		if v, ok := consumed[k]; ok {
			out[k] = v
		}
	}
	return out
}

// projectAccessTokenMetadata builds the new access token's metadata from the
// consumed refresh token's identifying fields, overridden by the token
// response.
func projectAccessTokenMetadata(rtMetadata store.Metadata, body tokenResponse, requestedScopes []string) store.Metadata {
	out := store.Metadata{}
	for _, k := range []string{"client_id", "username", "sub", "aud", "iss"} {
		if v, ok := rtMetadata[k]; ok && v != nil {
			out[k] = v
		}
	}
	if body.ExpiresIn != nil {
		out["exp"] = time.Now().Unix() + *body.ExpiresIn
	}
	if body.Scope != "" {
		out["scope"] = memory.SplitScope(body.Scope)
	} else if len(requestedScopes) > 0 {
		out["scope"] = requestedScopes
	} else if s := rtMetadata.Scopes(); len(s) > 0 {
		out["scope"] = s
	}
	for k, v := range out {
		if v == nil {
			delete(out, k)
		}
	}
	return out
}

func scopeSuperset(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
