// Package accesstoken implements the AccessToken manager (C4): register,
// freshness-gated introspect, select-or-acquire, delete and revoke for
// access tokens.
package accesstoken

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
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

// Refresher is the RefreshToken manager (C5), consumed here only through
// this interface to avoid an import cycle between the two packages. Get
// delegates to it on a cache miss.
type Refresher interface {
	RequestAccessToken(ctx context.Context, iss, subjectOrClientID string, clientCredentials bool, clientConf clientauth.Config, scopes []string, opts store.Options) (token, tokenType string, metadata store.Metadata, err error)
}

// Manager implements C4 against a Store, an endpoint Resolver, and a
// Refresher for cache-miss delegation.
type Manager struct {
	Store     store.Store
	Endpoints *endpoint.Resolver
	Refresh   Refresher
}

// Register stores at. If opts.AutoIntrospect is set, or metadata carries no
// "sub", the stored metadata is replaced by a fresh introspection response;
// otherwise metadata is used as given, with scope normalized.
func (m *Manager) Register(
	ctx context.Context,
	at, tokenType string,
	metadata store.Metadata,
	iss string,
	clientConf clientauth.Config,
	opts store.Options,
) (store.Metadata, error) {
	_, hasSub := metadata.Subject()
	if opts.AutoIntrospect || !hasSub {
		introspected, err := m.doIntrospect(ctx, at, iss, clientConf, opts)
		if err != nil {
			return nil, err
		}
		metadata = introspected
	} else {
		metadata = memory.NormalizeScope(metadata)
	}
	return m.Store.PutAccessToken(ctx, at, tokenType, metadata, iss)
}

// Introspect returns at's metadata, from cache if the last update is
// younger than opts.MinIntrospectInterval, otherwise via a fresh network
// call. It does not persist the result — callers that want the refreshed
// metadata stored must call Register.
func (m *Manager) Introspect(
	ctx context.Context,
	at, iss string,
	clientConf clientauth.Config,
	opts store.Options,
) (store.Metadata, error) {
	opts = opts.WithDefaults()
	rec, err := m.Store.GetAccessToken(ctx, at)
	if err != nil {
		return nil, err
	}
	if rec != nil && time.Since(rec.UpdatedAt) < opts.MinIntrospectInterval {
		return rec.Metadata.Clone(), nil
	}
	return m.doIntrospect(ctx, at, iss, clientConf, opts)
}

func (m *Manager) doIntrospect(
	ctx context.Context,
	at, iss string,
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

	form := url.Values{"token": {at}, "token_type_hint": {"access_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, introspectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointIntrospection, Reason: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Warnf("introspection request failed for token digest %s: %v", digest(at), err)
		return nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointIntrospection, Reason: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warnf("introspection endpoint returned status %d for token digest %s", resp.StatusCode, digest(at))
		return nil, &oautherr.HTTPStatusError{Endpoint: oautherr.EndpointIntrospection, Status: resp.StatusCode}
	}

	var metadata store.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointIntrospection, Reason: err}
	}
	return memory.NormalizeScope(metadata), nil
}

// Get returns a valid access token for (iss, subjectOrClientID), preferring
// a cached token whose scope set exactly equals requestedScopes (when
// non-empty), and falling back to a refresh-grant via Refresh on a miss.
func (m *Manager) Get(
	ctx context.Context,
	iss, subjectOrClientID string,
	clientCredentials bool,
	clientConf clientauth.Config,
	requestedScopes []string,
	opts store.Options,
) (token, tokenType string, err error) {
	opts = opts.WithDefaults()

	var candidates []*store.AccessTokenRecord
	if clientCredentials {
		candidates, err = m.Store.GetAccessTokensClientCredentials(ctx, iss, subjectOrClientID)
	} else {
		candidates, err = m.Store.GetAccessTokensForSubject(ctx, iss, subjectOrClientID)
	}
	if err != nil {
		return "", "", err
	}

	for _, rec := range candidates {
		if !store.Valid(rec.Metadata) {
			continue
		}
		if len(requestedScopes) > 0 && !scopeSetEqual(rec.Metadata.Scopes(), requestedScopes) {
			continue
		}
		return rec.Token, rec.TokenType, nil
	}

	if m.Refresh == nil {
		return "", "", oautherr.ErrNoSuitableAccessTokenFound
	}
	at, tt, _, err := m.Refresh.RequestAccessToken(ctx, iss, subjectOrClientID, clientCredentials, clientConf, requestedScopes, opts)
	if err != nil {
		return "", "", oautherr.ErrNoSuitableAccessTokenFound
	}
	return at, tt, nil
}

// Delete removes at from the store. If opts.RevokeOnDelete, a best-effort
// background revocation is spawned and not awaited; its result is discarded.
func (m *Manager) Delete(
	ctx context.Context,
	at, iss string,
	clientConf clientauth.Config,
	opts store.Options,
) error {
	opts = opts.WithDefaults()
	if err := m.Store.DeleteAccessToken(ctx, at); err != nil {
		return err
	}
	if opts.RevokeOnDelete {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.Revoke(bgCtx, at, iss, clientConf, opts); err != nil {
				logger.Warnf("background revocation failed for token digest %s: %v", digest(at), err)
			}
		}()
	}
	return nil
}

// DeleteAll deletes every access token stored for (iss, subjectOrClientID),
// concurrently. It returns a joined error if any deletion failed, nil if
// every one succeeded.
func (m *Manager) DeleteAll(
	ctx context.Context,
	iss, subjectOrClientID string,
	clientCredentials bool,
	clientConf clientauth.Config,
	opts store.Options,
) error {
	var records []*store.AccessTokenRecord
	var err error
	if clientCredentials {
		records, err = m.Store.GetAccessTokensClientCredentials(ctx, iss, subjectOrClientID)
	} else {
		records, err = m.Store.GetAccessTokensForSubject(ctx, iss, subjectOrClientID)
	}
	if err != nil {
		return err
	}

	// Fan out one goroutine per matched token, joined with errgroup.Wait;
	// partial failure collects every error rather than just the first, per
	// the delete_all contract.
	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	for _, rec := range records {
		token := rec.Token
		g.Go(func() error {
			// The full (token, iss, client_conf, opts) 4-tuple is passed
			// through here, not a 3-tuple missing iss.
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

// Revoke posts at to the revocation endpoint per RFC 7009.
func (m *Manager) Revoke(
	ctx context.Context,
	at, iss string,
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

	form := url.Values{"token": {at}, "token_type_hint": {"access_token"}}
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

// scopeSetEqual reports whether a and b contain the same strings,
// regardless of order or duplicates.
func scopeSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
