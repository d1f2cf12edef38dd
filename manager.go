// Package oauth2tokenmanager is the client-side entry point of the token
// manager: it wires the access-token, refresh-token and claims managers
// (C4-C6) against a Store (C1) and an endpoint Resolver (C3), and exposes
// their operations as a single façade.
package oauth2tokenmanager

import (
	"context"
	"net/http"

	"github.com/tanguilp/oauth2-token-manager/accesstoken"
	"github.com/tanguilp/oauth2-token-manager/claims"
	"github.com/tanguilp/oauth2-token-manager/clientauth"
	"github.com/tanguilp/oauth2-token-manager/endpoint"
	"github.com/tanguilp/oauth2-token-manager/jose"
	"github.com/tanguilp/oauth2-token-manager/jwks"
	"github.com/tanguilp/oauth2-token-manager/metadata"
	"github.com/tanguilp/oauth2-token-manager/refreshtoken"
	"github.com/tanguilp/oauth2-token-manager/store"
)

// Config configures a Manager.
type Config struct {
	// Store is the persistence backend (C1). Required.
	Store store.Store

	// ClientConfig is this confidential client's own credentials and JOSE
	// parameters, used for every operation unless overridden per call.
	ClientConfig clientauth.Config

	// DefaultOptions becomes Manager.DefaultOptions, the option set used
	// when the caller has not built its own. Defaults to
	// store.DefaultOptions().
	DefaultOptions store.Options

	// Metadata resolves issuer -> server metadata document. Defaults to a
	// metadata.Source performing OIDC discovery.
	Metadata endpoint.MetadataSource

	// JWKS resolves jwks_uri -> JWK set. Defaults to a jwks.Source with
	// background auto-refresh.
	JWKS jose.JWKSSource

	// Verifier and Decrypter implement JWS verification and JWE decryption.
	// Default to jose.DefaultVerifier{} and jose.DefaultDecrypter{}.
	Verifier  jose.Verifier
	Decrypter jose.Decrypter

	// HTTPClient supplies the innermost transport used by the endpoint
	// resolver, and is also used for metadata/JWKS discovery when those are
	// left at their defaults. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// GlobalMiddlewares and UserMiddlewares are forwarded to the endpoint
	// resolver (C3); see endpoint.Resolver.
	GlobalMiddlewares []clientauth.Middleware
	UserMiddlewares   []clientauth.Middleware
}

// Manager is the token-management façade: the wired-together combination of
// the AccessToken (C4), RefreshToken (C5) and Claims (C6) managers, plus the
// client configuration and default options every operation is invoked with
// unless the caller overrides them.
type Manager struct {
	AccessTokens  *accesstoken.Manager
	RefreshTokens *refreshtoken.Manager
	Claims        *claims.Manager

	ClientConfig   clientauth.Config
	DefaultOptions store.Options
}

// New wires a Manager from cfg. The three managers reference each other —
// C4 delegates cache misses to C5, C5 registers through C4 and C6, C6 pulls
// a bearer token from C4 — which Go's struct-literal-then-assign idiom
// handles without a constructor cycle: allocate every manager first, then
// cross-wire the interface fields.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		panic("oauth2tokenmanager: Config.Store is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	metadataSource := cfg.Metadata
	if metadataSource == nil {
		metadataSource = metadata.NewSource(httpClient, 0)
	}

	jwksSource := cfg.JWKS
	if jwksSource == nil {
		src, err := jwks.NewSource(ctx, httpClient)
		if err != nil {
			return nil, err
		}
		jwksSource = src
	}

	verifier := cfg.Verifier
	if verifier == nil {
		verifier = jose.DefaultVerifier{}
	}
	decrypter := cfg.Decrypter
	if decrypter == nil {
		decrypter = jose.DefaultDecrypter{}
	}

	resolver := &endpoint.Resolver{
		Metadata:          metadataSource,
		GlobalMiddlewares: cfg.GlobalMiddlewares,
		UserMiddlewares:   cfg.UserMiddlewares,
		Transport:         httpClient.Transport,
	}

	// Options is not comparable to its zero value (it carries map fields),
	// so an all-zero DefaultOptions — the natural result of an omitted
	// field in a Config literal — is treated as "use the library
	// defaults", same ambiguity WithDefaults already documents for bools.
	defaultOpts := cfg.DefaultOptions
	if defaultOpts.MinIntrospectInterval == 0 && defaultOpts.MinUserinfoRefreshInterval == 0 &&
		!defaultOpts.AutoIntrospect && !defaultOpts.RevokeOnDelete {
		defaultOpts = store.DefaultOptions()
	}
	defaultOpts = defaultOpts.WithDefaults()

	atMgr := &accesstoken.Manager{Store: cfg.Store, Endpoints: resolver}
	rtMgr := &refreshtoken.Manager{Store: cfg.Store, Endpoints: resolver}
	clMgr := &claims.Manager{
		Store:      cfg.Store,
		Endpoints:  resolver,
		Verifier:   verifier,
		Decrypter:  decrypter,
		JWKSSource: jwksSource,
	}

	atMgr.Refresh = rtMgr
	rtMgr.AccessTokens = atMgr
	rtMgr.IDTokens = clMgr
	clMgr.AccessTokens = atMgr

	return &Manager{
		AccessTokens:   atMgr,
		RefreshTokens:  rtMgr,
		Claims:         clMgr,
		ClientConfig:   cfg.ClientConfig,
		DefaultOptions: defaultOpts,
	}, nil
}
