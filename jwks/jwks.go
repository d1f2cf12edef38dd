// Package jwks provides the default implementation of the signing-key-set
// updater collaborator (jose.JWKSSource): it resolves a jwks_uri to a JWK
// set, with background auto-refresh and lazy per-URL registration.
package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	josepkg "github.com/go-jose/go-jose/v4"
)

// Source is a jose.JWKSSource backed by a lestrrat-go/jwx auto-refreshing
// cache. Each distinct jwks_uri is registered with the cache on first use;
// subsequent calls are served from the cache without a network round trip
// unless the cached set has expired.
type Source struct {
	client *http.Client
	cache  *jwk.Cache

	mu           sync.Mutex
	registered   map[string]error
	registeredOK map[string]bool
}

// NewSource constructs a Source using httpClient for both the httprc
// transport and registration timeouts. A nil httpClient uses
// http.DefaultClient.
func NewSource(ctx context.Context, httpClient *http.Client) (*Source, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("jwks: create cache: %w", err)
	}
	return &Source{
		client:       httpClient,
		cache:        cache,
		registered:   make(map[string]error),
		registeredOK: make(map[string]bool),
	}, nil
}

// JWKS implements jose.JWKSSource.
func (s *Source) JWKS(ctx context.Context, jwksURI string) (*josepkg.JSONWebKeySet, error) {
	if err := s.ensureRegistered(ctx, jwksURI); err != nil {
		return nil, err
	}
	set, err := s.cache.Get(ctx, jwksURI)
	if err != nil {
		return nil, fmt.Errorf("jwks: fetch %s: %w", jwksURI, err)
	}
	return toGoJose(set)
}

func (s *Source) ensureRegistered(ctx context.Context, jwksURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registeredOK[jwksURI] {
		return s.registered[jwksURI]
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.cache.Register(registrationCtx, jwksURI)
	if err != nil {
		err = fmt.Errorf("jwks: register %s: %w", jwksURI, err)
	}
	s.registered[jwksURI] = err
	s.registeredOK[jwksURI] = true
	return err
}

// toGoJose round-trips a jwx jwk.Set through its JSON representation into a
// go-jose JSONWebKeySet, since the verify/decrypt collaborators in package
// jose are built against go-jose.
func toGoJose(set jwk.Set) (*josepkg.JSONWebKeySet, error) {
	raw, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("jwks: marshal key set: %w", err)
	}
	var out josepkg.JSONWebKeySet
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("jwks: decode key set: %w", err)
	}
	return &out, nil
}
