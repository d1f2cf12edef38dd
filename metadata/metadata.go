// Package metadata provides the default implementation of the
// authorization-server metadata updater collaborator (endpoint.MetadataSource):
// OIDC/OAuth2 discovery against an issuer's well-known document, cached with
// a configurable TTL.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a discovered document is served from
// cache before being re-fetched.
const DefaultCacheTTL = 5 * time.Minute

// Source discovers and caches OIDC/OAuth2 authorization-server metadata
// documents per RFC 8414 / OIDC Discovery.
type Source struct {
	client *http.Client
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	doc       map[string]any
	fetchedAt time.Time
}

// NewSource constructs a Source. A nil httpClient uses http.DefaultClient;
// a zero ttl uses DefaultCacheTTL.
func NewSource(httpClient *http.Client, ttl time.Duration) *Source {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	return &Source{client: httpClient, ttl: ttl, cache: make(map[string]cacheEntry)}
}

// ServerMetadata implements endpoint.MetadataSource by fetching
// "<issuer>/.well-known/openid-configuration". A cached copy younger than
// ttl is returned without a request; a failed fetch returns an error and
// does not fall back to an expired cached copy.
func (s *Source) ServerMetadata(ctx context.Context, issuer string) (map[string]any, error) {
	s.mu.Lock()
	if entry, ok := s.cache[issuer]; ok && time.Since(entry.fetchedAt) < s.ttl {
		s.mu.Unlock()
		return entry.doc, nil
	}
	s.mu.Unlock()

	wellKnown := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata: build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("metadata: discovery endpoint %s returned status %d", wellKnown, resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("metadata: decode discovery document: %w", err)
	}

	s.mu.Lock()
	s.cache[issuer] = cacheEntry{doc: doc, fetchedAt: time.Now()}
	s.mu.Unlock()

	return doc, nil
}
