// Package memory implements the volatile, concurrent in-memory access-token
// table used by the default LocalStore (C2). Secondary lookups (by subject,
// by client_id) are a full scan with a match predicate: acceptable because
// the number of access tokens cached per process is small.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tanguilp/oauth2-token-manager/store"
)

// AccessTokenTable is a concurrent, read-optimized in-memory keyed table of
// access tokens.
type AccessTokenTable struct {
	mu   sync.RWMutex
	rows map[string]*store.AccessTokenRecord
}

// NewAccessTokenTable returns an empty table.
func NewAccessTokenTable() *AccessTokenTable {
	return &AccessTokenTable{rows: make(map[string]*store.AccessTokenRecord)}
}

// Get returns the record for at, or nil if absent.
func (t *AccessTokenTable) Get(_ context.Context, at string) (*store.AccessTokenRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.rows[at]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// GetForSubject scans for every record matching (iss, sub).
func (t *AccessTokenTable) GetForSubject(_ context.Context, iss, sub string) ([]*store.AccessTokenRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*store.AccessTokenRecord
	for _, rec := range t.rows {
		if rec.Issuer != iss {
			continue
		}
		if s, ok := rec.Metadata.Subject(); ok && s == sub {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

// GetClientCredentials scans for every record matching (iss, clientID) that
// carries no subject.
func (t *AccessTokenTable) GetClientCredentials(_ context.Context, iss, clientID string) ([]*store.AccessTokenRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*store.AccessTokenRecord
	for _, rec := range t.rows {
		if rec.Issuer != iss {
			continue
		}
		if _, hasSub := rec.Metadata.Subject(); hasSub {
			continue
		}
		if cid, ok := rec.Metadata.ClientID(); ok && cid == clientID {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

// Put writes or overwrites the record for at, normalizing scope and
// stamping UpdatedAt.
func (t *AccessTokenTable) Put(_ context.Context, at, tokenType string, metadata store.Metadata, iss string) (store.Metadata, error) {
	normalized := NormalizeScope(metadata)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[at] = &store.AccessTokenRecord{
		Token:     at,
		Issuer:    iss,
		TokenType: tokenType,
		Metadata:  normalized,
		UpdatedAt: time.Now(),
	}
	return normalized.Clone(), nil
}

// Delete removes the record for at. Deleting an absent token is not an
// error.
func (t *AccessTokenTable) Delete(_ context.Context, at string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, at)
	return nil
}

// Evict removes every record whose "exp" has passed, returning the count
// removed.
func (t *AccessTokenTable) Evict(_ context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	now := time.Now().Unix()
	for key, rec := range t.rows {
		exp, ok := rec.Metadata["exp"]
		if !ok {
			continue
		}
		expF, ok := toFloat(exp)
		if ok && expF < float64(now) {
			delete(t.rows, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of rows currently stored, for tests.
func (t *AccessTokenTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func cloneRecord(rec *store.AccessTokenRecord) *store.AccessTokenRecord {
	cp := *rec
	cp.Metadata = rec.Metadata.Clone()
	return &cp
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// NormalizeScope returns a copy of metadata with a space-delimited "scope"
// string converted to a []string. A []any "scope" is converted to a
// []string of its string elements; a []string "scope", or an absent one,
// passes through unchanged.
func NormalizeScope(metadata store.Metadata) store.Metadata {
	out := metadata.Clone()
	if out == nil {
		out = store.Metadata{}
	}
	switch v := out["scope"].(type) {
	case string:
		out["scope"] = SplitScope(v)
	case []any:
		ss := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				ss = append(ss, str)
			}
		}
		out["scope"] = ss
	}
	return out
}

// SplitScope splits a space-delimited scope string into its components,
// dropping empty fields produced by repeated whitespace.
func SplitScope(scope string) []string {
	var out []string
	start := -1
	for i, r := range scope {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				out = append(out, scope[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, scope[start:])
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// JoinScope re-serializes a scope set for the wire.
func JoinScope(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
