package refreshtoken_test

import (
	"context"
	"sync"
	"time"

	"github.com/tanguilp/oauth2-token-manager/store"
	"github.com/tanguilp/oauth2-token-manager/store/memory"
)

// fakeStore is a minimal in-memory store.Store used to unit-test the
// RefreshToken manager without pulling in the SQLite-backed default. Access
// tokens are kept in a real memory.AccessTokenTable since tests assert on
// what RequestAccessToken registers through it.
type fakeStore struct {
	at *memory.AccessTokenTable

	mu  sync.Mutex
	rts map[string]*store.RefreshTokenRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{at: memory.NewAccessTokenTable(), rts: map[string]*store.RefreshTokenRecord{}}
}

func (f *fakeStore) GetAccessToken(ctx context.Context, at string) (*store.AccessTokenRecord, error) {
	return f.at.Get(ctx, at)
}
func (f *fakeStore) GetAccessTokensForSubject(ctx context.Context, iss, sub string) ([]*store.AccessTokenRecord, error) {
	return f.at.GetForSubject(ctx, iss, sub)
}
func (f *fakeStore) GetAccessTokensClientCredentials(ctx context.Context, iss, clientID string) ([]*store.AccessTokenRecord, error) {
	return f.at.GetClientCredentials(ctx, iss, clientID)
}
func (f *fakeStore) PutAccessToken(ctx context.Context, at, tokenType string, metadata store.Metadata, iss string) (store.Metadata, error) {
	return f.at.Put(ctx, at, tokenType, metadata, iss)
}
func (f *fakeStore) DeleteAccessToken(ctx context.Context, at string) error {
	return f.at.Delete(ctx, at)
}

func (f *fakeStore) GetRefreshToken(_ context.Context, rt string) (*store.RefreshTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rts[rt], nil
}
func (f *fakeStore) GetRefreshTokensForSubject(_ context.Context, iss, sub string) ([]*store.RefreshTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.RefreshTokenRecord
	for _, r := range f.rts {
		if r.Issuer == iss {
			if s, ok := r.Metadata.Subject(); ok && s == sub {
				out = append(out, r)
			}
		}
	}
	return out, nil
}
func (f *fakeStore) GetRefreshTokensClientCredentials(_ context.Context, iss, clientID string) ([]*store.RefreshTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.RefreshTokenRecord
	for _, r := range f.rts {
		if r.Issuer != iss {
			continue
		}
		if _, hasSub := r.Metadata.Subject(); hasSub {
			continue
		}
		if cid, ok := r.Metadata.ClientID(); ok && cid == clientID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeStore) PutRefreshToken(_ context.Context, rt string, metadata store.Metadata, iss string) (store.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	normalized := memory.NormalizeScope(metadata)
	f.rts[rt] = &store.RefreshTokenRecord{Token: rt, Issuer: iss, Metadata: normalized, UpdatedAt: time.Now()}
	return normalized, nil
}
func (f *fakeStore) DeleteRefreshToken(_ context.Context, rt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rts, rt)
	return nil
}

func (f *fakeStore) GetClaims(context.Context, string, string) (*store.ClaimsRecord, error) { return nil, nil }
func (f *fakeStore) PutClaims(context.Context, string, string, map[string]any) error        { return nil }
func (f *fakeStore) GetIDToken(context.Context, string, string) (string, error)             { return "", nil }
func (f *fakeStore) PutIDToken(context.Context, string, string, string) error               { return nil }

var _ store.Store = (*fakeStore)(nil)
