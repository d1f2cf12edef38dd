package claims

import (
	"context"
	"sync"
	"time"

	"github.com/tanguilp/oauth2-token-manager/store"
)

// fakeStore implements store.Store against plain maps, sufficient for
// exercising the claims manager without a real access/refresh-token table.
type fakeStore struct {
	mu     sync.Mutex
	claims map[string]*store.ClaimsRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{claims: map[string]*store.ClaimsRecord{}}
}

func claimsKey(iss, sub string) string { return iss + "|" + sub }

func (f *fakeStore) GetAccessToken(context.Context, string) (*store.AccessTokenRecord, error) {
	return nil, nil
}
func (f *fakeStore) GetAccessTokensForSubject(context.Context, string, string) ([]*store.AccessTokenRecord, error) {
	return nil, nil
}
func (f *fakeStore) GetAccessTokensClientCredentials(context.Context, string, string) ([]*store.AccessTokenRecord, error) {
	return nil, nil
}
func (f *fakeStore) PutAccessToken(_ context.Context, at, tokenType string, metadata store.Metadata, iss string) (store.Metadata, error) {
	return metadata, nil
}
func (f *fakeStore) DeleteAccessToken(context.Context, string) error { return nil }

func (f *fakeStore) GetRefreshToken(context.Context, string) (*store.RefreshTokenRecord, error) {
	return nil, nil
}
func (f *fakeStore) GetRefreshTokensForSubject(context.Context, string, string) ([]*store.RefreshTokenRecord, error) {
	return nil, nil
}
func (f *fakeStore) GetRefreshTokensClientCredentials(context.Context, string, string) ([]*store.RefreshTokenRecord, error) {
	return nil, nil
}
func (f *fakeStore) PutRefreshToken(_ context.Context, rt string, metadata store.Metadata, iss string) (store.Metadata, error) {
	return metadata, nil
}
func (f *fakeStore) DeleteRefreshToken(context.Context, string) error { return nil }

func (f *fakeStore) GetClaims(_ context.Context, iss, sub string) (*store.ClaimsRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[claimsKey(iss, sub)], nil
}

func (f *fakeStore) PutClaims(_ context.Context, iss, sub string, claims map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := claimsKey(iss, sub)
	rec, ok := f.claims[key]
	if !ok {
		rec = &store.ClaimsRecord{}
		f.claims[key] = rec
	}
	rec.Claims = claims
	rec.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) GetIDToken(_ context.Context, iss, sub string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.claims[claimsKey(iss, sub)]
	if !ok {
		return "", nil
	}
	return rec.IDToken, nil
}

func (f *fakeStore) PutIDToken(_ context.Context, iss, sub, idToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := claimsKey(iss, sub)
	rec, ok := f.claims[key]
	if !ok {
		rec = &store.ClaimsRecord{}
		f.claims[key] = rec
	}
	rec.IDToken = idToken
	return nil
}

var _ store.Store = (*fakeStore)(nil)
