package local

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanguilp/oauth2-token-manager/store"
)

func openTestStore(t *testing.T, cleanupInterval time.Duration) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		DBPath:          filepath.Join(t.TempDir(), "tokens.db"),
		CleanupInterval: cleanupInterval,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestLocalStore_AccessTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, time.Hour)
	at := uuid.NewString()

	_, err := s.PutAccessToken(ctx, at, "Bearer", store.Metadata{"sub": "u1"}, "iss")
	require.NoError(t, err)

	rec, err := s.GetAccessToken(ctx, at)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Bearer", rec.TokenType)
}

func TestLocalStore_RefreshTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, time.Hour)
	rt := uuid.NewString()

	_, err := s.PutRefreshToken(ctx, rt, store.Metadata{"sub": "u1"}, "iss")
	require.NoError(t, err)

	rec, err := s.GetRefreshToken(ctx, rt)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "iss", rec.Issuer)
}

func TestLocalStore_AccessTokensNeverPersistedToDisk(t *testing.T) {
	// Access tokens live only in the in-memory table: a second Store opened
	// on the same DB file after the first is stopped does not see them.
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.db")
	s, err := Open(ctx, Options{DBPath: path, CleanupInterval: time.Hour})
	require.NoError(t, err)
	_, err = s.PutAccessToken(ctx, "at-1", "Bearer", store.Metadata{"sub": "u1"}, "iss")
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx))

	reopened, err := Open(ctx, Options{DBPath: path, CleanupInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Stop(context.Background()) })
	rec, err := reopened.GetAccessToken(ctx, "at-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLocalStore_StartStop_EvictsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 20*time.Millisecond)
	require.NoError(t, s.Start(ctx))

	at := uuid.NewString()
	_, err := s.PutAccessToken(ctx, at, "Bearer", store.Metadata{"exp": float64(1)}, "iss")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rec, err := s.GetAccessToken(ctx, at)
		return err == nil && rec == nil
	}, time.Second, 10*time.Millisecond)
}

func TestLocalStore_Stop_IsIdempotent(t *testing.T) {
	s := openTestStore(t, time.Hour)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestLocalStore_ClaimsAndIDTokenCoexist(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, time.Hour)
	iss, sub := "iss", uuid.NewString()

	require.NoError(t, s.PutIDToken(ctx, iss, sub, "h.p.s"))
	require.NoError(t, s.PutClaims(ctx, iss, sub, map[string]any{"email": "a@example.com"}))

	idToken, err := s.GetIDToken(ctx, iss, sub)
	require.NoError(t, err)
	assert.Equal(t, "h.p.s", idToken)

	rec, err := s.GetClaims(ctx, iss, sub)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", rec.Claims["email"])
}
