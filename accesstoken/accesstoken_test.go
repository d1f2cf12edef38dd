package accesstoken_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanguilp/oauth2-token-manager/accesstoken"
	"github.com/tanguilp/oauth2-token-manager/clientauth"
	"github.com/tanguilp/oauth2-token-manager/endpoint"
	"github.com/tanguilp/oauth2-token-manager/oautherr"
	"github.com/tanguilp/oauth2-token-manager/store"
)

func newManager(t *testing.T, metadata map[string]any) (*accesstoken.Manager, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	return &accesstoken.Manager{
		Store:     fs,
		Endpoints: &endpoint.Resolver{},
	}, fs
}

func optsWithMetadata(m map[string]any) store.Options {
	o := store.DefaultOptions()
	o.ServerMetadata = m
	return o
}

func TestRegister_KeepsGivenMetadataWhenSubPresentAndAutoIntrospectOff(t *testing.T) {
	mgr, _ := newManager(t, nil)
	opts := store.DefaultOptions()
	opts.AutoIntrospect = false

	stored, err := mgr.Register(context.Background(), "at-1", "Bearer", store.Metadata{"sub": "u1", "scope": "a b"}, "iss", clientauth.Config{}, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stored["scope"])
}

func TestRegister_IntrospectsWhenSubMissing(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		require.Equal(t, http.MethodPost, r.Method)
		_ = r.ParseForm()
		assert.Equal(t, "at-1", r.FormValue("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":true,"sub":"introspected-user","scope":"x y"}`))
	}))
	defer srv.Close()

	mgr, _ := newManager(t, nil)
	opts := optsWithMetadata(map[string]any{"introspection_endpoint": srv.URL})

	stored, err := mgr.Register(context.Background(), "at-1", "Bearer", store.Metadata{}, "iss", clientauth.Config{}, opts)
	require.NoError(t, err)
	assert.True(t, hit)
	sub, ok := stored.Subject()
	require.True(t, ok)
	assert.Equal(t, "introspected-user", sub)
	assert.Equal(t, []string{"x", "y"}, stored.Scopes())
}

func TestRegister_AutoIntrospectTrueOverridesSuppliedSub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":true,"sub":"from-server"}`))
	}))
	defer srv.Close()

	mgr, _ := newManager(t, nil)
	opts := optsWithMetadata(map[string]any{"introspection_endpoint": srv.URL})
	opts.AutoIntrospect = true

	stored, err := mgr.Register(context.Background(), "at-1", "Bearer", store.Metadata{"sub": "caller-supplied"}, "iss", clientauth.Config{}, opts)
	require.NoError(t, err)
	sub, _ := stored.Subject()
	assert.Equal(t, "from-server", sub)
}

func TestIntrospect_ReturnsCachedWithinFreshnessWindow(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":true,"sub":"u1"}`))
	}))
	defer srv.Close()

	mgr, fs := newManager(t, nil)
	opts := optsWithMetadata(map[string]any{"introspection_endpoint": srv.URL})
	opts.MinIntrospectInterval = time.Minute

	_, err := mgr.Register(context.Background(), "at-1", "Bearer", store.Metadata{"sub": "u1"}, "iss", clientauth.Config{}, func() store.Options {
		o := opts
		o.AutoIntrospect = false
		return o
	}())
	require.NoError(t, err)

	_, err = fs.at.Get(context.Background(), "at-1")
	require.NoError(t, err)

	metadata, err := mgr.Introspect(context.Background(), "at-1", "iss", clientauth.Config{}, opts)
	require.NoError(t, err)
	assert.Equal(t, "u1", mustSubject(t, metadata))
	assert.Equal(t, 0, hits, "cached response within freshness window must not hit the network")
}

func TestIntrospect_RefetchesAfterWindowExpires(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":true,"sub":"u1"}`))
	}))
	defer srv.Close()

	mgr, _ := newManager(t, nil)
	opts := optsWithMetadata(map[string]any{"introspection_endpoint": srv.URL})
	opts.MinIntrospectInterval = time.Millisecond

	noAuto := opts
	noAuto.AutoIntrospect = false
	_, err := mgr.Register(context.Background(), "at-1", "Bearer", store.Metadata{"sub": "u1"}, "iss", clientauth.Config{}, noAuto)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = mgr.Introspect(context.Background(), "at-1", "iss", clientauth.Config{}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func mustSubject(t *testing.T, m store.Metadata) string {
	t.Helper()
	sub, ok := m.Subject()
	require.True(t, ok)
	return sub
}

func TestGet_ReturnsCachedTokenOnExactScopeMatch(t *testing.T) {
	mgr, _ := newManager(t, nil)
	far := float64(time.Now().Add(time.Hour).Unix())
	_, err := mgr.Register(context.Background(), "at-1", "Bearer", store.Metadata{"sub": "u1", "scope": "a b", "exp": far}, "iss", clientauth.Config{}, store.Options{AutoIntrospect: false})
	require.NoError(t, err)

	token, tt, err := mgr.Get(context.Background(), "iss", "u1", false, clientauth.Config{}, []string{"b", "a"}, store.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "at-1", token)
	assert.Equal(t, "Bearer", tt)
}

func TestGet_SkipsExpiredCandidateAndFallsBackToRefresher(t *testing.T) {
	mgr, _ := newManager(t, nil)
	expired := float64(time.Now().Add(-time.Hour).Unix())
	_, err := mgr.Register(context.Background(), "at-1", "Bearer", store.Metadata{"sub": "u1", "exp": expired}, "iss", clientauth.Config{}, store.Options{AutoIntrospect: false})
	require.NoError(t, err)

	mgr.Refresh = fakeRefresherFunc(func(ctx context.Context, iss, sub string, cc bool, conf clientauth.Config, scopes []string, opts store.Options) (string, string, store.Metadata, error) {
		return "fresh-at", "Bearer", store.Metadata{"sub": sub}, nil
	})

	token, tt, err := mgr.Get(context.Background(), "iss", "u1", false, clientauth.Config{}, nil, store.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "fresh-at", token)
	assert.Equal(t, "Bearer", tt)
}

func TestGet_NoRefresherReturnsErrNoSuitableAccessTokenFound(t *testing.T) {
	mgr, _ := newManager(t, nil)
	_, _, err := mgr.Get(context.Background(), "iss", "u1", false, clientauth.Config{}, nil, store.DefaultOptions())
	assert.ErrorIs(t, err, oautherr.ErrNoSuitableAccessTokenFound)
}

func TestGet_RefresherFailureReturnsErrNoSuitableAccessTokenFound(t *testing.T) {
	mgr, _ := newManager(t, nil)
	mgr.Refresh = fakeRefresherFunc(func(ctx context.Context, iss, sub string, cc bool, conf clientauth.Config, scopes []string, opts store.Options) (string, string, store.Metadata, error) {
		return "", "", nil, assertErr
	})
	_, _, err := mgr.Get(context.Background(), "iss", "u1", false, clientauth.Config{}, nil, store.DefaultOptions())
	assert.ErrorIs(t, err, oautherr.ErrNoSuitableAccessTokenFound)
}

func TestDelete_RemovesRecordAndRevokesInBackground(t *testing.T) {
	revoked := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		revoked <- r.FormValue("token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr, fs := newManager(t, nil)
	opts := optsWithMetadata(map[string]any{"revocation_endpoint": srv.URL})
	opts.AutoIntrospect = false
	_, err := mgr.Register(context.Background(), "at-1", "Bearer", store.Metadata{"sub": "u1"}, "iss", clientauth.Config{}, opts)
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(context.Background(), "at-1", "iss", clientauth.Config{}, opts))

	rec, err := fs.at.Get(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	select {
	case got := <-revoked:
		assert.Equal(t, "at-1", got)
	case <-time.After(time.Second):
		t.Fatal("background revocation was never observed")
	}
}

func TestDelete_SkipsRevocationWhenDisabled(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr, _ := newManager(t, nil)
	opts := optsWithMetadata(map[string]any{"revocation_endpoint": srv.URL})
	opts.AutoIntrospect = false
	opts.RevokeOnDelete = false
	_, err := mgr.Register(context.Background(), "at-1", "Bearer", store.Metadata{"sub": "u1"}, "iss", clientauth.Config{}, opts)
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(context.Background(), "at-1", "iss", clientauth.Config{}, opts))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, hit)
}

func TestDeleteAll_DeletesEveryMatchingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr, fs := newManager(t, nil)
	opts := optsWithMetadata(map[string]any{"revocation_endpoint": srv.URL})
	opts.AutoIntrospect = false

	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		_, err := mgr.Register(context.Background(), id, "Bearer", store.Metadata{"sub": "u1"}, "iss", clientauth.Config{}, opts)
		require.NoError(t, err)
	}

	require.NoError(t, mgr.DeleteAll(context.Background(), "iss", "u1", false, clientauth.Config{}, opts))

	for _, id := range ids {
		rec, err := fs.at.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
}

func TestRevoke_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	mgr, _ := newManager(t, nil)
	opts := optsWithMetadata(map[string]any{"revocation_endpoint": srv.URL})

	err := mgr.Revoke(context.Background(), "at-1", "iss", clientauth.Config{}, opts)
	var statusErr *oautherr.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
}

func TestRevoke_TransportFailureIsAnError(t *testing.T) {
	mgr, _ := newManager(t, nil)
	opts := optsWithMetadata(map[string]any{"revocation_endpoint": "http://127.0.0.1:1/revoke"})

	err := mgr.Revoke(context.Background(), "at-1", "iss", clientauth.Config{}, opts)
	var reqErr *oautherr.HTTPRequestError
	assert.ErrorAs(t, err, &reqErr)
}

func TestRevoke_MissingEndpointIsAnError(t *testing.T) {
	mgr, _ := newManager(t, nil)
	err := mgr.Revoke(context.Background(), "at-1", "iss", clientauth.Config{}, store.DefaultOptions())
	var missing *oautherr.MissingServerMetadata
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "revocation_endpoint", missing.Field)
}

var assertErr = &sentinel{}

type sentinel struct{}

func (s *sentinel) Error() string { return "boom" }

type fakeRefresherFunc func(ctx context.Context, iss, subjectOrClientID string, clientCredentials bool, clientConf clientauth.Config, scopes []string, opts store.Options) (string, string, store.Metadata, error)

func (f fakeRefresherFunc) RequestAccessToken(ctx context.Context, iss, subjectOrClientID string, clientCredentials bool, clientConf clientauth.Config, scopes []string, opts store.Options) (string, string, store.Metadata, error) {
	return f(ctx, iss, subjectOrClientID, clientCredentials, clientConf, scopes, opts)
}
