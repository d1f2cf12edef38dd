// Package local implements LocalStore (C2), the default in-process Store:
// access tokens live in a volatile in-memory table; refresh tokens and
// claims/ID-token records live in a durable on-disk table. A background
// sweep evicts expired entries every CleanupInterval.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/tanguilp/oauth2-token-manager/internal/logger"
	"github.com/tanguilp/oauth2-token-manager/store"
	"github.com/tanguilp/oauth2-token-manager/store/memory"
	"github.com/tanguilp/oauth2-token-manager/store/sqlite"
)

// Store is the default Store implementation (C2).
type Store struct {
	at   *memory.AccessTokenTable
	rt   *sqlite.RefreshTokenClaimsStore
	db   *sqlite.DB
	opts Options

	stopOnce sync.Once
	started  bool
	stopCh   chan struct{}
	stopped  chan struct{}
}

// Options configures LocalStore startup.
type Options struct {
	// DBPath is the durable table's file path. Defaults to
	// sqlite.DefaultDBPath().
	DBPath string
	// CleanupInterval is how often the eviction sweep runs. Defaults to
	// store.DefaultCleanupInterval (15s).
	CleanupInterval time.Duration
}

// Open opens the durable table at opts.DBPath (creating it if necessary)
// and returns a Store. Callers must call Start to begin the eviction sweep,
// and Stop to flush the durable table on shutdown.
func Open(ctx context.Context, opts Options) (*Store, error) {
	path := opts.DBPath
	if path == "" {
		path = sqlite.DefaultDBPath()
	}
	interval := opts.CleanupInterval
	if interval == 0 {
		interval = store.DefaultCleanupInterval
	}

	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	return &Store{
		at:      memory.NewAccessTokenTable(),
		rt:      sqlite.NewRefreshTokenClaimsStore(db),
		db:      db,
		opts:    Options{DBPath: path, CleanupInterval: interval},
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Start launches the eviction sweep goroutine. It is not safe to call twice.
func (s *Store) Start(context.Context) error {
	s.started = true
	go s.evictionLoop()
	return nil
}

// Stop halts the eviction sweep and flushes the durable table. Safe to call
// more than once.
func (s *Store) Stop(context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.started {
			<-s.stopped
		}
		err = s.db.Close()
	})
	return err
}

func (s *Store) evictionLoop() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	removedAT := s.at.Evict(ctx)
	removedRT, err := s.rt.EvictExpiredRefreshTokens(ctx)
	if err != nil {
		logger.Warnf("refresh token eviction sweep failed: %v", err)
	}
	if removedAT > 0 || removedRT > 0 {
		logger.Debugf("eviction sweep removed %d access tokens, %d refresh tokens", removedAT, removedRT)
	}
}

// --- store.Store ---

func (s *Store) GetAccessToken(ctx context.Context, at string) (*store.AccessTokenRecord, error) {
	return s.at.Get(ctx, at)
}

func (s *Store) GetAccessTokensForSubject(ctx context.Context, iss, sub string) ([]*store.AccessTokenRecord, error) {
	return s.at.GetForSubject(ctx, iss, sub)
}

func (s *Store) GetAccessTokensClientCredentials(ctx context.Context, iss, clientID string) ([]*store.AccessTokenRecord, error) {
	return s.at.GetClientCredentials(ctx, iss, clientID)
}

func (s *Store) PutAccessToken(ctx context.Context, at, tokenType string, metadata store.Metadata, iss string) (store.Metadata, error) {
	return s.at.Put(ctx, at, tokenType, metadata, iss)
}

func (s *Store) DeleteAccessToken(ctx context.Context, at string) error {
	return s.at.Delete(ctx, at)
}

func (s *Store) GetRefreshToken(ctx context.Context, rt string) (*store.RefreshTokenRecord, error) {
	return s.rt.GetRefreshToken(ctx, rt)
}

func (s *Store) GetRefreshTokensForSubject(ctx context.Context, iss, sub string) ([]*store.RefreshTokenRecord, error) {
	return s.rt.GetRefreshTokensForSubject(ctx, iss, sub)
}

func (s *Store) GetRefreshTokensClientCredentials(ctx context.Context, iss, clientID string) ([]*store.RefreshTokenRecord, error) {
	return s.rt.GetRefreshTokensClientCredentials(ctx, iss, clientID)
}

func (s *Store) PutRefreshToken(ctx context.Context, rt string, metadata store.Metadata, iss string) (store.Metadata, error) {
	return s.rt.PutRefreshToken(ctx, rt, metadata, iss)
}

func (s *Store) DeleteRefreshToken(ctx context.Context, rt string) error {
	return s.rt.DeleteRefreshToken(ctx, rt)
}

func (s *Store) GetClaims(ctx context.Context, iss, sub string) (*store.ClaimsRecord, error) {
	return s.rt.GetClaims(ctx, iss, sub)
}

func (s *Store) PutClaims(ctx context.Context, iss, sub string, claims map[string]any) error {
	return s.rt.PutClaims(ctx, iss, sub, claims)
}

func (s *Store) GetIDToken(ctx context.Context, iss, sub string) (string, error) {
	return s.rt.GetIDToken(ctx, iss, sub)
}

func (s *Store) PutIDToken(ctx context.Context, iss, sub, idToken string) error {
	return s.rt.PutIDToken(ctx, iss, sub, idToken)
}

var (
	_ store.Store     = (*Store)(nil)
	_ store.Lifecycle = (*Store)(nil)
)
