package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tanguilp/oauth2-token-manager/oautherr"
	"github.com/tanguilp/oauth2-token-manager/store"
	"github.com/tanguilp/oauth2-token-manager/store/memory"
)

// RefreshTokenClaimsStore implements the refresh-token and claims halves of
// store.Store against the durable on-disk table.
type RefreshTokenClaimsStore struct {
	db *DB
}

// NewRefreshTokenClaimsStore wraps an already-open DB.
func NewRefreshTokenClaimsStore(db *DB) *RefreshTokenClaimsStore {
	return &RefreshTokenClaimsStore{db: db}
}

// GetRefreshToken returns the record for rt, or nil if absent.
func (s *RefreshTokenClaimsStore) GetRefreshToken(ctx context.Context, rt string) (*store.RefreshTokenRecord, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT token, issuer, metadata, updated_at FROM refresh_tokens WHERE token = ? LIMIT 2`, rt)
	if err != nil {
		return nil, &oautherr.InsertError{Reason: err}
	}
	defer rows.Close()

	recs, err := scanRefreshTokens(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	if len(recs) > 1 {
		return nil, &oautherr.MultipleResultsError{Reason: fmt.Sprintf("refresh token %q has multiple rows", rt)}
	}
	return recs[0], nil
}

// GetRefreshTokensForSubject returns every refresh token stored for (iss, sub).
func (s *RefreshTokenClaimsStore) GetRefreshTokensForSubject(ctx context.Context, iss, sub string) ([]*store.RefreshTokenRecord, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT token, issuer, metadata, updated_at FROM refresh_tokens WHERE issuer = ? AND subject = ?`, iss, sub)
	if err != nil {
		return nil, &oautherr.InsertError{Reason: err}
	}
	defer rows.Close()
	return scanRefreshTokens(rows)
}

// GetRefreshTokensClientCredentials returns every refresh token stored for
// (iss, clientID) that carries no subject.
func (s *RefreshTokenClaimsStore) GetRefreshTokensClientCredentials(ctx context.Context, iss, clientID string) ([]*store.RefreshTokenRecord, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT token, issuer, metadata, updated_at FROM refresh_tokens
		 WHERE issuer = ? AND client_id = ? AND subject IS NULL`, iss, clientID)
	if err != nil {
		return nil, &oautherr.InsertError{Reason: err}
	}
	defer rows.Close()
	return scanRefreshTokens(rows)
}

// PutRefreshToken writes or overwrites the record for rt.
func (s *RefreshTokenClaimsStore) PutRefreshToken(ctx context.Context, rt string, metadata store.Metadata, iss string) (store.Metadata, error) {
	normalized := memory.NormalizeScope(metadata)
	blob, err := json.Marshal(normalized)
	if err != nil {
		return nil, &oautherr.InsertError{Reason: err}
	}
	sub, _ := normalized.Subject()
	cid, _ := normalized.ClientID()

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, issuer, subject, client_id, metadata, updated_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			issuer = excluded.issuer,
			subject = excluded.subject,
			client_id = excluded.client_id,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		rt, iss, sub, cid, string(blob), time.Now().Unix())
	if err != nil {
		return nil, &oautherr.InsertError{Reason: err}
	}
	return normalized.Clone(), nil
}

// DeleteRefreshToken removes the record for rt.
func (s *RefreshTokenClaimsStore) DeleteRefreshToken(ctx context.Context, rt string) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, rt); err != nil {
		return &oautherr.InsertError{Reason: err}
	}
	return nil
}

// EvictExpiredRefreshTokens removes every refresh token whose metadata "exp"
// has passed, returning the count removed. SQLite's json_extract lets us do
// this in one statement without deserializing every row in Go.
func (s *RefreshTokenClaimsStore) EvictExpiredRefreshTokens(ctx context.Context) (int, error) {
	res, err := s.db.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE json_extract(metadata, '$.exp') IS NOT NULL
		  AND json_extract(metadata, '$.exp') < ?`, time.Now().Unix())
	if err != nil {
		return 0, &oautherr.InsertError{Reason: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetClaims returns the claims half of the (iss, sub) row, or nil if no
// claims have ever been stored.
func (s *RefreshTokenClaimsStore) GetClaims(ctx context.Context, iss, sub string) (*store.ClaimsRecord, error) {
	var claimsBlob sql.NullString
	var updatedAt sql.NullInt64
	var idToken sql.NullString
	err := s.db.db.QueryRowContext(ctx,
		`SELECT id_token, claims, claims_updated_at FROM claims WHERE issuer = ? AND subject = ?`, iss, sub,
	).Scan(&idToken, &claimsBlob, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &oautherr.InsertError{Reason: err}
	}
	if !claimsBlob.Valid {
		return nil, nil
	}

	var claims map[string]any
	if err := json.Unmarshal([]byte(claimsBlob.String), &claims); err != nil {
		return nil, &oautherr.InsertError{Reason: err}
	}
	rec := &store.ClaimsRecord{Claims: claims, IDToken: idToken.String}
	if updatedAt.Valid {
		rec.UpdatedAt = time.Unix(updatedAt.Int64, 0)
	}
	return rec, nil
}

// PutClaims overwrites the claims half of the (iss, sub) row, preserving any
// previously registered ID token.
func (s *RefreshTokenClaimsStore) PutClaims(ctx context.Context, iss, sub string, claims map[string]any) error {
	blob, err := json.Marshal(claims)
	if err != nil {
		return &oautherr.InsertError{Reason: err}
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO claims (issuer, subject, claims, claims_updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(issuer, subject) DO UPDATE SET
			claims = excluded.claims,
			claims_updated_at = excluded.claims_updated_at`,
		iss, sub, string(blob), time.Now().Unix())
	if err != nil {
		return &oautherr.InsertError{Reason: err}
	}
	return nil
}

// GetIDToken returns the ID token half of the (iss, sub) row, or "" if none
// has been registered.
func (s *RefreshTokenClaimsStore) GetIDToken(ctx context.Context, iss, sub string) (string, error) {
	var idToken sql.NullString
	err := s.db.db.QueryRowContext(ctx,
		`SELECT id_token FROM claims WHERE issuer = ? AND subject = ?`, iss, sub,
	).Scan(&idToken)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &oautherr.InsertError{Reason: err}
	}
	return idToken.String, nil
}

// PutIDToken overwrites the ID token half of the (iss, sub) row, preserving
// any previously stored claims.
func (s *RefreshTokenClaimsStore) PutIDToken(ctx context.Context, iss, sub, idToken string) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO claims (issuer, subject, id_token)
		VALUES (?, ?, ?)
		ON CONFLICT(issuer, subject) DO UPDATE SET
			id_token = excluded.id_token`,
		iss, sub, idToken)
	if err != nil {
		return &oautherr.InsertError{Reason: err}
	}
	return nil
}

func scanRefreshTokens(rows *sql.Rows) ([]*store.RefreshTokenRecord, error) {
	var out []*store.RefreshTokenRecord
	for rows.Next() {
		var rec store.RefreshTokenRecord
		var blob string
		var updatedAt int64
		if err := rows.Scan(&rec.Token, &rec.Issuer, &blob, &updatedAt); err != nil {
			return nil, &oautherr.InsertError{Reason: err}
		}
		var meta store.Metadata
		if err := json.Unmarshal([]byte(blob), &meta); err != nil {
			return nil, &oautherr.InsertError{Reason: err}
		}
		rec.Metadata = meta
		rec.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &oautherr.InsertError{Reason: err}
	}
	return out, nil
}
