// Package claims implements the Claims / ID-token manager (C6): fetching
// and merging userinfo and ID-token claims, JWS verification, JWE
// decryption, and persistence of the latest ID token per subject.
package claims

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	josepkg "github.com/go-jose/go-jose/v4"
	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/tanguilp/oauth2-token-manager/clientauth"
	"github.com/tanguilp/oauth2-token-manager/endpoint"
	"github.com/tanguilp/oauth2-token-manager/internal/logger"
	"github.com/tanguilp/oauth2-token-manager/jose"
	"github.com/tanguilp/oauth2-token-manager/oautherr"
	"github.com/tanguilp/oauth2-token-manager/store"
)

// technicalClaims are the ID-token claims stripped before merging with
// userinfo claims.
var technicalClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {},
	"auth_time": {}, "nonce": {}, "acr": {}, "amr": {}, "azp": {},
}

// AccessTokenSource is the AccessToken manager (C4), consumed here only
// through this interface to avoid an import cycle. GetClaims uses it to
// obtain a bearer token for the userinfo call.
type AccessTokenSource interface {
	Get(ctx context.Context, iss, subjectOrClientID string, clientCredentials bool, clientConf clientauth.Config, requestedScopes []string, opts store.Options) (token, tokenType string, err error)
}

// Manager implements C6.
type Manager struct {
	Store     store.Store
	Endpoints *endpoint.Resolver

	AccessTokens AccessTokenSource

	Verifier   jose.Verifier
	Decrypter  jose.Decrypter
	JWKSSource jose.JWKSSource
}

// RegisterIDToken stores id_token for (iss, sub), where sub is extracted
// from its unverified payload. The token must be a compact JWS — signature
// verification is the caller's responsibility when it originates from the
// token endpoint; direct third-party registration is a trust-in-caller API.
func (m *Manager) RegisterIDToken(ctx context.Context, iss, idToken string) error {
	if !jose.IsCompactJWS(idToken) {
		return oautherr.ErrInvalidIDTokenRegistration
	}
	payload, err := jose.PeekPayload(idToken)
	if err != nil {
		return oautherr.ErrInvalidIDTokenRegistration
	}
	sub, _ := store.Metadata(payload).Subject()
	if sub == "" {
		return oautherr.ErrInvalidIDTokenRegistration
	}
	return m.Store.PutIDToken(ctx, iss, sub, idToken)
}

// GetIDToken is a pure store read.
func (m *Manager) GetIDToken(ctx context.Context, iss, sub string) (string, error) {
	return m.Store.GetIDToken(ctx, iss, sub)
}

// VerifyIDToken verifies a compact JWS ID token's signature against the
// issuer's published JWKS and checks its issuer and audience. It is used by
// the refresh-token manager, for which an ID-token verification failure is
// fatal to the whole refresh-grant call. The jwks_uri is read from the
// metadata source's document for iss only; Options.ServerMetadata is not
// consulted here.
func (m *Manager) VerifyIDToken(ctx context.Context, iss string, clientConf clientauth.Config, idToken string) (map[string]any, error) {
	if !jose.IsCompactJWS(idToken) {
		return nil, oautherr.ErrInvalidIDTokenRegistration
	}
	jwks, err := m.serverJWKS(ctx, iss, nil)
	if err != nil {
		return nil, err
	}

	keyFunc := func(token *jwtlib.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		for _, k := range jwks.Keys {
			if kid == "" || k.KeyID == kid {
				return k.Key, nil
			}
		}
		return nil, fmt.Errorf("claims: no matching signing key for kid %q", kid)
	}

	parserOpts := []jwtlib.ParserOption{jwtlib.WithIssuer(iss), jwtlib.WithExpirationRequired()}
	if clientConf.ClientID != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(clientConf.ClientID))
	}

	idClaims := jwtlib.MapClaims{}
	if _, err := jwtlib.ParseWithClaims(idToken, idClaims, keyFunc, parserOpts...); err != nil {
		return nil, oautherr.ErrUserinfoEndpointVerificationFailure
	}
	return map[string]any(idClaims), nil
}

// GetClaims returns the merged ID-token/userinfo claims view for (iss, sub),
// It refreshes userinfo over the network only when the
// cached claims are stale or absent.
func (m *Manager) GetClaims(
	ctx context.Context,
	iss, sub string,
	clientConf clientauth.Config,
	opts store.Options,
) (map[string]any, error) {
	opts = opts.WithDefaults()

	rec, err := m.Store.GetClaims(ctx, iss, sub)
	if err != nil {
		return nil, err
	}
	idToken, err := m.Store.GetIDToken(ctx, iss, sub)
	if err != nil {
		return nil, err
	}

	if rec != nil && rec.HasClaims() && time.Since(rec.UpdatedAt) < opts.MinUserinfoRefreshInterval {
		return m.merge(idToken, rec.Claims, rec.UpdatedAt), nil
	}

	claims, err := m.fetchUserinfo(ctx, iss, sub, clientConf, opts)
	if err != nil {
		return nil, err
	}
	if err := m.Store.PutClaims(ctx, iss, sub, claims); err != nil {
		return nil, err
	}
	return m.merge(idToken, claims, time.Now()), nil
}

func (m *Manager) fetchUserinfo(
	ctx context.Context,
	iss, sub string,
	clientConf clientauth.Config,
	opts store.Options,
) (map[string]any, error) {
	at, _, err := m.AccessTokens.Get(ctx, iss, sub, false, clientConf, nil, opts)
	if err != nil {
		return nil, err
	}

	client, err := m.Endpoints.HTTPClient(ctx, iss, endpoint.KindUserinfo, clientConf, opts.ServerMetadata)
	if err != nil {
		return nil, err
	}
	userinfoURL, err := m.Endpoints.URL(ctx, iss, endpoint.KindUserinfo, opts.ServerMetadata)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointUserinfo, Reason: err}
	}
	req.Header.Set("Authorization", "Bearer "+at)

	resp, err := client.Do(req)
	if err != nil {
		logger.Warnf("userinfo request failed for token digest %s: %v", digest(at), err)
		return nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointUserinfo, Reason: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warnf("userinfo endpoint returned status %d for token digest %s", resp.StatusCode, digest(at))
		return nil, &oautherr.HTTPStatusError{Endpoint: oautherr.EndpointUserinfo, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &oautherr.HTTPRequestError{Endpoint: oautherr.EndpointUserinfo, Reason: err}
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	// A plain JSON object body is used as-is.
	var asObject map[string]any
	if json.Valid(body) {
		if err := json.Unmarshal(body, &asObject); err == nil && asObject != nil {
			return asObject, nil
		}
	}

	// Otherwise the body is treated as a compact JWS/JWE string: it must
	// declare application/jwt.
	if !strings.EqualFold(contentType, "application/jwt") {
		return nil, oautherr.ErrUserinfoEndpointInvalidContentType
	}

	token := strings.TrimSpace(string(body))
	token = strings.Trim(token, `"`)

	if jose.IsCompactJWE(token) {
		plaintext, err := m.decryptUserinfo(ctx, clientConf, token)
		if err != nil {
			return nil, err
		}
		token = string(plaintext)
	}

	return m.verifyUserinfo(ctx, iss, clientConf, opts, token)
}

func (m *Manager) decryptUserinfo(ctx context.Context, clientConf clientauth.Config, token string) ([]byte, error) {
	if clientConf.PrivateJWKS == nil {
		return nil, &oautherr.MissingClientMetadata{Field: "private_jwks"}
	}
	if clientConf.UserinfoEncryptedResponseAlg == "" {
		return nil, &oautherr.MissingClientMetadata{Field: "userinfo_encrypted_response_alg"}
	}
	enc := clientConf.UserinfoEncryptedResponseEnc
	if enc == "" {
		enc = clientauth.DefaultUserinfoEncryptedResponseEnc
	}
	plaintext, err := m.Decrypter.Decrypt(ctx, token, clientConf.PrivateJWKS, clientConf.UserinfoEncryptedResponseAlg, enc)
	if err != nil {
		return nil, oautherr.ErrUserinfoEndpointDecryptionFailure
	}
	return plaintext, nil
}

func (m *Manager) verifyUserinfo(
	ctx context.Context,
	iss string,
	clientConf clientauth.Config,
	opts store.Options,
	compactJWS string,
) (map[string]any, error) {
	if clientConf.UserinfoSignedResponseAlg == "" {
		return nil, &oautherr.MissingClientMetadata{Field: "userinfo_signed_response_alg"}
	}
	jwks, err := m.serverJWKS(ctx, iss, opts.ServerMetadata)
	if err != nil {
		return nil, err
	}
	payload, err := m.Verifier.Verify(ctx, compactJWS, jwks, clientConf.UserinfoSignedResponseAlg)
	if err != nil {
		return nil, oautherr.ErrUserinfoEndpointVerificationFailure
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, oautherr.ErrUserinfoEndpointVerificationFailure
	}
	return claims, nil
}

func (m *Manager) serverJWKS(ctx context.Context, iss string, optsMetadata map[string]any) (*josepkg.JSONWebKeySet, error) {
	merged := m.Endpoints.MergedMetadata(ctx, iss, optsMetadata)
	jwksURI, ok := merged["jwks_uri"].(string)
	if !ok || jwksURI == "" {
		return nil, &oautherr.MissingServerMetadata{Field: "jwks_uri"}
	}
	return m.JWKSSource.JWKS(ctx, jwksURI)
}

// merge implements the claims merge rule: technical ID-token claims
// are always stripped; with both halves present, the more recently updated
// one wins, claim by claim.
func (m *Manager) merge(idToken string, claims map[string]any, claimsUpdatedAt time.Time) map[string]any {
	var idClaims map[string]any
	var idTokenIat time.Time
	if idToken != "" {
		if payload, err := jose.PeekPayload(idToken); err == nil {
			idClaims = stripTechnicalClaims(payload)
			if iat, ok := payload["iat"]; ok {
				idTokenIat = parseUnixTime(iat)
			}
		}
	}

	switch {
	case idClaims == nil:
		if claims == nil {
			return map[string]any{}
		}
		return cloneMap(claims)
	case claims == nil:
		return idClaims
	default:
		merged := cloneMap(claims)
		if idTokenIat.After(claimsUpdatedAt) {
			for k, v := range idClaims {
				merged[k] = v
			}
		} else {
			// userinfo wins: start from id_token claims, then overlay
			// claims on top.
			merged = cloneMap(idClaims)
			for k, v := range claims {
				merged[k] = v
			}
		}
		return merged
	}
}

func stripTechnicalClaims(claims map[string]any) map[string]any {
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		if _, technical := technicalClaims[k]; technical {
			continue
		}
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func parseUnixTime(v any) time.Time {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0)
	case int64:
		return time.Unix(n, 0)
	case int:
		return time.Unix(int64(n), 0)
	default:
		return time.Time{}
	}
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
