// Package jose defines the JOSE-protected-data collaborator interfaces the
// claims and refresh-token managers depend on — JWS verification, JWE
// decryption and unverified payload inspection — along with default
// implementations backed by go-jose.
//
// These primitives, and the signing-key set updater that resolves a
// jwks_uri to a JWK set, are external collaborators: the core only
// consumes them through the interfaces below.
package jose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	josepkg "github.com/go-jose/go-jose/v4"
)

// JWKSSource resolves a jwks_uri to the JWK set published there. It is the
// out-of-scope signing-key-set updater collaborator.
type JWKSSource interface {
	JWKS(ctx context.Context, jwksURI string) (*josepkg.JSONWebKeySet, error)
}

// Verifier verifies a compact JWS against a JWK set and returns its payload.
type Verifier interface {
	Verify(ctx context.Context, compactJWS string, jwks *josepkg.JSONWebKeySet, alg string) ([]byte, error)
}

// Decrypter decrypts a compact JWE against a JWK set and returns the
// plaintext (typically itself a compact JWS, for nested signing).
type Decrypter interface {
	Decrypt(ctx context.Context, compactJWE string, jwks *josepkg.JSONWebKeySet, alg, enc string) ([]byte, error)
}

// IsCompactJWS reports whether token has the three-segment shape of a
// compact JWS (header.payload.signature). It does not validate the
// signature.
func IsCompactJWS(token string) bool {
	return countSegments(token) == 3
}

// IsCompactJWE reports whether token has the five-segment shape of a
// compact JWE.
func IsCompactJWE(token string) bool {
	return countSegments(token) == 5
}

func countSegments(token string) int {
	if token == "" {
		return 0
	}
	return strings.Count(token, ".") + 1
}

// PeekPayload extracts and JSON-decodes the payload of a compact JWS without
// verifying its signature. Used for register_id_token, where verification is
// the caller's contract, not this library's.
func PeekPayload(compactJWS string) (map[string]any, error) {
	if !IsCompactJWS(compactJWS) {
		return nil, fmt.Errorf("jose: not a compact JWS")
	}
	parsed, err := josepkg.ParseSigned(compactJWS, []josepkg.SignatureAlgorithm{
		josepkg.RS256, josepkg.RS384, josepkg.RS512,
		josepkg.ES256, josepkg.ES384, josepkg.ES512,
		josepkg.PS256, josepkg.PS384, josepkg.PS512,
		josepkg.HS256, josepkg.HS384, josepkg.HS512,
	})
	if err != nil {
		return nil, fmt.Errorf("jose: parse compact JWS: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(parsed.UnsafePayloadWithoutVerification(), &claims); err != nil {
		return nil, fmt.Errorf("jose: decode JWS payload: %w", err)
	}
	return claims, nil
}

// DefaultVerifier verifies compact JWS tokens with go-jose.
type DefaultVerifier struct{}

// Verify implements Verifier by trying every key in jwks whose alg (if set)
// matches or is unset, returning the first successful verification.
func (DefaultVerifier) Verify(_ context.Context, compactJWS string, jwks *josepkg.JSONWebKeySet, alg string) ([]byte, error) {
	parsed, err := josepkg.ParseSigned(compactJWS, allSignatureAlgorithms())
	if err != nil {
		return nil, fmt.Errorf("jose: parse compact JWS: %w", err)
	}
	if jwks == nil || len(jwks.Keys) == 0 {
		return nil, fmt.Errorf("jose: no verification keys available")
	}
	var lastErr error
	for _, key := range jwks.Keys {
		if alg != "" && key.Algorithm != "" && key.Algorithm != alg {
			continue
		}
		payload, err := parsed.Verify(key)
		if err == nil {
			return payload, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no matching key found")
	}
	return nil, fmt.Errorf("jose: signature verification failed: %w", lastErr)
}

// DefaultDecrypter decrypts compact JWE tokens with go-jose.
type DefaultDecrypter struct{}

// Decrypt implements Decrypter by trying every private key in jwks.
func (DefaultDecrypter) Decrypt(_ context.Context, compactJWE string, jwks *josepkg.JSONWebKeySet, alg, _ string) ([]byte, error) {
	parsed, err := josepkg.ParseEncrypted(compactJWE,
		allKeyAlgorithms(), allContentEncryptionAlgorithms())
	if err != nil {
		return nil, fmt.Errorf("jose: parse compact JWE: %w", err)
	}
	if jwks == nil || len(jwks.Keys) == 0 {
		return nil, fmt.Errorf("jose: no decryption keys available")
	}
	var lastErr error
	for _, key := range jwks.Keys {
		if alg != "" && key.Algorithm != "" && key.Algorithm != alg {
			continue
		}
		plaintext, err := parsed.Decrypt(key)
		if err == nil {
			return plaintext, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no matching key found")
	}
	return nil, fmt.Errorf("jose: decryption failed: %w", lastErr)
}

func allSignatureAlgorithms() []josepkg.SignatureAlgorithm {
	return []josepkg.SignatureAlgorithm{
		josepkg.RS256, josepkg.RS384, josepkg.RS512,
		josepkg.ES256, josepkg.ES384, josepkg.ES512,
		josepkg.PS256, josepkg.PS384, josepkg.PS512,
		josepkg.HS256, josepkg.HS384, josepkg.HS512,
	}
}

func allKeyAlgorithms() []josepkg.KeyAlgorithm {
	return []josepkg.KeyAlgorithm{
		josepkg.RSA1_5, josepkg.RSA_OAEP, josepkg.RSA_OAEP_256,
		josepkg.A128KW, josepkg.A192KW, josepkg.A256KW,
		josepkg.DIRECT, josepkg.ECDH_ES, josepkg.ECDH_ES_A128KW,
		josepkg.ECDH_ES_A192KW, josepkg.ECDH_ES_A256KW,
	}
}

func allContentEncryptionAlgorithms() []josepkg.ContentEncryption {
	return []josepkg.ContentEncryption{
		josepkg.A128CBC_HS256, josepkg.A192CBC_HS384, josepkg.A256CBC_HS512,
		josepkg.A128GCM, josepkg.A192GCM, josepkg.A256GCM,
	}
}
