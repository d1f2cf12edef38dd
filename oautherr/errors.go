// Package oautherr defines the tagged error values returned by the token
// manager's public operations. Every public operation returns either a
// success value or exactly one of these errors (or an error wrapping one via
// errors.Is/errors.As) — network and storage failures are never swallowed
// except in the two places the design explicitly calls out (fire-and-forget
// revocation, and metadata-fetch fallback).
package oautherr

import "fmt"

// Endpoint identifies which RFC-standard endpoint an HTTP-layer error came
// from.
type Endpoint string

// Endpoint kinds used by HTTPStatusError and HTTPRequestError.
const (
	EndpointToken         Endpoint = "token"
	EndpointIntrospection Endpoint = "introspection"
	EndpointRevocation    Endpoint = "revocation"
	EndpointUserinfo      Endpoint = "userinfo"
)

// HTTPStatusError reports a non-2xx response from a known RFC endpoint.
type HTTPStatusError struct {
	Endpoint Endpoint
	Status   int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("oauth2-token-manager: %s endpoint returned status %d", e.Endpoint, e.Status)
}

// HTTPRequestError reports a transport-level failure (DNS, TLS, timeout, ...)
// talking to a known RFC endpoint.
type HTTPRequestError struct {
	Endpoint Endpoint
	Reason   error
}

func (e *HTTPRequestError) Error() string {
	return fmt.Sprintf("oauth2-token-manager: request to %s endpoint failed: %v", e.Endpoint, e.Reason)
}

func (e *HTTPRequestError) Unwrap() error { return e.Reason }

// MissingServerMetadata reports that a required field was absent from the
// merged authorization-server metadata document.
type MissingServerMetadata struct {
	Field string
}

func (e *MissingServerMetadata) Error() string {
	return fmt.Sprintf("oauth2-token-manager: server metadata missing field %q", e.Field)
}

// MissingClientMetadata reports that a required field was absent from the
// client's own configuration (e.g. a decryption key needed for userinfo).
type MissingClientMetadata struct {
	Field string
}

func (e *MissingClientMetadata) Error() string {
	return fmt.Sprintf("oauth2-token-manager: client metadata missing field %q", e.Field)
}

// UnsupportedClientAuthenticationMethod reports that the server declared a
// token_endpoint_auth_method the client has no middleware for.
type UnsupportedClientAuthenticationMethod struct {
	Method string
}

func (e *UnsupportedClientAuthenticationMethod) Error() string {
	return fmt.Sprintf("oauth2-token-manager: unsupported client authentication method %q", e.Method)
}

// MultipleResultsError reports that a store lookup expected at most one
// record but found more than one.
type MultipleResultsError struct {
	Reason string
}

func (e *MultipleResultsError) Error() string {
	return fmt.Sprintf("oauth2-token-manager: multiple results found: %s", e.Reason)
}

// InsertError reports a storage-layer failure while writing a record.
type InsertError struct {
	Reason error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("oauth2-token-manager: failed to persist record: %v", e.Reason)
}

func (e *InsertError) Unwrap() error { return e.Reason }

// Sentinel errors. These carry no extra fields and so are compared with
// errors.Is rather than errors.As.
var (
	// ErrNoSuitableAccessTokenFound is returned when no cached access token
	// satisfies the request and no refresh grant could produce one.
	ErrNoSuitableAccessTokenFound = fmt.Errorf("oauth2-token-manager: no suitable access token found")

	// ErrNoSuitableRefreshTokenFound is returned when no stored refresh
	// token has a scope set covering the requested scopes.
	ErrNoSuitableRefreshTokenFound = fmt.Errorf("oauth2-token-manager: no suitable refresh token found")

	// ErrIllegalTokenEndpointResponse is returned when a 200 response from
	// the token endpoint is missing access_token or token_type.
	ErrIllegalTokenEndpointResponse = fmt.Errorf("oauth2-token-manager: illegal token endpoint response")

	// ErrInvalidIDTokenRegistration is returned when register_id_token is
	// called with a string that does not parse as a compact JWS.
	ErrInvalidIDTokenRegistration = fmt.Errorf("oauth2-token-manager: id token registration requires a compact JWS")

	// ErrUserinfoEndpointInvalidContentType is returned when the userinfo
	// response body is not a JSON object and its content type is not
	// application/jwt.
	ErrUserinfoEndpointInvalidContentType = fmt.Errorf("oauth2-token-manager: userinfo response has invalid content type")

	// ErrUserinfoEndpointDecryptionFailure is returned when a JWE-wrapped
	// userinfo response could not be decrypted.
	ErrUserinfoEndpointDecryptionFailure = fmt.Errorf("oauth2-token-manager: failed to decrypt userinfo response")

	// ErrUserinfoEndpointVerificationFailure is returned when the JWS
	// signature on a userinfo response could not be verified.
	ErrUserinfoEndpointVerificationFailure = fmt.Errorf("oauth2-token-manager: failed to verify userinfo response signature")
)
