// Package clientauth holds the confidential client's own configuration and
// the HTTP middleware that authenticates outbound requests to the token,
// introspection and revocation endpoints on its behalf.
package clientauth

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/go-jose/go-jose/v4"

	"github.com/tanguilp/oauth2-token-manager/oautherr"
)

// Method names this library knows how to satisfy, per RFC 7591 §2 /
// OIDC Core §9.
const (
	MethodClientSecretBasic = "client_secret_basic"
	MethodClientSecretPost  = "client_secret_post"
	MethodNone              = "none"
)

// DefaultMethod is used when the server metadata does not declare
// token_endpoint_auth_method.
const DefaultMethod = MethodClientSecretBasic

// DefaultUserinfoEncryptedResponseEnc is used when the client declares a
// userinfo_encrypted_response_alg without a matching _enc.
const DefaultUserinfoEncryptedResponseEnc = "A128CBC-HS256"

// Config is the confidential client's own static configuration: its
// credentials, and the JOSE parameters it advertised to the authorization
// server for protecting the userinfo response.
type Config struct {
	ClientID     string
	ClientSecret string

	// TokenEndpointAuthMethod overrides the method read from server
	// metadata, if set.
	TokenEndpointAuthMethod string

	// UserinfoSignedResponseAlg is the alg the client expects userinfo
	// JWS responses to be signed with.
	UserinfoSignedResponseAlg string
	// UserinfoEncryptedResponseAlg is the key-management alg the client
	// expects userinfo JWE responses to use, if it requested encryption.
	UserinfoEncryptedResponseAlg string
	// UserinfoEncryptedResponseEnc is the content-encryption alg; it
	// defaults to DefaultUserinfoEncryptedResponseEnc.
	UserinfoEncryptedResponseEnc string
	// PrivateJWKS holds the client's own private keys, used to decrypt
	// JWE-wrapped userinfo responses.
	PrivateJWKS *jose.JSONWebKeySet
}

// ResolveMethod picks the token_endpoint_auth_method to use: the client's
// own override, else the value declared in the merged server metadata, else
// DefaultMethod.
func ResolveMethod(conf Config, serverMetadata map[string]any) string {
	if conf.TokenEndpointAuthMethod != "" {
		return conf.TokenEndpointAuthMethod
	}
	if m, ok := serverMetadata["token_endpoint_auth_method"].(string); ok && m != "" {
		return m
	}
	return DefaultMethod
}

// Middleware wraps an http.RoundTripper, typically to mutate outgoing
// requests or inspect responses.
type Middleware func(http.RoundTripper) http.RoundTripper

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// Authenticator returns the middleware that attaches client credentials to
// an outgoing request, per the resolved token_endpoint_auth_method. It
// returns *oautherr.UnsupportedClientAuthenticationMethod for any method
// this library does not implement.
func Authenticator(method string, conf Config) (Middleware, error) {
	switch method {
	case MethodClientSecretBasic:
		return func(next http.RoundTripper) http.RoundTripper {
			return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				req.SetBasicAuth(url.QueryEscape(conf.ClientID), url.QueryEscape(conf.ClientSecret))
				return next.RoundTrip(req)
			})
		}, nil
	case MethodClientSecretPost:
		return func(next http.RoundTripper) http.RoundTripper {
			return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				if err := appendPostCredentials(req, conf); err != nil {
					return nil, err
				}
				return next.RoundTrip(req)
			})
		}, nil
	case MethodNone:
		return func(next http.RoundTripper) http.RoundTripper { return next }, nil
	default:
		return nil, &oautherr.UnsupportedClientAuthenticationMethod{Method: method}
	}
}

// appendPostCredentials rewrites req's form-encoded body to add client_id
// and client_secret, per RFC 6749 §2.3.1.
func appendPostCredentials(req *http.Request, conf Config) error {
	var raw []byte
	if req.Body != nil {
		var err error
		raw, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return err
		}
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		form = url.Values{}
	}
	form.Set("client_id", conf.ClientID)
	if conf.ClientSecret != "" {
		form.Set("client_secret", conf.ClientSecret)
	}
	encoded := form.Encode()
	req.Body = io.NopCloser(bytes.NewReader([]byte(encoded)))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte(encoded))), nil
	}
	req.ContentLength = int64(len(encoded))
	return nil
}
