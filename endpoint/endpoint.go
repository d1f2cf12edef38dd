// Package endpoint resolves, for a given issuer and RFC endpoint kind, the
// endpoint's URL and an *http.Client pre-wired with the correct
// client-authentication middleware (C3).
//
// The authorization-server metadata updater itself — the component that
// resolves issuer -> discovery document and keeps it fresh — is an external
// collaborator; this package only consumes it through the MetadataSource
// interface.
package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/tanguilp/oauth2-token-manager/clientauth"
	"github.com/tanguilp/oauth2-token-manager/internal/logger"
	"github.com/tanguilp/oauth2-token-manager/oautherr"
)

// Kind identifies which RFC-standard endpoint is being resolved.
type Kind string

// Endpoint kinds, matching the "<kind>_endpoint" metadata field name.
const (
	KindToken         Kind = "token"
	KindIntrospection Kind = "introspection"
	KindRevocation    Kind = "revocation"
	KindUserinfo      Kind = "userinfo"
)

// MetadataSource resolves an issuer to its authorization-server metadata
// document. It is the out-of-scope metadata-updater collaborator; this
// library only calls it and falls back to caller-supplied metadata if it
// fails.
type MetadataSource interface {
	ServerMetadata(ctx context.Context, issuer string) (map[string]any, error)
}

// Resolver implements C3.
type Resolver struct {
	// Metadata resolves remote discovery documents. May be nil, in which
	// case only caller-supplied metadata (Options.ServerMetadata) is
	// used.
	Metadata MetadataSource

	// GlobalMiddlewares are appended to every composed client, after any
	// per-call user middlewares.
	GlobalMiddlewares []clientauth.Middleware

	// UserMiddlewares are appended between the decode_json middleware
	// and the global middlewares, for write endpoints only.
	UserMiddlewares []clientauth.Middleware

	// Transport is the innermost http.RoundTripper. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper

	// Timeout bounds every request made by clients this resolver
	// produces. Zero means no library-level timeout.
	Timeout time.Duration
}

// MergedMetadata returns the merged server-metadata map: the remote
// discovery document (if Metadata is set and the fetch succeeds) overlaid by
// optsMetadata, which always wins on conflict. A fetch failure is not fatal:
// it is logged and only optsMetadata is used.
func (r *Resolver) MergedMetadata(ctx context.Context, issuer string, optsMetadata map[string]any) map[string]any {
	merged := map[string]any{}
	if r.Metadata != nil {
		remote, err := r.Metadata.ServerMetadata(ctx, issuer)
		if err != nil {
			logger.Warnf("server metadata fetch failed for issuer %s, falling back to configured metadata: %v", issuer, err)
		} else {
			for k, v := range remote {
				merged[k] = v
			}
		}
	}
	for k, v := range optsMetadata {
		merged[k] = v
	}
	return merged
}

// URL resolves the endpoint URL for (issuer, kind) from the merged server
// metadata.
func (r *Resolver) URL(ctx context.Context, issuer string, kind Kind, optsMetadata map[string]any) (string, error) {
	merged := r.MergedMetadata(ctx, issuer, optsMetadata)
	field := string(kind) + "_endpoint"
	u, ok := merged[field].(string)
	if !ok || u == "" {
		return "", &oautherr.MissingServerMetadata{Field: field}
	}
	return u, nil
}

// HTTPClient composes the middleware chain for kind and returns an
// *http.Client ready to call the given endpoint kind on behalf of issuer.
//
// Write endpoints (token, introspection, revocation) get:
//
//	client_authenticator, form_url_encoded, decode_json, user..., global...
//
// The userinfo endpoint only gets decode_json and the global middlewares,
// because it authenticates with a bearer access token (applied by the
// caller) rather than client credentials, and its response may be
// unencoded application/jwt rather than JSON.
func (r *Resolver) HTTPClient(
	ctx context.Context,
	issuer string,
	kind Kind,
	clientConf clientauth.Config,
	optsMetadata map[string]any,
) (*http.Client, error) {
	transport := r.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	var chain []clientauth.Middleware
	if kind == KindUserinfo {
		chain = append(chain, decodeJSON())
	} else {
		merged := r.MergedMetadata(ctx, issuer, optsMetadata)
		method := clientauth.ResolveMethod(clientConf, merged)
		auth, err := clientauth.Authenticator(method, clientConf)
		if err != nil {
			return nil, err
		}
		chain = append(chain, auth, formURLEncoded(), decodeJSON())
		chain = append(chain, r.UserMiddlewares...)
	}
	chain = append(chain, r.GlobalMiddlewares...)

	// Compose right-to-left so chain[0] is the outermost wrapper and sees
	// the request first.
	rt := transport
	for i := len(chain) - 1; i >= 0; i-- {
		rt = chain[i](rt)
	}

	return &http.Client{Transport: rt, Timeout: r.Timeout}, nil
}

// formURLEncoded sets the Content-Type header expected by every write
// endpoint, if the caller has not already set one.
func formURLEncoded() clientauth.Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Content-Type") == "" {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			return next.RoundTrip(req)
		})
	}
}

// decodeJSON declares that the caller expects a JSON response. It does not
// decode the body itself — callers decode with encoding/json against the
// response they get back, same as any net/http caller — but it is kept as
// an explicit stage so the middleware order is visible
// in the composed chain.
func decodeJSON() clientauth.Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Accept") == "" {
				req.Header.Set("Accept", "application/json")
			}
			return next.RoundTrip(req)
		})
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
