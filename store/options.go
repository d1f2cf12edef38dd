package store

import "time"

// Default policy knobs for store.Options.
const (
	DefaultMinIntrospectInterval      = 30 * time.Second
	DefaultMinUserinfoRefreshInterval = 30 * time.Second
	DefaultRevokeOnDelete             = true
	DefaultAutoIntrospect             = true
	DefaultCleanupInterval            = 15 * time.Second
)

// Options carries the per-call policy knobs threaded through every manager
// operation (C7), plus passthrough configuration for the metadata updater
// and the HTTP client-authentication middleware — both out-of-scope
// collaborators this library only forwards options to.
type Options struct {
	// AutoIntrospect forces a network introspection call on every
	// Register, even when the caller already supplied a "sub".
	AutoIntrospect bool

	// MinIntrospectInterval is the freshness window below which
	// Introspect returns the cached metadata instead of making a network
	// call.
	MinIntrospectInterval time.Duration

	// MinUserinfoRefreshInterval is the freshness window below which
	// GetClaims returns the merged cached view instead of calling
	// userinfo.
	MinUserinfoRefreshInterval time.Duration

	// RevokeOnDelete causes Delete to spawn a best-effort background
	// revocation request after removing the local record.
	RevokeOnDelete bool

	// ServerMetadata is merged over whatever the (out-of-scope) metadata
	// updater discovered for the issuer, taking precedence on conflict.
	// It is also the sole source of metadata if that discovery fails.
	ServerMetadata map[string]any

	// MetadataUpdaterOptions is forwarded verbatim to the server-metadata
	// resolver collaborator.
	MetadataUpdaterOptions map[string]any

	// MiddlewareOptions is forwarded verbatim to the HTTP
	// client-authentication middleware collaborator.
	MiddlewareOptions map[string]any
}

// DefaultOptions returns the library's default option set.
func DefaultOptions() Options {
	return Options{
		AutoIntrospect:             DefaultAutoIntrospect,
		MinIntrospectInterval:      DefaultMinIntrospectInterval,
		MinUserinfoRefreshInterval: DefaultMinUserinfoRefreshInterval,
		RevokeOnDelete:             DefaultRevokeOnDelete,
	}
}

// WithDefaults fills the zero-valued duration fields of o with the library
// defaults. Boolean fields are left as given: an explicit false for
// AutoIntrospect/RevokeOnDelete cannot be distinguished from "unset" by a
// plain struct, so an Options literal that omits them has both turned off,
// while DefaultOptions() returns them turned on.
func (o Options) WithDefaults() Options {
	if o.MinIntrospectInterval == 0 {
		o.MinIntrospectInterval = DefaultMinIntrospectInterval
	}
	if o.MinUserinfoRefreshInterval == 0 {
		o.MinUserinfoRefreshInterval = DefaultMinUserinfoRefreshInterval
	}
	return o
}
