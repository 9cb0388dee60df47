package ratelimit

import (
	"context"
	"strings"
)

// IdentityKind tells which part of the request an Identity was derived from.
type IdentityKind int

const (
	// IdentityUnknown is used when neither a principal nor an address is available.
	IdentityUnknown IdentityKind = iota
	// IdentityUser is an authenticated principal.
	IdentityUser
	// IdentityAddress is the peer network address.
	IdentityAddress
)

// Identity is the caller a sliding window is kept for.
// The zero value is the unknown identity.
type Identity struct {
	kind  IdentityKind
	value string
}

// UserIdentity returns the identity of an authenticated principal.
func UserIdentity(id string) Identity {
	return Identity{kind: IdentityUser, value: id}
}

// AddressIdentity returns the identity of an unauthenticated peer address.
func AddressIdentity(addr string) Identity {
	return Identity{kind: IdentityAddress, value: addr}
}

// UnknownIdentity returns the fallback identity shared by all anonymous callers
// whose address could not be determined.
func UnknownIdentity() Identity {
	return Identity{}
}

// ResolveIdentity prefers the principal id over the peer address.
// Blank values count as absent. It never fails; it only degrades to a less
// specific bucket.
func ResolveIdentity(principalID, addr string) Identity {
	if id := strings.TrimSpace(principalID); id != "" {
		return UserIdentity(id)
	}

	if ip := strings.TrimSpace(addr); ip != "" {
		return AddressIdentity(ip)
	}

	return UnknownIdentity()
}

// Kind returns what the identity was derived from.
func (i Identity) Kind() IdentityKind {
	return i.kind
}

// String returns the client id used in rate limit keys.
func (i Identity) String() string {
	switch i.kind {
	case IdentityUser:
		return "user:" + i.value
	case IdentityAddress:
		return "ip:" + i.value
	default:
		return "ip:unknown"
	}
}

type identityKey struct{}

// ContextWithIdentity stores the resolved caller identity in ctx.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by ContextWithIdentity,
// or the unknown identity if none was stored.
func IdentityFromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}

	return UnknownIdentity()
}
