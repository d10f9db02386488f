package auth

import "context"

// Identity is the verified caller. Subject is the identity provider's stable
// user id and becomes the record owner.
type Identity struct {
	Subject string
}

// Authenticated reports whether the identity carries a subject.
func (i Identity) Authenticated() bool {
	return i.Subject != ""
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the caller identity, or the zero Identity when none was set.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}
