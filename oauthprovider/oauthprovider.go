// Package oauthprovider declares the OAuth token source Auth uses when
// posting to initial_data and zinc. The embedding application owns
// token acquisition and refresh; Auth only ever asks for the current
// token.
package oauthprovider

import "context"

// Provider returns the bearer token to attach to outgoing auth requests.
type Provider interface {
	// Token returns the current OAuth token, refreshing it first if it
	// is expired or about to expire. A non-nil error is always
	// Transient from Auth's point of view: a dead token source means
	// retry later, not permanent failure.
	Token(ctx context.Context) (string, error)
}

// Static is a Provider that always returns the same token, useful for
// tests and for embedders that manage their own refresh out of band.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	return string(s), nil
}
