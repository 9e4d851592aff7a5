package connector

import (
	"context"
)

// Dialer opens connections. RemoteExecutor takes one so tests can count or
// intercept dials.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Connection, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg Config) (Connection, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Connection, error) {
	return f(ctx, cfg)
}

type sshDialer struct{}

// NewDialer returns the SSH dialer backed by NewConnection.
func NewDialer() Dialer {
	return &sshDialer{}
}

func (d *sshDialer) Dial(ctx context.Context, cfg Config) (Connection, error) {
	return NewConnection(ctx, cfg)
}

var _ Dialer = (*sshDialer)(nil)
