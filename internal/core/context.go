package core

import "context"

type clientKey struct{}

// Client identifies who opened a session. It is stored on the session and
// copied onto every recorded run.
type Client struct {
	IPAddress string
	UserAgent string
}

// WithClient attaches the caller to ctx for Create.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFromContext returns the caller stored by WithClient, or the zero
// Client for background and CLI contexts.
func ClientFromContext(ctx context.Context) Client {
	c, _ := ctx.Value(clientKey{}).(Client)
	return c
}
