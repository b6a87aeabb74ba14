package upstream

import "context"

type bearerKey struct{}

// WithBearer attaches the caller's bearer credential to ctx.  Calls made
// with the returned context carry it as an Authorization header.
func WithBearer(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, bearerKey{}, token)
}

// BearerFrom returns the credential attached with WithBearer.
func BearerFrom(ctx context.Context) string {
	s, _ := ctx.Value(bearerKey{}).(string)
	return s
}
