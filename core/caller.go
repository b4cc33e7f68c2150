package core

import "context"

type callerKey struct{}

// WithCaller returns a context carrying the logical caller id recorded in
// state audit trails.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext extracts the caller id set via WithCaller, or
// "unknown" when none is present.
func CallerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
