package model

import "context"

type ContextCache interface {
	// Get returns a cached context result; found is false on a miss.
	Get(ctx context.Context, key string) (result *ContextResult, found bool, err error)

	// Set stores a context result under key, replacing any previous entry.
	Set(ctx context.Context, key string, result ContextResult) error

	// Invalidate drops a single entry.
	Invalidate(ctx context.Context, key string) error
}
