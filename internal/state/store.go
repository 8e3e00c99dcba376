package state

import "context"

// Store is a string key-value store. SetMany writes all pairs or none.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
