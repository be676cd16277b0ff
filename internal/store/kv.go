package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// KV is an ordered, durable map of byte values grouped into buckets.
// Scan visits keys in ascending byte order.
type KV interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Insert(ctx context.Context, bucket, key string, value []byte) error
	Put(ctx context.Context, bucket, key string, value []byte) error
	Update(ctx context.Context, bucket, key string, value []byte) error
	Remove(ctx context.Context, bucket, key string) error
	Scan(ctx context.Context, bucket, prefix string, fn func(key string, value []byte) error) error
	// Next returns the next value of a named monotonic counter, starting at 1.
	Next(ctx context.Context, counter string) (uint64, error)
	Ping(ctx context.Context) error
}
