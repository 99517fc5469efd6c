package storage

import "context"

// ObjectStore is the narrow object-storage boundary the processor depends
// on: enumerate usage files under a month-scoped prefix, read them, and
// read/write the state document. Implementations own transport concerns.
type ObjectStore interface {
	// List returns the keys of all objects under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Get reads an object. A missing key is reported as ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes an object, overwriting any existing content.
	Put(ctx context.Context, key string, body []byte, contentType string) error
}
