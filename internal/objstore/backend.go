// Package objstore is the content-addressed gateway to the layered object
// store. Every write goes through Gateway.Put, which refuses to store a
// payload whose hash already exists in the destination folder.
package objstore

import (
	"context"

	"github.com/rotisserie/eris"
)

// Sentinel errors shared by all backends.
var (
	ErrNotFound     = eris.New("objstore: object not found")
	ErrUnauthorized = eris.New("objstore: authentication failed")
)

// ObjectInfo describes a stored object. Metadata is only populated by Stat.
type ObjectInfo struct {
	Key      string
	Size     int64
	Metadata map[string]string
}

// Backend is the minimal object store surface the gateway needs.
type Backend interface {
	// Ping verifies credentials. Authentication failures return ErrUnauthorized.
	Ping(ctx context.Context) error
	BucketExists(ctx context.Context) (bool, error)
	CreateBucket(ctx context.Context) error
	EnableVersioning(ctx context.Context) error
	// List returns every object under prefix, recursively, ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Stat returns size and metadata, or ErrNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Get returns payload and metadata, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, map[string]string, error)
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
}
