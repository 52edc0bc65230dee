package domain

import (
	"context"
	"time"
)

// ObjectMeta is stored alongside each bucket object.
type ObjectMeta struct {
	Author    string    `json:"author"`
	WrittenAt time.Time `json:"written_at"`
}

// Object is a stored value plus its metadata.
type Object struct {
	Key  string
	Data []byte
	Meta ObjectMeta
}

// Bucket is a flat key/value object store. Keys are opaque strings; "/" has
// no meaning to the bucket itself.
type Bucket interface {
	// Get returns the object at key. Missing keys report ok=false and a nil error.
	Get(ctx context.Context, key string) (obj *Object, ok bool, err error)
	Put(ctx context.Context, key string, data []byte, meta ObjectMeta) error
	// List returns every key starting with prefix, in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// StateStore persists the durable state of hosted agent identities.
type StateStore interface {
	// Load returns the raw state for identity. Missing identities report
	// ok=false and a nil error.
	Load(ctx context.Context, identity string) (data []byte, ok bool, err error)
	Save(ctx context.Context, identity string, data []byte) error
}

// DocumentStore is a sandboxed file-like view over a Bucket.
type DocumentStore interface {
	Write(ctx context.Context, path, content string) error
	Read(ctx context.Context, path string) (content string, ok bool, err error)
	List(ctx context.Context, dir string) ([]string, error)
}
