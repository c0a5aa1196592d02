// Package remote holds the shared document store adapters that the sync
// engine reconciles against, and the lease fences the delivery queue uses to
// coordinate across devices.
package remote

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnavailable = errors.New("remote: unavailable")
	ErrFenceHeld   = errors.New("remote: fence held by another owner")
)

// Adapter is a document store keyed by collection and document id. Documents
// are opaque JSON blobs; decoding belongs to the caller.
type Adapter interface {
	GetAllDocuments(ctx context.Context, collection string) (map[string][]byte, error)
	SetDocument(ctx context.Context, collection, id string, doc []byte) error
	DeleteDocument(ctx context.Context, collection, id string) error
	Ping(ctx context.Context) error
}

// Fence is a cross-device lease. Acquire returns a token that grows with
// every successful acquisition of key; Release only succeeds with the token
// of the current holder.
type Fence interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (uint64, error)
	Release(ctx context.Context, key string, token uint64) error
}

type lease struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (l lease) heldByOther(owner string, now time.Time) bool {
	return l.Owner != owner && now.Before(l.ExpiresAt)
}
