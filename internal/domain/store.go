package domain

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists position history. The engine is the source of
// truth; the store is a write-behind mirror for querying and audit.
type PositionStore interface {
	Insert(ctx context.Context, pos Position) error
	MarkClosed(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id uint64) (Position, error)
	ListOpen(ctx context.Context, owner common.Address) ([]Position, error)
	ListHistory(ctx context.Context, owner common.Address, opts ListOpts) ([]Position, error)
}

// RoundStore keeps an append-only trail of accepted oracle rounds.
type RoundStore interface {
	Insert(ctx context.Context, feed common.Address, round Round, relayer common.Address) error
	ListByFeed(ctx context.Context, feed common.Address, opts ListOpts) ([]Round, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of engine events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// RoundCache mirrors the latest accepted round per feed for cheap reads by
// relayers and API clients.
type RoundCache interface {
	SetLatest(ctx context.Context, feed common.Address, round Round) error
	GetLatest(ctx context.Context, feed common.Address) (Round, error)
}

// SignalBus publishes engine events (rounds accepted, positions opened and
// settled) to interested subscribers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed mutual exclusion, used to elect a single
// active relayer instance.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RateLimiter throttles callers under a sliding-window limit, keyed by an
// arbitrary string such as a client address.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Archiver exports settled positions to long-term blob storage.
type Archiver interface {
	ArchiveClosed(ctx context.Context, day time.Time, positions []Position) (string, error)
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves objects and metadata from blob storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
