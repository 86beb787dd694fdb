package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver exports the append-only logs to cold storage for reconciliation.
type Archiver interface {
	ArchiveRewards(ctx context.Context, since, until time.Time) (int64, error)
	ArchiveEvents(ctx context.Context, since, until time.Time) (int64, error)
}
