package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// SessionArchive is everything recorded for a finished session.
type SessionArchive struct {
	Session   Session
	Trades    []Trade
	Positions []Position
	Snapshots []PerformanceSnapshot
}

// Archiver moves finished sessions to cold storage and returns the key
// prefix the objects were written under.
type Archiver interface {
	ArchiveSession(ctx context.Context, archive SessionArchive) (string, error)
}
