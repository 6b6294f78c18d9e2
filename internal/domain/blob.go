package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobStore is flat object storage addressed by slash-separated paths. Get
// returns ErrNotFound for a missing path.
type BlobStore interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// TxArchive keeps an off-node copy of committed transactions.
type TxArchive interface {
	Archive(ctx context.Context, stx SignedTransaction) error
	Fetch(ctx context.Context, id TxID) (SignedTransaction, error)
}
