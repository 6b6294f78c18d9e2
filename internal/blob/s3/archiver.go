package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

const (
	txPrefix      = "transactions/"
	txContentType = "application/json"

	// Transactions at least this large go through the multipart uploader.
	multipartThreshold = int(minPartSize)
)

// multipartWriter is implemented by Bucket.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// TxArchiver implements domain.TxArchive by storing each committed
// transaction as one JSON object keyed by its id:
//
//	transactions/0x5f3c...e1.json
type TxArchiver struct {
	store domain.BlobStore
}

// NewTxArchiver creates a TxArchiver over the given blob store.
func NewTxArchiver(store domain.BlobStore) *TxArchiver {
	return &TxArchiver{store: store}
}

// Archive uploads stx unless its object already exists. Ids are content
// hashes, so an existing object already holds the same transaction.
func (a *TxArchiver) Archive(ctx context.Context, stx domain.SignedTransaction) error {
	path := txPath(stx.ID)
	if ok, err := a.store.Exists(ctx, path); err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", stx.ID.Hex(), err)
	} else if ok {
		return nil
	}

	data, err := json.Marshal(stx)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", stx.ID.Hex(), err)
	}
	if mw, ok := a.store.(multipartWriter); ok && len(data) >= multipartThreshold {
		if err := mw.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize); err != nil {
			return fmt.Errorf("s3blob: archive %s: %w", stx.ID.Hex(), err)
		}
		return nil
	}
	if err := a.store.Put(ctx, path, bytes.NewReader(data), txContentType); err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", stx.ID.Hex(), err)
	}
	return nil
}

// Fetch downloads an archived transaction. It returns domain.ErrNotFound
// when no object exists and an error when the stored id does not match the
// contents.
func (a *TxArchiver) Fetch(ctx context.Context, id domain.TxID) (domain.SignedTransaction, error) {
	body, err := a.store.Get(ctx, txPath(id))
	if err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("s3blob: fetch %s: %w", id.Hex(), err)
	}
	defer body.Close()

	var stx domain.SignedTransaction
	if err := json.NewDecoder(body).Decode(&stx); err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("s3blob: fetch %s decode: %w", id.Hex(), err)
	}
	if stx.ID != id || stx.Tx.ID() != id {
		return domain.SignedTransaction{}, fmt.Errorf("s3blob: fetch %s: stored transaction does not hash to its key", id.Hex())
	}
	return stx, nil
}

// List returns the ids of every archived transaction.
func (a *TxArchiver) List(ctx context.Context) ([]domain.TxID, error) {
	infos, err := a.store.List(ctx, txPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archive: %w", err)
	}
	ids := make([]domain.TxID, 0, len(infos))
	for _, info := range infos {
		name := strings.TrimSuffix(strings.TrimPrefix(info.Path, txPrefix), ".json")
		if !strings.HasPrefix(name, "0x") || len(name) != 66 {
			continue
		}
		ids = append(ids, common.HexToHash(name))
	}
	return ids, nil
}

// txPath builds the object key for a transaction id.
func txPath(id domain.TxID) string {
	return txPrefix + id.Hex() + ".json"
}

// Compile-time interface check.
var _ domain.TxArchive = (*TxArchiver)(nil)
