package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// memBlobs is an in-memory blob store.
type memBlobs struct {
	mu    sync.Mutex
	objs  map[string][]byte
	types map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objs: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[path]
	if !ok {
		return nil, fmt.Errorf("mem: %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[path]
	return ok, nil
}

func sampleTx() domain.SignedTransaction {
	alice := domain.Party{Name: "Alice", Address: common.HexToAddress("0xa1")}
	bob := domain.Party{Name: "Bob", Address: common.HexToAddress("0xb0")}
	return domain.NewSignedTransaction(domain.WireTransaction{
		Outputs:     []domain.State{domain.IOUState(domain.NewIOU(domain.NewAmount(1000, "GBP"), alice, bob))},
		Commands:    []domain.Command{{Type: domain.CommandIssue, Signers: domain.Addresses(alice, bob)}},
		Notary:      domain.Party{Name: "Notary", Address: common.HexToAddress("0x99")},
		PrivacySalt: "salt",
	})
}

func TestTxArchiverRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewTxArchiver(blobs)
	stx := sampleTx()

	require.NoError(t, a.Archive(ctx, stx))
	path := "transactions/" + stx.ID.Hex() + ".json"
	assert.Equal(t, "application/json", blobs.types[path])

	got, err := a.Fetch(ctx, stx.ID)
	require.NoError(t, err)
	assert.Equal(t, stx.ID, got.ID)
	assert.Equal(t, stx.Tx.ID(), got.Tx.ID())

	ids, err := a.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.TxID{stx.ID}, ids)
}

func TestTxArchiverFetchMissing(t *testing.T) {
	blobs := newMemBlobs()
	_, err := NewTxArchiver(blobs).Fetch(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTxArchiverSkipsArchivedTransaction(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewTxArchiver(blobs)
	stx := sampleTx()
	require.NoError(t, a.Archive(ctx, stx))

	path := txPath(stx.ID)
	blobs.types[path] = "marker"
	require.NoError(t, a.Archive(ctx, stx))
	assert.Equal(t, "marker", blobs.types[path], "second archive does not upload again")
}

func TestTxArchiverRejectsTamperedObject(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewTxArchiver(blobs)
	stx := sampleTx()
	require.NoError(t, a.Archive(ctx, stx))

	path := txPath(stx.ID)
	blobs.objs[path] = bytes.Replace(blobs.objs[path], []byte(`"salt"`), []byte(`"pepper"`), 1)
	_, err := a.Fetch(ctx, stx.ID)
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://s3.example.com", normaliseEndpoint("s3.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &types.NoSuchKey{})))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.False(t, isNotFound(fmt.Errorf("timeout")))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "ledger"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "ledger", Region: "us-east-1", AccessKey: "only-half"})
	assert.ErrorContains(t, err, "set together")
}
