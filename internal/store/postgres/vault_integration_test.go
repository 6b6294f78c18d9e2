//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

var (
	alice   = domain.Party{Name: "Alice", Address: common.HexToAddress("0xa1")}
	bob     = domain.Party{Name: "Bob", Address: common.HexToAddress("0xb0")}
	charlie = domain.Party{Name: "Charlie", Address: common.HexToAddress("0xc4")}
	notary  = domain.Party{Name: "Notary", Address: common.HexToAddress("0x99")}
)

// setupClient starts a disposable PostgreSQL container, applies migrations
// and returns a connected Client.
func setupClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("iouledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	require.NoError(t, client.RunMigrations(ctx), "migrations are idempotent")
	return client
}

func TestIntegration_Vault(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	v := NewVault(client.Pool())

	iou := domain.NewIOU(domain.NewAmount(1000, "GBP"), alice, bob)
	cash := domain.Cash{Issuer: bob, Owner: bob, Amount: domain.NewAmount(600, "GBP")}
	issue := domain.NewSignedTransaction(domain.WireTransaction{
		Outputs:     []domain.State{domain.IOUState(iou), domain.CashState(cash)},
		Commands:    []domain.Command{{Type: domain.CommandIssue, Signers: domain.Addresses(alice, bob)}},
		Notary:      notary,
		PrivacySalt: "1",
	})
	require.NoError(t, v.Record(ctx, issue))
	require.NoError(t, v.Record(ctx, issue))

	all, err := v.Query(ctx, domain.Criteria{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, issue.Tx.OutRef(0), all[0].Ref)
	assert.True(t, all[0].State.Equal(domain.IOUState(iou)))

	owned, err := v.Query(ctx, domain.Criteria{Kind: domain.KindCash, Owner: bob.Address, Currency: "GBP"})
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, int64(600), owned[0].State.Cash.Amount.Quantity)

	transfer := domain.NewSignedTransaction(domain.WireTransaction{
		Inputs:      []domain.StateRef{issue.Tx.OutRef(0)},
		Outputs:     []domain.State{domain.IOUState(iou.WithNewLender(charlie))},
		Commands:    []domain.Command{{Type: domain.CommandTransfer, Signers: domain.Addresses(bob, alice, charlie)}},
		Notary:      notary,
		PrivacySalt: "2",
	})
	require.NoError(t, v.Record(ctx, transfer))

	ious, err := v.Query(ctx, domain.Criteria{Kind: domain.KindIOU, Participant: charlie.Address})
	require.NoError(t, err)
	require.Len(t, ious, 1)
	assert.Equal(t, transfer.Tx.OutRef(0), ious[0].Ref)

	gone, err := v.Query(ctx, domain.Criteria{Kind: domain.KindIOU, Participant: alice.Address})
	require.NoError(t, err)
	assert.Empty(t, gone)

	got, err := v.Transaction(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.ID, got.ID)
	assert.Equal(t, transfer.Tx.ID(), got.Tx.ID(), "round trip preserves the id")

	_, err = v.Transaction(ctx, common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIntegration_AuditStore(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	log := NewAuditStore(client.Pool())

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, log.Log(ctx, domain.TxEvent{Event: domain.EventIOUIssued, Node: "Alice", Protocol: "iou-issue", TxID: "0x01", At: base}))
	require.NoError(t, log.Log(ctx, domain.TxEvent{Event: domain.EventFlowAborted, Node: "Alice", Protocol: "iou-settle", Error: "boom", At: base.Add(time.Second)}))

	events, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventFlowAborted, events[0].Event)
	assert.Equal(t, "boom", events[0].Error)
}
