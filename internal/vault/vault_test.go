package vault

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

var (
	alice   = domain.Party{Name: "Alice", Address: common.HexToAddress("0xa1")}
	bob     = domain.Party{Name: "Bob", Address: common.HexToAddress("0xb0")}
	charlie = domain.Party{Name: "Charlie", Address: common.HexToAddress("0xc4")}
	notary  = domain.Party{Name: "Notary", Address: common.HexToAddress("0x99")}
)

func TestMemoryRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	v := NewMemory()

	iou := domain.NewIOU(domain.NewAmount(1000, "GBP"), alice, bob)
	issue := domain.NewSignedTransaction(domain.WireTransaction{
		Outputs:     []domain.State{domain.IOUState(iou)},
		Commands:    []domain.Command{{Type: domain.CommandIssue, Signers: domain.Addresses(alice, bob)}},
		Notary:      notary,
		PrivacySalt: "1",
	})
	require.NoError(t, v.Record(ctx, issue))
	require.NoError(t, v.Record(ctx, issue), "recording twice is a no-op")

	got, err := v.Query(ctx, domain.Criteria{Kind: domain.KindIOU})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, issue.Tx.OutRef(0), got[0].Ref)

	transfer := domain.NewSignedTransaction(domain.WireTransaction{
		Inputs:      []domain.StateRef{issue.Tx.OutRef(0)},
		Outputs:     []domain.State{domain.IOUState(iou.WithNewLender(charlie))},
		Commands:    []domain.Command{{Type: domain.CommandTransfer, Signers: domain.Addresses(bob, alice, charlie)}},
		Notary:      notary,
		PrivacySalt: "2",
	})
	require.NoError(t, v.Record(ctx, transfer))

	got, err = v.Query(ctx, domain.Criteria{Kind: domain.KindIOU, LinearID: iou.LinearID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, charlie, got[0].State.IOU.Lender)

	got, err = v.Query(ctx, domain.Criteria{Participant: alice.Address})
	require.NoError(t, err)
	assert.Empty(t, got, "alice's IOU was consumed")

	stx, err := v.Transaction(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, issue.ID, stx.ID)

	_, err = v.Transaction(ctx, common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryRejectsMismatchedID(t *testing.T) {
	stx := domain.NewSignedTransaction(domain.WireTransaction{Notary: notary, PrivacySalt: "x"})
	stx.Tx.PrivacySalt = "y"
	assert.Error(t, NewMemory().Record(context.Background(), stx))
}
