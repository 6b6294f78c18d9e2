package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testTx(notary common.Address) domain.SignedTransaction {
	lender := domain.Party{Name: "Alice", Address: common.HexToAddress("0xa1")}
	borrower := domain.Party{Name: "Bob", Address: common.HexToAddress("0xb0")}
	iou := domain.NewIOU(domain.NewAmount(1000, "GBP"), lender, borrower)
	return domain.NewSignedTransaction(domain.WireTransaction{
		Outputs:     []domain.State{domain.IOUState(iou)},
		Commands:    []domain.Command{{Type: domain.CommandIssue, Signers: domain.Addresses(lender, borrower)}},
		Notary:      domain.Party{Name: "Notary", Address: notary},
		PrivacySalt: "salt",
	})
}

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, testKey, s.PrivateKeyHex())

	stx := testTx(common.HexToAddress("0x99"))
	sig, err := s.SignTx(stx.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sig.By)
	assert.Len(t, sig.Bytes, 65)
	assert.GreaterOrEqual(t, sig.Bytes[64], byte(27))

	addr, err := RecoverSigner(stx.ID, sig.Bytes)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
	require.NoError(t, VerifySignature(stx.ID, sig))

	other := common.HexToHash("0x1234")
	assert.ErrorIs(t, VerifySignature(other, sig), domain.ErrInvalidSignature)

	forged := sig
	forged.By = common.HexToAddress("0xb0")
	assert.ErrorIs(t, VerifySignature(stx.ID, forged), domain.ErrInvalidSignature)

	_, err = RecoverSigner(stx.ID, []byte{1, 2, 3})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyTransaction(t *testing.T) {
	a, err := GenerateSigner()
	require.NoError(t, err)
	b, err := GenerateSigner()
	require.NoError(t, err)

	stx := testTx(common.HexToAddress("0x99"))
	sigA, err := a.SignTx(stx.ID)
	require.NoError(t, err)
	stx = stx.WithSignature(sigA)

	require.NoError(t, VerifyTransaction(stx, a.Address()))
	assert.ErrorIs(t, VerifyTransaction(stx, a.Address(), b.Address()), domain.ErrInvalidSignature)

	sigB, err := b.SignTx(stx.ID)
	require.NoError(t, err)
	stx = stx.WithSignature(sigB)
	require.NoError(t, VerifyTransaction(stx, a.Address(), b.Address()))

	tampered := stx
	tampered.Tx.PrivacySalt = "changed"
	assert.ErrorIs(t, VerifyTransaction(tampered), domain.ErrInvalidSignature)
}

func TestKeyFileRoundTrip(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "node.json")
	require.NoError(t, WriteKeyFile(path, s, "hunter2"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), loaded.Address())

	_, err = LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)

	raw, err := LoadSigner(KeyConfig{RawPrivateKey: testKey, EncryptedKeyPath: path})
	require.NoError(t, err)
	assert.Equal(t, testKey, raw.PrivateKeyHex())

	_, err = LoadSigner(KeyConfig{})
	assert.Error(t, err)

	_, err = EncryptKey(testKey, "")
	assert.Error(t, err)
}

func TestPeerAuth(t *testing.T) {
	auth := &PeerAuth{Secret: "network-secret", MaxClockSkew: 10 * time.Second}
	hs := Handshake{
		From:        "Alice",
		FromAddress: "0x00000000000000000000000000000000000000A1",
		SessionID:   "sess-1",
		Protocol:    "iou-issue",
	}
	now := time.Unix(1_700_000_000, 0)
	hdr := auth.HeadersAt(hs, now.Unix())

	got, err := auth.Verify(hdr, now.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "iou-issue", got.Protocol)
	assert.Equal(t, now.Unix(), got.Timestamp)

	_, err = auth.Verify(hdr, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrStaleTimestamp)

	tampered := hdr.Clone()
	tampered.Set(HeaderProtocol, "iou-settle")
	_, err = auth.Verify(tampered, now)
	assert.ErrorIs(t, err, ErrBadSignature)

	wrongSecret := &PeerAuth{Secret: "other"}
	_, err = wrongSecret.Verify(hdr, now)
	assert.ErrorIs(t, err, ErrBadSignature)

	missing := hdr.Clone()
	missing.Del(HeaderSignature)
	_, err = auth.Verify(missing, now)
	assert.ErrorIs(t, err, ErrMissingHeader)

	assert.NotContains(t, auth.String(), "network-secret")
}

func TestDecryptKeyRejectsEditedAddress(t *testing.T) {
	data, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	var kf map[string]any
	require.NoError(t, json.Unmarshal(data, &kf))
	kf["address"] = "0x00000000000000000000000000000000000000b0"
	edited, err := json.Marshal(kf)
	require.NoError(t, err)

	_, err = DecryptKey(edited, "hunter2")
	assert.Error(t, err)

	got, err := DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)
}
