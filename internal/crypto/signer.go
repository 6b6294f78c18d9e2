package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// signaturePrefix domain-separates transaction signatures from any other
// use of the same key.
var signaturePrefix = []byte("\x19IOU Ledger Signed Transaction:\n32")

// Signer signs transaction ids with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return newSigner(pk), nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return newSigner(pk), nil
}

func newSigner(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
}

// Address returns the address derived from the signer's public key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the hex-encoded private key without 0x prefix.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(s.privateKey))
}

// SignTx signs a transaction id.
func (s *Signer) SignTx(id domain.TxID) (domain.Signature, error) {
	sig, err := ethcrypto.Sign(txDigest(id), s.privateKey)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("crypto/signer: signing %s: %w: %v", id.Hex(), domain.ErrSigningFailed, err)
	}

	// go-ethereum returns v in {0,1}; the wire form carries {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return domain.Signature{By: s.address, Bytes: sig}, nil
}

// RecoverSigner returns the address that produced sig over id.
func RecoverSigner(id domain.TxID, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d: %w", len(sig), domain.ErrInvalidSignature)
	}
	raw := make([]byte, 65)
	copy(raw, sig)
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(txDigest(id), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w: %v", domain.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that sig was produced over id by sig.By.
func VerifySignature(id domain.TxID, sig domain.Signature) error {
	addr, err := RecoverSigner(id, sig.Bytes)
	if err != nil {
		return err
	}
	if addr != sig.By {
		return fmt.Errorf("crypto/signer: signature claims %s but was made by %s: %w",
			sig.By.Hex(), addr.Hex(), domain.ErrInvalidSignature)
	}
	return nil
}

// VerifyTransaction checks that stx.ID matches its contents, every attached
// signature is valid, and each address in required has signed.
func VerifyTransaction(stx domain.SignedTransaction, required ...common.Address) error {
	if got := stx.Tx.ID(); got != stx.ID {
		return fmt.Errorf("crypto/signer: transaction id %s does not match contents %s: %w",
			stx.ID.Hex(), got.Hex(), domain.ErrInvalidSignature)
	}
	for _, sig := range stx.Signatures {
		if err := VerifySignature(stx.ID, sig); err != nil {
			return err
		}
	}
	for _, addr := range required {
		if !stx.SignedBy(addr) {
			return fmt.Errorf("crypto/signer: missing signature from %s: %w", addr.Hex(), domain.ErrInvalidSignature)
		}
	}
	return nil
}

// txDigest computes keccak256(prefix || id).
func txDigest(id domain.TxID) []byte {
	return ethcrypto.Keccak256(signaturePrefix, id.Bytes())
}
