// Package crypto provides node identity keys, transaction signing and
// HMAC authentication for peer connections.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

var errEmptyPassword = errors.New("crypto: password must not be empty")

// keyFile is the on-disk form of an encrypted identity key. Byte fields are
// base64 in JSON. The address is authenticated as GCM additional data, so a
// file whose address was edited fails to open.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Salt       []byte         `json:"salt"`
	Nonce      []byte         `json:"nonce"`
	Ciphertext []byte         `json:"ciphertext"`
}

// KeyConfig says where LoadSigner finds the identity key.
type KeyConfig struct {
	// RawPrivateKey is hex, with or without 0x. It wins over the key file.
	RawPrivateKey string

	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM and returns the key file JSON.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errEmptyPassword
	}
	signer, err := NewSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(signer.PrivateKeyHex())
	if err != nil {
		return nil, fmt.Errorf("crypto: encode key: %w", err)
	}

	kf := keyFile{Version: keyFileVersion, Address: signer.Address(), Salt: make([]byte, saltLen)}
	if _, err := rand.Read(kf.Salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	aead, err := deriveAEAD(password, kf.Salt)
	if err != nil {
		return nil, err
	}
	kf.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(kf.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	kf.Ciphertext = aead.Seal(nil, kf.Nonce, raw, kf.Address.Bytes())
	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens key file JSON with password and returns the private key
// as hex without 0x.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	aead, err := deriveAEAD(password, kf.Salt)
	if err != nil {
		return "", err
	}
	if len(kf.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: key file nonce is %d bytes", len(kf.Nonce))
	}
	raw, err := aead.Open(nil, kf.Nonce, kf.Ciphertext, kf.Address.Bytes())
	if err != nil {
		return "", fmt.Errorf("crypto: open key file (wrong password?): %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func deriveAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create gcm: %w", err)
	}
	return aead, nil
}

// WriteKeyFile encrypts s under password and writes it to path, readable by
// the owner only.
func WriteKeyFile(path string, s *Signer, password string) error {
	data, err := EncryptKey(s.PrivateKeyHex(), password)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("crypto: create key dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	return nil
}

// LoadSigner resolves the identity key from the raw key, else the key file.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	if raw := strings.TrimSpace(cfg.RawPrivateKey); raw != "" {
		return NewSigner(raw)
	}
	if cfg.EncryptedKeyPath == "" {
		return nil, errors.New("crypto: no identity key configured (set private_key or key_file)")
	}

	data, err := os.ReadFile(cfg.EncryptedKeyPath)
	if err != nil {
		return nil, fmt.Errorf("crypto: read key file: %w", err)
	}
	keyHex, err := DecryptKey(data, cfg.KeyPassword)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyHex)
}
