package chain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

const (
	keyFileVersion   = 1
	keyFileIter      = 480_000
	keyFileSaltBytes = 16
	keyFileAESBytes  = 32
)

// keyFile is the on-disk form of a password-protected searcher key.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SearcherKey names where the searcher key comes from. A raw key wins over
// an encrypted file.
type SearcherKey struct {
	PrivateKey       string
	EncryptedKeyPath string
	Password         string
}

// LoadSearcherKey resolves and parses the searcher's private key.
func LoadSearcherKey(src SearcherKey) (*ecdsa.PrivateKey, error) {
	var keyHex string
	switch {
	case src.PrivateKey != "":
		keyHex = src.PrivateKey
	case src.EncryptedKeyPath != "":
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("keyfile: read %s: %w", src.EncryptedKeyPath, err)
		}
		if keyHex, err = OpenKeyFile(data, src.Password); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("keyfile: %w: no searcher key configured", domain.ErrConfiguration)
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("keyfile: %w: invalid private key", domain.ErrConfiguration)
	}
	return key, nil
}

// SearcherAddress returns the address of the configured searcher key, or
// the zero address when none is configured.
func SearcherAddress(src SearcherKey) (common.Address, error) {
	if src.PrivateKey == "" && src.EncryptedKeyPath == "" {
		return common.Address{}, nil
	}
	key, err := LoadSearcherKey(src)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// SealKeyFile encrypts a hex private key under password with
// PBKDF2-SHA256 and AES-256-GCM and returns the JSON document.
func SealKeyFile(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("keyfile: empty password")
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("keyfile: invalid private key: %w", err)
	}

	salt := make([]byte, keyFileSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keyfile: salt: %w", err)
	}
	gcm, err := keyFileCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keyfile: nonce: %w", err)
	}

	enc := base64.StdEncoding
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}, "", "  ")
}

// OpenKeyFile decrypts a document produced by SealKeyFile and returns the
// private key as hex.
func OpenKeyFile(data []byte, password string) (string, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("keyfile: parse: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("keyfile: unsupported version %d", kf.Version)
	}

	enc := base64.StdEncoding
	salt, err := enc.DecodeString(kf.Salt)
	if err != nil {
		return "", fmt.Errorf("keyfile: salt: %w", err)
	}
	nonce, err := enc.DecodeString(kf.Nonce)
	if err != nil {
		return "", fmt.Errorf("keyfile: nonce: %w", err)
	}
	sealed, err := enc.DecodeString(kf.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("keyfile: ciphertext: %w", err)
	}

	gcm, err := keyFileCipher(password, salt)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("keyfile: wrong password or corrupt file: %w", err)
	}
	return hex.EncodeToString(plain), nil
}

func keyFileCipher(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, keyFileIter, keyFileAESBytes, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("keyfile: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keyfile: gcm: %w", err)
	}
	return gcm, nil
}
