package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode"
	"unicode/utf8"

	"github.com/paybyt/paybyt-wallet/internal/chain"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters of new vaults.
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // KiB
	argon2Parallelism = 4
	argon2KeyLen      = 32 // AES-256
	argon2SaltLen     = 32
)

const vaultVersion = 1

// Password limits.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

var (
	ErrWrongPassword = errors.New("wrong password or corrupt vault")
	ErrWeakPassword  = errors.New("weak password")
	ErrNoVault       = errors.New("no wallet vault")
)

// Vault is a mnemonic encrypted with Argon2id + AES-256-GCM. The network
// is bound as additional data, so a vault cannot be reopened on another
// network.
type Vault struct {
	Version     int           `json:"version"`
	Network     chain.Network `json:"network"`
	Ciphertext  []byte        `json:"ciphertext"`
	Salt        []byte        `json:"salt"`
	Nonce       []byte        `json:"nonce"`
	Time        uint32        `json:"time"`
	Memory      uint32        `json:"memory"`
	Parallelism uint8         `json:"parallelism"`
}

// vaultSecret is the plaintext of a vault.
type vaultSecret struct {
	Mnemonic   string `json:"mnemonic"`
	Passphrase string `json:"passphrase,omitempty"`
}

// SealMnemonic encrypts a mnemonic and its BIP39 passphrase under password.
func SealMnemonic(mnemonic, passphrase, password string, network chain.Network) (*Vault, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	v := &Vault{
		Version:     vaultVersion,
		Network:     network,
		Salt:        salt,
		Time:        argon2Time,
		Memory:      argon2Memory,
		Parallelism: argon2Parallelism,
	}

	gcm, err := v.cipher(password)
	if err != nil {
		return nil, err
	}

	v.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(v.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	plaintext, err := json.Marshal(vaultSecret{Mnemonic: mnemonic, Passphrase: passphrase})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal secret: %w", err)
	}
	defer SecureClear(plaintext)

	v.Ciphertext = gcm.Seal(nil, v.Nonce, plaintext, []byte(network))
	return v, nil
}

// Open decrypts the vault and returns the mnemonic and passphrase.
func (v *Vault) Open(password string) (mnemonic, passphrase string, err error) {
	if v.Version != vaultVersion {
		return "", "", fmt.Errorf("unsupported vault version %d", v.Version)
	}

	gcm, err := v.cipher(password)
	if err != nil {
		return "", "", err
	}
	if len(v.Nonce) != gcm.NonceSize() {
		return "", "", ErrWrongPassword
	}

	plaintext, err := gcm.Open(nil, v.Nonce, v.Ciphertext, []byte(v.Network))
	if err != nil {
		return "", "", ErrWrongPassword
	}
	defer SecureClear(plaintext)

	var secret vaultSecret
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return "", "", ErrWrongPassword
	}
	return secret.Mnemonic, secret.Passphrase, nil
}

func (v *Vault) cipher(password string) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), v.Salt, v.Time, v.Memory, v.Parallelism, argon2KeyLen)
	defer SecureClear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Save writes the vault to path with owner-only permissions.
func (v *Vault) Save(path string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	return nil
}

// LoadVault reads a vault file. A missing file is ErrNoVault.
func LoadVault(path string) (*Vault, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoVault
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var v Vault
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse vault: %w", err)
	}
	return &v, nil
}

// SecureClear overwrites a byte slice with zeros.
func SecureClear(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// ValidatePassword requires MinPasswordLength characters and 3 of 4
// character classes.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrWeakPassword, MaxPasswordLength)
	}

	var upper, lower, number, special int
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = 1
		case unicode.IsLower(r):
			lower = 1
		case unicode.IsNumber(r):
			number = 1
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = 1
		}
	}
	if upper+lower+number+special < 3 {
		return fmt.Errorf("%w: use at least 3 of uppercase, lowercase, number, special character", ErrWeakPassword)
	}
	return nil
}

// ValidateFilePath rejects empty, non-UTF-8 and unclean relative paths.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("path contains invalid UTF-8")
	}
	if filepath.Clean(path) != path && !filepath.IsAbs(path) {
		return fmt.Errorf("suspicious path (potential traversal): %s", path)
	}
	return nil
}
