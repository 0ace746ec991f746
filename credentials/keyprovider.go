package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

// The credentials file holds the Registra session token sealed with
// AES-256-GCM; the registered hardware token serial stays readable, since it
// is compared against the inserted token, not kept secret. The 32-byte
// sealing key comes from one of three sources, tried in order by
// GetDefaultKeyProvider: a raw hex key in the environment, a passphrase in
// the environment with a salt persisted next to the credentials file, or the
// operating system keyring.
const (
	keySize = 32

	keyringService = "sealpost-cli"
	keyringUser    = "encryption-key"

	saltFile = "key.salt"
	saltSize = 16
)

// Argon2id parameters for passphrase-derived keys.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// ErrKeyringUnavailable indicates the system keyring cannot be reached.
var ErrKeyringUnavailable = errors.New("system keyring unavailable")

// KeyProvider yields the key that seals the credentials file.
type KeyProvider interface {
	// GetKey returns the 32-byte sealing key, provisioning one if the
	// source supports it.
	GetKey() ([]byte, error)

	// Description names the key source for status and error messages.
	Description() string
}

// GetDefaultKeyProvider picks the key source for this environment:
// SEALPOST_ENCRYPTION_KEY (raw hex, CI), then SEALPOST_PASSPHRASE
// (Argon2id-derived), then the system keyring.
func GetDefaultKeyProvider() (KeyProvider, error) {
	if os.Getenv("SEALPOST_ENCRYPTION_KEY") != "" {
		return NewEnvKeyProvider("SEALPOST_ENCRYPTION_KEY"), nil
	}

	if pass := os.Getenv("SEALPOST_PASSPHRASE"); pass != "" {
		salt, err := loadOrCreateSalt()
		if err != nil {
			return nil, err
		}
		return NewPassphraseKeyProvider(pass, salt), nil
	}

	p := NewKeyringKeyProvider()
	if _, err := p.GetKey(); err != nil {
		return nil, fmt.Errorf("no usable key source, set SEALPOST_ENCRYPTION_KEY or SEALPOST_PASSPHRASE: %w", err)
	}
	return p, nil
}

// KeyringKeyProvider keeps the sealing key in the operating system keyring.
type KeyringKeyProvider struct {
	mu sync.Mutex
}

// NewKeyringKeyProvider creates a keyring-backed provider.
func NewKeyringKeyProvider() *KeyringKeyProvider {
	return &KeyringKeyProvider{}
}

// GetKey returns the stored key, provisioning a fresh random one on first use
// or when the stored entry is unusable.
func (p *KeyringKeyProvider) GetKey() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		if key, decErr := hex.DecodeString(stored); decErr == nil && len(key) == keySize {
			return key, nil
		}
		// Unusable entry; fall through and provision a replacement.
	} else if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating sealing key: %w", err)
	}
	if err := keyring.Set(keyringService, keyringUser, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: storing key: %v", ErrKeyringUnavailable, err)
	}
	return key, nil
}

func (p *KeyringKeyProvider) Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "system keyring (Secret Service)"
	}
}

// PassphraseKeyProvider derives the sealing key from a passphrase with
// Argon2id. The salt lives next to the credentials file so the same
// passphrase unseals the store across runs.
type PassphraseKeyProvider struct {
	passphrase string
	salt       []byte
}

// NewPassphraseKeyProvider creates a passphrase-backed provider over the
// given salt.
func NewPassphraseKeyProvider(passphrase string, salt []byte) *PassphraseKeyProvider {
	return &PassphraseKeyProvider{passphrase: passphrase, salt: salt}
}

func (p *PassphraseKeyProvider) GetKey() ([]byte, error) {
	if p.passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	if len(p.salt) == 0 {
		return nil, errors.New("salt must not be empty")
	}
	return argon2.IDKey([]byte(p.passphrase), p.salt, argonTime, argonMemory, argonThreads, keySize), nil
}

func (p *PassphraseKeyProvider) Description() string {
	return "passphrase-derived key (Argon2id)"
}

// loadOrCreateSalt reads the key derivation salt stored next to the
// credentials file, generating and persisting one on first use.
func loadOrCreateSalt() ([]byte, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, saltFile)

	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading key salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating key salt: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("writing key salt: %w", err)
	}
	return salt, nil
}

// EnvKeyProvider reads a raw hex key from an environment variable, for CI and
// tests where neither a keyring nor an interactive passphrase exists.
type EnvKeyProvider struct {
	envVar string
}

// NewEnvKeyProvider creates a provider reading the key from envVar.
func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	hexKey := os.Getenv(p.envVar)
	if hexKey == "" {
		return nil, fmt.Errorf("%s is not set", p.envVar)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid key in %s: %w", p.envVar, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key in %s must be %d bytes, got %d", p.envVar, keySize, len(key))
	}
	return key, nil
}

func (p *EnvKeyProvider) Description() string {
	return fmt.Sprintf("environment variable (%s)", p.envVar)
}
