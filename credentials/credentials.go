// Package credentials provides secure credential storage for the sealpost CLI.
// It stores the Registra session token and the registered hardware token
// serial in ~/.sealpost/credentials.yaml. Only the session token is sealed at
// rest; see keyprovider.go for where the sealing key comes from
// (SEALPOST_ENCRYPTION_KEY, SEALPOST_PASSPHRASE, or the system keyring).
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".sealpost"
	DefaultCredentialsFile = "credentials.yaml"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no credentials are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrExpiredToken is returned when the stored session token has expired.
	ErrExpiredToken = errors.New("stored session token has expired")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials holds the stored authentication state for one operator.
type Credentials struct {
	// Token is the Registra session token (encrypted at rest).
	Token string `yaml:"token,omitempty"`
	// TokenSerial is the hardware credential serial registered for the
	// operator. Verified against the local agent before every encryption.
	TokenSerial string `yaml:"token_serial,omitempty"`
	// ExpiresAt is the session token expiration time.
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
	// ServerAddress is the backend this credential is for.
	ServerAddress string `yaml:"server_address,omitempty"`
	// Subject is the authenticated operator identifier.
	Subject string `yaml:"subject,omitempty"`
	// LastUpdated is when the credentials were last updated.
	LastUpdated time.Time `yaml:"last_updated"`
}

// Store manages credential storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a new credential store with default settings. It uses the
// system keyring (macOS Keychain, Windows Credential Manager, or Linux Secret
// Service) to store the encryption key securely.
func NewStore() (*Store, error) {
	keyProvider, err := GetDefaultKeyProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(keyProvider)
}

// NewStoreWithKeyProvider creates a new credential store with a custom key
// provider. This is primarily used for testing.
func NewStoreWithKeyProvider(keyProvider KeyProvider) (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}

	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// CredentialsDir returns the credentials directory path.
// Uses $SEALPOST_CONFIG_DIR if set, otherwise ~/.sealpost
func CredentialsDir() (string, error) {
	if dir := os.Getenv("SEALPOST_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// CredentialsPath returns the full path to the credentials file.
func CredentialsPath() (string, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

// Save stores credentials to the credentials file.
func (s *Store) Save(creds *Credentials) error {
	if err := s.ensureDir(); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	// Only the session token is secret; the serial and addresses stay readable.
	storageCreds := *creds
	storageCreds.LastUpdated = time.Now()

	if storageCreds.Token != "" {
		encrypted, err := s.encrypt(storageCreds.Token)
		if err != nil {
			return fmt.Errorf("encrypting token: %w", err)
		}
		storageCreds.Token = encrypted
	}

	data, err := yaml.Marshal(&storageCreds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	if err := os.WriteFile(credPath, data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}

	return nil
}

// Load reads credentials from the credentials file.
func (s *Store) Load() (*Credentials, error) {
	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)

	data, err := os.ReadFile(credPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	if creds.Token != "" {
		decrypted, err := s.decrypt(creds.Token)
		if err != nil {
			return nil, fmt.Errorf("decrypting token: %w", err)
		}
		creds.Token = decrypted
	}

	return &creds, nil
}

// Delete removes stored credentials.
func (s *Store) Delete() error {
	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)

	if err := os.Remove(credPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing credentials file: %w", err)
	}

	return nil
}

// Exists checks if the credentials file exists.
func (s *Store) Exists() bool {
	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	_, err := os.Stat(credPath)
	return err == nil
}

// GetActiveCredential returns the currently active credential. Environment
// variables take precedence over stored credentials so CI sessions never
// touch the keyring.
func (s *Store) GetActiveCredential() (*Credentials, error) {
	if token := os.Getenv("SEALPOST_TOKEN"); token != "" {
		return &Credentials{
			Token:       token,
			TokenSerial: os.Getenv("SEALPOST_TOKEN_SERIAL"),
		}, nil
	}

	creds, err := s.Load()
	if err != nil {
		return nil, err
	}

	if !creds.ExpiresAt.IsZero() && time.Now().After(creds.ExpiresAt) {
		return nil, ErrExpiredToken
	}

	return creds, nil
}

func (s *Store) ensureDir() error {
	return os.MkdirAll(s.credentialsDir, 0700)
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

// MaskToken returns a masked token with first/last few characters visible.
func MaskToken(token string) string {
	if len(token) <= 20 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..." + token[len(token)-8:]
}

// FormatExpiry formats the expiry time for display.
func FormatExpiry(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "never"
	}

	remaining := time.Until(expiresAt)
	if remaining < 0 {
		return "expired"
	}

	if remaining < time.Hour {
		return fmt.Sprintf("%d minutes", int(remaining.Minutes()))
	}
	if remaining < 24*time.Hour {
		return fmt.Sprintf("%d hours", int(remaining.Hours()))
	}
	return fmt.Sprintf("%d days", int(remaining.Hours()/24))
}
