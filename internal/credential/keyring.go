package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailissuelink"

// Keys stores per-account tracker API keys. Config files hold only an
// opaque key reference (AccountConfig.APIKeyRef); the secret itself
// lives behind this type.
type Keys struct {
	ring keyring.Keyring
}

// Open opens the OS keyring, falling back to an encrypted file backend
// when no native keychain is available.
func Open() (*Keys, error) {
	return open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailissuelink/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailissuelink-file-key"),
		KeychainTrustApplication: true,
	})
}

// OpenFile opens a file-backed keyring rooted at dir, for headless setups
// with no OS keychain.
func OpenFile(dir, password string) (*Keys, error) {
	return open(keyring.Config{
		ServiceName:      serviceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
}

func open(cfg keyring.Config) (*Keys, error) {
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keys{ring: ring}, nil
}

// APIKey retrieves the tracker API key stored under an account's key
// reference.
func (k *Keys) APIKey(ref string) (string, error) {
	item, err := k.ring.Get(ref)
	if err != nil {
		return "", fmt.Errorf("getting API key %q: %w", ref, err)
	}
	return string(item.Data), nil
}

// SetAPIKey stores the tracker API key under an account's key reference.
func (k *Keys) SetAPIKey(ref string, value string) error {
	err := k.ring.Set(keyring.Item{
		Key:  ref,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting API key %q: %w", ref, err)
	}
	return nil
}

// DeleteAPIKey removes the stored API key for an account's key reference.
func (k *Keys) DeleteAPIKey(ref string) error {
	if err := k.ring.Remove(ref); err != nil {
		return fmt.Errorf("deleting API key %q: %w", ref, err)
	}
	return nil
}
