package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const keySize = 32

// Protector is a reversible transform applied to secret values before
// they touch disk. Implementations must guarantee the protected blob is
// unusable outside the originating user account.
type Protector interface {
	Protect(plaintext []byte) ([]byte, error)
	Unprotect(protected []byte) ([]byte, error)
}

// AESGCMProtector seals values with AES-256-GCM under a per-user key. The
// key lives in a 0600 file materialized on first use, so blobs decrypt
// only for the account that owns the key file.
type AESGCMProtector struct {
	keyPath string

	mu  sync.Mutex
	key []byte
}

// NewAESGCMProtector creates a protector keyed by the given file path
func NewAESGCMProtector(keyPath string) *AESGCMProtector {
	return &AESGCMProtector{keyPath: keyPath}
}

// Protect seals plaintext; the nonce is prepended to the ciphertext
func (p *AESGCMProtector) Protect(plaintext []byte) ([]byte, error) {
	gcm, err := p.cipher()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Unprotect opens a blob produced by Protect
func (p *AESGCMProtector) Unprotect(protected []byte) ([]byte, error) {
	gcm, err := p.cipher()
	if err != nil {
		return nil, err
	}

	if len(protected) < gcm.NonceSize() {
		return nil, fmt.Errorf("protected blob too short")
	}

	nonce, ciphertext := protected[:gcm.NonceSize()], protected[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unprotect value: %w", err)
	}

	return plaintext, nil
}

func (p *AESGCMProtector) cipher() (cipher.AEAD, error) {
	key, err := p.loadOrCreateKey()
	if err != nil {
		return nil, err
	}

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

// loadOrCreateKey reads the key file, materializing it with 0600
// permissions on first use
func (p *AESGCMProtector) loadOrCreateKey() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != nil {
		return p.key, nil
	}

	data, err := os.ReadFile(p.keyPath)
	if err == nil {
		if len(data) != keySize {
			return nil, fmt.Errorf("key file %s has unexpected size %d", p.keyPath, len(data))
		}
		p.key = data
		return p.key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(p.keyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	p.key = key
	return p.key, nil
}
