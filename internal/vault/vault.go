// Package vault stores broker credentials encrypted at rest. Secrets are
// sealed with PBKDF2-derived AES-256-GCM; plaintext only exists on the stack
// inside a single Fetch call frame. Every Fetch is audit-logged.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// Secrets is the decrypted credential set for one broker link. Well-known
// keys: client_code, password, api_key, api_secret, totp_seed.
type Secrets map[string]string

// TOTPSeedKey is the Secrets key holding the TOTP seed, when the broker
// requires one.
const TOTPSeedKey = "totp_seed"

// sealedJSON is the at-rest format for an encrypted secret blob.
type sealedJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Vault seals and unseals broker secrets against a VaultStore.
type Vault struct {
	key   string // master passphrase from process configuration
	store domain.VaultStore
	audit domain.AuditStore
}

// New creates a Vault. key is the master passphrase; it must not be empty.
func New(key string, store domain.VaultStore, audit domain.AuditStore) (*Vault, error) {
	if key == "" {
		return nil, errors.New("vault: master key must not be empty")
	}
	return &Vault{key: key, store: store, audit: audit}, nil
}

// Store seals secrets and persists the ciphertext for the given broker link.
func (v *Vault) Store(ctx context.Context, linkID string, secrets Secrets) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("vault: marshal secrets: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generating salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(v.key), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("vault: creating GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: generating nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(linkID))

	blob, err := json.Marshal(sealedJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return fmt.Errorf("vault: marshal sealed blob: %w", err)
	}

	if err := v.store.Put(ctx, linkID, blob); err != nil {
		return fmt.Errorf("vault: store secrets for link %s: %w", linkID, err)
	}
	return nil
}

// Fetch unseals and returns the secrets for a broker link. Callers must not
// retain the returned map beyond the adapter call they fetched it for.
func (v *Vault) Fetch(ctx context.Context, userID, linkID string) (Secrets, error) {
	blob, err := v.store.Get(ctx, linkID)
	if err != nil {
		return nil, fmt.Errorf("vault: fetch secrets for link %s: %w", linkID, err)
	}

	var sealed sealedJSON
	if err := json.Unmarshal(blob, &sealed); err != nil {
		return nil, fmt.Errorf("vault: parse sealed blob: %w", err)
	}
	if sealed.Version != currentVersion {
		return nil, fmt.Errorf("vault: unsupported blob version %d", sealed.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(sealed.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding ciphertext: %w", err)
	}

	derived := pbkdf2.Key([]byte(v.key), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(linkID))
	if err != nil {
		return nil, fmt.Errorf("vault: decryption failed (wrong vault key?): %w", err)
	}

	var secrets Secrets
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("vault: parse secrets: %w", err)
	}

	if v.audit != nil {
		_ = v.audit.Log(ctx, userID, "vault.fetch", map[string]any{
			"broker_link_id": linkID,
		})
	}
	return secrets, nil
}

// Forget removes the stored ciphertext for a link.
func (v *Vault) Forget(ctx context.Context, linkID string) error {
	if err := v.store.Delete(ctx, linkID); err != nil {
		return fmt.Errorf("vault: forget secrets for link %s: %w", linkID, err)
	}
	return nil
}

// TOTPCode mints the current 6-digit code from the seed held in secrets. The
// seed itself stays inside this call frame.
func TOTPCode(secrets Secrets, now time.Time) (string, error) {
	seed, ok := secrets[TOTPSeedKey]
	if !ok || seed == "" {
		return "", errors.New("vault: no TOTP seed stored")
	}
	code, err := totp.GenerateCode(seed, now)
	if err != nil {
		return "", fmt.Errorf("vault: generating TOTP code: %w", err)
	}
	return code, nil
}
