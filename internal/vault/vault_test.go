package vault

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

type memVaultStore struct {
	blobs map[string][]byte
}

func newMemVaultStore() *memVaultStore {
	return &memVaultStore{blobs: make(map[string][]byte)}
}

func (s *memVaultStore) Put(_ context.Context, linkID string, ciphertext []byte) error {
	s.blobs[linkID] = ciphertext
	return nil
}

func (s *memVaultStore) Get(_ context.Context, linkID string) ([]byte, error) {
	blob, ok := s.blobs[linkID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return blob, nil
}

func (s *memVaultStore) Delete(_ context.Context, linkID string) error {
	delete(s.blobs, linkID)
	return nil
}

func TestVaultRoundTrip(t *testing.T) {
	store := newMemVaultStore()
	v, err := New("test-master-key", store, nil)
	require.NoError(t, err)

	in := Secrets{"client_code": "C123", "password": "hunter2", "api_key": "k"}
	require.NoError(t, v.Store(context.Background(), "link-1", in))

	// Ciphertext at rest must not contain the plaintext password.
	assert.NotContains(t, string(store.blobs["link-1"]), "hunter2")

	out, err := v.Fetch(context.Background(), "user-1", "link-1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestVaultWrongKeyFails(t *testing.T) {
	store := newMemVaultStore()
	v1, err := New("key-one", store, nil)
	require.NoError(t, err)
	require.NoError(t, v1.Store(context.Background(), "link-1", Secrets{"password": "x"}))

	v2, err := New("key-two", store, nil)
	require.NoError(t, err)
	_, err = v2.Fetch(context.Background(), "user-1", "link-1")
	assert.Error(t, err)
}

func TestVaultBlobBoundToLink(t *testing.T) {
	store := newMemVaultStore()
	v, err := New("master", store, nil)
	require.NoError(t, err)
	require.NoError(t, v.Store(context.Background(), "link-1", Secrets{"password": "x"}))

	// Re-homing a ciphertext under another link id must fail the GCM check.
	store.blobs["link-2"] = store.blobs["link-1"]
	_, err = v.Fetch(context.Background(), "user-1", "link-2")
	assert.Error(t, err)
}

func TestVaultForget(t *testing.T) {
	store := newMemVaultStore()
	v, err := New("master", store, nil)
	require.NoError(t, err)
	require.NoError(t, v.Store(context.Background(), "link-1", Secrets{"password": "x"}))
	require.NoError(t, v.Forget(context.Background(), "link-1"))

	_, err = v.Fetch(context.Background(), "user-1", "link-1")
	assert.Error(t, err)
}

func TestTOTPCode(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "nga-test", AccountName: "trader"})
	require.NoError(t, err)

	now := time.Now()
	code, err := TOTPCode(Secrets{TOTPSeedKey: key.Secret()}, now)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	ok := totp.Validate(code, key.Secret())
	assert.True(t, ok)

	_, err = TOTPCode(Secrets{}, now)
	assert.Error(t, err)
}
