package approval

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capkernel/kernel/internal/domain/entities"
)

func TestDenyAllProvider_AlwaysDenies(t *testing.T) {
	p := DenyAllProvider{}
	assert.False(t, p.Approve(context.Background(), "alice", "delete-account", "because"))
}

func key32() []byte {
	k := make([]byte, 32)
	copy(k, "a-totally-fixture-encryption-key")
	return k
}

func TestNewTOTPProvider_RejectsWrongKeySize(t *testing.T) {
	_, err := NewTOTPProvider(NewStaticSeedStore(), nil, []byte("too-short"))
	require.Error(t, err)
}

func TestTOTPProvider_ApprovesValidCode(t *testing.T) {
	encKey := key32()
	seed := []byte("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ") // base32 TOTP secret
	nonce := make([]byte, 12)

	encSeed, err := EncryptSeed(encKey, seed, nonce)
	require.NoError(t, err)

	store := NewStaticSeedStore()
	require.NoError(t, store.Register("alice", hex.EncodeToString(encSeed)))

	code, err := totp.GenerateCodeCustom(string(seed), nowTrunc(), defaultValidateOpts())
	require.NoError(t, err)

	codeSource := func(ctx context.Context, principal entities.Principal, operation string) (string, error) {
		return code, nil
	}

	provider, err := NewTOTPProvider(store, codeSource, encKey)
	require.NoError(t, err)

	assert.True(t, provider.Approve(context.Background(), "alice", "delete-account", "reason"))
}

func TestTOTPProvider_DeniesWrongCode(t *testing.T) {
	encKey := key32()
	seed := []byte("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ") // base32 TOTP secret
	nonce := make([]byte, 12)

	encSeed, err := EncryptSeed(encKey, seed, nonce)
	require.NoError(t, err)

	store := NewStaticSeedStore()
	require.NoError(t, store.Register("alice", hex.EncodeToString(encSeed)))

	codeSource := func(ctx context.Context, principal entities.Principal, operation string) (string, error) {
		return "000000", nil
	}

	provider, err := NewTOTPProvider(store, codeSource, encKey)
	require.NoError(t, err)

	assert.False(t, provider.Approve(context.Background(), "alice", "delete-account", "reason"))
}

func TestTOTPProvider_DeniesUnenrolledPrincipal(t *testing.T) {
	store := NewStaticSeedStore()
	codeSource := func(ctx context.Context, principal entities.Principal, operation string) (string, error) {
		return "123456", nil
	}
	provider, err := NewTOTPProvider(store, codeSource, key32())
	require.NoError(t, err)

	assert.False(t, provider.Approve(context.Background(), "bob", "delete-account", "reason"))
}

func TestStaticSeedStore_RegisterRejectsInvalidHex(t *testing.T) {
	store := NewStaticSeedStore()
	err := store.Register("alice", "not-hex!!")
	assert.Error(t, err)
}
