package keystore_test

import (
	"path/filepath"
	"testing"

	"github.com/rskv-p/nodebus/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeystore(t *testing.T) *keystore.Keystore {
	t.Helper()
	return keystore.New([]byte("test-master-secret-do-not-use-in-prod"))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ks := newKeystore(t)

	sealed, err := ks.EncryptWithEnvelope([]byte("hello"), []byte("network-pub"), [][]byte{[]byte("profile-pub")})
	require.NoError(t, err)

	plain, err := ks.DecryptEnvelope(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))
}

func TestDecryptEnvelope_TamperedRejected(t *testing.T) {
	ks := newKeystore(t)

	sealed, err := ks.EncryptWithEnvelope([]byte("hello"), []byte("network-pub"), nil)
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = ks.DecryptEnvelope(tampered)
	assert.Error(t, err)
}

func TestEnsureSymmetricKey_Stable(t *testing.T) {
	ks := newKeystore(t)

	k1, err := ks.EnsureSymmetricKey("session")
	require.NoError(t, err)
	k2, err := ks.EnsureSymmetricKey("session")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	other, err := ks.EnsureSymmetricKey("other")
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)
}

func TestGetKeystoreState(t *testing.T) {
	locked := keystore.New(nil)
	state, err := locked.GetKeystoreState()
	require.NoError(t, err)
	assert.Equal(t, keystore.StateLocked, state)

	unlocked := newKeystore(t)
	state, err = unlocked.GetKeystoreState()
	require.NoError(t, err)
	assert.Equal(t, keystore.StateUnlocked, state)
}

func TestPersistenceAutoFlush(t *testing.T) {
	ks := newKeystore(t)
	dir := t.TempDir()

	require.NoError(t, ks.SetPersistenceDir(dir))
	require.NoError(t, ks.EnableAutoPersist(true))
	require.NoError(t, ks.SetLabelMapping([]byte("mapping-bytes")))
	require.NoError(t, ks.SetLocalNodeInfo([]byte("node-info-bytes")))

	assert.FileExists(t, filepath.Join(dir, "label_mapping.cbor"))
	assert.FileExists(t, filepath.Join(dir, "node_info.cbor"))

	require.NoError(t, ks.WipePersistence())
	assert.NoFileExists(t, filepath.Join(dir, "label_mapping.cbor"))
}
