package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	msg := []byte("task_assignment ready")
	sig := kp.Sign(msg)

	assert.True(t, Verify(kp.PublicKey(), msg, sig))
	assert.False(t, Verify(kp.PublicKey(), []byte("tampered"), sig))

	other, err := Generate()
	require.NoError(t, err)
	assert.False(t, Verify(other.PublicKey(), msg, sig))

	assert.False(t, Verify("not-hex", msg, sig))
	assert.False(t, Verify(kp.PublicKey(), msg, "not-hex"))
}

func TestEncryptForRoundTrip(t *testing.T) {
	recipient, err := Generate()
	require.NoError(t, err)

	sealed, err := EncryptFor(recipient.EncryptionKey(), []byte("shard chunk refs"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "shard chunk refs")

	plain, err := recipient.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("shard chunk refs"), plain)
}

func TestDecryptWrongRecipient(t *testing.T) {
	recipient, err := Generate()
	require.NoError(t, err)
	eavesdropper, err := Generate()
	require.NoError(t, err)

	sealed, err := EncryptFor(recipient.EncryptionKey(), []byte("secret"))
	require.NoError(t, err)

	_, err = eavesdropper.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = recipient.Decrypt("%%% not base64 %%%")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEncryptForBadKey(t *testing.T) {
	_, err := EncryptFor("abcd", []byte("x"))
	assert.ErrorIs(t, err, ErrKeySize)

	_, err = EncryptFor("zz not hex", []byte("x"))
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()

	kp, err := Generate()
	require.NoError(t, err)
	require.NoError(t, kp.Save(dir, "node"))

	loaded, err := Load(dir, "node")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), loaded.PublicKey())
	assert.Equal(t, kp.EncryptionKey(), loaded.EncryptionKey())

	// The loaded identity must sign and decrypt like the original.
	msg := []byte("identity check")
	assert.True(t, Verify(kp.PublicKey(), msg, loaded.Sign(msg)))

	sealed, err := EncryptFor(kp.EncryptionKey(), []byte("addressed"))
	require.NoError(t, err)
	plain, err := loaded.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("addressed"), plain)
}

func TestSaveRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()

	kp, err := Generate()
	require.NoError(t, err)
	require.NoError(t, kp.Save(dir, "node"))

	fresh, err := Generate()
	require.NoError(t, err)
	assert.ErrorIs(t, fresh.Save(dir, "node"), ErrKeyFileExists)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir(), "nope")
	assert.Error(t, err)
}
