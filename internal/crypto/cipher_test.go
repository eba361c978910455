package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func TestNewCipher_RejectsBadKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		_, err := NewCipher(make([]byte, size))
		assert.ErrorIs(t, err, ErrInvalidKey, "key size %d", size)
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey(0x42))
	require.NoError(t, err)

	for _, plaintext := range []string{"", "secret", "a-long-exchange-api-secret-0123456789abcdef"} {
		encoded, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encoded)

		decrypted, err := c.Decrypt(encoded)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestCipher_NoncesDiffer(t *testing.T) {
	c, err := NewCipher(testKey(0x42))
	require.NoError(t, err)

	first, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := c.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCipher_WrongKeyFails(t *testing.T) {
	c1, err := NewCipher(testKey(0x01))
	require.NoError(t, err)
	c2, err := NewCipher(testKey(0x02))
	require.NoError(t, err)

	encoded, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(encoded)
	assert.Error(t, err)
}

func TestCipher_RejectsCorruptInput(t *testing.T) {
	c, err := NewCipher(testKey(0x42))
	require.NoError(t, err)

	_, err = c.Decrypt("not base64!!!")
	assert.Error(t, err)

	_, err = c.Decrypt("c2hvcnQ=") // valid base64, shorter than a nonce
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	// Tampered ciphertext fails authentication
	encoded, err := c.Encrypt("secret")
	require.NoError(t, err)
	tampered := []byte(encoded)
	tampered[len(tampered)-5] ^= 'x'
	_, err = c.Decrypt(string(tampered))
	assert.Error(t, err)
}
