package tests

import (
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackwardCompatibilityAESGCM(t *testing.T) {
	t.Run("ExistingEncryptDecryptCompatibility", func(t *testing.T) {
		key := make([]byte, 32)
		for i := range key {
			key[i] = byte(i % 256)
		}

		plaintext := []byte("Test message for backward compatibility")

		ciphertext, err := security.EncryptAESGCM(plaintext, key)
		require.NoError(t, err)
		assert.NotNil(t, ciphertext)
		assert.True(t, len(ciphertext) > len(plaintext))

		decrypted, err := security.DecryptAESGCM(ciphertext, key)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("ExistingCryptoFunctionsStillWork", func(t *testing.T) {
		phone := "+14155551234"
		hashed := security.HashPhoneNumber(phone)
		assert.NotEmpty(t, hashed)
		assert.Equal(t, 64, len(hashed)) // SHA-256 hex encoded

		key1 := "test_key_1_12345678901234567890123456789012"
		key2 := "test_key_2_12345678901234567890123456789012"
		phone1 := "+14155551234"
		phone2 := "+14155559876"

		safetyNumber := security.ComputeSafetyNumber(key1, key2, phone1, phone2)
		assert.NotEmpty(t, safetyNumber)
		assert.Equal(t, 60, len(safetyNumber))

		formatted := security.FormatSafetyNumber(safetyNumber)
		assert.Contains(t, formatted, "\n")
		assert.True(t, len(formatted) > 60) // includes line-break formatting

		masterKey, err := security.GenerateMasterKey()
		require.NoError(t, err)
		assert.Len(t, masterKey, 32)
	})
}
