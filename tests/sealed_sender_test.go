package tests

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
	"github.com/jaydenbeard/messaging-app/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSealedSenderManager(t *testing.T) *security.SealedSenderIdentityCertificateManager {
	t.Helper()
	manager, err := security.NewSealedSenderIdentityCertificateManager(nil)
	require.NoError(t, err)
	return manager
}

func TestSealedSenderCertificateManager(t *testing.T) {
	manager := newTestSealedSenderManager(t)
	userID := uuid.New()

	identity, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	publicKeyBytes := []byte(identity.Public)

	t.Run("IssueCertificate", func(t *testing.T) {
		cert, err := manager.IssueCertificate(userID, publicKeyBytes)
		require.NoError(t, err)
		assert.NotNil(t, cert)
		assert.Equal(t, userID, cert.UserID)
		assert.Equal(t, publicKeyBytes, cert.PublicKey)
		assert.False(t, cert.Expiration.Before(time.Now()))
		assert.NotEmpty(t, cert.Signature)
		assert.NotEmpty(t, cert.CertificateData)
	})

	t.Run("IssueCertificateWithPersistence", func(t *testing.T) {
		t.Skip("requires a live Postgres connection, exercised in integration environments")
		var db *sql.DB
		manager, err := security.NewSealedSenderIdentityCertificateManager(db)
		require.NoError(t, err)
		_, err = manager.IssueCertificateWithPersistence(userID, publicKeyBytes)
		require.NoError(t, err)
	})

	t.Run("VerifyCertificate", func(t *testing.T) {
		cert, err := manager.IssueCertificate(userID, publicKeyBytes)
		require.NoError(t, err)

		valid, err := manager.VerifyCertificate(cert)
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("VerifyInvalidCertificate", func(t *testing.T) {
		invalidCert := &security.SealedSenderIdentityCertificate{
			CertificateID:   uuid.New(),
			UserID:          userID,
			PublicKey:       publicKeyBytes,
			Expiration:      time.Now().Add(24 * time.Hour),
			IssuedAt:        time.Now(),
			Signature:       []byte("invalid_signature"),
			CertificateData: []byte("invalid_data"),
		}

		valid, err := manager.VerifyCertificate(invalidCert)
		assert.Error(t, err)
		assert.False(t, valid)
	})

	t.Run("CreateAndDecryptSealedSenderMessage", func(t *testing.T) {
		cert, err := manager.IssueCertificate(userID, publicKeyBytes)
		require.NoError(t, err)

		recipient, err := primitives.GenerateX25519KeyPair()
		require.NoError(t, err)

		messageContent := []byte("Hello, this is a sealed sender message!")

		sealedMsg, err := manager.CreateSealedSenderIdentityMessage(cert, recipient.Public[:], messageContent)
		require.NoError(t, err)
		assert.NotNil(t, sealedMsg)
		assert.NotEmpty(t, sealedMsg.EncryptedContent)
		assert.NotEmpty(t, sealedMsg.EphemeralPublicKey)
		assert.Equal(t, cert.CertificateID, sealedMsg.CertificateID)

		decryptedContent, returnedCert, err := manager.DecryptSealedSenderIdentityMessage(sealedMsg, recipient.Private)
		require.NoError(t, err)
		assert.Equal(t, messageContent, decryptedContent)
		assert.NotNil(t, returnedCert)
		assert.Equal(t, cert.CertificateID, returnedCert.CertificateID)
		t.Log("✅ sealed sender envelope round trips through X25519 DH + HKDF + AES-GCM")
	})

	t.Run("CertificateRevocation", func(t *testing.T) {
		cert, err := manager.IssueCertificate(userID, publicKeyBytes)
		require.NoError(t, err)

		manager.RevokeCertificate(cert.CertificateID)

		isRevoked := manager.IsCertificateRevoked(cert.CertificateID)
		assert.True(t, isRevoked)

		valid, err := manager.VerifyCertificate(cert)
		assert.Error(t, err)
		assert.False(t, valid)
	})

	t.Run("ExpiredCertificate", func(t *testing.T) {
		expiredCert := &security.SealedSenderIdentityCertificate{
			CertificateID:   uuid.New(),
			UserID:          userID,
			PublicKey:       publicKeyBytes,
			Expiration:      time.Now().Add(-24 * time.Hour),
			IssuedAt:        time.Now().Add(-48 * time.Hour),
			Signature:       []byte("test_signature"),
			CertificateData: []byte("test_data"),
		}

		valid, err := manager.VerifyCertificate(expiredCert)
		assert.Error(t, err)
		assert.False(t, valid)
	})
}

func TestSealedSenderMessageFormat(t *testing.T) {
	manager := newTestSealedSenderManager(t)
	userID := uuid.New()

	identity, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	publicKeyBytes := []byte(identity.Public)

	t.Run("MessageFormatValidation", func(t *testing.T) {
		cert, err := manager.IssueCertificate(userID, publicKeyBytes)
		require.NoError(t, err)

		recipient, err := primitives.GenerateX25519KeyPair()
		require.NoError(t, err)

		messageContent := []byte("Test message for format validation")

		sealedMsg, err := manager.CreateSealedSenderIdentityMessage(cert, recipient.Public[:], messageContent)
		require.NoError(t, err)

		assert.NotEmpty(t, sealedMsg.EncryptedContent)
		assert.Len(t, sealedMsg.EphemeralPublicKey, 32)
		assert.Equal(t, cert.CertificateID, sealedMsg.CertificateID)

		jsonData, err := json.Marshal(sealedMsg)
		require.NoError(t, err)

		var deserializedMsg security.SealedSenderIdentityMessage
		err = json.Unmarshal(jsonData, &deserializedMsg)
		require.NoError(t, err)

		assert.Equal(t, sealedMsg.CertificateID, deserializedMsg.CertificateID)
		assert.Equal(t, sealedMsg.EphemeralPublicKey, deserializedMsg.EphemeralPublicKey)
		assert.Equal(t, sealedMsg.EncryptedContent, deserializedMsg.EncryptedContent)
	})

	t.Run("InvalidMessageDecryption", func(t *testing.T) {
		invalidMsg := &security.SealedSenderIdentityMessage{
			EncryptedContent:   []byte("invalid_encrypted_content"),
			EphemeralPublicKey: make([]byte, 32),
			CertificateID:      uuid.New(),
		}

		recipient, err := primitives.GenerateX25519KeyPair()
		require.NoError(t, err)

		_, _, err = manager.DecryptSealedSenderIdentityMessage(invalidMsg, recipient.Private)
		assert.Error(t, err)
	})
}

func TestSealedSenderErrorHandling(t *testing.T) {
	manager := newTestSealedSenderManager(t)
	userID := uuid.New()

	identity, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	publicKeyBytes := []byte(identity.Public)

	t.Run("InvalidPublicKey", func(t *testing.T) {
		_, err := manager.IssueCertificate(userID, []byte{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "public key cannot be empty")
	})

	t.Run("InvalidCertificateData", func(t *testing.T) {
		invalidCert := &security.SealedSenderIdentityCertificate{
			CertificateID:   uuid.New(),
			UserID:          userID,
			PublicKey:       publicKeyBytes,
			Expiration:      time.Now().Add(24 * time.Hour),
			IssuedAt:        time.Now(),
			Signature:       []byte("invalid"),
			CertificateData: []byte(`{"invalid": "json"}`),
		}

		valid, err := manager.VerifyCertificate(invalidCert)
		assert.Error(t, err)
		assert.False(t, valid)
	})

	t.Run("ThreadSafety", func(t *testing.T) {
		numGoroutines := 10
		results := make(chan error, numGoroutines)

		for i := 0; i < numGoroutines; i++ {
			go func() {
				_, err := manager.IssueCertificate(userID, publicKeyBytes)
				results <- err
			}()
		}

		var errs []error
		for i := 0; i < numGoroutines; i++ {
			if err := <-results; err != nil {
				errs = append(errs, err)
			}
		}

		assert.Empty(t, errs)
	})
}
