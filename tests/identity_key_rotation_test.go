package tests

import (
	"testing"
	"time"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/prekeys"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/x3dh"
	"github.com/jaydenbeard/messaging-app/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestX3DHRespondsToRotatedIdentity exercises the bridge between the
// identity-key-rotation notification flow and the X3DH handshake: a
// responder who learns of a rotated initiator identity key must redo X3DH
// against the new key rather than keep trusting ratchet state tied to the
// old one.
func TestX3DHRespondsToRotatedIdentity(t *testing.T) {
	bobIK, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	bobSPK, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	aliceIK, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	aliceEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	responderMaterial := x3dh.ResponderMaterial{
		IdentityPrivate:    bobIK.Private,
		IdentityPublic:     bobIK.Public,
		SignedPrePrivate:   bobSPK.Private,
		InitiatorIdentity:  aliceIK.Public,
		InitiatorEphemeral: aliceEph.Public,
	}

	t.Run("RotatedIdentityReDerivesSecret", func(t *testing.T) {
		rotatedIK, err := primitives.GenerateIdentityKeyPair()
		require.NoError(t, err)

		original, err := x3dh.Respond(responderMaterial)
		require.NoError(t, err)

		rotated, err := x3dh.RespondToRotatedIdentity(responderMaterial, rotatedIK.Public)
		require.NoError(t, err)

		assert.NotEqual(t, original.SharedSecret, rotated.SharedSecret)
		assert.NotEqual(t, original.AssociatedData, rotated.AssociatedData)
	})

	t.Run("RejectsIdenticalIdentity", func(t *testing.T) {
		_, err := x3dh.RespondToRotatedIdentity(responderMaterial, aliceIK.Public)
		assert.Error(t, err)
	})

	t.Run("RejectsMalformedIdentity", func(t *testing.T) {
		_, err := x3dh.RespondToRotatedIdentity(responderMaterial, nil)
		assert.Error(t, err)
	})

	t.Run("RotatedInitiatorStillAgreesWithResponder", func(t *testing.T) {
		rotatedAliceIK, err := primitives.GenerateIdentityKeyPair()
		require.NoError(t, err)

		sig := primitives.SignPreKey(bobIK.Private, bobSPK.Public)
		bundle := &prekeys.Bundle{
			DeviceID:        "bob-device",
			IdentityKey:     bobIK.Public,
			SignedPreKeyID:  1,
			SignedPreKey:    bobSPK.Public,
			SignedPreKeySig: sig,
		}

		initiatorResult, err := x3dh.Initiate(x3dh.InitiatorMaterial{
			IdentityPrivate:  rotatedAliceIK.Private,
			IdentityPublic:   rotatedAliceIK.Public,
			EphemeralPrivate: aliceEph.Private,
			EphemeralPublic:  aliceEph.Public,
			PeerBundle:       bundle,
		})
		require.NoError(t, err)

		responderResult, err := x3dh.RespondToRotatedIdentity(responderMaterial, rotatedAliceIK.Public)
		require.NoError(t, err)

		assert.Equal(t, initiatorResult.SharedSecret, responderResult.SharedSecret)
		assert.Equal(t, initiatorResult.AssociatedData, responderResult.AssociatedData)
		t.Log("✅ responder re-running X3DH against a rotated initiator identity agrees with the initiator")
	})
}

func TestIdentityKeyRotationManager(t *testing.T) {
	t.Run("TestRotationManagerInitialization", func(t *testing.T) {
		store := security.NewSimpleIdentityKeyStore()
		detector := &security.SimpleCompromiseDetector{}

		manager := security.NewIdentityKeyRotationManager(store, detector)

		enabled, _, _ := manager.GetRotationStatus()
		assert.True(t, enabled)
		assert.Equal(t, 30*24*time.Hour, manager.GetRotationInterval())

		manager.Disable()
		enabled, _, _ = manager.GetRotationStatus()
		assert.False(t, enabled)

		manager.Enable()
		enabled, _, _ = manager.GetRotationStatus()
		assert.True(t, enabled)
	})

	t.Run("TestUserKeyRotation", func(t *testing.T) {
		store := security.NewSimpleIdentityKeyStore()
		detector := &security.SimpleCompromiseDetector{}

		manager := security.NewIdentityKeyRotationManager(store, detector)

		initialKeyPair, err := security.GenerateSecureIdentityKey()
		assert.NoError(t, err)

		err = store.StoreIdentityKey("testuser", initialKeyPair)
		assert.NoError(t, err)

		err = manager.RotateUserIdentityKey("testuser")
		assert.NoError(t, err)

		rotatedKeyPair, err := store.GetIdentityKey("testuser")
		assert.NoError(t, err)
		assert.NotEqual(t, initialKeyPair.Public, rotatedKeyPair.Public)
	})

	t.Run("TestRotationInterval", func(t *testing.T) {
		store := security.NewSimpleIdentityKeyStore()
		detector := &security.SimpleCompromiseDetector{}

		manager := security.NewIdentityKeyRotationManager(store, detector)

		manager.SetRotationInterval(15 * 24 * time.Hour) // 15 days
		assert.Equal(t, 15*24*time.Hour, manager.GetRotationInterval())

		manager.SetRotationInterval(12 * time.Hour)                  // should be rejected
		assert.Equal(t, 24*time.Hour, manager.GetRotationInterval()) // clamped to the minimum
	})
}
