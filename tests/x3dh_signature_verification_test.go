package tests

import (
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/prekeys"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/x3dh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestX3DHRejectsSubstitutedSignedPreKey simulates a man-in-the-middle that
// swaps in its own signed pre-key under the legitimate responder's identity
// key, reusing the legitimate signature. Initiate must still recompute the
// signature check over the substituted key and reject it.
func TestX3DHRejectsSubstitutedSignedPreKey(t *testing.T) {
	legitIK, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	legitSPK, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)
	attackerSPK, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	initiatorIK, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	initiatorEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	legitSig := primitives.SignPreKey(legitIK.Private, legitSPK.Public)

	t.Run("SubstitutedKeyWithReusedSignatureRejected", func(t *testing.T) {
		mitmBundle := &prekeys.Bundle{
			DeviceID:        "bob-device",
			IdentityKey:     legitIK.Public,  // genuine identity key
			SignedPreKeyID:  1,
			SignedPreKey:    attackerSPK.Public, // attacker's substituted key
			SignedPreKeySig: legitSig,            // signature over the legitimate key
		}

		_, err := x3dh.Initiate(x3dh.InitiatorMaterial{
			IdentityPrivate:  initiatorIK.Private,
			IdentityPublic:   initiatorIK.Public,
			EphemeralPrivate: initiatorEph.Private,
			EphemeralPublic:  initiatorEph.Public,
			PeerBundle:       mitmBundle,
		})
		assert.Error(t, err)
	})

	t.Run("LegitimateBundleStillEstablishesAgreedSecret", func(t *testing.T) {
		legitBundle := &prekeys.Bundle{
			DeviceID:        "bob-device",
			IdentityKey:     legitIK.Public,
			SignedPreKeyID:  1,
			SignedPreKey:    legitSPK.Public,
			SignedPreKeySig: legitSig,
		}

		initiatorResult, err := x3dh.Initiate(x3dh.InitiatorMaterial{
			IdentityPrivate:  initiatorIK.Private,
			IdentityPublic:   initiatorIK.Public,
			EphemeralPrivate: initiatorEph.Private,
			EphemeralPublic:  initiatorEph.Public,
			PeerBundle:       legitBundle,
		})
		require.NoError(t, err)

		responderResult, err := x3dh.Respond(x3dh.ResponderMaterial{
			IdentityPrivate:    legitIK.Private,
			IdentityPublic:     legitIK.Public,
			SignedPrePrivate:   legitSPK.Private,
			InitiatorIdentity:  initiatorIK.Public,
			InitiatorEphemeral: initiatorEph.Public,
		})
		require.NoError(t, err)

		assert.Equal(t, initiatorResult.SharedSecret, responderResult.SharedSecret)
	})
}
