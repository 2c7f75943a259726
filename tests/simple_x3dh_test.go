package tests

import (
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/prekeys"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/x3dh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestX3DHRequiresSignedPreKeySignature exercises the signature check
// x3dh.Initiate performs defensively against a claimed peer bundle, even
// though prekeys.Manager.ClaimBundle already verified it once on the claim
// path.
func TestX3DHRequiresSignedPreKeySignature(t *testing.T) {
	responderIK, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	responderSPK, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)
	initiatorIK, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	initiatorEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	newBundle := func(sig []byte) *prekeys.Bundle {
		return &prekeys.Bundle{
			DeviceID:        "bob-device",
			IdentityKey:     responderIK.Public,
			SignedPreKeyID:  1,
			SignedPreKey:    responderSPK.Public,
			SignedPreKeySig: sig,
		}
	}

	initiate := func(bundle *prekeys.Bundle) error {
		_, err := x3dh.Initiate(x3dh.InitiatorMaterial{
			IdentityPrivate:  initiatorIK.Private,
			IdentityPublic:   initiatorIK.Public,
			EphemeralPrivate: initiatorEph.Private,
			EphemeralPublic:  initiatorEph.Public,
			PeerBundle:       bundle,
		})
		return err
	}

	t.Run("MissingSignatureRejected", func(t *testing.T) {
		err := initiate(newBundle(nil))
		assert.Error(t, err)
	})

	t.Run("TruncatedSignatureRejected", func(t *testing.T) {
		err := initiate(newBundle([]byte{0x01, 0x02, 0x03}))
		assert.Error(t, err)
	})

	t.Run("AllZeroSignatureRejected", func(t *testing.T) {
		err := initiate(newBundle(make([]byte, 64)))
		assert.Error(t, err)
	})

	t.Run("ValidSignatureAccepted", func(t *testing.T) {
		sig := primitives.SignPreKey(responderIK.Private, responderSPK.Public)
		err := initiate(newBundle(sig))
		assert.NoError(t, err)
	})
}
