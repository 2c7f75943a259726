package tests

import (
	"fmt"
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/prekeys"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/ratchet"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/session"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/x3dh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// establishedPair runs a full X3DH handshake between two freshly generated
// identities and returns the resulting initiator and responder ratchet
// states, seeded from the same shared secret.
func establishedPair(t *testing.T) (*ratchet.State, *ratchet.State) {
	t.Helper()

	aliceIK, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	bobIK, err := primitives.GenerateIdentityKeyPair()
	require.NoError(t, err)
	bobSPK, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)
	aliceEph, err := primitives.GenerateX25519KeyPair()
	require.NoError(t, err)

	bundle := &prekeys.Bundle{
		DeviceID:        "bob-device",
		IdentityKey:     bobIK.Public,
		SignedPreKeyID:  1,
		SignedPreKey:    bobSPK.Public,
		SignedPreKeySig: primitives.SignPreKey(bobIK.Private, bobSPK.Public),
	}

	aliceResult, err := x3dh.Initiate(x3dh.InitiatorMaterial{
		IdentityPrivate:  aliceIK.Private,
		IdentityPublic:   aliceIK.Public,
		EphemeralPrivate: aliceEph.Private,
		EphemeralPublic:  aliceEph.Public,
		PeerBundle:       bundle,
	})
	require.NoError(t, err)

	bobResult, err := x3dh.Respond(x3dh.ResponderMaterial{
		IdentityPrivate:    bobIK.Private,
		IdentityPublic:     bobIK.Public,
		SignedPrePrivate:   bobSPK.Private,
		InitiatorIdentity:  aliceIK.Public,
		InitiatorEphemeral: aliceEph.Public,
	})
	require.NoError(t, err)
	require.Equal(t, aliceResult.SharedSecret, bobResult.SharedSecret)

	alice, err := ratchet.NewInitiatorState(aliceResult.SharedSecret, *aliceEph, primitives.AESGCMSuite{}, "conv-x3dh", "acct-digest", "bob-device", "alice-device")
	require.NoError(t, err)
	bob, err := ratchet.NewResponderState(bobResult.SharedSecret, aliceEph.Public, primitives.AESGCMSuite{}, "conv-x3dh", "acct-digest", "alice-device", "bob-device")
	require.NoError(t, err)

	return alice, bob
}

func TestX3DHEstablishedConversationEndToEnd(t *testing.T) {
	t.Run("ConsecutiveMessagesUseDifferentKeys", func(t *testing.T) {
		alice, bob := establishedPair(t)

		messages := []string{
			"Hello Bob!",
			"How are you?",
			"Testing message 3",
			"Message number 4",
			"Final test message",
		}

		var keys []string
		for _, msg := range messages {
			pkt, err := alice.Encrypt([]byte(msg))
			require.NoError(t, err)
			keys = append(keys, pkt.MessageKeyB64)

			plaintext, err := bob.Decrypt(pkt)
			require.NoError(t, err)
			assert.Equal(t, msg, string(plaintext))
		}

		for i := 1; i < len(keys); i++ {
			assert.NotEqual(t, keys[i-1], keys[i], "message key %d repeats key %d", i, i-1)
		}
	})

	t.Run("ConversationRatchetsInBothDirections", func(t *testing.T) {
		alice, bob := establishedPair(t)

		a1, err := alice.Encrypt([]byte("alice -> bob 1"))
		require.NoError(t, err)
		_, err = bob.Decrypt(a1)
		require.NoError(t, err)

		b1, err := bob.Encrypt([]byte("bob -> alice 1"))
		require.NoError(t, err)
		plaintext, err := alice.Decrypt(b1)
		require.NoError(t, err)
		assert.Equal(t, "bob -> alice 1", string(plaintext))

		a2, err := alice.Encrypt([]byte("alice -> bob 2"))
		require.NoError(t, err)
		plaintext, err = bob.Decrypt(a2)
		require.NoError(t, err)
		assert.Equal(t, "alice -> bob 2", string(plaintext))

		assert.NotEqual(t, a1.Header.EkPubB64, a2.Header.EkPubB64, "alice's ratchet key should advance once bob replies")
	})

	t.Run("OutOfOrderDeliveryStillDecrypts", func(t *testing.T) {
		alice, bob := establishedPair(t)

		var pkts []*ratchet.Packet
		for i := 0; i < 5; i++ {
			pkt, err := alice.Encrypt([]byte(fmt.Sprintf("msg %d", i)))
			require.NoError(t, err)
			pkts = append(pkts, pkt)
		}

		// Deliver the last message first: bob must cache skipped keys for
		// messages 0 through 3 and still recover each of them afterward.
		last, err := bob.Decrypt(pkts[4])
		require.NoError(t, err)
		assert.Equal(t, "msg 4", string(last))

		for i := 0; i < 4; i++ {
			plaintext, err := bob.Decrypt(pkts[i])
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("msg %d", i), string(plaintext))
		}
	})

	t.Run("SnapshotRestoreRoundTripsSessionState", func(t *testing.T) {
		alice, _ := establishedPair(t)

		_, err := alice.Encrypt([]byte("before snapshot"))
		require.NoError(t, err)

		snap := session.TakeSnapshot(alice)

		restored, err := session.Restore(snap)
		require.NoError(t, err)

		original, err := alice.Encrypt([]byte("after original"))
		require.NoError(t, err)
		fromRestored, err := restored.Encrypt([]byte("after original"))
		require.NoError(t, err)

		assert.Equal(t, original.MessageKeyB64, fromRestored.MessageKeyB64,
			"a restored snapshot must re-derive the exact same next message key")
	})
}

func TestPrimitivesCryptoOperations(t *testing.T) {
	t.Run("KeyPairGenerationAndSharedSecret", func(t *testing.T) {
		alice, err := primitives.GenerateX25519KeyPair()
		require.NoError(t, err)
		assert.NotEqual(t, [32]byte{}, alice.Public, "generated public key is all zeros")

		bob, err := primitives.GenerateX25519KeyPair()
		require.NoError(t, err)

		aliceSecret, err := primitives.DH(alice.Private, bob.Public)
		require.NoError(t, err)
		bobSecret, err := primitives.DH(bob.Private, alice.Public)
		require.NoError(t, err)
		assert.Equal(t, aliceSecret, bobSecret)
		assert.NotEqual(t, [32]byte{}, aliceSecret)
	})

	t.Run("HKDFDerivationAndAEADRoundTrip", func(t *testing.T) {
		alice, err := primitives.GenerateX25519KeyPair()
		require.NoError(t, err)
		bob, err := primitives.GenerateX25519KeyPair()
		require.NoError(t, err)

		shared, err := primitives.DH(alice.Private, bob.Public)
		require.NoError(t, err)

		derivedKey, err := primitives.HKDF(shared[:], nil, []byte("test"), 32)
		require.NoError(t, err)
		assert.Len(t, derivedKey, 32)

		suite := primitives.AESGCMSuite{}
		nonce := make([]byte, suite.NonceSize())
		testData := []byte("Test data for encryption")

		ciphertext, err := suite.Seal(derivedKey, nonce, testData, nil)
		require.NoError(t, err)

		decrypted, err := suite.Open(derivedKey, nonce, ciphertext, nil)
		require.NoError(t, err)
		assert.Equal(t, testData, decrypted)
	})
}
