package x3dh

import (
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/prekeys"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
)

type handshakeParties struct {
	aliceIK *primitives.IdentityKeyPair
	bobIK   *primitives.IdentityKeyPair
	bobSPK  *primitives.X25519KeyPair
	bobOPK  *primitives.X25519KeyPair
	bobOPKID uint32
}

func newHandshakeParties(t *testing.T) *handshakeParties {
	t.Helper()
	aliceIK, err := primitives.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("alice identity keygen failed: %v", err)
	}
	bobIK, err := primitives.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("bob identity keygen failed: %v", err)
	}
	bobSPK, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("bob signed pre-key keygen failed: %v", err)
	}
	bobOPK, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("bob one-time pre-key keygen failed: %v", err)
	}
	return &handshakeParties{aliceIK: aliceIK, bobIK: bobIK, bobSPK: bobSPK, bobOPK: bobOPK, bobOPKID: 7}
}

func TestX3DHBothSidesAgreeWithOneTimeKey(t *testing.T) {
	p := newHandshakeParties(t)

	sig := primitives.SignPreKey(p.bobIK.Private, p.bobSPK.Public)
	opkID := p.bobOPKID
	opkPub := p.bobOPK.Public

	aliceEph, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("alice ephemeral keygen failed: %v", err)
	}

	bundle := &prekeys.Bundle{
		DeviceID:        "bob-device",
		IdentityKey:     p.bobIK.Public,
		SignedPreKeyID:  1,
		SignedPreKey:    p.bobSPK.Public,
		SignedPreKeySig: sig,
		OneTimePreKeyID: &opkID,
		OneTimePreKey:   &opkPub,
	}

	aliceResult, err := Initiate(InitiatorMaterial{
		IdentityPrivate:  p.aliceIK.Private,
		IdentityPublic:   p.aliceIK.Public,
		EphemeralPrivate: aliceEph.Private,
		EphemeralPublic:  aliceEph.Public,
		PeerBundle:       bundle,
	})
	if err != nil {
		t.Fatalf("initiator handshake failed: %v", err)
	}
	if aliceResult.UsedOneTimeKeyID == nil || *aliceResult.UsedOneTimeKeyID != opkID {
		t.Fatal("expected the one-time pre-key id to be reported as used")
	}

	bobResult, err := Respond(ResponderMaterial{
		IdentityPrivate:    p.bobIK.Private,
		IdentityPublic:     p.bobIK.Public,
		SignedPrePrivate:   p.bobSPK.Private,
		OneTimePrePrivate:  &p.bobOPK.Private,
		InitiatorIdentity:  p.aliceIK.Public,
		InitiatorEphemeral: aliceEph.Public,
	})
	if err != nil {
		t.Fatalf("responder handshake failed: %v", err)
	}

	if aliceResult.SharedSecret != bobResult.SharedSecret {
		t.Fatal("initiator and responder must derive the same X3DH shared secret")
	}
	if string(aliceResult.AssociatedData) != string(bobResult.AssociatedData) {
		t.Fatal("initiator and responder must derive the same associated data")
	}
	t.Log("✅ X3DH with one-time pre-key agrees on both sides")
}

func TestX3DHBothSidesAgreeWithoutOneTimeKey(t *testing.T) {
	p := newHandshakeParties(t)
	sig := primitives.SignPreKey(p.bobIK.Private, p.bobSPK.Public)

	aliceEph, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("alice ephemeral keygen failed: %v", err)
	}

	bundle := &prekeys.Bundle{
		DeviceID:        "bob-device",
		IdentityKey:     p.bobIK.Public,
		SignedPreKeyID:  1,
		SignedPreKey:    p.bobSPK.Public,
		SignedPreKeySig: sig,
	}

	aliceResult, err := Initiate(InitiatorMaterial{
		IdentityPrivate:  p.aliceIK.Private,
		IdentityPublic:   p.aliceIK.Public,
		EphemeralPrivate: aliceEph.Private,
		EphemeralPublic:  aliceEph.Public,
		PeerBundle:       bundle,
	})
	if err != nil {
		t.Fatalf("initiator handshake failed: %v", err)
	}
	if aliceResult.UsedOneTimeKeyID != nil {
		t.Fatal("no one-time pre-key was offered, none should be reported used")
	}

	bobResult, err := Respond(ResponderMaterial{
		IdentityPrivate:    p.bobIK.Private,
		IdentityPublic:     p.bobIK.Public,
		SignedPrePrivate:   p.bobSPK.Private,
		InitiatorIdentity:  p.aliceIK.Public,
		InitiatorEphemeral: aliceEph.Public,
	})
	if err != nil {
		t.Fatalf("responder handshake failed: %v", err)
	}

	if aliceResult.SharedSecret != bobResult.SharedSecret {
		t.Fatal("initiator and responder must derive the same X3DH shared secret without an OPK")
	}
}

func TestX3DHRejectsForgedSignedPreKeySignature(t *testing.T) {
	p := newHandshakeParties(t)
	forgedIK, err := primitives.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("forged identity keygen failed: %v", err)
	}
	// Signed by a different identity key than the one in the bundle: this is
	// exactly the MITM scenario X3DH's signature check exists to catch.
	forgedSig := primitives.SignPreKey(forgedIK.Private, p.bobSPK.Public)

	aliceEph, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("alice ephemeral keygen failed: %v", err)
	}

	bundle := &prekeys.Bundle{
		DeviceID:        "bob-device",
		IdentityKey:     p.bobIK.Public,
		SignedPreKeyID:  1,
		SignedPreKey:    p.bobSPK.Public,
		SignedPreKeySig: forgedSig,
	}

	_, err = Initiate(InitiatorMaterial{
		IdentityPrivate:  p.aliceIK.Private,
		IdentityPublic:   p.aliceIK.Public,
		EphemeralPrivate: aliceEph.Private,
		EphemeralPublic:  aliceEph.Public,
		PeerBundle:       bundle,
	})
	if err == nil {
		t.Fatal("expected forged signed pre-key signature to be rejected")
	}
}

func TestRespondToRotatedIdentityChangesSecret(t *testing.T) {
	p := newHandshakeParties(t)
	aliceEph, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("alice ephemeral keygen failed: %v", err)
	}

	base := ResponderMaterial{
		IdentityPrivate:    p.bobIK.Private,
		IdentityPublic:     p.bobIK.Public,
		SignedPrePrivate:   p.bobSPK.Private,
		InitiatorIdentity:  p.aliceIK.Public,
		InitiatorEphemeral: aliceEph.Public,
	}

	originalResult, err := Respond(base)
	if err != nil {
		t.Fatalf("original responder handshake failed: %v", err)
	}

	newAliceIK, err := primitives.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("rotated identity keygen failed: %v", err)
	}

	rotatedResult, err := RespondToRotatedIdentity(base, newAliceIK.Public)
	if err != nil {
		t.Fatalf("rotated responder handshake failed: %v", err)
	}

	if originalResult.SharedSecret == rotatedResult.SharedSecret {
		t.Fatal("rotating the initiator identity key must change the derived secret")
	}

	if _, err := RespondToRotatedIdentity(base, p.aliceIK.Public); err == nil {
		t.Fatal("expected an error when the 'rotated' key is identical to the original")
	}
}
