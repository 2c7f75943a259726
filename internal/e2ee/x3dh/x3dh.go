// Package x3dh implements the Extended Triple Diffie-Hellman handshake used
// to agree an initial shared secret between two devices before a Double
// Ratchet session begins.
//
// The four Diffie-Hellman computations and their concatenation order follow
// the X3DH specification: DH1 = DH(IK_A, SPK_B), DH2 = DH(EK_A, IK_B),
// DH3 = DH(EK_A, SPK_B), and, when the responder still has an unclaimed
// one-time pre-key, DH4 = DH(EK_A, OPK_B).
package x3dh

import (
	"crypto/ed25519"
	"errors"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/prekeys"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
)

var x3dhSalt = []byte("x3dh-salt")

const x3dhInfo = "x3dh-root"

// Result is the outcome of a successful handshake: the 32-byte shared
// secret destined for the Double Ratchet's initial root key, plus the
// associated data both sides must bind into every subsequent AEAD call.
type Result struct {
	SharedSecret    [32]byte
	AssociatedData  []byte
	UsedOneTimeKeyID *uint32
}

// InitiatorMaterial is the initiating device's own long-term and ephemeral
// key material, plus the responder's claimed bundle.
type InitiatorMaterial struct {
	IdentityPrivate  ed25519.PrivateKey
	IdentityPublic   ed25519.PublicKey
	EphemeralPrivate [32]byte
	EphemeralPublic  [32]byte
	PeerBundle       *prekeys.Bundle
}

// Initiate runs the initiator's half of X3DH against a claimed peer bundle.
// The peer bundle's signed pre-key signature must already have been
// verified by the claim path (prekeys.Manager.ClaimBundle does this); Initiate
// re-verifies defensively since a forged or cached bundle is exactly the
// MITM vector X3DH exists to close.
func Initiate(m InitiatorMaterial) (*Result, error) {
	if m.PeerBundle == nil {
		return nil, e2eeerr.Validation("peer bundle is required to initiate X3DH", nil)
	}
	if !primitives.VerifyPreKeySignature(m.PeerBundle.IdentityKey, m.PeerBundle.SignedPreKey, m.PeerBundle.SignedPreKeySig) {
		return nil, e2eeerr.Fatal("peer signed pre-key signature does not verify", nil)
	}

	ikPrivX, err := primitives.Ed25519PrivateKeyToX25519(m.IdentityPrivate)
	if err != nil {
		return nil, e2eeerr.Crypto("failed to convert local identity key to X25519", err)
	}
	peerIKX, err := primitives.Ed25519PublicKeyToX25519(m.PeerBundle.IdentityKey)
	if err != nil {
		return nil, e2eeerr.Crypto("failed to convert peer identity key to X25519", err)
	}

	dh1, err := primitives.DH(ikPrivX, m.PeerBundle.SignedPreKey)
	if err != nil {
		return nil, e2eeerr.Crypto("DH1 failed", err)
	}
	dh2, err := primitives.DH(m.EphemeralPrivate, peerIKX)
	if err != nil {
		return nil, e2eeerr.Crypto("DH2 failed", err)
	}
	dh3, err := primitives.DH(m.EphemeralPrivate, m.PeerBundle.SignedPreKey)
	if err != nil {
		return nil, e2eeerr.Crypto("DH3 failed", err)
	}

	concat := make([]byte, 0, 32*4)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)

	var usedOPK *uint32
	if m.PeerBundle.OneTimePreKey != nil {
		dh4, err := primitives.DH(m.EphemeralPrivate, *m.PeerBundle.OneTimePreKey)
		if err != nil {
			return nil, e2eeerr.Crypto("DH4 failed", err)
		}
		concat = append(concat, dh4[:]...)
		usedOPK = m.PeerBundle.OneTimePreKeyID
	}

	secretBytes, err := primitives.HKDF(concat, x3dhSalt, []byte(x3dhInfo), 32)
	if err != nil {
		return nil, e2eeerr.Crypto("X3DH HKDF derivation failed", err)
	}
	var secret [32]byte
	copy(secret[:], secretBytes)

	ad := associatedData(m.IdentityPublic, m.PeerBundle.IdentityKey)

	return &Result{SharedSecret: secret, AssociatedData: ad, UsedOneTimeKeyID: usedOPK}, nil
}

// ResponderMaterial is the responding device's long-term and signed pre-key
// material, plus the initiator's identity key and ephemeral key as received
// in the initial message.
type ResponderMaterial struct {
	IdentityPrivate     ed25519.PrivateKey
	IdentityPublic      ed25519.PublicKey
	SignedPrePrivate    [32]byte
	OneTimePrePrivate   *[32]byte
	InitiatorIdentity   ed25519.PublicKey
	InitiatorEphemeral  [32]byte
}

// Respond runs the responder's half of X3DH, recomputing the same shared
// secret the initiator derived from its own private key material.
func Respond(m ResponderMaterial) (*Result, error) {
	if len(m.InitiatorIdentity) != ed25519.PublicKeySize {
		return nil, e2eeerr.Validation("initiator identity key missing or malformed", nil)
	}

	spkPrivX := m.SignedPrePrivate
	ikPrivX, err := primitives.Ed25519PrivateKeyToX25519(m.IdentityPrivate)
	if err != nil {
		return nil, e2eeerr.Crypto("failed to convert local identity key to X25519", err)
	}
	initiatorIKX, err := primitives.Ed25519PublicKeyToX25519(m.InitiatorIdentity)
	if err != nil {
		return nil, e2eeerr.Crypto("failed to convert initiator identity key to X25519", err)
	}

	dh1, err := primitives.DH(spkPrivX, initiatorIKX)
	if err != nil {
		return nil, e2eeerr.Crypto("DH1 failed", err)
	}
	dh2, err := primitives.DH(ikPrivX, m.InitiatorEphemeral)
	if err != nil {
		return nil, e2eeerr.Crypto("DH2 failed", err)
	}
	dh3, err := primitives.DH(spkPrivX, m.InitiatorEphemeral)
	if err != nil {
		return nil, e2eeerr.Crypto("DH3 failed", err)
	}

	concat := make([]byte, 0, 32*4)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)

	if m.OneTimePrePrivate != nil {
		dh4, err := primitives.DH(*m.OneTimePrePrivate, m.InitiatorEphemeral)
		if err != nil {
			return nil, e2eeerr.Crypto("DH4 failed", err)
		}
		concat = append(concat, dh4[:]...)
	}

	secretBytes, err := primitives.HKDF(concat, x3dhSalt, []byte(x3dhInfo), 32)
	if err != nil {
		return nil, e2eeerr.Crypto("X3DH HKDF derivation failed", err)
	}
	var secret [32]byte
	copy(secret[:], secretBytes)

	ad := associatedData(m.InitiatorIdentity, m.IdentityPublic)

	return &Result{SharedSecret: secret, AssociatedData: ad}, nil
}

// associatedData binds both parties' identity keys, initiator first, into
// the data every ratchet message's AEAD call authenticates.
func associatedData(initiatorIK, responderIK ed25519.PublicKey) []byte {
	ad := make([]byte, 0, len(initiatorIK)+len(responderIK))
	ad = append(ad, initiatorIK...)
	ad = append(ad, responderIK...)
	return ad
}

// RespondToRotatedIdentity re-derives the shared secret after the initiator
// has rotated its long-term identity key mid-conversation. It is the bridge
// between the legacy identity-key-rotation notification flow and the X3DH
// handshake: the responder must redo X3DH against the new identity key
// rather than silently keep trusting ratchet state tied to the old one.
func RespondToRotatedIdentity(m ResponderMaterial, newInitiatorIdentity ed25519.PublicKey) (*Result, error) {
	if len(newInitiatorIdentity) != ed25519.PublicKeySize {
		return nil, e2eeerr.Validation("rotated identity key missing or malformed", nil)
	}
	if newInitiatorIdentity.Equal(m.InitiatorIdentity) {
		return nil, e2eeerr.Validation("rotated identity key is identical to the previous one", errors.New("no rotation occurred"))
	}
	m.InitiatorIdentity = newInitiatorIdentity
	return Respond(m)
}
