// Package ratchet implements the Double Ratchet session: per-message
// symmetric-key ratcheting layered on a Diffie-Hellman ratchet that
// advances whenever the peer's ratchet public key changes.
//
// A State is created once by x3dh.Initiate/x3dh.Respond and then mutated
// exclusively through Encrypt and Decrypt. Snapshot/Restore are the only
// sanctioned way to roll a State back to an earlier point, used by the
// session package's send-and-commit-or-rollback wrapper.
package ratchet

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
)

// MaxSkippedPerChain bounds the skipped-message-key cache per ratchet chain.
const MaxSkippedPerChain = 20

// Role identifies which side of the handshake produced this state.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

type skippedEntry struct {
	index uint32
	key   [32]byte
}

// State is the full per-conversation, per-peer-device Double Ratchet state
// described in the data model: root key, send/receive chains, ratchet key
// pairs, and the bounded skipped-key cache.
type State struct {
	RK [32]byte

	CKs    *[32]byte
	CKr    *[32]byte
	Ns, Nr uint32
	PN     uint32

	NsTotal, NrTotal uint64

	MyRatchetPriv [32]byte
	MyRatchetPub  [32]byte

	TheirRatchetPub *[32]byte

	PendingSendRatchet bool

	// skippedKeys is keyed by the ratchet public key the skipped message
	// belonged to, each chain bounded to MaxSkippedPerChain entries with
	// FIFO eviction tracked by order.
	skippedKeys map[[32]byte][]skippedEntry

	AEAD primitives.AEAD

	Role           Role
	ConversationID string
	AccountDigest  string
	PeerDeviceID   string
	DeviceID       string
}

// NewInitiatorState builds the ratchet state for the side that ran
// x3dh.Initiate: no receive chain yet, sending chain derived straight from
// the X3DH root key, current ratchet keypair is the X3DH ephemeral.
func NewInitiatorState(rk0 [32]byte, ephemeral primitives.X25519KeyPair, aead primitives.AEAD, conversationID, accountDigest, peerDeviceID, deviceID string) (*State, error) {
	ckS, _, err := primitives.KDFChainKey(rk0)
	if err != nil {
		return nil, e2eeerr.Crypto("failed to seed initial send chain", err)
	}
	return &State{
		RK:             rk0,
		CKs:            &ckS,
		MyRatchetPriv:  ephemeral.Private,
		MyRatchetPub:   ephemeral.Public,
		AEAD:           aead,
		Role:           RoleInitiator,
		ConversationID: conversationID,
		AccountDigest:  accountDigest,
		PeerDeviceID:   peerDeviceID,
		DeviceID:       deviceID,
		skippedKeys:    make(map[[32]byte][]skippedEntry),
	}, nil
}

// NewResponderState builds the ratchet state for the side that ran
// x3dh.Respond: both chains seeded from the shared root key, a fresh
// ratchet keypair is generated immediately, and the next Send is forced to
// perform a DH ratchet before it can transmit.
func NewResponderState(rk0 [32]byte, initiatorEphemeralPub [32]byte, aead primitives.AEAD, conversationID, accountDigest, peerDeviceID, deviceID string) (*State, error) {
	ckS, ckR, err := primitives.KDFChainKey(rk0)
	if err != nil {
		return nil, e2eeerr.Crypto("failed to seed send/receive chains", err)
	}
	myRatchet, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		return nil, e2eeerr.Crypto("failed to generate responder ratchet keypair", err)
	}
	theirPub := initiatorEphemeralPub
	return &State{
		RK:                 rk0,
		CKs:                &ckS,
		CKr:                &ckR,
		MyRatchetPriv:      myRatchet.Private,
		MyRatchetPub:       myRatchet.Public,
		TheirRatchetPub:    &theirPub,
		PendingSendRatchet: true,
		AEAD:               aead,
		Role:               RoleResponder,
		ConversationID:     conversationID,
		AccountDigest:      accountDigest,
		PeerDeviceID:       peerDeviceID,
		DeviceID:           deviceID,
		skippedKeys:        make(map[[32]byte][]skippedEntry),
	}, nil
}

// Header is the wire header carried alongside every ciphertext.
type Header struct {
	V        int            `json:"v"`
	Dr       int            `json:"dr"`
	EkPubB64 string         `json:"ek_pub_b64"`
	PN       uint32         `json:"pn"`
	N        uint32         `json:"n"`
	IvB64    string         `json:"iv_b64"`
	DeviceID string         `json:"device_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// Packet is the result of Encrypt: the header, the ciphertext, and the
// message key for the sender-local vault hook. MessageKeyB64 is never put
// on the wire.
type Packet struct {
	Header        Header
	CiphertextB64 string
	MessageKeyB64 string
}

// canonicalAAD renders the header's authenticated fields in the fixed key
// order both sides must agree on byte-for-byte: v, dr, ek_pub_b64, pn, n,
// iv_b64, device_id, then meta if present.
func canonicalAAD(h Header) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	fmt.Fprintf(&buf, `"v":%d,`, h.V)
	fmt.Fprintf(&buf, `"dr":%d,`, h.Dr)
	fmt.Fprintf(&buf, `"ek_pub_b64":%q,`, h.EkPubB64)
	fmt.Fprintf(&buf, `"pn":%d,`, h.PN)
	fmt.Fprintf(&buf, `"n":%d,`, h.N)
	fmt.Fprintf(&buf, `"iv_b64":%q,`, h.IvB64)
	fmt.Fprintf(&buf, `"device_id":%q`, h.DeviceID)
	if len(h.Meta) > 0 {
		metaJSON, _ := json.Marshal(h.Meta)
		fmt.Fprintf(&buf, `,"meta":%s`, metaJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// Encrypt advances the ratchet (performing a DH ratchet if one is pending
// or overdue) and seals plaintext under the freshly derived message key.
func (s *State) Encrypt(plaintext []byte) (*Packet, error) {
	if s.PendingSendRatchet {
		s.PendingSendRatchet = false
		s.CKs = nil
	}

	if s.CKs == nil {
		if s.TheirRatchetPub == nil {
			ckS, _, err := primitives.KDFChainKey(s.RK)
			if err != nil {
				return nil, e2eeerr.Crypto("failed to seed send chain on first message", err)
			}
			s.CKs = &ckS
		} else {
			newRatchet, err := primitives.GenerateX25519KeyPair()
			if err != nil {
				return nil, e2eeerr.Crypto("failed to generate sending ratchet keypair", err)
			}
			dh, err := primitives.DH(newRatchet.Private, *s.TheirRatchetPub)
			if err != nil {
				return nil, e2eeerr.Crypto("sending DH ratchet failed", err)
			}
			newRoot, chainSeed, err := primitives.KDFRootKey(s.RK[:], dh[:])
			if err != nil {
				return nil, e2eeerr.Crypto("failed to derive new root on sending ratchet", err)
			}
			s.RK = newRoot
			s.CKs = &chainSeed
			s.PN = s.Ns
			s.Ns = 0
			s.MyRatchetPriv = newRatchet.Private
			s.MyRatchetPub = newRatchet.Public
		}
	}

	mk, nextCK, err := primitives.KDFChainKey(*s.CKs)
	if err != nil {
		return nil, e2eeerr.Crypto("failed to derive message key", err)
	}
	s.CKs = &nextCK
	s.Ns++
	s.NsTotal++

	nonce, err := primitives.RandomNonce(s.AEAD.NonceSize())
	if err != nil {
		return nil, e2eeerr.Crypto("failed to generate nonce", err)
	}

	header := Header{
		V:        1,
		Dr:       1,
		EkPubB64: primitives.B64Encode(s.MyRatchetPub[:]),
		PN:       s.PN,
		N:        s.Ns,
		IvB64:    primitives.B64Encode(nonce),
		DeviceID: s.DeviceID,
	}

	ciphertext, err := s.AEAD.Seal(mk[:], nonce, plaintext, canonicalAAD(header))
	if err != nil {
		return nil, e2eeerr.Crypto("AEAD seal failed", err)
	}

	return &Packet{
		Header:        header,
		CiphertextB64: primitives.B64Encode(ciphertext),
		MessageKeyB64: primitives.B64Encode(mk[:]),
	}, nil
}

// validateHeader rejects malformed headers before any key derivation runs,
// per the "reject first" rule: a header failure is always fatal, never retried.
func validateHeader(h Header, expectedDeviceID string) error {
	if h.Dr != 1 {
		return e2eeerr.Validation("unsupported double-ratchet version marker", nil)
	}
	if h.V <= 0 {
		return e2eeerr.Validation("header v must be positive", nil)
	}
	if h.EkPubB64 == "" {
		return e2eeerr.Validation("header missing ek_pub_b64", nil)
	}
	if _, err := primitives.B64Decode(h.EkPubB64); err != nil {
		return e2eeerr.Validation("header ek_pub_b64 is not valid base64", err)
	}
	if h.IvB64 == "" {
		return e2eeerr.Validation("header missing iv_b64", nil)
	}
	if h.DeviceID == "" {
		return e2eeerr.Validation("header missing device_id", nil)
	}
	if expectedDeviceID != "" && h.DeviceID != expectedDeviceID {
		return e2eeerr.Validation("header device_id does not match bound sender device", nil)
	}
	return nil
}

// Decrypt implements the full receive algorithm: skipped-key lookup, DH
// ratchet decision, in-chain catch-up, message key derivation, and AEAD
// open. State mutations are staged on a copy and committed only if the
// AEAD open succeeds, so a forged or corrupted packet never leaves the
// ratchet in a partially advanced state.
func (s *State) Decrypt(pkt *Packet) ([]byte, error) {
	if err := validateHeader(pkt.Header, s.PeerDeviceID); err != nil {
		return nil, err
	}

	ekRaw, err := primitives.B64Decode(pkt.Header.EkPubB64)
	if err != nil || len(ekRaw) != 32 {
		return nil, e2eeerr.Validation("header ek_pub_b64 has invalid length", err)
	}
	var ek [32]byte
	copy(ek[:], ekRaw)

	ciphertext, err := primitives.B64Decode(pkt.CiphertextB64)
	if err != nil {
		return nil, e2eeerr.Validation("ciphertext is not valid base64", err)
	}
	nonce, err := primitives.B64Decode(pkt.Header.IvB64)
	if err != nil {
		return nil, e2eeerr.Validation("header iv_b64 is not valid base64", err)
	}

	if mk, ok := s.popSkipped(ek, pkt.Header.N); ok {
		aad := canonicalAAD(pkt.Header)
		plaintext, err := s.AEAD.Open(mk[:], nonce, ciphertext, aad)
		if err != nil {
			return nil, e2eeerr.Crypto("AEAD open failed for skipped-key message", err)
		}
		return plaintext, nil
	}

	staged := *s
	staged.skippedKeys = cloneSkipped(s.skippedKeys)

	isNewRatchetKey := staged.TheirRatchetPub == nil || !bytesEqual32(*staged.TheirRatchetPub, ek)

	if isNewRatchetKey {
		if staged.TheirRatchetPub != nil && staged.CKr != nil {
			if err := advanceChain(staged.skippedKeys, staged.CKr, &staged.Nr, pkt.Header.PN, *staged.TheirRatchetPub); err != nil {
				return nil, err
			}
		}

		dh, err := primitives.DH(staged.MyRatchetPriv, ek)
		if err != nil {
			return nil, e2eeerr.Crypto("receiving DH ratchet failed", err)
		}
		newRoot, chainSeed, err := primitives.KDFRootKey(staged.RK[:], dh[:])
		if err != nil {
			return nil, e2eeerr.Crypto("failed to derive new root on receiving ratchet", err)
		}
		staged.RK = newRoot
		staged.CKr = &chainSeed
		staged.TheirRatchetPub = &ek
		staged.PN = staged.Ns
		staged.Ns = 0
		staged.Nr = 0
		staged.CKs = nil
		staged.PendingSendRatchet = false
	}

	if staged.CKr == nil {
		return nil, e2eeerr.Fatal("no receive chain established for decrypt", nil)
	}

	if err := advanceChain(staged.skippedKeys, staged.CKr, &staged.Nr, pkt.Header.N, *staged.TheirRatchetPub); err != nil {
		return nil, err
	}

	mk, nextCK, err := primitives.KDFChainKey(*staged.CKr)
	if err != nil {
		return nil, e2eeerr.Crypto("failed to derive target message key", err)
	}
	staged.CKr = &nextCK
	staged.Nr++
	staged.NrTotal++

	aad := canonicalAAD(pkt.Header)
	plaintext, err := s.AEAD.Open(mk[:], nonce, ciphertext, aad)
	if err != nil {
		return nil, e2eeerr.Crypto("AEAD open failed", err)
	}

	*s = staged
	return plaintext, nil
}

// advanceChain derives and caches skipped message keys for every index
// strictly between the chain's current Nr and target, leaving ck and nr
// positioned one step before target so the caller can derive the target
// key itself. It never derives the target key's message key directly,
// matching the "while Nr+1 < target" boundary from the receive algorithm.
func advanceChain(cache map[[32]byte][]skippedEntry, ck *[32]byte, nr *uint32, target uint32, chainKey [32]byte) error {
	for *nr+1 < target {
		mk, nextCK, err := primitives.KDFChainKey(*ck)
		if err != nil {
			return e2eeerr.Crypto("failed to derive skipped message key", err)
		}
		*ck = nextCK
		*nr++
		pushSkippedTo(cache, chainKey, *nr, mk)
	}
	return nil
}

func pushSkippedTo(m map[[32]byte][]skippedEntry, chainKey [32]byte, index uint32, key [32]byte) {
	entries := m[chainKey]
	entries = append(entries, skippedEntry{index: index, key: key})
	if len(entries) > MaxSkippedPerChain {
		entries = entries[len(entries)-MaxSkippedPerChain:]
	}
	m[chainKey] = entries
}

func (s *State) popSkipped(chainKey [32]byte, index uint32) ([32]byte, bool) {
	var zero [32]byte
	entries, ok := s.skippedKeys[chainKey]
	if !ok {
		return zero, false
	}
	for i, e := range entries {
		if e.index == index {
			key := e.key
			s.skippedKeys[chainKey] = append(entries[:i], entries[i+1:]...)
			return key, true
		}
	}
	return zero, false
}

func cloneSkipped(m map[[32]byte][]skippedEntry) map[[32]byte][]skippedEntry {
	out := make(map[[32]byte][]skippedEntry, len(m))
	for k, v := range m {
		cp := make([]skippedEntry, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func bytesEqual32(a, b [32]byte) bool {
	return a == b
}

// B64 re-exports the wire codec so callers serializing/deserializing
// Header JSON don't need to import primitives directly.
func B64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }
