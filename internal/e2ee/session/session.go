// Package session manages the in-memory lifetime of Double Ratchet states:
// a per-account store keyed by (conversation, peer device), snapshot and
// restore for rollback, and the send wrapper that implements the
// pre-snapshot, encrypt, transport-send, commit-or-rollback pattern
// required around every outbound message.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/ratchet"
)

// Key identifies one ratchet session within an account.
type Key struct {
	ConversationID string
	PeerDeviceID   string
}

// entry pairs a ratchet state with the mutex that serializes every
// operation against it, per spec section 5's one-writer-at-a-time rule.
type entry struct {
	mu    sync.Mutex
	state *ratchet.State
}

// Store holds every ratchet session for one account in memory, keyed by
// conversation and peer device. It does not itself persist to disk; callers
// that need durability snapshot sessions into their own storage.
type Store struct {
	mu       sync.RWMutex
	sessions map[Key]*entry
}

// NewStore creates an empty session store for one account.
func NewStore() *Store {
	return &Store{sessions: make(map[Key]*entry)}
}

// Put installs a newly created ratchet state (from x3dh.Initiate/Respond)
// under key, replacing anything previously stored there.
func (s *Store) Put(key Key, state *ratchet.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = &entry{state: state}
}

// Get returns the session for key, or false if none exists.
func (s *Store) Get(key Key) (*ratchet.State, bool) {
	s.mu.RLock()
	e, ok := s.sessions[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.state, true
}

// Delete destroys a session, e.g. on explicit conversation reset or
// authorized device removal.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

func (s *Store) lockedEntry(key Key) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.sessions[key]
	s.mu.RUnlock()
	return e, ok
}

// Snapshot is the serializable form of a ratchet.State: every field is a
// base64 byte string or plain integer, so it can be stored as JSON without
// leaking key material through log formatting of binary blobs.
type Snapshot struct {
	RK string `json:"rk"`

	CKs *string `json:"ck_s,omitempty"`
	CKr *string `json:"ck_r,omitempty"`

	Ns, Nr uint32 `json:"ns"`
	PN     uint32 `json:"pn"`

	NsTotal, NrTotal uint64 `json:"ns_total"`

	MyRatchetPriv string  `json:"my_ratchet_priv"`
	MyRatchetPub  string  `json:"my_ratchet_pub"`
	TheirRatchetPub *string `json:"their_ratchet_pub,omitempty"`

	PendingSendRatchet bool `json:"pending_send_ratchet"`

	AEADSuite string `json:"aead_suite"`

	Role           string `json:"role"`
	ConversationID string `json:"conversation_id"`
	AccountDigest  string `json:"account_digest"`
	PeerDeviceID   string `json:"peer_device_id"`
	DeviceID       string `json:"device_id"`
}

// TakeSnapshot serializes a ratchet.State. Snapshot/Restore is the only
// sanctioned rollback mechanism; callers must take a snapshot before every
// Encrypt call that might need to be undone (CounterTooLow, a crashed send).
func TakeSnapshot(st *ratchet.State) Snapshot {
	snap := Snapshot{
		RK:                 primitives.B64Encode(st.RK[:]),
		Ns:                 st.Ns,
		Nr:                 st.Nr,
		PN:                 st.PN,
		NsTotal:            st.NsTotal,
		NrTotal:            st.NrTotal,
		MyRatchetPriv:      primitives.B64Encode(st.MyRatchetPriv[:]),
		MyRatchetPub:       primitives.B64Encode(st.MyRatchetPub[:]),
		PendingSendRatchet: st.PendingSendRatchet,
		AEADSuite:          st.AEAD.Name(),
		Role:               string(st.Role),
		ConversationID:     st.ConversationID,
		AccountDigest:      st.AccountDigest,
		PeerDeviceID:       st.PeerDeviceID,
		DeviceID:           st.DeviceID,
	}
	if st.CKs != nil {
		v := primitives.B64Encode(st.CKs[:])
		snap.CKs = &v
	}
	if st.CKr != nil {
		v := primitives.B64Encode(st.CKr[:])
		snap.CKr = &v
	}
	if st.TheirRatchetPub != nil {
		v := primitives.B64Encode(st.TheirRatchetPub[:])
		snap.TheirRatchetPub = &v
	}
	return snap
}

// Restore rebuilds a ratchet.State from a snapshot. The skipped-key cache
// is always empty after restore: any cached keys not separately persisted
// are acceptably lost under the no-silent-recovery rule.
func Restore(snap Snapshot) (*ratchet.State, error) {
	aead, ok := primitives.SuiteByName(snap.AEADSuite)
	if !ok {
		return nil, e2eeerr.Validation("snapshot references an unknown AEAD suite", nil)
	}

	rk, err := decode32(snap.RK)
	if err != nil {
		return nil, e2eeerr.Validation("snapshot has malformed root key", err)
	}
	myPriv, err := decode32(snap.MyRatchetPriv)
	if err != nil {
		return nil, e2eeerr.Validation("snapshot has malformed ratchet private key", err)
	}
	myPub, err := decode32(snap.MyRatchetPub)
	if err != nil {
		return nil, e2eeerr.Validation("snapshot has malformed ratchet public key", err)
	}

	st := &ratchet.State{
		RK:                 rk,
		Ns:                 snap.Ns,
		Nr:                 snap.Nr,
		PN:                 snap.PN,
		NsTotal:            snap.NsTotal,
		NrTotal:            snap.NrTotal,
		MyRatchetPriv:      myPriv,
		MyRatchetPub:       myPub,
		PendingSendRatchet: snap.PendingSendRatchet,
		AEAD:               aead,
		Role:               ratchet.Role(snap.Role),
		ConversationID:     snap.ConversationID,
		AccountDigest:      snap.AccountDigest,
		PeerDeviceID:       snap.PeerDeviceID,
		DeviceID:           snap.DeviceID,
	}

	if snap.CKs != nil {
		ck, err := decode32(*snap.CKs)
		if err != nil {
			return nil, e2eeerr.Validation("snapshot has malformed send chain key", err)
		}
		st.CKs = &ck
	}
	if snap.CKr != nil {
		ck, err := decode32(*snap.CKr)
		if err != nil {
			return nil, e2eeerr.Validation("snapshot has malformed receive chain key", err)
		}
		st.CKr = &ck
	}
	if snap.TheirRatchetPub != nil {
		pub, err := decode32(*snap.TheirRatchetPub)
		if err != nil {
			return nil, e2eeerr.Validation("snapshot has malformed peer ratchet key", err)
		}
		st.TheirRatchetPub = &pub
	}

	return st, nil
}

func decode32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := primitives.B64Decode(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, e2eeerr.Validation("expected a 32-byte field", nil)
	}
	copy(out[:], raw)
	return out, nil
}

// MarshalJSON/UnmarshalJSON are provided implicitly by encoding/json for
// Snapshot since every field is already JSON-friendly; SnapshotJSON is a
// convenience wrapper for callers that persist snapshots as opaque blobs.
func SnapshotJSON(st *ratchet.State) ([]byte, error) {
	return json.Marshal(TakeSnapshot(st))
}

// RestoreJSON parses a snapshot previously produced by SnapshotJSON.
func RestoreJSON(data []byte) (*ratchet.State, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, e2eeerr.Validation("malformed snapshot JSON", err)
	}
	return Restore(snap)
}

// TransportSender delivers an encrypted packet and reports the server's
// accept/reject decision. Implementations wrap the counter-contract client.
type TransportSender interface {
	Send(ctx context.Context, key Key, pkt *ratchet.Packet, plaintextLen int) error
}

// SendResult carries what a successful Send produced, including the
// message key so the caller can write it to the vault.
type SendResult struct {
	Packet *ratchet.Packet
}

// Send implements the mandated "pre-snapshot -> Encrypt -> transport-send ->
// commit-or-rollback" sequence for one outbound message. On any failure the
// ratchet state is restored to its pre-send snapshot so a failed send never
// leaves the session ratcheted past what the peer actually received.
func (s *Store) Send(ctx context.Context, key Key, plaintext []byte, transport TransportSender) (*SendResult, error) {
	e, ok := s.lockedEntry(key)
	if !ok {
		return nil, e2eeerr.Validation("no ratchet session for key", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	preSnapshot := TakeSnapshot(e.state)

	pkt, err := e.state.Encrypt(plaintext)
	if err != nil {
		s.rollback(e, preSnapshot)
		return nil, err
	}

	if err := transport.Send(ctx, key, pkt, len(plaintext)); err != nil {
		s.rollback(e, preSnapshot)
		if maxCounter, ok := e2eeerr.AsCounterTooLow(err); ok {
			e.state.NsTotal = uint64(maxCounter)
			e.state.CKs = nil
			e.state.PendingSendRatchet = true

			retryPkt, retryErr := e.state.Encrypt(plaintext)
			if retryErr != nil {
				return nil, retryErr
			}
			if sendErr := transport.Send(ctx, key, retryPkt, len(plaintext)); sendErr != nil {
				s.rollback(e, preSnapshot)
				return nil, e2eeerr.Fatal("counter rejected twice in a row", sendErr)
			}
			return &SendResult{Packet: retryPkt}, nil
		}
		return nil, err
	}

	return &SendResult{Packet: pkt}, nil
}

func (s *Store) rollback(e *entry, snap Snapshot) {
	restored, err := Restore(snap)
	if err != nil {
		return
	}
	*e.state = *restored
}

// SeedAfterCrashRecovery applies the one sanctioned counter adjustment
// after a sender restores a stale snapshot: it re-seeds NsTotal from the
// server's expected_counter and forces the next send to re-ratchet.
func SeedAfterCrashRecovery(st *ratchet.State, expectedCounter int64) {
	st.NsTotal = uint64(expectedCounter - 1)
	st.Ns = 0
	st.PN = 0
	st.CKs = nil
	st.PendingSendRatchet = true
}
