package session

import (
	"bytes"
	"context"
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/ratchet"
)

func newTestState(t *testing.T) *ratchet.State {
	t.Helper()
	var rk0 [32]byte
	copy(rk0[:], bytes.Repeat([]byte{0x07}, 32))
	eph, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("ephemeral keygen failed: %v", err)
	}
	st, err := ratchet.NewInitiatorState(rk0, *eph, primitives.AESGCMSuite{}, "conv-1", "acct", "peer-device", "local-device")
	if err != nil {
		t.Fatalf("NewInitiatorState failed: %v", err)
	}
	return st
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	st := newTestState(t)
	if _, err := st.Encrypt([]byte("advance the chain once")); err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	snap := TakeSnapshot(st)
	restored, err := Restore(snap)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if restored.RK != st.RK {
		t.Fatal("restored root key mismatch")
	}
	if restored.Ns != st.Ns || restored.NsTotal != st.NsTotal {
		t.Fatal("restored counters mismatch")
	}
	if restored.CKs == nil || st.CKs == nil || *restored.CKs != *st.CKs {
		t.Fatal("restored send chain key mismatch")
	}
	if restored.AEAD.Name() != st.AEAD.Name() {
		t.Fatal("restored AEAD suite mismatch")
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	st := newTestState(t)
	data, err := SnapshotJSON(st)
	if err != nil {
		t.Fatalf("SnapshotJSON failed: %v", err)
	}
	restored, err := RestoreJSON(data)
	if err != nil {
		t.Fatalf("RestoreJSON failed: %v", err)
	}
	if restored.RK != st.RK {
		t.Fatal("JSON round trip must preserve the root key")
	}
}

type fakeTransport struct {
	rejectOnce bool
	rejected   bool
	maxCounter int64
	calls      int
}

func (f *fakeTransport) Send(_ context.Context, _ Key, _ *ratchet.Packet, _ int) error {
	f.calls++
	if f.rejectOnce && !f.rejected {
		f.rejected = true
		return e2eeerr.CounterTooLow(f.maxCounter)
	}
	return nil
}

func TestSendCommitsOnSuccess(t *testing.T) {
	store := NewStore()
	key := Key{ConversationID: "conv-1", PeerDeviceID: "peer-device"}
	store.Put(key, newTestState(t))

	transport := &fakeTransport{}
	result, err := store.Send(context.Background(), key, []byte("hi"), transport)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.Packet.Header.N != 1 {
		t.Fatalf("expected first message counter 1, got %d", result.Packet.Header.N)
	}
}

func TestSendRollsBackAndRetriesOnCounterTooLow(t *testing.T) {
	store := NewStore()
	key := Key{ConversationID: "conv-1", PeerDeviceID: "peer-device"}
	st := newTestState(t)
	store.Put(key, st)

	transport := &fakeTransport{rejectOnce: true, maxCounter: 9}
	result, err := store.Send(context.Background(), key, []byte("hi"), transport)
	if err != nil {
		t.Fatalf("Send failed despite sanctioned retry: %v", err)
	}
	if transport.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", transport.calls)
	}

	restoredState, _ := store.Get(key)
	if restoredState.NsTotal != 10 {
		t.Fatalf("expected NsTotal seeded to maxCounter+1=10 after retry, got %d", restoredState.NsTotal)
	}
	if result.Packet == nil {
		t.Fatal("expected a packet from the retried send")
	}
	t.Log("✅ CounterTooLow triggers rollback, reseed, and a single sanctioned retry")
}

func TestSendFailsFatallyOnRepeatedRejection(t *testing.T) {
	store := NewStore()
	key := Key{ConversationID: "conv-1", PeerDeviceID: "peer-device"}
	store.Put(key, newTestState(t))

	transport := &alwaysRejectTransport{maxCounter: 3}
	_, err := store.Send(context.Background(), key, []byte("hi"), transport)
	if err == nil {
		t.Fatal("expected repeated CounterTooLow rejection to be fatal")
	}
	if !e2eeerr.Is(err, e2eeerr.KindFatal) {
		t.Fatalf("expected KindFatal, got %v", err)
	}
}

type alwaysRejectTransport struct {
	maxCounter int64
}

func (a *alwaysRejectTransport) Send(_ context.Context, _ Key, _ *ratchet.Packet, _ int) error {
	return e2eeerr.CounterTooLow(a.maxCounter)
}

func TestSeedAfterCrashRecovery(t *testing.T) {
	st := newTestState(t)
	st.NsTotal = 2
	SeedAfterCrashRecovery(st, 42)

	if st.NsTotal != 41 {
		t.Fatalf("expected NsTotal=41, got %d", st.NsTotal)
	}
	if st.CKs != nil {
		t.Fatal("expected send chain to be cleared")
	}
	if !st.PendingSendRatchet {
		t.Fatal("expected pending send ratchet to be forced")
	}
}
