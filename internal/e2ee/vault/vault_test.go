package vault

import (
	"context"
	"sync"
	"testing"
)

// memVault is an in-memory Vault used for unit tests; PostgresVault's query
// shape is reviewed directly rather than exercised against a live database.
type memVault struct {
	mu   sync.Mutex
	rows map[string]Entry
}

func newMemVault() *memVault {
	return &memVault{rows: make(map[string]Entry)}
}

const testAccountID = "account-1"

func rowKey(accountID, conversationID, messageID, senderDeviceID string) string {
	return accountID + "|" + conversationID + "|" + messageID + "|" + senderDeviceID
}

func (m *memVault) Put(_ context.Context, accountID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rowKey(accountID, e.ConversationID, e.MessageID, e.SenderDeviceID)] = e
	return nil
}

func (m *memVault) Get(_ context.Context, accountID, conversationID, messageID, senderDeviceID string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[rowKey(accountID, conversationID, messageID, senderDeviceID)]
	return e, ok, nil
}

func (m *memVault) Delete(_ context.Context, accountID, conversationID, messageID, senderDeviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, rowKey(accountID, conversationID, messageID, senderDeviceID))
	return nil
}

func (m *memVault) LatestState(_ context.Context, accountID, conversationID string) (map[Direction]LatestState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Direction]LatestState)
	prefix := accountID + "|" + conversationID + "|"
	for key, e := range m.rows {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		cur, ok := out[e.Direction]
		if !ok || e.HeaderCounter > cur.Counter {
			out[e.Direction] = LatestState{Counter: e.HeaderCounter, MessageID: e.MessageID}
		}
	}
	return out, nil
}

func testEntry(conversationID, messageID string, counter uint32, direction Direction) Entry {
	return Entry{
		ConversationID: conversationID,
		MessageID:      messageID,
		SenderDeviceID: "device-a",
		TargetDeviceID: "device-b",
		Direction:      direction,
		HeaderCounter:  counter,
		WrappedMK:      []byte{0x01, 0x02, 0x03},
		WrapContext: WrapContext{
			AEAD:  "aes-256-gcm",
			IVB64: "AAAAAAAAAAAAAAAA",
			KDF:   "hkdf-sha256",
		},
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	v := newMemVault()
	ctx := context.Background()
	entry := testEntry("conv-1", "msg-1", 1, DirectionOutbound)

	if err := v.Put(ctx, testAccountID, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := v.Get(ctx, testAccountID, "conv-1", "msg-1", "device-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a stored entry")
	}
	if got.TargetDeviceID != "device-b" || got.HeaderCounter != 1 {
		t.Fatalf("unexpected entry returned: %+v", got)
	}
	if got.WrapContext.AEAD != "aes-256-gcm" {
		t.Fatalf("expected wrap context to round trip, got %+v", got.WrapContext)
	}
}

func TestGetMissReturnsFalseNotError(t *testing.T) {
	v := newMemVault()
	_, ok, err := v.Get(context.Background(), testAccountID, "conv-1", "no-such-message", "device-a")
	if err != nil {
		t.Fatalf("expected a miss to report no error, got %v", err)
	}
	if ok {
		t.Fatal("expected a miss for an unstored message")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	v := newMemVault()
	ctx := context.Background()
	entry := testEntry("conv-1", "msg-1", 1, DirectionOutbound)

	if err := v.Put(ctx, testAccountID, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := v.Delete(ctx, testAccountID, "conv-1", "msg-1", "device-a"); err != nil {
		t.Fatalf("first Delete failed: %v", err)
	}
	if err := v.Delete(ctx, testAccountID, "conv-1", "msg-1", "device-a"); err != nil {
		t.Fatalf("second Delete on an already-deleted row must not error: %v", err)
	}

	_, ok, err := v.Get(ctx, testAccountID, "conv-1", "msg-1", "device-a")
	if err != nil {
		t.Fatalf("Get after delete failed: %v", err)
	}
	if ok {
		t.Fatal("expected no entry after delete")
	}
}

func TestLatestStateTracksHighestCounterPerDirection(t *testing.T) {
	v := newMemVault()
	ctx := context.Background()

	entries := []Entry{
		testEntry("conv-1", "msg-1", 1, DirectionOutbound),
		testEntry("conv-1", "msg-2", 2, DirectionOutbound),
		testEntry("conv-1", "msg-3", 3, DirectionOutbound),
		testEntry("conv-1", "msg-4", 1, DirectionInbound),
		testEntry("conv-1", "msg-5", 2, DirectionInbound),
	}
	for _, e := range entries {
		if err := v.Put(ctx, testAccountID, e); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	state, err := v.LatestState(ctx, testAccountID, "conv-1")
	if err != nil {
		t.Fatalf("LatestState failed: %v", err)
	}

	out, ok := state[DirectionOutbound]
	if !ok || out.Counter != 3 || out.MessageID != "msg-3" {
		t.Fatalf("expected outbound latest to be (3, msg-3), got %+v", out)
	}
	in, ok := state[DirectionInbound]
	if !ok || in.Counter != 2 || in.MessageID != "msg-5" {
		t.Fatalf("expected inbound latest to be (2, msg-5), got %+v", in)
	}
	t.Log("✅ latest state reported independently per direction")
}

func TestLatestStateEmptyConversationReturnsEmptyMap(t *testing.T) {
	v := newMemVault()
	state, err := v.LatestState(context.Background(), testAccountID, "conv-never-used")
	if err != nil {
		t.Fatalf("LatestState failed: %v", err)
	}
	if len(state) != 0 {
		t.Fatalf("expected an empty map for an unused conversation, got %+v", state)
	}
}

func TestVaultHitDoesNotMutateRatchetState(t *testing.T) {
	// The vault is purely informational: Get/LatestState never touch
	// ratchet.State, so this is enforced entirely by the package boundary
	// (no import of the ratchet package here, no exported mutation path).
	v := newMemVault()
	ctx := context.Background()
	entry := testEntry("conv-1", "msg-1", 1, DirectionOutbound)
	if err := v.Put(ctx, testAccountID, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, _, err := v.Get(ctx, testAccountID, "conv-1", "msg-1", "device-a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got, ok, err := v.Get(ctx, testAccountID, "conv-1", "msg-1", "device-a")
	if err != nil || !ok {
		t.Fatalf("expected a stable repeated read, got ok=%v err=%v", ok, err)
	}
	if got.HeaderCounter != entry.HeaderCounter {
		t.Fatal("repeated Get must not change the stored entry")
	}
}
