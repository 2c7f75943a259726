package counter

import (
	"context"
	"sync"
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
)

// memStore is an in-memory Store used to test acceptance logic without a
// live Postgres instance; PostgresStore's query shape is reviewed directly.
type memStore struct {
	mu    sync.Mutex
	state map[Key]SendState
}

func newMemStore() *memStore {
	return &memStore{state: make(map[Key]SendState)}
}

func (m *memStore) Accept(_ context.Context, key Key, counter int64, messageID, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.state[key]
	if counter != cur.LastAcceptedCounter+1 {
		return e2eeerr.CounterTooLow(cur.LastAcceptedCounter)
	}
	m.state[key] = SendState{LastAcceptedCounter: counter, LastAcceptedMessageID: messageID}
	return nil
}

func (m *memStore) State(_ context.Context, key Key) (SendState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state[key]
	st.ExpectedCounter = st.LastAcceptedCounter + 1
	return st, nil
}

func TestAcceptInOrder(t *testing.T) {
	store := newMemStore()
	key := Key{ConversationID: "conv-1", SenderDeviceID: "device-a"}

	for i := int64(1); i <= 5; i++ {
		if err := store.Accept(context.Background(), key, i, "msg", "{}", "ct"); err != nil {
			t.Fatalf("Accept(%d) failed: %v", i, err)
		}
	}
}

func TestAcceptRejectsOutOfOrder(t *testing.T) {
	store := newMemStore()
	key := Key{ConversationID: "conv-1", SenderDeviceID: "device-a"}

	if err := store.Accept(context.Background(), key, 1, "m1", "{}", "ct"); err != nil {
		t.Fatalf("Accept(1) failed: %v", err)
	}
	if err := store.Accept(context.Background(), key, 1, "m1-dup", "{}", "ct"); err == nil {
		t.Fatal("expected duplicate counter to be rejected")
	}
	err := store.Accept(context.Background(), key, 3, "m3", "{}", "ct")
	if err == nil {
		t.Fatal("expected a gap in counters to be rejected")
	}
	maxCounter, ok := e2eeerr.AsCounterTooLow(err)
	if !ok {
		t.Fatalf("expected a CounterTooLow error, got %v", err)
	}
	if maxCounter != 1 {
		t.Fatalf("expected maxCounter=1, got %d", maxCounter)
	}
	t.Log("✅ counter gaps rejected with the last accepted counter reported")
}

func TestSendStateExpectedCounter(t *testing.T) {
	store := newMemStore()
	key := Key{ConversationID: "conv-1", SenderDeviceID: "device-a"}

	state, err := store.State(context.Background(), key)
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.ExpectedCounter != 1 {
		t.Fatalf("expected fresh stream to report expected_counter=1, got %d", state.ExpectedCounter)
	}

	if err := store.Accept(context.Background(), key, 1, "m1", "{}", "ct"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	state, err = store.State(context.Background(), key)
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.ExpectedCounter != 2 {
		t.Fatalf("expected expected_counter=2 after one accept, got %d", state.ExpectedCounter)
	}
}

func TestSignAndVerifySendState(t *testing.T) {
	secret := []byte("shared-hmac-secret")
	state := SendState{ExpectedCounter: 4, LastAcceptedCounter: 3, LastAcceptedMessageID: "m3", ServerTime: 1000}

	signed, err := Sign(state, secret)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !Verify(signed, secret) {
		t.Fatal("expected a freshly signed send-state to verify")
	}

	tampered := *signed
	tampered.State.LastAcceptedCounter = 999
	if Verify(&tampered, secret) {
		t.Fatal("expected tampered send-state to fail verification")
	}

	if Verify(signed, []byte("wrong-secret")) {
		t.Fatal("expected verification with the wrong secret to fail")
	}
}
