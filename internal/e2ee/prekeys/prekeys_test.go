package prekeys

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"sync"
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
)

// memStore is an in-memory Store used for unit tests; the Postgres-backed
// implementation is exercised indirectly via its query shape, not against a
// live database.
type memStore struct {
	mu          sync.Mutex
	identities  map[string]ed25519.PublicKey
	signedPre   map[string]struct {
		id  uint32
		pub [32]byte
		sig []byte
	}
	oneTime map[string]map[uint32][32]byte
}

func newMemStore() *memStore {
	return &memStore{
		identities: make(map[string]ed25519.PublicKey),
		signedPre: make(map[string]struct {
			id  uint32
			pub [32]byte
			sig []byte
		}),
		oneTime: make(map[string]map[uint32][32]byte),
	}
}

func (m *memStore) SaveIdentityKey(_ context.Context, deviceID string, pub ed25519.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[deviceID] = pub
	return nil
}

func (m *memStore) LoadIdentityKey(_ context.Context, deviceID string) (ed25519.PublicKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pub, ok := m.identities[deviceID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return pub, nil
}

func (m *memStore) SaveSignedPreKey(_ context.Context, deviceID string, keyID uint32, pub [32]byte, sig []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signedPre[deviceID] = struct {
		id  uint32
		pub [32]byte
		sig []byte
	}{keyID, pub, sig}
	return nil
}

func (m *memStore) LoadSignedPreKey(_ context.Context, deviceID string) (uint32, [32]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.signedPre[deviceID]
	if !ok {
		return 0, [32]byte{}, nil, sql.ErrNoRows
	}
	return entry.id, entry.pub, entry.sig, nil
}

func (m *memStore) SaveOneTimePreKeys(_ context.Context, deviceID string, keys map[uint32][32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.oneTime[deviceID] == nil {
		m.oneTime[deviceID] = make(map[uint32][32]byte)
	}
	for id, pub := range keys {
		m.oneTime[deviceID][id] = pub
	}
	return nil
}

func (m *memStore) ClaimOneTimePreKey(_ context.Context, deviceID string) (*uint32, *[32]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pub := range m.oneTime[deviceID] {
		delete(m.oneTime[deviceID], id)
		idCopy, pubCopy := id, pub
		return &idCopy, &pubCopy, nil
	}
	return nil, nil, nil
}

func (m *memStore) CountOneTimePreKeys(_ context.Context, deviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.oneTime[deviceID]), nil
}

func TestPublishAndClaimBundle(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)
	ctx := context.Background()

	gb, err := GenerateInitialBundle("device-a", 3)
	if err != nil {
		t.Fatalf("GenerateInitialBundle failed: %v", err)
	}
	if err := mgr.PublishBundle(ctx, gb); err != nil {
		t.Fatalf("PublishBundle failed: %v", err)
	}

	n, err := mgr.RemainingOneTimePreKeys(ctx, "device-a")
	if err != nil {
		t.Fatalf("RemainingOneTimePreKeys failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 one-time pre-keys, got %d", n)
	}

	claimed, err := mgr.ClaimBundle(ctx, "device-a")
	if err != nil {
		t.Fatalf("ClaimBundle failed: %v", err)
	}
	if claimed.OneTimePreKeyID == nil {
		t.Fatal("expected a one-time pre-key to be claimed")
	}
	if !claimed.IdentityKey.Equal(gb.Public.IdentityKey) {
		t.Fatal("claimed identity key mismatch")
	}

	n, err = mgr.RemainingOneTimePreKeys(ctx, "device-a")
	if err != nil {
		t.Fatalf("RemainingOneTimePreKeys failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 remaining one-time pre-keys after claim, got %d", n)
	}
	t.Log("✅ claimed one-time pre-key removed from the pool, not reusable")
}

func TestClaimBundleExhaustedOneTimePool(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)
	ctx := context.Background()

	gb, err := GenerateInitialBundle("device-b", 1)
	if err != nil {
		t.Fatalf("GenerateInitialBundle failed: %v", err)
	}
	if err := mgr.PublishBundle(ctx, gb); err != nil {
		t.Fatalf("PublishBundle failed: %v", err)
	}

	first, err := mgr.ClaimBundle(ctx, "device-b")
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if first.OneTimePreKeyID == nil {
		t.Fatal("first claim should include a one-time pre-key")
	}

	second, err := mgr.ClaimBundle(ctx, "device-b")
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if second.OneTimePreKeyID != nil {
		t.Fatal("second claim should find the one-time pre-key pool exhausted")
	}
}

func TestClaimBundleUnknownDevice(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)

	_, err := mgr.ClaimBundle(context.Background(), "no-such-device")
	if err == nil {
		t.Fatal("expected an error for an unpublished device")
	}
	if !e2eeerr.Is(err, e2eeerr.KindPrekeyUnavailable) {
		t.Fatalf("expected KindPrekeyUnavailable, got %v", err)
	}
}

func TestClaimBundleRejectsBadSignature(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)
	ctx := context.Background()

	gb, err := GenerateInitialBundle("device-c", 0)
	if err != nil {
		t.Fatalf("GenerateInitialBundle failed: %v", err)
	}
	if err := mgr.PublishBundle(ctx, gb); err != nil {
		t.Fatalf("PublishBundle failed: %v", err)
	}

	tamperedSPK, _, tamperedSig, _ := store.LoadSignedPreKey(ctx, "device-c")
	_ = tamperedSPK
	_ = tamperedSig
	corrupted := gb.Public.SignedPreKey
	corrupted[0] ^= 0xFF
	if err := store.SaveSignedPreKey(ctx, "device-c", gb.Public.SignedPreKeyID, corrupted, gb.Public.SignedPreKeySig); err != nil {
		t.Fatalf("failed to corrupt signed pre-key: %v", err)
	}

	_, err = mgr.ClaimBundle(ctx, "device-c")
	if err == nil {
		t.Fatal("expected a signature verification failure")
	}
	if !e2eeerr.Is(err, e2eeerr.KindFatal) {
		t.Fatalf("expected KindFatal, got %v", err)
	}
}

func TestPublishPublicBundleThenClaim(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)
	ctx := context.Background()

	gb, err := GenerateInitialBundle("device-e", 2)
	if err != nil {
		t.Fatalf("GenerateInitialBundle failed: %v", err)
	}

	otps := make(map[uint32][32]byte, len(gb.OneTimePrivates))
	for id, priv := range gb.OneTimePrivates {
		pub, err := primitives.DH(priv, basepoint())
		if err != nil {
			t.Fatalf("failed to derive public half: %v", err)
		}
		otps[id] = pub
	}

	if err := mgr.PublishPublicBundle(ctx, gb.Public, otps); err != nil {
		t.Fatalf("PublishPublicBundle failed: %v", err)
	}

	claimed, err := mgr.ClaimBundle(ctx, "device-e")
	if err != nil {
		t.Fatalf("ClaimBundle failed: %v", err)
	}
	if !claimed.IdentityKey.Equal(gb.Public.IdentityKey) {
		t.Fatal("claimed identity key mismatch after public-only publish")
	}
	if claimed.OneTimePreKeyID == nil {
		t.Fatal("expected a one-time pre-key from the publicly published pool")
	}
	t.Log("✅ a bundle published from already-public key material can be claimed")
}

func TestReplenishOneTimePreKeys(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)
	ctx := context.Background()

	privs, err := mgr.ReplenishOneTimePreKeys(ctx, "device-d", 5, 100)
	if err != nil {
		t.Fatalf("ReplenishOneTimePreKeys failed: %v", err)
	}
	if len(privs) != 5 {
		t.Fatalf("expected 5 generated private keys, got %d", len(privs))
	}

	n, err := mgr.RemainingOneTimePreKeys(ctx, "device-d")
	if err != nil {
		t.Fatalf("RemainingOneTimePreKeys failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 published one-time pre-keys, got %d", n)
	}
}
