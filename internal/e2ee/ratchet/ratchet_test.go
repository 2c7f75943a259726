package ratchet

import (
	"bytes"
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
)

func newTestPair(t *testing.T) (*State, *State) {
	t.Helper()
	var rk0 [32]byte
	copy(rk0[:], bytes.Repeat([]byte{0x42}, 32))

	initiatorEph, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("ephemeral keygen failed: %v", err)
	}

	alice, err := NewInitiatorState(rk0, *initiatorEph, primitives.AESGCMSuite{}, "conv-1", "acct-digest", "bob-device", "alice-device")
	if err != nil {
		t.Fatalf("NewInitiatorState failed: %v", err)
	}
	bob, err := NewResponderState(rk0, initiatorEph.Public, primitives.AESGCMSuite{}, "conv-1", "acct-digest", "alice-device", "bob-device")
	if err != nil {
		t.Fatalf("NewResponderState failed: %v", err)
	}
	alice.PeerDeviceID = "bob-device"
	return alice, bob
}

func TestFirstMessageRoundTrips(t *testing.T) {
	alice, bob := newTestPair(t)

	pkt, err := alice.Encrypt([]byte("hello bob"))
	if err != nil {
		t.Fatalf("alice encrypt failed: %v", err)
	}

	plaintext, err := bob.Decrypt(pkt)
	if err != nil {
		t.Fatalf("bob decrypt failed: %v", err)
	}
	if string(plaintext) != "hello bob" {
		t.Fatalf("got %q, want %q", plaintext, "hello bob")
	}
	t.Log("✅ initiator's first message decrypts on the responder side")
}

func TestBidirectionalConversationRatchets(t *testing.T) {
	alice, bob := newTestPair(t)

	pkt1, err := alice.Encrypt([]byte("msg1 from alice"))
	if err != nil {
		t.Fatalf("alice encrypt 1 failed: %v", err)
	}
	if _, err := bob.Decrypt(pkt1); err != nil {
		t.Fatalf("bob decrypt 1 failed: %v", err)
	}

	reply1, err := bob.Encrypt([]byte("reply1 from bob"))
	if err != nil {
		t.Fatalf("bob encrypt 1 failed: %v", err)
	}
	got, err := alice.Decrypt(reply1)
	if err != nil {
		t.Fatalf("alice decrypt reply1 failed: %v", err)
	}
	if string(got) != "reply1 from bob" {
		t.Fatalf("got %q, want %q", got, "reply1 from bob")
	}

	pkt2, err := alice.Encrypt([]byte("msg2 from alice"))
	if err != nil {
		t.Fatalf("alice encrypt 2 failed: %v", err)
	}
	got, err = bob.Decrypt(pkt2)
	if err != nil {
		t.Fatalf("bob decrypt 2 failed: %v", err)
	}
	if string(got) != "msg2 from alice" {
		t.Fatalf("got %q, want %q", got, "msg2 from alice")
	}

	if pkt1.Header.EkPubB64 == reply1.Header.EkPubB64 {
		t.Fatal("bob's reply must carry its own fresh ratchet key, not alice's")
	}
	if reply1.Header.EkPubB64 == pkt2.Header.EkPubB64 {
		t.Fatal("alice's second message must ratchet again after receiving bob's reply")
	}
	t.Log("✅ bidirectional exchange triggers a DH ratchet on each direction change")
}

func TestOutOfOrderDeliveryUsesSkippedKeyCache(t *testing.T) {
	alice, bob := newTestPair(t)

	pkt1, err := alice.Encrypt([]byte("first"))
	if err != nil {
		t.Fatalf("encrypt 1 failed: %v", err)
	}
	pkt2, err := alice.Encrypt([]byte("second"))
	if err != nil {
		t.Fatalf("encrypt 2 failed: %v", err)
	}
	pkt3, err := alice.Encrypt([]byte("third"))
	if err != nil {
		t.Fatalf("encrypt 3 failed: %v", err)
	}

	// Deliver third first: bob must cache skipped keys for 1 and 2.
	got3, err := bob.Decrypt(pkt3)
	if err != nil {
		t.Fatalf("decrypt 3 (out of order) failed: %v", err)
	}
	if string(got3) != "third" {
		t.Fatalf("got %q, want %q", got3, "third")
	}

	got1, err := bob.Decrypt(pkt1)
	if err != nil {
		t.Fatalf("decrypt 1 from skipped cache failed: %v", err)
	}
	if string(got1) != "first" {
		t.Fatalf("got %q, want %q", got1, "first")
	}

	got2, err := bob.Decrypt(pkt2)
	if err != nil {
		t.Fatalf("decrypt 2 from skipped cache failed: %v", err)
	}
	if string(got2) != "second" {
		t.Fatalf("got %q, want %q", got2, "second")
	}
	t.Log("✅ out-of-order messages recovered via the skipped-key cache")
}

func TestSkippedKeyIsSingleUse(t *testing.T) {
	alice, bob := newTestPair(t)

	pkt1, err := alice.Encrypt([]byte("first"))
	if err != nil {
		t.Fatalf("encrypt 1 failed: %v", err)
	}
	pkt2, err := alice.Encrypt([]byte("second"))
	if err != nil {
		t.Fatalf("encrypt 2 failed: %v", err)
	}

	if _, err := bob.Decrypt(pkt2); err != nil {
		t.Fatalf("decrypt 2 (out of order) failed: %v", err)
	}
	if _, err := bob.Decrypt(pkt1); err != nil {
		t.Fatalf("decrypt 1 from skipped cache failed: %v", err)
	}
	if _, err := bob.Decrypt(pkt1); err == nil {
		t.Fatal("replaying a consumed skipped-key message must fail")
	}
}

func TestSkippedKeyCacheEvictsOldestBeyondCap(t *testing.T) {
	alice, bob := newTestPair(t)

	var packets []*Packet
	for i := 0; i < MaxSkippedPerChain+5; i++ {
		pkt, err := alice.Encrypt([]byte("msg"))
		if err != nil {
			t.Fatalf("encrypt %d failed: %v", i, err)
		}
		packets = append(packets, pkt)
	}

	// Deliver only the last packet, forcing all prior indices to be skipped
	// and cached; the cache must evict down to MaxSkippedPerChain entries.
	last := packets[len(packets)-1]
	if _, err := bob.Decrypt(last); err != nil {
		t.Fatalf("decrypt of final packet failed: %v", err)
	}

	chainKey := [32]byte{}
	copy(chainKey[:], mustDecode(t, last.Header.EkPubB64))
	if len(bob.skippedKeys[chainKey]) > MaxSkippedPerChain {
		t.Fatalf("skipped-key cache exceeded cap: got %d entries", len(bob.skippedKeys[chainKey]))
	}

	// The earliest skipped indices were evicted, so decrypting them now fails.
	if _, err := bob.Decrypt(packets[0]); err == nil {
		t.Fatal("expected the oldest skipped key to have been evicted")
	}
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := primitives.B64Decode(s)
	if err != nil {
		t.Fatalf("failed to decode %q: %v", s, err)
	}
	return b
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	alice, bob := newTestPair(t)

	pkt, err := alice.Encrypt([]byte("integrity check"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	raw := mustDecode(t, pkt.CiphertextB64)
	raw[0] ^= 0xFF
	pkt.CiphertextB64 = primitives.B64Encode(raw)

	if _, err := bob.Decrypt(pkt); err == nil {
		t.Fatal("expected tampered ciphertext to fail AEAD verification")
	} else if !e2eeerr.Is(err, e2eeerr.KindCrypto) {
		t.Fatalf("expected KindCrypto, got %v", err)
	}
}

func TestDecryptRejectsMalformedHeader(t *testing.T) {
	alice, bob := newTestPair(t)

	pkt, err := alice.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	pkt.Header.Dr = 2

	if _, err := bob.Decrypt(pkt); err == nil {
		t.Fatal("expected an unsupported dr marker to be rejected")
	} else if !e2eeerr.Is(err, e2eeerr.KindValidation) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestDecryptRejectsWrongDeviceID(t *testing.T) {
	alice, bob := newTestPair(t)

	pkt, err := alice.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	pkt.Header.DeviceID = "someone-elses-device"

	if _, err := bob.Decrypt(pkt); err == nil {
		t.Fatal("expected mismatched device_id to be rejected")
	}
}

func TestCanonicalAADIsDeterministic(t *testing.T) {
	h := Header{V: 1, Dr: 1, EkPubB64: "abc==", PN: 3, N: 5, IvB64: "def==", DeviceID: "device-1"}
	a := canonicalAAD(h)
	b := canonicalAAD(h)
	if !bytes.Equal(a, b) {
		t.Fatal("canonicalAAD must be deterministic for identical headers")
	}
	want := `{"v":1,"dr":1,"ek_pub_b64":"abc==","pn":3,"n":5,"iv_b64":"def==","device_id":"device-1"}`
	if string(a) != want {
		t.Fatalf("got %s, want %s", a, want)
	}
}
