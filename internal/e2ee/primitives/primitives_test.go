package primitives

import (
	"bytes"
	"testing"
)

func TestKDFRootKeyDeterministic(t *testing.T) {
	t.Run("same inputs produce same outputs", func(t *testing.T) {
		rk := bytes.Repeat([]byte{0x01}, 32)
		dh := bytes.Repeat([]byte{0x02}, 32)

		root1, chain1, err := KDFRootKey(rk, dh)
		if err != nil {
			t.Fatalf("first derivation failed: %v", err)
		}
		root2, chain2, err := KDFRootKey(rk, dh)
		if err != nil {
			t.Fatalf("second derivation failed: %v", err)
		}
		if root1 != root2 || chain1 != chain2 {
			t.Fatal("KDFRootKey is not deterministic for identical inputs")
		}
		if root1 == chain1 {
			t.Fatal("root key and chain seed must not collide")
		}
		t.Log("✅ KDFRootKey deterministic and root/chain outputs distinct")
	})

	t.Run("different DH output changes the root key", func(t *testing.T) {
		rk := bytes.Repeat([]byte{0x01}, 32)
		dhA := bytes.Repeat([]byte{0x02}, 32)
		dhB := bytes.Repeat([]byte{0x03}, 32)

		rootA, _, err := KDFRootKey(rk, dhA)
		if err != nil {
			t.Fatalf("derivation A failed: %v", err)
		}
		rootB, _, err := KDFRootKey(rk, dhB)
		if err != nil {
			t.Fatalf("derivation B failed: %v", err)
		}
		if rootA == rootB {
			t.Fatal("distinct DH outputs must not derive the same root key")
		}
	})
}

func TestKDFChainKeyRatchetsForward(t *testing.T) {
	var ck [32]byte
	copy(ck[:], bytes.Repeat([]byte{0x09}, 32))

	mk1, ck1, err := KDFChainKey(ck)
	if err != nil {
		t.Fatalf("first chain step failed: %v", err)
	}
	mk2, ck2, err := KDFChainKey(ck1)
	if err != nil {
		t.Fatalf("second chain step failed: %v", err)
	}

	if mk1 == mk2 {
		t.Fatal("consecutive message keys must differ")
	}
	if ck1 == ck || ck2 == ck1 {
		t.Fatal("chain key must advance on every step")
	}
	t.Log("✅ chain key ratchets forward, message keys distinct per step")
}

func TestX25519DHAgreement(t *testing.T) {
	alice, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("alice keygen failed: %v", err)
	}
	bob, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("bob keygen failed: %v", err)
	}

	ab, err := DH(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("alice side DH failed: %v", err)
	}
	ba, err := DH(bob.Private, alice.Public)
	if err != nil {
		t.Fatalf("bob side DH failed: %v", err)
	}
	if ab != ba {
		t.Fatal("X25519 DH must agree from both sides")
	}
}

func TestEd25519ToX25519RoundTripsDH(t *testing.T) {
	alice, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("identity keygen failed: %v", err)
	}
	bob, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("bob keygen failed: %v", err)
	}

	aliceXPriv, err := Ed25519PrivateKeyToX25519(alice.Private)
	if err != nil {
		t.Fatalf("private key conversion failed: %v", err)
	}
	aliceXPub, err := Ed25519PublicKeyToX25519(alice.Public)
	if err != nil {
		t.Fatalf("public key conversion failed: %v", err)
	}

	derivedPub, err := curve25519DerivedPublic(aliceXPriv)
	if err != nil {
		t.Fatalf("re-derivation failed: %v", err)
	}
	if derivedPub != aliceXPub {
		t.Fatal("converted private key must scalar-multiply to the converted public key")
	}

	ab, err := DH(aliceXPriv, bob.Public)
	if err != nil {
		t.Fatalf("alice side DH failed: %v", err)
	}
	ba, err := DH(bob.Private, aliceXPub)
	if err != nil {
		t.Fatalf("bob side DH failed: %v", err)
	}
	if ab != ba {
		t.Fatal("DH across converted Ed25519 identity keys must agree from both sides")
	}
	t.Log("✅ Ed25519 identity key converts to a usable X25519 DH key pair")
}

func curve25519DerivedPublic(priv [32]byte) ([32]byte, error) {
	kp := &X25519KeyPair{Private: priv}
	pub, err := DH(priv, basepointKey())
	if err != nil {
		return kp.Public, err
	}
	kp.Public = pub
	return kp.Public, nil
}

func basepointKey() [32]byte {
	var bp [32]byte
	bp[0] = 9
	return bp
}

func TestPreKeySignatureVerification(t *testing.T) {
	ik, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("identity keygen failed: %v", err)
	}
	spk, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("spk keygen failed: %v", err)
	}

	sig := SignPreKey(ik.Private, spk.Public)
	if !VerifyPreKeySignature(ik.Public, spk.Public, sig) {
		t.Fatal("valid signature must verify")
	}

	tampered := spk.Public
	tampered[0] ^= 0xFF
	if VerifyPreKeySignature(ik.Public, tampered, sig) {
		t.Fatal("signature over a different key must not verify")
	}
	t.Log("✅ signed pre-key signature verification accepts genuine, rejects tampered")
}

func TestAESGCMSuiteRoundTrip(t *testing.T) {
	suite := AESGCMSuite{}
	key := bytes.Repeat([]byte{0x11}, KeySize)
	nonce, err := RandomNonce(suite.NonceSize())
	if err != nil {
		t.Fatalf("nonce generation failed: %v", err)
	}
	plaintext := []byte("double ratchet message body")
	aad := []byte("header-aad")

	ct, err := suite.Seal(key, nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	pt, err := suite.Open(key, nonce, ct, aad)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatal("round-tripped plaintext mismatch")
	}

	if _, err := suite.Open(key, nonce, ct, []byte("wrong-aad")); err == nil {
		t.Fatal("open with mismatched AAD must fail")
	}
}

func TestXChaChaSuiteRoundTrip(t *testing.T) {
	suite := XChaChaSuite{}
	key := bytes.Repeat([]byte{0x22}, KeySize)
	nonce, err := RandomNonce(suite.NonceSize())
	if err != nil {
		t.Fatalf("nonce generation failed: %v", err)
	}
	plaintext := []byte("double ratchet message body")

	ct, err := suite.Seal(key, nonce, plaintext, nil)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	pt, err := suite.Open(key, nonce, ct, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatal("round-tripped plaintext mismatch")
	}
}

func TestSuiteByName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"", true},
		{"aes-256-gcm", true},
		{"xchacha20-poly1305", true},
		{"unknown-suite", false},
	}
	for _, c := range cases {
		_, ok := SuiteByName(c.name)
		if ok != c.ok {
			t.Fatalf("SuiteByName(%q) ok=%v, want %v", c.name, ok, c.ok)
		}
	}
}

func TestB64RoundTripsPaddedAndUnpadded(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	padded := B64Encode(data)

	decodedPadded, err := B64Decode(padded)
	if err != nil {
		t.Fatalf("decode padded failed: %v", err)
	}
	if !bytes.Equal(decodedPadded, data) {
		t.Fatal("padded round-trip mismatch")
	}

	unpadded := padded
	for len(unpadded) > 0 && unpadded[len(unpadded)-1] == '=' {
		unpadded = unpadded[:len(unpadded)-1]
	}
	decodedUnpadded, err := B64Decode(unpadded)
	if err != nil {
		t.Fatalf("decode unpadded failed: %v", err)
	}
	if !bytes.Equal(decodedUnpadded, data) {
		t.Fatal("unpadded round-trip mismatch")
	}
}
