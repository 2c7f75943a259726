// Package primitives implements the cryptographic building blocks shared
// by the X3DH handshake and the Double Ratchet session: HKDF-SHA-256 with
// the two fixed invocations used throughout, AES-256-GCM and
// XChaCha20-Poly1305 AEAD suites, X25519 scalar multiplication, Ed25519-to-X25519
// key conversion, and the base64 codec used on the wire.
package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the width in bytes of every root key, chain key, and message key.
const KeySize = 32

// HKDF derives outputLen bytes of key material from ikm using HKDF-SHA-256.
func HKDF(ikm, salt, info []byte, outputLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outputLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// KDFRootKey is kdfRK from spec section 4.1: derives a new 32-byte root key
// and a 32-byte chain seed from the current root key and a fresh DH output.
func KDFRootKey(rk, dhOut []byte) (newRoot, chainSeed [32]byte, err error) {
	ikm := make([]byte, 0, len(rk)+len(dhOut))
	ikm = append(ikm, rk...)
	ikm = append(ikm, dhOut...)

	out, err := HKDF(ikm, []byte("dr-rk"), []byte("root"), 64)
	if err != nil {
		return newRoot, chainSeed, err
	}
	copy(newRoot[:], out[:32])
	copy(chainSeed[:], out[32:])
	return newRoot, chainSeed, nil
}

// KDFChainKey is kdfCK from spec section 4.1: derives a message key and the
// next chain key from the current chain key.
func KDFChainKey(ck [32]byte) (mk, nextCK [32]byte, err error) {
	out, err := HKDF(ck[:], []byte("dr-ck"), []byte("chain"), 64)
	if err != nil {
		return mk, nextCK, err
	}
	copy(mk[:], out[:32])
	copy(nextCK[:], out[32:])
	return mk, nextCK, nil
}

// X25519KeyPair is an X25519 Diffie-Hellman key pair.
type X25519KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateX25519KeyPair generates a fresh, RFC 7748-clamped X25519 key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, err
	}
	clamp(&priv)

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	kp := &X25519KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

func clamp(priv *[32]byte) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
}

// DH performs X25519 scalar multiplication: DH(priv, pub).
func DH(priv, pub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, err
	}
	copy(out[:], shared)
	return out, nil
}

// IdentityKeyPair is a long-term Ed25519 signing key pair (IK in spec terms).
type IdentityKeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateIdentityKeyPair creates a new long-term Ed25519 identity key pair.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &IdentityKeyPair{Private: priv, Public: pub}, nil
}

// SignedPreKey is a medium-term X25519 key pair signed by an identity key.
type SignedPreKey struct {
	X25519KeyPair
	Signature []byte
	KeyID     uint32
}

// SignPreKey signs an X25519 public key with a long-term Ed25519 identity key.
func SignPreKey(ik ed25519.PrivateKey, spkPub [32]byte) []byte {
	return ed25519.Sign(ik, spkPub[:])
}

// VerifyPreKeySignature verifies a signed pre-key signature against an Ed25519 identity public key.
func VerifyPreKeySignature(ikPub ed25519.PublicKey, spkPub [32]byte, sig []byte) bool {
	if len(ikPub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ikPub, spkPub[:], sig)
}

// Ed25519PublicKeyToX25519 converts an Ed25519 public key (a point on the
// twisted Edwards curve) to its Montgomery-curve X25519 form, per the
// birational map between Curve25519 and Ed25519.
func Ed25519PublicKeyToX25519(pub ed25519.PublicKey) ([32]byte, error) {
	var out [32]byte
	if len(pub) != ed25519.PublicKeySize {
		return out, errors.New("primitives: invalid ed25519 public key length")
	}

	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return out, errors.New("primitives: invalid ed25519 public key encoding")
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}

// Ed25519PrivateKeyToX25519 recovers the clamped X25519 scalar from an
// Ed25519 private key seed, per RFC 8032: hash the 32-byte seed with
// SHA-512 and clamp the low-order half exactly as GenerateX25519KeyPair does.
func Ed25519PrivateKeyToX25519(priv ed25519.PrivateKey) ([32]byte, error) {
	var out [32]byte
	if len(priv) != ed25519.PrivateKeySize {
		return out, errors.New("primitives: invalid ed25519 private key length")
	}

	h := sha512.Sum512(priv.Seed())
	copy(out[:], h[:32])
	clamp(&out)
	return out, nil
}

// AEAD is the sealed/open interface chosen per conversation and held
// immutable for the lifetime of the session (spec section 4.1).
type AEAD interface {
	// Name identifies the suite for wire negotiation ("aes-256-gcm" or "xchacha20-poly1305").
	Name() string
	// NonceSize returns the random IV length this suite expects.
	NonceSize() int
	Seal(key, nonce, plaintext, aad []byte) ([]byte, error)
	Open(key, nonce, ciphertext, aad []byte) ([]byte, error)
}

// AESGCMSuite is the required baseline AEAD: AES-256-GCM, 12-byte IV, 16-byte tag.
type AESGCMSuite struct{}

func (AESGCMSuite) Name() string   { return "aes-256-gcm" }
func (AESGCMSuite) NonceSize() int { return 12 }

func (AESGCMSuite) Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

func (AESGCMSuite) Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, aad)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.New("primitives: AES-256-GCM key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// XChaChaSuite is the negotiable alternative AEAD: XChaCha20-Poly1305, 24-byte IV.
type XChaChaSuite struct{}

func (XChaChaSuite) Name() string   { return "xchacha20-poly1305" }
func (XChaChaSuite) NonceSize() int { return chacha20poly1305.NonceSizeX }

func (XChaChaSuite) Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func (XChaChaSuite) Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

// SuiteByName resolves an AEAD by its negotiated wire name.
func SuiteByName(name string) (AEAD, bool) {
	switch name {
	case "", "aes-256-gcm":
		return AESGCMSuite{}, true
	case "xchacha20-poly1305":
		return XChaChaSuite{}, true
	default:
		return nil, false
	}
}

// RandomNonce generates a fresh random nonce of the given length.
func RandomNonce(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// B64Encode emits padded standard base64, the canonical wire form.
func B64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// B64Decode accepts both padded and unpadded standard base64.
func B64Decode(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Zero overwrites b with zeroes. Callers use this to scrub key material
// from memory on session reset per spec section 3's zeroization invariant.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Zero32 overwrites a fixed-size key buffer with zeroes.
func Zero32(b *[32]byte) {
	if b == nil {
		return
	}
	*b = [32]byte{}
}
