// Package prekeys manages the per-device pre-key bundle lifecycle: identity
// key publication, signed pre-key rotation, one-time pre-key replenishment,
// and atomic claim-and-delete of a bundle for a new X3DH handshake.
//
// Bundles are stored per device, not per user, since a single account may
// register many devices and each needs its own ratchet state against every
// peer device.
package prekeys

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
	"github.com/jaydenbeard/messaging-app/internal/metrics"
)

// Bundle is the public material a peer fetches to start X3DH with a device.
// OneTimePreKey is nil when the device's OPK pool is exhausted.
type Bundle struct {
	DeviceID        string
	IdentityKey     ed25519.PublicKey
	SignedPreKeyID  uint32
	SignedPreKey    [32]byte
	SignedPreKeySig []byte
	OneTimePreKeyID *uint32
	OneTimePreKey   *[32]byte
}

// Store persists identity keys, signed pre-keys, and one-time pre-keys per
// device. Implementations must make ClaimOneTimePreKey atomic against
// concurrent claimants, since an OPK must never be handed to two callers.
type Store interface {
	SaveIdentityKey(ctx context.Context, deviceID string, pub ed25519.PublicKey) error
	LoadIdentityKey(ctx context.Context, deviceID string) (ed25519.PublicKey, error)

	SaveSignedPreKey(ctx context.Context, deviceID string, keyID uint32, pub [32]byte, sig []byte) error
	LoadSignedPreKey(ctx context.Context, deviceID string) (keyID uint32, pub [32]byte, sig []byte, err error)

	SaveOneTimePreKeys(ctx context.Context, deviceID string, keys map[uint32][32]byte) error
	// ClaimOneTimePreKey atomically selects and removes one unused OPK for
	// deviceID, returning (nil, nil, false, nil) when the pool is empty.
	ClaimOneTimePreKey(ctx context.Context, deviceID string) (keyID *uint32, pub *[32]byte, err error)
	CountOneTimePreKeys(ctx context.Context, deviceID string) (int, error)
}

// Manager orchestrates bundle generation, publication, and claiming on top
// of a Store.
type Manager struct {
	store Store
}

// NewManager builds a prekey Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// GeneratedBundle holds the private material produced by GenerateInitialBundle
// alongside the public Bundle that gets published. Callers must persist the
// private keys themselves (the device's local key store), not through Store.
type GeneratedBundle struct {
	Public           Bundle
	IdentityPrivate  ed25519.PrivateKey
	SignedPrePrivate [32]byte
	OneTimePrivates  map[uint32][32]byte
}

// GenerateInitialBundle creates a fresh identity key, one signed pre-key,
// and a batch of one-time pre-keys for a newly registered device.
func GenerateInitialBundle(deviceID string, opkBatchSize int) (*GeneratedBundle, error) {
	ik, err := primitives.GenerateIdentityKeyPair()
	if err != nil {
		return nil, e2eeerr.Crypto("failed to generate identity key", err)
	}

	spk, err := primitives.GenerateX25519KeyPair()
	if err != nil {
		return nil, e2eeerr.Crypto("failed to generate signed pre-key", err)
	}
	sig := primitives.SignPreKey(ik.Private, spk.Public)

	opks := make(map[uint32][32]byte, opkBatchSize)
	for i := 0; i < opkBatchSize; i++ {
		kp, err := primitives.GenerateX25519KeyPair()
		if err != nil {
			return nil, e2eeerr.Crypto("failed to generate one-time pre-key", err)
		}
		opks[uint32(i+1)] = kp.Public
	}

	return &GeneratedBundle{
		Public: Bundle{
			DeviceID:        deviceID,
			IdentityKey:     ik.Public,
			SignedPreKeyID:  1,
			SignedPreKey:    spk.Public,
			SignedPreKeySig: sig,
		},
		IdentityPrivate:  ik.Private,
		SignedPrePrivate: spk.Private,
		OneTimePrivates:  opks,
	}, nil
}

// PublishBundle persists the public half of a generated bundle so peers can
// claim it.
func (m *Manager) PublishBundle(ctx context.Context, gb *GeneratedBundle) error {
	if err := m.store.SaveIdentityKey(ctx, gb.Public.DeviceID, gb.Public.IdentityKey); err != nil {
		return e2eeerr.Transport(0, err)
	}
	if err := m.store.SaveSignedPreKey(ctx, gb.Public.DeviceID, gb.Public.SignedPreKeyID, gb.Public.SignedPreKey, gb.Public.SignedPreKeySig); err != nil {
		return e2eeerr.Transport(0, err)
	}
	if len(gb.OneTimePrivates) > 0 {
		pubs := make(map[uint32][32]byte, len(gb.OneTimePrivates))
		for id, priv := range gb.OneTimePrivates {
			kp := &primitives.X25519KeyPair{Private: priv}
			pub, err := primitives.DH(priv, basepoint())
			if err != nil {
				return e2eeerr.Crypto("failed to derive one-time pre-key public half", err)
			}
			kp.Public = pub
			pubs[id] = kp.Public
		}
		if err := m.store.SaveOneTimePreKeys(ctx, gb.Public.DeviceID, pubs); err != nil {
			return e2eeerr.Transport(0, err)
		}
	}
	return nil
}

func basepoint() [32]byte {
	var bp [32]byte
	bp[0] = 9
	return bp
}

// PublishPublicBundle persists a bundle whose public keys were already
// computed by the caller, for the over-the-wire publish path where a device
// never sends its private key material to the server.
func (m *Manager) PublishPublicBundle(ctx context.Context, bundle Bundle, oneTimePublics map[uint32][32]byte) error {
	if err := m.store.SaveIdentityKey(ctx, bundle.DeviceID, bundle.IdentityKey); err != nil {
		return e2eeerr.Transport(0, err)
	}
	if err := m.store.SaveSignedPreKey(ctx, bundle.DeviceID, bundle.SignedPreKeyID, bundle.SignedPreKey, bundle.SignedPreKeySig); err != nil {
		return e2eeerr.Transport(0, err)
	}
	if len(oneTimePublics) > 0 {
		if err := m.store.SaveOneTimePreKeys(ctx, bundle.DeviceID, oneTimePublics); err != nil {
			return e2eeerr.Transport(0, err)
		}
	}
	return nil
}

// VerifyBundle checks that a bundle's signed pre-key was actually signed by
// its claimed identity key. ClaimBundle calls this on every claim; callers
// that obtain a bundle some other way (cached, forwarded by a third party)
// must call it themselves before trusting the bundle for a handshake.
func (m *Manager) VerifyBundle(b *Bundle) bool {
	return primitives.VerifyPreKeySignature(b.IdentityKey, b.SignedPreKey, b.SignedPreKeySig)
}

// ClaimBundle atomically fetches and consumes a device's bundle for use by
// an initiator starting X3DH. The one-time pre-key, if present, is deleted
// from the store so it can never be reused.
func (m *Manager) ClaimBundle(ctx context.Context, deviceID string) (*Bundle, error) {
	ik, err := m.store.LoadIdentityKey(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, e2eeerr.PrekeyUnavailable(deviceID)
		}
		return nil, e2eeerr.Transport(0, err)
	}

	spkID, spkPub, spkSig, err := m.store.LoadSignedPreKey(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, e2eeerr.PrekeyUnavailable(deviceID)
		}
		return nil, e2eeerr.Transport(0, err)
	}

	bundle := &Bundle{
		DeviceID:        deviceID,
		IdentityKey:     ik,
		SignedPreKeyID:  spkID,
		SignedPreKey:    spkPub,
		SignedPreKeySig: spkSig,
	}

	if !m.VerifyBundle(bundle) {
		return nil, e2eeerr.Fatal("signed pre-key signature does not verify against identity key", nil)
	}

	opkID, opkPub, err := m.store.ClaimOneTimePreKey(ctx, deviceID)
	if err != nil {
		return nil, e2eeerr.Transport(0, err)
	}
	bundle.OneTimePreKeyID = opkID
	bundle.OneTimePreKey = opkPub

	if remaining, err := m.store.CountOneTimePreKeys(ctx, deviceID); err == nil {
		metrics.PreKeysRemaining.WithLabelValues(deviceID).Set(float64(remaining))
	}

	return bundle, nil
}

// RemainingOneTimePreKeys reports the current OPK pool size for a device, used
// to drive replenishment thresholds and the PreKeysRemaining metric.
func (m *Manager) RemainingOneTimePreKeys(ctx context.Context, deviceID string) (int, error) {
	n, err := m.store.CountOneTimePreKeys(ctx, deviceID)
	if err != nil {
		return 0, e2eeerr.Transport(0, err)
	}
	metrics.PreKeysRemaining.WithLabelValues(deviceID).Set(float64(n))
	return n, nil
}

// ReplenishOneTimePreKeys generates and publishes a fresh batch of OPKs,
// returning the new private keys for the caller's local key store.
func (m *Manager) ReplenishOneTimePreKeys(ctx context.Context, deviceID string, batchSize int, startID uint32) (map[uint32][32]byte, error) {
	privs := make(map[uint32][32]byte, batchSize)
	pubs := make(map[uint32][32]byte, batchSize)
	for i := 0; i < batchSize; i++ {
		kp, err := primitives.GenerateX25519KeyPair()
		if err != nil {
			return nil, e2eeerr.Crypto("failed to generate replenishment pre-key", err)
		}
		id := startID + uint32(i)
		privs[id] = kp.Private
		pubs[id] = kp.Public
	}
	if err := m.store.SaveOneTimePreKeys(ctx, deviceID, pubs); err != nil {
		return nil, e2eeerr.Transport(0, err)
	}
	metrics.PreKeysReplenished.Inc()
	if remaining, err := m.store.CountOneTimePreKeys(ctx, deviceID); err == nil {
		metrics.PreKeysRemaining.WithLabelValues(deviceID).Set(float64(remaining))
	}
	return privs, nil
}

// PostgresStore is the lib/pq-backed Store implementation, grounded on the
// existing device_id-scoped prekeys table pattern with FOR UPDATE SKIP LOCKED
// claim semantics.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open *sql.DB for device-scoped pre-key storage.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveIdentityKey(ctx context.Context, deviceID string, pub ed25519.PublicKey) error {
	const q = `
		INSERT INTO e2ee_device_identity_keys (device_id, identity_key)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET identity_key = EXCLUDED.identity_key`
	_, err := s.db.ExecContext(ctx, q, deviceID, primitives.B64Encode(pub))
	return err
}

func (s *PostgresStore) LoadIdentityKey(ctx context.Context, deviceID string) (ed25519.PublicKey, error) {
	const q = `SELECT identity_key FROM e2ee_device_identity_keys WHERE device_id = $1`
	var encoded string
	if err := s.db.QueryRowContext(ctx, q, deviceID).Scan(&encoded); err != nil {
		return nil, err
	}
	raw, err := primitives.B64Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("prekeys: corrupt identity key for device %s: %w", deviceID, err)
	}
	return ed25519.PublicKey(raw), nil
}

func (s *PostgresStore) SaveSignedPreKey(ctx context.Context, deviceID string, keyID uint32, pub [32]byte, sig []byte) error {
	const q = `
		INSERT INTO e2ee_device_signed_prekeys (device_id, key_id, public_key, signature)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE SET
			key_id = EXCLUDED.key_id, public_key = EXCLUDED.public_key, signature = EXCLUDED.signature, rotated_at = NOW()`
	_, err := s.db.ExecContext(ctx, q, deviceID, keyID, primitives.B64Encode(pub[:]), primitives.B64Encode(sig))
	return err
}

func (s *PostgresStore) LoadSignedPreKey(ctx context.Context, deviceID string) (uint32, [32]byte, []byte, error) {
	const q = `SELECT key_id, public_key, signature FROM e2ee_device_signed_prekeys WHERE device_id = $1`
	var keyID uint32
	var pubEncoded, sigEncoded string
	var pub [32]byte
	if err := s.db.QueryRowContext(ctx, q, deviceID).Scan(&keyID, &pubEncoded, &sigEncoded); err != nil {
		return 0, pub, nil, err
	}
	pubRaw, err := primitives.B64Decode(pubEncoded)
	if err != nil || len(pubRaw) != 32 {
		return 0, pub, nil, fmt.Errorf("prekeys: corrupt signed pre-key for device %s", deviceID)
	}
	copy(pub[:], pubRaw)
	sig, err := primitives.B64Decode(sigEncoded)
	if err != nil {
		return 0, pub, nil, fmt.Errorf("prekeys: corrupt signed pre-key signature for device %s: %w", deviceID, err)
	}
	return keyID, pub, sig, nil
}

func (s *PostgresStore) SaveOneTimePreKeys(ctx context.Context, deviceID string, keys map[uint32][32]byte) error {
	const q = `INSERT INTO e2ee_device_onetime_prekeys (device_id, key_id, public_key) VALUES ($1, $2, $3)`
	for id, pub := range keys {
		if _, err := s.db.ExecContext(ctx, q, deviceID, id, primitives.B64Encode(pub[:])); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ClaimOneTimePreKey(ctx context.Context, deviceID string) (*uint32, *[32]byte, error) {
	const q = `
		DELETE FROM e2ee_device_onetime_prekeys
		WHERE id = (
			SELECT id FROM e2ee_device_onetime_prekeys
			WHERE device_id = $1
			ORDER BY key_id LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING key_id, public_key`

	var keyID uint32
	var pubEncoded string
	err := s.db.QueryRowContext(ctx, q, deviceID).Scan(&keyID, &pubEncoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	pubRaw, err := primitives.B64Decode(pubEncoded)
	if err != nil || len(pubRaw) != 32 {
		return nil, nil, fmt.Errorf("prekeys: corrupt one-time pre-key for device %s", deviceID)
	}
	var pub [32]byte
	copy(pub[:], pubRaw)
	return &keyID, &pub, nil
}

func (s *PostgresStore) CountOneTimePreKeys(ctx context.Context, deviceID string) (int, error) {
	const q = `SELECT COUNT(*) FROM e2ee_device_onetime_prekeys WHERE device_id = $1`
	var n int
	if err := s.db.QueryRowContext(ctx, q, deviceID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
