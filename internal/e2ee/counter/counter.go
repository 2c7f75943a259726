// Package counter implements the per-(conversation, sender-device)
// monotonic ordering contract at the transport boundary: acceptance of a
// send's counter, rejection with the last accepted value on mismatch, and
// an HMAC-signed send-state endpoint a sender can trust after a crash.
package counter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
)

// Key identifies the ordering stream this counter governs.
type Key struct {
	ConversationID string
	SenderDeviceID string
}

func (k Key) redisKey() string {
	return fmt.Sprintf("e2ee:counter:%s:%s", k.ConversationID, k.SenderDeviceID)
}

// SendState is the server's view of a sender's ordering stream, returned
// from the send-state endpoint so a sender recovering from a crash can
// re-seed its local NsTotal without guessing.
type SendState struct {
	ExpectedCounter        int64  `json:"expected_counter"`
	LastAcceptedCounter    int64  `json:"last_accepted_counter"`
	LastAcceptedMessageID  string `json:"last_accepted_message_id"`
	ServerTime             int64  `json:"server_time"`
}

// SignedSendState wraps a SendState with an HMAC-SHA-256 tag over its
// canonical JSON encoding so a sender can verify the server's response
// before trusting it to re-seed local ratchet state.
type SignedSendState struct {
	State     SendState `json:"state"`
	SignatureHex string `json:"signature_hex"`
}

// Sign produces a SignedSendState using secret as the HMAC key.
func Sign(state SendState, secret []byte) (*SignedSendState, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return &SignedSendState{State: state, SignatureHex: hex.EncodeToString(mac.Sum(nil))}, nil
}

// Verify reports whether signed carries a valid HMAC tag over its state
// under secret.
func Verify(signed *SignedSendState, secret []byte) bool {
	payload, err := json.Marshal(signed.State)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(signed.SignatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// Store persists last_accepted_counter per Key and accepts or rejects new
// sends against it.
type Store interface {
	// Accept enforces counter == last_accepted+1, persisting the advance
	// atomically. On mismatch it returns e2eeerr.CounterTooLow{maxCounter}.
	Accept(ctx context.Context, key Key, counter int64, messageID, headerJSON, ciphertextB64 string) error
	State(ctx context.Context, key Key) (SendState, error)
}

// PostgresStore is the primary, durable counter store: one row per
// (conversation, sender_device), advanced with a conditional UPDATE so
// concurrent senders racing on the same device can't both succeed.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open *sql.DB for counter-contract enforcement.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Accept(ctx context.Context, key Key, counter int64, messageID, headerJSON, ciphertextB64 string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return e2eeerr.Transport(0, err)
	}
	defer tx.Rollback()

	var lastAccepted int64
	err = tx.QueryRowContext(ctx, `
		SELECT last_accepted_counter FROM e2ee_counters
		WHERE conversation_id = $1 AND sender_device_id = $2
		FOR UPDATE`, key.ConversationID, key.SenderDeviceID).Scan(&lastAccepted)

	if errors.Is(err, sql.ErrNoRows) {
		lastAccepted = 0
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO e2ee_counters (conversation_id, sender_device_id, last_accepted_counter, last_accepted_message_id)
			VALUES ($1, $2, 0, '')`, key.ConversationID, key.SenderDeviceID); err != nil {
			return e2eeerr.Transport(0, err)
		}
	} else if err != nil {
		return e2eeerr.Transport(0, err)
	}

	if counter != lastAccepted+1 {
		return e2eeerr.CounterTooLow(lastAccepted)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE e2ee_counters SET last_accepted_counter = $3, last_accepted_message_id = $4, updated_at = NOW()
		WHERE conversation_id = $1 AND sender_device_id = $2`,
		key.ConversationID, key.SenderDeviceID, counter, messageID); err != nil {
		return e2eeerr.Transport(0, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO e2ee_messages (id, conversation_id, sender_device_id, counter, header_json, ciphertext_b64, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		messageID, key.ConversationID, key.SenderDeviceID, counter, headerJSON, ciphertextB64); err != nil {
		return e2eeerr.Transport(0, err)
	}

	if err := tx.Commit(); err != nil {
		return e2eeerr.Transport(0, err)
	}
	return nil
}

func (p *PostgresStore) State(ctx context.Context, key Key) (SendState, error) {
	var lastAccepted int64
	var lastMessageID string
	err := p.db.QueryRowContext(ctx, `
		SELECT last_accepted_counter, last_accepted_message_id FROM e2ee_counters
		WHERE conversation_id = $1 AND sender_device_id = $2`,
		key.ConversationID, key.SenderDeviceID).Scan(&lastAccepted, &lastMessageID)

	if errors.Is(err, sql.ErrNoRows) {
		return SendState{ExpectedCounter: 1, LastAcceptedCounter: 0, ServerTime: time.Now().Unix()}, nil
	}
	if err != nil {
		return SendState{}, e2eeerr.Transport(0, err)
	}

	return SendState{
		ExpectedCounter:       lastAccepted + 1,
		LastAcceptedCounter:   lastAccepted,
		LastAcceptedMessageID: lastMessageID,
		ServerTime:            time.Now().Unix(),
	}, nil
}

// CachedStore wraps a Store with a Redis read-through cache for State
// lookups, since a device's send-state is polled far more often than its
// counter actually advances.
type CachedStore struct {
	inner Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedStore wraps inner with a Redis cache. A zero ttl disables
// caching and every State call falls through to inner.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{inner: inner, redis: client, ttl: ttl}
}

func (c *CachedStore) Accept(ctx context.Context, key Key, counter int64, messageID, headerJSON, ciphertextB64 string) error {
	if err := c.inner.Accept(ctx, key, counter, messageID, headerJSON, ciphertextB64); err != nil {
		return err
	}
	if c.redis != nil {
		if err := c.redis.Del(ctx, key.redisKey()).Err(); err != nil && !errors.Is(err, redis.Nil) {
			// Best-effort cache invalidation; a stale cached State is
			// refreshed on its own TTL and Accept remains authoritative.
		}
	}
	return nil
}

func (c *CachedStore) State(ctx context.Context, key Key) (SendState, error) {
	if c.redis == nil || c.ttl <= 0 {
		return c.inner.State(ctx, key)
	}

	cached, err := c.redis.Get(ctx, key.redisKey()).Result()
	if err == nil {
		var state SendState
		if jsonErr := json.Unmarshal([]byte(cached), &state); jsonErr == nil {
			state.ServerTime = time.Now().Unix()
			return state, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return SendState{}, e2eeerr.Transport(0, err)
	}

	state, err := c.inner.State(ctx, key)
	if err != nil {
		return SendState{}, err
	}

	if encoded, jsonErr := json.Marshal(state); jsonErr == nil {
		_ = c.redis.Set(ctx, key.redisKey(), encoded, c.ttl).Err()
	}
	return state, nil
}
