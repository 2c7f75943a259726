// Package vault implements the message-key vault: an append-mostly store
// that lets a sender's device re-render an outgoing message locally after
// the ratchet has moved past the message key that produced it.
package vault

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
)

// Direction distinguishes a vault entry written by the sender from one
// written by the receiver performing the symmetric operation.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// WrapContext records how WrappedMK was produced, so a later read knows
// which AEAD and KDF parameters to reverse it with. The wrapping key
// derivation itself lives outside this package.
type WrapContext struct {
	AEAD   string `json:"aead"`
	IVB64  string `json:"iv_b64"`
	KDF    string `json:"kdf"`
	KDFRef string `json:"kdf_ref,omitempty"`
}

// Entry is one stored row: an AEAD-wrapped message key tied to exactly one
// message within one conversation between two specific devices.
type Entry struct {
	ConversationID string
	MessageID      string
	SenderDeviceID string
	TargetDeviceID string
	Direction      Direction
	HeaderCounter  uint32
	WrappedMK      []byte
	WrapContext    WrapContext
}

// LatestState is the most recent stored (counter, message_id) for one
// direction of a conversation, used to detect a stale local snapshot.
type LatestState struct {
	Counter   uint32
	MessageID string
}

// Vault is the full contract from spec section 4.6: Put, Get, Delete, and
// LatestState, each scoped to the calling account. A Get miss is represented
// as (Entry{}, false, nil), not an error, since "missing" is an expected
// outcome, not a failure.
type Vault interface {
	Put(ctx context.Context, accountID string, e Entry) error
	Get(ctx context.Context, accountID, conversationID, messageID, senderDeviceID string) (Entry, bool, error)
	Delete(ctx context.Context, accountID, conversationID, messageID, senderDeviceID string) error
	LatestState(ctx context.Context, accountID, conversationID string) (map[Direction]LatestState, error)
}

// PostgresVault is the lib/pq-backed Vault implementation, shared across
// every account on this server. One row per (account, conversation,
// sender_device, target_device, message_id), matching the invariant in
// spec section 4.6.
type PostgresVault struct {
	db *sql.DB
}

// NewPostgresVault wraps an open *sql.DB for vault storage.
func NewPostgresVault(db *sql.DB) *PostgresVault {
	return &PostgresVault{db: db}
}

func (v *PostgresVault) Put(ctx context.Context, accountID string, e Entry) error {
	const q = `
		INSERT INTO e2ee_vault (
			account_id, conversation_id, message_id, sender_device_id, target_device_id,
			direction, header_counter, wrapped_mk, wrap_aead, wrap_iv_b64, wrap_kdf, wrap_kdf_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, conversation_id, sender_device_id, target_device_id, message_id)
		DO UPDATE SET wrapped_mk = EXCLUDED.wrapped_mk, header_counter = EXCLUDED.header_counter,
			wrap_aead = EXCLUDED.wrap_aead, wrap_iv_b64 = EXCLUDED.wrap_iv_b64,
			wrap_kdf = EXCLUDED.wrap_kdf, wrap_kdf_ref = EXCLUDED.wrap_kdf_ref`

	_, err := v.db.ExecContext(ctx, q,
		accountID, e.ConversationID, e.MessageID, e.SenderDeviceID, e.TargetDeviceID,
		string(e.Direction), e.HeaderCounter, e.WrappedMK,
		e.WrapContext.AEAD, e.WrapContext.IVB64, e.WrapContext.KDF, e.WrapContext.KDFRef)
	if err != nil {
		return e2eeerr.Transport(0, err)
	}
	return nil
}

func (v *PostgresVault) Get(ctx context.Context, accountID, conversationID, messageID, senderDeviceID string) (Entry, bool, error) {
	const q = `
		SELECT target_device_id, direction, header_counter, wrapped_mk, wrap_aead, wrap_iv_b64, wrap_kdf, wrap_kdf_ref
		FROM e2ee_vault
		WHERE account_id = $1 AND conversation_id = $2 AND message_id = $3 AND sender_device_id = $4`

	var e Entry
	e.ConversationID = conversationID
	e.MessageID = messageID
	e.SenderDeviceID = senderDeviceID
	var direction string

	err := v.db.QueryRowContext(ctx, q, accountID, conversationID, messageID, senderDeviceID).Scan(
		&e.TargetDeviceID, &direction, &e.HeaderCounter, &e.WrappedMK,
		&e.WrapContext.AEAD, &e.WrapContext.IVB64, &e.WrapContext.KDF, &e.WrapContext.KDFRef)

	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, e2eeerr.Transport(0, err)
	}
	e.Direction = Direction(direction)
	return e, true, nil
}

func (v *PostgresVault) Delete(ctx context.Context, accountID, conversationID, messageID, senderDeviceID string) error {
	const q = `
		DELETE FROM e2ee_vault
		WHERE account_id = $1 AND conversation_id = $2 AND message_id = $3 AND sender_device_id = $4`
	_, err := v.db.ExecContext(ctx, q, accountID, conversationID, messageID, senderDeviceID)
	if err != nil {
		return e2eeerr.Transport(0, err)
	}
	return nil
}

func (v *PostgresVault) LatestState(ctx context.Context, accountID, conversationID string) (map[Direction]LatestState, error) {
	const q = `
		SELECT direction, header_counter, message_id FROM e2ee_vault
		WHERE account_id = $1 AND conversation_id = $2
		ORDER BY header_counter DESC`

	rows, err := v.db.QueryContext(ctx, q, accountID, conversationID)
	if err != nil {
		return nil, e2eeerr.Transport(0, err)
	}
	defer rows.Close()

	out := make(map[Direction]LatestState)
	for rows.Next() {
		var direction string
		var st LatestState
		if err := rows.Scan(&direction, &st.Counter, &st.MessageID); err != nil {
			return nil, e2eeerr.Transport(0, err)
		}
		d := Direction(direction)
		if _, seen := out[d]; !seen {
			out[d] = st
		}
	}
	if err := rows.Err(); err != nil {
		return nil, e2eeerr.Transport(0, err)
	}
	return out, nil
}
