package handlers

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jaydenbeard/messaging-app/internal/e2ee/counter"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/e2eeerr"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/prekeys"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/primitives"
	"github.com/jaydenbeard/messaging-app/internal/e2ee/vault"
	"github.com/jaydenbeard/messaging-app/internal/metrics"
	"github.com/jaydenbeard/messaging-app/internal/middleware"
)

// writeE2EEError maps a tagged e2eeerr.Kind to the HTTP status a client
// should see, so handlers never need to repeat this switch themselves.
func writeE2EEError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case e2eeerr.Is(err, e2eeerr.KindValidation):
		status = http.StatusBadRequest
	case e2eeerr.Is(err, e2eeerr.KindCounterTooLow):
		status = http.StatusConflict
	case e2eeerr.Is(err, e2eeerr.KindPrekeyUnavailable):
		status = http.StatusNotFound
	case e2eeerr.Is(err, e2eeerr.KindCrypto):
		status = http.StatusBadRequest
	case e2eeerr.Is(err, e2eeerr.KindFatal):
		status = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), status)
}

// publishPreKeyBundleRequest is the wire form a device posts after running
// GenerateInitialBundle locally; only public material crosses the network.
type publishPreKeyBundleRequest struct {
	DeviceID        string            `json:"device_id"`
	IdentityKeyB64  string            `json:"identity_key_b64"`
	SignedPreKeyID  uint32            `json:"signed_prekey_id"`
	SignedPreKeyB64 string            `json:"signed_prekey_b64"`
	SignedPreKeySig string            `json:"signed_prekey_sig_b64"`
	OneTimePreKeys  map[uint32]string `json:"one_time_prekeys_b64"`
}

// PublishPreKeyBundle lets an authenticated device publish its X3DH bundle:
// identity key, signed pre-key, and a batch of one-time pre-keys.
func PublishPreKeyBundle(mgr *prekeys.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.GetUserID(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req publishPreKeyBundleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		ikRaw, err := primitives.B64Decode(req.IdentityKeyB64)
		if err != nil || len(ikRaw) != ed25519.PublicKeySize {
			http.Error(w, "malformed identity key", http.StatusBadRequest)
			return
		}
		spkRaw, err := primitives.B64Decode(req.SignedPreKeyB64)
		if err != nil || len(spkRaw) != primitives.KeySize {
			http.Error(w, "malformed signed pre-key", http.StatusBadRequest)
			return
		}
		sig, err := primitives.B64Decode(req.SignedPreKeySig)
		if err != nil {
			http.Error(w, "malformed signed pre-key signature", http.StatusBadRequest)
			return
		}

		var spk [32]byte
		copy(spk[:], spkRaw)

		otps := make(map[uint32][32]byte, len(req.OneTimePreKeys))
		for id, b64 := range req.OneTimePreKeys {
			raw, err := primitives.B64Decode(b64)
			if err != nil || len(raw) != primitives.KeySize {
				http.Error(w, "malformed one-time pre-key", http.StatusBadRequest)
				return
			}
			var pub [32]byte
			copy(pub[:], raw)
			otps[id] = pub
		}

		bundle := prekeys.Bundle{
			DeviceID:        req.DeviceID,
			IdentityKey:     ed25519.PublicKey(ikRaw),
			SignedPreKeyID:  req.SignedPreKeyID,
			SignedPreKey:    spk,
			SignedPreKeySig: sig,
		}

		if err := mgr.PublishPublicBundle(r.Context(), bundle, otps); err != nil {
			writeE2EEError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]string{"status": "published"})
	}
}

// ClaimPreKeyBundle lets a device about to run X3DH against deviceId claim
// its current bundle, consuming one one-time pre-key if any remain.
func ClaimPreKeyBundle(mgr *prekeys.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.GetUserID(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		deviceID := mux.Vars(r)["deviceId"]
		bundle, err := mgr.ClaimBundle(r.Context(), deviceID)
		if err != nil {
			writeE2EEError(w, err)
			return
		}

		resp := map[string]interface{}{
			"device_id":         bundle.DeviceID,
			"identity_key_b64":  primitives.B64Encode(bundle.IdentityKey),
			"signed_prekey_id":  bundle.SignedPreKeyID,
			"signed_prekey_b64": primitives.B64Encode(bundle.SignedPreKey[:]),
			"signed_prekey_sig": primitives.B64Encode(bundle.SignedPreKeySig),
		}
		if bundle.OneTimePreKeyID != nil {
			resp["one_time_prekey_id"] = *bundle.OneTimePreKeyID
			resp["one_time_prekey_b64"] = primitives.B64Encode(bundle.OneTimePreKey[:])
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, resp)
	}
}

// GetSendState returns the HMAC-signed per-device counter state a sender
// uses to re-seed its ratchet after a crash, per the counter-contract spec.
func GetSendState(store counter.Store, hmacSecret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.GetUserID(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		vars := mux.Vars(r)
		key := counter.Key{ConversationID: vars["conversationId"], SenderDeviceID: vars["deviceId"]}

		state, err := store.State(r.Context(), key)
		if err != nil {
			writeE2EEError(w, err)
			return
		}

		signed, err := counter.Sign(state, hmacSecret)
		if err != nil {
			http.Error(w, "failed to sign send state", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, signed)
	}
}

// vaultPutRequest is the wire form of one message-key vault entry.
type vaultPutRequest struct {
	MessageID      string `json:"message_id"`
	SenderDeviceID string `json:"sender_device_id"`
	TargetDeviceID string `json:"target_device_id"`
	Direction      string `json:"direction"`
	HeaderCounter  uint32 `json:"header_counter"`
	WrappedMKB64   string `json:"wrapped_mk_b64"`
	WrapAEAD       string `json:"wrap_aead"`
	WrapIVB64      string `json:"wrap_iv_b64"`
	WrapKDF        string `json:"wrap_kdf"`
	WrapKDFRef     string `json:"wrap_kdf_ref,omitempty"`
}

// VaultPut stores a wrapped message key so a sender can re-render an
// outgoing message locally after its ratchet has moved past it.
func VaultPut(v vault.Vault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conversationID := mux.Vars(r)["conversationId"]

		var req vaultPutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		wrappedMK, err := primitives.B64Decode(req.WrappedMKB64)
		if err != nil {
			http.Error(w, "malformed wrapped message key", http.StatusBadRequest)
			return
		}

		entry := vault.Entry{
			ConversationID: conversationID,
			MessageID:      req.MessageID,
			SenderDeviceID: req.SenderDeviceID,
			TargetDeviceID: req.TargetDeviceID,
			Direction:      vault.Direction(req.Direction),
			HeaderCounter:  req.HeaderCounter,
			WrappedMK:      wrappedMK,
			WrapContext: vault.WrapContext{
				AEAD:   req.WrapAEAD,
				IVB64:  req.WrapIVB64,
				KDF:    req.WrapKDF,
				KDFRef: req.WrapKDFRef,
			},
		}

		if err := v.Put(r.Context(), userID.String(), entry); err != nil {
			writeE2EEError(w, err)
			return
		}
		metrics.VaultEntriesStoredTotal.Inc()

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]string{"status": "stored"})
	}
}

// VaultGet returns a previously stored wrapped message key, or a 404 when
// none exists; a miss is an expected outcome, never a server error.
func VaultGet(v vault.Vault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		vars := mux.Vars(r)
		entry, ok, err := v.Get(r.Context(), userID.String(), vars["conversationId"], vars["messageId"], vars["senderDeviceId"])
		if err != nil {
			writeE2EEError(w, err)
			return
		}
		if !ok {
			metrics.VaultMissesTotal.Inc()
			http.Error(w, "vault entry not found", http.StatusNotFound)
			return
		}
		metrics.VaultHitsTotal.Inc()

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]interface{}{
			"target_device_id": entry.TargetDeviceID,
			"direction":        entry.Direction,
			"header_counter":   entry.HeaderCounter,
			"wrapped_mk_b64":   primitives.B64Encode(entry.WrappedMK),
			"wrap_aead":        entry.WrapContext.AEAD,
			"wrap_iv_b64":      entry.WrapContext.IVB64,
			"wrap_kdf":         entry.WrapContext.KDF,
			"wrap_kdf_ref":     entry.WrapContext.KDFRef,
		})
	}
}

// VaultDelete removes a stored message key. Idempotent: deleting an
// already-gone entry is success, not an error.
func VaultDelete(v vault.Vault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		vars := mux.Vars(r)
		if err := v.Delete(r.Context(), userID.String(), vars["conversationId"], vars["messageId"], vars["senderDeviceId"]); err != nil {
			writeE2EEError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// VaultLatestState reports the most recently stored (counter, message_id)
// per direction, letting a device detect a stale local snapshot.
func VaultLatestState(v vault.Vault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conversationID := mux.Vars(r)["conversationId"]
		state, err := v.LatestState(r.Context(), userID.String(), conversationID)
		if err != nil {
			writeE2EEError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, state)
	}
}

// RemainingOneTimePreKeys reports how many one-time pre-keys a device still
// has published, so the device can decide for itself when to publish a new
// batch; the server never generates replacement pre-keys, since only the
// device holds the private halves.
func RemainingOneTimePreKeys(mgr *prekeys.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.GetUserID(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		deviceID := mux.Vars(r)["deviceId"]
		remaining, err := mgr.RemainingOneTimePreKeys(r.Context(), deviceID)
		if err != nil {
			writeE2EEError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]int{"remaining": remaining})
	}
}
