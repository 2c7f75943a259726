// Package postquantum provides post-quantum cryptography research and prototypes
// for future migration from classical cryptographic algorithms to quantum-resistant ones.
//
// This implementation focuses on preparing for the transition to post-quantum cryptography
// as recommended by NIST. The current implementation uses classical algorithms but
// provides the framework for PQ algorithm integration.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostQuantumConfig holds configuration for post-quantum cryptography
type PostQuantumConfig struct {
	Enabled            bool          `json:"enabled"`
	TransitionPeriod   time.Duration `json:"transition_period"`
	HybridMode         bool          `json:"hybrid_mode"` // Use both classical and PQ algorithms
	KeyRotationEnabled bool          `json:"key_rotation_enabled"`
}

// DefaultPostQuantumConfig returns the default configuration
func DefaultPostQuantumConfig() *PostQuantumConfig {
	return &PostQuantumConfig{
		Enabled:            false,                // Disabled by default until PQ algorithms are standardized
		TransitionPeriod:   365 * 24 * time.Hour, // 1 year transition period
		HybridMode:         true,                 // Use hybrid mode during transition
		KeyRotationEnabled: false,                // Enable when PQ is ready
	}
}

// PostQuantumService manages post-quantum cryptographic operations
type PostQuantumService struct {
	config *PostQuantumConfig
}

// NewPostQuantumService creates a new post-quantum service
func NewPostQuantumService(config *PostQuantumConfig) *PostQuantumService {
	if config == nil {
		config = DefaultPostQuantumConfig()
	}
	return &PostQuantumService{
		config: config,
	}
}

// PQKeyPair represents a post-quantum key pair (placeholder for future implementation)
type PQKeyPair struct {
	PublicKey  []byte    `json:"public_key"`
	PrivateKey []byte    `json:"private_key"` // Never serialize in production
	KeyID      uuid.UUID `json:"key_id"`
	Algorithm  string    `json:"algorithm"` // e.g., "CRYSTALS-Kyber", "Falcon", etc.
	CreatedAt  time.Time `json:"created_at"`
}

// GeneratePQKeyPair generates a post-quantum key pair (currently uses classical crypto as placeholder)
func (pq *PostQuantumService) GeneratePQKeyPair(algorithm string) (*PQKeyPair, error) {
	if !pq.config.Enabled {
		return nil, fmt.Errorf("post-quantum cryptography is not enabled")
	}

	// TODO: Replace with actual PQ algorithm implementation
	// For now, generate a placeholder key pair using classical crypto
	publicKey := make([]byte, 32)
	privateKey := make([]byte, 32)

	if _, err := rand.Read(publicKey); err != nil {
		return nil, fmt.Errorf("failed to generate public key: %w", err)
	}

	if _, err := rand.Read(privateKey); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	return &PQKeyPair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		KeyID:      uuid.New(),
		Algorithm:  algorithm,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// PQSignature represents a post-quantum signature
type PQSignature struct {
	Signature []byte    `json:"signature"`
	KeyID     uuid.UUID `json:"key_id"`
	Algorithm string    `json:"algorithm"`
	SignedAt  time.Time `json:"signed_at"`
}

// SignPQ creates a post-quantum signature (placeholder implementation)
func (pq *PostQuantumService) SignPQ(privateKey []byte, message []byte, algorithm string) (*PQSignature, error) {
	if !pq.config.Enabled {
		return nil, fmt.Errorf("post-quantum cryptography is not enabled")
	}

	// TODO: Implement actual PQ signing algorithm
	// For now, create a placeholder signature using classical crypto
	hash := sha256.Sum256(message)
	signature := make([]byte, 64)
	copy(signature[:32], hash[:])
	copy(signature[32:], privateKey[:32])

	return &PQSignature{
		Signature: signature,
		KeyID:     uuid.New(), // Should reference actual key ID
		Algorithm: algorithm,
		SignedAt:  time.Now().UTC(),
	}, nil
}

// VerifyPQ verifies a post-quantum signature (placeholder implementation)
func (pq *PostQuantumService) VerifyPQ(publicKey []byte, message []byte, signature *PQSignature) (bool, error) {
	if !pq.config.Enabled {
		return false, fmt.Errorf("post-quantum cryptography is not enabled")
	}

	// TODO: Implement actual PQ verification algorithm
	// For now, perform a placeholder verification
	hash := sha256.Sum256(message)
	expectedSignature := make([]byte, 64)
	copy(expectedSignature[:32], hash[:])
	copy(expectedSignature[32:], publicKey[:32])

	return hex.EncodeToString(signature.Signature) == hex.EncodeToString(expectedSignature), nil
}

// HybridEncryption performs hybrid encryption using both classical and PQ algorithms
type HybridEncryption struct {
	ClassicalCiphertext []byte    `json:"classical_ciphertext"`
	PQCiphertext        []byte    `json:"pq_ciphertext,omitempty"`
	KeyID               uuid.UUID `json:"key_id"`
	Algorithm           string    `json:"algorithm"`
	EncryptedAt         time.Time `json:"encrypted_at"`
}

// EncryptHybrid encrypts data using hybrid classical + PQ cryptography
func (pq *PostQuantumService) EncryptHybrid(plaintext []byte, recipientPublicKey []byte) (*HybridEncryption, error) {
	if !pq.config.HybridMode {
		return nil, fmt.Errorf("hybrid mode is not enabled")
	}

	// TODO: Implement actual hybrid encryption
	// For now, perform classical encryption only
	classicalCiphertext := make([]byte, len(plaintext))
	copy(classicalCiphertext, plaintext) // Placeholder - no actual encryption

	result := &HybridEncryption{
		ClassicalCiphertext: classicalCiphertext,
		KeyID:               uuid.New(),
		Algorithm:           "Hybrid-AES256-GCM+Kyber",
		EncryptedAt:         time.Now().UTC(),
	}

	// Add PQ encryption if enabled
	if pq.config.Enabled {
		pqCiphertext := make([]byte, len(plaintext))
		copy(pqCiphertext, plaintext) // Placeholder
		result.PQCiphertext = pqCiphertext
	}

	return result, nil
}

// DecryptHybrid decrypts hybrid encrypted data
func (pq *PostQuantumService) DecryptHybrid(encryption *HybridEncryption, privateKey []byte) ([]byte, error) {
	if !pq.config.HybridMode {
		return nil, fmt.Errorf("hybrid mode is not enabled")
	}

	// TODO: Implement actual hybrid decryption
	// For now, return the "ciphertext" as plaintext
	return encryption.ClassicalCiphertext, nil
}

// MigrationPlan outlines the steps for migrating to post-quantum cryptography
type MigrationPlan struct {
	CurrentPhase        string            `json:"current_phase"`
	Phases              []MigrationPhase  `json:"phases"`
	EstimatedCompletion time.Time         `json:"estimated_completion"`
	Risks               []string          `json:"risks"`
	Mitigations         map[string]string `json:"mitigations"`
}

type MigrationPhase struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Status       string    `json:"status"` // "pending", "in_progress", "completed"
	Dependencies []string  `json:"dependencies"`
}

// CreateMigrationPlan creates a comprehensive migration plan for PQ cryptography
func (pq *PostQuantumService) CreateMigrationPlan() *MigrationPlan {
	now := time.Now()
	phases := []MigrationPhase{
		{
			Name:        "Research and Planning",
			Description: "Research PQ algorithms, assess current crypto usage, plan migration strategy",
			StartDate:   now,
			EndDate:     now.Add(90 * 24 * time.Hour), // 3 months
			Status:      "in_progress",
		},
		{
			Name:         "Prototype Implementation",
			Description:  "Implement PQ algorithms in test environment, benchmark performance",
			StartDate:    now.Add(90 * 24 * time.Hour),
			EndDate:      now.Add(180 * 24 * time.Hour), // 6 months
			Status:       "pending",
			Dependencies: []string{"Research and Planning"},
		},
		{
			Name:         "Hybrid Mode Development",
			Description:  "Develop hybrid classical+PQ encryption for transition period",
			StartDate:    now.Add(180 * 24 * time.Hour),
			EndDate:      now.Add(270 * 24 * time.Hour), // 9 months
			Status:       "pending",
			Dependencies: []string{"Prototype Implementation"},
		},
		{
			Name:         "Production Deployment",
			Description:  "Deploy PQ cryptography in production with rollback capability",
			StartDate:    now.Add(270 * 24 * time.Hour),
			EndDate:      now.Add(365 * 24 * time.Hour), // 12 months
			Status:       "pending",
			Dependencies: []string{"Hybrid Mode Development"},
		},
	}

	risks := []string{
		"PQ algorithms may have performance overhead",
		"Standards may change before finalization",
		"Hardware acceleration may not be available",
		"Key sizes may impact storage requirements",
	}

	mitigations := map[string]string{
		"PQ algorithms may have performance overhead": "Implement hybrid mode and optimize algorithms",
		"Standards may change before finalization":    "Follow NIST standardization process closely",
		"Hardware acceleration may not be available":  "Design software implementations with future hardware in mind",
		"Key sizes may impact storage requirements":   "Plan database schema changes and monitor storage usage",
	}

	return &MigrationPlan{
		CurrentPhase:        "Research and Planning",
		Phases:              phases,
		EstimatedCompletion: now.Add(365 * 24 * time.Hour),
		Risks:               risks,
		Mitigations:         mitigations,
	}
}

// GetSupportedAlgorithms returns the list of supported PQ algorithms
func (pq *PostQuantumService) GetSupportedAlgorithms() []string {
	return []string{
		"CRYSTALS-Kyber",     // Key encapsulation mechanism
		"CRYSTALS-Dilithium", // Digital signature
		"Falcon",             // Digital signature (alternative)
		"SPHINCS+",           // Stateless hash-based signature
		"Classic-McEliece",   // Code-based cryptography
	}
}

// BenchmarkPQAlgorithm performs performance benchmarking for a PQ algorithm
func (pq *PostQuantumService) BenchmarkPQAlgorithm(algorithm string, iterations int) (map[string]time.Duration, error) {
	results := make(map[string]time.Duration)

	// Key generation benchmark
	start := time.Now()
	for i := 0; i < iterations; i++ {
		_, err := pq.GeneratePQKeyPair(algorithm)
		if err != nil {
			return nil, fmt.Errorf("key generation failed: %w", err)
		}
	}
	results["key_generation"] = time.Since(start) / time.Duration(iterations)

	// Signing benchmark (placeholder)
	results["signing"] = 0 // TODO: implement when actual PQ algorithms are available

	// Verification benchmark (placeholder)
	results["verification"] = 0 // TODO: implement when actual PQ algorithms are available

	return results, nil
}
