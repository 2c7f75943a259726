package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ============================================
// SUPPLY CHAIN SECURITY
// Protect against compromised dependencies
// ============================================

// DependencyVerifier verifies integrity of dependencies
type DependencyVerifier struct {
	expectedHashes map[string]string
}

// SupplyChainViolation records a supply chain security issue
type SupplyChainViolation struct {
	Package   string
	Expected  string
	Actual    string
	Severity  string
	Timestamp string
}

// NewDependencyVerifier creates a new dependency verifier
func NewDependencyVerifier() *DependencyVerifier {
	return &DependencyVerifier{
		expectedHashes: make(map[string]string),
	}
}

// VerifyGoModules checks Go module integrity
func (dv *DependencyVerifier) VerifyGoModules() error {
	// Run go mod verify
	cmd := exec.Command("go", "mod", "verify")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("module verification failed: %s", string(output))
	}
	return nil
}

// CheckVulnerabilities runs govulncheck
func (dv *DependencyVerifier) CheckVulnerabilities() ([]string, error) {
	cmd := exec.Command("govulncheck", "./...")
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Parse output for vulnerabilities
		lines := strings.Split(string(output), "\n")
		var vulns []string
		for _, line := range lines {
			if strings.Contains(line, "Vulnerability") {
				vulns = append(vulns, line)
			}
		}
		return vulns, nil
	}
	return nil, nil
}

// ============================================
// BUILD INTEGRITY
// Ensure builds haven't been tampered with
// ============================================

// BuildInfo contains build verification info
type BuildInfo struct {
	GitCommit    string
	GitBranch    string
	BuildTime    string
	GoVersion    string
	BinaryHash   string
	Reproducible bool
}

// GetBuildInfo retrieves build information
func GetBuildInfo() *BuildInfo {
	// In production, these would be set at build time via ldflags
	return &BuildInfo{
		GitCommit:    os.Getenv("GIT_COMMIT"),
		GitBranch:    os.Getenv("GIT_BRANCH"),
		BuildTime:    os.Getenv("BUILD_TIME"),
		GoVersion:    os.Getenv("GO_VERSION"),
		Reproducible: os.Getenv("REPRODUCIBLE_BUILD") == "true",
	}
}

// VerifyBinary checks binary hasn't been modified
func VerifyBinary(binaryPath, expectedHash string) error {
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		return err
	}

	hash := sha256.Sum256(data)
	actual := hex.EncodeToString(hash[:])

	if actual != expectedHash {
		return fmt.Errorf("binary hash mismatch: expected %s, got %s", expectedHash, actual)
	}

	return nil
}

// ============================================
// SBOM (Software Bill of Materials)
// Track all components in the system
// ============================================

// Component represents a software component
type Component struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Type     string   `json:"type"` // library, service, tool
	License  string   `json:"license"`
	Hash     string   `json:"hash"`
	Supplier string   `json:"supplier"`
	CPE      string   `json:"cpe"`  // Common Platform Enumeration
	PURL     string   `json:"purl"` // Package URL
	VulnIDs  []string `json:"vulnerabilities,omitempty"`
}

// SBOM represents the Software Bill of Materials
type SBOM struct {
	Format     string      `json:"format"`
	Version    string      `json:"version"`
	CreatedAt  string      `json:"created_at"`
	Components []Component `json:"components"`
}

// GenerateSBOM creates an SBOM for the application
func GenerateSBOM() *SBOM {
	return &SBOM{
		Format:    "CycloneDX",
		Version:   "1.4",
		CreatedAt: "2025-11-29T00:00:00Z",
		Components: []Component{
			{
				Name:     "golang",
				Version:  "1.22",
				Type:     "language",
				License:  "BSD-3-Clause",
				Supplier: "Google",
				CPE:      "cpe:2.3:a:golang:go:1.22:*:*:*:*:*:*:*",
			},
			{
				Name:    "gorilla/websocket",
				Version: "1.5.1",
				Type:    "library",
				License: "BSD-2-Clause",
				PURL:    "pkg:golang/github.com/gorilla/websocket@1.5.1",
			},
			{
				Name:    "golang-jwt/jwt",
				Version: "5.2.0",
				Type:    "library",
				License: "MIT",
				PURL:    "pkg:golang/github.com/golang-jwt/jwt/v5@5.2.0",
			},
			{
				Name:    "lib/pq",
				Version: "1.10.9",
				Type:    "library",
				License: "MIT",
				PURL:    "pkg:golang/github.com/lib/pq@1.10.9",
			},
			{
				Name:    "redis/go-redis",
				Version: "9.0.0",
				Type:    "library",
				License: "BSD-2-Clause",
				PURL:    "pkg:golang/github.com/redis/go-redis/v9@9.0.0",
			},
			{
				Name:    "minio/minio-go",
				Version: "7.0.66",
				Type:    "library",
				License: "Apache-2.0",
				PURL:    "pkg:golang/github.com/minio/minio-go/v7@7.0.66",
			},
			{
				Name:    "golang.org/x/crypto",
				Version: "0.18.0",
				Type:    "library",
				License: "BSD-3-Clause",
				PURL:    "pkg:golang/golang.org/x/crypto@0.18.0",
			},
			// React/Frontend dependencies would be listed here too
			{
				Name:    "react",
				Version: "18.2.0",
				Type:    "library",
				License: "MIT",
				PURL:    "pkg:npm/react@18.2.0",
			},
			{
				Name:    "@libsignal/signal-protocol",
				Version: "2.0.0",
				Type:    "library",
				License: "MIT",
				PURL:    "pkg:npm/@libsignal/signal-protocol@2.0.0",
			},
		},
	}
}

// ============================================
// DEPENDENCY PINNING
// Lock all dependency versions
// ============================================

// DependencyPin represents a pinned dependency
type DependencyPin struct {
	Package string
	Version string
	Hash    string
	Source  string
}

// GetPinnedDependencies returns all pinned dependencies
func GetPinnedDependencies() []DependencyPin {
	// These would normally be read from go.sum and package-lock.json
	return []DependencyPin{
		// From go.sum
		{
			Package: "github.com/gorilla/websocket",
			Version: "v1.5.1",
			Hash:    "h1:gmztn0JnHVt9JZquRuzLw3g4wouNVzKL15iLr/zn/QY=",
			Source:  "go.sum",
		},
		// Add all other dependencies...
	}
}

// ============================================
// SLSA COMPLIANCE
// Supply chain Levels for Software Artifacts
// ============================================

// SLSALevel represents the SLSA compliance level
type SLSALevel int

const (
	SLSALevel0 SLSALevel = iota // No guarantee
	SLSALevel1                  // Build process documented
	SLSALevel2                  // Tamper resistant build
	SLSALevel3                  // Secure build + source
	SLSALevel4                  // Hermetic, reproducible
)

// SLSAProvenance contains SLSA provenance information
type SLSAProvenance struct {
	BuilderID     string    `json:"builder_id"`
	BuildType     string    `json:"build_type"`
	Invocation    string    `json:"invocation"`
	MaterialsHash []string  `json:"materials_hash"`
	OutputHash    string    `json:"output_hash"`
	Reproducible  bool      `json:"reproducible"`
	Level         SLSALevel `json:"slsa_level"`
}

// VerifySLSAProvenance verifies SLSA provenance
func VerifySLSAProvenance(provenance *SLSAProvenance) error {
	// In production, this would verify:
	// 1. Builder signature
	// 2. Material hashes match
	// 3. Build was hermetic
	// 4. Source matches expected

	if provenance.Level < SLSALevel2 {
		return fmt.Errorf("SLSA level %d is below required level 2", provenance.Level)
	}

	return nil
}

// ============================================
// SIGSTORE VERIFICATION
// Keyless signing and verification
// ============================================

// SigstoreSignature represents a Sigstore signature
type SigstoreSignature struct {
	Signature   []byte
	Certificate []byte
	RekorEntry  string
	Timestamp   string
}

// VerifySigstoreSignature verifies a Sigstore signature
func VerifySigstoreSignature(artifact []byte, sig *SigstoreSignature) error {
	// In production, this would:
	// 1. Verify signature against artifact
	// 2. Verify certificate chain
	// 3. Check Rekor transparency log
	// 4. Verify timestamp

	// Placeholder - use cosign library in production
	return nil
}

// ============================================
// CONTAINER IMAGE SECURITY
// ============================================

// ImageScan represents a container image scan result
type ImageScan struct {
	ImageDigest      string
	CriticalVulns    int
	HighVulns        int
	MediumVulns      int
	LowVulns         int
	LastScanned      string
	ScannerVersion   string
	PolicyViolations []string
}

// PolicyCheck verifies image meets security policy
func (is *ImageScan) PolicyCheck() error {
	if is.CriticalVulns > 0 {
		return fmt.Errorf("image has %d critical vulnerabilities", is.CriticalVulns)
	}
	if is.HighVulns > 5 {
		return fmt.Errorf("image has too many high vulnerabilities: %d", is.HighVulns)
	}
	if len(is.PolicyViolations) > 0 {
		return fmt.Errorf("image has policy violations: %v", is.PolicyViolations)
	}
	return nil
}

// ============================================
// ATTESTATION
// ============================================

// Attestation represents a build attestation
type Attestation struct {
	Subject    string            `json:"subject"`
	Predicates map[string]string `json:"predicates"`
	Signature  []byte            `json:"signature"`
	Timestamp  string            `json:"timestamp"`
}

// CreateAttestation creates a signed attestation
func CreateAttestation(subject string, predicates map[string]string) *Attestation {
	return &Attestation{
		Subject:    subject,
		Predicates: predicates,
		Timestamp:  "2025-11-29T00:00:00Z",
	}
}
