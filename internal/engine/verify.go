package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/verify"

	"github.com/hangar-sim/hangar/internal/config"
)

// VerificationMethod indicates how an archive was verified beyond the
// mandatory digest gate.
type VerificationMethod int

const (
	// VerificationDigest means only the SHA-256 digest was checked.
	VerificationDigest VerificationMethod = iota
	// VerificationGPG means a detached GPG signature also verified.
	VerificationGPG
	// VerificationCosign means a Sigstore bundle also verified.
	VerificationCosign
)

// String returns the method name.
func (v VerificationMethod) String() string {
	switch v {
	case VerificationGPG:
		return "GPG"
	case VerificationCosign:
		return "Cosign"
	case VerificationDigest:
		return "SHA256"
	default:
		return "Unknown"
	}
}

// Verifier checks downloaded archives: SHA-256 digest always, plus
// detached GPG signatures or Sigstore bundles when the catalog
// channel provides them.
type Verifier struct {
	keyringDir string
	logger     config.Logger
}

// NewVerifier creates a verifier. keyringDir holds GPG keyrings named
// <keyring>.gpg; it may be empty if no channel uses signatures.
func NewVerifier(keyringDir string, logger config.Logger) *Verifier {
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Verifier{keyringDir: keyringDir, logger: logger}
}

// VerifyDigest computes the SHA-256 of path and compares it to
// expectedHex, case-insensitively. A mismatch is an IntegrityError
// and is always fatal for the operation.
func (v *Verifier) VerifyDigest(path, expectedHex string) error {
	actual, err := fileSHA256(path)
	if err != nil {
		return fmt.Errorf("calculate digest: %w", err)
	}

	if !strings.EqualFold(actual, expectedHex) {
		return &IntegrityError{Path: path, Expected: strings.ToLower(expectedHex), Actual: actual}
	}
	return nil
}

// VerifySignature checks a detached GPG signature against the named
// keyring. Armored signatures are tried first, then binary, same as
// the keyrings themselves.
func (v *Verifier) VerifySignature(archivePath, signaturePath, keyringName string) error {
	keyring, err := v.loadKeyring(keyringName)
	if err != nil {
		return &IntegrityError{Path: archivePath, Reason: fmt.Sprintf("load keyring %s: %v", keyringName, err)}
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	sigFile, err := os.Open(signaturePath)
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}
	defer sigFile.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, archiveFile, sigFile, nil)
	if err != nil {
		archiveFile.Seek(0, io.SeekStart)
		sigFile.Seek(0, io.SeekStart)
		_, err = openpgp.CheckDetachedSignature(keyring, archiveFile, sigFile, nil)
	}
	if err != nil {
		return &IntegrityError{Path: archivePath, Reason: fmt.Sprintf("GPG signature verification failed: %v", err)}
	}

	v.logger.Debug("signature verified", "archive", archivePath, "keyring", keyringName)
	return nil
}

// VerifyBundle checks a Sigstore (cosign) bundle for the archive
// against the public-good trusted root, constraining the signing
// certificate to the given identity and issuer.
func (v *Verifier) VerifyBundle(archivePath, bundlePath, certIdentity, certIssuer string) error {
	b, err := bundle.LoadJSONFromPath(bundlePath)
	if err != nil {
		return &IntegrityError{Path: archivePath, Reason: fmt.Sprintf("load sigstore bundle: %v", err)}
	}

	trusted, err := root.FetchTrustedRoot()
	if err != nil {
		return fmt.Errorf("fetch sigstore trusted root: %w", err)
	}

	sev, err := verify.NewSignedEntityVerifier(trusted,
		verify.WithSignedCertificateTimestamps(1),
		verify.WithTransparencyLog(1),
		verify.WithObserverTimestamps(1))
	if err != nil {
		return fmt.Errorf("create sigstore verifier: %w", err)
	}

	certID, err := verify.NewShortCertificateIdentity(certIssuer, "", certIdentity, "")
	if err != nil {
		return fmt.Errorf("build certificate identity: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	_, err = sev.Verify(b, verify.NewPolicy(
		verify.WithArtifact(archiveFile),
		verify.WithCertificateIdentity(certID)))
	if err != nil {
		return &IntegrityError{Path: archivePath, Reason: fmt.Sprintf("cosign bundle verification failed: %v", err)}
	}

	v.logger.Debug("bundle verified", "archive", archivePath, "identity", certIdentity)
	return nil
}

// loadKeyring reads <keyringDir>/<name>.gpg, armored with binary
// fallback.
func (v *Verifier) loadKeyring(name string) (openpgp.EntityList, error) {
	if v.keyringDir == "" {
		return nil, fmt.Errorf("no keyring directory configured")
	}

	keyringPath := filepath.Join(v.keyringDir, name+".gpg")
	keyringFile, err := os.Open(keyringPath)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		keyringFile.Seek(0, io.SeekStart)
		keyring, err = openpgp.ReadKeyRing(keyringFile)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}
	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}

// fileSHA256 returns the lowercase hex SHA-256 of a file.
func fileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
