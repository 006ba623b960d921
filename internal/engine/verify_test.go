package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
)

func TestVerifyDigest(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "addon.zip")
	content := []byte("archive content for digest test")
	if err := os.WriteFile(archivePath, content, 0644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	digest := sha256Hex(content)

	tests := []struct {
		name     string
		expected string
		wantErr  bool
	}{
		{"exact_match", digest, false},
		{"uppercase_expected", strings.ToUpper(digest), false},
		{"mismatch", strings.Repeat("ab", 32), true},
		{"empty_expected", "", true},
	}

	verifier := NewVerifier("", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifier.VerifyDigest(archivePath, tt.expected)
			if tt.wantErr {
				var intErr *IntegrityError
				if !errors.As(err, &intErr) {
					t.Fatalf("error = %v, want IntegrityError", err)
				}
				if intErr.Actual != digest {
					t.Errorf("Actual = %q, want %q", intErr.Actual, digest)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestVerifyDigestMissingFile(t *testing.T) {
	verifier := NewVerifier("", nil)
	if err := verifier.VerifyDigest(filepath.Join(t.TempDir(), "missing"), "00"); err == nil {
		t.Error("expected error for missing file")
	}
}

// setupSigningKey generates a key pair, writes the public keyring into
// keyringDir under the given name, and returns the signing entity.
func setupSigningKey(t *testing.T, keyringDir, name string) *openpgp.Entity {
	t.Helper()

	entity, err := openpgp.NewEntity("Hangar Test", "", "test@hangar.invalid", nil)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	keyringFile, err := os.Create(filepath.Join(keyringDir, name+".gpg"))
	if err != nil {
		t.Fatalf("failed to create keyring file: %v", err)
	}
	defer func() { _ = keyringFile.Close() }()
	if err := entity.Serialize(keyringFile); err != nil {
		t.Fatalf("failed to serialize keyring: %v", err)
	}
	return entity
}

func TestVerifySignature(t *testing.T) {
	tmpDir := t.TempDir()
	keyringDir := filepath.Join(tmpDir, "keyrings")
	if err := os.MkdirAll(keyringDir, 0755); err != nil {
		t.Fatalf("failed to create keyring dir: %v", err)
	}
	entity := setupSigningKey(t, keyringDir, "vendor")

	archivePath := filepath.Join(tmpDir, "addon.zip")
	content := []byte("signed archive body")
	if err := os.WriteFile(archivePath, content, 0644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}

	sigPath := filepath.Join(tmpDir, "addon.zip.sig")
	sigFile, err := os.Create(sigPath)
	if err != nil {
		t.Fatalf("failed to create signature file: %v", err)
	}
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	if err := openpgp.DetachSign(sigFile, entity, archiveFile, nil); err != nil {
		t.Fatalf("failed to sign archive: %v", err)
	}
	archiveFile.Close()
	sigFile.Close()

	verifier := NewVerifier(keyringDir, nil)

	if err := verifier.VerifySignature(archivePath, sigPath, "vendor"); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	// Tampering with the archive must fail verification.
	tamperedPath := filepath.Join(tmpDir, "tampered.zip")
	if err := os.WriteFile(tamperedPath, []byte("different body"), 0644); err != nil {
		t.Fatalf("failed to write tampered archive: %v", err)
	}
	err = verifier.VerifySignature(tamperedPath, sigPath, "vendor")
	var intErr *IntegrityError
	if !errors.As(err, &intErr) {
		t.Errorf("tampered archive: error = %v, want IntegrityError", err)
	}

	// An unknown keyring name must fail before touching the archive.
	err = verifier.VerifySignature(archivePath, sigPath, "nobody")
	if !errors.As(err, &intErr) {
		t.Errorf("missing keyring: error = %v, want IntegrityError", err)
	}
}

func TestVerifySignatureNoKeyringDir(t *testing.T) {
	verifier := NewVerifier("", nil)
	err := verifier.VerifySignature("archive", "sig", "vendor")
	var intErr *IntegrityError
	if !errors.As(err, &intErr) {
		t.Errorf("error = %v, want IntegrityError", err)
	}
}

func TestVerifyBundleMalformed(t *testing.T) {
	tmpDir := t.TempDir()
	archivePath := filepath.Join(tmpDir, "addon.zip")
	bundlePath := filepath.Join(tmpDir, "addon.zip.sigstore.json")
	if err := os.WriteFile(archivePath, []byte("body"), 0644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	if err := os.WriteFile(bundlePath, []byte("not a bundle"), 0644); err != nil {
		t.Fatalf("failed to write bundle: %v", err)
	}

	verifier := NewVerifier("", nil)
	err := verifier.VerifyBundle(archivePath, bundlePath, "id@example.com", "https://issuer.example")
	var intErr *IntegrityError
	if !errors.As(err, &intErr) {
		t.Errorf("error = %v, want IntegrityError", err)
	}
}

func TestVerificationMethodString(t *testing.T) {
	tests := []struct {
		method VerificationMethod
		want   string
	}{
		{VerificationDigest, "SHA256"},
		{VerificationGPG, "GPG"},
		{VerificationCosign, "Cosign"},
	}
	for _, tt := range tests {
		if got := tt.method.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
