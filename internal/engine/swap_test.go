package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hangar-sim/hangar/internal/transaction"
)

// stageTwoUnits materializes two source units and returns their refs.
func stageTwoUnits(t *testing.T) []PackageRef {
	t.Helper()

	srcRoot := t.TempDir()
	writeTree(t, srcRoot, map[string]string{
		"PackA/manifest.json": `{"version": "2.0.0"}`,
		"PackA/data/a.bin":    "new-a",
		"PackB/manifest.json": `{"version": "2.0.0"}`,
		"PackB/data/b.bin":    "new-b",
	})
	return []PackageRef{
		{FolderName: "PackA", SourcePath: filepath.Join(srcRoot, "PackA")},
		{FolderName: "PackB", SourcePath: filepath.Join(srcRoot, "PackB")},
	}
}

// assertNoArtifacts fails when destDir holds staging or backup
// leftovers.
func assertNoArtifacts(t *testing.T, destDir string) {
	t.Helper()

	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatalf("failed to read dest dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Errorf("leftover artifact in dest dir: %s", e.Name())
		}
	}
}

func TestInstallFresh(t *testing.T) {
	destDir := t.TempDir()
	journalDir := t.TempDir()
	refs := stageTwoUnits(t)

	installer := NewInstaller(journalDir, nil)
	var lastCopied, lastTotal int64
	paths, err := installer.Install(context.Background(), "test-addon", refs, destDir, func(copied, total int64) {
		lastCopied, lastTotal = copied, total
	})
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	if len(paths) != 2 {
		t.Fatalf("installed paths = %v, want 2", paths)
	}
	sameTree(t, destDir, map[string]string{
		"PackA/manifest.json": `{"version": "2.0.0"}`,
		"PackA/data/a.bin":    "new-a",
		"PackB/manifest.json": `{"version": "2.0.0"}`,
		"PackB/data/b.bin":    "new-b",
	})
	assertNoArtifacts(t, destDir)

	if lastCopied != lastTotal || lastTotal == 0 {
		t.Errorf("final progress = %d/%d, want full", lastCopied, lastTotal)
	}

	journals, err := os.ReadDir(journalDir)
	if err != nil {
		t.Fatalf("failed to read journal dir: %v", err)
	}
	if len(journals) != 0 {
		t.Errorf("journal not cleaned up: %v", journals)
	}
}

func TestInstallReplacesExisting(t *testing.T) {
	destDir := t.TempDir()
	writeTree(t, destDir, map[string]string{
		"PackA/manifest.json": `{"version": "1.0.0"}`,
		"PackA/old-only.txt":  "stale",
		"Unrelated/keep.txt":  "untouched",
	})

	installer := NewInstaller(t.TempDir(), nil)
	_, err := installer.Install(context.Background(), "test-addon", stageTwoUnits(t), destDir, nil)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	sameTree(t, destDir, map[string]string{
		"PackA/manifest.json": `{"version": "2.0.0"}`,
		"PackA/data/a.bin":    "new-a",
		"PackB/manifest.json": `{"version": "2.0.0"}`,
		"PackB/data/b.bin":    "new-b",
		"Unrelated/keep.txt":  "untouched",
	})
	assertNoArtifacts(t, destDir)
}

func TestInstallRollsBackMidSwap(t *testing.T) {
	destDir := t.TempDir()
	before := map[string]string{
		"PackA/manifest.json": `{"version": "1.0.0"}`,
		"PackA/data/a.bin":    "old-a",
		"PackB/manifest.json": `{"version": "1.0.0"}`,
		"PackB/data/b.bin":    "old-b",
	}
	writeTree(t, destDir, before)

	installer := NewInstaller(t.TempDir(), nil)
	// Fail after the first folder commits, mid-way through the swap.
	installer.commitHook = func(folder string) error {
		if folder == "PackA" {
			return fmt.Errorf("injected failure after %s", folder)
		}
		return nil
	}

	_, err := installer.Install(context.Background(), "test-addon", stageTwoUnits(t), destDir, nil)
	var txnErr *InstallTransactionError
	if !errors.As(err, &txnErr) {
		t.Fatalf("error = %v, want InstallTransactionError", err)
	}
	if txnErr.Stage != "swap" {
		t.Errorf("Stage = %q, want swap", txnErr.Stage)
	}

	// The destination must be byte-for-byte its pre-install state.
	sameTree(t, destDir, before)
	assertNoArtifacts(t, destDir)
}

func TestInstallRestoresBackupWhenCommitRenameFails(t *testing.T) {
	destDir := t.TempDir()
	before := map[string]string{
		"PackA/manifest.json": `{"version": "1.0.0"}`,
		"PackA/data/a.bin":    "old-a",
		"PackB/manifest.json": `{"version": "1.0.0"}`,
		"PackB/data/b.bin":    "old-b",
	}
	writeTree(t, destDir, before)

	installer := NewInstaller(t.TempDir(), nil)
	// Drop PackB's staged copy after PackA commits. PackB's existing
	// destination still renames to its backup, but the stage rename
	// into place then fails, so PackB's backup holds the only copy.
	installer.commitHook = func(folder string) error {
		if folder == "PackA" {
			if err := os.RemoveAll(stagePath(destDir, "PackB")); err != nil {
				return err
			}
		}
		return nil
	}

	_, err := installer.Install(context.Background(), "test-addon", stageTwoUnits(t), destDir, nil)
	var txnErr *InstallTransactionError
	if !errors.As(err, &txnErr) {
		t.Fatalf("error = %v, want InstallTransactionError", err)
	}
	if txnErr.Stage != "swap" {
		t.Errorf("Stage = %q, want swap", txnErr.Stage)
	}

	sameTree(t, destDir, before)
	assertNoArtifacts(t, destDir)
}

func TestInstallStageFailureLeavesDestUntouched(t *testing.T) {
	destDir := t.TempDir()
	before := map[string]string{
		"PackA/data/a.bin": "old-a",
	}
	writeTree(t, destDir, before)

	refs := stageTwoUnits(t)
	// Point the second unit at a nonexistent source so staging fails
	// after the first unit already staged.
	refs[1].SourcePath = filepath.Join(t.TempDir(), "missing")

	installer := NewInstaller(t.TempDir(), nil)
	_, err := installer.Install(context.Background(), "test-addon", refs, destDir, nil)

	var txnErr *InstallTransactionError
	if !errors.As(err, &txnErr) {
		t.Fatalf("error = %v, want InstallTransactionError", err)
	}
	if txnErr.Stage != "stage" {
		t.Errorf("Stage = %q, want stage", txnErr.Stage)
	}

	sameTree(t, destDir, before)
	assertNoArtifacts(t, destDir)
}

func TestInstallNoUnits(t *testing.T) {
	installer := NewInstaller(t.TempDir(), nil)
	_, err := installer.Install(context.Background(), "test-addon", nil, t.TempDir(), nil)

	var txnErr *InstallTransactionError
	if !errors.As(err, &txnErr) {
		t.Errorf("error = %v, want InstallTransactionError", err)
	}
}

// newTestJournal saves a journal as a crashed run would have left it
// and returns its file path.
func newTestJournal(t *testing.T, journalDir, addonID, destDir string, folders []string) string {
	t.Helper()

	txn := transaction.New(addonID, destDir, folders)
	if err := txn.Save(journalDir); err != nil {
		t.Fatalf("failed to save journal: %v", err)
	}
	return filepath.Join(journalDir, fmt.Sprintf("txn-install-%s.json", txn.ID))
}

func TestInstallSweepsStaleArtifacts(t *testing.T) {
	destDir := t.TempDir()
	journalDir := t.TempDir()
	refs := stageTwoUnits(t)

	// Simulate a crashed prior run: leftover staging dir plus its
	// journal.
	installer := NewInstaller(journalDir, nil)
	writeTree(t, destDir, map[string]string{
		".PackA.stage/leftover.bin": "crashed run",
	})
	crashed := newTestJournal(t, journalDir, "test-addon", destDir, []string{"PackA"})

	paths, err := installer.Install(context.Background(), "test-addon", refs, destDir, nil)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("installed paths = %v, want 2", paths)
	}
	assertNoArtifacts(t, destDir)

	if _, err := os.Stat(crashed); !os.IsNotExist(err) {
		t.Error("stale journal survived the sweep")
	}
}

func TestInstallSweepRestoresBackupWithoutDestination(t *testing.T) {
	destDir := t.TempDir()
	journalDir := t.TempDir()

	// A prior run crashed between renaming PackB away and swapping its
	// replacement in: its backup exists, the destination does not, and
	// a half-written stage remains.
	writeTree(t, destDir, map[string]string{
		".PackB.backup/manifest.json": `{"version": "1.0.0"}`,
		".PackB.backup/data/b.bin":    "old-b",
		".PackB.stage/data/b.bin":     "partial",
	})
	newTestJournal(t, journalDir, "test-addon", destDir, []string{"PackB"})

	// Install an unrelated unit so only the sweep touches PackB.
	refs := stageTwoUnits(t)[:1]
	installer := NewInstaller(journalDir, nil)
	if _, err := installer.Install(context.Background(), "test-addon", refs, destDir, nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	sameTree(t, destDir, map[string]string{
		"PackA/manifest.json": `{"version": "2.0.0"}`,
		"PackA/data/a.bin":    "new-a",
		"PackB/manifest.json": `{"version": "1.0.0"}`,
		"PackB/data/b.bin":    "old-b",
	})
	assertNoArtifacts(t, destDir)
}

func TestInstallRestoresOrphanedBackup(t *testing.T) {
	destDir := t.TempDir()

	// A backup for one of the units being installed, with no journal
	// and no destination, is recovered rather than cleared. Failing the
	// run mid-swap makes the recovered content observable: rollback
	// lands on the restored PackA, not on an empty destination.
	writeTree(t, destDir, map[string]string{
		".PackA.backup/data/a.bin": "old-a",
	})

	installer := NewInstaller(t.TempDir(), nil)
	installer.commitHook = func(folder string) error {
		if folder == "PackA" {
			return fmt.Errorf("injected failure after %s", folder)
		}
		return nil
	}

	_, err := installer.Install(context.Background(), "test-addon", stageTwoUnits(t), destDir, nil)
	var txnErr *InstallTransactionError
	if !errors.As(err, &txnErr) {
		t.Fatalf("error = %v, want InstallTransactionError", err)
	}

	sameTree(t, destDir, map[string]string{
		"PackA/data/a.bin": "old-a",
	})
	assertNoArtifacts(t, destDir)
}
