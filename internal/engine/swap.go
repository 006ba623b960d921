package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hangar-sim/hangar/internal/config"
	"github.com/hangar-sim/hangar/internal/transaction"
)

const (
	stageSuffix  = ".stage"
	backupSuffix = ".backup"
)

// stagePath is the hidden staging sibling for a destination folder.
func stagePath(destDir, folder string) string {
	return filepath.Join(destDir, "."+folder+stageSuffix)
}

// backupPath is the hidden backup sibling for a destination folder.
func backupPath(destDir, folder string) string {
	return filepath.Join(destDir, "."+folder+backupSuffix)
}

// Installer performs the transactional stage→swap→commit sequence
// over all of an addon's folders. Either every target folder reflects
// the new content, or every one reverts to its pre-install state.
type Installer struct {
	journalDir string
	logger     config.Logger

	// commitHook runs after each folder commit. Test-only failure
	// injection; nil in production.
	commitHook func(folder string) error
}

// NewInstaller creates an installer that journals under journalDir.
func NewInstaller(journalDir string, logger config.Logger) *Installer {
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Installer{journalDir: journalDir, logger: logger}
}

// Install copies every resolved unit into a hidden staging path, then
// swaps all of them into place as one logical transaction. report
// (optional) receives cumulative copied bytes against the precomputed
// total across all units. Returns the final destination paths.
func (ins *Installer) Install(ctx context.Context, addonID string, refs []PackageRef, destDir string, report func(copied, total int64)) ([]string, error) {
	if len(refs) == 0 {
		return nil, &InstallTransactionError{Stage: "stage", Err: fmt.Errorf("no install units resolved")}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, &InstallTransactionError{Stage: "stage", Err: fmt.Errorf("create install dir: %w", err)}
	}

	// Step 1: clear artifacts a previous failed run may have left. A
	// backup with no destination is restored, never deleted.
	ins.sweepStaleJournals(addonID, destDir)
	for _, ref := range refs {
		os.RemoveAll(stagePath(destDir, ref.FolderName))

		backup := backupPath(destDir, ref.FolderName)
		if _, err := os.Stat(backup); err != nil {
			continue
		}
		dest := filepath.Join(destDir, ref.FolderName)
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			if err := os.Rename(backup, dest); err != nil {
				return nil, &InstallTransactionError{Stage: "stage", Err: fmt.Errorf("recover backup for %s: %w", ref.FolderName, err)}
			}
		}
		os.RemoveAll(backup)
	}

	var total int64
	for _, ref := range refs {
		size, err := dirSize(ref.SourcePath)
		if err != nil {
			return nil, &InstallTransactionError{Stage: "stage", Err: fmt.Errorf("size source %s: %w", ref.SourcePath, err)}
		}
		total += size
	}

	folders := make([]string, 0, len(refs))
	for _, ref := range refs {
		folders = append(folders, ref.FolderName)
	}
	txn := transaction.New(addonID, destDir, folders)
	if err := txn.Save(ins.journalDir); err != nil {
		return nil, &InstallTransactionError{Stage: "stage", Err: err}
	}

	// Step 2: stage every unit beside its destination.
	var copied int64
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, ins.fail(txn, destDir, refs, nil, "stage", err)
		}
		err := copyDir(ref.SourcePath, stagePath(destDir, ref.FolderName), func(n int64) {
			copied += n
			if report != nil {
				report(copied, total)
			}
		})
		if err != nil {
			txn.SetFolderState(ref.FolderName, transaction.StateFailed, err)
			return nil, ins.fail(txn, destDir, refs, nil, "stage", err)
		}
		txn.SetFolderState(ref.FolderName, transaction.StateStaged, nil)
	}
	if err := txn.Save(ins.journalDir); err != nil {
		return nil, ins.fail(txn, destDir, refs, nil, "stage", err)
	}

	// Step 3: swap each unit into place, backing up anything already
	// there. A unit counts as committed only once its final move
	// succeeds.
	var committed []PackageRef
	installedPaths := make([]string, 0, len(refs))
	for _, ref := range refs {
		dest := filepath.Join(destDir, ref.FolderName)

		if _, err := os.Stat(dest); err == nil {
			if err := os.Rename(dest, backupPath(destDir, ref.FolderName)); err != nil {
				txn.SetFolderState(ref.FolderName, transaction.StateFailed, err)
				return nil, ins.fail(txn, destDir, refs, committed, "swap", err)
			}
		}

		if err := os.Rename(stagePath(destDir, ref.FolderName), dest); err != nil {
			txn.SetFolderState(ref.FolderName, transaction.StateFailed, err)
			return nil, ins.fail(txn, destDir, refs, committed, "swap", err)
		}

		committed = append(committed, ref)
		installedPaths = append(installedPaths, dest)
		txn.SetFolderState(ref.FolderName, transaction.StateCommitted, nil)
		if err := txn.Save(ins.journalDir); err != nil {
			return nil, ins.fail(txn, destDir, refs, committed, "swap", err)
		}

		if ins.commitHook != nil {
			if err := ins.commitHook(ref.FolderName); err != nil {
				return nil, ins.fail(txn, destDir, refs, committed, "swap", err)
			}
		}
	}

	// Step 4: full success, drop the backups and the journal.
	for _, ref := range refs {
		os.RemoveAll(backupPath(destDir, ref.FolderName))
	}
	if err := txn.Remove(ins.journalDir); err != nil {
		ins.logger.Warn("journal cleanup failed", "addon", addonID, "error", err)
	}

	ins.logger.Info("install committed", "addon", addonID, "folders", len(refs))
	return installedPaths, nil
}

// fail rolls back every committed unit, clears artifacts, and wraps
// the original error. Rollback runs to completion before the error
// surfaces.
func (ins *Installer) fail(txn *transaction.InstallTxn, destDir string, refs, committed []PackageRef, stage string, cause error) error {
	for _, ref := range committed {
		if err := os.RemoveAll(filepath.Join(destDir, ref.FolderName)); err != nil {
			ins.logger.Error("rollback: remove new destination failed", "folder", ref.FolderName, "error", err)
		}
	}

	// Restore every backup whose destination is missing. That covers
	// the committed units just cleared above, and units whose
	// destination was renamed to backup but whose own commit rename
	// then failed; for those the backup is the only copy left.
	for _, ref := range refs {
		dest := filepath.Join(destDir, ref.FolderName)
		backup := backupPath(destDir, ref.FolderName)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if _, err := os.Stat(backup); err != nil {
			continue
		}
		if err := os.Rename(backup, dest); err != nil {
			ins.logger.Error("rollback: restore backup failed", "folder", ref.FolderName, "error", err)
		}
	}

	for _, ref := range refs {
		os.RemoveAll(stagePath(destDir, ref.FolderName))
		// A backup still present with its destination missing means the
		// restore above failed; keep it rather than destroy the only
		// copy.
		if _, err := os.Stat(filepath.Join(destDir, ref.FolderName)); err == nil {
			os.RemoveAll(backupPath(destDir, ref.FolderName))
		}
	}

	if err := txn.Remove(ins.journalDir); err != nil {
		ins.logger.Warn("journal cleanup failed after rollback", "error", err)
	}

	ins.logger.Error("install rolled back", "addon", txn.AddonID, "stage", stage, "error", cause)
	return &InstallTransactionError{Stage: stage, Err: cause}
}

// sweepStaleJournals removes staging/backup artifacts recorded by
// journals from previous runs against this destination, then the
// journals themselves. A backup whose destination is missing is the
// only surviving copy of that folder, so it is renamed back into
// place instead of deleted; the crashed run renamed the destination
// away but never swapped its staged replacement in.
func (ins *Installer) sweepStaleJournals(addonID, destDir string) {
	txns, err := transaction.LoadAll(ins.journalDir)
	if err != nil {
		ins.logger.Warn("journal sweep failed", "error", err)
		return
	}

	for _, txn := range txns {
		if txn.DestDir != destDir {
			continue
		}
		for _, folder := range txn.FolderNames() {
			os.RemoveAll(stagePath(destDir, folder))

			backup := backupPath(destDir, folder)
			if _, err := os.Stat(backup); err != nil {
				continue
			}
			dest := filepath.Join(destDir, folder)
			if _, err := os.Stat(dest); os.IsNotExist(err) {
				if err := os.Rename(backup, dest); err != nil {
					ins.logger.Error("recover backup failed", "folder", folder, "error", err)
					continue
				}
				ins.logger.Info("restored folder from backup", "folder", folder, "journal", txn.ID)
			}
			os.RemoveAll(backup)
		}
		if err := txn.Remove(ins.journalDir); err != nil {
			ins.logger.Warn("stale journal removal failed", "id", txn.ID, "error", err)
		}
		ins.logger.Info("cleaned stale install artifacts", "addon", addonID, "journal", txn.ID)
	}
}
