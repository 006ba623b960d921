// Package transaction provides the install journal and the
// install-path lock that make destination-folder swaps recoverable
// and serialized.
//
// Every atomic install writes a journal before touching the
// destination, updates it at each folder transition, and removes it on
// success. A journal left behind names exactly which staging and
// backup artifacts a crashed run may have abandoned.
package transaction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// State tracks how far one folder got through the swap.
type State string

const (
	StatePending   State = "pending"
	StateStaged    State = "staged"
	StateCommitted State = "committed"
	StateFailed    State = "failed"
)

// journalVersion is the schema version for forward evolution.
const journalVersion = 1

// FolderTxn is the journal entry for one install unit.
type FolderTxn struct {
	Folder    string `json:"folder"`
	State     State  `json:"state"`
	LastError string `json:"last_error,omitempty"`
}

// InstallTxn journals one multi-folder install against a destination
// directory.
type InstallTxn struct {
	Version   int         `json:"version"`
	ID        string      `json:"id"`
	AddonID   string      `json:"addon_id"`
	DestDir   string      `json:"dest_dir"`
	Timestamp time.Time   `json:"timestamp"`
	Folders   []FolderTxn `json:"folders"`
}

// New creates a journal for an install of the given folders.
func New(addonID, destDir string, folders []string) *InstallTxn {
	folderTxns := make([]FolderTxn, 0, len(folders))
	for _, f := range folders {
		folderTxns = append(folderTxns, FolderTxn{Folder: f, State: StatePending})
	}

	return &InstallTxn{
		Version:   journalVersion,
		ID:        uuid.New().String(),
		AddonID:   addonID,
		DestDir:   destDir,
		Timestamp: time.Now().UTC(),
		Folders:   folderTxns,
	}
}

// SetFolderState updates the journal entry for one folder.
func (t *InstallTxn) SetFolderState(folder string, state State, err error) {
	for i := range t.Folders {
		if t.Folders[i].Folder != folder {
			continue
		}
		t.Folders[i].State = state
		if err != nil {
			t.Folders[i].LastError = err.Error()
		} else {
			t.Folders[i].LastError = ""
		}
		return
	}
}

// FolderNames returns every folder named by the journal.
func (t *InstallTxn) FolderNames() []string {
	names := make([]string, 0, len(t.Folders))
	for _, f := range t.Folders {
		names = append(names, f.Folder)
	}
	return names
}

func (t *InstallTxn) filename() string {
	return fmt.Sprintf("txn-install-%s.json", t.ID)
}

// Save writes the journal atomically (write-to-temp, rename, sync the
// directory).
func (t *InstallTxn) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	finalPath := filepath.Join(dir, t.filename())
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temporary journal: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename journal: %w", err)
	}

	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync journal directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}

// Remove deletes the journal file, typically after a successful
// commit or a completed rollback.
func (t *InstallTxn) Remove(dir string) error {
	err := os.Remove(filepath.Join(dir, t.filename()))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal: %w", err)
	}
	return nil
}

// Load reads a single journal file.
func Load(path string) (*InstallTxn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	var txn InstallTxn
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("unmarshal journal: %w", err)
	}
	return &txn, nil
}

// LoadAll reads every journal in dir. Unreadable files are skipped so
// one corrupt journal cannot block recovery of the rest.
func LoadAll(dir string) ([]*InstallTxn, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "txn-install-*.json"))
	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}

	var txns []*InstallTxn
	for _, path := range matches {
		txn, err := Load(path)
		if err != nil {
			continue
		}
		txns = append(txns, txn)
	}
	return txns, nil
}
