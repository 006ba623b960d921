package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// workItem is the transient scratch state for one install attempt.
// It is owned exclusively by that operation and destroyed best-effort
// at operation end regardless of outcome.
type workItem struct {
	root          string
	archivePath   string
	signaturePath string
	bundlePath    string
	extractDir    string
}

// newWorkItem allocates a fresh scratch directory for one attempt.
func newWorkItem(addonID string) (*workItem, error) {
	root, err := os.MkdirTemp("", "hangar-"+addonID+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &workItem{
		root:          root,
		archivePath:   filepath.Join(root, "addon.zip"),
		signaturePath: filepath.Join(root, "addon.zip.sig"),
		bundlePath:    filepath.Join(root, "addon.zip.sigstore.json"),
		extractDir:    filepath.Join(root, "extract"),
	}, nil
}

// Cleanup removes the scratch tree. Best effort; an abandoned scratch
// directory is disposable state, never a correctness problem.
func (w *workItem) Cleanup() {
	if w == nil || w.root == "" {
		return
	}
	os.RemoveAll(w.root)
}
