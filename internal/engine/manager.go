package engine

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hangar-sim/hangar/internal/catalog"
	"github.com/hangar-sim/hangar/internal/config"
	"github.com/hangar-sim/hangar/internal/state"
	"github.com/hangar-sim/hangar/internal/transaction"
)

// ManagerConfig wires the engine's collaborators.
type ManagerConfig struct {
	// InstallPath is the Community directory installs land in.
	InstallPath string
	// DataDir holds journals and the install-path lock.
	DataDir string
	// KeyringDir holds GPG keyrings for signature-carrying channels.
	KeyringDir string
	// Store is the persisted-state collaborator.
	Store state.Store
	// Space is the disk-space collaborator; nil uses the real disk.
	Space SpaceQuerier
	// Sink receives progress events; nil discards them.
	Sink Sink
	// Logger receives diagnostics; nil discards them.
	Logger config.Logger
	// HTTPClient overrides the download client, mainly for tests.
	HTTPClient *http.Client
}

// Manager runs the install and uninstall pipelines. One Manager may
// serve many addons; operations against the same install path are
// serialized by the install-path lock.
type Manager struct {
	installPath string
	dataDir     string
	store       state.Store
	sink        Sink
	logger      config.Logger
	now         func() time.Time

	fetcher   *Fetcher
	verifier  *Verifier
	extractor *Extractor
	resolver  *Resolver
	guard     *SpaceGuard
	installer *Installer
}

// NewManager creates a manager from the given configuration.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = config.NopLogger()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink()
	}

	return &Manager{
		installPath: cfg.InstallPath,
		dataDir:     cfg.DataDir,
		store:       cfg.Store,
		sink:        sink,
		logger:      logger,
		now:         time.Now,
		fetcher:     NewFetcher(cfg.HTTPClient, logger),
		verifier:    NewVerifier(cfg.KeyringDir, logger),
		extractor:   NewExtractor(logger),
		resolver:    NewResolver(logger),
		guard:       NewSpaceGuard(cfg.Space, logger),
		installer:   NewInstaller(filepath.Join(cfg.DataDir, "journal"), logger),
	}, nil
}

// Install runs the full pipeline for one addon channel: download,
// verify, extract, resolve, space preflight, atomic swap, record
// update. The resolved catalog channel is a plain input; the manager
// never reaches into shared catalog state.
func (m *Manager) Install(ctx context.Context, addonID string, key catalog.ChannelKey, ch *catalog.Channel) (*state.Record, error) {
	if m.installPath == "" {
		return nil, fmt.Errorf("no install path configured")
	}

	// Channel exclusivity gate, before any side effect.
	existing, err := m.store.Get(addonID)
	if err != nil {
		return nil, fmt.Errorf("read installed record: %w", err)
	}
	if existing != nil &&
		existing.InstalledChannel != "" &&
		existing.InstalledChannel != catalog.ChannelUnknown &&
		existing.InstalledChannel != key {
		return nil, &ChannelConflictError{
			AddonID:   addonID,
			Installed: existing.InstalledChannel,
			Requested: key,
		}
	}

	lock, err := transaction.AcquireLock(m.dataDir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	em := newEmitter(addonID, m.sink, installSpans)

	work, err := newWorkItem(addonID)
	if err != nil {
		return nil, err
	}
	defer work.Cleanup()

	if err := m.download(ctx, addonID, ch, work, em); err != nil {
		return nil, err
	}

	if err := m.verify(addonID, ch, work, em); err != nil {
		return nil, err
	}

	if err := m.extract(ctx, addonID, work, em); err != nil {
		return nil, err
	}

	refs, err := m.resolver.Resolve(ResolveInput{
		AddonID:         addonID,
		ExtractDir:      work.extractDir,
		ExpectedFolders: ch.ExpectedPackageFolders,
		Permissive:      ch.AllowPermissiveInstall,
	})
	if err != nil {
		return nil, err
	}

	extractedBytes, err := TotalSourceBytes(refs)
	if err != nil {
		return nil, err
	}
	if err := m.guard.Check(m.installPath, extractedBytes); err != nil {
		return nil, err
	}

	em.enterPhase(PhaseInstalling, fmt.Sprintf("installing %d package(s)", len(refs)))
	installedPaths, err := m.installer.Install(ctx, addonID, refs, m.installPath, func(copied, total int64) {
		em.update(PhaseInstalling, percentOf(copied, total), copied, total)
	})
	if err != nil {
		return nil, err
	}
	em.flush(PhaseInstalling, 100, 0, -1, "")

	rec := &state.Record{
		AddonID:          addonID,
		InstalledChannel: key,
		InstalledVersion: ch.Version,
		InstallPath:      m.installPath,
		InstalledAt:      m.now().UTC(),
		InstalledPaths:   installedPaths,
	}
	if err := m.store.Put(addonID, rec); err != nil {
		return nil, fmt.Errorf("persist installed record: %w", err)
	}

	em.done("installed " + ch.Version)
	m.logger.Info("install complete", "addon", addonID, "channel", key, "version", ch.Version)
	return rec, nil
}

func (m *Manager) download(ctx context.Context, addonID string, ch *catalog.Channel, work *workItem, em *emitter) error {
	em.enterPhase(PhaseDownloading, "downloading "+ch.DownloadURL)
	err := m.fetcher.Download(ctx, ch.DownloadURL, work.archivePath, func(transferred, total int64) {
		em.update(PhaseDownloading, percentOf(transferred, total), transferred, total)
	})
	if err != nil {
		return err
	}
	em.flush(PhaseDownloading, 100, 0, -1, "")

	// Side artifacts are small; no per-chunk progress.
	if ch.SignatureURL != "" {
		if err := m.fetcher.Download(ctx, ch.SignatureURL, work.signaturePath, nil); err != nil {
			return err
		}
	}
	if ch.BundleURL != "" {
		if err := m.fetcher.Download(ctx, ch.BundleURL, work.bundlePath, nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) verify(addonID string, ch *catalog.Channel, work *workItem, em *emitter) error {
	em.enterPhase(PhaseVerifying, "verifying archive")

	if err := m.verifier.VerifyDigest(work.archivePath, ch.DigestHex); err != nil {
		return err
	}

	method := VerificationDigest
	if ch.SignatureURL != "" {
		keyring := ch.KeyringName
		if keyring == "" {
			keyring = addonID
		}
		if err := m.verifier.VerifySignature(work.archivePath, work.signaturePath, keyring); err != nil {
			return err
		}
		method = VerificationGPG
	}
	if ch.BundleURL != "" {
		if err := m.verifier.VerifyBundle(work.archivePath, work.bundlePath, ch.CertIdentity, ch.CertIssuer); err != nil {
			return err
		}
		method = VerificationCosign
	}

	em.flush(PhaseVerifying, 100, 0, -1, "verified ("+method.String()+")")
	return nil
}

func (m *Manager) extract(ctx context.Context, addonID string, work *workItem, em *emitter) error {
	em.enterPhase(PhaseExtracting, "extracting archive")
	err := m.extractor.Extract(ctx, work.archivePath, work.extractDir, func(p ExtractProgress) {
		percent := -1
		switch {
		case p.BytesTotal > 0:
			percent = percentOf(p.BytesDone, p.BytesTotal)
		case p.FilesTotal > 0:
			percent = percentOf(int64(p.FilesDone), int64(p.FilesTotal))
		}
		if p.EntryComplete {
			em.flush(PhaseExtracting, percent, p.BytesDone, p.BytesTotal, "")
		} else {
			em.update(PhaseExtracting, percent, p.BytesDone, p.BytesTotal)
		}
	})
	if err != nil {
		return err
	}
	em.flush(PhaseExtracting, 100, 0, -1, "")
	return nil
}

// Uninstall removes every folder recorded for the addon and deletes
// its persisted record.
func (m *Manager) Uninstall(ctx context.Context, addonID string) error {
	if m.installPath == "" {
		return fmt.Errorf("no install path configured")
	}

	rec, err := m.store.Get(addonID)
	if err != nil {
		return fmt.Errorf("read installed record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("addon %s is not installed", addonID)
	}

	lock, err := transaction.AcquireLock(m.dataDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	em := newEmitter(addonID, m.sink, uninstallSpans)
	em.enterPhase(PhaseUninstalling, "removing installed folders")

	targets := rec.InstalledPaths
	if len(targets) == 0 {
		// A record with no observed paths still owns its conventional
		// folder.
		targets = []string{filepath.Join(m.installPath, addonID)}
	}

	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !pathWithin(m.installPath, target) {
			m.logger.Warn("skipping recorded path outside install dir", "addon", addonID, "path", target)
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("remove %s: %w", target, err)
		}
		em.flush(PhaseUninstalling, percentOf(int64(i+1), int64(len(targets))), 0, -1, "removed "+filepath.Base(target))
	}

	if err := m.store.Put(addonID, nil); err != nil {
		return fmt.Errorf("delete installed record: %w", err)
	}

	em.done("uninstalled")
	m.logger.Info("uninstall complete", "addon", addonID)
	return nil
}

// percentOf is a safe integer percentage; -1 when the total is
// unknown.
func percentOf(done, total int64) int {
	if total <= 0 {
		return -1
	}
	p := int(done * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}

// pathWithin reports whether target sits inside base after cleaning.
func pathWithin(base, target string) bool {
	cleanBase := filepath.Clean(base)
	cleanTarget := filepath.Clean(target)
	return cleanTarget != cleanBase &&
		strings.HasPrefix(cleanTarget, cleanBase+string(os.PathSeparator))
}
