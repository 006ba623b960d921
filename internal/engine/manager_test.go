package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hangar-sim/hangar/internal/catalog"
	"github.com/hangar-sim/hangar/internal/state"
)

// managerFixture wires a Manager against an archive-serving test
// server and in-memory collaborators.
type managerFixture struct {
	manager     *Manager
	store       *state.MemoryStore
	sink        *recordingSink
	installPath string
	channel     catalog.Channel
}

func newManagerFixture(t *testing.T, archiveEntries map[string]string) *managerFixture {
	t.Helper()

	archivePath := createTestZip(t, archiveEntries)
	archiveBytes, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("failed to read archive: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".zip") {
			w.Write(archiveBytes)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	root := t.TempDir()
	installPath := filepath.Join(root, "Community")
	store := state.NewMemoryStore()
	sink := &recordingSink{}

	manager, err := NewManager(ManagerConfig{
		InstallPath: installPath,
		DataDir:     filepath.Join(root, "data"),
		Store:       store,
		Space:       fakeSpace{free: 100 << 30, total: 200 << 30},
		Sink:        sink,
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	return &managerFixture{
		manager:     manager,
		store:       store,
		sink:        sink,
		installPath: installPath,
		channel: catalog.Channel{
			Version:                "1.4.2",
			DownloadURL:            server.URL + "/addon.zip",
			DigestHex:              sha256Hex(archiveBytes),
			ExpectedPackageFolders: []string{"MyPackage"},
		},
	}
}

func TestManagerInstall(t *testing.T) {
	fx := newManagerFixture(t, map[string]string{
		"MyPackage/manifest.json":    `{"package_version": "1.4.2"}`,
		"MyPackage/data/scenery.bgl": "scenery bytes",
	})

	rec, err := fx.manager.Install(context.Background(), "sample-airport", catalog.ChannelStable, &fx.channel)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	if rec.InstalledVersion != "1.4.2" || rec.InstalledChannel != catalog.ChannelStable {
		t.Errorf("record = %+v, want version 1.4.2 on stable", rec)
	}
	wantPath := filepath.Join(fx.installPath, "MyPackage")
	if len(rec.InstalledPaths) != 1 || rec.InstalledPaths[0] != wantPath {
		t.Errorf("InstalledPaths = %v, want [%s]", rec.InstalledPaths, wantPath)
	}

	sameTree(t, fx.installPath, map[string]string{
		"MyPackage/manifest.json":    `{"package_version": "1.4.2"}`,
		"MyPackage/data/scenery.bgl": "scenery bytes",
	})

	stored, err := fx.store.Get("sample-airport")
	if err != nil || stored == nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if stored.InstalledVersion != "1.4.2" {
		t.Errorf("persisted version = %q, want 1.4.2", stored.InstalledVersion)
	}

	events := fx.sink.all()
	if len(events) == 0 {
		t.Fatal("no progress events published")
	}
	final := events[len(events)-1]
	if final.Phase != PhaseDone || final.OverallPercent != 100 {
		t.Errorf("final event = %s/%d, want done/100", final.Phase, final.OverallPercent)
	}
	lastOverall := -1
	for i, e := range events {
		if e.OverallPercent < lastOverall {
			t.Errorf("event %d: overall regressed from %d to %d", i, lastOverall, e.OverallPercent)
		}
		lastOverall = e.OverallPercent
	}
}

func TestManagerInstallDigestMismatch(t *testing.T) {
	fx := newManagerFixture(t, map[string]string{
		"MyPackage/manifest.json": manifestContent,
	})
	fx.channel.DigestHex = strings.Repeat("00", 32)

	_, err := fx.manager.Install(context.Background(), "sample-airport", catalog.ChannelStable, &fx.channel)

	var intErr *IntegrityError
	if !errors.As(err, &intErr) {
		t.Fatalf("error = %v, want IntegrityError", err)
	}

	// The integrity gate fails before anything touches the install
	// path or the record store.
	if _, statErr := os.Stat(fx.installPath); !os.IsNotExist(statErr) {
		t.Error("install path created despite failed verification")
	}
	if rec, _ := fx.store.Get("sample-airport"); rec != nil {
		t.Error("record persisted despite failed verification")
	}
}

func TestManagerInstallChannelConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("conflict gate must reject before any download")
	}))
	defer server.Close()

	root := t.TempDir()
	store := state.NewMemoryStore()
	store.Put("sample-airport", &state.Record{
		AddonID:          "sample-airport",
		InstalledChannel: catalog.ChannelStable,
		InstalledVersion: "1.0.0",
	})

	manager, err := NewManager(ManagerConfig{
		InstallPath: filepath.Join(root, "Community"),
		DataDir:     filepath.Join(root, "data"),
		Store:       store,
		Space:       fakeSpace{free: 1 << 40},
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ch := catalog.Channel{Version: "2.0.0-beta.1", DownloadURL: server.URL + "/addon.zip", DigestHex: "00"}
	_, err = manager.Install(context.Background(), "sample-airport", catalog.ChannelBeta, &ch)

	var conflictErr *ChannelConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("error = %v, want ChannelConflictError", err)
	}
	if conflictErr.Installed != catalog.ChannelStable || conflictErr.Requested != catalog.ChannelBeta {
		t.Errorf("conflict = %s→%s, want stable→beta", conflictErr.Installed, conflictErr.Requested)
	}
}

func TestManagerReinstallSameChannel(t *testing.T) {
	fx := newManagerFixture(t, map[string]string{
		"MyPackage/manifest.json": manifestContent,
	})

	if _, err := fx.manager.Install(context.Background(), "sample-airport", catalog.ChannelStable, &fx.channel); err != nil {
		t.Fatalf("first install failed: %v", err)
	}
	// Same channel again is a reinstall, not a conflict.
	if _, err := fx.manager.Install(context.Background(), "sample-airport", catalog.ChannelStable, &fx.channel); err != nil {
		t.Fatalf("reinstall failed: %v", err)
	}
}

func TestManagerInstallInsufficientSpace(t *testing.T) {
	fx := newManagerFixture(t, map[string]string{
		"MyPackage/manifest.json": manifestContent,
	})
	// Plenty for scratch work, nothing for the install.
	fx.manager.guard = NewSpaceGuard(fakeSpace{free: 1024, total: 1 << 40}, nil)

	_, err := fx.manager.Install(context.Background(), "sample-airport", catalog.ChannelStable, &fx.channel)

	var spaceErr *InsufficientSpaceError
	if !errors.As(err, &spaceErr) {
		t.Fatalf("error = %v, want InsufficientSpaceError", err)
	}
	if _, statErr := os.Stat(filepath.Join(fx.installPath, "MyPackage")); !os.IsNotExist(statErr) {
		t.Error("package installed despite failed space preflight")
	}
}

func TestManagerUninstall(t *testing.T) {
	fx := newManagerFixture(t, map[string]string{
		"MyPackage/manifest.json": manifestContent,
	})

	rec, err := fx.manager.Install(context.Background(), "sample-airport", catalog.ChannelStable, &fx.channel)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	if err := fx.manager.Uninstall(context.Background(), "sample-airport"); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}

	for _, p := range rec.InstalledPaths {
		if _, statErr := os.Stat(p); !os.IsNotExist(statErr) {
			t.Errorf("installed path survived uninstall: %s", p)
		}
	}
	if stored, _ := fx.store.Get("sample-airport"); stored != nil {
		t.Error("record survived uninstall")
	}

	events := fx.sink.all()
	final := events[len(events)-1]
	if final.Phase != PhaseDone || final.OverallPercent != 100 {
		t.Errorf("final event = %s/%d, want done/100", final.Phase, final.OverallPercent)
	}
}

func TestManagerUninstallNotInstalled(t *testing.T) {
	fx := newManagerFixture(t, map[string]string{
		"MyPackage/manifest.json": manifestContent,
	})

	if err := fx.manager.Uninstall(context.Background(), "ghost-addon"); err == nil {
		t.Error("expected error for uninstalling an untracked addon")
	}
}

func TestManagerUninstallSkipsPathsOutsideInstallDir(t *testing.T) {
	fx := newManagerFixture(t, map[string]string{
		"MyPackage/manifest.json": manifestContent,
	})

	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "precious.txt")
	if err := os.WriteFile(outsideFile, []byte("keep"), 0644); err != nil {
		t.Fatalf("failed to write outside file: %v", err)
	}

	fx.store.Put("sample-airport", &state.Record{
		AddonID:          "sample-airport",
		InstalledChannel: catalog.ChannelStable,
		InstalledVersion: "1.0.0",
		InstallPath:      fx.installPath,
		InstalledAt:      time.Now(),
		InstalledPaths:   []string{outside},
	})

	if err := fx.manager.Uninstall(context.Background(), "sample-airport"); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if _, err := os.Stat(outsideFile); err != nil {
		t.Error("uninstall removed a path outside the install directory")
	}
}
