// Package platform detects the host OS, architecture, and Linux
// distribution, and exposes the result to Lua configurations as a
// read-only table so a single hangar.lua can pick per-platform
// Community paths.
package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// Info contains platform detection results.
type Info struct {
	OS      string // "linux", "darwin", "windows"
	Arch    string // normalized: "amd64", "arm64"
	ArchRaw string // original GOARCH value
	Distro  string // Linux distro id ("ubuntu", "arch"); empty elsewhere
	Family  string // Linux distro family ("debian", "rhel"); empty elsewhere
	Version string // Linux distro version; empty elsewhere
}

// IsLinux reports whether the platform is Linux.
func (i *Info) IsLinux() bool { return i.OS == "linux" }

// IsMacOS reports whether the platform is macOS.
func (i *Info) IsMacOS() bool { return i.OS == "darwin" }

// IsWindows reports whether the platform is Windows.
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// Detector produces platform information.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// RealDetector detects the actual host platform.
type RealDetector struct{}

// NewDetector creates the default detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect returns OS and architecture from the runtime, plus Linux
// distribution details from gopsutil. Distro detection failures fall
// back gracefully to OS/arch only; most configs never branch on
// distro.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		ArchRaw: runtime.GOARCH,
	}

	arch, err := normalizeArch(runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info.Arch = arch

	if runtime.GOOS == "linux" {
		distro, family, version, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			return info, nil
		}
		info.Distro = distro
		info.Family = family
		info.Version = version
	}

	return info, nil
}

// normalizeArch maps GOARCH spellings to the two supported values.
func normalizeArch(goarch string) (string, error) {
	switch goarch {
	case "amd64", "x86_64":
		return "amd64", nil
	case "arm64", "aarch64":
		return "arm64", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", goarch)
	}
}

// StaticDetector returns a fixed Info, for tests and generated
// configs.
type StaticDetector struct {
	Info Info
}

// Detect returns the fixed Info.
func (d *StaticDetector) Detect(ctx context.Context) (*Info, error) {
	info := d.Info
	return &info, nil
}
