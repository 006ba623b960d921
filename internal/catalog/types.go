// Package catalog defines the remote addon catalog model and the
// caller-owned cache through which the rest of Hangar resolves addon
// release metadata.
//
// A catalog is a flat list of addons. Each addon publishes up to three
// release channels (stable, beta, dev), each with an independent
// version, download URL, and SHA-256 digest. Catalog entries are
// immutable once fetched; the install pipeline receives a resolved
// Channel as a plain input parameter and never reaches back into
// shared catalog state.
package catalog

import (
	"fmt"
	"strings"
)

// ChannelKey identifies a release track for an addon.
type ChannelKey string

const (
	ChannelStable ChannelKey = "stable"
	ChannelBeta   ChannelKey = "beta"
	ChannelDev    ChannelKey = "dev"

	// ChannelUnknown marks installed records whose channel could not
	// be inferred from the catalog during reconciliation.
	ChannelUnknown ChannelKey = "unknown"
)

// ParseChannelKey validates a user-supplied channel name.
func ParseChannelKey(s string) (ChannelKey, error) {
	switch ChannelKey(strings.ToLower(s)) {
	case ChannelStable:
		return ChannelStable, nil
	case ChannelBeta:
		return ChannelBeta, nil
	case ChannelDev:
		return ChannelDev, nil
	default:
		return "", fmt.Errorf("unknown channel %q (expected stable, beta, or dev)", s)
	}
}

// Channel describes one downloadable release of an addon.
type Channel struct {
	Version     string `json:"version"`
	DownloadURL string `json:"downloadUrl"`
	// DigestHex is the expected SHA-256 of the archive, hex encoded.
	// Compared case-insensitively.
	DigestHex string `json:"digestHex"`

	// SignatureURL optionally points at a detached GPG signature for
	// the archive. Verified against the configured keyring when set.
	SignatureURL string `json:"signatureUrl,omitempty"`
	// KeyringName selects the keyring file used for SignatureURL
	// verification. Defaults to the addon id.
	KeyringName string `json:"keyringName,omitempty"`

	// BundleURL optionally points at a Sigstore (cosign) bundle for
	// the archive. When set, CertIdentity and CertIssuer constrain the
	// signing certificate.
	BundleURL    string `json:"bundleUrl,omitempty"`
	CertIdentity string `json:"certIdentity,omitempty"`
	CertIssuer   string `json:"certIssuer,omitempty"`

	SizeBytes          int64 `json:"sizeBytes,omitempty"`
	InstalledSizeBytes int64 `json:"installedSizeBytes,omitempty"`

	// ExpectedPackageFolders lists the folder names this release
	// installs under the Community directory. Empty means the resolver
	// auto-detects packages by manifest marker.
	ExpectedPackageFolders []string `json:"expectedPackageFolders,omitempty"`

	// AllowPermissiveInstall permits resolution without manifest
	// markers. Strict resolution is the default.
	AllowPermissiveInstall bool `json:"allowPermissiveInstall,omitempty"`
}

// Addon is one catalog entry.
type Addon struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name,omitempty"`
	Channels map[ChannelKey]Channel `json:"channels"`
}

// Channel returns the release for the given channel key.
func (a *Addon) Channel(key ChannelKey) (Channel, bool) {
	ch, ok := a.Channels[key]
	return ch, ok
}

// Catalog is the full fetched catalog.
type Catalog struct {
	Version int     `json:"version"`
	Addons  []Addon `json:"addons"`
}

// Addon looks up an addon by id.
func (c *Catalog) Addon(id string) (*Addon, bool) {
	for i := range c.Addons {
		if c.Addons[i].ID == id {
			return &c.Addons[i], true
		}
	}
	return nil, false
}

// Resolve returns the channel entry for an addon, with descriptive
// errors for the two lookup failures.
func (c *Catalog) Resolve(addonID string, key ChannelKey) (*Channel, error) {
	addon, ok := c.Addon(addonID)
	if !ok {
		return nil, fmt.Errorf("addon %q not found in catalog", addonID)
	}
	ch, ok := addon.Channel(key)
	if !ok {
		return nil, fmt.Errorf("addon %q has no %s channel", addonID, key)
	}
	return &ch, nil
}
