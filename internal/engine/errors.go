package engine

import (
	"fmt"
	"strings"

	"github.com/hangar-sim/hangar/internal/catalog"
)

// DownloadError reports a failed archive fetch: transport error or
// non-2xx status. The engine never retries; retry policy belongs to
// the caller.
type DownloadError struct {
	URL        string
	StatusCode int // 0 for transport errors
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: unexpected status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IntegrityError reports a digest or signature mismatch. Always
// fatal: nothing past this gate runs.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
	Reason   string // non-empty for signature failures
}

func (e *IntegrityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("integrity check failed for %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("digest mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// PathTraversalError reports an archive entry that would escape the
// extraction directory.
type PathTraversalError struct {
	Entry string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("archive entry escapes extraction directory: %s", e.Entry)
}

// PackageNotFoundError reports that the resolver could not map the
// extracted tree to install units. It carries everything needed to
// diagnose a misconfigured catalog entry without log spelunking.
type PackageNotFoundError struct {
	AddonID    string
	Expected   []string // folder names the catalog promised
	Missing    []string // expected names that were not found
	RootsTried []string // candidate roots searched
	Detected   []string // package directories actually found
}

func (e *PackageNotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no installable packages found for %s", e.AddonID)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing folders: %s", strings.Join(e.Missing, ", "))
	} else if len(e.Expected) > 0 {
		fmt.Fprintf(&b, "; expected folders: %s", strings.Join(e.Expected, ", "))
	}
	if len(e.RootsTried) > 0 {
		fmt.Fprintf(&b, "; roots tried: %s", strings.Join(e.RootsTried, ", "))
	}
	if len(e.Detected) > 0 {
		fmt.Fprintf(&b, "; detected: %s", strings.Join(e.Detected, ", "))
	} else {
		b.WriteString("; detected: none")
	}
	return b.String()
}

// InsufficientSpaceError reports a failed disk-space preflight.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  uint64
	AvailableBytes uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %d bytes, %d available",
		e.Path, e.RequiredBytes, e.AvailableBytes)
}

// InstallTransactionError reports a failure during the stage/swap
// sequence. Rollback has already run by the time this surfaces.
type InstallTransactionError struct {
	Stage string // "stage", "swap", or "commit"
	Err   error
}

func (e *InstallTransactionError) Error() string {
	return fmt.Sprintf("install transaction failed during %s: %v", e.Stage, e.Err)
}

func (e *InstallTransactionError) Unwrap() error { return e.Err }

// ChannelConflictError reports an install attempt for a channel other
// than the one currently installed. The caller must uninstall first.
type ChannelConflictError struct {
	AddonID   string
	Installed catalog.ChannelKey
	Requested catalog.ChannelKey
}

func (e *ChannelConflictError) Error() string {
	return fmt.Sprintf("addon %s is installed from the %s channel; uninstall it before installing %s",
		e.AddonID, e.Installed, e.Requested)
}
