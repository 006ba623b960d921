package engine

import (
	"fmt"
	"math"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/hangar-sim/hangar/internal/config"
)

const (
	// stagingOverheadFactor covers the staged copy living beside the
	// destination during the swap.
	stagingOverheadFactor = 1.2
	// safetyMarginBytes is kept free on top of the staging overhead.
	safetyMarginBytes = 200 * 1024 * 1024
)

// SpaceQuerier is the disk-space collaborator.
type SpaceQuerier interface {
	Usage(path string) (freeBytes, totalBytes uint64, err error)
}

// DiskSpace queries real filesystem usage.
type DiskSpace struct{}

// Usage returns free and total bytes for the filesystem containing
// path.
func (DiskSpace) Usage(path string) (uint64, uint64, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return 0, 0, fmt.Errorf("query disk usage for %s: %w", path, err)
	}
	return stat.Free, stat.Total, nil
}

// SpaceGuard performs the disk-space preflight. It runs after
// extraction, when the true extracted size is finally known, even if
// the caller estimated earlier from catalog hints.
type SpaceGuard struct {
	querier SpaceQuerier
	logger  config.Logger
}

// NewSpaceGuard creates a guard. A nil querier uses the real disk.
func NewSpaceGuard(querier SpaceQuerier, logger config.Logger) *SpaceGuard {
	if querier == nil {
		querier = DiskSpace{}
	}
	if logger == nil {
		logger = config.NopLogger()
	}
	return &SpaceGuard{querier: querier, logger: logger}
}

// RequiredBytes computes the preflight requirement for a given
// extracted payload size.
func RequiredBytes(extractedBytes uint64) uint64 {
	return uint64(math.Ceil(float64(extractedBytes)*stagingOverheadFactor)) + safetyMarginBytes
}

// Check fails with InsufficientSpaceError when the install path's
// filesystem cannot hold the staged install.
func (g *SpaceGuard) Check(installPath string, extractedBytes uint64) error {
	required := RequiredBytes(extractedBytes)

	free, _, err := g.querier.Usage(installPath)
	if err != nil {
		return err
	}

	if free < required {
		return &InsufficientSpaceError{
			Path:           installPath,
			RequiredBytes:  required,
			AvailableBytes: free,
		}
	}

	g.logger.Debug("disk space preflight passed", "path", installPath, "required", required, "free", free)
	return nil
}

// TotalSourceBytes sums the size of every resolved source directory.
func TotalSourceBytes(refs []PackageRef) (uint64, error) {
	var total int64
	for _, ref := range refs {
		size, err := dirSize(ref.SourcePath)
		if err != nil {
			return 0, fmt.Errorf("size %s: %w", ref.SourcePath, err)
		}
		total += size
	}
	return uint64(total), nil
}
