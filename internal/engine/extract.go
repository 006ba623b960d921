package engine

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hangar-sim/hangar/internal/config"
)

// ExtractProgress is one extraction progress observation.
// BytesTotal is 0 when the central directory carries no usable sizes;
// consumers then fall back to file counts, and to heartbeats when
// even the count is useless.
type ExtractProgress struct {
	BytesDone  int64
	BytesTotal int64
	FilesDone  int
	FilesTotal int
	// EntryComplete marks a file-completion boundary; such reports
	// must not be coalesced away.
	EntryComplete bool
}

// Extractor extracts ZIP archives entry-by-entry into a scratch
// directory, guarding every entry against path traversal.
type Extractor struct {
	logger config.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(logger config.Logger) *Extractor {
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Extractor{logger: logger}
}

// Extract unpacks archivePath into destDir. The caller guarantees
// destDir is fresh. Entries whose resolved path would leave destDir
// fail the whole extraction with PathTraversalError.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string, report func(ExtractProgress)) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}

	// Pre-scan the central directory so progress can be
	// percent-of-bytes when sizes are recorded.
	var totalBytes int64
	totalFiles := 0
	for _, f := range reader.File {
		if isDirEntry(f) {
			continue
		}
		totalBytes += int64(f.UncompressedSize64)
		totalFiles++
	}

	var doneBytes int64
	doneFiles := 0
	emit := func(entryComplete bool) {
		if report == nil {
			return
		}
		report(ExtractProgress{
			BytesDone:     doneBytes,
			BytesTotal:    totalBytes,
			FilesDone:     doneFiles,
			FilesTotal:    totalFiles,
			EntryComplete: entryComplete,
		})
	}

	for _, f := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}

		if isDirEntry(f) {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
			continue
		}

		if err := e.extractFile(f, target, func(n int64) {
			doneBytes += n
			emit(false)
		}); err != nil {
			return err
		}
		doneFiles++
		emit(true)
	}

	emit(true)
	e.logger.Debug("extraction complete", "archive", archivePath, "files", doneFiles, "bytes", doneBytes)
	return nil
}

// extractFile stream-copies one archive entry, invoking onBytes per
// chunk for incremental byte counters.
func (e *Extractor) extractFile(f *zip.File, target string, onBytes func(int64)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer src.Close()

	mode := f.Mode() & os.ModePerm
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}

	buf := make([]byte, copyBufSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				return fmt.Errorf("write file %s: %w", target, writeErr)
			}
			if onBytes != nil {
				onBytes(int64(n))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			return fmt.Errorf("read entry %s: %w", f.Name, readErr)
		}
	}

	return out.Close()
}

// safeJoin resolves an archive entry name under destDir, rejecting
// absolute paths and anything that escapes destDir after cleaning.
func safeJoin(destDir, entryName string) (string, error) {
	name := filepath.FromSlash(entryName)
	if filepath.IsAbs(name) || strings.HasPrefix(entryName, "/") {
		return "", &PathTraversalError{Entry: entryName}
	}

	target := filepath.Join(destDir, name)
	cleanDest := filepath.Clean(destDir)
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", &PathTraversalError{Entry: entryName}
	}
	return target, nil
}

func isDirEntry(f *zip.File) bool {
	return strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
}
