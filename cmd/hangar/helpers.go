package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hangar-sim/hangar/internal/catalog"
	"github.com/hangar-sim/hangar/internal/config"
	"github.com/hangar-sim/hangar/internal/engine"
	"github.com/hangar-sim/hangar/internal/platform"
	"github.com/hangar-sim/hangar/internal/state"
)

// configPath returns the config file location: $HANGAR_CONFIG wins,
// otherwise ~/.config/hangar/hangar.lua.
func configPath() (string, error) {
	if path := os.Getenv("HANGAR_CONFIG"); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "hangar", "hangar.lua"), nil
}

// loadConfig parses the user config. A missing config file yields the
// zero config; commands that need specific fields enforce them.
func loadConfig(ctx context.Context) (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &config.Config{}, nil
		}
		return nil, fmt.Errorf("check config file: %w", err)
	}

	parser := config.NewParser(platform.NewDetector())
	cfg, err := parser.ParseFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// dataDir resolves where records, journals, and locks live.
func dataDir(cfg *config.Config) (string, error) {
	if cfg.Paths.Data != "" {
		return cfg.Paths.Data, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "hangar"), nil
}

// openStore opens the persisted record store under the data dir.
func openStore(cfg *config.Config) (*state.FileStore, string, error) {
	dir, err := dataDir(cfg)
	if err != nil {
		return nil, "", err
	}
	return state.NewFileStore(filepath.Join(dir, "installed.json")), dir, nil
}

// newCatalogCache builds the catalog cache from config. The catalog
// URL is required for every command that contacts the catalog.
func newCatalogCache(cfg *config.Config) (*catalog.Cache, error) {
	if cfg.Catalog.URL == "" {
		return nil, fmt.Errorf("no catalog URL configured (set catalog.url in hangar.lua)")
	}
	ttl := time.Duration(cfg.Catalog.TTLSeconds) * time.Second
	return catalog.NewCache(catalog.NewHTTPFetcher(cfg.Catalog.URL), ttl), nil
}

// consoleLogger adapts the standard library logger to config.Logger,
// honoring a verbose switch for debug output.
type consoleLogger struct {
	verbose bool
}

func (l *consoleLogger) logf(level, msg string, keysAndValues ...interface{}) {
	line := level + " " + msg
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	log.Println(line)
}

func (l *consoleLogger) Debug(msg string, keysAndValues ...interface{}) {
	if l.verbose {
		l.logf("DEBUG", msg, keysAndValues...)
	}
}

func (l *consoleLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.verbose {
		l.logf("INFO", msg, keysAndValues...)
	}
}

func (l *consoleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logf("WARN", msg, keysAndValues...)
}

func (l *consoleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logf("ERROR", msg, keysAndValues...)
}

// newConsoleSink renders progress events as single updating lines on
// stderr: one line per phase, rewritten in place as percent advances.
func newConsoleSink() engine.Sink {
	var lastPhase engine.Phase
	return engine.SinkFunc(func(e engine.Event) {
		if e.Phase != lastPhase {
			if lastPhase != "" {
				fmt.Fprintln(os.Stderr)
			}
			lastPhase = e.Phase
		}

		detail := ""
		switch {
		case e.Percent >= 0 && e.TotalBytes > 0:
			detail = fmt.Sprintf("%3d%% (%s / %s)", e.Percent, formatBytes(e.TransferredBytes), formatBytes(e.TotalBytes))
		case e.Percent >= 0:
			detail = fmt.Sprintf("%3d%%", e.Percent)
		default:
			detail = "..."
		}
		if e.Message != "" {
			detail += " " + e.Message
		}
		fmt.Fprintf(os.Stderr, "\r[%3d%%] %-12s %s\x1b[K", e.OverallPercent, e.Phase, detail)

		if e.Phase == engine.PhaseDone {
			fmt.Fprintln(os.Stderr)
		}
	})
}

// formatBytes renders a byte count human-readably.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
