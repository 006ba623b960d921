package config

import (
	"context"
	"fmt"
	"os"

	"github.com/hangar-sim/hangar/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser parses hangar.lua configurations with platform detection.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a config parser. The detector may be nil, in
// which case no platform table is injected.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// ParseError is a config parsing failure with a user-facing message
// and the underlying technical detail.
type ParseError struct {
	Message string
	Detail  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// ParseFile parses a config file from disk.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return p.ParseString(ctx, string(data))
}

// ParseString parses a Lua config from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return extractConfig(L)
}

// extractConfig pulls the global "hangar" table out of the Lua state.
func extractConfig(L *lua.LState) (*Config, error) {
	hangarVal := L.GetGlobal("hangar")
	if hangarVal.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'hangar' table",
			Detail:  fmt.Sprintf("expected table, got %s", hangarVal.Type()),
		}
	}
	table := hangarVal.(*lua.LTable)

	cfg := &Config{}

	if pathsVal := table.RawGetString("paths"); pathsVal.Type() == lua.LTTable {
		paths := pathsVal.(*lua.LTable)
		cfg.Paths.Community = stringField(paths, "community")
		cfg.Paths.Data = stringField(paths, "data")
	}

	if catVal := table.RawGetString("catalog"); catVal.Type() == lua.LTTable {
		cat := catVal.(*lua.LTable)
		cfg.Catalog.URL = stringField(cat, "url")
		cfg.Catalog.TTLSeconds = intField(cat, "ttl_seconds")
	}

	if instVal := table.RawGetString("install"); instVal.Type() == lua.LTTable {
		inst := instVal.(*lua.LTable)
		cfg.Install.DefaultChannel = stringField(inst, "default_channel")
		cfg.Install.KeyringDir = stringField(inst, "keyring_dir")
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}

	return cfg, nil
}

func stringField(table *lua.LTable, key string) string {
	if v := table.RawGetString(key); v.Type() == lua.LTString {
		return v.String()
	}
	return ""
}

func intField(table *lua.LTable, key string) int {
	if v := table.RawGetString(key); v.Type() == lua.LTNumber {
		return int(v.(lua.LNumber))
	}
	return 0
}
