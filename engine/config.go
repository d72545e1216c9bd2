package engine

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/wasm"
)

// Default limits applied by Config.
const (
	DefaultMaxCallDepth     = 1024
	DefaultMemoryLimitPages = uint32(wasm.MemoryMaxPages)
)

// Config holds configuration for instantiation and execution
type Config struct {
	// Logger overrides the package logger for one instance.
	Logger *zap.Logger

	// MaxCallDepth bounds nested calls. Deeper recursion traps with
	// call_stack_exhausted. 0 means DefaultMaxCallDepth.
	MaxCallDepth int

	// MemoryLimitPages caps memories that declare no maximum, and memories
	// whose declared maximum is larger. 0 means 65536 pages (4GiB).
	MemoryLimitPages uint32

	// Trace logs every dispatched instruction at debug level.
	Trace bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxCallDepth:     DefaultMaxCallDepth,
		MemoryLimitPages: DefaultMemoryLimitPages,
	}
}

// normalized fills unset fields with defaults. A nil config is the default.
func (c *Config) normalized() Config {
	if c == nil {
		cfg := DefaultConfig()
		cfg.Logger = Logger()
		return cfg
	}
	cfg := *c
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}
	if cfg.MemoryLimitPages == 0 || cfg.MemoryLimitPages > DefaultMemoryLimitPages {
		cfg.MemoryLimitPages = DefaultMemoryLimitPages
	}
	if cfg.Logger == nil {
		cfg.Logger = Logger()
	}
	return cfg
}
