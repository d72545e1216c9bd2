package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Config configures a Runtime.
type Config struct {
	// Logger is used by every instance the runtime creates. nil falls back
	// to engine.Logger().
	Logger *zap.Logger

	// Engine is passed to engine.Instantiate. Its Logger field is ignored
	// in favour of Logger.
	Engine engine.Config

	// Validate runs structural validation when a module is loaded.
	Validate bool
}

// DefaultConfig returns a validating configuration with the engine defaults.
func DefaultConfig() Config {
	return Config{
		Engine:   engine.DefaultConfig(),
		Validate: true,
	}
}

type Runtime struct {
	hosts *HostRegistry
	log   *zap.Logger
	cfg   Config
}

// New returns a runtime using DefaultConfig.
func New(ctx context.Context) (*Runtime, error) {
	return NewWithConfig(ctx, DefaultConfig())
}

// NewWithConfig returns a runtime with the given configuration.
func NewWithConfig(_ context.Context, cfg Config) (*Runtime, error) {
	if cfg.Engine.MaxCallDepth < 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "MaxCallDepth must not be negative")
	}
	log := cfg.Logger
	if log == nil {
		log = engine.Logger()
	}
	cfg.Engine.Logger = log
	return &Runtime{
		cfg:   cfg,
		log:   log,
		hosts: NewHostRegistry(),
	}, nil
}

// Close releases runtime resources. Instances hold their own memory and
// remain usable until closed themselves.
func (r *Runtime) Close(_ context.Context) error {
	return nil
}

// RegisterHost registers all exported methods of h as host functions.
// Must be called BEFORE instantiating modules that import these functions.
// Method names are converted from PascalCase to snake_case (GetValue -> get_value).
func (r *Runtime) RegisterHost(h Host) error {
	return r.hosts.RegisterHost(h)
}

func (r *Runtime) RegisterFunc(namespace, name string, fn any) error {
	return r.hosts.RegisterFunc(namespace, name, fn)
}

// RegisterGlobal provides a global import.
func (r *Runtime) RegisterGlobal(namespace, name string, g *engine.Global) error {
	return r.hosts.RegisterGlobal(namespace, name, g)
}

// Config returns the runtime's configuration.
func (r *Runtime) Config() Config {
	return r.cfg
}

func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// LoadWASM decodes a core WebAssembly module and, when the runtime is
// configured to, validates it.
func (r *Runtime) LoadWASM(_ context.Context, bin []byte) (*Module, error) {
	m, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindDecode, err, "parse module")
	}
	if r.cfg.Validate {
		if err := m.Validate(); err != nil {
			return nil, errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "validate module")
		}
	}
	r.log.Debug("module loaded",
		zap.Int("bytes", len(bin)),
		zap.Int("functions", m.NumFuncs()),
		zap.Int("exports", len(m.Exports)),
	)
	return &Module{runtime: r, module: m}, nil
}

// LoadModule wraps an already decoded module.
func (r *Runtime) LoadModule(_ context.Context, m *wasm.Module) (*Module, error) {
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "module is nil")
	}
	if r.cfg.Validate {
		if err := m.Validate(); err != nil {
			return nil, errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "validate module")
		}
	}
	return &Module{runtime: r, module: m}, nil
}
