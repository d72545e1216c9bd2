package runtime

import (
	"context"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Module is a decoded module bound to a runtime. It is immutable and may be
// instantiated from several goroutines.
type Module struct {
	runtime *Runtime
	module  *wasm.Module
}

// Wasm returns the decoded module.
func (m *Module) Wasm() *wasm.Module {
	return m.module
}

// Compile checks imports against the runtime's host registry without
// instantiating. Call at registration time to fail fast.
func (m *Module) Compile(_ context.Context) error {
	imports, err := m.runtime.hosts.Bind(m.module)
	if err != nil {
		return err
	}
	var missing []string
	for _, imp := range m.module.Imports {
		found := true
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			_, found = imports.HostFunction(imp.Module, imp.Name)
		case wasm.KindGlobal:
			_, found = m.runtime.hosts.LookupGlobal(imp.Module, imp.Name)
		default:
			return errors.Unsupported(errors.PhaseLink, "import "+imp.Module+"#"+imp.Name+" of kind "+exportKind(imp.Desc.Kind))
		}
		if !found {
			missing = append(missing, imp.Module+"#"+imp.Name)
		}
	}
	if len(missing) > 0 {
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	imports, err := m.runtime.hosts.Bind(m.module)
	if err != nil {
		return nil, err
	}
	cfg := m.runtime.cfg.Engine
	inst, err := engine.Instantiate(ctx, m.module, imports, &cfg)
	if err != nil {
		return nil, err
	}
	return &Instance{module: m, inst: inst}, nil
}

type Export struct {
	Name string
	Kind string
	// Type is the signature of an exported function, empty otherwise.
	Type string
}

func (m *Module) Exports() []Export {
	if len(m.module.Exports) == 0 {
		return nil
	}
	exports := make([]Export, len(m.module.Exports))
	for i, exp := range m.module.Exports {
		e := Export{Name: exp.Name, Kind: exportKind(exp.Kind)}
		if exp.Kind == wasm.KindFunc {
			if ft := m.module.GetFuncType(exp.Idx); ft != nil {
				e.Type = ft.String()
			}
		}
		exports[i] = e
	}
	return exports
}

// FuncType returns the signature of the exported function name.
func (m *Module) FuncType(name string) (*wasm.FuncType, error) {
	exp, ok := m.module.ExportByName(name)
	if !ok || exp.Kind != wasm.KindFunc {
		return nil, errors.NotFound(errors.PhaseLoad, "function", name)
	}
	ft := m.module.GetFuncType(exp.Idx)
	if ft == nil {
		return nil, errors.InvalidData(errors.PhaseLoad, "export "+name+" has no type")
	}
	return ft, nil
}

func exportKind(k byte) string {
	switch k {
	case wasm.KindFunc:
		return "func"
	case wasm.KindTable:
		return "table"
	case wasm.KindMemory:
		return "memory"
	case wasm.KindGlobal:
		return "global"
	}
	return "unknown"
}
