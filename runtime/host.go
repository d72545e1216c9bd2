package runtime

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace) are registered as host functions.
type Host interface {
	// Namespace returns the import module name (e.g., "env").
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact import names when the
// automatic PascalCase-to-snake_case conversion doesn't apply
// (e.g., "proc_exit" implemented by a method named Exit).
type ExplicitRegistrar interface {
	Register() map[string]any
}

type HostRegistry struct {
	funcs   map[string]map[string]*HostFunc
	globals map[string]map[string]*engine.Global
	mu      sync.RWMutex
}

type HostFunc struct {
	Handler  any
	Receiver reflect.Value
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs:   make(map[string]map[string]*HostFunc),
		globals: make(map[string]map[string]*engine.Global),
	}
}

func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	handlers := make(map[string]any)
	if er, ok := h.(ExplicitRegistrar); ok {
		for name, fn := range er.Register() {
			handlers[name] = fn
		}
	} else {
		rv := reflect.ValueOf(h)
		rt := rv.Type()
		for i := 0; i < rt.NumMethod(); i++ {
			method := rt.Method(i)
			if !method.IsExported() || method.Name == "Namespace" {
				continue
			}
			handlers[toSnakeCase(method.Name)] = rv.Method(i).Interface()
		}
	}

	// Check every handler before registering any of them.
	for name, fn := range handlers {
		if _, err := goSignature(reflect.TypeOf(fn)); err != nil {
			return errors.Registration(errors.PhaseHost, ns, name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[ns] == nil {
		r.funcs[ns] = make(map[string]*HostFunc)
	}
	for name, fn := range handlers {
		r.funcs[ns][name] = &HostFunc{
			Handler:  fn,
			Receiver: reflect.ValueOf(h),
		}
	}
	return nil
}

func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}

	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		got := "nil"
		if fn != nil {
			got = reflect.TypeOf(fn).String()
		}
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Func(namespace + "." + name).
			Want("func").
			Got(got).
			Detail("handler must be a function").
			Build()
	}
	if _, err := goSignature(rv.Type()); err != nil {
		return errors.Registration(errors.PhaseHost, namespace, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[namespace] == nil {
		r.funcs[namespace] = make(map[string]*HostFunc)
	}
	r.funcs[namespace][name] = &HostFunc{Handler: fn}
	return nil
}

// RegisterGlobal registers a global import.
func (r *HostRegistry) RegisterGlobal(namespace, name string, g *engine.Global) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "global name cannot be empty")
	}
	if g == nil {
		return errors.InvalidInput(errors.PhaseHost, "global cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.globals[namespace] == nil {
		r.globals[namespace] = make(map[string]*engine.Global)
	}
	r.globals[namespace][name] = g
	return nil
}

// Lookup returns the handler registered for namespace.name.
func (r *HostRegistry) Lookup(namespace, name string) (*HostFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hf, ok := r.funcs[namespace][name]
	return hf, ok
}

// LookupGlobal returns the global registered for namespace.name.
func (r *HostRegistry) LookupGlobal(namespace, name string) (*engine.Global, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.globals[namespace][name]
	return g, ok
}

// Bind resolves the imports of m against the registry. Imports without a
// registered handler are left out; instantiation reports them together.
// A handler whose Go signature does not match the import's type is a link
// error.
func (r *HostRegistry) Bind(m *wasm.Module) (*engine.Imports, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	imports := engine.NewImports()
	for _, imp := range m.Imports {
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			hf, ok := r.funcs[imp.Module][imp.Name]
			if !ok {
				continue
			}
			if int(imp.Desc.TypeIdx) >= len(m.Types) {
				return nil, errors.InvalidData(errors.PhaseLink,
					fmt.Sprintf("import %s.%s has invalid type index %d", imp.Module, imp.Name, imp.Desc.TypeIdx))
			}
			ft := &m.Types[imp.Desc.TypeIdx]
			fn, err := adapt(imp.Module+"."+imp.Name, hf.Handler, *ft)
			if err != nil {
				return nil, err
			}
			imports.Func(imp.Module, imp.Name, *ft, fn)
		case wasm.KindGlobal:
			if g, ok := r.globals[imp.Module][imp.Name]; ok {
				imports.Global(imp.Module, imp.Name, g)
			}
		}
	}
	return imports, nil
}

// toSnakeCase converts PascalCase to snake_case.
// An acronym run stays one word: GetHTTPStatus -> get_http_status, and
// adjacent acronyms merge: GetHTTPURL -> get_httpurl.
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
