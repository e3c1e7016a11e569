package module

import (
	"fmt"
	"plugin"
	"strings"
)

// inprocessPrefix selects a module registered with Register instead of
// a filesystem path. Go cannot cross-compile or sandbox
// -buildmode=plugin cleanly, so the bundled example job and test
// fixtures register themselves in-process and are addressed this way;
// production modules are ordinary .so paths.
const inprocessPrefix = "inprocess:"

// symbolName is the exported symbol a .so job module must define:
// either a Job value or a func() Job.
const symbolName = "Spits"

// Load resolves a module path (the first positional CLI argument) to
// a Job. Paths beginning with "inprocess:" are looked up in the
// in-process registry; anything else is opened as a Go plugin.
func Load(path string) (Job, error) {
	if strings.HasPrefix(path, inprocessPrefix) {
		name := strings.TrimPrefix(path, inprocessPrefix)
		job, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("module: no in-process job registered as %q", name)
		}
		return job, nil
	}
	return loadPlugin(path)
}

func loadPlugin(path string) (Job, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("module: open plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(symbolName)
	if err != nil {
		return nil, fmt.Errorf("module: plugin %s: lookup %s: %w", path, symbolName, err)
	}
	switch v := sym.(type) {
	case Job:
		return v, nil
	case *Job:
		return *v, nil
	case func() Job:
		return v(), nil
	default:
		return nil, fmt.Errorf("module: plugin %s: symbol %s has unexpected type %T", path, symbolName, sym)
	}
}
