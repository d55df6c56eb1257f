// internal/scenario/interpolate.go
package scenario

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.\-]*)\}`)

// resolver expands ${name} references. Scenario variables win over the
// configured variables, which win over the process environment.
type resolver struct {
	layers []map[string]string
	env    func(string) (string, bool)
}

func (r *resolver) lookup(name string) (string, bool) {
	for _, layer := range r.layers {
		if v, ok := layer[name]; ok {
			return v, true
		}
	}
	if r.env != nil {
		return r.env(name)
	}
	return "", false
}

// expand replaces every placeholder in s. All unknown names are reported
// together, sorted, in a single error.
func (r *resolver) expand(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	missing := map[string]struct{}{}
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := r.lookup(name)
		if !ok {
			missing[name] = struct{}{}
			return m
		}
		return v
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", fmt.Errorf("undefined variable(s): %s", strings.Join(names, ", "))
	}
	return out, nil
}

// expandAll expands each pointed-to string in place, stopping at the first error.
func (r *resolver) expandAll(fields ...*string) error {
	for _, f := range fields {
		v, err := r.expand(*f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}
