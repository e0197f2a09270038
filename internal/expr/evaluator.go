// Package expr evaluates the expressions carried by expression leaves using
// an embedded JavaScript runtime (goja). The resolved resource values the
// leaf depends on are exposed to the expression as the `res` object, keyed
// by resource key, and also as bare variables for keys that are valid
// identifiers.
package expr

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dop251/goja"
)

// Evaluator evaluates leaf expressions. A prelude of JavaScript snippets,
// usually from the config file, is loaded into the VM before each evaluation
// so expressions can share helper functions.
type Evaluator struct {
	prelude []string
}

// New creates an evaluator with the given prelude scripts.
func New(prelude []string) *Evaluator {
	return &Evaluator{prelude: prelude}
}

// Evaluate runs src as a JavaScript expression with values in scope and
// returns the result as a string. Undefined results are errors: they almost
// always mean a typo'd variable or property.
func (e *Evaluator) Evaluate(src string, values map[string]string) (string, error) {
	vm, err := e.setupVM(values)
	if err != nil {
		return "", err
	}

	code := src
	if len(code) > 0 && code[0] == '{' {
		// An object literal at statement position parses as a block; wrap it.
		code = "(" + code + ")"
	}

	val, err := vm.RunString(code)
	if err != nil {
		return "", fmt.Errorf("expression error: %w", err)
	}
	if val == goja.Undefined() {
		return "", fmt.Errorf("expression %q returned undefined", src)
	}
	return toString(val.Export()), nil
}

func (e *Evaluator) setupVM(values map[string]string) (*goja.Runtime, error) {
	vm := goja.New()
	for i, lib := range e.prelude {
		if _, err := vm.RunString(lib); err != nil {
			return nil, fmt.Errorf("prelude[%d]: %w", i, err)
		}
	}
	if err := vm.Set("res", values); err != nil {
		return nil, fmt.Errorf("set res: %w", err)
	}
	for k, v := range values {
		if isIdentifier(k) {
			if err := vm.Set(k, v); err != nil {
				return nil, fmt.Errorf("set %s: %w", k, err)
			}
		}
	}
	return vm, nil
}

// isIdentifier reports whether s can be bound as a bare JavaScript variable.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// toString converts an exported goja value to the leaf's text content.
// Composite values are rendered as JSON.
func toString(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
