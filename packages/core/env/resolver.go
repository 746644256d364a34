package env

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/hitbatch/packages/builtin"
)

var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ErrUnresolved is wrapped by every resolution failure
var ErrUnresolved = errors.New("unresolved template")

// Resolver expands templates. It is safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	variables map[string]string
	funcs     *builtin.Registry
	lookupEnv func(string) (string, bool)
}

func NewResolver() *Resolver {
	return &Resolver{
		variables: make(map[string]string),
		funcs:     builtin.NewRegistry(),
		lookupEnv: os.LookupEnv,
	}
}

func (r *Resolver) SetVariables(vars map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range vars {
		r.variables[k] = v
	}
}

func (r *Resolver) SetVariable(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[name] = value
}

func (r *Resolver) GetVariable(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variables[name]
	return v, ok
}

// Resolve expands every template in input. Templates that cannot be
// expanded are left as they are and reported in the error.
func (r *Resolver) Resolve(input string) (string, error) {
	var errs []error
	out := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		v, err := r.eval(expr)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return v
	})
	return out, errors.Join(errs...)
}

func (r *Resolver) eval(expr string) (string, error) {
	if name, ok := strings.CutPrefix(expr, "$"); ok {
		if val, ok := r.lookupEnv(name); ok {
			return val, nil
		}
		return "", fmt.Errorf("%w: environment variable $%s is not set", ErrUnresolved, name)
	}

	if builtin.IsCall(expr) {
		v, err := r.funcs.Call(expr)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnresolved, err)
		}
		return fmt.Sprintf("%v", v), nil
	}

	if v, ok := r.GetVariable(expr); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: variable %s is not defined", ErrUnresolved, expr)
}

// ResolveAll resolves every value of values
func (r *Resolver) ResolveAll(values map[string]string) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}
	var errs []error
	result := make(map[string]string, len(values))
	for k, v := range values {
		resolved, err := r.Resolve(v)
		if err != nil {
			errs = append(errs, err)
		}
		result[k] = resolved
	}
	return result, errors.Join(errs...)
}

// UnresolvedVariables returns the variable names in input that are not
// defined, in order of appearance. Environment references and calls are
// not reported.
func (r *Resolver) UnresolvedVariables(input string) []string {
	var names []string
	for _, m := range variablePattern.FindAllStringSubmatch(input, -1) {
		expr := strings.TrimSpace(m[1])
		if strings.HasPrefix(expr, "$") || builtin.IsCall(expr) {
			continue
		}
		if _, ok := r.GetVariable(expr); !ok {
			names = append(names, expr)
		}
	}
	return names
}

func (r *Resolver) Clone() *Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewResolver()
	clone.lookupEnv = r.lookupEnv
	for k, v := range r.variables {
		clone.variables[k] = v
	}
	return clone
}
