package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/hitbatch/packages/assertions"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/config"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/env"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/inmemory"
)

// Extensions are the file extensions recognised as batch files
var Extensions = []string{".yaml", ".yml"}

// File is a parsed batch file.
type File struct {
	Name      string            `yaml:"name" validate:"required"`
	Variables map[string]string `yaml:"variables,omitempty" validate:"dive,keys,required,endkeys"`
	Auth      *Auth             `yaml:"auth,omitempty"`
	Requests  []Entry           `yaml:"requests" validate:"required,min=1,dive"`

	// Path is where the file was loaded from. It is empty for Parse.
	Path string `yaml:"-"`
}

// Entry is one request of a batch.
type Entry struct {
	Name     string            `yaml:"name" validate:"required"`
	Method   string            `yaml:"method,omitempty" validate:"omitempty,oneof=GET HEAD POST PUT PATCH DELETE get head post put patch delete"`
	URL      string            `yaml:"url" validate:"required,template_url"`
	Headers  map[string]string `yaml:"headers,omitempty" validate:"dive,keys,required,endkeys"`
	Body     string            `yaml:"body,omitempty"`
	Compress bool              `yaml:"compress,omitempty"`
	Expect   *Expect           `yaml:"expect,omitempty"`
}

// Expect holds the expectations of an entry. Without an explicit status a
// response passes only with a 2xx code. Body expectations need a 2xx
// response, the body of any other status is not kept.
type Expect struct {
	Status int            `yaml:"status,omitempty" validate:"omitempty,gte=100,lte=599"`
	JSON   map[string]any `yaml:"json,omitempty"`
	Body   []Check        `yaml:"body,omitempty" validate:"dive"`
	Schema string         `yaml:"schema,omitempty"`

	// Snapshot names a recorded copy of the body to compare against.
	Snapshot string `yaml:"snapshot,omitempty" validate:"omitempty,excludes=::"`
}

// Check is a single body expectation. An empty path addresses the whole
// body.
type Check struct {
	Path  string `yaml:"path,omitempty"`
	Op    string `yaml:"op" validate:"required"`
	Value any    `yaml:"value,omitempty"`
}

// IsBatchFile reports whether path has a batch file extension
func IsBatchFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ParseFile reads and validates the batch file at path
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Parse decodes and validates a batch file
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the structure of the file and every operator it uses.
func (f *File) Validate() error {
	if err := config.ValidateStruct(f); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	var errs []error
	for i, e := range f.Requests {
		if e.Expect == nil {
			continue
		}
		for j, c := range e.Expect.Body {
			if _, err := assertions.ParseOperator(c.Op); err != nil {
				errs = append(errs, fmt.Errorf("requests[%d].expect.body[%d]: %w", i, j, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid batch: %w", errors.Join(errs...))
	}
	return nil
}

// snapshotFile is the path snapshots of f are stored under
func (f *File) snapshotFile() string {
	if f.Path != "" {
		return f.Path
	}
	return f.Name + Extensions[0]
}

// BaseDir is the directory schema files are resolved against
func (f *File) BaseDir() string {
	if f.Path == "" {
		return "."
	}
	return filepath.Dir(f.Path)
}

// Resolve returns a copy of f with the templates in every url, header and
// body expanded, and in the auth section. File variables are defined first,
// without overriding those already known to r. An entry that fails to
// resolve keeps its error in the same slot; variable and auth errors fail
// every entry they affect.
func (f *File) Resolve(r *env.Resolver) (*File, []error) {
	r = r.Clone()

	names := make([]string, 0, len(f.Variables))
	for k := range f.Variables {
		names = append(names, k)
	}
	sort.Strings(names)

	var varErrs []error
	for _, k := range names {
		if _, ok := r.GetVariable(k); ok {
			continue
		}
		v, err := r.Resolve(f.Variables[k])
		if err != nil {
			varErrs = append(varErrs, fmt.Errorf("variables.%s: %w", k, err))
		}
		r.SetVariable(k, v)
	}

	out := *f
	var authErr error
	if f.Auth != nil {
		out.Auth, authErr = f.Auth.resolve(r)
	}

	out.Requests = make([]Entry, len(f.Requests))
	errs := make([]error, len(f.Requests))
	for i, e := range f.Requests {
		var entryErrs []error
		if u, err := r.Resolve(e.URL); err != nil {
			entryErrs = append(entryErrs, fmt.Errorf("url: %w", err))
		} else {
			e.URL = u
		}
		if h, err := r.ResolveAll(e.Headers); err != nil {
			entryErrs = append(entryErrs, fmt.Errorf("headers: %w", err))
		} else {
			e.Headers = h
		}
		if b, err := r.Resolve(e.Body); err != nil {
			entryErrs = append(entryErrs, fmt.Errorf("body: %w", err))
		} else {
			e.Body = b
		}

		if authErr != nil {
			entryErrs = append(entryErrs, authErr)
		}
		if len(entryErrs) > 0 {
			errs[i] = errors.Join(entryErrs...)
		}
		out.Requests[i] = e
	}
	if len(varErrs) > 0 {
		for i := range errs {
			if errs[i] != nil {
				errs[i] = errors.Join(errors.Join(varErrs...), errs[i])
			}
		}
	}
	return &out, errs
}

// BuildRequest creates the in-memory request of an entry. A missing method
// defaults to GET.
func (e *Entry) BuildRequest() (*inmemory.Request, error) {
	method := hhttp.MethodGet
	if e.Method != "" {
		m, err := hhttp.ParseMethod(e.Method)
		if err != nil {
			return nil, err
		}
		method = m
	}

	var body []byte
	if e.Body != "" {
		body = []byte(e.Body)
	}

	return inmemory.Create(e.URL, method, hhttp.FromMap(e.Headers), body, e.Compress)
}

// Assertions converts the expectations into assertions, in a stable order:
// status, json paths sorted by path, body checks, schema.
func (e *Entry) Assertions() []*assertions.Assertion {
	if e.Expect == nil {
		return nil
	}
	exp := e.Expect

	var list []*assertions.Assertion
	if exp.Status != 0 {
		list = append(list, &assertions.Assertion{Subject: "status", Operator: assertions.OpEquals, Expected: exp.Status})
	}

	paths := make([]string, 0, len(exp.JSON))
	for p := range exp.JSON {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		list = append(list, &assertions.Assertion{Subject: bodySubject(p), Operator: assertions.OpEquals, Expected: exp.JSON[p]})
	}

	for _, c := range exp.Body {
		// Operators were checked by Validate.
		op, _ := assertions.ParseOperator(c.Op)
		list = append(list, &assertions.Assertion{Subject: bodySubject(c.Path), Operator: op, Expected: c.Value})
	}

	if exp.Schema != "" {
		list = append(list, &assertions.Assertion{Subject: "body", Operator: assertions.OpSchema, Expected: exp.Schema})
	}
	return list
}

func bodySubject(path string) string {
	if path == "" {
		return "body"
	}
	return "body." + path
}

// BuildRequests creates the request of every entry, in order. A failed
// entry leaves a nil request and its error in the same slot.
func BuildRequests(f *File) ([]*inmemory.Request, []error) {
	reqs := make([]*inmemory.Request, len(f.Requests))
	errs := make([]error, len(f.Requests))
	for i := range f.Requests {
		reqs[i], errs[i] = f.Requests[i].BuildRequest()
	}
	return reqs, errs
}
