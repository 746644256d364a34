package assertions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// compiled inline schemas, keyed by source. Files are read on every use
// so edits are picked up in watch mode.
var inlineSchemas sync.Map

// schema validates the raw body. expected is either an inline JSON schema
// or a path to a schema file inside the base directory.
func (e *Evaluator) schema(expected any) (bool, string) {
	if e.response == nil {
		return false, "no response body to validate"
	}

	s, err := e.loadSchema(strings.TrimSpace(str(expected)))
	if err != nil {
		return false, err.Error()
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(e.response.Body))
	if err != nil {
		return false, fmt.Sprintf("schema validation error: %v", err)
	}
	if result.Valid() {
		return true, ""
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return false, fmt.Sprintf("schema validation failed: %s", strings.Join(msgs, "; "))
}

func (e *Evaluator) loadSchema(src string) (*gojsonschema.Schema, error) {
	if !strings.HasPrefix(src, "{") {
		path, err := e.schemaPath(src)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %v", err)
		}
		return compileSchema(gojsonschema.NewBytesLoader(data))
	}

	if cached, ok := inlineSchemas.Load(src); ok {
		return cached.(*gojsonschema.Schema), nil
	}
	s, err := compileSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, err
	}
	inlineSchemas.Store(src, s)
	return s, nil
}

func compileSchema(loader gojsonschema.JSONLoader) (*gojsonschema.Schema, error) {
	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %v", err)
	}
	return s, nil
}

// schemaPath resolves name against the base directory and refuses paths
// that leave it.
func (e *Evaluator) schemaPath(name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) && e.baseDir != "" {
		path = filepath.Join(e.baseDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %v", err)
	}
	if e.baseDir == "" {
		return abs, nil
	}

	base, err := filepath.Abs(e.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %v", err)
	}
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s is outside allowed directory %s", name, e.baseDir)
	}
	return abs, nil
}
