// Package schema manages the data-shape definitions a store/ Directory can
// validate OrderedMap values against before an Upsert is allowed to
// succeed. Definitions are YAML files each carrying an IPLD Schema DSL body;
// the package loads them from a directory, lazily compiles each into an
// ipld-prime schema.TypeSystem, and validates candidate values against the
// compiled type.
package schema

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/datamodel"
	ipldschema "github.com/ipld/go-ipld-prime/schema"
	"gopkg.in/yaml.v3"

	"canon/ipldconv"
)

// Status is where a schema sits in its lifecycle. A schema moves
// draft -> active -> deprecated -> archived as it matures and ages out;
// Registry does not enforce transitions, callers decide when to move a
// definition's Status field and re-save its YAML file.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusArchived   Status = "archived"
)

// Definition is one schema's YAML-sourced metadata plus its IPLD Schema DSL
// body.
type Definition struct {
	ID          string `yaml:"id"`
	Version     string `yaml:"version"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Status      Status `yaml:"status"`
	Schema      string `yaml:"schema"`
}

// Registry loads schema definitions from a directory and validates
// candidate values against them, compiling each definition's IPLD Schema DSL
// body on first use.
type Registry struct {
	mu            sync.RWMutex
	definitions   map[string]*Definition
	compiledTypes map[string]*ipldschema.TypeSystem
	dir           string
}

// NewRegistry returns a Registry that will load schema files from dir.
// Call LoadSchemas to populate it.
func NewRegistry(dir string) *Registry {
	return &Registry{
		definitions:   make(map[string]*Definition),
		compiledTypes: make(map[string]*ipldschema.TypeSystem),
		dir:           dir,
	}
}

// LoadSchemas walks dir recursively, parsing every .yaml/.yml file as a
// Definition and compiling it eagerly so load-time errors surface before
// any data is validated against a broken schema.
func (r *Registry) LoadSchemas(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (!strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml")) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("schema: read %s: %w", path, err)
		}
		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("schema: parse %s: %w", path, err)
		}
		if err := r.validateDefinition(&def); err != nil {
			return fmt.Errorf("schema: invalid definition in %s: %w", path, err)
		}
		r.definitions[def.ID] = &def
		return nil
	})
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[id]
	if !ok {
		return nil, fmt.Errorf("schema: not found: %s", id)
	}
	return def, nil
}

// compiled returns id's compiled TypeSystem, compiling and caching it on
// first use (double-checked locking: a fast read-locked path for the common
// case, a write-locked compile-and-cache path the first time).
func (r *Registry) compiled(id string) (*ipldschema.TypeSystem, error) {
	r.mu.RLock()
	ts, ok := r.compiledTypes[id]
	r.mu.RUnlock()
	if ok {
		return ts, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.compiledTypes[id]; ok {
		return ts, nil
	}
	def, ok := r.definitions[id]
	if !ok {
		return nil, fmt.Errorf("schema: not found: %s", id)
	}
	ts, err := compile(def.Schema)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", id, err)
	}
	r.compiledTypes[id] = ts
	return ts, nil
}

// Validate checks data (typically a map[string]any produced by a caller
// assembling an upsert value, or ipldconv.ToMap of an existing node) against
// the named schema's root type.
func (r *Registry) Validate(id string, data any) error {
	ts, err := r.compiled(id)
	if err != nil {
		return err
	}
	var root ipldschema.Type
	for _, t := range ts.GetTypes() {
		root = t
		break
	}
	if root == nil {
		return fmt.Errorf("schema: %s has no types", id)
	}
	return validateAgainstType(root, data)
}

// List returns every loaded schema ID.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.definitions))
	for id := range r.definitions {
		out = append(out, id)
	}
	return out
}

// IsActive reports whether id is loaded and its Status is StatusActive.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[id]
	return ok && def.Status == StatusActive
}

// Reload drops every cached definition and compiled type and loads again
// from disk, picking up edits made to the schema files since the last load.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	r.definitions = make(map[string]*Definition)
	r.compiledTypes = make(map[string]*ipldschema.TypeSystem)
	r.mu.Unlock()
	return r.LoadSchemas(ctx)
}

func (r *Registry) validateDefinition(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("id is empty")
	}
	if def.Version == "" {
		return fmt.Errorf("version is empty")
	}
	if def.Schema == "" {
		return fmt.Errorf("schema body is empty")
	}
	switch def.Status {
	case StatusDraft, StatusActive, StatusDeprecated, StatusArchived:
	default:
		return fmt.Errorf("invalid status: %s", def.Status)
	}
	_, err := compile(def.Schema)
	return err
}

func compile(schemaText string) (*ipldschema.TypeSystem, error) {
	ts, err := ipld.LoadSchemaBytes([]byte(schemaText))
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	hasTypes := false
	for range ts.GetTypes() {
		hasTypes = true
		break
	}
	if !hasTypes {
		return nil, fmt.Errorf("schema defines no types")
	}
	return ts, nil
}

func validateAgainstType(typ ipldschema.Type, data any) error {
	switch typ.TypeKind() {
	case ipldschema.TypeKind_Struct:
		return validateStruct(typ, data)
	case ipldschema.TypeKind_String:
		if _, ok := data.(string); !ok {
			return fmt.Errorf("expected string, got %T", data)
		}
	case ipldschema.TypeKind_Bool:
		if _, ok := data.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", data)
		}
	case ipldschema.TypeKind_Int:
		switch data.(type) {
		case int, int8, int16, int32, int64:
		default:
			return fmt.Errorf("expected int, got %T", data)
		}
	case ipldschema.TypeKind_Float:
		switch data.(type) {
		case float32, float64:
		default:
			return fmt.Errorf("expected float, got %T", data)
		}
	case ipldschema.TypeKind_List:
		return validateList(typ, data)
	case ipldschema.TypeKind_Map:
		return validateMap(typ, data)
	}
	return nil
}

func validateStruct(typ ipldschema.Type, data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("expected map[string]any, got %T", data)
	}
	st, ok := typ.(*ipldschema.TypeStruct)
	if !ok {
		return fmt.Errorf("expected *schema.TypeStruct, got %T", typ)
	}
	for _, field := range st.Fields() {
		val, exists := m[field.Name()]
		if !exists {
			if !field.IsOptional() {
				return fmt.Errorf("required field missing: %s", field.Name())
			}
			continue
		}
		if err := validateAgainstType(field.Type(), val); err != nil {
			return fmt.Errorf("field %s: %w", field.Name(), err)
		}
	}
	return nil
}

func validateList(typ ipldschema.Type, data any) error {
	items, ok := data.([]any)
	if !ok {
		return fmt.Errorf("expected []any, got %T", data)
	}
	lt, ok := typ.(*ipldschema.TypeList)
	if !ok {
		return fmt.Errorf("expected *schema.TypeList, got %T", typ)
	}
	vt := lt.ValueType()
	for i, item := range items {
		if err := validateAgainstType(vt, item); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func validateMap(typ ipldschema.Type, data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("expected map[string]any, got %T", data)
	}
	mt, ok := typ.(*ipldschema.TypeMap)
	if !ok {
		return fmt.Errorf("expected *schema.TypeMap, got %T", typ)
	}
	vt := mt.ValueType()
	for k, v := range m {
		if err := validateAgainstType(vt, v); err != nil {
			return fmt.Errorf("key %s: %w", k, err)
		}
	}
	return nil
}

// ValidateNode converts an IPLD node to a plain value via ipldconv and
// validates it against the named schema, so callers holding a
// datamodel.Node (as store.Store does with an upsert value before storing
// it) don't have to convert by hand.
func (r *Registry) ValidateNode(id string, n datamodel.Node) error {
	v, err := ipldconv.ToInterface(n)
	if err != nil {
		return fmt.Errorf("schema: convert node: %w", err)
	}
	return r.Validate(id, v)
}
