package ontology

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Registry is the loaded, queryable vocabulary of entity types and relation
// predicates for one deployment.
//
// Registry is read-only after [Load] returns and is safe for concurrent use.
type Registry struct {
	types      map[string]EntityTypeDef
	hierarchy  map[string][]string // parent type name -> child type names
	predicates map[string]RelationPredicateDef

	// SourceFiles lists every file merged into this Registry, in merge
	// order: this Registry's own file first, later merged files after it.
	SourceFiles []string
}

// Load reads and parses an ontology YAML file from disk.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ontology: open %q: %w", path, err)
	}
	defer f.Close()

	r, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("ontology: parse %q: %w", path, err)
	}
	r.SourceFiles = []string{path}
	return r, nil
}

// LoadFromReader parses ontology YAML from r.
func LoadFromReader(r io.Reader) (*Registry, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("ontology: decode yaml: %w", err)
	}

	reg := &Registry{
		types:      make(map[string]EntityTypeDef, len(file.EntityTypes)),
		hierarchy:  make(map[string][]string),
		predicates: make(map[string]RelationPredicateDef, len(file.Predicates)),
	}

	for _, t := range file.EntityTypes {
		if t.Name == "" {
			return nil, fmt.Errorf("ontology: entity type with empty name")
		}
		reg.types[t.Name] = t
		if t.ParentType != "" {
			reg.hierarchy[t.ParentType] = append(reg.hierarchy[t.ParentType], t.Name)
		}
	}
	for _, p := range file.Predicates {
		if p.Name == "" {
			return nil, fmt.Errorf("ontology: predicate with empty name")
		}
		reg.predicates[p.Name] = p
	}

	return reg, nil
}

// ValidEntityType reports whether entityType is a recognised type name.
func (r *Registry) ValidEntityType(entityType string) bool {
	_, ok := r.types[entityType]
	return ok
}

// ValidPredicate reports whether predicate is a recognised relation kind.
func (r *Registry) ValidPredicate(predicate string) bool {
	_, ok := r.predicates[predicate]
	return ok
}

// EntityType returns the definition for name and whether it exists.
func (r *Registry) EntityType(name string) (EntityTypeDef, bool) {
	t, ok := r.types[name]
	return t, ok
}

// EntityTypes returns every registered entity type, order not guaranteed.
func (r *Registry) EntityTypes() []EntityTypeDef {
	out := make([]EntityTypeDef, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	return out
}

// Predicates returns every registered relation predicate, order not guaranteed.
func (r *Registry) Predicates() []RelationPredicateDef {
	out := make([]RelationPredicateDef, 0, len(r.predicates))
	for _, p := range r.predicates {
		out = append(out, p)
	}
	return out
}

// Children returns the direct subtypes of parent, or nil if parent has none.
func (r *Registry) Children(parent string) []string {
	return r.hierarchy[parent]
}

// Merge folds other's types and predicates into r. Entries already present
// in r are kept — the first-loaded registry wins on name collisions, so
// later registries only add entries, never override them.
func (r *Registry) Merge(other *Registry) {
	if other == nil {
		return
	}
	for name, t := range other.types {
		if _, exists := r.types[name]; !exists {
			r.types[name] = t
			if t.ParentType != "" {
				r.hierarchy[t.ParentType] = append(r.hierarchy[t.ParentType], name)
			}
		}
	}
	for name, p := range other.predicates {
		if _, exists := r.predicates[name]; !exists {
			r.predicates[name] = p
		}
	}
	r.SourceFiles = append(r.SourceFiles, other.SourceFiles...)
}
