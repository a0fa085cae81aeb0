// Package ontology loads and validates the entity-type and relation-predicate
// vocabulary that extraction (C4) and the graph store (C2) are constrained
// to, from a YAML file rather than hardcoded Go constants — so operators can
// extend the vocabulary for a deployment without a rebuild.
//
// Earlier prototypes of this registry parsed full RDF/OWL ontology files
// (classes, rdfs:subClassOf hierarchies, multilingual labels); this module
// keeps only the parts ingestion actually needs — a flat type/predicate
// vocabulary with an optional parent for hierarchy-aware matching — and
// loads them the way the rest of this codebase loads configuration: plain
// YAML, decoded with KnownFields enabled to catch typos early.
package ontology

// EntityTypeDef declares one entity type in the active ontology.
type EntityTypeDef struct {
	// Name is the type's identifier (e.g. "person", "organization", "location").
	Name string `yaml:"name"`

	// ParentType is an optional broader type this one specialises (e.g.
	// "city" might specialise "location"). Empty means top-level.
	ParentType string `yaml:"parent_type,omitempty"`

	// Description documents the type for prompt construction in C4.
	Description string `yaml:"description,omitempty"`
}

// RelationPredicateDef declares one curated relation predicate usable
// between two Entities (e.g. IS_A, HAS_A, LOCATED_IN, WORKS_FOR).
type RelationPredicateDef struct {
	// Name is the predicate identifier, conventionally upper-snake-case.
	Name string `yaml:"name"`

	// Description documents the predicate for prompt construction in C4.
	Description string `yaml:"description,omitempty"`
}

// File is the top-level structure of an ontology YAML file.
type File struct {
	EntityTypes []EntityTypeDef        `yaml:"entity_types"`
	Predicates  []RelationPredicateDef `yaml:"predicates"`
}
