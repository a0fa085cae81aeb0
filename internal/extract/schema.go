package extract

import "encoding/json"

// rawStatement is the wire shape of one extracted statement, as the LLM
// returns it against extractionSchema.
type rawStatement struct {
	Statement        string         `json:"statement"`
	StmtType         string         `json:"stmt_type"`
	TemporalInfo     string         `json:"temporal_info"`
	ValidAt          string         `json:"valid_at,omitempty"`
	InvalidAt        string         `json:"invalid_at,omitempty"`
	EmotionType      string         `json:"emotion_type,omitempty"`
	EmotionIntensity float64        `json:"emotion_intensity,omitempty"`
	Entities         []rawEntityRef `json:"entities"`
}

// rawEntityRef is one entity mention attached to a rawStatement. Index is
// the mention's position in the statement's entity list and is reused by
// rawRelation.SubjectIdx/ObjectIdx to reference the same entity without
// requiring the model to invent stable ids.
type rawEntityRef struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description,omitempty"`
}

// rawRelation is one extracted entity-entity relation.
type rawRelation struct {
	SubjectIdx int    `json:"subject_idx"`
	ObjectIdx  int    `json:"object_idx"`
	Predicate  string `json:"predicate"`
	Value      string `json:"value,omitempty"`
	ValidAt    string `json:"valid_at,omitempty"`
	InvalidAt  string `json:"invalid_at,omitempty"`
	Statement  string `json:"statement,omitempty"`
}

// rawExtraction is the full decoded shape of one ChatStructured response.
type rawExtraction struct {
	Statements []rawStatement `json:"statements"`
	Relations  []rawRelation  `json:"relations"`
}

func unmarshalExtraction(data []byte, out *rawExtraction) error {
	return json.Unmarshal(data, out)
}

// extractionSchema is the JSON Schema document passed as
// [llm.StructuredRequest.Schema], constraining the model's output shape.
// entity_type and predicate values are constrained in prose via the system
// prompt (built from the live ontology registry) rather than baked into the
// schema's enum, since the registry can be hot-reloaded independently of
// this package.
func extractionSchema() map[string]any {
	entityRef := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"index":       map[string]any{"type": "integer"},
			"name":        map[string]any{"type": "string"},
			"entity_type": map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
		},
		"required": []string{"index", "name", "entity_type"},
	}

	statement := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"statement":         map[string]any{"type": "string"},
			"stmt_type":         map[string]any{"type": "string", "enum": []string{"FACT", "OPINION", "PREDICTION", "EVENT"}},
			"temporal_info":     map[string]any{"type": "string", "enum": []string{"STATIC", "DYNAMIC", "ATEMPORAL"}},
			"valid_at":          map[string]any{"type": "string"},
			"invalid_at":        map[string]any{"type": "string"},
			"emotion_type":      map[string]any{"type": "string"},
			"emotion_intensity": map[string]any{"type": "number"},
			"entities":          map[string]any{"type": "array", "items": entityRef},
		},
		"required": []string{"statement", "stmt_type", "temporal_info", "entities"},
	}

	relation := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subject_idx": map[string]any{"type": "integer"},
			"object_idx":  map[string]any{"type": "integer"},
			"predicate":   map[string]any{"type": "string"},
			"value":       map[string]any{"type": "string"},
			"valid_at":    map[string]any{"type": "string"},
			"invalid_at":  map[string]any{"type": "string"},
			"statement":   map[string]any{"type": "string"},
		},
		"required": []string{"subject_idx", "object_idx", "predicate"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"statements": map[string]any{"type": "array", "items": statement},
			"relations":  map[string]any{"type": "array", "items": relation},
		},
		"required": []string{"statements", "relations"},
	}
}
