// Package graph defines the property-graph memory store used by the write
// coordinator (C7), the forgetting scheduler (C9) and the retriever (C10):
// a tenant-scoped graph of Dialogues, Chunks, Statements, Entities and
// MemorySummaries connected by a fixed set of typed edges.
//
// The graph is exposed as a narrow [Store] interface so that alternative
// backends (Postgres/pgvector, or an in-memory fake for tests) can be
// supplied without the rest of the engine depending on storage internals.
//
// Every implementation must be safe for concurrent use.
package graph

import "time"

// Label identifies which node table a query targets.
type Label string

const (
	LabelDialogue Label = "dialogue"
	LabelChunk    Label = "chunk"
	LabelStatement Label = "statement"
	LabelEntity   Label = "entity"
	LabelSummary  Label = "summary"
)

// StatementType classifies the kind of proposition a [Statement] records.
type StatementType string

const (
	StmtFact       StatementType = "FACT"
	StmtOpinion    StatementType = "OPINION"
	StmtPrediction StatementType = "PREDICTION"
	StmtEvent      StatementType = "EVENT"
)

// TemporalInfo classifies how long a [Statement] is expected to remain valid.
type TemporalInfo string

const (
	TemporalStatic   TemporalInfo = "STATIC"
	TemporalDynamic  TemporalInfo = "DYNAMIC"
	TemporalAtemporal TemporalInfo = "ATEMPORAL"
)

// SummaryType classifies a [MemorySummary].
type SummaryType string

const (
	SummaryConversation  SummaryType = "conversation"
	SummaryProjectWork   SummaryType = "project_work"
	SummaryLearning      SummaryType = "learning"
	SummaryDecision      SummaryType = "decision"
	SummaryImportantEvent SummaryType = "important_event"
)

// FarFuture is the sentinel used for node/edge fields that have no known
// expiry or invalidation time.
var FarFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Dialogue is one ingested conversation turn set, owning one or more Chunks.
// Dialogues are created once and never mutated.
type Dialogue struct {
	ID          string
	EndUserID   string
	ConfigID    string
	RefID       string
	Content     string
	Embedding   []float32
	CreatedAt   time.Time
	ExpiredAt   time.Time
	RunID       string
}

// Chunk is a single speaker turn, or a sub-turn produced when a turn exceeds
// the configured chunk size. Chunks are immutable once written.
type Chunk struct {
	ID            string
	EndUserID     string
	ConfigID      string
	DialogueID    string
	Content       string
	Speaker       string
	SequenceIndex int
	Embedding     []float32
	CreatedAt     time.Time
	ExpiredAt     time.Time
	RunID         string
}

// Statement is an atomic, typed, timed proposition extracted from a Chunk.
type Statement struct {
	ID               string
	EndUserID        string
	ConfigID         string
	Statement        string
	StmtType         StatementType
	TemporalInfo     TemporalInfo
	ValidAt          time.Time
	InvalidAt        time.Time
	EmotionType      string
	EmotionIntensity float64
	ActivationValue  float64
	ImportanceScore  float64
	AccessHistory    []time.Time
	LastAccessedAt   time.Time
	Embedding        []float32
	ChunkID          string
	CreatedAt        time.Time
	ExpiredAt        time.Time
	RunID            string
}

// Entity is a named, typed reference recognised in one or more Statements.
type Entity struct {
	ID               string
	EndUserID        string
	ConfigID         string
	Name             string
	EntityType       string
	Description      string
	FactSummary      string
	ActivationValue  float64
	ImportanceScore  float64
	AccessHistory    []time.Time
	LastAccessedAt   time.Time
	NameEmbedding    []float32
	IsExplicitMemory bool
	CreatedAt        time.Time
	ExpiredAt        time.Time
	RunID            string
}

// EntityRelation is a directed, typed edge between two Entities.
type EntityRelation struct {
	SourceID  string
	TargetID  string
	Predicate string
	Value     string
	ValidAt   time.Time
	InvalidAt time.Time
	Statement string
	CreatedAt time.Time
}

// StatementEntityEdge links a Statement to an Entity it mentions
// (REFERENCES_ENTITY).
type StatementEntityEdge struct {
	StatementID string
	EntityID    string
}

// MemorySummary is an episodic consolidation of Chunks and/or merged
// low-activation Statement+Entity pairs.
type MemorySummary struct {
	ID          string
	EndUserID   string
	ConfigID    string
	Name        string
	MemoryType  SummaryType
	Content     string
	Embedding   []float32
	ChunkIDs    []string
	StatementIDs []string
	CreatedAt   time.Time
	ExpiredAt   time.Time
	RunID       string
}

// DialogueBundle is the flat, value-typed payload produced by the ingestion
// pipeline (C3-C6) for a single dialogue write. All in-process relationships
// are expressed as ids, never pointers; [Store.WriteDialogueBatch] turns the
// bundle into one batched transaction.
type DialogueBundle struct {
	Dialogue              Dialogue
	Chunks                []Chunk
	Statements             []Statement
	Entities               []Entity
	EntityRelations        []EntityRelation
	StatementEntityEdges   []StatementEntityEdge
	Summaries              []MemorySummary
	SummaryChunkEdges      map[string][]string // summary id -> chunk ids
	SummaryStatementEdges  map[string][]string // summary id -> statement ids
}

// SearchHit is a single ranked result from [Store.SearchKeyword],
// [Store.SearchVector] or [Store.SearchTemporal]. Exactly one of the
// pointer fields is non-nil, matching Label.
type SearchHit struct {
	Label     Label
	Score     float64
	Dialogue  *Dialogue
	Chunk     *Chunk
	Statement *Statement
	Entity    *Entity
	Summary   *MemorySummary
}

// ForgettablePair is a candidate Statement+Entity pair returned by
// [Store.ListForgettablePairs] for C9 to consider merging into a summary.
type ForgettablePair struct {
	Statement      Statement
	Entity         Entity
	MeanActivation float64
}

// SummaryDetail is a MemorySummary together with every Statement reachable
// via its DERIVED_FROM_STATEMENT edges and every Entity those Statements
// reference via REFERENCES_ENTITY, for the episodic detail view (C15).
type SummaryDetail struct {
	Summary    MemorySummary
	Statements []Statement
	Entities   []Entity
}
