// Package readgraph implements the read-graph runtime: the stateful
// dataflow that turns a natural-language query into a grounded answer.
//
// Grounded on the reference's langgraph node graph
// (agent/langgraph_graph/nodes/{problem_nodes,summary_nodes}.py): Route
// picks a search strategy, SplitProblem/ExpandProblem decompose a deep
// query into sub-questions and rephrasings, HybridSearch fans out C10
// calls, Verify discards unsupported evidence, and Summarise composes the
// final answer from whatever survives. Each node is a pure function over an
// immutable [readState] value — copy-on-update, never mutated in place —
// generalising the reference's own staged-state graph into a single Go
// call chain instead of a node-registry/edge-table interpreter, since this
// engine's pipeline shape never varies at runtime.
package readgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/memorybear/engine/internal/activation"
	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/internal/retrieval"
	"github.com/memorybear/engine/internal/sessionstore"
	"github.com/memorybear/engine/pkg/graph"
	"github.com/memorybear/engine/pkg/types"
)

// SearchSwitch selects one of the three read strategies a caller may
// request. The numbering follows this module's own read API, not the
// reference's (which assigns verification to its deep-search mode); see
// DESIGN.md for the discrepancy.
type SearchSwitch int

const (
	// SwitchFast searches summaries only and verifies retrieved statements
	// (a no-op when, as usual, the evidence set contains no statements).
	SwitchFast SearchSwitch = iota
	// SwitchDeep decomposes the query into sub-questions, expands each into
	// rephrasings, and hybrid-searches every rephrasing — the most thorough
	// and most expensive mode.
	SwitchDeep
	// SwitchQuick runs a single hybrid search over the verbatim query,
	// skipping decomposition and verification.
	SwitchQuick
)

// Request is one read-graph invocation.
type Request struct {
	EndUserID string
	// ApplyID scopes the session buffer; defaults to EndUserID when empty.
	ApplyID      string
	Query        string
	SearchSwitch SearchSwitch
	ConfigID     string

	// StorageType and UserRAGMemoryID are opaque tags threaded through to
	// the caller via ReadResult without affecting retrieval; the collaborator
	// owning a result's storage destination interprets them.
	StorageType     string
	UserRAGMemoryID string
}

// IntermediateOutput is one frame of the streamed event sequence.
type IntermediateOutput struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// ReadResult is ReadMemory's return value.
type ReadResult struct {
	Answer              string
	IntermediateOutputs []IntermediateOutput
	EndUserID           string
	// Truncated is true when the caller's context was done by the time the
	// answer was composed; the read is then not persisted, and Answer
	// reflects only the evidence gathered before cancellation.
	Truncated bool
}

const insufficientInfoAnswer = "Insufficient information to answer."

const defaultSubQuestionConcurrency = 5

// Runtime wires the read-graph dataflow to its dependencies: C10 for
// retrieval, an LLM for decomposition/verification/summarisation, the
// Session Store for history and persistence, and the graph store for
// post-answer activation updates.
type Runtime struct {
	retriever   retrieval.Retriever
	model       llm.LLM
	sessions    sessionstore.Store
	store       graph.Store
	actCfg      atomic.Pointer[activation.Config]
	subQConc    int64
	historySize int
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithSubQuestionConcurrency bounds how many sub-question retrievals run
// concurrently. Default: 5.
func WithSubQuestionConcurrency(n int64) Option {
	return func(r *Runtime) { r.subQConc = n }
}

// WithActivationConfig overrides the activation tuning applied when
// recording evidence access. Default: [activation.DefaultConfig].
func WithActivationConfig(cfg activation.Config) Option {
	return func(r *Runtime) { r.actCfg.Store(&cfg) }
}

// SetActivationConfig atomically replaces the activation tuning applied to
// subsequent evidence-access recordings and forgetting-curve projections.
// Safe to call concurrently with in-flight ReadMemory calls, letting a
// config hot-reload take effect without restarting the runtime.
func (r *Runtime) SetActivationConfig(cfg activation.Config) {
	r.actCfg.Store(&cfg)
}

// ActivationConfig returns the currently active activation tuning.
func (r *Runtime) ActivationConfig() activation.Config {
	return *r.actCfg.Load()
}

// WithHistorySize bounds how many recent session turns are pulled into the
// Summarise node's prompt. Default: 10.
func WithHistorySize(n int) Option {
	return func(r *Runtime) { r.historySize = n }
}

// New constructs a Runtime from its stage dependencies.
func New(retriever retrieval.Retriever, model llm.LLM, sessions sessionstore.Store, store graph.Store, opts ...Option) *Runtime {
	r := &Runtime{
		retriever:   retriever,
		model:       model,
		sessions:    sessions,
		store:       store,
		subQConc:    defaultSubQuestionConcurrency,
		historySize: 10,
	}
	defaultCfg := activation.DefaultConfig()
	r.actCfg.Store(&defaultCfg)
	for _, o := range opts {
		o(r)
	}
	return r
}

// ReadMemory runs the full read-graph dataflow for req and returns the
// composed answer plus every intermediate event emitted along the way.
func (r *Runtime) ReadMemory(ctx context.Context, req Request) (*ReadResult, error) {
	var events []IntermediateOutput
	st, err := r.run(ctx, req, func(ev IntermediateOutput) { events = append(events, ev) })
	if err != nil {
		return nil, err
	}
	return &ReadResult{
		Answer:              st.answer,
		IntermediateOutputs: events,
		EndUserID:           req.EndUserID,
		Truncated:           st.truncated,
	}, nil
}

// readState is the dataflow's copy-on-update value. Every node function
// takes the previous state by value and returns a new one; no node mutates
// a slice or map it did not itself allocate.
type readState struct {
	req          Request
	subQuestions []subQuestion
	expansions   map[string][]string // sub-question id -> rephrasings
	evidence     []retrieval.Hit
	verified     []retrieval.Hit
	answer       string
	truncated    bool
}

type subQuestion struct {
	ID       string
	Question string
	Type     string
	Reason   string
}

// route normalises req: an unrecognised SearchSwitch falls back to
// SwitchQuick, and a missing ApplyID defaults to EndUserID. The switch value
// itself is caller-supplied (see the Read API's search_switch parameter)
// rather than computed here — Route's job is validation, not choice.
func route(req Request) Request {
	if req.ApplyID == "" {
		req.ApplyID = req.EndUserID
	}
	switch req.SearchSwitch {
	case SwitchFast, SwitchDeep, SwitchQuick:
	default:
		req.SearchSwitch = SwitchQuick
	}
	return req
}

// run executes every node in sequence, invoking emit for each intermediate
// event as it is produced. Returns the final state so ReadMemory and the
// streaming variant can share one pipeline implementation.
func (r *Runtime) run(ctx context.Context, req Request, emit func(IntermediateOutput)) (*readState, error) {
	st := &readState{req: route(req)}

	if req.SearchSwitch == SwitchDeep {
		st = r.splitProblem(ctx, st, emit)
		st = r.expandProblem(ctx, st, emit)
	}

	st = r.hybridSearch(ctx, st, emit)

	if req.SearchSwitch == SwitchFast {
		st = r.verify(ctx, st, emit)
	} else {
		st.verified = st.evidence
	}

	st = r.summarise(ctx, st, emit)

	if ctx.Err() != nil {
		st.truncated = true
		return st, nil
	}
	if err := r.persist(ctx, st); err != nil {
		slog.Warn("readgraph: persist failed", "end_user_id", req.EndUserID, "error", err)
	}
	return st, nil
}

// splitProblemSchema is the JSON Schema constraining the decomposition call.
func splitProblemSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sub_questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
						"type":     map[string]any{"type": "string"},
						"reason":   map[string]any{"type": "string"},
					},
					"required": []string{"question", "type", "reason"},
				},
			},
		},
		"required": []string{"sub_questions"},
	}
}

const splitProblemPrompt = `Decompose the user's question into a small set of
focused sub-questions that together cover everything needed to answer it.
Classify each sub-question's type as one of: factual, temporal, definitional,
causal, comparative. Give a one-sentence reason for including it.`

// splitProblem decomposes req.Query into sub-questions, emitting a
// "problem_split" event. On LLM failure the state is left with no
// sub-questions, which collapses HybridSearch to a single search over the
// original query — degrading gracefully rather than failing the read.
func (r *Runtime) splitProblem(ctx context.Context, st *readState, emit func(IntermediateOutput)) *readState {
	next := *st

	resp, err := r.model.ChatStructured(ctx, llm.StructuredRequest{
		Messages:     []types.Message{{Role: "user", Content: st.req.Query}},
		SystemPrompt: splitProblemPrompt,
		Schema:       splitProblemSchema(),
		SchemaName:   "problem_split",
		Temperature:  0.2,
	})
	if err != nil {
		slog.Warn("readgraph: split_problem failed, falling back to a single search", "error", err)
		emit(IntermediateOutput{Type: "problem_split", Title: "Problem split", Error: err.Error()})
		return &next
	}

	var raw struct {
		SubQuestions []struct {
			Question string `json:"question"`
			Type     string `json:"type"`
			Reason   string `json:"reason"`
		} `json:"sub_questions"`
	}
	if err := json.Unmarshal(resp.JSON, &raw); err != nil {
		slog.Warn("readgraph: split_problem: decode response failed", "error", err)
		emit(IntermediateOutput{Type: "problem_split", Title: "Problem split", Error: err.Error()})
		return &next
	}

	subs := make([]subQuestion, len(raw.SubQuestions))
	for i, q := range raw.SubQuestions {
		subs[i] = subQuestion{ID: fmt.Sprintf("Q%d", i+1), Question: q.Question, Type: q.Type, Reason: q.Reason}
	}
	next.subQuestions = subs

	emit(IntermediateOutput{Type: "problem_split", Title: "Problem split", Data: subs})
	return &next
}

func expandProblemSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expansions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"sub_question_id":   map[string]any{"type": "string"},
						"extended_question": map[string]any{"type": "string"},
					},
					"required": []string{"sub_question_id", "extended_question"},
				},
			},
		},
		"required": []string{"expansions"},
	}
}

const expandProblemPrompt = `For each numbered sub-question, produce 1-3
alternative phrasings that would retrieve the same information under
different wording (synonyms, rephrased questions, related terms). Tag each
rephrasing with the sub_question_id it belongs to.`

// expandProblem rephrases each sub-question, emitting a "problem_extension"
// event. Sub-questions with no surviving expansion still search under their
// own verbatim text in hybridSearch.
func (r *Runtime) expandProblem(ctx context.Context, st *readState, emit func(IntermediateOutput)) *readState {
	next := *st
	if len(st.subQuestions) == 0 {
		return &next
	}

	var prompt strings.Builder
	for _, q := range st.subQuestions {
		fmt.Fprintf(&prompt, "%s: %s\n", q.ID, q.Question)
	}

	resp, err := r.model.ChatStructured(ctx, llm.StructuredRequest{
		Messages:     []types.Message{{Role: "user", Content: prompt.String()}},
		SystemPrompt: expandProblemPrompt,
		Schema:       expandProblemSchema(),
		SchemaName:   "problem_extension",
		Temperature:  0.4,
	})
	if err != nil {
		slog.Warn("readgraph: expand_problem failed, searching verbatim sub-questions only", "error", err)
		emit(IntermediateOutput{Type: "problem_extension", Title: "Problem extension", Error: err.Error()})
		return &next
	}

	var raw struct {
		Expansions []struct {
			SubQuestionID     string `json:"sub_question_id"`
			ExtendedQuestion string `json:"extended_question"`
		} `json:"expansions"`
	}
	if err := json.Unmarshal(resp.JSON, &raw); err != nil {
		slog.Warn("readgraph: expand_problem: decode response failed", "error", err)
		emit(IntermediateOutput{Type: "problem_extension", Title: "Problem extension", Error: err.Error()})
		return &next
	}

	expansions := make(map[string][]string, len(st.subQuestions))
	for _, e := range raw.Expansions {
		expansions[e.SubQuestionID] = append(expansions[e.SubQuestionID], e.ExtendedQuestion)
	}
	next.expansions = expansions

	emit(IntermediateOutput{Type: "problem_extension", Title: "Problem extension", Data: expansions})
	return &next
}

// searchUnit is one hybrid-search call HybridSearch issues.
type searchUnit struct {
	subQuestionID string
	text          string
	labels        []graph.Label
}

// hybridSearch builds the set of search units for the current mode, runs
// them concurrently bounded by a semaphore, and unions the resulting
// evidence. Per-unit failures are logged and skipped rather than failing
// the whole read.
func (r *Runtime) hybridSearch(ctx context.Context, st *readState, emit func(IntermediateOutput)) *readState {
	next := *st
	units := st.searchUnits()

	sem := semaphore.NewWeighted(r.subQConc)
	results := make([][]retrieval.Hit, len(units))

	var g errgroup.Group
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			hits, err := r.retriever.Retrieve(ctx, retrieval.Query{
				EndUserID: st.req.EndUserID,
				Text:      u.text,
				Mode:      retrieval.ModeHybrid,
				Labels:    u.labels,
				K:         10,
			})
			if err != nil {
				slog.Warn("readgraph: hybrid search failed for a unit, skipping",
					"sub_question_id", u.subQuestionID, "error", err)
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	next.evidence = dedupeHits(results)

	emit(IntermediateOutput{Type: "retrieval_summary", Title: "Retrieval summary", Data: map[string]any{
		"units_searched": len(units),
		"hits_found":     len(next.evidence),
	}})
	return &next
}

// searchUnits returns one unit per (sub-question, expansion) pair in deep
// mode, or a single unit over the verbatim query otherwise. Fast mode
// restricts its unit to summary nodes only.
func (st *readState) searchUnits() []searchUnit {
	if st.req.SearchSwitch == SwitchDeep && len(st.subQuestions) > 0 {
		units := make([]searchUnit, 0, len(st.subQuestions))
		for _, q := range st.subQuestions {
			units = append(units, searchUnit{subQuestionID: q.ID, text: q.Question})
			for _, exp := range st.expansions[q.ID] {
				units = append(units, searchUnit{subQuestionID: q.ID, text: exp})
			}
		}
		return units
	}

	labels := []graph.Label{}
	if st.req.SearchSwitch == SwitchFast {
		labels = []graph.Label{graph.LabelSummary}
	}
	return []searchUnit{{subQuestionID: "", text: st.req.Query, labels: labels}}
}

// dedupeHits flattens per-unit result slices, keeping the first (highest
// per-unit ranked) occurrence of each evidence id.
func dedupeHits(results [][]retrieval.Hit) []retrieval.Hit {
	seen := make(map[string]struct{})
	var merged []retrieval.Hit
	for _, hits := range results {
		for _, h := range hits {
			id := hitID(h)
			if id == "" {
				merged = append(merged, h)
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, h)
		}
	}
	return merged
}

func hitID(h retrieval.Hit) string {
	switch h.Label {
	case graph.LabelDialogue:
		return h.Dialogue.ID
	case graph.LabelChunk:
		return h.Chunk.ID
	case graph.LabelStatement:
		return h.Statement.ID
	case graph.LabelEntity:
		return h.Entity.ID
	case graph.LabelSummary:
		return h.Summary.ID
	default:
		return ""
	}
}

func verifySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"supported": map[string]any{"type": "boolean"},
		},
		"required": []string{"supported"},
	}
}

const verifyPrompt = `A statement was retrieved as candidate evidence for a
question. Check whether the statement is actually supported by its source
chunk text. Answer supported=false if the chunk does not contain or imply
the statement.`

// verify checks every retrieved Statement against its ChunkID's content
// (fetched in a single bulk lookup) and discards statements the LLM judges
// unsupported; every other label passes through unchecked, since only
// Statements carry a verifiable source chunk.
func (r *Runtime) verify(ctx context.Context, st *readState, emit func(IntermediateOutput)) *readState {
	next := *st

	var chunkIDs []string
	for _, h := range st.evidence {
		if h.Label == graph.LabelStatement && h.Statement != nil {
			chunkIDs = append(chunkIDs, h.Statement.ChunkID)
		}
	}

	chunksByID := make(map[string]string)
	if len(chunkIDs) > 0 {
		hits, err := r.store.FetchByIDs(ctx, chunkIDs)
		if err != nil {
			slog.Warn("readgraph: verify: fetching source chunks failed, skipping verification", "error", err)
			next.verified = st.evidence
			emit(IntermediateOutput{Type: "verify", Title: "Verify", Error: err.Error()})
			return &next
		}
		for _, h := range hits {
			if h.Label == graph.LabelChunk && h.Chunk != nil {
				chunksByID[h.Chunk.ID] = h.Chunk.Content
			}
		}
	}

	verified := make([]retrieval.Hit, 0, len(st.evidence))
	discarded := 0
	for _, h := range st.evidence {
		if h.Label != graph.LabelStatement || h.Statement == nil {
			verified = append(verified, h)
			continue
		}
		chunkText, ok := chunksByID[h.Statement.ChunkID]
		if !ok {
			verified = append(verified, h)
			continue
		}
		if r.statementSupported(ctx, h.Statement.Statement, chunkText) {
			verified = append(verified, h)
		} else {
			discarded++
		}
	}
	next.verified = verified

	emit(IntermediateOutput{Type: "verify", Title: "Verify", Data: map[string]any{
		"kept": len(verified), "discarded": discarded,
	}})
	return &next
}

func (r *Runtime) statementSupported(ctx context.Context, statement, chunkText string) bool {
	resp, err := r.model.ChatStructured(ctx, llm.StructuredRequest{
		Messages: []types.Message{
			{Role: "user", Content: fmt.Sprintf("Statement: %s\nSource chunk: %s", statement, chunkText)},
		},
		SystemPrompt: verifyPrompt,
		Schema:       verifySchema(),
		SchemaName:   "verify",
		Temperature:  0,
	})
	if err != nil {
		slog.Warn("readgraph: verify: statement check failed, keeping statement", "error", err)
		return true
	}
	var raw struct {
		Supported bool `json:"supported"`
	}
	if err := json.Unmarshal(resp.JSON, &raw); err != nil {
		return true
	}
	return raw.Supported
}

func summariseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{"type": "string"},
		},
		"required": []string{"answer"},
	}
}

const summarisePrompt = `Answer the user's question using only the evidence
and recent conversation history provided. If the evidence does not contain
enough information to answer, respond with exactly:
"Insufficient information to answer."`

// summarise composes the final answer from verified evidence and recent
// session history, emitting an "input_summary" event for fast/quick modes
// or a "retrieval_summary" event for deep mode. If no evidence survives,
// the answer is the fixed sentinel rather than an LLM call.
func (r *Runtime) summarise(ctx context.Context, st *readState, emit func(IntermediateOutput)) *readState {
	next := *st

	if len(st.verified) == 0 {
		next.answer = insufficientInfoAnswer
		emit(summariseEvent(st.req.SearchSwitch, next.answer))
		return &next
	}

	history, err := r.sessions.Recent(ctx, st.req.EndUserID, st.req.ApplyID, r.historySize)
	if err != nil {
		slog.Warn("readgraph: summarise: loading session history failed, continuing without it", "error", err)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Question: %s\n\nEvidence:\n", st.req.Query)
	for _, h := range st.verified {
		fmt.Fprintf(&body, "- %s\n", evidenceText(h))
	}
	if len(history) > 0 {
		body.WriteString("\nRecent conversation:\n")
		for _, t := range history {
			fmt.Fprintf(&body, "User: %s\nAssistant: %s\n", t.User, t.Assistant)
		}
	}

	resp, err := r.model.ChatStructured(ctx, llm.StructuredRequest{
		Messages:     []types.Message{{Role: "user", Content: body.String()}},
		SystemPrompt: summarisePrompt,
		Schema:       summariseSchema(),
		SchemaName:   "summarise",
		Temperature:  0.2,
	})
	if err != nil {
		slog.Warn("readgraph: summarise failed, returning the insufficient-information sentinel", "error", err)
		next.answer = insufficientInfoAnswer
		emit(summariseEvent(st.req.SearchSwitch, next.answer))
		return &next
	}

	var raw struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(resp.JSON, &raw); err != nil || strings.TrimSpace(raw.Answer) == "" {
		next.answer = insufficientInfoAnswer
	} else {
		next.answer = strings.TrimSpace(raw.Answer)
	}

	emit(summariseEvent(st.req.SearchSwitch, next.answer))
	return &next
}

func summariseEvent(mode SearchSwitch, answer string) IntermediateOutput {
	if mode == SwitchDeep {
		return IntermediateOutput{Type: "retrieval_summary", Title: "Retrieval summary", Data: answer}
	}
	return IntermediateOutput{Type: "input_summary", Title: "Quick answer", Data: answer}
}

func evidenceText(h retrieval.Hit) string {
	switch h.Label {
	case graph.LabelStatement:
		return h.Statement.Statement
	case graph.LabelEntity:
		return h.Entity.Name + ": " + h.Entity.FactSummary
	case graph.LabelSummary:
		return h.Summary.Content
	case graph.LabelChunk:
		return h.Chunk.Content
	case graph.LabelDialogue:
		return h.Dialogue.Content
	default:
		return ""
	}
}

// persist writes the (query, answer) turn to the Session Store and records
// an access for every Statement/Entity in the verified evidence set. The
// context is checked once, before the first write: a read cancelled before
// persisting writes neither the turn nor any activation update. A
// cancellation after that check is not re-checked between writes.
func (r *Runtime) persist(ctx context.Context, st *readState) error {
	if ctx.Err() != nil {
		return memerr.FromContext("readgraph_persist", ctx.Err())
	}

	if err := r.sessions.Append(ctx, st.req.EndUserID, st.req.ApplyID, sessionstore.Turn{
		User:      st.req.Query,
		Assistant: st.answer,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("append session turn: %w", err)
	}

	now := time.Now().UTC()
	for _, h := range st.verified {
		if err := r.recordAccess(ctx, h, now); err != nil {
			slog.Warn("readgraph: recording access failed for a piece of evidence", "error", err)
		}
	}
	return nil
}

// recordAccess folds a read access into a Statement or Entity's activation
// bookkeeping using the fields already present on the hit — no extra fetch
// is needed, since retrieval.Hit carries the full node.
func (r *Runtime) recordAccess(ctx context.Context, h retrieval.Hit, now time.Time) error {
	var (
		id         string
		history    []time.Time
		importance float64
	)
	switch h.Label {
	case graph.LabelStatement:
		id, history, importance = h.Statement.ID, h.Statement.AccessHistory, h.Statement.ImportanceScore
	case graph.LabelEntity:
		id, history, importance = h.Entity.ID, h.Entity.AccessHistory, h.Entity.ImportanceScore
	default:
		return nil
	}

	newHistory, newActivation := activation.Access(r.ActivationConfig(), history, now, importance)
	return r.store.UpdateActivation(ctx, id, newActivation, now, newHistory)
}
