// Package preprocess implements the ingestion preprocessor: it turns a raw
// dialogue payload into the Dialogue and Chunk nodes that downstream
// extraction (statements/entities) and embedding operate on.
//
// The pipeline is staged, mirroring internal/transcript/pipeline.go's
// two-stage correction shape generalised to five stages: role
// normalisation, text cleaning, filtering, optional semantic pruning, and
// chunking.
package preprocess

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memorybear/engine/internal/capability/chunker"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
)

// Role is a normalised speaker role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single raw turn of a dialogue payload, before normalisation.
type Message struct {
	// Role is the speaker's role as supplied by the caller, in any casing
	// or alias form accepted by normaliseRole.
	Role string

	// Text is the message's raw content.
	Text string
}

// DialoguePayload is the input to a Pipeline.
type DialoguePayload struct {
	RefID     string
	EndUserID string
	ConfigID  string
	RunID     string
	Messages  []Message
}

// Scene selects which semantic-pruning rules apply, per spec: pruning is
// only meaningful for scenes where dialogues tend to carry filler turns.
type Scene string

const (
	SceneEducation     Scene = "education"
	SceneOnlineService Scene = "online_service"
	SceneOutbound      Scene = "outbound"
)

// prunableScenes lists the scenes semantic pruning activates for.
var prunableScenes = map[Scene]struct{}{
	SceneEducation:     {},
	SceneOnlineService: {},
	SceneOutbound:      {},
}

// Result is the output of Pipeline.Process: a Dialogue and its Chunks, ready
// for statement/entity extraction and, eventually, embedding. Embeddings are
// intentionally left unset — they are filled in by the write coordinator
// after extraction, in a single batched embedding call.
type Result struct {
	Dialogue graph.Dialogue
	Chunks   []graph.Chunk
}

// ImportanceScorer rates how semantically important a single message is,
// used by the optional semantic-pruning stage. Implementations typically
// wrap a small, cheap LLM call.
type ImportanceScorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// Pipeline implements the ingestion preprocessor described above.
// Pipeline is safe for concurrent use.
type Pipeline struct {
	chunkSize int
	chunker   chunker.Chunker
	scorer    ImportanceScorer

	pruningMu sync.RWMutex
	pruning   pruningConfig
}

// pruningConfig holds the semantic-pruning tunables that can be hot-reloaded
// via [Pipeline.SetPruning] independently of the pipeline's structural
// fields (chunker, chunk size).
type pruningConfig struct {
	scene     Scene
	enabled   bool
	threshold float64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunkSize sets the maximum message length (in runes) before the
// configured Chunker is invoked to split it further. Default: 2000.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) { p.chunkSize = n }
}

// WithChunker attaches the sub-chunking strategy used for over-long
// messages. When nil (the default), over-long messages are kept whole as a
// single chunk.
func WithChunker(c chunker.Chunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// WithSemanticPruning enables the optional filler-dropping stage for scene,
// using threshold as the scene-specific pruning_threshold (0.0-0.9).
// Pruning only activates for SceneEducation, SceneOnlineService, and
// SceneOutbound; any other scene leaves the stage a no-op regardless of
// this option.
func WithSemanticPruning(scene Scene, threshold float64) Option {
	return func(p *Pipeline) {
		p.pruning = pruningConfig{scene: scene, enabled: true, threshold: threshold}
	}
}

// SetPruning atomically replaces the semantic-pruning tunables applied to
// subsequent Process calls, letting a config hot-reload take effect without
// reconstructing the Pipeline. enabled=false disables pruning entirely,
// matching pruning_switch.
func (p *Pipeline) SetPruning(scene Scene, enabled bool, threshold float64) {
	p.pruningMu.Lock()
	p.pruning = pruningConfig{scene: scene, enabled: enabled, threshold: threshold}
	p.pruningMu.Unlock()
}

func (p *Pipeline) currentPruning() pruningConfig {
	p.pruningMu.RLock()
	defer p.pruningMu.RUnlock()
	return p.pruning
}

// WithImportanceScorer attaches an LLM-backed importance scorer used during
// semantic pruning. When nil (the default), pruning falls back to the
// pattern-only importance checks.
func WithImportanceScorer(s ImportanceScorer) Option {
	return func(p *Pipeline) { p.scorer = s }
}

const defaultChunkSize = 2000

// NewPipeline constructs a Pipeline with the supplied options. By default
// semantic pruning is disabled and chunk_size is 2000 runes.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{chunkSize: defaultChunkSize}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs all five pipeline stages over payload and returns the
// resulting Dialogue and Chunks. It fails with a memerr.ErrValidation-kind
// error if no non-trivial chunk survives cleaning, filtering, and pruning.
func (p *Pipeline) Process(ctx context.Context, payload DialoguePayload) (*Result, error) {
	if len(payload.Messages) == 0 {
		return nil, memerr.Validation("preprocess", fmt.Errorf("dialogue %q has no messages", payload.RefID))
	}

	messages := make([]Message, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		role := normaliseRole(m.Role)
		text := cleanText(m.Text)
		messages = append(messages, Message{Role: string(role), Text: text})
	}

	messages = filterMessages(messages)

	pruning := p.currentPruning()
	if pruning.enabled {
		var err error
		messages, err = p.pruneMessages(ctx, pruning, messages)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	dialogueID := uuid.New().String()

	chunks, err := p.chunkMessages(ctx, dialogueID, payload, messages, now)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, memerr.Validation("preprocess", fmt.Errorf("dialogue %q produced no non-trivial chunks", payload.RefID))
	}

	var content strings.Builder
	for i, m := range messages {
		if i > 0 {
			content.WriteByte('\n')
		}
		content.WriteString(m.Role)
		content.WriteString(": ")
		content.WriteString(m.Text)
	}

	dialogue := graph.Dialogue{
		ID:        dialogueID,
		EndUserID: payload.EndUserID,
		ConfigID:  payload.ConfigID,
		RefID:     payload.RefID,
		Content:   content.String(),
		CreatedAt: now,
		ExpiredAt: graph.FarFuture,
		RunID:     payload.RunID,
	}

	return &Result{Dialogue: dialogue, Chunks: chunks}, nil
}

// chunkMessages produces one Chunk per message, sub-splitting any message
// whose length exceeds chunkSize via the configured Chunker.
func (p *Pipeline) chunkMessages(ctx context.Context, dialogueID string, payload DialoguePayload, messages []Message, now time.Time) ([]graph.Chunk, error) {
	var chunks []graph.Chunk
	seq := 0

	for _, m := range messages {
		if len([]rune(m.Text)) <= p.chunkSize || p.chunker == nil {
			chunks = append(chunks, graph.Chunk{
				ID:            uuid.New().String(),
				EndUserID:     payload.EndUserID,
				ConfigID:      payload.ConfigID,
				DialogueID:    dialogueID,
				Content:       m.Text,
				Speaker:       m.Role,
				SequenceIndex: seq,
				CreatedAt:     now,
				ExpiredAt:     graph.FarFuture,
				RunID:         payload.RunID,
			})
			seq++
			continue
		}

		sub, err := p.chunker.Split(ctx, m.Text)
		if err != nil {
			return nil, memerr.Transient("preprocess", fmt.Errorf("chunk message: %w", err))
		}
		for _, c := range sub {
			chunks = append(chunks, graph.Chunk{
				ID:            uuid.New().String(),
				EndUserID:     payload.EndUserID,
				ConfigID:      payload.ConfigID,
				DialogueID:    dialogueID,
				Content:       c.Text,
				Speaker:       m.Role,
				SequenceIndex: seq,
				CreatedAt:     now,
				ExpiredAt:     graph.FarFuture,
				RunID:         payload.RunID,
			})
			seq++
		}
	}

	return chunks, nil
}

// normaliseRole maps an arbitrary role string to RoleUser or RoleAssistant,
// defaulting unrecognised roles to RoleUser.
func normaliseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "assistant", "ai", "bot":
		return RoleAssistant
	case "user", "human", "用户":
		return RoleUser
	default:
		return RoleUser
	}
}

// filterMessages drops empty messages and adjacent exact duplicates (same
// role and same text).
func filterMessages(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role && out[n-1].Text == m.Text {
			continue
		}
		out = append(out, m)
	}
	return out
}
