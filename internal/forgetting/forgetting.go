// Package forgetting implements the consolidation cycle that merges
// long-unaccessed Statement+Entity pairs into a single MemorySummary,
// keeping the knowledge graph from growing without bound.
//
// Grounded on original_source's forgetting_scheduler.py: the same
// is_running-guarded, count-before/merge/count-after cycle, translated from
// a stateful Python class into a Scheduler value with an atomic.Bool guard.
package forgetting

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/memorybear/engine/internal/capability/clock"
	"github.com/memorybear/engine/internal/capability/embedder"
	"github.com/memorybear/engine/internal/memerr"
	"github.com/memorybear/engine/pkg/graph"
)

// Locker is a named, expiring mutual-exclusion primitive, satisfied
// structurally by *kvcache/postgres.KVCache's TryAcquireLock/ReleaseLock
// (added as concrete methods rather than widening the shared kvcache.KVCache
// port, since no other capability needs compare-and-set semantics). A
// horizontally-deployed scheduler needs this in addition to the in-process
// atomic.Bool guard, which only prevents overlap within a single process.
type Locker interface {
	TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Config tunes a forgetting cycle. The zero value is invalid; use
// [DefaultConfig].
type Config struct {
	// MaxMergeBatchSize caps how many pairs a single cycle merges. Default: 100.
	MaxMergeBatchSize int

	// MinDaysSinceAccess is the minimum staleness, in days, for a pair to be
	// eligible for merging. Default: 30.
	MinDaysSinceAccess int

	// LockTTL bounds how long the distributed lock (if a Locker is
	// configured) is held before it is considered abandoned. Must be at
	// least as long as the slowest expected cycle. Default: 10 minutes.
	LockTTL time.Duration
}

// DefaultConfig returns the scheduler's default tuning.
func DefaultConfig() Config {
	return Config{
		MaxMergeBatchSize:  100,
		MinDaysSinceAccess: 30,
		LockTTL:            10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxMergeBatchSize <= 0 {
		c.MaxMergeBatchSize = 100
	}
	if c.MinDaysSinceAccess <= 0 {
		c.MinDaysSinceAccess = 30
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	return c
}

// lockKey is process-wide: at most one forgetting cycle runs across the
// whole deployment at a time, regardless of end user.
const lockKey = "forgetting:cycle"

// CycleReport summarises one forgetting cycle, mirroring
// forgetting_scheduler.py's run_forgetting_cycle report dict field for
// field.
type CycleReport struct {
	MergedCount   int
	SkippedCount  int
	FailedCount   int
	NodesBefore   int
	NodesAfter    int
	ReductionRate float64
	SuccessRate   float64
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}

// Scheduler runs forgetting cycles against a graph.Store. The zero value is
// not ready to use; construct with [New].
type Scheduler struct {
	store    graph.Store
	merger   Merger
	embedder embedder.Embedder
	locker   Locker
	clock    clock.Clock
	cfg      atomic.Pointer[Config]

	running atomic.Bool
}

// Option configures a Scheduler constructed by [New].
type Option func(*Scheduler)

// WithLocker attaches a distributed lock for horizontally-deployed
// schedulers. Without one, only the in-process atomic.Bool guard applies.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithConfig overrides the scheduler's default tuning.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		resolved := cfg.withDefaults()
		s.cfg.Store(&resolved)
	}
}

// SetConfig atomically replaces the scheduler's tuning, letting a config
// hot-reload take effect for the next RunForgettingCycle call without
// interrupting one already in flight.
func (s *Scheduler) SetConfig(cfg Config) {
	resolved := cfg.withDefaults()
	s.cfg.Store(&resolved)
}

func (s *Scheduler) currentConfig() Config {
	return *s.cfg.Load()
}

// WithClock overrides the scheduler's time source, used to stamp
// CycleReport.StartTime/EndTime. Tests can inject a [clock.Fixed] to assert
// on Duration without sleeping.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// New constructs a Scheduler. merger synthesises the consolidated summary
// for each merged pair; embedder produces its embedding before the pair is
// persisted via store.MergePairIntoSummary.
func New(store graph.Store, merger Merger, emb embedder.Embedder, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		merger:   merger,
		embedder: emb,
		clock:    clock.System{},
	}
	defaultCfg := DefaultConfig()
	s.cfg.Store(&defaultCfg)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunForgettingCycle runs one consolidation cycle scoped to endUserID (nil
// means every tenant), merging at most maxBatch pairs that have gone
// unaccessed for at least minDays days. maxBatch <= 0 or minDays <= 0 fall
// back to the scheduler's configured defaults.
//
// Only one cycle may run at a time per process, guarded by an atomic.Bool
// mirroring forgetting_scheduler.py's is_running flag; a second concurrent
// call returns an error rather than blocking. If a Locker is configured, the
// cycle additionally requires the distributed lock, so at most one cycle
// runs across an entire horizontally-scaled deployment.
func (s *Scheduler) RunForgettingCycle(ctx context.Context, endUserID *string, maxBatch, minDays int) (*CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, memerr.Conflict("run_forgetting_cycle", errAlreadyRunning{})
	}
	defer s.running.Store(false)

	cfg := s.currentConfig()
	if maxBatch <= 0 {
		maxBatch = cfg.MaxMergeBatchSize
	}
	if minDays <= 0 {
		minDays = cfg.MinDaysSinceAccess
	}

	if s.locker != nil {
		acquired, err := s.locker.TryAcquireLock(ctx, lockKey, cfg.LockTTL)
		if err != nil {
			return nil, memerr.Transient("run_forgetting_cycle", err)
		}
		if !acquired {
			return nil, memerr.Conflict("run_forgetting_cycle", errAlreadyRunning{})
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey); err != nil {
				slog.Warn("forgetting: failed to release distributed lock", "error", err)
			}
		}()
	}

	scopedUser := ""
	if endUserID != nil {
		scopedUser = *endUserID
	}

	report := &CycleReport{StartTime: s.clock.Now().UTC()}

	nodesBefore, err := s.store.CountNodes(ctx, scopedUser)
	if err != nil {
		return nil, memerr.Transient("run_forgetting_cycle", err)
	}
	report.NodesBefore = nodesBefore

	pairs, err := s.store.ListForgettablePairs(ctx, scopedUser, minDays, 0)
	if err != nil {
		return nil, memerr.Transient("run_forgetting_cycle", err)
	}
	if len(pairs) > maxBatch {
		pairs = pairs[:maxBatch]
	}

	uniquePairs := dedupePairs(pairs)
	report.SkippedCount = len(pairs) - len(uniquePairs)

	milestone := len(uniquePairs) / 10
	if milestone < 1 {
		milestone = 1
	}

	for i, pair := range uniquePairs {
		if err := ctx.Err(); err != nil {
			return nil, memerr.FromContext("run_forgetting_cycle", err)
		}

		if err := s.mergePair(ctx, scopedUser, pair); err != nil {
			if kind, ok := memerr.KindOf(err); ok && kind == memerr.KindConcurrencyConflict {
				report.SkippedCount++
				slog.Warn("forgetting: pair already removed by concurrent work",
					"statement_id", pair.Statement.ID, "entity_id", pair.Entity.ID)
			} else {
				report.FailedCount++
				slog.Error("forgetting: failed to merge pair",
					"statement_id", pair.Statement.ID, "entity_id", pair.Entity.ID, "error", err)
			}
			continue
		}
		report.MergedCount++

		if (i+1)%milestone == 0 {
			slog.Info("forgetting: cycle progress",
				"merged", report.MergedCount, "processed", i+1, "total", len(uniquePairs))
		}
	}

	nodesAfter, err := s.store.CountNodes(ctx, scopedUser)
	if err != nil {
		return nil, memerr.Transient("run_forgetting_cycle", err)
	}
	report.NodesAfter = nodesAfter

	if nodesBefore > 0 {
		report.ReductionRate = float64(nodesBefore-nodesAfter) / float64(nodesBefore)
	}
	if attempted := report.MergedCount + report.FailedCount; attempted > 0 {
		report.SuccessRate = float64(report.MergedCount) / float64(attempted)
	} else {
		report.SuccessRate = 1.0
	}

	report.EndTime = s.clock.Now().UTC()
	report.Duration = report.EndTime.Sub(report.StartTime)
	return report, nil
}

func (s *Scheduler) mergePair(ctx context.Context, endUserID string, pair graph.ForgettablePair) error {
	summary, err := s.merger.Merge(ctx, endUserID, pair)
	if err != nil {
		return err
	}

	embedding, err := s.embedder.Embed(ctx, summary.Content)
	if err != nil {
		return memerr.Transient("merge_pair", err)
	}
	summary.Embedding = embedding

	return s.store.MergePairIntoSummary(ctx, pair.Statement.ID, pair.Entity.ID, *summary)
}

// dedupePairs keeps the first occurrence of each pair and drops any later
// pair that reuses a statement or entity id already claimed this cycle,
// mirroring forgetting_scheduler.py's two seen-sets.
func dedupePairs(pairs []graph.ForgettablePair) []graph.ForgettablePair {
	seenStatements := make(map[string]struct{}, len(pairs))
	seenEntities := make(map[string]struct{}, len(pairs))

	unique := make([]graph.ForgettablePair, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := seenStatements[p.Statement.ID]; ok {
			continue
		}
		if _, ok := seenEntities[p.Entity.ID]; ok {
			continue
		}
		seenStatements[p.Statement.ID] = struct{}{}
		seenEntities[p.Entity.ID] = struct{}{}
		unique = append(unique, p)
	}
	return unique
}

type errAlreadyRunning struct{}

func (errAlreadyRunning) Error() string { return "a forgetting cycle is already running" }
