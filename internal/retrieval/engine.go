package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Benny93/repoctx/internal/graph"
	"github.com/Benny93/repoctx/internal/metrics"
	"github.com/Benny93/repoctx/internal/storage"
)

// Snapshotter is the store access the engine needs.
type Snapshotter interface {
	Snapshot() (storage.View, error)
}

// Options configures an Engine.
type Options struct {
	Orchestrator OrchestratorOptions

	// EdgeKinds limits graph expansion; empty follows every kind.
	EdgeKinds []graph.EdgeKind

	// Timeout bounds each query; 0 relies on the caller's context only.
	Timeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Engine is the query entry point. It is safe for concurrent use; every
// query reads one store snapshot taken when the query starts.
type Engine struct {
	store     Snapshotter
	orch      *Orchestrator
	assembler *Assembler
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewEngine creates an engine over store.
func NewEngine(store Snapshotter, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		orch:      NewOrchestrator(opts.Orchestrator),
		assembler: NewAssembler(opts.EdgeKinds...),
		timeout:   opts.Timeout,
		logger:    logger.Named("retrieval"),
		metrics:   opts.Metrics,
	}
}

// Validate rejects tasks the engine cannot serve.
func (t Task) Validate() error {
	if err := t.validateQuery(); err != nil {
		return err
	}
	switch {
	case t.TokenBudget <= 0:
		return NewError(CodeInvalidTask, fmt.Sprintf("token budget must be positive, got %d", t.TokenBudget), nil)
	case t.MaxExpansionDepth < 0:
		return NewError(CodeInvalidTask, fmt.Sprintf("expansion depth must be >= 0, got %d", t.MaxExpansionDepth), nil)
	}
	return nil
}

func (t Task) validateQuery() error {
	if strings.TrimSpace(t.QueryText) == "" && len(t.SeedSymbolNames) == 0 {
		return NewError(CodeInvalidTask, "task needs query text or seed symbols", nil)
	}
	return nil
}

// Query ranks candidates for task and assembles them into a bundle.
//
// The deadline (the engine timeout or the caller's) is checked between
// phases. A phase that has started runs to completion; if the deadline has
// passed afterwards the query fails with a CodeQueryTimeout error and no
// partial bundle.
func (e *Engine) Query(ctx context.Context, task Task) (*ContextBundle, error) {
	var bundle *ContextBundle
	err := e.run(ctx, task, true, func(c []Candidate, b *ContextBundle) { bundle = b })
	return bundle, err
}

// Rank returns the ranked candidates for task without assembling them.
func (e *Engine) Rank(ctx context.Context, task Task) ([]Candidate, error) {
	var cands []Candidate
	err := e.run(ctx, task, false, func(c []Candidate, _ *ContextBundle) { cands = c })
	return cands, err
}

func (e *Engine) run(ctx context.Context, task Task, assemble bool, done func([]Candidate, *ContextBundle)) error {
	validate := task.validateQuery
	if assemble {
		validate = task.Validate
	}
	if err := validate(); err != nil {
		return err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	queryID := uuid.NewString()
	logger := e.logger.With(zap.String("query_id", queryID))
	logger.Debug("query started",
		zap.String("query", task.QueryText),
		zap.Strings("seeds", task.SeedSymbolNames),
		zap.Int("budget", task.TokenBudget),
		zap.Int("depth", task.MaxExpansionDepth))

	view, err := e.store.Snapshot()
	if err != nil {
		return NewError(CodeStoreUnavailable, "opening store snapshot", err)
	}
	defer view.Release()

	// Phases only see cancellation at their boundaries.
	phaseCtx := context.WithoutCancel(ctx)
	last := ""
	phase := func(name string, fn func() error) error {
		if err := e.checkDeadline(ctx, last, logger); err != nil {
			return err
		}
		start := time.Now()
		if err := fn(); err != nil {
			return NewError(CodeStoreUnavailable, name+" phase failed", err)
		}
		e.metrics.PhaseFinished(name, time.Since(start))
		last = name
		return nil
	}

	var cands []Candidate
	if err := phase(PhaseLexical, func() (err error) {
		cands, err = e.orch.Lexical(phaseCtx, view, task.QueryText)
		return err
	}); err != nil {
		return err
	}
	if e.orch.SemanticEnabled() {
		if err := phase(PhaseSemantic, func() (err error) {
			cands, err = e.orch.Semantic(phaseCtx, view, task.QueryText, cands)
			return err
		}); err != nil {
			return err
		}
	} else {
		sortCandidates(cands)
	}
	if err := phase(PhaseSeed, func() (err error) {
		cands, err = e.orch.Seeds(phaseCtx, view, task.SeedSymbolNames, cands)
		return err
	}); err != nil {
		return err
	}

	if !assemble {
		if err := e.checkDeadline(ctx, last, logger); err != nil {
			return err
		}
		done(cands, nil)
		return nil
	}

	var bundle *ContextBundle
	if err := phase(PhaseAssemble, func() (err error) {
		bundle, err = e.assembler.Assemble(phaseCtx, view, cands, task)
		return err
	}); err != nil {
		return err
	}
	if err := e.checkDeadline(ctx, last, logger); err != nil {
		return err
	}

	e.metrics.BundleAssembled(bundle.UsedTokens, bundle.DroppedCount)
	logger.Debug("query finished",
		zap.Int("candidates", len(cands)),
		zap.Int("chunks", len(bundle.Entries)),
		zap.Int("used_tokens", bundle.UsedTokens),
		zap.Int("dropped", bundle.DroppedCount))
	done(cands, bundle)
	return nil
}

// checkDeadline converts a finished context into a typed error.
func (e *Engine) checkDeadline(ctx context.Context, after string, logger *zap.Logger) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e.metrics.QueryTimedOut()
		logger.Warn("query timed out", zap.String("after_phase", after))
		qe := NewError(CodeQueryTimeout, "query deadline exceeded", err)
		qe.Phase = after
		return qe
	}
	return err
}
