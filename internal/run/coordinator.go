package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/splashkes/eventlinter/internal/accumulator"
	"github.com/splashkes/eventlinter/internal/metrics"
	"github.com/splashkes/eventlinter/internal/protocol"
	"github.com/splashkes/eventlinter/internal/rules"
	"github.com/splashkes/eventlinter/pkg/models"
)

// CatalogueLoader loads the static rule definitions.
type CatalogueLoader interface {
	Load(ctx context.Context) ([]models.Rule, error)
}

// Coordinator owns the single active run. Starting a run supersedes the
// previous one: its context is cancelled and anything it still publishes
// is rejected with ErrStaleRun, so the accumulated set only ever holds
// findings of the current run.
//
// Every accumulator mutation happens under the coordinator lock, so its
// listeners run with that lock held and must not call back into the
// Coordinator.
type Coordinator struct {
	runner    Runner
	acc       *accumulator.Accumulator
	registry  *rules.Registry
	catalogue CatalogueLoader
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	current uuid.UUID
	cancel  context.CancelFunc
	done    chan struct{}
	scope   models.Scope
	status  models.RunStatus
}

// NewCoordinator wires a Coordinator. catalogue may be nil.
func NewCoordinator(runner Runner, acc *accumulator.Accumulator, registry *rules.Registry, catalogue CatalogueLoader, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		runner:    runner,
		acc:       acc,
		registry:  registry,
		catalogue: catalogue,
		logger:    loggerOr(logger),
		now:       time.Now,
	}
	acc.Subscribe(c.onFindings)
	return c
}

// onFindings keeps the run status in step with the accumulated set.
// Callers hold mu.
func (c *Coordinator) onFindings(snapshot []models.Finding) {
	c.status.FindingsCount = len(snapshot)
	metrics.FindingsAccumulated.Set(float64(len(snapshot)))
}

// Start begins a new run with scope and returns its initial status. The
// run continues in the background after ctx is done; cancel it with a
// later Start or with Close.
func (c *Coordinator) Start(ctx context.Context, scope models.Scope) models.RunStatus {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}

	id := uuid.New()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.current = id
	c.cancel = cancel
	c.done = done
	c.scope = scope
	c.status = models.RunStatus{
		ID:        id,
		Strategy:  c.runner.Name(),
		Scope:     scope,
		Status:    models.RunStatusRunning,
		StartedAt: c.now().UTC(),
	}
	c.acc.Reset()
	c.registry.ResetRun()
	status := c.status
	c.mu.Unlock()

	c.logger.Info("linter run started", "run_id", id, "future", scope.FutureOnly, "active", scope.ActiveOnly)
	go c.execute(runCtx, cancel, id, scope, done)
	return status
}

// Refresh starts a new run with the scope of the most recent one.
func (c *Coordinator) Refresh(ctx context.Context) models.RunStatus {
	c.mu.Lock()
	scope := c.scope
	c.mu.Unlock()
	return c.Start(ctx, scope)
}

// Wait blocks until the run active at call time has finished.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunSync starts a run and waits for it. A failed run returns its status
// together with an error wrapping ErrRunFailed.
func (c *Coordinator) RunSync(ctx context.Context, scope models.Scope) (models.RunStatus, error) {
	c.Start(ctx, scope)
	if err := c.Wait(ctx); err != nil {
		return c.Status(), err
	}
	st := c.Status()
	if st.Status == models.RunStatusFailed {
		return st, fmt.Errorf("%w: %s", ErrRunFailed, st.Error)
	}
	return st, nil
}

// Close cancels the active run and waits for it to stop.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	return c.Wait(ctx)
}

// Status returns a snapshot of the active run.
func (c *Coordinator) Status() models.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Findings returns a snapshot of the accumulated finding set.
func (c *Coordinator) Findings() []models.Finding {
	return c.acc.Snapshot()
}

// Snapshot returns the run status together with the findings it counts.
// A concurrent Start cannot land between the two reads.
func (c *Coordinator) Snapshot() (models.RunStatus, []models.Finding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.acc.Snapshot()
}

// Diagnostics joins the effective rule list against the accumulated set.
func (c *Coordinator) Diagnostics() []models.RuleStats {
	return rules.Diagnostics(c.registry.Rules(), c.acc.Snapshot())
}

func (c *Coordinator) execute(ctx context.Context, cancel context.CancelFunc, id uuid.UUID, scope models.Scope, done chan struct{}) {
	defer close(done)
	defer cancel()

	var g errgroup.Group
	if c.catalogue != nil {
		g.Go(func() error {
			defs, err := c.catalogue.Load(ctx)
			if err != nil {
				c.logger.Warn("rule catalogue load failed", "run_id", id, "error", err)
				return nil
			}
			c.registry.SetCatalogue(defs)
			return nil
		})
	}
	g.Go(func() error {
		return c.runner.Run(ctx, id, scope, c)
	})
	err := g.Wait()

	// The catalogue may land after the terminal frame.
	c.mu.Lock()
	if c.current == id && c.status.RulesLoaded == 0 {
		c.status.RulesLoaded = c.registry.Count()
	}
	c.mu.Unlock()

	switch {
	case err == nil:
	case errors.Is(err, ErrStaleRun):
		c.logger.Info("superseded run stopped", "run_id", id)
	default:
		// Transport failures never reached the sink; record them here.
		// Fail is a no-op when the run already ended.
		if ferr := c.Fail(id, err.Error(), nil); ferr != nil && !errors.Is(ferr, ErrStaleRun) {
			c.logger.Error("recording run failure", "run_id", id, "error", ferr)
		}
		if !errors.Is(err, ErrRunFailed) {
			c.logger.Error("linter run failed", "run_id", id, "error", err)
		}
	}
}

// --- Sink ---

func (c *Coordinator) Begin(runID uuid.UUID, strategy string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCurrent(runID); err != nil {
		return err
	}
	c.status.Strategy = strategy
	return nil
}

func (c *Coordinator) Progress(runID uuid.UUID, p protocol.Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCurrent(runID); err != nil {
		return err
	}
	c.status.Phase = p.Phase
	c.status.Progress = p.Text
	return nil
}

func (c *Coordinator) Batch(runID uuid.UUID, b protocol.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCurrent(runID); err != nil {
		return err
	}
	if err := c.acc.Append(b.Findings); err != nil {
		return err
	}
	if b.Phase != "" {
		c.status.Phase = b.Phase
	}
	metrics.FindingsReceivedTotal.Add(float64(len(b.Findings)))
	return nil
}

func (c *Coordinator) Complete(runID uuid.UUID, m protocol.Complete) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCurrent(runID); err != nil {
		return err
	}
	if c.status.Status != models.RunStatusRunning {
		return nil
	}

	if len(m.Debug.Rules) > 0 {
		c.registry.SetRunRules(m.Debug.Rules)
	}
	if m.Debug.RulesLoaded != nil {
		c.registry.SetRunCount(*m.Debug.RulesLoaded)
	}

	c.status.Summary = m.Summary
	c.status.Debug = m.Debug.Raw
	c.status.RulesLoaded = m.Debug.RuleCount()
	c.finish(models.RunStatusComplete)
	return nil
}

func (c *Coordinator) Fail(runID uuid.UUID, message string, debug json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCurrent(runID); err != nil {
		return err
	}
	if c.status.Status != models.RunStatusRunning {
		return nil
	}
	c.status.Error = message
	c.status.Debug = debug
	c.finish(models.RunStatusFailed)
	return nil
}

// finish freezes the set and records the terminal status. Callers hold mu.
func (c *Coordinator) finish(status string) {
	now := c.now().UTC()
	c.status.Status = status
	c.status.FinishedAt = &now
	c.acc.Freeze()

	metrics.RunsTotal.WithLabelValues(c.status.Strategy, status).Inc()
	metrics.RunDuration.WithLabelValues(c.status.Strategy).Observe(now.Sub(c.status.StartedAt).Seconds())

	c.logger.Info("linter run finished",
		"run_id", c.status.ID,
		"strategy", c.status.Strategy,
		"status", status,
		"findings", c.status.FindingsCount,
		"rules_loaded", c.status.RulesLoaded,
	)
}

func (c *Coordinator) checkCurrent(runID uuid.UUID) error {
	if runID != c.current {
		metrics.FramesDroppedTotal.WithLabelValues("stale_run").Inc()
		return fmt.Errorf("%w: %s", ErrStaleRun, runID)
	}
	return nil
}

var _ Sink = (*Coordinator)(nil)
