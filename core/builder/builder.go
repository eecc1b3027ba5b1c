// Package builder implements the block builder: a single dedicated
// goroutine that, on every tick, drains the solution pool in FIFO
// order, speculatively applies each candidate's mutations over a clone
// of the current state overlay, checks it, and commits everything that
// passed as one block while routing everything that failed to the
// failed pool — all through one call to Storage.CommitBlock.
package builder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/essential-contributions/essential-core/core/checker"
	"github.com/essential-contributions/essential-core/core/overlay"
	"github.com/essential-contributions/essential-core/core/storage"
	"github.com/essential-contributions/essential-core/core/types"
)

var log = logrus.WithField("component", "builder")

// Config bounds one builder's behavior.
type Config struct {
	// RunLoopInterval is the period between pool-drain ticks.
	RunLoopInterval time.Duration
	// PruneFailedAfter is how long a failed-pool entry survives before
	// PruneFailedSolutions removes it; pruning runs once every
	// PruneEvery ticks rather than every tick.
	PruneFailedAfter time.Duration
	PruneEvery       int
	// TickRateLimit bounds how many pool-drain ticks per second the
	// builder is willing to run — a backstop against a misconfigured
	// RunLoopInterval swamping a single goroutine.
	TickRateLimit rate.Limit
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() Config {
	return Config{
		RunLoopInterval:  200 * time.Millisecond,
		PruneFailedAfter: time.Hour,
		PruneEvery:       50,
		TickRateLimit:    20,
	}
}

// Builder owns the single pool-drain loop.
type Builder struct {
	cfg      Config
	store    storage.Storage
	checker  *checker.Checker
	base     *overlay.Overlay
	limiter  *rate.Limiter
	tickNum  int
}

// New constructs a Builder over store, using chk to validate each
// candidate solution.
func New(cfg Config, store storage.Storage, chk *checker.Checker) *Builder {
	return &Builder{
		cfg:     cfg,
		store:   store,
		checker: chk,
		base:    overlay.New(store),
		limiter: rate.NewLimiter(cfg.TickRateLimit, 1),
	}
}

// Run drives the pool-drain loop until ctx is cancelled.
func (b *Builder) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.RunLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := b.Tick(ctx); err != nil {
				log.WithError(err).Error("tick failed")
			}
		}
	}
}

// Tick drains the current solution pool once: every pending solution is
// checked against a shared speculative overlay (so later solutions in
// the same tick see earlier ones' mutations), producing one block of
// everything that passed and failed-pool entries for everything that
// didn't. It commits through Storage.CommitBlock, the sole atomic path
// this core uses.
func (b *Builder) Tick(ctx context.Context) error {
	pending, err := b.store.ListSolutionsPool(ctx, 0)
	if err != nil {
		return err
	}

	b.tickNum++
	if b.tickNum%b.cfg.PruneEvery == 0 {
		if err := b.store.PruneFailedSolutions(ctx, b.cfg.PruneFailedAfter); err != nil {
			log.WithError(err).Warn("prune failed solutions")
		}
	}

	if len(pending) == 0 {
		return nil
	}

	working := b.base.Clone()
	req := storage.CommitBlockRequest{
		StateUpdates: make(map[types.ContentAddress][]types.Mutation),
	}

	for _, solution := range pending {
		result, err := b.checker.CheckSolution(ctx, solution, working)
		if err != nil {
			req.Failed = append(req.Failed, types.FailedSolution{
				Solution: solution,
				Reason:   types.FailReason{Kind: types.FailNotComposable, Message: err.Error()},
			})
			continue
		}
		if !result.Satisfied {
			req.Failed = append(req.Failed, types.FailedSolution{
				Solution: solution,
				Reason:   types.FailReason{Kind: types.FailConstraintsFailed, Message: "one or more constraint programs were unsatisfied"},
			})
			continue
		}

		for _, datum := range solution.Data {
			contract := datum.PredicateToSolve.Contract
			for _, mut := range datum.StateMutations {
				if _, err := working.UpdateState(ctx, contract, mut.Key, mut.Value); err != nil {
					return err
				}
			}
			req.StateUpdates[contract] = append(req.StateUpdates[contract], datum.StateMutations...)
		}
		req.Solved = append(req.Solved, solution)
	}

	block, err := b.store.CommitBlock(ctx, req)
	if err != nil {
		return err
	}
	if len(req.Solved) > 0 {
		b.base = working
		log.WithField("block", block.Number).WithField("solutions", len(req.Solved)).Info("committed block")
	}
	if len(req.Failed) > 0 {
		log.WithField("failed", len(req.Failed)).Debug("routed solutions to failed pool")
	}
	return nil
}

