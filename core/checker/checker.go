// Package checker orchestrates solution checking: for each solution
// datum it fetches the predicate it proposes to solve, runs that
// predicate's state-read programs against both pre- and post-mutation
// state to populate slots, then evaluates its constraint programs
// against those slots via the Constraint VM.
package checker

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/essential-contributions/essential-core/core/access"
	"github.com/essential-contributions/essential-core/core/bytecode"
	"github.com/essential-contributions/essential-core/core/constraintvm"
	"github.com/essential-contributions/essential-core/core/overlay"
	"github.com/essential-contributions/essential-core/core/statevm"
	"github.com/essential-contributions/essential-core/core/types"
)

var log = logrus.WithField("component", "checker")

// PredicateCacheSize bounds the number of predicates kept warm across
// ticks; a builder re-checks the same handful of predicates every tick
// so a small cache already captures most of the benefit.
const PredicateCacheSize = 1024

// PredicateSource is the subset of storage the checker fetches
// predicates from.
type PredicateSource interface {
	GetPredicate(ctx context.Context, addr types.PredicateAddress) (types.Predicate, bool, error)
}

// Checker evaluates solutions against a predicate source and a state
// overlay, deduplicating concurrent fetches of the same predicate and
// caching recently-seen ones.
type Checker struct {
	predicates PredicateSource
	cache      *lru.Cache[types.PredicateAddress, types.Predicate]
	group      singleflight.Group
	gasLimit   statevm.GasLimit
	gasCost    statevm.OpGasCost
}

// New builds a Checker backed by predicates, using statevm.DefaultGasCost
// and limit for every state-read program it runs.
func New(predicates PredicateSource, limit statevm.GasLimit) (*Checker, error) {
	cache, err := lru.New[types.PredicateAddress, types.Predicate](PredicateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("checker: %w", err)
	}
	return &Checker{
		predicates: predicates,
		cache:      cache,
		gasLimit:   limit,
		gasCost:    statevm.DefaultGasCost,
	}, nil
}

// DataResult is the outcome of checking one solution datum.
type DataResult struct {
	Satisfied bool
	// Utility is the datum's directive score: 1.0 if Satisfied, 0
	// otherwise. Maximize/Minimize directives are carried on Predicate
	// but scored as Satisfy pending a utility specification.
	Utility  float64
	GasSpent types.Gas
	// FailedPrograms indexes constraint programs that errored during
	// evaluation, keyed by index within Predicate.Constraints.
	FailedPrograms map[int]error
	// Unsatisfied indexes constraint programs that evaluated cleanly to
	// false.
	Unsatisfied []int
}

// Result is the outcome of checking a whole solution.
type Result struct {
	Satisfied bool
	// Utility is the solution's aggregate score: the sum of each
	// datum's Utility.
	Utility  float64
	GasSpent types.Gas
	PerDatum []DataResult
}

// CheckSolution evaluates every datum of solution against base (the
// pre-mutation state) and returns whether the whole solution is valid:
// every datum's predicate must be found and every one of its constraint
// programs must evaluate true.
func (c *Checker) CheckSolution(ctx context.Context, solution types.Solution, base *overlay.Overlay) (*Result, error) {
	result := &Result{Satisfied: true, PerDatum: make([]DataResult, len(solution.Data))}

	for i, datum := range solution.Data {
		dr, err := c.checkDatum(ctx, solution, i, datum, base)
		if err != nil {
			return nil, fmt.Errorf("checker: datum %d: %w", i, err)
		}
		result.PerDatum[i] = dr
		result.GasSpent += dr.GasSpent
		result.Utility += dr.Utility
		if !dr.Satisfied {
			result.Satisfied = false
		}
	}
	return result, nil
}

func (c *Checker) checkDatum(ctx context.Context, solution types.Solution, index int, datum types.SolutionData, base *overlay.Overlay) (DataResult, error) {
	predicate, found, err := c.fetchPredicate(ctx, datum.PredicateToSolve)
	if err != nil {
		return DataResult{}, err
	}
	if !found {
		return DataResult{
			Satisfied:      false,
			FailedPrograms: map[int]error{-1: fmt.Errorf("checker: predicate %x not found", datum.PredicateToSolve.Predicate)},
		}, nil
	}

	post := base.Clone()
	for _, mut := range datum.StateMutations {
		if _, err := post.UpdateState(ctx, datum.PredicateToSolve.Contract, mut.Key, mut.Value); err != nil {
			return DataResult{}, fmt.Errorf("applying speculative mutation: %w", err)
		}
	}

	preSlots, preGas, err := runStateReadPrograms(ctx, predicate.StateRead, datum.PredicateToSolve.Contract, base, c.gasCost, c.gasLimit)
	if err != nil {
		return DataResult{}, fmt.Errorf("pre-state read: %w", err)
	}
	postSlots, postGas, err := runStateReadPrograms(ctx, predicate.StateRead, datum.PredicateToSolve.Contract, post, c.gasCost, c.gasLimit)
	if err != nil {
		return DataResult{}, fmt.Errorf("post-state read: %w", err)
	}

	acc := access.Access{
		SolutionData: solution.Data,
		ThisIndex:    index,
		PreSlots:     preSlots,
		PostSlots:    postSlots,
	}

	constraints := make([][]bytecode.Op, len(predicate.Constraints))
	for i, program := range predicate.Constraints {
		ops, err := bytecode.Decode(program)
		if err != nil {
			return DataResult{}, fmt.Errorf("decoding constraint program %d: %w", i, err)
		}
		constraints[i] = ops
	}

	ce := constraintvm.CheckPredicate(ctx, constraints, acc)
	satisfied := ce.Empty()
	utility := 0.0
	if satisfied {
		utility = 1.0
	}
	return DataResult{
		Satisfied:      satisfied,
		Utility:        utility,
		GasSpent:       preGas + postGas,
		FailedPrograms: ce.Failed,
		Unsatisfied:    ce.Unsatisfied,
	}, nil
}

// fetchPredicate resolves addr via cache, collapsing duplicate
// concurrent misses into a single call to predicates.GetPredicate.
func (c *Checker) fetchPredicate(ctx context.Context, addr types.PredicateAddress) (types.Predicate, bool, error) {
	if p, ok := c.cache.Get(addr); ok {
		return p, true, nil
	}

	key := fmt.Sprintf("%x:%x", addr.Contract, addr.Predicate)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		p, found, ferr := c.predicates.GetPredicate(ctx, addr)
		if ferr != nil {
			return nil, ferr
		}
		if found {
			c.cache.Add(addr, p)
		}
		return struct {
			p     types.Predicate
			found bool
		}{p, found}, nil
	})
	if err != nil {
		return types.Predicate{}, false, err
	}
	res := v.(struct {
		p     types.Predicate
		found bool
	})
	if !res.found {
		log.WithField("predicate", fmt.Sprintf("%x", addr.Predicate[:4])).Debug("predicate not found")
	}
	return res.p, res.found, nil
}

// runStateReadPrograms executes each state-read program of a predicate
// in order against reader, giving each its own linear memory (so slot
// indices are local to a single program), and concatenates their slots
// in program order into the flat slice access.Access expects.
func runStateReadPrograms(ctx context.Context, programs []types.Program, contract types.ContentAddress, reader statevm.StateReader, gasCost statevm.OpGasCost, limit statevm.GasLimit) ([]types.Value, types.Gas, error) {
	var (
		slots []types.Value
		spent types.Gas
	)
	for i, program := range programs {
		exec := statevm.NewExec(program, contract, reader, gasCost, limit)
		if err := exec.Run(ctx); err != nil {
			return nil, 0, fmt.Errorf("state-read program %d: %w", i, err)
		}
		spent += exec.GasSpent()
		slots = append(slots, exec.Memory().AsSlots()...)
	}
	if slots == nil {
		slots = []types.Value{}
	}
	return slots, spent, nil
}
