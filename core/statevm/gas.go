package statevm

import (
	"errors"
	"fmt"

	"github.com/essential-contributions/essential-core/core/types"
)

// DefaultPerYield is the default scheduler-fairness gas budget between
// cooperative yields.
const DefaultPerYield types.Gas = 4096

// Unlimited is a sentinel total gas limit meaning "no ceiling".
const Unlimited types.Gas = ^types.Gas(0)

// GasLimit bounds a single execution: Total is a hard ceiling, PerYield
// is a soft budget that triggers cooperative yielding.
type GasLimit struct {
	Total    types.Gas
	PerYield types.Gas
}

// DefaultGasLimit returns an unlimited-total, default-per-yield limit.
func DefaultGasLimit() GasLimit {
	return GasLimit{Total: Unlimited, PerYield: DefaultPerYield}
}

// OutOfGasError reports that executing an op would exceed the total
// gas limit.
type OutOfGasError struct {
	Spent types.Gas
	OpGas types.Gas
	Limit types.Gas
}

func (e *OutOfGasError) Error() string {
	return fmt.Sprintf("statevm: out of gas: spent %d + op %d > limit %d", e.Spent, e.OpGas, e.Limit)
}

var ErrOutOfGas = errors.New("statevm: out of gas")

func (e *OutOfGasError) Unwrap() error { return ErrOutOfGas }

// gasExec tracks gas spend and the next yield threshold for one
// in-progress execution.
type gasExec struct {
	limit               GasLimit
	spent               types.Gas
	nextYieldThreshold  types.Gas
}

func newGasExec(limit GasLimit) *gasExec {
	return &gasExec{limit: limit, nextYieldThreshold: limit.PerYield}
}

// charge attempts to spend opGas, failing with OutOfGasError if doing
// so would cross the total limit. Returns whether the caller should
// yield after this op completes.
func (g *gasExec) charge(opGas types.Gas) (shouldYieldAfter bool, err error) {
	next := g.spent + opGas
	if next < g.spent || next > g.limit.Total {
		return false, &OutOfGasError{Spent: g.spent, OpGas: opGas, Limit: g.limit.Total}
	}
	g.spent = next
	if g.spent >= g.nextYieldThreshold {
		g.nextYieldThreshold = g.spent + g.limit.PerYield
		return true, nil
	}
	return false, nil
}
