package testutil

import (
	"github.com/essential-contributions/essential-core/core/bytecode"
	"github.com/essential-contributions/essential-core/core/types"
)

// Predicate builds a minimal predicate with no state reads and one
// constraint program, for tests that only care about constraint
// evaluation. constraintOps is encoded with bytecode.Encode.
func Predicate(constraintOps ...bytecode.Op) types.Predicate {
	return types.Predicate{
		Constraints: []types.Program{bytecode.Encode(constraintOps)},
		Directive:   types.Directive{Kind: types.DirectiveSatisfy},
	}
}

// AlwaysTruePredicate returns a predicate whose single constraint
// program always evaluates true (PUSH 1).
func AlwaysTruePredicate() types.Predicate {
	return Predicate(bytecode.Op{Code: bytecode.OpPush, Operand: 1})
}

// AlwaysFalsePredicate returns a predicate whose single constraint
// program always evaluates false (PUSH 0).
func AlwaysFalsePredicate() types.Predicate {
	return Predicate(bytecode.Op{Code: bytecode.OpPush, Operand: 0})
}

// SolutionData builds a single solution datum proposing to solve addr
// with no decision variables, mutations, or transient data.
func SolutionData(addr types.PredicateAddress) types.SolutionData {
	return types.SolutionData{PredicateToSolve: addr}
}

// Solution wraps one or more solution data into a Solution.
func Solution(data ...types.SolutionData) types.Solution {
	return types.Solution{Data: data}
}
