package constraintvm

import (
	"context"
	"errors"
	"testing"

	"github.com/essential-contributions/essential-core/core/access"
	"github.com/essential-contributions/essential-core/core/bytecode"
	"github.com/essential-contributions/essential-core/core/types"
)

func TestExecOpsPushAdd(t *testing.T) {
	prog := []bytecode.Op{
		{Code: bytecode.OpPush, Operand: 2},
		{Code: bytecode.OpPush, Operand: 3},
		{Code: bytecode.OpAdd},
	}
	s, err := ExecOps(prog, access.Access{})
	if err != nil {
		t.Fatal(err)
	}
	top, _ := s.Top()
	if top != 5 {
		t.Fatalf("top = %d; want 5", top)
	}
}

func TestExecOpsWrapsOpError(t *testing.T) {
	prog := []bytecode.Op{{Code: bytecode.OpPop}}
	_, err := ExecOps(prog, access.Access{})
	var opErr *OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %v; want *OpError", err)
	}
	if opErr.Index != 0 {
		t.Fatalf("OpError.Index = %d; want 0", opErr.Index)
	}
}

func TestEvalOpsTrueFalse(t *testing.T) {
	trueProg := []bytecode.Op{{Code: bytecode.OpPush, Operand: 1}}
	ok, err := EvalOps(trueProg, access.Access{})
	if err != nil || !ok {
		t.Fatalf("EvalOps(true) = %v, %v; want true, nil", ok, err)
	}

	falseProg := []bytecode.Op{{Code: bytecode.OpPush, Operand: 0}}
	ok, err = EvalOps(falseProg, access.Access{})
	if err != nil || ok {
		t.Fatalf("EvalOps(false) = %v, %v; want false, nil", ok, err)
	}
}

func TestEvalOpsInvalidFinalStack(t *testing.T) {
	prog := []bytecode.Op{
		{Code: bytecode.OpPush, Operand: 1},
		{Code: bytecode.OpPush, Operand: 2},
	}
	_, err := EvalOps(prog, access.Access{})
	var invalid *InvalidEvaluationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v; want *InvalidEvaluationError", err)
	}
}

func TestEvalOpsInvalidValueOnStack(t *testing.T) {
	prog := []bytecode.Op{{Code: bytecode.OpPush, Operand: 2}}
	_, err := EvalOps(prog, access.Access{})
	var invalid *InvalidEvaluationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v; want *InvalidEvaluationError for stack value 2", err)
	}
}

func TestCheckPredicateReportsAllOutcomes(t *testing.T) {
	trueProg := []bytecode.Op{{Code: bytecode.OpPush, Operand: 1}}
	falseProg := []bytecode.Op{{Code: bytecode.OpPush, Operand: 0}}
	errProg := []bytecode.Op{{Code: bytecode.OpPop}}

	ce := CheckPredicate(context.Background(), [][]bytecode.Op{trueProg, falseProg, errProg}, access.Access{})
	if ce.Empty() {
		t.Fatal("CheckPredicate should report failures")
	}
	if len(ce.Unsatisfied) != 1 || ce.Unsatisfied[0] != 1 {
		t.Fatalf("Unsatisfied = %v; want [1]", ce.Unsatisfied)
	}
	if _, ok := ce.Failed[2]; !ok {
		t.Fatalf("Failed = %v; want entry at index 2", ce.Failed)
	}
}

func TestCheckPredicateAllSatisfiedIsEmpty(t *testing.T) {
	trueProg := []bytecode.Op{{Code: bytecode.OpPush, Operand: 1}}
	ce := CheckPredicate(context.Background(), [][]bytecode.Op{trueProg, trueProg}, access.Access{})
	if !ce.Empty() {
		t.Fatalf("CheckPredicate should report no failures, got %+v", ce)
	}
}

func TestStepDecisionVarAccess(t *testing.T) {
	acc := access.Access{SolutionData: []types.SolutionData{
		{DecisionVariables: []types.DecisionVariable{{Value: 11}}},
	}}
	prog := []bytecode.Op{
		{Code: bytecode.OpPush, Operand: 0},
		{Code: bytecode.OpDecisionVar},
	}
	s, err := ExecOps(prog, acc)
	if err != nil {
		t.Fatal(err)
	}
	top, _ := s.Top()
	if top != 11 {
		t.Fatalf("top = %d; want 11", top)
	}
}

func TestStepMutKeysContains(t *testing.T) {
	acc := access.Access{ThisIndex: 0, SolutionData: []types.SolutionData{
		{StateMutations: []types.Mutation{{Key: types.Key{7}}}},
	}}
	prog := []bytecode.Op{
		{Code: bytecode.OpPush, Operand: 7}, // key word
		{Code: bytecode.OpPush, Operand: 1}, // key length (popped first)
		{Code: bytecode.OpMutKeysContains},
	}
	s, err := ExecOps(prog, acc)
	if err != nil {
		t.Fatal(err)
	}
	top, _ := s.Top()
	if top != 1 {
		t.Fatalf("MutKeysContains = %d; want 1", top)
	}
}

func TestStepSha256Deterministic(t *testing.T) {
	prog := []bytecode.Op{
		{Code: bytecode.OpPush, Operand: 42}, // data word
		{Code: bytecode.OpPush, Operand: 1},  // length
		{Code: bytecode.OpSha256},
	}
	s1, err := ExecOps(prog, access.Access{})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := ExecOps(prog, access.Access{})
	if err != nil {
		t.Fatal(err)
	}
	if s1.Len() != 4 {
		t.Fatalf("sha256 pushed %d words; want 4", s1.Len())
	}
	if s1.Words()[0] != s2.Words()[0] {
		t.Fatal("sha256 not deterministic across identical inputs")
	}
}

func TestStepVerifyEd25519MalformedPubkey(t *testing.T) {
	prog := []bytecode.Op{
		{Code: bytecode.OpPush, Operand: 0}, // data length 0
		// signature: 8 words of zero
		{Code: bytecode.OpPush, Operand: 0}, {Code: bytecode.OpPush, Operand: 0},
		{Code: bytecode.OpPush, Operand: 0}, {Code: bytecode.OpPush, Operand: 0},
		{Code: bytecode.OpPush, Operand: 0}, {Code: bytecode.OpPush, Operand: 0},
		{Code: bytecode.OpPush, Operand: 0}, {Code: bytecode.OpPush, Operand: 0},
		// pubkey: only 3 words instead of 4, leaving the operand stack one
		// word short, so the final pop of the data length finds it empty
		{Code: bytecode.OpPush, Operand: 0}, {Code: bytecode.OpPush, Operand: 0},
		{Code: bytecode.OpPush, Operand: 0},
		{Code: bytecode.OpVerifyEd25519},
	}
	_, err := ExecOps(prog, access.Access{})
	if err == nil {
		t.Fatal("expected error on short ed25519 operand stack")
	}
}

func TestStepVerifyEd25519WellFormedButInvalid(t *testing.T) {
	ops := []bytecode.Op{{Code: bytecode.OpPush, Operand: 0}} // data length 0
	for i := 0; i < 8; i++ {
		ops = append(ops, bytecode.Op{Code: bytecode.OpPush, Operand: 0}) // signature words
	}
	for i := 0; i < 4; i++ {
		ops = append(ops, bytecode.Op{Code: bytecode.OpPush, Operand: 0}) // pubkey words
	}
	ops = append(ops, bytecode.Op{Code: bytecode.OpVerifyEd25519})

	s, err := ExecOps(ops, access.Access{})
	if err != nil {
		t.Fatal(err)
	}
	top, _ := s.Top()
	if top != 0 {
		t.Fatalf("verify result = %d; want 0 (invalid signature)", top)
	}
}
