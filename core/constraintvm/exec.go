// Package constraintvm implements the Constraint VM: a pure, synchronous
// stack machine that evaluates boolean programs over decision variables,
// transient data, and pre/post state slots.
package constraintvm

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/essential-contributions/essential-core/core/access"
	"github.com/essential-contributions/essential-core/core/bytecode"
	"github.com/essential-contributions/essential-core/core/types"
	"github.com/essential-contributions/essential-core/core/wordstack"
)

// ExecOps runs program against acc, returning the final stack or the
// first op error encountered (wrapped as *OpError with its index).
func ExecOps(program []bytecode.Op, acc access.Access) (*wordstack.Stack, error) {
	s := wordstack.New()
	for i, op := range program {
		if err := step(op, acc, s); err != nil {
			return nil, &OpError{Index: i, Err: err}
		}
	}
	return s, nil
}

// EvalOps runs program and requires the final stack hold exactly one
// word equal to 0 or 1, returning whether the program evaluated true.
func EvalOps(program []bytecode.Op, acc access.Access) (bool, error) {
	s, err := ExecOps(program, acc)
	if err != nil {
		return false, err
	}
	if s.Len() != 1 {
		return false, &InvalidEvaluationError{Stack: toInt64(s.Words())}
	}
	top, _ := s.Top()
	switch top {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, &InvalidEvaluationError{Stack: toInt64(s.Words())}
	}
}

func toInt64(ws []types.Word) []int64 {
	out := make([]int64, len(ws))
	for i, w := range ws {
		out[i] = int64(w)
	}
	return out
}

// CheckPredicate evaluates every constraint program of a predicate
// concurrently (each gets its own fresh stack; there is no shared
// mutable state), partitioning the result into programs that errored
// and programs that merely evaluated to false. Both sets are always
// reported in full — this never short-circuits on the first failure.
func CheckPredicate(ctx context.Context, programs [][]bytecode.Op, acc access.Access) *CheckError {
	type result struct {
		index int
		ok    bool
		err   error
	}
	results := make([]result, len(programs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, program := range programs {
		i, program := i, program
		g.Go(func() error {
			ok, err := EvalOps(program, acc)
			results[i] = result{index: i, ok: ok, err: err}
			return nil
		})
	}
	// errgroup's Go never returns an error here (we swallow per-program
	// errors into results), so Wait only surfaces ctx cancellation.
	_ = g.Wait()

	ce := &CheckError{Failed: map[int]error{}}
	for _, r := range results {
		switch {
		case r.err != nil:
			ce.Failed[r.index] = r.err
		case !r.ok:
			ce.Unsatisfied = append(ce.Unsatisfied, r.index)
		}
	}
	if ctx.Err() != nil && ce.Empty() {
		ce.Failed[-1] = fmt.Errorf("constraintvm: %w", ctx.Err())
	}
	return ce
}

func step(op bytecode.Op, acc access.Access, s *wordstack.Stack) error {
	switch op.Code {
	// Stack category.
	case bytecode.OpPush:
		s.Push(op.Operand)
		return nil
	case bytecode.OpPop:
		return s.Pop()
	case bytecode.OpDup:
		return s.Dup()
	case bytecode.OpDupFrom:
		return s.DupFrom(int(op.Operand))
	case bytecode.OpSwap:
		return s.Swap()

	// Alu category.
	case bytecode.OpAdd:
		return s.Add()
	case bytecode.OpSub:
		return s.Sub()
	case bytecode.OpMul:
		return s.Mul()
	case bytecode.OpDiv:
		return s.Div()
	case bytecode.OpMod:
		return s.Mod()
	case bytecode.OpEq:
		return s.Eq()
	case bytecode.OpEq4:
		return s.Eq4()
	case bytecode.OpGt:
		return s.Gt()
	case bytecode.OpLt:
		return s.Lt()
	case bytecode.OpGte:
		return s.Gte()
	case bytecode.OpLte:
		return s.Lte()
	case bytecode.OpAnd:
		return s.And()
	case bytecode.OpOr:
		return s.Or()
	case bytecode.OpNot:
		return s.Not()

	// Crypto category.
	case bytecode.OpSha256:
		return sha256Op(s)
	case bytecode.OpVerifyEd25519:
		return verifyEd25519Op(s)

	// Access category.
	default:
		return stepAccess(op, acc, s)
	}
}

func stepAccess(op bytecode.Op, acc access.Access, s *wordstack.Stack) error {
	switch op.Code {
	case bytecode.OpDecisionVar:
		idx, err := s.Pop1()
		if err != nil {
			return err
		}
		w, err := acc.DecisionVar(int(idx))
		if err != nil {
			return err
		}
		s.Push(w)
		return nil

	case bytecode.OpDecisionVarRange:
		idx, length, err := s.Pop2()
		if err != nil {
			return err
		}
		ws, err := acc.DecisionVarRange(int(idx), int(length))
		if err != nil {
			return err
		}
		s.PushN(ws...)
		return nil

	case bytecode.OpTransient:
		pathway, err := s.Pop1()
		if err != nil {
			return err
		}
		key, err := popKey(s)
		if err != nil {
			return err
		}
		val, found, err := acc.Transient(int(pathway), key)
		if err != nil {
			return err
		}
		if !found {
			val = nil
		}
		pushValue(s, val)
		return nil

	case bytecode.OpState:
		slot, delta, err := s.Pop2()
		if err != nil {
			return err
		}
		v, err := acc.State(int(slot), int(delta))
		if err != nil {
			return err
		}
		pushValue(s, v)
		return nil

	case bytecode.OpStateLen:
		slot, delta, err := s.Pop2()
		if err != nil {
			return err
		}
		n, err := acc.StateLen(int(slot), int(delta))
		if err != nil {
			return err
		}
		s.Push(types.Word(n))
		return nil

	case bytecode.OpStateIsSome:
		slot, delta, err := s.Pop2()
		if err != nil {
			return err
		}
		some, err := acc.StateIsSome(int(slot), int(delta))
		if err != nil {
			return err
		}
		s.Push(boolWord(some))
		return nil

	case bytecode.OpStateRange:
		ws, err := s.PopN(3)
		if err != nil {
			return err
		}
		slot, length, delta := ws[0], ws[1], ws[2]
		vs, err := acc.StateRange(int(slot), int(length), int(delta))
		if err != nil {
			return err
		}
		s.Push(types.Word(len(vs)))
		for _, v := range vs {
			pushValue(s, v)
		}
		return nil

	case bytecode.OpStateIsSomeRange:
		ws, err := s.PopN(3)
		if err != nil {
			return err
		}
		slot, length, delta := ws[0], ws[1], ws[2]
		somes, err := acc.StateIsSomeRange(int(slot), int(length), int(delta))
		if err != nil {
			return err
		}
		for _, v := range somes {
			s.Push(boolWord(v))
		}
		return nil

	case bytecode.OpMutKeys:
		keys, err := acc.MutKeys()
		if err != nil {
			return err
		}
		s.Push(types.Word(len(keys)))
		for _, k := range keys {
			pushKey(s, k)
		}
		return nil

	case bytecode.OpMutKeysLen:
		keys, err := acc.MutKeys()
		if err != nil {
			return err
		}
		s.Push(types.Word(len(keys)))
		return nil

	case bytecode.OpMutKeysContains:
		key, err := popKey(s)
		if err != nil {
			return err
		}
		ok, err := acc.MutKeysContains(key)
		if err != nil {
			return err
		}
		s.Push(boolWord(ok))
		return nil

	case bytecode.OpThisAddress:
		ca, err := acc.ThisAddress()
		if err != nil {
			return err
		}
		words := access.AddressWords(ca)
		s.PushN(words[:]...)
		return nil

	case bytecode.OpThisContractAddress:
		ca, err := acc.ThisContractAddress()
		if err != nil {
			return err
		}
		words := access.AddressWords(ca)
		s.PushN(words[:]...)
		return nil

	default:
		return fmt.Errorf("constraintvm: opcode %s not valid in constraint programs", op.Code)
	}
}

// popKey pops a length then that many words, in the order they were
// pushed, forming a Key.
func popKey(s *wordstack.Stack) (types.Key, error) {
	n, err := s.Pop1()
	if err != nil {
		return nil, err
	}
	ws, err := s.PopN(int(n))
	if err != nil {
		return nil, err
	}
	return types.Key(ws), nil
}

func pushKey(s *wordstack.Stack, k types.Key) {
	s.Push(types.Word(len(k)))
	s.PushN([]types.Word(k)...)
}

func pushValue(s *wordstack.Stack, v types.Value) {
	s.Push(types.Word(len(v)))
	s.PushN([]types.Word(v)...)
}
