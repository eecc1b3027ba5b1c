// Package statevm implements the State-Read VM: an asynchronous stack
// machine with linear memory and control flow that reads key-ranges from
// storage into memory slots consumed by the Constraint VM. Its defining
// hardness is gas metering with cooperative yielding during long-running
// reads.
//
// The executor is modeled as an explicit step state machine rather than
// a direct blocking loop: Step advances execution by at most one
// scheduler quantum (one async state-read, or a run of sync ops up to
// the next gas-yield threshold) and returns whether it's done. This
// keeps suspension points — the moments execution may be cancelled or
// interleaved with other work — explicit and inspectable, turning a
// single-pass interpreter loop into a resumable one.
package statevm

import (
	"context"
	"errors"
	"fmt"

	"github.com/essential-contributions/essential-core/core/bytecode"
	"github.com/essential-contributions/essential-core/core/memory"
	"github.com/essential-contributions/essential-core/core/types"
	"github.com/essential-contributions/essential-core/core/wordstack"
)

// StateReader is the read side of storage the state-read VM consumes.
// Implementations may be backed by pre-state, post-state (an overlay),
// or a recording proxy for query-state-reads introspection.
type StateReader interface {
	// ReadKeyRange reads numValues consecutive entries from contract's
	// state starting at key, in ascending key order. Each entry is an
	// empty Value if absent, or its full (possibly multi-word) Value if
	// present.
	ReadKeyRange(ctx context.Context, contract types.ContentAddress, key types.Key, numValues int) ([]types.Value, error)
}

// OpGasCost returns the gas cost of a single op.
type OpGasCost func(bytecode.Op) types.Gas

var (
	ErrInvalidJumpCondition = errors.New("statevm: jump condition must be 0 or 1")
	ErrJumpOutOfProgram     = errors.New("statevm: jump target out of program")
	ErrKeyRangeOverflow     = errors.New("statevm: key range iteration overflowed")
)

// OpError wraps an error with the program counter of the op that
// produced it.
type OpError struct {
	PC  int
	Err error
}

func (e *OpError) Error() string { return fmt.Sprintf("statevm: op %d: %v", e.PC, e.Err) }
func (e *OpError) Unwrap() error { return e.Err }

// Exec is one in-progress execution of the state-read VM.
type Exec struct {
	thisContract types.ContentAddress
	reader       StateReader
	mapped       *bytecode.Mapped
	gasCost      OpGasCost

	pc     int
	stack  *wordstack.Stack
	mem    *memory.Memory
	gas    *gasExec
	halted bool
}

// NewExec constructs a fresh execution of program, bound to reader for
// state reads scoped to thisContract.
func NewExec(program []byte, thisContract types.ContentAddress, reader StateReader, gasCost OpGasCost, limit GasLimit) *Exec {
	return &Exec{
		thisContract: thisContract,
		reader:       reader,
		mapped:       bytecode.NewMapped(program),
		gasCost:      gasCost,
		stack:        wordstack.New(),
		mem:          memory.New(),
		gas:          newGasExec(limit),
	}
}

// Done reports whether execution has reached Halt or the end of program.
func (e *Exec) Done() bool { return e.halted }

// GasSpent returns the gas spent so far.
func (e *Exec) GasSpent() types.Gas { return e.gas.spent }

// Memory exposes the VM's linear memory once execution completes, for
// reading out state slots.
func (e *Exec) Memory() *memory.Memory { return e.mem }

// Run drives Step to completion or error, checking ctx between steps so
// cancellation is observed promptly even mid-program.
func (e *Exec) Run(ctx context.Context) error {
	for !e.halted {
		if err := ctx.Err(); err != nil {
			return err
		}
		yielded, err := e.Step(ctx)
		if err != nil {
			return err
		}
		_ = yielded // Run doesn't care, but callers driving manually do.
	}
	return nil
}

// Step advances execution by one scheduler quantum: a run of
// synchronous ops up to the next gas-yield threshold, or exactly one
// asynchronous state-read op. It returns yielded=true if it stopped
// after an async op or at the gas-yield budget rather than at Halt or
// end-of-program, so a caller can resume by calling Step again.
func (e *Exec) Step(ctx context.Context) (yielded bool, err error) {
	for {
		op, ok, derr := e.mapped.At(e.pc)
		if derr != nil {
			return false, &OpError{PC: e.pc, Err: derr}
		}
		if !ok {
			e.halted = true
			return false, nil
		}

		opGas := e.gasCost(op)
		shouldYield, gerr := e.gas.charge(opGas)
		if gerr != nil {
			return false, &OpError{PC: e.pc, Err: gerr}
		}

		newPC, halt, serr := e.dispatch(ctx, op)
		if serr != nil {
			return false, &OpError{PC: e.pc, Err: serr}
		}
		if halt {
			e.halted = true
			return false, nil
		}
		e.pc = newPC

		if isAsync(op.Code) {
			// Async ops are their own scheduler quantum: yield control
			// back to the caller immediately after completing, since a
			// key-range read may still have a storage future pending.
			return true, nil
		}
		if shouldYield {
			return true, nil
		}
	}
}

func isAsync(code bytecode.Opcode) bool {
	return code == bytecode.OpKeyRange || code == bytecode.OpKeyRangeExtern
}

// dispatch executes a single op, returning the next program counter (or
// newPC is ignored if halt is true).
func (e *Exec) dispatch(ctx context.Context, op bytecode.Op) (newPC int, halt bool, err error) {
	switch op.Code {
	case bytecode.OpHalt:
		return 0, true, nil

	case bytecode.OpJump:
		return int(op.Operand), false, nil

	case bytecode.OpJumpIf:
		cond, err := e.stack.Pop1()
		if err != nil {
			return 0, false, err
		}
		switch cond {
		case 0:
			return e.pc + 1, false, nil
		case 1:
			return int(op.Operand), false, nil
		default:
			return 0, false, ErrInvalidJumpCondition
		}

	case bytecode.OpAlloc:
		n, err := e.stack.Pop1()
		if err != nil {
			return 0, false, err
		}
		if err := e.mem.Alloc(int(n)); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	case bytecode.OpFree:
		n, err := e.stack.Pop1()
		if err != nil {
			return 0, false, err
		}
		if err := e.mem.Free(int(n)); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	case bytecode.OpCapacity:
		e.stack.Push(types.Word(e.mem.Capacity()))
		return e.pc + 1, false, nil

	case bytecode.OpLength:
		e.stack.Push(types.Word(e.mem.Length()))
		return e.pc + 1, false, nil

	case bytecode.OpMemPush:
		w, err := e.stack.Pop1()
		if err != nil {
			return 0, false, err
		}
		if err := e.mem.Push(w); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	case bytecode.OpMemPushNone:
		if err := e.mem.PushNone(); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	case bytecode.OpMemStore:
		idx, w, err := e.stack.Pop2()
		if err != nil {
			return 0, false, err
		}
		if err := e.mem.Store(int(idx), w); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	case bytecode.OpMemLoad:
		idx, err := e.stack.Pop1()
		if err != nil {
			return 0, false, err
		}
		w, err := e.mem.Load(int(idx))
		if err != nil {
			return 0, false, err
		}
		e.stack.Push(w)
		return e.pc + 1, false, nil

	case bytecode.OpMemClear:
		idx, err := e.stack.Pop1()
		if err != nil {
			return 0, false, err
		}
		if err := e.mem.Clear(int(idx)); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	case bytecode.OpMemClearRange:
		idx, length, err := e.stack.Pop2()
		if err != nil {
			return 0, false, err
		}
		if err := e.mem.ClearRange(int(idx), int(length)); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	case bytecode.OpMemIsSome:
		idx, err := e.stack.Pop1()
		if err != nil {
			return 0, false, err
		}
		some, err := e.mem.IsSome(int(idx))
		if err != nil {
			return 0, false, err
		}
		e.stack.Push(boolWord(some))
		return e.pc + 1, false, nil

	case bytecode.OpMemTruncate:
		length, err := e.stack.Pop1()
		if err != nil {
			return 0, false, err
		}
		if err := e.mem.Truncate(int(length)); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	case bytecode.OpKeyRange:
		if err := e.execKeyRange(ctx, e.thisContract); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	case bytecode.OpKeyRangeExtern:
		addrWords, err := e.stack.PopN(4)
		if err != nil {
			return 0, false, err
		}
		if err := e.execKeyRange(ctx, wordsToAddress(addrWords)); err != nil {
			return 0, false, err
		}
		return e.pc + 1, false, nil

	default:
		return 0, false, fmt.Errorf("statevm: opcode %s not valid in state-read programs", op.Code)
	}
}

// execKeyRange pops (slotIndex, numValues, keylen, key...) and reads
// numValues consecutive entries starting at key from contract's state,
// storing them into memory starting at slotIndex.
func (e *Exec) execKeyRange(ctx context.Context, contract types.ContentAddress) error {
	slotIndex, err := e.stack.Pop1()
	if err != nil {
		return err
	}
	numValues, err := e.stack.Pop1()
	if err != nil {
		return err
	}
	keylen, err := e.stack.Pop1()
	if err != nil {
		return err
	}
	keyWords, err := e.stack.PopN(int(keylen))
	if err != nil {
		return err
	}
	key := types.Key(keyWords)

	values, err := readKeyRange(ctx, e.reader, contract, key, int(numValues))
	if err != nil {
		return err
	}
	need := int(slotIndex) + len(values)
	if need > e.mem.Capacity() {
		if err := e.mem.Alloc(need - e.mem.Capacity()); err != nil {
			return err
		}
	}
	for i, v := range values {
		idx := int(slotIndex) + i
		if err := e.mem.StoreValue(idx, v); err != nil {
			return err
		}
	}
	return nil
}

// readKeyRange delegates to reader.ReadKeyRange, returning nothing for a
// non-positive numValues.
func readKeyRange(ctx context.Context, reader StateReader, contract types.ContentAddress, start types.Key, numValues int) ([]types.Value, error) {
	if numValues <= 0 {
		return nil, nil
	}
	return reader.ReadKeyRange(ctx, contract, start, numValues)
}

// NextKey computes the lexicographic successor of key, treating it as
// a little-endian bignum (the last word is least significant; carry
// propagates toward the first). ok is false if every word was already
// at its maximum, i.e. there is no successor.
func NextKey(key types.Key) (next types.Key, ok bool) {
	out := make(types.Key, len(key))
	copy(out, key)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] == maxWord {
			out[i] = minWord
			continue
		}
		out[i]++
		return out, true
	}
	return out, false
}

const (
	maxWord = types.Word(1<<63 - 1)
	minWord = types.Word(-1 << 63)
)

func boolWord(b bool) types.Word {
	if b {
		return 1
	}
	return 0
}

func wordsToAddress(words []types.Word) types.ContentAddress {
	var ca types.ContentAddress
	for i := 0; i < 4 && i < len(words); i++ {
		u := uint64(words[i])
		for j := 0; j < 8; j++ {
			ca[i*8+j] = byte(u >> (56 - 8*j))
		}
	}
	return ca
}
