package statevm

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/essential-contributions/essential-core/core/bytecode"
	"github.com/essential-contributions/essential-core/core/types"
)

type fakeReader struct {
	values map[string][]types.Value
}

func (r *fakeReader) ReadKeyRange(ctx context.Context, contract types.ContentAddress, key types.Key, numValues int) ([]types.Value, error) {
	out := make([]types.Value, numValues)
	for i := 0; i < numValues; i++ {
		out[i] = types.Value{types.Word(i + 1)}
	}
	return out, nil
}

func zeroGasCost(bytecode.Op) types.Gas { return 0 }

func unitGasCost(bytecode.Op) types.Gas { return 1 }

func TestExecRunHaltsAtHaltOp(t *testing.T) {
	program := bytecode.Encode([]bytecode.Op{
		{Code: bytecode.OpPush, Operand: 5},
		{Code: bytecode.OpHalt},
	})
	e := NewExec(program, types.ContentAddress{}, &fakeReader{}, zeroGasCost, DefaultGasLimit())
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !e.Done() {
		t.Fatal("expected Done() after Halt")
	}
}

func TestExecRunHaltsAtEndOfProgram(t *testing.T) {
	program := bytecode.Encode([]bytecode.Op{{Code: bytecode.OpPush, Operand: 1}})
	e := NewExec(program, types.ContentAddress{}, &fakeReader{}, zeroGasCost, DefaultGasLimit())
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !e.Done() {
		t.Fatal("expected Done() at end of program with no Halt")
	}
}

func TestStepYieldsAtPerYieldThreshold(t *testing.T) {
	program := bytecode.Encode([]bytecode.Op{
		{Code: bytecode.OpPush, Operand: 1},
		{Code: bytecode.OpPush, Operand: 2},
		{Code: bytecode.OpAdd},
		{Code: bytecode.OpHalt},
	})
	limit := GasLimit{Total: Unlimited, PerYield: 1}
	e := NewExec(program, types.ContentAddress{}, &fakeReader{}, unitGasCost, limit)
	yielded, err := e.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !yielded {
		t.Fatal("expected Step to yield after crossing PerYield threshold")
	}
	if e.Done() {
		t.Fatal("should not be done after first yield")
	}
}

func TestExecOutOfGas(t *testing.T) {
	program := bytecode.Encode([]bytecode.Op{
		{Code: bytecode.OpPush, Operand: 1},
		{Code: bytecode.OpPush, Operand: 2},
		{Code: bytecode.OpAdd},
	})
	limit := GasLimit{Total: 1, PerYield: DefaultPerYield}
	e := NewExec(program, types.ContentAddress{}, &fakeReader{}, unitGasCost, limit)
	err := e.Run(context.Background())
	var opErr *OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %v; want *OpError", err)
	}
	if !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("err = %v; want wrapping ErrOutOfGas", err)
	}
}

func TestExecKeyRangePopulatesMemory(t *testing.T) {
	program := bytecode.Encode([]bytecode.Op{
		{Code: bytecode.OpPush, Operand: 0}, // key length 0
		{Code: bytecode.OpPush, Operand: 3}, // numValues
		{Code: bytecode.OpPush, Operand: 0}, // slot index
		{Code: bytecode.OpKeyRange},
		{Code: bytecode.OpHalt},
	})
	e := NewExec(program, types.ContentAddress{}, &fakeReader{}, zeroGasCost, DefaultGasLimit())
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	slots := e.Memory().AsSlots()
	if len(slots) != 3 {
		t.Fatalf("memory length = %d; want 3", len(slots))
	}
	if slots[0][0] != 1 || slots[1][0] != 2 || slots[2][0] != 3 {
		t.Fatalf("slots = %v; want [1] [2] [3]", slots)
	}
}

type multiWordReader struct{}

func (multiWordReader) ReadKeyRange(ctx context.Context, contract types.ContentAddress, key types.Key, numValues int) ([]types.Value, error) {
	out := make([]types.Value, numValues)
	for i := 0; i < numValues; i++ {
		out[i] = types.Value{types.Word(i), types.Word(i * 10), types.Word(i * 100)}
	}
	return out, nil
}

func TestExecKeyRangePreservesMultiWordValues(t *testing.T) {
	program := bytecode.Encode([]bytecode.Op{
		{Code: bytecode.OpPush, Operand: 0}, // key length 0
		{Code: bytecode.OpPush, Operand: 2}, // numValues
		{Code: bytecode.OpPush, Operand: 0}, // slot index
		{Code: bytecode.OpKeyRange},
		{Code: bytecode.OpHalt},
	})
	e := NewExec(program, types.ContentAddress{}, multiWordReader{}, zeroGasCost, DefaultGasLimit())
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	slots := e.Memory().AsSlots()
	if len(slots) != 2 {
		t.Fatalf("memory length = %d; want 2", len(slots))
	}
	want1 := types.Value{1, 10, 100}
	if len(slots[1]) != len(want1) {
		t.Fatalf("slots[1] = %v; want %v", slots[1], want1)
	}
	for i, w := range want1 {
		if slots[1][i] != w {
			t.Fatalf("slots[1] = %v; want %v", slots[1], want1)
		}
	}
}

func TestExecJumpIfInvalidCondition(t *testing.T) {
	program := bytecode.Encode([]bytecode.Op{
		{Code: bytecode.OpPush, Operand: 2},
		{Code: bytecode.OpJumpIf, Operand: 0},
	})
	e := NewExec(program, types.ContentAddress{}, &fakeReader{}, zeroGasCost, DefaultGasLimit())
	err := e.Run(context.Background())
	if !errors.Is(err, ErrInvalidJumpCondition) {
		t.Fatalf("err = %v; want ErrInvalidJumpCondition", err)
	}
}

func TestExecJumpTakenWhenTrue(t *testing.T) {
	// ops: 0 PUSH 1, 1 JUMPIF->3, 2 HALT(skipped), 3 PUSH 9, 4 HALT
	program := bytecode.Encode([]bytecode.Op{
		{Code: bytecode.OpPush, Operand: 1},
		{Code: bytecode.OpJumpIf, Operand: 3},
		{Code: bytecode.OpHalt},
		{Code: bytecode.OpPush, Operand: 9},
		{Code: bytecode.OpHalt},
	})
	e := NewExec(program, types.ContentAddress{}, &fakeReader{}, zeroGasCost, DefaultGasLimit())
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !e.Done() {
		t.Fatal("expected Done() after taking the jump to Halt")
	}
}

func TestNextKeySimpleIncrement(t *testing.T) {
	next, ok := NextKey(types.Key{0, 0})
	if !ok {
		t.Fatal("expected a successor")
	}
	if len(next) != 2 || next[0] != 0 || next[1] != 1 {
		t.Fatalf("NextKey = %v; want [0 1]", next)
	}
}

func TestNextKeyCarryPropagates(t *testing.T) {
	next, ok := NextKey(types.Key{0, types.Word(math.MaxInt64)})
	if !ok {
		t.Fatal("expected a successor")
	}
	if next[0] != 1 || next[1] != types.Word(math.MinInt64) {
		t.Fatalf("NextKey = %v; want [1 minWord]", next)
	}
}

func TestNextKeyOverflowHasNoSuccessor(t *testing.T) {
	_, ok := NextKey(types.Key{types.Word(math.MaxInt64), types.Word(math.MaxInt64)})
	if ok {
		t.Fatal("expected no successor when every word is at max")
	}
}

func TestDefaultGasCostFallsBackForUnknownOpcode(t *testing.T) {
	cost := DefaultGasCost(bytecode.Op{Code: bytecode.Opcode(200)})
	if cost != DefaultOpGasCost {
		t.Fatalf("DefaultGasCost(unknown) = %d; want %d", cost, DefaultOpGasCost)
	}
}

func TestDefaultGasCostKnownOpcode(t *testing.T) {
	cost := DefaultGasCost(bytecode.Op{Code: bytecode.OpPush})
	if cost == 0 {
		t.Fatal("expected a nonzero gas cost for OpPush")
	}
}
