package bytecode

import (
	"testing"

	"github.com/essential-contributions/essential-core/core/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ops := []Op{
		{Code: OpPush, Operand: 42},
		{Code: OpDup},
		{Code: OpAdd},
		{Code: OpJumpIf, Operand: 7},
		{Code: OpHalt},
	}
	program := Encode(ops)
	decoded, err := Decode(program)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(ops) {
		t.Fatalf("decoded %d ops; want %d", len(decoded), len(ops))
	}
	for i, op := range ops {
		if decoded[i] != op {
			t.Fatalf("op %d = %+v; want %+v", i, decoded[i], op)
		}
	}
}

func TestOpsWithoutOperandDontConsumeBytes(t *testing.T) {
	program := Encode([]Op{{Code: OpPop}, {Code: OpPop}})
	if len(program) != 2 {
		t.Fatalf("program length = %d; want 2 (one byte per op)", len(program))
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := Decode([]byte{0xFF})
	if err == nil {
		t.Fatal("expected error decoding unknown opcode")
	}
}

func TestDecodeTruncatedOperand(t *testing.T) {
	program := []byte{byte(OpPush), 0, 0, 0}
	_, err := Decode(program)
	if err == nil {
		t.Fatal("expected error decoding truncated operand")
	}
}

func TestMappedAtSequentialAccess(t *testing.T) {
	ops := []Op{
		{Code: OpPush, Operand: 1},
		{Code: OpPush, Operand: 2},
		{Code: OpAdd},
		{Code: OpHalt},
	}
	m := NewMapped(Encode(ops))
	for i, want := range ops {
		op, ok, err := m.At(i)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("At(%d) ok = false", i)
		}
		if op != want {
			t.Fatalf("At(%d) = %+v; want %+v", i, op, want)
		}
	}
	_, ok, err := m.At(len(ops))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("At(len(ops)) should report no more ops")
	}
}

func TestMappedAtRandomAccessAfterSequential(t *testing.T) {
	ops := []Op{
		{Code: OpPush, Operand: 1},
		{Code: OpPush, Operand: 2},
		{Code: OpJump, Operand: 0},
	}
	m := NewMapped(Encode(ops))
	// Visit op 2 first, forcing the lazy parser to walk through 0 and 1.
	op, ok, err := m.At(2)
	if err != nil || !ok {
		t.Fatalf("At(2) = %+v, %v, %v", op, ok, err)
	}
	if op.Code != OpJump {
		t.Fatalf("At(2).Code = %v; want OpJump", op.Code)
	}
	// Re-visiting an earlier op should return the cached decode.
	op0, _, err := m.At(0)
	if err != nil {
		t.Fatal(err)
	}
	if op0.Operand != 1 {
		t.Fatalf("At(0).Operand = %d; want 1", op0.Operand)
	}
}

func TestHasOperand(t *testing.T) {
	for _, op := range []Opcode{OpPush, OpDupFrom, OpJump, OpJumpIf} {
		if !HasOperand(op) {
			t.Errorf("HasOperand(%v) = false; want true", op)
		}
	}
	for _, op := range []Opcode{OpPop, OpAdd, OpHalt, OpSha256} {
		if HasOperand(op) {
			t.Errorf("HasOperand(%v) = true; want false", op)
		}
	}
}

func TestOperandSurvivesNegativeWords(t *testing.T) {
	program := Encode([]Op{{Code: OpPush, Operand: types.Word(-12345)}})
	ops, err := Decode(program)
	if err != nil {
		t.Fatal(err)
	}
	if ops[0].Operand != -12345 {
		t.Fatalf("decoded operand = %d; want -12345", ops[0].Operand)
	}
}
