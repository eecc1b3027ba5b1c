package statevm

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/essential-contributions/essential-core/core/bytecode"
	"github.com/essential-contributions/essential-core/core/types"
)

var log = logrus.WithField("component", "statevm")

// DefaultOpGasCost is charged for any opcode missing from the cost table.
// Deliberately punitive so a gap in the table fails loudly in testing
// rather than silently under-pricing an op in production.
const DefaultOpGasCost types.Gas = 10_000

// gasTable is the base per-op cost. Ops that read storage (KeyRange,
// KeyRangeExtern) are priced well above pure stack/ALU and memory ops.
var gasTable = map[bytecode.Opcode]types.Gas{
	bytecode.OpPush:    1,
	bytecode.OpPop:     1,
	bytecode.OpDup:     1,
	bytecode.OpDupFrom: 2,
	bytecode.OpSwap:    1,

	bytecode.OpAdd:  2,
	bytecode.OpSub:  2,
	bytecode.OpMul:  3,
	bytecode.OpDiv:  5,
	bytecode.OpMod:  5,
	bytecode.OpEq:   2,
	bytecode.OpEq4:  4,
	bytecode.OpGt:   2,
	bytecode.OpLt:   2,
	bytecode.OpGte:  2,
	bytecode.OpLte:  2,
	bytecode.OpAnd:  2,
	bytecode.OpOr:   2,
	bytecode.OpNot:  1,

	bytecode.OpDecisionVar:      3,
	bytecode.OpDecisionVarRange: 5,
	bytecode.OpTransient:        6,
	bytecode.OpState:            4,
	bytecode.OpStateLen:         3,
	bytecode.OpStateIsSome:      3,
	bytecode.OpStateRange:       8,
	bytecode.OpStateIsSomeRange: 6,
	bytecode.OpMutKeys:          6,
	bytecode.OpMutKeysLen:       3,
	bytecode.OpMutKeysContains:  5,
	bytecode.OpThisAddress:      2,
	bytecode.OpThisContractAddress: 2,

	bytecode.OpSha256:        30,
	bytecode.OpVerifyEd25519: 200,

	bytecode.OpJump:   2,
	bytecode.OpJumpIf: 2,
	bytecode.OpHalt:   1,

	bytecode.OpAlloc:        4,
	bytecode.OpFree:         2,
	bytecode.OpCapacity:     1,
	bytecode.OpLength:       1,
	bytecode.OpMemPush:      2,
	bytecode.OpMemPushNone:  2,
	bytecode.OpMemStore:     3,
	bytecode.OpMemLoad:      3,
	bytecode.OpMemClear:     2,
	bytecode.OpMemClearRange: 4,
	bytecode.OpMemIsSome:    2,
	bytecode.OpMemTruncate:  2,

	bytecode.OpKeyRange:       50,
	bytecode.OpKeyRangeExtern: 60,
}

var warnOnce sync.Map

// DefaultGasCost returns the base cost of op, falling back to
// DefaultOpGasCost and logging exactly once per missing opcode.
func DefaultGasCost(op bytecode.Op) types.Gas {
	if cost, ok := gasTable[op.Code]; ok {
		return cost
	}
	if _, logged := warnOnce.LoadOrStore(op.Code, struct{}{}); !logged {
		log.WithField("opcode", op.Code.String()).Warn("missing gas cost, charging default")
	}
	return DefaultOpGasCost
}
