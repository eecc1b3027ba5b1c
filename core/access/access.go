// Package access implements the read-only projections the Constraint VM
// evaluates programs against: decision variables, transient data, and
// pre/post state slots, scoped to one solution-datum ("this_data")
// within a solution.
package access

import (
	"errors"
	"fmt"

	"github.com/essential-contributions/essential-core/core/types"
)

var (
	ErrDecisionSlotOutOfBounds        = errors.New("access: decision slot out of bounds")
	ErrSolutionDataOutOfBounds        = errors.New("access: solution data out of bounds")
	ErrTransientDecisionVariableCycle = errors.New("access: transient decision variable cycle")
	ErrStateSlotOutOfBounds           = errors.New("access: state slot out of bounds")
	ErrInvalidDelta                   = errors.New("access: delta must be 0 or 1")
	ErrStateSlotWasNone               = errors.New("access: state slot was none")
)

// Access projects a read-only view of one solution-datum's execution
// context: its own solution data plus the pre/post state slots the
// state-read VM populated for it.
type Access struct {
	SolutionData []types.SolutionData
	ThisIndex    int
	PreSlots     []types.Value
	PostSlots    []types.Value
}

// ThisData returns the solution-datum this access is scoped to.
func (a Access) ThisData() (types.SolutionData, error) {
	if a.ThisIndex < 0 || a.ThisIndex >= len(a.SolutionData) {
		return types.SolutionData{}, fmt.Errorf("%w: this_index %d", ErrSolutionDataOutOfBounds, a.ThisIndex)
	}
	return a.SolutionData[a.ThisIndex], nil
}

// DecisionVar resolves the decision variable at position varIndex of
// this_data, following any transient reference chain.
func (a Access) DecisionVar(varIndex int) (types.Word, error) {
	visited := make(map[[2]int]struct{})
	return a.resolveDecisionVar(a.ThisIndex, varIndex, visited)
}

// DecisionVarRange resolves len consecutive decision variables starting
// at varIndex of this_data.
func (a Access) DecisionVarRange(varIndex, length int) ([]types.Word, error) {
	out := make([]types.Word, 0, length)
	for i := 0; i < length; i++ {
		visited := make(map[[2]int]struct{})
		w, err := a.resolveDecisionVar(a.ThisIndex, varIndex+i, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// resolveDecisionVar follows a transient reference chain starting at
// (dataIndex, varIndex), detecting cycles via the visited-pair set.
func (a Access) resolveDecisionVar(dataIndex, varIndex int, visited map[[2]int]struct{}) (types.Word, error) {
	key := [2]int{dataIndex, varIndex}
	if _, seen := visited[key]; seen {
		return 0, ErrTransientDecisionVariableCycle
	}
	visited[key] = struct{}{}

	if dataIndex < 0 || dataIndex >= len(a.SolutionData) {
		return 0, fmt.Errorf("%w: data index %d", ErrSolutionDataOutOfBounds, dataIndex)
	}
	data := a.SolutionData[dataIndex]
	if varIndex < 0 || varIndex >= len(data.DecisionVariables) {
		return 0, fmt.Errorf("%w: var index %d (data %d)", ErrDecisionSlotOutOfBounds, varIndex, dataIndex)
	}
	dv := data.DecisionVariables[varIndex]
	if dv.Inline() {
		return dv.Value, nil
	}
	return a.resolveDecisionVar(dv.Transient.DataIndex, dv.Transient.VarIndex, visited)
}

// Transient looks up key in this_data's own transient data when pathway
// equals this_index, and in solution_data[pathway]'s transient data
// otherwise.
func (a Access) Transient(pathway int, key types.Key) (types.Value, bool, error) {
	if pathway < 0 || pathway >= len(a.SolutionData) {
		return nil, false, fmt.Errorf("%w: pathway %d", ErrSolutionDataOutOfBounds, pathway)
	}
	for _, entry := range a.SolutionData[pathway].TransientData {
		if keysEqual(entry.Key, key) {
			return entry.Value, true, nil
		}
	}
	return nil, false, nil
}

func keysEqual(a, b types.Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (a Access) slots(delta int) ([]types.Value, error) {
	switch delta {
	case 0:
		return a.PreSlots, nil
	case 1:
		return a.PostSlots, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidDelta, delta)
	}
}

// State returns the full Value at the given slot/delta. An absent slot
// is an empty Value, not an error; StateSlotWasNone is retained for
// callers that want the legacy strict behaviour (none of the new code
// invokes it).
func (a Access) State(slot, delta int) (types.Value, error) {
	slots, err := a.slots(delta)
	if err != nil {
		return nil, err
	}
	if slot < 0 || slot >= len(slots) {
		return nil, fmt.Errorf("%w: slot %d", ErrStateSlotOutOfBounds, slot)
	}
	return slots[slot], nil
}

// StateStrict is State but fails with ErrStateSlotWasNone on an absent
// slot, matching the legacy Option<Word> model.
func (a Access) StateStrict(slot, delta int) (types.Value, error) {
	v, err := a.State(slot, delta)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, ErrStateSlotWasNone
	}
	return v, nil
}

// StateLen returns the length of the slot's value, 0 if absent.
func (a Access) StateLen(slot, delta int) (int, error) {
	v, err := a.State(slot, delta)
	if err != nil {
		return 0, err
	}
	return len(v), nil
}

// StateIsSome reports whether the slot holds a non-empty value.
func (a Access) StateIsSome(slot, delta int) (bool, error) {
	n, err := a.StateLen(slot, delta)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// StateRange returns length consecutive slots' values starting at slot.
func (a Access) StateRange(slot, length, delta int) ([]types.Value, error) {
	slots, err := a.slots(delta)
	if err != nil {
		return nil, err
	}
	if slot < 0 || length < 0 || slot+length > len(slots) {
		return nil, fmt.Errorf("%w: range [%d,%d)", ErrStateSlotOutOfBounds, slot, slot+length)
	}
	out := make([]types.Value, length)
	copy(out, slots[slot:slot+length])
	return out, nil
}

// StateIsSomeRange returns whether each of length consecutive slots
// starting at slot is non-empty.
func (a Access) StateIsSomeRange(slot, length, delta int) ([]bool, error) {
	vs, err := a.StateRange(slot, length, delta)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(vs))
	for i, v := range vs {
		out[i] = len(v) != 0
	}
	return out, nil
}

// MutKeys returns the keys mutated by this_data.
func (a Access) MutKeys() ([]types.Key, error) {
	data, err := a.ThisData()
	if err != nil {
		return nil, err
	}
	out := make([]types.Key, len(data.StateMutations))
	for i, m := range data.StateMutations {
		out[i] = m.Key
	}
	return out, nil
}

// MutKeysContains reports whether this_data mutates key.
func (a Access) MutKeysContains(key types.Key) (bool, error) {
	keys, err := a.MutKeys()
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if keysEqual(k, key) {
			return true, nil
		}
	}
	return false, nil
}

// ThisAddress returns the content address of the predicate this_data
// proposes to solve.
func (a Access) ThisAddress() (types.ContentAddress, error) {
	data, err := a.ThisData()
	if err != nil {
		return types.ContentAddress{}, err
	}
	return data.PredicateToSolve.Predicate, nil
}

// ThisContractAddress returns the content address of the contract
// containing the predicate this_data proposes to solve.
func (a Access) ThisContractAddress() (types.ContentAddress, error) {
	data, err := a.ThisData()
	if err != nil {
		return types.ContentAddress{}, err
	}
	return data.PredicateToSolve.Contract, nil
}

// addressWords splits a content address into 4 big-endian words, the
// wire shape ThisAddress/ThisContractAddress push onto the stack.
func addressWords(ca types.ContentAddress) [4]types.Word {
	var out [4]types.Word
	for i := 0; i < 4; i++ {
		var u uint64
		for j := 0; j < 8; j++ {
			u = u<<8 | uint64(ca[i*8+j])
		}
		out[i] = types.Word(u)
	}
	return out
}

// AddressWords is exported for the constraint VM's dispatch layer.
func AddressWords(ca types.ContentAddress) [4]types.Word { return addressWords(ca) }
