// Package memory implements the State-Read VM's linear memory: a
// bounded vector of slots, each holding a whole types.Value (empty means
// absent), with alloc/free/push/store/load/clear semantics. Capacity and
// Length both report the number of slots currently reserved.
package memory

import (
	"errors"
	"fmt"

	"github.com/essential-contributions/essential-core/core/types"
)

// SizeLimit is the maximum number of slots memory may hold.
const SizeLimit = 4096

var (
	ErrCapacityOverflow = errors.New("memory: capacity overflow")
	ErrIndexOutOfBounds = errors.New("memory: index out of bounds")
)

// Memory is the state-read VM's linear memory. Each slot holds a
// types.Value; an empty Value is an absent slot and loads as the word 0
// through the single-word ops.
type Memory struct {
	slots []types.Value
}

// New returns empty memory.
func New() *Memory { return &Memory{} }

// Capacity returns the number of slots currently reserved.
func (m *Memory) Capacity() int { return len(m.slots) }

// Length is an alias for Capacity: memory has no separate "used" count
// distinct from its reserved slots — every reserved slot is either
// present or explicitly cleared (absent-but-reserved).
func (m *Memory) Length() int { return len(m.slots) }

// Alloc grows memory by n slots (initially absent), failing if the new
// capacity would exceed SizeLimit.
func (m *Memory) Alloc(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative alloc size %d", ErrCapacityOverflow, n)
	}
	if len(m.slots)+n > SizeLimit {
		return fmt.Errorf("%w: %d + %d > %d", ErrCapacityOverflow, len(m.slots), n, SizeLimit)
	}
	m.slots = append(m.slots, make([]types.Value, n)...)
	return nil
}

// Free shrinks memory by n slots from the end.
func (m *Memory) Free(n int) error {
	if n < 0 || n > len(m.slots) {
		return fmt.Errorf("%w: free %d of %d", ErrIndexOutOfBounds, n, len(m.slots))
	}
	m.slots = m.slots[:len(m.slots)-n]
	return nil
}

// Push appends a single present word, growing capacity by 1.
func (m *Memory) Push(w types.Word) error {
	if len(m.slots)+1 > SizeLimit {
		return fmt.Errorf("%w: push past %d", ErrCapacityOverflow, SizeLimit)
	}
	m.slots = append(m.slots, types.Value{w})
	return nil
}

// PushNone appends a single absent slot, growing capacity by 1.
func (m *Memory) PushNone() error {
	if len(m.slots)+1 > SizeLimit {
		return fmt.Errorf("%w: push past %d", ErrCapacityOverflow, SizeLimit)
	}
	m.slots = append(m.slots, nil)
	return nil
}

// Store writes the single word w into slot index, which must already be
// allocated. It replaces whatever Value was previously held there.
func (m *Memory) Store(index int, w types.Word) error {
	if index < 0 || index >= len(m.slots) {
		return fmt.Errorf("%w: store at %d (len %d)", ErrIndexOutOfBounds, index, len(m.slots))
	}
	m.slots[index] = types.Value{w}
	return nil
}

// Load returns the first word at index, or 0 if the slot is absent;
// returns an error only for an out-of-range index. Use AsSlots to read
// a slot's whole Value when it may hold more than one word.
func (m *Memory) Load(index int) (types.Word, error) {
	if index < 0 || index >= len(m.slots) {
		return 0, fmt.Errorf("%w: load at %d (len %d)", ErrIndexOutOfBounds, index, len(m.slots))
	}
	if len(m.slots[index]) == 0 {
		return 0, nil
	}
	return m.slots[index][0], nil
}

// Clear marks slot index absent without changing capacity.
func (m *Memory) Clear(index int) error {
	if index < 0 || index >= len(m.slots) {
		return fmt.Errorf("%w: clear at %d (len %d)", ErrIndexOutOfBounds, index, len(m.slots))
	}
	m.slots[index] = nil
	return nil
}

// ClearRange marks length consecutive slots starting at index absent.
func (m *Memory) ClearRange(index, length int) error {
	if index < 0 || length < 0 || index+length > len(m.slots) {
		return fmt.Errorf("%w: clear range [%d,%d) of %d", ErrIndexOutOfBounds, index, index+length, len(m.slots))
	}
	for i := index; i < index+length; i++ {
		m.slots[i] = nil
	}
	return nil
}

// IsSome reports whether slot index is present.
func (m *Memory) IsSome(index int) (bool, error) {
	if index < 0 || index >= len(m.slots) {
		return false, fmt.Errorf("%w: is_some at %d (len %d)", ErrIndexOutOfBounds, index, len(m.slots))
	}
	return len(m.slots[index]) != 0, nil
}

// Truncate shrinks memory to length slots; length must not exceed the
// current capacity.
func (m *Memory) Truncate(length int) error {
	if length < 0 || length > len(m.slots) {
		return fmt.Errorf("%w: truncate to %d (len %d)", ErrIndexOutOfBounds, length, len(m.slots))
	}
	m.slots = m.slots[:length]
	return nil
}

// StoreValue writes the whole Value v into the single slot index,
// allocating up to index if necessary. Used by the state-read op to
// deposit a key-range read result without truncating it to one word.
func (m *Memory) StoreValue(index int, v types.Value) error {
	if index >= len(m.slots) {
		if err := m.Alloc(index - len(m.slots) + 1); err != nil {
			return err
		}
	}
	if index < 0 {
		return fmt.Errorf("%w: store_value at %d (len %d)", ErrIndexOutOfBounds, index, len(m.slots))
	}
	m.slots[index] = v.Clone()
	return nil
}

// AsSlots returns the types.Value held at each slot, in order: an
// absent slot is an empty Value, a present slot is its full (possibly
// multi-word) Value. This is the shape access.Access expects for its
// PreSlots/PostSlots, one per state-read program's output.
func (m *Memory) AsSlots() []types.Value {
	out := make([]types.Value, len(m.slots))
	for i, s := range m.slots {
		out[i] = s.Clone()
	}
	return out
}
