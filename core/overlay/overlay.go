// Package overlay implements the transactional, copy-on-write state
// layer: it buffers reads and writes over a Storage so a candidate
// solution's mutations can be applied speculatively and then committed
// or rolled back atomically.
package overlay

import (
	"context"
	"errors"
	"sync"

	"github.com/essential-contributions/essential-core/core/statevm"
	"github.com/essential-contributions/essential-core/core/types"
)

var errKeyRangeOverflow = errors.New("overlay: key range iteration overflowed")

// mutation is either an insert of a present value or a delete (an empty
// Value per the state-slot model: absent == empty Value).
type mutation struct {
	value types.Value
}

// Reader is the subset of Storage the overlay reads through.
type Reader interface {
	QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error)
}

// Writer is the subset of Storage the overlay commits through.
type Writer interface {
	UpdateStateBatch(ctx context.Context, updates []types.Mutation, contract types.ContentAddress) error
}

// Storage is the combination overlay needs.
type Storage interface {
	Reader
	Writer
}

// Overlay buffers mutations over a Storage, keyed per contract.
type Overlay struct {
	mu      sync.RWMutex
	storage Storage
	buffer  map[types.ContentAddress]map[string]mutation
}

// New wraps storage in a fresh, empty overlay.
func New(storage Storage) *Overlay {
	return &Overlay{
		storage: storage,
		buffer:  make(map[types.ContentAddress]map[string]mutation),
	}
}

func keyString(k types.Key) string {
	b := make([]byte, len(k)*8)
	for i, w := range k {
		u := uint64(w)
		for j := 0; j < 8; j++ {
			b[i*8+j] = byte(u >> (56 - 8*j))
		}
	}
	return string(b)
}

// QueryState returns the overlay's own buffered value for (contract,
// key) if present, otherwise delegates to the underlying Storage.
func (o *Overlay) QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error) {
	o.mu.RLock()
	if m, ok := o.buffer[contract]; ok {
		if mut, ok := m[keyString(key)]; ok {
			o.mu.RUnlock()
			return mut.value, nil
		}
	}
	o.mu.RUnlock()
	return o.storage.QueryState(ctx, contract, key)
}

// UpdateState records a mutation (an empty value deletes the key) and
// returns the previous effective value.
func (o *Overlay) UpdateState(ctx context.Context, contract types.ContentAddress, key types.Key, value types.Value) (types.Value, error) {
	prev, err := o.QueryState(ctx, contract, key)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	if o.buffer[contract] == nil {
		o.buffer[contract] = make(map[string]mutation)
	}
	o.buffer[contract][keyString(key)] = mutation{value: value}
	o.mu.Unlock()
	return prev, nil
}

// Clone returns a new Overlay sharing the same underlying Storage but
// with an independent copy of the buffered mutations, so speculative
// application of one candidate solution doesn't affect another.
func (o *Overlay) Clone() *Overlay {
	o.mu.RLock()
	defer o.mu.RUnlock()
	clone := New(o.storage)
	for contract, m := range o.buffer {
		cm := make(map[string]mutation, len(m))
		for k, v := range m {
			cm[k] = v
		}
		clone.buffer[contract] = cm
	}
	return clone
}

// Commit flushes every buffered mutation to Storage as one batched call
// per contract. On a Storage error, the overlay's buffer is left intact
// so the caller may retry or explicitly Rollback.
func (o *Overlay) Commit(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for contract, m := range o.buffer {
		muts := make([]types.Mutation, 0, len(m))
		for ks, mut := range m {
			k := keyFromString(ks)
			muts = append(muts, types.Mutation{Key: k, Value: mut.value})
		}
		if err := o.storage.UpdateStateBatch(ctx, muts, contract); err != nil {
			return err
		}
	}
	o.buffer = make(map[types.ContentAddress]map[string]mutation)
	return nil
}

// Rollback discards every buffered mutation without touching Storage.
func (o *Overlay) Rollback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buffer = make(map[types.ContentAddress]map[string]mutation)
}

// ReadKeyRange reads numValues consecutive entries starting at key from
// contract's state, walking the next-key successor for each subsequent
// entry. It satisfies core/statevm.StateReader so the overlay itself
// can be bound to the state-read VM as a post-state source.
func (o *Overlay) ReadKeyRange(ctx context.Context, contract types.ContentAddress, key types.Key, numValues int) ([]types.Value, error) {
	return readKeyRange(ctx, o, contract, key, numValues)
}

// readKeyRange is shared by Overlay and any plain Reader-backed source.
func readKeyRange(ctx context.Context, r Reader, contract types.ContentAddress, key types.Key, numValues int) ([]types.Value, error) {
	out := make([]types.Value, 0, numValues)
	cur := key
	for i := 0; i < numValues; i++ {
		val, err := r.QueryState(ctx, contract, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
		if i+1 < numValues {
			next, ok := statevm.NextKey(cur)
			if !ok {
				return nil, errKeyRangeOverflow
			}
			cur = next
		}
	}
	return out, nil
}

func keyFromString(s string) types.Key {
	b := []byte(s)
	k := make(types.Key, len(b)/8)
	for i := range k {
		var u uint64
		for j := 0; j < 8; j++ {
			u = u<<8 | uint64(b[i*8+j])
		}
		k[i] = types.Word(u)
	}
	return k
}
