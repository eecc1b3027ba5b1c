package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/essential-contributions/essential-core/core/hashing"
	"github.com/essential-contributions/essential-core/core/types"
)

var log = logrus.WithField("component", "storage")

// contractEntry pairs a contract with its insertion time, so listing can
// filter by time range and order by recency without a second index.
type contractEntry struct {
	signed types.SignedContract
	at     time.Time
}

type solutionOutcomes struct {
	solution types.Solution
	outcomes []types.Outcome
}

// InMemory is a reference Storage implementation backed entirely by Go
// maps, guarded by a single RWMutex.
type InMemory struct {
	mu sync.RWMutex

	contracts   map[types.ContentAddress]*contractEntry
	predicates  map[types.PredicateAddress]types.Predicate
	solPool     map[types.ContentAddress]types.Solution
	solPoolFIFO []types.ContentAddress
	failedPool  []types.FailedSolution
	failedAt    []time.Time
	blocks      []types.Block
	outcomes    map[types.ContentAddress]*solutionOutcomes
	state       map[types.ContentAddress]map[string]types.Value
	nextBlockNo uint64

	contractSubs map[string]chan types.SignedContract
	blockSubs    map[string]chan types.Block
}

// NewInMemory returns an empty in-memory Storage.
func NewInMemory() *InMemory {
	return &InMemory{
		contracts:    make(map[types.ContentAddress]*contractEntry),
		predicates:   make(map[types.PredicateAddress]types.Predicate),
		solPool:      make(map[types.ContentAddress]types.Solution),
		outcomes:     make(map[types.ContentAddress]*solutionOutcomes),
		state:        make(map[types.ContentAddress]map[string]types.Value),
		contractSubs: make(map[string]chan types.SignedContract),
		blockSubs:    make(map[string]chan types.Block),
	}
}

// InsertContract inserts a signed contract, idempotent on its content
// address: re-inserting the same contract is a no-op.
func (m *InMemory) InsertContract(ctx context.Context, signed types.SignedContract) error {
	if !hashing.IsSortedByAddress(signed.Contract) {
		return fmt.Errorf("storage: predicates must be sorted by content address on insert")
	}
	ca := hashing.Contract(signed.Contract)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.contracts[ca]; exists {
		return nil
	}
	m.contracts[ca] = &contractEntry{signed: signed, at: time.Now()}
	for _, p := range signed.Contract.Predicates {
		pa := types.PredicateAddress{Contract: ca, Predicate: hashing.Predicate(p)}
		m.predicates[pa] = p
	}
	m.broadcastContract(signed)
	log.WithField("contract", fmt.Sprintf("%x", ca[:4])).Debug("inserted contract")
	return nil
}

func (m *InMemory) GetPredicate(ctx context.Context, addr types.PredicateAddress) (types.Predicate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.predicates[addr]
	return p, ok, nil
}

func (m *InMemory) GetContract(ctx context.Context, ca types.ContentAddress) (types.SignedContract, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.contracts[ca]
	if !ok {
		return types.SignedContract{}, false, nil
	}
	return e.signed, true, nil
}

func (m *InMemory) ListContracts(ctx context.Context, tr TimeRange, page int) ([]types.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type withTime struct {
		c  types.Contract
		at time.Time
	}
	var all []withTime
	for _, e := range m.contracts {
		if tr.Contains(e.at) {
			all = append(all, withTime{c: e.signed.Contract, at: e.at})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	return paginate(all, page, func(w withTime) types.Contract { return w.c }), nil
}

// InsertSolutionIntoPool inserts a solution, idempotent on hash; the
// FIFO order is the order of first insertion.
func (m *InMemory) InsertSolutionIntoPool(ctx context.Context, solution types.Solution) error {
	hash := hashing.Solution(solution)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.solPool[hash]; exists {
		return nil
	}
	m.solPool[hash] = solution
	m.solPoolFIFO = append(m.solPoolFIFO, hash)
	if m.outcomes[hash] == nil {
		m.outcomes[hash] = &solutionOutcomes{solution: solution}
	}
	return nil
}

func (m *InMemory) ListSolutionsPool(ctx context.Context, page int) ([]types.Solution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginate(m.solPoolFIFO, page, func(h types.ContentAddress) types.Solution {
		return m.solPool[h]
	}), nil
}

// MoveSolutionsToSolved is the legacy, non-atomic half of a block
// commit. The block builder never calls it; it exists for interface
// completeness and for tests that exercise the Storage contract
// directly. See CommitBlock for the atomic path this core actually uses.
func (m *InMemory) MoveSolutionsToSolved(ctx context.Context, hashes []types.ContentAddress) (types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	solutions := make([]types.Solution, 0, len(hashes))
	for _, h := range hashes {
		if sol, ok := m.solPool[h]; ok {
			solutions = append(solutions, sol)
			delete(m.solPool, h)
			m.removeFromFIFO(h)
		}
	}
	block := m.appendBlockLocked(solutions)
	for _, h := range hashes {
		m.recordOutcomeLocked(h, types.Outcome{Kind: types.OutcomeSuccess, BlockNum: block.Number})
	}
	return block, nil
}

func (m *InMemory) MoveSolutionsToFailed(ctx context.Context, failed []types.FailedSolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, f := range failed {
		h := hashing.Solution(f.Solution)
		delete(m.solPool, h)
		m.removeFromFIFO(h)
		m.failedPool = append(m.failedPool, f)
		m.failedAt = append(m.failedAt, now)
		m.recordOutcomeLocked(h, types.Outcome{Kind: types.OutcomeFail, FailReason: f.Reason})
	}
	return nil
}

func (m *InMemory) ListFailedSolutionsPool(ctx context.Context, page int) ([]types.FailedSolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginate(m.failedPool, page, func(f types.FailedSolution) types.FailedSolution { return f }), nil
}

// PruneFailedSolutions removes failed-pool entries older than olderThan.
func (m *InMemory) PruneFailedSolutions(ctx context.Context, olderThan time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	kept := m.failedPool[:0]
	keptAt := m.failedAt[:0]
	for i, f := range m.failedPool {
		if m.failedAt[i].After(cutoff) {
			kept = append(kept, f)
			keptAt = append(keptAt, m.failedAt[i])
		}
	}
	m.failedPool = kept
	m.failedAt = keptAt
	return nil
}

func (m *InMemory) ListBlocks(ctx context.Context, tr TimeRange, startBlock uint64, page int) ([]types.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var filtered []types.Block
	for _, b := range m.blocks {
		if b.Number < startBlock {
			continue
		}
		if !tr.Contains(b.Timestamp) {
			continue
		}
		filtered = append(filtered, b)
	}
	return paginate(filtered, page, func(b types.Block) types.Block { return b }), nil
}

func (m *InMemory) GetSolution(ctx context.Context, hash types.ContentAddress) (types.Solution, []types.Outcome, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outcomes[hash]
	if !ok {
		return types.Solution{}, nil, false, nil
	}
	return o.solution, append([]types.Outcome(nil), o.outcomes...), true, nil
}

// CommitBlock performs the builder's three logically-atomic actions in
// one call: moving failed solutions to the failed pool, moving solved
// solutions into a new block, and flushing state updates.
func (m *InMemory) CommitBlock(ctx context.Context, req CommitBlockRequest) (types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, f := range req.Failed {
		h := hashing.Solution(f.Solution)
		delete(m.solPool, h)
		m.removeFromFIFO(h)
		m.failedPool = append(m.failedPool, f)
		m.failedAt = append(m.failedAt, now)
		m.recordOutcomeLocked(h, types.Outcome{Kind: types.OutcomeFail, FailReason: f.Reason})
	}

	for contract, muts := range req.StateUpdates {
		if m.state[contract] == nil {
			m.state[contract] = make(map[string]types.Value)
		}
		for _, mu := range muts {
			ks := keyString(mu.Key)
			if len(mu.Value) == 0 {
				delete(m.state[contract], ks)
			} else {
				m.state[contract][ks] = mu.Value
			}
		}
	}

	block := m.appendBlockLocked(req.Solved)
	for _, sol := range req.Solved {
		h := hashing.Solution(sol)
		delete(m.solPool, h)
		m.removeFromFIFO(h)
		m.recordOutcomeLocked(h, types.Outcome{Kind: types.OutcomeSuccess, BlockNum: block.Number})
	}
	if len(req.Solved) > 0 {
		m.broadcastBlock(block)
	}
	return block, nil
}

// appendBlockLocked appends a block of solutions, assigning it the next
// sequential number only if it's non-empty (empty ticks never advance
// block.number, per the Open Question decision in SPEC_FULL.md).
func (m *InMemory) appendBlockLocked(solutions []types.Solution) types.Block {
	block := types.Block{
		Number:    m.nextBlockNo,
		Timestamp: time.Now(),
		Solutions: solutions,
	}
	if len(solutions) == 0 {
		return block
	}
	m.blocks = append(m.blocks, block)
	m.nextBlockNo++
	return block
}

func (m *InMemory) recordOutcomeLocked(hash types.ContentAddress, outcome types.Outcome) {
	o, ok := m.outcomes[hash]
	if !ok {
		return
	}
	o.outcomes = append(o.outcomes, outcome)
}

func (m *InMemory) removeFromFIFO(hash types.ContentAddress) {
	for i, h := range m.solPoolFIFO {
		if h == hash {
			m.solPoolFIFO = append(m.solPoolFIFO[:i], m.solPoolFIFO[i+1:]...)
			return
		}
	}
}

func (m *InMemory) QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state[contract][keyString(key)].Clone(), nil
}

func (m *InMemory) UpdateState(ctx context.Context, contract types.ContentAddress, key types.Key, value types.Value) (types.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state[contract] == nil {
		m.state[contract] = make(map[string]types.Value)
	}
	ks := keyString(key)
	prev := m.state[contract][ks]
	if len(value) != 0 {
		m.state[contract][ks] = value
	} else {
		delete(m.state[contract], ks)
	}
	return prev, nil
}

// UpdateStateBatch applies every update in a single call, the one
// round-trip the overlay's commit design note requires.
func (m *InMemory) UpdateStateBatch(ctx context.Context, updates []types.Mutation, contract types.ContentAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state[contract] == nil {
		m.state[contract] = make(map[string]types.Value)
	}
	for _, u := range updates {
		ks := keyString(u.Key)
		if len(u.Value) == 0 {
			delete(m.state[contract], ks)
		} else {
			m.state[contract][ks] = u.Value
		}
	}
	return nil
}

// SubscribeContracts returns a channel delivering every contract
// inserted after subscription, and a cancel func to stop delivery.
func (m *InMemory) SubscribeContracts(ctx context.Context) (<-chan types.SignedContract, func()) {
	id := uuid.NewString()
	ch := make(chan types.SignedContract, 16)
	m.mu.Lock()
	m.contractSubs[id] = ch
	m.mu.Unlock()
	cancel := func() {
		m.mu.Lock()
		delete(m.contractSubs, id)
		m.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// SubscribeBlocks returns a channel delivering every block committed
// after subscription, and a cancel func to stop delivery.
func (m *InMemory) SubscribeBlocks(ctx context.Context) (<-chan types.Block, func()) {
	id := uuid.NewString()
	ch := make(chan types.Block, 16)
	m.mu.Lock()
	m.blockSubs[id] = ch
	m.mu.Unlock()
	cancel := func() {
		m.mu.Lock()
		delete(m.blockSubs, id)
		m.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// broadcastContract and broadcastBlock fan out to subscribers without
// blocking the caller on a slow or absent reader.
func (m *InMemory) broadcastContract(signed types.SignedContract) {
	for _, ch := range m.contractSubs {
		select {
		case ch <- signed:
		default:
		}
	}
}

func (m *InMemory) broadcastBlock(block types.Block) {
	for _, ch := range m.blockSubs {
		select {
		case ch <- block:
		default:
		}
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

func paginate[T any, R any](items []T, page int, project func(T) R) []R {
	if page < 0 {
		page = 0
	}
	start := page * PageSize
	if start >= len(items) {
		return nil
	}
	end := start + PageSize
	if end > len(items) {
		end = len(items)
	}
	out := make([]R, 0, end-start)
	for _, it := range items[start:end] {
		out = append(out, project(it))
	}
	return out
}
