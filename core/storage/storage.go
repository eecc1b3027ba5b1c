// Package storage defines the Storage interface the execution core
// consumes — contract/predicate CRUD, the solution pool, solved blocks,
// state key/value storage, and the failed pool — plus an in-memory
// reference implementation for tests and local runs. The durable
// backend's physical layout (SQL, on-disk, etc.) is out of scope; this
// package only fixes the contract every implementation must satisfy.
package storage

import (
	"context"
	"time"

	"github.com/essential-contributions/essential-core/core/types"
)

// PageSize is the fixed page size for every paginated list method.
const PageSize = 100

// TimeRange bounds a list query by insertion/commit time. A zero value
// on either end means unbounded in that direction.
type TimeRange struct {
	From, To time.Time
}

// Contains reports whether t falls within the range (zero bounds treated
// as open-ended).
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// CommitBlockRequest bundles the three logically-atomic actions the
// block builder performs at the end of a tick: moving solutions to the
// failed pool with reasons, moving solutions into a new block, and
// flushing state updates. Storage.CommitBlock is the preferred atomic
// path; MoveSolutionsToFailed and MoveSolutionsToSolved remain as the
// non-atomic legacy path, and the block builder uses only CommitBlock.
type CommitBlockRequest struct {
	Failed       []types.FailedSolution
	Solved       []types.Solution
	StateUpdates map[types.ContentAddress][]types.Mutation
}

// Storage is everything the execution core consumes from durable
// storage. Implementations must be safe for concurrent readers and for
// a single committing writer at a time.
type Storage interface {
	// Contracts and predicates.
	InsertContract(ctx context.Context, signed types.SignedContract) error
	GetPredicate(ctx context.Context, addr types.PredicateAddress) (types.Predicate, bool, error)
	GetContract(ctx context.Context, ca types.ContentAddress) (types.SignedContract, bool, error)
	ListContracts(ctx context.Context, tr TimeRange, page int) ([]types.Contract, error)

	// Solution pool.
	InsertSolutionIntoPool(ctx context.Context, solution types.Solution) error
	ListSolutionsPool(ctx context.Context, page int) ([]types.Solution, error)
	MoveSolutionsToSolved(ctx context.Context, hashes []types.ContentAddress) (types.Block, error)
	MoveSolutionsToFailed(ctx context.Context, failed []types.FailedSolution) error
	ListFailedSolutionsPool(ctx context.Context, page int) ([]types.FailedSolution, error)
	PruneFailedSolutions(ctx context.Context, olderThan time.Duration) error

	// Blocks.
	ListBlocks(ctx context.Context, tr TimeRange, startBlock uint64, page int) ([]types.Block, error)
	GetSolution(ctx context.Context, hash types.ContentAddress) (types.Solution, []types.Outcome, bool, error)
	CommitBlock(ctx context.Context, req CommitBlockRequest) (types.Block, error)

	// State. A Value with len == 0 means absent; there is no separate
	// Option wrapper.
	QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error)
	UpdateState(ctx context.Context, contract types.ContentAddress, key types.Key, value types.Value) (types.Value, error)
	UpdateStateBatch(ctx context.Context, updates []types.Mutation, contract types.ContentAddress) error

	// Subscriptions.
	SubscribeContracts(ctx context.Context) (<-chan types.SignedContract, func())
	SubscribeBlocks(ctx context.Context) (<-chan types.Block, func())
}
