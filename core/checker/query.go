package checker

import (
	"context"

	"github.com/essential-contributions/essential-core/core/statevm"
	"github.com/essential-contributions/essential-core/core/types"
)

// StateRead records one state-read query a recording run observed.
type StateRead struct {
	Contract  types.ContentAddress
	Key       types.Key
	NumValues int
	Values    []types.Value
}

// recordingReader wraps a statevm.StateReader, appending every query it
// serves to Reads. Used by QueryStateReads so a caller can inspect which
// keys a predicate's state-read programs would touch without needing to
// also run its constraints.
type recordingReader struct {
	inner statevm.StateReader
	Reads []StateRead
}

func (r *recordingReader) ReadKeyRange(ctx context.Context, contract types.ContentAddress, key types.Key, numValues int) ([]types.Value, error) {
	values, err := r.inner.ReadKeyRange(ctx, contract, key, numValues)
	if err != nil {
		return nil, err
	}
	r.Reads = append(r.Reads, StateRead{Contract: contract, Key: key, NumValues: numValues, Values: values})
	return values, nil
}

// QueryStateReads runs datum's predicate's state-read programs against
// reader and returns every key range they read plus the slots they
// produced, without evaluating any constraint program. This is the
// introspection entrypoint a client uses to preview a predicate's state
// dependencies before submitting a solution.
func (c *Checker) QueryStateReads(ctx context.Context, datum types.SolutionData, reader statevm.StateReader) ([]StateRead, []types.Value, error) {
	predicate, found, err := c.fetchPredicate(ctx, datum.PredicateToSolve)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}

	rec := &recordingReader{inner: reader}
	slots, _, err := runStateReadPrograms(ctx, predicate.StateRead, datum.PredicateToSolve.Contract, rec, c.gasCost, c.gasLimit)
	if err != nil {
		return nil, nil, err
	}
	return rec.Reads, slots, nil
}
