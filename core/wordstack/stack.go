// Package wordstack implements the fixed-width word stack shared by the
// Constraint VM and the State-Read VM: a LIFO sequence of signed 64-bit
// words with checked arithmetic and comparison ops. Every operation
// either succeeds, leaving a well-defined new stack, or fails leaving
// the stack exactly as it was before the call — no partial pops.
package wordstack

import (
	"errors"
	"fmt"
	"math"

	"github.com/essential-contributions/essential-core/core/types"
)

// Word is an alias for the shared VM value type.
type Word = types.Word

var (
	ErrEmpty          = errors.New("wordstack: pop from empty stack")
	ErrOverflow       = errors.New("wordstack: arithmetic overflow")
	ErrUnderflow      = errors.New("wordstack: arithmetic underflow")
	ErrDivideByZero   = errors.New("wordstack: divide by zero")
)

// IndexOutOfBoundsError reports an index that exceeds the stack's depth,
// used by DupFrom and the pop-N family.
type IndexOutOfBoundsError struct {
	Index int
	Depth int
}

func (e *IndexOutOfBoundsError) Error() string {
	return fmt.Sprintf("wordstack: index %d out of bounds (depth %d)", e.Index, e.Depth)
}

// Stack is a LIFO sequence of words. The zero value is an empty stack.
type Stack struct {
	words []Word
}

// New returns a stack pre-loaded with the given words, bottom first.
func New(words ...Word) *Stack {
	s := &Stack{words: make([]Word, len(words))}
	copy(s.words, words)
	return s
}

// Len returns the current depth of the stack.
func (s *Stack) Len() int { return len(s.words) }

// Words returns the stack's contents, bottom first. The caller must not
// mutate the returned slice.
func (s *Stack) Words() []Word { return s.words }

// Push appends a single word to the top of the stack.
func (s *Stack) Push(w Word) {
	s.words = append(s.words, w)
}

// PushN appends words in order, so the last one ends up on top.
func (s *Stack) PushN(ws ...Word) {
	s.words = append(s.words, ws...)
}

// Pop1 removes and returns the top word.
func (s *Stack) Pop1() (Word, error) {
	n := len(s.words)
	if n < 1 {
		return 0, ErrEmpty
	}
	w := s.words[n-1]
	s.words = s.words[:n-1]
	return w, nil
}

// PopN removes and returns the top n words, in the order they were
// pushed (index 0 is the deepest of the popped group, the rest were
// pushed later). Fails without mutating the stack if n exceeds depth.
func (s *Stack) PopN(n int) ([]Word, error) {
	depth := len(s.words)
	if n < 0 || n > depth {
		return nil, &IndexOutOfBoundsError{Index: n, Depth: depth}
	}
	out := make([]Word, n)
	copy(out, s.words[depth-n:])
	s.words = s.words[:depth-n]
	return out, nil
}

// Pop2 is PopN(2) specialised: w0 was pushed first (deeper), w1 last
// (the original top). Non-commutative ops (Sub, Div, Mod, Gt, Lt, Swap)
// rely on this exact order.
func (s *Stack) Pop2() (w0, w1 Word, err error) {
	ws, err := s.PopN(2)
	if err != nil {
		return 0, 0, err
	}
	return ws[0], ws[1], nil
}

// Top returns the top word without popping it.
func (s *Stack) Top() (Word, error) {
	n := len(s.words)
	if n < 1 {
		return 0, ErrEmpty
	}
	return s.words[n-1], nil
}

// DupFrom pushes a copy of the word `revIndex` positions below the top
// (0 = the current top). revIndex must be within the current depth.
func (s *Stack) DupFrom(revIndex int) error {
	depth := len(s.words)
	if revIndex < 0 || revIndex >= depth {
		return &IndexOutOfBoundsError{Index: revIndex, Depth: depth}
	}
	s.words = append(s.words, s.words[depth-1-revIndex])
	return nil
}

// Dup duplicates the top word.
func (s *Stack) Dup() error { return s.DupFrom(0) }

// Swap exchanges the top two words.
func (s *Stack) Swap() error {
	w0, w1, err := s.Pop2()
	if err != nil {
		return err
	}
	s.PushN(w1, w0)
	return nil
}

// Pop pops and discards the top word.
func (s *Stack) Pop() error {
	_, err := s.Pop1()
	return err
}

// Add pops two words and pushes their checked sum.
func (s *Stack) Add() error { return s.binary(func(a, b Word) (Word, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}) }

// Sub pops (a, b) and pushes a - b, checked.
func (s *Stack) Sub() error { return s.binary(func(a, b Word) (Word, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, ErrUnderflow
	}
	return diff, nil
}) }

// Mul pops two words and pushes their checked product.
func (s *Stack) Mul() error { return s.binary(func(a, b Word) (Word, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a == math.MinInt64 && b == -1 {
		return 0, ErrOverflow
	}
	prod := a * b
	if prod/b != a {
		return 0, ErrOverflow
	}
	return prod, nil
}) }

// Div pops (a, b) and pushes a / b, checked for divide-by-zero.
func (s *Stack) Div() error { return s.binary(func(a, b Word) (Word, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return a / b, nil
}) }

// Mod pops (a, b) and pushes a % b, checked for divide-by-zero.
func (s *Stack) Mod() error { return s.binary(func(a, b Word) (Word, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return a % b, nil
}) }

// Eq pops two words and pushes 1 if equal, else 0.
func (s *Stack) Eq() error {
	return s.binary(func(a, b Word) (Word, error) { return boolWord(a == b), nil })
}

// Eq4 pops the top 8 words as two groups of 4 and pushes 1 iff every
// corresponding pair is equal.
func (s *Stack) Eq4() error {
	ws, err := s.PopN(8)
	if err != nil {
		return err
	}
	eq := true
	for i := 0; i < 4; i++ {
		if ws[i] != ws[i+4] {
			eq = false
			break
		}
	}
	s.Push(boolWord(eq))
	return nil
}

// Gt pops (a, b) and pushes 1 iff a > b.
func (s *Stack) Gt() error {
	return s.binary(func(a, b Word) (Word, error) { return boolWord(a > b), nil })
}

// Lt pops (a, b) and pushes 1 iff a < b.
func (s *Stack) Lt() error {
	return s.binary(func(a, b Word) (Word, error) { return boolWord(a < b), nil })
}

// Gte pops (a, b) and pushes 1 iff a >= b.
func (s *Stack) Gte() error {
	return s.binary(func(a, b Word) (Word, error) { return boolWord(a >= b), nil })
}

// Lte pops (a, b) and pushes 1 iff a <= b.
func (s *Stack) Lte() error {
	return s.binary(func(a, b Word) (Word, error) { return boolWord(a <= b), nil })
}

// And pops two words and pushes 1 iff both are non-zero.
func (s *Stack) And() error {
	return s.binary(func(a, b Word) (Word, error) { return boolWord(a != 0 && b != 0), nil })
}

// Or pops two words and pushes 1 iff either is non-zero.
func (s *Stack) Or() error {
	return s.binary(func(a, b Word) (Word, error) { return boolWord(a != 0 || b != 0), nil })
}

// Not pops one word and pushes 1 iff it was zero.
func (s *Stack) Not() error {
	w, err := s.Pop1()
	if err != nil {
		return err
	}
	s.Push(boolWord(w == 0))
	return nil
}

func (s *Stack) binary(f func(a, b Word) (Word, error)) error {
	a, b, err := s.Pop2()
	if err != nil {
		return err
	}
	res, err := f(a, b)
	if err != nil {
		// Restore the popped operands so a failed op leaves the stack
		// exactly as it found it.
		s.PushN(a, b)
		return err
	}
	s.Push(res)
	return nil
}

func boolWord(b bool) Word {
	if b {
		return 1
	}
	return 0
}
