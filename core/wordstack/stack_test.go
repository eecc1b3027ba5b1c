package wordstack

import (
	"errors"
	"math"
	"testing"
)

func TestPushPop(t *testing.T) {
	s := New()
	s.Push(1)
	s.Push(2)
	w, err := s.Pop1()
	if err != nil || w != 2 {
		t.Fatalf("Pop1 = %d, %v; want 2, nil", w, err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d; want 1", s.Len())
	}
}

func TestPop1EmptyFails(t *testing.T) {
	s := New()
	if _, err := s.Pop1(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v; want ErrEmpty", err)
	}
}

func TestPop2Order(t *testing.T) {
	s := New(10, 20)
	w0, w1, err := s.Pop2()
	if err != nil {
		t.Fatal(err)
	}
	if w0 != 10 || w1 != 20 {
		t.Fatalf("Pop2 = (%d, %d); want (10, 20)", w0, w1)
	}
}

func TestSubNonCommutative(t *testing.T) {
	s := New(10, 3)
	if err := s.Sub(); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Top()
	if got != 7 {
		t.Fatalf("10 - 3 = %d; want 7", got)
	}
}

func TestDivByZeroLeavesStackIntact(t *testing.T) {
	s := New(5, 0)
	if err := s.Div(); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("err = %v; want ErrDivideByZero", err)
	}
	if s.Len() != 2 {
		t.Fatalf("stack mutated on failure: len = %d", s.Len())
	}
	w0, w1, _ := s.Pop2()
	if w0 != 5 || w1 != 0 {
		t.Fatalf("stack contents changed on failure: (%d, %d)", w0, w1)
	}
}

func TestAddOverflowLeavesStackIntact(t *testing.T) {
	s := New(math.MaxInt64, 1)
	if err := s.Add(); !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v; want ErrOverflow", err)
	}
	if s.Len() != 2 {
		t.Fatalf("stack mutated on overflow: len = %d", s.Len())
	}
}

func TestSwap(t *testing.T) {
	s := New(1, 2)
	if err := s.Swap(); err != nil {
		t.Fatal(err)
	}
	w0, w1, _ := s.Pop2()
	if w0 != 2 || w1 != 1 {
		t.Fatalf("Swap result = (%d, %d); want (2, 1)", w0, w1)
	}
}

func TestDupFrom(t *testing.T) {
	s := New(1, 2, 3)
	if err := s.DupFrom(2); err != nil {
		t.Fatal(err)
	}
	top, _ := s.Top()
	if top != 1 {
		t.Fatalf("DupFrom(2) top = %d; want 1", top)
	}
}

func TestDupFromOutOfBounds(t *testing.T) {
	s := New(1)
	err := s.DupFrom(5)
	var oob *IndexOutOfBoundsError
	if !errors.As(err, &oob) {
		t.Fatalf("err = %v; want IndexOutOfBoundsError", err)
	}
}

func TestComparisons(t *testing.T) {
	cases := []struct {
		name string
		a, b Word
		op   func(*Stack) error
		want Word
	}{
		{"Gt true", 5, 3, (*Stack).Gt, 1},
		{"Gt false", 3, 5, (*Stack).Gt, 0},
		{"Lt true", 3, 5, (*Stack).Lt, 1},
		{"Gte equal", 5, 5, (*Stack).Gte, 1},
		{"Lte equal", 5, 5, (*Stack).Lte, 1},
		{"Eq true", 5, 5, (*Stack).Eq, 1},
		{"Eq false", 5, 6, (*Stack).Eq, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := New(c.a, c.b)
			if err := c.op(s); err != nil {
				t.Fatal(err)
			}
			got, _ := s.Top()
			if got != c.want {
				t.Fatalf("got %d; want %d", got, c.want)
			}
		})
	}
}

func TestEq4(t *testing.T) {
	s := New(1, 2, 3, 4, 1, 2, 3, 4)
	if err := s.Eq4(); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Top()
	if got != 1 {
		t.Fatalf("Eq4 of identical groups = %d; want 1", got)
	}

	s2 := New(1, 2, 3, 4, 1, 2, 3, 5)
	if err := s2.Eq4(); err != nil {
		t.Fatal(err)
	}
	got2, _ := s2.Top()
	if got2 != 0 {
		t.Fatalf("Eq4 of differing groups = %d; want 0", got2)
	}
}

func TestAndOrNot(t *testing.T) {
	s := New(1, 0)
	if err := s.And(); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Pop1()
	if got != 0 {
		t.Fatalf("1 AND 0 = %d; want 0", got)
	}

	s2 := New(0, 1)
	if err := s2.Or(); err != nil {
		t.Fatal(err)
	}
	got2, _ := s2.Pop1()
	if got2 != 1 {
		t.Fatalf("0 OR 1 = %d; want 1", got2)
	}

	s3 := New(0)
	if err := s3.Not(); err != nil {
		t.Fatal(err)
	}
	got3, _ := s3.Pop1()
	if got3 != 1 {
		t.Fatalf("NOT 0 = %d; want 1", got3)
	}
}
