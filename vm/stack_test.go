package vm

import (
	"errors"
	"testing"
)

func faultKind(t *testing.T, err error) FaultKind {
	t.Helper()
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want a *Fault", err)
	}
	return f.Kind
}

func TestConvStackPushPop(t *testing.T) {
	s := newConvStack(2, 4)
	if err := s.Push(Int(7)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push(Address(1)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push(Int(9)); faultKind(t, err) != FaultStackOverflow {
		t.Errorf("push past the limit: %v", err)
	}

	top, err := s.Top(0)
	if err != nil || top != Address(1) {
		t.Errorf("Top(0) = %v, %v", top, err)
	}
	if v, _ := s.Top(1); v != Int(7) {
		t.Errorf("Top(1) = %v, want 7", v)
	}
	if _, err := s.Top(4); faultKind(t, err) != FaultStackUnderflow {
		t.Errorf("Top(4): %v", err)
	}

	for range 4 {
		if _, err := s.Pop(); err != nil {
			t.Fatalf("Pop: %v", err)
		}
	}
	if _, err := s.Pop(); faultKind(t, err) != FaultStackUnderflow {
		t.Errorf("pop of an empty stack: %v", err)
	}
}

func TestConvStackAddressing(t *testing.T) {
	s := newConvStack(3, 8)
	if err := s.Set(2, Int(5)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := s.At(2); err != nil || v.Int() != 5 {
		t.Errorf("At(2) = %v, %v", v, err)
	}
	for _, addr := range []int{-1, 3} {
		if _, err := s.At(addr); faultKind(t, err) != FaultBadAddress {
			t.Errorf("At(%d): %v", addr, err)
		}
		if err := s.Set(addr, Int(0)); faultKind(t, err) != FaultBadAddress {
			t.Errorf("Set(%d): %v", addr, err)
		}
	}
}

func TestConvStackGrowTruncate(t *testing.T) {
	s := newConvStack(1, 4)
	if err := s.Grow(2, filler); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	if v, _ := s.At(2); v.Word() != 0xdddd {
		t.Errorf("grown cell = %04x, want dddd", v.Word())
	}
	if err := s.Grow(2, filler); faultKind(t, err) != FaultStackOverflow {
		t.Errorf("grow past the limit: %v", err)
	}
	if err := s.Truncate(1); err != nil || s.Len() != 1 {
		t.Errorf("Truncate(1): %v, Len = %d", err, s.Len())
	}
	if err := s.Truncate(2); faultKind(t, err) != FaultStackUnderflow {
		t.Errorf("Truncate above Len: %v", err)
	}

	cells := s.Cells()
	cells[0] = Int(42)
	if v, _ := s.At(0); v.Int() == 42 {
		t.Error("Cells shares storage with the stack")
	}
}

func TestValueConversions(t *testing.T) {
	if v := Word(0xffff); v.Int() != -1 || v.Word() != 0xffff {
		t.Errorf("Word(0xffff) = %d / %04x", v.Int(), v.Word())
	}
	if got := wrap16(32767 + 1); got != -32768 {
		t.Errorf("wrap16 overflow = %d", got)
	}
	if Int(0).Truth() || !Int(-3).Truth() {
		t.Error("Truth should be non-zero")
	}
	for _, tc := range []struct {
		v    Value
		want string
	}{
		{Int(-4), "-4"},
		{StringHandle(3), "str#3"},
		{Address(0x12), "@0012"},
	} {
		if got := tc.v.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestConvStackTruncateKeepsFloor(t *testing.T) {
	s := newConvStack(4, 8)
	s.floor = 3
	if err := s.Truncate(2); faultKind(t, err) != FaultStackUnderflow {
		t.Errorf("Truncate below the floor: %v", err)
	}
	if s.Len() != 4 {
		t.Errorf("Len = %d after a refused truncate, want 4", s.Len())
	}
	if err := s.Truncate(s.Floor()); err != nil {
		t.Errorf("Truncate to the floor: %v", err)
	}
}
