package bitset

import "testing"

func TestSetTestAndPopCount(t *testing.T) {
	cases := []struct {
		name string
		bits []int
	}{
		{"empty", nil},
		{"single low bit", []int{0}},
		{"crosses word boundary", []int{63, 64, 65}},
		{"sparse high bits", []int{3, 130, 4095}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := New(0)
			for _, b := range c.bits {
				s.Set(b)
			}
			for _, b := range c.bits {
				if !s.Test(b) {
					t.Fatalf("bit %d expected set", b)
				}
			}
			if got := s.PopCount(); got != len(c.bits) {
				t.Fatalf("PopCount() = %d, want %d", got, len(c.bits))
			}
		})
	}
}

func TestClearRemovesBit(t *testing.T) {
	s := New(8)
	s.Set(3)
	s.Set(5)
	s.Clear(3)
	if s.Test(3) {
		t.Fatalf("bit 3 should be cleared")
	}
	if !s.Test(5) {
		t.Fatalf("bit 5 should remain set")
	}
}

func TestOrUnionsAndReportsChange(t *testing.T) {
	a := New(8)
	a.Set(1)
	b := New(8)
	b.Set(1)
	b.Set(2)

	if changed := a.Or(b); !changed {
		t.Fatalf("expected Or to report a change")
	}
	if !a.Test(1) || !a.Test(2) {
		t.Fatalf("a should contain {1,2} after Or, got %v", a.Elems())
	}
	if changed := a.Or(b); changed {
		t.Fatalf("Or should report no change once a is a superset of b")
	}
}

func TestAndNotSubtractsAndReportsChange(t *testing.T) {
	a := New(8)
	a.Set(1)
	a.Set(2)
	b := New(8)
	b.Set(2)

	if changed := a.AndNot(b); !changed {
		t.Fatalf("expected AndNot to report a change")
	}
	if a.Test(2) {
		t.Fatalf("bit 2 should have been removed")
	}
	if !a.Test(1) {
		t.Fatalf("bit 1 should remain")
	}
}

func TestEqualAcrossDifferentWordLengths(t *testing.T) {
	a := New(8)
	a.Set(5)
	b := New(256)
	b.Set(5)
	if !a.Equal(b) {
		t.Fatalf("sets with the same logical bits but different backing lengths should be Equal")
	}
	b.Set(200)
	if a.Equal(b) {
		t.Fatalf("sets should differ once b has an extra bit")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := New(8)
	a.Set(4)
	c := a.Clone()
	c.Set(6)
	if a.Test(6) {
		t.Fatalf("mutating the clone should not affect the original")
	}
	if !c.Test(4) {
		t.Fatalf("clone should retain the original's bits")
	}
}

func TestElemsReturnsSortedIndices(t *testing.T) {
	s := New(0)
	for _, b := range []int{200, 1, 64, 0} {
		s.Set(b)
	}
	got := s.Elems()
	want := []int{0, 1, 64, 200}
	if len(got) != len(want) {
		t.Fatalf("Elems() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Elems() = %v, want %v", got, want)
		}
	}
}
