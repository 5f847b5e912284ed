package rtgerr

import (
	"errors"
	"testing"
)

func TestErrorsIsMatchesSentinel(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"malformed", &MalformedObject{File: "a.o", Reason: "bad magic"}, ErrMalformedObject},
		{"duplicate", &DuplicateSymbol{Name: "main"}, ErrDuplicateSymbol},
		{"undefined", &UndefinedSymbol{Name: "printf"}, ErrUndefinedSymbol},
		{"overflow", &RelocOverflow{Symbol: "x", Type: "PC32"}, ErrRelocOverflow},
		{"unsupported", &UnsupportedReloc{Type: 99}, ErrUnsupportedReloc},
		{"io", &IOError{Path: "/tmp/x", Err: errors.New("permission denied")}, ErrIO},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if !errors.Is(c.err, c.want) {
				t.Errorf("errors.Is(%v, %v) = false, want true", c.err, c.want)
			}
		})
	}
}

func TestMalformedObjectAsUnwraps(t *testing.T) {
	err := error(&MalformedObject{File: "a.o", Reason: "truncated section"})
	var mo *MalformedObject
	if !errors.As(err, &mo) {
		t.Fatal("expected errors.As to find *MalformedObject")
	}
	if mo.File != "a.o" {
		t.Errorf("got File=%q", mo.File)
	}
}
