package permission

import "testing"

func TestSatisfiesLattice(t *testing.T) {
	tests := []struct {
		have, want Level
		ok         bool
	}{
		{Admin, Read, true},
		{Admin, Write, true},
		{Admin, ReadAndWrite, true},
		{Admin, Admin, true},
		{ReadAndWrite, Read, true},
		{ReadAndWrite, Write, true},
		{ReadAndWrite, ReadAndWrite, true},
		{ReadAndWrite, Admin, false},
		{Read, Read, true},
		{Read, Write, false},
		{Read, Admin, false},
		{Write, Write, true},
		{Write, Read, false},
		{Write, Admin, false},
	}

	for _, tt := range tests {
		if got := Satisfies(tt.have, tt.want); got != tt.ok {
			t.Errorf("Satisfies(%v, %v) = %v, want %v", tt.have, tt.want, got, tt.ok)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, lvl := range []Level{Read, Write, ReadAndWrite, Admin} {
		got, err := Parse(lvl.String())
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", lvl.String(), err)
		}
		if got != lvl {
			t.Errorf("Parse(%q) = %v, want %v", lvl.String(), got, lvl)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := Parse("superuser"); err == nil {
		t.Fatal("expected error for unknown permission name")
	}
}
