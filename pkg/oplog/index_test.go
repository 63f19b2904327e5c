package oplog

import "testing"

func TestIndexNavigation(t *testing.T) {
	tests := []struct {
		name     string
		got      Index
		expected Index
	}{
		{"next of none", None.Next(), Initial},
		{"next of initial", Initial.Next(), 2},
		{"previous of initial", Initial.Previous(), None},
		{"previous of none", None.Previous(), None},
		{"range end single", Index(5).RangeEnd(1), 5},
		{"range end many", Index(5).RangeEnd(10), 14},
		{"range end empty", Index(5).RangeEnd(0), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, tt.got)
			}
		})
	}
}

func TestIndexIsNone(t *testing.T) {
	if !None.IsNone() {
		t.Error("None should be none")
	}
	if Initial.IsNone() {
		t.Error("Initial should not be none")
	}
}
