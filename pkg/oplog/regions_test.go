package oplog

import (
	"reflect"
	"testing"
)

func TestFindNextDeletedRegion(t *testing.T) {
	regions := NewDeletedRegions(Region{Start: 4, End: 6}, Region{Start: 10, End: 12})

	tests := []struct {
		after    Index
		expected Region
		found    bool
	}{
		{None, Region{Start: 4, End: 6}, true},
		{3, Region{Start: 4, End: 6}, true},
		{4, Region{Start: 10, End: 12}, true},
		{9, Region{Start: 10, End: 12}, true},
		{10, Region{}, false},
		{20, Region{}, false},
	}

	for _, tt := range tests {
		got, found := regions.FindNextDeletedRegion(tt.after)
		if found != tt.found || got != tt.expected {
			t.Errorf("FindNextDeletedRegion(%d) = %v, %v; expected %v, %v", tt.after, got, found, tt.expected, tt.found)
		}
	}
}

func TestIsInDeletedRegion(t *testing.T) {
	regions := NewDeletedRegions(Region{Start: 4, End: 6})

	for idx, expected := range map[Index]bool{3: false, 4: true, 5: true, 6: true, 7: false} {
		if got := regions.IsInDeletedRegion(idx); got != expected {
			t.Errorf("IsInDeletedRegion(%d) = %v, expected %v", idx, got, expected)
		}
	}
}

func TestDeletedRegionsAddMergesOverlaps(t *testing.T) {
	var regions DeletedRegions
	regions.Add(Region{Start: 10, End: 12})
	regions.Add(Region{Start: 2, End: 3})
	regions.Add(Region{Start: 11, End: 15})
	regions.Add(Region{Start: 4, End: 5})

	expected := []Region{{Start: 2, End: 3}, {Start: 4, End: 5}, {Start: 10, End: 15}}
	if got := regions.Regions(); !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestDeletedRegionsCloneIsIndependent(t *testing.T) {
	regions := NewDeletedRegions(Region{Start: 2, End: 3})
	clone := regions.Clone()
	clone.Add(Region{Start: 8, End: 9})

	if regions.Len() != 1 {
		t.Errorf("original modified through clone: %v", regions)
	}
	if clone.Len() != 2 {
		t.Errorf("expected 2 regions in clone, got %v", clone)
	}
}

func TestRegionString(t *testing.T) {
	regions := NewDeletedRegions(Region{Start: 2, End: 3}, Region{Start: 5, End: 5})
	if got := regions.String(); got != "[<2..=3>, <5..=5>]" {
		t.Errorf("unexpected rendering %q", got)
	}
}
