package oplog

import (
	"fmt"
	"slices"
	"strings"
)

// Region is an inclusive range of oplog indices.
type Region struct {
	Start Index `cbor:"1,keyasint"`
	End   Index `cbor:"2,keyasint"`
}

// Contains reports whether idx falls inside r.
func (r Region) Contains(idx Index) bool {
	return idx >= r.Start && idx <= r.End
}

// Overlaps reports whether r and other share at least one index.
func (r Region) Overlaps(other Region) bool {
	return r.Start <= other.End && other.Start <= r.End
}

func (r Region) String() string {
	return fmt.Sprintf("<%d..=%d>", r.Start, r.End)
}

// DeletedRegions is an ordered set of non-overlapping regions of the oplog
// that replay must jump over.
type DeletedRegions struct {
	regions []Region
}

// NewDeletedRegions builds a set from arbitrary regions. Overlapping regions
// are merged.
func NewDeletedRegions(regions ...Region) DeletedRegions {
	var d DeletedRegions
	for _, r := range regions {
		d.Add(r)
	}
	return d
}

// Add inserts r, merging it with any region it overlaps.
func (d *DeletedRegions) Add(r Region) {
	if r.End < r.Start {
		r.Start, r.End = r.End, r.Start
	}

	merged := make([]Region, 0, len(d.regions)+1)
	for _, existing := range d.regions {
		if existing.Overlaps(r) {
			r.Start = min(r.Start, existing.Start)
			r.End = max(r.End, existing.End)
			continue
		}
		merged = append(merged, existing)
	}
	merged = append(merged, r)
	slices.SortFunc(merged, func(a, b Region) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	d.regions = merged
}

// FindNextDeletedRegion returns the first region starting strictly after idx.
func (d DeletedRegions) FindNextDeletedRegion(idx Index) (Region, bool) {
	for _, r := range d.regions {
		if r.Start > idx {
			return r, true
		}
	}
	return Region{}, false
}

// IsInDeletedRegion reports whether idx is covered by any region.
func (d DeletedRegions) IsInDeletedRegion(idx Index) bool {
	for _, r := range d.regions {
		if r.Contains(idx) {
			return true
		}
		if r.Start > idx {
			return false
		}
	}
	return false
}

// Regions returns a copy of the regions in ascending order.
func (d DeletedRegions) Regions() []Region {
	return slices.Clone(d.regions)
}

// Len returns the number of regions.
func (d DeletedRegions) Len() int {
	return len(d.regions)
}

// Clone returns an independent copy of d.
func (d DeletedRegions) Clone() DeletedRegions {
	return DeletedRegions{regions: slices.Clone(d.regions)}
}

func (d DeletedRegions) String() string {
	parts := make([]string, len(d.regions))
	for i, r := range d.regions {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
