package oplog

import "strconv"

// Index is the 1-based position of an entry in a worker's oplog.
type Index uint64

const (
	// None is the index before the first entry.
	None Index = 0
	// Initial is the index of the first entry, always a Create.
	Initial Index = 1
)

// Next returns the index following i.
func (i Index) Next() Index {
	return i + 1
}

// Previous returns the index preceding i. None has no predecessor and stays None.
func (i Index) Previous() Index {
	if i == None {
		return None
	}
	return i - 1
}

// RangeEnd returns the last index of a run of count entries starting at i.
func (i Index) RangeEnd(count uint64) Index {
	if count == 0 {
		return i.Previous()
	}
	return i + Index(count) - 1
}

// IsNone reports whether i is the None sentinel.
func (i Index) IsNone() bool {
	return i == None
}

func (i Index) String() string {
	return strconv.FormatUint(uint64(i), 10)
}
