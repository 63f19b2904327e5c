package replay

import (
	"context"

	"github.com/openfroyo/worker-executor/pkg/oplog"
)

// LookupChunkSize is the number of entries read per storage round trip by
// the lookup functions.
const LookupChunkSize = 1024

// EntryCheck tests an entry against the index that opened the region being
// looked at.
type EntryCheck func(entry oplog.Entry, begin oplog.Index) bool

// LookupOplogEntry scans the entries after the cursor up to the replay
// target and returns the index of the first one satisfying endCheck. Entries
// in deleted regions are ignored. The cursor does not move.
func (s *State) LookupOplogEntry(ctx context.Context, begin oplog.Index, endCheck EntryCheck) (oplog.Index, bool, error) {
	return s.LookupOplogEntryWithCondition(ctx, begin, endCheck, nil)
}

// LookupOplogEntryWithCondition is LookupOplogEntry that gives up as soon as
// an entry before the match fails forAllIntermediate. A nil
// forAllIntermediate accepts every entry.
func (s *State) LookupOplogEntryWithCondition(ctx context.Context, begin oplog.Index, endCheck, forAllIntermediate EntryCheck) (oplog.Index, bool, error) {
	deleted := s.DeletedRegions()

	start := s.last().Next()
	for start <= s.replayTarget {
		if err := ctx.Err(); err != nil {
			return oplog.None, false, err
		}

		n := min(uint64(LookupChunkSize), uint64(s.replayTarget-start)+1)
		entries, err := s.src.Read(ctx, start, n)
		if err != nil {
			return oplog.None, false, err
		}
		if len(entries) == 0 {
			break
		}

		for _, e := range entries {
			if deleted.IsInDeletedRegion(e.Index) {
				continue
			}
			if endCheck(e.Entry, begin) {
				return e.Index, true, nil
			}
			if forAllIntermediate != nil && !forAllIntermediate(e.Entry, begin) {
				return oplog.None, false, nil
			}
		}
		start = entries[len(entries)-1].Index.Next()
	}
	return oplog.None, false, nil
}
