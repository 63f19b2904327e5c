package replay

import (
	"encoding/binary"
	"hash/fnv"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/openfroyo/worker-executor/pkg/oplog"
)

type logHash [16]byte

func hashLog(level oplog.LogLevel, context, message string) logHash {
	// Fields are length prefixed so no two (context, message) pairs share
	// an encoding.
	buf := make([]byte, 0, 1+2*binary.MaxVarintLen64+len(context)+len(message))
	buf = append(buf, byte(level))
	buf = binary.AppendUvarint(buf, uint64(len(context)))
	buf = append(buf, context...)
	buf = binary.AppendUvarint(buf, uint64(len(message)))
	buf = append(buf, message...)

	h := fnv.New128a()
	h.Write(buf)

	var out logHash
	h.Sum(out[:0])
	return out
}

func (s *State) replaceSeenLogs(seen mapset.Set[logHash]) {
	s.mu.Lock()
	s.logHashes = seen
	s.hasSeenLogs.Store(seen.Cardinality() > 0)
	s.mu.Unlock()
}

// SeenLog reports whether the last GetOplogEntry call skipped over this
// exact log line.
func (s *State) SeenLog(level oplog.LogLevel, context, message string) bool {
	if !s.hasSeenLogs.Load() {
		return false
	}
	hash := hashLog(level, context, message)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logHashes.Contains(hash)
}

// RemoveSeenLog forgets a log line once the caller has suppressed it.
func (s *State) RemoveSeenLog(level oplog.LogLevel, context, message string) {
	hash := hashLog(level, context, message)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logHashes.Remove(hash)
	s.hasSeenLogs.Store(s.logHashes.Cardinality() > 0)
}
