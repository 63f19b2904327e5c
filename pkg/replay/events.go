package replay

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/openfroyo/worker-executor/pkg/oplog"
)

// EventKind tells what a replay event reports.
type EventKind int

const (
	// EventUpdateReplayed reports a replayed SuccessfulUpdate entry. The
	// worker must switch to the new component version before going on.
	EventUpdateReplayed EventKind = iota + 1
	// EventReplayFinished reports that the cursor reached the replay target.
	EventReplayFinished
)

func (k EventKind) String() string {
	switch k {
	case EventUpdateReplayed:
		return "update_replayed"
	case EventReplayFinished:
		return "replay_finished"
	default:
		return "unknown"
	}
}

// Event is a side effect of replay the worker has to apply itself.
type Event struct {
	Kind             EventKind
	NewVersion       oplog.ComponentVersion
	NewActivePlugins mapset.Set[oplog.PluginInstallationID]
}
