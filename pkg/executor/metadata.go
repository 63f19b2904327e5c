package executor

import (
	"context"
	"fmt"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/oplogsvc"
	"github.com/openfroyo/worker-executor/pkg/replay"
)

// Metadata is what the executor needs to know about a worker before
// replaying it.
type Metadata struct {
	WorkerID         oplog.WorkerID
	AccountID        oplog.AccountID
	ComponentVersion oplog.ComponentVersion
	LastIndex        oplog.Index
	DeletedRegions   oplog.DeletedRegions
	Status           WorkerStatus

	// InitialComponentVersion is the version the worker was created with.
	// Replay starts from it and applies recorded updates on the way.
	InitialComponentVersion oplog.ComponentVersion
}

type indexed[T any] struct {
	index oplog.Index
	value T
}

// ComputeMetadata reads a worker's whole oplog and derives its metadata.
// Status and component version ignore entries inside deleted regions.
func ComputeMetadata(ctx context.Context, svc *oplogsvc.Service, workerID oplog.WorkerID) (Metadata, error) {
	meta := Metadata{WorkerID: workerID, Status: WorkerStatusIdle}

	last, err := svc.GetLastIndex(ctx, workerID)
	if err != nil {
		return meta, err
	}
	if last == oplog.None {
		return meta, newError(ErrorClassPermanent, ErrCodeNotFound, "worker has no oplog", nil).WithWorker(workerID.String())
	}
	meta.LastIndex = last

	var (
		statuses []indexed[WorkerStatus]
		versions []indexed[oplog.ComponentVersion]
	)
	for start := oplog.Initial; start <= last; {
		entries, err := svc.Read(ctx, workerID, start, replay.LookupChunkSize)
		if err != nil {
			return meta, err
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			switch entry := e.Entry.(type) {
			case oplog.Create:
				meta.AccountID = entry.AccountID
				meta.InitialComponentVersion = entry.ComponentVersion
			case oplog.Jump:
				meta.DeletedRegions.Add(entry.Region)
			}
			if status, ok := statusAfter(e.Entry); ok {
				statuses = append(statuses, indexed[WorkerStatus]{e.Index, status})
			}
			if version, ok := oplog.SpecifiesComponentVersion(e.Entry); ok {
				versions = append(versions, indexed[oplog.ComponentVersion]{e.Index, version})
			}
		}
		start = entries[len(entries)-1].Index.Next()
	}

	if len(versions) == 0 || versions[0].index != oplog.Initial {
		return meta, fmt.Errorf("%w: oplog of worker %s does not start with a Create entry", replay.ErrMissingEntry, workerID)
	}
	for _, s := range statuses {
		if !meta.DeletedRegions.IsInDeletedRegion(s.index) {
			meta.Status = s.value
		}
	}
	for _, v := range versions {
		if !meta.DeletedRegions.IsInDeletedRegion(v.index) {
			meta.ComponentVersion = v.value
		}
	}
	return meta, nil
}
