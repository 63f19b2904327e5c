package replay

import (
	"errors"
	"fmt"

	"github.com/sanity-io/litter"

	"github.com/openfroyo/worker-executor/pkg/oplog"
)

var (
	// ErrMissingEntry is returned when an index below the replay target has
	// no stored entry.
	ErrMissingEntry = errors.New("missing oplog entry")

	// ErrLive is returned by reads attempted after the cursor reached the
	// replay target.
	ErrLive = errors.New("nothing left to replay")
)

var dumper = litter.Options{
	Compact:           true,
	StripPackageNames: true,
	HidePrivateFields: true,
}

// UnexpectedEntryError reports an oplog entry that does not match what the
// replayed code expects at that point. It means the oplog is corrupt or was
// written by a different version of the component.
type UnexpectedEntryError struct {
	Index    oplog.Index
	Expected string
	Found    oplog.Entry
}

func (e *UnexpectedEntryError) Error() string {
	return fmt.Sprintf("unexpected oplog entry at index %d: expected %s, got %s", e.Index, e.Expected, dumper.Sdump(e.Found))
}
