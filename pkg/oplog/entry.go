package oplog

import "fmt"

// Kind is the stable discriminant of an entry variant. Values are persisted
// and must never be renumbered.
type Kind uint8

const (
	KindCreate                    Kind = 1
	KindImportedFunctionInvoked   Kind = 2
	KindExportedFunctionInvoked   Kind = 3
	KindExportedFunctionCompleted Kind = 4
	KindSuspend                   Kind = 5
	KindError                     Kind = 6
	KindNoOp                      Kind = 7
	KindJump                      Kind = 8
	KindInterrupted               Kind = 9
	KindExited                    Kind = 10
	KindChangeRetryPolicy         Kind = 11
	KindBeginAtomicRegion         Kind = 12
	KindEndAtomicRegion           Kind = 13
	KindBeginRemoteWrite          Kind = 14
	KindEndRemoteWrite            Kind = 15
	KindPendingWorkerInvocation   Kind = 16
	KindPendingUpdate             Kind = 17
	KindSuccessfulUpdate          Kind = 18
	KindFailedUpdate              Kind = 19
	KindGrowMemory                Kind = 20
	KindCreateResource            Kind = 21
	KindDropResource              Kind = 22
	KindDescribeResource          Kind = 23
	KindLog                       Kind = 24
	KindRestart                   Kind = 25
	KindActivatePlugin            Kind = 26
	KindDeactivatePlugin          Kind = 27
)

var kindNames = map[Kind]string{
	KindCreate:                    "Create",
	KindImportedFunctionInvoked:   "ImportedFunctionInvoked",
	KindExportedFunctionInvoked:   "ExportedFunctionInvoked",
	KindExportedFunctionCompleted: "ExportedFunctionCompleted",
	KindSuspend:                   "Suspend",
	KindError:                     "Error",
	KindNoOp:                      "NoOp",
	KindJump:                      "Jump",
	KindInterrupted:               "Interrupted",
	KindExited:                    "Exited",
	KindChangeRetryPolicy:         "ChangeRetryPolicy",
	KindBeginAtomicRegion:         "BeginAtomicRegion",
	KindEndAtomicRegion:           "EndAtomicRegion",
	KindBeginRemoteWrite:          "BeginRemoteWrite",
	KindEndRemoteWrite:            "EndRemoteWrite",
	KindPendingWorkerInvocation:   "PendingWorkerInvocation",
	KindPendingUpdate:             "PendingUpdate",
	KindSuccessfulUpdate:          "SuccessfulUpdate",
	KindFailedUpdate:              "FailedUpdate",
	KindGrowMemory:                "GrowMemory",
	KindCreateResource:            "CreateResource",
	KindDropResource:              "DropResource",
	KindDescribeResource:          "DescribeResource",
	KindLog:                       "Log",
	KindRestart:                   "Restart",
	KindActivatePlugin:            "ActivatePlugin",
	KindDeactivatePlugin:          "DeactivatePlugin",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsHint reports whether entries of this kind are informational. Hints are
// skipped by replay and never matched against re-executed effects.
func (k Kind) IsHint() bool {
	switch k {
	case KindSuspend, KindError, KindNoOp, KindInterrupted, KindExited,
		KindPendingWorkerInvocation, KindPendingUpdate, KindSuccessfulUpdate,
		KindFailedUpdate, KindGrowMemory, KindCreateResource, KindDropResource,
		KindDescribeResource, KindLog, KindRestart, KindActivatePlugin,
		KindDeactivatePlugin:
		return true
	default:
		return false
	}
}

// Entry is one record of the oplog. The set of implementations is closed:
// the variant types of this package.
type Entry interface {
	Kind() Kind
	Time() Timestamp
	withTime(Timestamp) Entry
}

// Header holds the fields shared by every entry.
type Header struct {
	Timestamp Timestamp `cbor:"0,keyasint"`
}

// Time returns the moment the entry was recorded.
func (h Header) Time() Timestamp {
	return h.Timestamp
}

func now() Header {
	return Header{Timestamp: Now()}
}

// IndexedEntry pairs an entry with its position.
type IndexedEntry struct {
	Index Index
	Entry Entry
}

// IsHint reports whether e is a hint entry.
func IsHint(e Entry) bool {
	return e.Kind().IsHint()
}

// Rounded returns a copy of e with its timestamp truncated to whole seconds.
func Rounded(e Entry) Entry {
	return e.withTime(e.Time().Rounded())
}

// IsEndAtomicRegion reports whether e closes the atomic region opened at begin.
func IsEndAtomicRegion(e Entry, begin Index) bool {
	end, ok := e.(EndAtomicRegion)
	return ok && end.BeginIndex == begin
}

// IsEndRemoteWrite reports whether e closes the remote write opened at begin.
func IsEndRemoteWrite(e Entry, begin Index) bool {
	end, ok := e.(EndRemoteWrite)
	return ok && end.BeginIndex == begin
}

// NoConcurrentSideEffect reports whether e is compatible with the batched
// remote write opened at begin still being in flight.
func NoConcurrentSideEffect(e Entry, begin Index) bool {
	switch e := e.(type) {
	case ImportedFunctionInvoked:
		switch e.FunctionType.Kind {
		case ReadLocal, WriteLocal, ReadRemote:
			return true
		case WriteRemoteBatched:
			return e.FunctionType.BatchBegin != nil && *e.FunctionType.BatchBegin == begin
		default:
			return false
		}
	case ExportedFunctionCompleted:
		return false
	default:
		return true
	}
}

// SpecifiesComponentVersion returns the component version an entry pins the
// worker to, if any.
func SpecifiesComponentVersion(e Entry) (ComponentVersion, bool) {
	switch e := e.(type) {
	case Create:
		return e.ComponentVersion, true
	case SuccessfulUpdate:
		return e.TargetVersion, true
	default:
		return 0, false
	}
}

// Create is always the first entry of a worker.
type Create struct {
	Header
	WorkerID                     WorkerID               `cbor:"1,keyasint"`
	ComponentVersion             ComponentVersion       `cbor:"2,keyasint"`
	Args                         []string               `cbor:"3,keyasint"`
	Env                          map[string]string      `cbor:"4,keyasint"`
	AccountID                    AccountID              `cbor:"5,keyasint"`
	Parent                       *WorkerID              `cbor:"6,keyasint,omitempty"`
	ComponentSize                uint64                 `cbor:"7,keyasint"`
	InitialTotalLinearMemorySize uint64                 `cbor:"8,keyasint"`
	InitialActivePlugins         []PluginInstallationID `cbor:"9,keyasint"`
}

// ImportedFunctionInvoked records the request and response of a host call.
type ImportedFunctionInvoked struct {
	Header
	FunctionName string              `cbor:"1,keyasint"`
	Request      Payload             `cbor:"2,keyasint"`
	Response     Payload             `cbor:"3,keyasint"`
	FunctionType WrappedFunctionType `cbor:"4,keyasint"`
}

// ExportedFunctionInvoked records the start of an invocation of the worker.
type ExportedFunctionInvoked struct {
	Header
	FunctionName   string         `cbor:"1,keyasint"`
	Request        Payload        `cbor:"2,keyasint"`
	IdempotencyKey IdempotencyKey `cbor:"3,keyasint"`
}

// ExportedFunctionCompleted records the result of an invocation.
type ExportedFunctionCompleted struct {
	Header
	Response     Payload `cbor:"1,keyasint"`
	ConsumedFuel int64   `cbor:"2,keyasint"`
}

// Suspend marks that the worker was suspended.
type Suspend struct {
	Header
}

// Error records a worker failure.
type Error struct {
	Header
	Error WorkerError `cbor:"1,keyasint"`
}

// NoOp is a marker entry without effect.
type NoOp struct {
	Header
}

// Jump marks that replay must skip Jump.Region.
type Jump struct {
	Header
	Region Region `cbor:"1,keyasint"`
}

// Interrupted marks that the worker was interrupted.
type Interrupted struct {
	Header
}

// Exited marks that the worker exited.
type Exited struct {
	Header
}

// ChangeRetryPolicy changes the retry policy of the worker.
type ChangeRetryPolicy struct {
	Header
	NewPolicy RetryConfig `cbor:"1,keyasint"`
}

// BeginAtomicRegion opens a region that is replayed all or nothing.
type BeginAtomicRegion struct {
	Header
}

// EndAtomicRegion closes the atomic region opened at BeginIndex.
type EndAtomicRegion struct {
	Header
	BeginIndex Index `cbor:"1,keyasint"`
}

// BeginRemoteWrite opens a non-idempotent remote write.
type BeginRemoteWrite struct {
	Header
}

// EndRemoteWrite closes the remote write opened at BeginIndex.
type EndRemoteWrite struct {
	Header
	BeginIndex Index `cbor:"1,keyasint"`
}

// PendingWorkerInvocation records an invocation enqueued for later.
type PendingWorkerInvocation struct {
	Header
	Invocation WorkerInvocation `cbor:"1,keyasint"`
}

// PendingUpdate records an update waiting to be applied.
type PendingUpdate struct {
	Header
	Description UpdateDescription `cbor:"1,keyasint"`
}

// SuccessfulUpdate records that the worker now runs TargetVersion.
type SuccessfulUpdate struct {
	Header
	TargetVersion    ComponentVersion       `cbor:"1,keyasint"`
	NewComponentSize uint64                 `cbor:"2,keyasint"`
	NewActivePlugins []PluginInstallationID `cbor:"3,keyasint"`
}

// FailedUpdate records that an update to TargetVersion failed.
type FailedUpdate struct {
	Header
	TargetVersion ComponentVersion `cbor:"1,keyasint"`
	Details       *string          `cbor:"2,keyasint,omitempty"`
}

// GrowMemory records linear memory growth.
type GrowMemory struct {
	Header
	Delta uint64 `cbor:"1,keyasint"`
}

// CreateResource records the creation of a resource handle.
type CreateResource struct {
	Header
	ID ResourceID `cbor:"1,keyasint"`
}

// DropResource records the drop of a resource handle.
type DropResource struct {
	Header
	ID ResourceID `cbor:"1,keyasint"`
}

// DescribeResource attaches an indexed key to a resource handle.
type DescribeResource struct {
	Header
	ID         ResourceID         `cbor:"1,keyasint"`
	IndexedKey IndexedResourceKey `cbor:"2,keyasint"`
}

// Log records a line emitted by the worker.
type Log struct {
	Header
	Level   LogLevel `cbor:"1,keyasint"`
	Context string   `cbor:"2,keyasint"`
	Message string   `cbor:"3,keyasint"`
}

// Restart marks that the worker state was reset.
type Restart struct {
	Header
}

// ActivatePlugin records a plugin being activated.
type ActivatePlugin struct {
	Header
	Plugin PluginInstallationID `cbor:"1,keyasint"`
}

// DeactivatePlugin records a plugin being deactivated.
type DeactivatePlugin struct {
	Header
	Plugin PluginInstallationID `cbor:"1,keyasint"`
}

func (Create) Kind() Kind                    { return KindCreate }
func (ImportedFunctionInvoked) Kind() Kind   { return KindImportedFunctionInvoked }
func (ExportedFunctionInvoked) Kind() Kind   { return KindExportedFunctionInvoked }
func (ExportedFunctionCompleted) Kind() Kind { return KindExportedFunctionCompleted }
func (Suspend) Kind() Kind                   { return KindSuspend }
func (Error) Kind() Kind                     { return KindError }
func (NoOp) Kind() Kind                      { return KindNoOp }
func (Jump) Kind() Kind                      { return KindJump }
func (Interrupted) Kind() Kind               { return KindInterrupted }
func (Exited) Kind() Kind                    { return KindExited }
func (ChangeRetryPolicy) Kind() Kind         { return KindChangeRetryPolicy }
func (BeginAtomicRegion) Kind() Kind         { return KindBeginAtomicRegion }
func (EndAtomicRegion) Kind() Kind           { return KindEndAtomicRegion }
func (BeginRemoteWrite) Kind() Kind          { return KindBeginRemoteWrite }
func (EndRemoteWrite) Kind() Kind            { return KindEndRemoteWrite }
func (PendingWorkerInvocation) Kind() Kind   { return KindPendingWorkerInvocation }
func (PendingUpdate) Kind() Kind             { return KindPendingUpdate }
func (SuccessfulUpdate) Kind() Kind          { return KindSuccessfulUpdate }
func (FailedUpdate) Kind() Kind              { return KindFailedUpdate }
func (GrowMemory) Kind() Kind                { return KindGrowMemory }
func (CreateResource) Kind() Kind            { return KindCreateResource }
func (DropResource) Kind() Kind              { return KindDropResource }
func (DescribeResource) Kind() Kind          { return KindDescribeResource }
func (Log) Kind() Kind                       { return KindLog }
func (Restart) Kind() Kind                   { return KindRestart }
func (ActivatePlugin) Kind() Kind            { return KindActivatePlugin }
func (DeactivatePlugin) Kind() Kind          { return KindDeactivatePlugin }

func (e Create) withTime(t Timestamp) Entry                    { e.Timestamp = t; return e }
func (e ImportedFunctionInvoked) withTime(t Timestamp) Entry   { e.Timestamp = t; return e }
func (e ExportedFunctionInvoked) withTime(t Timestamp) Entry   { e.Timestamp = t; return e }
func (e ExportedFunctionCompleted) withTime(t Timestamp) Entry { e.Timestamp = t; return e }
func (e Suspend) withTime(t Timestamp) Entry                   { e.Timestamp = t; return e }
func (e Error) withTime(t Timestamp) Entry                     { e.Timestamp = t; return e }
func (e NoOp) withTime(t Timestamp) Entry                      { e.Timestamp = t; return e }
func (e Jump) withTime(t Timestamp) Entry                      { e.Timestamp = t; return e }
func (e Interrupted) withTime(t Timestamp) Entry               { e.Timestamp = t; return e }
func (e Exited) withTime(t Timestamp) Entry                    { e.Timestamp = t; return e }
func (e ChangeRetryPolicy) withTime(t Timestamp) Entry         { e.Timestamp = t; return e }
func (e BeginAtomicRegion) withTime(t Timestamp) Entry         { e.Timestamp = t; return e }
func (e EndAtomicRegion) withTime(t Timestamp) Entry           { e.Timestamp = t; return e }
func (e BeginRemoteWrite) withTime(t Timestamp) Entry          { e.Timestamp = t; return e }
func (e EndRemoteWrite) withTime(t Timestamp) Entry            { e.Timestamp = t; return e }
func (e PendingWorkerInvocation) withTime(t Timestamp) Entry   { e.Timestamp = t; return e }
func (e PendingUpdate) withTime(t Timestamp) Entry             { e.Timestamp = t; return e }
func (e SuccessfulUpdate) withTime(t Timestamp) Entry          { e.Timestamp = t; return e }
func (e FailedUpdate) withTime(t Timestamp) Entry              { e.Timestamp = t; return e }
func (e GrowMemory) withTime(t Timestamp) Entry                { e.Timestamp = t; return e }
func (e CreateResource) withTime(t Timestamp) Entry            { e.Timestamp = t; return e }
func (e DropResource) withTime(t Timestamp) Entry              { e.Timestamp = t; return e }
func (e DescribeResource) withTime(t Timestamp) Entry          { e.Timestamp = t; return e }
func (e Log) withTime(t Timestamp) Entry                       { e.Timestamp = t; return e }
func (e Restart) withTime(t Timestamp) Entry                   { e.Timestamp = t; return e }
func (e ActivatePlugin) withTime(t Timestamp) Entry            { e.Timestamp = t; return e }
func (e DeactivatePlugin) withTime(t Timestamp) Entry          { e.Timestamp = t; return e }
