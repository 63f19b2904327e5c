package oplog

import (
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// EncodingVersion is written into every encoded entry. Decoders accept any
// version up to and including it; new fields are added with new integer keys.
const EncodingVersion uint8 = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("oplog: cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("oplog: cbor decoder: %v", err))
	}
}

type envelope struct {
	_       struct{} `cbor:",toarray"`
	Version uint8
	Kind    Kind
	Body    cbor.RawMessage
}

var decoders = map[Kind]func([]byte) (Entry, error){
	KindCreate:                    decodeAs[Create],
	KindImportedFunctionInvoked:   decodeAs[ImportedFunctionInvoked],
	KindExportedFunctionInvoked:   decodeAs[ExportedFunctionInvoked],
	KindExportedFunctionCompleted: decodeAs[ExportedFunctionCompleted],
	KindSuspend:                   decodeAs[Suspend],
	KindError:                     decodeAs[Error],
	KindNoOp:                      decodeAs[NoOp],
	KindJump:                      decodeAs[Jump],
	KindInterrupted:               decodeAs[Interrupted],
	KindExited:                    decodeAs[Exited],
	KindChangeRetryPolicy:         decodeAs[ChangeRetryPolicy],
	KindBeginAtomicRegion:         decodeAs[BeginAtomicRegion],
	KindEndAtomicRegion:           decodeAs[EndAtomicRegion],
	KindBeginRemoteWrite:          decodeAs[BeginRemoteWrite],
	KindEndRemoteWrite:            decodeAs[EndRemoteWrite],
	KindPendingWorkerInvocation:   decodeAs[PendingWorkerInvocation],
	KindPendingUpdate:             decodeAs[PendingUpdate],
	KindSuccessfulUpdate:          decodeAs[SuccessfulUpdate],
	KindFailedUpdate:              decodeAs[FailedUpdate],
	KindGrowMemory:                decodeAs[GrowMemory],
	KindCreateResource:            decodeAs[CreateResource],
	KindDropResource:              decodeAs[DropResource],
	KindDescribeResource:          decodeAs[DescribeResource],
	KindLog:                       decodeAs[Log],
	KindRestart:                   decodeAs[Restart],
	KindActivatePlugin:            decodeAs[ActivatePlugin],
	KindDeactivatePlugin:          decodeAs[DeactivatePlugin],
}

func decodeAs[T Entry](body []byte) (Entry, error) {
	var e T
	if err := decMode.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// Kinds returns every known entry kind in ascending order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(decoders))
	for k := range decoders {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Encode serializes an entry. The output is deterministic: equal entries
// always produce identical bytes.
func Encode(e Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot encode nil oplog entry")
	}
	body, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s entry: %w", e.Kind(), err)
	}
	data, err := encMode.Marshal(envelope{Version: EncodingVersion, Kind: e.Kind(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", e.Kind(), err)
	}
	return data, nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (Entry, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode oplog entry envelope: %w", err)
	}
	if env.Version == 0 || env.Version > EncodingVersion {
		return nil, fmt.Errorf("unsupported oplog entry encoding version %d", env.Version)
	}
	decode, ok := decoders[env.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown oplog entry kind %d", env.Kind)
	}
	e, err := decode(env.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s entry: %w", env.Kind, err)
	}
	return e, nil
}

// EncodeValue serializes an arbitrary payload value with the same
// deterministic encoding used for entries.
func EncodeValue(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// DecodeValue parses a payload produced by EncodeValue into out.
func DecodeValue(data []byte, out any) error {
	if err := decMode.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
