package oplog

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func sampleEntries() map[Kind]Entry {
	ts := Timestamp(1_700_000_123_456)
	h := Header{Timestamp: ts}
	workerID := WorkerID{ComponentID: uuid.MustParse("7f4e2f0a-5c1c-4a53-9a44-0d6e6b3c1f10"), WorkerName: "worker-1"}
	plugin := uuid.MustParse("a1d0c6e8-3b1f-4b7e-8a62-2b5f0e1c9d33")
	begin := Index(7)
	details := "trap"

	return map[Kind]Entry{
		KindCreate: Create{
			Header: h, WorkerID: workerID, ComponentVersion: 3,
			Args: []string{"--flag"}, Env: map[string]string{"B": "2", "A": "1"},
			AccountID: "account", ComponentSize: 1024, InitialTotalLinearMemorySize: 65536,
			InitialActivePlugins: []PluginInstallationID{plugin},
		},
		KindImportedFunctionInvoked: ImportedFunctionInvoked{
			Header: h, FunctionName: "golem::api::get-self-uri",
			Request: InlinePayload([]byte{1}), Response: InlinePayload([]byte{2}),
			FunctionType: Batched(&begin),
		},
		KindExportedFunctionInvoked: ExportedFunctionInvoked{
			Header: h, FunctionName: "run", IdempotencyKey: "key-1",
			Request: Payload{External: &ExternalPayload{PayloadID: plugin, MD5Hash: []byte{0xde, 0xad}}},
		},
		KindExportedFunctionCompleted: ExportedFunctionCompleted{Header: h, Response: InlinePayload([]byte{3}), ConsumedFuel: 42},
		KindSuspend:                   Suspend{Header: h},
		KindError:                     Error{Header: h, Error: WorkerError{Kind: WorkerErrorUnknown, Details: "boom"}},
		KindNoOp:                      NoOp{Header: h},
		KindJump:                      Jump{Header: h, Region: Region{Start: 2, End: 5}},
		KindInterrupted:               Interrupted{Header: h},
		KindExited:                    Exited{Header: h},
		KindChangeRetryPolicy:         ChangeRetryPolicy{Header: h, NewPolicy: DefaultRetryConfig()},
		KindBeginAtomicRegion:         BeginAtomicRegion{Header: h},
		KindEndAtomicRegion:           EndAtomicRegion{Header: h, BeginIndex: 4},
		KindBeginRemoteWrite:          BeginRemoteWrite{Header: h},
		KindEndRemoteWrite:            EndRemoteWrite{Header: h, BeginIndex: 4},
		KindPendingWorkerInvocation: PendingWorkerInvocation{Header: h, Invocation: WorkerInvocation{
			Kind: InvocationExportedFunction, IdempotencyKey: "key-2", FunctionName: "run",
			Input: []Value{int64(1), "two"},
		}},
		KindPendingUpdate: PendingUpdate{Header: h, Description: UpdateDescription{
			Kind: UpdateSnapshotBased, TargetVersion: 4, Payload: &Payload{Inline: []byte("snapshot")},
		}},
		KindSuccessfulUpdate: SuccessfulUpdate{Header: h, TargetVersion: 4, NewComponentSize: 2048, NewActivePlugins: []PluginInstallationID{plugin}},
		KindFailedUpdate:     FailedUpdate{Header: h, TargetVersion: 5, Details: &details},
		KindGrowMemory:       GrowMemory{Header: h, Delta: 65536},
		KindCreateResource:   CreateResource{Header: h, ID: 9},
		KindDropResource:     DropResource{Header: h, ID: 9},
		KindDescribeResource: DescribeResource{Header: h, ID: 9, IndexedKey: IndexedResourceKey{
			ResourceName: "counter", ResourceParams: []string{"\"a\""},
		}},
		KindLog:              Log{Header: h, Level: LogLevelInfo, Context: "ctx", Message: "hello"},
		KindRestart:          Restart{Header: h},
		KindActivatePlugin:   ActivatePlugin{Header: h, Plugin: plugin},
		KindDeactivatePlugin: DeactivatePlugin{Header: h, Plugin: plugin},
	}
}

// The discriminants are persisted; changing one breaks existing oplogs.
func TestKindDiscriminants(t *testing.T) {
	expected := map[Kind]uint8{
		KindCreate: 1, KindImportedFunctionInvoked: 2, KindExportedFunctionInvoked: 3,
		KindExportedFunctionCompleted: 4, KindSuspend: 5, KindError: 6, KindNoOp: 7,
		KindJump: 8, KindInterrupted: 9, KindExited: 10, KindChangeRetryPolicy: 11,
		KindBeginAtomicRegion: 12, KindEndAtomicRegion: 13, KindBeginRemoteWrite: 14,
		KindEndRemoteWrite: 15, KindPendingWorkerInvocation: 16, KindPendingUpdate: 17,
		KindSuccessfulUpdate: 18, KindFailedUpdate: 19, KindGrowMemory: 20,
		KindCreateResource: 21, KindDropResource: 22, KindDescribeResource: 23,
		KindLog: 24, KindRestart: 25, KindActivatePlugin: 26, KindDeactivatePlugin: 27,
	}

	if len(Kinds()) != len(expected) {
		t.Fatalf("expected %d kinds, got %d", len(expected), len(Kinds()))
	}

	samples := sampleEntries()
	for kind, tag := range expected {
		entry, ok := samples[kind]
		if !ok {
			t.Fatalf("missing sample for %s", kind)
		}
		data, err := Encode(entry)
		if err != nil {
			t.Fatalf("encode %s: %v", kind, err)
		}
		var env envelope
		if err := decMode.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode envelope of %s: %v", kind, err)
		}
		if uint8(env.Kind) != tag {
			t.Errorf("%s encoded with tag %d, expected %d", kind, env.Kind, tag)
		}
		if env.Version != EncodingVersion {
			t.Errorf("%s encoded with version %d", kind, env.Version)
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for kind, entry := range sampleEntries() {
		t.Run(kind.String(), func(t *testing.T) {
			first, err := Encode(entry)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			decoded, err := Decode(first)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Kind() != kind {
				t.Fatalf("decoded kind %s, expected %s", decoded.Kind(), kind)
			}
			if !reflect.DeepEqual(decoded, entry) {
				t.Errorf("decoded entry differs:\n got %#v\nwant %#v", decoded, entry)
			}

			second, err := Encode(decoded)
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			if !bytes.Equal(first, second) {
				t.Error("re-encoding produced different bytes")
			}
		})
	}
}

func TestEncodeIsDeterministicForMaps(t *testing.T) {
	a := Create{Header: Header{Timestamp: 1}, Env: map[string]string{"x": "1", "y": "2", "z": "3"}}
	b := Create{Header: Header{Timestamp: 1}, Env: map[string]string{"z": "3", "x": "1", "y": "2"}}

	ea, err := Encode(a)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ea, eb) {
		t.Error("equal entries encoded differently")
	}
}

func TestDecodeRejectsCorruptData(t *testing.T) {
	valid, err := Encode(NewNoOp())
	if err != nil {
		t.Fatal(err)
	}

	unknownKind, _ := encMode.Marshal(envelope{Version: EncodingVersion, Kind: 200, Body: []byte{0xa0}})
	futureVersion, _ := encMode.Marshal(envelope{Version: EncodingVersion + 1, Kind: KindNoOp, Body: []byte{0xa0}})
	wrongBody, _ := encMode.Marshal(envelope{Version: EncodingVersion, Kind: KindJump, Body: []byte{0x61, 0x78}})

	tests := map[string][]byte{
		"empty":          {},
		"garbage":        []byte("not cbor at all"),
		"truncated":      valid[:len(valid)-1],
		"unknown kind":   unknownKind,
		"future version": futureVersion,
		"wrong body":     wrongBody,
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(data); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("expected error encoding nil entry")
	}
}

func TestValueRoundTrip(t *testing.T) {
	data, err := EncodeValue([]Value{int64(1), "a", []byte{2}})
	if err != nil {
		t.Fatal(err)
	}
	var out []Value
	if err := DecodeValue(data, &out); err != nil {
		t.Fatal(err)
	}
	expected := []Value{int64(1), "a", []byte{2}}
	if !reflect.DeepEqual(out, expected) {
		t.Errorf("expected %#v, got %#v", expected, out)
	}
}
