package oplog

import "testing"

func TestIsHint(t *testing.T) {
	hints := map[Kind]bool{
		KindSuspend: true, KindError: true, KindNoOp: true, KindInterrupted: true,
		KindExited: true, KindPendingWorkerInvocation: true, KindPendingUpdate: true,
		KindSuccessfulUpdate: true, KindFailedUpdate: true, KindGrowMemory: true,
		KindCreateResource: true, KindDropResource: true, KindDescribeResource: true,
		KindLog: true, KindRestart: true, KindActivatePlugin: true, KindDeactivatePlugin: true,
	}

	for kind, entry := range sampleEntries() {
		if got := IsHint(entry); got != hints[kind] {
			t.Errorf("IsHint(%s) = %v, expected %v", kind, got, hints[kind])
		}
	}
}

func TestRounded(t *testing.T) {
	entry := Log{Header: Header{Timestamp: 1_700_000_123_456}, Level: LogLevelWarn, Context: "c", Message: "m"}

	rounded := Rounded(entry)
	if rounded.Time() != 1_700_000_123_000 {
		t.Errorf("expected timestamp truncated to seconds, got %d", rounded.Time())
	}
	if entry.Time() != 1_700_000_123_456 {
		t.Error("Rounded modified the original entry")
	}

	log, ok := rounded.(Log)
	if !ok {
		t.Fatalf("expected Log, got %T", rounded)
	}
	if log.Message != "m" || log.Level != LogLevelWarn {
		t.Errorf("fields lost while rounding: %+v", log)
	}
}

func TestRegionTerminators(t *testing.T) {
	if !IsEndRemoteWrite(NewEndRemoteWrite(5), 5) {
		t.Error("EndRemoteWrite(5) should close the write begun at 5")
	}
	if IsEndRemoteWrite(NewEndRemoteWrite(5), 6) {
		t.Error("EndRemoteWrite(5) should not close the write begun at 6")
	}
	if IsEndRemoteWrite(NewEndAtomicRegion(5), 5) {
		t.Error("EndAtomicRegion is not a remote write terminator")
	}
	if !IsEndAtomicRegion(NewEndAtomicRegion(3), 3) {
		t.Error("EndAtomicRegion(3) should close the region begun at 3")
	}
}

func TestNoConcurrentSideEffect(t *testing.T) {
	begin := Index(4)
	other := Index(9)

	tests := []struct {
		name     string
		entry    Entry
		expected bool
	}{
		{"read local", NewImportedFunctionInvoked("f", Payload{}, Payload{}, WrappedFunctionType{Kind: ReadLocal}), true},
		{"read remote", NewImportedFunctionInvoked("f", Payload{}, Payload{}, WrappedFunctionType{Kind: ReadRemote}), true},
		{"write remote", NewImportedFunctionInvoked("f", Payload{}, Payload{}, WrappedFunctionType{Kind: WriteRemote}), false},
		{"same batch", NewImportedFunctionInvoked("f", Payload{}, Payload{}, Batched(&begin)), true},
		{"other batch", NewImportedFunctionInvoked("f", Payload{}, Payload{}, Batched(&other)), false},
		{"unbound batch", NewImportedFunctionInvoked("f", Payload{}, Payload{}, Batched(nil)), false},
		{"invocation completed", NewExportedFunctionCompleted(Payload{}, 0), false},
		{"log", NewLog(LogLevelInfo, "", "x"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NoConcurrentSideEffect(tt.entry, begin); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestSpecifiesComponentVersion(t *testing.T) {
	samples := sampleEntries()

	if v, ok := SpecifiesComponentVersion(samples[KindCreate]); !ok || v != 3 {
		t.Errorf("Create should pin version 3, got %d %v", v, ok)
	}
	if v, ok := SpecifiesComponentVersion(samples[KindSuccessfulUpdate]); !ok || v != 4 {
		t.Errorf("SuccessfulUpdate should pin version 4, got %d %v", v, ok)
	}
	if _, ok := SpecifiesComponentVersion(samples[KindFailedUpdate]); ok {
		t.Error("FailedUpdate should not pin a version")
	}
}

func TestWorkerIDString(t *testing.T) {
	samples := sampleEntries()
	id := samples[KindCreate].(Create).WorkerID

	parsed, err := ParseWorkerID(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Errorf("expected %v, got %v", id, parsed)
	}

	if _, err := ParseWorkerID("no-separator"); err == nil {
		t.Error("expected error for missing separator")
	}
}
