package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordedCall struct {
	svc, api, op string
	failed       bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) RecordStorageCall(svc, api, op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{svc: svc, api: api, op: op, failed: err != nil})
}

func TestLabelledRecordsCalls(t *testing.T) {
	recorder := &fakeRecorder{}
	s := WithLabels(NewMemoryStore(), recorder, "oplog", "append")
	ctx := context.Background()

	if err := s.Append(ctx, OpLog(), "k", 1, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, OpLog(), "k", 1, []byte("a")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := s.Length(ctx, OpLog(), "k"); err != nil {
		t.Fatal(err)
	}

	expected := []recordedCall{
		{"oplog", "append", "append", false},
		{"oplog", "append", "append", true},
		{"oplog", "append", "length", false},
	}
	if len(recorder.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %v", len(expected), recorder.calls)
	}
	for i, call := range expected {
		if recorder.calls[i] != call {
			t.Errorf("call %d = %+v, expected %+v", i, recorder.calls[i], call)
		}
	}
}

func TestWithLabelsDoesNotNest(t *testing.T) {
	inner := NewMemoryStore()
	outer := WithLabels(WithLabels(inner, nil, "a", "b"), nil, "c", "d")
	if outer.IndexedStorage != inner {
		t.Error("relabelling should wrap the underlying storage")
	}
}
