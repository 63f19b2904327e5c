// Package replay implements the cursor that walks a worker's oplog when the
// worker is loaded.
//
// A State starts in replay mode whenever the oplog holds entries the cursor
// has not consumed yet. Host functions ask IsLive before performing an
// effect: in replay mode they read the recorded entry back instead of
// executing it. Once the cursor reaches the last entry that existed when the
// worker was loaded, or SwitchToLive is called, the state is live for the
// rest of its lifetime.
//
// The cursor never lands inside a deleted region and skips hint entries when
// asked for the next entry, remembering the log lines it skipped so that
// re-executed code does not emit them a second time.
package replay
