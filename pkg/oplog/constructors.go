package oplog

// The constructors below stamp the entry with the current time.

func NewNoOp() NoOp { return NoOp{Header: now()} }

func NewJump(region Region) Jump { return Jump{Header: now(), Region: region} }

func NewBeginRemoteWrite() BeginRemoteWrite { return BeginRemoteWrite{Header: now()} }

func NewEndRemoteWrite(begin Index) EndRemoteWrite {
	return EndRemoteWrite{Header: now(), BeginIndex: begin}
}

func NewBeginAtomicRegion() BeginAtomicRegion { return BeginAtomicRegion{Header: now()} }

func NewEndAtomicRegion(begin Index) EndAtomicRegion {
	return EndAtomicRegion{Header: now(), BeginIndex: begin}
}

func NewLog(level LogLevel, context, message string) Log {
	return Log{Header: now(), Level: level, Context: context, Message: message}
}

func NewSuspend() Suspend { return Suspend{Header: now()} }

func NewInterrupted() Interrupted { return Interrupted{Header: now()} }

func NewExited() Exited { return Exited{Header: now()} }

func NewRestart() Restart { return Restart{Header: now()} }

func NewError(err WorkerError) Error { return Error{Header: now(), Error: err} }

func NewGrowMemory(delta uint64) GrowMemory { return GrowMemory{Header: now(), Delta: delta} }

func NewCreate(workerID WorkerID, version ComponentVersion, accountID AccountID) Create {
	return Create{
		Header:           now(),
		WorkerID:         workerID,
		ComponentVersion: version,
		Args:             []string{},
		Env:              map[string]string{},
		AccountID:        accountID,
	}
}

func NewImportedFunctionInvoked(name string, request, response Payload, ft WrappedFunctionType) ImportedFunctionInvoked {
	return ImportedFunctionInvoked{
		Header:       now(),
		FunctionName: name,
		Request:      request,
		Response:     response,
		FunctionType: ft,
	}
}

func NewExportedFunctionInvoked(name string, request Payload, key IdempotencyKey) ExportedFunctionInvoked {
	return ExportedFunctionInvoked{
		Header:         now(),
		FunctionName:   name,
		Request:        request,
		IdempotencyKey: key,
	}
}

func NewExportedFunctionCompleted(response Payload, consumedFuel int64) ExportedFunctionCompleted {
	return ExportedFunctionCompleted{Header: now(), Response: response, ConsumedFuel: consumedFuel}
}

func NewSuccessfulUpdate(target ComponentVersion, size uint64, plugins []PluginInstallationID) SuccessfulUpdate {
	return SuccessfulUpdate{Header: now(), TargetVersion: target, NewComponentSize: size, NewActivePlugins: plugins}
}
