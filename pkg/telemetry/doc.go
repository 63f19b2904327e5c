// Package telemetry provides observability for the worker executor.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// Prometheus metrics and a small event publisher for worker output and
// lifecycle events.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.Zerolog()
//	ctx, span := tel.Tracer.StartWorkerSpan(ctx, workerID.String(), "load")
//	defer func() { telemetry.EndSpan(span, err) }()
//
// # Metrics
//
// Metrics is safe to use as a nil pointer or when built from a disabled
// configuration; every Record method becomes a no-op. The storage call
// recorder (RecordStorageCall) is what the labelled storage wrapper in
// package stores reports to.
//
// # Events
//
// Worker log lines are published as worker.log events. During replay the
// executor re-publishes log lines that were not yet persisted with live set
// to false in the event data, so subscribers can tell re-emitted output from
// new output.
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.WorkerID, e.Message)
//	}, telemetry.FilterByType(telemetry.EventTypeWorkerLog))
//
// Log levels: trace, debug, info, warn, error, fatal. SetGlobalLevel changes
// the level at runtime and is used by the configuration watcher.
package telemetry
