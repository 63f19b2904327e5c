package commands

import (
	"github.com/rs/zerolog"

	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

// logEvents writes published events to the process log. Worker output goes
// out at debug level; warnings and errors of any event type are always
// logged.
func logEvents(events *telemetry.EventPublisher, logger zerolog.Logger) {
	logger = logger.With().Str("component", "events").Logger()

	events.Subscribe(func(e telemetry.Event) {
		live, _ := e.Data["live"].(bool)
		logger.Debug().
			Str("worker_id", e.WorkerID).
			Interface("log_level", e.Data["log_level"]).
			Interface("context", e.Data["context"]).
			Bool("live", live).
			Msg(e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeWorkerLog))

	events.Subscribe(func(e telemetry.Event) {
		ev := logger.Warn()
		if e.Level == telemetry.EventLevelError {
			ev = logger.Error()
		}
		ev.Str("worker_id", e.WorkerID).
			Str("event", e.Type).
			Fields(e.Data).
			Msg(e.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
}
