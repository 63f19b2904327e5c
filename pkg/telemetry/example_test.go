package telemetry_test

import (
	"context"
	"fmt"
	"net/http/httptest"

	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

func ExampleEventPublisher() {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 8})
	if err != nil {
		panic(err)
	}
	defer events.Shutdown(context.Background())

	events.Subscribe(func(e telemetry.Event) {
		fmt.Printf("%s %s live=%v\n", e.WorkerID, e.Message, e.Data["live"])
	}, telemetry.FilterByType(telemetry.EventTypeWorkerLog))

	_ = events.PublishWorkerLog("c0ffee:w1", "info", "main", "hello", true)
	_ = events.PublishWorkerLive("c0ffee:w1", 12)
	_ = events.PublishWorkerLog("c0ffee:w1", "info", "main", "again", false)

	// Output:
	// c0ffee:w1 hello live=true
	// c0ffee:w1 again live=false
}

func ExampleMetrics_disabled() {
	var m *telemetry.Metrics
	m.RecordStorageCall("oplog", "indexed", "append", 0, nil)
	m.RecordCacheHit()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	fmt.Println(rec.Code)

	// Output:
	// 404
}
