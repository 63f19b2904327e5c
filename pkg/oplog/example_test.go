package oplog_test

import (
	"fmt"

	"github.com/openfroyo/worker-executor/pkg/oplog"
)

func ExampleDeletedRegions() {
	regions := oplog.NewDeletedRegions(oplog.Region{Start: 4, End: 6})

	next, _ := regions.FindNextDeletedRegion(oplog.Index(2))
	fmt.Println(next)
	fmt.Println(regions.IsInDeletedRegion(5))
	// Output:
	// <4..=6>
	// true
}

func ExampleDecode() {
	data, err := oplog.Encode(oplog.Log{
		Header:  oplog.Header{Timestamp: 1_700_000_000_000},
		Level:   oplog.LogLevelInfo,
		Context: "init",
		Message: "ready",
	})
	if err != nil {
		panic(err)
	}

	entry, err := oplog.Decode(data)
	if err != nil {
		panic(err)
	}
	log := entry.(oplog.Log)
	fmt.Println(entry.Kind(), oplog.IsHint(entry), log.Level, log.Message)
	// Output: Log true info ready
}
