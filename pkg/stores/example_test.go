package stores_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/worker-executor/pkg/stores"
)

func ExampleMemoryStore() {
	ctx := context.Background()
	store := stores.NewMemoryStore()

	for id := uint64(1); id <= 3; id++ {
		_ = store.Append(ctx, stores.OpLog(), "worker-1", id, []byte(fmt.Sprintf("entry-%d", id)))
	}

	_ = store.DropPrefix(ctx, stores.OpLog(), "worker-1", 1)

	records, _ := store.Read(ctx, stores.OpLog(), "worker-1", 1, 10)
	for _, r := range records {
		fmt.Println(r.ID, string(r.Value))
	}
	// Output:
	// 2 entry-2
	// 3 entry-3
}
