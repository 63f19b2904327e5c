// Package executor loads workers from their oplogs and gives host functions
// the durability contract: every non-deterministic effect is executed and
// recorded while the worker is live, and read back from the oplog while it
// replays.
//
// A host function wraps its effect in Durable:
//
//	now, err := executor.Durable(ctx, w, "wall-clock::now", oplog.WrappedFunctionType{Kind: oplog.ReadLocal}, struct{}{},
//		func(ctx context.Context, _ struct{}) (int64, error) {
//			return time.Now().UnixMilli(), nil
//		})
//
// On the first run the function is called and its result is appended to the
// oplog. When the worker is loaded again the recorded result is returned and
// the function is not called.
package executor
