package commands

import (
	"context"
	"fmt"

	"github.com/openfroyo/worker-executor/pkg/config"
	"github.com/openfroyo/worker-executor/pkg/oplogsvc"
	"github.com/openfroyo/worker-executor/pkg/stores"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

// backends holds the storage selected by the configuration. The backends
// are chosen once per process.
type backends struct {
	storage stores.IndexedStorage
	blobs   stores.BlobStorage
	oplogs  *oplogsvc.Service
}

func openBackends(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*backends, error) {
	storage, err := stores.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open indexed storage: %w", err)
	}

	blobs, err := stores.OpenBlobs(cfg.Blobs, storage)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to open blob storage: %w", err)
	}

	oplogs, err := oplogsvc.New(ctx, storage, blobs, cfg.Oplog,
		oplogsvc.WithLogger(tel.Logger.Zerolog()),
		oplogsvc.WithMetrics(tel.Metrics),
		oplogsvc.WithTracer(tel.Tracer),
	)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	return &backends{storage: storage, blobs: blobs, oplogs: oplogs}, nil
}

func (b *backends) Close() error {
	return b.storage.Close()
}
