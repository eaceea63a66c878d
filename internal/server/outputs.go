package server

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/dockling/internal/storage/gcs"
	"github.com/JakeFAU/dockling/internal/worker"
)

// outputs routes gs:// output directories to Cloud Storage and everything
// else to the local filesystem. The storage client is created on first use.
type outputs struct {
	logger *zap.Logger

	mu      sync.Mutex
	writers gcs.Writers
	client  *storage.Client
}

func (o *outputs) open(ctx context.Context, dir string) (worker.Output, error) {
	if !gcs.IsURI(dir) {
		return worker.LocalOutput(ctx, dir)
	}
	writers, err := o.gcsWriters(ctx)
	if err != nil {
		return nil, err
	}
	store, err := gcs.New(writers, dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (o *outputs) gcsWriters(ctx context.Context) (gcs.Writers, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writers != nil {
		return o.writers, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	o.logger.Info("cloud storage client created")
	o.client = client
	o.writers = gcs.ClientWriters{Client: client}
	return o.writers, nil
}

func (o *outputs) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		return
	}
	if err := o.client.Close(); err != nil {
		o.logger.Warn("storage client close failed", zap.Error(err))
	}
	o.client = nil
	o.writers = nil
}
