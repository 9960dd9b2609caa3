package storage

import (
	"context"
	"time"

	"github.com/devilmonastery/authgate/internal/pkg/metrics"
)

// instrumentedKV records metrics for every operation of the wrapped store
type instrumentedKV struct {
	backend string
	kv      KV
}

// Instrument wraps kv so every operation is recorded under the given backend label
func Instrument(backend string, kv KV) KV {
	return &instrumentedKV{backend: backend, kv: kv}
}

func (i *instrumentedKV) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	value, err := i.kv.Get(ctx, key)
	metrics.RecordStorageOperation(i.backend, "get", time.Since(start), err)
	return value, err
}

func (i *instrumentedKV) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := i.kv.Set(ctx, key, value)
	metrics.RecordStorageOperation(i.backend, "set", time.Since(start), err)
	return err
}

func (i *instrumentedKV) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := i.kv.Remove(ctx, key)
	metrics.RecordStorageOperation(i.backend, "remove", time.Since(start), err)
	return err
}
