package storage

import (
	"context"
	"errors"

	"ammScope/internal/model"
)

// Sink receives committed swap records.
type Sink interface {
	PutSwapBatch(ctx context.Context, records []model.SwapRecord) error
}

// LogSink receives raw chain logs.
type LogSink interface {
	PutLogBatch(logs []model.LogRecord) error
}

// Sinks fans a batch out to every sink. All sinks are attempted; errors are joined.
type Sinks []Sink

func (s Sinks) PutSwapBatch(ctx context.Context, records []model.SwapRecord) error {
	var errs []error
	for _, sink := range s {
		if err := sink.PutSwapBatch(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
