package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest/stream"
)

// StreamRunner is satisfied by *stream.Client.
type StreamRunner interface {
	Run(ctx context.Context, handler stream.Handler) error
}

// RunUntilData feeds the stream into d until the first observation is
// stored or timeout elapses, and reports whether data arrived. Running out
// of time or being cancelled is a no-data outcome, not an error.
func RunUntilData(ctx context.Context, r StreamRunner, d *Dispatcher, timeout time.Duration) (bool, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go func() {
		select {
		case <-d.Received():
			cancel()
		case <-runCtx.Done():
		}
	}()

	err := r.Run(runCtx, d.OnMessage)
	switch {
	case d.DataReceived():
		return true, nil
	case err == nil,
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return false, nil
	default:
		return false, err
	}
}
