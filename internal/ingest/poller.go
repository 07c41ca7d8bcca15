package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jamesrupertball/tempest-weather-airport/internal/deadletter"
	"github.com/jamesrupertball/tempest-weather-airport/internal/metrics"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest/rest"
)

// ObservationSource fetches historical observations for a device.
type ObservationSource interface {
	Observations(ctx context.Context, deviceID int64, start, end time.Time) (*rest.ObservationsResponse, error)
}

// PollResult describes the most recent polling cycle.
type PollResult struct {
	Summary
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Error string    `json:"error,omitempty"`
}

// Poller re-reads a trailing window of observations and stores them.
// Overlapping windows are harmless because the sink reports duplicates.
type Poller struct {
	source   ObservationSource
	w        writer
	deviceID int64
	lookback time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last *PollResult
}

func NewPoller(source ObservationSource, sink tempest.Sink, dlq deadletter.Publisher, deviceID int64, lookback time.Duration, logger *zap.Logger) *Poller {
	if dlq == nil {
		dlq = deadletter.Nop{}
	}
	return &Poller{
		source:   source,
		w:        writer{sink: sink, dlq: dlq, logger: logger.With(zap.Int64("device_id", deviceID))},
		deviceID: deviceID,
		lookback: lookback,
		now:      time.Now,
	}
}

// CollectAndStore performs one polling cycle over [now-lookback, now]. A
// failed fetch counts as an empty cycle and its cause is kept in LastRun;
// only cancellation of ctx is returned.
func (p *Poller) CollectAndStore(ctx context.Context) (Summary, error) {
	end := p.now().UTC()
	start := end.Add(-p.lookback)

	p.w.logger.Info("Fetching observations",
		zap.Time("start", start),
		zap.Time("end", end))

	resp, err := p.source.Observations(ctx, p.deviceID, start, end)
	if err != nil {
		metrics.PollRuns.WithLabelValues("error").Inc()
		p.w.logger.Warn("Failed to fetch observations", zap.Error(err))
		p.remember(PollResult{Start: start, End: end, Error: err.Error()})
		return Summary{}, ctx.Err()
	}

	if resp == nil || len(resp.Obs) == 0 {
		metrics.PollRuns.WithLabelValues("empty").Inc()
		p.w.logger.Info("No observations in window")
		p.remember(PollResult{Start: start, End: end})
		return Summary{}, nil
	}

	frame := resp.Frame()
	if !frame.Type.Decodable() {
		frame.Type = tempest.TypeStationObservation
	}
	if frame.DeviceID == 0 {
		frame.DeviceID = p.deviceID
	}

	sum := p.w.storeFrame(ctx, frame)
	metrics.PollRuns.WithLabelValues("ok").Inc()
	p.w.logger.Info("Polling cycle complete",
		zap.Int("rows", len(resp.Obs)),
		zap.Int("stored", sum.Stored),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("failed", sum.Failed),
		zap.Int("invalid", sum.Invalid))
	p.remember(PollResult{Summary: sum, Start: start, End: end})
	return sum, nil
}

func (p *Poller) remember(r PollResult) {
	p.mu.Lock()
	p.last = &r
	p.mu.Unlock()
}

// LastRun returns the result of the most recent cycle, if any.
func (p *Poller) LastRun() (PollResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return PollResult{}, false
	}
	return *p.last, true
}
