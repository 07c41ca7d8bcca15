package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jamesrupertball/tempest-weather-airport/internal/common"
	"github.com/jamesrupertball/tempest-weather-airport/internal/deadletter"
	"github.com/jamesrupertball/tempest-weather-airport/internal/metrics"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
)

// Stats is a snapshot of what the dispatcher has processed so far.
type Stats struct {
	Frames      int64     `json:"frames"`
	Stored      int64     `json:"stored"`
	Duplicates  int64     `json:"duplicates"`
	Failed      int64     `json:"failed"`
	Invalid     int64     `json:"invalid"`
	Ignored     int64     `json:"ignored"`
	LastFrameAt time.Time `json:"last_frame_at"`
}

// Dispatcher routes raw stream frames to the decoder and the sink.
type Dispatcher struct {
	w   writer
	now func() time.Time

	mu    sync.Mutex
	stats Stats

	received     chan struct{}
	receivedOnce sync.Once
}

func NewDispatcher(sink tempest.Sink, dlq deadletter.Publisher, logger *zap.Logger) *Dispatcher {
	if dlq == nil {
		dlq = deadletter.Nop{}
	}
	return &Dispatcher{
		w:        writer{sink: sink, dlq: dlq, logger: logger},
		now:      time.Now,
		received: make(chan struct{}),
	}
}

// OnMessage handles one raw frame. It never fails; problems are logged,
// counted and dead-lettered.
func (d *Dispatcher) OnMessage(ctx context.Context, raw []byte) {
	d.mu.Lock()
	d.stats.Frames++
	d.stats.LastFrameAt = d.now().UTC()
	d.mu.Unlock()

	frame, err := tempest.ParseFrame(raw)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(string(tempest.TypeUnknown)).Inc()
		d.w.logger.Warn("Malformed frame", zap.String("raw", common.Truncate(raw, 512)), zap.Error(err))
		if perr := d.w.dlq.Publish(ctx, deadletter.ReasonDecode, "", raw, err); perr != nil {
			d.w.logger.Warn("Dead letter publish failed", zap.Error(perr))
		}
		d.count(Summary{Invalid: 1})
		return
	}
	metrics.FramesReceived.WithLabelValues(string(frame.Type)).Inc()

	switch {
	case frame.Type.IsStatus():
		d.w.logger.Debug("Status report",
			zap.String("type", string(frame.Type)),
			zap.String("serial_number", frame.SerialNumber),
			zap.String("raw", common.Truncate(raw, 512)))
		d.ignore()
		return
	case frame.Type == tempest.TypeAck || frame.Type == tempest.TypeConnectionOpened:
		d.w.logger.Debug("Control frame", zap.String("type", string(frame.Type)))
		d.ignore()
		return
	case !frame.Type.Decodable():
		d.w.logger.Info("Unhandled frame type", zap.String("raw", common.Truncate(raw, 256)))
		d.ignore()
		return
	}

	d.count(d.w.storeFrame(ctx, frame))
}

func (d *Dispatcher) ignore() {
	d.mu.Lock()
	d.stats.Ignored++
	d.mu.Unlock()
}

func (d *Dispatcher) count(s Summary) {
	d.mu.Lock()
	d.stats.Stored += int64(s.Stored)
	d.stats.Duplicates += int64(s.Duplicates)
	d.stats.Failed += int64(s.Failed)
	d.stats.Invalid += int64(s.Invalid)
	d.mu.Unlock()

	if s.PrimaryStored {
		d.receivedOnce.Do(func() { close(d.received) })
	}
}

// Received is closed once the first primary observation has been stored.
func (d *Dispatcher) Received() <-chan struct{} {
	return d.received
}

func (d *Dispatcher) DataReceived() bool {
	select {
	case <-d.received:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
