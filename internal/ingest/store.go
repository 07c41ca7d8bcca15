package ingest

import (
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/jamesrupertball/tempest-weather-airport/internal/deadletter"
	"github.com/jamesrupertball/tempest-weather-airport/internal/metrics"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
)

// Summary counts the outcome of storing one batch of rows.
type Summary struct {
	Stored     int `json:"stored"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	// Invalid counts rows that could not be decoded.
	Invalid int `json:"invalid"`

	// PrimaryStored is true when at least one obs_st, obs_air or obs_sky row was stored.
	PrimaryStored bool `json:"-"`
}

func (s *Summary) add(o Summary) {
	s.Stored += o.Stored
	s.Duplicates += o.Duplicates
	s.Failed += o.Failed
	s.Invalid += o.Invalid
	s.PrimaryStored = s.PrimaryStored || o.PrimaryStored
}

// writer decodes the rows of a frame and writes them to the sink. Both the
// stream and the polling path go through it.
type writer struct {
	sink   tempest.Sink
	dlq    deadletter.Publisher
	logger *zap.Logger
}

func (w writer) storeFrame(ctx context.Context, frame tempest.Frame) Summary {
	var sum Summary
	for _, env := range frame.Envelopes() {
		sum.add(w.storeEnvelope(ctx, env))
	}
	return sum
}

func (w writer) storeEnvelope(ctx context.Context, env tempest.Envelope) Summary {
	rec, err := tempest.Decode(env)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(string(env.Type)).Inc()
		w.logger.Warn("Skipping undecodable row",
			zap.String("type", string(env.Type)),
			zap.Int64("device_id", env.DeviceID),
			zap.Error(err))
		w.deadLetter(ctx, deadletter.ReasonDecode, env, err)
		return Summary{Invalid: 1}
	}

	outcome, err := tempest.Store(ctx, w.sink, rec)
	metrics.RecordsWritten.WithLabelValues(rec.Table(), outcome.String()).Inc()

	switch outcome {
	case tempest.OutcomeStored:
		w.logger.Debug("Stored record",
			zap.String("table", rec.Table()),
			zap.Int64("device_id", env.DeviceID))
		return Summary{Stored: 1, PrimaryStored: env.Type.IsPrimaryObservation()}
	case tempest.OutcomeDuplicate:
		w.logger.Debug("Record already stored",
			zap.String("table", rec.Table()),
			zap.Int64("device_id", env.DeviceID))
		return Summary{Duplicates: 1}
	default:
		w.logger.Error("Failed to store record",
			zap.String("table", rec.Table()),
			zap.Any("payload", payloadValues(env.Payload)),
			zap.Error(err))
		w.deadLetter(ctx, deadletter.ReasonStorage, env, err)
		return Summary{Failed: 1}
	}
}

type deadRow struct {
	Type     string     `json:"type"`
	DeviceID int64      `json:"device_id"`
	Payload  []*float64 `json:"payload"`
}

func (w writer) deadLetter(ctx context.Context, reason string, env tempest.Envelope, cause error) {
	raw, err := json.Marshal(deadRow{Type: string(env.Type), DeviceID: env.DeviceID, Payload: env.Payload})
	if err != nil {
		return
	}
	if err := w.dlq.Publish(ctx, reason, strconv.FormatInt(env.DeviceID, 10), raw, cause); err != nil {
		w.logger.Warn("Dead letter publish failed", zap.String("reason", reason), zap.Error(err))
	}
}

// payloadValues renders a payload for logging with nulls preserved.
func payloadValues(p []*float64) []any {
	out := make([]any, len(p))
	for i, v := range p {
		if v != nil {
			out[i] = *v
		}
	}
	return out
}
