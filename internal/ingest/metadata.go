package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
)

// StationSource lists the stations visible to the API token.
type StationSource interface {
	Stations(ctx context.Context) ([]tempest.Station, error)
}

type MetadataSummary struct {
	Stations int `json:"stations"`
	Devices  int `json:"devices"`
	Failed   int `json:"failed"`
}

// SyncMetadata upserts every station and its devices. Individual failures
// are logged and counted; only a failed listing is returned as an error.
// Devices are synced even when their station row could not be written.
func SyncMetadata(ctx context.Context, source StationSource, sink tempest.Sink, logger *zap.Logger) (MetadataSummary, error) {
	stations, err := source.Stations(ctx)
	if err != nil {
		return MetadataSummary{}, err
	}

	var sum MetadataSummary
	for _, st := range stations {
		if _, err := sink.Upsert(ctx, st.Table(), st.Row(), "station_id"); err != nil {
			sum.Failed++
			logger.Error("Failed to upsert station", zap.Int64("station_id", st.StationID), zap.Error(err))
		} else {
			sum.Stations++
			logger.Info("Station synced",
				zap.Int64("station_id", st.StationID),
				zap.String("name", st.Name),
				zap.Int("devices", len(st.Devices)))
		}

		for _, dev := range st.Devices {
			if _, err := sink.Upsert(ctx, dev.Table(), dev.Row(), "device_id"); err != nil {
				sum.Failed++
				logger.Error("Failed to upsert device", zap.Int64("device_id", dev.DeviceID), zap.Error(err))
				continue
			}
			sum.Devices++
			logger.Debug("Device synced",
				zap.Int64("device_id", dev.DeviceID),
				zap.String("device_type", dev.DeviceType),
				zap.String("serial_number", dev.SerialNumber))
		}
	}
	return sum, nil
}
