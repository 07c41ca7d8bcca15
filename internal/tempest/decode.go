package tempest

import (
	"fmt"
	"time"
)

// schemas holds the minimum payload length of every decodable message type.
var schemas = map[MessageType]int{
	TypeStationObservation: 18,
	TypeAirObservation:     8,
	TypeSkyObservation:     14,
	TypeRapidWind:          3,
	TypePrecipitation:      1,
	TypeLightningStrike:    3,
}

// MinPayloadLen returns the number of positions a payload of type t must carry.
func MinPayloadLen(t MessageType) (int, bool) {
	n, ok := schemas[t]
	return n, ok
}

// DecodeError reports a frame or payload that could not be turned into a record.
type DecodeError struct {
	Type   MessageType
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Type, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode maps an envelope's positional payload onto the record type for its
// message type. Values are passed through as-is; only the shape is checked.
// Timestamps are epoch seconds interpreted as UTC.
func Decode(env Envelope) (Record, error) {
	want, ok := schemas[env.Type]
	if !ok {
		return nil, &DecodeError{Type: env.Type, Reason: "no positional schema"}
	}
	p := env.Payload
	if len(p) < want {
		return nil, &DecodeError{
			Type:   env.Type,
			Reason: fmt.Sprintf("payload has %d fields, want at least %d", len(p), want),
		}
	}
	if p[0] == nil {
		return nil, &DecodeError{Type: env.Type, Reason: "missing epoch timestamp"}
	}
	ts := time.Unix(int64(*p[0]), 0).UTC()

	switch env.Type {
	case TypeStationObservation:
		return StationObservation{
			Timestamp:            ts,
			DeviceID:             env.DeviceID,
			WindLull:             p[1],
			WindAvg:              p[2],
			WindGust:             p[3],
			WindDirection:        p[4],
			WindSampleInterval:   intAt(p, 5),
			Pressure:             p[6],
			AirTemperature:       p[7],
			RelativeHumidity:     p[8],
			Illuminance:          p[9],
			UVIndex:              p[10],
			SolarRadiation:       p[11],
			RainAccumulation:     p[12],
			PrecipitationType:    intAt(p, 13),
			LightningAvgDistance: p[14],
			LightningStrikeCount: intAt(p, 15),
			Battery:              p[16],
			ReportInterval:       intAt(p, 17),
		}, nil
	case TypeAirObservation:
		return AirObservation{
			Timestamp:            ts,
			DeviceID:             env.DeviceID,
			Pressure:             p[1],
			AirTemperature:       p[2],
			RelativeHumidity:     p[3],
			LightningStrikeCount: intAt(p, 4),
			LightningAvgDistance: p[5],
			Battery:              p[6],
			ReportInterval:       intAt(p, 7),
		}, nil
	case TypeSkyObservation:
		return SkyObservation{
			Timestamp:                ts,
			DeviceID:                 env.DeviceID,
			Illuminance:              p[1],
			UVIndex:                  p[2],
			RainAccumulation:         p[3],
			WindLull:                 p[4],
			WindAvg:                  p[5],
			WindGust:                 p[6],
			WindDirection:            p[7],
			Battery:                  p[8],
			ReportInterval:           intAt(p, 9),
			SolarRadiation:           p[10],
			LocalDayRainAccumulation: p[11],
			PrecipitationType:        intAt(p, 12),
			WindSampleInterval:       intAt(p, 13),
		}, nil
	case TypeRapidWind:
		return RapidWind{
			Timestamp:     ts,
			DeviceID:      env.DeviceID,
			WindSpeed:     p[1],
			WindDirection: p[2],
		}, nil
	case TypePrecipitation:
		return PrecipitationEvent{
			Timestamp:    ts,
			DeviceID:     env.DeviceID,
			SerialNumber: env.SerialNumber,
		}, nil
	case TypeLightningStrike:
		return LightningStrikeEvent{
			Timestamp:    ts,
			DeviceID:     env.DeviceID,
			SerialNumber: env.SerialNumber,
			DistanceKm:   p[1],
			Energy:       p[2],
		}, nil
	}
	return nil, &DecodeError{Type: env.Type, Reason: "no positional schema"}
}

func intAt(p []*float64, i int) *int {
	if p[i] == nil {
		return nil
	}
	n := int(*p[i])
	return &n
}
