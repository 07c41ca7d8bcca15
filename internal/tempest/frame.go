package tempest

import (
	"encoding/json"
)

// Frame is one parsed message from the real-time feed or a REST
// observations response.
type Frame struct {
	Type         MessageType
	DeviceID     int64
	SerialNumber string
	HubSerial    string

	Obs [][]*float64
	Ob  []*float64
	Evt []*float64
}

type wireFrame struct {
	Type         string       `json:"type"`
	DeviceID     int64        `json:"device_id"`
	SerialNumber string       `json:"serial_number"`
	HubSN        string       `json:"hub_sn"`
	Obs          [][]*float64 `json:"obs"`
	Ob           []*float64   `json:"ob"`
	Evt          []*float64   `json:"evt"`
}

// ParseFrame decodes a raw JSON frame. Unrecognized types parse successfully
// as TypeUnknown; malformed JSON is a *DecodeError.
func ParseFrame(raw []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{Type: TypeUnknown}, &DecodeError{Type: TypeUnknown, Reason: "malformed frame", Err: err}
	}
	return Frame{
		Type:         ParseMessageType(w.Type),
		DeviceID:     w.DeviceID,
		SerialNumber: w.SerialNumber,
		HubSerial:    w.HubSN,
		Obs:          w.Obs,
		Ob:           w.Ob,
		Evt:          w.Evt,
	}, nil
}

// Envelopes splits the frame into one envelope per non-empty payload row.
// Frames without a positional payload yield none.
func (f Frame) Envelopes() []Envelope {
	var rows [][]*float64
	switch f.Type {
	case TypeStationObservation, TypeAirObservation, TypeSkyObservation:
		rows = f.Obs
	case TypeRapidWind:
		rows = [][]*float64{f.Ob}
	case TypePrecipitation, TypeLightningStrike:
		rows = [][]*float64{f.Evt}
	}

	out := make([]Envelope, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		out = append(out, Envelope{
			Type:         f.Type,
			DeviceID:     f.DeviceID,
			SerialNumber: f.SerialNumber,
			Payload:      row,
		})
	}
	return out
}
