package tempest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_StationObservation(t *testing.T) {
	raw := []byte(`{"type":"obs_st","device_id":469455,"serial_number":"ST-00012345","hub_sn":"HB-00000001",` +
		`"obs":[[1700000000,0,3.1,4.2,180,3,1013.2,21.5,55,1200,2,150,0,0,null,0,98,60]]}`)

	f, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeStationObservation, f.Type)
	assert.Equal(t, int64(469455), f.DeviceID)
	assert.Equal(t, "HB-00000001", f.HubSerial)

	envs := f.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "ST-00012345", envs[0].SerialNumber)
	require.Len(t, envs[0].Payload, 18)
	assert.Nil(t, envs[0].Payload[14])
	assert.Equal(t, 3.1, *envs[0].Payload[2])
}

func TestParseFrame_RapidWindAndEvents(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"rapid_wind","device_id":1,"ob":[1700000000,2.5,270]}`))
	require.NoError(t, err)
	envs := f.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, TypeRapidWind, envs[0].Type)

	f, err = ParseFrame([]byte(`{"type":"evt_strike","device_id":1,"evt":[1700000000,27,3848]}`))
	require.NoError(t, err)
	assert.Len(t, f.Envelopes(), 1)
}

func TestParseFrame_EmptyPayloadsYieldNothing(t *testing.T) {
	frames := []string{
		`{"type":"obs_st","device_id":1,"obs":[]}`,
		`{"type":"obs_st","device_id":1}`,
		`{"type":"obs_air","device_id":1,"obs":[[]]}`,
		`{"type":"rapid_wind","device_id":1,"ob":[]}`,
		`{"type":"evt_precip","device_id":1}`,
		`{"type":"evt_strike","device_id":1,"evt":null}`,
	}
	for _, raw := range frames {
		f, err := ParseFrame([]byte(raw))
		require.NoError(t, err, raw)
		assert.Empty(t, f.Envelopes(), raw)
	}
}

func TestParseFrame_Classification(t *testing.T) {
	cases := map[string]MessageType{
		`{"type":"device_status","device_id":1,"uptime":2189}`: TypeDeviceStatus,
		`{"type":"hub_status","serial_number":"HB-1"}`:        TypeHubStatus,
		`{"type":"ack","id":"abc"}`:                           TypeAck,
		`{"type":"connection_opened"}`:                        TypeConnectionOpened,
		`{"type":"something_new","device_id":1}`:              TypeUnknown,
		`{"device_id":1}`:                                     TypeUnknown,
	}
	for raw, want := range cases {
		f, err := ParseFrame([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, want, f.Type, raw)
		assert.Empty(t, f.Envelopes())
	}
	assert.True(t, TypeDeviceStatus.IsStatus())
	assert.False(t, TypeRapidWind.IsPrimaryObservation())
	assert.True(t, TypeSkyObservation.IsPrimaryObservation())
	assert.False(t, TypeAck.Decodable())
}

func TestParseFrame_Malformed(t *testing.T) {
	_, err := ParseFrame([]byte(`{"type":"obs_st","obs":[["x"]]}`))
	var de *DecodeError
	assert.ErrorAs(t, err, &de)

	_, err = ParseFrame([]byte(`not json`))
	assert.ErrorAs(t, err, &de)
}

func TestRow_KeyOf(t *testing.T) {
	a, err := Decode(Envelope{Type: TypeRapidWind, DeviceID: 1, Payload: payload(1700000000, 2.5, 270)})
	require.NoError(t, err)
	b, err := Decode(Envelope{Type: TypeRapidWind, DeviceID: 1, Payload: payload(1700000000, 9, 90)})
	require.NoError(t, err)

	key := TableKeys[TableRapidWind]
	assert.Equal(t, a.Row().KeyOf(key), b.Row().KeyOf(key))
	assert.Equal(t, []string{"timestamp", "device_id", "wind_speed", "wind_direction"}, a.Row().Names())
	assert.Equal(t, "stored", OutcomeStored.String())
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
}
