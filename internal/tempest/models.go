package tempest

import (
	"time"
)

// MessageType is the "type" discriminator carried by every Tempest frame.
type MessageType string

const (
	TypeStationObservation MessageType = "obs_st"
	TypeAirObservation     MessageType = "obs_air"
	TypeSkyObservation     MessageType = "obs_sky"
	TypeRapidWind          MessageType = "rapid_wind"
	TypePrecipitation      MessageType = "evt_precip"
	TypeLightningStrike    MessageType = "evt_strike"
	TypeDeviceStatus       MessageType = "device_status"
	TypeHubStatus          MessageType = "hub_status"
	TypeAck                MessageType = "ack"
	TypeConnectionOpened   MessageType = "connection_opened"
	TypeUnknown            MessageType = "unknown"
)

// ParseMessageType maps a wire tag to a known MessageType, or TypeUnknown.
func ParseMessageType(s string) MessageType {
	switch t := MessageType(s); t {
	case TypeStationObservation, TypeAirObservation, TypeSkyObservation,
		TypeRapidWind, TypePrecipitation, TypeLightningStrike,
		TypeDeviceStatus, TypeHubStatus, TypeAck, TypeConnectionOpened:
		return t
	default:
		return TypeUnknown
	}
}

// Decodable reports whether frames of this type carry a positional payload.
func (t MessageType) Decodable() bool {
	_, ok := schemas[t]
	return ok
}

// IsStatus reports whether the type is a device or hub health report.
func (t MessageType) IsStatus() bool {
	return t == TypeDeviceStatus || t == TypeHubStatus
}

// IsPrimaryObservation reports whether a stored record of this type counts as
// "data received" for bounded runs.
func (t MessageType) IsPrimaryObservation() bool {
	switch t {
	case TypeStationObservation, TypeAirObservation, TypeSkyObservation:
		return true
	}
	return false
}

// Logical table names.
const (
	TableStationObservations = "observations_tempest"
	TableAirObservations     = "observations_air"
	TableSkyObservations     = "observations_sky"
	TableRapidWind           = "rapid_wind"
	TablePrecipitationEvents = "precipitation_events"
	TableLightningStrikes    = "lightning_strikes"
	TableStations            = "stations"
	TableDevices             = "devices"
)

// TableKeys lists the natural key of every table. Two rows with equal key
// columns are the same logical record.
var TableKeys = map[string][]string{
	TableStationObservations: {"device_id", "timestamp"},
	TableAirObservations:     {"device_id", "timestamp"},
	TableSkyObservations:     {"device_id", "timestamp"},
	TableRapidWind:           {"device_id", "timestamp"},
	TablePrecipitationEvents: {"device_id", "timestamp"},
	TableLightningStrikes:    {"device_id", "timestamp"},
	TableStations:            {"station_id"},
	TableDevices:             {"device_id"},
}

// Envelope is a single payload row of an inbound frame, prior to field decoding.
type Envelope struct {
	Type         MessageType
	DeviceID     int64
	SerialNumber string
	Payload      []*float64
}

// Record is a decoded, immutable row bound for one logical table.
type Record interface {
	Table() string
	Row() Row
}

// StationObservation is an obs_st row from a Tempest station.
type StationObservation struct {
	Timestamp            time.Time
	DeviceID             int64
	WindLull             *float64
	WindAvg              *float64
	WindGust             *float64
	WindDirection        *float64
	WindSampleInterval   *int
	Pressure             *float64
	AirTemperature       *float64
	RelativeHumidity     *float64
	Illuminance          *float64
	UVIndex              *float64
	SolarRadiation       *float64
	RainAccumulation     *float64
	PrecipitationType    *int
	LightningAvgDistance *float64
	LightningStrikeCount *int
	Battery              *float64
	ReportInterval       *int
}

func (StationObservation) Table() string { return TableStationObservations }

func (o StationObservation) Row() Row {
	return Row{
		{"timestamp", o.Timestamp},
		{"device_id", o.DeviceID},
		{"wind_lull", o.WindLull},
		{"wind_avg", o.WindAvg},
		{"wind_gust", o.WindGust},
		{"wind_direction", o.WindDirection},
		{"wind_sample_interval", o.WindSampleInterval},
		{"pressure", o.Pressure},
		{"air_temperature", o.AirTemperature},
		{"relative_humidity", o.RelativeHumidity},
		{"illuminance", o.Illuminance},
		{"uv_index", o.UVIndex},
		{"solar_radiation", o.SolarRadiation},
		{"rain_accumulation", o.RainAccumulation},
		{"precipitation_type", o.PrecipitationType},
		{"lightning_avg_distance", o.LightningAvgDistance},
		{"lightning_strike_count", o.LightningStrikeCount},
		{"battery", o.Battery},
		{"report_interval", o.ReportInterval},
	}
}

// AirObservation is an obs_air row from a legacy AIR device.
type AirObservation struct {
	Timestamp            time.Time
	DeviceID             int64
	Pressure             *float64
	AirTemperature       *float64
	RelativeHumidity     *float64
	LightningStrikeCount *int
	LightningAvgDistance *float64
	Battery              *float64
	ReportInterval       *int
}

func (AirObservation) Table() string { return TableAirObservations }

func (o AirObservation) Row() Row {
	return Row{
		{"timestamp", o.Timestamp},
		{"device_id", o.DeviceID},
		{"pressure", o.Pressure},
		{"air_temperature", o.AirTemperature},
		{"relative_humidity", o.RelativeHumidity},
		{"lightning_strike_count", o.LightningStrikeCount},
		{"lightning_avg_distance", o.LightningAvgDistance},
		{"battery", o.Battery},
		{"report_interval", o.ReportInterval},
	}
}

// SkyObservation is an obs_sky row from a legacy SKY device.
type SkyObservation struct {
	Timestamp                time.Time
	DeviceID                 int64
	Illuminance              *float64
	UVIndex                  *float64
	RainAccumulation         *float64
	WindLull                 *float64
	WindAvg                  *float64
	WindGust                 *float64
	WindDirection            *float64
	Battery                  *float64
	ReportInterval           *int
	SolarRadiation           *float64
	LocalDayRainAccumulation *float64
	PrecipitationType        *int
	WindSampleInterval       *int
}

func (SkyObservation) Table() string { return TableSkyObservations }

func (o SkyObservation) Row() Row {
	return Row{
		{"timestamp", o.Timestamp},
		{"device_id", o.DeviceID},
		{"illuminance", o.Illuminance},
		{"uv_index", o.UVIndex},
		{"rain_accumulation", o.RainAccumulation},
		{"wind_lull", o.WindLull},
		{"wind_avg", o.WindAvg},
		{"wind_gust", o.WindGust},
		{"wind_direction", o.WindDirection},
		{"battery", o.Battery},
		{"report_interval", o.ReportInterval},
		{"solar_radiation", o.SolarRadiation},
		{"local_day_rain_accumulation", o.LocalDayRainAccumulation},
		{"precipitation_type", o.PrecipitationType},
		{"wind_sample_interval", o.WindSampleInterval},
	}
}

// RapidWind is a rapid_wind sample, emitted roughly every 3 seconds.
type RapidWind struct {
	Timestamp     time.Time
	DeviceID      int64
	WindSpeed     *float64
	WindDirection *float64
}

func (RapidWind) Table() string { return TableRapidWind }

func (w RapidWind) Row() Row {
	return Row{
		{"timestamp", w.Timestamp},
		{"device_id", w.DeviceID},
		{"wind_speed", w.WindSpeed},
		{"wind_direction", w.WindDirection},
	}
}

// PrecipitationEvent marks the start of rain detected by a device.
type PrecipitationEvent struct {
	Timestamp    time.Time
	DeviceID     int64
	SerialNumber string
}

func (PrecipitationEvent) Table() string { return TablePrecipitationEvents }

func (e PrecipitationEvent) Row() Row {
	return Row{
		{"timestamp", e.Timestamp},
		{"device_id", e.DeviceID},
		{"serial_number", nullString(e.SerialNumber)},
	}
}

// LightningStrikeEvent is a single detected strike.
type LightningStrikeEvent struct {
	Timestamp    time.Time
	DeviceID     int64
	SerialNumber string
	DistanceKm   *float64
	Energy       *float64
}

func (LightningStrikeEvent) Table() string { return TableLightningStrikes }

func (e LightningStrikeEvent) Row() Row {
	return Row{
		{"timestamp", e.Timestamp},
		{"device_id", e.DeviceID},
		{"serial_number", nullString(e.SerialNumber)},
		{"distance", e.DistanceKm},
		{"energy", e.Energy},
	}
}

// Station is a registry entry returned by the REST /stations endpoint.
type Station struct {
	StationID   int64
	Name        string
	Latitude    *float64
	Longitude   *float64
	Timezone    string
	PublicName  string
	Elevation   *float64
	ShareWithWF *bool
	ShareWithWU *bool
	Devices     []Device
}

func (Station) Table() string { return TableStations }

func (s Station) Row() Row {
	return Row{
		{"station_id", s.StationID},
		{"name", nullString(s.Name)},
		{"latitude", s.Latitude},
		{"longitude", s.Longitude},
		{"timezone", nullString(s.Timezone)},
		{"public_name", nullString(s.PublicName)},
		{"elevation", s.Elevation},
		{"share_with_wf", s.ShareWithWF},
		{"share_with_wu", s.ShareWithWU},
	}
}

// Device is a sensor or hub attached to a station.
type Device struct {
	DeviceID         int64
	StationID        int64
	SerialNumber     string
	DeviceType       string
	HardwareRevision string
	FirmwareRevision string
	AGL              *float64
	Name             string
	Environment      string
	WifiNetworkName  string
}

func (Device) Table() string { return TableDevices }

func (d Device) Row() Row {
	return Row{
		{"device_id", d.DeviceID},
		{"station_id", d.StationID},
		{"serial_number", nullString(d.SerialNumber)},
		{"device_type", nullString(d.DeviceType)},
		{"hardware_revision", nullString(d.HardwareRevision)},
		{"firmware_revision", nullString(d.FirmwareRevision)},
		{"agl", d.AGL},
		{"device_name", nullString(d.Name)},
		{"environment", nullString(d.Environment)},
		{"wifi_network_name", nullString(d.WifiNetworkName)},
	}
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
