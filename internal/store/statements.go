package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
)

const selectDevicesSQL = `SELECT device_id, station_id, serial_number, device_type,
	hardware_revision, firmware_revision, agl, device_name, environment, wifi_network_name
FROM devices
ORDER BY station_id, device_id`

// scanDevice reads one row of selectDevicesSQL. Both *sql.Rows and pgx rows
// accept database/sql null types as scan targets.
func scanDevice(scan func(dest ...any) error) (tempest.Device, error) {
	var (
		d                                tempest.Device
		serial, kind, hardware, firmware sql.NullString
		name, environment, wifiNetwork   sql.NullString
		agl                              sql.NullFloat64
	)
	if err := scan(&d.DeviceID, &d.StationID, &serial, &kind, &hardware, &firmware,
		&agl, &name, &environment, &wifiNetwork); err != nil {
		return tempest.Device{}, err
	}
	d.SerialNumber = serial.String
	d.DeviceType = kind.String
	d.HardwareRevision = hardware.String
	d.FirmwareRevision = firmware.String
	d.Name = name.String
	d.Environment = environment.String
	d.WifiNetworkName = wifiNetwork.String
	if agl.Valid {
		v := agl.Float64
		d.AGL = &v
	}
	return d, nil
}

// dialect captures the bits of SQL that differ between backends.
type dialect struct {
	placeholder func(i int) string
	quote       func(ident string) string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	quote: func(ident string) string {
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	},
}

func (d dialect) insert(table string, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.quote(c)
		params[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.quote(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

func (d dialect) upsert(table string, columns, conflictKey []string) string {
	isKey := make(map[string]bool, len(conflictKey))
	keys := make([]string, len(conflictKey))
	for i, k := range conflictKey {
		isKey[k] = true
		keys[i] = d.quote(k)
	}

	var sets []string
	for _, c := range columns {
		if isKey[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", d.quote(c), d.quote(c)))
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) %s",
		d.insert(table, columns), strings.Join(keys, ", "), action)
}
