package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
)

var (
	// ErrUnknownTable is returned when a write names a table without a known key.
	ErrUnknownTable = errors.New("unknown table")
)

// tableHistory holds the rows of one table in insertion order.
type tableHistory struct {
	rows  []tempest.Row
	index map[string]int // natural key -> position in rows
}

// MemoryStore is a concurrency-safe in-memory tempest.Sink.
type MemoryStore struct {
	mu sync.RWMutex

	// key: table name
	tables map[string]*tableHistory

	// max number of rows kept per table (0 = unlimited)
	maxRows int
}

// NewMemoryStore creates a new MemoryStore.
// If maxRows is <= 0, it is treated as unlimited. Keys of trimmed rows are
// forgotten, so a trimmed record can be stored again.
func NewMemoryStore(maxRows int) *MemoryStore {
	return &MemoryStore{
		tables:  make(map[string]*tableHistory),
		maxRows: maxRows,
	}
}

// Insert appends row unless a row with the same natural key exists.
func (s *MemoryStore) Insert(ctx context.Context, table string, row tempest.Row) (tempest.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return tempest.OutcomeFailed, err
	}
	keyCols, ok := tempest.TableKeys[table]
	if !ok {
		return tempest.OutcomeFailed, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	key := row.KeyOf(keyCols)

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.history(table)
	if _, exists := history.index[key]; exists {
		return tempest.OutcomeDuplicate, nil
	}
	s.appendRow(history, key, row)
	return tempest.OutcomeStored, nil
}

// Upsert replaces the row sharing conflictKey, or appends it.
func (s *MemoryStore) Upsert(ctx context.Context, table string, row tempest.Row, conflictKey ...string) (tempest.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return tempest.OutcomeFailed, err
	}
	if len(conflictKey) == 0 {
		keyCols, ok := tempest.TableKeys[table]
		if !ok {
			return tempest.OutcomeFailed, fmt.Errorf("%w: %s", ErrUnknownTable, table)
		}
		conflictKey = keyCols
	}
	key := row.KeyOf(conflictKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.history(table)
	if i, exists := history.index[key]; exists {
		history.rows[i] = row
		return tempest.OutcomeStored, nil
	}
	s.appendRow(history, key, row)
	return tempest.OutcomeStored, nil
}

// Rows returns a copy of the rows currently held for table.
func (s *MemoryStore) Rows(table string) []tempest.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.tables[table]
	if !ok {
		return nil
	}
	out := make([]tempest.Row, len(history.rows))
	copy(out, history.rows)
	return out
}

// Count returns the number of rows held for table.
func (s *MemoryStore) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if history, ok := s.tables[table]; ok {
		return len(history.rows)
	}
	return 0
}

// ListDevices rebuilds the stored device rows.
func (s *MemoryStore) ListDevices(context.Context) ([]tempest.Device, error) {
	rows := s.Rows(tempest.TableDevices)
	out := make([]tempest.Device, 0, len(rows))
	for _, r := range rows {
		d := tempest.Device{
			DeviceID:         asInt64(r, "device_id"),
			StationID:        asInt64(r, "station_id"),
			SerialNumber:     asString(r, "serial_number"),
			DeviceType:       asString(r, "device_type"),
			HardwareRevision: asString(r, "hardware_revision"),
			FirmwareRevision: asString(r, "firmware_revision"),
			Name:             asString(r, "device_name"),
			Environment:      asString(r, "environment"),
			WifiNetworkName:  asString(r, "wifi_network_name"),
		}
		if v, ok := r.Get("agl"); ok {
			d.AGL, _ = v.(*float64)
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b tempest.Device) int {
		if c := cmp.Compare(a.StationID, b.StationID); c != 0 {
			return c
		}
		return cmp.Compare(a.DeviceID, b.DeviceID)
	})
	return out, nil
}

func asInt64(r tempest.Row, name string) int64 {
	v, _ := r.Get(name)
	n, _ := v.(int64)
	return n
}

func asString(r tempest.Row, name string) string {
	v, _ := r.Get(name)
	str, _ := v.(string)
	return str
}

func (s *MemoryStore) history(table string) *tableHistory {
	history, ok := s.tables[table]
	if !ok {
		history = &tableHistory{index: make(map[string]int)}
		s.tables[table] = history
	}
	return history
}

func (s *MemoryStore) appendRow(history *tableHistory, key string, row tempest.Row) {
	history.rows = append(history.rows, row)
	history.index[key] = len(history.rows) - 1

	// Enforce retention by count.
	if s.maxRows > 0 && len(history.rows) > s.maxRows {
		over := len(history.rows) - s.maxRows
		history.rows = history.rows[over:]
		for k, i := range history.index {
			if i < over {
				delete(history.index, k)
				continue
			}
			history.index[k] = i - over
		}
	}
}
