package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
)

func speed(v float64) *float64 { return &v }

func rapidWind(ts int64, s float64) tempest.RapidWind {
	return tempest.RapidWind{
		Timestamp:     time.Unix(ts, 0).UTC(),
		DeviceID:      1,
		WindSpeed:     speed(s),
		WindDirection: speed(270),
	}
}

func TestMemoryStore_InsertThenDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	out, err := tempest.Store(ctx, s, rapidWind(1700000000, 2.5))
	require.NoError(t, err)
	assert.Equal(t, tempest.OutcomeStored, out)

	// same device + timestamp, different reading
	out, err = tempest.Store(ctx, s, rapidWind(1700000000, 9.9))
	require.NoError(t, err)
	assert.Equal(t, tempest.OutcomeDuplicate, out)

	assert.Equal(t, 1, s.Count(tempest.TableRapidWind))
	v, _ := s.Rows(tempest.TableRapidWind)[0].Get("wind_speed")
	assert.Equal(t, 2.5, *v.(*float64))
}

func TestMemoryStore_UnknownTable(t *testing.T) {
	s := NewMemoryStore(0)
	out, err := s.Insert(context.Background(), "nope", tempest.Row{{Name: "a", Value: 1}})
	assert.Equal(t, tempest.OutcomeFailed, out)
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestMemoryStore_Upsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	st := tempest.Station{StationID: 42, Name: "Airport"}
	out, err := s.Upsert(ctx, st.Table(), st.Row(), "station_id")
	require.NoError(t, err)
	assert.Equal(t, tempest.OutcomeStored, out)

	st.Name = "Airport North"
	out, err = s.Upsert(ctx, st.Table(), st.Row())
	require.NoError(t, err)
	assert.Equal(t, tempest.OutcomeStored, out)

	rows := s.Rows(tempest.TableStations)
	require.Len(t, rows, 1)
	name, _ := rows[0].Get("name")
	assert.Equal(t, "Airport North", name)
}

func TestMemoryStore_Retention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	for i := int64(0); i < 3; i++ {
		out, err := tempest.Store(ctx, s, rapidWind(1700000000+i, 1))
		require.NoError(t, err)
		require.Equal(t, tempest.OutcomeStored, out)
	}
	assert.Equal(t, 2, s.Count(tempest.TableRapidWind))

	// the newest rows are still deduplicated
	out, err := tempest.Store(ctx, s, rapidWind(1700000002, 1))
	require.NoError(t, err)
	assert.Equal(t, tempest.OutcomeDuplicate, out)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := tempest.Store(ctx, NewMemoryStore(0), rapidWind(1700000000, 1))
	assert.Equal(t, tempest.OutcomeFailed, out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_ListDevices(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	for _, d := range airportDevices() {
		_, err := s.Upsert(ctx, d.Table(), d.Row(), "device_id")
		require.NoError(t, err)
	}

	got, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(100), got[0].DeviceID)
	assert.Equal(t, airportDevices()[0], got[2])
}
