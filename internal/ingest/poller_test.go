package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jamesrupertball/tempest-weather-airport/internal/store"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest/rest"
)

var pollNow = time.Date(2023, 11, 14, 22, 30, 0, 0, time.UTC)

func newTestPoller(src ObservationSource, sink tempest.Sink) *Poller {
	p := NewPoller(src, sink, nil, 469455, 15*time.Minute, zap.NewNop())
	p.now = func() time.Time { return pollNow }
	return p
}

func TestPoller_StoresWindow(t *testing.T) {
	var gotStart, gotEnd time.Time
	src := sourceFunc(func(_ context.Context, deviceID int64, start, end time.Time) (*rest.ObservationsResponse, error) {
		assert.Equal(t, int64(469455), deviceID)
		gotStart, gotEnd = start, end
		return &rest.ObservationsResponse{
			Type:     "obs_st",
			DeviceID: 469455,
			Obs:      [][]*float64{stationRow(1700000000), stationRow(1700000060)},
		}, nil
	})
	mem := store.NewMemoryStore(0)

	sum, err := newTestPoller(src, mem).CollectAndStore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Stored)
	assert.Equal(t, pollNow, gotEnd)
	assert.Equal(t, pollNow.Add(-15*time.Minute), gotStart)
	assert.Equal(t, 2, mem.Count(tempest.TableStationObservations))
}

func TestPoller_OverlappingWindowsReportDuplicates(t *testing.T) {
	src := sourceFunc(func(context.Context, int64, time.Time, time.Time) (*rest.ObservationsResponse, error) {
		return &rest.ObservationsResponse{Type: "obs_st", DeviceID: 469455, Obs: [][]*float64{stationRow(1700000000)}}, nil
	})
	p := newTestPoller(src, store.NewMemoryStore(0))

	first, err := p.CollectAndStore(context.Background())
	require.NoError(t, err)
	second, err := p.CollectAndStore(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Stored: 1, PrimaryStored: true}, first)
	assert.Equal(t, Summary{Duplicates: 1}, second)

	last, ok := p.LastRun()
	require.True(t, ok)
	assert.Equal(t, 1, last.Duplicates)
	assert.Equal(t, pollNow, last.End)
}

func TestPoller_EmptyResponses(t *testing.T) {
	cases := map[string]*rest.ObservationsResponse{
		"nil":       nil,
		"empty obs": {Type: "obs_st", DeviceID: 469455, Obs: [][]*float64{}},
		"no obs":    {Type: "obs_st", DeviceID: 469455},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			sink := new(MockSink)
			src := sourceFunc(func(context.Context, int64, time.Time, time.Time) (*rest.ObservationsResponse, error) {
				return resp, nil
			})

			sum, err := newTestPoller(src, sink).CollectAndStore(context.Background())
			require.NoError(t, err)
			assert.Zero(t, sum.Stored)
			sink.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPoller_FetchErrorIsEmptyCycle(t *testing.T) {
	sink := new(MockSink)
	src := sourceFunc(func(context.Context, int64, time.Time, time.Time) (*rest.ObservationsResponse, error) {
		return nil, errBoom
	})
	p := newTestPoller(src, sink)

	sum, err := p.CollectAndStore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum)
	sink.AssertNumberOfCalls(t, "Insert", 0)

	last, ok := p.LastRun()
	require.True(t, ok)
	assert.Equal(t, "boom", last.Error)
}

func TestPoller_CancelledFetchIsReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := sourceFunc(func(ctx context.Context, _ int64, _, _ time.Time) (*rest.ObservationsResponse, error) {
		return nil, ctx.Err()
	})
	p := newTestPoller(src, new(MockSink))

	_, err := p.CollectAndStore(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoller_DefaultsTypeAndDevice(t *testing.T) {
	sink := new(MockSink)
	src := sourceFunc(func(context.Context, int64, time.Time, time.Time) (*rest.ObservationsResponse, error) {
		return &rest.ObservationsResponse{Obs: [][]*float64{stationRow(1700000000)}}, nil
	})
	sink.On("Insert", mock.Anything, tempest.TableStationObservations, mock.MatchedBy(func(r tempest.Row) bool {
		id, _ := r.Get("device_id")
		return id == int64(469455)
	})).Return(tempest.OutcomeStored, nil).Once()

	sum, err := newTestPoller(src, sink).CollectAndStore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stored)
	sink.AssertExpectations(t)
}

func TestPoller_RowFailuresAreCounted(t *testing.T) {
	sink := new(MockSink)
	src := sourceFunc(func(context.Context, int64, time.Time, time.Time) (*rest.ObservationsResponse, error) {
		return &rest.ObservationsResponse{Type: "obs_st", DeviceID: 469455, Obs: [][]*float64{
			stationRow(1700000000),
			row(1700000060, 1),
			stationRow(1700000120),
		}}, nil
	})
	sink.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(tempest.OutcomeFailed, errBoom).Once()
	sink.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(tempest.OutcomeStored, nil).Once()

	sum, err := newTestPoller(src, sink).CollectAndStore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stored)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Invalid)
}
