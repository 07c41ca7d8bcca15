package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest/rest"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Insert(ctx context.Context, table string, row tempest.Row) (tempest.Outcome, error) {
	args := m.Called(ctx, table, row)
	return args.Get(0).(tempest.Outcome), args.Error(1)
}

func (m *MockSink) Upsert(ctx context.Context, table string, row tempest.Row, conflictKey ...string) (tempest.Outcome, error) {
	args := m.Called(ctx, table, row, conflictKey)
	return args.Get(0).(tempest.Outcome), args.Error(1)
}

type deadLetter struct {
	reason string
	key    string
	raw    string
	cause  error
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []deadLetter
}

func (p *fakePublisher) Publish(_ context.Context, reason, key string, raw []byte, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, deadLetter{reason: reason, key: key, raw: string(raw), cause: cause})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type sourceFunc func(ctx context.Context, deviceID int64, start, end time.Time) (*rest.ObservationsResponse, error)

func (f sourceFunc) Observations(ctx context.Context, deviceID int64, start, end time.Time) (*rest.ObservationsResponse, error) {
	return f(ctx, deviceID, start, end)
}

type stationsFunc func(ctx context.Context) ([]tempest.Station, error)

func (f stationsFunc) Stations(ctx context.Context) ([]tempest.Station, error) {
	return f(ctx)
}

var errBoom = errors.New("boom")

func fp(v float64) *float64 { return &v }

func row(vals ...float64) []*float64 {
	out := make([]*float64, len(vals))
	for i, v := range vals {
		out[i] = fp(v)
	}
	return out
}

// stationRow is a complete 18-position obs_st payload at ts.
func stationRow(ts float64) []*float64 {
	return row(ts, 0.5, 3.1, 4.2, 180, 3, 1012.5, 21.5, 55, 1000, 2.1, 300, 0, 0, 0, 0, 2.6, 1)
}
