package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jamesrupertball/tempest-weather-airport/internal/store"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest/stream"
)

// newStreamServer accepts a subscription, writes frames and then holds the
// session open until the client leaves.
func newStreamServer(t *testing.T, frames ...string) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func boundedClient(url string) *stream.Client {
	return stream.NewClient(stream.Config{
		URL:            url,
		Token:          "abcdefghijklmnop",
		DeviceID:       469455,
		ReconnectDelay: 10 * time.Millisecond,
		RestartDelay:   10 * time.Millisecond,
		Once:           true,
	}, zap.NewNop())
}

type runnerFunc func(ctx context.Context, handler stream.Handler) error

func (f runnerFunc) Run(ctx context.Context, handler stream.Handler) error { return f(ctx, handler) }

func TestRunUntilData_TimesOutWithoutData(t *testing.T) {
	url := newStreamServer(t, `{"type":"connection_opened"}`, `{"type":"ack","id":"x"}`)
	d := NewDispatcher(store.NewMemoryStore(0), nil, zap.NewNop())

	started := time.Now()
	got, err := RunUntilData(context.Background(), boundedClient(url), d, 150*time.Millisecond)
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.False(t, got)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, int64(0), d.Stats().Stored)
}

func TestRunUntilData_StopsOnFirstObservation(t *testing.T) {
	url := newStreamServer(t, `{"type":"connection_opened"}`, obsStFrame)
	mem := store.NewMemoryStore(0)
	d := NewDispatcher(mem, nil, zap.NewNop())

	started := time.Now()
	got, err := RunUntilData(context.Background(), boundedClient(url), d, 10*time.Second)

	require.NoError(t, err)
	assert.True(t, got)
	assert.Less(t, time.Since(started), 3*time.Second)
	assert.Equal(t, 1, mem.Count(tempest.TableStationObservations))
}

func TestRunUntilData_ParentCancelIsNoData(t *testing.T) {
	url := newStreamServer(t)
	d := NewDispatcher(store.NewMemoryStore(0), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	got, err := RunUntilData(ctx, boundedClient(url), d, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestRunUntilData_ReturnsStreamError(t *testing.T) {
	d := NewDispatcher(store.NewMemoryStore(0), nil, zap.NewNop())
	run := runnerFunc(func(context.Context, stream.Handler) error { return stream.ErrPeerClosed })

	got, err := RunUntilData(context.Background(), run, d, time.Second)
	assert.ErrorIs(t, err, stream.ErrPeerClosed)
	assert.False(t, got)
}
