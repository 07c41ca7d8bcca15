package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w, now: func() time.Time { return time.Unix(1700000000, 0) }}

	err := p.Publish(context.Background(), ReasonDecode, "469455", []byte(`{"type":"obs_st","obs":[[1]]}`), errors.New("too short"))
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "469455", string(msg.Key))
	assert.Equal(t, "reason", msg.Headers[0].Key)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "decode", got["reason"])
	assert.Equal(t, "too short", got["error"])
	assert.Equal(t, "2023-11-14T22:13:20Z", got["receivedAt"])
	assert.Equal(t, "obs_st", got["original"].(map[string]any)["type"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_NonJSONPayload(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w, now: time.Now}

	require.NoError(t, p.Publish(context.Background(), ReasonDecode, "", []byte("garbage{"), nil))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "garbage{", got["original"])
	_, hasErr := got["error"]
	assert.False(t, hasErr)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{w: &fakeWriter{err: errors.New("broker down")}, now: time.Now}
	assert.Error(t, p.Publish(context.Background(), ReasonStorage, "k", []byte(`{}`), nil))
}

// blockingWriter stands in for a broker that never acknowledges.
type blockingWriter struct{ fakeWriter }

func (w *blockingWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestKafkaPublisher_PublishIsBounded(t *testing.T) {
	p := &KafkaPublisher{w: &blockingWriter{}, now: time.Now, timeout: 20 * time.Millisecond}

	started := time.Now()
	err := p.Publish(context.Background(), ReasonStorage, "k", []byte(`{}`), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)
}

func TestNewKafkaPublisher_FlushesPromptly(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "tempest.dlq")
	defer p.Close()

	w, ok := p.w.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, w.BatchTimeout)
	assert.False(t, w.Async)
	assert.Equal(t, DefaultPublishTimeout, p.timeout)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), ReasonDecode, "", nil, nil))
	assert.NoError(t, p.Close())
}
