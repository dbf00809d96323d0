package eventbus

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	msg := Message{Topic: "trades.trade_executed.v1", Key: "agg-1", Value: []byte(`{}`)}
	require.NoError(t, b.Publish(context.Background(), msg))

	got := <-ch
	assert.Equal(t, msg.Key, got.Key)
	require.Len(t, b.Log(), 1)
}

func TestPublishFailsDuringOutage(t *testing.T) {
	b := NewMemory()
	outage := errors.New("broker down")
	b.FailWith(outage)
	err := b.Publish(context.Background(), Message{Topic: "t"})
	assert.ErrorIs(t, err, outage)
	assert.Empty(t, b.Log())

	b.FailWith(nil)
	require.NoError(t, b.Publish(context.Background(), Message{Topic: "t"}))
	assert.Len(t, b.Log(), 1)
}

func TestLogRetainsBoundedTail(t *testing.T) {
	b := NewMemory()
	for i := 0; i < maxLogEntries+10; i++ {
		require.NoError(t, b.Publish(context.Background(), Message{Key: strconv.Itoa(i)}))
	}

	log := b.Log()
	require.Len(t, log, maxLogEntries)
	// Oldest entries were dropped; the tail is intact and in order.
	assert.Equal(t, strconv.Itoa(10), log[0].Key)
	assert.Equal(t, strconv.Itoa(maxLogEntries+9), log[len(log)-1].Key)
}
