package channel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	redisWait = 2 * time.Second
	redisTick = 5 * time.Millisecond
)

func newTestRedisChannel(t *testing.T) (*RedisChannel, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisChannel(context.Background(), RedisOptions{Addr: mr.Addr(), Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisChannel_ChannelName(t *testing.T) {
	c, _ := newTestRedisChannel(t)
	assert.Equal(t, "trip_room_T1:location_update", c.ChannelName(RoomID("T1")))
}

func TestRedisChannel_PublishReachesSubscriber(t *testing.T) {
	c, mr := newTestRedisChannel(t)

	got := make(chan models.LocationUpdate, 4)
	require.NoError(t, c.Subscribe("trip_room_T1", func(msg models.LocationUpdate) { got <- msg }))
	assert.Contains(t, mr.PubSubChannels(""), "trip_room_T1:location_update")

	want := kafkaUpdate("driver-1", 1700000000000)
	require.NoError(t, c.Publish("trip_room_T1", want))

	select {
	case msg := <-got:
		assert.Equal(t, want, msg)
	case <-time.After(redisWait):
		t.Fatal("location update was not delivered")
	}
}

func TestRedisChannel_SkipsUndecodablePayloads(t *testing.T) {
	c, mr := newTestRedisChannel(t)

	got := make(chan models.LocationUpdate, 4)
	require.NoError(t, c.Subscribe("trip_room_T1", func(msg models.LocationUpdate) { got <- msg }))

	mr.Publish("trip_room_T1:location_update", "not json")
	payload, err := Encode(kafkaUpdate("driver-1", 1700000000000))
	require.NoError(t, err)
	mr.Publish("trip_room_T1:location_update", string(payload))

	select {
	case msg := <-got:
		assert.Equal(t, "driver-1", msg.ParticipantID)
	case <-time.After(redisWait):
		t.Fatal("valid update after a bad one was not delivered")
	}
	assert.Empty(t, got)
}

func TestRedisChannel_UnsubscribeStopsDelivery(t *testing.T) {
	c, mr := newTestRedisChannel(t)

	var calls atomic.Int32
	require.NoError(t, c.Subscribe("trip_room_T1", func(models.LocationUpdate) { calls.Add(1) }))

	require.NoError(t, c.Publish("trip_room_T1", kafkaUpdate("driver-1", 1)))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, redisWait, redisTick)

	require.NoError(t, c.Unsubscribe("trip_room_T1"))
	require.NoError(t, c.Unsubscribe("trip_room_T1"))
	require.NoError(t, c.Unsubscribe("trip_room_T9"))

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) == 0
	}, redisWait, redisTick)
	require.NoError(t, c.Publish("trip_room_T1", kafkaUpdate("driver-1", 2)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRedisChannel_ResubscribeReplacesHandler(t *testing.T) {
	c, _ := newTestRedisChannel(t)

	var first, second atomic.Int32
	require.NoError(t, c.Subscribe("trip_room_T1", func(models.LocationUpdate) { first.Add(1) }))
	require.NoError(t, c.Subscribe("trip_room_T1", func(models.LocationUpdate) { second.Add(1) }))

	require.NoError(t, c.Publish("trip_room_T1", kafkaUpdate("driver-1", 1)))
	require.Eventually(t, func() bool { return second.Load() == 1 }, redisWait, redisTick)
	assert.Zero(t, first.Load())
}

func TestRedisChannel_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisChannel(context.Background(), RedisOptions{Addr: addr, Timeout: 200 * time.Millisecond}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrChannelUnreachable)
}

func TestRedisChannel_PublishAfterServerLoss(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c, err := NewRedisChannel(context.Background(), RedisOptions{Addr: mr.Addr(), Timeout: 200 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()
	mr.Close()

	err = c.Publish("trip_room_T1", kafkaUpdate("driver-1", 1))
	assert.ErrorIs(t, err, ErrChannelUnreachable)
}

func TestRedisChannel_CloseDropsRooms(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisChannel(context.Background(), RedisOptions{Addr: mr.Addr(), Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, c.Subscribe("trip_room_T1", func(models.LocationUpdate) {}))
	require.NoError(t, c.Subscribe("trip_room_T2", func(models.LocationUpdate) {}))
	require.NoError(t, c.Close())
	assert.Empty(t, c.subs)
}
