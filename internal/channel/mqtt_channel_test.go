package channel_test

import (
	"errors"
	"testing"
	"time"

	"github.com/benmeehan/ride-relay/internal/channel"
	"github.com/benmeehan/ride-relay/internal/mocks"
	"github.com/benmeehan/ride-relay/internal/models"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testTopic = "ride-relay/trip_room_T1/location_update"

func newMQTTChannel(client *mocks.MockMQTTClient) *channel.MQTTChannel {
	return channel.NewMQTTChannel(client, "ride-relay", 1, time.Second, zerolog.Nop())
}

func TestMQTTChannel_Topic(t *testing.T) {
	c := newMQTTChannel(new(mocks.MockMQTTClient))
	assert.Equal(t, testTopic, c.Topic("trip_room_T1"))

	bare := channel.NewMQTTChannel(new(mocks.MockMQTTClient), "", 0, time.Second, zerolog.Nop())
	assert.Equal(t, "trip_room_T1/location_update", bare.Topic("trip_room_T1"))
}

func TestMQTTChannel_Publish(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Publish", testTopic, byte(1), false, mock.MatchedBy(func(p []byte) bool {
		msg, err := channel.Decode(p)
		return err == nil && msg.ParticipantID == "driver"
	})).Return(mocks.CompletedToken(nil))

	err := newMQTTChannel(client).Publish("trip_room_T1", update("driver", 1))

	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestMQTTChannel_PublishFailures(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		client := new(mocks.MockMQTTClient)
		client.On("Publish", testTopic, byte(1), false, mock.Anything).Return(mocks.PendingToken())

		err := newMQTTChannel(client).Publish("trip_room_T1", update("driver", 1))
		assert.ErrorIs(t, err, channel.ErrChannelUnreachable)
	})

	t.Run("broker error", func(t *testing.T) {
		client := new(mocks.MockMQTTClient)
		client.On("Publish", testTopic, byte(1), false, mock.Anything).
			Return(mocks.CompletedToken(errors.New("not connected")))

		err := newMQTTChannel(client).Publish("trip_room_T1", update("driver", 1))
		assert.ErrorIs(t, err, channel.ErrChannelUnreachable)
		assert.Contains(t, err.Error(), "not connected")
	})
}

func TestMQTTChannel_SubscribeDeliversAndUnsubscribeSilences(t *testing.T) {
	client := new(mocks.MockMQTTClient)

	var callback mqtt.MessageHandler
	client.On("Subscribe", testTopic, byte(1), mock.Anything).
		Run(func(args mock.Arguments) { callback = args.Get(2).(mqtt.MessageHandler) }).
		Return(mocks.CompletedToken(nil))
	client.On("Unsubscribe", []string{testTopic}).Return(mocks.CompletedToken(nil)).Once()

	c := newMQTTChannel(client)

	var got []models.LocationUpdate
	require.NoError(t, c.Subscribe("trip_room_T1", func(m models.LocationUpdate) { got = append(got, m) }))
	require.NotNil(t, callback)

	payload, err := channel.Encode(update("passenger", 7))
	require.NoError(t, err)

	callback(nil, mocks.NewMockMessage(testTopic, payload))
	callback(nil, mocks.NewMockMessage(testTopic, []byte("not json")))
	require.Len(t, got, 1)
	assert.Equal(t, "passenger", got[0].ParticipantID)

	require.NoError(t, c.Unsubscribe("trip_room_T1"))
	require.NoError(t, c.Unsubscribe("trip_room_T1"))

	// A message already in flight in the client must not reach the handler.
	callback(nil, mocks.NewMockMessage(testTopic, payload))
	assert.Len(t, got, 1)

	client.AssertExpectations(t)
}

func TestMQTTChannel_SubscribeFailure(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", testTopic, byte(1), mock.Anything).Return(mocks.PendingToken())

	c := newMQTTChannel(client)
	err := c.Subscribe("trip_room_T1", func(models.LocationUpdate) {})
	assert.ErrorIs(t, err, channel.ErrChannelUnreachable)

	// Nothing was registered, so there is nothing to unsubscribe.
	assert.NoError(t, c.Unsubscribe("trip_room_T1"))
	client.AssertNotCalled(t, "Unsubscribe", mock.Anything)
}

func TestMQTTChannel_Close(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", mock.Anything, byte(1), mock.Anything).Return(mocks.CompletedToken(nil))
	client.On("Unsubscribe", mock.Anything).Return(mocks.CompletedToken(nil))

	c := newMQTTChannel(client)
	require.NoError(t, c.Subscribe("trip_room_T1", func(models.LocationUpdate) {}))
	require.NoError(t, c.Subscribe("trip_room_T2", func(models.LocationUpdate) {}))

	assert.NoError(t, c.Close())
	client.AssertNumberOfCalls(t, "Unsubscribe", 2)
}

func TestMQTTChannel_Resubscribe(t *testing.T) {
	client := new(mocks.MockMQTTClient)

	var callbacks []mqtt.MessageHandler
	client.On("Subscribe", testTopic, byte(1), mock.Anything).
		Run(func(args mock.Arguments) { callbacks = append(callbacks, args.Get(2).(mqtt.MessageHandler)) }).
		Return(mocks.CompletedToken(nil)).Twice()

	c := newMQTTChannel(client)
	var got int
	require.NoError(t, c.Subscribe("trip_room_T1", func(models.LocationUpdate) { got++ }))
	require.NoError(t, c.Resubscribe())
	require.Len(t, callbacks, 2)

	payload, err := channel.Encode(update("passenger", 3))
	require.NoError(t, err)

	// Only the renewed callback delivers.
	callbacks[0](nil, mocks.NewMockMessage(testTopic, payload))
	callbacks[1](nil, mocks.NewMockMessage(testTopic, payload))
	assert.Equal(t, 1, got)
	client.AssertExpectations(t)
}

func TestMQTTChannel_ResubscribeFailureKeepsRoom(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", testTopic, byte(1), mock.Anything).Return(mocks.CompletedToken(nil)).Once()
	client.On("Subscribe", testTopic, byte(1), mock.Anything).Return(mocks.PendingToken()).Once()
	client.On("Unsubscribe", []string{testTopic}).Return(mocks.CompletedToken(nil)).Once()

	c := newMQTTChannel(client)
	require.NoError(t, c.Subscribe("trip_room_T1", func(models.LocationUpdate) {}))

	assert.ErrorIs(t, c.Resubscribe(), channel.ErrChannelUnreachable)

	// The room is still held, so it is unsubscribed on exit.
	require.NoError(t, c.Unsubscribe("trip_room_T1"))
	client.AssertExpectations(t)
}
