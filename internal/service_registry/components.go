package service_registry

import (
	"context"
	"errors"

	"github.com/benmeehan/ride-relay/internal/channel"
	"github.com/benmeehan/ride-relay/internal/constants"
	"github.com/benmeehan/ride-relay/internal/roster"
	"github.com/benmeehan/ride-relay/internal/utils"
	"github.com/benmeehan/ride-relay/pkg/location"
)

// connectHooks is implemented by MQTT clients that report reconnects.
type connectHooks interface {
	AddOnConnect(fn func())
}

// buildProvider selects the location source. In auto mode high accuracy
// prefers the serial GPS receiver and otherwise network positioning; the
// other one is kept as fallback.
func (sr *ServiceRegistry) buildProvider(config *utils.Config) (location.Provider, error) {
	loc := config.Location

	sensor := func() location.Provider {
		return location.NewDeviceSensorProvider(loc.GPSDevicePort, loc.GPSBaudRate)
	}
	network := func() (location.Provider, error) {
		return location.NewGoogleGeolocationProvider(loc.MapsAPIKey, loc.ModemIndex)
	}

	switch loc.Provider {
	case constants.ProviderSimulated:
		route := make([]location.Location, 0, len(loc.SimulatedRoute))
		for _, p := range loc.SimulatedRoute {
			route = append(route, location.Location{Latitude: p.Latitude, Longitude: p.Longitude})
		}
		return location.NewSimulatedProvider(route, loc.SimulatedSpeed, nil)

	case constants.ProviderSensor:
		return sensor(), nil

	case constants.ProviderNetwork:
		return network()

	default:
		var providers []location.Provider
		if loc.HighAccuracy {
			providers = append(providers, sensor())
		}
		if p, err := network(); err == nil {
			providers = append(providers, p)
		} else {
			sr.Logger.Info().Err(err).Msg("Network positioning disabled")
		}
		if !loc.HighAccuracy {
			providers = append(providers, sensor())
		}
		return location.NewFallbackProvider(providers...), nil
	}
}

func (sr *ServiceRegistry) buildWakeLock(config *utils.Config) location.WakeLock {
	if !config.Location.WakeLock {
		return location.NopWakeLock{}
	}
	return location.NewInhibitWakeLock("ride-relay", "Sharing live location")
}

func (sr *ServiceRegistry) buildChannel(ctx context.Context, config *utils.Config) (channel.Channel, error) {
	logger := sr.Logger.With().Str("component", "channel").Str("driver", config.Channel.Driver).Logger()

	switch config.Channel.Driver {
	case constants.ChannelMQTT:
		if sr.mqttClient == nil {
			return nil, errors.New("mqtt client is not initialized")
		}
		ch := channel.NewMQTTChannel(sr.mqttClient, config.MQTT.TopicPrefix, byte(config.MQTT.QOS),
			config.MQTT.PublishTimeout, logger)
		if hooks, ok := sr.mqttClient.(connectHooks); ok {
			hooks.AddOnConnect(func() {
				if err := ch.Resubscribe(); err != nil {
					logger.Warn().Err(err).Msg("Failed to renew subscriptions after reconnect")
				}
			})
		}
		return ch, nil

	case constants.ChannelRedis:
		return channel.NewRedisChannel(ctx, channel.RedisOptions{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			Timeout:  config.Redis.Timeout,
		}, logger)

	case constants.ChannelKafka:
		return channel.NewKafkaChannel(channel.KafkaOptions{
			Brokers: config.Kafka.Brokers,
			Timeout: config.Kafka.Timeout,
		}, logger)

	case constants.ChannelNSQ:
		return channel.NewNSQChannel(channel.NSQOptions{
			NSQDAddr: config.NSQ.NSQDAddr,
			Timeout:  config.NSQ.Timeout,
		}, logger)

	case constants.ChannelAMQP:
		return channel.NewAMQPChannel(channel.AMQPOptions{
			URL:      config.AMQP.URL,
			Exchange: config.AMQP.Exchange,
			Timeout:  config.AMQP.Timeout,
		}, logger)

	default:
		return channel.NewMemoryChannel(), nil
	}
}

func (sr *ServiceRegistry) buildStore(ctx context.Context, config *utils.Config) (roster.Store, error) {
	if config.Roster.Driver == constants.RosterPostgres {
		return roster.NewPostgresStore(ctx, config.Roster.DSN, sr.Logger.With().Str("component", "roster").Logger())
	}
	return roster.NewStaticStore(config.Roster.Trips), nil
}
