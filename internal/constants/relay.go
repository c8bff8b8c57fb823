package constants

const (
	// RoomPrefix is prepended to the trip id to form the broadcast room id.
	RoomPrefix = "trip_room_"

	// EventLocationUpdate names the only event exchanged in a trip room.
	EventLocationUpdate = "location_update"

	// ProtocolVersion is stamped on every outbound LocationUpdate.
	ProtocolVersion = "1.0.0"

	// ProtocolConstraint is the range of inbound versions this build understands.
	ProtocolConstraint = "^1.0.0"
)

// Channel drivers
const (
	ChannelMQTT   = "mqtt"
	ChannelRedis  = "redis"
	ChannelMemory = "memory"
	ChannelKafka  = "kafka"
	ChannelNSQ    = "nsq"
	ChannelAMQP   = "amqp"
)

// Location providers
const (
	ProviderAuto      = "auto"
	ProviderSensor    = "sensor"
	ProviderNetwork   = "network"
	ProviderSimulated = "simulated"
)

// Roster drivers
const (
	RosterPostgres = "postgres"
	RosterStatic   = "static"
)
