package main

import (
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/ride-relay/internal/constants"
	"github.com/benmeehan/ride-relay/internal/service_registry"
	"github.com/benmeehan/ride-relay/internal/utils"
	"github.com/benmeehan/ride-relay/pkg/file"
	"github.com/benmeehan/ride-relay/pkg/identity"
	"github.com/benmeehan/ride-relay/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// Set up structured logging with JSON output
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ride-relay").Logger()

	// Secrets may come from a local .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}

	configPath := os.Getenv(utils.EnvConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(config.Logging.Level); err != nil {
		log.Warn().Err(err).Str("level", config.Logging.Level).Msg("Unknown log level, keeping info")
		log = log.Level(zerolog.InfoLevel)
	} else {
		log = log.Level(level)
	}

	// Load the participant identity, creating one on first run
	participantInfo := identity.NewParticipantInfo(config.Identity.ParticipantFile, fileClient)
	if err := participantInfo.LoadParticipantInfo(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load participant information")
	}
	participantID, err := participantInfo.EnsureParticipantID()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assign participant id")
	}
	log = log.With().Str("participant_id", participantID).Logger()

	// Initialize the shared MQTT connection when rooms are carried over MQTT
	var mqttClient mqtt.MQTTClient
	if config.Channel.Driver == constants.ChannelMQTT {
		// Generate a unique MQTT Client ID by appending a UUID
		config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
		log.Info().Str("client_id", config.MQTT.ClientID).Msg("Using MQTT client ID")

		mqttService := mqtt.NewMqttService(fileClient)
		err = mqttService.Initialize(mqtt.Options{
			Broker:         config.MQTT.Broker,
			ClientID:       config.MQTT.ClientID,
			CACertificate:  config.MQTT.CACertificate,
			Username:       config.MQTT.Username,
			Password:       config.MQTT.Password,
			ConnectTimeout: config.MQTT.PublishTimeout,
			OnConnectionLost: func(err error) {
				log.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
			},
			OnConnect: func() {
				log.Info().Str("broker", config.MQTT.Broker).Msg("Connected to MQTT broker")
			},
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = mqttService
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, fileClient, log)

	shutdown := func() {
		if err := serviceRegistry.StopServices(); err != nil {
			log.Error().Err(err).Msg("Some services failed to stop")
		}
		if err := serviceRegistry.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release resources")
		}
		if mqttClient != nil {
			mqttClient.Disconnect(250)
		}
	}

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config, participantInfo); err != nil {
		if mqttClient != nil {
			mqttClient.Disconnect(250)
		}
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		_ = serviceRegistry.Close()
		if mqttClient != nil {
			mqttClient.Disconnect(250)
		}
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Str("trip_id", config.Trip.ID).Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
	case <-serviceRegistry.TripEnded():
		log.Info().Msg("Trip ended, shutting down")
	}

	shutdown()
}
