package service_registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/ride-relay/internal/registry"
	"github.com/benmeehan/ride-relay/internal/relay"
	"github.com/benmeehan/ride-relay/internal/services"
	"github.com/benmeehan/ride-relay/internal/utils"
	"github.com/benmeehan/ride-relay/internal/view"
	"github.com/benmeehan/ride-relay/pkg/file"
	"github.com/benmeehan/ride-relay/pkg/identity"
	"github.com/benmeehan/ride-relay/pkg/location"
	"github.com/benmeehan/ride-relay/pkg/mqtt"
	"github.com/rs/zerolog"
)

const setupTimeout = 15 * time.Second

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	closers     []namedCloser               // Shared resources, closed in reverse order
	mqttClient  mqtt.MQTTClient
	fileClient  file.FileOperations
	relay       *services.RelayService
	Logger      zerolog.Logger
}

type namedCloser struct {
	name   string
	closer registry.Closer
}

// NewServiceRegistry initializes a new service registry with dependencies.
// mqttClient may be nil when the mqtt channel driver is not used.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, fileClient file.FileOperations, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		fileClient: fileClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

func (sr *ServiceRegistry) addCloser(name string, c registry.Closer) {
	sr.closers = append(sr.closers, namedCloser{name: name, closer: c})
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			// Stop already started services before returning
			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return err
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// Close releases the shared resources built by RegisterServices, newest first.
// Call it after StopServices.
func (sr *ServiceRegistry) Close() error {
	var closeErrors []error
	for i := len(sr.closers) - 1; i >= 0; i-- {
		c := sr.closers[i]
		if err := c.closer.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Errorf("failed to close %s: %w", c.name, err))
		}
	}
	sr.closers = nil
	return errors.Join(closeErrors...)
}

// TripEnded is closed when the tracked trip is completed or cancelled.
// It is nil, and so blocks forever, before RegisterServices.
func (sr *ServiceRegistry) TripEnded() <-chan struct{} {
	if sr.relay == nil {
		return nil
	}
	return sr.relay.Done()
}

// RegisterServices builds the relay components from configuration and registers
// the services that run them. On error every resource built so far is closed.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, participantInfo identity.ParticipantInfoInterface) (err error) {
	defer func() {
		if err != nil {
			if closeErr := sr.Close(); closeErr != nil {
				sr.Logger.Warn().Err(closeErr).Msg("Failed to release resources after setup failure")
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	participantID := participantInfo.GetParticipantID()
	if participantID == "" {
		return errors.New("participant id is not set")
	}

	provider, err := sr.buildProvider(config)
	if err != nil {
		return fmt.Errorf("failed to create location provider: %w", err)
	}
	sr.addCloser("location provider", provider)

	ch, err := sr.buildChannel(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create %s channel: %w", config.Channel.Driver, err)
	}
	sr.addCloser("channel", ch)

	store, err := sr.buildStore(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create %s roster: %w", config.Roster.Driver, err)
	}
	sr.addCloser("roster", registry.CloserFunc(func() error {
		store.Close()
		return nil
	}))

	tracker := relay.NewTracker(provider, sr.buildWakeLock(config), ch, participantID, relay.Config{
		Options: location.Options{
			HighAccuracy: config.Location.HighAccuracy,
			MaxSampleAge: config.Location.MaxSampleAge,
			Timeout:      config.Location.Timeout,
		},
		PollInterval:    config.Location.PollInterval,
		PublishQueue:    config.Relay.PublishQueue,
		AssumedSpeedKmh: config.Relay.AssumedSpeedKmh,
		StaleAfter:      config.Relay.StaleAfter,
	}, sr.Logger.With().Str("participant_id", participantID).Logger())

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "view",
			enabled: config.View.Enabled,
			constructor: func() (registry.Service, error) {
				hub := view.NewHub(tracker, sr.Logger.With().Str("component", "hub").Logger())
				tracker.AddObserver(hub.Publish)
				return services.NewViewService(config.View.ListenAddr, hub, sr.Logger), nil
			},
		},
		{
			name:    "relay",
			enabled: true,
			constructor: func() (registry.Service, error) {
				sr.relay = services.NewRelayService(config.Trip.ID, config.Relay.CompletionPoll, store, tracker, sr.Logger)
				return sr.relay, nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
