package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/benmeehan/ride-relay/internal/relay"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// The roster is the trip owner plus every accepted join request.
const selectTrip = `
	SELECT t.owner_id, t.status,
		COALESCE(array_agg(j.user_id ORDER BY j.user_id)
			FILTER (WHERE j.status = $2), '{}')
	FROM trips t
	LEFT JOIN join_requests j ON j.trip_id = t.id
	WHERE t.id = $1
	GROUP BY t.id, t.owner_id, t.status
`

const selectStatus = `SELECT status FROM trips WHERE id = $1`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads trips and join requests from PostgreSQL.
type PostgresStore struct {
	db     querier
	close  func()
	logger zerolog.Logger
}

// NewPostgresStore opens a small pool against dsn and checks it with a ping.
func NewPostgresStore(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	// Read-only lookups at trip start and on the completion poll.
	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	logger.Info().Str("host", poolCfg.ConnConfig.Host).Str("database", poolCfg.ConnConfig.Database).
		Msg("Connected to roster database")

	return &PostgresStore{db: pool, close: pool.Close, logger: logger}, nil
}

func (s *PostgresStore) trip(ctx context.Context, tripID string) (models.Trip, error) {
	trip := models.Trip{ID: tripID}
	var status string

	err := s.db.QueryRow(ctx, selectTrip, tripID, string(models.RequestAccepted)).
		Scan(&trip.DriverID, &status, &trip.PassengerIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Trip{}, fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
		}
		return models.Trip{}, fmt.Errorf("query trip %s: %w", tripID, err)
	}
	trip.Status = models.TripStatus(status)
	return trip, nil
}

// LoadSession returns the roster of an in-progress trip.
func (s *PostgresStore) LoadSession(ctx context.Context, tripID string) (relay.TripSession, error) {
	trip, err := s.trip(ctx, tripID)
	if err != nil {
		return relay.TripSession{}, err
	}
	return sessionFor(trip)
}

// TripStatus returns the current status of a trip.
func (s *PostgresStore) TripStatus(ctx context.Context, tripID string) (models.TripStatus, error) {
	var status string
	if err := s.db.QueryRow(ctx, selectStatus, tripID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
		}
		return "", fmt.Errorf("query trip status %s: %w", tripID, err)
	}
	return models.TripStatus(status), nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s.close != nil {
		s.close()
		s.logger.Info().Msg("Roster database pool closed")
	}
}
