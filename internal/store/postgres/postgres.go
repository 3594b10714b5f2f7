// Package postgres implements the data-access port against the reference
// server's Postgres database.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banksia-harness/banksia/internal/store"
)

// Store hands out transactional sessions over a connection pool.
type Store struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	log          *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to the database and verifies the connection.
func New(ctx context.Context, dsn string, queryTimeout time.Duration, log *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info("database connected")
	return &Store{pool: pool, queryTimeout: queryTimeout, log: log}, nil
}

// Begin opens a repeatable-read transaction so every query in the session
// observes one snapshot.
func (s *Store) Begin(ctx context.Context) (store.Session, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &session{tx: tx, queryTimeout: s.queryTimeout}, nil
}

// Reset truncates all test data so a new run starts from a pristine
// database.
func (s *Store) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		TRUNCATE TABLE
			site,
			site_der_setting,
			site_der_rating,
			site_der_status,
			dynamic_operating_envelope,
			archive_dynamic_operating_envelope,
			default_site_control,
			archive_default_site_control,
			site_reading_type,
			site_reading,
			transmit_notification_log,
			subscription,
			dynamic_operating_envelope_response,
			aggregator_certificate_assignment,
			aggregator
		RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("resetting database: %w", err)
	}
	s.log.Info("database reset")
	return nil
}

// RegisterAggregator installs the client certificate identity. A nil lfdi
// registers a device certificate, which operates outside any aggregator
// (ID 0).
func (s *Store) RegisterAggregator(ctx context.Context, lfdi *string, subscriptionDomain *string) (int64, error) {
	if lfdi == nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var aggregatorID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO aggregator (name, changed_time)
		VALUES ('banksia-client', NOW())
		RETURNING aggregator_id`).Scan(&aggregatorID)
	if err != nil {
		return 0, fmt.Errorf("creating aggregator: %w", err)
	}

	domain := ""
	if subscriptionDomain != nil {
		domain = *subscriptionDomain
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO aggregator_certificate_assignment (aggregator_id, lfdi, subscription_domain)
		VALUES ($1, $2, $3)`, aggregatorID, *lfdi, domain)
	if err != nil {
		return 0, fmt.Errorf("assigning certificate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing registration: %w", err)
	}
	s.log.Info("aggregator registered", "id", aggregatorID)
	return aggregatorID, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
