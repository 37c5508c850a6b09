package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/quizrun/quizrun/internal/dbconfig"
)

// setupDatabase opens both database handles the server needs: a pgx pool
// for the authority repository and a database/sql connection for the
// LISTEN/NOTIFY outbox relay.
func setupDatabase(ctx context.Context, cfg dbconfig.Config) (*pgxpool.Pool, *sql.DB, error) {
	pool, err := pgxpool.New(ctx, cfg.PoolDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	listenerDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to open listener connection: %w", err)
	}
	if err := listenerDB.PingContext(ctx); err != nil {
		pool.Close()
		listenerDB.Close()
		return nil, nil, fmt.Errorf("failed to ping listener connection: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")
	return pool, listenerDB, nil
}
