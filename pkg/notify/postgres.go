package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const createDiscoveries = `
CREATE TABLE IF NOT EXISTS discoveries (
	group_id     BIGINT PRIMARY KEY,
	name         TEXT NOT NULL,
	member_count INTEGER NOT NULL,
	url          TEXT NOT NULL,
	worker       INTEGER NOT NULL,
	found_at     TIMESTAMPTZ NOT NULL
)`

const insertDiscovery = `
INSERT INTO discoveries (group_id, name, member_count, url, worker, found_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (group_id) DO NOTHING`

// Postgres records discoveries in the discoveries table. A group already
// recorded by an earlier run is left untouched.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// OpenPostgres connects to dsn, retrying while the database comes up, and
// creates the discoveries table if needed.
func OpenPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 2

	var pool *pgxpool.Pool
	err = retry.Do(
		func() error {
			p, err := pgxpool.NewWithConfig(ctx, cfg)
			if err != nil {
				return err
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return err
			}
			pool = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug().Err(err).Uint("attempt", n+1).Msg("Postgres not ready, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pg := &Postgres{pool: pool, logger: logger}
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}

// EnsureSchema creates the discoveries table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createDiscoveries); err != nil {
		return fmt.Errorf("create discoveries table: %w", err)
	}
	return nil
}

// Notify inserts d.
func (p *Postgres) Notify(ctx context.Context, d Discovery) error {
	tag, err := p.pool.Exec(ctx, insertDiscovery,
		int64(d.GroupID), d.Name, d.MemberCount, d.URL(), d.Worker, d.FoundAt)
	observe("postgres", err)
	if err != nil {
		return fmt.Errorf("insert discovery %d: %w", d.GroupID, err)
	}
	if tag.RowsAffected() == 0 {
		p.logger.Debug().Uint64("group_id", d.GroupID).Msg("Discovery already recorded")
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
