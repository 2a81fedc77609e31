package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Backend selects and configures a Store implementation.
type Backend struct {
	Kind        string // "postgres", "badger" or "memory"
	DatabaseURL string // postgres
	BadgerDir   string // badger; empty opens an in-memory database
}

// Open connects the configured backend. The returned close func releases
// everything Open acquired.
func Open(ctx context.Context, cfg Backend, logger *zap.Logger) (Store, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Kind {
	case "", "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return NewPostgresStore(pool, logger), pool.Close, nil

	case "badger":
		s, err := OpenBadgerStore(cfg.BadgerDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close badger store", zap.Error(err))
			}
		}, nil

	case "memory":
		logger.Warn("using in-memory ledger store; blocks are lost on exit")
		return NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Kind)
	}
}
