package cli

import (
	"context"
	"fmt"

	"github.com/steinarvk/natours/lib/config"
	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/docstore/memstore"
	"github.com/steinarvk/natours/lib/docstore/mongostore"
	"github.com/steinarvk/natours/lib/docstore/pgstore"
	"github.com/steinarvk/natours/lib/natours"
	"go.uber.org/zap"
)

func postgresParams(env *config.Env) pgstore.Params {
	return pgstore.Params{
		Postgres: pgstore.PostgresConfig{
			PostgresHost: env.PGHost,
			PostgresUser: env.PGUser,
			PostgresDB:   env.PGDatabase,
			PostgresPass: env.PGPassword,
		},
	}
}

func openBackend(ctx context.Context, env *config.Env, cfg *config.Config) (docstore.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memstore.New(
			memstore.WithFile(cfg.Store.DataFile),
			memstore.WithLogger(zap.L()),
		)

	case config.BackendPostgres:
		return pgstore.Open(ctx, postgresParams(env))

	case config.BackendMongo:
		return mongostore.Open(ctx, mongostore.Params{
			URI:      env.MongoURI,
			Database: cfg.Store.MongoDatabase,
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// openService opens the configured backend and makes sure every index
// exists. The caller closes the returned backend.
func openService(ctx context.Context, env *config.Env) (*natours.Service, *config.Config, docstore.Backend, error) {
	cfg, err := env.LoadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	backend, err := openBackend(ctx, env, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error opening %s store: %w", cfg.Store.Backend, err)
	}

	svc := natours.New(backend)
	if err := svc.EnsureIndexes(ctx); err != nil {
		backend.Close()
		return nil, nil, nil, err
	}
	return svc, cfg, backend, nil
}
