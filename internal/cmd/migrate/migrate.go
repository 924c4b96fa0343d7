package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chronicle-rpg/chronicle/internal/config"
	registrymigrate "github.com/chronicle-rpg/chronicle/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/store/gormstore"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/vector/pgvector"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/vector/qdrant"
	_ "github.com/chronicle-rpg/chronicle/internal/plugin/vector/sqlitevec"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database and vector index migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Sources: cli.EnvVars("CHRONICLE_DATA_DIR"),
				Usage:   "Directory for the local sqlite database and vector index",
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("CHRONICLE_DB_KIND"),
				Usage:   "Backend store (sqlite|postgres)",
				Value:   "sqlite",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("CHRONICLE_DB_URL"),
				Usage:   "Postgres connection URL, or an explicit sqlite file path",
			},
			&cli.StringFlag{
				Name:    "vector-kind",
				Sources: cli.EnvVars("CHRONICLE_VECTOR_KIND"),
				Usage:   "Vector index (sqlitevec|pgvector|qdrant|none)",
				Value:   "sqlitevec",
			},
			&cli.StringFlag{
				Name:    "qdrant-host",
				Sources: cli.EnvVars("CHRONICLE_QDRANT_HOST"),
				Usage:   "Qdrant host or host:port",
				Value:   "localhost",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			if cmd.IsSet("data-dir") {
				cfg.DataDir = cmd.String("data-dir")
			}
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.DBURL = cmd.String("db-url")
			cfg.VectorType = cmd.String("vector-kind")
			cfg.QdrantHost = cmd.String("qdrant-host")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
