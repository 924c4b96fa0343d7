// Package gormstore implements the campaign store on GORM, registered
// for both the sqlite and postgres backends.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chronicle-rpg/chronicle/internal/config"
	"github.com/chronicle-rpg/chronicle/internal/model"
	registrymigrate "github.com/chronicle-rpg/chronicle/internal/registry/migrate"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.CampaignStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(sqlite.Open(cfg.SQLitePath()+"?_busy_timeout=5000&_journal_mode=WAL"), gormConfig())
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite database: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			// Single writer; sqlite serializes writes anyway.
			sqlDB.SetMaxOpenConns(1)
			return &Store{db: db, cfg: cfg}, nil
		},
	})

	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.CampaignStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), gormConfig())
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			return &Store{db: db, cfg: cfg}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "campaign-schema" }

func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	var dialector gorm.Dialector
	switch cfg.DatastoreType {
	case "postgres":
		dialector = postgres.Open(cfg.DBURL)
	case "", "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath())
	default:
		return nil // another backend owns the schema
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).AutoMigrate(
		&model.Campaign{},
		&model.Document{},
		&model.Session{},
		&model.Turn{},
		&model.Character{},
		&model.Entity{},
		&model.MemoryFragment{},
		&model.Task{},
	); err != nil {
		return fmt.Errorf("migration: failed to migrate schema: %w", err)
	}
	log.Info("Schema migration complete")
	return nil
}

// Store implements CampaignStore using GORM over sqlite or postgres.
type Store struct {
	db  *gorm.DB
	cfg *config.Config

	// campaignLocks serializes writes per campaign so turn sequence
	// assignment and single-active-session checks are race free.
	campaignLocks sync.Map // uuid.UUID -> *sync.Mutex
}

func (s *Store) lockCampaign(campaignID uuid.UUID) func() {
	v, _ := s.campaignLocks.LoadOrStore(campaignID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
