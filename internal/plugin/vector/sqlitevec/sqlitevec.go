// Package sqlitevec implements the fragment index on a local sqlite
// database with the sqlite-vec extension, the zero-infrastructure
// default pairing for the sqlite datastore.
package sqlitevec

import (
	"context"
	"encoding/json"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
	"github.com/chronicle-rpg/chronicle/internal/config"
	registrymigrate "github.com/chronicle-rpg/chronicle/internal/registry/migrate"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS fragment_embeddings (
    fragment_id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL,
    source_kind TEXT NOT NULL,
    entity_tags TEXT NOT NULL DEFAULT '[]',
    created_at TEXT,
    embedding BLOB NOT NULL,
    model TEXT
);
CREATE INDEX IF NOT EXISTS idx_fragment_embeddings_campaign
    ON fragment_embeddings (campaign_id);
`

func init() {
	// Loads vec0 into every sqlite connection opened after this point.
	sqlite_vec.Auto()

	registryvector.Register(registryvector.Plugin{
		Name:   "sqlitevec",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &sqlitevecMigrator{}})
}

type sqlitevecMigrator struct{}

func (m *sqlitevecMigrator) Name() string { return "sqlitevec" }
func (m *sqlitevecMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.VectorMigrateAtStart || cfg.VectorType != "sqlitevec" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.SQLiteVecPath())
	if err != nil {
		return fmt.Errorf("sqlitevec migrate: %w", err)
	}
	return db.WithContext(ctx).Exec(schemaSQL).Error
}

func load(ctx context.Context) (registryvector.FragmentIndex, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("sqlitevec: missing config in context")
	}
	db, err := openDB(cfg.SQLiteVecPath())
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: %w", err)
	}
	return &SqliteVecIndex{db: db}, nil
}

func openDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// SqliteVecIndex implements FragmentIndex using sqlite-vec's cosine
// distance over a plain embeddings table. Brute force scan per
// campaign, which is plenty at single-table-group scale.
type SqliteVecIndex struct {
	db *gorm.DB
}

func (s *SqliteVecIndex) IsEnabled() bool { return true }
func (s *SqliteVecIndex) Name() string    { return "sqlitevec" }

func (s *SqliteVecIndex) Search(ctx context.Context, embedding []float32, filter registryvector.SearchFilter, limit int) ([]registryvector.Result, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: serialize query vector: %w", err)
	}

	query := `
		SELECT fragment_id, 1.0 - vec_distance_cosine(embedding, ?) AS score
		FROM fragment_embeddings
		WHERE campaign_id = ?`
	args := []interface{}{blob, filter.CampaignID.String()}
	if filter.SourceKind != nil {
		query += " AND source_kind = ?"
		args = append(args, string(*filter.SourceKind))
	}
	if filter.EntityTag != nil {
		// entity_tags is a JSON string array; match the quoted element.
		query += " AND entity_tags LIKE ?"
		args = append(args, `%"`+*filter.EntityTag+`"%`)
	}
	query += " ORDER BY score DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []registryvector.Result
	for rows.Next() {
		var idStr string
		var score float64
		if err := rows.Scan(&idStr, &score); err != nil {
			log.Error("sqlitevec scan error", "err", err)
			continue
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		results = append(results, registryvector.Result{FragmentID: id, Score: score})
	}
	return results, nil
}

func (s *SqliteVecIndex) Upsert(ctx context.Context, requests []registryvector.UpsertRequest) error {
	for _, r := range requests {
		blob, err := sqlite_vec.SerializeFloat32(r.Embedding)
		if err != nil {
			return fmt.Errorf("sqlitevec: serialize vector: %w", err)
		}
		tags, _ := json.Marshal(r.EntityTags)
		if err := s.db.WithContext(ctx).Exec(`
			INSERT INTO fragment_embeddings (fragment_id, campaign_id, source_kind, entity_tags, created_at, embedding, model)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (fragment_id)
			DO UPDATE SET embedding = excluded.embedding, model = excluded.model, entity_tags = excluded.entity_tags`,
			r.FragmentID.String(), r.CampaignID.String(), string(r.SourceKind), string(tags),
			r.CreatedAt.UTC().Format("2006-01-02T15:04:05.999Z07:00"), blob, r.ModelName,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *SqliteVecIndex) DeleteByCampaignID(ctx context.Context, campaignID uuid.UUID) error {
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM fragment_embeddings WHERE campaign_id = ?",
		campaignID.String(),
	).Error
}

func (s *SqliteVecIndex) DeleteByFragmentIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM fragment_embeddings WHERE fragment_id IN ?",
		idStrings,
	).Error
}
