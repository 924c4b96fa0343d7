package pgvector

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chronicle-rpg/chronicle/internal/config"
	registrymigrate "github.com/chronicle-rpg/chronicle/internal/registry/migrate"
	registryvector "github.com/chronicle-rpg/chronicle/internal/registry/vector"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

//go:embed db/pgvector-schema.sql
var pgvectorSchemaSQL string

// pgvectorMigrator implements migrate.Migrator for the pgvector schema.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.VectorMigrateAtStart || cfg.VectorType != "pgvector" || cfg.DBURL == "" || (cfg.DatastoreType != "" && cfg.DatastoreType != "postgres") {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openGormDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return db.Exec(pgvectorSchemaSQL).Error
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registryvector.FragmentIndex, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: missing config in context")
	}
	db, err := openGormDB(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return &PgvectorIndex{db: db}, nil
}

// PgvectorIndex implements FragmentIndex using the pgvector extension.
type PgvectorIndex struct {
	db *gorm.DB
}

func (s *PgvectorIndex) IsEnabled() bool { return true }
func (s *PgvectorIndex) Name() string    { return "pgvector" }

func (s *PgvectorIndex) Search(ctx context.Context, embedding []float32, filter registryvector.SearchFilter, limit int) ([]registryvector.Result, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	vec := pgvec.NewVector(embedding)
	query := `
		SELECT fragment_id, 1 - (embedding <=> ?::vector) AS score
		FROM fragment_embeddings
		WHERE campaign_id = ?`
	args := []interface{}{vec, filter.CampaignID}
	if filter.SourceKind != nil {
		query += " AND source_kind = ?"
		args = append(args, string(*filter.SourceKind))
	}
	if filter.EntityTag != nil {
		query += " AND entity_tags @> ?::jsonb"
		args = append(args, jsonArray([]string{*filter.EntityTag}))
	}
	query += " ORDER BY embedding <=> ?::vector LIMIT ?"
	args = append(args, vec, limit)

	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []registryvector.Result
	for rows.Next() {
		var r registryvector.Result
		if err := rows.Scan(&r.FragmentID, &r.Score); err != nil {
			log.Error("pgvector scan error", "err", err)
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *PgvectorIndex) Upsert(ctx context.Context, requests []registryvector.UpsertRequest) error {
	for _, r := range requests {
		vec := pgvec.NewVector(r.Embedding)
		if err := s.db.WithContext(ctx).Exec(`
			INSERT INTO fragment_embeddings (fragment_id, campaign_id, source_kind, entity_tags, created_at, embedding, model)
			VALUES (?, ?, ?, ?::jsonb, ?, ?::vector, ?)
			ON CONFLICT (fragment_id)
			DO UPDATE SET embedding = EXCLUDED.embedding, model = EXCLUDED.model, entity_tags = EXCLUDED.entity_tags`,
			r.FragmentID, r.CampaignID, string(r.SourceKind), jsonArray(r.EntityTags), r.CreatedAt, vec, r.ModelName,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *PgvectorIndex) DeleteByCampaignID(ctx context.Context, campaignID uuid.UUID) error {
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM fragment_embeddings WHERE campaign_id = ?",
		campaignID,
	).Error
}

func (s *PgvectorIndex) DeleteByFragmentIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM fragment_embeddings WHERE fragment_id IN ?",
		ids,
	).Error
}

func jsonArray(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}
