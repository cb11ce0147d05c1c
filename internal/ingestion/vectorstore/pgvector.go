package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

type VectorRow struct {
	ID         string          `gorm:"column:id;primaryKey"`
	Namespace  string          `gorm:"column:namespace;not null;index"`
	AgentID    string          `gorm:"column:agent_id;not null;index"`
	SourceID   string          `gorm:"column:source_id;not null;index"`
	ChunkIndex int             `gorm:"column:chunk_index;not null"`
	Embedding  pgvector.Vector `gorm:"column:embedding;type:vector"`
	Metadata   datatypes.JSON  `gorm:"column:metadata"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;not null"`
}

func (VectorRow) TableName() string { return "ingest_vector" }

type pgvectorStore struct {
	db  *gorm.DB
	log *logger.Logger
	dim int
}

// NewPGVectorStore stores vectors in Postgres through the pgvector extension.
func NewPGVectorStore(db *gorm.DB, log *logger.Logger, dim int) Store {
	if log == nil {
		log = logger.Nop()
	}
	return &pgvectorStore{db: db, log: log.With("service", "PGVectorStore"), dim: dim}
}

// MigratePGVector creates the vector table. On Postgres the embedding column is sized
// to dim and an HNSW cosine index is added.
func MigratePGVector(db *gorm.DB, dim int) error {
	if db.Dialector.Name() != "postgres" {
		return db.AutoMigrate(&VectorRow{})
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ingest_vector (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			embedding vector(%d),
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_ingest_vector_owner ON ingest_vector (namespace, agent_id, source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_vector_embedding ON ingest_vector USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return fmt.Errorf("migrate pgvector: %w", err)
		}
	}
	return nil
}

func (p *pgvectorStore) Name() string { return "pgvector" }

func (p *pgvectorStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]VectorRow, 0, len(vectors))
	for _, v := range vectors {
		if p.dim > 0 && len(v.Values) != p.dim {
			return fmt.Errorf("vector %s has %d dimensions, expected %d", v.ID, len(v.Values), p.dim)
		}
		meta, err := json.Marshal(v.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", v.ID, err)
		}
		rows = append(rows, VectorRow{
			ID:         v.ID,
			Namespace:  namespace,
			AgentID:    metaString(v.Metadata, "agent_id"),
			SourceID:   metaString(v.Metadata, "source_id"),
			ChunkIndex: metaInt(v.Metadata, "chunk_index"),
			Embedding:  pgvector.NewVector(v.Values),
			Metadata:   datatypes.JSON(meta),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"namespace", "agent_id", "source_id", "chunk_index", "embedding", "metadata", "updated_at"}),
		}).
		Create(&rows).Error
}

func (p *pgvectorStore) scoped(ctx context.Context, namespace string, filter Filter) *gorm.DB {
	q := p.db.WithContext(ctx).Model(&VectorRow{}).Where("namespace = ?", namespace)
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.SourceID != "" {
		q = q.Where("source_id = ?", filter.SourceID)
	}
	return q
}

func (p *pgvectorStore) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	res := p.scoped(ctx, namespace, filter).Delete(&VectorRow{})
	if res.Error != nil {
		return res.Error
	}
	p.log.Debug("deleted vectors", "namespace", namespace, "filter", filter.Map(), "count", res.RowsAffected)
	return nil
}

// Query ranks by cosine distance in Postgres. Other dialects have no vector
// operators, so rows are scored in process.
func (p *pgvectorStore) Query(ctx context.Context, namespace string, q []float32, topK int, filter Filter) ([]Match, error) {
	if p.dim > 0 && len(q) != p.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, expected %d", len(q), p.dim)
	}
	if p.db.Dialector.Name() != "postgres" {
		var rows []VectorRow
		if err := p.scoped(ctx, namespace, filter).Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]Match, 0, len(rows))
		for _, r := range rows {
			out = append(out, Match{ID: r.ID, Score: CosineSimilarity(q, r.Embedding.Slice()), Metadata: decodeMeta(r.Metadata)})
		}
		return rankMatches(out, topK), nil
	}

	vec := pgvector.NewVector(q)
	var rows []struct {
		ID       string
		Metadata datatypes.JSON
		Distance float64
	}
	err := p.scoped(ctx, namespace, filter).
		Select("id, metadata, embedding <=> ? AS distance", vec).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{vec}, WithoutParentheses: true}}).
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Match, len(rows))
	for i, r := range rows {
		out[i] = Match{ID: r.ID, Score: 1 - r.Distance, Metadata: decodeMeta(r.Metadata)}
	}
	return out, nil
}

func (p *pgvectorStore) Fetch(ctx context.Context, namespace string, ids []string) ([]Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []VectorRow
	if err := p.scoped(ctx, namespace, Filter{}).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]VectorRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]Vector, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, Vector{ID: r.ID, Values: r.Embedding.Slice(), Metadata: decodeMeta(r.Metadata)})
		}
	}
	return out, nil
}

func (p *pgvectorStore) Stats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Namespace string
		N         int64
	}
	if err := p.db.WithContext(ctx).
		Model(&VectorRow{}).
		Select("namespace, COUNT(*) AS n").
		Group("namespace").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	st := &Stats{Provider: p.Name(), Dimension: p.dim, Namespaces: map[string]int64{}}
	for _, r := range rows {
		st.Namespaces[r.Namespace] = r.N
		st.TotalVectors += r.N
	}
	return st, nil
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func metaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func decodeMeta(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
