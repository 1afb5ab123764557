package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// EmbeddingIndex keeps memory vectors in the memories.embedding column and
// scores them with pgvector cosine distance.
type EmbeddingIndex struct {
	db *pgxpool.Pool
}

func NewEmbeddingIndex(db *pgxpool.Pool) *EmbeddingIndex {
	return &EmbeddingIndex{db: db}
}

// SetEmbedding only touches retrievable memories, so a vector computed
// before a concurrent redaction is never written back.
func (s *EmbeddingIndex) SetEmbedding(ctx context.Context, memoryID uuid.UUID, embedding []float32) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memories SET embedding = $2 WHERE id = $1 AND status IN ('active', 'verified')`,
		memoryID, pgvector.NewVector(embedding),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Similarity returns cosine similarity for every id that has an embedding.
func (s *EmbeddingIndex) Similarity(ctx context.Context, query []float32, ids []uuid.UUID) (map[uuid.UUID]float64, error) {
	out := make(map[uuid.UUID]float64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, 1 - (embedding <=> $1) AS similarity
		 FROM memories
		 WHERE id = ANY($2) AND embedding IS NOT NULL`,
		pgvector.NewVector(query), ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var sim float64
		if err := rows.Scan(&id, &sim); err != nil {
			return nil, err
		}
		out[id] = sim
	}
	return out, rows.Err()
}
