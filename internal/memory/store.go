// Package memory stores durable text fragments and recalls the ones most
// relevant to a query, ranked by embedding similarity with recency decay.
// It backs the orchestrator's <memory> prompt block.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/colebaker/chatwire/internal/embedding"
)

const schema = `
CREATE TABLE IF NOT EXISTS fragments (
    id TEXT PRIMARY KEY,
    session_id TEXT,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    accessed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    pinned BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS fragment_embeddings (
    fragment_id TEXT PRIMARY KEY REFERENCES fragments(id) ON DELETE CASCADE,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    dims INTEGER NOT NULL,
    vector TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fragments_session ON fragments(session_id);
`

// Fragment is one remembered piece of text.
type Fragment struct {
	ID         string
	SessionID  string
	Content    string
	CreatedAt  time.Time
	AccessedAt time.Time
	Pinned     bool
}

// decayHalfLife controls how fast unpinned fragments lose relevance.
const decayHalfLife = 30 * 24 * time.Hour

// Store persists fragments and their embeddings in SQLite.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	embedder embedding.Provider // optional; recall degrades to recency order without it
}

// Open opens (creating if needed) the memory database at path.
func Open(path string, embedder embedding.Provider) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize memory schema: %w", err)
	}
	return &Store{db: db, embedder: embedder}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Remember stores a fragment, embedding it when an embedder is attached.
func (s *Store) Remember(ctx context.Context, sessionID, content string) (*Fragment, error) {
	frag := &Fragment{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   content,
	}

	s.mu.Lock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fragments (id, session_id, content) VALUES (?, ?, ?)`,
		frag.ID, frag.SessionID, frag.Content)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("insert fragment: %w", err)
	}

	if s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{content})
		if err == nil && len(vectors) == 1 {
			_ = s.storeEmbedding(ctx, frag.ID, vectors[0])
		}
	}
	return frag, nil
}

func (s *Store) storeEmbedding(ctx context.Context, fragmentID string, vec []float64) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fragment_embeddings (fragment_id, provider, model, dims, vector)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(fragment_id) DO UPDATE SET provider=excluded.provider,
		     model=excluded.model, dims=excluded.dims, vector=excluded.vector`,
		fragmentID, s.embedder.Name(), s.embedder.DefaultModel(), len(vec), string(raw))
	return err
}

// Forget deletes a fragment.
func (s *Store) Forget(ctx context.Context, fragmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fragments WHERE id = ?`, fragmentID); err != nil {
		return fmt.Errorf("delete fragment: %w", err)
	}
	return nil
}

// List returns all fragments, newest first.
func (s *Store) List(ctx context.Context) ([]Fragment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(session_id,''), content, created_at, accessed_at, pinned
		 FROM fragments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list fragments: %w", err)
	}
	defer rows.Close()

	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Content, &f.CreatedAt, &f.AccessedAt, &f.Pinned); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}

type scored struct {
	fragment Fragment
	score    float64
}

// Recall returns the contents of the fragments most relevant to query.
// Relevance is cosine similarity against the query embedding, scaled by
// exponential recency decay; pinned fragments skip the decay. Without an
// embedder, recency alone orders the results.
func (s *Store) Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}

	fragments, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(fragments) == 0 {
		return nil, nil
	}

	var queryVec []float64
	if s.embedder != nil && query != "" {
		if vectors, err := s.embedder.Embed(ctx, []string{query}); err == nil && len(vectors) == 1 {
			queryVec = vectors[0]
		}
	}

	now := time.Now()
	ranked := make([]scored, 0, len(fragments))
	for _, frag := range fragments {
		sc := scored{fragment: frag, score: 1}
		if queryVec != nil {
			vec, err := s.embeddingFor(ctx, frag.ID)
			if err != nil || vec == nil {
				continue
			}
			sc.score = embedding.CosineSimilarity(queryVec, vec)
		}
		if !frag.Pinned {
			age := now.Sub(frag.CreatedAt)
			sc.score *= math.Exp2(-float64(age) / float64(decayHalfLife))
		}
		ranked = append(ranked, sc)
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]string, len(ranked))
	for i, sc := range ranked {
		out[i] = sc.fragment.Content
		s.touch(ctx, sc.fragment.ID)
	}
	return out, nil
}

func (s *Store) embeddingFor(ctx context.Context, fragmentID string) ([]float64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT vector FROM fragment_embeddings WHERE fragment_id = ?`, fragmentID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var vec []float64
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (s *Store) touch(ctx context.Context, fragmentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.ExecContext(ctx,
		`UPDATE fragments SET accessed_at = CURRENT_TIMESTAMP WHERE id = ?`, fragmentID)
}

// Pin marks a fragment immune to recency decay.
func (s *Store) Pin(ctx context.Context, fragmentID string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE fragments SET pinned = ? WHERE id = ?`, pinned, fragmentID); err != nil {
		return fmt.Errorf("pin fragment: %w", err)
	}
	return nil
}
