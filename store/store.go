package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/mindforge/mindmap"
)

func init() {
	sqlite_vec.Auto()
}

var (
	// ErrNotFound is returned when a mindmap does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("store: not found")

	// ErrDimension is returned when an embedding does not match the
	// configured dimension.
	ErrDimension = errors.New("store: embedding dimension mismatch")
)

// Mindmap is a saved mindmap.
type Mindmap struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Topic     string        `json:"topic"`
	Layout    string        `json:"layout"`
	Shape     string        `json:"shape"`
	Source    string        `json:"source"` // "llm", "text" or "document"
	Model     string        `json:"model,omitempty"`
	Graph     mindmap.Graph `json:"graph"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SearchResult is a mindmap returned by a similarity search.
type SearchResult struct {
	Mindmap
	Score float64 `json:"score"`
}

// UsageRecord is the token usage of one LLM-backed operation.
type UsageRecord struct {
	UserID           string    `json:"user_id"`
	Kind             string    `json:"kind"` // chat, mindmap, transcription, ocr, analysis
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageTotal aggregates usage records of one kind.
type UsageTotal struct {
	Kind             string `json:"kind"`
	Requests         int    `json:"requests"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Store wraps the SQLite database for all mindforge persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
	now          func() time.Time
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", embeddingDim)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim, now: func() time.Time { return time.Now().UTC() }}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Mindmap operations ---

const mindmapColumns = "m.id, m.user_id, m.topic, m.layout, m.shape, m.source, m.model, m.graph, m.created_at, m.updated_at"

// CreateMindmap saves m and returns it with its ID and timestamps set. An
// empty ID is replaced with a new UUID.
func (s *Store) CreateMindmap(ctx context.Context, m Mindmap) (Mindmap, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now

	graph, err := json.Marshal(m.Graph)
	if err != nil {
		return Mindmap{}, fmt.Errorf("encoding graph: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mindmaps (id, user_id, topic, layout, shape, source, model, graph, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.Topic, m.Layout, m.Shape, m.Source, m.Model, string(graph),
		formatTime(now), formatTime(now))
	if err != nil {
		return Mindmap{}, fmt.Errorf("inserting mindmap: %w", err)
	}
	return m, nil
}

// GetMindmap returns the mindmap id owned by userID.
func (s *Store) GetMindmap(ctx context.Context, userID, id string) (*Mindmap, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+mindmapColumns+" FROM mindmaps m WHERE m.id = ? AND m.user_id = ?", id, userID)
	m, err := scanMindmap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMindmaps returns the user's mindmaps, newest first. limit <= 0 means
// no limit.
func (s *Store) ListMindmaps(ctx context.Context, userID string, limit int) ([]Mindmap, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+mindmapColumns+" FROM mindmaps m WHERE m.user_id = ? ORDER BY m.created_at DESC, m.seq DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Mindmap{}
	for rows.Next() {
		m, err := scanMindmap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateGraph replaces the graph of a saved mindmap.
func (s *Store) UpdateGraph(ctx context.Context, userID, id string, g mindmap.Graph) error {
	graph, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE mindmaps SET graph = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		string(graph), formatTime(s.now()), id, userID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// DeleteMindmap removes a mindmap and its embedding.
func (s *Store) DeleteMindmap(ctx context.Context, userID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var seq int64
		err := tx.QueryRowContext(ctx,
			"SELECT seq FROM mindmaps WHERE id = ? AND user_id = ?", id, userID).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM mindmap_vec WHERE mindmap_seq = ?", seq); err != nil {
			return fmt.Errorf("deleting embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM mindmaps WHERE seq = ?", seq); err != nil {
			return fmt.Errorf("deleting mindmap: %w", err)
		}
		return nil
	})
}

// --- Embedding operations ---

// SetEmbedding stores the topic embedding of a mindmap.
func (s *Store) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(embedding), s.embeddingDim)
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, "SELECT seq FROM mindmaps WHERE id = ?", id).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO mindmap_vec (mindmap_seq, embedding) VALUES (?, ?)",
		seq, serializeFloat32(embedding))
	return err
}

// SearchSimilar performs a KNN search over the user's mindmaps and returns
// at most k results, closest first.
func (s *Store) SearchSimilar(ctx context.Context, userID string, query []float32, k int) ([]SearchResult, error) {
	if len(query) != s.embeddingDim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(query), s.embeddingDim)
	}
	if k <= 0 {
		k = 10
	}

	// The vector index is shared by all users, so over-fetch before
	// filtering by owner.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mindmapColumns+`, v.distance
		FROM (
			SELECT mindmap_seq, distance FROM mindmap_vec
			WHERE embedding MATCH ? AND k = ?
		) v
		JOIN mindmaps m ON m.seq = v.mindmap_seq
		WHERE m.user_id = ?
		ORDER BY v.distance
		LIMIT ?
	`, serializeFloat32(query), k*4, userID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		var distance float64
		m, err := scanMindmap(rows, &distance)
		if err != nil {
			return nil, err
		}
		r.Mindmap = *m
		// Convert distance to similarity score (1 - distance for cosine)
		r.Score = 1.0 - distance
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Usage operations ---

// RecordUsage appends a usage record. A zero CreatedAt is set to now.
func (s *Store) RecordUsage(ctx context.Context, r UsageRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (user_id, kind, model, prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.UserID, r.Kind, r.Model, r.PromptTokens, r.CompletionTokens, r.TotalTokens, formatTime(r.CreatedAt))
	return err
}

// UsageSummary returns per-kind totals of the user's usage since the given
// time, ordered by kind.
func (s *Store) UsageSummary(ctx context.Context, userID string, since time.Time) ([]UsageTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*), COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE user_id = ? AND created_at >= ?
		GROUP BY kind
		ORDER BY kind
	`, userID, formatTime(since.UTC()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []UsageTotal{}
	for rows.Next() {
		var t UsageTotal
		if err := rows.Scan(&t.Kind, &t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanMindmap(sc scanner, extra ...any) (*Mindmap, error) {
	var m Mindmap
	var model sql.NullString
	var graph, created, updated string
	dest := append([]any{&m.ID, &m.UserID, &m.Topic, &m.Layout, &m.Shape, &m.Source,
		&model, &graph, &created, &updated}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	m.Model = model.String
	if err := json.Unmarshal([]byte(graph), &m.Graph); err != nil {
		return nil, fmt.Errorf("decoding graph of %s: %w", m.ID, err)
	}
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	return &m, nil
}

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
