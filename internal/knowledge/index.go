package knowledge

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"mcpforge/internal/forge"
)

// DefaultMinScore drops candidates that share nothing meaningful with the
// query, so an unrelated request yields no match instead of the nearest
// unrelated descriptor.
const DefaultMinScore = 0.1

//go:embed migrations/*.sql
var migrations embed.FS

// Index is a SQLite-backed descriptor index ranked by cosine similarity.
type Index struct {
	db       *sql.DB
	embedder Embedder
	minScore float64
	log      *slog.Logger
}

var _ forge.Retriever = (*Index)(nil)

type Option func(*Index)

func WithEmbedder(e Embedder) Option {
	return func(ix *Index) {
		if e != nil {
			ix.embedder = e
		}
	}
}

func WithMinScore(s float64) Option {
	return func(ix *Index) { ix.minScore = s }
}

// Open opens the index at path and runs pending migrations. Use ":memory:"
// for a throwaway index.
func Open(path string, opts ...Option) (*Index, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create knowledge directory: %w", err)
		}
	}
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	ix := &Index{
		db:       db,
		embedder: HashingEmbedder{},
		minScore: DefaultMinScore,
		log:      slog.With("component", "knowledge"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// migrate applies the embedded migrations through a goose provider scoped to
// db, so concurrent opens share no package-level goose state.
func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load knowledge migrations: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := p.Up(context.Background()); err != nil {
		return fmt.Errorf("run knowledge migrations: %w", err)
	}
	return nil
}

// openDB opens a SQLite database with WAL mode and a busy timeout.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// Upsert validates and stores descriptors, replacing any with the same name.
func (ix *Index) Upsert(ctx context.Context, docs ...forge.Descriptor) error {
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			return err
		}
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, d := range docs {
		envs, err := json.Marshal(d.RequiredEnvVars)
		if err != nil {
			return fmt.Errorf("marshal env vars for %s: %w", d.Name, err)
		}
		examples, err := json.Marshal(d.Examples)
		if err != nil {
			return fmt.Errorf("marshal examples for %s: %w", d.Name, err)
		}
		vec := ix.embedder.Embed(embeddingText(d))

		_, err = tx.ExecContext(ctx,
			`INSERT INTO descriptors (name, description, installation_type, repository_url,
			 documentation_summary, required_env_vars, examples, embedding, embedding_dims, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET
			 description = excluded.description,
			 installation_type = excluded.installation_type,
			 repository_url = excluded.repository_url,
			 documentation_summary = excluded.documentation_summary,
			 required_env_vars = excluded.required_env_vars,
			 examples = excluded.examples,
			 embedding = excluded.embedding,
			 embedding_dims = excluded.embedding_dims,
			 updated_at = excluded.updated_at`,
			d.Name, d.Description, d.InstallationType.String(), d.RepositoryURL,
			d.DocumentationSummary, string(envs), string(examples),
			encodeVector(vec), len(vec), now,
		)
		if err != nil {
			return fmt.Errorf("upsert descriptor %s: %w", d.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	ix.log.Debug("descriptors indexed", "count", len(docs))
	return nil
}

type scored struct {
	doc   forge.Descriptor
	score float64
}

// Retrieve returns up to k descriptors ranked by similarity to query. No
// candidate above the minimum score is an empty result, not an error.
func (ix *Index) Retrieve(ctx context.Context, query string, k int) ([]forge.Descriptor, error) {
	if k <= 0 {
		return nil, nil
	}
	qvec := ix.embedder.Embed(query)

	rows, err := ix.db.QueryContext(ctx,
		`SELECT name, description, installation_type, repository_url, documentation_summary,
		 required_env_vars, examples, embedding FROM descriptors`)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()

	var candidates []scored
	for rows.Next() {
		d, vec, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		if len(vec) != len(qvec) {
			ix.log.Warn("skipping descriptor with stale embedding", "name", d.Name, "dims", len(vec))
			continue
		}
		if s := Cosine(qvec, vec); s > ix.minScore {
			candidates = append(candidates, scored{doc: d, score: s})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].doc.Name < candidates[j].doc.Name
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]forge.Descriptor, len(candidates))
	for i, c := range candidates {
		out[i] = c.doc
	}
	ix.log.Debug("retrieved descriptors", "query", query, "count", len(out))
	return out, nil
}

// List returns every indexed descriptor ordered by name.
func (ix *Index) List(ctx context.Context) ([]forge.Descriptor, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT name, description, installation_type, repository_url, documentation_summary,
		 required_env_vars, examples, embedding FROM descriptors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list descriptors: %w", err)
	}
	defer rows.Close()

	var out []forge.Descriptor
	for rows.Next() {
		d, _, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM descriptors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count descriptors: %w", err)
	}
	return n, nil
}

func scanDescriptor(rows *sql.Rows) (forge.Descriptor, []float32, error) {
	var (
		d                     forge.Descriptor
		installType           string
		envsJSON, exampleJSON string
		blob                  []byte
	)
	if err := rows.Scan(&d.Name, &d.Description, &installType, &d.RepositoryURL,
		&d.DocumentationSummary, &envsJSON, &exampleJSON, &blob); err != nil {
		return forge.Descriptor{}, nil, fmt.Errorf("scan descriptor: %w", err)
	}
	t, ok := forge.ParseInstallationType(installType)
	if !ok {
		return forge.Descriptor{}, nil, fmt.Errorf("descriptor %s: invalid installation type %q", d.Name, installType)
	}
	d.InstallationType = t
	if err := json.Unmarshal([]byte(envsJSON), &d.RequiredEnvVars); err != nil {
		return forge.Descriptor{}, nil, fmt.Errorf("decode env vars for %s: %w", d.Name, err)
	}
	if err := json.Unmarshal([]byte(exampleJSON), &d.Examples); err != nil {
		return forge.Descriptor{}, nil, fmt.Errorf("decode examples for %s: %w", d.Name, err)
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return forge.Descriptor{}, nil, fmt.Errorf("descriptor %s: %w", d.Name, err)
	}
	return d, vec, nil
}

// embeddingText is the text a descriptor is ranked by: its name parts,
// description, summary and example queries.
func embeddingText(d forge.Descriptor) string {
	text := d.Name + " " + d.Name + " " + d.Description + " " + d.DocumentationSummary
	for _, ex := range d.Examples {
		text += " " + ex.UserQuery
	}
	return text
}
