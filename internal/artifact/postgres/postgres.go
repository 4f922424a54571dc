// Package postgres implements artifact.Repository over the importer's
// PostgreSQL tables.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS wx_artifacts (
  project_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  name TEXT NOT NULL,
  parent_class TEXT NOT NULL DEFAULT '',
  code_hash TEXT NOT NULL DEFAULT '',
  dependencies JSONB,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
  PRIMARY KEY (project_id, kind, name)
);

CREATE TABLE IF NOT EXISTS wx_code_bodies (
  project_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  artifact_name TEXT NOT NULL,
  position INTEGER NOT NULL,
  body_name TEXT NOT NULL DEFAULT '',
  body_type TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL DEFAULT '',
  encoding TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (project_id, kind, artifact_name, position)
);
CREATE INDEX IF NOT EXISTS idx_wx_artifacts_project_id ON wx_artifacts (project_id);
`

// Repository reads artifacts from PostgreSQL.
type Repository struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

// Open connects using the pgx stdlib driver.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	r.schemaOnce.Do(func() {
		_, r.schemaErr = r.db.ExecContext(ctx, schema)
	})
	return r.schemaErr
}

type artifactKey struct {
	kind artifact.Kind
	name string
}

// List implements artifact.Repository.
func (r *Repository) List(ctx context.Context, projectID string) ([]artifact.Artifact, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT kind, name, parent_class, code_hash, dependencies
FROM wx_artifacts WHERE project_id = $1
ORDER BY kind, name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []artifact.Artifact
	index := make(map[artifactKey]int)
	for rows.Next() {
		var (
			a       artifact.Artifact
			kind    string
			depsRaw []byte
		)
		if err := rows.Scan(&kind, &a.Name, &a.ParentClass, &a.CodeHash, &depsRaw); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		k, err := artifact.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		a.Kind = k
		a.ProjectID = projectID
		if len(depsRaw) > 0 {
			var deps artifact.DependencySet
			if err := json.Unmarshal(depsRaw, &deps); err != nil {
				return nil, fmt.Errorf("decode dependencies of %s: %w", a.ID(), err)
			}
			a.Dependencies = &deps
		}
		index[artifactKey{a.Kind, a.Name}] = len(out)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	bodies, err := r.db.QueryContext(ctx, `
SELECT kind, artifact_name, body_name, body_type, text, encoding
FROM wx_code_bodies WHERE project_id = $1
ORDER BY kind, artifact_name, position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query code bodies: %w", err)
	}
	defer bodies.Close()

	for bodies.Next() {
		var (
			kind, owner, bodyType string
			b                     artifact.CodeBody
		)
		if err := bodies.Scan(&kind, &owner, &b.Name, &bodyType, &b.Text, &b.Encoding); err != nil {
			return nil, fmt.Errorf("scan code body: %w", err)
		}
		k, err := artifact.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		b.Type = artifact.BodyType(bodyType)
		i, ok := index[artifactKey{k, owner}]
		if !ok {
			continue
		}
		out[i].Code = append(out[i].Code, b)
	}
	if err := bodies.Err(); err != nil {
		return nil, err
	}

	for _, a := range out {
		if err := artifact.Validate(a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SaveDependencies implements artifact.Repository.
func (r *Repository) SaveDependencies(ctx context.Context, projectID string, kind artifact.Kind, name string, deps artifact.DependencySet, codeHash string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	raw, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE wx_artifacts SET dependencies = $4, code_hash = $5, updated_at = NOW()
WHERE project_id = $1 AND kind = $2 AND name = $3`,
		projectID, string(kind), name, raw, codeHash)
	if err != nil {
		return fmt.Errorf("update dependencies of %s:%s: %w", kind, name, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: %s:%s", artifact.ErrNotFound, kind, name)
	}
	return nil
}

// Ping implements artifact.Repository.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close implements artifact.Repository.
func (r *Repository) Close() error {
	return r.db.Close()
}

var _ artifact.Repository = (*Repository)(nil)
