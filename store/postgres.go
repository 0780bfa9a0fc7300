package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PostgresStore keeps one JSONB table per collection:
//
//	(id TEXT PRIMARY KEY, document JSONB NOT NULL, updated_at TIMESTAMPTZ)
//
// Upserts replace the whole document on id conflict, which lets a
// changed normalization rule heal previously stored documents on
// re-ingestion.
type PostgresStore struct {
	pool        *pgxpool.Pool
	log         zerolog.Logger
	collections map[string]bool
}

// NewPostgresStore connects, pings, and validates collection names.
func NewPostgresStore(ctx context.Context, connString string, collections []string, log zerolog.Logger) (*PostgresStore, error) {
	allowed := make(map[string]bool, len(collections))
	for _, c := range collections {
		if !collectionNamePattern.MatchString(c) {
			return nil, fmt.Errorf("invalid collection name %q", c)
		}
		allowed[c] = true
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Int("collections", len(collections)).Msg("Connected to PostgreSQL")

	return &PostgresStore{
		pool:        pool,
		log:         log,
		collections: allowed,
	}, nil
}

func (s *PostgresStore) checkCollection(collection string) error {
	if !s.collections[collection] {
		return fmt.Errorf("unknown collection %q", collection)
	}
	return nil
}

// EnsureSchema creates the collection tables and containment indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for coll := range s.collections {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				document JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, coll)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", coll, err)
		}

		idx := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s_document_gin ON %s USING GIN (document jsonb_path_ops)`,
			coll, coll)
		if _, err := s.pool.Exec(ctx, idx); err != nil {
			return fmt.Errorf("create index on %s: %w", coll, err)
		}

		s.log.Debug().Str("collection", coll).Msg("Schema ensured")
	}
	return nil
}

// BulkUpsert writes each document independently. One bad document logs
// a warning and counts as failed without aborting its siblings; only a
// cancelled context stops the batch early.
func (s *PostgresStore) BulkUpsert(ctx context.Context, collection string, docs []Document) (UpsertResult, error) {
	var res UpsertResult
	if err := s.checkCollection(collection); err != nil {
		return res, err
	}
	if len(docs) == 0 {
		return res, nil
	}

	// xmax = 0 distinguishes a fresh insert from a conflict update.
	sql := fmt.Sprintf(`
		INSERT INTO %s (id, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()
		RETURNING (xmax = 0)`, collection)

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		body, err := json.Marshal(doc.Data)
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("collection", collection).
				Str("id", doc.ID).
				Msg("Document not serializable, skipping")
			res.Failed++
			continue
		}

		var inserted bool
		if err := s.pool.QueryRow(ctx, sql, doc.ID, body).Scan(&inserted); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			s.log.Warn().
				Err(err).
				Str("collection", collection).
				Str("id", doc.ID).
				Msg("Document upsert failed, continuing with batch")
			res.Failed++
			continue
		}

		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

// FindOne fetches a document by id.
func (s *PostgresStore) FindOne(ctx context.Context, collection, id string) (map[string]any, error) {
	if err := s.checkCollection(collection); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`SELECT document FROM %s WHERE id = $1`, collection)

	var body []byte
	err := s.pool.QueryRow(ctx, sql, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Find returns documents containing the given top-level field values,
// using JSONB containment so the GIN index applies. A nil filter
// matches everything.
func (s *PostgresStore) Find(ctx context.Context, collection string, filter map[string]any, opts FindOptions) ([]map[string]any, error) {
	if err := s.checkCollection(collection); err != nil {
		return nil, err
	}

	if filter == nil {
		filter = map[string]any{}
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}

	sql := fmt.Sprintf(`SELECT document FROM %s WHERE document @> $1 ORDER BY id`, collection)
	if opts.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, filterJSON)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer rows.Close()

	return scanDocuments(rows, collection)
}

// FindMissingField returns documents lacking a top-level field. JSONB
// containment cannot express key absence, so this is a dedicated query.
func (s *PostgresStore) FindMissingField(ctx context.Context, collection, field string) ([]map[string]any, error) {
	if err := s.checkCollection(collection); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`SELECT document FROM %s WHERE NOT (document ? $1) ORDER BY id`, collection)

	rows, err := s.pool.Query(ctx, sql, field)
	if err != nil {
		return nil, fmt.Errorf("find missing %s in %s: %w", field, collection, err)
	}
	defer rows.Close()

	return scanDocuments(rows, collection)
}

func scanDocuments(rows pgx.Rows, collection string) ([]map[string]any, error) {
	var docs []map[string]any
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", collection, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", collection, err)
	}
	return docs, nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
