package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document is one archived chunk of research.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Filter matches document metadata. Plain keys are containment matches;
// "$and", "$or" and "$not" combine nested filters.
type Filter map[string]any

// Match is a similarity search hit.
type Match struct {
	Document Document
	Score    float64
}

// PGVectorStore keeps archived research in a pgvector collection table.
type PGVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
}

var tableNameRe = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// isValidTableName reports whether name can be used as a collection table.
// Postgres limits identifiers to 63 bytes.
func isValidTableName(name string) bool {
	return tableNameRe.MatchString(name)
}

func NewPGVectorStore(pool *pgxpool.Pool, tableName string) (*PGVectorStore, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid collection name %q: use lowercase letters, digits and underscores", tableName)
	}
	return &PGVectorStore{pool: pool, tableName: tableName}, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.tableName}.Sanitize()
}

// AddDocuments inserts docs in one batch.
func (vs *PGVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (content, metadata, embedding) VALUES ($1, $2, $3)`, vs.table())

	batch := &pgx.Batch{}
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(query, doc.Content, metadataJSON, pgvector.NewVector(doc.Embedding))
	}

	br := vs.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
	}
	return nil
}

// SimilaritySearch returns the topK documents closest to embedding among
// those matching filter.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Match, error) {
	args := []any{pgvector.NewVector(embedding)}
	where, err := metadataWhere(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata filter: %w", err)
	}
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, vs.table(), where, len(args))

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var doc Document
		var metadataJSON []byte
		var score float64
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		matches = append(matches, Match{Document: doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return matches, nil
}

// Documents returns every document matching filter, oldest first.
func (vs *PGVectorStore) Documents(ctx context.Context, filter Filter) ([]Document, error) {
	var args []any
	where, err := metadataWhere(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata filter: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, content, metadata FROM %s WHERE %s ORDER BY created_at`, vs.table(), where)
	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var metadataJSON []byte
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return docs, nil
}

// Delete removes documents matching filter. An empty filter is rejected so a
// typo cannot wipe the collection.
func (vs *PGVectorStore) Delete(ctx context.Context, filter Filter) (int64, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("refusing to delete without a filter")
	}
	var args []any
	where, err := metadataWhere(filter, &args)
	if err != nil {
		return 0, fmt.Errorf("failed to build metadata filter: %w", err)
	}
	tag, err := vs.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, vs.table(), where), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// metadataWhere builds a WHERE clause for filter, appending its parameters
// to args. Placeholders continue from the current length of args.
func metadataWhere(filter Filter, args *[]any) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	var conditions []string
	for key, value := range filter {
		switch key {
		case "$and", "$or":
			list, ok := value.([]any)
			if !ok {
				return "", fmt.Errorf("value for %s must be a list of conditions", key)
			}
			var parts []string
			for _, item := range list {
				sub, ok := asFilter(item)
				if !ok {
					return "", fmt.Errorf("item in %s list must be a JSON object", key)
				}
				clause, err := metadataWhere(sub, args)
				if err != nil {
					return "", err
				}
				parts = append(parts, "("+clause+")")
			}
			if len(parts) == 0 {
				continue
			}
			op := " AND "
			if key == "$or" {
				op = " OR "
			}
			conditions = append(conditions, "("+strings.Join(parts, op)+")")

		case "$not":
			sub, ok := asFilter(value)
			if !ok {
				return "", fmt.Errorf("value for $not must be a JSON object")
			}
			clause, err := metadataWhere(sub, args)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, "NOT ("+clause+")")

		default:
			pair, err := json.Marshal(map[string]any{key: value})
			if err != nil {
				return "", fmt.Errorf("failed to marshal metadata pair: %w", err)
			}
			*args = append(*args, pair)
			conditions = append(conditions, fmt.Sprintf("metadata @> $%d", len(*args)))
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conditions, " AND "), nil
}

func asFilter(v any) (Filter, bool) {
	switch m := v.(type) {
	case Filter:
		return m, true
	case map[string]any:
		return Filter(m), true
	}
	return nil, false
}
