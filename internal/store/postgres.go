package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/splashkes/eventlinter/pkg/models"
)

const suppressionsTable = "linter_suppressions"

var suppressionColumns = []string{
	"id", "rule_id", "event_id", "artist_id", "suppressed_by",
	"suppressed_until", "reason", "created_at", "updated_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	keys := []*models.APIKey{}
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Suppressions ---

// UpsertSuppression inserts or replaces the suppression for
// (rule_id, event_id, artist_id). A null entity id is part of the key, so
// suppressing the same rule for the same event twice updates one row.
func (s *PostgresStore) UpsertSuppression(ctx context.Context, in *models.Suppression) (*models.Suppression, error) {
	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query, args, err := psql.Insert(suppressionsTable).
		Columns("id", "rule_id", "event_id", "artist_id", "suppressed_by", "suppressed_until", "reason").
		Values(id, in.RuleID, in.EventID, in.ArtistID, in.SuppressedBy, in.SuppressedUntil, in.Reason).
		Suffix(`ON CONFLICT ON CONSTRAINT linter_suppressions_key DO UPDATE SET
		   suppressed_by = EXCLUDED.suppressed_by,
		   suppressed_until = EXCLUDED.suppressed_until,
		   reason = EXCLUDED.reason,
		   updated_at = NOW()
		 RETURNING ` + strings.Join(suppressionColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build upsert suppression: %w", err)
	}

	out, err := scanSuppression(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("upsert suppression: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSuppression(ctx context.Context, id uuid.UUID) (*models.Suppression, error) {
	query, args, err := psql.Select(suppressionColumns...).
		From(suppressionsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get suppression: %w", err)
	}

	out, err := scanSuppression(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListSuppressions(ctx context.Context, filter SuppressionFilter) ([]*models.Suppression, int, error) {
	where := sq.And{}
	if filter.RuleID != "" {
		where = append(where, sq.Eq{"rule_id": filter.RuleID})
	}
	if filter.EventID != "" {
		where = append(where, sq.Eq{"event_id": filter.EventID})
	}
	if filter.ArtistID != "" {
		where = append(where, sq.Eq{"artist_id": filter.ArtistID})
	}
	if filter.ActiveOnly {
		where = append(where, sq.Or{
			sq.Eq{"suppressed_until": nil},
			sq.Expr("suppressed_until > NOW()"),
		})
	}

	countQ := psql.Select("COUNT(*)").From(suppressionsTable)
	dataQ := psql.Select(suppressionColumns...).From(suppressionsTable)
	if len(where) > 0 {
		countQ = countQ.Where(where)
		dataQ = dataQ.Where(where)
	}

	query, args, err := countQ.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count suppressions: %w", err)
	}
	var total int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query, args, err = dataQ.
		OrderBy("updated_at DESC", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list suppressions: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	out := []*models.Suppression{}
	for rows.Next() {
		rec, err := scanSuppression(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func scanSuppression(row pgx.Row) (*models.Suppression, error) {
	var rec models.Suppression
	err := row.Scan(&rec.ID, &rec.RuleID, &rec.EventID, &rec.ArtistID, &rec.SuppressedBy,
		&rec.SuppressedUntil, &rec.Reason, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
