package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peternagy/espal/internal/guard"
	"github.com/peternagy/espal/internal/types"
)

// QueryService handles saved query storage operations.
type QueryService struct {
	store *Store
}

// NewQueryService creates a new query service.
func NewQueryService(store *Store) *QueryService {
	return &QueryService{store: store}
}

const queryColumns = `id, name, method, path, body, created_at, updated_at`

func scanQuery(row rowScanner) (types.SavedQuery, error) {
	var (
		q                    types.SavedQuery
		body                 sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&q.ID, &q.Name, &q.Method, &q.Path, &body, &createdAt, &updatedAt); err != nil {
		return types.SavedQuery{}, err
	}
	q.Body = body.String

	var err error
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.SavedQuery{}, err
	}
	if q.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.SavedQuery{}, err
	}
	return q, nil
}

// List returns all saved queries ordered by name.
func (s *QueryService) List(ctx context.Context) ([]types.SavedQuery, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+queryColumns+` FROM saved_queries ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing saved queries: %w", err)
	}
	defer rows.Close()

	queries := []types.SavedQuery{}
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning saved query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Get returns a saved query by ID.
func (s *QueryService) Get(ctx context.Context, id int64) (types.SavedQuery, error) {
	q, err := scanQuery(s.store.db.QueryRowContext(ctx,
		`SELECT `+queryColumns+` FROM saved_queries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.SavedQuery{}, ErrNotFound
	}
	if err != nil {
		return types.SavedQuery{}, fmt.Errorf("getting saved query %d: %w", id, err)
	}
	return q, nil
}

// Create validates and inserts a saved query.
func (s *QueryService) Create(ctx context.Context, in types.SavedQueryInput) (types.SavedQuery, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Method = strings.ToUpper(strings.TrimSpace(in.Method))
	if err := guard.ValidateSavedQuery(in.Name, in.Method, in.Path); err != nil {
		return types.SavedQuery{}, err
	}

	now := formatTime(time.Now())
	res, err := s.store.db.ExecContext(ctx, `
		INSERT INTO saved_queries (name, method, path, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.Name, in.Method, in.Path, nullString(in.Body), now, now,
	)
	if err != nil {
		return types.SavedQuery{}, fmt.Errorf("inserting saved query: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.SavedQuery{}, fmt.Errorf("reading saved query id: %w", err)
	}
	return s.Get(ctx, id)
}

// Update applies a partial update to a saved query.
func (s *QueryService) Update(ctx context.Context, id int64, patch types.SavedQueryPatch) (types.SavedQuery, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return types.SavedQuery{}, err
	}

	if patch.Name != nil {
		q.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Method != nil {
		q.Method = strings.ToUpper(strings.TrimSpace(*patch.Method))
	}
	if patch.Path != nil {
		q.Path = *patch.Path
	}
	if patch.Body.Set {
		q.Body = patch.Body.Value
	}
	if err := guard.ValidateSavedQuery(q.Name, q.Method, q.Path); err != nil {
		return types.SavedQuery{}, err
	}

	if _, err := s.store.db.ExecContext(ctx, `
		UPDATE saved_queries SET name = ?, method = ?, path = ?, body = ?, updated_at = ?
		WHERE id = ?`,
		q.Name, q.Method, q.Path, nullString(q.Body), formatTime(time.Now()), id,
	); err != nil {
		return types.SavedQuery{}, fmt.Errorf("updating saved query %d: %w", id, err)
	}
	return s.Get(ctx, id)
}

// Delete removes a saved query, reporting whether it existed.
func (s *QueryService) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.store.db.ExecContext(ctx, `DELETE FROM saved_queries WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting saved query %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting saved query %d: %w", id, err)
	}
	return n > 0, nil
}
