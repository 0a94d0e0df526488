package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, stored *StoredAssessment) error {
	body, err := json.Marshal(stored.Assessment)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, order_id, risk_score, recommended_action, assessment, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		stored.ID,
		stored.Assessment.OrderID,
		stored.Assessment.RiskScore,
		string(stored.Assessment.RecommendedAction),
		body,
		stored.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, orderID string) (*StoredAssessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, assessment, evaluated_at
		FROM risk_assessments
		WHERE order_id = $1
		ORDER BY evaluated_at DESC
		LIMIT 1
	`, orderID)

	stored, err := scanStored(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load risk assessment: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) ListByOrder(ctx context.Context, orderID string, limit int) ([]*StoredAssessment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assessment, evaluated_at
		FROM risk_assessments
		WHERE order_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*StoredAssessment
	for rows.Next() {
		stored, err := scanStored(rows)
		if err != nil {
			continue
		}
		result = append(result, stored)
	}
	return result, rows.Err()
}

func (s *PostgresStore) LatestByOrders(ctx context.Context, orderIDs []string) (map[string]*StoredAssessment, error) {
	out := make(map[string]*StoredAssessment, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (order_id) id, assessment, evaluated_at
		FROM risk_assessments
		WHERE order_id = ANY($1)
		ORDER BY order_id, evaluated_at DESC
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load latest assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		stored, err := scanStored(rows)
		if err != nil {
			return nil, err
		}
		out[stored.Assessment.OrderID] = stored
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteOrder(ctx context.Context, orderID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM risk_assessments WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete risk assessments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete risk assessments: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStored(row scanner) (*StoredAssessment, error) {
	var (
		stored StoredAssessment
		body   []byte
	)
	if err := row.Scan(&stored.ID, &body, &stored.EvaluatedAt); err != nil {
		return nil, err
	}
	var a Assessment
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode assessment %s: %w", stored.ID, err)
	}
	stored.Assessment = &a
	return &stored, nil
}
