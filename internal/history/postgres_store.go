package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/riskguard/riskguard/internal/order"
	"github.com/riskguard/riskguard/internal/pagination"
	"github.com/riskguard/riskguard/internal/validation"
)

// PostgresStore keeps order history in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Lookup implements Provider.
func (p *PostgresStore) Lookup(ctx context.Context, oc order.Context) (order.HistoricalContext, error) {
	now := p.now()
	email := validation.SanitizeEmail(oc.Customer.Email)
	name := strings.TrimSpace(oc.Customer.Name)
	phone := strings.TrimSpace(oc.Customer.Phone)

	h := order.HistoricalContext{
		SamePersonOrders: order.SamePersonOrders{Email: email, FullName: name},
	}

	if email != "" {
		var last sql.NullTime
		err := p.db.QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE created_at >= $2),
			       COUNT(*) FILTER (WHERE created_at >= $3),
			       MAX(created_at)
			FROM order_history
			WHERE email = $1`,
			email, now.Add(-Window24h), now.Add(-Window7d),
		).Scan(&h.SamePersonOrders.TotalPastOrders, &h.SamePersonOrders.OrdersLast24h,
			&h.SamePersonOrders.OrdersLast7d, &last)
		if err != nil {
			return order.HistoricalContext{}, fmt.Errorf("failed to count orders: %w", err)
		}
		if last.Valid {
			ts := last.Time
			minutes := MinutesBetween(ts, now)
			h.SamePersonOrders.LastOrderTimestamp = &ts
			h.SamePersonOrders.MinutesSinceLastOrder = &minutes
		}
	}

	if street := strings.TrimSpace(oc.Address.Street); street != "" {
		names, err := p.otherNamesAt(ctx, street, strings.TrimSpace(oc.Address.City), strings.TrimSpace(oc.Address.PostalCode), email)
		if err != nil {
			return order.HistoricalContext{}, err
		}
		h.AddressHistory.OtherNamesAtThisAddress = names
	}

	if email != "" {
		matches, err := p.identityMatches(ctx, `
			SELECT full_name, email, phone FROM customer_profiles
			WHERE email = $1 AND user_id <> $2 AND LOWER(TRIM(full_name)) <> LOWER($3)
			ORDER BY created_at, profile_key`, email, oc.Customer.UserID, name)
		if err != nil {
			return order.HistoricalContext{}, err
		}
		h.DuplicateEmailMatches = matches
	}

	if phone != "" {
		matches, err := p.identityMatches(ctx, `
			SELECT full_name, email, phone FROM customer_profiles
			WHERE phone = $1 AND email <> $2 AND LOWER(TRIM(full_name)) <> LOWER($3)
			ORDER BY created_at, profile_key`, phone, email, name)
		if err != nil {
			return order.HistoricalContext{}, err
		}
		h.DuplicatePhoneMatches = matches
	}

	return h.Normalized(), nil
}

func (p *PostgresStore) otherNamesAt(ctx context.Context, street, city, postal, email string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT full_name, email, MIN(created_at) AS first_seen
		FROM order_history
		WHERE LOWER(street) = LOWER($1) AND LOWER(city) = LOWER($2) AND LOWER(postal_code) = LOWER($3)
		  AND email <> $4
		GROUP BY full_name, email
		ORDER BY first_seen`, street, city, postal, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query address history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name, other string
		var firstSeen time.Time
		if err := rows.Scan(&name, &other, &firstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan address history: %w", err)
		}
		names = append(names, DescribeIdentity(name, other))
	}
	return names, rows.Err()
}

func (p *PostgresStore) identityMatches(ctx context.Context, query string, args ...any) ([]order.IdentityMatch, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []order.IdentityMatch
	for rows.Next() {
		var m order.IdentityMatch
		if err := rows.Scan(&m.Name, &m.Email, &m.Phone); err != nil {
			return nil, fmt.Errorf("failed to scan identity match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Record implements Recorder. The profile is created on first sight and
// reused afterwards.
func (p *PostgresStore) Record(ctx context.Context, rec *OrderRecord) error {
	if rec == nil || rec.Email == "" {
		return ErrInvalidRecord
	}
	at := rec.CreatedAt
	if at.IsZero() {
		at = p.now()
	}
	profile := ProfileOf(rec)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO customer_profiles (profile_key, user_id, full_name, email, phone, country, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (profile_key) DO NOTHING`,
		profile.Key(), profile.UserID, profile.FullName, profile.Email, profile.Phone, profile.Country, at,
	); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_history (id, order_id, profile_key, full_name, email, phone, street, city, state,
		                           postal_code, country, total_amount, risk_score, recommended_action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.OrderID, profile.Key(), rec.FullName, rec.Email, rec.Phone, rec.Street, rec.City, rec.State,
		rec.PostalCode, rec.Country, rec.TotalAmount, rec.RiskScore, rec.RecommendedAction, at,
	); err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	return tx.Commit()
}

// CustomerOrders implements Store.
func (p *PostgresStore) CustomerOrders(ctx context.Context, email string, limit int, cursor string) (*CustomerHistory, error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	limit = pagination.Limit(limit)
	email = validation.SanitizeEmail(email)

	out := &CustomerHistory{Email: email, Orders: []*OrderRecord{}}
	if err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM order_history WHERE email = $1`, email,
	).Scan(&out.TotalOrders, &out.TotalSpent); err != nil {
		return nil, fmt.Errorf("failed to total customer orders: %w", err)
	}

	var (
		afterAt *time.Time
		afterID string
	)
	if after != nil {
		afterAt, afterID = &after.CreatedAt, after.ID
	}
	rows, err := p.db.QueryContext(ctx, selectRecords+`
		WHERE o.email = $1
		  AND ($2::timestamptz IS NULL OR (o.created_at, id) < ($2, $3))
		ORDER BY o.created_at DESC, id DESC
		LIMIT $4`, email, afterAt, afterID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list customer orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	orders, next, more := pagination.ComputePage(page, limit, recordKey)
	if orders != nil {
		out.Orders = orders
	}
	out.NextCursor, out.HasMore = next, more
	return out, nil
}

const selectRecords = `
		SELECT id, order_id, user_id, o.full_name, o.email, o.phone, street, city, state, postal_code,
		       o.country, total_amount, risk_score, recommended_action, o.created_at
		FROM order_history o
		JOIN customer_profiles USING (profile_key)`

func scanRecords(rows *sql.Rows) ([]*OrderRecord, error) {
	var out []*OrderRecord
	for rows.Next() {
		var r OrderRecord
		if err := rows.Scan(&r.ID, &r.OrderID, &r.UserID, &r.FullName, &r.Email, &r.Phone, &r.Street, &r.City,
			&r.State, &r.PostalCode, &r.Country, &r.TotalAmount, &r.RiskScore, &r.RecommendedAction, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListOrders implements Store.
func (p *PostgresStore) ListOrders(ctx context.Context, limit int, cursor string) (*OrderPage, error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	limit = pagination.Limit(limit)

	var (
		afterAt *time.Time
		afterID string
	)
	if after != nil {
		afterAt, afterID = &after.CreatedAt, after.ID
	}
	rows, err := p.db.QueryContext(ctx, selectRecords+`
		WHERE ($1::timestamptz IS NULL OR (o.created_at, id) < ($1, $2))
		ORDER BY o.created_at DESC, id DESC
		LIMIT $3`, afterAt, afterID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	out := &OrderPage{Orders: []*OrderRecord{}}
	orders, next, more := pagination.ComputePage(page, limit, recordKey)
	if orders != nil {
		out.Orders = orders
	}
	out.NextCursor, out.HasMore = next, more
	return out, nil
}

// Complete implements Recorder.
func (p *PostgresStore) Complete(ctx context.Context, id string, riskScore int, action string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE order_history SET risk_score = $2, recommended_action = $3 WHERE id = $1`,
		id, riskScore, action)
	if err != nil {
		return fmt.Errorf("failed to complete order record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Discard implements Recorder.
func (p *PostgresStore) Discard(ctx context.Context, id string) error {
	n, err := p.deleteWhere(ctx, "id", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOrder implements Store.
func (p *PostgresStore) DeleteOrder(ctx context.Context, orderID string) (int, error) {
	return p.deleteWhere(ctx, "order_id", orderID)
}

// deleteWhere removes the order_history rows whose column equals value,
// then the profiles those rows leave unreferenced. column is always a
// literal from this file.
func (p *PostgresStore) deleteWhere(ctx context.Context, column, value string) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `DELETE FROM order_history WHERE `+column+` = $1 RETURNING profile_key`, value) // #nosec G202 -- column is a constant
	if err != nil {
		return 0, fmt.Errorf("failed to delete orders: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan deleted order: %w", err)
		}
		keys = append(keys, k)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to delete orders: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM customer_profiles c
		WHERE c.profile_key = ANY($1)
		  AND NOT EXISTS (SELECT 1 FROM order_history o WHERE o.profile_key = c.profile_key)`,
		pq.Array(keys),
	); err != nil {
		return 0, fmt.Errorf("failed to prune profiles: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return len(keys), nil
}
