package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EgorKonstrukt/AutoPlasma/internal/platform/db"
	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
)

// Repository persists stock and usage log rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service. AppendEvent
// is the only write path into the usage log.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, name string) (StockEntry, error)
	UpdateStock(ctx context.Context, materialID uuid.UUID, qty float64, at time.Time) error
	AppendEvent(ctx context.Context, evt Event) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

var _ RepositoryPort = (*Repository)(nil)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const eventColumns = `id, occurred_at, material_id, material_name, kind, signed_delta_grams, operator, comment, duration_sec`

// WithTx executes the callback inside a READ COMMITTED transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var fnErr error
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		fnErr = fn(ctx, &txRepo{tx: tx})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return shared.StorageFailure("ledger tx", err)
}

// ListStock returns every stock entry ordered by material name.
func (r *Repository) ListStock(ctx context.Context) ([]StockEntry, error) {
	return listStock(ctx, r.pool)
}

// ReadSnapshot returns stock and the full log as of one point in time.
func (r *Repository) ReadSnapshot(ctx context.Context) ([]StockEntry, []Event, error) {
	var (
		stock  []StockEntry
		events []Event
	)
	var fnErr error
	err := db.WithReadSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		stock, fnErr = listStock(ctx, tx)
		if fnErr != nil {
			return fnErr
		}
		events, fnErr = queryEvents(ctx, tx, "all events", `SELECT `+eventColumns+` FROM usage_log ORDER BY id`)
		return fnErr
	})
	if err == nil {
		return stock, events, nil
	}
	if fnErr != nil {
		return nil, nil, fnErr
	}
	return nil, nil, shared.StorageFailure("ledger snapshot", err)
}

func listStock(ctx context.Context, q querier) ([]StockEntry, error) {
	rows, err := q.Query(ctx, `SELECT s.material_id, m.name, s.quantity_grams, s.updated_at
		FROM stock s
		JOIN materials m ON m.id = s.material_id
		ORDER BY m.name`)
	if err != nil {
		return nil, shared.StorageFailure("list stock", err)
	}
	defer rows.Close()

	var out []StockEntry
	for rows.Next() {
		var e StockEntry
		if err := rows.Scan(&e.MaterialID, &e.MaterialName, &e.QuantityGrams, &e.UpdatedAt); err != nil {
			return nil, shared.StorageFailure("scan stock", err)
		}
		e.UpdatedAt = e.UpdatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageFailure("list stock", err)
	}
	return out, nil
}

// GetStock loads the stock entry of one material.
func (r *Repository) GetStock(ctx context.Context, name string) (StockEntry, error) {
	var e StockEntry
	err := r.pool.QueryRow(ctx, `SELECT s.material_id, m.name, s.quantity_grams, s.updated_at
		FROM stock s
		JOIN materials m ON m.id = s.material_id
		WHERE m.name = $1`, name).Scan(&e.MaterialID, &e.MaterialName, &e.QuantityGrams, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockEntry{}, ErrMaterialNotFound
		}
		return StockEntry{}, shared.StorageFailure("get stock", err)
	}
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

// RecentEvents returns up to limit entries, newest first.
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	return queryEvents(ctx, r.pool, "recent events",
		`SELECT `+eventColumns+` FROM usage_log ORDER BY occurred_at DESC, id DESC LIMIT $1`, limit)
}

// EventsForMaterial returns every entry of one material, oldest first.
func (r *Repository) EventsForMaterial(ctx context.Context, materialID uuid.UUID) ([]Event, error) {
	return queryEvents(ctx, r.pool, "material events",
		`SELECT `+eventColumns+` FROM usage_log WHERE material_id = $1 ORDER BY id`, materialID)
}

// AllEvents returns the full log, oldest first.
func (r *Repository) AllEvents(ctx context.Context) ([]Event, error) {
	return queryEvents(ctx, r.pool, "all events", `SELECT `+eventColumns+` FROM usage_log ORDER BY id`)
}

func queryEvents(ctx context.Context, q querier, op, sql string, args ...any) ([]Event, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.StorageFailure(op, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.MaterialID, &e.MaterialName, &kind,
			&e.SignedDeltaGrams, &e.Operator, &e.Comment, &e.DurationSec); err != nil {
			return nil, shared.StorageFailure(op, err)
		}
		e.Kind = EventKind(kind)
		e.OccurredAt = e.OccurredAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageFailure(op, err)
	}
	return out, nil
}

func (r *txRepo) GetStockForUpdate(ctx context.Context, name string) (StockEntry, error) {
	var e StockEntry
	err := r.tx.QueryRow(ctx, `SELECT s.material_id, m.name, s.quantity_grams, s.updated_at
		FROM stock s
		JOIN materials m ON m.id = s.material_id
		WHERE m.name = $1
		FOR UPDATE OF s`, name).Scan(&e.MaterialID, &e.MaterialName, &e.QuantityGrams, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockEntry{}, ErrMaterialNotFound
		}
		return StockEntry{}, shared.StorageFailure("lock stock", err)
	}
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func (r *txRepo) UpdateStock(ctx context.Context, materialID uuid.UUID, qty float64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock SET quantity_grams = $2, updated_at = $3 WHERE material_id = $1`, materialID, qty, at)
	if err != nil {
		return shared.StorageFailure("update stock", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

func (r *txRepo) AppendEvent(ctx context.Context, evt Event) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO usage_log
		(occurred_at, material_id, material_name, kind, signed_delta_grams, operator, comment, duration_sec)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		evt.OccurredAt, evt.MaterialID, evt.MaterialName, string(evt.Kind), evt.SignedDeltaGrams,
		evt.Operator, evt.Comment, evt.DurationSec).Scan(&id)
	if err != nil {
		return 0, shared.StorageFailure("append event", err)
	}
	return id, nil
}
