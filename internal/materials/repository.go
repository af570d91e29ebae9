package materials

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

// Repository persists materials in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// Insert stores the material and its stock row seeded with seedGrams.
	Insert(ctx context.Context, m Material, seedGrams float64) error
	// LockByName row-locks the material and its stock, returning the quantity on hand.
	LockByName(ctx context.Context, name string) (Material, float64, error)
	// Delete removes the material and its stock row.
	Delete(ctx context.Context, id uuid.UUID) error
}

type txRepo struct {
	tx pgx.Tx
}

var _ RepositoryPort = (*Repository)(nil)

const materialColumns = `m.id, m.name, m.density, m.flow_factor, m.target_gpm, m.created_at`

// WithTx executes the callback inside a transaction.
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
	return shared.StorageFailure("materials tx", err)
}

// List returns all materials ordered by name.
func (r *Repository) List(ctx context.Context) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+materialColumns+` FROM materials m ORDER BY m.name`)
	if err != nil {
		return nil, shared.StorageFailure("list materials", err)
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, shared.StorageFailure("scan material", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageFailure("list materials", err)
	}
	return out, nil
}

// GetByName loads a single material.
func (r *Repository) GetByName(ctx context.Context, name string) (Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials m WHERE m.name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, ErrNotFound
		}
		return Material{}, shared.StorageFailure("get material", err)
	}
	return m, nil
}

func (r *txRepo) Insert(ctx context.Context, m Material, seedGrams float64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO materials (id, name, density, flow_factor, target_gpm, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, m.Density, m.FlowFactor, m.TargetGPM, m.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateName
		}
		return shared.StorageFailure("insert material", err)
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO stock (material_id, quantity_grams, updated_at) VALUES ($1, $2, $3)`, m.ID, seedGrams, m.CreatedAt)
	if err != nil {
		return shared.StorageFailure("insert stock", err)
	}
	return nil
}

func (r *txRepo) LockByName(ctx context.Context, name string) (Material, float64, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+materialColumns+`, s.quantity_grams
		FROM materials m
		JOIN stock s ON s.material_id = m.id
		WHERE m.name = $1
		FOR UPDATE OF m, s`, name)
	var m Material
	var qty float64
	if err := row.Scan(&m.ID, &m.Name, &m.Density, &m.FlowFactor, &m.TargetGPM, &m.CreatedAt, &qty); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, 0, ErrNotFound
		}
		return Material{}, 0, shared.StorageFailure("lock material", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, qty, nil
}

func (r *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return shared.StorageFailure("delete material", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	var createdAt time.Time
	if err := row.Scan(&m.ID, &m.Name, &m.Density, &m.FlowFactor, &m.TargetGPM, &createdAt); err != nil {
		return Material{}, err
	}
	m.CreatedAt = createdAt.UTC()
	return m, nil
}
