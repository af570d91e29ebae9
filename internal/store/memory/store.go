// Package memory is an in-process storage backend for the registry and ledger.
// Writes made inside a transaction are staged and applied together at commit;
// a failed transaction leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
	"github.com/EgorKonstrukt/AutoPlasma/internal/materials"
	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
)

// FaultFunc is consulted before each storage step; a non-nil error aborts the
// step as a storage failure. Used to exercise rollback.
type FaultFunc func(op string) error

// Store holds committed state.
type Store struct {
	mu        sync.RWMutex
	byName    map[string]uuid.UUID
	materials map[uuid.UUID]materials.Material
	stock     map[uuid.UUID]stockRow
	events    []ledger.Event

	locks   *keyedMutex
	eventID atomic.Int64
	fault   atomic.Pointer[FaultFunc]
}

type stockRow struct {
	qty       float64
	updatedAt time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byName:    make(map[string]uuid.UUID),
		materials: make(map[uuid.UUID]materials.Material),
		stock:     make(map[uuid.UUID]stockRow),
		locks:     newKeyedMutex(),
	}
}

// SetFault installs fn; nil clears it.
func (s *Store) SetFault(fn FaultFunc) {
	if fn == nil {
		s.fault.Store(nil)
		return
	}
	s.fault.Store(&fn)
}

func (s *Store) check(op string) error {
	fn := s.fault.Load()
	if fn == nil {
		return nil
	}
	return shared.StorageFailure(op, (*fn)(op))
}

// Materials returns the registry repository view.
func (s *Store) Materials() *MaterialsRepo {
	return &MaterialsRepo{s: s}
}

// Ledger returns the ledger repository view.
func (s *Store) Ledger() *LedgerRepo {
	return &LedgerRepo{s: s}
}

type insertOp struct {
	m    materials.Material
	seed float64
}

// txn stages writes and holds per-material locks until it ends.
type txn struct {
	s       *Store
	held    map[string]struct{}
	inserts []insertOp
	deletes map[uuid.UUID]struct{}
	stock   map[uuid.UUID]stockRow
	events  []ledger.Event
}

func (s *Store) begin() *txn {
	return &txn{
		s:       s,
		held:    make(map[string]struct{}),
		deletes: make(map[uuid.UUID]struct{}),
		stock:   make(map[uuid.UUID]stockRow),
	}
}

func (t *txn) lock(ctx context.Context, name string) error {
	if _, ok := t.held[name]; ok {
		return nil
	}
	if err := t.s.locks.Lock(ctx, name); err != nil {
		return shared.StorageFailure("lock "+name, err)
	}
	t.held[name] = struct{}{}
	return nil
}

func (t *txn) release() {
	for name := range t.held {
		t.s.locks.Unlock(name)
	}
	t.held = nil
}

// lookup resolves name against committed state and this transaction's staged writes.
func (t *txn) lookup(name string) (materials.Material, bool) {
	for _, op := range t.inserts {
		if op.m.Name == name {
			return op.m, true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.byName[name]
	if !ok {
		return materials.Material{}, false
	}
	if _, gone := t.deletes[id]; gone {
		return materials.Material{}, false
	}
	return t.s.materials[id], true
}

func (t *txn) stockOf(id uuid.UUID) (stockRow, bool) {
	if row, ok := t.stock[id]; ok {
		return row, true
	}
	for _, op := range t.inserts {
		if op.m.ID == id {
			return stockRow{qty: op.seed, updatedAt: op.m.CreatedAt}, true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	row, ok := t.s.stock[id]
	return row, ok
}

func (t *txn) commit() error {
	if err := t.s.check("commit"); err != nil {
		return err
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range t.inserts {
		if _, exists := s.byName[op.m.Name]; exists {
			return materials.ErrDuplicateName
		}
	}
	for _, op := range t.inserts {
		s.byName[op.m.Name] = op.m.ID
		s.materials[op.m.ID] = op.m
		s.stock[op.m.ID] = stockRow{qty: op.seed, updatedAt: op.m.CreatedAt}
	}
	for id, row := range t.stock {
		if _, ok := s.stock[id]; ok {
			s.stock[id] = row
		}
	}
	for id := range t.deletes {
		if m, ok := s.materials[id]; ok {
			delete(s.byName, m.Name)
		}
		delete(s.materials, id)
		delete(s.stock, id)
	}
	s.events = append(s.events, t.events...)
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*txn) error) error {
	if err := ctx.Err(); err != nil {
		return shared.StorageFailure("begin", err)
	}
	t := s.begin()
	defer t.release()
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

// MaterialsRepo adapts Store to materials.RepositoryPort.
type MaterialsRepo struct {
	s *Store
}

var _ materials.RepositoryPort = (*MaterialsRepo)(nil)

// WithTx runs fn in a staged transaction.
func (r *MaterialsRepo) WithTx(ctx context.Context, fn func(context.Context, materials.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *txn) error {
		return fn(ctx, &materialsTx{t: t})
	})
}

// List returns all materials ordered by name.
func (r *MaterialsRepo) List(_ context.Context) ([]materials.Material, error) {
	if err := r.s.check("list materials"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]materials.Material, 0, len(r.s.materials))
	for _, m := range r.s.materials {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetByName loads a single material.
func (r *MaterialsRepo) GetByName(_ context.Context, name string) (materials.Material, error) {
	if err := r.s.check("get material"); err != nil {
		return materials.Material{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byName[name]
	if !ok {
		return materials.Material{}, materials.ErrNotFound
	}
	return r.s.materials[id], nil
}

type materialsTx struct {
	t *txn
}

func (x *materialsTx) Insert(ctx context.Context, m materials.Material, seedGrams float64) error {
	if err := x.t.lock(ctx, m.Name); err != nil {
		return err
	}
	if err := x.t.s.check("insert material"); err != nil {
		return err
	}
	if _, exists := x.t.lookup(m.Name); exists {
		return materials.ErrDuplicateName
	}
	x.t.inserts = append(x.t.inserts, insertOp{m: m, seed: seedGrams})
	return nil
}

func (x *materialsTx) LockByName(ctx context.Context, name string) (materials.Material, float64, error) {
	if err := x.t.lock(ctx, name); err != nil {
		return materials.Material{}, 0, err
	}
	if err := x.t.s.check("lock material"); err != nil {
		return materials.Material{}, 0, err
	}
	m, ok := x.t.lookup(name)
	if !ok {
		return materials.Material{}, 0, materials.ErrNotFound
	}
	row, _ := x.t.stockOf(m.ID)
	return m, row.qty, nil
}

func (x *materialsTx) Delete(_ context.Context, id uuid.UUID) error {
	if err := x.t.s.check("delete material"); err != nil {
		return err
	}
	x.t.s.mu.RLock()
	_, ok := x.t.s.materials[id]
	x.t.s.mu.RUnlock()
	if !ok {
		return materials.ErrNotFound
	}
	x.t.deletes[id] = struct{}{}
	return nil
}

// LedgerRepo adapts Store to ledger.RepositoryPort.
type LedgerRepo struct {
	s *Store
}

var _ ledger.RepositoryPort = (*LedgerRepo)(nil)

// WithTx runs fn in a staged transaction.
func (r *LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *txn) error {
		return fn(ctx, &ledgerTx{t: t})
	})
}

// ListStock returns every stock entry ordered by material name.
func (r *LedgerRepo) ListStock(_ context.Context) ([]ledger.StockEntry, error) {
	if err := r.s.check("list stock"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.stockLocked(), nil
}

// ReadSnapshot returns stock and the full log under one read lock. Commits
// apply under the write lock, so no posting is seen half applied.
func (r *LedgerRepo) ReadSnapshot(_ context.Context) ([]ledger.StockEntry, []ledger.Event, error) {
	if err := r.s.check("ledger snapshot"); err != nil {
		return nil, nil, err
	}
	r.s.mu.RLock()
	stock := r.s.stockLocked()
	events := make([]ledger.Event, len(r.s.events))
	copy(events, r.s.events)
	r.s.mu.RUnlock()
	sortByID(events)
	return stock, events, nil
}

func (s *Store) stockLocked() []ledger.StockEntry {
	out := make([]ledger.StockEntry, 0, len(s.stock))
	for id, row := range s.stock {
		out = append(out, ledger.StockEntry{
			MaterialID:    id,
			MaterialName:  s.materials[id].Name,
			QuantityGrams: row.qty,
			UpdatedAt:     row.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialName < out[j].MaterialName })
	return out
}

// GetStock loads the stock entry of one material.
func (r *LedgerRepo) GetStock(_ context.Context, name string) (ledger.StockEntry, error) {
	if err := r.s.check("get stock"); err != nil {
		return ledger.StockEntry{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byName[name]
	if !ok {
		return ledger.StockEntry{}, ledger.ErrMaterialNotFound
	}
	row, ok := r.s.stock[id]
	if !ok {
		return ledger.StockEntry{}, ledger.ErrMaterialNotFound
	}
	return ledger.StockEntry{MaterialID: id, MaterialName: name, QuantityGrams: row.qty, UpdatedAt: row.updatedAt}, nil
}

// RecentEvents returns up to limit entries, newest first.
func (r *LedgerRepo) RecentEvents(_ context.Context, limit int) ([]ledger.Event, error) {
	if err := r.s.check("recent events"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]ledger.Event, len(r.s.events))
	copy(out, r.s.events)
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EventsForMaterial returns every entry of one material, oldest first.
func (r *LedgerRepo) EventsForMaterial(_ context.Context, materialID uuid.UUID) ([]ledger.Event, error) {
	if err := r.s.check("material events"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []ledger.Event
	for _, e := range r.s.events {
		if e.MaterialID == materialID {
			out = append(out, e)
		}
	}
	sortByID(out)
	return out, nil
}

// AllEvents returns the full log, oldest first.
func (r *LedgerRepo) AllEvents(_ context.Context) ([]ledger.Event, error) {
	if err := r.s.check("all events"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]ledger.Event, len(r.s.events))
	copy(out, r.s.events)
	r.s.mu.RUnlock()
	sortByID(out)
	return out, nil
}

func sortByID(events []ledger.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
}

type ledgerTx struct {
	t *txn
}

func (x *ledgerTx) GetStockForUpdate(ctx context.Context, name string) (ledger.StockEntry, error) {
	if err := x.t.lock(ctx, name); err != nil {
		return ledger.StockEntry{}, err
	}
	if err := x.t.s.check("lock stock"); err != nil {
		return ledger.StockEntry{}, err
	}
	m, ok := x.t.lookup(name)
	if !ok {
		return ledger.StockEntry{}, ledger.ErrMaterialNotFound
	}
	row, ok := x.t.stockOf(m.ID)
	if !ok {
		return ledger.StockEntry{}, ledger.ErrMaterialNotFound
	}
	return ledger.StockEntry{MaterialID: m.ID, MaterialName: m.Name, QuantityGrams: row.qty, UpdatedAt: row.updatedAt}, nil
}

func (x *ledgerTx) UpdateStock(_ context.Context, materialID uuid.UUID, qty float64, at time.Time) error {
	if err := x.t.s.check("update stock"); err != nil {
		return err
	}
	if _, ok := x.t.stockOf(materialID); !ok {
		return ledger.ErrMaterialNotFound
	}
	x.t.stock[materialID] = stockRow{qty: qty, updatedAt: at}
	return nil
}

func (x *ledgerTx) AppendEvent(_ context.Context, evt ledger.Event) (int64, error) {
	if err := x.t.s.check("append event"); err != nil {
		return 0, err
	}
	evt.ID = x.t.s.eventID.Add(1)
	x.t.events = append(x.t.events, evt)
	return evt.ID, nil
}
