package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
	"paycore/pkg/errors"
)

// tx stages writes against locked working copies and applies them at commit.
type tx struct {
	s    *Store
	held []string
	has  map[string]bool

	accounts    map[uuid.UUID]*domain.Account
	movements   []*domain.Movement
	holds       map[uuid.UUID]*domain.EscrowHold
	newHolds    map[uuid.UUID]bool
	disputes    map[uuid.UUID]*domain.Dispute
	newDisputes map[uuid.UUID]bool
}

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		has:         make(map[string]bool),
		accounts:    make(map[uuid.UUID]*domain.Account),
		holds:       make(map[uuid.UUID]*domain.EscrowHold),
		newHolds:    make(map[uuid.UUID]bool),
		disputes:    make(map[uuid.UUID]*domain.Dispute),
		newDisputes: make(map[uuid.UUID]bool),
	}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if t.has[key] {
		return nil
	}
	if err := t.s.acquire(ctx, key); err != nil {
		return err
	}
	t.has[key] = true
	t.held = append(t.held, key)
	return nil
}

func (t *tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.releaseKey(t.held[i])
	}
	t.held = nil
	t.has = map[string]bool{}
}

func (t *tx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].String() < unique[j].String() })

	out := make(map[uuid.UUID]*domain.Account, len(unique))
	for _, id := range unique {
		if err := t.lock(ctx, accountKey(id)); err != nil {
			return nil, err
		}
		working, ok := t.accounts[id]
		if !ok {
			t.s.mu.RLock()
			base, exists := t.s.accounts[id]
			if exists {
				working = cloneAccount(base)
			}
			t.s.mu.RUnlock()
			if !exists {
				return nil, errors.ErrAccountNotFound
			}
			t.accounts[id] = working
		}
		out[id] = cloneAccount(working)
	}
	return out, nil
}

func (t *tx) lockedAccount(id uuid.UUID) (*domain.Account, error) {
	a, ok := t.accounts[id]
	if !ok {
		return nil, errors.Infrastructure(fmt.Errorf("account %s not locked", id), "failed to update balance")
	}
	return a, nil
}

func (t *tx) DebitAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	a, err := t.lockedAccount(id)
	if err != nil {
		return err
	}
	if a.Balance.LessThan(amount) {
		return errors.ErrInsufficientBalance
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

func (t *tx) CreditAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	a, err := t.lockedAccount(id)
	if err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

func (t *tx) InsertMovement(ctx context.Context, m *domain.Movement) error {
	if m.IdempotencyKey != nil {
		for _, staged := range t.movements {
			if staged.IdempotencyKey != nil && *staged.IdempotencyKey == *m.IdempotencyKey {
				return errors.ErrDuplicateMovement
			}
		}
		t.s.mu.RLock()
		_, exists := t.s.idempotency[*m.IdempotencyKey]
		t.s.mu.RUnlock()
		if exists {
			return errors.ErrDuplicateMovement
		}
	}
	t.movements = append(t.movements, cloneMovement(m))
	return nil
}

func (t *tx) findMovement(id uuid.UUID) (*domain.Movement, bool) {
	for _, staged := range t.movements {
		if staged.ID == id {
			return cloneMovement(staged), true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	m, ok := t.s.movements[id]
	if !ok {
		return nil, false
	}
	return cloneMovement(m), true
}

func (t *tx) LockMovement(ctx context.Context, id uuid.UUID) (*domain.Movement, error) {
	if err := t.lock(ctx, movementKey(id)); err != nil {
		return nil, err
	}
	m, ok := t.findMovement(id)
	if !ok {
		return nil, errors.ErrMovementNotFound
	}
	return m, nil
}

func (t *tx) SumReversals(ctx context.Context, movementID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	add := func(m *domain.Movement) {
		if m.Kind == domain.MovementKindReversal &&
			m.Status == domain.MovementStatusCompleted &&
			m.ReversalOfMovementID != nil && *m.ReversalOfMovementID == movementID {
			total = total.Add(m.Amount)
		}
	}
	for _, staged := range t.movements {
		add(staged)
	}
	t.s.mu.RLock()
	for _, m := range t.s.movements {
		add(m)
	}
	t.s.mu.RUnlock()
	return total, nil
}

func (t *tx) InsertHold(ctx context.Context, h *domain.EscrowHold) error {
	if err := t.lock(ctx, holdKey(h.ID)); err != nil {
		return err
	}
	t.s.mu.RLock()
	_, idTaken := t.s.holds[h.ID]
	_, hashTaken := t.s.holdsByHash[h.ClaimCodeHash]
	t.s.mu.RUnlock()
	if idTaken || hashTaken {
		return errors.Infrastructure(fmt.Errorf("escrow hold %s conflicts with an existing hold", h.ID), "failed to create escrow hold")
	}
	t.holds[h.ID] = cloneHold(h)
	t.newHolds[h.ID] = true
	return nil
}

func (t *tx) readHold(id uuid.UUID) (*domain.EscrowHold, bool) {
	if h, ok := t.holds[id]; ok {
		return cloneHold(h), true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	h, ok := t.s.holds[id]
	if !ok {
		return nil, false
	}
	return cloneHold(h), true
}

func (t *tx) LockHold(ctx context.Context, id uuid.UUID) (*domain.EscrowHold, error) {
	if err := t.lock(ctx, holdKey(id)); err != nil {
		return nil, err
	}
	h, ok := t.readHold(id)
	if !ok {
		return nil, errors.ErrHoldNotFound
	}
	t.holds[id] = cloneHold(h)
	return h, nil
}

func (t *tx) LockHoldByClaimCodeHash(ctx context.Context, hash string) (*domain.EscrowHold, error) {
	var id uuid.UUID
	found := false
	for hid, h := range t.holds {
		if h.ClaimCodeHash == hash {
			id, found = hid, true
			break
		}
	}
	if !found {
		t.s.mu.RLock()
		id, found = t.s.holdsByHash[hash]
		t.s.mu.RUnlock()
	}
	if !found {
		return nil, errors.ErrHoldNotFound
	}
	return t.LockHold(ctx, id)
}

func (t *tx) UpdateHold(ctx context.Context, h *domain.EscrowHold) error {
	if !t.has[holdKey(h.ID)] {
		return errors.Infrastructure(fmt.Errorf("escrow hold %s not locked", h.ID), "failed to update escrow hold")
	}
	h.UpdatedAt = time.Now().UTC()
	t.holds[h.ID] = cloneHold(h)
	return nil
}

func (t *tx) activeDisputeFor(accountID, movementID uuid.UUID) *domain.Dispute {
	for _, d := range t.disputes {
		if d.FilingAccountID == accountID && d.MovementID == movementID && d.Status.Active() {
			return cloneDispute(d)
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, d := range t.s.disputes {
		if _, shadowed := t.disputes[id]; shadowed {
			continue
		}
		if d.FilingAccountID == accountID && d.MovementID == movementID && d.Status.Active() {
			return cloneDispute(d)
		}
	}
	return nil
}

func (t *tx) InsertDispute(ctx context.Context, d *domain.Dispute) error {
	if err := t.lock(ctx, disputeKey(d.ID)); err != nil {
		return err
	}
	if d.Status.Active() && t.activeDisputeFor(d.FilingAccountID, d.MovementID) != nil {
		return errors.ErrDisputeAlreadyOpen
	}
	t.disputes[d.ID] = cloneDispute(d)
	t.newDisputes[d.ID] = true
	return nil
}

func (t *tx) LockDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	if err := t.lock(ctx, disputeKey(id)); err != nil {
		return nil, err
	}
	if d, ok := t.disputes[id]; ok {
		return cloneDispute(d), nil
	}
	t.s.mu.RLock()
	d, ok := t.s.disputes[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, errors.ErrDisputeNotFound
	}
	t.disputes[id] = cloneDispute(d)
	return cloneDispute(d), nil
}

func (t *tx) UpdateDispute(ctx context.Context, d *domain.Dispute) error {
	if !t.has[disputeKey(d.ID)] {
		return errors.Infrastructure(fmt.Errorf("dispute %s not locked", d.ID), "failed to update dispute")
	}
	d.UpdatedAt = time.Now().UTC()
	t.disputes[d.ID] = cloneDispute(d)
	return nil
}

func (t *tx) FindActiveDispute(ctx context.Context, accountID, movementID uuid.UUID) (*domain.Dispute, error) {
	return t.activeDisputeFor(accountID, movementID), nil
}

// commit re-checks unique constraints under the store write lock and applies
// every staged write, or none.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range t.movements {
		if _, exists := s.movements[m.ID]; exists {
			return errors.ErrDuplicateMovement
		}
		if m.IdempotencyKey != nil {
			if _, exists := s.idempotency[*m.IdempotencyKey]; exists {
				return errors.ErrDuplicateMovement
			}
		}
	}
	for id := range t.newHolds {
		if _, exists := s.holdsByHash[t.holds[id].ClaimCodeHash]; exists {
			return errors.Infrastructure(fmt.Errorf("claim code collision on hold %s", id), "failed to create escrow hold")
		}
	}
	for id := range t.newDisputes {
		d := t.disputes[id]
		if !d.Status.Active() {
			continue
		}
		for _, existing := range s.disputes {
			if existing.FilingAccountID == d.FilingAccountID && existing.MovementID == d.MovementID && existing.Status.Active() {
				return errors.ErrDisputeAlreadyOpen
			}
		}
	}

	now := time.Now().UTC()
	for id, working := range t.accounts {
		base := s.accounts[id]
		if !base.Balance.Equal(working.Balance) {
			base.Balance = working.Balance
			base.UpdatedAt = now
		}
	}
	for _, m := range t.movements {
		s.putMovement(m)
	}
	for id, h := range t.holds {
		s.holds[id] = h
		if t.newHolds[id] {
			s.holdsByHash[h.ClaimCodeHash] = id
		}
	}
	for id, d := range t.disputes {
		s.disputes[id] = d
	}
	return nil
}
