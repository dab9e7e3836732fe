// Package memory is an in-process repository.Store with the same transactional
// contract as the postgres store: exclusive row locks held until the end of the
// transaction and all-or-nothing commits. It backs tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/internal/repository"
	"paycore/pkg/errors"
)

type alertKey struct {
	movementID uuid.UUID
	ruleID     uuid.UUID
}

type Store struct {
	mu            sync.RWMutex
	accounts      map[uuid.UUID]*domain.Account
	movements     map[uuid.UUID]*domain.Movement
	movementOrder []uuid.UUID
	idempotency   map[string]uuid.UUID
	holds         map[uuid.UUID]*domain.EscrowHold
	holdsByHash   map[string]uuid.UUID
	disputes      map[uuid.UUID]*domain.Dispute
	rules         map[uuid.UUID]*domain.FraudRule
	alerts        map[uuid.UUID]*domain.FraudAlert
	alertKeys     map[alertKey]uuid.UUID

	locksMu  sync.Mutex
	rowLocks map[string]chan struct{}
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		accounts:    make(map[uuid.UUID]*domain.Account),
		movements:   make(map[uuid.UUID]*domain.Movement),
		idempotency: make(map[string]uuid.UUID),
		holds:       make(map[uuid.UUID]*domain.EscrowHold),
		holdsByHash: make(map[string]uuid.UUID),
		disputes:    make(map[uuid.UUID]*domain.Dispute),
		rules:       make(map[uuid.UUID]*domain.FraudRule),
		alerts:      make(map[uuid.UUID]*domain.FraudAlert),
		alertKeys:   make(map[alertKey]uuid.UUID),
		rowLocks:    make(map[string]chan struct{}),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Infrastructure(err, "failed to begin transaction")
	}
	t := newTx(s)
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) rowLock(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.rowLocks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.rowLocks[key] = l
	}
	return l
}

func (s *Store) acquire(ctx context.Context, key string) error {
	select {
	case s.rowLock(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Infrastructure(ctx.Err(), "lock wait cancelled")
	}
}

func (s *Store) releaseKey(key string) {
	<-s.rowLock(key)
}

var errOpeningBalance = errors.Wrap(errors.ErrInvalidRequest, "accounts open with a zero balance")

func accountKey(id uuid.UUID) string  { return "account:" + id.String() }
func movementKey(id uuid.UUID) string { return "movement:" + id.String() }
func holdKey(id uuid.UUID) string     { return "hold:" + id.String() }
func disputeKey(id uuid.UUID) string  { return "dispute:" + id.String() }

// ==============================================================================
// Accounts
// ==============================================================================

func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	if !account.Balance.IsZero() {
		return errOpeningBalance
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return errors.ErrAccountAlreadyExists
	}
	for _, a := range s.accounts {
		if domain.EmailMatches(a.Email, account.Email) {
			return errors.ErrAccountAlreadyExists
		}
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	s.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if domain.EmailMatches(a.Email, email) {
			return cloneAccount(a), nil
		}
	}
	return nil, errors.ErrAccountNotFound
}

// updateAccount applies fn to the stored account while holding its row lock,
// the same way an UPDATE would wait on a FOR UPDATE lock.
func (s *Store) updateAccount(ctx context.Context, id uuid.UUID, fn func(a *domain.Account)) error {
	key := accountKey(id)
	if err := s.acquire(ctx, key); err != nil {
		return err
	}
	defer s.releaseKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return errors.ErrAccountNotFound
	}
	fn(a)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	return s.updateAccount(ctx, id, func(a *domain.Account) { a.Status = status })
}

func (s *Store) UpdateAccountKYC(ctx context.Context, id uuid.UUID, state domain.KYCState) error {
	return s.updateAccount(ctx, id, func(a *domain.Account) { a.KYCState = state })
}

func (s *Store) SetAccountFlagged(ctx context.Context, id uuid.UUID, flagged bool) error {
	return s.updateAccount(ctx, id, func(a *domain.Account) { a.Flagged = flagged })
}

// ==============================================================================
// Movements
// ==============================================================================

func (s *Store) GetMovement(ctx context.Context, id uuid.UUID) (*domain.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.movements[id]
	if !ok {
		return nil, errors.ErrMovementNotFound
	}
	return cloneMovement(m), nil
}

func (s *Store) FindMovementByIdempotencyKey(ctx context.Context, key string) (*domain.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idempotency[key]
	if !ok {
		return nil, errors.ErrMovementNotFound
	}
	return cloneMovement(s.movements[id]), nil
}

func (s *Store) ListAccountMovements(ctx context.Context, accountID uuid.UUID, since time.Time) ([]*domain.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Movement
	for _, id := range s.movementOrder {
		m := s.movements[id]
		if m.Involves(accountID) && !m.CreatedAt.Before(since) {
			out = append(out, cloneMovement(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RecordFailedMovement(ctx context.Context, movement *domain.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.movements[movement.ID]; exists {
		return errors.ErrDuplicateMovement
	}
	s.putMovement(cloneMovement(movement))
	return nil
}

func (s *Store) FlagMovement(ctx context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movements[id]
	if !ok {
		return errors.ErrMovementNotFound
	}
	m.Flagged = true
	m.FlagReason = reason
	return nil
}

// putMovement must be called with mu held.
func (s *Store) putMovement(m *domain.Movement) {
	s.movements[m.ID] = m
	s.movementOrder = append(s.movementOrder, m.ID)
	if m.IdempotencyKey != nil {
		s.idempotency[*m.IdempotencyKey] = m.ID
	}
}

// ==============================================================================
// Escrow and disputes
// ==============================================================================

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (*domain.EscrowHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holds[id]
	if !ok {
		return nil, errors.ErrHoldNotFound
	}
	return cloneHold(h), nil
}

func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*domain.EscrowHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.EscrowHold
	for _, h := range s.holds {
		if h.Status == domain.HoldStatusPending && !h.ExpiresAt.After(now) {
			out = append(out, cloneHold(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, errors.ErrDisputeNotFound
	}
	return cloneDispute(d), nil
}

func (s *Store) CountActiveDisputes(ctx context.Context, accountID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, d := range s.disputes {
		if !d.Status.Active() {
			continue
		}
		if d.FilingAccountID == accountID {
			count++
			continue
		}
		if m, ok := s.movements[d.MovementID]; ok && m.Involves(accountID) {
			count++
		}
	}
	return count, nil
}

// ==============================================================================
// Fraud rules and alerts
// ==============================================================================

func (s *Store) CreateRule(ctx context.Context, rule *domain.FraudRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	c := *rule
	s.rules[rule.ID] = &c
	return nil
}

func (s *Store) UpdateRule(ctx context.Context, rule *domain.FraudRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[rule.ID]
	if !ok {
		return errors.ErrRuleNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	c := *rule
	s.rules[rule.ID] = &c
	return nil
}

func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*domain.FraudRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, errors.ErrRuleNotFound
	}
	c := *r
	return &c, nil
}

func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]*domain.FraudRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.FraudRule
	for _, r := range s.rules {
		if activeOnly && !r.IsActive {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteRule(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return errors.ErrRuleNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) InsertAlert(ctx context.Context, alert *domain.FraudAlert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := alertKey{movementID: alert.MovementID, ruleID: alert.RuleID}
	if id, exists := s.alertKeys[key]; exists {
		*alert = *s.alerts[id]
		return false, nil
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	c := *alert
	s.alerts[alert.ID] = &c
	s.alertKeys[key] = alert.ID
	return true, nil
}

func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*domain.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, errors.ErrAlertNotFound
	}
	c := *a
	return &c, nil
}

func (s *Store) UpdateAlert(ctx context.Context, alert *domain.FraudAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return errors.ErrAlertNotFound
	}
	c := *alert
	s.alerts[alert.ID] = &c
	return nil
}

func (s *Store) ListAlertsByMovement(ctx context.Context, movementID uuid.UUID) ([]*domain.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.FraudAlert
	for _, a := range s.alerts {
		if a.MovementID == movementID {
			c := *a
			out = append(out, &c)
		}
	}
	sortAlerts(out)
	return out, nil
}

func (s *Store) ListAlerts(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.FraudAlert
	for _, a := range s.alerts {
		if status == "" || a.Status == status {
			c := *a
			out = append(out, &c)
		}
	}
	sortAlerts(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortAlerts(alerts []*domain.FraudAlert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return strings.Compare(alerts[i].ID.String(), alerts[j].ID.String()) < 0
		}
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
}

// ==============================================================================
// Copies
// ==============================================================================

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func cloneMovement(m *domain.Movement) *domain.Movement {
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(domain.Metadata, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneHold(h *domain.EscrowHold) *domain.EscrowHold {
	c := *h
	c.ClaimCode = ""
	return &c
}

func cloneDispute(d *domain.Dispute) *domain.Dispute {
	c := *d
	return &c
}
