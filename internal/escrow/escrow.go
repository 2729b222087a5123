// Package escrow tracks escrow agreements between a buyer and a seller.
//
// Status transitions are monotonic:
//
//	created → funded → (released | disputed) → resolved
//	           funded → refunded (only after the deadline)
//
// No transition ever moves backward. Dispute resolution takes an external
// outcome and applies exactly one of release/refund semantics, never both.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumenlock/lumenlock/internal/events"
	"github.com/lumenlock/lumenlock/internal/idgen"
	"github.com/lumenlock/lumenlock/internal/strkey"
)

var (
	ErrNotFound          = errors.New("escrow: agreement not found")
	ErrInvalidTransition = errors.New("escrow: invalid status transition")
	ErrDeadlineNotPassed = errors.New("escrow: refund requires an expired deadline")
	ErrInvalidAmount     = errors.New("escrow: invalid amount")
	ErrAlreadyResolved   = errors.New("escrow: agreement already resolved")
)

// Status is the state of an escrow agreement.
type Status string

const (
	StatusCreated  Status = "created"
	StatusFunded   Status = "funded"
	StatusReleased Status = "released"
	StatusDisputed Status = "disputed"
	StatusRefunded Status = "refunded"
	StatusResolved Status = "resolved"
)

// rank orders statuses so that monotonicity can be checked: transitions
// may only increase rank.
var rank = map[Status]int{
	StatusCreated:  0,
	StatusFunded:   1,
	StatusReleased: 2,
	StatusDisputed: 2,
	StatusRefunded: 2,
	StatusResolved: 3,
}

// Rank returns the monotonic ordering position of a status.
func Rank(s Status) int { return rank[s] }

// Outcome is the external input that settles a dispute.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
)

// Agreement is a ledger-recorded escrow contract.
type Agreement struct {
	ID         string          `json:"id"`
	Buyer      string          `json:"buyer"`
	Seller     string          `json:"seller"`
	Amount     decimal.Decimal `json:"amount"`
	Asset      string          `json:"asset"`
	Deadline   time.Time       `json:"deadline"`
	Status     Status          `json:"status"`
	Resolution Outcome         `json:"resolution,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Terminal reports whether no further transitions are possible.
func (a *Agreement) Terminal() bool {
	switch a.Status {
	case StatusReleased, StatusRefunded, StatusResolved:
		return true
	}
	return false
}

// Store persists agreements.
type Store interface {
	Create(ctx context.Context, a *Agreement) error
	Get(ctx context.Context, id string) (*Agreement, error)
	Update(ctx context.Context, a *Agreement) error
	ListByParty(ctx context.Context, publicKey string, limit int) ([]*Agreement, error)
	// ListRefundEligible returns funded agreements whose deadline passed
	// before the given instant.
	ListRefundEligible(ctx context.Context, before time.Time, limit int) ([]*Agreement, error)
}

// CreateParams are the inputs for a new agreement.
type CreateParams struct {
	Buyer    string
	Seller   string
	Amount   decimal.Decimal
	Asset    string
	Deadline time.Time
}

// Service implements agreement state machine logic.
type Service struct {
	store  Store
	bus    *events.Bus
	logger *slog.Logger
	locks  sync.Map // per-agreement ID locks against racing transitions
}

// NewService creates an escrow service.
func NewService(store Store, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger}
}

func (s *Service) lock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create records a new agreement in status created.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Agreement, error) {
	if !strkey.IsValid(p.Buyer) || !strkey.IsValid(p.Seller) {
		return nil, fmt.Errorf("escrow: buyer and seller must be valid account keys")
	}
	if strings.EqualFold(p.Buyer, p.Seller) {
		return nil, fmt.Errorf("escrow: buyer and seller cannot be the same account")
	}
	if p.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.Asset == "" {
		return nil, fmt.Errorf("escrow: asset is required")
	}

	now := time.Now()
	a := &Agreement{
		ID:        idgen.WithPrefix("esc_"),
		Buyer:     p.Buyer,
		Seller:    p.Seller,
		Amount:    p.Amount,
		Asset:     p.Asset,
		Deadline:  p.Deadline,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create agreement: %w", err)
	}

	s.publish(a)
	return a, nil
}

// Fund moves created → funded.
func (s *Service) Fund(ctx context.Context, id string) (*Agreement, error) {
	return s.transition(ctx, id, StatusFunded, func(a *Agreement) error {
		if a.Status != StatusCreated {
			return transitionErr(a.Status, StatusFunded)
		}
		return nil
	})
}

// Release moves funded → released.
func (s *Service) Release(ctx context.Context, id string) (*Agreement, error) {
	return s.transition(ctx, id, StatusReleased, func(a *Agreement) error {
		if a.Status != StatusFunded {
			return transitionErr(a.Status, StatusReleased)
		}
		return nil
	})
}

// Dispute moves funded → disputed.
func (s *Service) Dispute(ctx context.Context, id string) (*Agreement, error) {
	return s.transition(ctx, id, StatusDisputed, func(a *Agreement) error {
		if a.Status != StatusFunded {
			return transitionErr(a.Status, StatusDisputed)
		}
		return nil
	})
}

// Refund moves funded → refunded, valid only once the deadline passed.
func (s *Service) Refund(ctx context.Context, id string) (*Agreement, error) {
	return s.transition(ctx, id, StatusRefunded, func(a *Agreement) error {
		if a.Status != StatusFunded {
			return transitionErr(a.Status, StatusRefunded)
		}
		if time.Now().Before(a.Deadline) {
			return ErrDeadlineNotPassed
		}
		return nil
	})
}

// Resolve settles a dispute with an external outcome, applying exactly
// one of release/refund semantics.
func (s *Service) Resolve(ctx context.Context, id string, outcome Outcome) (*Agreement, error) {
	if outcome != OutcomeRelease && outcome != OutcomeRefund {
		return nil, fmt.Errorf("escrow: unknown resolution outcome %q", outcome)
	}
	return s.transition(ctx, id, StatusResolved, func(a *Agreement) error {
		if a.Status != StatusDisputed {
			return transitionErr(a.Status, StatusResolved)
		}
		a.Resolution = outcome
		return nil
	})
}

// transition loads the agreement under its lock, validates with check,
// and commits the new status.
func (s *Service) transition(ctx context.Context, id string, to Status, check func(*Agreement) error) (*Agreement, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Terminal() {
		return nil, ErrAlreadyResolved
	}
	if err := check(a); err != nil {
		return nil, err
	}
	if rank[to] <= rank[a.Status] {
		// Monotonicity backstop; check should already have caught this.
		return nil, transitionErr(a.Status, to)
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	s.logger.Info("escrow transition", "id", a.ID, "status", a.Status)
	s.publish(a)
	return a, nil
}

// Get returns an agreement by ID.
func (s *Service) Get(ctx context.Context, id string) (*Agreement, error) {
	return s.store.Get(ctx, id)
}

// ListByParty returns agreements where the key is buyer or seller.
func (s *Service) ListByParty(ctx context.Context, publicKey string, limit int) ([]*Agreement, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByParty(ctx, publicKey, limit)
}

func (s *Service) publish(a *Agreement) {
	s.bus.Publish(events.Event{
		Type: events.EscrowType(string(a.Status)),
		Data: map[string]string{"id": a.ID, "status": string(a.Status)},
	})
}

func transitionErr(from, to Status) error {
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}
