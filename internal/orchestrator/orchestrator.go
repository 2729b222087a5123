// Package orchestrator drives transaction intents through the
// build → sign → submit → confirm pipeline.
//
// An intent is the durable record of one requested ledger action. The
// pipeline is restartable: resubmitting an intent that already confirmed
// returns the recorded result without touching the network again.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumenlock/lumenlock/internal/escrow"
	"github.com/lumenlock/lumenlock/internal/events"
	"github.com/lumenlock/lumenlock/internal/idgen"
	"github.com/lumenlock/lumenlock/internal/ledger"
	"github.com/lumenlock/lumenlock/internal/metrics"
	"github.com/lumenlock/lumenlock/internal/retry"
	"github.com/lumenlock/lumenlock/internal/wallet"
)

var (
	ErrIntentNotFound = errors.New("orchestrator: intent not found")
	ErrUnknownKind    = errors.New("orchestrator: unknown intent kind")

	// errStillPending marks a confirmation poll that has to keep waiting.
	errStillPending = errors.New("orchestrator: transaction still pending")
)

// Kind is the ledger action an intent requests.
type Kind string

const (
	KindInitEscrow Kind = "init_escrow"
	KindFundEscrow Kind = "fund_escrow"
	KindRelease    Kind = "release"
	KindDispute    Kind = "dispute"
	KindRefund     Kind = "refund"
	KindResolve    Kind = "resolve"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindInitEscrow, KindFundEscrow, KindRelease, KindDispute, KindRefund, KindResolve:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Status is the pipeline position of an intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Intent is a durable transaction request.
type Intent struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	EscrowID   string          `json:"escrow_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     Status          `json:"status"`
	Hash       string          `json:"hash,omitempty"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// InitEscrowParams is the payload for an init_escrow intent.
type InitEscrowParams struct {
	Buyer    string          `json:"buyer"`
	Seller   string          `json:"seller"`
	Amount   decimal.Decimal `json:"amount"`
	Asset    string          `json:"asset"`
	Deadline time.Time       `json:"deadline"`
}

// ResolveParams is the payload for a resolve intent.
type ResolveParams struct {
	Outcome escrow.Outcome `json:"outcome"`
}

// Store persists intents.
type Store interface {
	Create(ctx context.Context, it *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	Update(ctx context.Context, it *Intent) error
	List(ctx context.Context, limit int) ([]*Intent, error)
}

// Orchestrator runs the submission pipeline.
type Orchestrator struct {
	store   Store
	wallet  *wallet.Manager
	client  ledger.Client
	escrows *escrow.Service
	bus     *events.Bus
	logger  *slog.Logger
	policy  retry.Policy
	locks   sync.Map // per-intent ID locks against racing submissions
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy overrides the submission/confirmation backoff policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// New creates an orchestrator.
func New(store Store, w *wallet.Manager, client ledger.Client, escrows *escrow.Service, bus *events.Bus, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		wallet:  w,
		client:  client,
		escrows: escrows,
		bus:     bus,
		logger:  logger,
		policy:  retry.Submission,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateIntent records a new pending intent. For escrow-scoped kinds the
// escrowID names the agreement being acted on; init_escrow carries the
// agreement terms in the payload instead.
func (o *Orchestrator) CreateIntent(ctx context.Context, kind Kind, escrowID string, payload json.RawMessage) (*Intent, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if kind != KindInitEscrow && escrowID == "" {
		return nil, fmt.Errorf("orchestrator: %s intent requires an escrow id", kind)
	}
	if kind == KindInitEscrow {
		var p InitEscrowParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("orchestrator: decode init_escrow payload: %w", err)
		}
	}

	now := time.Now()
	it := &Intent{
		ID:        idgen.WithPrefix("txi_"),
		Kind:      kind,
		EscrowID:  escrowID,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.Create(ctx, it); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	return it, nil
}

// Get returns an intent by ID.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Intent, error) {
	return o.store.Get(ctx, id)
}

// List returns recent intents.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*Intent, error) {
	if limit <= 0 {
		limit = 50
	}
	return o.store.List(ctx, limit)
}

func (o *Orchestrator) lock(id string) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Submit runs the pipeline for an intent. A confirmed intent returns its
// recorded result without a new network submission. Pending and failed
// intents (re)enter the pipeline from the start. Submissions for one
// intent are serialized: a caller racing an in-flight pipeline waits and
// then reads the recorded outcome instead of submitting again.
func (o *Orchestrator) Submit(ctx context.Context, intentID string) (*Intent, error) {
	mu := o.lock(intentID)
	mu.Lock()
	defer mu.Unlock()

	it, err := o.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if it.Status == StatusConfirmed {
		return it, nil
	}

	session := o.wallet.Session()
	if session == nil {
		return nil, wallet.ErrNotConnected
	}

	result, err := o.runPipeline(ctx, it, session)
	if err != nil {
		return o.fail(ctx, it, err)
	}

	it.Hash = result.Hash
	it.Status = StatusConfirmed
	it.LastError = ""
	it.UpdatedAt = time.Now()
	if updErr := o.store.Update(ctx, it); updErr != nil {
		return nil, fmt.Errorf("record confirmation: %w", updErr)
	}

	if err := o.applyEscrow(ctx, it); err != nil {
		// The ledger accepted the transaction; a local bookkeeping failure
		// is logged but does not un-confirm the intent.
		o.logger.Error("escrow transition after confirmation failed",
			"intent", it.ID, "kind", it.Kind, "error", err)
	}

	metrics.Transactions.WithLabelValues(string(StatusConfirmed)).Inc()
	o.publish(it)
	o.logger.Info("transaction confirmed", "intent", it.ID, "hash", it.Hash)
	return it, nil
}

// runPipeline builds, signs, submits, and confirms one transaction. A
// sequence conflict triggers exactly one rebuild with a fresh sequence.
func (o *Orchestrator) runPipeline(ctx context.Context, it *Intent, session *wallet.Session) (*ledger.SubmitResult, error) {
	it.RetryCount++
	result, err := o.signAndSubmit(ctx, it, session)
	if errors.Is(err, ledger.ErrSequenceConflict) {
		o.logger.Warn("sequence advanced under submission, rebuilding", "intent", it.ID)
		it.RetryCount++
		result, err = o.signAndSubmit(ctx, it, session)
	}
	if err != nil {
		return nil, err
	}

	o.markSubmitted(ctx, it, result.Hash)

	if result.Status == ledger.TxConfirmed {
		return result, nil
	}
	status, err := o.awaitConfirmation(ctx, result.Hash)
	if err != nil {
		return nil, err
	}
	if status != ledger.TxConfirmed {
		return nil, fmt.Errorf("%w: transaction %s failed on ledger", ledger.ErrRejected, result.Hash)
	}
	return result, nil
}

// signAndSubmit builds an envelope at the account's next sequence, has the
// wallet sign it, and submits it. Wallet refusals are never retried.
// Ledger rejections go through the bounded backoff policy and surface only
// once attempts are exhausted; a sequence conflict surfaces immediately so
// the caller can rebuild at a fresh sequence.
func (o *Orchestrator) signAndSubmit(ctx context.Context, it *Intent, session *wallet.Session) (*ledger.SubmitResult, error) {
	seq, err := o.client.SequenceFor(ctx, session.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("fetch sequence: %w", err)
	}

	env := &ledger.Envelope{
		Source:   session.PublicKey,
		Sequence: seq + 1,
		Network:  session.Network,
		Operations: []ledger.Operation{
			{Type: string(it.Kind), Params: it.Payload},
		},
		Memo:      it.ID,
		CreatedAt: time.Now(),
	}

	signed, err := o.wallet.SignTransaction(ctx, env)
	if err != nil {
		return nil, err
	}

	var result *ledger.SubmitResult
	err = o.policy.Do(ctx, func() error {
		res, err := o.client.Submit(ctx, signed)
		if err != nil {
			if errors.Is(err, ledger.ErrSequenceConflict) {
				return retry.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// awaitConfirmation polls the transaction status with backoff. The poll is
// tied to the wallet session: a disconnect cancels it.
func (o *Orchestrator) awaitConfirmation(ctx context.Context, hash string) (ledger.TxStatus, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sessCtx := o.wallet.SessionContext()
	stop := context.AfterFunc(sessCtx, cancel)
	defer stop()

	var status ledger.TxStatus
	err := o.policy.Do(pollCtx, func() error {
		st, err := o.client.TransactionStatus(pollCtx, hash)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrNetworkUnavailable) {
				return err
			}
			return retry.Permanent(err)
		}
		if st == ledger.TxPending {
			return errStillPending
		}
		status = st
		return nil
	})
	if err != nil {
		if sessCtx.Err() != nil {
			return "", wallet.ErrNotConnected
		}
		if errors.Is(err, errStillPending) {
			return "", fmt.Errorf("%w: confirmation for %s", ledger.ErrTimeout, hash)
		}
		return "", err
	}
	return status, nil
}

// applyEscrow advances the agreement state machine once the ledger
// confirmed the intent's transaction.
func (o *Orchestrator) applyEscrow(ctx context.Context, it *Intent) error {
	switch it.Kind {
	case KindInitEscrow:
		var p InitEscrowParams
		if err := json.Unmarshal(it.Payload, &p); err != nil {
			return fmt.Errorf("decode init_escrow payload: %w", err)
		}
		a, err := o.escrows.Create(ctx, escrow.CreateParams{
			Buyer:    p.Buyer,
			Seller:   p.Seller,
			Amount:   p.Amount,
			Asset:    p.Asset,
			Deadline: p.Deadline,
		})
		if err != nil {
			return err
		}
		it.EscrowID = a.ID
		it.UpdatedAt = time.Now()
		if err := o.store.Update(ctx, it); err != nil {
			return fmt.Errorf("record escrow id: %w", err)
		}
		// The confirmed init transaction moved the buyer's deposit, so the
		// agreement lands funded, not merely created.
		a, err = o.escrows.Fund(ctx, a.ID)
		if err != nil {
			return err
		}
		metrics.Escrows.WithLabelValues(string(a.Status)).Inc()
		return nil
	case KindFundEscrow:
		return o.advance(ctx, it.EscrowID, o.escrows.Fund)
	case KindRelease:
		return o.advance(ctx, it.EscrowID, o.escrows.Release)
	case KindDispute:
		return o.advance(ctx, it.EscrowID, o.escrows.Dispute)
	case KindRefund:
		return o.advance(ctx, it.EscrowID, o.escrows.Refund)
	case KindResolve:
		var p ResolveParams
		if err := json.Unmarshal(it.Payload, &p); err != nil {
			return fmt.Errorf("decode resolve payload: %w", err)
		}
		a, err := o.escrows.Resolve(ctx, it.EscrowID, p.Outcome)
		if err != nil {
			return err
		}
		metrics.Escrows.WithLabelValues(string(a.Status)).Inc()
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, it.Kind)
	}
}

func (o *Orchestrator) advance(ctx context.Context, escrowID string, fn func(context.Context, string) (*escrow.Agreement, error)) error {
	a, err := fn(ctx, escrowID)
	if err != nil {
		return err
	}
	metrics.Escrows.WithLabelValues(string(a.Status)).Inc()
	return nil
}

// markSubmitted records the hash as soon as the network acknowledges the
// envelope, so a crash mid-poll leaves a resumable trail.
func (o *Orchestrator) markSubmitted(ctx context.Context, it *Intent, hash string) {
	it.Status = StatusSubmitted
	it.Hash = hash
	it.UpdatedAt = time.Now()
	if err := o.store.Update(ctx, it); err != nil {
		o.logger.Error("record submission", "intent", it.ID, "error", err)
	}
	o.publish(it)
}

// fail records a terminal pipeline error. Escrow state is never touched on
// a failed submission.
func (o *Orchestrator) fail(ctx context.Context, it *Intent, cause error) (*Intent, error) {
	it.Status = StatusFailed
	it.LastError = cause.Error()
	it.UpdatedAt = time.Now()
	if err := o.store.Update(ctx, it); err != nil {
		o.logger.Error("record failure", "intent", it.ID, "error", err)
	}

	metrics.Transactions.WithLabelValues(string(StatusFailed)).Inc()
	o.publish(it)
	o.logger.Warn("transaction failed", "intent", it.ID, "kind", it.Kind, "error", cause)
	return it, cause
}

func (o *Orchestrator) publish(it *Intent) {
	o.bus.Publish(events.Event{
		Type: events.TransactionType(string(it.Status)),
		Data: map[string]string{"intent": it.ID, "kind": string(it.Kind), "hash": it.Hash},
	})
}
