package piggy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"slimhogs/core/events"
	"slimhogs/native/token"
)

const (
	opCreate   = "create"
	opTransfer = "transfer"
	opReclaim  = "reclaim"
	opSettle   = "settle"
	opClaim    = "claim"
)

type engineState interface {
	PiggyGet(id common.Hash) (*Position, bool, error)
	CollateralLocked(token common.Address) (*uint256.Int, error)
	PiggyCommit(changes *Changes) (revert func() error, err error)
}

// Metrics receives per-operation outcomes and collateral gauges.
type Metrics interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	SetCollateralLocked(token common.Address, amount *uint256.Int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration)   {}
func (noopMetrics) SetCollateralLocked(common.Address, *uint256.Int) {}

// operationKey marks contexts handed to collaborators while an operation is
// in flight. Seeing it on entry means a collaborator called back into the
// engine.
type operationKey struct{}

// Engine runs the piggy lifecycle against the ledger state and the collateral
// vault. Mutating operations are serialised and either apply completely or
// leave no trace.
type Engine struct {
	state     engineState
	vault     *Vault
	oracle    Oracle
	approvals Approvals
	european  ExercisePolicy
	american  ExercisePolicy
	emitter   events.Emitter
	metrics   Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	nowFn     func() int64
	sem       chan struct{}
}

// NewEngine creates an engine with European/American expiry policies, a no-op
// emitter and the default logger. State and vault must be configured before
// any mutating call.
func NewEngine() *Engine {
	return &Engine{
		european: EuropeanPolicy{},
		american: AmericanPolicy{},
		emitter:  events.NoopEmitter{},
		metrics:  noopMetrics{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("slimhogs/native/piggy"),
		nowFn:    func() int64 { return time.Now().Unix() },
		sem:      make(chan struct{}, 1),
	}
}

// SetState configures the ledger backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault configures the collateral vault.
func (e *Engine) SetVault(vault *Vault) { e.vault = vault }

// SetOracle configures the settlement value source.
func (e *Engine) SetOracle(oracle Oracle) { e.oracle = oracle }

// SetApprovals configures the delegate registry consulted by Transfer.
func (e *Engine) SetApprovals(approvals Approvals) { e.approvals = approvals }

// SetEarlyExercise installs the trigger that lets American positions settle
// before expiry.
func (e *Engine) SetEarlyExercise(trigger EarlyExercise) {
	e.american = AmericanPolicy{Trigger: trigger}
}

// SetExercisePolicies overrides the policies applied to European and American
// positions. Nil keeps the current policy.
func (e *Engine) SetExercisePolicies(european, american ExercisePolicy) {
	if european != nil {
		e.european = european
	}
	if american != nil {
		e.american = american
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetMetrics(metrics Metrics) {
	if metrics == nil {
		e.metrics = noopMetrics{}
		return
	}
	e.metrics = metrics
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		e.logger = slog.Default()
		return
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Fingerprint derives the key the terms are stored under.
func (e *Engine) Fingerprint(terms Terms) common.Hash { return Fingerprint(terms) }

// Create writes a new piggy and locks its collateral from the caller. The
// caller must be the creator named in the terms.
func (e *Engine) Create(ctx context.Context, caller common.Address, terms Terms, resolver, arbiter common.Address, mode Creation) (common.Hash, error) {
	terms = terms.Clone()
	id := Fingerprint(terms)
	err := e.execute(ctx, opCreate, id, caller, func(ctx context.Context) error {
		if err := terms.Validate(); err != nil {
			return err
		}
		if caller != terms.Creator {
			return fmt.Errorf("%w: caller is not the creator", ErrUnauthorized)
		}
		if mode == nil {
			mode = CreatorInitiated{}
		}
		owner, err := mode.initialOwner(caller)
		if err != nil {
			return err
		}
		now := e.now()
		if now >= terms.Expiry {
			return fmt.Errorf("%w: expiry %d, now %d", ErrAlreadyExpired, terms.Expiry, now)
		}
		if err := e.vault.Supports(terms.Collateral); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTerms, err)
		}
		existing, ok, err := e.state.PiggyGet(id)
		if err != nil {
			return err
		}
		if ok {
			switch {
			case existing.State.Live():
				return ErrAlreadyExists
			case existing.State == StateClosed:
				return ErrClosed
			}
		}
		total, err := e.state.CollateralLocked(terms.Collateral)
		if err != nil {
			return err
		}
		newTotal, overflow := new(uint256.Int).AddOverflow(total, terms.Amount)
		if overflow {
			return fmt.Errorf("%w: collateral total overflows", ErrInvalidTerms)
		}
		pos := &Position{
			Fingerprint:     id,
			Owner:           owner,
			Writer:          caller,
			Token:           terms.Collateral,
			State:           StateOpen,
			Locked:          cloneInt(terms.Amount),
			Payout:          new(uint256.Int),
			SettlementValue: new(uint256.Int),
			Resolver:        resolver,
			Arbiter:         arbiter,
			Request:         mode.request(),
			CreatedAt:       now,
		}
		changes := &Changes{
			Positions: []*Position{pos},
			Locked:    map[common.Address]*uint256.Int{terms.Collateral: newTotal},
		}
		err = e.apply(ctx, changes, func() error {
			return e.vault.Lock(ctx, terms.Collateral, caller, terms.Amount)
		})
		if err != nil {
			return err
		}
		e.emit(events.PiggyCreated{
			ID:       id,
			Writer:   caller,
			Owner:    owner,
			Token:    terms.Collateral,
			Amount:   cloneInt(terms.Amount),
			Expiry:   terms.Expiry,
			Request:  pos.Request,
			Resolver: resolver,
			Arbiter:  arbiter,
		})
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return id, nil
}

// CheckOwner returns the current owner of the piggy, or the zero address when
// it is absent or closed. Lookup failures also yield the zero address.
func (e *Engine) CheckOwner(ctx context.Context, terms Terms) common.Address {
	pos, ok, err := e.Position(ctx, Fingerprint(terms))
	if err != nil || !ok || !pos.State.Live() {
		return common.Address{}
	}
	return pos.Owner
}

// Position returns a copy of the record stored under id.
func (e *Engine) Position(_ context.Context, id common.Hash) (*Position, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNotConfigured
	}
	pos, ok, err := e.state.PiggyGet(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return pos.Clone(), true, nil
}

// Locked returns the collateral accounted as locked for tokenAddr.
func (e *Engine) Locked(_ context.Context, tokenAddr common.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNotConfigured
	}
	return e.state.CollateralLocked(tokenAddr)
}

// VerifyCustody checks that the custody account holds at least the collateral
// the ledger accounts as locked.
func (e *Engine) VerifyCustody(ctx context.Context, tokenAddr common.Address) error {
	if e == nil || e.state == nil || e.vault == nil {
		return ErrNotConfigured
	}
	locked, err := e.state.CollateralLocked(tokenAddr)
	if err != nil {
		return err
	}
	balance, err := e.vault.Balance(ctx, tokenAddr)
	if err != nil {
		return err
	}
	if balance.Lt(locked) {
		return fmt.Errorf("%w: token %s holds %s, locked %s", ErrCustodyShortfall, tokenAddr.Hex(), balance.Dec(), locked.Dec())
	}
	return nil
}

// Transfer hands an open piggy to newOwner. The caller must be the owner or an
// operator approved by the owner.
func (e *Engine) Transfer(ctx context.Context, caller common.Address, terms Terms, newOwner common.Address) error {
	id := Fingerprint(terms)
	return e.execute(ctx, opTransfer, id, caller, func(ctx context.Context) error {
		if newOwner == (common.Address{}) {
			return fmt.Errorf("%w: zero owner", ErrInvalidRecipient)
		}
		pos, err := e.load(id)
		if err != nil {
			return err
		}
		if pos.State != StateOpen {
			return fmt.Errorf("%w: state %s", ErrNotOpen, pos.State)
		}
		previous := pos.Owner
		if caller != previous && (e.approvals == nil || !e.approvals.IsApproved(ctx, id, previous, caller)) {
			return ErrUnauthorized
		}
		pos.Owner = newOwner
		if err := e.apply(ctx, &Changes{Positions: []*Position{pos}}, nil); err != nil {
			return err
		}
		e.emit(events.PiggyTransferred{ID: id, From: previous, To: newOwner, By: caller})
		return nil
	})
}

// ReclaimAndBurn returns the collateral of an open piggy to its owner before
// expiry and retires the fingerprint.
func (e *Engine) ReclaimAndBurn(ctx context.Context, caller common.Address, terms Terms) error {
	id := Fingerprint(terms)
	return e.execute(ctx, opReclaim, id, caller, func(ctx context.Context) error {
		pos, err := e.load(id)
		if err != nil {
			return err
		}
		if pos.State != StateOpen {
			return fmt.Errorf("%w: state %s", ErrNotOpen, pos.State)
		}
		if caller != pos.Owner {
			return ErrUnauthorized
		}
		now := e.now()
		if now >= terms.Expiry {
			return fmt.Errorf("%w: expiry %d, now %d", ErrAlreadyExpired, terms.Expiry, now)
		}
		owner := pos.Owner
		amount := cloneInt(pos.Locked)
		newTotal, err := e.debitLocked(pos.Token, amount)
		if err != nil {
			return err
		}
		pos.retire()
		changes := &Changes{
			Positions: []*Position{pos},
			Locked:    map[common.Address]*uint256.Int{pos.Token: newTotal},
		}
		err = e.apply(ctx, changes, func() error {
			return e.vault.Release(ctx, pos.Token, token.Payment{To: owner, Amount: amount})
		})
		if err != nil {
			return err
		}
		e.emit(events.PiggyReclaimed{ID: id, Owner: owner, Token: pos.Token, Amount: amount})
		return nil
	})
}

// Settle fixes the payout of an open piggy from the oracle's settlement value
// and names the holder entitled to claim it.
func (e *Engine) Settle(ctx context.Context, caller common.Address, terms Terms, holder common.Address) error {
	id := Fingerprint(terms)
	return e.execute(ctx, opSettle, id, caller, func(ctx context.Context) error {
		if holder == (common.Address{}) {
			return fmt.Errorf("%w: zero holder", ErrInvalidRecipient)
		}
		pos, err := e.load(id)
		if err != nil {
			return err
		}
		if pos.State != StateOpen {
			return fmt.Errorf("%w: state %s", ErrNotOpen, pos.State)
		}
		if caller != pos.Owner && (pos.Resolver == (common.Address{}) || caller != pos.Resolver) {
			return ErrUnauthorized
		}
		now := e.now()
		policy := e.american
		if terms.European {
			policy = e.european
		}
		if err := policy.CheckSettle(ctx, terms, pos.Clone(), now); err != nil {
			return err
		}
		if e.oracle == nil {
			return fmt.Errorf("%w: oracle", ErrNotConfigured)
		}
		value, err := e.oracle.SettlementValue(ctx, id, terms)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoSettlementValue, err)
		}
		if value == nil {
			return ErrNoSettlementValue
		}
		payout := ComputePayout(terms, value)
		if payout.Gt(pos.Locked) {
			payout = cloneInt(pos.Locked)
		}
		pos.State = StateSettled
		pos.Holder = holder
		pos.Payout = payout
		pos.SettlementValue = cloneInt(value)
		pos.SettledAt = now
		if err := e.apply(ctx, &Changes{Positions: []*Position{pos}}, nil); err != nil {
			return err
		}
		e.emit(events.PiggySettled{
			ID:        id,
			Holder:    holder,
			Value:     cloneInt(value),
			Payout:    cloneInt(payout),
			SettledAt: now,
		})
		return nil
	})
}

// Claim pays amount of the settled payout to the holder. The claim that
// exhausts the payout also returns the remaining collateral to the writer and
// closes the piggy.
func (e *Engine) Claim(ctx context.Context, caller common.Address, terms Terms, amount *uint256.Int) error {
	id := Fingerprint(terms)
	amount = cloneInt(amount)
	return e.execute(ctx, opClaim, id, caller, func(ctx context.Context) error {
		pos, err := e.load(id)
		if err != nil {
			return err
		}
		if pos.State != StateSettled {
			return fmt.Errorf("%w: state %s", ErrNotSettled, pos.State)
		}
		if caller != pos.Holder {
			return ErrUnauthorized
		}
		if amount.Gt(pos.Payout) || amount.Gt(pos.Locked) {
			return fmt.Errorf("%w: requested %s, payout %s", ErrInsufficientLocked, amount.Dec(), pos.Payout.Dec())
		}
		holder := pos.Holder
		writer := pos.Writer
		remaining := new(uint256.Int).Sub(pos.Payout, amount)
		locked := new(uint256.Int).Sub(pos.Locked, amount)

		payments := []token.Payment{{To: holder, Amount: amount}}
		released := cloneInt(amount)
		residual := new(uint256.Int)
		closing := remaining.IsZero()
		if closing {
			residual.Set(locked)
			payments = append(payments, token.Payment{To: writer, Amount: residual})
			released.Add(released, residual)
			pos.retire()
		} else {
			pos.Payout = remaining
			pos.Locked = locked
		}
		newTotal, err := e.debitLocked(pos.Token, released)
		if err != nil {
			return err
		}
		changes := &Changes{
			Positions: []*Position{pos},
			Locked:    map[common.Address]*uint256.Int{pos.Token: newTotal},
		}
		err = e.apply(ctx, changes, func() error {
			return e.vault.Release(ctx, pos.Token, payments...)
		})
		if err != nil {
			return err
		}
		e.emit(events.PiggyClaimed{ID: id, Holder: holder, Token: pos.Token, Amount: amount, Remaining: remaining})
		if closing {
			e.emit(events.PiggyClosed{ID: id, Writer: writer, Token: pos.Token, Residual: residual})
		}
		return nil
	})
}

// execute serialises a mutating operation and records its outcome.
func (e *Engine) execute(ctx context.Context, op string, id common.Hash, caller common.Address, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if inflight, ok := ctx.Value(operationKey{}).(string); ok {
		e.observe(op, ErrReentrantCall, 0)
		return fmt.Errorf("%w: %s during %s", ErrReentrantCall, op, inflight)
	}
	if e == nil || e.state == nil || e.vault == nil {
		return ErrNotConfigured
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "piggy."+op, trace.WithAttributes(
		attribute.String("piggy.fingerprint", id.Hex()),
		attribute.String("piggy.caller", caller.Hex()),
	))
	defer span.End()

	err := fn(context.WithValue(ctx, operationKey{}, op))
	elapsed := time.Since(start)
	e.observe(op, err, elapsed)
	logger := e.logger.With("op", op, "fingerprint", id.Hex(), "caller", caller.Hex())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("piggy operation rejected", "error", err, "elapsed", elapsed)
		return err
	}
	logger.Debug("piggy operation applied", "elapsed", elapsed)
	return nil
}

// apply commits the ledger changes and then runs the token interaction. A
// failed interaction reverts the committed changes.
func (e *Engine) apply(ctx context.Context, changes *Changes, interact func() error) error {
	revert, err := e.state.PiggyCommit(changes)
	if err != nil {
		return fmt.Errorf("piggy: commit: %w", err)
	}
	if interact != nil {
		if err := interact(); err != nil {
			failure := fmt.Errorf("%w: %w", ErrTransferFailed, err)
			if revertErr := revert(); revertErr != nil {
				e.logger.ErrorContext(ctx, "piggy revert failed", "error", revertErr)
				return errors.Join(failure, fmt.Errorf("piggy: revert: %w", revertErr))
			}
			return failure
		}
	}
	for tokenAddr, total := range changes.Locked {
		e.metrics.SetCollateralLocked(tokenAddr, total)
	}
	return nil
}

func (e *Engine) load(id common.Hash) (*Position, error) {
	pos, ok, err := e.state.PiggyGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || pos == nil || pos.State == StateNone {
		return nil, ErrNotFound
	}
	return pos.Clone(), nil
}

func (e *Engine) debitLocked(tokenAddr common.Address, amount *uint256.Int) (*uint256.Int, error) {
	total, err := e.state.CollateralLocked(tokenAddr)
	if err != nil {
		return nil, err
	}
	if total.Lt(amount) {
		return nil, fmt.Errorf("%w: token %s accounts %s, releasing %s", ErrInsufficientLocked, tokenAddr.Hex(), total.Dec(), amount.Dec())
	}
	return new(uint256.Int).Sub(total, amount), nil
}

func (e *Engine) observe(op string, err error, elapsed time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.ObserveOperation(op, Outcome(err), elapsed)
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() uint64 {
	var ts int64
	if e == nil || e.nowFn == nil {
		ts = time.Now().Unix()
	} else {
		ts = e.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Outcome maps an operation error to a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotOpen):
		return "not_open"
	case errors.Is(err, ErrNotSettled):
		return "not_settled"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotYetExpired):
		return "not_yet_expired"
	case errors.Is(err, ErrAlreadyExpired):
		return "already_expired"
	case errors.Is(err, ErrInsufficientLocked):
		return "insufficient_locked"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidTerms), errors.Is(err, ErrInvalidRecipient):
		return "invalid"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, ErrNoSettlementValue):
		return "no_settlement_value"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
