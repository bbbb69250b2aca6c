package piggy

import (
	"context"
	"fmt"
)

// ExercisePolicy decides whether a position may be settled at now.
type ExercisePolicy interface {
	CheckSettle(ctx context.Context, terms Terms, pos *Position, now uint64) error
}

// EarlyExercise lets an American position settle before expiry. Implementations
// typically consult a price feed or an operator instruction.
type EarlyExercise interface {
	ShouldExercise(ctx context.Context, terms Terms, pos *Position, now uint64) (bool, error)
}

// EarlyExerciseFunc adapts a function to EarlyExercise.
type EarlyExerciseFunc func(ctx context.Context, terms Terms, pos *Position, now uint64) (bool, error)

func (f EarlyExerciseFunc) ShouldExercise(ctx context.Context, terms Terms, pos *Position, now uint64) (bool, error) {
	return f(ctx, terms, pos, now)
}

// EuropeanPolicy only allows settlement at or after expiry.
type EuropeanPolicy struct{}

func (EuropeanPolicy) CheckSettle(_ context.Context, terms Terms, _ *Position, now uint64) error {
	if now < terms.Expiry {
		return fmt.Errorf("%w: expiry %d, now %d", ErrNotYetExpired, terms.Expiry, now)
	}
	return nil
}

// AmericanPolicy allows settlement at or after expiry, or earlier when the
// trigger fires. Without a trigger it behaves like EuropeanPolicy.
type AmericanPolicy struct {
	Trigger EarlyExercise
}

func (p AmericanPolicy) CheckSettle(ctx context.Context, terms Terms, pos *Position, now uint64) error {
	if now >= terms.Expiry {
		return nil
	}
	if p.Trigger == nil {
		return fmt.Errorf("%w: expiry %d, now %d", ErrNotYetExpired, terms.Expiry, now)
	}
	fire, err := p.Trigger.ShouldExercise(ctx, terms, pos, now)
	if err != nil {
		return fmt.Errorf("piggy: early exercise trigger: %w", err)
	}
	if !fire {
		return fmt.Errorf("%w: early exercise not triggered", ErrNotYetExpired)
	}
	return nil
}
