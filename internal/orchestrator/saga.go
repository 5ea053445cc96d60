package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type sagaStep struct {
	name       string
	action     func(ctx context.Context) error
	compensate func(ctx context.Context, cause error) error
}

// saga runs steps in order. When step N fails, the compensations of steps
// N-1..1 run in reverse order with the failure as cause.
type saga struct {
	steps  []sagaStep
	logger *zap.Logger
}

func (s *saga) add(name string, action func(ctx context.Context) error, compensate func(ctx context.Context, cause error) error) {
	s.steps = append(s.steps, sagaStep{name: name, action: action, compensate: compensate})
}

func (s *saga) run(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.action(ctx); err != nil {
			cause := fmt.Errorf("%s: %w", step.name, err)
			s.rollback(ctx, i, cause)
			return cause
		}
	}
	return nil
}

func (s *saga) rollback(ctx context.Context, failed int, cause error) {
	// compensations must run even if the caller has gone away
	ctx = context.WithoutCancel(ctx)
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.compensate == nil {
			continue
		}
		if err := step.compensate(ctx, cause); err != nil {
			s.logger.Error("compensation failed",
				zap.String("step", step.name),
				zap.NamedError("cause", cause),
				zap.Error(err),
			)
		}
	}
}
