package document

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/legal-rag/pkg/logger"
)

// Step is one forward action of a saga and the action that undoes it.
type Step struct {
	Name       string
	Forward    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

// SagaResult lists forward failures in step order, and compensations that
// failed in turn.
type SagaResult struct {
	Failed             []StepError
	CompensationFailed []StepError
}

func (r *SagaResult) OK() bool { return len(r.Failed) == 0 }

type Saga struct {
	steps  []Step
	logger logger.Logger
}

func NewSaga(log logger.Logger, steps ...Step) *Saga {
	return &Saga{steps: steps, logger: log}
}

// Run executes every forward action concurrently. Siblings are not cancelled
// when one fails, so every step either fully succeeded or is reported failed.
// If any failed, each succeeded step is compensated.
func (s *Saga) Run(ctx context.Context) *SagaResult {
	errs := make([]error, len(s.steps))
	var g errgroup.Group
	for i, step := range s.steps {
		i, step := i, step
		g.Go(func() error {
			errs[i] = step.Forward(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return s.settle(ctx, errs, len(s.steps))
}

// RunSequential executes forward actions in order and stops at the first failure.
func (s *Saga) RunSequential(ctx context.Context) *SagaResult {
	errs := make([]error, len(s.steps))
	ran := 0
	for i, step := range s.steps {
		ran = i + 1
		if errs[i] = step.Forward(ctx); errs[i] != nil {
			break
		}
	}
	return s.settle(ctx, errs, ran)
}

func (s *Saga) settle(ctx context.Context, errs []error, ran int) *SagaResult {
	res := &SagaResult{}
	for i := 0; i < ran; i++ {
		if errs[i] != nil {
			res.Failed = append(res.Failed, StepError{Step: s.steps[i].Name, Err: errs[i]})
		}
	}
	if res.OK() {
		return res
	}

	// rollback must finish even if the caller went away
	cctx := context.WithoutCancel(ctx)
	for i := ran - 1; i >= 0; i-- {
		step := s.steps[i]
		if errs[i] != nil || step.Compensate == nil {
			continue
		}
		if err := step.Compensate(cctx); err != nil {
			s.logger.Error("Compensation failed",
				logger.String("step", step.Name),
				logger.Error(err),
			)
			res.CompensationFailed = append(res.CompensationFailed, StepError{Step: step.Name, Err: err})
		}
	}
	return res
}
