package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/execution"
	"github.com/breakoutlab/tradecore/internal/risk"
	"github.com/breakoutlab/tradecore/internal/validation"
)

// Stage is one step of the signal pipeline. A stage reads the result
// envelope, appends its output, and reports whether the pipeline should
// continue. Errors abort the signal; a false approval stops it cleanly.
type Stage interface {
	Name() string
	Run(ctx context.Context, res *Result) (approved bool, reason string, err error)
}

// ValidationStage runs the validation optimizer.
type ValidationStage struct {
	Optimizer *validation.Optimizer
}

func (s *ValidationStage) Name() string { return "validation" }

func (s *ValidationStage) Run(ctx context.Context, res *Result) (bool, string, error) {
	verdict := s.Optimizer.Validate(ctx, res.Signal)
	res.Verdict = &verdict
	if !verdict.Approved {
		res.Err = verdict.Err
		return false, strings.Join(verdict.Reasons, "; "), nil
	}
	return true, "", nil
}

// ScoringStage forwards the validated signal to the scorer.
type ScoringStage struct {
	Scorer         domain.Scorer
	MinProbability float64
}

func (s *ScoringStage) Name() string { return "scoring" }

func (s *ScoringStage) Run(ctx context.Context, res *Result) (bool, string, error) {
	score, err := s.Scorer.Score(ctx, res.Signal)
	if err != nil {
		return false, "", fmt.Errorf("pipeline: scoring: %w", err)
	}
	res.Score = &score
	if score.Probability < s.MinProbability {
		return false, fmt.Sprintf("probability %.2f below %.2f", score.Probability, s.MinProbability), nil
	}
	return true, "", nil
}

// RiskStage sizes and gates the scored signal against live account state.
// The locally tracked open-position count overrides the broker's, and the
// equity high-water mark is maintained across evaluations for the total
// drawdown check.
type RiskStage struct {
	Engine    *risk.Engine
	Broker    domain.BrokerGateway
	Positions interface{ OpenCount() int }

	mu  sync.Mutex
	hwm float64
}

func (s *RiskStage) Name() string { return "risk" }

func (s *RiskStage) Run(ctx context.Context, res *Result) (bool, string, error) {
	account, err := s.Broker.GetAccountInfo(ctx)
	if err != nil {
		return false, "", fmt.Errorf("pipeline: risk: account state: %w", err)
	}
	account.OpenPositions = s.Positions.OpenCount()

	s.mu.Lock()
	if account.Equity > s.hwm {
		s.hwm = account.Equity
	}
	if account.HighWaterMark < s.hwm {
		account.HighWaterMark = s.hwm
	}
	s.mu.Unlock()

	decision := s.Engine.Evaluate(res.Signal, *res.Score, account)
	res.Decision = &decision
	if !decision.Approved {
		res.Err = domain.ErrRiskRejected
		return false, strings.Join(decision.FailedChecks, "; "), nil
	}
	return true, "", nil
}

// ExecutionStage submits the approved decision to the executor and waits for
// its terminal result.
type ExecutionStage struct {
	Executor *execution.Executor
}

func (s *ExecutionStage) Name() string { return "execution" }

func (s *ExecutionStage) Run(ctx context.Context, res *Result) (bool, string, error) {
	result, err := s.Executor.Execute(ctx, execution.Request{
		Signal:   res.Signal,
		Decision: *res.Decision,
	})
	if err != nil {
		return false, "", fmt.Errorf("pipeline: execution: %w", err)
	}
	res.Execution = &result
	if result.Status != domain.ExecutionSuccess {
		res.Err = result.Err
		return false, result.Message, nil
	}
	return true, "", nil
}
