package application

import (
	"context"
	"fmt"

	"github.com/acme/product-pipeline/internal/domain/stage"
	"github.com/acme/product-pipeline/internal/domain/stagegate"
	"github.com/acme/product-pipeline/internal/persistence"
)

// GateService loads the latest eligibility and risk verdicts and evaluates
// the stage dependency gate before any gated stage run.
type GateService struct {
	runs persistence.StageRunsRepo
}

// NewGateService wires the gate evaluator.
func NewGateService(runs persistence.StageRunsRepo) *GateService {
	return &GateService{runs: runs}
}

// Verdicts loads the decoded latest-succeeded T and S verdicts.
func (s *GateService) Verdicts(ctx context.Context, candidateID string) (stagegate.Verdicts, error) {
	var v stagegate.Verdicts

	tRun, err := s.runs.LatestSucceeded(ctx, candidateID, stage.StageT)
	if err != nil {
		return v, fmt.Errorf("failed to load eligibility verdict: %w", err)
	}
	if tRun != nil {
		v.T = stage.DecodeTVerdict(tRun.Output)
	}

	sRun, err := s.runs.LatestSucceeded(ctx, candidateID, stage.StageS)
	if err != nil {
		return v, fmt.Errorf("failed to load risk verdict: %w", err)
	}
	if sRun != nil {
		v.S = stage.DecodeSVerdict(sRun.Output)
	}

	return v, nil
}

// Check evaluates the combined gate for one stage. Ungated stages pass
// without touching storage.
func (s *GateService) Check(ctx context.Context, candidateID string, letter stage.Letter) (stagegate.Decision, error) {
	if !stagegate.IsGated(letter) {
		return stagegate.Check(letter, stagegate.Verdicts{}), nil
	}

	v, err := s.Verdicts(ctx, candidateID)
	if err != nil {
		return stagegate.Decision{}, err
	}
	return stagegate.Check(letter, v), nil
}
