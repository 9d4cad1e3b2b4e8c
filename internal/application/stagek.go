package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/acme/product-pipeline/internal/domain/capsim"
	"github.com/acme/product-pipeline/internal/domain/cooldown"
	"github.com/acme/product-pipeline/internal/domain/econ"
	"github.com/acme/product-pipeline/internal/domain/inputhash"
	"github.com/acme/product-pipeline/internal/domain/scenario"
	"github.com/acme/product-pipeline/internal/domain/stage"
	"github.com/acme/product-pipeline/internal/domain/stagegate"
	"github.com/acme/product-pipeline/internal/infrastructure/cache"
	"github.com/acme/product-pipeline/internal/infrastructure/velocity"
	"github.com/acme/product-pipeline/internal/persistence"
)

// NotFoundError reports an absent entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// CooldownRefusalError refuses a stage run while the candidate's
// fingerprint is cooling down. Mapped to a conflict at the HTTP boundary.
type CooldownRefusalError struct {
	Fingerprint     string            `json:"fingerprint"`
	Severity        cooldown.Severity `json:"severity"`
	RecheckAfter    *time.Time        `json:"recheckAfter,omitempty"`
	WhatWouldChange string            `json:"whatWouldChange,omitempty"`
}

func (e *CooldownRefusalError) Error() string {
	return fmt.Sprintf("cooldown active for fingerprint %s (%s)", e.Fingerprint, e.Severity)
}

// GateRefusalError refuses a gated stage run.
type GateRefusalError struct {
	Decision stagegate.Decision `json:"decision"`
}

func (e *GateRefusalError) Error() string {
	return fmt.Sprintf("stage gate refused: %s", e.Decision.Code)
}

// StageKRequest asks for one capital-simulation run. When Input is nil the
// scenario is built from the candidate's latest Stage B and C verdicts.
type StageKRequest struct {
	CandidateID string        `json:"candidateId"`
	Input       *capsim.Input `json:"input,omitempty"`
}

// StageKReport is the Stage K run outcome. Reused marks an idempotent
// short-circuit onto an earlier run with the identical input hash.
type StageKReport struct {
	RunID          string              `json:"runId"`
	Reused         bool                `json:"reused"`
	EngineVersion  string              `json:"engineVersion"`
	InputHash      string              `json:"inputHash"`
	Result         *capsim.Result      `json:"result"`
	ReturnBand     string              `json:"returnBand"`
	Sensitivities  map[string]*float64 `json:"sensitivities"`
	VelocitySource string              `json:"velocitySource,omitempty"`
}

// stageKOutput is the persisted run output shape.
type stageKOutput struct {
	EngineVersion  string              `json:"engineVersion"`
	Result         *capsim.Result      `json:"result"`
	ReturnBand     string              `json:"returnBand"`
	Sensitivities  map[string]*float64 `json:"sensitivities"`
	VelocitySource string              `json:"velocitySource,omitempty"`
	Summary        *stageKSummary      `json:"summary"`
}

// stageKSummary is the machine-readable digest stored next to the result,
// the shape downstream verdict decoding expects.
type stageKSummary struct {
	ReturnBand                  string   `json:"returnBand"`
	AnnualizedCapitalReturnRate *float64 `json:"annualizedCapitalReturnRate"`
	PaybackDay                  *int     `json:"paybackDay"`
}

// hashEnvelope binds the input hash to the engine version so an engine
// upgrade never reuses stale outputs.
type hashEnvelope struct {
	EngineVersion string       `json:"engineVersion"`
	Input         capsim.Input `json:"input"`
}

// StageKRunner orchestrates capital-simulation runs: cooldown refusal,
// dependency gate, scenario building, idempotent claim and compute.
type StageKRunner struct {
	repos    *persistence.Repository
	cache    cache.Cache
	gates    *GateService
	velocity velocity.Provider
	metrics  CacheMetrics
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// NewStageKRunner wires the Stage K orchestrator. Cache and velocity
// provider may be nil.
func NewStageKRunner(repos *persistence.Repository, c cache.Cache, vp velocity.Provider, logger zerolog.Logger) *StageKRunner {
	return &StageKRunner{
		repos:    repos,
		cache:    c,
		gates:    NewGateService(repos.StageRuns),
		velocity: vp,
		log:      logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// SetMetrics attaches a cache lookup recorder. Safe to leave unset.
func (r *StageKRunner) SetMetrics(m CacheMetrics) { r.metrics = m }

// Run executes one Stage K request.
func (r *StageKRunner) Run(ctx context.Context, req StageKRequest) (*StageKReport, error) {
	now := r.now().UTC()

	cand, err := r.repos.Candidates.GetByID(ctx, req.CandidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate: %w", err)
	}
	if cand == nil {
		return nil, &NotFoundError{Kind: "candidate", ID: req.CandidateID}
	}

	if err := r.refuseOnCooldown(ctx, cand.Fingerprint, now); err != nil {
		return nil, err
	}

	gate, err := r.gates.Check(ctx, cand.ID, stage.StageK)
	if err != nil {
		return nil, err
	}
	if !gate.Allowed {
		return nil, &GateRefusalError{Decision: gate}
	}

	input := req.Input
	velocitySource := ""
	if input == nil {
		built, err := r.buildScenario(ctx, cand.ID, cand.Fingerprint, now)
		if err != nil {
			return nil, err
		}
		input = &built.Input
		velocitySource = built.VelocitySource
	}

	hash, err := inputhash.Hash(hashEnvelope{EngineVersion: capsim.EngineVersion, Input: *input})
	if err != nil {
		return nil, fmt.Errorf("failed to hash input: %w", err)
	}

	// identical hash on the latest succeeded K run: reuse its output
	if latest, err := r.repos.StageRuns.LatestSucceeded(ctx, cand.ID, stage.StageK); err != nil {
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	} else if latest != nil && latest.InputHash == hash {
		var out stageKOutput
		if err := json.Unmarshal(latest.Output, &out); err == nil && out.Result != nil {
			r.log.Info().Str("candidate", cand.ID).Str("run", latest.ID).Msg("stage K reused cached run")
			return &StageKReport{
				RunID:          latest.ID,
				Reused:         true,
				EngineVersion:  out.EngineVersion,
				InputHash:      hash,
				Result:         out.Result,
				ReturnBand:     out.ReturnBand,
				Sensitivities:  out.Sensitivities,
				VelocitySource: out.VelocitySource,
			}, nil
		}
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}

	run := stage.Run{
		ID:           r.newID(),
		CandidateID:  cand.ID,
		Stage:        stage.StageK,
		Status:       stage.RunQueued,
		InputVersion: capsim.EngineVersion,
		InputHash:    hash,
		Input:        inputJSON,
	}
	if err := r.repos.StageRuns.Insert(ctx, &run); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	if _, err := r.repos.StageRuns.TryClaim(ctx, run.ID, stage.RunQueued); err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	result, err := capsim.Simulate(*input)
	if err != nil {
		r.failRun(ctx, run.ID, err)
		return nil, err
	}
	sensitivities, err := capsim.ComputeSensitivities(*input, capsim.DefaultPerturbations())
	if err != nil {
		r.failRun(ctx, run.ID, err)
		return nil, err
	}

	out := stageKOutput{
		EngineVersion:  capsim.EngineVersion,
		Result:         result,
		ReturnBand:     capsim.ReturnBand(result.AnnualizedCapitalReturnRate),
		Sensitivities:  sensitivities,
		VelocitySource: velocitySource,
		Summary: &stageKSummary{
			ReturnBand:                  capsim.ReturnBand(result.AnnualizedCapitalReturnRate),
			AnnualizedCapitalReturnRate: result.AnnualizedCapitalReturnRate,
			PaybackDay:                  result.PaybackDay,
		},
	}
	outputJSON, err := json.Marshal(out)
	if err != nil {
		r.failRun(ctx, run.ID, err)
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}

	if err := r.repos.StageRuns.Finish(ctx, run.ID, stage.RunSucceeded, outputJSON, nil); err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	if err := r.repos.Candidates.UpdateStageStatus(ctx, cand.ID, "K_DONE"); err != nil {
		return nil, fmt.Errorf("failed to advance candidate: %w", err)
	}

	r.log.Info().
		Str("candidate", cand.ID).
		Str("run", run.ID).
		Str("return_band", out.ReturnBand).
		Msg("stage K run complete")

	return &StageKReport{
		RunID:          run.ID,
		EngineVersion:  capsim.EngineVersion,
		InputHash:      hash,
		Result:         result,
		ReturnBand:     out.ReturnBand,
		Sensitivities:  sensitivities,
		VelocitySource: velocitySource,
	}, nil
}

// refuseOnCooldown checks the cache, then the repo, and refuses while a
// cooldown is active.
func (r *StageKRunner) refuseOnCooldown(ctx context.Context, fp string, now time.Time) error {
	if fp == "" {
		return nil
	}

	if r.cache != nil {
		active, hit := r.cache.CooldownActive(ctx, fp)
		recordCacheLookup(r.metrics, cacheTypeCooldown, hit)
		if hit {
			if !active {
				return nil
			}
			// fall through for the full record
		}
	}

	rec, err := r.repos.Cooldowns.LatestByFingerprint(ctx, fp)
	if err != nil {
		return fmt.Errorf("failed to check cooldown: %w", err)
	}
	if rec == nil || !cooldown.IsActive(rec.Severity, rec.RecheckAfter, now) {
		return nil
	}

	return &CooldownRefusalError{
		Fingerprint:     fp,
		Severity:        rec.Severity,
		RecheckAfter:    rec.RecheckAfter,
		WhatWouldChange: rec.WhatWouldChange,
	}
}

// buildScenario composes the simulation input from the latest B and C
// verdicts, shaped by a velocity prior when one is fresh.
func (r *StageKRunner) buildScenario(ctx context.Context, candidateID, fp string, now time.Time) (*scenario.Scenario, error) {
	bRun, err := r.repos.StageRuns.LatestSucceeded(ctx, candidateID, stage.StageB)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage B run: %w", err)
	}
	cRun, err := r.repos.StageRuns.LatestSucceeded(ctx, candidateID, stage.StageC)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage C run: %w", err)
	}

	var b *scenario.BFacts
	if bRun != nil {
		var bRes econ.LandedCostResult
		var bIn econ.LandedCostInput
		if err := json.Unmarshal(bRun.Output, &bRes); err != nil {
			return nil, fmt.Errorf("failed to decode stage B output: %w", err)
		}
		if len(bRun.Input) > 0 {
			if err := json.Unmarshal(bRun.Input, &bIn); err != nil {
				return nil, fmt.Errorf("failed to decode stage B input: %w", err)
			}
		}
		b = &scenario.BFacts{Result: &bRes, UnitsPlanned: bIn.UnitsPlanned}
	}

	var c *econ.ContributionResult
	if cRun != nil {
		var cRes econ.ContributionResult
		if err := json.Unmarshal(cRun.Output, &cRes); err != nil {
			return nil, fmt.Errorf("failed to decode stage C output: %w", err)
		}
		c = &cRes
	}

	return scenario.Build(b, c, r.freshPrior(ctx, fp, now))
}

// freshPrior is best effort: provider first, stored prior second, nil on
// any failure or expiry.
func (r *StageKRunner) freshPrior(ctx context.Context, fp string, now time.Time) *scenario.VelocityPrior {
	if fp == "" {
		return nil
	}

	if r.velocity != nil {
		prior, err := r.velocity.Fetch(ctx, fp)
		if err != nil {
			r.log.Warn().Str("fingerprint", fp).Err(err).Msg("velocity provider unavailable")
		} else if prior != nil && !prior.Expired(now) {
			_ = r.repos.Priors.Upsert(ctx, fp, prior)
			return prior
		}
	}

	stored, err := r.repos.Priors.LatestByFingerprint(ctx, fp)
	if err != nil || stored == nil || stored.Expired(now) {
		return nil
	}
	return stored
}

func (r *StageKRunner) failRun(ctx context.Context, runID string, cause error) {
	payload, _ := json.Marshal(map[string]string{"message": cause.Error()})
	if err := r.repos.StageRuns.Finish(ctx, runID, stage.RunFailed, nil, payload); err != nil {
		r.log.Error().Str("run", runID).Err(err).Msg("failed to record run failure")
	}
}
