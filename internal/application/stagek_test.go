package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/product-pipeline/internal/domain/capsim"
	"github.com/acme/product-pipeline/internal/domain/cooldown"
	"github.com/acme/product-pipeline/internal/domain/econ"
	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/domain/money"
	"github.com/acme/product-pipeline/internal/domain/scenario"
	"github.com/acme/product-pipeline/internal/domain/stage"
	"github.com/acme/product-pipeline/internal/domain/stagegate"
)

func newStageKRunner(s *memState) *StageKRunner {
	r := NewStageKRunner(s.repository(), nil, nil, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC) }
	return r
}

func seedCandidate(s *memState, fp string) *lead.Candidate {
	c := &lead.Candidate{ID: "cand-1", LeadID: "lead-1", Fingerprint: fp, StageStatus: "P_DONE"}
	_ = s.repository().Candidates.Insert(context.Background(), c)
	return c
}

func seedSucceededRun(t *testing.T, s *memState, candidateID string, letter stage.Letter, input, output interface{}) {
	t.Helper()

	var inJSON, outJSON []byte
	var err error
	if input != nil {
		inJSON, err = json.Marshal(input)
		require.NoError(t, err)
	}
	outJSON, err = json.Marshal(output)
	require.NoError(t, err)

	run := &stage.Run{
		ID:          "run-" + string(letter),
		CandidateID: candidateID,
		Stage:       letter,
		Status:      stage.RunSucceeded,
		Input:       inJSON,
		Output:      outJSON,
	}
	require.NoError(t, s.repository().StageRuns.Insert(context.Background(), run))
}

func seedBC(t *testing.T, s *memState, candidateID string) {
	t.Helper()

	seedSucceededRun(t, s, candidateID, stage.StageB,
		econ.LandedCostInput{
			UnitsPlanned:         120,
			UnitCostCents:        money.NewCents(700),
			FreightCents:         money.NewCents(100),
			DepositPctHundredths: 3000,
			BalanceDueDays:       30,
			LeadTimeDays:         45,
		},
		econ.LandedCostResult{
			PerUnitLandedCents: money.NewCents(800),
			TotalLandedCents:   money.NewCents(96000),
			DepositCents:       money.NewCents(28800),
			BalanceCents:       money.NewCents(67200),
			BalanceDueDay:      30,
			LeadTimeDays:       45,
		})

	seedSucceededRun(t, s, candidateID, stage.StageC, nil,
		econ.ContributionResult{
			ContributionPerUnitCents: money.NewCents(1250),
			PayoutDelayDays:          14,
		})
}

func capsimInput() *capsim.Input {
	return &capsim.Input{
		HorizonDays: 90,
		Cashflows: []capsim.Cashflow{
			{Day: 0, AmountCents: money.NewCents(-10000)},
			{Day: 30, AmountCents: money.NewCents(3000)},
			{Day: 60, AmountCents: money.NewCents(3000)},
			{Day: 90, AmountCents: money.NewCents(5000)},
		},
	}
}

func TestStageKRequiresStageB(t *testing.T) {
	s := newMemState()
	seedCandidate(s, "fp-a")
	r := newStageKRunner(s)

	_, err := r.Run(context.Background(), StageKRequest{CandidateID: "cand-1"})
	require.Error(t, err)

	var missing *scenario.MissingPreconditionError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "b", missing.Stage)
}

func TestStageKUnknownCandidate(t *testing.T) {
	s := newMemState()
	r := newStageKRunner(s)

	_, err := r.Run(context.Background(), StageKRequest{CandidateID: "nope"})
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestStageKFullRun(t *testing.T) {
	s := newMemState()
	cand := seedCandidate(s, "fp-a")
	seedBC(t, s, cand.ID)
	r := newStageKRunner(s)

	report, err := r.Run(context.Background(), StageKRequest{CandidateID: cand.ID})
	require.NoError(t, err)

	assert.False(t, report.Reused)
	assert.NotEmpty(t, report.InputHash)
	require.NotNil(t, report.Result)
	assert.Equal(t, "96000", report.Result.PeakCashOutlayCents.String(),
		"deposit and balance are both out before the first payout lands")
	assert.Contains(t, report.Sensitivities, "price_delta_pct")
	assert.Contains(t, report.Sensitivities, "cost_delta_pct")
	assert.Contains(t, report.Sensitivities, "velocity_delta_pct")

	assert.Equal(t, "K_DONE", s.candidate(cand.ID).StageStatus)

	kRun, err := s.repository().StageRuns.LatestSucceeded(context.Background(), cand.ID, stage.StageK)
	require.NoError(t, err)
	require.NotNil(t, kRun)
	assert.Equal(t, report.InputHash, kRun.InputHash)

	var out stageKOutput
	require.NoError(t, json.Unmarshal(kRun.Output, &out))
	require.NotNil(t, out.Summary)
	assert.Equal(t, report.ReturnBand, out.Summary.ReturnBand)
}

func TestStageKIdempotentRerun(t *testing.T) {
	s := newMemState()
	cand := seedCandidate(s, "fp-a")
	seedBC(t, s, cand.ID)
	r := newStageKRunner(s)

	first, err := r.Run(context.Background(), StageKRequest{CandidateID: cand.ID})
	require.NoError(t, err)

	runsBefore := len(s.runs)

	second, err := r.Run(context.Background(), StageKRequest{CandidateID: cand.ID})
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, first.InputHash, second.InputHash)
	assert.Len(t, s.runs, runsBefore, "identical input inserts no new run")
}

func TestStageKGateBlocks(t *testing.T) {
	s := newMemState()
	cand := seedCandidate(s, "fp-a")
	seedBC(t, s, cand.ID)
	seedSucceededRun(t, s, cand.ID, stage.StageT, nil,
		map[string]interface{}{"summary": map[string]string{"decision": "blocked"}})
	r := newStageKRunner(s)

	_, err := r.Run(context.Background(), StageKRequest{CandidateID: cand.ID})
	var refusal *GateRefusalError
	require.True(t, errors.As(err, &refusal))
	assert.Equal(t, stagegate.CodeTBlocked, refusal.Decision.Code)
}

func TestStageKCooldownRefuses(t *testing.T) {
	s := newMemState()
	cand := seedCandidate(s, "fp-a")
	seedBC(t, s, cand.ID)

	recheck := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	_ = s.repository().Cooldowns.Insert(context.Background(), &cooldown.Record{
		ID:           "cd-1",
		Fingerprint:  "fp-a",
		Severity:     cooldown.SeverityShort,
		RecheckAfter: &recheck,
		ReasonCode:   "price_above_band",
	})

	r := newStageKRunner(s)

	_, err := r.Run(context.Background(), StageKRequest{CandidateID: cand.ID})
	var refusal *CooldownRefusalError
	require.True(t, errors.As(err, &refusal))
	assert.Equal(t, cooldown.SeverityShort, refusal.Severity)
}

func TestStageKCallerSuppliedInput(t *testing.T) {
	s := newMemState()
	cand := seedCandidate(s, "")
	r := newStageKRunner(s)

	input := capsimInput()
	report, err := r.Run(context.Background(), StageKRequest{CandidateID: cand.ID, Input: input})
	require.NoError(t, err)

	require.NotNil(t, report.Result.PaybackDay)
	assert.Equal(t, 90, *report.Result.PaybackDay)
	assert.Equal(t, "10000", report.Result.PeakCashOutlayCents.String())
}
