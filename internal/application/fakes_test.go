package application

import (
	"context"
	"fmt"
	"time"

	"github.com/acme/product-pipeline/internal/domain/cooldown"
	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/domain/scenario"
	"github.com/acme/product-pipeline/internal/domain/stage"
	"github.com/acme/product-pipeline/internal/persistence"
)

// memState backs the in-memory fakes for every repository interface.
type memState struct {
	leads      []*lead.Lead
	candidates []*lead.Candidate
	candAt     map[string]time.Time
	runs       []*stage.Run
	cooldowns  []*cooldown.Record
	priors     map[string]*scenario.VelocityPrior
	clock      time.Time
}

func newMemState() *memState {
	return &memState{
		candAt: make(map[string]time.Time),
		priors: make(map[string]*scenario.VelocityPrior),
		clock:  time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC),
	}
}

func (s *memState) repository() *persistence.Repository {
	return &persistence.Repository{
		Leads:      &memLeads{s},
		Candidates: &memCandidates{s},
		StageRuns:  &memRuns{s},
		Cooldowns:  &memCooldowns{s},
		Priors:     &memPriors{s},
	}
}

func (s *memState) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memState) candidate(id string) *lead.Candidate {
	for _, c := range s.candidates {
		if c.ID == id {
			return c
		}
	}
	return nil
}

type memLeads struct{ s *memState }

func (m *memLeads) Insert(_ context.Context, l *lead.Lead) error {
	cp := *l
	m.s.leads = append(m.s.leads, &cp)
	return nil
}

func (m *memLeads) GetByID(_ context.Context, id string) (*lead.Lead, error) {
	for _, l := range m.s.leads {
		if l.ID == id {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memLeads) ListByStatus(_ context.Context, status lead.Status, limit int) ([]lead.Lead, error) {
	var out []lead.Lead
	for _, l := range m.s.leads {
		if l.Status == status {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memLeads) UpdateTriage(_ context.Context, id string, status lead.Status, fp, dup string) error {
	for _, l := range m.s.leads {
		if l.ID == id {
			l.Status, l.Fingerprint, l.DuplicateOf = status, fp, dup
			return nil
		}
	}
	return fmt.Errorf("lead not found: %s", id)
}

type memCandidates struct{ s *memState }

func (m *memCandidates) FingerprintsExist(_ context.Context, fps []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for _, want := range fps {
		if want == "" {
			continue
		}
		for _, c := range m.s.candidates {
			if c.Fingerprint == want {
				found[want] = true
			}
		}
	}
	return found, nil
}

func (m *memCandidates) Insert(_ context.Context, c *lead.Candidate) error {
	cp := *c
	m.s.candidates = append(m.s.candidates, &cp)
	m.s.candAt[c.ID] = m.s.tick()
	return nil
}

func (m *memCandidates) GetByID(_ context.Context, id string) (*lead.Candidate, error) {
	if c := m.s.candidate(id); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memCandidates) List(_ context.Context, f persistence.CandidateFilter) ([]lead.Candidate, error) {
	var out []lead.Candidate
	for _, c := range m.s.candidates {
		if f.StageStatus != "" && c.StageStatus != f.StageStatus {
			continue
		}
		if f.Decision != "" && c.Decision != f.Decision {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *memCandidates) UpdateStageStatus(_ context.Context, id, stageStatus string) error {
	if c := m.s.candidate(id); c != nil {
		c.StageStatus = stageStatus
		return nil
	}
	return fmt.Errorf("candidate not found: %s", id)
}

func (m *memCandidates) SetDecision(_ context.Context, id, decision, reason string) error {
	if c := m.s.candidate(id); c != nil {
		c.Decision, c.DecisionReason = decision, reason
		return nil
	}
	return fmt.Errorf("candidate not found: %s", id)
}

func (m *memCandidates) CountPromotedSince(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	for _, at := range m.s.candAt {
		if !at.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

type memRuns struct{ s *memState }

func (m *memRuns) Insert(_ context.Context, run *stage.Run) error {
	cp := *run
	cp.CreatedAt = m.s.tick()
	run.CreatedAt = cp.CreatedAt
	m.s.runs = append(m.s.runs, &cp)
	return nil
}

func (m *memRuns) TryClaim(_ context.Context, id string, expected stage.RunStatus) (*stage.Run, error) {
	for _, run := range m.s.runs {
		if run.ID != id {
			continue
		}
		if run.Status != expected {
			cp := *run
			return &cp, persistence.ErrAlreadyClaimed
		}
		run.Status = stage.RunRunning
		at := m.s.tick()
		run.StartedAt = &at
		cp := *run
		return &cp, nil
	}
	return nil, fmt.Errorf("stage run not found: %s", id)
}

func (m *memRuns) Finish(_ context.Context, id string, status stage.RunStatus, output, errJSON []byte) error {
	for _, run := range m.s.runs {
		if run.ID == id {
			run.Status = status
			run.Output = output
			run.Error = errJSON
			at := m.s.tick()
			run.FinishedAt = &at
			return nil
		}
	}
	return fmt.Errorf("stage run not found: %s", id)
}

func (m *memRuns) LatestSucceeded(_ context.Context, candidateID string, letter stage.Letter) (*stage.Run, error) {
	for i := len(m.s.runs) - 1; i >= 0; i-- {
		run := m.s.runs[i]
		if run.CandidateID == candidateID && run.Stage == letter && run.Status == stage.RunSucceeded {
			cp := *run
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRuns) ListByCandidate(_ context.Context, candidateID string, limit int) ([]stage.Run, error) {
	var out []stage.Run
	for i := len(m.s.runs) - 1; i >= 0; i-- {
		if m.s.runs[i].CandidateID == candidateID {
			out = append(out, *m.s.runs[i])
		}
	}
	return out, nil
}

type memCooldowns struct{ s *memState }

func (m *memCooldowns) Insert(_ context.Context, rec *cooldown.Record) error {
	cp := *rec
	cp.CreatedAt = m.s.tick()
	m.s.cooldowns = append(m.s.cooldowns, &cp)
	return nil
}

func (m *memCooldowns) LatestByFingerprint(_ context.Context, fp string) (*cooldown.Record, error) {
	for i := len(m.s.cooldowns) - 1; i >= 0; i-- {
		if m.s.cooldowns[i].Fingerprint == fp {
			cp := *m.s.cooldowns[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memCooldowns) LatestByFingerprints(ctx context.Context, fps []string) (map[string]*cooldown.Record, error) {
	out := make(map[string]*cooldown.Record)
	for _, fp := range fps {
		rec, _ := m.LatestByFingerprint(ctx, fp)
		if rec != nil {
			out[fp] = rec
		}
	}
	return out, nil
}

func (m *memCooldowns) ListActive(_ context.Context, now time.Time, limit int) ([]cooldown.Record, error) {
	var out []cooldown.Record
	for _, rec := range m.s.cooldowns {
		if cooldown.IsActive(rec.Severity, rec.RecheckAfter, now) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type memPriors struct{ s *memState }

func (m *memPriors) Upsert(_ context.Context, fp string, p *scenario.VelocityPrior) error {
	cp := *p
	m.s.priors[fp] = &cp
	return nil
}

func (m *memPriors) LatestByFingerprint(_ context.Context, fp string) (*scenario.VelocityPrior, error) {
	if p, ok := m.s.priors[fp]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}
