package feedback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// acceptanceCacheTTL bounds how stale the reranker's acceptance-rate
// feature may be. Resolution latency matters more than freshness here.
const acceptanceCacheTTL = time.Minute

type cachedRate struct {
	rate    float64
	fetched time.Time
}

type Service struct {
	repo Repository
	log  zerolog.Logger

	mu    sync.Mutex
	rates map[string]cachedRate
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		log:   log,
		rates: make(map[string]cachedRate),
	}
}

// Submit records one clinician verdict from an API client. The verdict is
// implicit: a clinician code that is empty or equal to the suggestion counts
// as acceptance, anything else as rejection.
func (s *Service) Submit(ctx context.Context, actor, term, suggestedICD, clinicianICD, encounterRef string, confidence float64) (*Record, error) {
	term = strings.TrimSpace(term)
	suggestedICD = strings.TrimSpace(suggestedICD)
	clinicianICD = strings.TrimSpace(clinicianICD)
	if term == "" || suggestedICD == "" {
		return nil, ErrInvalidFeedback
	}

	rec := &Record{
		ID:           uuid.New(),
		Term:         term,
		SuggestedICD: suggestedICD,
		ClinicianICD: clinicianICD,
		EncounterRef: strings.TrimSpace(encounterRef),
		Confidence:   confidence,
		Accepted:     clinicianICD == "" || clinicianICD == suggestedICD,
		Source:       SourceAPI,
		SubmittedBy:  actor,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.InsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	s.invalidate(suggestedICD)
	return rec, nil
}

// RecordResolution records a reviewer verdict coming out of the review
// queue.
func (s *Service) RecordResolution(ctx context.Context, term, icdCode string, accepted bool, reviewer string) error {
	rec := &Record{
		ID:           uuid.New(),
		Term:         term,
		SuggestedICD: icdCode,
		Accepted:     accepted,
		Source:       SourceReview,
		SubmittedBy:  reviewer,
		CreatedAt:    time.Now().UTC(),
	}
	if accepted {
		rec.ClinicianICD = icdCode
	}
	if err := s.repo.InsertRecord(context.WithoutCancel(ctx), rec); err != nil {
		return err
	}
	s.invalidate(icdCode)
	return nil
}

// AcceptanceRate returns the fraction of feedback that accepted the given
// code, cached briefly. Codes with no history score 0, and a storage
// failure degrades to 0 rather than failing resolution.
func (s *Service) AcceptanceRate(ctx context.Context, icdCode string) float64 {
	s.mu.Lock()
	if c, ok := s.rates[icdCode]; ok && time.Since(c.fetched) < acceptanceCacheTTL {
		s.mu.Unlock()
		return c.rate
	}
	s.mu.Unlock()

	stats, err := s.repo.StatsByCode(ctx, icdCode)
	if err != nil {
		s.log.Warn().Err(err).Str("icd_code", icdCode).Msg("acceptance rate lookup failed")
		return 0
	}

	s.mu.Lock()
	s.rates[icdCode] = cachedRate{rate: stats.AcceptanceRate, fetched: time.Now()}
	s.mu.Unlock()
	return stats.AcceptanceRate
}

func (s *Service) invalidate(icdCode string) {
	s.mu.Lock()
	delete(s.rates, icdCode)
	s.mu.Unlock()
}

func (s *Service) Summaries(ctx context.Context) ([]Summary, error) {
	return s.repo.Summaries(ctx)
}

// Propose records a suggested mapping addition for later curation.
func (s *Service) Propose(ctx context.Context, actor, term, icdCode, icdTitle, justification string) (*Proposal, error) {
	term = strings.TrimSpace(term)
	icdCode = strings.TrimSpace(icdCode)
	if term == "" || icdCode == "" {
		return nil, ErrInvalidFeedback
	}

	p := &Proposal{
		ID:            uuid.New(),
		Term:          term,
		ICDCode:       icdCode,
		ICDTitle:      strings.TrimSpace(icdTitle),
		Justification: strings.TrimSpace(justification),
		Status:        StatusPending,
		ProposedBy:    actor,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.InsertProposal(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetProposal(ctx context.Context, id uuid.UUID) (*Proposal, error) {
	return s.repo.GetProposal(ctx, id)
}

func (s *Service) ListProposals(ctx context.Context, status string) ([]*Proposal, error) {
	return s.repo.ListProposals(ctx, status)
}

// Approve marks a pending proposal approved. It records a human decision
// and nothing else; approved proposals only enter the mapping table when
// an operator applies a new version through the offline apply command.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, decidedBy string) (*Proposal, error) {
	return s.decide(ctx, id, StatusApproved, decidedBy)
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, decidedBy string) (*Proposal, error) {
	return s.decide(ctx, id, StatusRejected, decidedBy)
}

func (s *Service) decide(ctx context.Context, id uuid.UUID, status, decidedBy string) (*Proposal, error) {
	if err := s.repo.Decide(ctx, id, status, decidedBy); err != nil {
		return nil, err
	}
	s.log.Info().
		Stringer("proposal_id", id).
		Str("status", status).
		Str("decided_by", decidedBy).
		Msg("mapping proposal decided")
	return s.repo.GetProposal(ctx, id)
}
