package analysis

import (
	"context"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
	auditdomain "github.com/sitejournal/compliance/internal/domain/analysiserrors"
	docdomain "github.com/sitejournal/compliance/internal/domain/documents"
)

// Service implements the external triggers around the coordinator: the
// fire-and-forget upload path, the explicit wait-mode analyze call, and the
// status queries clients poll.
type Service struct {
	Coordinator *Coordinator
	Repo        domain.Repository
	Documents   docdomain.Repository
	Errors      auditdomain.Repository
}

// SubmitForAnalysis queues analysis for an already-stored document and
// returns immediately. Invoked after upload; never blocks on the provider.
func (s *Service) SubmitForAnalysis(ctx context.Context, ref domain.EntityRef, doc domain.Document) (domain.AnalysisID, error) {
	id, _, err := s.Coordinator.Submit(ctx, ref, doc, domain.ModeFireAndForget)
	return id, err
}

// RequestAnalysis runs a wait-mode analysis against the latest stored
// quality document for ref. Fails with ErrNoDocuments when nothing has been
// uploaded; no record is created in that case.
func (s *Service) RequestAnalysis(ctx context.Context, ref domain.EntityRef) (domain.AnalysisID, *domain.Analysis, error) {
	if !ref.Valid() {
		return "", nil, domain.ErrInvalidEntityRef
	}
	latest, err := s.Documents.LatestByEntity(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	if latest == nil {
		return "", nil, domain.ErrNoDocuments
	}
	doc := domain.Document{
		Key:         latest.ObjectKey,
		URL:         latest.URL,
		ContentType: latest.ContentType,
	}
	return s.Coordinator.Submit(ctx, ref, doc, domain.ModeWait)
}

// GetResult returns one analysis record by id.
func (s *Service) GetResult(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	return s.Repo.Get(ctx, id)
}

// LatestForEntity returns the most recent record for an entity reference.
func (s *Service) LatestForEntity(ctx context.Context, ref domain.EntityRef) (*domain.Analysis, error) {
	if !ref.Valid() {
		return nil, domain.ErrInvalidEntityRef
	}
	return s.Repo.LatestByEntity(ctx, ref)
}

// List returns a page of analysis records, newest first.
func (s *Service) List(ctx context.Context, page, pageSize int) ([]*domain.Analysis, error) {
	return s.Repo.Paginate(ctx, page, pageSize)
}

// ErrorsFor returns the persisted failure entries for an analysis.
func (s *Service) ErrorsFor(ctx context.Context, id domain.AnalysisID, limit int) ([]*auditdomain.AnalysisError, error) {
	if s.Errors == nil {
		return nil, nil
	}
	return s.Errors.ListByAnalysis(ctx, string(id), limit)
}
