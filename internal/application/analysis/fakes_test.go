package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
	auditdomain "github.com/sitejournal/compliance/internal/domain/analysiserrors"
	docdomain "github.com/sitejournal/compliance/internal/domain/documents"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// stepClock advances one second per reading so repeated Now() calls are
// distinguishable.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(time.Second)
	return now
}

// memRepo is an in-memory result store enforcing the same pending guard as
// the SQL repositories.
type memRepo struct {
	mu          sync.Mutex
	recs        map[domain.AnalysisID]*domain.Analysis
	createErr   error
	completeErr error
	failErr     error
	completeCnt int
	failCnt     int
}

func newMemRepo() *memRepo {
	return &memRepo{recs: make(map[domain.AnalysisID]*domain.Analysis)}
}

func (r *memRepo) Create(ctx context.Context, a *domain.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *a
	r.recs[a.ID] = &cp
	return nil
}

func (r *memRepo) Complete(ctx context.Context, id domain.AnalysisID, responseData string, v *domain.Verdict, nc []domain.NonCompliance, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeCnt++
	if r.completeErr != nil {
		return r.completeErr
	}
	rec, ok := r.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Status != domain.StatusPending {
		return fmt.Errorf("analysis %s is not pending", id)
	}
	rec.ResponseData = responseData
	rec.Result = v
	rec.NonCompliances = nc
	rec.Status = domain.StatusCompleted
	rec.AttemptCount = attempts
	return nil
}

func (r *memRepo) Fail(ctx context.Context, id domain.AnalysisID, errMsg string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCnt++
	if r.failErr != nil {
		return r.failErr
	}
	rec, ok := r.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Status != domain.StatusPending {
		return fmt.Errorf("analysis %s is not pending", id)
	}
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = errMsg
	rec.AttemptCount = attempts
	return nil
}

func (r *memRepo) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memRepo) LatestByEntity(ctx context.Context, ref domain.EntityRef) (*domain.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Analysis
	for _, rec := range r.recs {
		if rec.Entity != ref {
			continue
		}
		if latest == nil || rec.AnalysisDate.After(latest.AnalysisDate) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memRepo) Paginate(ctx context.Context, page, pageSize int) ([]*domain.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Analysis
	for _, rec := range r.recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) FailStalePending(ctx context.Context, errMsg string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.recs {
		if rec.Status == domain.StatusPending {
			rec.Status = domain.StatusFailed
			rec.ErrorMessage = errMsg
			n++
		}
	}
	return n, nil
}

func (r *memRepo) pendingCount(ref domain.EntityRef) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.recs {
		if rec.Entity == ref && rec.Status == domain.StatusPending {
			n++
		}
	}
	return n
}

// scriptedProvider answers per-call from a script of errors; a nil entry is
// a success returning the configured verdict.
type scriptedProvider struct {
	mu      sync.Mutex
	calls   int
	script  []error
	verdict domain.Verdict
	nc      []domain.NonCompliance
	raw     string

	// gate, when set, blocks every call until closed
	gate chan struct{}
}

func (p *scriptedProvider) Analyze(ctx context.Context, doc domain.Document) (string, *domain.Verdict, []domain.NonCompliance, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", nil, nil, &domain.ProviderError{Kind: domain.FailureTransient, Err: ctx.Err()}
		}
	}
	p.mu.Lock()
	n := p.calls
	p.calls++
	p.mu.Unlock()

	if n < len(p.script) && p.script[n] != nil {
		return "", nil, nil, p.script[n]
	}
	raw := p.raw
	if raw == "" {
		raw = `{"compliant":true,"summary":"ok","non_compliances":[]}`
	}
	v := p.verdict
	return raw, &v, p.nc, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func transientErr() error {
	return &domain.ProviderError{Kind: domain.FailureTransient, StatusCode: 500, Err: errors.New("internal error")}
}

func permanentErr() error {
	return &domain.ProviderError{Kind: domain.FailurePermanent, StatusCode: 400, Err: errors.New("unsupported format")}
}

// memErrRepo collects audit entries.
type memErrRepo struct {
	mu      sync.Mutex
	entries []*auditdomain.AnalysisError
}

func (r *memErrRepo) Save(ctx context.Context, e *auditdomain.AnalysisError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memErrRepo) ListByAnalysis(ctx context.Context, analysisID string, limit int) ([]*auditdomain.AnalysisError, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auditdomain.AnalysisError
	for _, e := range r.entries {
		if e.AnalysisID == analysisID {
			out = append(out, e)
		}
	}
	return out, nil
}

type pipeline struct {
	guard       *Guard
	queue       *Queue
	worker      *Worker
	coordinator *Coordinator
	repo        *memRepo
	provider    *scriptedProvider
	errs        *memErrRepo
	cancel      context.CancelFunc
}

func newPipeline(provider *scriptedProvider, repo *memRepo, maxAttempts int) *pipeline {
	guard := NewGuard()
	queue := NewQueue(64, PolicyReject)
	clock := fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	errs := &memErrRepo{}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	entry := logrus.NewEntry(log)

	worker := &Worker{
		Queue:           queue,
		Repo:            repo,
		Provider:        provider,
		Guard:           guard,
		Errors:          errs,
		Retry:           NewRetryPolicy(maxAttempts, time.Millisecond, 5*time.Millisecond),
		Clock:           clock,
		Log:             entry,
		PersistAttempts: 2,
		Concurrency:     2,
	}
	coordinator := &Coordinator{
		Guard:       guard,
		Queue:       queue,
		Clock:       clock,
		Log:         entry,
		WaitTimeout: 5 * time.Second,
	}
	return &pipeline{
		guard:       guard,
		queue:       queue,
		worker:      worker,
		coordinator: coordinator,
		repo:        repo,
		provider:    provider,
		errs:        errs,
	}
}

func (p *pipeline) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	_ = p.worker.Start(ctx)
}

func (p *pipeline) stop() {
	p.queue.Close()
	p.worker.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

func discardLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

// memDocRepo is an in-memory documents.Repository.
type memDocRepo struct {
	mu   sync.Mutex
	docs []*docdomain.QualityDocument
}

func (r *memDocRepo) add(ref domain.EntityRef, url string, uploaded time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, &docdomain.QualityDocument{
		ID:         int64(len(r.docs) + 1),
		Entity:     ref,
		FileName:   "cert.pdf",
		URL:        url,
		ObjectKey:  url,
		UploadedAt: uploaded,
	})
}

func (r *memDocRepo) Save(ctx context.Context, d *docdomain.QualityDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = int64(len(r.docs) + 1)
	r.docs = append(r.docs, d)
	return nil
}

func (r *memDocRepo) ListByEntity(ctx context.Context, ref domain.EntityRef, limit int) ([]*docdomain.QualityDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*docdomain.QualityDocument
	for _, d := range r.docs {
		if d.Entity == ref {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDocRepo) LatestByEntity(ctx context.Context, ref domain.EntityRef) (*docdomain.QualityDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *docdomain.QualityDocument
	for _, d := range r.docs {
		if d.Entity != ref {
			continue
		}
		if latest == nil || d.UploadedAt.After(latest.UploadedAt) {
			latest = d
		}
	}
	return latest, nil
}

func mustRef(id int64) domain.EntityRef {
	return domain.EntityRef{Kind: domain.KindMaterialDelivery, ID: id}
}

func testDoc() domain.Document {
	return domain.Document{Key: "material_delivery/42/cert.pdf", URL: "http://minio/docs/cert.pdf", ContentType: "application/pdf"}
}
