package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sitejournal/compliance/internal/application"
	domain "github.com/sitejournal/compliance/internal/domain/analysis"
	auditdomain "github.com/sitejournal/compliance/internal/domain/analysiserrors"
)

// Worker drains the request queue with a bounded pool of goroutines. Each
// request is processed to a terminal record: pending row, provider call with
// retry, completed/failed persist, audit entry on failure, guard release,
// waiter resolution. Requests for different entities run concurrently up to
// the pool size; the guard keeps per-entity work serialized.
type Worker struct {
	Queue    *Queue
	Repo     domain.Repository
	Provider domain.Provider
	Guard    *Guard
	Errors   auditdomain.Repository
	Retry    *RetryPolicy
	Clock    application.Clock
	Log      *logrus.Entry

	// PersistAttempts bounds retries of the completed/failed write after a
	// successful provider call. The provider was already charged; losing the
	// verdict is worse than a duplicate write attempt.
	PersistAttempts int
	Concurrency     int

	// OnTerminal, when set, observes every terminal transition (metrics).
	OnTerminal func(status domain.Status)

	wg sync.WaitGroup
}

// Start reconciles leftover pending rows and launches the pool. Workers exit
// when the queue is closed or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if w.Concurrency <= 0 {
		w.Concurrency = 4
	}
	if w.PersistAttempts <= 0 {
		w.PersistAttempts = 3
	}

	// Crash reconciliation: a restart wipes in-memory reservations, so any
	// pending row left in the store is an orphan. Discard rather than
	// resume; resubmission creates a fresh record.
	n, err := w.Repo.FailStalePending(ctx, "analysis interrupted by restart")
	if err != nil {
		return fmt.Errorf("reconcile stale pending: %w", err)
	}
	if n > 0 {
		w.Log.WithField("count", n).Warn("failed orphaned pending analyses from previous run")
	}

	for i := 0; i < w.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
	return nil
}

// Wait blocks until all workers have drained and exited.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) loop(ctx context.Context, id int) {
	defer w.wg.Done()
	log := w.Log.WithField("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-w.Queue.Requests():
			if !ok {
				return
			}
			w.process(ctx, log, req)
		}
	}
}

func (w *Worker) process(ctx context.Context, log *logrus.Entry, req *Request) {
	// Release must survive every path below, including panics in provider
	// adapters, or the entity would be stuck unanalyzable until restart.
	defer w.Guard.Release(req.Entity)

	terminal := domain.StatusFailed
	defer func() {
		if w.OnTerminal != nil {
			w.OnTerminal(terminal)
		}
	}()

	log = log.WithFields(logrus.Fields{
		"analysis_id": req.ID,
		"entity":      req.Entity.String(),
	})

	rec := &domain.Analysis{
		ID:           req.ID,
		Entity:       req.Entity,
		AnalysisDate: w.Clock.Now(),
		RequestData:  req.RequestData,
		Status:       domain.StatusPending,
	}
	if err := w.Repo.Create(ctx, rec); err != nil {
		log.WithError(err).Error("create pending record")
		req.handle.resolve(nil, fmt.Errorf("%w: %v", domain.ErrResultNotRecorded, err))
		return
	}

	raw, verdict, nonCompliances, attempts, err := w.analyze(ctx, log, req)
	if err != nil {
		rec.Status = domain.StatusFailed
		rec.ErrorMessage = err.Error()
		rec.AttemptCount = attempts
		w.audit(ctx, req, "provider", attempts, err)
		w.persistFailed(ctx, log, rec, attempts)
		req.handle.resolve(rec, nil)
		return
	}

	rec.ResponseData = raw
	rec.Result = verdict
	rec.NonCompliances = nonCompliances
	rec.AttemptCount = attempts
	if perr := w.persistCompleted(ctx, log, req, rec); perr != nil {
		// Provider answered but the verdict could not be stored; escalate
		// with a distinct tag instead of dropping the outcome silently.
		rec.Status = domain.StatusFailed
		rec.ErrorMessage = fmt.Sprintf("%v: %v", domain.ErrResultNotRecorded, perr)
		w.persistFailed(ctx, log, rec, attempts)
		req.handle.resolve(rec, nil)
		return
	}

	rec.Status = domain.StatusCompleted
	terminal = domain.StatusCompleted
	log.WithFields(logrus.Fields{
		"attempts":  attempts,
		"compliant": verdict.Compliant,
	}).Info("analysis completed")
	req.handle.resolve(rec, nil)
}

// analyze runs the provider call under the retry policy. Transient failures
// are retried with backoff up to MaxAttempts; permanent failures stop
// immediately. Returns the attempt count actually consumed.
func (w *Worker) analyze(ctx context.Context, log *logrus.Entry, req *Request) (string, *domain.Verdict, []domain.NonCompliance, int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.Retry.MaxAttempts; attempt++ {
		if delay := w.Retry.Delay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", nil, nil, attempt - 1, &domain.ProviderError{
					Kind: domain.FailureTransient,
					Err:  ctx.Err(),
				}
			}
		}

		raw, v, nc, err := w.Provider.Analyze(ctx, req.Document)
		if err == nil {
			return raw, v, nc, attempt, nil
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("provider call failed")

		if !domain.IsTransient(err) {
			return "", nil, nil, attempt, err
		}
	}
	return "", nil, nil, w.Retry.MaxAttempts, lastErr
}

func (w *Worker) persistCompleted(ctx context.Context, log *logrus.Entry, req *Request, rec *domain.Analysis) error {
	var err error
	for i := 1; i <= w.PersistAttempts; i++ {
		err = w.Repo.Complete(ctx, rec.ID, rec.ResponseData, rec.Result, rec.NonCompliances, rec.AttemptCount)
		if err == nil {
			return nil
		}
		log.WithError(err).WithField("attempt", i).Error("persist completed analysis")
	}
	w.audit(ctx, req, "persist", w.PersistAttempts, err)
	return err
}

func (w *Worker) persistFailed(ctx context.Context, log *logrus.Entry, rec *domain.Analysis, attempts int) {
	for i := 1; i <= w.PersistAttempts; i++ {
		if err := w.Repo.Fail(ctx, rec.ID, rec.ErrorMessage, attempts); err != nil {
			log.WithError(err).WithField("attempt", i).Error("persist failed analysis")
			continue
		}
		return
	}
}

func (w *Worker) audit(ctx context.Context, req *Request, phase string, attempt int, cause error) {
	if w.Errors == nil || cause == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{
		"entity":   req.Entity.String(),
		"document": req.Document.URL,
		"mode":     string(req.Mode),
	})
	entry := &auditdomain.AnalysisError{
		AnalysisID:  string(req.ID),
		Phase:       phase,
		Attempt:     attempt,
		Message:     cause.Error(),
		DetailsJSON: string(details),
		CreatedAt:   w.Clock.Now(),
	}
	if err := w.Errors.Save(ctx, entry); err != nil {
		w.Log.WithError(err).Warn("save analysis error entry")
	}
}
