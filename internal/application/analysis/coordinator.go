package analysis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sitejournal/compliance/internal/application"
	domain "github.com/sitejournal/compliance/internal/domain/analysis"
)

// Coordinator is the facade the transport layer submits through. It owns the
// fire-and-forget vs wait semantics and deduplicates concurrent callers via
// the guard: a second Submit for an in-flight entity attaches to the existing
// work instead of queuing a duplicate.
type Coordinator struct {
	Guard *Guard
	Queue *Queue
	Clock application.Clock
	Log   *logrus.Entry

	// OnDeduped, when set, observes submissions that attached to in-flight
	// work instead of queuing a duplicate (metrics).
	OnDeduped func()

	// WaitTimeout caps how long a wait-mode caller blocks when the caller's
	// context has no earlier deadline. The analysis itself is never
	// cancelled by an expiring wait.
	WaitTimeout time.Duration
}

// Submit validates and accepts one analysis request.
//
// Fire-and-forget returns the (possibly pre-existing) result id immediately.
// Wait mode blocks until the worker resolves the record or the timeout
// elapses, in which case the id is returned with ErrStillPending so the
// caller can poll.
func (c *Coordinator) Submit(ctx context.Context, ref domain.EntityRef, doc domain.Document, mode domain.Mode) (domain.AnalysisID, *domain.Analysis, error) {
	if !ref.Valid() {
		return "", nil, domain.ErrInvalidEntityRef
	}
	if strings.TrimSpace(doc.URL) == "" {
		return "", nil, domain.ErrEmptyDocument
	}

	id := domain.AnalysisID(uuid.New().String())
	handle, created := c.Guard.Reserve(ref, id)
	if !created {
		// Already in flight: attach instead of duplicating.
		if c.OnDeduped != nil {
			c.OnDeduped()
		}
		if mode == domain.ModeFireAndForget {
			return handle.ResultID, nil, nil
		}
		return c.await(ctx, handle)
	}

	now := c.Clock.Now()
	req := &Request{
		ID:          id,
		Entity:      ref,
		Document:    doc,
		RequestData: c.requestData(ref, doc, now),
		Mode:        mode,
		SubmittedAt: now,
		handle:      handle,
	}
	if err := c.Queue.Enqueue(ctx, req); err != nil {
		// No worker will ever pick this up; waiters that attached while
		// Enqueue was in flight must hear the outcome, and the reservation
		// must not outlive the rejected submit.
		handle.resolve(nil, err)
		c.Guard.Release(ref)
		c.Log.WithField("entity", ref.String()).Warn("analysis request shed by full queue")
		return "", nil, err
	}

	c.Log.WithFields(logrus.Fields{
		"analysis_id": id,
		"entity":      ref.String(),
		"mode":        mode,
	}).Info("analysis queued")

	if mode == domain.ModeFireAndForget {
		return id, nil, nil
	}
	return c.await(ctx, handle)
}

func (c *Coordinator) await(ctx context.Context, h *Handle) (domain.AnalysisID, *domain.Analysis, error) {
	timeout := c.WaitTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.Done():
		rec, err := h.Outcome()
		return h.ResultID, rec, err
	case <-ctx.Done():
		return h.ResultID, nil, domain.ErrStillPending
	case <-timer.C:
		return h.ResultID, nil, domain.ErrStillPending
	}
}

// requestData is the audit copy of what the provider will be asked to do.
func (c *Coordinator) requestData(ref domain.EntityRef, doc domain.Document, submittedAt time.Time) string {
	b, _ := json.Marshal(map[string]any{
		"entity":       ref,
		"document_url": doc.URL,
		"submitted_at": submittedAt.UTC(),
	})
	return string(b)
}
