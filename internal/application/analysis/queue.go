package analysis

import (
	"context"
	"time"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
)

// FullPolicy decides what Enqueue does when the buffer is full
type FullPolicy string

const (
	// PolicyBlock waits for capacity (bounded by the caller's context).
	PolicyBlock FullPolicy = "block"
	// PolicyReject fails immediately with ErrBackpressure.
	PolicyReject FullPolicy = "reject"
)

// Request is a queued unit of analysis work. It is owned by the queue and
// then by exactly one worker until terminal.
type Request struct {
	ID          domain.AnalysisID
	Entity      domain.EntityRef
	Document    domain.Document
	RequestData string
	Mode        domain.Mode
	SubmittedAt time.Time

	handle *Handle
}

// Queue is the bounded FIFO handoff between submit triggers and the worker
// pool.
type Queue struct {
	ch     chan *Request
	policy FullPolicy
}

func NewQueue(size int, policy FullPolicy) *Queue {
	if size <= 0 {
		size = 256
	}
	if policy != PolicyBlock {
		policy = PolicyReject
	}
	return &Queue{ch: make(chan *Request, size), policy: policy}
}

// Enqueue hands a request to the worker pool following the configured full
// policy. Fire-and-forget submissions always use the reject path so the
// originating request is never blocked.
func (q *Queue) Enqueue(ctx context.Context, req *Request) error {
	if q.policy == PolicyReject || req.Mode == domain.ModeFireAndForget {
		select {
		case q.ch <- req:
			return nil
		default:
			return domain.ErrBackpressure
		}
	}
	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return domain.ErrBackpressure
	}
}

// Requests exposes the consumer side for workers.
func (q *Queue) Requests() <-chan *Request { return q.ch }

// Depth reports the number of buffered requests.
func (q *Queue) Depth() int { return len(q.ch) }

// Close stops accepting work; draining workers exit once empty.
func (q *Queue) Close() { close(q.ch) }
