package analysis

import "context"

// Repository port for the durable analysis record store.
//
// Complete and Fail only apply to rows still in pending status; an update
// that matches no pending row is a bug in the caller and must be surfaced,
// never silently absorbed.
type Repository interface {
	Create(ctx context.Context, a *Analysis) error
	Complete(ctx context.Context, id AnalysisID, responseData string, v *Verdict, nc []NonCompliance, attempts int) error
	Fail(ctx context.Context, id AnalysisID, errMsg string, attempts int) error
	Get(ctx context.Context, id AnalysisID) (*Analysis, error)
	LatestByEntity(ctx context.Context, ref EntityRef) (*Analysis, error)
	Paginate(ctx context.Context, page, pageSize int) ([]*Analysis, error)

	// FailStalePending marks leftover pending rows as failed with the given
	// message. Called once at worker startup to reconcile rows orphaned by a
	// crash; returns the number of rows touched.
	FailStalePending(ctx context.Context, errMsg string) (int64, error)
}

// Provider port for the external document analyzer.
//
// Analyze returns the raw provider response alongside the parsed verdict so
// the caller can persist both. Errors are *ProviderError values carrying the
// transient/permanent classification.
type Provider interface {
	Analyze(ctx context.Context, doc Document) (raw string, v *Verdict, nc []NonCompliance, err error)
}
