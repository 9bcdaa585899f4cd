package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
)

func TestWorkerCompliantFirstAttempt(t *testing.T) {
	provider := &scriptedProvider{verdict: domain.Verdict{Compliant: true, Summary: "all certificates valid"}}
	p := newPipeline(provider, newMemRepo(), 3)
	p.start()
	defer p.stop()

	id, rec, err := p.coordinator.Submit(context.Background(), mustRef(42), testDoc(), domain.ModeWait)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, id, rec.ID)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
	require.NotNil(t, rec.Result)
	assert.True(t, rec.Result.Compliant)
	assert.Empty(t, rec.NonCompliances)
	assert.Empty(t, rec.ErrorMessage)
	assert.Equal(t, 1, provider.callCount())

	stored, err := p.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestWorkerRetriesTransientThenSucceeds(t *testing.T) {
	provider := &scriptedProvider{
		script:  []error{transientErr(), transientErr(), nil},
		verdict: domain.Verdict{Compliant: false, Summary: "missing batch certificate"},
		nc: []domain.NonCompliance{
			{Issue: "no batch certificate", Severity: "major"},
		},
	}
	p := newPipeline(provider, newMemRepo(), 3)
	p.start()
	defer p.stop()

	_, rec, err := p.coordinator.Submit(context.Background(), mustRef(7), testDoc(), domain.ModeWait)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.Equal(t, 3, provider.callCount())
	require.NotNil(t, rec.Result)
	assert.False(t, rec.Result.Compliant)
	assert.Len(t, rec.NonCompliances, 1)
}

func TestWorkerFailsAfterExactRetryBudget(t *testing.T) {
	provider := &scriptedProvider{
		script: []error{transientErr(), transientErr(), transientErr(), transientErr()},
	}
	p := newPipeline(provider, newMemRepo(), 3)
	p.start()
	defer p.stop()

	id, rec, err := p.coordinator.Submit(context.Background(), mustRef(7), testDoc(), domain.ModeWait)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.NotEmpty(t, rec.ErrorMessage)
	// never fewer, never more
	assert.Equal(t, 3, provider.callCount())

	stored, err := p.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)

	entries, err := p.errs.ListByAnalysis(context.Background(), string(id), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "provider", entries[0].Phase)
	assert.Equal(t, 3, entries[0].Attempt)
}

func TestWorkerPermanentErrorNotRetried(t *testing.T) {
	provider := &scriptedProvider{script: []error{permanentErr()}}
	p := newPipeline(provider, newMemRepo(), 3)
	p.start()
	defer p.stop()

	_, rec, err := p.coordinator.Submit(context.Background(), mustRef(9), testDoc(), domain.ModeWait)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Equal(t, 1, provider.callCount())
}

func TestWorkerReleasesGuardAfterFailure(t *testing.T) {
	provider := &scriptedProvider{script: []error{permanentErr()}}
	p := newPipeline(provider, newMemRepo(), 3)
	p.start()
	defer p.stop()

	ref := mustRef(11)
	_, rec, err := p.coordinator.Submit(context.Background(), ref, testDoc(), domain.ModeWait)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)

	// a resubmission after failure must create a fresh record
	id2, rec2, err := p.coordinator.Submit(context.Background(), ref, testDoc(), domain.ModeWait)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, id2)
	assert.Equal(t, domain.StatusCompleted, rec2.Status)
	assert.Equal(t, 0, p.guard.Len())
}

func TestWorkerEscalatesWhenResultNotRecorded(t *testing.T) {
	provider := &scriptedProvider{verdict: domain.Verdict{Compliant: true, Summary: "ok"}}
	repo := newMemRepo()
	p := newPipeline(provider, repo, 3)
	p.start()
	defer p.stop()

	repo.mu.Lock()
	repo.completeErr = context.DeadlineExceeded
	repo.mu.Unlock()

	id, rec, err := p.coordinator.Submit(context.Background(), mustRef(5), testDoc(), domain.ModeWait)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "result not recorded")

	entries, err := p.errs.ListByAnalysis(context.Background(), string(id), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "persist", entries[0].Phase)
}

func TestWorkerTerminalStatusIsImmutable(t *testing.T) {
	provider := &scriptedProvider{verdict: domain.Verdict{Compliant: true, Summary: "ok"}}
	repo := newMemRepo()
	p := newPipeline(provider, repo, 3)
	p.start()
	defer p.stop()

	id, rec, err := p.coordinator.Submit(context.Background(), mustRef(3), testDoc(), domain.ModeWait)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, rec.Status)

	assert.Error(t, repo.Fail(context.Background(), id, "late failure", 1))
	assert.Error(t, repo.Complete(context.Background(), id, "{}", &domain.Verdict{}, nil, 1))

	stored, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestWorkerStartReconcilesOrphanedPending(t *testing.T) {
	repo := newMemRepo()
	orphan := &domain.Analysis{
		ID:           "orphan-1",
		Entity:       mustRef(99),
		AnalysisDate: time.Now().Add(-time.Hour),
		Status:       domain.StatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), orphan))

	p := newPipeline(&scriptedProvider{}, repo, 3)
	p.start()
	defer p.stop()

	stored, err := repo.Get(context.Background(), "orphan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "interrupted")
}
