package analysis

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
)

func TestGuardReserveAndRelease(t *testing.T) {
	g := NewGuard()
	ref := mustRef(1)

	h1, created := g.Reserve(ref, "a-1")
	require.True(t, created)
	assert.Equal(t, domain.AnalysisID("a-1"), h1.ResultID)

	// second reservation attaches to the first
	h2, created := g.Reserve(ref, "a-2")
	assert.False(t, created)
	assert.Same(t, h1, h2)
	assert.Equal(t, domain.AnalysisID("a-1"), h2.ResultID)

	peeked, ok := g.Peek(ref)
	require.True(t, ok)
	assert.Same(t, h1, peeked)

	g.Release(ref)
	_, ok = g.Peek(ref)
	assert.False(t, ok)

	h3, created := g.Reserve(ref, "a-3")
	assert.True(t, created)
	assert.NotSame(t, h1, h3)
}

func TestGuardIndependentKeysDoNotInterfere(t *testing.T) {
	g := NewGuard()

	_, created := g.Reserve(mustRef(1), "a-1")
	require.True(t, created)
	_, created = g.Reserve(domain.EntityRef{Kind: domain.KindWorkJournalEntry, ID: 1}, "a-2")
	require.True(t, created)
	assert.Equal(t, 2, g.Len())
}

func TestGuardConcurrentReserveSingleWinner(t *testing.T) {
	g := NewGuard()
	ref := mustRef(42)

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan domain.AnalysisID, racers)
	seen := make(chan domain.AnalysisID, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.AnalysisID(fmt.Sprintf("a-%d", i))
			h, created := g.Reserve(ref, id)
			if created {
				wins <- h.ResultID
			}
			seen <- h.ResultID
		}(i)
	}
	wg.Wait()
	close(wins)
	close(seen)

	assert.Len(t, wins, 1)
	winner := <-wins
	for id := range seen {
		assert.Equal(t, winner, id)
	}
	assert.Equal(t, 1, g.Len())
}

func TestHandleResolvesWaiters(t *testing.T) {
	g := NewGuard()
	h, _ := g.Reserve(mustRef(5), "a-5")

	rec := &domain.Analysis{ID: "a-5", Status: domain.StatusCompleted}
	go h.resolve(rec, nil)

	<-h.Done()
	got, err := h.Outcome()
	require.NoError(t, err)
	assert.Same(t, rec, got)
}
