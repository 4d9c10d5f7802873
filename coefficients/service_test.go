package coefficients

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSource parks the next Load after it has read the document, until
// release is closed.
type gatedSource struct {
	*MemorySource
	armed   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func newGatedSource(doc *Document) *gatedSource {
	g := &gatedSource{
		MemorySource: NewMemorySource(doc),
		loaded:       make(chan struct{}),
		release:      make(chan struct{}),
	}
	g.armed.Store(true)
	return g
}

func (g *gatedSource) Load(ctx context.Context) (*Document, error) {
	doc, err := g.MemorySource.Load(ctx)
	if g.armed.CompareAndSwap(true, false) {
		close(g.loaded)
		<-g.release
	}
	return doc, err
}

func versioned(version int) *Document {
	doc := Default()
	doc.Version = version
	return doc
}

// =============================================================================
// RELOAD VS INVALIDATE
// =============================================================================

func TestService_ReloadDiscardsLoadOvertakenByInvalidate(t *testing.T) {
	ctx := context.Background()
	src := newGatedSource(versioned(1))
	svc := NewService(src)

	// GIVEN: A reload that has read version 1 and is parked
	type result struct {
		snap *Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := svc.Reload(ctx)
		done <- result{snap, err}
	}()
	<-src.loaded

	// WHEN: A peer stores version 2 and the change is announced
	require.NoError(t, src.MemorySource.Save(ctx, versioned(2)))
	svc.Invalidate()
	close(src.release)
	res := <-done

	// THEN: The stale read is dropped and version 2 is served
	require.NoError(t, res.err)
	assert.Equal(t, 2, res.snap.Version())
	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version())
}

func TestService_ReloadKeepsNewerLocalWrite(t *testing.T) {
	ctx := context.Background()
	src := newGatedSource(versioned(1))
	svc := NewService(src)
	src.armed.Store(false)
	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	// GIVEN: A reload parked after reading version 1
	src.armed.Store(true)
	done := make(chan *Snapshot, 1)
	go func() {
		snap, _ := svc.Reload(ctx)
		done <- snap
	}()
	<-src.loaded

	// WHEN: This process writes version 2 before the reload finishes
	written, err := svc.ReplaceSection(ctx, SectionBaseRates, []byte(`{"office": 9}`))
	require.NoError(t, err)
	close(src.release)
	reloaded := <-done

	// THEN: The cached snapshot stays at the written version
	assert.Equal(t, 2, written.Version())
	assert.Equal(t, 2, reloaded.Version())
	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version())
	assert.True(t, snap.BaseRate("office").Coefficient.Equal(dec("9")))
}

func TestService_InvalidateForcesReload(t *testing.T) {
	ctx := context.Background()
	svc, src := newTestService(t)
	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	// GIVEN: The stored document changes behind the service
	require.NoError(t, src.Save(ctx, versioned(5)))
	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Version())

	// WHEN: The cache is invalidated
	svc.Invalidate()

	// THEN: The next read sees the new version
	snap, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Version())
}
