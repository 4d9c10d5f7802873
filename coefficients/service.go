package coefficients

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/niuyj2008/performance-commission-system/logger"
)

// =============================================================================
// SERVICE - Cached snapshot with explicit invalidation
// =============================================================================

// Service owns the current Snapshot. Readers get the cached snapshot; writers
// persist a new document through the Source and invalidate the cache.
//
// The cache is invalidated on write, never on read. Call Invalidate when the
// document changed behind the service's back (another process, a Redis
// notification) and the next Snapshot call reloads it.
//
// gen counts invalidations. A reload only installs what it loaded when no
// invalidation happened while it was reading the source.
type Service struct {
	source Source
	now    func() time.Time

	mu      sync.RWMutex
	current *Snapshot
	gen     uint64
	writeMu sync.Mutex
}

// reloadAttempts bounds how often Reload starts over after losing a race
// with Invalidate.
const reloadAttempts = 3

// NewService creates a service reading from source.
func NewService(source Source) *Service {
	return &Service{source: source, now: func() time.Time { return time.Now().UTC() }}
}

// NewStaticService serves a fixed document from memory. Used by tests and tools.
func NewStaticService(doc *Document) *Service {
	return NewService(NewMemorySource(doc))
}

// Snapshot returns the cached snapshot, loading it on first use.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	return s.Reload(ctx)
}

// Invalidate drops the cached snapshot. Reloads already reading the source
// will not install what they read.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.gen++
	s.current = nil
	s.mu.Unlock()
}

// Reload loads the document from the source and replaces the cache. When
// the source holds nothing yet the defaults are stored and served.
//
// A load that raced with Invalidate is thrown away and read again. If the
// source keeps changing, the last load is returned without being cached so
// the next Snapshot call reads the source once more.
func (s *Service) Reload(ctx context.Context) (*Snapshot, error) {
	for attempt := 1; ; attempt++ {
		s.mu.RLock()
		gen := s.gen
		s.mu.RUnlock()

		snap, err := s.load(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		switch {
		case s.gen == gen:
			s.current = snap
			s.mu.Unlock()
			logger.Debug(ctx, "coefficient configuration loaded", "version", snap.Version(), "mode", snap.Mode())
			return snap, nil
		case s.current != nil && s.current.Version() >= snap.Version():
			current := s.current
			s.mu.Unlock()
			return current, nil
		}
		s.mu.Unlock()

		if attempt == reloadAttempts {
			logger.Warn(ctx, "coefficient configuration changed during every reload, serving uncached", "version", snap.Version())
			return snap, nil
		}
		logger.Debug(ctx, "coefficient configuration invalidated during reload, reading again", "version", snap.Version())
	}
}

func (s *Service) load(ctx context.Context) (*Snapshot, error) {
	doc, err := s.source.Load(ctx)
	if errors.Is(err, ErrNoDocument) {
		doc = Default()
		doc.LastUpdated = s.now()
		if err := s.source.Save(ctx, doc); err != nil {
			return nil, fmt.Errorf("seed default configuration: %w", err)
		}
		logger.Info(ctx, "coefficient configuration seeded with defaults")
	} else if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	return Compile(doc)
}

// Document returns a copy of the current document.
func (s *Service) Document(ctx context.Context) (*Document, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Document(), nil
}

// ReplaceSection swaps one section, validates the whole document, persists
// it with a bumped version and serves it from then on.
func (s *Service) ReplaceSection(ctx context.Context, section Section, raw []byte) (*Snapshot, error) {
	return s.update(ctx, func(doc *Document) error {
		return doc.ReplaceSection(section, raw)
	})
}

// Replace stores a whole new document.
func (s *Service) Replace(ctx context.Context, next *Document) (*Snapshot, error) {
	return s.update(ctx, func(doc *Document) error {
		version := doc.Version
		*doc = *next.Clone()
		doc.Version = version
		return nil
	})
}

// Reset restores the built-in defaults.
func (s *Service) Reset(ctx context.Context) (*Snapshot, error) {
	return s.Replace(ctx, Default())
}

func (s *Service) update(ctx context.Context, mutate func(*Document) error) (*Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	doc := current.Document()
	if err := mutate(doc); err != nil {
		return nil, err
	}
	doc.Version = current.Version() + 1
	doc.LastUpdated = s.now()

	snap, err := Compile(doc)
	if err != nil {
		return nil, err
	}
	if err := s.source.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("save configuration: %w", err)
	}

	s.mu.Lock()
	s.gen++
	s.current = snap
	s.mu.Unlock()

	logger.Info(ctx, "coefficient configuration updated", "version", snap.Version())
	return snap, nil
}
