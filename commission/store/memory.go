// Package store provides in-process commission.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/niuyj2008/performance-commission-system/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

type distKey struct {
	ProjectID    commission.ProjectID
	DepartmentID commission.DepartmentID
	EmployeeID   commission.EmployeeID
}

// state holds every table. Its methods assume the caller holds the lock.
type state struct {
	projects      map[commission.ProjectID]commission.Project
	employees     map[commission.EmployeeID]commission.Employee
	areaMix       map[commission.ProjectID][]commission.AreaMixEntry
	allocations   map[commission.ProjectID][]commission.DepartmentAllocation
	stages        map[commission.StageID]commission.PaymentStage
	distributions map[distKey]commission.Distribution
	payments      []commission.PaymentRecord
	additions     map[commission.ProjectID][]commission.Addition
}

func newState() *state {
	return &state{
		projects:      make(map[commission.ProjectID]commission.Project),
		employees:     make(map[commission.EmployeeID]commission.Employee),
		areaMix:       make(map[commission.ProjectID][]commission.AreaMixEntry),
		allocations:   make(map[commission.ProjectID][]commission.DepartmentAllocation),
		stages:        make(map[commission.StageID]commission.PaymentStage),
		distributions: make(map[distKey]commission.Distribution),
		additions:     make(map[commission.ProjectID][]commission.Addition),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func read[T any](m *Memory, f func(*state) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return f(m.st)
}

func write(m *Memory, f func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(m.st)
}

// Projects

func (m *Memory) GetProject(ctx context.Context, id commission.ProjectID) (*commission.Project, error) {
	return read(m, func(s *state) (*commission.Project, error) { return s.GetProject(ctx, id) })
}

func (m *Memory) GetProjectByCode(ctx context.Context, code string) (*commission.Project, error) {
	return read(m, func(s *state) (*commission.Project, error) { return s.GetProjectByCode(ctx, code) })
}

func (m *Memory) ListProjects(ctx context.Context) ([]commission.Project, error) {
	return read(m, func(s *state) ([]commission.Project, error) { return s.ListProjects(ctx) })
}

func (m *Memory) SaveProject(ctx context.Context, p commission.Project) error {
	return write(m, func(s *state) error { return s.SaveProject(ctx, p) })
}

func (m *Memory) DeleteProject(ctx context.Context, id commission.ProjectID) error {
	return write(m, func(s *state) error { return s.DeleteProject(ctx, id) })
}

// Employees

func (m *Memory) GetEmployee(ctx context.Context, id commission.EmployeeID) (*commission.Employee, error) {
	return read(m, func(s *state) (*commission.Employee, error) { return s.GetEmployee(ctx, id) })
}

func (m *Memory) ListEmployees(ctx context.Context) ([]commission.Employee, error) {
	return read(m, func(s *state) ([]commission.Employee, error) { return s.ListEmployees(ctx) })
}

func (m *Memory) SaveEmployee(ctx context.Context, e commission.Employee) error {
	return write(m, func(s *state) error { return s.SaveEmployee(ctx, e) })
}

// Area mix

func (m *Memory) ListAreaMix(ctx context.Context, projectID commission.ProjectID) ([]commission.AreaMixEntry, error) {
	return read(m, func(s *state) ([]commission.AreaMixEntry, error) { return s.ListAreaMix(ctx, projectID) })
}

func (m *Memory) ReplaceAreaMix(ctx context.Context, projectID commission.ProjectID, entries []commission.AreaMixEntry) error {
	return write(m, func(s *state) error { return s.ReplaceAreaMix(ctx, projectID, entries) })
}

// Allocations

func (m *Memory) ListAllocations(ctx context.Context, projectID commission.ProjectID) ([]commission.DepartmentAllocation, error) {
	return read(m, func(s *state) ([]commission.DepartmentAllocation, error) { return s.ListAllocations(ctx, projectID) })
}

func (m *Memory) GetAllocation(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID) (*commission.DepartmentAllocation, error) {
	return read(m, func(s *state) (*commission.DepartmentAllocation, error) { return s.GetAllocation(ctx, projectID, dept) })
}

func (m *Memory) ReplaceAllocations(ctx context.Context, projectID commission.ProjectID, allocs []commission.DepartmentAllocation) error {
	return write(m, func(s *state) error { return s.ReplaceAllocations(ctx, projectID, allocs) })
}

// Stages

func (m *Memory) ListStages(ctx context.Context, projectID commission.ProjectID) ([]commission.PaymentStage, error) {
	return read(m, func(s *state) ([]commission.PaymentStage, error) { return s.ListStages(ctx, projectID) })
}

func (m *Memory) GetStage(ctx context.Context, id commission.StageID) (*commission.PaymentStage, error) {
	return read(m, func(s *state) (*commission.PaymentStage, error) { return s.GetStage(ctx, id) })
}

func (m *Memory) SaveStage(ctx context.Context, st commission.PaymentStage) error {
	return write(m, func(s *state) error { return s.SaveStage(ctx, st) })
}

func (m *Memory) DeleteStage(ctx context.Context, id commission.StageID) error {
	return write(m, func(s *state) error { return s.DeleteStage(ctx, id) })
}

func (m *Memory) MarkStageUsed(ctx context.Context, id commission.StageID) error {
	return write(m, func(s *state) error { return s.MarkStageUsed(ctx, id) })
}

// Distributions

func (m *Memory) ListDistributions(ctx context.Context, f commission.DistributionFilter) ([]commission.Distribution, error) {
	return read(m, func(s *state) ([]commission.Distribution, error) { return s.ListDistributions(ctx, f) })
}

func (m *Memory) SaveDistribution(ctx context.Context, d commission.Distribution) error {
	return write(m, func(s *state) error { return s.SaveDistribution(ctx, d) })
}

func (m *Memory) DeleteDistribution(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID, employeeID commission.EmployeeID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteDistribution(ctx, projectID, dept, employeeID)
}

func (m *Memory) ReplaceDistributions(ctx context.Context, projectID commission.ProjectID, dept commission.DepartmentID, ds []commission.Distribution) error {
	return write(m, func(s *state) error { return s.ReplaceDistributions(ctx, projectID, dept, ds) })
}

// Payments

func (m *Memory) AppendPayment(ctx context.Context, r commission.PaymentRecord) error {
	return write(m, func(s *state) error { return s.AppendPayment(ctx, r) })
}

func (m *Memory) ListPayments(ctx context.Context, f commission.PaymentFilter) ([]commission.PaymentRecord, error) {
	return read(m, func(s *state) ([]commission.PaymentRecord, error) { return s.ListPayments(ctx, f) })
}

func (m *Memory) DeletePayment(ctx context.Context, id commission.PaymentID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeletePayment(ctx, id)
}

// Additions

func (m *Memory) ListAdditions(ctx context.Context, projectID commission.ProjectID) ([]commission.Addition, error) {
	return read(m, func(s *state) ([]commission.Addition, error) { return s.ListAdditions(ctx, projectID) })
}

func (m *Memory) AppendAddition(ctx context.Context, a commission.Addition) error {
	return write(m, func(s *state) error { return s.AppendAddition(ctx, a) })
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(commission.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.st.clone()
	if err := fn(tm.st); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.areaMix {
		c.areaMix[k] = append([]commission.AreaMixEntry(nil), v...)
	}
	for k, v := range s.allocations {
		c.allocations[k] = append([]commission.DepartmentAllocation(nil), v...)
	}
	for k, v := range s.stages {
		c.stages[k] = v
	}
	for k, v := range s.distributions {
		c.distributions[k] = v
	}
	c.payments = append([]commission.PaymentRecord(nil), s.payments...)
	for k, v := range s.additions {
		c.additions[k] = append([]commission.Addition(nil), v...)
	}
	return c
}

// =============================================================================
// STATE - Unlocked table operations
// =============================================================================

func (s *state) GetProject(_ context.Context, id commission.ProjectID) (*commission.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *state) GetProjectByCode(_ context.Context, code string) (*commission.Project, error) {
	for _, p := range s.projects {
		if p.Code == code {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *state) ListProjects(_ context.Context) ([]commission.Project, error) {
	out := make([]commission.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (s *state) SaveProject(_ context.Context, p commission.Project) error {
	s.projects[p.ID] = p
	return nil
}

// DeleteProject cascades to every record the project owns.
func (s *state) DeleteProject(_ context.Context, id commission.ProjectID) error {
	delete(s.projects, id)
	delete(s.areaMix, id)
	delete(s.allocations, id)
	delete(s.additions, id)
	for k, st := range s.stages {
		if st.ProjectID == id {
			delete(s.stages, k)
		}
	}
	for k := range s.distributions {
		if k.ProjectID == id {
			delete(s.distributions, k)
		}
	}
	kept := s.payments[:0]
	for _, r := range s.payments {
		if r.ProjectID != id {
			kept = append(kept, r)
		}
	}
	s.payments = kept
	return nil
}

func (s *state) GetEmployee(_ context.Context, id commission.EmployeeID) (*commission.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *state) ListEmployees(_ context.Context) ([]commission.Employee, error) {
	out := make([]commission.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) SaveEmployee(_ context.Context, e commission.Employee) error {
	s.employees[e.ID] = e
	return nil
}

func (s *state) ListAreaMix(_ context.Context, projectID commission.ProjectID) ([]commission.AreaMixEntry, error) {
	return append([]commission.AreaMixEntry{}, s.areaMix[projectID]...), nil
}

func (s *state) ReplaceAreaMix(_ context.Context, projectID commission.ProjectID, entries []commission.AreaMixEntry) error {
	s.areaMix[projectID] = append([]commission.AreaMixEntry(nil), entries...)
	return nil
}

func (s *state) ListAllocations(_ context.Context, projectID commission.ProjectID) ([]commission.DepartmentAllocation, error) {
	return append([]commission.DepartmentAllocation{}, s.allocations[projectID]...), nil
}

func (s *state) GetAllocation(_ context.Context, projectID commission.ProjectID, dept commission.DepartmentID) (*commission.DepartmentAllocation, error) {
	for _, a := range s.allocations[projectID] {
		if a.DepartmentID == dept {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *state) ReplaceAllocations(_ context.Context, projectID commission.ProjectID, allocs []commission.DepartmentAllocation) error {
	s.allocations[projectID] = append([]commission.DepartmentAllocation(nil), allocs...)
	return nil
}

func (s *state) ListStages(_ context.Context, projectID commission.ProjectID) ([]commission.PaymentStage, error) {
	out := []commission.PaymentStage{}
	for _, st := range s.stages {
		if st.ProjectID == projectID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *state) GetStage(_ context.Context, id commission.StageID) (*commission.PaymentStage, error) {
	st, ok := s.stages[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// SaveStage upserts st. The Used flag is never cleared by a save.
func (s *state) SaveStage(_ context.Context, st commission.PaymentStage) error {
	if prev, ok := s.stages[st.ID]; ok && prev.Used {
		st.Used = true
	}
	s.stages[st.ID] = st
	return nil
}

func (s *state) DeleteStage(_ context.Context, id commission.StageID) error {
	delete(s.stages, id)
	return nil
}

func (s *state) MarkStageUsed(_ context.Context, id commission.StageID) error {
	st, ok := s.stages[id]
	if !ok {
		return &commission.NotFoundError{Kind: "payment stage", ID: string(id)}
	}
	st.Used = true
	s.stages[id] = st
	return nil
}

func (s *state) ListDistributions(_ context.Context, f commission.DistributionFilter) ([]commission.Distribution, error) {
	out := []commission.Distribution{}
	for _, d := range s.distributions {
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if a.DepartmentID != b.DepartmentID {
			return a.DepartmentID < b.DepartmentID
		}
		return a.EmployeeID < b.EmployeeID
	})
	return out, nil
}

func (s *state) SaveDistribution(_ context.Context, d commission.Distribution) error {
	s.distributions[distKey{d.ProjectID, d.DepartmentID, d.EmployeeID}] = d
	return nil
}

func (s *state) DeleteDistribution(_ context.Context, projectID commission.ProjectID, dept commission.DepartmentID, employeeID commission.EmployeeID) (bool, error) {
	k := distKey{projectID, dept, employeeID}
	if _, ok := s.distributions[k]; !ok {
		return false, nil
	}
	delete(s.distributions, k)
	return true, nil
}

func (s *state) ReplaceDistributions(_ context.Context, projectID commission.ProjectID, dept commission.DepartmentID, ds []commission.Distribution) error {
	for k := range s.distributions {
		if k.ProjectID == projectID && k.DepartmentID == dept {
			delete(s.distributions, k)
		}
	}
	for _, d := range ds {
		s.distributions[distKey{projectID, dept, d.EmployeeID}] = d
	}
	return nil
}

func (s *state) AppendPayment(_ context.Context, r commission.PaymentRecord) error {
	// Binary search for insertion point keeps payments ordered by date.
	i := sort.Search(len(s.payments), func(i int) bool {
		return s.payments[i].Date.After(r.Date)
	})
	s.payments = append(s.payments, commission.PaymentRecord{})
	copy(s.payments[i+1:], s.payments[i:])
	s.payments[i] = r
	return nil
}

func (s *state) ListPayments(_ context.Context, f commission.PaymentFilter) ([]commission.PaymentRecord, error) {
	out := []commission.PaymentRecord{}
	for _, r := range s.payments {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *state) DeletePayment(_ context.Context, id commission.PaymentID) (bool, error) {
	for i, r := range s.payments {
		if r.ID == id {
			s.payments = append(s.payments[:i], s.payments[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *state) ListAdditions(_ context.Context, projectID commission.ProjectID) ([]commission.Addition, error) {
	return append([]commission.Addition{}, s.additions[projectID]...), nil
}

func (s *state) AppendAddition(_ context.Context, a commission.Addition) error {
	s.additions[a.ProjectID] = append(s.additions[a.ProjectID], a)
	return nil
}

var (
	_ commission.TxStore = (*TxMemory)(nil)
	_ commission.Store   = (*state)(nil)
)
