/*
Package payment maintains the ordered payment stages of each project.

PURPOSE:
  A payment stage is a dated milestone that releases a cumulative ratio of
  each department's allocation. Stages are freely editable until the first
  distribution references one of them, after which that stage is frozen.

STATE MACHINE (per stage):
  Unused → Used, one way. The reconciler flips the persisted Used flag in
  the same transaction as the first distribution that references the stage.

REPLACE IN TWO PHASES:
  PlanReplace(existing, incoming) is pure: it validates the submitted list
  and either returns a Plan or fails before anything is written.
  Commit(plan) then applies deletes, updates and inserts in one transaction.

  Validation of the submitted list, in order:
    - date and name present, dates non-decreasing, (date, name) unique
    - current ratio within [0, 1]
    - running Σ current == total within 1e-4 (previous is the running sum
      before the stage)
    - every existing Used stage appears verbatim: same id, date, name,
      current and total ratio within 1e-4

SEE ALSO:
  - distribution/reconciler.go: Marks stages used, bounds stage-tagged amounts
*/
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/logger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPES
// =============================================================================

// StageInput is one submitted stage. An empty ID asks for a new stage.
type StageInput struct {
	ID           commission.StageID
	Date         time.Time
	Name         string
	CurrentRatio decimal.Decimal
	TotalRatio   decimal.Decimal
	Notes        string
}

// StageUsage is an existing stage and the number of distributions tagged
// to it.
type StageUsage struct {
	Stage      commission.PaymentStage
	UsageCount int
}

// Locked reports whether the stage may no longer change.
func (u StageUsage) Locked() bool { return u.Stage.Used || u.UsageCount > 0 }

// Plan is the set of writes that turns the stored stages into the
// submitted list.
type Plan struct {
	ProjectID commission.ProjectID
	Delete    []commission.StageID
	Update    []commission.PaymentStage
	Insert    []commission.PaymentStage
	Keep      []commission.PaymentStage
}

// Stages returns the resulting list in submitted order.
func (p Plan) Stages() []commission.PaymentStage {
	out := make([]commission.PaymentStage, 0, len(p.Update)+len(p.Insert)+len(p.Keep))
	out = append(out, p.Keep...)
	out = append(out, p.Update...)
	out = append(out, p.Insert...)
	sortBySeq(out)
	return out
}

func sortBySeq(stages []commission.PaymentStage) {
	for i := 1; i < len(stages); i++ {
		for j := i; j > 0 && stages[j].Seq < stages[j-1].Seq; j-- {
			stages[j], stages[j-1] = stages[j-1], stages[j]
		}
	}
}

// =============================================================================
// PLANNING - Pure validation
// =============================================================================

// PlanReplace validates incoming against the existing stages of projectID.
// It returns an InvalidInputError for a malformed list, a NotFoundError for
// an id that is not one of the project's stages, and a ConflictError naming
// every used stage the list would alter or drop.
func PlanReplace(projectID commission.ProjectID, existing []StageUsage, incoming []StageInput) (Plan, error) {
	plan := Plan{ProjectID: projectID}

	byID := make(map[commission.StageID]StageUsage, len(existing))
	for _, u := range existing {
		byID[u.Stage.ID] = u
	}

	seenIDs := map[commission.StageID]bool{}
	seenKeys := map[string]bool{}
	cumulative := decimal.Zero
	var lastDate time.Time
	listed := make(map[commission.StageID]StageInput, len(incoming))
	built := make([]commission.PaymentStage, len(incoming))

	for i, in := range incoming {
		field := func(name string) string { return fmt.Sprintf("stages[%d].%s", i, name) }

		name := strings.TrimSpace(in.Name)
		if in.Date.IsZero() {
			return Plan{}, &commission.InvalidInputError{Field: field("date"), Reason: "is required"}
		}
		if name == "" {
			return Plan{}, &commission.InvalidInputError{Field: field("name"), Reason: "is required"}
		}
		if in.Date.Before(lastDate) {
			return Plan{}, &commission.InvalidInputError{Field: field("date"), Reason: "stages must be listed in date order"}
		}
		lastDate = in.Date

		key := in.Date.Format(commission.DateLayout) + "\x00" + name
		if seenKeys[key] {
			return Plan{}, &commission.InvalidInputError{Field: field("name"), Reason: fmt.Sprintf("duplicate stage %q on %s", name, in.Date.Format(commission.DateLayout))}
		}
		seenKeys[key] = true

		if in.CurrentRatio.IsNegative() || in.CurrentRatio.GreaterThan(decimal.NewFromInt(1)) {
			return Plan{}, &commission.InvalidInputError{Field: field("current_ratio"), Reason: "must be within [0, 1]"}
		}
		previous := cumulative
		cumulative = cumulative.Add(in.CurrentRatio)
		if !commission.RatioEqual(cumulative, in.TotalRatio) {
			return Plan{}, &commission.InvalidInputError{
				Field:  field("total_ratio"),
				Reason: fmt.Sprintf("is %s but the cumulative ratio is %s", in.TotalRatio, cumulative),
			}
		}

		if in.ID != "" {
			if seenIDs[in.ID] {
				return Plan{}, &commission.InvalidInputError{Field: field("id"), Reason: fmt.Sprintf("stage %s listed twice", in.ID)}
			}
			seenIDs[in.ID] = true
			if _, ok := byID[in.ID]; !ok {
				return Plan{}, &commission.NotFoundError{Kind: "payment stage", ID: string(in.ID), Reason: fmt.Sprintf("not a stage of project %s", projectID)}
			}
			listed[in.ID] = in
		}

		built[i] = commission.PaymentStage{
			ID:            in.ID,
			ProjectID:     projectID,
			Date:          in.Date,
			Name:          name,
			PreviousRatio: previous,
			CurrentRatio:  in.CurrentRatio,
			TotalRatio:    in.TotalRatio,
			Notes:         in.Notes,
			Seq:           i + 1,
		}
	}

	// Every used stage must survive verbatim.
	var conflicts []commission.UsedStage
	for _, u := range existing {
		if !u.Locked() {
			continue
		}
		in, ok := listed[u.Stage.ID]
		reason := ""
		switch {
		case !ok:
			reason = "stage would be deleted"
		default:
			reason = changedField(u.Stage, in)
		}
		if reason != "" {
			conflicts = append(conflicts, commission.UsedStage{
				ID:         u.Stage.ID,
				Name:       u.Stage.Name,
				Date:       u.Stage.DateKey(),
				UsageCount: u.UsageCount,
				Reason:     reason,
			})
		}
	}
	if len(conflicts) > 0 {
		return Plan{}, &commission.ConflictError{Stages: conflicts}
	}

	for _, u := range existing {
		if _, ok := listed[u.Stage.ID]; !ok {
			plan.Delete = append(plan.Delete, u.Stage.ID)
		}
	}
	for _, st := range built {
		u := byID[st.ID]
		switch {
		case st.ID == "":
			plan.Insert = append(plan.Insert, st)
		case u.Locked():
			kept := u.Stage
			kept.Seq = st.Seq
			plan.Keep = append(plan.Keep, kept)
		default:
			plan.Update = append(plan.Update, st)
		}
	}
	return plan, nil
}

// changedField names the first field in which in differs from s, or "".
func changedField(s commission.PaymentStage, in StageInput) string {
	switch {
	case s.DateKey() != in.Date.Format(commission.DateLayout):
		return "date would change"
	case s.Name != strings.TrimSpace(in.Name):
		return "name would change"
	case !commission.RatioEqual(s.CurrentRatio, in.CurrentRatio):
		return "current ratio would change"
	case !commission.RatioEqual(s.TotalRatio, in.TotalRatio):
		return "total ratio would change"
	}
	return ""
}

// =============================================================================
// LEDGER - Store-backed operations
// =============================================================================

// Ledger reads and replaces the payment stages of projects.
type Ledger struct {
	Store commission.TxStore
	NewID func() string
}

func NewLedger(store commission.TxStore) *Ledger {
	return &Ledger{Store: store, NewID: uuid.NewString}
}

// Usage loads the stages of a project with their usage counts.
func Usage(ctx context.Context, st commission.Store, projectID commission.ProjectID) ([]StageUsage, error) {
	stages, err := st.ListStages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	dists, err := st.ListDistributions(ctx, commission.DistributionFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	counts := map[commission.StageID]int{}
	for _, d := range dists {
		if d.StageID != "" {
			counts[d.StageID]++
		}
	}
	out := make([]StageUsage, len(stages))
	for i, s := range stages {
		out[i] = StageUsage{Stage: s, UsageCount: counts[s.ID]}
	}
	return out, nil
}

// Replace swaps the project's whole stage list.
func (l *Ledger) Replace(ctx context.Context, projectID commission.ProjectID, incoming []StageInput) ([]commission.PaymentStage, error) {
	var result []commission.PaymentStage
	err := l.Store.WithTx(ctx, func(tx commission.Store) error {
		if err := requireProject(ctx, tx, projectID); err != nil {
			return err
		}
		existing, err := Usage(ctx, tx, projectID)
		if err != nil {
			return err
		}
		plan, err := PlanReplace(projectID, existing, incoming)
		if err != nil {
			return err
		}
		result, err = l.commit(ctx, tx, plan)
		return err
	})
	if err != nil {
		if commission.IsConflict(err) {
			logger.Warn(ctx, "payment stage replace rejected", "project_id", projectID, "error", err)
		}
		return nil, err
	}
	logger.Info(ctx, "payment stages replaced", "project_id", projectID, "count", len(result))
	return result, nil
}

// Commit applies plan in one transaction.
func (l *Ledger) Commit(ctx context.Context, plan Plan) ([]commission.PaymentStage, error) {
	var result []commission.PaymentStage
	err := l.Store.WithTx(ctx, func(tx commission.Store) error {
		var err error
		result, err = l.commit(ctx, tx, plan)
		return err
	})
	return result, err
}

func (l *Ledger) commit(ctx context.Context, tx commission.Store, plan Plan) ([]commission.PaymentStage, error) {
	for _, id := range plan.Delete {
		if err := tx.DeleteStage(ctx, id); err != nil {
			return nil, fmt.Errorf("delete stage %s: %w", id, err)
		}
	}
	for _, s := range plan.Keep {
		if err := tx.SaveStage(ctx, s); err != nil {
			return nil, fmt.Errorf("reorder stage %s: %w", s.ID, err)
		}
	}
	for _, s := range plan.Update {
		if err := tx.SaveStage(ctx, s); err != nil {
			return nil, fmt.Errorf("update stage %s: %w", s.ID, err)
		}
	}
	for i := range plan.Insert {
		plan.Insert[i].ID = commission.StageID(l.NewID())
		if err := tx.SaveStage(ctx, plan.Insert[i]); err != nil {
			return nil, fmt.Errorf("insert stage: %w", err)
		}
	}
	return plan.Stages(), nil
}

// =============================================================================
// SINGLE-STAGE MUTATIONS - Expressed as a replace of the full list
// =============================================================================

// Update changes one stage and recomputes the cumulative totals of the
// stages after it. A used stage, or a change that would shift the totals of
// a later used stage, fails with Conflict.
func (l *Ledger) Update(ctx context.Context, projectID commission.ProjectID, id commission.StageID, in StageInput) ([]commission.PaymentStage, error) {
	return l.mutate(ctx, projectID, id, func(list []StageInput, i int) []StageInput {
		in.ID = id
		list[i] = in
		return list
	})
}

// Delete removes one stage. Deleting a used stage fails with Conflict.
func (l *Ledger) Delete(ctx context.Context, projectID commission.ProjectID, id commission.StageID) error {
	_, err := l.mutate(ctx, projectID, id, func(list []StageInput, i int) []StageInput {
		return append(list[:i], list[i+1:]...)
	})
	return err
}

func (l *Ledger) mutate(ctx context.Context, projectID commission.ProjectID, id commission.StageID, edit func([]StageInput, int) []StageInput) ([]commission.PaymentStage, error) {
	var result []commission.PaymentStage
	err := l.Store.WithTx(ctx, func(tx commission.Store) error {
		existing, err := Usage(ctx, tx, projectID)
		if err != nil {
			return err
		}
		idx := -1
		list := make([]StageInput, len(existing))
		for i, u := range existing {
			if u.Stage.ID == id {
				idx = i
			}
			list[i] = inputFrom(u.Stage)
		}
		if idx < 0 {
			return &commission.NotFoundError{Kind: "payment stage", ID: string(id)}
		}
		if target := existing[idx]; target.Locked() {
			return &commission.ConflictError{Stages: []commission.UsedStage{{
				ID:         target.Stage.ID,
				Name:       target.Stage.Name,
				Date:       target.Stage.DateKey(),
				UsageCount: target.UsageCount,
				Reason:     "stage is referenced by distributions",
			}}}
		}

		list = rechain(edit(list, idx))
		plan, err := PlanReplace(projectID, existing, list)
		if err != nil {
			return err
		}
		result, err = l.commit(ctx, tx, plan)
		return err
	})
	return result, err
}

func inputFrom(s commission.PaymentStage) StageInput {
	return StageInput{
		ID:           s.ID,
		Date:         s.Date,
		Name:         s.Name,
		CurrentRatio: s.CurrentRatio,
		TotalRatio:   s.TotalRatio,
		Notes:        s.Notes,
	}
}

// rechain sorts by date (stable) and recomputes every total as the running
// sum of current ratios.
func rechain(list []StageInput) []StageInput {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].Date.Before(list[j-1].Date); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
	cumulative := decimal.Zero
	for i := range list {
		cumulative = cumulative.Add(list[i].CurrentRatio)
		list[i].TotalRatio = cumulative
	}
	return list
}

func requireProject(ctx context.Context, st commission.Store, id commission.ProjectID) error {
	p, err := st.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return &commission.NotFoundError{Kind: "project", ID: string(id)}
	}
	return nil
}

// =============================================================================
// LISTING
// =============================================================================

// StageView is a stage annotated with what has been distributed against it.
type StageView struct {
	commission.PaymentStage
	UsageCount       int                                         `json:"usage_count"`
	PaidAmount       decimal.Decimal                             `json:"paid_amount"`
	PaidByDepartment map[commission.DepartmentID]decimal.Decimal `json:"paid_by_department"`
}

// StageList is the annotated stage list of a project.
type StageList struct {
	ProjectID             commission.ProjectID                        `json:"project_id"`
	Stages                []StageView                                 `json:"stages"`
	TotalPaidAmount       decimal.Decimal                             `json:"total_paid_amount"`
	TotalPaidByDepartment map[commission.DepartmentID]decimal.Decimal `json:"total_paid_by_department"`
}

// List returns the stages of a project ordered by date then insertion,
// with usage and paid-amount annotations.
func (l *Ledger) List(ctx context.Context, projectID commission.ProjectID) (*StageList, error) {
	if err := requireProject(ctx, l.Store, projectID); err != nil {
		return nil, err
	}
	stages, err := l.Store.ListStages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	dists, err := l.Store.ListDistributions(ctx, commission.DistributionFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}

	out := &StageList{
		ProjectID:             projectID,
		Stages:                make([]StageView, len(stages)),
		TotalPaidAmount:       decimal.Zero,
		TotalPaidByDepartment: map[commission.DepartmentID]decimal.Decimal{},
	}
	index := make(map[commission.StageID]int, len(stages))
	for i, s := range stages {
		index[s.ID] = i
		out.Stages[i] = StageView{
			PaymentStage:     s,
			PaidAmount:       decimal.Zero,
			PaidByDepartment: map[commission.DepartmentID]decimal.Decimal{},
		}
	}
	for _, d := range dists {
		out.TotalPaidAmount = out.TotalPaidAmount.Add(d.Amount)
		out.TotalPaidByDepartment[d.DepartmentID] = out.TotalPaidByDepartment[d.DepartmentID].Add(d.Amount)
		i, ok := index[d.StageID]
		if d.StageID == "" || !ok {
			continue
		}
		v := &out.Stages[i]
		v.UsageCount++
		v.PaidAmount = v.PaidAmount.Add(d.Amount)
		v.PaidByDepartment[d.DepartmentID] = v.PaidByDepartment[d.DepartmentID].Add(d.Amount)
	}
	return out, nil
}
