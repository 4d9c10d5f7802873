package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *TxMemory {
	t.Helper()
	st := NewTxMemory()
	require.NoError(t, st.SaveProject(context.Background(), commission.Project{ID: "p1", Code: "P-1", Name: "One"}))
	return st
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestTxMemory_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	boom := errors.New("boom")

	// WHEN: A transaction writes and then fails
	err := st.WithTx(ctx, func(tx commission.Store) error {
		if err := tx.SaveProject(ctx, commission.Project{ID: "p2", Code: "P-2"}); err != nil {
			return err
		}
		return boom
	})

	// THEN: Nothing it wrote survives
	assert.ErrorIs(t, err, boom)
	p, err := st.GetProject(ctx, "p2")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestTxMemory_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	err := st.WithTx(ctx, func(tx commission.Store) error {
		return tx.AppendPayment(ctx, commission.PaymentRecord{ID: "pay1", ProjectID: "p1", Amount: decimal.NewFromInt(10)})
	})

	require.NoError(t, err)
	records, err := st.ListPayments(ctx, commission.PaymentFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMemory_StageUsedIsSticky(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveStage(ctx, commission.PaymentStage{ID: "s1", ProjectID: "p1", Date: day(1), Name: "first"}))
	require.NoError(t, st.MarkStageUsed(ctx, "s1"))

	// WHEN: Saving the stage again without the flag
	require.NoError(t, st.SaveStage(ctx, commission.PaymentStage{ID: "s1", ProjectID: "p1", Date: day(1), Name: "first"}))

	// THEN: It is still used
	got, err := st.GetStage(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Used)

	assert.True(t, commission.IsNotFound(st.MarkStageUsed(ctx, "missing")))
}

func TestMemory_StagesOrderByDateThenSeq(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveStage(ctx, commission.PaymentStage{ID: "c", ProjectID: "p1", Date: day(5), Seq: 3}))
	require.NoError(t, st.SaveStage(ctx, commission.PaymentStage{ID: "b", ProjectID: "p1", Date: day(1), Seq: 2}))
	require.NoError(t, st.SaveStage(ctx, commission.PaymentStage{ID: "a", ProjectID: "p1", Date: day(1), Seq: 1}))

	stages, err := st.ListStages(ctx, "p1")

	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, []commission.StageID{"a", "b", "c"}, []commission.StageID{stages[0].ID, stages[1].ID, stages[2].ID})
}

func TestMemory_ReplaceDistributionsIsScopedToDepartment(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveDistribution(ctx, commission.Distribution{ProjectID: "p1", DepartmentID: "arch", EmployeeID: "a1"}))
	require.NoError(t, st.SaveDistribution(ctx, commission.Distribution{ProjectID: "p1", DepartmentID: "hvac", EmployeeID: "h1"}))

	require.NoError(t, st.ReplaceDistributions(ctx, "p1", "arch", []commission.Distribution{
		{ProjectID: "p1", DepartmentID: "arch", EmployeeID: "a2"},
	}))

	rows, err := st.ListDistributions(ctx, commission.DistributionFilter{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, commission.EmployeeID("a2"), rows[0].EmployeeID)
	assert.Equal(t, commission.EmployeeID("h1"), rows[1].EmployeeID)
}

func TestMemory_PaymentsStayInDateOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	for _, r := range []commission.PaymentRecord{
		{ID: "late", ProjectID: "p1", Date: day(20)},
		{ID: "early", ProjectID: "p1", Date: day(2)},
		{ID: "middle", ProjectID: "p1", Date: day(10)},
	} {
		require.NoError(t, st.AppendPayment(ctx, r))
	}

	records, err := st.ListPayments(ctx, commission.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, commission.PaymentID("early"), records[0].ID)
	assert.Equal(t, commission.PaymentID("late"), records[2].ID)

	ok, err := st.DeletePayment(ctx, "middle")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.DeletePayment(ctx, "middle")
	require.NoError(t, err)
	assert.False(t, ok)
}
