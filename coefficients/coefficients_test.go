package coefficients

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*Service, *MemorySource) {
	t.Helper()
	src := NewMemorySource(Default())
	return NewService(src), src
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestDefault_Compiles(t *testing.T) {
	snap, err := Compile(Default())
	require.NoError(t, err)
	assert.Equal(t, ModeSimple, snap.Mode())
	assert.Equal(t, 1, snap.Version())
	assert.Len(t, snap.Departments(), 5)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Document)
		section Section
	}{
		{
			name:    "stage allocation not summing to one",
			mutate:  func(d *Document) { d.StageAllocation["scheme"] = 0.2 },
			section: SectionStageAllocation,
		},
		{
			name:    "missing construction ratio",
			mutate:  func(d *Document) { delete(d.StageAllocation, "construction") },
			section: SectionStageAllocation,
		},
		{
			name:    "chief split not summing to one",
			mutate:  func(d *Document) { d.ChiefAllocation.Chief = 0.1 },
			section: SectionChiefAllocation,
		},
		{
			name: "inverted range",
			mutate: func(d *Document) {
				d.ScaleCoefficients[0].Min, d.ScaleCoefficients[0].Max = 10, 1
			},
			section: SectionScaleCoefficients,
		},
		{
			name:    "reserved department id",
			mutate:  func(d *Document) { d.Departments = append(d.Departments, Department{ID: "chief"}) },
			section: SectionDepartments,
		},
		{
			name: "area type weighting an unknown department",
			mutate: func(d *Document) {
				d.AreaTypes["none"].Coefficients["landscape"] = 1
			},
			section: SectionAreaTypes,
		},
		{
			name: "expression with unknown variable",
			mutate: func(d *Document) {
				d.Formula = Formula{Mode: ModeExpression, Expression: "base_rate * bogus"}
			},
			section: SectionFormula,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Default()
			tt.mutate(doc)

			err := Validate(doc)

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDocument))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, string(tt.section), ve.Section)
		})
	}
}

func TestValidate_RatioTolerance(t *testing.T) {
	doc := Default()
	doc.StageAllocation["scheme"] = 0.15004
	assert.NoError(t, Validate(doc))
}

// =============================================================================
// SNAPSHOT LOOKUPS
// =============================================================================

func TestSnapshot_Lookups(t *testing.T) {
	snap := MustCompile(Default())

	t.Run("range bounds are inclusive", func(t *testing.T) {
		f := snap.Scale(dec("5000"))
		assert.True(t, f.Matched)
		assert.True(t, f.Coefficient.Equal(dec("1.2")))
	})

	t.Run("unknown building type is neutral", func(t *testing.T) {
		f := snap.BuildingType("observatory")
		assert.False(t, f.Matched)
		assert.Equal(t, UnknownLabel, f.Label)
		assert.True(t, f.Coefficient.Equal(decimal.NewFromInt(1)))
	})

	t.Run("unconfigured stage uses the construction ratio", func(t *testing.T) {
		ratio, key := snap.StageRatio("cooperation")
		assert.Equal(t, "construction", key)
		assert.True(t, ratio.Equal(dec("0.85")))
	})

	t.Run("area type resolves by display name", func(t *testing.T) {
		key, ok := snap.ResolveAreaType("Central air conditioning")
		assert.True(t, ok)
		assert.Equal(t, "central_ac", key)

		_, ok = snap.ResolveAreaType("Greenhouse")
		assert.False(t, ok)
	})

	t.Run("chief name", func(t *testing.T) {
		assert.Equal(t, "Chief", snap.DepartmentName("chief"))
		assert.Equal(t, "HVAC", snap.DepartmentName("hvac"))
	})
}

func TestSnapshot_Expression(t *testing.T) {
	doc := Default()
	doc.Formula = Formula{Mode: ModeExpression, Expression: "base_rate * stage * 2"}
	snap, err := Compile(doc)
	require.NoError(t, err)

	price, err := snap.EvaluateUnitPrice(map[string]float64{"base_rate": 5, "stage": 0.6})

	require.NoError(t, err)
	assert.True(t, price.Round(6).Equal(dec("6")), "got %s", price)
}

// =============================================================================
// SERVICE
// =============================================================================

func TestService_SeedsDefaultsWhenEmpty(t *testing.T) {
	src := NewMemorySource(nil)
	svc := NewService(src)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Version())

	stored, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestService_ReplaceSection(t *testing.T) {
	ctx := context.Background()
	svc, src := newTestService(t)

	// WHEN: Replacing the chief split with a valid section
	snap, err := svc.ReplaceSection(ctx, SectionChiefAllocation, []byte(`{"chief": 0.1, "departments": 0.9}`))

	// THEN: The version is bumped, the source persisted and the cache serves it
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version())
	assert.True(t, snap.ChiefRatio().Equal(dec("0.1")))

	stored, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)

	cached, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, snap, cached)
}

func TestService_ReplaceSectionRejectsInvalidDocument(t *testing.T) {
	ctx := context.Background()
	svc, src := newTestService(t)

	_, err := svc.ReplaceSection(ctx, SectionStageAllocation, []byte(`{"scheme": 0.5, "construction": 0.6}`))
	assert.True(t, errors.Is(err, ErrInvalidDocument))

	_, err = svc.ReplaceSection(ctx, Section("colours"), []byte(`{}`))
	assert.True(t, errors.Is(err, ErrInvalidDocument))

	// AND: Nothing was written
	stored, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestService_Reset(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.ReplaceSection(ctx, SectionBaseRates, []byte(`{"office": 9}`))
	require.NoError(t, err)

	snap, err := svc.Reset(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, snap.Version())
	assert.True(t, snap.BaseRate("office").Coefficient.Equal(dec("5")))
}

func TestRefresher_PicksUpPeerWrites(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource(Default())
	reader := NewService(src)
	writer := NewService(src)

	_, err := reader.Snapshot(ctx)
	require.NoError(t, err)
	r := NewRefresher(reader, 0)

	// GIVEN: Nothing changed
	assert.False(t, r.Check(ctx))

	// WHEN: Another process bumps the stored version
	_, err = writer.ReplaceSection(ctx, SectionBaseRates, []byte(`{"office": 7}`))
	require.NoError(t, err)

	// THEN: The refresher reloads
	assert.True(t, r.Check(ctx))
	snap, err := reader.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version())
	assert.True(t, snap.BaseRate("office").Coefficient.Equal(dec("7")))
}

// =============================================================================
// SOURCES
// =============================================================================

func TestFileSource_RoundTrip(t *testing.T) {
	for _, name := range []string{"coefficients.yaml", "coefficients.json"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			src := FileSource{Path: filepath.Join(t.TempDir(), name)}

			_, err := src.Load(ctx)
			assert.ErrorIs(t, err, ErrNoDocument)

			require.NoError(t, src.Save(ctx, Default()))
			doc, err := src.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, Default().StageAllocation, doc.StageAllocation)
			assert.Equal(t, Default().Departments, doc.Departments)
		})
	}
}

func TestFileSource_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coefficients.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := FileSource{Path: path}.Load(context.Background())

	assert.True(t, errors.Is(err, ErrInvalidDocument))
}

type memoryBlobs map[string][]byte

func (m memoryBlobs) LoadDocument(_ context.Context, name string) ([]byte, bool, error) {
	data, ok := m[name]
	return data, ok, nil
}

func (m memoryBlobs) SaveDocument(_ context.Context, name string, data []byte) error {
	m[name] = data
	return nil
}

func TestBlobSource(t *testing.T) {
	ctx := context.Background()
	blobs := memoryBlobs{}
	svc := NewService(BlobSource{Store: blobs, Name: "coefficients"})

	_, err := svc.ReplaceSection(ctx, SectionFormula, []byte(`{"mode": "full"}`))

	require.NoError(t, err)
	require.Contains(t, blobs, "coefficients")
	doc, err := Decode(blobs["coefficients"], FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, doc.Formula.Mode)
	assert.Equal(t, 2, doc.Version)
}
