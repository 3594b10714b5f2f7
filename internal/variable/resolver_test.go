package variable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/internal/testutil"
	"github.com/banksia-harness/banksia/pkg/types"
)

func fixedResolver(now time.Time) *Resolver {
	r := New()
	r.Now = func() time.Time { return now }
	return r
}

func TestResolveConstant(t *testing.T) {
	r := New()
	sess := &testutil.MockSession{}

	got, err := r.Resolve(context.Background(), sess, types.Constant(int64(42)))
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestResolveNow(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	r := fixedResolver(now)

	got, err := r.Resolve(context.Background(), &testutil.MockSession{}, types.Named(types.VarNow))
	require.NoError(t, err)
	assert.Equal(t, now, got)
}

func TestResolveSettingVariables(t *testing.T) {
	changed := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	sess := &testutil.MockSession{
		DERSettings: []store.DERSetting{
			{
				// Older row must be ignored.
				MaxW:        &store.Pow10{Value: 1, Multiplier: 0},
				ChangedTime: changed.Add(-time.Hour),
			},
			{
				MaxW:           &store.Pow10{Value: 5, Multiplier: 3},
				MaxChargeRateW: &store.Pow10{Value: 21, Multiplier: 2},
				ChangedTime:    changed,
			},
		},
	}
	r := New()

	got, err := r.Resolve(context.Background(), sess, types.Named(types.VarSetMaxW))
	require.NoError(t, err)
	assert.Equal(t, 5000.0, got)

	got, err = r.Resolve(context.Background(), sess, types.Named(types.VarSetMaxChargeRateW))
	require.NoError(t, err)
	assert.Equal(t, 2100.0, got)
}

func TestResolveNegatedRatingVariables(t *testing.T) {
	sess := &testutil.MockSession{
		DERRatings: []store.DERRating{
			{
				MaxChargeRateW:    &store.Pow10{Value: 4, Multiplier: 3},
				MaxDischargeRateW: &store.Pow10{Value: 3, Multiplier: 3},
			},
		},
	}
	r := New()

	got, err := r.Resolve(context.Background(), sess, types.Named(types.VarNegRtgMaxChargeRateW))
	require.NoError(t, err)
	assert.Equal(t, -4000.0, got)

	got, err = r.Resolve(context.Background(), sess, types.Named(types.VarNegRtgMaxDischargeRateW))
	require.NoError(t, err)
	assert.Equal(t, -3000.0, got)
}

func TestResolveUnresolvable(t *testing.T) {
	tests := []struct {
		name string
		sess *testutil.MockSession
		expr *types.Expr
	}{
		{
			name: "no setting rows",
			sess: &testutil.MockSession{},
			expr: types.Named(types.VarSetMaxW),
		},
		{
			name: "field not set on latest row",
			sess: &testutil.MockSession{DERSettings: []store.DERSetting{{}}},
			expr: types.Named(types.VarSetMaxVA),
		},
		{
			name: "no rating rows",
			sess: &testutil.MockSession{},
			expr: types.Named(types.VarRtgMaxW),
		},
		{
			name: "unknown variable",
			sess: &testutil.MockSession{},
			expr: types.Named(types.NamedVariable("bogus")),
		},
		{
			name: "division by zero",
			sess: &testutil.MockSession{},
			expr: types.Operation(types.OpDivide, types.Constant(1.0), types.Constant(0.0)),
		},
	}

	r := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tc.sess, tc.expr)
			require.Error(t, err)

			var unres *UnresolvableVariableError
			assert.ErrorAs(t, err, &unres)
		})
	}
}

func TestResolveOperations(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	sess := &testutil.MockSession{
		DERSettings: []store.DERSetting{
			{MaxW: &store.Pow10{Value: 2, Multiplier: 3}},
		},
	}

	tests := []struct {
		name string
		expr *types.Expr
		want any
	}{
		{
			name: "arithmetic over a named variable",
			expr: types.Operation(types.OpMultiply, types.Named(types.VarSetMaxW), types.Constant(1.5)),
			want: 3000.0,
		},
		{
			name: "nested expression",
			expr: types.Operation(types.OpDivide,
				types.Operation(types.OpSubtract, types.Named(types.VarSetMaxW), types.Constant(int64(500))),
				types.Constant(int64(2))),
			want: 750.0,
		},
		{
			name: "comparison",
			expr: types.Operation(types.OpGreaterEqual, types.Named(types.VarSetMaxW), types.Constant(int64(2000))),
			want: true,
		},
		{
			name: "time plus seconds",
			expr: types.Operation(types.OpAdd, types.Named(types.VarNow), types.Constant(int64(300))),
			want: now.Add(5 * time.Minute),
		},
		{
			name: "time minus seconds",
			expr: types.Operation(types.OpSubtract, types.Named(types.VarNow), types.Constant(int64(60))),
			want: now.Add(-time.Minute),
		},
	}

	r := fixedResolver(now)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), sess, tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveParameterMap(t *testing.T) {
	sess := &testutil.MockSession{
		DERSettings: []store.DERSetting{
			{MaxW: &store.Pow10{Value: 1, Multiplier: 4}},
		},
	}
	r := New()

	params := map[string]any{
		"opModExpLimW": "$(setMaxW / 2)",
		"duration":     300,
		"label":        "plain string",
	}
	resolved, err := r.ResolveParameterMap(context.Background(), sess, params)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, resolved["opModExpLimW"])
	assert.Equal(t, 300, resolved["duration"])
	assert.Equal(t, "plain string", resolved["label"])

	// Input must not be mutated.
	assert.Equal(t, "$(setMaxW / 2)", params["opModExpLimW"])
}

func TestResolveParameterMapUnresolvable(t *testing.T) {
	r := New()
	_, err := r.ResolveParameterMap(context.Background(), &testutil.MockSession{}, map[string]any{
		"value": "$setMaxW",
	})
	require.Error(t, err)

	var unres *UnresolvableVariableError
	assert.ErrorAs(t, err, &unres)
}
