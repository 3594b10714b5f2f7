package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExpressionString(t *testing.T) {
	assert.True(t, IsExpressionString("$now"))
	assert.True(t, IsExpressionString("$(setMaxW * 2)"))
	assert.False(t, IsExpressionString("now"))
	assert.False(t, IsExpressionString(42))
	assert.False(t, IsExpressionString(nil))
}

func TestParseExpression(t *testing.T) {
	tests := []struct {
		raw  string
		want *Expr
	}{
		{"$now", Named(VarNow)},
		{"$setMaxW", Named(VarSetMaxW)},
		{"$(setMaxW * 1.5)", Operation(OpMultiply, Named(VarSetMaxW), Constant(1.5))},
		{"$(setMaxW + 100)", Operation(OpAdd, Named(VarSetMaxW), Constant(int64(100)))},
		{"$(now - 300)", Operation(OpSubtract, Named(VarNow), Constant(int64(300)))},
		{"$(rtgMaxW >= 5000)", Operation(OpGreaterEqual, Named(VarRtgMaxW), Constant(int64(5000)))},
		{"$(rtgMaxW != 0)", Operation(OpNotEqual, Named(VarRtgMaxW), Constant(int64(0)))},
		{
			"$((rtgMaxW - setMaxW) / 2)",
			Operation(OpDivide,
				Operation(OpSubtract, Named(VarRtgMaxW), Named(VarSetMaxW)),
				Constant(int64(2))),
		},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseExpression(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseExpressionErrors(t *testing.T) {
	bad := []string{
		"",
		"now",
		"$",
		"$(setMaxW *",
		"$(setMaxW * )",
		"$(setMaxW ? 2)",
		"$(setMaxW * 2) trailing",
	}
	for _, raw := range bad {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseExpression(raw)
			assert.Error(t, err)
		})
	}
}
