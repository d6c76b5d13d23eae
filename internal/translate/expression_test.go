package translate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-ingest/internal/models"
)

func TestTokenize(t *testing.T) {
	tokens, err := Tokenize("meter_0.energy or lastValue__.energy + changeToday__meter_0.energy * 2.5")
	require.NoError(t, err)

	assert.Equal(t, []Token{
		{Kind: TokenPath, Path: "meter_0.energy"},
		{Kind: TokenOperator, Op: OpOr},
		{Kind: TokenLastValue, Path: ".energy"},
		{Kind: TokenOperator, Op: OpAdd},
		{Kind: TokenChangeToday, Path: "meter_0.energy"},
		{Kind: TokenOperator, Op: OpMul},
		{Kind: TokenLiteral, Value: 2.5},
	}, tokens)
}

func TestTokenize_RejectsUnknownTokens(t *testing.T) {
	for _, equation := range []string{"uptime + 1", "__import__('os')", "a.b ** 2", "meter_0.power % 2"} {
		_, err := Tokenize(equation)
		require.Error(t, err, equation)
		assert.True(t, errors.Is(err, models.ErrExpression), equation)
	}
}

func TestEvaluate(t *testing.T) {
	payload := decode(t, `{"meter_0": {"energy": 130, "power": 300, "voltage": "230.5"}, "zero": {"v": 0}, "bad": {"v": "NaN", "w": "-Infinity"}}`)
	tctx := models.TranslationContext{
		FirstToday: map[string]map[string]any{
			"DAILY_STATUS": {"energy": 101.0},
			"raw":          {"meter_0": map[string]any{"energy": 100.0}},
		},
		LastToday: map[string]map[string]any{
			"DAILY_STATUS": {"energy": 110.0, "uptime": 7.0},
		},
	}

	tests := []struct {
		name     string
		equation string
		want     float64
	}{
		{name: "single path", equation: "meter_0.power", want: 300},
		{name: "left to right, no precedence", equation: "meter_0.power + 100 * 2", want: 800},
		{name: "subtraction and division", equation: "meter_0.energy - 30 / 4", want: 25},
		{name: "numeric string operand", equation: "meter_0.voltage * 2", want: 461},
		{name: "missing path contributes zero", equation: "meter_9.power + 5", want: 5},
		{name: "last value", equation: "lastValue__.energy", want: 110},
		{name: "last value absent is zero", equation: "lastValue__.missing + 1", want: 1},
		{name: "change today from raw snapshot", equation: "changeToday__meter_0.energy", want: 30},
		{name: "or keeps non-zero left", equation: "meter_0.power or lastValue__.uptime", want: 300},
		{name: "or falls back on zero", equation: "zero.v or lastValue__.uptime", want: 7},
		{name: "or falls back on missing", equation: "meter_9.energy or lastValue__.energy", want: 110},
		{name: "NaN string contributes zero", equation: "bad.v + 1", want: 1},
		{name: "infinite string contributes zero", equation: "bad.w or meter_0.power", want: 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.equation, "DAILY_STATUS", payload, tctx)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluate_ChangeToday(t *testing.T) {
	payload := decode(t, `{"meter_0": {"energy": 130}}`)

	got, err := Evaluate("changeToday__meter_0.energy", "DAILY_STATUS", payload, models.TranslationContext{})
	require.NoError(t, err)
	assert.Equal(t, 130.0, got, "no baseline returns the current value")

	tctx := models.TranslationContext{
		FirstToday: map[string]map[string]any{"DAILY_STATUS": {"meter_0": map[string]any{"energy": 100.0}}},
	}
	got, err = Evaluate("changeToday__meter_0.energy", "DAILY_STATUS", payload, tctx)
	require.NoError(t, err)
	assert.Equal(t, 30.0, got)

	got, err = Evaluate("changeToday__meter_0.energy", "OTHER", payload, tctx)
	require.NoError(t, err)
	assert.Equal(t, 130.0, got, "snapshots of other targets are not visible")
}

func TestEvaluate_Malformed(t *testing.T) {
	payload := decode(t, `{"meter_0": {"energy": 130, "power": 0}}`)

	for _, equation := range []string{
		"",
		"   ",
		"+ meter_0.energy",
		"meter_0.energy +",
		"meter_0.energy meter_0.power",
		"meter_0.energy + * 2",
		"meter_0.energy / meter_0.power",
		"meter_0.energy / meter_9.missing",
		"meter_0.power * Inf",
		"meter_0.power + NaN",
		"meter_0.power * 1e308 * 10",
		"meter_0.energy - 1e308 - 1e308",
	} {
		_, err := Evaluate(equation, "T", payload, models.TranslationContext{})
		require.Error(t, err, "%q", equation)
		assert.True(t, errors.Is(err, models.ErrExpression), "%q", equation)
	}
}
